package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/tenber/internal/ideas"
	"github.com/nidhogg/tenber/internal/vitality"
)

type scanner interface {
	Scan(dest ...any) error
}

const ideaColumns = `
	i.id, i.title, i.description, i.category, i.author_id,
	COALESCE(p.username,''), COALESCE(p.avatar_url,''),
	i.total_staked, i.vitality_at_last_update, i.last_decay_update, i.created_at`

const ideaFrom = `
	FROM ideas i LEFT JOIN profiles p ON p.id = i.author_id`

// scanIdea reads one idea row. The decay snapshot goes through
// vitality.NewDecayState; a corrupt row yields vitality.ErrInvalidState.
func scanIdea(row scanner, extra ...any) (*ideas.Idea, error) {
	var (
		idea             ideas.Idea
		author           ideas.Author
		staked, v0       float64
		decayAt, created int64
	)
	dest := []any{
		&idea.ID, &idea.Title, &idea.Description, &idea.Category, &idea.AuthorID,
		&author.Username, &author.AvatarURL,
		&staked, &v0, &decayAt, &created,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	var t0 time.Time
	if decayAt != 0 {
		t0 = time.UnixMilli(decayAt)
	}
	state, err := vitality.NewDecayState(staked, v0, t0)
	if err != nil {
		return nil, fmt.Errorf("idea %s: %w", idea.ID, err)
	}
	idea.State = state
	idea.CreatedAt = time.UnixMilli(created)
	idea.Author = &author
	idea.TotalStaked = idea.State.TotalStaked
	return &idea, nil
}

// CreateIdea inserts an idea with its initial decay snapshot.
func (db *DB) CreateIdea(ctx context.Context, idea *ideas.Idea) error {
	if idea.ID == "" {
		idea.ID = uuid.New().String()
	}
	idea.State.LastDecayUpdate = idea.State.LastDecayUpdate.Truncate(time.Millisecond)
	idea.CreatedAt = idea.CreatedAt.Truncate(time.Millisecond)
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO ideas (id, title, description, category, author_id,
		                   total_staked, vitality_at_last_update, last_decay_update, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		idea.ID, idea.Title, idea.Description, idea.Category, idea.AuthorID,
		idea.State.TotalStaked, idea.State.VitalityAtLastUpdate,
		idea.State.LastDecayUpdate.UnixMilli(), idea.CreatedAt.UnixMilli(),
	)
	if err != nil {
		if isConstraint(err, "FOREIGN KEY") {
			return fmt.Errorf("insert idea %s: author %s: %w", idea.ID, idea.AuthorID, ideas.ErrNotFound)
		}
		return fmt.Errorf("insert idea %s: %w", idea.ID, err)
	}
	return nil
}

// GetIdea retrieves a single idea by ID.
func (db *DB) GetIdea(ctx context.Context, id string) (*ideas.Idea, error) {
	row := db.db.QueryRowContext(ctx, `SELECT `+ideaColumns+ideaFrom+` WHERE i.id = ?`, id)
	idea, err := scanIdea(row)
	if err != nil {
		return nil, fmt.Errorf("get idea %s: %w", id, notFound(err))
	}
	return idea, nil
}

// ListIdeas returns ideas matching f, newest first. LIKE is ASCII
// case-insensitive in SQLite.
func (db *DB) ListIdeas(ctx context.Context, f ideas.ListFilter) ([]*ideas.Idea, error) {
	var (
		where []string
		args  []any
	)
	if f.Category != "" {
		where = append(where, "i.category = ?")
		args = append(args, f.Category)
	}
	if f.Search != "" {
		pat := likePattern(f.Search)
		where = append(where, `(i.title LIKE ? ESCAPE '\' OR i.description LIKE ? ESCAPE '\')`)
		args = append(args, pat, pat)
	}
	q := `SELECT ` + ideaColumns + ideaFrom
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY i.created_at DESC, i.id ASC`

	rows, err := db.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list ideas: %w", err)
	}
	defer rows.Close()

	var out []*ideas.Idea
	for rows.Next() {
		idea, err := scanIdea(rows)
		if err != nil {
			return nil, fmt.Errorf("scan idea: %w", err)
		}
		out = append(out, idea)
	}
	return out, rows.Err()
}

// DeleteIdea removes an idea with its stakes and comments.
func (db *DB) DeleteIdea(ctx context.Context, id string) error {
	res, err := db.db.ExecContext(ctx, `DELETE FROM ideas WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete idea %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ideas.ErrNotFound
	}
	return nil
}
