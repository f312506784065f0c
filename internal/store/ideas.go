package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/tenber/internal/ideas"
	"github.com/nidhogg/tenber/internal/vitality"
)

const ideaColumns = `
	i.id, i.title, i.description, i.category, i.author_id,
	COALESCE(p.username,''), COALESCE(p.avatar_url,''),
	i.total_staked, i.vitality_at_last_update, i.last_decay_update, i.created_at`

const ideaFrom = `
	FROM ideas i LEFT JOIN profiles p ON p.id = i.author_id`

// scanIdea reads one idea row. The decay snapshot goes through
// vitality.NewDecayState; a corrupt row yields vitality.ErrInvalidState.
func scanIdea(row pgx.Row, extra ...any) (*ideas.Idea, error) {
	var (
		idea       ideas.Idea
		author     ideas.Author
		staked, v0 float64
		t0         time.Time
	)
	dest := []any{
		&idea.ID, &idea.Title, &idea.Description, &idea.Category, &idea.AuthorID,
		&author.Username, &author.AvatarURL,
		&staked, &v0, &t0, &idea.CreatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	state, err := vitality.NewDecayState(staked, v0, t0)
	if err != nil {
		return nil, fmt.Errorf("idea %s: %w", idea.ID, err)
	}
	idea.State = state
	idea.Author = &author
	idea.TotalStaked = idea.State.TotalStaked
	return &idea, nil
}

// CreateIdea inserts an idea with its initial decay snapshot.
func (s *Store) CreateIdea(ctx context.Context, idea *ideas.Idea) error {
	if idea.ID == "" {
		idea.ID = uuid.New().String()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO ideas (id, title, description, category, author_id,
		                   total_staked, vitality_at_last_update, last_decay_update, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		idea.ID, idea.Title, idea.Description, idea.Category, idea.AuthorID,
		idea.State.TotalStaked, idea.State.VitalityAtLastUpdate,
		idea.State.LastDecayUpdate, idea.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert idea %s: %w", idea.ID, err)
	}
	return nil
}

// GetIdea retrieves a single idea by ID.
func (s *Store) GetIdea(ctx context.Context, id string) (*ideas.Idea, error) {
	row := s.db.QueryRow(ctx, `SELECT `+ideaColumns+ideaFrom+` WHERE i.id = $1`, id)
	idea, err := scanIdea(row)
	if err != nil {
		return nil, fmt.Errorf("get idea %s: %w", id, notFound(err))
	}
	return idea, nil
}

// ListIdeas returns ideas matching f, newest first. Ranking by vitality
// happens in the service since it depends on the read time.
func (s *Store) ListIdeas(ctx context.Context, f ideas.ListFilter) ([]*ideas.Idea, error) {
	var (
		where []string
		args  []any
	)
	if f.Category != "" {
		args = append(args, f.Category)
		where = append(where, fmt.Sprintf("i.category = $%d", len(args)))
	}
	if f.Search != "" {
		args = append(args, likePattern(f.Search))
		n := len(args)
		where = append(where, fmt.Sprintf("(i.title ILIKE $%d OR i.description ILIKE $%d)", n, n))
	}
	q := `SELECT ` + ideaColumns + ideaFrom
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY i.created_at DESC, i.id ASC`

	rows, err := s.db.Query(ctx, q, args...)
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

// DeleteIdea removes an idea. Stakes and comments go with it via ON DELETE CASCADE.
func (s *Store) DeleteIdea(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM ideas WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete idea %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ideas.ErrNotFound
	}
	return nil
}
