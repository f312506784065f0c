package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/tenber/internal/ideas"
)

const commentColumns = `
	c.id, c.idea_id, c.author_id, c.parent_id, c.content, c.created_at,
	COALESCE(p.username,''), COALESCE(p.avatar_url,'')`

const commentFrom = `
	FROM comments c LEFT JOIN profiles p ON p.id = c.author_id`

func scanComment(row scanner) (*ideas.Comment, error) {
	var (
		c       ideas.Comment
		author  ideas.Author
		parent  sql.NullString
		created int64
	)
	if err := row.Scan(&c.ID, &c.IdeaID, &c.AuthorID, &parent, &c.Content, &created,
		&author.Username, &author.AvatarURL); err != nil {
		return nil, err
	}
	if parent.Valid {
		c.ParentID = &parent.String
	}
	c.CreatedAt = time.UnixMilli(created)
	c.Author = &author
	return &c, nil
}

// AddComment inserts a comment. A missing idea or parent is ErrNotFound.
func (db *DB) AddComment(ctx context.Context, c *ideas.Comment) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CreatedAt = c.CreatedAt.Truncate(time.Millisecond)
	var parent sql.NullString
	if c.ParentID != nil {
		parent = sql.NullString{String: *c.ParentID, Valid: true}
	}
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO comments (id, idea_id, author_id, parent_id, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.IdeaID, c.AuthorID, parent, c.Content, c.CreatedAt.UnixMilli())
	if err != nil {
		if isConstraint(err, "FOREIGN KEY") {
			return ideas.ErrNotFound
		}
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

// GetComment retrieves a comment by ID.
func (db *DB) GetComment(ctx context.Context, id string) (*ideas.Comment, error) {
	row := db.db.QueryRowContext(ctx, `SELECT `+commentColumns+commentFrom+` WHERE c.id = ?`, id)
	c, err := scanComment(row)
	if err != nil {
		return nil, fmt.Errorf("get comment %s: %w", id, notFound(err))
	}
	return c, nil
}

// ListComments returns an idea's comments, oldest first.
func (db *DB) ListComments(ctx context.Context, ideaID string) ([]*ideas.Comment, error) {
	rows, err := db.db.QueryContext(ctx, `SELECT `+commentColumns+commentFrom+`
		WHERE c.idea_id = ?
		ORDER BY c.created_at ASC, c.id ASC`, ideaID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var out []*ideas.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteComment removes a comment and its replies.
func (db *DB) DeleteComment(ctx context.Context, id string) error {
	res, err := db.db.ExecContext(ctx, `DELETE FROM comments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete comment %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ideas.ErrNotFound
	}
	return nil
}
