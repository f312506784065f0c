package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/tenber/internal/ideas"
)

const commentColumns = `
	c.id, c.idea_id, c.author_id, c.parent_id, c.content, c.created_at,
	COALESCE(p.username,''), COALESCE(p.avatar_url,'')`

const commentFrom = `
	FROM comments c LEFT JOIN profiles p ON p.id = c.author_id`

func scanComment(row pgx.Row) (*ideas.Comment, error) {
	var (
		c      ideas.Comment
		author ideas.Author
	)
	if err := row.Scan(&c.ID, &c.IdeaID, &c.AuthorID, &c.ParentID, &c.Content, &c.CreatedAt,
		&author.Username, &author.AvatarURL); err != nil {
		return nil, err
	}
	c.Author = &author
	return &c, nil
}

// AddComment inserts a comment. A missing idea is ErrNotFound.
func (s *Store) AddComment(ctx context.Context, c *ideas.Comment) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO comments (id, idea_id, author_id, parent_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.IdeaID, c.AuthorID, c.ParentID, c.Content, c.CreatedAt)
	if err != nil {
		if pgCode(err) == codeForeignKeyViolation {
			return ideas.ErrNotFound
		}
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

// GetComment retrieves a comment by ID.
func (s *Store) GetComment(ctx context.Context, id string) (*ideas.Comment, error) {
	row := s.db.QueryRow(ctx, `SELECT `+commentColumns+commentFrom+` WHERE c.id = $1`, id)
	c, err := scanComment(row)
	if err != nil {
		return nil, fmt.Errorf("get comment %s: %w", id, notFound(err))
	}
	return c, nil
}

// ListComments returns an idea's comments, oldest first.
func (s *Store) ListComments(ctx context.Context, ideaID string) ([]*ideas.Comment, error) {
	rows, err := s.db.Query(ctx, `SELECT `+commentColumns+commentFrom+`
		WHERE c.idea_id = $1
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

// DeleteComment removes a comment and, through the parent FK, its replies.
func (s *Store) DeleteComment(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM comments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete comment %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ideas.ErrNotFound
	}
	return nil
}
