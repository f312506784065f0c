package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/nidhogg/tenber/internal/ideas"
)

const profileColumns = `id, COALESCE(username,''), bio, avatar_url, reputation, created_at`

func scanProfile(row scanner) (*ideas.Profile, error) {
	var (
		p       ideas.Profile
		created int64
	)
	if err := row.Scan(&p.ID, &p.Username, &p.Bio, &p.AvatarURL, &p.Reputation, &created); err != nil {
		return nil, err
	}
	p.CreatedAt = time.UnixMilli(created)
	return &p, nil
}

// EnsureProfile returns userID's profile, creating an empty one if needed.
func (db *DB) EnsureProfile(ctx context.Context, userID string) (*ideas.Profile, error) {
	_, err := db.db.ExecContext(ctx,
		`INSERT INTO profiles (id, created_at) VALUES (?, ?) ON CONFLICT (id) DO NOTHING`,
		userID, time.Now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("ensure profile %s: %w", userID, err)
	}
	row := db.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = ?`, userID)
	p, err := scanProfile(row)
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", userID, notFound(err))
	}
	return p, nil
}

// GetProfileByUsername looks a profile up by its public handle.
func (db *DB) GetProfileByUsername(ctx context.Context, username string) (*ideas.Profile, error) {
	row := db.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE username = ?`, username)
	p, err := scanProfile(row)
	if err != nil {
		return nil, fmt.Errorf("get profile %q: %w", username, notFound(err))
	}
	return p, nil
}

// UpdateProfile sets username and bio. A duplicate username is ErrUsernameTaken.
func (db *DB) UpdateProfile(ctx context.Context, userID, username, bio string) (*ideas.Profile, error) {
	row := db.db.QueryRowContext(ctx, `
		UPDATE profiles SET username = ?, bio = ?
		WHERE id = ?
		RETURNING `+profileColumns, username, bio, userID)
	p, err := scanProfile(row)
	if err != nil {
		if isConstraint(err, "UNIQUE") {
			return nil, ideas.ErrUsernameTaken
		}
		return nil, fmt.Errorf("update profile %s: %w", userID, notFound(err))
	}
	return p, nil
}
