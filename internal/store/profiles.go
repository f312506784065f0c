package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/tenber/internal/ideas"
)

const profileColumns = `id, COALESCE(username,''), bio, avatar_url, reputation, created_at`

func scanProfile(row pgx.Row) (*ideas.Profile, error) {
	var p ideas.Profile
	if err := row.Scan(&p.ID, &p.Username, &p.Bio, &p.AvatarURL, &p.Reputation, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// EnsureProfile returns userID's profile, creating an empty one if needed.
func (s *Store) EnsureProfile(ctx context.Context, userID string) (*ideas.Profile, error) {
	_, err := s.db.Exec(ctx,
		`INSERT INTO profiles (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, userID)
	if err != nil {
		return nil, fmt.Errorf("ensure profile %s: %w", userID, err)
	}
	row := s.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, userID)
	p, err := scanProfile(row)
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", userID, notFound(err))
	}
	return p, nil
}

// GetProfileByUsername looks a profile up by its public handle.
func (s *Store) GetProfileByUsername(ctx context.Context, username string) (*ideas.Profile, error) {
	row := s.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE username = $1`, username)
	p, err := scanProfile(row)
	if err != nil {
		return nil, fmt.Errorf("get profile %q: %w", username, notFound(err))
	}
	return p, nil
}

// UpdateProfile sets username and bio. A duplicate username is ErrUsernameTaken.
func (s *Store) UpdateProfile(ctx context.Context, userID, username, bio string) (*ideas.Profile, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE profiles SET username = $2, bio = $3
		WHERE id = $1
		RETURNING `+profileColumns, userID, username, bio)
	p, err := scanProfile(row)
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return nil, ideas.ErrUsernameTaken
		}
		return nil, fmt.Errorf("update profile %s: %w", userID, notFound(err))
	}
	return p, nil
}
