package store

import (
	"context"
	"fmt"
	"time"

	"github.com/nidhogg/tenber/internal/ideas"
	"go.uber.org/zap"
)

// ApplyStake runs the catch-up write in one transaction. The staker's profile
// row is locked first to serialise their budget, then the idea row to
// serialise its snapshot. Every writer takes the locks in that order.
func (s *Store) ApplyStake(ctx context.Context, c ideas.StakeChange) (*ideas.StakeOutcome, error) {
	// timestamptz keeps microseconds
	c.At = c.At.Truncate(time.Microsecond)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin stake: %w", err)
	}
	defer tx.Rollback(ctx)

	var uid string
	err = tx.QueryRow(ctx, `SELECT id FROM profiles WHERE id = $1 FOR UPDATE`, c.UserID).Scan(&uid)
	if err != nil {
		return nil, fmt.Errorf("lock profile %s: %w", c.UserID, notFound(err))
	}

	row := tx.QueryRow(ctx, `SELECT `+ideaColumns+ideaFrom+` WHERE i.id = $1 FOR UPDATE OF i`, c.IdeaID)
	idea, err := scanIdea(row)
	if err != nil {
		return nil, fmt.Errorf("lock idea %s: %w", c.IdeaID, notFound(err))
	}

	var old, used float64
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount) FILTER (WHERE idea_id = $2), 0),
		       COALESCE(SUM(amount), 0)
		FROM stakes WHERE user_id = $1`, c.UserID, c.IdeaID).Scan(&old, &used)
	if err != nil {
		return nil, fmt.Errorf("read stakes: %w", err)
	}

	next, err := ideas.PlanStake(s.engine, idea.State, old, used, c)
	if err != nil {
		return nil, err
	}

	if c.Amount > 0 {
		_, err = tx.Exec(ctx, `
			INSERT INTO stakes (user_id, idea_id, amount, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $4)
			ON CONFLICT (user_id, idea_id) DO UPDATE SET
				amount = EXCLUDED.amount,
				updated_at = EXCLUDED.updated_at`,
			c.UserID, c.IdeaID, c.Amount, c.At)
	} else {
		_, err = tx.Exec(ctx, `DELETE FROM stakes WHERE user_id = $1 AND idea_id = $2`, c.UserID, c.IdeaID)
	}
	if err != nil {
		return nil, fmt.Errorf("write stake: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE ideas SET total_staked = $2, vitality_at_last_update = $3, last_decay_update = $4
		WHERE id = $1`,
		c.IdeaID, next.TotalStaked, next.VitalityAtLastUpdate, next.LastDecayUpdate)
	if err != nil {
		return nil, fmt.Errorf("update snapshot: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit stake: %w", err)
	}

	s.logger.Debug("snapshot caught up",
		zap.String("idea", c.IdeaID),
		zap.Float64("v0", next.VitalityAtLastUpdate),
		zap.Float64("total_staked", next.TotalStaked))

	idea.State = next
	idea.TotalStaked = next.TotalStaked
	idea.UserStake = c.Amount
	return &ideas.StakeOutcome{Idea: idea, Previous: old}, nil
}

// UserStakes maps idea ID to the user's stake on it.
func (s *Store) UserStakes(ctx context.Context, userID string) (map[string]float64, error) {
	rows, err := s.db.Query(ctx, `SELECT idea_id, amount FROM stakes WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("user stakes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var (
			id  string
			amt float64
		)
		if err := rows.Scan(&id, &amt); err != nil {
			return nil, fmt.Errorf("scan stake: %w", err)
		}
		out[id] = amt
	}
	return out, rows.Err()
}

// StakedIdeas returns the ideas userID backs, with UserStake filled in.
func (s *Store) StakedIdeas(ctx context.Context, userID string) ([]*ideas.Idea, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+ideaColumns+`, st.amount`+ideaFrom+`
		JOIN stakes st ON st.idea_id = i.id
		WHERE st.user_id = $1
		ORDER BY st.amount DESC, i.id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("staked ideas: %w", err)
	}
	defer rows.Close()

	var out []*ideas.Idea
	for rows.Next() {
		var amt float64
		idea, err := scanIdea(rows, &amt)
		if err != nil {
			return nil, fmt.Errorf("scan staked idea: %w", err)
		}
		idea.UserStake = amt
		out = append(out, idea)
	}
	return out, rows.Err()
}

// UsedBudget sums the user's stakes.
func (s *Store) UsedBudget(ctx context.Context, userID string) (float64, error) {
	var used float64
	err := s.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM stakes WHERE user_id = $1`, userID).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("used budget: %w", err)
	}
	return used, nil
}
