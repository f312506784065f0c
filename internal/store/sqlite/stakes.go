package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/nidhogg/tenber/internal/ideas"
	"go.uber.org/zap"
)

// ApplyStake runs the catch-up write in one transaction. The pool holds a
// single connection, so transactions never interleave.
func (db *DB) ApplyStake(ctx context.Context, c ideas.StakeChange) (*ideas.StakeOutcome, error) {
	c.At = c.At.Truncate(time.Millisecond)

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin stake: %w", err)
	}
	defer tx.Rollback()

	var uid string
	err = tx.QueryRowContext(ctx, `SELECT id FROM profiles WHERE id = ?`, c.UserID).Scan(&uid)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", c.UserID, notFound(err))
	}

	row := tx.QueryRowContext(ctx, `SELECT `+ideaColumns+ideaFrom+` WHERE i.id = ?`, c.IdeaID)
	idea, err := scanIdea(row)
	if err != nil {
		return nil, fmt.Errorf("idea %s: %w", c.IdeaID, notFound(err))
	}

	var old, used float64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN idea_id = ? THEN amount END), 0),
		       COALESCE(SUM(amount), 0)
		FROM stakes WHERE user_id = ?`, c.IdeaID, c.UserID).Scan(&old, &used)
	if err != nil {
		return nil, fmt.Errorf("read stakes: %w", err)
	}

	next, err := ideas.PlanStake(db.engine, idea.State, old, used, c)
	if err != nil {
		return nil, err
	}

	at := c.At.UnixMilli()
	if c.Amount > 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO stakes (user_id, idea_id, amount, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (user_id, idea_id) DO UPDATE SET
				amount = excluded.amount,
				updated_at = excluded.updated_at`,
			c.UserID, c.IdeaID, c.Amount, at, at)
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM stakes WHERE user_id = ? AND idea_id = ?`, c.UserID, c.IdeaID)
	}
	if err != nil {
		return nil, fmt.Errorf("write stake: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE ideas SET total_staked = ?, vitality_at_last_update = ?, last_decay_update = ?
		WHERE id = ?`,
		next.TotalStaked, next.VitalityAtLastUpdate, next.LastDecayUpdate.UnixMilli(), c.IdeaID)
	if err != nil {
		return nil, fmt.Errorf("update snapshot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit stake: %w", err)
	}

	db.logger.Debug("snapshot caught up",
		zap.String("idea", c.IdeaID),
		zap.Float64("v0", next.VitalityAtLastUpdate),
		zap.Float64("total_staked", next.TotalStaked))

	idea.State = next
	idea.TotalStaked = next.TotalStaked
	idea.UserStake = c.Amount
	return &ideas.StakeOutcome{Idea: idea, Previous: old}, nil
}

// UserStakes maps idea ID to the user's stake on it.
func (db *DB) UserStakes(ctx context.Context, userID string) (map[string]float64, error) {
	rows, err := db.db.QueryContext(ctx, `SELECT idea_id, amount FROM stakes WHERE user_id = ?`, userID)
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

// StakedIdeas returns the ideas userID backs, largest stake first.
func (db *DB) StakedIdeas(ctx context.Context, userID string) ([]*ideas.Idea, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT `+ideaColumns+`, st.amount`+ideaFrom+`
		JOIN stakes st ON st.idea_id = i.id
		WHERE st.user_id = ?
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
func (db *DB) UsedBudget(ctx context.Context, userID string) (float64, error) {
	var used float64
	err := db.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM stakes WHERE user_id = ?`, userID).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("used budget: %w", err)
	}
	return used, nil
}
