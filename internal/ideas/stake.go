package ideas

import (
	"fmt"
	"math"

	"github.com/nidhogg/tenber/internal/vitality"
)

// budgetSlack absorbs float drift when a stake exactly fills the budget.
const budgetSlack = 1e-9

// ValidateAmount checks a requested absolute stake.
func ValidateAmount(amount, budget float64) error {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 || amount > budget {
		return fmt.Errorf("%w: %v not in [0, %v]", ErrInvalidAmount, amount, budget)
	}
	return nil
}

// PlanStake is the body of the catch-up write. Given the idea's stored snapshot,
// the user's current stake on it and the user's total usage, it checks the budget
// and returns the snapshot to persist in place of state.
func PlanStake(engine *vitality.Engine, state vitality.DecayState, oldStake, used float64, c StakeChange) (vitality.DecayState, error) {
	if used-oldStake+c.Amount > c.Budget+budgetSlack {
		return vitality.DecayState{}, fmt.Errorf("%w: %v in use, %v requested, budget %v",
			ErrOverBudget, used-oldStake, c.Amount, c.Budget)
	}
	total := state.TotalStaked - oldStake + c.Amount
	if total < 0 {
		total = 0
	}
	return engine.CatchUp(state, total, c.At), nil
}
