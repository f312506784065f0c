// Package vitality reconstructs an idea's present score from a sparse snapshot.
//
// A snapshot (S, V0, t0) records the staked total, the vitality at t0 and t0 itself.
// Between writes the snapshot never changes; the current value is derived on demand:
//
//	V(t) = S + (V0 - S) * exp(-λ * hours(t - t0)),  λ = ln 2 / half-life
//
// The score relaxes toward S from either side, so the same expression covers
// growth (S > V0) and decay (S < V0). Writers that change S must first catch the
// snapshot up to the write instant (see Engine.CatchUp) and persist the result in
// the same atomic unit as the new S.
package vitality

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// InitialVitality is the score a freshly created idea starts with.
const InitialVitality = 100.0

// ErrInvalidState is returned by NewDecayState for values the formula cannot use.
var ErrInvalidState = errors.New("invalid decay state")

// DecayState is the persisted (S, V0, t0) triple.
type DecayState struct {
	TotalStaked          float64   `json:"total_staked"`
	VitalityAtLastUpdate float64   `json:"vitality_at_last_update"`
	LastDecayUpdate      time.Time `json:"last_decay_update"`
}

// NewDecayState validates a snapshot loaded from storage.
func NewDecayState(totalStaked, vitalityAtLastUpdate float64, lastDecayUpdate time.Time) (DecayState, error) {
	switch {
	case math.IsNaN(totalStaked) || math.IsInf(totalStaked, 0):
		return DecayState{}, fmt.Errorf("%w: total_staked %v is not finite", ErrInvalidState, totalStaked)
	case totalStaked < 0:
		return DecayState{}, fmt.Errorf("%w: total_staked %v is negative", ErrInvalidState, totalStaked)
	case math.IsNaN(vitalityAtLastUpdate) || math.IsInf(vitalityAtLastUpdate, 0):
		return DecayState{}, fmt.Errorf("%w: vitality_at_last_update %v is not finite", ErrInvalidState, vitalityAtLastUpdate)
	case lastDecayUpdate.IsZero():
		return DecayState{}, fmt.Errorf("%w: last_decay_update is unset", ErrInvalidState)
	}
	return DecayState{
		TotalStaked:          totalStaked,
		VitalityAtLastUpdate: vitalityAtLastUpdate,
		LastDecayUpdate:      lastDecayUpdate,
	}, nil
}

// Config controls the decay curve and the numeric policy of Compute.
type Config struct {
	HalfLife         time.Duration // time for the gap between V and S to halve
	Precision        int           // decimal places kept by Compute
	ClampNonNegative bool          // floor Compute results at 0
}

// DefaultConfig returns a 12 hour half-life, two decimals, clamped at zero.
func DefaultConfig() Config {
	return Config{
		HalfLife:         12 * time.Hour,
		Precision:        2,
		ClampNonNegative: true,
	}
}

// Engine evaluates snapshots. It holds no mutable state and is safe for concurrent use.
type Engine struct {
	cfg    Config
	lambda float64 // per hour
	scale  float64
}

// New creates an engine. A non-positive half-life falls back to the default.
func New(cfg Config) *Engine {
	if cfg.HalfLife <= 0 {
		cfg.HalfLife = DefaultConfig().HalfLife
	}
	if cfg.Precision < 0 {
		cfg.Precision = 0
	}
	return &Engine{
		cfg:    cfg,
		lambda: math.Ln2 / cfg.HalfLife.Hours(),
		scale:  math.Pow(10, float64(cfg.Precision)),
	}
}

// HalfLife returns the configured half-life.
func (e *Engine) HalfLife() time.Duration { return e.cfg.HalfLife }

// Lambda returns the decay rate per hour.
func (e *Engine) Lambda() float64 { return e.lambda }

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Raw evaluates the relaxation formula without clamping or rounding.
// Non-positive elapsed time yields V0 unchanged.
func (e *Engine) Raw(state DecayState, now time.Time) float64 {
	dt := now.Sub(state.LastDecayUpdate).Hours()
	if dt <= 0 {
		return state.VitalityAtLastUpdate
	}
	s := state.TotalStaked
	return s + (state.VitalityAtLastUpdate-s)*math.Exp(-e.lambda*dt)
}

// Compute returns the displayed vitality of state at now. Every read and write
// path goes through here so a snapshot always reconstructs to the same value.
func (e *Engine) Compute(state DecayState, now time.Time) float64 {
	return e.finish(e.Raw(state, now))
}

func (e *Engine) finish(v float64) float64 {
	if e.cfg.ClampNonNegative && v < 0 {
		v = 0
	}
	return math.Round(v*e.scale) / e.scale
}

// Initial returns the snapshot of an idea created at now.
func (e *Engine) Initial(now time.Time) DecayState {
	return DecayState{
		TotalStaked:          0,
		VitalityAtLastUpdate: InitialVitality,
		LastDecayUpdate:      now,
	}
}

// CatchUp carries state forward to now and swaps in a new staked total.
// The returned snapshot must replace the stored one in the same transaction
// that changes the total.
func (e *Engine) CatchUp(state DecayState, newTotal float64, now time.Time) DecayState {
	return DecayState{
		TotalStaked:          newTotal,
		VitalityAtLastUpdate: e.Compute(state, now),
		LastDecayUpdate:      now,
	}
}
