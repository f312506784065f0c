package vitality

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func hoursAfter(h float64) time.Time {
	return t0.Add(time.Duration(h * float64(time.Hour)))
}

func state(s, v0 float64) DecayState {
	return DecayState{TotalStaked: s, VitalityAtLastUpdate: v0, LastDecayUpdate: t0}
}

func TestComputeZeroElapsedIsIdentity(t *testing.T) {
	e := New(DefaultConfig())
	for _, tc := range []struct{ s, v0 float64 }{
		{0, 100}, {50, 100}, {200, 50}, {42, 42}, {0, 0}, {13.37, 99.99},
	} {
		assert.InDelta(t, tc.v0, e.Compute(state(tc.s, tc.v0), t0), 1e-9, "S=%v V0=%v", tc.s, tc.v0)
		assert.Equal(t, tc.v0, e.Raw(state(tc.s, tc.v0), t0))
	}
}

func TestComputeHalfLife(t *testing.T) {
	e := New(DefaultConfig())
	v := e.Compute(state(0, 100), hoursAfter(12))
	assert.InDelta(t, 50, v, 0.01)
}

func TestComputeScenarioPartialStake(t *testing.T) {
	e := New(DefaultConfig())
	st := state(50, 100)

	assert.Equal(t, 100.0, e.Compute(st, hoursAfter(0)))
	assert.InDelta(t, 75, e.Compute(st, hoursAfter(12)), 0.01)
	assert.InDelta(t, 62.5, e.Compute(st, hoursAfter(24)), 0.01)
}

func TestComputeScenarioGrowth(t *testing.T) {
	e := New(DefaultConfig())
	v := e.Compute(state(200, 50), hoursAfter(2))
	want := 200 - 150*math.Pow(0.5, 2.0/12.0)
	assert.InDelta(t, want, v, 0.01)
	assert.InDelta(t, 66.37, v, 0.01)
}

func TestComputeConverges(t *testing.T) {
	e := New(DefaultConfig())
	for _, tc := range []struct{ s, v0 float64 }{
		{42, 1000}, {100, 0}, {0, 100}, {7.5, 7.5},
	} {
		for _, h := range []float64{200, 240, 1000, 5000} {
			assert.InDelta(t, tc.s, e.Compute(state(tc.s, tc.v0), hoursAfter(h)), 0.5, "S=%v V0=%v h=%v", tc.s, tc.v0, h)
		}
	}
}

func TestComputeMirrorSymmetry(t *testing.T) {
	e := New(DefaultConfig())
	const s, gap = 40.0, 30.0
	for _, h := range []float64{0.25, 1, 6, 12, 36} {
		decay := e.Raw(state(s, s+gap), hoursAfter(h))
		growth := e.Raw(state(s, s-gap), hoursAfter(h))
		assert.InDelta(t, decay-s, s-growth, 1e-9, "h=%v", h)
		assert.Greater(t, decay, s)
		assert.Less(t, growth, s)
	}
}

func TestRawStrictlyMonotonic(t *testing.T) {
	e := New(DefaultConfig())
	down := state(10, 90)
	up := state(90, 10)

	prevDown, prevUp := e.Raw(down, t0), e.Raw(up, t0)
	for h := 0.5; h <= 72; h += 0.5 {
		d, u := e.Raw(down, hoursAfter(h)), e.Raw(up, hoursAfter(h))
		require.Less(t, d, prevDown, "decay not strictly decreasing at h=%v", h)
		require.Greater(t, u, prevUp, "growth not strictly increasing at h=%v", h)
		require.Greater(t, d, 10.0, "decay overshot target at h=%v", h)
		require.Less(t, u, 90.0, "growth overshot target at h=%v", h)
		prevDown, prevUp = d, u
	}
}

func TestComputeFractionalHours(t *testing.T) {
	e := New(DefaultConfig())
	st := state(0, 100)
	a := e.Raw(st, t0.Add(90*time.Minute))
	b := e.Raw(st, t0.Add(2*time.Hour))
	assert.InDelta(t, 100*math.Exp(-e.Lambda()*1.5), a, 1e-9)
	assert.Greater(t, a, b)
}

func TestComputeBeforeLastUpdateReturnsV0(t *testing.T) {
	e := New(DefaultConfig())
	st := state(0, 80)
	assert.Equal(t, 80.0, e.Compute(st, t0.Add(-3*time.Hour)))
	assert.Equal(t, 80.0, e.Raw(st, t0.Add(-time.Nanosecond)))
}

func TestComputeNumericPolicy(t *testing.T) {
	e := New(DefaultConfig())
	v := e.Compute(state(0, 100), hoursAfter(1))
	assert.Equal(t, math.Round(v*100)/100, v, "expected two decimals, got %v", v)

	clamped := e.Compute(DecayState{TotalStaked: 0, VitalityAtLastUpdate: -20, LastDecayUpdate: t0}, hoursAfter(1))
	assert.Equal(t, 0.0, clamped)

	raw := New(Config{HalfLife: 12 * time.Hour, Precision: 6})
	assert.Less(t, raw.Compute(DecayState{TotalStaked: 0, VitalityAtLastUpdate: -20, LastDecayUpdate: t0}, hoursAfter(1)), 0.0)
}

func TestComputeIsStableAcrossCalls(t *testing.T) {
	e := New(DefaultConfig())
	st := state(37, 91)
	now := hoursAfter(5.25)
	first := e.Compute(st, now)
	for i := 0; i < 100; i++ {
		require.Equal(t, first, e.Compute(st, now))
	}
}

func TestCustomHalfLife(t *testing.T) {
	e := New(Config{HalfLife: 90 * time.Minute, Precision: 4})
	assert.InDelta(t, 50, e.Compute(state(0, 100), t0.Add(90*time.Minute)), 1e-3)
	assert.InDelta(t, math.Ln2/1.5, e.Lambda(), 1e-12)
}

func TestNewFallsBackOnInvalidHalfLife(t *testing.T) {
	e := New(Config{HalfLife: 0, Precision: -3})
	assert.Equal(t, DefaultConfig().HalfLife, e.HalfLife())
	assert.Equal(t, 0, e.Config().Precision)
}

func TestInitial(t *testing.T) {
	e := New(DefaultConfig())
	st := e.Initial(t0)
	assert.Equal(t, 0.0, st.TotalStaked)
	assert.Equal(t, InitialVitality, st.VitalityAtLastUpdate)
	assert.Equal(t, t0, st.LastDecayUpdate)
	assert.InDelta(t, 50, e.Compute(st, hoursAfter(12)), 0.01)
}

func TestCatchUpCarriesScoreForward(t *testing.T) {
	e := New(DefaultConfig())
	st := state(0, 100)
	now := hoursAfter(12)

	next := e.CatchUp(st, 50, now)
	assert.Equal(t, 50.0, next.TotalStaked)
	assert.Equal(t, now, next.LastDecayUpdate)
	assert.Equal(t, e.Compute(st, now), next.VitalityAtLastUpdate)

	// no decay time is lost across the write
	assert.InDelta(t, e.Compute(st, now), e.Compute(next, now), 1e-9)
	// and the new target takes over afterwards
	assert.InDelta(t, 50, e.Compute(next, now.Add(240*time.Hour)), 0.5)
}

func TestCatchUpChainMatchesSingleSpan(t *testing.T) {
	e := New(Config{HalfLife: 12 * time.Hour, Precision: 12})
	st := state(30, 100)

	// Writes that do not change S must not change the curve.
	chained := st
	for h := 1.0; h <= 10; h++ {
		chained = e.CatchUp(chained, 30, hoursAfter(h))
	}
	assert.InDelta(t, e.Compute(st, hoursAfter(10)), chained.VitalityAtLastUpdate, 1e-6)
}

func TestNewDecayState(t *testing.T) {
	st, err := NewDecayState(10, 55.5, t0)
	require.NoError(t, err)
	assert.Equal(t, state(10, 55.5), st)

	for name, tc := range map[string]struct {
		s, v0 float64
		at    time.Time
	}{
		"negative total": {-1, 10, t0},
		"nan total":      {math.NaN(), 10, t0},
		"inf vitality":   {1, math.Inf(1), t0},
		"zero time":      {1, 10, time.Time{}},
	} {
		_, err := NewDecayState(tc.s, tc.v0, tc.at)
		assert.True(t, errors.Is(err, ErrInvalidState), name)
	}
}
