package events

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// BreakerSettings tunes the circuit around a Publisher.
type BreakerSettings struct {
	// ConsecutiveFailures opens the circuit.
	ConsecutiveFailures uint32
	// OpenFor is how long the circuit stays open before probing again.
	OpenFor time.Duration
	// DropLogEvery bounds how often dropped events are reported.
	DropLogEvery time.Duration
}

// DefaultBreakerSettings trips after five straight failures and retries after 30s.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{ConsecutiveFailures: 5, OpenFor: 30 * time.Second, DropLogEvery: 10 * time.Second}
}

// Guarded wraps a Publisher in a circuit breaker. While the circuit is open
// events are dropped without reaching the broker and Publish returns nil.
type Guarded struct {
	next    Publisher
	cb      *gobreaker.CircuitBreaker
	dropped atomic.Uint64
	dropLog *rate.Sometimes
	logger  *zap.Logger
}

// NewGuarded wraps next.
func NewGuarded(next Publisher, s BreakerSettings, logger *zap.Logger) *Guarded {
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = DefaultBreakerSettings().ConsecutiveFailures
	}
	if s.DropLogEvery == 0 {
		s.DropLogEvery = DefaultBreakerSettings().DropLogEvery
	}
	g := &Guarded{
		next:    next,
		dropLog: &rate.Sometimes{First: 1, Interval: s.DropLogEvery},
		logger:  logger,
	}
	g.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "events",
		MaxRequests: 1,
		Timeout:     s.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("event publisher circuit changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return g
}

// Publish forwards ev. Broker errors are returned while the circuit is
// closed; once it opens, events are counted and dropped.
func (g *Guarded) Publish(ctx context.Context, ev *Event) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, g.next.Publish(ctx, ev)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		n := g.dropped.Add(1)
		g.dropLog.Do(func() {
			g.logger.Warn("event publisher circuit open, dropping events",
				zap.String("kind", string(ev.Kind)),
				zap.Uint64("dropped_total", n))
		})
		return nil
	}
	return err
}

// Dropped counts events discarded while the circuit was open.
func (g *Guarded) Dropped() uint64 {
	return g.dropped.Load()
}

// State reports the circuit state, e.g. "closed" or "open".
func (g *Guarded) State() string {
	return g.cb.State().String()
}
