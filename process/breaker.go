package process

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// GuardedAdapter wraps an Adapter's spawn path in a circuit breaker: without
// one, a crashed terminal multiplexer or a consistently failing agent binary
// gets hammered on every single dispatch. This trips the breaker open after
// repeated failures instead.
type GuardedAdapter struct {
	*Adapter
	breaker *gobreaker.CircuitBreaker
}

// NewGuardedAdapter wraps adapter with a breaker that opens after 5
// consecutive spawn failures and probes again after 30s.
func NewGuardedAdapter(adapter *Adapter) *GuardedAdapter {
	settings := gobreaker.Settings{
		Name:        "tmux-spawn",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &GuardedAdapter{
		Adapter: adapter,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// SpawnSession overrides Adapter.SpawnSession to route through the breaker.
// When the breaker is open, it fails fast with gobreaker.ErrOpenState
// instead of invoking tmux at all.
func (g *GuardedAdapter) SpawnSession(ctx context.Context, name, cwd string, argv []string) error {
	_, err := g.breaker.Execute(func() (any, error) {
		return nil, g.Adapter.SpawnSession(ctx, name, cwd, argv)
	})
	if err != nil {
		return fmt.Errorf("process: guarded spawn %q: %w", name, err)
	}
	return nil
}

// State reports the breaker's current state.
func (g *GuardedAdapter) State() gobreaker.State {
	return g.breaker.State()
}
