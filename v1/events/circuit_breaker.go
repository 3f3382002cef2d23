package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrCircuitOpen is returned by CircuitBreakerBus.Publish while the breaker
// is rejecting events.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerBus decorates a Bus so that a broker that keeps failing stops
// costing every lock session a publish round trip. Lease events are best
// effort, so rejected events are dropped and counted. Only Publish is guarded.
type CircuitBreakerBus struct {
	bus       Bus
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu        sync.Mutex
	failures  int
	openUntil time.Time
	trying    bool
	rejected  uint64
}

// NewCircuitBreaker returns a CircuitBreakerBus that trips after threshold
// consecutive publish failures and lets one event through again once timeout
// has passed.
func NewCircuitBreaker(bus Bus, threshold int, timeout time.Duration) *CircuitBreakerBus {
	if threshold < 1 {
		threshold = 1
	}
	return &CircuitBreakerBus{
		bus:       bus,
		threshold: threshold,
		cooldown:  timeout,
		now:       time.Now,
	}
}

func (cb *CircuitBreakerBus) tripped() bool {
	return cb.failures >= cb.threshold
}

// IsHealthy reports whether the next Publish would reach the wrapped bus.
func (cb *CircuitBreakerBus) IsHealthy() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if !cb.tripped() {
		return true
	}
	return !cb.trying && !cb.now().Before(cb.openUntil)
}

// Rejected returns how many events were dropped while the breaker was open.
func (cb *CircuitBreakerBus) Rejected() uint64 {
	return atomic.LoadUint64(&cb.rejected)
}

// Publish implements Bus.Publish. While tripped, events are rejected until
// the cooldown ends; then a single trial decides whether to close again.
func (cb *CircuitBreakerBus) Publish(ctx context.Context, ev Event) error {
	cb.mu.Lock()
	if cb.tripped() {
		if cb.trying || cb.now().Before(cb.openUntil) {
			cb.mu.Unlock()
			atomic.AddUint64(&cb.rejected, 1)
			return ErrCircuitOpen
		}
		cb.trying = true
	}
	cb.mu.Unlock()

	err := cb.bus.Publish(ctx, ev)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trying = false
	if err == nil {
		cb.failures = 0
		return nil
	}
	cb.failures++
	if cb.tripped() {
		cb.openUntil = cb.now().Add(cb.cooldown)
	}
	return err
}

// Subscribe implements Bus.Subscribe.
func (cb *CircuitBreakerBus) Subscribe(ctx context.Context, name string) (chan Event, error) {
	return cb.bus.Subscribe(ctx, name)
}

// Unsubscribe implements Bus.Unsubscribe.
func (cb *CircuitBreakerBus) Unsubscribe(ctx context.Context, name string, ch chan Event) error {
	return cb.bus.Unsubscribe(ctx, name, ch)
}
