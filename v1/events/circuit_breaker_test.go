package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type mockBus struct {
	publishFunc func(ctx context.Context, ev Event) error
	*InMemoryBus
}

func (m *mockBus) Publish(ctx context.Context, ev Event) error {
	if m.publishFunc != nil {
		return m.publishFunc(ctx, ev)
	}
	return m.InMemoryBus.Publish(ctx, ev)
}

// fakeClock is advanced by hand.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(threshold int, cooldown time.Duration) (*CircuitBreakerBus, *mockBus, *fakeClock) {
	mb := &mockBus{InMemoryBus: NewInMemoryBus()}
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cb := NewCircuitBreaker(mb, threshold, cooldown)
	cb.now = clock.Now
	return cb, mb, clock
}

func TestCircuitBreakerTripsAfterThreshold(t *testing.T) {
	cb, mb, _ := newTestBreaker(2, time.Minute)
	ctx := context.Background()
	ev := Event{Kind: KindUnlock, Name: "job"}
	failErr := errors.New("fail")

	mb.publishFunc = func(context.Context, Event) error { return failErr }
	if err := cb.Publish(ctx, ev); err != failErr {
		t.Fatalf("expected failErr, got %v", err)
	}
	if !cb.IsHealthy() {
		t.Fatal("expected healthy after 1 failure (threshold 2)")
	}
	if err := cb.Publish(ctx, ev); err != failErr {
		t.Fatalf("expected failErr, got %v", err)
	}
	if cb.IsHealthy() {
		t.Fatal("expected tripped after threshold reached")
	}

	mb.publishFunc = func(context.Context, Event) error {
		t.Fatal("tripped breaker reached the bus")
		return nil
	}
	if err := cb.Publish(ctx, ev); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if cb.Rejected() != 1 {
		t.Fatalf("expected one rejected event, got %d", cb.Rejected())
	}
}

func TestCircuitBreakerTrialAfterCooldown(t *testing.T) {
	cb, mb, clock := newTestBreaker(1, time.Minute)
	ctx := context.Background()
	ev := Event{Kind: KindLock, Name: "job"}
	failErr := errors.New("fail")

	mb.publishFunc = func(context.Context, Event) error { return failErr }
	_ = cb.Publish(ctx, ev)

	clock.Advance(time.Minute)
	if !cb.IsHealthy() {
		t.Fatal("expected a trial to be allowed once the cooldown passed")
	}
	// a failed trial trips again for a full cooldown
	if err := cb.Publish(ctx, ev); err != failErr {
		t.Fatalf("expected the trial to reach the bus, got %v", err)
	}
	if err := cb.Publish(ctx, ev); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen after failed trial, got %v", err)
	}

	clock.Advance(time.Minute)
	mb.publishFunc = nil
	if err := cb.Publish(ctx, ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cb.IsHealthy() || cb.failures != 0 {
		t.Fatalf("expected closed breaker, failures %d", cb.failures)
	}
}

func TestCircuitBreakerSingleTrial(t *testing.T) {
	cb, mb, clock := newTestBreaker(1, time.Second)
	ctx := context.Background()
	ev := Event{Kind: KindLock, Name: "job"}

	mb.publishFunc = func(context.Context, Event) error { return errors.New("fail") }
	_ = cb.Publish(ctx, ev)
	clock.Advance(time.Second)

	release := make(chan struct{})
	entered := make(chan struct{})
	mb.publishFunc = func(context.Context, Event) error {
		close(entered)
		<-release
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- cb.Publish(ctx, ev) }()
	<-entered

	// the trial is still in flight
	if err := cb.Publish(ctx, ev); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected a second publish to be rejected during the trial, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("trial: %v", err)
	}
	if !cb.IsHealthy() {
		t.Fatal("expected closed breaker after a successful trial")
	}
}

func TestCircuitBreakerPassesSubscriptions(t *testing.T) {
	cb := NewCircuitBreaker(NewInMemoryBus(), 1, time.Second)
	testBusRoundTrip(t, cb)
}
