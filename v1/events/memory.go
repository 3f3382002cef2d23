package events

import (
	"context"
	"sync"
	"sync/atomic"
)

// InMemoryBus is a local implementation of Bus, used by single-process
// deployments and tests.
type InMemoryBus struct {
	mu        sync.Mutex
	subs      map[string][]chan Event
	published uint64
	delivered uint64
}

// NewInMemoryBus returns a new InMemoryBus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{subs: make(map[string][]chan Event)}
}

// Publish implements Bus.Publish.
func (b *InMemoryBus) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	delivered := fanout(b.subs[ev.Name], ev)
	b.mu.Unlock()
	atomic.AddUint64(&b.published, 1)
	atomic.AddUint64(&b.delivered, delivered)
	return nil
}

// Subscribe implements Bus.Subscribe. The subscription ends when ctx is done.
func (b *InMemoryBus) Subscribe(ctx context.Context, name string) (chan Event, error) {
	ch := make(chan Event, 1)
	b.mu.Lock()
	b.subs[name] = append(b.subs[name], ch)
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), name, ch)
	}()
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *InMemoryBus) Unsubscribe(ctx context.Context, name string, ch chan Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, removed := removeChan(b.subs[name], ch)
	if removed {
		close(ch)
	}
	if len(subs) == 0 {
		delete(b.subs, name)
	} else {
		b.subs[name] = subs
	}
	return nil
}

func (b *InMemoryBus) Metrics() Metrics {
	return Metrics{
		Published: atomic.LoadUint64(&b.published),
		Delivered: atomic.LoadUint64(&b.delivered),
	}
}
