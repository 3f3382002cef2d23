package events

import (
	"context"
	"sync"
	"sync/atomic"

	nats "github.com/nats-io/nats.go"
)

// DefaultSubject carries every lease event; lock names are not guaranteed to
// be valid subject tokens, so filtering happens on the client.
const DefaultSubject = "lease.events"

// NATSBus implements Bus using a NATS backend.
type NATSBus struct {
	conn    *nats.Conn
	subject string

	mu        sync.Mutex
	sub       *nats.Subscription
	chans     map[string][]chan Event
	published uint64
	delivered uint64
}

// NewNATSBus returns a new NATSBus using the provided connection.
func NewNATSBus(conn *nats.Conn) *NATSBus {
	return &NATSBus{
		conn:    conn,
		subject: DefaultSubject,
		chans:   make(map[string][]chan Event),
	}
}

// Publish implements Bus.Publish.
func (b *NATSBus) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(ev)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(b.subject, data); err != nil {
		return err
	}
	atomic.AddUint64(&b.published, 1)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *NATSBus) Subscribe(ctx context.Context, name string) (chan Event, error) {
	ch := make(chan Event, 1)
	b.mu.Lock()
	if b.sub == nil {
		sub, err := b.conn.Subscribe(b.subject, b.handle)
		if err != nil {
			b.mu.Unlock()
			return nil, err
		}
		if err := b.conn.Flush(); err != nil {
			_ = sub.Unsubscribe()
			b.mu.Unlock()
			return nil, err
		}
		b.sub = sub
	}
	b.chans[name] = append(b.chans[name], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), name, ch)
	}()
	return ch, nil
}

func (b *NATSBus) handle(msg *nats.Msg) {
	ev, err := decode(msg.Data)
	if err != nil {
		return
	}
	b.mu.Lock()
	atomic.AddUint64(&b.delivered, fanout(b.chans[ev.Name], ev))
	b.mu.Unlock()
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *NATSBus) Unsubscribe(ctx context.Context, name string, ch chan Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, removed := removeChan(b.chans[name], ch)
	if removed {
		close(ch)
	}
	if len(subs) == 0 {
		delete(b.chans, name)
	} else {
		b.chans[name] = subs
	}
	if len(b.chans) == 0 && b.sub != nil {
		err := b.sub.Unsubscribe()
		b.sub = nil
		return err
	}
	return nil
}

func (b *NATSBus) Metrics() Metrics {
	return Metrics{
		Published: atomic.LoadUint64(&b.published),
		Delivered: atomic.LoadUint64(&b.delivered),
	}
}
