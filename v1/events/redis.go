package events

import (
	"context"
	stdErrors "errors"
	"sync"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"

	leaseerrors "github.com/mirkobrombin/go-lease/v1/errors"
)

const (
	redisBusTimeout      = 5 * time.Second
	defaultChannelPrefix = "lease:events:"
)

type redisSubscription struct {
	pubsub *redis.PubSub
	chans  []chan Event
}

// RedisBus implements Bus using Redis pub/sub, one channel per lock name.
type RedisBus struct {
	client *redis.Client
	prefix string

	mu        sync.Mutex
	subs      map[string]*redisSubscription
	published atomic.Uint64
	delivered atomic.Uint64
}

// RedisBusOptions configures a RedisBus.
type RedisBusOptions struct {
	Client *redis.Client
	// ChannelPrefix defaults to "lease:events:".
	ChannelPrefix string
}

// NewRedisBus returns a new RedisBus using the provided Redis client.
func NewRedisBus(opts RedisBusOptions) *RedisBus {
	prefix := opts.ChannelPrefix
	if prefix == "" {
		prefix = defaultChannelPrefix
	}
	return &RedisBus{
		client: opts.Client,
		prefix: prefix,
		subs:   make(map[string]*redisSubscription),
	}
}

// Publish implements Bus.Publish.
func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return leaseerrors.ErrTimeout
		}
		return err
	}
	data, err := encode(ev)
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, redisBusTimeout)
	defer cancel()
	if err := b.client.Publish(cctx, b.prefix+ev.Name, data).Err(); err != nil {
		if stdErrors.Is(err, redis.ErrClosed) {
			return leaseerrors.ErrConnectionClosed
		}
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return leaseerrors.ErrTimeout
		}
		return err
	}
	b.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe. The Redis round trip for a new name
// happens outside the lock so other names keep flowing meanwhile.
func (b *RedisBus) Subscribe(ctx context.Context, name string) (chan Event, error) {
	ch := make(chan Event, 1)
	b.mu.Lock()
	sub := b.subs[name]
	if sub != nil {
		sub.chans = append(sub.chans, ch)
		b.mu.Unlock()
		b.unsubscribeOnDone(ctx, name, ch)
		return ch, nil
	}
	b.mu.Unlock()

	pubsub := b.client.Subscribe(context.Background(), b.prefix+name)
	cctx, cancel := context.WithTimeout(ctx, redisBusTimeout)
	_, err := pubsub.Receive(cctx)
	cancel()
	if err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	b.mu.Lock()
	if sub = b.subs[name]; sub == nil {
		sub = &redisSubscription{pubsub: pubsub}
		b.subs[name] = sub
		go b.dispatch(name, sub)
		pubsub = nil
	}
	sub.chans = append(sub.chans, ch)
	b.mu.Unlock()
	if pubsub != nil {
		// another subscriber for name won the race
		_ = pubsub.Close()
	}
	b.unsubscribeOnDone(ctx, name, ch)
	return ch, nil
}

func (b *RedisBus) unsubscribeOnDone(ctx context.Context, name string, ch chan Event) {
	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), name, ch)
	}()
}

func (b *RedisBus) dispatch(name string, sub *redisSubscription) {
	for msg := range sub.pubsub.Channel() {
		ev, err := decode([]byte(msg.Payload))
		if err != nil {
			continue
		}
		// fan out under the lock so Unsubscribe cannot close a channel mid-send
		b.mu.Lock()
		b.delivered.Add(fanout(sub.chans, ev))
		b.mu.Unlock()
	}
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *RedisBus) Unsubscribe(ctx context.Context, name string, ch chan Event) error {
	b.mu.Lock()
	sub := b.subs[name]
	if sub == nil {
		b.mu.Unlock()
		return nil
	}
	var removed bool
	sub.chans, removed = removeChan(sub.chans, ch)
	if removed {
		close(ch)
	}
	if len(sub.chans) > 0 {
		b.mu.Unlock()
		return nil
	}
	delete(b.subs, name)
	b.mu.Unlock()
	return sub.pubsub.Close()
}

// Close drops every subscription.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for name, sub := range b.subs {
		_ = sub.pubsub.Close()
		for _, ch := range sub.chans {
			close(ch)
		}
		delete(b.subs, name)
	}
	return nil
}

func (b *RedisBus) Metrics() Metrics {
	return Metrics{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
	}
}
