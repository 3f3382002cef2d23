package lock

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/mirkobrombin/go-lease/v1/events"
	"github.com/mirkobrombin/go-lease/v1/store"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-lease/v1/lock")

// Locks hands out leases backed by a store.Store. It is safe for concurrent
// use; every session keeps its own state.
type Locks struct {
	store  store.Store
	bus    events.Bus
	logger *zap.Logger
	now    func() time.Time
}

// LocksOption configures a Locks instance.
type LocksOption func(*Locks)

// WithClock overrides the clock used to compute lease deadlines.
func WithClock(now func() time.Time) LocksOption {
	return func(l *Locks) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the logger used by sessions and heartbeats.
func WithLogger(logger *zap.Logger) LocksOption {
	return func(l *Locks) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithBus publishes lock and unlock events on bus and lets Wait wake up on
// them.
func WithBus(bus events.Bus) LocksOption {
	return func(l *Locks) {
		l.bus = bus
	}
}

// New returns a Locks instance on s.
func New(s store.Store, opts ...LocksOption) *Locks {
	l := &Locks{
		store:  s,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Store returns the underlying store.
func (l *Locks) Store() store.Store {
	return l.store
}

// Bus returns the event bus, or nil when none was configured.
func (l *Locks) Bus() events.Bus {
	return l.bus
}

func (l *Locks) publish(ctx context.Context, kind events.Kind, name string) {
	if l.bus == nil {
		return
	}
	ev := events.Event{Kind: kind, Name: name, At: store.Millis(l.now())}
	if err := l.bus.Publish(ctx, ev); err != nil {
		l.logger.Debug("publish lease event failed",
			zap.String("name", name),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
}
