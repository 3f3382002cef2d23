package lock

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	leaseerrors "github.com/mirkobrombin/go-lease/v1/errors"
	"github.com/mirkobrombin/go-lease/v1/events"
)

// Wait runs body under the lease on name, retrying while the name is held
// elsewhere. Attempts are spaced by the poll interval unless the bus
// configured with WithBus delivers an unlock event for name first. Wait stops
// on the first outcome other than contention, or when ctx is done.
func Wait[T any](ctx context.Context, l *Locks, name string, body func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	var zero T
	o, err := newSessionOptions(opts)
	if err != nil {
		return zero, err
	}

	for attempt := 1; ; attempt++ {
		// subscribe before trying so an unlock between the attempt and the
		// wait is not missed
		subCtx, unsubscribe := context.WithCancel(ctx)
		unlocked := l.subscribe(subCtx, name)

		res, acquired, err := run(ctx, l, name, body, o)
		if acquired || !errors.Is(err, leaseerrors.ErrLock) {
			unsubscribe()
			return res, err
		}
		l.logger.Debug("waiting for lease",
			zap.String("name", name),
			zap.Int("attempt", attempt))

		timer := time.NewTimer(o.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			unsubscribe()
			return zero, ctx.Err()
		case <-unlocked:
		case <-timer.C:
		}
		timer.Stop()
		unsubscribe()
	}
}

// subscribe returns a channel that receives once an unlock event for name is
// seen. Without a bus the channel never fires.
func (l *Locks) subscribe(ctx context.Context, name string) <-chan struct{} {
	fired := make(chan struct{})
	if l.bus == nil {
		return fired
	}
	ch, err := l.bus.Subscribe(ctx, name)
	if err != nil {
		l.logger.Debug("subscribe to lease events failed", zap.String("name", name), zap.Error(err))
		return fired
	}
	go func() {
		defer func() {
			_ = l.bus.Unsubscribe(context.Background(), name, ch)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if ev.Kind == events.KindUnlock {
					close(fired)
					return
				}
			}
		}
	}()
	return fired
}
