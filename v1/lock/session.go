package lock

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	leaseerrors "github.com/mirkobrombin/go-lease/v1/errors"
	"github.com/mirkobrombin/go-lease/v1/events"
	"github.com/mirkobrombin/go-lease/v1/metrics"
)

// Lock runs body while holding the lease on name.
//
// If the name is leased by someone else Lock returns a LockingError matching
// ErrLock without calling body. Otherwise body runs with a context that is
// cancelled, with a relock error as cause, if the lease is lost. The error
// returned by body is returned unchanged; failures to release are reported
// through WithOnError only.
func (l *Locks) Lock(ctx context.Context, name string, body func(ctx context.Context) error, opts ...Option) error {
	_, err := Run(ctx, l, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, body(ctx)
	}, opts...)
	return err
}

// Run is like Locks.Lock for a body producing a value.
func Run[T any](ctx context.Context, l *Locks, name string, body func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	o, err := newSessionOptions(opts)
	if err != nil {
		var zero T
		return zero, err
	}
	res, _, err := run(ctx, l, name, body, o)
	return res, err
}

// run executes one session and reports whether the lease was acquired, so
// that callers can tell a contended name from a body returning ErrLock.
func run[T any](ctx context.Context, l *Locks, name string, body func(ctx context.Context) (T, error), o sessionOptions) (result T, acquired bool, err error) {
	sessionID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "lock.Session", trace.WithAttributes(
		attribute.String("lock.name", name),
		attribute.Int64("lock.ttl_ms", o.ttl.Milliseconds()),
		attribute.Int("lock.retries", o.retries),
		attribute.String("lock.session", sessionID),
	))
	defer span.End()

	rec, err := l.TryAcquire(ctx, name, o.ttl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, false, err
	}
	if rec == nil {
		span.SetAttributes(attribute.Bool("lock.acquired", false))
		return result, false, leaseerrors.NewLockError(name)
	}
	span.SetAttributes(attribute.Bool("lock.acquired", true))

	log := l.logger.With(zap.String("name", name), zap.String("session", sessionID))
	log.Debug("lease acquired", zap.Time("expires_at", rec.ExpiresAt))
	metrics.HeldGauge.Inc()

	// Store calls made on behalf of the lease must outlive the caller's ctx:
	// a cancelled caller still has to release.
	bg := context.WithoutCancel(ctx)
	l.publish(bg, events.KindLock, name)

	bodyCtx, cancel := context.WithCancelCause(ctx)
	hb := newHeartbeat(bg, l, rec, o, cancel)
	hb.start()

	defer func() {
		held := hb.Stop()
		cancel(nil)
		metrics.HeldGauge.Dec()
		if held == nil {
			span.AddEvent("lease lost")
			return
		}
		if relErr := l.Release(bg, name); relErr != nil {
			log.Warn("lease release failed", zap.Error(relErr))
			o.report(leaseerrors.NewUnlockError(name, relErr))
			return
		}
		log.Debug("lease released")
		l.publish(bg, events.KindUnlock, name)
	}()

	result, err = body(bodyCtx)
	return result, true, err
}
