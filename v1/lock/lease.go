package lock

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	leaseerrors "github.com/mirkobrombin/go-lease/v1/errors"
	"github.com/mirkobrombin/go-lease/v1/metrics"
	"github.com/mirkobrombin/go-lease/v1/store"
)

// TryAcquire makes a single attempt at leasing name for ttl. It returns nil
// and no error when another holder owns a live lease.
func (l *Locks) TryAcquire(ctx context.Context, name string, ttl time.Duration) (*store.Record, error) {
	now := store.Millis(l.now())
	rec, ok, err := l.store.TryLock(ctx, name, now.Add(ttl), now)
	if errors.Is(err, store.ErrDuplicate) {
		// a concurrent insert won; not a live record seen by the filter
		metrics.AcquireCounter.WithLabelValues(metrics.ResultContended).Inc()
		l.logger.Debug("lease insert lost a uniqueness race", zap.String("name", name))
		return nil, nil
	}
	if err != nil {
		metrics.AcquireCounter.WithLabelValues(metrics.ResultError).Inc()
		return nil, err
	}
	if !ok {
		metrics.AcquireCounter.WithLabelValues(metrics.ResultContended).Inc()
		l.logger.Debug("lease held elsewhere", zap.String("name", name))
		return nil, nil
	}
	metrics.AcquireCounter.WithLabelValues(metrics.ResultAcquired).Inc()
	return &rec, nil
}

// Renew extends rec for ttl from now. The write only applies if the stored
// lease still expires at rec.ExpiresAt; otherwise the lease was lost and a
// relock error is returned.
func (l *Locks) Renew(ctx context.Context, rec *store.Record, ttl time.Duration) (*store.Record, error) {
	now := store.Millis(l.now())
	expiresAt := now.Add(ttl)
	if !expiresAt.After(rec.ExpiresAt) {
		// keep deadlines strictly increasing so fencing values never repeat
		expiresAt = rec.ExpiresAt.Add(time.Millisecond)
	}
	next, ok, err := l.store.Relock(ctx, rec.Name, rec.ExpiresAt, expiresAt, now)
	if err != nil {
		metrics.RenewCounter.WithLabelValues(metrics.ResultError).Inc()
		return nil, err
	}
	if !ok {
		metrics.RenewCounter.WithLabelValues(metrics.ResultFailed).Inc()
		return nil, leaseerrors.NewRelockError(rec.Name, nil)
	}
	metrics.RenewCounter.WithLabelValues(metrics.ResultOK).Inc()
	return &next, nil
}

// Release deletes the lease for name without checking who holds it.
func (l *Locks) Release(ctx context.Context, name string) error {
	if err := l.store.Delete(ctx, name); err != nil {
		metrics.ReleaseCounter.WithLabelValues(metrics.ResultFailed).Inc()
		return err
	}
	metrics.ReleaseCounter.WithLabelValues(metrics.ResultOK).Inc()
	return nil
}
