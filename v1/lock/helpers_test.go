package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/mirkobrombin/go-lease/v1/store"
)

// hookStore wraps a store and lets tests inject failures and record calls.
type hookStore struct {
	store.Store

	tryLock func(ctx context.Context, name string, expiresAt, now time.Time) (store.Record, bool, error)
	relock  func(ctx context.Context, name string, expected, expiresAt, now time.Time) (store.Record, bool, error)
	delete  func(ctx context.Context, name string) error

	relocks atomic.Int32
	deletes atomic.Int32

	mu  sync.Mutex
	ops []string
}

func (h *hookStore) record(op string) {
	h.mu.Lock()
	h.ops = append(h.ops, op)
	h.mu.Unlock()
}

func (h *hookStore) calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.ops...)
}

func (h *hookStore) TryLock(ctx context.Context, name string, expiresAt, now time.Time) (store.Record, bool, error) {
	h.record("trylock")
	if h.tryLock != nil {
		return h.tryLock(ctx, name, expiresAt, now)
	}
	return h.Store.TryLock(ctx, name, expiresAt, now)
}

func (h *hookStore) Relock(ctx context.Context, name string, expected, expiresAt, now time.Time) (store.Record, bool, error) {
	h.record("relock")
	h.relocks.Add(1)
	if h.relock != nil {
		return h.relock(ctx, name, expected, expiresAt, now)
	}
	return h.Store.Relock(ctx, name, expected, expiresAt, now)
}

func (h *hookStore) Delete(ctx context.Context, name string) error {
	h.record("delete")
	h.deletes.Add(1)
	if h.delete != nil {
		return h.delete(ctx, name)
	}
	return h.Store.Delete(ctx, name)
}

func newTestLocks(t *testing.T, s store.Store, opts ...LocksOption) *Locks {
	t.Helper()
	opts = append([]LocksOption{WithLogger(zaptest.NewLogger(t))}, opts...)
	return New(s, opts...)
}

// errorSink collects errors passed to WithOnError.
type errorSink struct {
	mu   sync.Mutex
	errs []error
}

func (s *errorSink) add(err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

func (s *errorSink) all() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}
