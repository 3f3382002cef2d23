package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	leaseerrors "github.com/mirkobrombin/go-lease/v1/errors"
	"github.com/mirkobrombin/go-lease/v1/events"
	"github.com/mirkobrombin/go-lease/v1/store"
)

func TestWaitWakesOnUnlockEvent(t *testing.T) {
	bus := events.NewInMemoryBus()
	l := newTestLocks(t, store.NewInMemoryStore(), WithBus(bus))
	ctx := context.Background()

	acquired := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = l.Lock(ctx, "a", func(context.Context) error {
			close(acquired)
			<-release
			return nil
		}, WithTTL(time.Minute))
	}()
	<-acquired

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()

	start := time.Now()
	// the poll interval alone would take far longer than the holder
	res, err := Wait(ctx, l, "a", func(context.Context) (string, error) {
		return "mine", nil
	}, WithTTL(time.Minute), WithPollInterval(10*time.Second))
	if err != nil || res != "mine" {
		t.Fatalf("wait: res %q err %v", res, err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("wait did not wake on unlock, took %v", elapsed)
	}
}

func TestWaitPollsWithoutBus(t *testing.T) {
	l := newTestLocks(t, store.NewInMemoryStore())
	ctx := context.Background()

	// crashed holder: only expiry frees the name
	if rec, err := l.TryAcquire(ctx, "a", 60*time.Millisecond); err != nil || rec == nil {
		t.Fatalf("try acquire: rec %v err %v", rec, err)
	}
	calls := 0
	err := l.waitLock(ctx, "a", func(context.Context) error {
		calls++
		return nil
	}, WithTTL(time.Second), WithPollInterval(15*time.Millisecond))
	if err != nil || calls != 1 {
		t.Fatalf("wait: calls %d err %v", calls, err)
	}
}

func TestWaitHonoursContext(t *testing.T) {
	l := newTestLocks(t, store.NewInMemoryStore())
	if rec, err := l.TryAcquire(context.Background(), "a", time.Minute); err != nil || rec == nil {
		t.Fatalf("try acquire: rec %v err %v", rec, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := l.waitLock(ctx, "a", func(context.Context) error {
		t.Error("body must not run")
		return nil
	}, WithPollInterval(10*time.Millisecond))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestWaitDoesNotRetryBodyLockError(t *testing.T) {
	l := newTestLocks(t, store.NewInMemoryStore())
	calls := 0
	err := l.waitLock(context.Background(), "outer", func(context.Context) error {
		calls++
		return leaseerrors.NewLockError("inner")
	}, WithPollInterval(time.Millisecond))
	if !errors.Is(err, leaseerrors.ErrLock) || calls != 1 {
		t.Fatalf("expected body lock error once, calls %d err %v", calls, err)
	}
}

func (l *Locks) waitLock(ctx context.Context, name string, body func(context.Context) error, opts ...Option) error {
	_, err := Wait(ctx, l, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, body(ctx)
	}, opts...)
	return err
}
