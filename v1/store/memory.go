package store

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	rec   Record
	timer *time.Timer
	// skew is the offset of the writer's clock from the wall clock.
	skew time.Duration
}

// InMemoryStore is a Store kept in process memory. It is suitable for tests and
// for coordinating goroutines of a single process. Expired records are
// collected by per-record timers, measured against the clock of the caller
// that last wrote the record rather than the wall clock.
type InMemoryStore struct {
	mu    sync.Mutex
	items map[string]*memEntry
	now   func() time.Time
}

// NewInMemoryStore returns an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{items: make(map[string]*memEntry), now: time.Now}
}

// TryLock implements Store.TryLock.
func (s *InMemoryStore) TryLock(ctx context.Context, name string, expiresAt, now time.Time) (Record, bool, error) {
	if err := ctxErr(ctx); err != nil {
		return Record{}, false, err
	}
	expiresAt, now = Millis(expiresAt), Millis(now)

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[name]
	if ok && !e.rec.Expired(now) {
		return Record{}, false, nil
	}
	if !ok {
		e = &memEntry{rec: Record{Name: name, CreatedAt: now}}
		s.items[name] = e
	}
	e.rec.ExpiresAt = expiresAt
	e.rec.UpdatedAt = now
	s.scheduleExpiry(name, e, now)
	return e.rec, true, nil
}

// Relock implements Store.Relock.
func (s *InMemoryStore) Relock(ctx context.Context, name string, expected, expiresAt, now time.Time) (Record, bool, error) {
	if err := ctxErr(ctx); err != nil {
		return Record{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[name]
	if !ok || !e.rec.ExpiresAt.Equal(Millis(expected)) {
		return Record{}, false, nil
	}
	e.rec.ExpiresAt = Millis(expiresAt)
	e.rec.UpdatedAt = Millis(now)
	s.scheduleExpiry(name, e, now)
	return e.rec, true, nil
}

// Delete implements Store.Delete.
func (s *InMemoryStore) Delete(ctx context.Context, name string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	if e, ok := s.items[name]; ok {
		e.timer.Stop()
		delete(s.items, name)
	}
	s.mu.Unlock()
	return nil
}

// Get implements Getter.Get.
func (s *InMemoryStore) Get(ctx context.Context, name string) (Record, bool, error) {
	if err := ctxErr(ctx); err != nil {
		return Record{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[name]
	if !ok {
		return Record{}, false, nil
	}
	return e.rec, true, nil
}

// Len returns the number of records not collected yet.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// scheduleExpiry must be called with s.mu held. now is the writer's clock
// reading for this write.
func (s *InMemoryStore) scheduleExpiry(name string, e *memEntry, now time.Time) {
	e.skew = now.Sub(s.now())
	s.armTimer(name, e, e.rec.ExpiresAt.Sub(now))
}

func (s *InMemoryStore) armTimer(name string, e *memEntry, d time.Duration) {
	if e.timer != nil {
		e.timer.Stop()
	}
	// one extra millisecond so the record is strictly past ExpiresAt
	e.timer = time.AfterFunc(d+time.Millisecond, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		cur, ok := s.items[name]
		if !ok || cur != e {
			return
		}
		writerNow := s.now().Add(e.skew)
		if !cur.rec.Expired(writerNow) {
			s.armTimer(name, e, cur.rec.ExpiresAt.Sub(writerNow))
			return
		}
		delete(s.items, name)
	})
}
