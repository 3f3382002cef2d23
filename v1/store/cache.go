package store

import (
	"context"
	stdErrors "errors"
	"time"

	"github.com/dgraph-io/ristretto"
)

// DefaultCacheTTL bounds how stale a cached read can be.
const DefaultCacheTTL = 250 * time.Millisecond

// ErrNotGetter is returned by NewCachedStore when the wrapped store cannot
// read records back.
var ErrNotGetter = stdErrors.New("store: backend does not implement Getter")

// CachedStore puts a ristretto read cache in front of Get. Writes go straight
// to the wrapped store and drop the cached entry for their name; writes made
// by other processes become visible once the entry expires.
type CachedStore struct {
	Store
	getter Getter
	cache  *ristretto.Cache
	ttl    time.Duration
}

// NewCachedStore wraps s, which must also implement Getter. A non-positive
// ttl selects DefaultCacheTTL.
func NewCachedStore(s Store, ttl time.Duration) (*CachedStore, error) {
	getter, ok := s.(Getter)
	if !ok {
		return nil, ErrNotGetter
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1 << 12, // one unit per record
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &CachedStore{Store: s, getter: getter, cache: c, ttl: ttl}, nil
}

// TryLock implements Store.TryLock.
func (s *CachedStore) TryLock(ctx context.Context, name string, expiresAt, now time.Time) (Record, bool, error) {
	rec, ok, err := s.Store.TryLock(ctx, name, expiresAt, now)
	if ok {
		s.invalidate(name)
	}
	return rec, ok, err
}

// Relock implements Store.Relock.
func (s *CachedStore) Relock(ctx context.Context, name string, expected, expiresAt, now time.Time) (Record, bool, error) {
	rec, ok, err := s.Store.Relock(ctx, name, expected, expiresAt, now)
	if ok {
		s.invalidate(name)
	}
	return rec, ok, err
}

// Delete implements Store.Delete.
func (s *CachedStore) Delete(ctx context.Context, name string) error {
	err := s.Store.Delete(ctx, name)
	s.invalidate(name)
	return err
}

// Get implements Getter.Get. Only found records are cached.
func (s *CachedStore) Get(ctx context.Context, name string) (Record, bool, error) {
	if err := ctxErr(ctx); err != nil {
		return Record{}, false, err
	}
	if v, ok := s.cache.Get(name); ok {
		if rec, ok := v.(Record); ok {
			return rec, true, nil
		}
	}
	rec, found, err := s.getter.Get(ctx, name)
	if err != nil || !found {
		return rec, found, err
	}
	s.cache.SetWithTTL(name, rec, 1, s.ttl)
	s.cache.Wait()
	return rec, true, nil
}

func (s *CachedStore) invalidate(name string) {
	s.cache.Del(name)
	s.cache.Wait()
}

// Close releases the cache. The wrapped store is left open.
func (s *CachedStore) Close() {
	s.cache.Close()
}
