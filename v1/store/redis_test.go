package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	leaseerrors "github.com/mirkobrombin/go-lease/v1/errors"
)

// newRedisStoreWithServer returns a Redis-backed store along with the
// underlying miniredis server and client for tests that need to manipulate
// the server state.
func newRedisStoreWithServer(t *testing.T) (*RedisStore, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return NewRedisStore(client), mr, client
}

func TestRedisStoreContract(t *testing.T) {
	s, _, _ := newRedisStoreWithServer(t)
	testStoreContract(t, s)
}

func TestRedisStoreKeyExpiresWithLease(t *testing.T) {
	s, mr, _ := newRedisStoreWithServer(t)
	ctx := context.Background()
	now := time.Now()
	if _, ok, err := s.TryLock(ctx, "job", now.Add(2*time.Second), now); err != nil || !ok {
		t.Fatalf("trylock: ok %v err %v", ok, err)
	}
	if !mr.Exists(s.Key("job")) {
		t.Fatalf("expected key %q", s.Key("job"))
	}
	if ttl := mr.TTL(s.Key("job")); ttl <= 0 || ttl > 2*time.Second {
		t.Fatalf("unexpected ttl %v", ttl)
	}
	mr.FastForward(3 * time.Second)
	if mr.Exists(s.Key("job")) {
		t.Fatalf("key survived its lease")
	}
	if _, found, err := s.Get(ctx, "job"); err != nil || found {
		t.Fatalf("expected record to be gone, found %v err %v", found, err)
	}
}

func TestRedisStoreKeyPrefix(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewRedisStore(client, WithKeyPrefix("app:locks:"))
	now := time.Now()
	if _, ok, err := s.TryLock(context.Background(), "k", now.Add(time.Second), now); err != nil || !ok {
		t.Fatalf("trylock: ok %v err %v", ok, err)
	}
	if !mr.Exists("app:locks:k") {
		t.Fatalf("prefix not applied")
	}
}

func TestRedisStoreSentinelErrors(t *testing.T) {
	t.Run("connection closed", func(t *testing.T) {
		s, _, client := newRedisStoreWithServer(t)
		_ = client.Close()
		now := time.Now()
		if _, _, err := s.TryLock(context.Background(), "k", now.Add(time.Second), now); !errors.Is(err, leaseerrors.ErrConnectionClosed) {
			t.Fatalf("expected connection closed, got %v", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		s, _, _ := newRedisStoreWithServer(t)
		tCtx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
		defer cancel()
		time.Sleep(time.Millisecond)
		if err := s.Delete(tCtx, "k"); !errors.Is(err, leaseerrors.ErrTimeout) {
			t.Fatalf("expected timeout, got %v", err)
		}
	})

	t.Run("server down", func(t *testing.T) {
		s, mr, _ := newRedisStoreWithServer(t)
		mr.Close()
		now := time.Now()
		if _, _, err := s.Relock(context.Background(), "k", now, now.Add(time.Second), now); err == nil {
			t.Fatalf("expected error with server down")
		}
	})
}
