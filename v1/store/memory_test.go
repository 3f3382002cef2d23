package store

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryStoreContract(t *testing.T) {
	testStoreContract(t, NewInMemoryStore())
}

func TestInMemoryStorePassiveExpiry(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	now := time.Now()
	if _, ok, err := s.TryLock(ctx, "k", now.Add(10*time.Millisecond), now); err != nil || !ok {
		t.Fatalf("trylock: ok %v err %v", ok, err)
	}
	if s.Len() != 1 {
		t.Fatalf("expected one record, got %d", s.Len())
	}
	time.Sleep(50 * time.Millisecond)
	if s.Len() != 0 {
		t.Fatalf("expired record was not collected")
	}
}

func TestInMemoryStoreRelockPostponesExpiry(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	now := time.Now()
	rec, ok, err := s.TryLock(ctx, "k", now.Add(20*time.Millisecond), now)
	if err != nil || !ok {
		t.Fatalf("trylock: ok %v err %v", ok, err)
	}
	if _, ok, err := s.Relock(ctx, "k", rec.ExpiresAt, now.Add(time.Minute), now); err != nil || !ok {
		t.Fatalf("relock: ok %v err %v", ok, err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, found, _ := s.Get(ctx, "k"); !found {
		t.Fatalf("renewed record was collected")
	}
}

func TestInMemoryStoreCanceledContext(t *testing.T) {
	s := NewInMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := s.TryLock(ctx, "k", time.Now().Add(time.Second), time.Now()); err == nil {
		t.Fatalf("expected error on canceled context")
	}
}

func TestInMemoryStoreExpiryFollowsWriterClock(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	// the writer's clock lags the wall clock by an hour
	lagging := time.Now().Add(-time.Hour)
	if _, ok, err := s.TryLock(ctx, "k", lagging.Add(time.Minute), lagging); err != nil || !ok {
		t.Fatalf("trylock: ok %v err %v", ok, err)
	}
	time.Sleep(20 * time.Millisecond)
	if s.Len() != 1 {
		t.Fatal("record live by the writer's clock was collected")
	}

	ahead := time.Now().Add(time.Hour)
	if _, ok, err := s.TryLock(ctx, "j", ahead.Add(10*time.Millisecond), ahead); err != nil || !ok {
		t.Fatalf("trylock: ok %v err %v", ok, err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, found, _ := s.Get(ctx, "j"); found {
		t.Fatal("record expired by the writer's clock was not collected")
	}
}
