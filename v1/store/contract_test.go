package store

import (
	"context"
	"testing"
	"time"
)

// testStoreContract exercises the conditional operations every backend must
// provide. Times are synthetic so that no sleeping is required.
func testStoreContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	base := Millis(time.Now())

	t.Run("trylock inserts", func(t *testing.T) {
		rec, ok, err := s.TryLock(ctx, "a", base.Add(time.Minute), base)
		if err != nil || !ok {
			t.Fatalf("trylock: ok %v err %v", ok, err)
		}
		if rec.Name != "a" || !rec.ExpiresAt.Equal(base.Add(time.Minute)) {
			t.Fatalf("unexpected record %+v", rec)
		}
		if !rec.CreatedAt.Equal(base) || !rec.UpdatedAt.Equal(base) {
			t.Fatalf("unexpected timestamps %+v", rec)
		}
	})

	t.Run("trylock contended", func(t *testing.T) {
		later := base.Add(30 * time.Second)
		if _, ok, err := s.TryLock(ctx, "a", later.Add(time.Minute), later); err != nil || ok {
			t.Fatalf("expected live record to block, ok %v err %v", ok, err)
		}
	})

	t.Run("trylock revives expired record", func(t *testing.T) {
		later := base.Add(2 * time.Minute)
		rec, ok, err := s.TryLock(ctx, "a", later.Add(time.Minute), later)
		if err != nil || !ok {
			t.Fatalf("expected expired record to be taken over, ok %v err %v", ok, err)
		}
		if !rec.CreatedAt.Equal(base) {
			t.Fatalf("created_at changed on revive: %v", rec.CreatedAt)
		}
		if !rec.UpdatedAt.Equal(later) {
			t.Fatalf("updated_at not refreshed: %v", rec.UpdatedAt)
		}
	})

	t.Run("relock fenced", func(t *testing.T) {
		_, ok, err := s.TryLock(ctx, "b", base.Add(time.Minute), base)
		if err != nil || !ok {
			t.Fatalf("trylock: ok %v err %v", ok, err)
		}
		now := base.Add(10 * time.Second)
		rec, ok, err := s.Relock(ctx, "b", base.Add(time.Minute), now.Add(time.Minute), now)
		if err != nil || !ok {
			t.Fatalf("relock: ok %v err %v", ok, err)
		}
		if !rec.ExpiresAt.Equal(now.Add(time.Minute)) || !rec.UpdatedAt.Equal(now) {
			t.Fatalf("unexpected record after relock %+v", rec)
		}
		// stale expected value must not match nor mutate
		if _, ok, err := s.Relock(ctx, "b", base.Add(time.Minute), now.Add(2*time.Minute), now); err != nil || ok {
			t.Fatalf("expected stale relock to fail, ok %v err %v", ok, err)
		}
		if g, isGetter := s.(Getter); isGetter {
			cur, found, err := g.Get(ctx, "b")
			if err != nil || !found {
				t.Fatalf("get: found %v err %v", found, err)
			}
			if !cur.ExpiresAt.Equal(now.Add(time.Minute)) {
				t.Fatalf("stale relock mutated record: %v", cur.ExpiresAt)
			}
		}
	})

	t.Run("relock missing", func(t *testing.T) {
		if _, ok, err := s.Relock(ctx, "missing", base, base.Add(time.Minute), base); err != nil || ok {
			t.Fatalf("expected relock on missing record to fail, ok %v err %v", ok, err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := s.Delete(ctx, "b"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if err := s.Delete(ctx, "b"); err != nil {
			t.Fatalf("delete missing: %v", err)
		}
		if _, ok, err := s.TryLock(ctx, "b", base.Add(time.Minute), base); err != nil || !ok {
			t.Fatalf("expected trylock after delete, ok %v err %v", ok, err)
		}
	})
}
