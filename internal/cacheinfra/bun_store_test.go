package cacheinfra_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-application-cache/internal/cacheinfra"
	"github.com/goliatone/go-application-cache/pkg/testsupport"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newEntry(key, sanitized, version string, ttl time.Duration) cacheinfra.Entry {
	return cacheinfra.Entry{
		ID:           uuid.New(),
		Key:          key,
		SanitizedKey: sanitized,
		Value:        []byte(key),
		Version:      version,
		ExpiresAt:    testNow.Add(ttl),
		CreatedAt:    testNow,
	}
}

func newStore(t *testing.T) *cacheinfra.BunStore {
	t.Helper()
	return cacheinfra.NewBunStore(testsupport.OpenDB(t))
}

func TestBunStore_InsertIfAbsent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	first := newEntry("k", "d", "", time.Hour)
	got, inserted, err := store.InsertIfAbsent(ctx, first, testNow)
	if err != nil {
		t.Fatalf("InsertIfAbsent: %v", err)
	}
	if !inserted || got.ID != first.ID {
		t.Fatalf("expected first insert to win, inserted=%v id=%v", inserted, got.ID)
	}

	second := newEntry("k", "d", "", time.Hour)
	got, inserted, err = store.InsertIfAbsent(ctx, second, testNow)
	if err != nil {
		t.Fatalf("InsertIfAbsent: %v", err)
	}
	if inserted {
		t.Fatal("second insert for a live key should not win")
	}
	if got.ID != first.ID {
		t.Errorf("expected existing row %v, got %v", first.ID, got.ID)
	}
}

func TestBunStore_InsertIfAbsentReplacesStaleRows(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	tests := []struct {
		name     string
		existing cacheinfra.Entry
		version  string
	}{
		{name: "expired", existing: newEntry("k", "d", "", -time.Minute), version: ""},
		{name: "other version", existing: newEntry("k", "d", "v1", time.Hour), version: "v2"},
		{name: "unversioned row, versioned writer", existing: newEntry("k", "d", "", time.Hour), version: "v1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := store.DeleteByKey(ctx, "k"); err != nil {
				t.Fatalf("reset: %v", err)
			}
			if _, err := store.Upsert(ctx, tt.existing); err != nil {
				t.Fatalf("seed: %v", err)
			}

			fresh := newEntry("k", "d", tt.version, time.Hour)
			got, inserted, err := store.InsertIfAbsent(ctx, fresh, testNow)
			if err != nil {
				t.Fatalf("InsertIfAbsent: %v", err)
			}
			if !inserted || got.ID != fresh.ID {
				t.Errorf("stale row blocked the insert: inserted=%v id=%v", inserted, got.ID)
			}
		})
	}
}

func TestBunStore_ConcurrentInsertSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	const writers = 8
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[uuid.UUID]int{}
		won int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, inserted, err := store.InsertIfAbsent(ctx, newEntry("race", "d", "", time.Hour), testNow)
			if err != nil {
				t.Errorf("InsertIfAbsent: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[got.ID]++
			if inserted {
				won++
			}
		}()
	}
	wg.Wait()

	if won != 1 {
		t.Errorf("expected exactly one winner, got %d", won)
	}
	if len(ids) != 1 {
		t.Errorf("writers observed %d different rows", len(ids))
	}
}

func TestBunStore_FetchFiltersExpiredAndVersion(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	if _, err := store.Upsert(ctx, newEntry("live", "d", "v1", time.Hour)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := store.Upsert(ctx, newEntry("old", "d", "v1", -time.Second)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, ok, err := store.Fetch(ctx, "live", "v1", testNow); err != nil || !ok {
		t.Errorf("expected live hit, ok=%v err=%v", ok, err)
	}
	if _, ok, _ := store.Fetch(ctx, "live", "", testNow); ok {
		t.Error("versioned row served to unversioned reader")
	}
	if _, ok, _ := store.Fetch(ctx, "old", "v1", testNow); ok {
		t.Error("expired row served")
	}
	if _, ok, _ := store.Fetch(ctx, "live", "v1", testNow.Add(2*time.Hour)); ok {
		t.Error("row served after its expiry")
	}
}

func TestBunStore_FetchMany(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	for _, e := range []cacheinfra.Entry{
		newEntry("a", "d", "", time.Hour),
		newEntry("b", "d", "", time.Hour),
		newEntry("c", "d", "", -time.Hour),
		newEntry("unrelated", "d", "", time.Hour),
	} {
		if _, err := store.Upsert(ctx, e); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	got, err := store.FetchMany(ctx, []cacheinfra.Lookup{{Key: "a"}, {Key: "b"}, {Key: "c"}, {Key: "missing"}}, testNow)
	if err != nil {
		t.Fatalf("FetchMany: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d: %v", len(got), got)
	}
	for _, k := range []string{"a", "b"} {
		if _, ok := got[k]; !ok {
			t.Errorf("missing %s", k)
		}
	}

	empty, err := store.FetchMany(ctx, nil, testNow)
	if err != nil || len(empty) != 0 {
		t.Errorf("empty lookup: got %v, %v", empty, err)
	}
}

func TestBunStore_UpsertReplacesID(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	first := newEntry("k", "d", "", time.Hour)
	second := newEntry("k", "d", "", 2*time.Hour)
	if _, err := store.Upsert(ctx, first); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := store.Upsert(ctx, second); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, ok, err := store.Fetch(ctx, "k", "", testNow)
	if err != nil || !ok {
		t.Fatalf("Fetch: ok=%v err=%v", ok, err)
	}
	if got.ID != second.ID {
		t.Errorf("expected id %v, got %v", second.ID, got.ID)
	}

	n, err := store.DeleteByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("DeleteByID: %v", err)
	}
	if n != 0 {
		t.Errorf("replaced id still removed %d rows", n)
	}
}

func TestBunStore_DeleteByPattern(t *testing.T) {
	ctx := context.Background()

	seed := []cacheinfra.Entry{
		newEntry("l1", "list::u1", "", time.Hour),
		newEntry("l10", "list::u10", "", time.Hour),
		newEntry("s1", "sets::u1", "", time.Hour),
		newEntry("t", "trending", "", time.Hour),
		newEntry("p", "list_100%::u1", "", time.Hour),
	}

	tests := []struct {
		name    string
		pattern cacheinfra.SanitizedPattern
		removed []string
	}{
		{name: "discriminant and scope", pattern: cacheinfra.SanitizedPattern{Discriminant: "list", Scope: "u1"}, removed: []string{"l1"}},
		{name: "discriminant only", pattern: cacheinfra.SanitizedPattern{Discriminant: "list"}, removed: []string{"l1", "l10"}},
		{name: "scope only", pattern: cacheinfra.SanitizedPattern{Scope: "u1"}, removed: []string{"l1", "s1", "p"}},
		{name: "wildcards are literal", pattern: cacheinfra.SanitizedPattern{Discriminant: "list_100%"}, removed: []string{"p"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			for _, e := range seed {
				if _, err := store.Upsert(ctx, e); err != nil {
					t.Fatalf("seed: %v", err)
				}
			}

			n, err := store.DeleteByPattern(ctx, tt.pattern)
			if err != nil {
				t.Fatalf("DeleteByPattern: %v", err)
			}
			if int(n) != len(tt.removed) {
				t.Errorf("removed %d rows, want %d", n, len(tt.removed))
			}

			gone := map[string]bool{}
			for _, k := range tt.removed {
				gone[k] = true
			}
			for _, e := range seed {
				_, ok, err := store.Fetch(ctx, e.Key, "", testNow)
				if err != nil {
					t.Fatalf("Fetch: %v", err)
				}
				if ok == gone[e.Key] {
					t.Errorf("%s present=%v after delete", e.Key, ok)
				}
			}
		})
	}

	t.Run("empty pattern rejected", func(t *testing.T) {
		if _, err := newStore(t).DeleteByPattern(ctx, cacheinfra.SanitizedPattern{}); err == nil {
			t.Error("expected error for empty pattern")
		}
	})
}

func TestBunStore_DeleteExpiredFindCount(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	for _, e := range []cacheinfra.Entry{
		newEntry("a", "list::u1", "", time.Hour),
		newEntry("b", "list::u2", "", -time.Hour),
		newEntry("c", "sets::u1", "", -time.Minute),
	} {
		if _, err := store.Upsert(ctx, e); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	counts, err := store.Count(ctx, cacheinfra.SanitizedPattern{}, testNow)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if counts.Live != 1 || counts.Expired != 2 {
		t.Errorf("unexpected counts %+v", counts)
	}

	found, err := store.Find(ctx, cacheinfra.Filter{Match: "list", IncludeExpired: true, Now: testNow})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(found) != 2 {
		t.Errorf("expected 2 list rows, got %d", len(found))
	}

	n, err := store.DeleteExpired(ctx, testNow)
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 expired rows removed, got %d", n)
	}

	counts, err = store.Count(ctx, cacheinfra.SanitizedPattern{Discriminant: "list"}, testNow)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if counts.Live != 1 || counts.Expired != 0 {
		t.Errorf("unexpected counts after sweep %+v", counts)
	}
}
