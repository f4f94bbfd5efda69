package cacheinfra

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestDefaultLocalTierConfig(t *testing.T) {
	cfg := DefaultLocalTierConfig()

	if cfg.Capacity != 5000 {
		t.Errorf("expected Capacity to be 5000, got %d", cfg.Capacity)
	}
	if cfg.NumShards != 64 {
		t.Errorf("expected NumShards to be 64, got %d", cfg.NumShards)
	}
	if cfg.TTL != 10*time.Second {
		t.Errorf("expected TTL to be 10 seconds, got %v", cfg.TTL)
	}
	if cfg.EvictionPercentage != 10 {
		t.Errorf("expected EvictionPercentage to be 10, got %d", cfg.EvictionPercentage)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestLocalTierConfig_Validate(t *testing.T) {
	valid := DefaultLocalTierConfig()

	tests := []struct {
		name      string
		mutate    func(*LocalTierConfig)
		wantField string
	}{
		{name: "valid", mutate: func(*LocalTierConfig) {}},
		{name: "zero capacity", mutate: func(c *LocalTierConfig) { c.Capacity = 0 }, wantField: "Capacity"},
		{name: "zero shards", mutate: func(c *LocalTierConfig) { c.NumShards = 0 }, wantField: "NumShards"},
		{name: "zero ttl", mutate: func(c *LocalTierConfig) { c.TTL = 0 }, wantField: "TTL"},
		{name: "eviction below range", mutate: func(c *LocalTierConfig) { c.EvictionPercentage = 0 }, wantField: "EvictionPercentage"},
		{name: "eviction above range", mutate: func(c *LocalTierConfig) { c.EvictionPercentage = 101 }, wantField: "EvictionPercentage"},
		{name: "negative interval", mutate: func(c *LocalTierConfig) { c.EvictionInterval = -time.Second }, wantField: "EvictionInterval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()

			if tt.wantField == "" {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}

			cfgErr, ok := err.(*ConfigError)
			if !ok {
				t.Fatalf("expected *ConfigError, got %T (%v)", err, err)
			}
			if cfgErr.Field != tt.wantField {
				t.Errorf("expected field %s, got %s", tt.wantField, cfgErr.Field)
			}
			if !strings.Contains(err.Error(), tt.wantField) {
				t.Errorf("error %q does not name the field", err.Error())
			}
		})
	}
}

func newTestTier(t *testing.T) *LocalTier {
	t.Helper()
	tier, err := NewLocalTier(LocalTierConfig{
		Capacity:           100,
		NumShards:          4,
		TTL:                time.Minute,
		EvictionPercentage: 10,
	})
	if err != nil {
		t.Fatalf("NewLocalTier: %v", err)
	}
	return tier
}

func tierEntry(key, sanitized, version string, expires time.Time) Entry {
	return Entry{
		ID:           uuid.New(),
		Key:          key,
		SanitizedKey: sanitized,
		Value:        []byte("v"),
		Version:      version,
		ExpiresAt:    expires,
	}
}

func TestLocalTier_GetHonoursExpiryAndVersion(t *testing.T) {
	tier := newTestTier(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tier.Put(tierEntry("k1", "d::u1", "v1", now.Add(time.Hour)))

	if _, ok := tier.Get("k1", "v1", now); !ok {
		t.Fatal("expected hit for live entry")
	}
	if _, ok := tier.Get("k1", "v2", now); ok {
		t.Error("entry written under v1 served to a v2 reader")
	}
	if _, ok := tier.Get("k1", "v1", now); ok {
		t.Error("version mismatch should have dropped the entry")
	}

	tier.Put(tierEntry("k2", "d::u1", "", now.Add(time.Minute)))
	if _, ok := tier.Get("k2", "", now.Add(2*time.Minute)); ok {
		t.Error("expired entry served")
	}
}

func TestLocalTier_PutIfAfterDelete(t *testing.T) {
	now := time.Now().UTC()
	exp := now.Add(time.Hour)

	deletes := map[string]func(*LocalTier, Entry){
		"by key":     func(l *LocalTier, e Entry) { l.DeleteKey(e.Key) },
		"by id":      func(l *LocalTier, e Entry) { l.DeleteID(e.ID) },
		"by pattern": func(l *LocalTier, e Entry) { l.DeleteMatching(SanitizedPattern{Scope: "u1"}) },
	}

	for name, del := range deletes {
		t.Run(name, func(t *testing.T) {
			tier := newTestTier(t)
			e := tierEntry("k1", "d::u1", "", exp)

			epoch := tier.Epoch()
			del(tier, e)
			if tier.PutIf(e, epoch) {
				t.Fatal("entry read before a delete was kept")
			}
			if _, ok := tier.Get("k1", "", now); ok {
				t.Fatal("stale entry served after delete")
			}

			if !tier.PutIf(e, tier.Epoch()) {
				t.Error("entry read after the delete was refused")
			}
			if _, ok := tier.Get("k1", "", now); !ok {
				t.Error("expected hit after a fresh PutIf")
			}
		})
	}
}

func TestLocalTier_PutReplacesAndDeleteID(t *testing.T) {
	tier := newTestTier(t)
	now := time.Now().UTC()

	first := tierEntry("k1", "d", "", now.Add(time.Hour))
	second := tierEntry("k1", "d", "", now.Add(time.Hour))
	tier.Put(first)
	tier.Put(second)

	tier.DeleteID(first.ID)
	got, ok := tier.Get("k1", "", now)
	if !ok || got.ID != second.ID {
		t.Fatalf("deleting a replaced id removed the current entry: ok=%v id=%v", ok, got.ID)
	}

	tier.DeleteID(second.ID)
	if _, ok := tier.Get("k1", "", now); ok {
		t.Error("entry still present after DeleteID")
	}
}

func TestLocalTier_DeleteMatching(t *testing.T) {
	tier := newTestTier(t)
	now := time.Now().UTC()
	exp := now.Add(time.Hour)

	tier.Put(tierEntry("a1", "list::u1", "", exp))
	tier.Put(tierEntry("a2", "list::u10", "", exp))
	tier.Put(tierEntry("b1", "sets::u1", "", exp))
	tier.Put(tierEntry("c1", "trending", "", exp))

	tier.DeleteMatching(SanitizedPattern{Scope: "u1"})

	for key, want := range map[string]bool{"a1": false, "a2": true, "b1": false, "c1": true} {
		if _, ok := tier.Get(key, "", now); ok != want {
			t.Errorf("%s present = %v, want %v", key, ok, want)
		}
	}

	tier.DeleteKey("c1")
	if tier.Size() != 1 {
		t.Errorf("expected 1 entry left, got %d", tier.Size())
	}
}

func TestSanitizedPattern_Matches(t *testing.T) {
	tests := []struct {
		pattern   SanitizedPattern
		sanitized string
		want      bool
	}{
		{SanitizedPattern{Discriminant: "list"}, "list", true},
		{SanitizedPattern{Discriminant: "list"}, "list::u1", true},
		{SanitizedPattern{Discriminant: "list"}, "listing::u1", false},
		{SanitizedPattern{Discriminant: "list", Scope: "u1"}, "list::u1", true},
		{SanitizedPattern{Discriminant: "list", Scope: "u1"}, "list::u10", false},
		{SanitizedPattern{Discriminant: "list", Scope: "u1"}, "sets::u1", false},
		{SanitizedPattern{Scope: "u1"}, "sets::u1", true},
		{SanitizedPattern{Scope: "u1"}, "u1", false},
		{SanitizedPattern{Scope: "a"}, "list::a%3A%3Ab", false},
		{SanitizedPattern{Scope: "a::b"}, "list::a%3A%3Ab", true},
		{SanitizedPattern{Discriminant: "list", Scope: "a::b"}, "list::a%3A%3Ab", true},
		{SanitizedPattern{}, "list::u1", false},
	}

	for _, tt := range tests {
		if got := tt.pattern.Matches(tt.sanitized); got != tt.want {
			t.Errorf("%+v.Matches(%q) = %v, want %v", tt.pattern, tt.sanitized, got, tt.want)
		}
	}
}
