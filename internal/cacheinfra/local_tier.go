package cacheinfra

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/viccon/sturdyc"
)

// LocalTierConfig holds the configuration for the in-process read tier.
// It encapsulates the core sturdyc options needed for cache initialization.
type LocalTierConfig struct {
	// Capacity defines the maximum number of entries that the tier can store.
	// Must be greater than 0.
	Capacity int

	// NumShards determines the number of cache shards for concurrent access.
	// Must be greater than 0. Default: 64
	NumShards int

	// TTL bounds how long another process's invalidation can go unnoticed
	// here. Entries also never outlive their own expires_at.
	// Must be greater than 0.
	TTL time.Duration

	// EvictionPercentage specifies what percentage of entries to evict
	// when the tier reaches its capacity. Must be between 1-100.
	EvictionPercentage int

	// EvictionInterval sets how often the tier checks for expired entries.
	// Zero value uses the default interval.
	EvictionInterval time.Duration
}

// DefaultLocalTierConfig returns a LocalTierConfig with sensible defaults.
func DefaultLocalTierConfig() LocalTierConfig {
	return LocalTierConfig{
		Capacity:           5000,
		NumShards:          64,
		TTL:                10 * time.Second,
		EvictionPercentage: 10,
	}
}

// ToSturdycOptions converts the config to sturdyc options. Capacity,
// NumShards, TTL and EvictionPercentage go to sturdyc.New directly.
func (c LocalTierConfig) ToSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option
	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}
	return options
}

// Validate checks if the configuration values are valid.
func (c LocalTierConfig) Validate() error {
	if c.Capacity <= 0 {
		return &ConfigError{Field: "Capacity", Message: "must be greater than 0"}
	}

	if c.NumShards <= 0 {
		return &ConfigError{Field: "NumShards", Message: "must be greater than 0"}
	}

	if c.TTL <= 0 {
		return &ConfigError{Field: "TTL", Message: "must be greater than 0"}
	}

	if c.EvictionPercentage < 1 || c.EvictionPercentage > 100 {
		return &ConfigError{Field: "EvictionPercentage", Message: "must be between 1 and 100"}
	}

	if c.EvictionInterval < 0 {
		return &ConfigError{Field: "EvictionInterval", Message: "must be non-negative"}
	}

	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

// LocalTier keeps recently read rows in process memory, keyed by canonical
// key. It is a read accelerator only: every write still goes to the store,
// and the store stays the arbiter of which row wins a key.
//
// Every delete advances an invalidation epoch. A caller that read the store
// under an older epoch must use PutIf, so a row deleted while the read was in
// flight is never brought back into memory.
type LocalTier struct {
	client *sturdyc.Client[Entry]
	ids    *xsync.MapOf[uuid.UUID, string]
	limit  int

	mu    sync.Mutex
	epoch uint64
}

// NewLocalTier creates a sturdyc backed tier.
func NewLocalTier(cfg LocalTierConfig) (*LocalTier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := sturdyc.New[Entry](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
		cfg.ToSturdycOptions()...,
	)

	return &LocalTier{
		client: client,
		ids:    xsync.NewMapOf[uuid.UUID, string](),
		limit:  cfg.Capacity * 2,
	}, nil
}

// Get returns the row for key when it is still live for version.
func (l *LocalTier) Get(key, version string, now time.Time) (Entry, bool) {
	e, ok := l.client.Get(key)
	if !ok {
		return Entry{}, false
	}
	if !e.Live(version, now) {
		l.forget(e)
		return Entry{}, false
	}
	return e, true
}

// Epoch returns the current invalidation epoch. Read it before going to the
// store and hand it back to PutIf.
func (l *LocalTier) Epoch() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.epoch
}

// Put records e as the row currently owning its key.
func (l *LocalTier) Put(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.put(e)
}

// PutIf records e only when no delete happened since epoch was read. It
// reports whether e was kept.
func (l *LocalTier) PutIf(e Entry, epoch uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.epoch != epoch {
		return false
	}
	l.put(e)
	return true
}

func (l *LocalTier) put(e Entry) {
	if prev, ok := l.client.Get(e.Key); ok && prev.ID != e.ID {
		l.ids.Delete(prev.ID)
	}
	l.client.Set(e.Key, e)
	l.ids.Store(e.ID, e.Key)

	if l.ids.Size() > l.limit {
		l.prune()
	}
}

// DeleteKey removes a single entry from the tier.
func (l *LocalTier) DeleteKey(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.epoch++

	if e, ok := l.client.Get(key); ok {
		l.ids.Delete(e.ID)
	}
	l.client.Delete(key)
}

// DeleteID removes the entry with id, if the tier still holds it.
func (l *LocalTier) DeleteID(id uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.epoch++

	key, ok := l.ids.LoadAndDelete(id)
	if !ok {
		return
	}
	if e, ok := l.client.Get(key); ok && e.ID == id {
		l.client.Delete(key)
	}
}

// DeleteMatching removes every entry whose sanitized key matches p.
func (l *LocalTier) DeleteMatching(p SanitizedPattern) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.epoch++

	for _, key := range l.client.ScanKeys() {
		if e, ok := l.client.Get(key); ok && p.Matches(e.SanitizedKey) {
			l.forget(e)
		}
	}
}

// Size returns the number of entries held in memory.
func (l *LocalTier) Size() int {
	return l.client.Size()
}

func (l *LocalTier) forget(e Entry) {
	l.ids.Delete(e.ID)
	l.client.Delete(e.Key)
}

// prune drops id index entries whose rows sturdyc has evicted on its own.
func (l *LocalTier) prune() {
	l.ids.Range(func(id uuid.UUID, key string) bool {
		if e, ok := l.client.Get(key); !ok || e.ID != id {
			l.ids.Delete(id)
		}
		return true
	})
}
