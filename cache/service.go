package cache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/goliatone/go-application-cache/internal/cacheinfra"
)

type (
	// Entry is the persisted row as the store returns it.
	Entry = cacheinfra.Entry
	// Lookup is one point lookup of a bulk fetch.
	Lookup = cacheinfra.Lookup
	// SanitizedPattern selects rows by sanitized key.
	SanitizedPattern = cacheinfra.SanitizedPattern
)

// Store is the persistence the service needs. *cacheinfra.BunStore implements
// it; every method must be safe for concurrent use and every write must be
// atomic per key.
type Store interface {
	Fetch(ctx context.Context, key, version string, now time.Time) (Entry, bool, error)
	FetchMany(ctx context.Context, lookups []Lookup, now time.Time) (map[string]Entry, error)
	InsertIfAbsent(ctx context.Context, e Entry, now time.Time) (Entry, bool, error)
	Upsert(ctx context.Context, e Entry) (Entry, error)
	DeleteByID(ctx context.Context, id uuid.UUID) (int64, error)
	DeleteByKey(ctx context.Context, key string) (int64, error)
	DeleteByPattern(ctx context.Context, p SanitizedPattern) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Item is a cached value together with its row identity.
type Item[V any] struct {
	// ID identifies the stored row. It is uuid.Nil when the value was
	// computed but could not be persisted.
	ID        uuid.UUID
	Value     V
	ExpiresAt time.Time
}

// Pair is one write of a bulk SetKeys call.
type Pair[V any] struct {
	Key   KeyFor[V]
	Value V
}

// Service is the application cache. It is safe for concurrent use and holds
// no per-key state: the store decides which of two concurrent writers wins.
type Service struct {
	store      Store
	local      *cacheinfra.LocalTier
	serializer KeySerializer
	codec      CodecName
	policies   map[Discriminant]Policy
	logger     Logger
	now        func() time.Time
	tracer     trace.Tracer
	metrics    *instruments
}

// Option customizes a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	logger         Logger
	now            func() time.Time
	serializer     KeySerializer
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l Logger) Option {
	return func(o *serviceOptions) { o.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *serviceOptions) { o.now = now }
}

// WithKeySerializer replaces the default key serializer.
func WithKeySerializer(s KeySerializer) Option {
	return func(o *serviceOptions) { o.serializer = s }
}

// WithMeterProvider sets the provider for cache metrics. Defaults to the
// global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *serviceOptions) { o.meterProvider = mp }
}

// WithTracerProvider sets the provider for compute spans. Defaults to the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *serviceOptions) { o.tracerProvider = tp }
}

// NewService creates a cache over store.
func NewService(store Store, cfg Config, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("cache: nil store")
	}
	if cfg.Codec == "" {
		cfg.Codec = CodecJSON
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := serviceOptions{
		now:            time.Now,
		serializer:     NewDefaultKeySerializer(),
		meterProvider:  otel.GetMeterProvider(),
		tracerProvider: otel.GetTracerProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = defaultLogger()
	}

	m, err := newInstruments(o.meterProvider.Meter(instrumentationName))
	if err != nil {
		return nil, err
	}

	s := &Service{
		store:      store,
		serializer: o.serializer,
		codec:      cfg.Codec,
		policies:   mergePolicies(cfg.Policies),
		logger:     o.logger,
		now:        o.now,
		tracer:     o.tracerProvider.Tracer(instrumentationName),
		metrics:    m,
	}

	if cfg.LocalTier != nil {
		s.local, err = cacheinfra.NewLocalTier(cfg.LocalTier.toInternal())
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Policy returns the effective policy of d.
func (s *Service) Policy(d Discriminant) Policy {
	return s.policies[d]
}

// keyRef is a key resolved against the service configuration.
type keyRef struct {
	disc      Discriminant
	canonical string
	sanitized string
	policy    Policy
}

func (s *Service) resolve(key Key) keyRef {
	d := key.Discriminant()
	return keyRef{
		disc:      d,
		canonical: s.serializer.Canonical(key),
		sanitized: s.serializer.Sanitized(key),
		policy:    s.policies[d],
	}
}

// clock returns the current time in UTC. Stored timestamps are always UTC so
// they compare correctly under every dialect.
func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// tierEpoch snapshots the local tier's invalidation epoch ahead of a store
// call whose result will be remembered.
func (s *Service) tierEpoch() uint64 {
	if s.local == nil {
		return 0
	}
	return s.local.Epoch()
}

// remember keeps e in the local tier unless an expiry ran after epoch.
func (s *Service) remember(e Entry, epoch uint64) {
	if s.local != nil {
		s.local.PutIf(e, epoch)
	}
}

func (s *Service) lookup(ctx context.Context, ref keyRef, now time.Time) (Entry, bool, error) {
	if s.local != nil {
		if e, ok := s.local.Get(ref.canonical, ref.policy.Version, now); ok {
			return e, true, nil
		}
	}

	epoch := s.tierEpoch()
	e, ok, err := s.store.Fetch(ctx, ref.canonical, ref.policy.Version, now)
	if err != nil {
		return Entry{}, false, storeFailure(err, "fetch")
	}
	if ok {
		s.remember(e, epoch)
	}
	return e, ok, nil
}

func (s *Service) newEntry(ref keyRef, payload []byte, now time.Time) Entry {
	return Entry{
		ID:           uuid.New(),
		Key:          ref.canonical,
		SanitizedKey: ref.sanitized,
		Value:        payload,
		Version:      ref.policy.Version,
		ExpiresAt:    now.Add(ref.policy.TTL),
		CreatedAt:    now,
	}
}

// decodeItem turns a row into an item. An undecodable row is reported as a
// miss so the caller recomputes and the next write replaces it.
func decodeItem[V any](s *Service, ref keyRef, e Entry) (Item[V], bool) {
	v, err := decodeValue[V](e.Value, ref.disc)
	if err != nil {
		s.logger.Warn("discarding unreadable cache entry",
			"discriminant", ref.disc,
			"sanitized_key", ref.sanitized,
			"key_hash", Fingerprint(ref.canonical),
			"entry_id", e.ID,
			"error", err,
		)
		if s.local != nil {
			s.local.DeleteKey(ref.canonical)
		}
		return Item[V]{}, false
	}
	return Item[V]{ID: e.ID, Value: v, ExpiresAt: e.ExpiresAt}, true
}

// dropUnreadable deletes a row that failed to decode so the next write for
// its key is not blocked by it. Failures are only logged.
func (s *Service) dropUnreadable(ctx context.Context, ref keyRef, e Entry) {
	if _, err := s.store.DeleteByID(ctx, e.ID); err != nil {
		s.logger.Warn("failed to drop unreadable cache entry",
			"discriminant", ref.disc,
			"entry_id", e.ID,
			"error", err,
		)
	}
}

// GetValue returns the live value for key. A missing, expired, retired or
// unreadable entry is reported as found == false with a nil error.
func GetValue[V any](ctx context.Context, s *Service, key KeyFor[V]) (Item[V], bool, error) {
	ref := s.resolve(key)
	e, ok, err := s.lookup(ctx, ref, s.clock())
	if err != nil {
		return Item[V]{}, false, err
	}

	var item Item[V]
	if ok {
		if item, ok = decodeItem[V](s, ref, e); !ok {
			s.dropUnreadable(ctx, ref, e)
		}
	}
	s.metrics.lookup(ctx, ref.disc, ok)
	return item, ok, nil
}

// GetValues fetches several keys of one variant in a single round trip.
// The result is indexed by canonical key and holds only the keys that were
// found; absent keys are not errors.
func GetValues[V any](ctx context.Context, s *Service, keys ...KeyFor[V]) (map[string]Item[V], error) {
	out := make(map[string]Item[V], len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	now := s.clock()
	refs := make(map[string]keyRef, len(keys))
	lookups := make([]Lookup, 0, len(keys))
	for _, k := range keys {
		ref := s.resolve(k)
		if _, dup := refs[ref.canonical]; dup {
			continue
		}
		refs[ref.canonical] = ref
		if s.local != nil {
			if e, ok := s.local.Get(ref.canonical, ref.policy.Version, now); ok {
				if item, ok := decodeItem[V](s, ref, e); ok {
					out[ref.canonical] = item
					continue
				}
			}
		}
		lookups = append(lookups, Lookup{Key: ref.canonical, Version: ref.policy.Version})
	}

	if len(lookups) > 0 {
		epoch := s.tierEpoch()
		rows, err := s.store.FetchMany(ctx, lookups, now)
		if err != nil {
			return nil, storeFailure(err, "fetch many")
		}
		for key, e := range rows {
			ref, ok := refs[key]
			if !ok {
				continue
			}
			item, ok := decodeItem[V](s, ref, e)
			if !ok {
				s.dropUnreadable(ctx, ref, e)
				continue
			}
			out[key] = item
			s.remember(e, epoch)
		}
	}

	for key, ref := range refs {
		_, hit := out[key]
		s.metrics.lookup(ctx, ref.disc, hit)
	}
	return out, nil
}

// SetKey writes value under key unconditionally, replacing any previous
// entry. The returned item carries the new row id; ids of replaced rows no
// longer resolve.
func SetKey[V any](ctx context.Context, s *Service, key KeyFor[V], value V) (Item[V], error) {
	ref := s.resolve(key)
	payload, err := encodeValue(s.codec, ref.disc, value)
	if err != nil {
		return Item[V]{}, encodeFailure(err, ref.disc)
	}

	epoch := s.tierEpoch()
	stored, err := s.store.Upsert(ctx, s.newEntry(ref, payload, s.clock()))
	if err != nil {
		return Item[V]{}, storeFailure(err, "upsert")
	}
	s.remember(stored, epoch)

	s.logger.Debug("cache entry set",
		"discriminant", ref.disc,
		"key_hash", Fingerprint(ref.canonical),
		"entry_id", stored.ID,
	)
	return Item[V]{ID: stored.ID, Value: value, ExpiresAt: stored.ExpiresAt}, nil
}

// SetKeys writes each pair in order and stops at the first failure. Items
// written before the failure stay written.
func SetKeys[V any](ctx context.Context, s *Service, pairs ...Pair[V]) ([]Item[V], error) {
	items := make([]Item[V], 0, len(pairs))
	for _, p := range pairs {
		item, err := SetKey(ctx, s, p.Key, p.Value)
		if err != nil {
			return items, err
		}
		items = append(items, item)
	}
	return items, nil
}

// GetOrSetWithCallback returns the live value for key, computing and storing
// it on a miss. compute produces a raw result R and wrap lifts it into the
// cached value.
//
// Concurrent callers that miss together may each run compute, but exactly one
// result is persisted and every caller receives the persisted value. Errors
// from compute are returned unchanged and nothing is written.
func GetOrSetWithCallback[V, R any](
	ctx context.Context,
	s *Service,
	key KeyFor[V],
	wrap func(R) V,
	compute func(ctx context.Context) (R, error),
) (Item[V], error) {
	ref := s.resolve(key)
	e, ok, err := s.lookup(ctx, ref, s.clock())
	if err != nil {
		return Item[V]{}, err
	}
	if ok {
		if item, ok := decodeItem[V](s, ref, e); ok {
			s.metrics.lookup(ctx, ref.disc, true)
			return item, nil
		}
		s.dropUnreadable(ctx, ref, e)
	}
	s.metrics.lookup(ctx, ref.disc, false)

	raw, err := runCompute(ctx, s, ref, compute)
	if err != nil {
		return Item[V]{}, err
	}
	value := wrap(raw)

	// The caller gave up while we computed; don't persist on its behalf.
	if err := ctx.Err(); err != nil {
		return Item[V]{}, err
	}

	payload, err := encodeValue(s.codec, ref.disc, value)
	if err != nil {
		return Item[V]{}, encodeFailure(err, ref.disc)
	}

	now := s.clock()
	entry := s.newEntry(ref, payload, now)
	epoch := s.tierEpoch()
	stored, inserted, err := s.store.InsertIfAbsent(ctx, entry, now)
	switch {
	case errors.Is(err, cacheinfra.ErrInsertRace):
		s.logger.Warn("computed value not persisted",
			"discriminant", ref.disc,
			"key_hash", Fingerprint(ref.canonical),
		)
		return Item[V]{Value: value, ExpiresAt: entry.ExpiresAt}, nil
	case err != nil:
		return Item[V]{}, storeFailure(err, "insert")
	}

	s.remember(stored, epoch)
	if inserted {
		return Item[V]{ID: stored.ID, Value: value, ExpiresAt: stored.ExpiresAt}, nil
	}

	s.metrics.conflicts.Add(ctx, 1, discAttr(ref.disc))
	s.logger.Debug("lost insert race, serving winner",
		"discriminant", ref.disc,
		"key_hash", Fingerprint(ref.canonical),
		"entry_id", stored.ID,
	)
	if item, ok := decodeItem[V](s, ref, stored); ok {
		return item, nil
	}
	return Item[V]{Value: value, ExpiresAt: entry.ExpiresAt}, nil
}

// GetOrCompute is GetOrSetWithCallback for a compute that already returns
// the cached value type.
func GetOrCompute[V any](
	ctx context.Context,
	s *Service,
	key KeyFor[V],
	compute func(ctx context.Context) (V, error),
) (Item[V], error) {
	return GetOrSetWithCallback(ctx, s, key, func(v V) V { return v }, compute)
}

func runCompute[R any](ctx context.Context, s *Service, ref keyRef, compute func(context.Context) (R, error)) (R, error) {
	ctx, span := s.tracer.Start(ctx, "app_cache.compute",
		trace.WithAttributes(
			attribute.String("cache.discriminant", string(ref.disc)),
			attribute.String("cache.key_hash", Fingerprint(ref.canonical)),
		))
	defer span.End()

	s.metrics.computes.Add(ctx, 1, discAttr(ref.disc))
	start := time.Now()
	raw, err := compute(ctx)
	s.metrics.computeTime.Record(ctx, time.Since(start).Seconds(), discAttr(ref.disc))

	if err != nil {
		s.metrics.computeErrors.Add(ctx, 1, discAttr(ref.disc))
		span.RecordError(err)
		span.SetStatus(codes.Error, "compute failed")
	}
	return raw, err
}
