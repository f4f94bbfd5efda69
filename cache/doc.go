// Package cache provides a persisted, typed, TTL-bound application cache that
// sits in front of expensive or rate-limited computations.
//
// # Overview
//
// Every cacheable computation is one variant of a closed taxonomy. A variant
// pairs a key type with exactly one value type:
//
//	CollectionRecommendationsKey{CollectionID: "c1"}  ->  CollectionRecommendationIDs
//	UserTwoFactorSetupKey{UserID: "u1"}               ->  TwoFactorSetup
//
// Keys implement KeyFor[V] for their value type, so writing the wrong value
// type under a key does not compile.
//
// # Basic Usage
//
// Build one *Service per process and pass it to the code that needs it:
//
//	svc, err := cache.NewService(cacheinfra.NewBunStore(db), cache.DefaultConfig())
//
//	item, err := cache.GetOrCompute(ctx, svc, cache.TrendingMetadataIDsKey{},
//		func(ctx context.Context) (cache.TrendingIDs, error) {
//			return provider.Trending(ctx)
//		})
//
// GetOrSetWithCallback does the same for a compute whose raw result still has
// to be wrapped into the cached value type.
//
// # Keys
//
// Each key has two persisted forms. The canonical form identifies the entry
// and holds every parameter; the sanitized form keeps only the discriminant
// and the owning user, and is what ExpireKey patterns match:
//
//	youtube_music_song_listened::"u1"::"s1"::2024-05-01   canonical
//	youtube_music_song_listened::u1                       sanitized
//
// # Concurrency
//
// Callers that miss the same key at the same time may all run their compute,
// but the store persists exactly one result and all of them receive it. There
// is no in-process locking; the unique key column arbitrates.
//
// # Expiry and invalidation
//
// Entries expire after their variant's TTL and are never served afterwards.
// ExpireKey removes entries explicitly, by row id, by key, by variant (optionally
// for one user) or by user across variants. Sweep reclaims expired rows.
//
// # Errors
//
// A miss is not an error. Compute errors are returned unchanged and nothing is
// written. Store errors carry the CACHE_STORE_UNAVAILABLE text code; test with
// IsStoreFailure.
package cache
