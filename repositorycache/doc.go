// Package repositorycache provides an invalidating repository decorator for
// go-repository-bun.
//
// # Overview
//
// The application cache holds values derived from domain records: a
// collection's recommendations, a user's metadata lists. When the records
// change those values must go. InvalidatingRepository wraps a base repository
// and, after every successful write, expires the cache entries its rules
// derive from the written records.
//
// # Basic Usage
//
//	members := repositorycache.New[*CollectionMember](base, svc,
//		repositorycache.WithRules(func(m *CollectionMember) []cache.ExpireTarget {
//			return []cache.ExpireTarget{
//				cache.ByKey(cache.CollectionRecommendationsKey{CollectionID: m.CollectionID}),
//				cache.BySanitizedKey(cache.UserCollectionsList, m.UserID),
//			}
//		}),
//		repositorycache.WithBulkTargets[*CollectionMember](
//			cache.BySanitizedKey(cache.CollectionRecommendations, ""),
//		),
//	)
//
// Reads and Raw queries pass straight through. Writes that only take criteria
// (DeleteMany, DeleteWhere) never see the affected records and expire the bulk
// targets instead.
//
// Callers can attach one-off targets to a single write:
//
//	ctx = repositorycache.WithExpireTargets(ctx, cache.ByUser(userID))
//	_, err := members.Update(ctx, member)
//
// # Transaction Handling
//
// By default *Tx methods invalidate as soon as the base call returns, before
// the caller commits. A reader that recomputes between that point and the
// commit can cache pre-commit data. RunInTx defers the invalidations until the
// transaction has committed and drops them on rollback:
//
//	err := repositorycache.RunInTx(ctx, db, nil, func(ctx context.Context, tx bun.Tx) error {
//		_, err := members.UpdateTx(ctx, tx, member)
//		return err
//	})
//
// WithDeferredExpiry gives the same collector to callers that manage the
// transaction themselves; they call Flush after commit and Discard otherwise.
//
// # Failures
//
// A failed invalidation is logged and does not fail the write, which has
// already been applied.
package repositorycache
