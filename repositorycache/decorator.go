package repositorycache

import (
	"context"
	"reflect"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-application-cache/cache"
)

// Interface assertion to ensure InvalidatingRepository implements Repository[T]
var _ repository.Repository[any] = (*InvalidatingRepository[any])(nil)

// Expirer is the part of *cache.Service the decorator needs.
type Expirer interface {
	ExpireKey(ctx context.Context, target cache.ExpireTarget) (int64, error)
}

// Rule maps a written record to the cache entries derived from it.
type Rule[T any] func(record T) []cache.ExpireTarget

// InvalidatingRepository decorates a base repository so that every successful
// write expires the application cache entries derived from the written
// records. Reads pass through untouched.
type InvalidatingRepository[T any] struct {
	base   repository.Repository[T]
	cache  Expirer
	rules  []Rule[T]
	bulk   []cache.ExpireTarget
	logger cache.Logger
	entity string
}

// Option configures an InvalidatingRepository.
type Option[T any] func(*InvalidatingRepository[T])

// WithRules adds per-record invalidation rules.
func WithRules[T any](rules ...Rule[T]) Option[T] {
	return func(r *InvalidatingRepository[T]) { r.rules = append(r.rules, rules...) }
}

// WithBulkTargets sets what criteria based writes (DeleteMany, DeleteWhere)
// expire. Those writes never see the affected records, so per-record rules
// can not run for them.
func WithBulkTargets[T any](targets ...cache.ExpireTarget) Option[T] {
	return func(r *InvalidatingRepository[T]) { r.bulk = append(r.bulk, targets...) }
}

// WithLogger sets the logger used to report failed invalidations.
func WithLogger[T any](l cache.Logger) Option[T] {
	return func(r *InvalidatingRepository[T]) { r.logger = l }
}

// New creates an InvalidatingRepository that wraps base.
func New[T any](base repository.Repository[T], expirer Expirer, opts ...Option[T]) *InvalidatingRepository[T] {
	r := &InvalidatingRepository[T]{
		base:   base,
		cache:  expirer,
		entity: entityName[T](),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = noopLogger{}
	}
	return r
}

// Get retrieves a single record using the provided criteria
func (r *InvalidatingRepository[T]) Get(ctx context.Context, criteria ...repository.SelectCriteria) (T, error) {
	return r.base.Get(ctx, criteria...)
}

// GetByID retrieves a record by ID with optional criteria
func (r *InvalidatingRepository[T]) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (T, error) {
	return r.base.GetByID(ctx, id, criteria...)
}

// List retrieves multiple records using the provided criteria
func (r *InvalidatingRepository[T]) List(ctx context.Context, criteria ...repository.SelectCriteria) ([]T, int, error) {
	return r.base.List(ctx, criteria...)
}

// Count returns the number of records matching the criteria
func (r *InvalidatingRepository[T]) Count(ctx context.Context, criteria ...repository.SelectCriteria) (int, error) {
	return r.base.Count(ctx, criteria...)
}

// GetByIdentifier retrieves a record by identifier with optional criteria
func (r *InvalidatingRepository[T]) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (T, error) {
	return r.base.GetByIdentifier(ctx, identifier, criteria...)
}

// Create creates a new record and expires entries derived from it
func (r *InvalidatingRepository[T]) Create(ctx context.Context, record T, criteria ...repository.InsertCriteria) (T, error) {
	result, err := r.base.Create(ctx, record, criteria...)
	if err == nil {
		r.afterWrite(ctx, "create", result)
	}
	return result, err
}

// CreateTx creates a new record within a transaction
func (r *InvalidatingRepository[T]) CreateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.InsertCriteria) (T, error) {
	result, err := r.base.CreateTx(ctx, tx, record, criteria...)
	if err == nil {
		r.afterWrite(ctx, "create", result)
	}
	return result, err
}

// CreateMany creates multiple records
func (r *InvalidatingRepository[T]) CreateMany(ctx context.Context, records []T, criteria ...repository.InsertCriteria) ([]T, error) {
	result, err := r.base.CreateMany(ctx, records, criteria...)
	if err == nil {
		r.afterWrite(ctx, "create_many", result...)
	}
	return result, err
}

// CreateManyTx creates multiple records within a transaction
func (r *InvalidatingRepository[T]) CreateManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.InsertCriteria) ([]T, error) {
	result, err := r.base.CreateManyTx(ctx, tx, records, criteria...)
	if err == nil {
		r.afterWrite(ctx, "create_many", result...)
	}
	return result, err
}

// GetOrCreate gets a record or creates it if it doesn't exist
func (r *InvalidatingRepository[T]) GetOrCreate(ctx context.Context, record T) (T, error) {
	result, err := r.base.GetOrCreate(ctx, record)
	if err == nil {
		// the record may have been created
		r.afterWrite(ctx, "get_or_create", result)
	}
	return result, err
}

// GetOrCreateTx gets a record or creates it if it doesn't exist within a transaction
func (r *InvalidatingRepository[T]) GetOrCreateTx(ctx context.Context, tx bun.IDB, record T) (T, error) {
	result, err := r.base.GetOrCreateTx(ctx, tx, record)
	if err == nil {
		r.afterWrite(ctx, "get_or_create", result)
	}
	return result, err
}

// Update updates a record
func (r *InvalidatingRepository[T]) Update(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := r.base.Update(ctx, record, criteria...)
	if err == nil {
		r.afterWrite(ctx, "update", result)
	}
	return result, err
}

// UpdateTx updates a record within a transaction
func (r *InvalidatingRepository[T]) UpdateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := r.base.UpdateTx(ctx, tx, record, criteria...)
	if err == nil {
		r.afterWrite(ctx, "update", result)
	}
	return result, err
}

// UpdateMany updates multiple records
func (r *InvalidatingRepository[T]) UpdateMany(ctx context.Context, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := r.base.UpdateMany(ctx, records, criteria...)
	if err == nil {
		r.afterWrite(ctx, "update_many", result...)
	}
	return result, err
}

// UpdateManyTx updates multiple records within a transaction
func (r *InvalidatingRepository[T]) UpdateManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := r.base.UpdateManyTx(ctx, tx, records, criteria...)
	if err == nil {
		r.afterWrite(ctx, "update_many", result...)
	}
	return result, err
}

// Upsert inserts or updates a record
func (r *InvalidatingRepository[T]) Upsert(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := r.base.Upsert(ctx, record, criteria...)
	if err == nil {
		r.afterWrite(ctx, "upsert", result)
	}
	return result, err
}

// UpsertTx inserts or updates a record within a transaction
func (r *InvalidatingRepository[T]) UpsertTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := r.base.UpsertTx(ctx, tx, record, criteria...)
	if err == nil {
		r.afterWrite(ctx, "upsert", result)
	}
	return result, err
}

// UpsertMany inserts or updates multiple records
func (r *InvalidatingRepository[T]) UpsertMany(ctx context.Context, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := r.base.UpsertMany(ctx, records, criteria...)
	if err == nil {
		r.afterWrite(ctx, "upsert_many", result...)
	}
	return result, err
}

// UpsertManyTx inserts or updates multiple records within a transaction
func (r *InvalidatingRepository[T]) UpsertManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := r.base.UpsertManyTx(ctx, tx, records, criteria...)
	if err == nil {
		r.afterWrite(ctx, "upsert_many", result...)
	}
	return result, err
}

// Delete deletes a record
func (r *InvalidatingRepository[T]) Delete(ctx context.Context, record T) error {
	err := r.base.Delete(ctx, record)
	if err == nil {
		r.afterWrite(ctx, "delete", record)
	}
	return err
}

// DeleteTx deletes a record within a transaction
func (r *InvalidatingRepository[T]) DeleteTx(ctx context.Context, tx bun.IDB, record T) error {
	err := r.base.DeleteTx(ctx, tx, record)
	if err == nil {
		r.afterWrite(ctx, "delete", record)
	}
	return err
}

// DeleteMany deletes multiple records based on criteria
func (r *InvalidatingRepository[T]) DeleteMany(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	err := r.base.DeleteMany(ctx, criteria...)
	if err == nil {
		r.afterCriteriaWrite(ctx, "delete_many")
	}
	return err
}

// DeleteManyTx deletes multiple records based on criteria within a transaction
func (r *InvalidatingRepository[T]) DeleteManyTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	err := r.base.DeleteManyTx(ctx, tx, criteria...)
	if err == nil {
		r.afterCriteriaWrite(ctx, "delete_many")
	}
	return err
}

// DeleteWhere deletes records based on criteria
func (r *InvalidatingRepository[T]) DeleteWhere(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	err := r.base.DeleteWhere(ctx, criteria...)
	if err == nil {
		r.afterCriteriaWrite(ctx, "delete_where")
	}
	return err
}

// DeleteWhereTx deletes records based on criteria within a transaction
func (r *InvalidatingRepository[T]) DeleteWhereTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	err := r.base.DeleteWhereTx(ctx, tx, criteria...)
	if err == nil {
		r.afterCriteriaWrite(ctx, "delete_where")
	}
	return err
}

// ForceDelete force deletes a record (bypassing soft delete)
func (r *InvalidatingRepository[T]) ForceDelete(ctx context.Context, record T) error {
	err := r.base.ForceDelete(ctx, record)
	if err == nil {
		r.afterWrite(ctx, "force_delete", record)
	}
	return err
}

// ForceDeleteTx force deletes a record within a transaction (bypassing soft delete)
func (r *InvalidatingRepository[T]) ForceDeleteTx(ctx context.Context, tx bun.IDB, record T) error {
	err := r.base.ForceDeleteTx(ctx, tx, record)
	if err == nil {
		r.afterWrite(ctx, "force_delete", record)
	}
	return err
}

// GetTx retrieves a single record using the provided criteria within a transaction
func (r *InvalidatingRepository[T]) GetTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (T, error) {
	return r.base.GetTx(ctx, tx, criteria...)
}

// GetByIDTx retrieves a record by ID with optional criteria within a transaction
func (r *InvalidatingRepository[T]) GetByIDTx(ctx context.Context, tx bun.IDB, id string, criteria ...repository.SelectCriteria) (T, error) {
	return r.base.GetByIDTx(ctx, tx, id, criteria...)
}

// ListTx retrieves multiple records using the provided criteria within a transaction
func (r *InvalidatingRepository[T]) ListTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) ([]T, int, error) {
	return r.base.ListTx(ctx, tx, criteria...)
}

// CountTx returns the number of records matching the criteria within a transaction
func (r *InvalidatingRepository[T]) CountTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (int, error) {
	return r.base.CountTx(ctx, tx, criteria...)
}

// GetByIdentifierTx retrieves a record by identifier with optional criteria within a transaction
func (r *InvalidatingRepository[T]) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (T, error) {
	return r.base.GetByIdentifierTx(ctx, tx, identifier, criteria...)
}

// Raw executes a raw SQL query and returns the results. Raw writes bypass
// invalidation; attach targets with WithExpireTargets and call a write method
// instead when derived entries must follow.
func (r *InvalidatingRepository[T]) Raw(ctx context.Context, sql string, args ...any) ([]T, error) {
	return r.base.Raw(ctx, sql, args...)
}

// RawTx executes a raw SQL query within a transaction and returns the results
func (r *InvalidatingRepository[T]) RawTx(ctx context.Context, tx bun.IDB, sql string, args ...any) ([]T, error) {
	return r.base.RawTx(ctx, tx, sql, args...)
}

// Handlers returns the model handlers from the base repository
func (r *InvalidatingRepository[T]) Handlers() repository.ModelHandlers[T] {
	return r.base.Handlers()
}

func (r *InvalidatingRepository[T]) afterWrite(ctx context.Context, op string, records ...T) {
	var targets []cache.ExpireTarget
	for _, record := range records {
		for _, rule := range r.rules {
			targets = append(targets, rule(record)...)
		}
	}
	targets = append(targets, expireTargetsFromContext(ctx)...)
	r.expire(ctx, op, targets)
}

func (r *InvalidatingRepository[T]) afterCriteriaWrite(ctx context.Context, op string) {
	targets := append([]cache.ExpireTarget(nil), r.bulk...)
	targets = append(targets, expireTargetsFromContext(ctx)...)
	r.expire(ctx, op, targets)
}

// expire runs every target once. The base write has already happened, so a
// failed invalidation is logged and does not fail the write. Under a
// deferred-expiry context the targets are queued instead.
func (r *InvalidatingRepository[T]) expire(ctx context.Context, op string, targets []cache.ExpireTarget) {
	if pending := pendingExpiryFromContext(ctx); pending != nil {
		for _, target := range targets {
			if target != nil {
				pending.add(pendingTarget{expirer: r.cache, logger: r.logger, entity: r.entity, op: op, target: target})
			}
		}
		return
	}

	seen := make(map[string]struct{}, len(targets))
	for _, target := range targets {
		if target == nil {
			continue
		}
		id := target.String()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if _, err := r.cache.ExpireKey(ctx, target); err != nil {
			r.logger.Error("cache invalidation failed",
				"entity", r.entity,
				"operation", op,
				"target", id,
				"error", err,
			)
		}
	}
}

func entityName[T any]() string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Name() == "" {
		return toSnake(t.String())
	}
	return toSnake(t.Name())
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
