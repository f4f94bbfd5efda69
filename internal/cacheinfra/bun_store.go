package cacheinfra

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ErrInsertRace is returned by InsertIfAbsent when the key kept flipping
// between a conflicting row and no live row across every attempt.
var ErrInsertRace = errors.New("cacheinfra: no live row after insert conflict")

const insertAttempts = 3

// likeEscape is used instead of a backslash so the ESCAPE clause reads the
// same under every dialect's string literal rules.
const likeEscape = "!"

// BunStore persists cache entries through bun. It holds no in-process state:
// uniqueness of the key column arbitrates concurrent writers.
type BunStore struct {
	db bun.IDB
}

// NewBunStore creates a store over db (a *bun.DB or a bun.Tx).
func NewBunStore(db bun.IDB) *BunStore {
	return &BunStore{db: db}
}

// Fetch returns the live row for key, if any.
func (s *BunStore) Fetch(ctx context.Context, key, version string, now time.Time) (Entry, bool, error) {
	var e Entry
	err := s.db.NewSelect().
		Model(&e).
		Where(`"key" = ?`, key).
		Apply(liveRows(version, now)).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

// FetchMany returns the live rows among lookups keyed by canonical key.
// Missing keys are simply absent from the result.
func (s *BunStore) FetchMany(ctx context.Context, lookups []Lookup, now time.Time) (map[string]Entry, error) {
	out := make(map[string]Entry, len(lookups))
	if len(lookups) == 0 {
		return out, nil
	}

	want := make(map[string]string, len(lookups))
	keys := make([]string, 0, len(lookups))
	for _, l := range lookups {
		if _, dup := want[l.Key]; !dup {
			keys = append(keys, l.Key)
		}
		want[l.Key] = l.Version
	}

	var rows []Entry
	if err := s.db.NewSelect().
		Model(&rows).
		Where(`"key" IN (?)`, bun.In(keys)).
		Where("expires_at > ?", now).
		Scan(ctx); err != nil {
		return nil, err
	}

	for _, row := range rows {
		if row.Live(want[row.Key], now) {
			out[row.Key] = row
		}
	}
	return out, nil
}

// InsertIfAbsent persists e unless a live row already exists for e.Key, in
// which case that row is returned with inserted == false. A stale row for the
// key (expired, or written under another version) is cleared first so it can
// not block the insert.
func (s *BunStore) InsertIfAbsent(ctx context.Context, e Entry, now time.Time) (Entry, bool, error) {
	for attempt := 0; attempt < insertAttempts; attempt++ {
		if _, err := s.db.NewDelete().
			Model((*Entry)(nil)).
			Where(`"key" = ?`, e.Key).
			Apply(staleRows(e.Version, now)).
			Exec(ctx); err != nil {
			return Entry{}, false, err
		}

		res, err := s.db.NewInsert().
			Model(&e).
			On(`CONFLICT ("key") DO NOTHING`).
			Returning("NULL").
			Exec(ctx)
		if err != nil {
			return Entry{}, false, err
		}
		if n, err := res.RowsAffected(); err == nil && n == 1 {
			return e, true, nil
		}

		existing, ok, err := s.Fetch(ctx, e.Key, e.Version, now)
		if err != nil {
			return Entry{}, false, err
		}
		if ok {
			return existing, false, nil
		}
	}
	return Entry{}, false, ErrInsertRace
}

// Upsert writes e, atomically replacing any row for the same key. The
// replacing row keeps e's id, so ids of replaced rows stop resolving.
func (s *BunStore) Upsert(ctx context.Context, e Entry) (Entry, error) {
	_, err := s.db.NewInsert().
		Model(&e).
		On(`CONFLICT ("key") DO UPDATE`).
		Set("id = EXCLUDED.id").
		Set("sanitized_key = EXCLUDED.sanitized_key").
		Set("value = EXCLUDED.value").
		Set("version = EXCLUDED.version").
		Set("expires_at = EXCLUDED.expires_at").
		Set("created_at = EXCLUDED.created_at").
		Returning("NULL").
		Exec(ctx)
	if err != nil {
		return Entry{}, err
	}
	return e, nil
}

// DeleteByID removes the row with id.
func (s *BunStore) DeleteByID(ctx context.Context, id uuid.UUID) (int64, error) {
	return affected(s.db.NewDelete().
		Model((*Entry)(nil)).
		Where("id = ?", id).
		Exec(ctx))
}

// DeleteByKey removes the row for a canonical key.
func (s *BunStore) DeleteByKey(ctx context.Context, key string) (int64, error) {
	return affected(s.db.NewDelete().
		Model((*Entry)(nil)).
		Where(`"key" = ?`, key).
		Exec(ctx))
}

// DeleteByPattern removes every row whose sanitized key matches p.
func (s *BunStore) DeleteByPattern(ctx context.Context, p SanitizedPattern) (int64, error) {
	if p.Empty() {
		return 0, errors.New("cacheinfra: empty sanitized pattern")
	}
	return affected(s.db.NewDelete().
		Model((*Entry)(nil)).
		WhereGroup(" AND ", matchPattern[*bun.DeleteQuery](p)).
		Exec(ctx))
}

// DeleteExpired removes rows past their expiry.
func (s *BunStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return affected(s.db.NewDelete().
		Model((*Entry)(nil)).
		Where("expires_at <= ?", now).
		Exec(ctx))
}

// Find is a fuzzy lookup over sanitized keys, ordered newest first.
func (s *BunStore) Find(ctx context.Context, f Filter) ([]Entry, error) {
	var rows []Entry
	q := s.db.NewSelect().Model(&rows).OrderExpr("created_at DESC")
	if f.Match != "" {
		q = q.Where("sanitized_key LIKE ? ESCAPE '"+likeEscape+"'", "%"+escapeLike(f.Match)+"%")
	}
	if !f.IncludeExpired {
		q = q.Where("expires_at > ?", f.Now)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

// Count reports live and expired rows matching p; an empty pattern counts the
// whole table.
func (s *BunStore) Count(ctx context.Context, p SanitizedPattern, now time.Time) (Counts, error) {
	base := func() *bun.SelectQuery {
		q := s.db.NewSelect().Model((*Entry)(nil))
		if !p.Empty() {
			q = q.WhereGroup(" AND ", matchPattern[*bun.SelectQuery](p))
		}
		return q
	}

	live, err := base().Where("expires_at > ?", now).Count(ctx)
	if err != nil {
		return Counts{}, err
	}
	expired, err := base().Where("expires_at <= ?", now).Count(ctx)
	if err != nil {
		return Counts{}, err
	}
	return Counts{Live: live, Expired: expired}, nil
}

func liveRows(version string, now time.Time) func(*bun.SelectQuery) *bun.SelectQuery {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		q = q.Where("expires_at > ?", now)
		if version == "" {
			return q.Where("version IS NULL")
		}
		return q.Where("version = ?", version)
	}
}

func staleRows(version string, now time.Time) func(*bun.DeleteQuery) *bun.DeleteQuery {
	return func(q *bun.DeleteQuery) *bun.DeleteQuery {
		return q.WhereGroup(" AND ", func(q *bun.DeleteQuery) *bun.DeleteQuery {
			q = q.Where("expires_at <= ?", now)
			if version == "" {
				return q.WhereOr("version IS NOT NULL")
			}
			return q.WhereOr("version IS NULL").WhereOr("version <> ?", version)
		})
	}
}

type wherer[Q any] interface {
	Where(query string, args ...any) Q
	WhereOr(query string, args ...any) Q
}

// matchPattern builds the sanitized-key predicate. Segments are compared
// whole so "user_1" never matches "user_10".
func matchPattern[Q wherer[Q]](p SanitizedPattern) func(Q) Q {
	like := "sanitized_key LIKE ? ESCAPE '" + likeEscape + "'"
	scope := EscapeScope(p.Scope)
	return func(q Q) Q {
		switch {
		case p.Discriminant != "" && p.Scope != "":
			exact := p.Discriminant + segmentSeparator + scope
			return q.Where("sanitized_key = ?", exact).
				WhereOr(like, escapeLike(exact+segmentSeparator)+"%")
		case p.Discriminant != "":
			return q.Where("sanitized_key = ?", p.Discriminant).
				WhereOr(like, escapeLike(p.Discriminant+segmentSeparator)+"%")
		default:
			scoped := escapeLike(segmentSeparator + scope)
			return q.Where(like, "%"+scoped).
				WhereOr(like, "%"+scoped+escapeLike(segmentSeparator)+"%")
		}
	}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(likeEscape, likeEscape+likeEscape, "%", likeEscape+"%", "_", likeEscape+"_")
	return r.Replace(s)
}

func affected(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}
