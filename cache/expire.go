package cache

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ExpireTarget selects the entries removed by ExpireKey. Build one with
// ByID, ByKey, BySanitizedKey or ByUser.
type ExpireTarget interface {
	fmt.Stringer
	expire(ctx context.Context, s *Service) (int64, error)
	// discriminant is the single variant the target is limited to, or empty
	// when it can span several.
	discriminant() Discriminant
}

type byID struct{ id uuid.UUID }

// ByID targets the row with id. Once the key has been rewritten the id no
// longer resolves and the call removes nothing.
func ByID(id uuid.UUID) ExpireTarget { return byID{id: id} }

func (t byID) String() string { return "id:" + t.id.String() }

func (byID) discriminant() Discriminant { return "" }

func (t byID) expire(ctx context.Context, s *Service) (int64, error) {
	if t.id == uuid.Nil {
		return 0, invalidTarget("expire by id: nil id")
	}
	n, err := s.store.DeleteByID(ctx, t.id)
	if err != nil {
		return 0, storeFailure(err, "delete by id")
	}
	if s.local != nil {
		s.local.DeleteID(t.id)
	}
	return n, nil
}

type byKey struct{ key Key }

// ByKey targets the single entry for key.
func ByKey(key Key) ExpireTarget { return byKey{key: key} }

func (t byKey) String() string {
	if t.key == nil {
		return "key:<nil>"
	}
	canonical, _ := Canonicalize(t.key)
	return "key:" + string(t.key.Discriminant()) + "#" + Fingerprint(canonical)
}

func (t byKey) discriminant() Discriminant {
	if t.key == nil {
		return ""
	}
	return t.key.Discriminant()
}

func (t byKey) expire(ctx context.Context, s *Service) (int64, error) {
	if t.key == nil {
		return 0, invalidTarget("expire by key: nil key")
	}
	canonical := s.serializer.Canonical(t.key)
	n, err := s.store.DeleteByKey(ctx, canonical)
	if err != nil {
		return 0, storeFailure(err, "delete by key")
	}
	if s.local != nil {
		s.local.DeleteKey(canonical)
	}
	return n, nil
}

type bySanitized struct {
	disc   Discriminant
	userID string
}

// BySanitizedKey targets every entry of one variant. With a non-empty userID
// only that user's entries of the variant are removed.
func BySanitizedKey(d Discriminant, userID string) ExpireTarget {
	return bySanitized{disc: d, userID: userID}
}

func (t bySanitized) String() string {
	if t.userID == "" {
		return "discriminant:" + string(t.disc)
	}
	return "discriminant:" + string(t.disc) + " user:" + t.userID
}

func (t bySanitized) discriminant() Discriminant { return t.disc }

func (t bySanitized) expire(ctx context.Context, s *Service) (int64, error) {
	if !t.disc.Valid() {
		return 0, invalidTarget(fmt.Sprintf("expire by sanitized key: unknown discriminant %q", t.disc))
	}
	return s.expirePattern(ctx, SanitizedPattern{Discriminant: string(t.disc), Scope: t.userID})
}

type byUser struct{ userID string }

// ByUser targets every user-scoped entry of userID, whatever its variant.
func ByUser(userID string) ExpireTarget { return byUser{userID: userID} }

func (t byUser) String() string { return "user:" + t.userID }

func (byUser) discriminant() Discriminant { return "" }

func (t byUser) expire(ctx context.Context, s *Service) (int64, error) {
	if t.userID == "" {
		return 0, invalidTarget("expire by user: empty user id")
	}
	return s.expirePattern(ctx, SanitizedPattern{Scope: t.userID})
}

func (s *Service) expirePattern(ctx context.Context, p SanitizedPattern) (int64, error) {
	n, err := s.store.DeleteByPattern(ctx, p)
	if err != nil {
		return 0, storeFailure(err, "delete by pattern")
	}
	if s.local != nil {
		s.local.DeleteMatching(p)
	}
	return n, nil
}

// ExpireKey removes the entries selected by target and returns how many rows
// were deleted. Removing nothing is not an error.
func (s *Service) ExpireKey(ctx context.Context, target ExpireTarget) (int64, error) {
	if target == nil {
		return 0, invalidTarget("expire: nil target")
	}
	n, err := target.expire(ctx, s)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		if d := target.discriminant(); d != "" {
			s.metrics.expired.Add(ctx, n, discAttr(d))
		} else {
			s.metrics.expired.Add(ctx, n)
		}
	}
	s.logger.Debug("cache entries expired", "target", target.String(), "removed", n)
	return n, nil
}

// Sweep deletes every expired row and returns how many were removed. Reads
// never serve expired rows, so sweeping only reclaims space.
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpired(ctx, s.clock())
	if err != nil {
		return 0, storeFailure(err, "delete expired")
	}
	if n > 0 {
		s.metrics.expired.Add(ctx, n)
	}
	return n, nil
}
