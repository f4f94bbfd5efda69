package cacheinfra

import (
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// TableName is the table backing the application cache.
const TableName = "application_cache"

const segmentSeparator = "::"

// Entry is the persisted row. Rows are never updated in place: a write either
// inserts a new row or atomically replaces the row for the same key.
type Entry struct {
	bun.BaseModel `bun:"table:application_cache"`

	ID           uuid.UUID `bun:"id,pk,type:uuid"`
	Key          string    `bun:"key,notnull,unique"`
	SanitizedKey string    `bun:"sanitized_key,notnull"`
	Value        []byte    `bun:"value,notnull"`
	Version      string    `bun:"version,nullzero"`
	ExpiresAt    time.Time `bun:"expires_at,notnull"`
	CreatedAt    time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// Live reports whether the entry may be served to a reader expecting version.
func (e Entry) Live(version string, now time.Time) bool {
	return e.Version == version && e.ExpiresAt.After(now)
}

// Lookup is one point lookup of a bulk fetch.
type Lookup struct {
	Key     string
	Version string
}

// SanitizedPattern selects rows by their sanitized key. Discriminant alone
// selects a whole computation kind, Scope alone selects every scoped entry of
// one owner, both together select one kind for one owner.
type SanitizedPattern struct {
	Discriminant string
	Scope        string
}

// EscapeScope encodes a scope value as one sanitized-key segment. A separator
// inside an id is escaped, so "a::b" never matches the scope "a".
func EscapeScope(scope string) string {
	return url.QueryEscape(scope)
}

func (p SanitizedPattern) Empty() bool {
	return p.Discriminant == "" && p.Scope == ""
}

// Matches mirrors the SQL predicate built by BunStore for in-process tiers.
func (p SanitizedPattern) Matches(sanitized string) bool {
	if p.Empty() {
		return false
	}
	segments := strings.Split(sanitized, segmentSeparator)
	if p.Discriminant != "" && segments[0] != p.Discriminant {
		return false
	}
	if p.Scope == "" {
		return true
	}
	scope := EscapeScope(p.Scope)
	for _, s := range segments[1:] {
		if s == scope {
			return true
		}
	}
	return false
}

// Filter drives Find, the debugging lookup.
type Filter struct {
	// Match is a substring of the sanitized key. Empty matches everything.
	Match          string
	IncludeExpired bool
	Limit          int
	Now            time.Time
}

// Counts summarizes the rows matching a pattern.
type Counts struct {
	Live    int
	Expired int
}
