package cache

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-application-cache/internal/cacheinfra"
)

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = "::"

// KeySerializer derives the persisted forms of a typed key.
//
// Canonical must be injective per variant: two keys produce the same string
// only when they are logically equal. Sanitized is a lossy projection made of
// the discriminant and the variant's scoping parameters.
type KeySerializer interface {
	Canonical(key Key) string
	Sanitized(key Key) string
}

// defaultKeySerializer renders key parameters with reflection. Strings are
// quoted so a separator inside a parameter can never shift segment boundaries.
type defaultKeySerializer struct{}

// NewDefaultKeySerializer creates a new instance of the default key serializer.
func NewDefaultKeySerializer() KeySerializer {
	return &defaultKeySerializer{}
}

// Canonicalize returns both forms of key using the default serializer.
func Canonicalize(key Key) (canonical, sanitized string) {
	s := defaultKeySerializer{}
	return s.Canonical(key), s.Sanitized(key)
}

func (s *defaultKeySerializer) Canonical(key Key) string {
	params := key.params()
	parts := make([]string, 0, len(params)+1)
	parts = append(parts, string(key.Discriminant()))
	for _, p := range params {
		parts = append(parts, s.serializeValue(p))
	}
	return strings.Join(parts, KeySeparator)
}

func (s *defaultKeySerializer) Sanitized(key Key) string {
	scope := key.scope()
	parts := make([]string, 0, len(scope)+1)
	parts = append(parts, string(key.Discriminant()))
	for _, id := range scope {
		parts = append(parts, cacheinfra.EscapeScope(id))
	}
	return strings.Join(parts, KeySeparator)
}

// serializeValue handles individual parameter serialization based on type.
func (s *defaultKeySerializer) serializeValue(v any) string {
	if v == nil {
		return "nil"
	}

	switch val := v.(type) {
	case string:
		return strconv.Quote(val)
	case Date:
		return string(val)
	case StringSet:
		return s.serializeSet(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	}

	rv := reflect.ValueOf(v)
	rt := rv.Type()

	switch rt.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return "nil"
		}
		return s.serializeValue(rv.Elem().Interface())
	case reflect.Slice:
		if rv.IsNil() {
			return "slice:nil"
		}
		return s.serializeSequence("slice", rv)
	case reflect.Array:
		return s.serializeSequence("array", rv)
	case reflect.Map:
		if rv.IsNil() {
			return "map:nil"
		}
		return s.serializeMap(rv)
	case reflect.Struct:
		return s.serializeStruct(rv, rt)
	case reflect.String:
		// named string types
		return strconv.Quote(rv.String())
	}

	if s.isBasicType(rt.Kind()) {
		return fmt.Sprintf("%v", v)
	}

	return s.jsonFallback(v)
}

// serializeSet sorts and de-duplicates the members.
func (s *defaultKeySerializer) serializeSet(set StringSet) string {
	if set == nil {
		return "set:nil"
	}
	members := append([]string(nil), set...)
	sort.Strings(members)

	parts := make([]string, 0, len(members))
	for i, m := range members {
		if i > 0 && m == members[i-1] {
			continue
		}
		parts = append(parts, strconv.Quote(m))
	}
	return fmt.Sprintf("set[%d]:{%s}", len(parts), strings.Join(parts, ","))
}

func (s *defaultKeySerializer) serializeSequence(kind string, rv reflect.Value) string {
	length := rv.Len()
	parts := make([]string, length)
	for i := 0; i < length; i++ {
		parts[i] = s.serializeValue(rv.Index(i).Interface())
	}
	return fmt.Sprintf("%s[%d]:{%s}", kind, length, strings.Join(parts, ","))
}

// serializeMap handles map serialization with sorted keys for determinism
func (s *defaultKeySerializer) serializeMap(rv reflect.Value) string {
	pairs := make([]string, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		k := s.serializeValue(iter.Key().Interface())
		v := s.serializeValue(iter.Value().Interface())
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return fmt.Sprintf("map[%d]:{%s}", len(pairs), strings.Join(pairs, ","))
}

// serializeStruct handles struct serialization with field names
func (s *defaultKeySerializer) serializeStruct(rv reflect.Value, rt reflect.Type) string {
	numFields := rv.NumField()
	parts := make([]string, 0, numFields)

	for i := 0; i < numFields; i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		parts = append(parts, field.Name+":"+s.serializeValue(rv.Field(i).Interface()))
	}

	return fmt.Sprintf("struct:{%s}", strings.Join(parts, ","))
}

// isBasicType checks if a kind represents a basic Go type
func (s *defaultKeySerializer) isBasicType(kind reflect.Kind) bool {
	switch kind {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

// jsonFallback provides JSON serialization as a last resort
func (s *defaultKeySerializer) jsonFallback(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("fallback:%s", reflect.TypeOf(v).String())
	}
	return fmt.Sprintf("json:%s", string(data))
}
