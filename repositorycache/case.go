package repositorycache

import (
	"strings"
	"unicode"
)

// toSnake turns a reflected Go type name into the entity label used in
// invalidation logs: "*pkg.CollectionMember" becomes "pkg_collection_member".
// Anything that is not a letter or digit separates words.
func toSnake(s string) string {
	runes := []rune(s)
	var (
		words []string
		cur   []rune
	)
	flush := func() {
		if len(cur) > 0 {
			words = append(words, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}

	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if len(cur) > 0 {
			var next rune
			if i+1 < len(runes) {
				next = runes[i+1]
			}
			if wordBoundary(runes[i-1], r, next) {
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()

	return strings.Join(words, "_")
}

// wordBoundary reports whether r starts a new word after prev. An acronym
// ends before its last capital when a lowercase letter follows ("HTTPServer").
func wordBoundary(prev, r, next rune) bool {
	switch {
	case unicode.IsDigit(r) != unicode.IsDigit(prev):
		return true
	case unicode.IsUpper(r) && unicode.IsLower(prev):
		return true
	case unicode.IsUpper(r) && unicode.IsUpper(prev) && unicode.IsLower(next):
		return true
	}
	return false
}
