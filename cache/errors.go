package cache

import (
	"errors"

	goerrors "github.com/goliatone/go-errors"
)

// Text codes attached to errors raised by this package.
const (
	TextCodeStoreUnavailable = "CACHE_STORE_UNAVAILABLE"
	TextCodeEncodeFailed     = "CACHE_ENCODE_FAILED"
	TextCodeInvalidTarget    = "CACHE_INVALID_EXPIRE_TARGET"
	TextCodeInvalidConfig    = "CACHE_INVALID_CONFIG"
)

// IsStoreFailure reports whether err came from the backing store rather than
// from a compute callback. Callers that treat the cache as an optimization can
// fall back to computing without persistence when it returns true.
func IsStoreFailure(err error) bool {
	return hasTextCode(err, TextCodeStoreUnavailable)
}

// IsInvalidTarget reports whether err rejected an expire target.
func IsInvalidTarget(err error) bool {
	return hasTextCode(err, TextCodeInvalidTarget)
}

func storeFailure(err error, op string) error {
	return goerrors.Wrap(err, goerrors.CategoryExternal, "application cache store: "+op).
		WithTextCode(TextCodeStoreUnavailable)
}

func encodeFailure(err error, d Discriminant) error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, "encode cache value").
		WithTextCode(TextCodeEncodeFailed).
		WithMetadata(map[string]any{"discriminant": string(d)})
}

func invalidTarget(message string) error {
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithTextCode(TextCodeInvalidTarget)
}

func hasTextCode(err error, code string) bool {
	var e *goerrors.Error
	return errors.As(err, &e) && e.TextCode == code
}
