package cache

import (
	"log/slog"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Logger is the leveled logger the service writes to. *slog.Logger satisfies
// it as is.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

func defaultLogger() Logger {
	return slog.Default().With("component", "application_cache")
}

// Fingerprint is a short stable hash of a canonical key. Logs and metrics use
// it instead of the key itself, which may embed session ids.
func Fingerprint(canonical string) string {
	return strconv.FormatUint(xxhash.Sum64String(canonical), 16)
}
