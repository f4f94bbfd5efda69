package testsupport

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-application-cache/internal/cacheinfra"
)

var dbSeq atomic.Int64

// MemoryDSN returns a DSN for a private, named in-memory SQLite database.
func MemoryDSN(t *testing.T) string {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	return fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))
}

// OpenDB opens a migrated in-memory SQLite database that is closed when the
// test ends.
func OpenDB(t *testing.T) *bun.DB {
	t.Helper()

	db, err := cacheinfra.Open("sqlite3", MemoryDSN(t))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := cacheinfra.Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}
