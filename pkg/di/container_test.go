package di

import (
	"context"
	"testing"
	"time"

	repository "github.com/goliatone/go-repository-bun"

	"github.com/goliatone/go-application-cache/cache"
	"github.com/goliatone/go-application-cache/pkg/testsupport"
	"github.com/goliatone/go-application-cache/repositorycache"
)

type Collection struct {
	ID     string
	UserID string
	Name   string
}

// collectionRepository implements only Create; the embedded interface
// panics on anything else.
type collectionRepository struct {
	repository.Repository[*Collection]
	created []*Collection
}

func (r *collectionRepository) Create(ctx context.Context, record *Collection, criteria ...repository.InsertCriteria) (*Collection, error) {
	r.created = append(r.created, record)
	return record, nil
}

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.DSN = testsupport.MemoryDSN(t)
	return cfg
}

func newTestContainer(t *testing.T, cfg Config) *Container {
	t.Helper()
	c, err := NewContainer(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewContainer(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Codec = cache.CodecMsgpack
	c := newTestContainer(t, cfg)

	if c.Service() == nil || c.Store() == nil || c.DB() == nil {
		t.Fatal("container has unset dependencies")
	}
	if got := c.Config(); got.Cache.Codec != cache.CodecMsgpack || got.DSN != cfg.DSN {
		t.Errorf("unexpected stored config %+v", got)
	}

	ctx := context.Background()
	key := cache.TrendingMetadataIDsKey{}
	if _, err := cache.SetKey(ctx, c.Service(), key, cache.TrendingIDs{"m1"}); err != nil {
		t.Fatalf("SetKey on migrated store failed: %v", err)
	}
	item, ok, err := cache.GetValue(ctx, c.Service(), key)
	if err != nil || !ok || len(item.Value) != 1 {
		t.Errorf("GetValue = %+v, %v, %v", item.Value, ok, err)
	}
}

func TestNewContainer_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing driver", func(c *Config) { c.Driver = "" }},
		{"unknown driver", func(c *Config) { c.Driver = "oracle" }},
		{"unknown codec", func(c *Config) { c.Cache.Codec = "xml" }},
		{"negative ttl", func(c *Config) {
			c.Cache.Policies = map[cache.Discriminant]cache.Policy{
				cache.TrendingMetadataIDs: {TTL: -time.Second},
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(&cfg)
			if c, err := NewContainer(context.Background(), cfg); err == nil {
				_ = c.Close()
				t.Fatal("expected an error")
			}
		})
	}
}

func TestNewContainerWithDB_LeavesDBOpen(t *testing.T) {
	db := testsupport.OpenDB(t)
	c, err := NewContainerWithDB(context.Background(), db, cache.DefaultConfig())
	if err != nil {
		t.Fatalf("NewContainerWithDB() failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		t.Errorf("caller's db was closed: %v", err)
	}

	if _, err := NewContainerWithDB(context.Background(), nil, cache.DefaultConfig()); err == nil {
		t.Error("expected error for nil db")
	}
}

func TestContainer_Sweeper(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.SweepInterval = 0
	c := newTestContainer(t, cfg)

	if _, ok, err := c.Sweeper(); ok || err != nil {
		t.Errorf("disabled sweeper: ok=%v err=%v", ok, err)
	}
	if err := c.StartSweeper(context.Background()); err != nil {
		t.Errorf("StartSweeper with sweeping disabled: %v", err)
	}

	cfg = testConfig(t)
	cfg.Cache.SweepInterval = time.Minute
	c = newTestContainer(t, cfg)
	sweeper, ok, err := c.Sweeper()
	if err != nil || !ok || sweeper == nil {
		t.Fatalf("Sweeper() = %v, %v, %v", sweeper, ok, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.StartSweeper(ctx); err != nil {
		t.Fatalf("StartSweeper: %v", err)
	}
}

func TestNewInvalidatingRepository(t *testing.T) {
	ctx := context.Background()
	c := newTestContainer(t, testConfig(t))
	svc := c.Service()

	listKey := cache.UserCollectionsListKey{UserID: "u1"}
	page := cache.CollectionsListPage{Collections: []cache.CollectionSummary{{ID: "c1", Name: "Watch later", Count: 3}}}
	if _, err := cache.SetKey(ctx, svc, listKey, page); err != nil {
		t.Fatalf("SetKey: %v", err)
	}

	base := &collectionRepository{}
	repo := NewInvalidatingRepository[*Collection](c, base,
		repositorycache.WithRules(func(col *Collection) []cache.ExpireTarget {
			return []cache.ExpireTarget{cache.BySanitizedKey(cache.UserCollectionsList, col.UserID)}
		}),
	)

	if _, err := repo.Create(ctx, &Collection{ID: "c2", UserID: "u1", Name: "Favourites"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(base.created) != 1 {
		t.Errorf("base repository saw %d creates, want 1", len(base.created))
	}
	if _, ok, _ := cache.GetValue(ctx, svc, listKey); ok {
		t.Error("collections list survived a write")
	}
}
