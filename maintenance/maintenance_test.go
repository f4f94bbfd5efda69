package maintenance

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-application-cache/cache"
	"github.com/goliatone/go-application-cache/internal/cacheinfra"
	"github.com/goliatone/go-application-cache/pkg/testsupport"
)

type fakeCache struct {
	mu      sync.Mutex
	sweeps  atomic.Int64
	targets []string
	failOn  string
}

func (f *fakeCache) Sweep(ctx context.Context) (int64, error) {
	f.sweeps.Add(1)
	return 1, nil
}

func (f *fakeCache) ExpireKey(ctx context.Context, target cache.ExpireTarget) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, target.String())
	if target.String() == f.failOn {
		return 0, errors.New("store down")
	}
	return 1, nil
}

func TestNewSweeper_RejectsBadInterval(t *testing.T) {
	if _, err := NewSweeper(&fakeCache{}, 0, nil); err == nil {
		t.Error("expected error for zero interval")
	}
}

func TestSweeper_RunsUntilCanceled(t *testing.T) {
	fc := &fakeCache{}
	sweeper, err := NewSweeper(fc, 5*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewSweeper: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for fc.sweeps.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d sweeps ran", fc.sweeps.Load())
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestExpireRecommendations_Targets(t *testing.T) {
	fc := &fakeCache{}
	n, err := ExpireRecommendations(context.Background(), fc, []string{"u1", "", "u2"}, 2)
	if err != nil {
		t.Fatalf("ExpireRecommendations: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 removed, got %d", n)
	}

	want := []string{
		cache.ByKey(cache.TrendingMetadataIDsKey{}).String(),
		cache.BySanitizedKey(cache.UserMetadataRecommendationsSet, "u1").String(),
		cache.BySanitizedKey(cache.UserMetadataRecommendationsSet, "u2").String(),
	}
	got := append([]string(nil), fc.targets...)
	sort.Strings(got)
	sort.Strings(want)
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			t.Fatalf("expected targets %v, got %v", want, got)
		}
	}
}

func TestExpireRecommendations_Failure(t *testing.T) {
	fc := &fakeCache{failOn: cache.BySanitizedKey(cache.UserMetadataRecommendationsSet, "u2").String()}
	if _, err := ExpireRecommendations(context.Background(), fc, []string{"u1", "u2"}, 1); err == nil {
		t.Error("expected the expire failure to surface")
	}
}

func TestExpireRecommendations_WithService(t *testing.T) {
	ctx := context.Background()
	svc, err := cache.NewService(cacheinfra.NewBunStore(testsupport.OpenDB(t)), cache.DefaultConfig())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	for _, u := range []string{"u1", "u2", "u3"} {
		key := cache.UserMetadataRecommendationsSetKey{UserID: u}
		if _, err := cache.SetKey(ctx, svc, key, cache.RecommendationSet{"m1"}); err != nil {
			t.Fatalf("SetKey: %v", err)
		}
	}
	if _, err := cache.SetKey(ctx, svc, cache.TrendingMetadataIDsKey{}, cache.TrendingIDs{"m9"}); err != nil {
		t.Fatalf("SetKey: %v", err)
	}

	n, err := ExpireRecommendations(ctx, svc, []string{"u1", "u2"}, 0)
	if err != nil {
		t.Fatalf("ExpireRecommendations: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 rows removed, got %d", n)
	}

	if _, ok, _ := cache.GetValue(ctx, svc, cache.UserMetadataRecommendationsSetKey{UserID: "u3"}); !ok {
		t.Error("user outside the batch lost their recommendations")
	}
	if _, ok, _ := cache.GetValue(ctx, svc, cache.TrendingMetadataIDsKey{}); ok {
		t.Error("trending list survived")
	}
}
