// Package maintenance runs the periodic jobs around the application cache:
// reclaiming expired rows and retiring recommendation entries on schedule.
package maintenance

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-application-cache/cache"
)

// Cache is the part of *cache.Service the jobs use.
type Cache interface {
	Sweep(ctx context.Context) (int64, error)
	ExpireKey(ctx context.Context, target cache.ExpireTarget) (int64, error)
}

// Sweeper deletes expired rows on a fixed interval.
type Sweeper struct {
	cache    Cache
	interval time.Duration
	logger   cache.Logger
}

// NewSweeper creates a sweeper. A nil logger discards output.
func NewSweeper(c Cache, interval time.Duration, logger cache.Logger) (*Sweeper, error) {
	if interval <= 0 {
		return nil, errors.New("maintenance: sweep interval must be positive")
	}
	if logger == nil {
		logger = discard{}
	}
	return &Sweeper{cache: c, interval: interval, logger: logger}, nil
}

// Run sweeps once immediately and then on every tick until ctx is done.
// A failed sweep is logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.cache.Sweep(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("cache sweep failed", "error", err)
		}
		return
	}
	if n > 0 {
		s.logger.Info("cache sweep removed expired entries", "removed", n)
	}
}

// DefaultConcurrency bounds ExpireRecommendations when no limit is given.
const DefaultConcurrency = 8

// ExpireRecommendations retires the recommendation set of every listed user
// and the global trending list, so the next read recomputes them. It returns
// the number of rows removed; the first failure cancels the remaining work.
func ExpireRecommendations(ctx context.Context, c Cache, userIDs []string, concurrency int) (int64, error) {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	var removed atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	expire := func(target cache.ExpireTarget) {
		g.Go(func() error {
			n, err := c.ExpireKey(ctx, target)
			if err != nil {
				return err
			}
			removed.Add(n)
			return nil
		})
	}

	expire(cache.ByKey(cache.TrendingMetadataIDsKey{}))
	for _, id := range userIDs {
		if id == "" {
			continue
		}
		expire(cache.BySanitizedKey(cache.UserMetadataRecommendationsSet, id))
	}

	err := g.Wait()
	return removed.Load(), err
}

type discard struct{}

func (discard) Debug(string, ...any) {}
func (discard) Info(string, ...any)  {}
func (discard) Warn(string, ...any)  {}
func (discard) Error(string, ...any) {}
