package repositorycache

import (
	"context"
	"database/sql"
	"sync"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-application-cache/cache"
)

type pendingExpiryContextKey struct{}

// PendingExpiry collects the invalidations of decorated writes made with its
// context instead of running them. Flush runs them once the surrounding
// transaction has committed; Discard drops them after a rollback.
type PendingExpiry struct {
	mu      sync.Mutex
	seen    map[string]struct{}
	pending []pendingTarget
}

type pendingTarget struct {
	expirer Expirer
	logger  cache.Logger
	entity  string
	op      string
	target  cache.ExpireTarget
}

// WithDeferredExpiry returns a context under which every InvalidatingRepository
// write queues its targets on the returned collector.
func WithDeferredExpiry(ctx context.Context) (context.Context, *PendingExpiry) {
	if ctx == nil {
		ctx = context.Background()
	}
	p := &PendingExpiry{seen: map[string]struct{}{}}
	return context.WithValue(ctx, pendingExpiryContextKey{}, p), p
}

func pendingExpiryFromContext(ctx context.Context) *PendingExpiry {
	if ctx == nil {
		return nil
	}
	p, _ := ctx.Value(pendingExpiryContextKey{}).(*PendingExpiry)
	return p
}

func (p *PendingExpiry) add(t pendingTarget) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := t.target.String()
	if _, dup := p.seen[id]; dup {
		return
	}
	p.seen[id] = struct{}{}
	p.pending = append(p.pending, t)
}

// Len returns the number of distinct targets waiting.
func (p *PendingExpiry) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Flush expires every queued target and empties the collector. Failures are
// logged by the repository that queued the target.
func (p *PendingExpiry) Flush(ctx context.Context) {
	for _, t := range p.take() {
		if _, err := t.expirer.ExpireKey(ctx, t.target); err != nil {
			t.logger.Error("cache invalidation failed",
				"entity", t.entity,
				"operation", t.op,
				"target", t.target.String(),
				"error", err,
			)
		}
	}
}

// Discard drops every queued target.
func (p *PendingExpiry) Discard() {
	p.take()
}

func (p *PendingExpiry) take() []pendingTarget {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.pending
	p.pending = nil
	p.seen = map[string]struct{}{}
	return out
}

// RunInTx runs fn in a bun transaction and expires the cache targets of the
// decorated writes fn makes only after the commit. fn must pass the context it
// receives to those writes. Nothing is expired when fn fails or the commit is
// rolled back.
func RunInTx(ctx context.Context, db *bun.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx bun.Tx) error) error {
	ctx, pending := WithDeferredExpiry(ctx)
	if err := db.RunInTx(ctx, opts, fn); err != nil {
		pending.Discard()
		return err
	}
	pending.Flush(ctx)
	return nil
}
