package repositorycache

import (
	"context"

	"github.com/goliatone/go-application-cache/cache"
)

type expireTargetsContextKey struct{}

// WithExpireTargets attaches extra cache targets to the context. The next
// successful write made with the context expires them along with whatever the
// repository's rules derive.
func WithExpireTargets(ctx context.Context, targets ...cache.ExpireTarget) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(targets) == 0 {
		return ctx
	}

	combined := append(expireTargetsFromContext(ctx), targets...)
	return context.WithValue(ctx, expireTargetsContextKey{}, combined)
}

func expireTargetsFromContext(ctx context.Context) []cache.ExpireTarget {
	if ctx == nil {
		return nil
	}
	if targets, ok := ctx.Value(expireTargetsContextKey{}).([]cache.ExpireTarget); ok {
		return append([]cache.ExpireTarget(nil), targets...)
	}
	return nil
}
