// Package tokencache keeps an OAuth2 bearer token in the application cache so
// every process shares one token instead of exchanging credentials on its own.
package tokencache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"github.com/goliatone/go-application-cache/cache"
)

// DefaultLeeway is how long before its expiry a cached token is replaced.
const DefaultLeeway = time.Minute

// TokenSource is an oauth2.TokenSource backed by the application cache.
type TokenSource struct {
	ctx    context.Context
	svc    *cache.Service
	base   oauth2.TokenSource
	key    cache.SpotifyAccessTokenKey
	leeway time.Duration
	now    func() time.Time
	group  singleflight.Group
}

// Option configures a TokenSource.
type Option func(*TokenSource)

// WithLeeway overrides DefaultLeeway.
func WithLeeway(d time.Duration) Option {
	return func(s *TokenSource) { s.leeway = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *TokenSource) { s.now = now }
}

// New wraps base. ctx is used for cache round trips made by Token.
func New(ctx context.Context, svc *cache.Service, base oauth2.TokenSource, opts ...Option) *TokenSource {
	s := &TokenSource{
		ctx:    ctx,
		svc:    svc,
		base:   base,
		leeway: DefaultLeeway,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewClientCredentials exchanges cfg's client credentials on a miss. Every
// miss is a real exchange: cfg.TokenSource would keep handing back its own
// in-memory token until ten seconds before expiry, well inside the leeway.
func NewClientCredentials(ctx context.Context, svc *cache.Service, cfg *clientcredentials.Config, opts ...Option) *TokenSource {
	return New(ctx, svc, tokenFunc(func() (*oauth2.Token, error) {
		return cfg.Token(ctx)
	}), opts...)
}

type tokenFunc func() (*oauth2.Token, error)

func (f tokenFunc) Token() (*oauth2.Token, error) { return f() }

// Token returns the shared token, fetching a new one when the cached token is
// missing or about to expire.
func (s *TokenSource) Token() (*oauth2.Token, error) {
	v, err, _ := s.group.Do("token", func() (any, error) {
		return s.token()
	})
	if err != nil {
		return nil, err
	}
	return v.(*oauth2.Token), nil
}

func (s *TokenSource) token() (*oauth2.Token, error) {
	item, err := s.fetch()
	if err != nil {
		return nil, err
	}

	if s.expiring(item.Value) {
		if item.ID != uuid.Nil {
			if _, err := s.svc.ExpireKey(s.ctx, cache.ByID(item.ID)); err != nil {
				return nil, err
			}
		}
		if item, err = s.fetch(); err != nil {
			return nil, err
		}
	}

	return &oauth2.Token{
		AccessToken: item.Value.Token,
		TokenType:   item.Value.Type,
		Expiry:      item.Value.Expiry,
	}, nil
}

func (s *TokenSource) fetch() (cache.Item[cache.AccessToken], error) {
	return cache.GetOrSetWithCallback(s.ctx, s.svc, s.key, fromOAuth2,
		func(context.Context) (*oauth2.Token, error) {
			return s.base.Token()
		})
}

func (s *TokenSource) expiring(t cache.AccessToken) bool {
	if t.Expiry.IsZero() {
		return false
	}
	return !t.Expiry.After(s.now().Add(s.leeway))
}

func fromOAuth2(t *oauth2.Token) cache.AccessToken {
	return cache.AccessToken{
		Token:  t.AccessToken,
		Type:   t.TokenType,
		Expiry: t.Expiry.UTC(),
	}
}
