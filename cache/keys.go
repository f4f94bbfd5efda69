package cache

import "time"

// Key identifies one cacheable computation. The set of implementations is
// closed: every variant lives in this file.
type Key interface {
	Discriminant() Discriminant
	// params returns the ordered parameters of the canonical form.
	params() []any
	// scope returns the parameters kept in the sanitized form.
	scope() []string
}

// KeyFor pairs a key variant with the only value type it may cache. Writes
// take a KeyFor[V] together with a V, so a mismatched pair does not compile.
type KeyFor[V any] interface {
	Key
	caches(V)
}

// StringSet is an unordered set of strings. Its canonical form is sorted and
// de-duplicated, so {"b","a"} and {"a","b","a"} produce the same key.
type StringSet []string

// Date is a calendar day in YYYY-MM-DD form.
type Date string

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	return Date(t.Format(time.DateOnly))
}

// SpotifyAccessTokenKey caches the shared Spotify client-credentials token.
type SpotifyAccessTokenKey struct{}

func (SpotifyAccessTokenKey) Discriminant() Discriminant { return SpotifyAccessToken }
func (SpotifyAccessTokenKey) params() []any              { return nil }
func (SpotifyAccessTokenKey) scope() []string            { return nil }
func (SpotifyAccessTokenKey) caches(AccessToken)         {}

// TmdbSettingsKey caches the TMDB configuration document.
type TmdbSettingsKey struct{}

func (TmdbSettingsKey) Discriminant() Discriminant { return TmdbSettings }
func (TmdbSettingsKey) params() []any              { return nil }
func (TmdbSettingsKey) scope() []string            { return nil }
func (TmdbSettingsKey) caches(TmdbConfiguration)   {}

// ListennotesSettingsKey caches the Listen Notes genre table.
type ListennotesSettingsKey struct{}

func (ListennotesSettingsKey) Discriminant() Discriminant { return ListennotesSettings }
func (ListennotesSettingsKey) params() []any              { return nil }
func (ListennotesSettingsKey) scope() []string            { return nil }
func (ListennotesSettingsKey) caches(ListennotesGenres)   {}

// TrendingMetadataIDsKey caches the global trending list.
type TrendingMetadataIDsKey struct{}

func (TrendingMetadataIDsKey) Discriminant() Discriminant { return TrendingMetadataIDs }
func (TrendingMetadataIDsKey) params() []any              { return nil }
func (TrendingMetadataIDsKey) scope() []string            { return nil }
func (TrendingMetadataIDsKey) caches(TrendingIDs)         {}

// CollectionRecommendationsKey caches the recommendations of one collection.
type CollectionRecommendationsKey struct {
	CollectionID string
}

func (CollectionRecommendationsKey) Discriminant() Discriminant {
	return CollectionRecommendations
}
func (k CollectionRecommendationsKey) params() []any                { return []any{k.CollectionID} }
func (CollectionRecommendationsKey) scope() []string                { return nil }
func (CollectionRecommendationsKey) caches(CollectionRecommendationIDs) {}

// UserMetadataRecommendationsSetKey caches a user's recommendation pool.
type UserMetadataRecommendationsSetKey struct {
	UserID string
}

func (UserMetadataRecommendationsSetKey) Discriminant() Discriminant {
	return UserMetadataRecommendationsSet
}
func (k UserMetadataRecommendationsSetKey) params() []any     { return []any{k.UserID} }
func (k UserMetadataRecommendationsSetKey) scope() []string   { return []string{k.UserID} }
func (UserMetadataRecommendationsSetKey) caches(RecommendationSet) {}

// UserPasswordChangeSessionKey is keyed by the reset session only; the user
// is part of the cached value.
type UserPasswordChangeSessionKey struct {
	SessionID string
}

func (UserPasswordChangeSessionKey) Discriminant() Discriminant {
	return UserPasswordChangeSession
}
func (k UserPasswordChangeSessionKey) params() []any           { return []any{k.SessionID} }
func (UserPasswordChangeSessionKey) scope() []string           { return nil }
func (UserPasswordChangeSessionKey) caches(PasswordChangeSession) {}

// UserTwoFactorSetupKey holds a user's pending two-factor enrollment.
type UserTwoFactorSetupKey struct {
	UserID string
}

func (UserTwoFactorSetupKey) Discriminant() Discriminant { return UserTwoFactorSetup }
func (k UserTwoFactorSetupKey) params() []any            { return []any{k.UserID} }
func (k UserTwoFactorSetupKey) scope() []string          { return []string{k.UserID} }
func (UserTwoFactorSetupKey) caches(TwoFactorSetup)      {}

// YoutubeMusicSongListenedKey marks a song as counted for a user on one day.
type YoutubeMusicSongListenedKey struct {
	UserID     string
	SongID     string
	ListenedOn Date
}

func (YoutubeMusicSongListenedKey) Discriminant() Discriminant {
	return YoutubeMusicSongListened
}
func (k YoutubeMusicSongListenedKey) params() []any {
	return []any{k.UserID, k.SongID, k.ListenedOn}
}
func (k YoutubeMusicSongListenedKey) scope() []string { return []string{k.UserID} }
func (YoutubeMusicSongListenedKey) caches(SongListened) {}

// UserMetadataListInput is the filter set of a metadata list request.
type UserMetadataListInput struct {
	Lot           string
	Sort          string
	CollectionIDs StringSet
	Page          int
}

// UserMetadataListKey caches one page of a user's metadata list for a given query.
type UserMetadataListKey struct {
	UserID string
	Input  UserMetadataListInput
}

func (UserMetadataListKey) Discriminant() Discriminant { return UserMetadataList }
func (k UserMetadataListKey) params() []any            { return []any{k.UserID, k.Input} }
func (k UserMetadataListKey) scope() []string          { return []string{k.UserID} }
func (UserMetadataListKey) caches(MetadataListPage)    {}

// UserCollectionsListKey caches a user's collection overview.
type UserCollectionsListKey struct {
	UserID string
}

func (UserCollectionsListKey) Discriminant() Discriminant { return UserCollectionsList }
func (k UserCollectionsListKey) params() []any            { return []any{k.UserID} }
func (k UserCollectionsListKey) scope() []string          { return []string{k.UserID} }
func (UserCollectionsListKey) caches(CollectionsListPage) {}

var (
	_ KeyFor[AccessToken]                 = SpotifyAccessTokenKey{}
	_ KeyFor[TmdbConfiguration]           = TmdbSettingsKey{}
	_ KeyFor[ListennotesGenres]           = ListennotesSettingsKey{}
	_ KeyFor[TrendingIDs]                 = TrendingMetadataIDsKey{}
	_ KeyFor[CollectionRecommendationIDs] = CollectionRecommendationsKey{}
	_ KeyFor[RecommendationSet]           = UserMetadataRecommendationsSetKey{}
	_ KeyFor[PasswordChangeSession]       = UserPasswordChangeSessionKey{}
	_ KeyFor[TwoFactorSetup]              = UserTwoFactorSetupKey{}
	_ KeyFor[SongListened]                = YoutubeMusicSongListenedKey{}
	_ KeyFor[MetadataListPage]            = UserMetadataListKey{}
	_ KeyFor[CollectionsListPage]         = UserCollectionsListKey{}
)
