package cache

import "time"

// AccessToken is a bearer token obtained from an external API.
type AccessToken struct {
	Token  string    `json:"token" msgpack:"token"`
	Type   string    `json:"type,omitempty" msgpack:"type,omitempty"`
	Expiry time.Time `json:"expiry" msgpack:"expiry"`
}

// TmdbConfiguration is the reference data TMDB hands out once per deployment.
type TmdbConfiguration struct {
	ImageBaseURL string   `json:"image_base_url" msgpack:"image_base_url"`
	Languages    []string `json:"languages" msgpack:"languages"`
}

// ListennotesGenres maps provider genre ids to display names.
type ListennotesGenres map[int]string

// TrendingIDs is the global trending metadata list.
type TrendingIDs []string

// CollectionRecommendationIDs are the metadata ids recommended for a collection.
type CollectionRecommendationIDs []string

// RecommendationSet is the per-user recommendation pool.
type RecommendationSet []string

// PasswordChangeSession binds a password reset session to its user.
type PasswordChangeSession struct {
	UserID string `json:"user_id" msgpack:"user_id"`
}

// TwoFactorSetup holds the encrypted secret of a pending two-factor enrollment.
type TwoFactorSetup struct {
	Secret string `json:"secret" msgpack:"secret"`
}

// SongListened records whether a listen has already been counted for the day.
type SongListened struct {
	IsComplete bool `json:"is_complete" msgpack:"is_complete"`
}

// MetadataListPage is one page of a user's metadata list.
type MetadataListPage struct {
	Items []string `json:"items" msgpack:"items"`
	Total int      `json:"total" msgpack:"total"`
	Next  *int     `json:"next,omitempty" msgpack:"next,omitempty"`
}

// CollectionsListPage is a user's collection overview.
type CollectionsListPage struct {
	Collections []CollectionSummary `json:"collections" msgpack:"collections"`
}

// CollectionSummary is one entry of CollectionsListPage.
type CollectionSummary struct {
	ID    string `json:"id" msgpack:"id"`
	Name  string `json:"name" msgpack:"name"`
	Count int    `json:"count" msgpack:"count"`
}
