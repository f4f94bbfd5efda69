package cache

import (
	"fmt"
	"strings"
	"unicode"
)

// Discriminant tags the computation a cache entry belongs to. It is the first
// segment of both the canonical and the sanitized key.
type Discriminant string

const (
	SpotifyAccessToken             Discriminant = "spotify_access_token"
	TmdbSettings                   Discriminant = "tmdb_settings"
	ListennotesSettings            Discriminant = "listennotes_settings"
	TrendingMetadataIDs            Discriminant = "trending_metadata_ids"
	CollectionRecommendations      Discriminant = "collection_recommendations"
	UserMetadataRecommendationsSet Discriminant = "user_metadata_recommendations_set"
	UserPasswordChangeSession      Discriminant = "user_password_change_session"
	UserTwoFactorSetup             Discriminant = "user_two_factor_setup"
	YoutubeMusicSongListened       Discriminant = "youtube_music_song_listened"
	UserMetadataList               Discriminant = "user_metadata_list"
	UserCollectionsList            Discriminant = "user_collections_list"
)

var discriminants = []Discriminant{
	SpotifyAccessToken,
	TmdbSettings,
	ListennotesSettings,
	TrendingMetadataIDs,
	CollectionRecommendations,
	UserMetadataRecommendationsSet,
	UserPasswordChangeSession,
	UserTwoFactorSetup,
	YoutubeMusicSongListened,
	UserMetadataList,
	UserCollectionsList,
}

// Discriminants returns every known discriminant in declaration order.
func Discriminants() []Discriminant {
	return append([]Discriminant(nil), discriminants...)
}

func (d Discriminant) String() string { return string(d) }

// Valid reports whether d is part of the taxonomy.
func (d Discriminant) Valid() bool {
	for _, known := range discriminants {
		if d == known {
			return true
		}
	}
	return false
}

// ParseDiscriminant accepts the snake_case form as well as the CamelCase or
// kebab-case spelling ("UserMetadataList", "user-metadata-list").
func ParseDiscriminant(s string) (Discriminant, error) {
	want := squash(s)
	for _, known := range discriminants {
		if squash(string(known)) == want {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown cache discriminant %q", s)
}

func squash(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}
