package cache

import "time"

// Policy controls how long entries of one variant live and which schema
// version they are written under. Rows written under another version read as
// misses, so bumping Version retires every existing row of the variant.
type Policy struct {
	TTL     time.Duration `mapstructure:"ttl"`
	Version string        `mapstructure:"version"`
}

// DefaultPolicies returns the built-in policy of every variant.
func DefaultPolicies() map[Discriminant]Policy {
	day := 24 * time.Hour
	return map[Discriminant]Policy{
		SpotifyAccessToken:             {TTL: 50 * time.Minute},
		TmdbSettings:                   {TTL: 7 * day},
		ListennotesSettings:            {TTL: 7 * day},
		TrendingMetadataIDs:            {TTL: day},
		CollectionRecommendations:      {TTL: day},
		UserMetadataRecommendationsSet: {TTL: day},
		UserPasswordChangeSession:      {TTL: time.Hour},
		UserTwoFactorSetup:             {TTL: 10 * time.Minute},
		YoutubeMusicSongListened:       {TTL: day},
		UserMetadataList:               {TTL: time.Hour},
		UserCollectionsList:            {TTL: time.Hour},
	}
}

// mergePolicies overlays overrides on the defaults field by field: a zero TTL
// keeps the default, an empty Version keeps the default version.
func mergePolicies(overrides map[Discriminant]Policy) map[Discriminant]Policy {
	out := DefaultPolicies()
	for d, p := range overrides {
		base := out[d]
		if p.TTL > 0 {
			base.TTL = p.TTL
		}
		if p.Version != "" {
			base.Version = p.Version
		}
		out[d] = base
	}
	return out
}
