package cache

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-application-cache/internal/cacheinfra"
)

// Config exposes cache configuration options for consumers of the cache package.
type Config struct {
	// Policies overrides the built-in policy per variant.
	Policies map[Discriminant]Policy `mapstructure:"policies"`

	// Codec selects the encoding of new payloads. Default: json
	Codec CodecName `mapstructure:"codec"`

	// LocalTier enables the in-process read tier when set.
	LocalTier *LocalTierConfig `mapstructure:"local_tier"`

	// SweepInterval is how often the background sweeper deletes expired rows.
	// Zero disables the sweeper.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// LocalTierConfig mirrors the in-process tier options.
type LocalTierConfig struct {
	Capacity           int           `mapstructure:"capacity"`
	NumShards          int           `mapstructure:"num_shards"`
	TTL                time.Duration `mapstructure:"ttl"`
	EvictionPercentage int           `mapstructure:"eviction_percentage"`
	EvictionInterval   time.Duration `mapstructure:"eviction_interval"`
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Codec:         CodecJSON,
		SweepInterval: time.Hour,
	}
}

// DefaultLocalTierConfig returns the default in-process tier options.
func DefaultLocalTierConfig() LocalTierConfig {
	return convertFromInternal(cacheinfra.DefaultLocalTierConfig())
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Codec, validation.Required, validation.In(CodecJSON, CodecMsgpack)),
		validation.Field(&c.SweepInterval, validation.Min(time.Duration(0))),
		validation.Field(&c.Policies, validation.By(validatePolicies)),
	)
	if err == nil && c.LocalTier != nil {
		err = c.LocalTier.toInternal().Validate()
	}
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid application cache config").
			WithTextCode(TextCodeInvalidConfig)
	}
	return nil
}

func validatePolicies(value any) error {
	policies, _ := value.(map[Discriminant]Policy)
	for d, p := range policies {
		if !d.Valid() {
			return fmt.Errorf("unknown discriminant %q", d)
		}
		if p.TTL < 0 {
			return fmt.Errorf("%s: ttl must be non-negative", d)
		}
	}
	return nil
}

func (c LocalTierConfig) toInternal() cacheinfra.LocalTierConfig {
	return cacheinfra.LocalTierConfig{
		Capacity:           c.Capacity,
		NumShards:          c.NumShards,
		TTL:                c.TTL,
		EvictionPercentage: c.EvictionPercentage,
		EvictionInterval:   c.EvictionInterval,
	}
}

func convertFromInternal(cfg cacheinfra.LocalTierConfig) LocalTierConfig {
	return LocalTierConfig{
		Capacity:           cfg.Capacity,
		NumShards:          cfg.NumShards,
		TTL:                cfg.TTL,
		EvictionPercentage: cfg.EvictionPercentage,
		EvictionInterval:   cfg.EvictionInterval,
	}
}
