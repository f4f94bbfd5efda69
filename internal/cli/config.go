package cli

import (
	"errors"
	"strings"

	"github.com/spf13/viper"

	"github.com/goliatone/go-application-cache/cache"
	"github.com/goliatone/go-application-cache/pkg/di"
)

// EnvPrefix prefixes every environment override, e.g. APPCACHE_DATABASE_DSN.
const EnvPrefix = "APPCACHE"

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	def := di.DefaultConfig()
	v.SetDefault("database.driver", def.Driver)
	v.SetDefault("database.dsn", def.DSN)
	v.SetDefault("database.auto_migrate", def.AutoMigrate)
	v.SetDefault("cache.codec", string(def.Cache.Codec))
	v.SetDefault("cache.sweep_interval", def.Cache.SweepInterval)
}

type fileConfig struct {
	Database struct {
		Driver      string `mapstructure:"driver"`
		DSN         string `mapstructure:"dsn"`
		AutoMigrate bool   `mapstructure:"auto_migrate"`
	} `mapstructure:"database"`
	Cache cache.Config `mapstructure:"cache"`
}

// loadConfig reads configFile when set, or ./cachectl.yaml and
// ./configs/cachectl.yaml when present, then applies environment overrides.
func loadConfig(v *viper.Viper, configFile string) (di.Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("cachectl")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return di.Config{}, err
		}
	}

	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return di.Config{}, err
	}
	if fc.Database.DSN == "" {
		return di.Config{}, errors.New("database.dsn is required")
	}

	return di.Config{
		Driver:      fc.Database.Driver,
		DSN:         fc.Database.DSN,
		AutoMigrate: fc.Database.AutoMigrate,
		Cache:       fc.Cache,
	}, nil
}
