// Package config loads application configuration from file and
// environment and initializes the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Source Source       `yaml:"source" mapstructure:"source"`
	Sanity SanityConfig `yaml:"sanity" mapstructure:"sanity"`
	Bring  BringConfig  `yaml:"bring" mapstructure:"bring"`
	Mapbox MapboxConfig `yaml:"mapbox" mapstructure:"mapbox"`
	Sync   SyncConfig   `yaml:"sync" mapstructure:"sync"`
	Ledger LedgerConfig `yaml:"ledger" mapstructure:"ledger"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// Source points at the vendor spreadsheet export.
type Source struct {
	URL           string `yaml:"url" mapstructure:"url"`
	SpreadsheetID string `yaml:"spreadsheet_id" mapstructure:"spreadsheet_id"`
	GID           string `yaml:"gid" mapstructure:"gid"`
	Format        string `yaml:"format" mapstructure:"format"`
}

// SanityConfig holds document store credentials.
type SanityConfig struct {
	ProjectID string  `yaml:"project_id" mapstructure:"project_id"`
	Dataset   string  `yaml:"dataset" mapstructure:"dataset"`
	Token     string  `yaml:"token" mapstructure:"token"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// BringConfig holds postal registry API credentials.
type BringConfig struct {
	UID string `yaml:"uid" mapstructure:"uid"`
	Key string `yaml:"key" mapstructure:"key"`
}

// MapboxConfig holds geocoding API settings.
type MapboxConfig struct {
	Token   string `yaml:"token" mapstructure:"token"`
	Country string `yaml:"country" mapstructure:"country"`
}

// SyncConfig tunes the sync pipeline.
type SyncConfig struct {
	Concurrency   int    `yaml:"concurrency" mapstructure:"concurrency"`
	MissingPolicy string `yaml:"missing_policy" mapstructure:"missing_policy"`
}

// LedgerConfig configures local run history and the geocode cache.
type LedgerConfig struct {
	Path           string `yaml:"path" mapstructure:"path"`
	GeocodeTTLDays int    `yaml:"geocode_ttl_days" mapstructure:"geocode_ttl_days"`
}

// ServerConfig configures the status HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("VENDORSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("sanity.dataset", "production")
	v.SetDefault("sanity.rate_limit", 25)
	v.SetDefault("mapbox.country", "no")
	v.SetDefault("sync.concurrency", 4)
	v.SetDefault("sync.missing_policy", "retain-and-clear-products")
	v.SetDefault("ledger.path", "vendorsync.db")
	v.SetDefault("ledger.geocode_ttl_days", 90)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

// Validate checks that the fields required for the given mode are set.
// Mode is "sync" for pipeline commands and "serve" for the status server.
func (c *Config) Validate(mode string) error {
	var missing []string

	check := func(value, name string) {
		if value == "" {
			missing = append(missing, name+" is required")
		}
	}

	switch mode {
	case "sync":
		check(c.Sanity.ProjectID, "sanity.project_id")
		check(c.Sanity.Token, "sanity.token")
		if c.Source.URL == "" && c.Source.SpreadsheetID == "" {
			missing = append(missing, "source.url or source.spreadsheet_id is required")
		}
	case "store":
		check(c.Sanity.ProjectID, "sanity.project_id")
		check(c.Sanity.Token, "sanity.token")
	case "serve":
		if c.Server.Port <= 0 {
			missing = append(missing, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if mode != "serve" {
		if c.Sync.Concurrency < 1 || c.Sync.Concurrency > 32 {
			missing = append(missing, "sync.concurrency must be between 1 and 32")
		}
	}

	if len(missing) > 0 {
		return eris.New("config: " + strings.Join(missing, "; "))
	}
	return nil
}
