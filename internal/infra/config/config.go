// Package config provides configuration loading from YAML files.
package config

import (
	"math"
	"os"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Database  DatabaseConfig          `yaml:"database"`
	Discovery DiscoveryConfig         `yaml:"discovery"`
	Autoplay  AutoplayConfig          `yaml:"autoplay"`
	Playback  PlaybackConfig          `yaml:"playback"`
	Resolver  ResolverConfig          `yaml:"resolver"`
	Spotify   SpotifyConfig           `yaml:"spotify"`
	Filters   map[string]FilterConfig `yaml:"filters"`
}

// DatabaseConfig represents the preference store configuration.
type DatabaseConfig struct {
	Path string `yaml:"path" default:"data/autodj.db"`
}

// DiscoveryConfig represents the discovery scorer configuration.
type DiscoveryConfig struct {
	RatioComfort  float64 `yaml:"ratio_comfort" default:"0.5" validate:"gte=0,lte=1"`
	RatioAdjacent float64 `yaml:"ratio_adjacent" default:"0.35" validate:"gte=0,lte=1"`
	RatioWildcard float64 `yaml:"ratio_wildcard" default:"0.15" validate:"gte=0,lte=1"`

	// Halve the effective score every N days.
	DecayHalfLifeDays int `yaml:"decay_half_life_days" default:"14" validate:"gte=1"`

	// Don't replay a track within this many minutes.
	DedupMinutes int `yaml:"dedup_minutes" default:"90" validate:"gte=0"`

	GenreMatchScore int `yaml:"genre_match_score" default:"4" validate:"gte=0"`
	CollabScore     int `yaml:"collab_score" default:"3" validate:"gte=0"`
	MomentumScore   int `yaml:"momentum_score" default:"2" validate:"gte=0"`

	SlotsPerUser int `yaml:"slots_per_user" default:"4" validate:"gte=1"`

	Weights InteractionWeights `yaml:"weights"`
}

// InteractionWeights represents preference score deltas per interaction kind.
type InteractionWeights struct {
	Like    int `yaml:"like" default:"5"`
	Dislike int `yaml:"dislike" default:"-5"`
	Skip    int `yaml:"skip" default:"-2"`
	Request int `yaml:"request" default:"2"`
}

// AutoplayConfig represents the autoplay buffer configuration.
type AutoplayConfig struct {
	VisibleSize       int    `yaml:"visible_size" default:"5" validate:"gte=1"`
	HiddenSize        int    `yaml:"hidden_size" default:"5" validate:"gte=0"`
	RefillIntervalSec int    `yaml:"refill_interval_sec" default:"10" validate:"gte=1"`
	FallbackPlaylist  string `yaml:"fallback_playlist"`
}

// PlaybackConfig represents playback defaults for new sessions.
type PlaybackConfig struct {
	DefaultVolume      float64 `yaml:"default_volume" default:"0.5" validate:"gte=0,lte=1"`
	MaxDurationSeconds int     `yaml:"max_duration_seconds" default:"0" validate:"gte=0"`
	PersistentMode     bool    `yaml:"persistent_mode"`
	ChannelStatus      bool    `yaml:"channel_status"`
}

// ResolverConfig represents track resolver configuration.
type ResolverConfig struct {
	RateLimitPerSec  float64 `yaml:"rate_limit_per_sec" default:"4" validate:"gt=0"`
	RateLimitBurst   int     `yaml:"rate_limit_burst" default:"10" validate:"gte=1"`
	SearchResultSize int     `yaml:"search_result_size" default:"5" validate:"gte=1"`
}

// SpotifyConfig represents the optional Spotify bridge configuration.
// When credentials are empty the bridge is disabled and Spotify URLs
// are not expanded.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// FilterConfig represents a filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("FALLBACK_PLAYLIST"); v != "" {
		c.Autoplay.FallbackPlaylist = v
	}
	if v := os.Getenv("DISCOVERY_DECAY_HALF_LIFE_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Discovery.DecayHalfLifeDays = n
		}
	}
	if v := os.Getenv("DISCOVERY_DEDUP_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Discovery.DedupMinutes = n
		}
	}
	if v := os.Getenv("DISCOVERY_SLOTS_PER_USER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Discovery.SlotsPerUser = n
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	// Tier ratios must sum to 1.0 (small float tolerance)
	sum := c.Discovery.RatioComfort + c.Discovery.RatioAdjacent + c.Discovery.RatioWildcard
	if math.Abs(sum-1.0) > 1e-9 {
		return errors.Newf("discovery tier ratios must sum to 1.0, got %.3f", sum)
	}

	return nil
}

// IsFilterEnabled checks if a filter is enabled.
func (c *Config) IsFilterEnabled(filterName string) bool {
	if f, ok := c.Filters[filterName]; ok {
		return f.Enabled
	}
	return false
}

// FilterSettings returns the settings map for a filter.
func (c *Config) FilterSettings(filterName string) map[string]any {
	if f, ok := c.Filters[filterName]; ok {
		return f.Settings
	}
	return nil
}
