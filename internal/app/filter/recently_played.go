package filter

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/vexolabs/autodj/internal/domain/track"
)

// HistoryChecker reports whether a track played recently in a session.
type HistoryChecker interface {
	IsRecentlyPlayed(ctx context.Context, sessionID, url string, within time.Duration) (bool, error)
}

// RecentlyPlayedConfig represents the configuration for RecentlyPlayedFilter.
type RecentlyPlayedConfig struct {
	WindowMinutes int `yaml:"window_minutes" mapstructure:"window_minutes" default:"90" validate:"gte=1"`
}

// RecentlyPlayedFilter rejects tracks that already played in the session
// within the dedup window.
type RecentlyPlayedFilter struct {
	history HistoryChecker
	config  *RecentlyPlayedConfig
}

// NewRecentlyPlayedFilter creates a new recently played filter.
func NewRecentlyPlayedFilter(history HistoryChecker) *RecentlyPlayedFilter {
	return &RecentlyPlayedFilter{
		history: history,
	}
}

func (f *RecentlyPlayedFilter) Name() string {
	return "recently_played_filter"
}

func (f *RecentlyPlayedFilter) Description() string {
	return "Rejects tracks that played in this session within the dedup window"
}

func (f *RecentlyPlayedFilter) ReturnCodes() []string {
	return []string{"recently_played"}
}

func (f *RecentlyPlayedFilter) ValidateConfig(settings map[string]any) error {
	var config RecentlyPlayedConfig

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &config,
		TagName: "mapstructure",
	})
	if err != nil {
		return errors.Wrap(err, "failed to create decoder")
	}

	if err := decoder.Decode(settings); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}

	if err := defaults.Set(&config); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}

	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		return errors.Wrap(err, "validation failed")
	}

	f.config = &config
	zlog.Info().Msgf("recently played filter config: %+v", config)
	return nil
}

func (f *RecentlyPlayedFilter) AppliesTo(requesterType track.RequesterType) bool {
	// Applies to everything, including fallback-playlist autoplay fills
	return true
}

func (f *RecentlyPlayedFilter) Check(ctx context.Context, req TrackRequest, t track.Track) Result {
	if t.URL == "" {
		return Accept()
	}

	window := 90 * time.Minute
	if f.config != nil {
		window = time.Duration(f.config.WindowMinutes) * time.Minute
	}

	recent, err := f.history.IsRecentlyPlayed(ctx, req.SessionID, t.URL, window)
	if err != nil {
		// History lookups fail open, a store hiccup must not block requests
		zlog.Warn().Msgf("recently played check failed: %v", err)
		return Accept()
	}
	if recent {
		return Reject("recently_played")
	}
	return Accept()
}
