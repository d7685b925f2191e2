// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/vexolabs/autodj/internal/app/discovery"
	"github.com/vexolabs/autodj/internal/app/filter"
	"github.com/vexolabs/autodj/internal/app/session"
	"github.com/vexolabs/autodj/internal/infra/config"
	"github.com/vexolabs/autodj/internal/infra/logger"
	"github.com/vexolabs/autodj/internal/infra/resolver"
	"github.com/vexolabs/autodj/internal/infra/spotify"
	"github.com/vexolabs/autodj/internal/infra/store"
)

var (
	app        = kingpin.New("autodj-server", "autodj adaptive autoplay engine")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	// list-filters command
	listFiltersCmd = app.Command("list-filters", "List available filters and exit")
)

func init() {
	// start command (default) - no need to store the command
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	// Handle list-filters command
	if command == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

	// Initialize logger
	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	// Override with command-line flags if specified
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	// Load config
	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	// Run server (defer ensures shutdown hook is called)
	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	// Validate filter config
	if err := validateFilterConfig(cfg); err != nil {
		return fmt.Errorf("invalid filter config: %w", err)
	}

	// Open the preference store
	st, err := store.Open(cfg.Database.Path, store.InteractionWeights{
		Like:    cfg.Discovery.Weights.Like,
		Dislike: cfg.Discovery.Weights.Dislike,
		Skip:    cfg.Discovery.Weights.Skip,
		Request: cfg.Discovery.Weights.Request,
	})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()
	zlog.Info().Msgf("Preference store ready: path=%s", cfg.Database.Path)

	// Create the optional Spotify bridge
	var bridge resolver.PlaylistBridge
	if cfg.Spotify.ClientID != "" && cfg.Spotify.ClientSecret != "" {
		spotifyClient, err := spotify.New(context.Background(), spotify.Config{
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
		})
		if err != nil {
			return fmt.Errorf("failed to create Spotify client: %w", err)
		}
		bridge = spotifyClient
		zlog.Info().Msg("Spotify bridge enabled")
	} else {
		zlog.Info().Msg("Spotify credentials not configured, link expansion disabled")
	}

	// Create the track resolver
	res := resolver.New(resolver.Config{
		RateLimitPerSec:  cfg.Resolver.RateLimitPerSec,
		RateLimitBurst:   cfg.Resolver.RateLimitBurst,
		SearchResultSize: cfg.Resolver.SearchResultSize,
	}, bridge)

	// Create the discovery scorer and fairness allocator
	scorer := discovery.NewScorer(st, discovery.Config{
		RatioComfort:      cfg.Discovery.RatioComfort,
		RatioAdjacent:     cfg.Discovery.RatioAdjacent,
		RatioWildcard:     cfg.Discovery.RatioWildcard,
		DecayHalfLifeDays: cfg.Discovery.DecayHalfLifeDays,
		DedupWindow:       time.Duration(cfg.Discovery.DedupMinutes) * time.Minute,
		GenreMatchScore:   cfg.Discovery.GenreMatchScore,
		CollabScore:       cfg.Discovery.CollabScore,
		MomentumScore:     cfg.Discovery.MomentumScore,
	})
	allocator := discovery.NewAllocator(scorer, cfg.Discovery.SlotsPerUser)

	// Create the session engine
	engine := session.NewEngine(cfg, st, res, allocator, scorer)
	defer engine.Close()

	zlog.Info().Msg("Engine started")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	zlog.Info().Msg("Received shutdown signal...")
	zlog.Info().Msg("Server stopped")
	return nil
}

// printFilters prints available filters.
func printFilters() {
	fmt.Println("Available Filters:")
	for _, factory := range filter.GetRegistered() {
		f := factory()
		codes := strings.Join(f.ReturnCodes(), ", ")
		fmt.Printf("  %-30s - %s [codes: %s]\n", f.Name(), f.Description(), codes)
	}
}

// validateFilterConfig validates filter configurations.
func validateFilterConfig(cfg *config.Config) error {
	registry := filter.GetRegistered()

	for filterName, filterCfg := range cfg.Filters {
		if !filterCfg.Enabled {
			continue
		}

		factory, exists := registry[filterName]
		if !exists {
			// Some filters are created with dependencies, skip validation
			continue
		}

		f := factory()
		if err := f.ValidateConfig(filterCfg.Settings); err != nil {
			return fmt.Errorf("filter %s: %w", filterName, err)
		}
	}

	return nil
}
