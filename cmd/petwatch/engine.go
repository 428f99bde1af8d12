package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/goodtune/petwatch/internal/config"
	"github.com/goodtune/petwatch/internal/identity"
	"github.com/goodtune/petwatch/internal/location"
	"github.com/goodtune/petwatch/internal/metrics"
	"github.com/goodtune/petwatch/internal/permission"
	"github.com/goodtune/petwatch/internal/storage"
	"github.com/goodtune/petwatch/internal/storage/bolt"
	"github.com/goodtune/petwatch/internal/storage/redis"
	"github.com/goodtune/petwatch/internal/tracker"
	"github.com/goodtune/petwatch/internal/uplink"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// engine holds the components shared by the daemon and the one-shot commands.
type engine struct {
	store    storage.Store
	client   *uplink.Client
	identity *identity.Store
	gate     *permission.Gatekeeper
	sampler  *location.Sampler
}

func newEngine(cfg *config.Config, store storage.Store, logger zerolog.Logger) (*engine, error) {
	client, err := newUplinkClient(cfg.Uplink, logger)
	if err != nil {
		return nil, err
	}

	ids, err := identity.New(store.Preferences(), client, identity.Config{
		RefreshTimeout: parseDuration(cfg.Uplink.Timeout, 30*time.Second),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize identity store: %w", err)
	}

	provider, err := newProvider(cfg.Location, logger)
	if err != nil {
		return nil, err
	}

	return &engine{
		store:    store,
		client:   client,
		identity: ids,
		gate: permission.NewGatekeeper(
			newPlatform(cfg.Permissions),
			parseDuration(cfg.Permissions.PromptTimeout, 2*time.Minute),
			logger,
		),
		sampler: location.NewSampler(provider, location.RealClock{}, logger),
	}, nil
}

func newUplinkClient(cfg config.UplinkConfig, logger zerolog.Logger) (*uplink.Client, error) {
	httpClient := &http.Client{Timeout: parseDuration(cfg.Timeout, 30*time.Second)}

	client, err := uplink.New(uplink.Config{
		BaseURL:    cfg.BaseURL,
		Credential: cfg.Credential,
		Username:   cfg.Username,
		Password:   cfg.Password,
		UserAgent:  cfg.UserAgent,
	}, httpClient, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize uplink client: %w", err)
	}
	client.SetObserver(metrics.ObserveUplink)
	return client, nil
}

func newProvider(cfg config.LocationConfig, logger zerolog.Logger) (location.Provider, error) {
	switch cfg.Provider {
	case "static":
		return location.StaticProvider{
			Latitude:  cfg.Static.Latitude,
			Longitude: cfg.Static.Longitude,
		}, nil
	case "gpsd":
		return &location.GPSDProvider{
			Address:     cfg.GPSD.Address,
			DialTimeout: parseDuration(cfg.GPSD.DialTimeout, 5*time.Second),
			Logger:      logger,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported location provider: %s", cfg.Provider)
	}
}

// newPlatform maps configured answers onto a permission platform. Prompts go
// to the terminal when stdin is one; otherwise they resolve to unknown.
func newPlatform(cfg config.PermissionsConfig) *permission.StaticPlatform {
	answers := map[permission.Capability]permission.Answer{
		permission.ForegroundLocation: permission.Answer(cfg.ForegroundLocation),
		permission.BackgroundLocation: permission.Answer(cfg.BackgroundLocation),
		permission.Camera:             permission.Answer(cfg.Camera),
	}

	var prompter permission.Prompter
	if isatty.IsTerminal(os.Stdin.Fd()) {
		prompter = &permission.TerminalPrompter{In: os.Stdin, Out: os.Stderr}
	}
	return permission.NewStaticPlatform(answers, cfg.SplitBackground, prompter)
}

func trackerConfig(cfg config.TrackingConfig) tracker.Config {
	def := tracker.DefaultConfig()
	return tracker.Config{
		Interval:        parseDuration(cfg.Interval, def.Interval),
		DisplayInterval: parseDuration(cfg.DisplayInterval, def.DisplayInterval),
		Sample:          samplerOptions(cfg.Background, def.Sample),
		DisplaySample:   samplerOptions(cfg.Foreground, def.DisplaySample),
		AutoStart:       cfg.AutoStart,
	}
}

func samplerOptions(cfg config.SamplerConfig, def location.Options) location.Options {
	return location.Options{
		HighAccuracy: cfg.HighAccuracy,
		Timeout:      parseDuration(cfg.Timeout, def.Timeout),
		MaximumAge:   parseDuration(cfg.MaximumAge, def.MaximumAge),
	}
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = "bolt"
	}

	switch storageType {
	case "bolt":
		return bolt.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (must be bolt or redis)", storageType)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// quietLogger is used by one-shot commands so logs do not interleave with output.
func quietLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.ErrorLevel).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
