package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Pet         PetConfig         `mapstructure:"pet"`
	Uplink      UplinkConfig      `mapstructure:"uplink"`
	Tracking    TrackingConfig    `mapstructure:"tracking"`
	Location    LocationConfig    `mapstructure:"location"`
	Permissions PermissionsConfig `mapstructure:"permissions"`
	Storage     StorageConfig     `mapstructure:"storage"`
	History     HistoryConfig     `mapstructure:"history"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Control     ControlConfig     `mapstructure:"control"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// PetConfig seeds the tracked pet identifier.
type PetConfig struct {
	// ID is written to storage on startup when storage holds no identifier yet.
	ID string `mapstructure:"id"`
}

// UplinkConfig defines the remote reporting service
type UplinkConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	Credential string `mapstructure:"credential"` // pre-encoded Basic credential
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	Timeout    string `mapstructure:"timeout"`
	UserAgent  string `mapstructure:"user_agent"`
}

// TrackingConfig defines the session cadence and sampling options
type TrackingConfig struct {
	Interval        string        `mapstructure:"interval"`
	DisplayInterval string        `mapstructure:"display_interval"`
	AutoStart       bool          `mapstructure:"auto_start"`
	RequireSystemd  bool          `mapstructure:"require_systemd"`
	Background      SamplerConfig `mapstructure:"background"`
	Foreground      SamplerConfig `mapstructure:"foreground"`
}

// SamplerConfig mirrors location.Options with string durations
type SamplerConfig struct {
	HighAccuracy bool   `mapstructure:"high_accuracy"`
	Timeout      string `mapstructure:"timeout"`
	MaximumAge   string `mapstructure:"maximum_age"`
}

// LocationConfig selects the position provider
type LocationConfig struct {
	Provider string       `mapstructure:"provider"` // "static" or "gpsd"
	Static   StaticConfig `mapstructure:"static"`
	GPSD     GPSDConfig   `mapstructure:"gpsd"`
}

// StaticConfig defines a fixed position
type StaticConfig struct {
	Latitude  float64 `mapstructure:"latitude"`
	Longitude float64 `mapstructure:"longitude"`
}

// GPSDConfig defines the gpsd connection
type GPSDConfig struct {
	Address     string `mapstructure:"address"`
	DialTimeout string `mapstructure:"dial_timeout"`
}

// PermissionsConfig defines the host permission answers.
// Each capability is "granted", "denied" or "prompt".
type PermissionsConfig struct {
	SplitBackground    bool   `mapstructure:"split_background"`
	ForegroundLocation string `mapstructure:"foreground_location"`
	BackgroundLocation string `mapstructure:"background_location"`
	Camera             string `mapstructure:"camera"`
	PromptTimeout      string `mapstructure:"prompt_timeout"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"`
	Path  string      `mapstructure:"path"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// HistoryConfig defines uplink attempt history retention
type HistoryConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Retention     string `mapstructure:"retention"`
	PruneInterval string `mapstructure:"prune_interval"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ControlConfig defines the local control API
type ControlConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BindAddress string `mapstructure:"bind_address"`
	Port        int    `mapstructure:"port"`
	Token       string `mapstructure:"token"`
}

// MetricsConfig defines the Prometheus endpoint
type MetricsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BindAddress string `mapstructure:"bind_address"`
	Port        int    `mapstructure:"port"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("PETWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Defaults returns a configuration populated only with default values.
func Defaults() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	v.SetDefault("pet.id", "")

	// Uplink defaults
	v.SetDefault("uplink.base_url", "https://api.petwatch.tech")
	v.SetDefault("uplink.credential", "")
	v.SetDefault("uplink.username", "")
	v.SetDefault("uplink.password", "")
	v.SetDefault("uplink.timeout", "30s")
	v.SetDefault("uplink.user_agent", "petwatch")

	// Tracking defaults
	v.SetDefault("tracking.interval", "60s")
	v.SetDefault("tracking.display_interval", "60s")
	v.SetDefault("tracking.auto_start", true)
	v.SetDefault("tracking.require_systemd", false)
	v.SetDefault("tracking.background.high_accuracy", true)
	v.SetDefault("tracking.background.timeout", "60s")
	v.SetDefault("tracking.background.maximum_age", "10s")
	v.SetDefault("tracking.foreground.high_accuracy", true)
	v.SetDefault("tracking.foreground.timeout", "30s")
	v.SetDefault("tracking.foreground.maximum_age", "10s")

	// Location defaults
	v.SetDefault("location.provider", "gpsd")
	v.SetDefault("location.static.latitude", 0.0)
	v.SetDefault("location.static.longitude", 0.0)
	v.SetDefault("location.gpsd.address", "localhost:2947")
	v.SetDefault("location.gpsd.dial_timeout", "5s")

	// Permission defaults
	v.SetDefault("permissions.split_background", true)
	v.SetDefault("permissions.foreground_location", "prompt")
	v.SetDefault("permissions.background_location", "prompt")
	v.SetDefault("permissions.camera", "prompt")
	v.SetDefault("permissions.prompt_timeout", "2m")

	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", "/var/lib/petwatch/petwatch.bolt")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// History defaults
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.retention", "168h")
	v.SetDefault("history.prune_interval", "1h")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Control API defaults
	v.SetDefault("control.enabled", true)
	v.SetDefault("control.bind_address", "127.0.0.1")
	v.SetDefault("control.port", 8741)
	v.SetDefault("control.token", "")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.bind_address", "127.0.0.1")
	v.SetDefault("metrics.port", 9741)
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Uplink.BaseURL == "" {
		return fmt.Errorf("uplink base_url is required")
	}

	switch cfg.Location.Provider {
	case "static", "gpsd":
	default:
		return fmt.Errorf("invalid location provider: %q (must be static or gpsd)", cfg.Location.Provider)
	}

	if cfg.Location.Static.Latitude < -90 || cfg.Location.Static.Latitude > 90 {
		return fmt.Errorf("invalid static latitude: %v", cfg.Location.Static.Latitude)
	}
	if cfg.Location.Static.Longitude < -180 || cfg.Location.Static.Longitude > 180 {
		return fmt.Errorf("invalid static longitude: %v", cfg.Location.Static.Longitude)
	}

	for name, answer := range map[string]string{
		"foreground_location": cfg.Permissions.ForegroundLocation,
		"background_location": cfg.Permissions.BackgroundLocation,
		"camera":              cfg.Permissions.Camera,
	} {
		switch answer {
		case "granted", "denied", "prompt":
		default:
			return fmt.Errorf("invalid permission answer for %s: %q", name, answer)
		}
	}

	for name, raw := range map[string]string{
		"background": cfg.Tracking.Background.Timeout,
		"foreground": cfg.Tracking.Foreground.Timeout,
	} {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid tracking %s timeout %q: %w", name, raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("invalid tracking %s timeout: %s must be positive", name, d)
		}
	}

	if cfg.Control.Enabled && (cfg.Control.Port <= 0 || cfg.Control.Port > 65535) {
		return fmt.Errorf("invalid control port: %d", cfg.Control.Port)
	}
	if cfg.Metrics.Enabled && (cfg.Metrics.Port <= 0 || cfg.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics port: %d", cfg.Metrics.Port)
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "bolt"
	}

	switch cfg.Storage.Type {
	case "bolt":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}
		// Ensure storage directory exists
		storageDir := filepath.Dir(cfg.Storage.Path)
		if err := os.MkdirAll(storageDir, 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("storage redis host is required")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s (must be bolt or redis)", cfg.Storage.Type)
	}

	return nil
}
