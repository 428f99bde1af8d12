package main

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/petwatch/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var validateDump bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the PetWatch configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with defaults highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)

	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		fmt.Fprintln(os.Stdout)
		_, _ = red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			_, _ = red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	if validateDump {
		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))

		dumpConfig(cfg, config.Defaults(), unknownKeys)
	}

	return nil
}

// findUnknownKeys loads the config file and reports keys without a default.
func findUnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	validKeys := getValidKeys()

	unknown := []string{}
	for _, key := range v.AllKeys() {
		if !validKeys[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)

	return unknown, nil
}

// getValidKeys returns every key the config package sets a default for.
func getValidKeys() map[string]bool {
	v := viper.New()
	config.SetDefaults(v)

	keys := make(map[string]bool)
	for _, key := range v.AllKeys() {
		keys[key] = true
	}
	return keys
}

// dumpConfig dumps configuration with color highlighting for non-default values
func dumpConfig(cfg, defaultCfg *config.Config, unknownKeys []string) {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	field := func(name string, value, defaultValue interface{}) {
		dumpField(name, value, defaultValue, yellow, green)
	}

	_, _ = cyan.Println("\n[pet]")
	field("  id", cfg.Pet.ID, defaultCfg.Pet.ID)

	_, _ = cyan.Println("\n[uplink]")
	field("  base_url", cfg.Uplink.BaseURL, defaultCfg.Uplink.BaseURL)
	field("  credential", redactPassword(cfg.Uplink.Credential), redactPassword(defaultCfg.Uplink.Credential))
	field("  username", cfg.Uplink.Username, defaultCfg.Uplink.Username)
	field("  password", redactPassword(cfg.Uplink.Password), redactPassword(defaultCfg.Uplink.Password))
	field("  timeout", cfg.Uplink.Timeout, defaultCfg.Uplink.Timeout)
	field("  user_agent", cfg.Uplink.UserAgent, defaultCfg.Uplink.UserAgent)

	_, _ = cyan.Println("\n[tracking]")
	field("  interval", cfg.Tracking.Interval, defaultCfg.Tracking.Interval)
	field("  display_interval", cfg.Tracking.DisplayInterval, defaultCfg.Tracking.DisplayInterval)
	field("  auto_start", cfg.Tracking.AutoStart, defaultCfg.Tracking.AutoStart)
	field("  require_systemd", cfg.Tracking.RequireSystemd, defaultCfg.Tracking.RequireSystemd)
	for _, s := range []struct {
		name     string
		cur, def config.SamplerConfig
	}{
		{"background", cfg.Tracking.Background, defaultCfg.Tracking.Background},
		{"foreground", cfg.Tracking.Foreground, defaultCfg.Tracking.Foreground},
	} {
		_, _ = cyan.Printf("  [tracking.%s]\n", s.name)
		field("    high_accuracy", s.cur.HighAccuracy, s.def.HighAccuracy)
		field("    timeout", s.cur.Timeout, s.def.Timeout)
		field("    maximum_age", s.cur.MaximumAge, s.def.MaximumAge)
	}

	_, _ = cyan.Println("\n[location]")
	field("  provider", cfg.Location.Provider, defaultCfg.Location.Provider)
	_, _ = cyan.Println("  [location.static]")
	field("    latitude", cfg.Location.Static.Latitude, defaultCfg.Location.Static.Latitude)
	field("    longitude", cfg.Location.Static.Longitude, defaultCfg.Location.Static.Longitude)
	_, _ = cyan.Println("  [location.gpsd]")
	field("    address", cfg.Location.GPSD.Address, defaultCfg.Location.GPSD.Address)
	field("    dial_timeout", cfg.Location.GPSD.DialTimeout, defaultCfg.Location.GPSD.DialTimeout)

	_, _ = cyan.Println("\n[permissions]")
	field("  split_background", cfg.Permissions.SplitBackground, defaultCfg.Permissions.SplitBackground)
	field("  foreground_location", cfg.Permissions.ForegroundLocation, defaultCfg.Permissions.ForegroundLocation)
	field("  background_location", cfg.Permissions.BackgroundLocation, defaultCfg.Permissions.BackgroundLocation)
	field("  camera", cfg.Permissions.Camera, defaultCfg.Permissions.Camera)
	field("  prompt_timeout", cfg.Permissions.PromptTimeout, defaultCfg.Permissions.PromptTimeout)

	_, _ = cyan.Println("\n[storage]")
	field("  type", cfg.Storage.Type, defaultCfg.Storage.Type)
	field("  path", cfg.Storage.Path, defaultCfg.Storage.Path)
	_, _ = cyan.Println("  [storage.redis]")
	field("    host", cfg.Storage.Redis.Host, defaultCfg.Storage.Redis.Host)
	field("    port", cfg.Storage.Redis.Port, defaultCfg.Storage.Redis.Port)
	field("    password", redactPassword(cfg.Storage.Redis.Password), redactPassword(defaultCfg.Storage.Redis.Password))
	field("    db", cfg.Storage.Redis.DB, defaultCfg.Storage.Redis.DB)
	field("    pool_size", cfg.Storage.Redis.PoolSize, defaultCfg.Storage.Redis.PoolSize)
	field("    min_idle_conns", cfg.Storage.Redis.MinIdleConns, defaultCfg.Storage.Redis.MinIdleConns)
	field("    dial_timeout", cfg.Storage.Redis.DialTimeout, defaultCfg.Storage.Redis.DialTimeout)
	field("    read_timeout", cfg.Storage.Redis.ReadTimeout, defaultCfg.Storage.Redis.ReadTimeout)
	field("    write_timeout", cfg.Storage.Redis.WriteTimeout, defaultCfg.Storage.Redis.WriteTimeout)

	_, _ = cyan.Println("\n[history]")
	field("  enabled", cfg.History.Enabled, defaultCfg.History.Enabled)
	field("  retention", cfg.History.Retention, defaultCfg.History.Retention)
	field("  prune_interval", cfg.History.PruneInterval, defaultCfg.History.PruneInterval)

	_, _ = cyan.Println("\n[logging]")
	field("  level", cfg.Logging.Level, defaultCfg.Logging.Level)
	field("  format", cfg.Logging.Format, defaultCfg.Logging.Format)

	_, _ = cyan.Println("\n[control]")
	field("  enabled", cfg.Control.Enabled, defaultCfg.Control.Enabled)
	field("  bind_address", cfg.Control.BindAddress, defaultCfg.Control.BindAddress)
	field("  port", cfg.Control.Port, defaultCfg.Control.Port)
	field("  token", redactPassword(cfg.Control.Token), redactPassword(defaultCfg.Control.Token))

	_, _ = cyan.Println("\n[metrics]")
	field("  enabled", cfg.Metrics.Enabled, defaultCfg.Metrics.Enabled)
	field("  bind_address", cfg.Metrics.BindAddress, defaultCfg.Metrics.BindAddress)
	field("  port", cfg.Metrics.Port, defaultCfg.Metrics.Port)

	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		_, _ = cyan.Println("\n[UNKNOWN KEYS - These will be ignored!]")
		for _, key := range unknownKeys {
			_, _ = red.Printf("  %s = (unknown key - check for typos)\n", key)
		}
	}

	_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
}

// dumpField prints a field with color if it differs from default
func dumpField(name string, value, defaultValue interface{}, modifiedColor, defaultColor *color.Color) {
	isDefault := reflect.DeepEqual(value, defaultValue)

	valueStr := fmt.Sprintf("%v", value)

	if isDefault {
		_, _ = defaultColor.Printf("%s = %s\n", name, valueStr)
	} else {
		_, _ = modifiedColor.Printf("%s = %s  (modified from default: %v)\n", name, valueStr, defaultValue)
	}
}

// redactPassword redacts password if not empty
func redactPassword(password string) string {
	if password == "" {
		return ""
	}
	return "***REDACTED***"
}
