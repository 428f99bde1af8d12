package tracker

import (
	"fmt"
	"time"

	"github.com/goodtune/petwatch/internal/location"
)

// Config is the immutable session configuration.
type Config struct {
	// Interval is the supervisor cadence; every tick samples and uplinks.
	Interval time.Duration
	// DisplayInterval is the foreground display cadence, at most Interval.
	DisplayInterval time.Duration
	// Sample configures background samples.
	Sample location.Options
	// DisplaySample configures foreground display samples.
	DisplaySample location.Options
	// AutoStart starts tracking from Load when a pet id is stored.
	AutoStart bool
}

// DefaultConfig returns the reference cadence and sampling options.
func DefaultConfig() Config {
	return Config{
		Interval:        60 * time.Second,
		DisplayInterval: 60 * time.Second,
		Sample: location.Options{
			HighAccuracy: true,
			Timeout:      60 * time.Second,
			MaximumAge:   10 * time.Second,
		},
		DisplaySample: location.Options{
			HighAccuracy: true,
			Timeout:      30 * time.Second,
			MaximumAge:   10 * time.Second,
		},
		AutoStart: true,
	}
}

// Validate checks the cadence and the sample timeouts.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("tracking interval must be positive, got %s", c.Interval)
	}
	if c.DisplayInterval <= 0 {
		return fmt.Errorf("display interval must be positive, got %s", c.DisplayInterval)
	}
	if c.DisplayInterval > c.Interval {
		return fmt.Errorf("display interval %s exceeds tracking interval %s", c.DisplayInterval, c.Interval)
	}
	if c.Sample.Timeout <= 0 {
		return fmt.Errorf("background sample timeout must be positive, got %s", c.Sample.Timeout)
	}
	if c.DisplaySample.Timeout <= 0 {
		return fmt.Errorf("display sample timeout must be positive, got %s", c.DisplaySample.Timeout)
	}
	return nil
}
