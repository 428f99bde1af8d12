// Package location acquires single position fixes from a provider and turns
// them into immutable samples.
package location

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors a Provider may return (optionally wrapped).
var (
	ErrPermissionDenied    = errors.New("location: permission denied")
	ErrPositionUnavailable = errors.New("location: position unavailable")
)

// Options configures a single position request.
type Options struct {
	HighAccuracy bool
	Timeout      time.Duration
	// MaximumAge allows a cached fix no older than this to satisfy the request.
	MaximumAge time.Duration
}

// Sample is one latitude/longitude/time reading.
type Sample struct {
	Latitude   float64   `json:"lat"`
	Longitude  float64   `json:"lon"`
	CapturedAt time.Time `json:"captured_at"`
}

// Fix is a raw provider answer.
type Fix struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64 // metres, zero when unknown
	Time      time.Time
}

// Provider is the "get current position" primitive.
type Provider interface {
	CurrentPosition(ctx context.Context, opts Options) (Fix, error)
}

// ErrorKind classifies sampler failures.
type ErrorKind int

const (
	KindTimeout ErrorKind = iota + 1
	KindPermissionDenied
	KindPositionUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindPermissionDenied:
		return "permission_denied"
	case KindPositionUnavailable:
		return "position_unavailable"
	default:
		return "unknown"
	}
}

// SamplerError is returned by Sampler.SampleOnce.
type SamplerError struct {
	Kind ErrorKind
	Err  error
}

func (e *SamplerError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("location: %s", e.Kind)
	}
	return fmt.Sprintf("location: %s: %v", e.Kind, e.Err)
}

func (e *SamplerError) Unwrap() error { return e.Err }
