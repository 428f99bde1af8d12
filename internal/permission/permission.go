// Package permission queries and requests the capabilities the tracking
// engine needs from its host.
package permission

import (
	"context"
	"fmt"
)

// Capability is a host permission.
type Capability int

const (
	ForegroundLocation Capability = iota + 1
	BackgroundLocation
	Camera
)

func (c Capability) String() string {
	switch c {
	case ForegroundLocation:
		return "foreground_location"
	case BackgroundLocation:
		return "background_location"
	case Camera:
		return "camera"
	default:
		return fmt.Sprintf("capability(%d)", int(c))
	}
}

// State is the tri-state answer for a capability.
type State int

const (
	StateUnknown State = iota
	StateGranted
	StateDenied
)

func (s State) String() string {
	switch s {
	case StateGranted:
		return "granted"
	case StateDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// MarshalText renders the state as its lowercase name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Rationale is shown to the user alongside a prompt.
type Rationale struct {
	Title   string
	Message string
}

// Rationales used when prompting.
var (
	CameraRationale = Rationale{
		Title:   "Camera Permission",
		Message: "PetWatch needs access to your camera to scan QR codes.",
	}
	LocationRationale = Rationale{
		Title:   "Location Permission",
		Message: "This app needs access to your location.",
	}
	BackgroundLocationRationale = Rationale{
		Title:   "Background Location Permission",
		Message: "This app needs access to your location in the background.",
	}
)

// RationaleFor returns the prompt text for a capability.
func RationaleFor(c Capability) Rationale {
	switch c {
	case Camera:
		return CameraRationale
	case BackgroundLocation:
		return BackgroundLocationRationale
	default:
		return LocationRationale
	}
}

// Platform is the host's permission facility.
type Platform interface {
	// Check reports the current state without prompting.
	Check(ctx context.Context, c Capability) (State, error)
	// Request prompts the user and blocks until they answer or ctx ends.
	Request(ctx context.Context, c Capability, r Rationale) (State, error)
	// SplitsBackgroundLocation reports whether background location is a
	// separate grant from foreground location.
	SplitsBackgroundLocation() bool
}

// DeniedError reports a capability that did not resolve to granted.
type DeniedError struct {
	Capability Capability
	State      State
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("permission: %s %s", e.Capability, e.State)
}

// Message is the user-facing explanation.
func (e *DeniedError) Message() string {
	switch e.Capability {
	case Camera:
		return "Camera permission is required to scan the pet's QR code."
	case BackgroundLocation:
		return "Background location permission is required to keep tracking while the app is not in use."
	default:
		return "Location permission is required to track your pet."
	}
}
