package tracker

import (
	"time"

	"github.com/goodtune/petwatch/internal/location"
	"github.com/goodtune/petwatch/internal/uplink"
)

// StatusKind names a status update.
type StatusKind string

const (
	StatusStarted      StatusKind = "started"
	StatusStopped      StatusKind = "stopped"
	StatusDenied       StatusKind = "denied"
	StatusLocation     StatusKind = "location"
	StatusSent         StatusKind = "sent"
	StatusSampleFailed StatusKind = "sample_failed"
	StatusUplinkFailed StatusKind = "uplink_failed"
	// StatusPetCleared ends a session whose pet id was removed.
	StatusPetCleared StatusKind = "pet_cleared"
	// StatusTickFailed reports a background tick error with no more
	// specific kind.
	StatusTickFailed StatusKind = "tick_failed"
)

// Status is a structured update for the host UI.
type Status struct {
	Kind      StatusKind       `json:"kind"`
	Time      time.Time        `json:"time"`
	SessionID string           `json:"session_id,omitempty"`
	PetID     string           `json:"pet_id,omitempty"`
	Sample    *location.Sample `json:"sample,omitempty"`
	// Ack holds the verbatim service response of the last delivery.
	Ack     *uplink.Ack `json:"ack,omitempty"`
	Err     error       `json:"-"`
	Message string      `json:"message,omitempty"`
}

// Failed reports whether the status carries an error.
func (s Status) Failed() bool {
	return s.Err != nil
}
