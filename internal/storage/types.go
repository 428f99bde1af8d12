package storage

import "time"

// UplinkAttempt is one delivery of a location sample to the remote service.
type UplinkAttempt struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	PetID       string    `json:"pet_id"`
	Latitude    float64   `json:"lat"`
	Longitude   float64   `json:"lon"`
	SampledAt   time.Time `json:"sampled_at"`
	AttemptedAt time.Time `json:"attempted_at"`
	Success     bool      `json:"success"`
	StatusCode  int       `json:"status_code,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	Message     string    `json:"message,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
}

// Matches reports whether the attempt satisfies the filter, ignoring Limit.
func (f AttemptFilter) Matches(a UplinkAttempt) bool {
	if f.PetID != "" && a.PetID != f.PetID {
		return false
	}
	if f.Since != nil && a.AttemptedAt.Before(*f.Since) {
		return false
	}
	return true
}
