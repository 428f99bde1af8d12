package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// ErrLocked is returned when another process holds the storage file.
var ErrLocked = errors.New("storage: locked by another process")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Preferences() PreferenceStore
	Attempts() AttemptStore
}

// PreferenceStore is a small durable key/value store for engine preferences
// such as the tracked pet identifier and its cached display name.
type PreferenceStore interface {
	// Get returns ErrNotFound when the key has never been set or was deleted.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// Delete is a no-op for missing keys.
	Delete(ctx context.Context, key string) error
}

// AttemptStore records the outcome of every uplink attempt.
type AttemptStore interface {
	Add(ctx context.Context, attempt UplinkAttempt) error
	// List returns attempts newest first.
	List(ctx context.Context, filter AttemptFilter) ([]UplinkAttempt, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// AttemptFilter defines criteria for querying uplink attempts.
type AttemptFilter struct {
	PetID string
	Since *time.Time
	Limit int
}
