package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/petwatch/internal/storage"
)

// parseAttempt converts a Redis hash to UplinkAttempt
func parseAttempt(data map[string]string) (*storage.UplinkAttempt, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	lat, err := strconv.ParseFloat(data["lat"], 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse lat: %w", err)
	}

	lon, err := strconv.ParseFloat(data["lon"], 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse lon: %w", err)
	}

	sampledAt, err := time.Parse(time.RFC3339Nano, data["sampled_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse sampled_at: %w", err)
	}

	attemptedAt, err := time.Parse(time.RFC3339Nano, data["attempted_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse attempted_at: %w", err)
	}

	statusCode, err := strconv.Atoi(data["status_code"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse status_code: %w", err)
	}

	durationMS, err := strconv.ParseInt(data["duration_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse duration_ms: %w", err)
	}

	return &storage.UplinkAttempt{
		ID:          data["id"],
		SessionID:   data["session_id"],
		PetID:       data["pet_id"],
		Latitude:    lat,
		Longitude:   lon,
		SampledAt:   sampledAt,
		AttemptedAt: attemptedAt,
		Success:     data["success"] == "1",
		StatusCode:  statusCode,
		ErrorKind:   data["error_kind"],
		Message:     data["message"],
		DurationMS:  durationMS,
	}, nil
}
