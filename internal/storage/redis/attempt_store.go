package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/petwatch/internal/storage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const attemptsIndexKey = keyPrefix + "attempts"

type attemptStore struct {
	client *redis.Client
}

func attemptKey(id string) string {
	return fmt.Sprintf("%sattempt:%s", keyPrefix, id)
}

func petIndexKey(petID string) string {
	return fmt.Sprintf("%sattempts:pet:%s", keyPrefix, petID)
}

// Add stores an uplink attempt
func (s *attemptStore) Add(ctx context.Context, attempt storage.UplinkAttempt) error {
	if attempt.AttemptedAt.IsZero() {
		attempt.AttemptedAt = time.Now().UTC()
	}
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}

	script := redis.NewScript(addAttemptScript)
	keys := []string{attemptKey(attempt.ID), attemptsIndexKey, petIndexKey(attempt.PetID)}
	args := []interface{}{
		attempt.ID,
		attempt.AttemptedAt.UnixMilli(),
		attempt.SessionID,
		attempt.PetID,
		strconv.FormatFloat(attempt.Latitude, 'f', -1, 64),
		strconv.FormatFloat(attempt.Longitude, 'f', -1, 64),
		attempt.SampledAt.Format(time.RFC3339Nano),
		attempt.AttemptedAt.Format(time.RFC3339Nano),
		boolString(attempt.Success),
		attempt.StatusCode,
		attempt.ErrorKind,
		attempt.Message,
		attempt.DurationMS,
	}

	return script.Run(ctx, s.client, keys, args...).Err()
}

// List returns attempts newest first
func (s *attemptStore) List(ctx context.Context, filter storage.AttemptFilter) ([]storage.UplinkAttempt, error) {
	index := attemptsIndexKey
	if filter.PetID != "" {
		index = petIndexKey(filter.PetID)
	}

	min := "-inf"
	if filter.Since != nil {
		min = strconv.FormatInt(filter.Since.UnixMilli(), 10)
	}

	ids, err := s.client.ZRevRangeByScore(ctx, index, &redis.ZRangeBy{Min: min, Max: "+inf"}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []storage.UplinkAttempt{}, nil
	}

	// Use pipeline for efficient batch retrieval
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, attemptKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	attempts := make([]storage.UplinkAttempt, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}
		attempt, err := parseAttempt(data)
		if err != nil {
			return nil, err
		}
		if !filter.Matches(*attempt) {
			continue
		}
		attempts = append(attempts, *attempt)
		if filter.Limit > 0 && len(attempts) >= filter.Limit {
			break
		}
	}

	return attempts, nil
}

// DeleteBefore removes attempts made before cutoff
func (s *attemptStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	script := redis.NewScript(deleteAttemptsBeforeScript)
	deleted, err := script.Run(ctx, s.client, []string{attemptsIndexKey}, cutoff.UnixMilli(), keyPrefix).Int()
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func boolString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
