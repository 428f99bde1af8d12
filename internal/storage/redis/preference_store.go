package redis

import (
	"context"
	"errors"

	"github.com/goodtune/petwatch/internal/storage"
	"github.com/redis/go-redis/v9"
)

const preferencesKey = keyPrefix + "preferences"

type preferenceStore struct {
	client *redis.Client
}

// Get returns a preference value
func (s *preferenceStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.HGet(ctx, preferencesKey, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// Set stores a preference value
func (s *preferenceStore) Set(ctx context.Context, key, value string) error {
	return s.client.HSet(ctx, preferencesKey, key, value).Err()
}

// Delete removes a preference
func (s *preferenceStore) Delete(ctx context.Context, key string) error {
	return s.client.HDel(ctx, preferencesKey, key).Err()
}
