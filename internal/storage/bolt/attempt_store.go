package bolt

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/petwatch/internal/storage"
	"go.etcd.io/bbolt"
)

type attemptStore struct {
	db *bbolt.DB
}

func (s *attemptStore) Add(ctx context.Context, attempt storage.UplinkAttempt) error {
	if attempt.AttemptedAt.IsZero() {
		attempt.AttemptedAt = time.Now().UTC()
	}
	if attempt.ID == "" {
		key, err := timeKey("attempt", attempt.AttemptedAt)
		if err != nil {
			return err
		}
		attempt.ID = key
	}
	data, err := marshal(attempt)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		bucket := tx.Bucket([]byte(bucketAttempts))
		if bucket == nil {
			return fmt.Errorf("attempt bucket missing")
		}
		if err := bucket.Put([]byte(attempt.ID), data); err != nil {
			return err
		}
		petBucket, err := ensureIndexBucket(tx, bucketIndexAttempt, bucketIndexPet, petIndexKey(attempt.PetID))
		if err != nil {
			return err
		}
		return petBucket.Put([]byte(attempt.ID), []byte{})
	})
}

func (s *attemptStore) List(ctx context.Context, filter storage.AttemptFilter) ([]storage.UplinkAttempt, error) {
	attempts := make([]storage.UplinkAttempt, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketAttempts))
		if bucket == nil {
			return nil
		}

		// Keys are time ordered, so walking backwards yields newest first.
		keys := bucket
		if filter.PetID != "" {
			keys = indexBucket(tx, bucketIndexAttempt, bucketIndexPet, petIndexKey(filter.PetID))
			if keys == nil {
				return nil
			}
		}

		c := keys.Cursor()
		for k, _ := c.Last(); k != nil; k, _ = c.Prev() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			value := bucket.Get(k)
			if value == nil {
				continue
			}
			var attempt storage.UplinkAttempt
			if err := unmarshal(value, &attempt); err != nil {
				return err
			}
			if !filter.Matches(attempt) {
				continue
			}
			attempts = append(attempts, attempt)
			if filter.Limit > 0 && len(attempts) >= filter.Limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return attempts, nil
}

func (s *attemptStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	deleted := 0
	return deleted, s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		bucket := tx.Bucket([]byte(bucketAttempts))
		if bucket == nil {
			return nil
		}
		c := bucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var attempt storage.UplinkAttempt
			if err := unmarshal(v, &attempt); err != nil {
				return err
			}
			if !attempt.AttemptedAt.Before(cutoff) {
				continue
			}
			if err := c.Delete(); err != nil {
				return err
			}
			if idx := indexBucket(tx, bucketIndexAttempt, bucketIndexPet, petIndexKey(attempt.PetID)); idx != nil {
				if err := idx.Delete(k); err != nil {
					return err
				}
			}
			deleted++
		}
		return nil
	})
}

func petIndexKey(petID string) string {
	if petID == "" {
		return "unknown"
	}
	return petID
}
