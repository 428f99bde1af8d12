package bolt

import (
	"context"

	"go.etcd.io/bbolt"
)

type preferenceStore struct {
	db *bbolt.DB
}

// preference is the stored envelope; values are JSON so the bucket stays
// inspectable with generic bolt tooling.
type preference struct {
	Value string `json:"value"`
}

func (s *preferenceStore) Get(ctx context.Context, key string) (string, error) {
	pref, err := getBucketValue[preference](ctx, s.db, bucketPreferences, key)
	if err != nil {
		return "", err
	}
	return pref.Value, nil
}

func (s *preferenceStore) Set(ctx context.Context, key, value string) error {
	return putBucketValue(ctx, s.db, bucketPreferences, key, preference{Value: value})
}

func (s *preferenceStore) Delete(ctx context.Context, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketPreferences))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}
