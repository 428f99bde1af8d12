// Package identity persists the tracked pet's identifier and its cached
// display name.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/petwatch/internal/storage"
	"github.com/goodtune/petwatch/internal/uplink"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Preference keys.
const (
	KeyPetID   = "petID"
	KeyPetName = "petName"
)

// ErrEmptyID is returned by Set for an empty identifier.
var ErrEmptyID = errors.New("identity: empty pet id")

// Ref is the tracked pet. An empty Name means it has not been fetched.
type Ref struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// MetadataFetcher looks up pet metadata. *uplink.Client satisfies it.
type MetadataFetcher interface {
	FetchMetadata(ctx context.Context, petID string) (uplink.Metadata, error)
}

// Config configures a Store.
type Config struct {
	// CacheSize bounds the per-id name cache.
	CacheSize int
	// RefreshTimeout bounds background metadata refreshes.
	RefreshTimeout time.Duration
}

// Store is the durable pet identity.
type Store struct {
	prefs          storage.PreferenceStore
	fetcher        MetadataFetcher
	names          *lru.Cache[string, string]
	group          singleflight.Group
	refreshTimeout time.Duration
	logger         zerolog.Logger

	// mu serialises writes made by this process.
	mu sync.Mutex
	wg sync.WaitGroup
}

// New creates a Store. fetcher may be nil, disabling metadata refresh.
func New(prefs storage.PreferenceStore, fetcher MetadataFetcher, cfg Config, logger zerolog.Logger) (*Store, error) {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 16
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 30 * time.Second
	}

	names, err := lru.New[string, string](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create name cache: %w", err)
	}

	return &Store{
		prefs:          prefs,
		fetcher:        fetcher,
		names:          names,
		refreshTimeout: cfg.RefreshTimeout,
		logger:         logger.With().Str("component", "identity").Logger(),
	}, nil
}

// Get returns the stored pet. ok is false when no id has been captured.
func (s *Store) Get(ctx context.Context) (Ref, bool, error) {
	id, err := s.prefs.Get(ctx, KeyPetID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && id == "") {
		return Ref{}, false, nil
	}
	if err != nil {
		return Ref{}, false, fmt.Errorf("read %s: %w", KeyPetID, err)
	}

	name, err := s.prefs.Get(ctx, KeyPetName)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return Ref{}, false, fmt.Errorf("read %s: %w", KeyPetName, err)
	}
	return Ref{ID: id, Name: name}, true, nil
}

// Set stores a newly captured id and refreshes its metadata in the
// background. A changed id drops the cached name.
func (s *Store) Set(ctx context.Context, id string) error {
	if id == "" {
		return ErrEmptyID
	}

	s.mu.Lock()
	prev, err := s.prefs.Get(ctx, KeyPetID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.mu.Unlock()
		return fmt.Errorf("read %s: %w", KeyPetID, err)
	}
	if err := s.prefs.Set(ctx, KeyPetID, id); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("write %s: %w", KeyPetID, err)
	}
	if prev != id {
		if err := s.prefs.Delete(ctx, KeyPetName); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("clear %s: %w", KeyPetName, err)
		}
	}
	s.mu.Unlock()

	s.logger.Info().Str("pet_id", id).Bool("changed", prev != id).Msg("Pet id captured")
	s.refreshAsync(id)
	return nil
}

// Load reads the stored pet at process start and refreshes its metadata in
// the background when present.
func (s *Store) Load(ctx context.Context) (Ref, bool, error) {
	ref, ok, err := s.Get(ctx)
	if err != nil || !ok {
		return ref, ok, err
	}
	s.refreshAsync(ref.ID)
	return ref, true, nil
}

// Refresh fetches metadata for the stored id and waits for the result.
func (s *Store) Refresh(ctx context.Context) (Ref, error) {
	ref, ok, err := s.Get(ctx)
	if err != nil {
		return Ref{}, err
	}
	if !ok {
		return Ref{}, storage.ErrNotFound
	}
	return s.refresh(ctx, ref.ID, true)
}

// Clear removes the stored pet.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.prefs.Delete(ctx, KeyPetID); err != nil {
		return fmt.Errorf("clear %s: %w", KeyPetID, err)
	}
	if err := s.prefs.Delete(ctx, KeyPetName); err != nil {
		return fmt.Errorf("clear %s: %w", KeyPetName, err)
	}
	s.logger.Info().Msg("Pet id cleared")
	return nil
}

// Wait blocks until background refreshes have finished.
func (s *Store) Wait() {
	s.wg.Wait()
}

func (s *Store) refreshAsync(id string) {
	if s.fetcher == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.refreshTimeout)
		defer cancel()
		if _, err := s.refresh(ctx, id, false); err != nil {
			s.logger.Warn().Err(err).Str("pet_id", id).Msg("Pet metadata refresh failed")
		}
	}()
}

// refresh resolves the name for id and writes it through when id is still
// the stored pet. Without force a name cached by this process is reused.
func (s *Store) refresh(ctx context.Context, id string, force bool) (Ref, error) {
	if s.fetcher == nil {
		return Ref{}, errors.New("identity: metadata refresh disabled")
	}

	name, cached := s.names.Get(id)
	if !cached || force {
		v, err, shared := s.group.Do(id, func() (interface{}, error) {
			meta, err := s.fetcher.FetchMetadata(ctx, id)
			if err != nil {
				return "", err
			}
			return meta.Name, nil
		})
		if err != nil {
			return Ref{ID: id}, err
		}
		name = v.(string)
		s.names.Add(id, name)
		s.logger.Debug().Str("pet_id", id).Bool("shared", shared).Msg("Pet metadata fetched")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.prefs.Get(ctx, KeyPetID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return Ref{ID: id, Name: name}, fmt.Errorf("read %s: %w", KeyPetID, err)
	}
	if current != id {
		s.logger.Debug().Str("pet_id", id).Msg("Pet id changed during refresh, discarding name")
		return Ref{ID: id, Name: name}, nil
	}
	if name == "" {
		return Ref{ID: id}, nil
	}
	if err := s.prefs.Set(ctx, KeyPetName, name); err != nil {
		return Ref{ID: id, Name: name}, fmt.Errorf("write %s: %w", KeyPetName, err)
	}
	return Ref{ID: id, Name: name}, nil
}
