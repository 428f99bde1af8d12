package identity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goodtune/petwatch/internal/storage"
	"github.com/goodtune/petwatch/internal/uplink"
	"github.com/rs/zerolog"
)

type memoryPrefs struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemoryPrefs() *memoryPrefs {
	return &memoryPrefs{values: make(map[string]string)}
}

func (m *memoryPrefs) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return v, nil
}

func (m *memoryPrefs) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *memoryPrefs) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

type fakeFetcher struct {
	names   map[string]string
	err     error
	calls   atomic.Int32
	release chan struct{}
}

func (f *fakeFetcher) FetchMetadata(ctx context.Context, petID string) (uplink.Metadata, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return uplink.Metadata{}, ctx.Err()
		}
	}
	if f.err != nil {
		return uplink.Metadata{}, f.err
	}
	return uplink.Metadata{Name: f.names[petID]}, nil
}

func newTestStore(t *testing.T, prefs storage.PreferenceStore, fetcher MetadataFetcher) *Store {
	t.Helper()
	store, err := New(prefs, fetcher, Config{RefreshTimeout: time.Second}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestGetAbsentIsNotAnError(t *testing.T) {
	store := newTestStore(t, newMemoryPrefs(), nil)

	_, ok, err := store.Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatal("expected no pet")
	}
}

func TestSetRejectsEmptyID(t *testing.T) {
	store := newTestStore(t, newMemoryPrefs(), nil)
	if err := store.Set(context.Background(), ""); !errors.Is(err, ErrEmptyID) {
		t.Fatalf("expected ErrEmptyID, got %v", err)
	}
}

func TestRoundTripNameAfterRefresh(t *testing.T) {
	fetcher := &fakeFetcher{names: map[string]string{"ABC123": "Rex"}, release: make(chan struct{})}
	store := newTestStore(t, newMemoryPrefs(), fetcher)
	ctx := context.Background()

	if err := store.Set(ctx, "ABC123"); err != nil {
		t.Fatalf("set: %v", err)
	}

	ref, ok, err := store.Get(ctx)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if ref.ID != "ABC123" || ref.Name != "" {
		t.Fatalf("expected name unset before fetch, got %+v", ref)
	}

	close(fetcher.release)
	store.Wait()

	ref, _, err = store.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ref.Name != "Rex" {
		t.Fatalf("expected Rex after refresh, got %+v", ref)
	}
}

func TestSetDifferentIDClearsName(t *testing.T) {
	prefs := newMemoryPrefs()
	prefs.values[KeyPetID] = "ABC123"
	prefs.values[KeyPetName] = "Rex"
	store := newTestStore(t, prefs, nil)
	ctx := context.Background()

	if err := store.Set(ctx, "ABC123"); err != nil {
		t.Fatalf("set same id: %v", err)
	}
	if ref, _, _ := store.Get(ctx); ref.Name != "Rex" {
		t.Fatalf("expected name kept for same id, got %+v", ref)
	}

	if err := store.Set(ctx, "PET-42"); err != nil {
		t.Fatalf("set new id: %v", err)
	}
	ref, _, _ := store.Get(ctx)
	if ref.ID != "PET-42" || ref.Name != "" {
		t.Fatalf("expected name cleared for new id, got %+v", ref)
	}
}

func TestStaleRefreshIsDiscarded(t *testing.T) {
	fetcher := &fakeFetcher{names: map[string]string{"ABC123": "Rex", "PET-42": "Fido"}, release: make(chan struct{})}
	prefs := newMemoryPrefs()
	store := newTestStore(t, prefs, fetcher)
	ctx := context.Background()

	if err := store.Set(ctx, "ABC123"); err != nil {
		t.Fatalf("set: %v", err)
	}
	// Overwrite without triggering another refresh.
	_ = prefs.Set(ctx, KeyPetID, "PET-42")

	close(fetcher.release)
	store.Wait()

	if _, err := prefs.Get(ctx, KeyPetName); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected stale name to be discarded, got %v", err)
	}
}

func TestNameFetchedOncePerID(t *testing.T) {
	fetcher := &fakeFetcher{names: map[string]string{"ABC123": "Rex"}}
	store := newTestStore(t, newMemoryPrefs(), fetcher)
	ctx := context.Background()

	if err := store.Set(ctx, "ABC123"); err != nil {
		t.Fatalf("set: %v", err)
	}
	store.Wait()
	if _, _, err := store.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	store.Wait()

	if got := fetcher.calls.Load(); got != 1 {
		t.Fatalf("expected 1 fetch, got %d", got)
	}

	ref, err := store.Refresh(ctx)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if ref.Name != "Rex" || fetcher.calls.Load() != 2 {
		t.Fatalf("expected forced refresh, got %+v after %d calls", ref, fetcher.calls.Load())
	}
}

func TestRefreshFailureLeavesNameUnset(t *testing.T) {
	fetcher := &fakeFetcher{err: &uplink.Error{Kind: uplink.KindHTTPStatus, StatusCode: 404, Message: "not found"}}
	store := newTestStore(t, newMemoryPrefs(), fetcher)
	ctx := context.Background()

	if err := store.Set(ctx, "ABC123"); err != nil {
		t.Fatalf("set: %v", err)
	}
	store.Wait()

	ref, ok, err := store.Get(ctx)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if ref.Name != "" {
		t.Fatalf("expected no name, got %q", ref.Name)
	}

	if _, err := store.Refresh(ctx); uplink.KindOf(err) != uplink.KindHTTPStatus {
		t.Fatalf("expected http status error, got %v", err)
	}
}

func TestClear(t *testing.T) {
	prefs := newMemoryPrefs()
	prefs.values[KeyPetID] = "ABC123"
	prefs.values[KeyPetName] = "Rex"
	store := newTestStore(t, prefs, nil)

	if err := store.Clear(context.Background()); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := store.Get(context.Background()); ok {
		t.Fatal("expected pet to be cleared")
	}
	if _, err := store.Refresh(context.Background()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound refreshing cleared pet, got %v", err)
	}
}
