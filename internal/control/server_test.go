package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/petwatch/internal/identity"
	"github.com/goodtune/petwatch/internal/location"
	"github.com/goodtune/petwatch/internal/permission"
	"github.com/goodtune/petwatch/internal/storage"
	"github.com/goodtune/petwatch/internal/supervisor"
	"github.com/goodtune/petwatch/internal/tracker"
	"github.com/rs/zerolog"
)

type fakeTracking struct {
	mu         sync.Mutex
	active     bool
	startErr   error
	foreground *bool
	starts     int
}

func (f *fakeTracking) IsActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeTracking) SessionID() string {
	if f.IsActive() {
		return "session-1"
	}
	return ""
}

func (f *fakeTracking) LatestStatus() (tracker.Status, bool) {
	return tracker.Status{Kind: tracker.StatusSent, PetID: "PET-42"}, f.IsActive()
}

func (f *fakeTracking) LastLocation() (location.Sample, bool) {
	return location.Sample{Latitude: 51.5, Longitude: -0.12}, f.IsActive()
}

func (f *fakeTracking) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.active = true
	return nil
}

func (f *fakeTracking) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = false
}

func (f *fakeTracking) Toggle(ctx context.Context) (bool, error) {
	if f.IsActive() {
		f.Stop()
		return false, nil
	}
	err := f.Start(ctx)
	return f.IsActive(), err
}

func (f *fakeTracking) SetForeground(visible bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.foreground = &visible
}

type fakePets struct {
	ref identity.Ref
	ok  bool
}

func (f *fakePets) Get(context.Context) (identity.Ref, bool, error) { return f.ref, f.ok, nil }

func (f *fakePets) Set(_ context.Context, id string) error {
	if id == "" {
		return identity.ErrEmptyID
	}
	f.ref = identity.Ref{ID: id}
	f.ok = true
	return nil
}

func (f *fakePets) Clear(context.Context) error {
	f.ref = identity.Ref{}
	f.ok = false
	return nil
}

type fakePermissions struct {
	state permission.State
}

func (f fakePermissions) Request(context.Context, permission.Capability) permission.State {
	return f.state
}

type fakeHistory struct {
	attempts []storage.UplinkAttempt
	filter   storage.AttemptFilter
}

func (f *fakeHistory) Add(_ context.Context, a storage.UplinkAttempt) error {
	f.attempts = append(f.attempts, a)
	return nil
}

func (f *fakeHistory) List(_ context.Context, filter storage.AttemptFilter) ([]storage.UplinkAttempt, error) {
	f.filter = filter
	out := f.attempts
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeHistory) DeleteBefore(context.Context, time.Time) (int, error) { return 0, nil }

type fixture struct {
	tracking *fakeTracking
	pets     *fakePets
	history  *fakeHistory
	server   *Server
}

func newFixture(token string) *fixture {
	f := &fixture{
		tracking: &fakeTracking{},
		pets:     &fakePets{ref: identity.Ref{ID: "PET-42"}, ok: true},
		history:  &fakeHistory{},
	}
	f.server = NewServer(Config{ListenAddr: "127.0.0.1:0", Token: token}, Deps{
		Tracking:    f.tracking,
		Pets:        f.pets,
		Permissions: fakePermissions{state: permission.StateGranted},
		History:     f.history,
	}, zerolog.Nop())
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s %s response %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec, out
}

func TestHealth(t *testing.T) {
	f := newFixture("secret")
	rec, body := f.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestTokenMiddleware(t *testing.T) {
	f := newFixture("secret")

	tests := []struct {
		name   string
		header []string
		want   int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"wrong scheme", []string{"Authorization", "Basic secret"}, http.StatusUnauthorized},
		{"wrong token", []string{"Authorization", "Bearer nope"}, http.StatusUnauthorized},
		{"valid", []string{"Authorization", "Bearer secret"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := f.do(t, http.MethodGet, "/api/tracking", "", tt.header...)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestTrackingLifecycle(t *testing.T) {
	f := newFixture("")

	rec, body := f.do(t, http.MethodGet, "/api/tracking", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body["active"] != false || body["session_id"] != nil || body["status"] != nil {
		t.Fatalf("unexpected idle state: %v", body)
	}
	pet, ok := body["pet"].(map[string]any)
	if !ok || pet["id"] != "PET-42" || pet["name"] != nil {
		t.Fatalf("unexpected pet: %v", body["pet"])
	}

	rec, body = f.do(t, http.MethodPost, "/api/tracking/start", "")
	if rec.Code != http.StatusOK || body["active"] != true {
		t.Fatalf("start: %d %v", rec.Code, body)
	}

	_, body = f.do(t, http.MethodGet, "/api/tracking", "")
	if body["session_id"] != "session-1" {
		t.Fatalf("expected session id, got %v", body["session_id"])
	}
	loc, ok := body["location"].(map[string]any)
	if !ok || loc["lat"] != 51.5 {
		t.Fatalf("unexpected location: %v", body["location"])
	}

	rec, body = f.do(t, http.MethodPost, "/api/tracking/toggle", "")
	if rec.Code != http.StatusOK || body["active"] != false {
		t.Fatalf("toggle off: %d %v", rec.Code, body)
	}

	rec, body = f.do(t, http.MethodPost, "/api/tracking/toggle", "")
	if rec.Code != http.StatusOK || body["active"] != true {
		t.Fatalf("toggle on: %d %v", rec.Code, body)
	}

	rec, body = f.do(t, http.MethodPost, "/api/tracking/stop", "")
	if rec.Code != http.StatusOK || body["active"] != false {
		t.Fatalf("stop: %d %v", rec.Code, body)
	}
}

func TestStartWithoutPet(t *testing.T) {
	f := newFixture("")
	f.pets.ok = false

	for _, path := range []string{"/api/tracking/start", "/api/tracking/toggle"} {
		rec, body := f.do(t, http.MethodPost, path, "")
		if rec.Code != http.StatusConflict {
			t.Fatalf("%s: expected 409, got %d", path, rec.Code)
		}
		if body["error"] != "no_pet" {
			t.Fatalf("%s: unexpected body %v", path, body)
		}
	}
	if f.tracking.starts != 0 {
		t.Fatalf("expected no start attempts, got %d", f.tracking.starts)
	}
}

func TestStartErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  int
		wantError string
	}{
		{
			name:      "background denied",
			err:       &permission.DeniedError{Capability: permission.BackgroundLocation, State: permission.StateDenied},
			wantCode:  http.StatusForbidden,
			wantError: "permission_denied",
		},
		{
			name:      "host refused",
			err:       fmt.Errorf("start petwatch-tracking: %w", supervisor.ErrBackgroundRefused),
			wantCode:  http.StatusServiceUnavailable,
			wantError: "background_refused",
		},
		{
			name:      "other",
			err:       fmt.Errorf("read pet id: boom"),
			wantCode:  http.StatusInternalServerError,
			wantError: "server_error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture("")
			f.tracking.startErr = tt.err

			rec, body := f.do(t, http.MethodPost, "/api/tracking/start", "")
			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			if body["error"] != tt.wantError {
				t.Fatalf("unexpected body: %v", body)
			}
		})
	}
}

func TestDeniedMessage(t *testing.T) {
	f := newFixture("")
	denied := &permission.DeniedError{Capability: permission.ForegroundLocation, State: permission.StateDenied}
	f.tracking.startErr = denied

	_, body := f.do(t, http.MethodPost, "/api/tracking/toggle", "")
	if body["message"] != denied.Message() {
		t.Fatalf("expected %q, got %v", denied.Message(), body["message"])
	}
	if body["capability"] != "foreground_location" {
		t.Fatalf("unexpected capability: %v", body["capability"])
	}
}

func TestForeground(t *testing.T) {
	f := newFixture("")

	rec, _ := f.do(t, http.MethodPut, "/api/tracking/foreground", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing visible, got %d", rec.Code)
	}

	rec, _ = f.do(t, http.MethodPut, "/api/tracking/foreground", `{"visible": false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if f.tracking.foreground == nil || *f.tracking.foreground {
		t.Fatalf("expected foreground false, got %v", f.tracking.foreground)
	}
}

func TestPetEndpoints(t *testing.T) {
	f := newFixture("")
	f.pets.ok = false

	rec, _ := f.do(t, http.MethodGet, "/api/pet", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec, _ = f.do(t, http.MethodPut, "/api/pet", `{"id": ""}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec, body := f.do(t, http.MethodPut, "/api/pet", `{"id": "PET-7"}`)
	if rec.Code != http.StatusOK || body["id"] != "PET-7" {
		t.Fatalf("set: %d %v", rec.Code, body)
	}

	f.pets.ref.Name = "Rex"
	_, body = f.do(t, http.MethodGet, "/api/pet", "")
	if body["name"] != "Rex" {
		t.Fatalf("expected name Rex, got %v", body["name"])
	}

	f.tracking.active = true
	rec, _ = f.do(t, http.MethodDelete, "/api/pet", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if f.pets.ok {
		t.Fatal("expected pet cleared")
	}
	if f.tracking.IsActive() {
		t.Fatal("expected tracking stopped after clearing the pet")
	}
}

func TestCameraPermission(t *testing.T) {
	tests := []struct {
		state permission.State
		code  int
	}{
		{permission.StateGranted, http.StatusOK},
		{permission.StateDenied, http.StatusForbidden},
		{permission.StateUnknown, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			f := newFixture("")
			f.server = NewServer(Config{}, Deps{
				Tracking:    f.tracking,
				Pets:        f.pets,
				Permissions: fakePermissions{state: tt.state},
				History:     f.history,
			}, zerolog.Nop())

			rec, body := f.do(t, http.MethodPost, "/api/permissions/camera", "")
			if rec.Code != tt.code {
				t.Fatalf("expected %d, got %d", tt.code, rec.Code)
			}
			if body["state"] != tt.state.String() {
				t.Fatalf("expected state %q, got %v", tt.state, body["state"])
			}
		})
	}
}

func TestHistory(t *testing.T) {
	f := newFixture("")
	for i := 0; i < 3; i++ {
		_ = f.history.Add(context.Background(), storage.UplinkAttempt{ID: fmt.Sprintf("a%d", i), PetID: "PET-42"})
	}

	rec, body := f.do(t, http.MethodGet, "/api/history?limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body["count"] != float64(2) {
		t.Fatalf("expected 2 attempts, got %v", body["count"])
	}
	if f.history.filter.Limit != 2 {
		t.Fatalf("expected limit 2 passed to store, got %d", f.history.filter.Limit)
	}

	rec, _ = f.do(t, http.MethodGet, "/api/history?limit=zero", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	_, _ = f.do(t, http.MethodGet, "/api/history", "")
	if f.history.filter.Limit != defaultHistoryLimit {
		t.Fatalf("expected default limit, got %d", f.history.filter.Limit)
	}
}
