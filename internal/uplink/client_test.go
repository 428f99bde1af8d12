package uplink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goodtune/petwatch/internal/location"
	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, cfg Config) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg.BaseURL = srv.URL
	client, err := New(cfg, srv.Client(), zerolog.Nop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestPostSampleBody(t *testing.T) {
	var (
		gotPath   string
		gotAuth   string
		gotType   string
		gotMethod string
		gotBody   map[string]any
	)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotMethod = r.Method
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}, Config{Credential: "dXNlcjpwYXNz"})

	captured := time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.FixedZone("AEST", 10*3600))
	ack, err := client.PostSample(context.Background(), "PET-42", location.Sample{
		Latitude:   10.0,
		Longitude:  20.0,
		CapturedAt: captured,
	})
	if err != nil {
		t.Fatalf("post sample: %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("expected POST, got %s", gotMethod)
	}
	if gotPath != "/coordinates/app/PET-42" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotAuth != "Basic dXNlcjpwYXNz" {
		t.Errorf("unexpected authorization %q", gotAuth)
	}
	if gotType != "application/json" {
		t.Errorf("unexpected content type %q", gotType)
	}
	if gotBody["petID"] != "PET-42" || gotBody["lat"] != 10.0 || gotBody["lon"] != 20.0 {
		t.Errorf("unexpected body %v", gotBody)
	}
	if gotBody["sendDate"] != "2024-03-01T02:00:00.123Z" {
		t.Errorf("unexpected sendDate %v", gotBody["sendDate"])
	}
	if ack.StatusCode != http.StatusCreated || ack.Body != `{"ok":true}` {
		t.Errorf("unexpected ack %+v", ack)
	}
}

func TestPostSampleEscapesID(t *testing.T) {
	var gotPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
	}, Config{})

	if _, err := client.PostSample(context.Background(), "a/b c", location.Sample{}); err != nil {
		t.Fatalf("post sample: %v", err)
	}
	if gotPath != "/coordinates/app/a%2Fb%20c" {
		t.Fatalf("unexpected escaped path %q", gotPath)
	}
}

func TestUsernamePasswordCredential(t *testing.T) {
	var gotUser, gotPass string
	var ok bool
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, ok = r.BasicAuth()
	}, Config{Username: "petwatch", Password: "secret"})

	if _, err := client.PostSample(context.Background(), "ABC123", location.Sample{}); err != nil {
		t.Fatalf("post sample: %v", err)
	}
	if !ok || gotUser != "petwatch" || gotPass != "secret" {
		t.Fatalf("unexpected basic auth %q/%q (ok=%v)", gotUser, gotPass, ok)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantKind    Kind
		wantMessage string
	}{
		{name: "json message", status: http.StatusNotFound, body: `{"message":"pet not found"}`, wantKind: KindHTTPStatus, wantMessage: "pet not found"},
		{name: "raw body", status: http.StatusBadGateway, body: "upstream down", wantKind: KindHTTPStatus, wantMessage: "upstream down"},
		{name: "malformed metadata", status: http.StatusOK, body: "{", wantKind: KindDecode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}, Config{})

			_, err := client.FetchMetadata(context.Background(), "ABC123")
			var uerr *Error
			if !errors.As(err, &uerr) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if uerr.Kind != tt.wantKind {
				t.Errorf("expected kind %s, got %s", tt.wantKind, uerr.Kind)
			}
			if uerr.Message != tt.wantMessage {
				t.Errorf("expected message %q, got %q", tt.wantMessage, uerr.Message)
			}
			if tt.wantKind == KindHTTPStatus && uerr.StatusCode != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, uerr.StatusCode)
			}
		})
	}
}

func TestFetchMetadata(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pet/app/ABC123" || r.Method != http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"name":"Rex","breed":"kelpie"}`))
	}, Config{})

	meta, err := client.FetchMetadata(context.Background(), "ABC123")
	if err != nil {
		t.Fatalf("fetch metadata: %v", err)
	}
	if meta.Name != "Rex" {
		t.Fatalf("expected Rex, got %q", meta.Name)
	}
	if len(meta.Raw) == 0 {
		t.Fatal("expected raw payload")
	}
}

func TestTransportTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	client, err := New(Config{BaseURL: srv.URL}, &http.Client{Timeout: 20 * time.Millisecond}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.PostSample(context.Background(), "PET-42", location.Sample{})
	var uerr *Error
	if !errors.As(err, &uerr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if uerr.Kind != KindTransport {
		t.Fatalf("expected transport error, got %s", uerr.Kind)
	}
	if !uerr.Timeout() {
		t.Fatalf("expected timeout, got %v", uerr.Err)
	}
}

func TestObserverCalledOncePerRequest(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}, Config{})

	var calls []error
	client.SetObserver(func(op string, d time.Duration, err error) {
		calls = append(calls, err)
	})

	_, _ = client.FetchMetadata(context.Background(), "ABC123")
	if len(calls) != 1 {
		t.Fatalf("expected 1 observation, got %d", len(calls))
	}
	if KindOf(calls[0]) != KindDecode {
		t.Fatalf("expected decode observation, got %v", calls[0])
	}
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	if _, err := New(Config{BaseURL: "ftp://example.com"}, nil, zerolog.Nop()); err == nil {
		t.Fatal("expected error for non-http base url")
	}
}
