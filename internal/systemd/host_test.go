package systemd

import (
	"context"
	"errors"
	"testing"

	"github.com/goodtune/petwatch/internal/supervisor"
	"github.com/rs/zerolog"
)

func newTestHost(required, service bool) (*Host, *[]string, *int) {
	var statuses []string
	var heartbeats int
	h := NewHost(required, zerolog.Nop())
	h.isService = func() bool { return service }
	h.status = func(s string) error {
		statuses = append(statuses, s)
		return nil
	}
	h.watchdog = func() error {
		heartbeats++
		return nil
	}
	return h, &statuses, &heartbeats
}

func TestHostRefusesWithoutSystemdWhenRequired(t *testing.T) {
	h, statuses, _ := newTestHost(true, false)

	_, err := h.Acquire(context.Background(), "tracking")
	if !errors.Is(err, supervisor.ErrBackgroundRefused) {
		t.Fatalf("expected ErrBackgroundRefused, got %v", err)
	}
	if len(*statuses) != 0 {
		t.Fatalf("expected no status notifications, got %v", *statuses)
	}
}

func TestHostLeaseLifecycle(t *testing.T) {
	tests := []struct {
		name     string
		required bool
		service  bool
	}{
		{name: "not required", required: false, service: false},
		{name: "required under systemd", required: true, service: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, statuses, heartbeats := newTestHost(tt.required, tt.service)

			lease, err := h.Acquire(context.Background(), "tracking")
			if err != nil {
				t.Fatalf("acquire: %v", err)
			}
			lease.Heartbeat()
			lease.Heartbeat()
			lease.Release()

			if *heartbeats != 2 {
				t.Errorf("expected 2 heartbeats, got %d", *heartbeats)
			}
			want := []string{"Tracking active", "Tracking stopped"}
			if len(*statuses) != 2 || (*statuses)[0] != want[0] || (*statuses)[1] != want[1] {
				t.Errorf("expected statuses %v, got %v", want, *statuses)
			}
		})
	}
}

func TestGetListenersWithoutActivation(t *testing.T) {
	t.Setenv("LISTEN_FDS", "")
	t.Setenv("LISTEN_PID", "")

	listeners, err := GetListeners()
	if err != nil {
		t.Fatalf("get listeners: %v", err)
	}
	if listeners.Activated || listeners.Control != nil || listeners.Metrics != nil {
		t.Fatalf("expected no activated listeners, got %+v", listeners)
	}
}
