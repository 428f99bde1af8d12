package metrics

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/goodtune/petwatch/internal/uplink"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestResult(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: "ok"},
		{name: "transport", err: &uplink.Error{Kind: uplink.KindTransport}, want: "transport"},
		{name: "status", err: &uplink.Error{Kind: uplink.KindHTTPStatus, StatusCode: 500}, want: "http_status"},
		{name: "other", err: errors.New("boom"), want: "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Result(tt.err); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestObserveUplink(t *testing.T) {
	before := testutil.ToFloat64(UplinkRequestsTotal.WithLabelValues("post_sample", "decode"))
	ObserveUplink("post_sample", 50*time.Millisecond, &uplink.Error{Kind: uplink.KindDecode})
	after := testutil.ToFloat64(UplinkRequestsTotal.WithLabelValues("post_sample", "decode"))
	if after-before != 1 {
		t.Fatalf("expected counter to increase by 1, got %v", after-before)
	}
}

func TestServerServesMetrics(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	srv := NewServer(ln.Addr().String(), zerolog.Nop())
	srv.SetListener(ln)
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = srv.Stop() }()

	TrackingActive.Set(1)
	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "petwatch_tracking_active 1") {
		t.Fatalf("expected tracking gauge in output")
	}
}
