package metrics

import (
	"net"
	"net/http"
	"time"

	"github.com/goodtune/petwatch/internal/uplink"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Sampling metrics
	SamplesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "petwatch_samples_total",
			Help: "Total location samples by source and result",
		},
		[]string{"source", "result"},
	)

	// Uplink metrics
	UplinkRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "petwatch_uplink_requests_total",
			Help: "Total uplink requests by operation and result",
		},
		[]string{"op", "result"},
	)

	UplinkDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "petwatch_uplink_request_duration_seconds",
			Help:    "Uplink request duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"op"},
	)

	// Loop metrics
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "petwatch_ticks_total",
			Help: "Total background loop ticks by result",
		},
		[]string{"result"},
	)

	TrackingActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "petwatch_tracking_active",
			Help: "Whether a tracking session is active (1) or not (0)",
		},
	)

	PermissionDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "petwatch_permission_denials_total",
			Help: "Tracking starts refused by permission capability",
		},
		[]string{"capability"},
	)

	AttemptsPruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "petwatch_uplink_attempts_pruned_total",
			Help: "Uplink attempt history records removed by retention",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		SamplesTotal,
		UplinkRequestsTotal,
		UplinkDuration,
		TicksTotal,
		TrackingActive,
		PermissionDenials,
		AttemptsPruned,
	)
}

// Result maps an error to a metric label: "ok" or its uplink kind.
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	if kind := uplink.KindOf(err); kind != 0 {
		return kind.String()
	}
	return "error"
}

// ObserveUplink records one uplink request. It matches uplink.Observer.
func ObserveUplink(op string, d time.Duration, err error) {
	UplinkRequestsTotal.WithLabelValues(op, Result(err)).Inc()
	UplinkDuration.WithLabelValues(op).Observe(d.Seconds())
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
