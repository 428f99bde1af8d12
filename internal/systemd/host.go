package systemd

import (
	"context"
	"fmt"

	"github.com/goodtune/petwatch/internal/supervisor"
	"github.com/rs/zerolog"
)

// Host grants background execution to the tracking loop. When required is
// set it refuses unless the process runs as a systemd service.
type Host struct {
	required bool
	logger   zerolog.Logger

	isService func() bool
	status    func(string) error
	watchdog  func() error
}

// NewHost creates a supervisor host backed by sd_notify.
func NewHost(required bool, logger zerolog.Logger) *Host {
	return &Host{
		required:  required,
		logger:    logger.With().Str("component", "systemd").Logger(),
		isService: IsSystemdService,
		status:    NotifyStatus,
		watchdog:  NotifyWatchdog,
	}
}

// Acquire implements supervisor.Host.
func (h *Host) Acquire(_ context.Context, name string) (supervisor.Lease, error) {
	if h.required && !h.isService() {
		return nil, fmt.Errorf("%s: not running under systemd: %w", name, supervisor.ErrBackgroundRefused)
	}
	if err := h.status("Tracking active"); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to report status to systemd")
	}
	return &lease{host: h}, nil
}

type lease struct {
	host *Host
}

func (l *lease) Heartbeat() {
	if err := l.host.watchdog(); err != nil {
		l.host.logger.Warn().Err(err).Msg("Failed to notify systemd watchdog")
	}
}

func (l *lease) Release() {
	if err := l.host.status("Tracking stopped"); err != nil {
		l.host.logger.Warn().Err(err).Msg("Failed to report status to systemd")
	}
}
