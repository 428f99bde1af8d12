package systemd

import (
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"
)

// Watchdog sends WATCHDOG=1 at half the unit's WatchdogSec for as long as
// the daemon runs, whether or not tracking is active.
type Watchdog struct {
	logger   zerolog.Logger
	enabled  func() (time.Duration, error)
	notify   func() error
	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewWatchdog creates a watchdog driven by WATCHDOG_USEC.
func NewWatchdog(logger zerolog.Logger) *Watchdog {
	return &Watchdog{
		logger:   logger.With().Str("component", "systemd").Logger(),
		enabled:  func() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) },
		notify:   NotifyWatchdog,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins pinging. It reports false when the unit has no watchdog.
func (w *Watchdog) Start() bool {
	interval, err := w.enabled()
	if err != nil {
		w.logger.Warn().Err(err).Msg("Invalid systemd watchdog settings")
	}
	if err != nil || interval <= 0 {
		close(w.done)
		return false
	}

	period := interval / 2
	if period <= 0 {
		period = interval
	}
	go w.run(period)
	w.logger.Info().Dur("interval", interval).Msg("Systemd watchdog enabled")
	return true
}

// Stop ends the loop and waits for it to exit.
func (w *Watchdog) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
	<-w.done
}

func (w *Watchdog) run(period time.Duration) {
	defer close(w.done)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		w.ping()
		select {
		case <-ticker.C:
		case <-w.stopChan:
			return
		}
	}
}

func (w *Watchdog) ping() {
	if err := w.notify(); err != nil {
		w.logger.Warn().Err(err).Msg("Failed to notify systemd watchdog")
	}
}
