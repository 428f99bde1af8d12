// Package supervisor runs a single cancellable repeating loop that outlives
// whoever started it.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrBackgroundRefused is returned (wrapped) when the host will not run
// background work.
var ErrBackgroundRefused = errors.New("supervisor: background execution refused")

// TickFunc is one loop iteration. tick counts from 1.
type TickFunc func(ctx context.Context, tick int) error

// ErrorFunc observes failed ticks.
type ErrorFunc func(name string, tick int, err error)

// Lease is the host's permission to keep running in the background.
type Lease interface {
	// Heartbeat is called after every tick.
	Heartbeat()
	// Release is called once when the loop exits.
	Release()
}

// Host grants background execution.
type Host interface {
	Acquire(ctx context.Context, name string) (Lease, error)
}

// InProcessHost always grants background execution.
type InProcessHost struct{}

// Acquire implements Host.
func (InProcessHost) Acquire(context.Context, string) (Lease, error) {
	return nopLease{}, nil
}

type nopLease struct{}

func (nopLease) Heartbeat() {}
func (nopLease) Release()   {}

// Supervisor owns at most one live loop.
type Supervisor struct {
	host   Host
	logger zerolog.Logger

	// startMu serialises Start so a restart waits out the previous loop
	// without holding mu.
	startMu sync.Mutex

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
	onError ErrorFunc
}

// New creates a Supervisor. A nil host uses InProcessHost.
func New(host Host, logger zerolog.Logger) *Supervisor {
	if host == nil {
		host = InProcessHost{}
	}
	return &Supervisor{
		host:   host,
		logger: logger.With().Str("component", "supervisor").Logger(),
	}
}

// OnError installs the failed tick observer.
func (s *Supervisor) OnError(fn ErrorFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
}

// Start launches the loop. It is a no-op while a loop is running. If a
// stopped loop is still finishing its last tick, Start waits for it to exit.
func (s *Supervisor) Start(ctx context.Context, name string, body TickFunc, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("supervisor: invalid interval %s", interval)
	}

	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Debug().Str("task", name).Msg("Loop already running")
		return nil
	}
	previous := s.done
	s.mu.Unlock()

	if previous != nil {
		select {
		case <-previous:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	lease, err := s.host.Acquire(ctx, name)
	if err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})

	s.mu.Lock()
	s.running = true
	s.stop = stop
	s.done = done
	s.mu.Unlock()

	go s.run(context.WithoutCancel(ctx), name, body, interval, lease, stop, done)

	s.logger.Info().Str("task", name).Dur("interval", interval).Msg("Loop started")
	return nil
}

// Stop asks the loop to exit at its next tick or sleep boundary. It does
// not wait and is safe to call when idle.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	close(s.stop)
	s.running = false
	s.logger.Info().Msg("Loop stop requested")
}

// Running reports whether a loop is live and not stopping.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Wait blocks until the most recent loop has exited.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the loop. Stop is observed before each tick and during the sleep;
// a tick in progress always completes.
func (s *Supervisor) run(ctx context.Context, name string, body TickFunc, interval time.Duration, lease Lease, stop, done chan struct{}) {
	defer close(done)
	defer lease.Release()

	timer := time.NewTimer(interval)
	timer.Stop()
	defer timer.Stop()

	for tick := 1; ; tick++ {
		select {
		case <-stop:
			s.logger.Info().Str("task", name).Int("ticks", tick-1).Msg("Loop stopped")
			return
		default:
		}

		if err := s.runTick(ctx, body, tick); err != nil {
			s.reportError(name, tick, err)
		}
		lease.Heartbeat()

		timer.Reset(interval)
		select {
		case <-stop:
			s.logger.Info().Str("task", name).Int("ticks", tick).Msg("Loop stopped")
			return
		case <-timer.C:
		}
	}
}

func (s *Supervisor) runTick(ctx context.Context, body TickFunc, tick int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("supervisor: tick panicked: %v", r)
		}
	}()
	return body(ctx, tick)
}

func (s *Supervisor) reportError(name string, tick int, err error) {
	s.logger.Warn().Err(err).Str("task", name).Int("tick", tick).Msg("Tick failed")

	s.mu.Lock()
	fn := s.onError
	s.mu.Unlock()
	if fn != nil {
		fn(name, tick, err)
	}
}
