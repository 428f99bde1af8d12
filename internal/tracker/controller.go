// Package tracker ties identity, permissions, sampling and the uplink
// together behind a single on/off tracking session.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/petwatch/internal/identity"
	"github.com/goodtune/petwatch/internal/location"
	"github.com/goodtune/petwatch/internal/metrics"
	"github.com/goodtune/petwatch/internal/permission"
	"github.com/goodtune/petwatch/internal/storage"
	"github.com/goodtune/petwatch/internal/supervisor"
	"github.com/goodtune/petwatch/internal/uplink"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const taskName = "petwatch-tracking"

// recordTimeout bounds writes to the attempt history.
const recordTimeout = 5 * time.Second

// ErrPetCleared is returned by a tick that finds no pet id stored.
var ErrPetCleared = errors.New("tracker: pet id cleared during session")

// publishedError marks a tick error already reported to the observer.
type publishedError struct{ error }

func (e publishedError) Unwrap() error { return e.error }

// IdentitySource supplies the tracked pet.
type IdentitySource interface {
	Get(ctx context.Context) (identity.Ref, bool, error)
}

// PermissionGate gates location use.
type PermissionGate interface {
	EnsureLocation(ctx context.Context) error
}

// Sampler acquires one position.
type Sampler interface {
	SampleOnce(ctx context.Context, opts location.Options) (location.Sample, error)
}

// Sender delivers samples.
type Sender interface {
	PostSample(ctx context.Context, petID string, sample location.Sample) (uplink.Ack, error)
}

// Deps are the collaborators of a Controller. Attempts and Clock are
// optional.
type Deps struct {
	Identity   IdentitySource
	Gate       PermissionGate
	Sampler    Sampler
	Sender     Sender
	Supervisor *supervisor.Supervisor
	Attempts   storage.AttemptStore
	Clock      location.Clock
}

// Controller owns the tracking session.
type Controller struct {
	cfg      Config
	identity IdentitySource
	gate     PermissionGate
	sampler  Sampler
	sender   Sender
	sup      *supervisor.Supervisor
	attempts storage.AttemptStore
	clock    location.Clock
	logger   zerolog.Logger

	// opMu serialises Start, Stop, Toggle and SetForeground.
	opMu sync.Mutex
	// sampleMu keeps one provider request outstanding across both timers.
	sampleMu sync.Mutex

	mu           sync.Mutex
	active       bool
	sessionID    string
	petID        string
	foreground   bool
	displayStop  chan struct{}
	displayDone  chan struct{}
	latest       Status
	haveLatest   bool
	lastLocation *location.Sample
	observer     func(Status)
}

// New creates a Controller. The foreground starts visible.
func New(cfg Config, deps Deps, logger zerolog.Logger) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Identity == nil || deps.Gate == nil || deps.Sampler == nil || deps.Sender == nil {
		return nil, errors.New("tracker: identity, gate, sampler and sender are required")
	}
	sup := deps.Supervisor
	if sup == nil {
		sup = supervisor.New(nil, logger)
	}
	clock := deps.Clock
	if clock == nil {
		clock = location.RealClock{}
	}

	c := &Controller{
		cfg:        cfg,
		identity:   deps.Identity,
		gate:       deps.Gate,
		sampler:    deps.Sampler,
		sender:     deps.Sender,
		sup:        sup,
		attempts:   deps.Attempts,
		clock:      clock,
		logger:     logger.With().Str("component", "tracker").Logger(),
		foreground: true,
	}
	sup.OnError(func(name string, tick int, err error) {
		metrics.TicksTotal.WithLabelValues("error").Inc()
		c.tickFailed(err)
	})
	return c, nil
}

// OnStatus installs the status observer, replacing any previous one. It is
// called synchronously and must not call back into Start, Stop or Toggle.
func (c *Controller) OnStatus(fn func(Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = fn
}

// IsActive reports whether a session is active. It never waits for a
// pending transition.
func (c *Controller) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// SessionID returns the active session id, or "".
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return ""
	}
	return c.sessionID
}

// LatestStatus returns the most recent status.
func (c *Controller) LatestStatus() (Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest, c.haveLatest
}

// LastLocation returns the most recent sample from either timer.
func (c *Controller) LastLocation() (location.Sample, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastLocation == nil {
		return location.Sample{}, false
	}
	return *c.lastLocation, true
}

// Load applies the restart policy: start when a pet id is stored.
func (c *Controller) Load(ctx context.Context) error {
	if !c.cfg.AutoStart {
		c.logger.Info().Msg("Auto start disabled")
		return nil
	}
	return c.Start(ctx)
}

// Start begins a session. It is a no-op when already active or when no pet
// id is stored. A permission denial returns *permission.DeniedError.
func (c *Controller) Start(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.startLocked(ctx)
}

// Stop ends the session. It is safe to call when inactive.
func (c *Controller) Stop() {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.stopLocked()
}

// Toggle flips the session and reports the resulting state.
func (c *Controller) Toggle(ctx context.Context) (bool, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.IsActive() {
		c.stopLocked()
		return false, nil
	}
	err := c.startLocked(ctx)
	return c.IsActive(), err
}

// SetForeground records screen visibility, arming or disarming the display
// timer of an active session.
func (c *Controller) SetForeground(visible bool) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	c.foreground = visible
	active := c.active
	sessionID := c.sessionID
	c.mu.Unlock()

	if !active {
		return
	}
	if visible {
		c.armDisplay(sessionID)
	} else {
		c.disarmDisplay()
	}
}

// Close stops the session and waits for its goroutines to exit.
func (c *Controller) Close(ctx context.Context) error {
	c.Stop()

	if err := c.sup.Wait(ctx); err != nil {
		return fmt.Errorf("wait for tracking loop: %w", err)
	}

	c.mu.Lock()
	done := c.displayDone
	c.mu.Unlock()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("wait for display timer: %w", ctx.Err())
		}
	}
	return nil
}

func (c *Controller) startLocked(ctx context.Context) error {
	if c.IsActive() {
		return nil
	}

	ref, ok, err := c.identity.Get(ctx)
	if err != nil {
		return fmt.Errorf("read pet id: %w", err)
	}
	if !ok {
		c.logger.Info().Msg("No pet id stored, tracking not started")
		return nil
	}

	if err := c.gate.EnsureLocation(ctx); err != nil {
		var denied *permission.DeniedError
		if errors.As(err, &denied) {
			metrics.PermissionDenials.WithLabelValues(denied.Capability.String()).Inc()
			c.logger.Warn().Str("capability", denied.Capability.String()).Msg("Tracking denied")
			c.publish(Status{Kind: StatusDenied, PetID: ref.ID, Err: err, Message: denied.Message()})
		}
		return err
	}

	sessionID := uuid.NewString()
	c.mu.Lock()
	c.active = true
	c.sessionID = sessionID
	c.petID = ref.ID
	foreground := c.foreground
	c.mu.Unlock()

	if err := c.sup.Start(ctx, taskName, c.tick(sessionID), c.cfg.Interval); err != nil {
		c.mu.Lock()
		c.active = false
		c.mu.Unlock()
		c.logger.Error().Err(err).Msg("Failed to start background loop")
		return err
	}

	if foreground {
		c.armDisplay(sessionID)
	}

	metrics.TrackingActive.Set(1)
	c.logger.Info().
		Str("session_id", sessionID).
		Str("pet_id", ref.ID).
		Dur("interval", c.cfg.Interval).
		Msg("Tracking started")
	c.publish(Status{Kind: StatusStarted, SessionID: sessionID, PetID: ref.ID})
	return nil
}

func (c *Controller) stopLocked() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	sessionID := c.sessionID
	petID := c.petID
	c.mu.Unlock()

	c.sup.Stop()
	c.disarmDisplay()

	metrics.TrackingActive.Set(0)
	c.logger.Info().Str("session_id", sessionID).Msg("Tracking stopped")
	c.publish(Status{Kind: StatusStopped, SessionID: sessionID, PetID: petID})
}

// stopSession stops the session only if sessionID is still the active one.
func (c *Controller) stopSession(sessionID string) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if c.current(sessionID) {
		c.stopLocked()
	}
}

// tickFailed surfaces a tick error the tick did not publish itself.
func (c *Controller) tickFailed(err error) {
	var published publishedError
	if errors.As(err, &published) {
		return
	}
	sessionID := c.SessionID()
	if sessionID == "" {
		return
	}
	c.mu.Lock()
	petID := c.petID
	c.mu.Unlock()
	c.publishFor(sessionID, Status{Kind: StatusTickFailed, SessionID: sessionID, PetID: petID, Err: err, Message: err.Error()})
}

// current reports whether sessionID is the active session.
func (c *Controller) current(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active && c.sessionID == sessionID
}

func (c *Controller) sample(ctx context.Context, opts location.Options) (location.Sample, error) {
	c.sampleMu.Lock()
	defer c.sampleMu.Unlock()
	return c.sampler.SampleOnce(ctx, opts)
}

// tick is the background loop body: sample, then uplink.
func (c *Controller) tick(sessionID string) supervisor.TickFunc {
	return func(ctx context.Context, tick int) error {
		if !c.current(sessionID) {
			return nil
		}
		logger := c.logger.With().Str("session_id", sessionID).Int("tick", tick).Logger()

		ref, ok, err := c.identity.Get(ctx)
		if err != nil {
			return fmt.Errorf("read pet id: %w", err)
		}
		if !ok {
			logger.Warn().Msg("Pet id cleared, stopping tracking")
			c.publishFor(sessionID, Status{Kind: StatusPetCleared, SessionID: sessionID, Err: ErrPetCleared, Message: ErrPetCleared.Error()})
			// Stop takes opMu, which a pending Start may hold while it
			// waits for this loop to exit.
			go c.stopSession(sessionID)
			return publishedError{ErrPetCleared}
		}

		sample, err := c.sample(ctx, c.cfg.Sample)
		if err != nil {
			metrics.SamplesTotal.WithLabelValues("background", "error").Inc()
			logger.Warn().Err(err).Msg("Location sample failed")
			c.publishFor(sessionID, Status{Kind: StatusSampleFailed, SessionID: sessionID, PetID: ref.ID, Err: err, Message: err.Error()})
			return publishedError{err}
		}
		metrics.SamplesTotal.WithLabelValues("background", "ok").Inc()
		c.rememberLocation(sessionID, sample)

		attemptedAt := c.clock.Now()
		started := time.Now()
		ack, err := c.sender.PostSample(ctx, ref.ID, sample)
		elapsed := time.Since(started)

		// The call is never interrupted, but a stopped session drops its result.
		if !c.current(sessionID) {
			logger.Debug().Msg("Session stopped during uplink, discarding result")
			return nil
		}

		c.record(ctx, sessionID, ref.ID, sample, attemptedAt, elapsed, ack, err)

		if err != nil {
			logger.Warn().Err(err).Msg("Uplink failed")
			c.publishFor(sessionID, Status{Kind: StatusUplinkFailed, SessionID: sessionID, PetID: ref.ID, Sample: &sample, Err: err, Message: err.Error()})
			return publishedError{err}
		}

		metrics.TicksTotal.WithLabelValues("ok").Inc()
		logger.Debug().Int("status", ack.StatusCode).Msg("Sample delivered")
		c.publishFor(sessionID, Status{Kind: StatusSent, SessionID: sessionID, PetID: ref.ID, Sample: &sample, Ack: &ack})
		return nil
	}
}

func (c *Controller) record(ctx context.Context, sessionID, petID string, sample location.Sample, at time.Time, elapsed time.Duration, ack uplink.Ack, err error) {
	if c.attempts == nil {
		return
	}

	attempt := storage.UplinkAttempt{
		SessionID:   sessionID,
		PetID:       petID,
		Latitude:    sample.Latitude,
		Longitude:   sample.Longitude,
		SampledAt:   sample.CapturedAt,
		AttemptedAt: at,
		Success:     err == nil,
		StatusCode:  ack.StatusCode,
		DurationMS:  elapsed.Milliseconds(),
	}
	var uerr *uplink.Error
	if errors.As(err, &uerr) {
		attempt.StatusCode = uerr.StatusCode
		attempt.ErrorKind = uerr.Kind.String()
		attempt.Message = uerr.Message
		if attempt.Message == "" {
			attempt.Message = uerr.Error()
		}
	} else if err != nil {
		attempt.ErrorKind = "error"
		attempt.Message = err.Error()
	}

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := c.attempts.Add(recordCtx, attempt); err != nil {
		c.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to record uplink attempt")
	}
}

// armDisplay starts the display timer if none is live.
func (c *Controller) armDisplay(sessionID string) {
	c.mu.Lock()
	if c.displayStop != nil {
		c.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	c.displayStop = stop
	c.displayDone = done
	c.mu.Unlock()

	go c.runDisplay(sessionID, stop, done)
}

// disarmDisplay signals the display timer without waiting for it.
func (c *Controller) disarmDisplay() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.displayStop == nil {
		return
	}
	close(c.displayStop)
	c.displayStop = nil
}

// runDisplay samples immediately and then every DisplayInterval. It only
// publishes locations; the uplink belongs to the background loop.
func (c *Controller) runDisplay(sessionID string, stop, done chan struct{}) {
	defer close(done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(c.cfg.DisplayInterval)
	defer ticker.Stop()

	for {
		c.displaySample(ctx, sessionID)
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

func (c *Controller) displaySample(ctx context.Context, sessionID string) {
	if !c.current(sessionID) {
		return
	}
	sample, err := c.sample(ctx, c.cfg.DisplaySample)
	if err != nil {
		if ctx.Err() == nil {
			metrics.SamplesTotal.WithLabelValues("display", "error").Inc()
			c.logger.Debug().Err(err).Str("session_id", sessionID).Msg("Display sample failed")
		}
		return
	}
	metrics.SamplesTotal.WithLabelValues("display", "ok").Inc()
	c.rememberLocation(sessionID, sample)

	c.mu.Lock()
	petID := c.petID
	c.mu.Unlock()
	c.publishFor(sessionID, Status{Kind: StatusLocation, SessionID: sessionID, PetID: petID, Sample: &sample})
}

func (c *Controller) rememberLocation(sessionID string, sample location.Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active && c.sessionID == sessionID {
		c.lastLocation = &sample
	}
}

// publishFor publishes only while sessionID is still active.
func (c *Controller) publishFor(sessionID string, status Status) {
	if !c.current(sessionID) {
		return
	}
	c.publish(status)
}

func (c *Controller) publish(status Status) {
	if status.Time.IsZero() {
		status.Time = c.clock.Now()
	}

	c.mu.Lock()
	c.latest = status
	c.haveLatest = true
	fn := c.observer
	c.mu.Unlock()

	if fn != nil {
		fn(status)
	}
}
