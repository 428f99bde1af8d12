package permission

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Gatekeeper applies the engine's permission policy on top of a Platform.
// It keeps no state of its own; every check goes back to the platform.
type Gatekeeper struct {
	platform      Platform
	promptTimeout time.Duration
	logger        zerolog.Logger
}

// NewGatekeeper creates a gatekeeper. A zero promptTimeout waits for the
// caller's context only.
func NewGatekeeper(platform Platform, promptTimeout time.Duration, logger zerolog.Logger) *Gatekeeper {
	return &Gatekeeper{
		platform:      platform,
		promptTimeout: promptTimeout,
		logger:        logger.With().Str("component", "permission").Logger(),
	}
}

// Check queries the current state. Platform errors are logged and yield
// StateUnknown.
func (g *Gatekeeper) Check(ctx context.Context, c Capability) State {
	state, err := g.platform.Check(ctx, c)
	if err != nil {
		g.logger.Warn().Err(err).Str("capability", c.String()).Msg("Permission check failed")
		return StateUnknown
	}
	return state
}

// Request prompts only when the current state is unknown.
func (g *Gatekeeper) Request(ctx context.Context, c Capability) State {
	state := g.Check(ctx, c)
	if state != StateUnknown {
		return state
	}

	if g.promptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.promptTimeout)
		defer cancel()
	}

	g.logger.Info().Str("capability", c.String()).Msg("Requesting permission")
	state, err := g.platform.Request(ctx, c, RationaleFor(c))
	if err != nil {
		g.logger.Warn().Err(err).Str("capability", c.String()).Msg("Permission request failed")
		return StateUnknown
	}

	g.logger.Info().
		Str("capability", c.String()).
		Str("state", state.String()).
		Msg("Permission request answered")
	return state
}

// EnsureLocation requires both location capabilities. Platforms without a
// separate background grant are satisfied by the foreground answer.
func (g *Gatekeeper) EnsureLocation(ctx context.Context) error {
	if err := g.ensure(ctx, ForegroundLocation); err != nil {
		return err
	}
	if !g.platform.SplitsBackgroundLocation() {
		return nil
	}
	return g.ensure(ctx, BackgroundLocation)
}

// EnsureCamera requires the camera capability.
func (g *Gatekeeper) EnsureCamera(ctx context.Context) error {
	return g.ensure(ctx, Camera)
}

func (g *Gatekeeper) ensure(ctx context.Context, c Capability) error {
	if state := g.Request(ctx, c); state != StateGranted {
		return &DeniedError{Capability: c, State: state}
	}
	return nil
}
