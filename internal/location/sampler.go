package location

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Sampler wraps a Provider with timeout and cache-age handling.
// Callers are expected to serialise SampleOnce; the sampler only guards its
// cached fix.
type Sampler struct {
	provider Provider
	clock    Clock
	logger   zerolog.Logger

	mu       sync.Mutex
	last     Fix
	lastAt   time.Time
	haveLast bool
}

// NewSampler creates a sampler. A nil clock uses RealClock.
func NewSampler(provider Provider, clock Clock, logger zerolog.Logger) *Sampler {
	if clock == nil {
		clock = RealClock{}
	}
	return &Sampler{
		provider: provider,
		clock:    clock,
		logger:   logger.With().Str("component", "location").Logger(),
	}
}

type positionResult struct {
	fix Fix
	err error
}

// SampleOnce acquires one position. It returns when the provider answers,
// when opts.Timeout elapses or when ctx is done, whichever comes first.
func (s *Sampler) SampleOnce(ctx context.Context, opts Options) (Sample, error) {
	if fix, ok := s.cached(opts.MaximumAge); ok {
		s.logger.Debug().Dur("max_age", opts.MaximumAge).Msg("Reusing cached fix")
		return s.sampleFrom(fix), nil
	}

	reqCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	// Buffered so a provider that ignores its context cannot leak the goroutine.
	results := make(chan positionResult, 1)
	go func() {
		fix, err := s.provider.CurrentPosition(reqCtx, opts)
		results <- positionResult{fix: fix, err: err}
	}()

	select {
	case res := <-results:
		if res.err != nil {
			return Sample{}, classify(ctx, res.err)
		}
		s.remember(res.fix)
		return s.sampleFrom(res.fix), nil
	case <-reqCtx.Done():
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Sample{}, ctx.Err()
		}
		return Sample{}, &SamplerError{Kind: KindTimeout, Err: reqCtx.Err()}
	}
}

func classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return &SamplerError{Kind: KindPermissionDenied, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &SamplerError{Kind: KindTimeout, Err: err}
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return ctx.Err()
	default:
		return &SamplerError{Kind: KindPositionUnavailable, Err: err}
	}
}

func (s *Sampler) cached(maxAge time.Duration) (Fix, bool) {
	if maxAge <= 0 {
		return Fix{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.haveLast || s.clock.Now().Sub(s.lastAt) > maxAge {
		return Fix{}, false
	}
	return s.last, true
}

func (s *Sampler) remember(fix Fix) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = fix
	s.lastAt = s.clock.Now()
	if !fix.Time.IsZero() {
		s.lastAt = fix.Time
	}
	s.haveLast = true
}

func (s *Sampler) sampleFrom(fix Fix) Sample {
	captured := fix.Time
	if captured.IsZero() {
		captured = s.clock.Now()
	}
	return Sample{
		Latitude:   fix.Latitude,
		Longitude:  fix.Longitude,
		CapturedAt: captured,
	}
}
