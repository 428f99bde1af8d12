// Package retention removes old uplink attempt history.
package retention

import (
	"context"
	"sync"
	"time"

	"github.com/goodtune/petwatch/internal/metrics"
	"github.com/goodtune/petwatch/internal/storage"
	"github.com/rs/zerolog"
)

// pruneTimeout bounds a single prune pass.
const pruneTimeout = time.Minute

// Pruner periodically deletes attempts older than the retention window
type Pruner struct {
	attempts  storage.AttemptStore
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	logger    zerolog.Logger
	stopChan  chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
}

// NewPruner creates a new pruner
func NewPruner(attempts storage.AttemptStore, retention, interval time.Duration, logger zerolog.Logger) *Pruner {
	return &Pruner{
		attempts:  attempts,
		retention: retention,
		interval:  interval,
		now:       time.Now,
		logger:    logger.With().Str("component", "retention").Logger(),
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start begins the pruning loop
func (p *Pruner) Start() {
	go p.run()
	p.logger.Info().
		Dur("retention", p.retention).
		Dur("interval", p.interval).
		Msg("Attempt history pruner started")
}

// Stop stops the pruner and waits for an in-progress pass to finish
func (p *Pruner) Stop() {
	p.stopOnce.Do(func() { close(p.stopChan) })
	<-p.done
	p.logger.Info().Msg("Attempt history pruner stopped")
}

// run is the main loop; the first pass runs immediately
func (p *Pruner) run() {
	defer close(p.done)
	for {
		p.PruneOnce(context.Background())

		select {
		case <-time.After(p.interval):
		case <-p.stopChan:
			return
		}
	}
}

// PruneOnce deletes attempts made before now minus the retention window
func (p *Pruner) PruneOnce(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, pruneTimeout)
	defer cancel()

	cutoff := p.now().Add(-p.retention)
	deleted, err := p.attempts.DeleteBefore(ctx, cutoff)
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to prune uplink attempts")
		return 0
	}

	metrics.AttemptsPruned.Add(float64(deleted))
	if deleted > 0 {
		p.logger.Info().
			Int("deleted", deleted).
			Time("cutoff", cutoff).
			Msg("Pruned uplink attempt history")
	}
	return deleted
}
