package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/petwatch/internal/config"
	"github.com/goodtune/petwatch/internal/control"
	"github.com/goodtune/petwatch/internal/identity"
	"github.com/goodtune/petwatch/internal/metrics"
	"github.com/goodtune/petwatch/internal/permission"
	"github.com/goodtune/petwatch/internal/retention"
	"github.com/goodtune/petwatch/internal/storage"
	"github.com/goodtune/petwatch/internal/supervisor"
	"github.com/goodtune/petwatch/internal/systemd"
	"github.com/goodtune/petwatch/internal/tracker"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the PetWatch daemon",
	Long:  `Start the tracking engine with its control API and metrics endpoint.`,
	RunE:  runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting PetWatch")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Msg("Storage initialized")

	eng, err := newEngine(cfg, store, logger)
	if err != nil {
		return err
	}

	ctx := context.Background()

	if err := seedPetID(ctx, eng.identity, cfg.Pet.ID, logger); err != nil {
		return err
	}
	if ref, ok, err := eng.identity.Load(ctx); err != nil {
		return fmt.Errorf("failed to load pet id: %w", err)
	} else if ok {
		logger.Info().Str("pet_id", ref.ID).Str("pet_name", ref.Name).Msg("Pet id loaded")
	} else {
		logger.Info().Msg("No pet id stored; tracking waits for one")
	}

	var attempts storage.AttemptStore
	if cfg.History.Enabled {
		attempts = store.Attempts()
	}

	controller, err := tracker.New(trackerConfig(cfg.Tracking), tracker.Deps{
		Identity:   eng.identity,
		Gate:       eng.gate,
		Sampler:    eng.sampler,
		Sender:     eng.client,
		Supervisor: supervisor.New(systemd.NewHost(cfg.Tracking.RequireSystemd, logger), logger),
		Attempts:   attempts,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracker: %w", err)
	}
	controller.OnStatus(logStatus(logger))

	if err := controller.Load(ctx); err != nil {
		logStartError(logger, err)
	}

	var pruner *retention.Pruner
	if cfg.History.Enabled {
		pruner = retention.NewPruner(
			store.Attempts(),
			parseDuration(cfg.History.Retention, 168*time.Hour),
			parseDuration(cfg.History.PruneInterval, time.Hour),
			logger,
		)
		pruner.Start()
		logger.Info().Str("retention", cfg.History.Retention).Msg("History pruner started")
	}

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Metrics.BindAddress, cfg.Metrics.Port)
		metricsServer = metrics.NewServer(metricsAddr, logger)
		if sdListeners.Activated && sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start Metrics Server: %w", err)
		}
	}

	var controlServer *control.Server
	if cfg.Control.Enabled {
		controlAddr := fmt.Sprintf("%s:%d", cfg.Control.BindAddress, cfg.Control.Port)
		controlServer = control.NewServer(control.Config{
			ListenAddr: controlAddr,
			Token:      cfg.Control.Token,
		}, control.Deps{
			Tracking:    controller,
			Pets:        eng.identity,
			Permissions: eng.gate,
			History:     attempts,
		}, logger)
		if sdListeners.Activated && sdListeners.Control != nil {
			controlServer.SetListener(sdListeners.Control)
		}
		if err := controlServer.Start(); err != nil {
			return fmt.Errorf("failed to start Control Server: %w", err)
		}
		if cfg.Control.Token == "" {
			logger.Warn().Str("addr", controlAddr).Msg("Control API has no token configured")
		}
	}

	logger.Info().Bool("tracking", controller.IsActive()).Msg("PetWatch startup complete")

	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	watchdog := systemd.NewWatchdog(logger)
	watchdog.Start()
	defer watchdog.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			logger.Info().Msg("SIGHUP received, toggling tracking")
			active, err := controller.Toggle(ctx)
			if err != nil {
				logStartError(logger, err)
			}
			logger.Info().Bool("active", active).Msg("Tracking toggled")
			continue
		}
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received, gracefully stopping...")
		break
	}
	signal.Stop(sigChan)

	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	if controlServer != nil {
		if err := controlServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping Control Server")
		}
	}

	if pruner != nil {
		pruner.Stop()
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := controller.Close(closeCtx); err != nil {
		logger.Error().Err(err).Msg("Error stopping tracker")
	}
	eng.identity.Wait()

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping Metrics Server")
		}
	}

	logger.Info().Msg("PetWatch stopped")
	return nil
}

// seedPetID stores the configured id when storage holds none yet.
func seedPetID(ctx context.Context, ids *identity.Store, id string, logger zerolog.Logger) error {
	if id == "" {
		return nil
	}
	if _, ok, err := ids.Get(ctx); err != nil {
		return fmt.Errorf("failed to read pet id: %w", err)
	} else if ok {
		return nil
	}
	if err := ids.Set(ctx, id); err != nil {
		return fmt.Errorf("failed to seed pet id: %w", err)
	}
	logger.Info().Str("pet_id", id).Msg("Pet id seeded from configuration")
	return nil
}

func logStartError(logger zerolog.Logger, err error) {
	var denied *permission.DeniedError
	switch {
	case errors.As(err, &denied):
		logger.Warn().Str("capability", denied.Capability.String()).Msg(denied.Message())
	case errors.Is(err, supervisor.ErrBackgroundRefused):
		logger.Error().Err(err).Msg("Background tracking refused by host")
	default:
		logger.Error().Err(err).Msg("Failed to start tracking")
	}
}

// logStatus renders tracker status updates as log lines.
func logStatus(logger zerolog.Logger) func(tracker.Status) {
	logger = logger.With().Str("component", "status").Logger()
	return func(s tracker.Status) {
		event := logger.Info()
		if s.Failed() {
			event = logger.Warn().Err(s.Err)
		}
		event = event.Str("kind", string(s.Kind)).Str("session_id", s.SessionID)
		if s.PetID != "" {
			event = event.Str("pet_id", s.PetID)
		}
		if s.Sample != nil {
			event = event.Float64("lat", s.Sample.Latitude).Float64("lon", s.Sample.Longitude)
		}
		if s.Ack != nil {
			event = event.Int("status_code", s.Ack.StatusCode)
		}
		event.Msg(s.Message)
	}
}
