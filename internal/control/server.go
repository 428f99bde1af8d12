// Package control serves the local HTTP API a host UI uses to drive the
// tracking engine.
package control

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goodtune/petwatch/internal/identity"
	"github.com/goodtune/petwatch/internal/location"
	"github.com/goodtune/petwatch/internal/permission"
	"github.com/goodtune/petwatch/internal/storage"
	"github.com/goodtune/petwatch/internal/tracker"
	"github.com/rs/zerolog"
)

// Tracking is the session surface of tracker.Controller.
type Tracking interface {
	IsActive() bool
	SessionID() string
	LatestStatus() (tracker.Status, bool)
	LastLocation() (location.Sample, bool)
	Start(ctx context.Context) error
	Stop()
	Toggle(ctx context.Context) (bool, error)
	SetForeground(visible bool)
}

// Pets is the identifier surface of identity.Store.
type Pets interface {
	Get(ctx context.Context) (identity.Ref, bool, error)
	Set(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}

// Permissions requests capabilities on behalf of the UI.
type Permissions interface {
	Request(ctx context.Context, c permission.Capability) permission.State
}

// Deps are the engine components behind the API. History may be nil.
type Deps struct {
	Tracking    Tracking
	Pets        Pets
	Permissions Permissions
	History     storage.AttemptStore
}

// Config holds the control server configuration.
type Config struct {
	ListenAddr string
	Token      string
}

// Server is the control HTTP server.
type Server struct {
	config   Config
	deps     Deps
	router   *gin.Engine
	server   *http.Server
	listener net.Listener
	logger   zerolog.Logger
}

// NewServer creates a control server.
func NewServer(cfg Config, deps Deps, logger zerolog.Logger) *Server {
	if logger.GetLevel() == zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		config: cfg,
		deps:   deps,
		router: router,
		logger: logger.With().Str("component", "control").Logger(),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second, // permission prompts may block a request
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))

	s.router.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.router.Group("/api")
	api.Use(TokenMiddleware(s.config.Token))
	{
		tracking := api.Group("/tracking")
		{
			tracking.GET("", s.getTracking)
			tracking.POST("/start", s.startTracking)
			tracking.POST("/stop", s.stopTracking)
			tracking.POST("/toggle", s.toggleTracking)
			tracking.PUT("/foreground", s.setForeground)
		}

		api.GET("/pet", s.getPet)
		api.PUT("/pet", s.setPet)
		api.DELETE("/pet", s.clearPet)

		api.POST("/permissions/camera", s.requestCamera)

		api.GET("/history", s.listHistory)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener for systemd socket activation.
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the control server.
func (s *Server) Start() error {
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Info().Str("addr", s.listener.Addr().String()).Msg("Starting control server (socket activated)")
			err = s.server.Serve(s.listener)
		} else {
			s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Starting control server")
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Control server failed")
		}
	}()
	return nil
}

// Stop gracefully stops the control server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.logger.Info().Msg("Stopping control server")
	return s.server.Shutdown(ctx)
}
