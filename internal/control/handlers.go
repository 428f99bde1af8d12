package control

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/goodtune/petwatch/internal/identity"
	"github.com/goodtune/petwatch/internal/permission"
	"github.com/goodtune/petwatch/internal/storage"
	"github.com/goodtune/petwatch/internal/supervisor"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

type petView struct {
	ID   string  `json:"id"`
	Name *string `json:"name"`
}

func newPetView(ref identity.Ref) *petView {
	view := &petView{ID: ref.ID}
	if ref.Name != "" {
		name := ref.Name
		view.Name = &name
	}
	return view
}

func (s *Server) getTracking(ctx *gin.Context) {
	ref, ok, err := s.deps.Pets.Get(ctx.Request.Context())
	if err != nil {
		s.serverError(ctx, "Failed to read pet", err)
		return
	}

	resp := gin.H{
		"active":     s.deps.Tracking.IsActive(),
		"session_id": nil,
		"pet":        nil,
		"status":     nil,
		"location":   nil,
	}
	if id := s.deps.Tracking.SessionID(); id != "" {
		resp["session_id"] = id
	}
	if ok {
		resp["pet"] = newPetView(ref)
	}
	if status, ok := s.deps.Tracking.LatestStatus(); ok {
		resp["status"] = status
	}
	if sample, ok := s.deps.Tracking.LastLocation(); ok {
		resp["location"] = sample
	}
	ctx.JSON(http.StatusOK, resp)
}

func (s *Server) startTracking(ctx *gin.Context) {
	if !s.requirePet(ctx) {
		return
	}
	if err := s.deps.Tracking.Start(ctx.Request.Context()); err != nil {
		s.trackingError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"active": s.deps.Tracking.IsActive()})
}

func (s *Server) stopTracking(ctx *gin.Context) {
	s.deps.Tracking.Stop()
	ctx.JSON(http.StatusOK, gin.H{"active": s.deps.Tracking.IsActive()})
}

func (s *Server) toggleTracking(ctx *gin.Context) {
	if !s.deps.Tracking.IsActive() && !s.requirePet(ctx) {
		return
	}
	active, err := s.deps.Tracking.Toggle(ctx.Request.Context())
	if err != nil {
		s.trackingError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"active": active})
}

func (s *Server) setForeground(ctx *gin.Context) {
	var req struct {
		Visible *bool `json:"visible"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil || req.Visible == nil {
		ctx.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Body must be {\"visible\": bool}",
		})
		return
	}
	s.deps.Tracking.SetForeground(*req.Visible)
	ctx.JSON(http.StatusOK, gin.H{"visible": *req.Visible})
}

func (s *Server) getPet(ctx *gin.Context) {
	ref, ok, err := s.deps.Pets.Get(ctx.Request.Context())
	if err != nil {
		s.serverError(ctx, "Failed to read pet", err)
		return
	}
	if !ok {
		ctx.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No pet id configured",
		})
		return
	}
	ctx.JSON(http.StatusOK, newPetView(ref))
}

func (s *Server) setPet(ctx *gin.Context) {
	var req struct {
		ID string `json:"id"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil || req.ID == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Body must be {\"id\": string}",
		})
		return
	}
	if err := s.deps.Pets.Set(ctx.Request.Context(), req.ID); err != nil {
		if errors.Is(err, identity.ErrEmptyID) {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
			return
		}
		s.serverError(ctx, "Failed to store pet", err)
		return
	}

	ref, _, err := s.deps.Pets.Get(ctx.Request.Context())
	if err != nil {
		s.serverError(ctx, "Failed to read pet", err)
		return
	}
	ctx.JSON(http.StatusOK, newPetView(ref))
}

func (s *Server) clearPet(ctx *gin.Context) {
	if err := s.deps.Pets.Clear(ctx.Request.Context()); err != nil {
		s.serverError(ctx, "Failed to clear pet", err)
		return
	}
	// Tracking needs a pet id.
	s.deps.Tracking.Stop()
	ctx.Status(http.StatusNoContent)
}

func (s *Server) requestCamera(ctx *gin.Context) {
	state := s.deps.Permissions.Request(ctx.Request.Context(), permission.Camera)
	if state != permission.StateGranted {
		denied := &permission.DeniedError{Capability: permission.Camera, State: state}
		ctx.JSON(http.StatusForbidden, gin.H{
			"error":   "permission_denied",
			"message": denied.Message(),
			"state":   state,
		})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"state": state})
}

func (s *Server) listHistory(ctx *gin.Context) {
	if s.deps.History == nil {
		ctx.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Uplink history is disabled",
		})
		return
	}

	limit := defaultHistoryLimit
	if raw := ctx.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			ctx.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "limit must be a positive integer",
			})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	filter := storage.AttemptFilter{PetID: ctx.Query("pet_id"), Limit: limit}
	attempts, err := s.deps.History.List(ctx.Request.Context(), filter)
	if err != nil {
		s.serverError(ctx, "Failed to list history", err)
		return
	}
	if attempts == nil {
		attempts = []storage.UplinkAttempt{}
	}
	ctx.JSON(http.StatusOK, gin.H{"attempts": attempts, "count": len(attempts)})
}

// requirePet writes 409 and returns false when no pet id is stored.
func (s *Server) requirePet(ctx *gin.Context) bool {
	_, ok, err := s.deps.Pets.Get(ctx.Request.Context())
	if err != nil {
		s.serverError(ctx, "Failed to read pet", err)
		return false
	}
	if !ok {
		ctx.JSON(http.StatusConflict, gin.H{
			"error":   "no_pet",
			"message": "Scan or enter a pet id before starting tracking",
		})
		return false
	}
	return true
}

func (s *Server) trackingError(ctx *gin.Context, err error) {
	var denied *permission.DeniedError
	switch {
	case errors.As(err, &denied):
		ctx.JSON(http.StatusForbidden, gin.H{
			"error":      "permission_denied",
			"message":    denied.Message(),
			"capability": denied.Capability.String(),
			"active":     false,
		})
	case errors.Is(err, supervisor.ErrBackgroundRefused):
		ctx.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "background_refused",
			"message": "The host refused to run background tracking",
			"active":  false,
		})
	default:
		s.serverError(ctx, "Failed to change tracking state", err)
	}
}

func (s *Server) serverError(ctx *gin.Context, message string, err error) {
	s.logger.Error().Err(err).Str("path", ctx.Request.URL.Path).Msg(message)
	ctx.JSON(http.StatusInternalServerError, gin.H{
		"error":   "server_error",
		"message": message,
	})
}
