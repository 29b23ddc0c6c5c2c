// Package handler provides HTTP handlers for the API.
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/voice-configurator/internal/middleware"
	"github.com/capitalize-ai/voice-configurator/internal/model"
	"github.com/capitalize-ai/voice-configurator/internal/room"
	"github.com/capitalize-ai/voice-configurator/internal/service"
	"github.com/capitalize-ai/voice-configurator/pkg/logger"
)

// Dispatcher is the room and dispatch logic behind the API.
type Dispatcher interface {
	Join(ctx context.Context, req *model.JoinRequest) (*model.JoinResponse, error)
	ListDispatches(ctx context.Context, room string) (*model.ListDispatchesResponse, error)
	Configuration(ctx context.Context, room string) (*model.Snapshot, error)
}

// DispatchHandler handles room join and dispatch endpoints.
type DispatchHandler struct {
	service Dispatcher
	logger  *logger.Logger
}

// NewDispatchHandler creates a new dispatch handler.
func NewDispatchHandler(svc Dispatcher, log *logger.Logger) *DispatchHandler {
	return &DispatchHandler{
		service: svc,
		logger:  log,
	}
}

// Join handles POST /api/join
func (h *DispatchHandler) Join(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.JoinRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateMetadata(req.Metadata); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.service.Join(ctx, &req)
	if err != nil {
		h.logger.Error("failed to join room",
			zap.String("correlation_id", middleware.GetCorrelationID(ctx)),
			zap.Error(err),
		)
		if errors.Is(err, room.ErrProvisioning) {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListAgents handles GET /api/agents?room_name=
func (h *DispatchHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	roomName := r.URL.Query().Get("room_name")

	if err := middleware.ValidateRoomName(roomName); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.service.ListDispatches(ctx, roomName)
	if err != nil {
		h.logger.Error("failed to list dispatches", zap.String("room", roomName), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list dispatches")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Configuration handles GET /api/rooms/{room}/configuration
func (h *DispatchHandler) Configuration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	roomName := chi.URLParam(r, "room")

	if err := middleware.ValidateRoomName(roomName); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := h.service.Configuration(ctx, roomName)
	if errors.Is(err, service.ErrNoConfiguration) {
		writeError(w, http.StatusNotFound, "configuration not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to load configuration", zap.String("room", roomName), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load configuration")
		return
	}

	writeJSON(w, http.StatusOK, snap)
}
