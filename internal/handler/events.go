package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/voice-configurator/internal/middleware"
	"github.com/capitalize-ai/voice-configurator/internal/model"
	"github.com/capitalize-ai/voice-configurator/pkg/logger"
	"github.com/capitalize-ai/voice-configurator/pkg/metrics"
)

// EventFeed delivers configuration events mirrored from a room.
type EventFeed interface {
	WatchEvents(ctx context.Context, room string, handler func(payload []byte)) (stop func(), err error)
}

// EventsHandler streams a room's configuration events over SSE.
type EventsHandler struct {
	feed      EventFeed
	service   Dispatcher
	logger    *logger.Logger
	heartbeat time.Duration
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(feed EventFeed, svc Dispatcher, log *logger.Logger) *EventsHandler {
	return &EventsHandler{
		feed:      feed,
		service:   svc,
		logger:    log,
		heartbeat: 30 * time.Second,
	}
}

const eventBuffer = 32

// Stream handles GET /api/rooms/{room}/events
// The current snapshot, if any, is sent first so late observers can catch up.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	roomName := chi.URLParam(r, "room")

	if err := middleware.ValidateRoomName(roomName); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe before reading the snapshot so no event falls in between.
	live := make(chan []byte, eventBuffer)
	stop, err := h.feed.WatchEvents(ctx, roomName, func(payload []byte) {
		select {
		case live <- payload:
		default:
			h.logger.Warn("event stream lagging, dropping event", zap.String("room", roomName))
		}
	})
	if err != nil {
		h.logger.Error("failed to watch events", zap.String("room", roomName), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}
	defer stop()

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)

	metrics.EventStreamsActive.Inc()
	defer metrics.EventStreamsActive.Dec()

	sendSSEEvent(w, flusher, "connected", map[string]string{"room": roomName})

	if snap, err := h.service.Configuration(ctx, roomName); err == nil {
		sendSSEEvent(w, flusher, "snapshot", snap)
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("event stream client disconnected", zap.String("room", roomName))
			return

		case payload := <-live:
			var event model.ConfigEvent
			if err := json.Unmarshal(payload, &event); err != nil {
				continue
			}
			sendSSEEvent(w, flusher, string(event.Type), event)

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", map[string]time.Time{"timestamp": time.Now()})
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
