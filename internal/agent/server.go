package agent

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/voice-configurator/internal/model"
	"github.com/capitalize-ai/voice-configurator/internal/service"
)

// ReadyFunc reports whether the worker can accept jobs.
type ReadyFunc func() bool

// SessionsResponse lists the sessions running on this worker.
type SessionsResponse struct {
	Sessions []model.SessionInfo `json:"sessions"`
	Total    int                 `json:"total"`
}

// NewRouter returns the worker's operational HTTP endpoints.
func NewRouter(tracker *service.SessionTracker, ready ReadyFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil && !ready() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": "dispatch queue not connected",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/sessions", func(w http.ResponseWriter, r *http.Request) {
		sessions := tracker.Active()
		if sessions == nil {
			sessions = []model.SessionInfo{}
		}
		writeJSON(w, http.StatusOK, SessionsResponse{Sessions: sessions, Total: len(sessions)})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
