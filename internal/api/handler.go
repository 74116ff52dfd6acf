// Package api provides the HTTP handlers of the relay besides the WebSocket endpoint.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/voice-relay/internal/relay"
)

// SessionLister reports the live relay sessions.
type SessionLister interface {
	Snapshot() []relay.Info
	Lookup(sessionID string) (relay.Info, bool)
}

// Handler serves operational views of the relay.
type Handler struct {
	sessions SessionLister
}

// NewHandler creates a new Handler.
func NewHandler(sessions SessionLister) *Handler {
	return &Handler{sessions: sessions}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// Sessions lists the live relay sessions.
func (h *Handler) Sessions(w http.ResponseWriter, _ *http.Request) {
	infos := h.sessions.Snapshot()
	JSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(infos),
		"sessions": infos,
	})
}

// Session returns one live relay session.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	info, ok := h.sessions.Lookup(chi.URLParam(r, "sessionID"))
	if !ok {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	JSON(w, http.StatusOK, info)
}

// RegisterRoutes registers the handler's routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions", h.Sessions)
	r.Get("/sessions/{sessionID}", h.Session)
}
