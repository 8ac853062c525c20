package api

import (
	"encoding/json"
	"net/http"
	"time"

	"code-evolver/internal/repository"
	"code-evolver/pkg/models"
)

// Handler contains the unauthenticated HTTP handlers for the registry.
type Handler struct {
	store repository.ArtifactStore
}

// NewHandler creates a new Handler with required dependencies.
func NewHandler(store repository.ArtifactStore) *Handler {
	return &Handler{store: store}
}

// HandleHealth returns basic health status (always returns 200 OK)
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := models.HealthStatus{
		Status:    "ok",
		Service:   "code-evolver",
		Version:   "1.0.0",
		Timestamp: time.Now(),
	}
	writeJSON(w, http.StatusOK, status)
}

// HandleReady returns 200 only when the artifact store is reachable.
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Store unreachable", err.Error())
		return
	}
	status := models.HealthStatus{
		Status:    "ready",
		Service:   "code-evolver",
		Version:   "1.0.0",
		Timestamp: time.Now(),
	}
	writeJSON(w, http.StatusOK, status)
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Log error but can't change response at this point
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// writeError writes an RFC 7807 Problem Details JSON error response
func writeError(w http.ResponseWriter, status int, title, detail string) {
	problem := models.ProblemDetails{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: detail,
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(problem)
}
