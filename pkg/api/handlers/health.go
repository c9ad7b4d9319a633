package handlers

import (
	"net/http"
	"time"

	"github.com/cuemby/dispatchd/pkg/types"
)

// Pinger is the subset of store.Store the health handler uses to
// verify storage is reachable for the readiness probe.
type Pinger interface {
	ListNodes() ([]*types.Node, error)
}

// HealthHandler implements the liveness/readiness endpoints.
type HealthHandler struct {
	store Pinger
}

func NewHealthHandler(store Pinger) *HealthHandler {
	return &HealthHandler{store: store}
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Liveness handles GET /health.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, healthResponse{Status: "healthy", Timestamp: time.Now().UTC()})
}

type readyResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
}

// Readiness handles GET /health/ready, probing the store with a cheap
// read.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.ListNodes(); err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, readyResponse{
			Status:    "not ready",
			Timestamp: time.Now().UTC(),
			Message:   err.Error(),
		})
		return
	}
	WriteJSON(w, http.StatusOK, readyResponse{Status: "ready", Timestamp: time.Now().UTC()})
}
