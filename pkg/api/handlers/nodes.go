package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cuemby/dispatchd/pkg/api/middleware"
	"github.com/cuemby/dispatchd/pkg/types"
)

// NodeRegistry is the subset of registry.Registry the node handlers use.
type NodeRegistry interface {
	Register(id, name, ipAddress, hardwareFingerprint string) (*types.Node, error)
	Heartbeat(nodeID string) (*types.Node, error)
	Get(nodeID string) (*types.Node, error)
	ListAvailable() ([]*types.Node, error)
	ListAll() ([]*types.Node, error)
	Disconnect(nodeID string) (*types.Node, error)
}

// NodeHandler implements the /nodes endpoints.
type NodeHandler struct {
	registry NodeRegistry
}

func NewNodeHandler(registry NodeRegistry) *NodeHandler {
	return &NodeHandler{registry: registry}
}

// registerNodeRequest is the body for POST /nodes/register. id is
// client-assigned and opaque to the server; re-registering with the
// same id refreshes that node's record instead of creating a new one.
type registerNodeRequest struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	IPAddress           string `json:"ip_address"`
	HardwareFingerprint string `json:"hardware_fingerprint"`
}

type nodeResponse struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	IPAddress           string    `json:"ip_address"`
	HardwareFingerprint string    `json:"hardware_fingerprint"`
	IsAvailable         bool      `json:"is_available"`
	LastHeartbeat       time.Time `json:"last_heartbeat"`
	CreatedAt           time.Time `json:"created_at"`
}

func toNodeResponse(n *types.Node) nodeResponse {
	return nodeResponse{
		ID:                  n.ID,
		Name:                n.Name,
		IPAddress:           n.IPAddress,
		HardwareFingerprint: n.HardwareFingerprint,
		IsAvailable:         n.IsAvailable,
		LastHeartbeat:       n.LastHeartbeat,
		CreatedAt:           n.CreatedAt,
	}
}

// Register handles POST /nodes/register.
func (h *NodeHandler) Register(w http.ResponseWriter, r *http.Request) {
	cid := middleware.CorrelationIDFromContext(r.Context())

	var req registerNodeRequest
	if !DecodeJSONBody(w, r, cid, &req) {
		return
	}
	if req.ID == "" {
		WriteError(w, cid, validationError("id is required"))
		return
	}
	if req.Name == "" {
		WriteError(w, cid, validationError("name is required"))
		return
	}

	node, err := h.registry.Register(req.ID, req.Name, req.IPAddress, req.HardwareFingerprint)
	if err != nil {
		WriteError(w, cid, err)
		return
	}
	WriteJSON(w, http.StatusOK, toNodeResponse(node))
}

// Heartbeat handles POST /nodes/{id}/heartbeat.
func (h *NodeHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	cid := middleware.CorrelationIDFromContext(r.Context())
	nodeID := chi.URLParam(r, "id")

	if _, err := h.registry.Heartbeat(nodeID); err != nil {
		WriteError(w, cid, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAvailable handles GET /nodes.
func (h *NodeHandler) ListAvailable(w http.ResponseWriter, r *http.Request) {
	cid := middleware.CorrelationIDFromContext(r.Context())
	nodes, err := h.registry.ListAvailable()
	if err != nil {
		WriteError(w, cid, err)
		return
	}
	WriteJSON(w, http.StatusOK, toNodeResponseList(nodes))
}

// ListAll handles GET /nodes/all.
func (h *NodeHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	cid := middleware.CorrelationIDFromContext(r.Context())
	nodes, err := h.registry.ListAll()
	if err != nil {
		WriteError(w, cid, err)
		return
	}
	WriteJSON(w, http.StatusOK, toNodeResponseList(nodes))
}

// Disconnect handles POST /nodes/{id}/disconnect.
func (h *NodeHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	cid := middleware.CorrelationIDFromContext(r.Context())
	nodeID := chi.URLParam(r, "id")

	node, err := h.registry.Disconnect(nodeID)
	if err != nil {
		WriteError(w, cid, err)
		return
	}
	WriteJSON(w, http.StatusOK, toNodeResponse(node))
}

func toNodeResponseList(nodes []*types.Node) []nodeResponse {
	out := make([]nodeResponse, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, toNodeResponse(n))
	}
	return out
}
