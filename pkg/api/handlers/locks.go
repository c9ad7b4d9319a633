package handlers

import (
	"net/http"
	"time"

	"github.com/cuemby/dispatchd/pkg/api/middleware"
	"github.com/cuemby/dispatchd/pkg/dispatcherr"
	"github.com/cuemby/dispatchd/pkg/types"
)

// LockManager is the subset of lock.Manager the lock handlers use.
type LockManager interface {
	TryAcquire(path, nodeID string) (*types.FileLock, error)
	Refresh(path, nodeID string) (*types.FileLock, error)
	Release(path, nodeID string) (bool, error)
	ListAll() ([]*types.FileLock, error)
	ReleaseAll() (int, error)
}

// LockHandler implements the /locks endpoints.
type LockHandler struct {
	locks LockManager
}

func NewLockHandler(locks LockManager) *LockHandler {
	return &LockHandler{locks: locks}
}

type lockRequest struct {
	Path   string `json:"path"`
	NodeID string `json:"nodeId"`
}

type acquireLockResponse struct {
	Acquired bool             `json:"acquired"`
	Lock     *fileLockPayload `json:"lock,omitempty"`
}

type fileLockPayload struct {
	Path          string    `json:"path"`
	HolderNodeID  string    `json:"holder_node_id"`
	CreatedAt     time.Time `json:"created_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

func toFileLockPayload(l *types.FileLock) *fileLockPayload {
	if l == nil {
		return nil
	}
	return &fileLockPayload{
		Path:          l.NormalizedPath,
		HolderNodeID:  l.HolderNodeID,
		CreatedAt:     l.CreatedAt,
		LastUpdatedAt: l.LastUpdatedAt,
	}
}

func (h *LockHandler) request(w http.ResponseWriter, r *http.Request, cid string) (lockRequest, bool) {
	var req lockRequest
	if !DecodeJSONBody(w, r, cid, &req) {
		return req, false
	}
	if req.Path == "" {
		WriteError(w, cid, validationError("path is required"))
		return req, false
	}
	if req.NodeID == "" {
		WriteError(w, cid, validationError("nodeId is required"))
		return req, false
	}
	return req, true
}

// TryAcquire handles POST /locks. A denial (another node holds the
// lock) is a normal {acquired:false} result, not an error response.
func (h *LockHandler) TryAcquire(w http.ResponseWriter, r *http.Request) {
	cid := middleware.CorrelationIDFromContext(r.Context())
	req, ok := h.request(w, r, cid)
	if !ok {
		return
	}

	lock, err := h.locks.TryAcquire(req.Path, req.NodeID)
	if err != nil {
		if dispatcherr.IsCode(err, dispatcherr.CodeConflict) {
			WriteJSON(w, http.StatusOK, acquireLockResponse{Acquired: false})
			return
		}
		WriteError(w, cid, err)
		return
	}
	WriteJSON(w, http.StatusOK, acquireLockResponse{Acquired: true, Lock: toFileLockPayload(lock)})
}

// Refresh handles POST /locks/refresh.
func (h *LockHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	cid := middleware.CorrelationIDFromContext(r.Context())
	req, ok := h.request(w, r, cid)
	if !ok {
		return
	}

	lock, err := h.locks.Refresh(req.Path, req.NodeID)
	if err != nil {
		WriteError(w, cid, err)
		return
	}
	WriteJSON(w, http.StatusOK, toFileLockPayload(lock))
}

// Release handles DELETE /locks.
func (h *LockHandler) Release(w http.ResponseWriter, r *http.Request) {
	cid := middleware.CorrelationIDFromContext(r.Context())
	req, ok := h.request(w, r, cid)
	if !ok {
		return
	}

	released, err := h.locks.Release(req.Path, req.NodeID)
	if err != nil {
		WriteError(w, cid, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"released": released})
}

// List handles GET /locks.
func (h *LockHandler) List(w http.ResponseWriter, r *http.Request) {
	cid := middleware.CorrelationIDFromContext(r.Context())

	locks, err := h.locks.ListAll()
	if err != nil {
		WriteError(w, cid, err)
		return
	}
	out := make([]*fileLockPayload, 0, len(locks))
	for _, l := range locks {
		out = append(out, toFileLockPayload(l))
	}
	WriteJSON(w, http.StatusOK, out)
}

// ResetAll handles DELETE /locks/all, an administrative escape hatch
// that releases every held lock regardless of holder.
func (h *LockHandler) ResetAll(w http.ResponseWriter, r *http.Request) {
	cid := middleware.CorrelationIDFromContext(r.Context())

	if _, err := h.locks.ReleaseAll(); err != nil {
		WriteError(w, cid, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
