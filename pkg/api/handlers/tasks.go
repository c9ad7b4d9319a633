package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cuemby/dispatchd/pkg/api/middleware"
	"github.com/cuemby/dispatchd/pkg/types"
)

// TaskCoordinator is the subset of tasks.Coordinator the task handlers
// use.
type TaskCoordinator interface {
	Create(name string, taskType types.TaskType, parameters map[string]any) (*types.Task, error)
	Get(id int64) (*types.Task, error)
	ListAll() ([]*types.Task, error)
	ListByStatus(status types.TaskStatus) ([]*types.Task, error)
	ListByNode(nodeID string) ([]*types.Task, error)
	Assign(taskID int64, nodeID string) (*types.Task, error)
	PollForNode(nodeID string) ([]*types.Task, error)
	UpdateStatus(taskID int64, nodeID, expectedVersion string, newStatus types.TaskStatus, resultMessage *string) (*types.Task, error)
}

// TaskHandler implements the /tasks endpoints.
type TaskHandler struct {
	tasks TaskCoordinator
}

func NewTaskHandler(tasks TaskCoordinator) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

type createTaskRequest struct {
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

type taskResponse struct {
	ID              int64          `json:"id"`
	Name            string         `json:"name"`
	Type            string         `json:"type"`
	Status          string         `json:"status"`
	AssignedNodeID  *string        `json:"assigned_node_id,omitempty"`
	AssignedNodeIDs []string       `json:"assigned_node_ids,omitempty"`
	Parameters      map[string]any `json:"parameters,omitempty"`
	ResultMessage   *string        `json:"result_message,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	Version         string         `json:"version"`
}

func toTaskResponse(t *types.Task) taskResponse {
	return taskResponse{
		ID:              t.ID,
		Name:            t.Name,
		Type:            string(t.Type),
		Status:          string(t.Status),
		AssignedNodeID:  t.AssignedNodeID,
		AssignedNodeIDs: t.AssignedNodeIDs,
		Parameters:      t.Parameters,
		ResultMessage:   t.ResultMessage,
		CreatedAt:       t.CreatedAt,
		StartedAt:       t.StartedAt,
		CompletedAt:     t.CompletedAt,
		Version:         t.Version,
	}
}

// Create handles POST /tasks.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	cid := middleware.CorrelationIDFromContext(r.Context())

	var req createTaskRequest
	if !DecodeJSONBody(w, r, cid, &req) {
		return
	}
	if req.Name == "" {
		WriteError(w, cid, validationError("name is required"))
		return
	}
	if req.Type == "" {
		WriteError(w, cid, validationError("type is required"))
		return
	}

	task, err := h.tasks.Create(req.Name, types.TaskType(req.Type), req.Parameters)
	if err != nil {
		WriteError(w, cid, err)
		return
	}
	WriteJSON(w, http.StatusCreated, toTaskResponse(task))
}

// List handles GET /tasks, optionally filtered by ?status= or ?nodeId=.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	cid := middleware.CorrelationIDFromContext(r.Context())

	var (
		tasks []*types.Task
		err   error
	)
	switch {
	case r.URL.Query().Get("status") != "":
		tasks, err = h.tasks.ListByStatus(types.TaskStatus(r.URL.Query().Get("status")))
	case r.URL.Query().Get("nodeId") != "":
		tasks, err = h.tasks.ListByNode(r.URL.Query().Get("nodeId"))
	default:
		tasks, err = h.tasks.ListAll()
	}
	if err != nil {
		WriteError(w, cid, err)
		return
	}

	out := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toTaskResponse(t))
	}
	WriteJSON(w, http.StatusOK, out)
}

// Get handles GET /tasks/{id}.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	cid := middleware.CorrelationIDFromContext(r.Context())

	id, err := parseTaskID(r)
	if err != nil {
		WriteError(w, cid, err)
		return
	}
	task, err := h.tasks.Get(id)
	if err != nil {
		WriteError(w, cid, err)
		return
	}
	WriteJSON(w, http.StatusOK, toTaskResponse(task))
}

// Poll handles GET /tasks/poll?nodeId=.
func (h *TaskHandler) Poll(w http.ResponseWriter, r *http.Request) {
	cid := middleware.CorrelationIDFromContext(r.Context())

	nodeID := r.URL.Query().Get("nodeId")
	if nodeID == "" {
		WriteError(w, cid, validationError("nodeId query parameter is required"))
		return
	}

	tasks, err := h.tasks.PollForNode(nodeID)
	if err != nil {
		WriteError(w, cid, err)
		return
	}

	out := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toTaskResponse(t))
	}
	WriteJSON(w, http.StatusOK, out)
}

// Assign handles PUT /tasks/{id}/assign/{nodeId}.
func (h *TaskHandler) Assign(w http.ResponseWriter, r *http.Request) {
	cid := middleware.CorrelationIDFromContext(r.Context())

	id, err := parseTaskID(r)
	if err != nil {
		WriteError(w, cid, err)
		return
	}
	nodeID := chi.URLParam(r, "nodeId")

	if _, err := h.tasks.Assign(id, nodeID); err != nil {
		WriteError(w, cid, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateTaskStatusRequest struct {
	NodeID        string  `json:"node_id"`
	Status        string  `json:"status"`
	ResultMessage *string `json:"result_message,omitempty"`
	Version       string  `json:"version"`
}

// UpdateStatus handles PUT /tasks/{id}/status.
func (h *TaskHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	cid := middleware.CorrelationIDFromContext(r.Context())

	id, err := parseTaskID(r)
	if err != nil {
		WriteError(w, cid, err)
		return
	}

	var req updateTaskStatusRequest
	if !DecodeJSONBody(w, r, cid, &req) {
		return
	}
	if req.NodeID == "" {
		WriteError(w, cid, validationError("node_id is required"))
		return
	}
	if req.Status == "" {
		WriteError(w, cid, validationError("status is required"))
		return
	}

	task, err := h.tasks.UpdateStatus(id, req.NodeID, req.Version, types.TaskStatus(req.Status), req.ResultMessage)
	if err != nil {
		WriteError(w, cid, err)
		return
	}
	WriteJSON(w, http.StatusOK, toTaskResponse(task))
}

func parseTaskID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, validationError("task id must be an integer")
	}
	return id, nil
}
