package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cuemby/dispatchd/pkg/api/middleware"
	"github.com/cuemby/dispatchd/pkg/types"
)

// FolderTracker is the subset of folders.Tracker the folder handlers
// use.
type FolderTracker interface {
	CreateOrReplace(taskID int64, folderPaths []string) ([]*types.FolderWorkItem, error)
	ListByTask(taskID int64) ([]*types.FolderWorkItem, error)
	Report(id int64, nodeID string, status types.FolderStatus, progress float64, errorMessage, outputPath *string) (*types.FolderWorkItem, error)
	ClaimNext(taskID int64, nodeID, nodeName string) (*types.FolderWorkItem, error)
}

// FolderHandler implements the /tasks/{id}/folders and /folders/{id}
// endpoints.
type FolderHandler struct {
	folders FolderTracker
}

func NewFolderHandler(folders FolderTracker) *FolderHandler {
	return &FolderHandler{folders: folders}
}

type createFolderItemsRequest struct {
	FolderPaths []string `json:"folder_paths"`
}

type folderWorkItemResponse struct {
	ID               int64      `json:"id"`
	TaskID           int64      `json:"task_id"`
	FolderPath       string     `json:"folder_path"`
	FolderName       string     `json:"folder_name"`
	Status           string     `json:"status"`
	AssignedNodeID   *string    `json:"assigned_node_id,omitempty"`
	AssignedNodeName *string    `json:"assigned_node_name,omitempty"`
	Progress         float64    `json:"progress"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	ErrorMessage     *string    `json:"error_message,omitempty"`
	OutputPath       *string    `json:"output_path,omitempty"`
}

func toFolderWorkItemResponse(f *types.FolderWorkItem) folderWorkItemResponse {
	return folderWorkItemResponse{
		ID:               f.ID,
		TaskID:           f.TaskID,
		FolderPath:       f.FolderPath,
		FolderName:       f.FolderName,
		Status:           string(f.Status),
		AssignedNodeID:   f.AssignedNodeID,
		AssignedNodeName: f.AssignedNodeName,
		Progress:         f.Progress,
		CreatedAt:        f.CreatedAt,
		StartedAt:        f.StartedAt,
		CompletedAt:      f.CompletedAt,
		ErrorMessage:     f.ErrorMessage,
		OutputPath:       f.OutputPath,
	}
}

// Create handles POST /tasks/{id}/folders.
func (h *FolderHandler) Create(w http.ResponseWriter, r *http.Request) {
	cid := middleware.CorrelationIDFromContext(r.Context())

	taskID, err := parseTaskID(r)
	if err != nil {
		WriteError(w, cid, err)
		return
	}

	var req createFolderItemsRequest
	if !DecodeJSONBody(w, r, cid, &req) {
		return
	}
	if len(req.FolderPaths) == 0 {
		WriteError(w, cid, validationError("folder_paths must be non-empty"))
		return
	}

	items, err := h.folders.CreateOrReplace(taskID, req.FolderPaths)
	if err != nil {
		WriteError(w, cid, err)
		return
	}

	out := make([]folderWorkItemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toFolderWorkItemResponse(item))
	}
	WriteJSON(w, http.StatusCreated, out)
}

// List handles GET /tasks/{id}/folders.
func (h *FolderHandler) List(w http.ResponseWriter, r *http.Request) {
	cid := middleware.CorrelationIDFromContext(r.Context())

	taskID, err := parseTaskID(r)
	if err != nil {
		WriteError(w, cid, err)
		return
	}

	items, err := h.folders.ListByTask(taskID)
	if err != nil {
		WriteError(w, cid, err)
		return
	}

	out := make([]folderWorkItemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toFolderWorkItemResponse(item))
	}
	WriteJSON(w, http.StatusOK, out)
}

type claimFolderRequest struct {
	NodeID   string `json:"node_id"`
	NodeName string `json:"node_name"`
}

type claimFolderResponse struct {
	Claimed bool                    `json:"claimed"`
	Item    *folderWorkItemResponse `json:"item,omitempty"`
}

// Claim handles POST /tasks/{id}/folders/claim: atomically hands the
// calling node the next Pending folder work item for the task, or
// reports claimed=false when none remain.
func (h *FolderHandler) Claim(w http.ResponseWriter, r *http.Request) {
	cid := middleware.CorrelationIDFromContext(r.Context())

	taskID, err := parseTaskID(r)
	if err != nil {
		WriteError(w, cid, err)
		return
	}

	var req claimFolderRequest
	if !DecodeJSONBody(w, r, cid, &req) {
		return
	}
	if req.NodeID == "" {
		WriteError(w, cid, validationError("node_id is required"))
		return
	}

	item, err := h.folders.ClaimNext(taskID, req.NodeID, req.NodeName)
	if err != nil {
		WriteError(w, cid, err)
		return
	}
	if item == nil {
		WriteJSON(w, http.StatusOK, claimFolderResponse{Claimed: false})
		return
	}
	resp := toFolderWorkItemResponse(item)
	WriteJSON(w, http.StatusOK, claimFolderResponse{Claimed: true, Item: &resp})
}

type reportFolderStatusRequest struct {
	NodeID       string  `json:"node_id"`
	Status       string  `json:"status"`
	Progress     float64 `json:"progress"`
	ErrorMessage *string `json:"error_message,omitempty"`
	OutputPath   *string `json:"output_path,omitempty"`
}

// UpdateStatus handles PUT /folders/{id}/status.
func (h *FolderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	cid := middleware.CorrelationIDFromContext(r.Context())

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		WriteError(w, cid, validationError("folder work item id must be an integer"))
		return
	}

	var req reportFolderStatusRequest
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

	item, err := h.folders.Report(id, req.NodeID, types.FolderStatus(req.Status), req.Progress, req.ErrorMessage, req.OutputPath)
	if err != nil {
		WriteError(w, cid, err)
		return
	}
	WriteJSON(w, http.StatusOK, toFolderWorkItemResponse(item))
}
