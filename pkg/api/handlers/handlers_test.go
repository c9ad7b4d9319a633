package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/cuemby/dispatchd/pkg/types"
)

func TestTaskCreateRejectsMissingName(t *testing.T) {
	h := NewTaskHandler(nil)
	req := httptest.NewRequest(http.MethodPost, "/tasks", strings.NewReader(`{"type":"FileProcessing"}`))
	rec := httptest.NewRecorder()

	h.Create(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a missing name, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestTaskCreateRejectsMissingType(t *testing.T) {
	h := NewTaskHandler(nil)
	req := httptest.NewRequest(http.MethodPost, "/tasks", strings.NewReader(`{"name":"resize batch"}`))
	rec := httptest.NewRecorder()

	h.Create(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a missing type, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestTaskCreateRejectsMalformedJSON(t *testing.T) {
	h := NewTaskHandler(nil)
	req := httptest.NewRequest(http.MethodPost, "/tasks", strings.NewReader(`{not json`))
	rec := httptest.NewRecorder()

	h.Create(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed JSON, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestTaskPollRequiresNodeID(t *testing.T) {
	h := NewTaskHandler(nil)
	req := httptest.NewRequest(http.MethodGet, "/tasks/poll", nil)
	rec := httptest.NewRecorder()

	h.Poll(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without a nodeId query param, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestNodeRegisterRejectsMissingID(t *testing.T) {
	h := NewNodeHandler(nil)
	req := httptest.NewRequest(http.MethodPost, "/nodes/register", strings.NewReader(`{"name":"worker-1","ip_address":"10.0.0.1"}`))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a missing id, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestNodeRegisterRejectsMissingName(t *testing.T) {
	h := NewNodeHandler(nil)
	req := httptest.NewRequest(http.MethodPost, "/nodes/register", strings.NewReader(`{"id":"worker-1","ip_address":"10.0.0.1"}`))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a missing name, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestTaskUpdateStatusRejectsMissingNodeID(t *testing.T) {
	h := NewTaskHandler(nil)
	req := requestWithTaskID(http.MethodPut, "/tasks/1/status", `{"status":"Running","version":"v1"}`, "1")
	rec := httptest.NewRecorder()

	h.UpdateStatus(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a missing node_id, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestFolderCreateRejectsEmptyPaths(t *testing.T) {
	h := NewFolderHandler(nil)
	req := requestWithTaskID(http.MethodPost, "/tasks/1/folders", `{"folder_paths":[]}`, "1")
	rec := httptest.NewRecorder()

	h.Create(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty folder_paths, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestFolderClaimRejectsMissingNodeID(t *testing.T) {
	h := NewFolderHandler(nil)
	req := requestWithTaskID(http.MethodPost, "/tasks/1/folders/claim", `{"node_name":"Node A"}`, "1")
	rec := httptest.NewRecorder()

	h.Claim(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a missing node_id, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestFolderClaimReportsNoWorkWithoutError(t *testing.T) {
	h := NewFolderHandler(noWorkFolderTracker{})
	req := requestWithTaskID(http.MethodPost, "/tasks/1/folders/claim", `{"node_id":"node-a"}`, "1")
	rec := httptest.NewRecorder()

	h.Claim(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with claimed=false for NoWork, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"claimed":false`) {
		t.Fatalf("expected a claimed=false body, got %s", rec.Body.String())
	}
}

func TestReportFolderStatusRequiresNodeIDAndStatus(t *testing.T) {
	h := NewFolderHandler(nil)

	req := requestWithID(http.MethodPut, "/folders/1/status", `{"status":"Completed"}`, "1")
	rec := httptest.NewRecorder()
	h.UpdateStatus(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without node_id, got %d: %s", rec.Code, rec.Body.String())
	}

	req = requestWithID(http.MethodPut, "/folders/1/status", `{"node_id":"node-a"}`, "1")
	rec = httptest.NewRecorder()
	h.UpdateStatus(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without status, got %d: %s", rec.Code, rec.Body.String())
	}
}

// noWorkFolderTracker's ClaimNext always returns the NoWork (nil, nil) result.
type noWorkFolderTracker struct{}

func (noWorkFolderTracker) CreateOrReplace(taskID int64, folderPaths []string) ([]*types.FolderWorkItem, error) {
	return nil, nil
}
func (noWorkFolderTracker) ListByTask(taskID int64) ([]*types.FolderWorkItem, error) { return nil, nil }
func (noWorkFolderTracker) Report(id int64, nodeID string, status types.FolderStatus, progress float64, errorMessage, outputPath *string) (*types.FolderWorkItem, error) {
	return nil, nil
}
func (noWorkFolderTracker) ClaimNext(taskID int64, nodeID, nodeName string) (*types.FolderWorkItem, error) {
	return nil, nil
}

func requestWithTaskID(method, target, body, taskID string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", taskID)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func requestWithID(method, target, body, id string) *http.Request {
	return requestWithTaskID(method, target, body, id)
}
