package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/cuemby/dispatchd/pkg/events"
	"github.com/cuemby/dispatchd/pkg/folders"
	"github.com/cuemby/dispatchd/pkg/lock"
	"github.com/cuemby/dispatchd/pkg/registry"
	"github.com/cuemby/dispatchd/pkg/store/memory"
	"github.com/cuemby/dispatchd/pkg/tasks"
)

func newTestRouter() http.Handler {
	st := memory.New()
	bus := events.NewBroker(nil)

	reg := registry.NewRegistry(st, bus, 0)
	lockMgr := lock.NewManager(st, bus, 0)
	taskCoord := tasks.NewCoordinator(st, bus)
	folderTracker := folders.NewTracker(st, bus, taskCoord)
	taskCoord.SetFolderLister(folderTracker)
	reg.SetLockReclaimer(lockMgr)
	reg.SetTaskReclaimer(taskCoord)

	return NewRouter(Deps{
		Store:    st,
		Registry: reg,
		Tasks:    taskCoord,
		Folders:  folderTracker,
		Locks:    lockMgr,
		Bus:      bus,
	})
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHealthEndpointsAreUnauthenticated(t *testing.T) {
	h := newTestRouter()

	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /health, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/health/ready", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /health/ready, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestNodeRegisterHeartbeatAndList(t *testing.T) {
	h := newTestRouter()

	rec := doJSON(t, h, http.MethodPost, "/nodes/register", map[string]string{
		"id":         "worker-1",
		"name":       "worker-1",
		"ip_address": "10.0.0.5",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 registering a node, got %d: %s", rec.Code, rec.Body.String())
	}
	var node struct {
		ID          string `json:"id"`
		IsAvailable bool   `json:"is_available"`
	}
	decode(t, rec, &node)
	if node.ID == "" || !node.IsAvailable {
		t.Fatalf("expected a registered, available node, got %+v", node)
	}

	rec = doJSON(t, h, http.MethodPost, "/nodes/"+node.ID+"/heartbeat", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 from heartbeat, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/nodes", nil)
	var nodes []map[string]any
	decode(t, rec, &nodes)
	if len(nodes) != 1 {
		t.Fatalf("expected 1 available node, got %d", len(nodes))
	}
}

func TestTaskCreateAssignPollAndStatusFlow(t *testing.T) {
	h := newTestRouter()

	nodeRec := doJSON(t, h, http.MethodPost, "/nodes/register", map[string]string{"id": "worker-1", "name": "worker-1"})
	var node struct{ ID string `json:"id"` }
	decode(t, nodeRec, &node)

	rec := doJSON(t, h, http.MethodPost, "/tasks", map[string]any{
		"name": "resize batch",
		"type": "FileProcessing",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 creating a task, got %d: %s", rec.Code, rec.Body.String())
	}
	var task struct {
		ID      int64  `json:"id"`
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	decode(t, rec, &task)
	if task.Status != "Pending" {
		t.Fatalf("expected a new task to be pending, got %s", task.Status)
	}

	taskPath := "/tasks/" + itoa(task.ID)
	rec = doJSON(t, h, http.MethodPut, taskPath+"/assign/"+node.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 assigning a task, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/tasks/poll?nodeId="+node.ID, nil)
	var polled []struct {
		ID int64 `json:"id"`
	}
	decode(t, rec, &polled)
	if len(polled) != 1 || polled[0].ID != task.ID {
		t.Fatalf("expected the assigned Pending task to be polled, got %+v", polled)
	}

	rec = doJSON(t, h, http.MethodPut, taskPath+"/status", map[string]any{
		"node_id": node.ID,
		"status":  "Running",
		"version": task.Version,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 transitioning to running, got %d: %s", rec.Code, rec.Body.String())
	}
	var running struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	decode(t, rec, &running)
	if running.Status != "Running" {
		t.Fatalf("expected status running, got %s", running.Status)
	}

	rec = doJSON(t, h, http.MethodPut, taskPath+"/status", map[string]any{
		"node_id": node.ID,
		"status":  "Running",
		"version": task.Version,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 reusing a stale version, got %d: %s", rec.Code, rec.Body.String())
	}
	var problem struct {
		Code string `json:"code"`
	}
	decode(t, rec, &problem)
	if problem.Code != "version_conflict" {
		t.Fatalf("expected version_conflict code, got %s", problem.Code)
	}
}

func TestFolderClaimFlowReturnsDisjointWorkAndThenNoWork(t *testing.T) {
	h := newTestRouter()

	rec := doJSON(t, h, http.MethodPost, "/tasks", map[string]any{
		"name": "compress volume",
		"type": "VolumeCompression",
	})
	var task struct{ ID int64 `json:"id"` }
	decode(t, rec, &task)
	taskPath := "/tasks/" + itoa(task.ID)

	rec = doJSON(t, h, http.MethodPost, taskPath+"/folders", map[string]any{
		"folder_paths": []string{"/a", "/b"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 creating folder items, got %d: %s", rec.Code, rec.Body.String())
	}

	first := doJSON(t, h, http.MethodPost, taskPath+"/folders/claim", map[string]string{
		"node_id": "node-a", "node_name": "Node A",
	})
	var firstClaim struct {
		Claimed bool `json:"claimed"`
		Item    struct {
			ID int64 `json:"id"`
		} `json:"item"`
	}
	decode(t, first, &firstClaim)
	if !firstClaim.Claimed {
		t.Fatalf("expected node-a to claim a folder item")
	}

	second := doJSON(t, h, http.MethodPost, taskPath+"/folders/claim", map[string]string{
		"node_id": "node-b", "node_name": "Node B",
	})
	var secondClaim struct {
		Claimed bool `json:"claimed"`
		Item    struct {
			ID int64 `json:"id"`
		} `json:"item"`
	}
	decode(t, second, &secondClaim)
	if !secondClaim.Claimed || secondClaim.Item.ID == firstClaim.Item.ID {
		t.Fatalf("expected node-b to claim a distinct folder item, got %+v vs %+v", firstClaim, secondClaim)
	}

	third := doJSON(t, h, http.MethodPost, taskPath+"/folders/claim", map[string]string{
		"node_id": "node-c", "node_name": "Node C",
	})
	var thirdClaim struct {
		Claimed bool `json:"claimed"`
	}
	decode(t, third, &thirdClaim)
	if thirdClaim.Claimed {
		t.Fatalf("expected no remaining work for a third claimant")
	}
}

func TestLockAcquireConflictAndRelease(t *testing.T) {
	h := newTestRouter()

	rec := doJSON(t, h, http.MethodPost, "/locks", map[string]string{
		"path": "/data/a", "nodeId": "node-a",
	})
	var acquired struct {
		Acquired bool `json:"acquired"`
	}
	decode(t, rec, &acquired)
	if !acquired.Acquired {
		t.Fatalf("expected node-a to acquire the lock, got %s", rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/locks", map[string]string{
		"path": "/data/a", "nodeId": "node-b",
	})
	decode(t, rec, &acquired)
	if acquired.Acquired {
		t.Fatalf("expected node-b to be denied a contended lock")
	}

	rec = doJSON(t, h, http.MethodDelete, "/locks", map[string]string{
		"path": "/data/a", "nodeId": "node-a",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 releasing a held lock, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAuthModeTokenRejectsMissingBearer(t *testing.T) {
	st := memory.New()
	bus := events.NewBroker(nil)
	reg := registry.NewRegistry(st, bus, 0)
	lockMgr := lock.NewManager(st, bus, 0)
	taskCoord := tasks.NewCoordinator(st, bus)
	folderTracker := folders.NewTracker(st, bus, taskCoord)
	taskCoord.SetFolderLister(folderTracker)

	h := NewRouter(Deps{
		Store: st, Registry: reg, Tasks: taskCoord, Folders: folderTracker, Locks: lockMgr, Bus: bus,
		AuthMode: "token", TokenSecret: "s3cret",
	})

	rec := doJSON(t, h, http.MethodGet, "/nodes", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a bearer token, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected /health to stay unauthenticated, got %d", rec.Code)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
