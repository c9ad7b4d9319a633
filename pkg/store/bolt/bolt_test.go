package bolt

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/dispatchd/pkg/dispatcherr"
	"github.com/cuemby/dispatchd/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dispatchd.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestNodeCRUD(t *testing.T) {
	st := openTestStore(t)

	node := &types.Node{ID: "node-1", Name: "worker-1", IsAvailable: true, CreatedAt: time.Now().UTC()}
	if err := st.CreateNode(node); err != nil {
		t.Fatalf("CreateNode: %v", err)
	}

	got, err := st.GetNode("node-1")
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if got.Name != "worker-1" {
		t.Fatalf("expected name worker-1, got %s", got.Name)
	}

	got.IsAvailable = false
	if err := st.UpdateNode(got); err != nil {
		t.Fatalf("UpdateNode: %v", err)
	}
	updated, err := st.GetNode("node-1")
	if err != nil {
		t.Fatalf("GetNode after update: %v", err)
	}
	if updated.IsAvailable {
		t.Fatalf("expected IsAvailable false after update")
	}

	if err := st.DeleteNode("node-1"); err != nil {
		t.Fatalf("DeleteNode: %v", err)
	}
	if _, err := st.GetNode("node-1"); !dispatcherr.IsCode(err, dispatcherr.CodeNotFound) {
		t.Fatalf("expected CodeNotFound after delete, got %v", err)
	}
}

func TestCreateTaskAssignsIDAndVersion(t *testing.T) {
	st := openTestStore(t)

	task := &types.Task{Name: "resize", Type: types.TaskTypeFileProcessing, Status: types.TaskStatusPending}
	created, err := st.CreateTask(task)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if created.ID == 0 {
		t.Fatalf("expected a non-zero task ID")
	}
	if created.Version == "" {
		t.Fatalf("expected a non-empty version")
	}

	second, err := st.CreateTask(&types.Task{Name: "other", Type: types.TaskTypeFileProcessing, Status: types.TaskStatusPending})
	if err != nil {
		t.Fatalf("CreateTask second: %v", err)
	}
	if second.ID == created.ID {
		t.Fatalf("expected distinct task IDs, got %d twice", created.ID)
	}
}

func TestUpdateTaskCASRejectsStaleVersion(t *testing.T) {
	st := openTestStore(t)

	created, err := st.CreateTask(&types.Task{Name: "resize", Type: types.TaskTypeFileProcessing, Status: types.TaskStatusPending})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	_, err = st.UpdateTaskCAS(created.ID, "wrong-version", func(t *types.Task) error {
		t.Status = types.TaskStatusRunning
		return nil
	})
	if !dispatcherr.IsCode(err, dispatcherr.CodeVersionConflict) {
		t.Fatalf("expected CodeVersionConflict, got %v", err)
	}

	updated, err := st.UpdateTaskCAS(created.ID, created.Version, func(t *types.Task) error {
		t.Status = types.TaskStatusRunning
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateTaskCAS with correct version: %v", err)
	}
	if updated.Version == created.Version {
		t.Fatalf("expected a fresh version after a successful CAS update")
	}
	if updated.Status != types.TaskStatusRunning {
		t.Fatalf("expected status Running, got %s", updated.Status)
	}
}

func TestListTasksByStatusAndNode(t *testing.T) {
	st := openTestStore(t)

	a, err := st.CreateTask(&types.Task{Name: "a", Type: types.TaskTypeFileProcessing, Status: types.TaskStatusPending})
	if err != nil {
		t.Fatalf("CreateTask a: %v", err)
	}
	if _, err := st.CreateTask(&types.Task{Name: "b", Type: types.TaskTypeFileProcessing, Status: types.TaskStatusPending}); err != nil {
		t.Fatalf("CreateTask b: %v", err)
	}

	nodeID := "node-1"
	if _, err := st.UpdateTaskCAS(a.ID, a.Version, func(t *types.Task) error {
		t.AssignedNodeID = &nodeID
		t.AssignedNodeIDs = []string{nodeID}
		return nil
	}); err != nil {
		t.Fatalf("UpdateTaskCAS: %v", err)
	}

	byNode, err := st.ListTasksByNode(nodeID)
	if err != nil {
		t.Fatalf("ListTasksByNode: %v", err)
	}
	if len(byNode) != 1 || byNode[0].ID != a.ID {
		t.Fatalf("expected only task a assigned to %s, got %+v", nodeID, byNode)
	}

	byStatus, err := st.ListTasksByStatus(types.TaskStatusPending)
	if err != nil {
		t.Fatalf("ListTasksByStatus: %v", err)
	}
	if len(byStatus) != 2 {
		t.Fatalf("expected both tasks Pending, got %d", len(byStatus))
	}
}

func TestClaimNextFolderWorkItemIsExclusive(t *testing.T) {
	st := openTestStore(t)

	items, err := st.CreateFolderWorkItems([]*types.FolderWorkItem{
		{TaskID: 1, FolderPath: "/a", Status: types.FolderStatusPending},
		{TaskID: 1, FolderPath: "/b", Status: types.FolderStatusPending},
	})
	if err != nil {
		t.Fatalf("CreateFolderWorkItems: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}

	first, err := st.ClaimNextFolderWorkItem(1, "node-a", "Node A")
	if err != nil {
		t.Fatalf("first ClaimNextFolderWorkItem: %v", err)
	}
	if first == nil {
		t.Fatalf("expected a claimable item")
	}

	second, err := st.ClaimNextFolderWorkItem(1, "node-b", "Node B")
	if err != nil {
		t.Fatalf("second ClaimNextFolderWorkItem: %v", err)
	}
	if second == nil || second.ID == first.ID {
		t.Fatalf("expected a distinct second claim, got %+v vs %+v", first, second)
	}

	none, err := st.ClaimNextFolderWorkItem(1, "node-c", "Node C")
	if err != nil {
		t.Fatalf("third ClaimNextFolderWorkItem: %v", err)
	}
	if none != nil {
		t.Fatalf("expected no remaining items, got %+v", none)
	}
}

func TestLockLifecycle(t *testing.T) {
	st := openTestStore(t)

	lock, err := st.TryAcquireLock("/data/a", "node-a")
	if err != nil {
		t.Fatalf("TryAcquireLock: %v", err)
	}
	if lock.HolderNodeID != "node-a" {
		t.Fatalf("expected node-a to hold the lock")
	}

	if _, err := st.TryAcquireLock("/data/a", "node-b"); !dispatcherr.IsCode(err, dispatcherr.CodeConflict) {
		t.Fatalf("expected CodeConflict for a contending node, got %v", err)
	}

	if _, err := st.TryAcquireLock("/data/a", "node-a"); err != nil {
		t.Fatalf("expected re-entrant acquire by the holder to succeed, got %v", err)
	}

	released, err := st.ReleaseLock("/data/a", "node-a")
	if err != nil {
		t.Fatalf("ReleaseLock: %v", err)
	}
	if !released {
		t.Fatal("expected releasing a held lock to report released=true")
	}
	if _, err := st.GetLockByPath("/data/a"); !dispatcherr.IsCode(err, dispatcherr.CodeNotFound) {
		t.Fatalf("expected CodeNotFound after release, got %v", err)
	}
}

func TestSweepExpiredLocks(t *testing.T) {
	st := openTestStore(t)

	if _, err := st.TryAcquireLock("/data/a", "node-a"); err != nil {
		t.Fatalf("TryAcquireLock: %v", err)
	}

	count, err := st.SweepExpiredLocks(time.Minute, time.Now().UTC().Add(2*time.Minute))
	if err != nil {
		t.Fatalf("SweepExpiredLocks: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 lock swept, got %d", count)
	}
}

func TestReleaseAllLocksForNodeAndReleaseAllLocks(t *testing.T) {
	st := openTestStore(t)

	if _, err := st.TryAcquireLock("/a", "node-a"); err != nil {
		t.Fatalf("TryAcquireLock /a: %v", err)
	}
	if _, err := st.TryAcquireLock("/b", "node-a"); err != nil {
		t.Fatalf("TryAcquireLock /b: %v", err)
	}
	if _, err := st.TryAcquireLock("/c", "node-b"); err != nil {
		t.Fatalf("TryAcquireLock /c: %v", err)
	}

	n, err := st.ReleaseAllLocksForNode("node-a")
	if err != nil {
		t.Fatalf("ReleaseAllLocksForNode: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 locks released for node-a, got %d", n)
	}

	total, err := st.ReleaseAllLocks()
	if err != nil {
		t.Fatalf("ReleaseAllLocks: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected the remaining 1 lock released, got %d", total)
	}

	locks, err := st.ListLocks()
	if err != nil {
		t.Fatalf("ListLocks: %v", err)
	}
	if len(locks) != 0 {
		t.Fatalf("expected no locks remaining, got %d", len(locks))
	}
}

func TestDeleteFolderWorkItemsByTask(t *testing.T) {
	st := openTestStore(t)

	if _, err := st.CreateFolderWorkItems([]*types.FolderWorkItem{
		{TaskID: 1, FolderPath: "/a"},
		{TaskID: 2, FolderPath: "/b"},
	}); err != nil {
		t.Fatalf("CreateFolderWorkItems: %v", err)
	}

	if err := st.DeleteFolderWorkItemsByTask(1); err != nil {
		t.Fatalf("DeleteFolderWorkItemsByTask: %v", err)
	}

	remaining, err := st.ListFolderWorkItems()
	if err != nil {
		t.Fatalf("ListFolderWorkItems: %v", err)
	}
	if len(remaining) != 1 || remaining[0].TaskID != 2 {
		t.Fatalf("expected only task 2's item to remain, got %+v", remaining)
	}
}
