// Package memory is a map-backed store.Store implementation used by
// package-level unit tests that need Store semantics without a bbolt
// file on disk.
package memory

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/dispatchd/pkg/dispatcherr"
	"github.com/cuemby/dispatchd/pkg/types"
)

// Store is a mutex-guarded in-memory implementation of store.Store.
type Store struct {
	mu sync.Mutex

	nodes   map[string]*types.Node
	tasks   map[int64]*types.Task
	folders map[int64]*types.FolderWorkItem
	locks   map[string]*types.FileLock

	nextTaskID   int64
	nextFolderID int64
	nextLockID   int64
}

func New() *Store {
	return &Store{
		nodes:   make(map[string]*types.Node),
		tasks:   make(map[int64]*types.Task),
		folders: make(map[int64]*types.FolderWorkItem),
		locks:   make(map[string]*types.FileLock),
	}
}

func (s *Store) Close() error { return nil }

func clone[T any](v *T) *T {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

// --- Nodes ---

func (s *Store) CreateNode(node *types.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[node.ID] = clone(node)
	return nil
}

func (s *Store) GetNode(id string) (*types.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, dispatcherr.NotFound(fmt.Sprintf("node %q not found", id))
	}
	return clone(n), nil
}

func (s *Store) ListNodes() ([]*types.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Node
	for _, n := range s.nodes {
		out = append(out, clone(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdateNode(node *types.Node) error {
	return s.CreateNode(node)
}

func (s *Store) DeleteNode(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, id)
	return nil
}

// --- Tasks ---

func (s *Store) CreateTask(task *types.Task) (*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTaskID++
	task.ID = s.nextTaskID
	task.Version = s.newVersion()
	s.tasks[task.ID] = clone(task)
	return clone(task), nil
}

func (s *Store) GetTask(id int64) (*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, dispatcherr.NotFound(fmt.Sprintf("task %d not found", id))
	}
	return clone(t), nil
}

func (s *Store) ListTasks() ([]*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Task
	for _, t := range s.tasks {
		out = append(out, clone(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListTasksByStatus(status types.TaskStatus) ([]*types.Task, error) {
	all, _ := s.ListTasks()
	var out []*types.Task
	for _, t := range all {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) ListTasksByNode(nodeID string) ([]*types.Task, error) {
	all, _ := s.ListTasks()
	var out []*types.Task
	for _, t := range all {
		if t.HasAssignee(nodeID) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) UpdateTaskCAS(id int64, expectedVersion string, mutate func(*types.Task) error) (*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.tasks[id]
	if !ok {
		return nil, dispatcherr.NotFound(fmt.Sprintf("task %d not found", id))
	}
	if current.Version != expectedVersion {
		return nil, dispatcherr.VersionConflict(clone(current))
	}
	working := clone(current)
	if err := mutate(working); err != nil {
		return nil, err
	}
	working.Version = s.newVersion()
	s.tasks[id] = working
	return clone(working), nil
}

func (s *Store) DeleteTask(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

// --- Folder work items ---

func (s *Store) CreateFolderWorkItems(items []*types.FolderWorkItem) ([]*types.FolderWorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		s.nextFolderID++
		item.ID = s.nextFolderID
		s.folders[item.ID] = clone(item)
	}
	return items, nil
}

func (s *Store) GetFolderWorkItem(id int64) (*types.FolderWorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.folders[id]
	if !ok {
		return nil, dispatcherr.NotFound(fmt.Sprintf("folder work item %d not found", id))
	}
	return clone(item), nil
}

func (s *Store) ListFolderWorkItems() ([]*types.FolderWorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.FolderWorkItem
	for _, item := range s.folders {
		out = append(out, clone(item))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListFolderWorkItemsByTask(taskID int64) ([]*types.FolderWorkItem, error) {
	all, _ := s.ListFolderWorkItems()
	var out []*types.FolderWorkItem
	for _, item := range all {
		if item.TaskID == taskID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *Store) ClaimNextFolderWorkItem(taskID int64, nodeID, nodeName string) (*types.FolderWorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []int64
	for id := range s.folders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		item := s.folders[id]
		if item.Status != types.FolderStatusPending {
			continue
		}
		if taskID != 0 && item.TaskID != taskID {
			continue
		}
		now := time.Now().UTC()
		item.Status = types.FolderStatusInProgress
		item.AssignedNodeID = &nodeID
		item.AssignedNodeName = &nodeName
		item.StartedAt = &now
		return clone(item), nil
	}
	return nil, nil
}

func (s *Store) UpdateFolderWorkItem(item *types.FolderWorkItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.folders[item.ID] = clone(item)
	return nil
}

func (s *Store) DeleteFolderWorkItemsByTask(taskID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, item := range s.folders {
		if item.TaskID == taskID {
			delete(s.folders, id)
		}
	}
	return nil
}

// --- File locks ---

func (s *Store) ListLocks() ([]*types.FileLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.FileLock
	for _, l := range s.locks {
		out = append(out, clone(l))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NormalizedPath < out[j].NormalizedPath })
	return out, nil
}

func (s *Store) GetLockByPath(normalizedPath string) (*types.FileLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[normalizedPath]
	if !ok {
		return nil, dispatcherr.NotFound(fmt.Sprintf("lock %q not found", normalizedPath))
	}
	return clone(l), nil
}

func (s *Store) TryAcquireLock(normalizedPath, holderNodeID string) (*types.FileLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := s.locks[normalizedPath]; ok {
		if existing.HolderNodeID != holderNodeID {
			return nil, dispatcherr.Conflict(fmt.Sprintf("path %q is locked by another node", normalizedPath))
		}
		existing.LastUpdatedAt = now
		return clone(existing), nil
	}
	s.nextLockID++
	lock := &types.FileLock{
		ID:             s.nextLockID,
		NormalizedPath: normalizedPath,
		HolderNodeID:   holderNodeID,
		CreatedAt:      now,
		LastUpdatedAt:  now,
	}
	s.locks[normalizedPath] = lock
	return clone(lock), nil
}

func (s *Store) RefreshLock(normalizedPath, holderNodeID string) (*types.FileLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[normalizedPath]
	if !ok {
		return nil, dispatcherr.NotFound(fmt.Sprintf("lock %q not found", normalizedPath))
	}
	if lock.HolderNodeID != holderNodeID {
		return nil, dispatcherr.Forbidden(fmt.Sprintf("node %q does not hold the lock on %q", holderNodeID, normalizedPath))
	}
	lock.LastUpdatedAt = time.Now().UTC()
	return clone(lock), nil
}

func (s *Store) ReleaseLock(normalizedPath, holderNodeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[normalizedPath]
	if !ok {
		return false, nil
	}
	if lock.HolderNodeID != holderNodeID {
		return false, dispatcherr.Forbidden(fmt.Sprintf("node %q does not hold the lock on %q", holderNodeID, normalizedPath))
	}
	delete(s.locks, normalizedPath)
	return true, nil
}

func (s *Store) ReleaseAllLocksForNode(nodeID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for path, lock := range s.locks {
		if lock.HolderNodeID == nodeID {
			delete(s.locks, path)
			count++
		}
	}
	return count, nil
}

// ReleaseAllLocks drops every held lock regardless of holder, used by
// the administrative reset-all endpoint.
func (s *Store) ReleaseAllLocks() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := len(s.locks)
	s.locks = make(map[string]*types.FileLock)
	return count, nil
}

func (s *Store) SweepExpiredLocks(ttl time.Duration, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for path, lock := range s.locks {
		if lock.Expired(now, ttl) {
			delete(s.locks, path)
			count++
		}
	}
	return count, nil
}

func (s *Store) newVersion() string {
	return strconv.FormatInt(time.Now().UTC().UnixNano()+int64(len(s.tasks)), 36)
}
