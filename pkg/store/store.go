// Package store defines the persistence interface dispatchd's components
// are built against; the entities it stores are defined in pkg/types. Store groups
// CRUD accessors per entity plus the handful of operations that need
// atomicity spanning a read and a write (optimistic task updates, lock
// acquisition, folder claiming) so callers never have to coordinate a
// transaction themselves.
package store

import (
	"time"

	"github.com/cuemby/dispatchd/pkg/types"
)

// Store is the persistence contract every dispatchd component depends
// on. Implementations: store/bolt (production, durable) and
// store/memory (tests).
type Store interface {
	// Nodes
	CreateNode(node *types.Node) error
	GetNode(id string) (*types.Node, error)
	ListNodes() ([]*types.Node, error)
	UpdateNode(node *types.Node) error
	DeleteNode(id string) error

	// Tasks. CreateTask assigns an ID and an initial version. UpdateTaskCAS
	// is the only mutation path: mutate receives the persisted task and
	// may change it in place; the result is rejected with a
	// *dispatcherr.Error{Code: VersionConflict} if expectedVersion no
	// longer matches what's stored.
	CreateTask(task *types.Task) (*types.Task, error)
	GetTask(id int64) (*types.Task, error)
	ListTasks() ([]*types.Task, error)
	ListTasksByStatus(status types.TaskStatus) ([]*types.Task, error)
	ListTasksByNode(nodeID string) ([]*types.Task, error)
	UpdateTaskCAS(id int64, expectedVersion string, mutate func(*types.Task) error) (*types.Task, error)
	DeleteTask(id int64) error

	// Folder work items. CreateFolderWorkItems assigns IDs to a whole
	// batch in one transaction (a fan-out task's partition). ClaimNext
	// atomically finds one Pending item (optionally scoped to a task) and
	// assigns it, returning (nil, nil) when none is available.
	CreateFolderWorkItems(items []*types.FolderWorkItem) ([]*types.FolderWorkItem, error)
	GetFolderWorkItem(id int64) (*types.FolderWorkItem, error)
	ListFolderWorkItems() ([]*types.FolderWorkItem, error)
	ListFolderWorkItemsByTask(taskID int64) ([]*types.FolderWorkItem, error)
	ClaimNextFolderWorkItem(taskID int64, nodeID, nodeName string) (*types.FolderWorkItem, error)
	UpdateFolderWorkItem(item *types.FolderWorkItem) error
	DeleteFolderWorkItemsByTask(taskID int64) error

	// File locks. TryAcquireLock is idempotent for the current holder
	// (re-entrant) and fails with *dispatcherr.Error{Code: Conflict} for
	// anyone else while a lock row exists for the path. It does not check
	// expiry: an expired lock keeps conflicting until SweepExpiredLocks or
	// a release removes it.
	ListLocks() ([]*types.FileLock, error)
	GetLockByPath(normalizedPath string) (*types.FileLock, error)
	TryAcquireLock(normalizedPath, holderNodeID string) (*types.FileLock, error)
	RefreshLock(normalizedPath, holderNodeID string) (*types.FileLock, error)
	// ReleaseLock reports whether a lock on normalizedPath actually
	// existed and was released; releasing a path with no lock at all is
	// a no-op that returns (false, nil), distinct from a Forbidden error
	// when holderNodeID isn't the current holder.
	ReleaseLock(normalizedPath, holderNodeID string) (bool, error)
	ReleaseAllLocksForNode(nodeID string) (int, error)
	ReleaseAllLocks() (int, error)
	SweepExpiredLocks(ttl time.Duration, now time.Time) (int, error)

	Close() error
}
