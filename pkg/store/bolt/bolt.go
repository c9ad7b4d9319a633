// Package bolt is the BoltDB-backed implementation of store.Store, one
// bucket per entity with JSON-encoded values, following the teacher's
// bucket-per-entity transaction pattern.
package bolt

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/cuemby/dispatchd/pkg/dispatcherr"
	"github.com/cuemby/dispatchd/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketNodes   = []byte("nodes")
	bucketTasks   = []byte("tasks")
	bucketFolders = []byte("folder_work_items")
	bucketLocks   = []byte("file_locks")
)

// Store implements store.Store on top of a bbolt file.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the bbolt file at dbPath and ensures
// every bucket exists.
func Open(dbPath string) (*Store, error) {
	if err := ensureDir(dbPath); err != nil {
		return nil, err
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketNodes, bucketTasks, bucketFolders, bucketLocks} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func ensureDir(dbPath string) error {
	dir := filepath.Dir(dbPath)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// --- Nodes ---

func (s *Store) CreateNode(node *types.Node) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketNodes), []byte(node.ID), node)
	})
}

func (s *Store) GetNode(id string) (*types.Node, error) {
	var node types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketNodes).Get([]byte(id))
		if data == nil {
			return dispatcherr.NotFound(fmt.Sprintf("node %q not found", id))
		}
		return json.Unmarshal(data, &node)
	})
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *Store) ListNodes() ([]*types.Node, error) {
	var nodes []*types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).ForEach(func(_, v []byte) error {
			var n types.Node
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			nodes = append(nodes, &n)
			return nil
		})
	})
	sortNodesByID(nodes)
	return nodes, err
}

func (s *Store) UpdateNode(node *types.Node) error {
	return s.CreateNode(node)
}

func (s *Store) DeleteNode(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).Delete([]byte(id))
	})
}

// --- Tasks ---

func (s *Store) CreateTask(task *types.Task) (*types.Task, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		task.ID = int64(id)
		task.Version = newVersion()
		return putJSON(b, taskKey(task.ID), task)
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (s *Store) GetTask(id int64) (*types.Task, error) {
	var task types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTasks).Get(taskKey(id))
		if data == nil {
			return dispatcherr.NotFound(fmt.Sprintf("task %d not found", id))
		}
		return json.Unmarshal(data, &task)
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *Store) ListTasks() ([]*types.Task, error) {
	var tasks []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(_, v []byte) error {
			var t types.Task
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			tasks = append(tasks, &t)
			return nil
		})
	})
	sortTasksByID(tasks)
	return tasks, err
}

func (s *Store) ListTasksByStatus(status types.TaskStatus) ([]*types.Task, error) {
	tasks, err := s.ListTasks()
	if err != nil {
		return nil, err
	}
	return filterTasks(tasks, func(t *types.Task) bool { return t.Status == status }), nil
}

func (s *Store) ListTasksByNode(nodeID string) ([]*types.Task, error) {
	tasks, err := s.ListTasks()
	if err != nil {
		return nil, err
	}
	return filterTasks(tasks, func(t *types.Task) bool { return t.HasAssignee(nodeID) }), nil
}

// UpdateTaskCAS loads the task, checks expectedVersion, lets mutate
// change it, stamps a new version, and persists it, all inside a single
// bbolt write transaction so no interleaved writer can observe a torn
// update.
func (s *Store) UpdateTaskCAS(id int64, expectedVersion string, mutate func(*types.Task) error) (*types.Task, error) {
	var result *types.Task
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		data := b.Get(taskKey(id))
		if data == nil {
			return dispatcherr.NotFound(fmt.Sprintf("task %d not found", id))
		}
		var current types.Task
		if err := json.Unmarshal(data, &current); err != nil {
			return err
		}
		if current.Version != expectedVersion {
			snapshot := current
			return dispatcherr.VersionConflict(&snapshot)
		}
		if err := mutate(&current); err != nil {
			return err
		}
		current.Version = newVersion()
		if err := putJSON(b, taskKey(id), &current); err != nil {
			return err
		}
		result = &current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) DeleteTask(id int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).Delete(taskKey(id))
	})
}

// --- Folder work items ---

func (s *Store) CreateFolderWorkItems(items []*types.FolderWorkItem) ([]*types.FolderWorkItem, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFolders)
		for _, item := range items {
			id, err := b.NextSequence()
			if err != nil {
				return err
			}
			item.ID = int64(id)
			if err := putJSON(b, folderKey(item.ID), item); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetFolderWorkItem(id int64) (*types.FolderWorkItem, error) {
	var item types.FolderWorkItem
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketFolders).Get(folderKey(id))
		if data == nil {
			return dispatcherr.NotFound(fmt.Sprintf("folder work item %d not found", id))
		}
		return json.Unmarshal(data, &item)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListFolderWorkItems() ([]*types.FolderWorkItem, error) {
	var items []*types.FolderWorkItem
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFolders).ForEach(func(_, v []byte) error {
			var item types.FolderWorkItem
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			items = append(items, &item)
			return nil
		})
	})
	sortFoldersByID(items)
	return items, err
}

func (s *Store) ListFolderWorkItemsByTask(taskID int64) ([]*types.FolderWorkItem, error) {
	items, err := s.ListFolderWorkItems()
	if err != nil {
		return nil, err
	}
	var filtered []*types.FolderWorkItem
	for _, item := range items {
		if item.TaskID == taskID {
			filtered = append(filtered, item)
		}
	}
	return filtered, nil
}

// ClaimNextFolderWorkItem scans for the first Pending item (optionally
// scoped to taskID) in a single write transaction, so two nodes racing
// to claim never get the same item.
func (s *Store) ClaimNextFolderWorkItem(taskID int64, nodeID, nodeName string) (*types.FolderWorkItem, error) {
	var claimed *types.FolderWorkItem
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFolders)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var item types.FolderWorkItem
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
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
			if err := putJSON(b, k, &item); err != nil {
				return err
			}
			claimed = &item
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *Store) UpdateFolderWorkItem(item *types.FolderWorkItem) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketFolders), folderKey(item.ID), item)
	})
}

func (s *Store) DeleteFolderWorkItemsByTask(taskID int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFolders)
		c := b.Cursor()
		var toDelete [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var item types.FolderWorkItem
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			if item.TaskID == taskID {
				toDelete = append(toDelete, append([]byte(nil), k...))
			}
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// --- File locks ---

func (s *Store) ListLocks() ([]*types.FileLock, error) {
	var locks []*types.FileLock
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLocks).ForEach(func(_, v []byte) error {
			var l types.FileLock
			if err := json.Unmarshal(v, &l); err != nil {
				return err
			}
			locks = append(locks, &l)
			return nil
		})
	})
	sortLocksByPath(locks)
	return locks, err
}

func (s *Store) GetLockByPath(normalizedPath string) (*types.FileLock, error) {
	var lock types.FileLock
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketLocks).Get([]byte(normalizedPath))
		if data == nil {
			return dispatcherr.NotFound(fmt.Sprintf("lock %q not found", normalizedPath))
		}
		return json.Unmarshal(data, &lock)
	})
	if err != nil {
		return nil, err
	}
	return &lock, nil
}

// TryAcquireLock is re-entrant for the current holder and fails with a
// Conflict for anyone else, all decided inside one write transaction.
func (s *Store) TryAcquireLock(normalizedPath, holderNodeID string) (*types.FileLock, error) {
	var result *types.FileLock
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLocks)
		key := []byte(normalizedPath)
		now := time.Now().UTC()
		data := b.Get(key)
		if data != nil {
			var existing types.FileLock
			if err := json.Unmarshal(data, &existing); err != nil {
				return err
			}
			if existing.HolderNodeID != holderNodeID {
				return dispatcherr.Conflict(fmt.Sprintf("path %q is locked by another node", normalizedPath))
			}
			existing.LastUpdatedAt = now
			if err := putJSON(b, key, &existing); err != nil {
				return err
			}
			result = &existing
			return nil
		}

		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		lock := &types.FileLock{
			ID:             int64(id),
			NormalizedPath: normalizedPath,
			HolderNodeID:   holderNodeID,
			CreatedAt:      now,
			LastUpdatedAt:  now,
		}
		if err := putJSON(b, key, lock); err != nil {
			return err
		}
		result = lock
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) RefreshLock(normalizedPath, holderNodeID string) (*types.FileLock, error) {
	var result *types.FileLock
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLocks)
		key := []byte(normalizedPath)
		data := b.Get(key)
		if data == nil {
			return dispatcherr.NotFound(fmt.Sprintf("lock %q not found", normalizedPath))
		}
		var lock types.FileLock
		if err := json.Unmarshal(data, &lock); err != nil {
			return err
		}
		if lock.HolderNodeID != holderNodeID {
			return dispatcherr.Forbidden(fmt.Sprintf("node %q does not hold the lock on %q", holderNodeID, normalizedPath))
		}
		lock.LastUpdatedAt = time.Now().UTC()
		if err := putJSON(b, key, &lock); err != nil {
			return err
		}
		result = &lock
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ReleaseLock(normalizedPath, holderNodeID string) (bool, error) {
	released := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLocks)
		key := []byte(normalizedPath)
		data := b.Get(key)
		if data == nil {
			return nil
		}
		var lock types.FileLock
		if err := json.Unmarshal(data, &lock); err != nil {
			return err
		}
		if lock.HolderNodeID != holderNodeID {
			return dispatcherr.Forbidden(fmt.Sprintf("node %q does not hold the lock on %q", holderNodeID, normalizedPath))
		}
		if err := b.Delete(key); err != nil {
			return err
		}
		released = true
		return nil
	})
	return released, err
}

func (s *Store) ReleaseAllLocksForNode(nodeID string) (int, error) {
	count := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLocks)
		c := b.Cursor()
		var toDelete [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var lock types.FileLock
			if err := json.Unmarshal(v, &lock); err != nil {
				return err
			}
			if lock.HolderNodeID == nodeID {
				toDelete = append(toDelete, append([]byte(nil), k...))
			}
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

// ReleaseAllLocks drops every held lock regardless of holder, used by
// the administrative reset-all endpoint.
func (s *Store) ReleaseAllLocks() (int, error) {
	count := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLocks)
		c := b.Cursor()
		var toDelete [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			toDelete = append(toDelete, append([]byte(nil), k...))
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

func (s *Store) SweepExpiredLocks(ttl time.Duration, now time.Time) (int, error) {
	count := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLocks)
		c := b.Cursor()
		var toDelete [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var lock types.FileLock
			if err := json.Unmarshal(v, &lock); err != nil {
				return err
			}
			if lock.Expired(now, ttl) {
				toDelete = append(toDelete, append([]byte(nil), k...))
			}
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

// --- helpers ---

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

func taskKey(id int64) []byte {
	return []byte(strconv.FormatInt(id, 10))
}

func folderKey(id int64) []byte {
	return []byte(strconv.FormatInt(id, 10))
}

func newVersion() string {
	return strconv.FormatInt(time.Now().UTC().UnixNano(), 36)
}

func sortNodesByID(nodes []*types.Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
}

func sortTasksByID(tasks []*types.Task) {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
}

func sortFoldersByID(items []*types.FolderWorkItem) {
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
}

func sortLocksByPath(locks []*types.FileLock) {
	sort.Slice(locks, func(i, j int) bool { return locks[i].NormalizedPath < locks[j].NormalizedPath })
}

func filterTasks(tasks []*types.Task, keep func(*types.Task) bool) []*types.Task {
	var out []*types.Task
	for _, t := range tasks {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}
