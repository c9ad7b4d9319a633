// Package folders implements the fan-out sub-progress subsystem:
// partitioning a VolumeCompression-style task into per-folder work
// items, letting nodes claim and report on them, and triggering the
// parent task's completion check once every item is terminal.
package folders

import (
	"fmt"
	"time"

	"github.com/cuemby/dispatchd/pkg/dispatcherr"
	"github.com/cuemby/dispatchd/pkg/events"
	"github.com/cuemby/dispatchd/pkg/store"
	"github.com/cuemby/dispatchd/pkg/types"
)

// TaskCompleter is the subset of tasks.Coordinator the tracker needs:
// it calls back into the task coordinator once a folder's terminal
// status might complete the whole fan-out task.
type TaskCompleter interface {
	CheckAndCompleteFanOut(taskID int64) (*types.Task, error)
	Get(taskID int64) (*types.Task, error)
}

// Tracker owns FolderWorkItem creation, claiming, and progress
// reporting for fan-out tasks.
type Tracker struct {
	store store.Store
	bus   *events.Broker
	tasks TaskCompleter
}

func NewTracker(st store.Store, bus *events.Broker, taskCompleter TaskCompleter) *Tracker {
	return &Tracker{store: st, bus: bus, tasks: taskCompleter}
}

// CreateOrReplace partitions taskID's work into one FolderWorkItem per
// folderPath, replacing any existing partition for that task. Used when
// a fan-out task is created or re-planned.
func (t *Tracker) CreateOrReplace(taskID int64, folderPaths []string) ([]*types.FolderWorkItem, error) {
	task, err := t.tasks.Get(taskID)
	if err != nil {
		return nil, err
	}
	if !task.Type.IsFanOut() {
		return nil, dispatcherr.Validation("task type does not support fan-out folder work items")
	}

	if err := t.store.DeleteFolderWorkItemsByTask(taskID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	items := make([]*types.FolderWorkItem, 0, len(folderPaths))
	for _, p := range folderPaths {
		items = append(items, &types.FolderWorkItem{
			TaskID:     taskID,
			FolderPath: p,
			FolderName: folderName(p),
			Status:     types.FolderStatusPending,
			CreatedAt:  now,
		})
	}
	return t.store.CreateFolderWorkItems(items)
}

// Delete removes every folder work item belonging to taskID.
func (t *Tracker) Delete(taskID int64) error {
	return t.store.DeleteFolderWorkItemsByTask(taskID)
}

// ClaimNext atomically assigns the next Pending item for taskID to
// nodeID (the core of the folder-claim endpoint), returning (nil, nil) if no
// Pending item remains.
func (t *Tracker) ClaimNext(taskID int64, nodeID, nodeName string) (*types.FolderWorkItem, error) {
	return t.store.ClaimNextFolderWorkItem(taskID, nodeID, nodeName)
}

// Get returns a single folder work item.
func (t *Tracker) Get(id int64) (*types.FolderWorkItem, error) {
	return t.store.GetFolderWorkItem(id)
}

// ListByTask returns every folder work item belonging to taskID
// (implements tasks.FolderLister).
func (t *Tracker) ListByTask(taskID int64) ([]*types.FolderWorkItem, error) {
	return t.store.ListFolderWorkItemsByTask(taskID)
}

// ListAll returns every folder work item across all tasks.
func (t *Tracker) ListAll() ([]*types.FolderWorkItem, error) {
	return t.store.ListFolderWorkItems()
}

// Revert resets an orphaned InProgress item back to Pending with its
// assignment cleared, so a different node can claim it. Called by
// pkg/sweeper when a folder item's assignee node has been reaped.
func (t *Tracker) Revert(id int64) error {
	item, err := t.store.GetFolderWorkItem(id)
	if err != nil {
		return err
	}
	item.Status = types.FolderStatusPending
	item.AssignedNodeID = nil
	item.AssignedNodeName = nil
	item.StartedAt = nil
	item.Progress = 0
	return t.store.UpdateFolderWorkItem(item)
}

// Report records a node's progress or terminal outcome for a folder
// work item it holds, and triggers the parent task's completion check
// if the report is terminal.
func (t *Tracker) Report(id int64, nodeID string, status types.FolderStatus, progress float64, errorMessage, outputPath *string) (*types.FolderWorkItem, error) {
	item, err := t.store.GetFolderWorkItem(id)
	if err != nil {
		return nil, err
	}
	if item.AssignedNodeID == nil || *item.AssignedNodeID != nodeID {
		return nil, dispatcherr.Forbidden("node does not hold this folder work item")
	}
	if item.Status.IsTerminal() {
		return nil, dispatcherr.Conflict(fmt.Sprintf("folder work item %d already reached terminal status %s", item.ID, item.Status))
	}

	item.Progress = progress
	item.Status = status
	item.ErrorMessage = errorMessage
	item.OutputPath = outputPath
	if status.IsTerminal() {
		now := time.Now().UTC()
		item.CompletedAt = &now
	}
	if err := t.store.UpdateFolderWorkItem(item); err != nil {
		return nil, err
	}

	t.publish(item)

	if status.IsTerminal() {
		if _, err := t.tasks.CheckAndCompleteFanOut(item.TaskID); err != nil {
			return item, err
		}
	}
	return item, nil
}

// MeanProgress returns the unweighted average Progress across a task's
// folder work items, used for a single fan-out task progress readout.
func MeanProgress(items []*types.FolderWorkItem) float64 {
	if len(items) == 0 {
		return 0
	}
	var sum float64
	for _, item := range items {
		sum += item.Progress
	}
	return sum / float64(len(items))
}

// TerminalRatio returns the fraction of items that have reached a
// terminal status, used to drive "N of M folders done" readouts.
func TerminalRatio(items []*types.FolderWorkItem) float64 {
	if len(items) == 0 {
		return 0
	}
	done := 0
	for _, item := range items {
		if item.Status.IsTerminal() {
			done++
		}
	}
	return float64(done) / float64(len(items))
}

func (t *Tracker) publish(item *types.FolderWorkItem) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(&events.Event{
		Type:     events.EventTaskProgressChanged,
		Groups:   []events.Group{events.GroupAllTasks, events.TaskGroup(item.TaskID)},
		TaskID:   item.TaskID,
		Progress: item.Progress,
	})
}

func folderName(p string) string {
	i := len(p) - 1
	for i >= 0 && p[i] != '/' {
		i--
	}
	return p[i+1:]
}
