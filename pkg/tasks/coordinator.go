// Package tasks implements the task lifecycle and assignment subsystem:
// creation, single-node assignment, polling for fan-out work, and the
// status state machine, wrapping store.Store the way the teacher's
// Manager wraps storage.Store for a single domain's reads and writes.
package tasks

import (
	"time"

	"github.com/cuemby/dispatchd/pkg/dispatcherr"
	"github.com/cuemby/dispatchd/pkg/events"
	"github.com/cuemby/dispatchd/pkg/metrics"
	"github.com/cuemby/dispatchd/pkg/store"
	"github.com/cuemby/dispatchd/pkg/types"
)

// legalTransitions enumerates the task status state machine. A status
// not present as a key has no legal outgoing transitions (it is
// terminal, enforced separately via types.TaskStatus.IsTerminal).
var legalTransitions = map[types.TaskStatus]map[types.TaskStatus]bool{
	types.TaskStatusPending: {
		types.TaskStatusRunning:   true,
		types.TaskStatusCancelled: true,
	},
	types.TaskStatusRunning: {
		types.TaskStatusCompleted: true,
		types.TaskStatusFailed:    true,
		types.TaskStatusCancelled: true,
	},
}

// Coordinator owns task creation, assignment, and status transitions.
type Coordinator struct {
	store   store.Store
	bus     *events.Broker
	folders FolderLister
}

// FolderLister is the subset of folders.Tracker the coordinator needs
// to decide whether a fan-out task has finished (avoids an import
// cycle: folders imports tasks for CheckAndCompleteFanOut, so tasks
// takes only the narrow interface it needs from folders).
type FolderLister interface {
	ListByTask(taskID int64) ([]*types.FolderWorkItem, error)
}

func NewCoordinator(st store.Store, bus *events.Broker) *Coordinator {
	return &Coordinator{store: st, bus: bus}
}

// SetFolderLister wires the folders.Tracker after both are constructed,
// breaking the tasks<->folders initialization cycle.
func (c *Coordinator) SetFolderLister(fl FolderLister) {
	c.folders = fl
}

// Create persists a new task in Pending status.
func (c *Coordinator) Create(name string, taskType types.TaskType, parameters map[string]any) (*types.Task, error) {
	task := &types.Task{
		Name:       name,
		Type:       taskType,
		Status:     types.TaskStatusPending,
		Parameters: parameters,
		CreatedAt:  time.Now().UTC(),
	}
	created, err := c.store.CreateTask(task)
	if err != nil {
		return nil, err
	}
	metrics.TasksCreatedTotal.WithLabelValues(string(taskType)).Inc()
	c.publish(created, events.EventTaskCreated, "", "")
	return created, nil
}

// Get returns a task by ID.
func (c *Coordinator) Get(id int64) (*types.Task, error) {
	return c.store.GetTask(id)
}

// ListAll returns every task.
func (c *Coordinator) ListAll() ([]*types.Task, error) {
	return c.store.ListTasks()
}

// ListByStatus returns tasks in the given status.
func (c *Coordinator) ListByStatus(status types.TaskStatus) ([]*types.Task, error) {
	return c.store.ListTasksByStatus(status)
}

// ListByNode returns tasks assigned to nodeID.
func (c *Coordinator) ListByNode(nodeID string) ([]*types.Task, error) {
	return c.store.ListTasksByNode(nodeID)
}

// Assign appends nodeID to a task's assignee set: AssignedNodeIDs gains
// nodeID if absent, and AssignedNodeID is set to nodeID if it was nil.
// Idempotent per node and does not itself change status — the legal
// Pending -> Running transition happens through an explicit UpdateStatus
// call once a node starts the work.
func (c *Coordinator) Assign(taskID int64, nodeID string) (*types.Task, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.TaskAssignDuration)

	task, err := c.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if task.HasAssignee(nodeID) {
		return task, nil
	}

	updated, err := c.store.UpdateTaskCAS(taskID, task.Version, func(t *types.Task) error {
		t.AssignedNodeIDs = appendUnique(t.AssignedNodeIDs, nodeID)
		if t.AssignedNodeID == nil {
			id := nodeID
			t.AssignedNodeID = &id
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.publish(updated, events.EventTaskAssigned, "", "")
	return updated, nil
}

// PollForNode returns every task nodeID should process now: tasks it is
// assigned to that are either Pending, or Running and of a fan-out
// type (letting a late-joining second node pick up an already-Running
// fan-out task).
func (c *Coordinator) PollForNode(nodeID string) ([]*types.Task, error) {
	assigned, err := c.store.ListTasksByNode(nodeID)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Task, 0, len(assigned))
	for _, t := range assigned {
		if t.Status == types.TaskStatusPending {
			out = append(out, t)
			continue
		}
		if t.Status == types.TaskStatusRunning && t.Type.IsFanOut() {
			out = append(out, t)
		}
	}
	return out, nil
}

// RevertOrphaned reverts every Running, single-assignee task held by
// nodeID back to Pending with its assignment cleared, so another node
// can pick the work back up. Fan-out tasks are left alone: a node
// falling off a multi-assignee task does not roll back its peers'
// progress. Called when a node disconnects or is reaped by the
// sweeper (spec §4.2's disconnect/reclaim rule).
func (c *Coordinator) RevertOrphaned(nodeID string) (int, error) {
	assigned, err := c.store.ListTasksByNode(nodeID)
	if err != nil {
		return 0, err
	}

	reverted := 0
	for _, t := range assigned {
		if t.Status != types.TaskStatusRunning || t.Type.IsFanOut() {
			continue
		}
		if t.AssignedNodeID == nil || *t.AssignedNodeID != nodeID {
			continue
		}

		updated, err := c.store.UpdateTaskCAS(t.ID, t.Version, func(task *types.Task) error {
			task.Status = types.TaskStatusPending
			task.AssignedNodeID = nil
			task.AssignedNodeIDs = nil
			task.StartedAt = nil
			return nil
		})
		if err != nil {
			return reverted, err
		}
		reverted++
		c.publish(updated, events.EventTaskStatusChanged, string(types.TaskStatusPending), "")
	}
	return reverted, nil
}

// UpdateStatus drives an explicit status transition (Pending ->
// Running/Cancelled, or Running -> Completed/Failed/Cancelled) on behalf
// of nodeID, validating it against the state machine and recording
// resultMessage for terminal states. Repeating a task's current
// non-terminal status is a no-op; any update of a terminal task fails
// with InvalidTransition. Fails with Forbidden if nodeID is not among
// the task's assignees.
func (c *Coordinator) UpdateStatus(taskID int64, nodeID, expectedVersion string, newStatus types.TaskStatus, resultMessage *string) (*types.Task, error) {
	return c.updateStatus(taskID, expectedVersion, newStatus, resultMessage, &nodeID)
}

// updateStatus is the shared CAS transition used by both the
// caller-driven UpdateStatus (HTTP, nodeID required) and the
// server-driven fan-out completion path (CheckAndCompleteFanOut, no
// caller to check against).
func (c *Coordinator) updateStatus(taskID int64, expectedVersion string, newStatus types.TaskStatus, resultMessage *string, nodeID *string) (*types.Task, error) {
	task, err := c.store.UpdateTaskCAS(taskID, expectedVersion, func(t *types.Task) error {
		if t.Status.IsTerminal() {
			return dispatcherr.InvalidTransition(t.Status, newStatus)
		}
		if t.Status == newStatus {
			return nil
		}
		if nodeID != nil && !t.HasAssignee(*nodeID) {
			return dispatcherr.Forbidden("node does not hold this task")
		}
		if !legalTransitions[t.Status][newStatus] {
			return dispatcherr.InvalidTransition(t.Status, newStatus)
		}
		t.Status = newStatus
		if newStatus == types.TaskStatusRunning && t.StartedAt == nil {
			now := time.Now().UTC()
			t.StartedAt = &now
		}
		if newStatus.IsTerminal() {
			now := time.Now().UTC()
			t.CompletedAt = &now
			t.ResultMessage = resultMessage
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if newStatus.IsTerminal() {
		metrics.TasksCompletedTotal.WithLabelValues(string(task.Type), string(newStatus)).Inc()
	}
	c.publish(task, events.EventTaskStatusChanged, string(task.Status), derefString(resultMessage))
	return task, nil
}

// CheckAndCompleteFanOut inspects a fan-out task's folder work items and,
// if all are terminal, transitions the task to Completed (all folders
// Completed) or Failed (any folder Failed) per the fan-out completion
// policy. It is a no-op if folders remain Pending or InProgress.
func (c *Coordinator) CheckAndCompleteFanOut(taskID int64) (*types.Task, error) {
	if c.folders == nil {
		return c.store.GetTask(taskID)
	}

	task, err := c.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if task.Status.IsTerminal() {
		return task, nil
	}

	items, err := c.folders.ListByTask(taskID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return task, nil
	}

	anyFailed := false
	for _, item := range items {
		if !item.Status.IsTerminal() {
			return task, nil
		}
		if item.Status == types.FolderStatusFailed {
			anyFailed = true
		}
	}

	finalStatus := types.TaskStatusCompleted
	var message *string
	if anyFailed {
		finalStatus = types.TaskStatusFailed
		msg := "one or more folder work items failed"
		message = &msg
	}
	return c.updateStatus(taskID, task.Version, finalStatus, message, nil)
}

func (c *Coordinator) publish(task *types.Task, eventType events.EventType, newStatus, resultMessage string) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(&events.Event{
		Type:          eventType,
		Groups:        []events.Group{events.GroupAllTasks, events.TaskGroup(task.ID)},
		TaskID:        task.ID,
		NewStatus:     newStatus,
		ResultMessage: resultMessage,
	})
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
