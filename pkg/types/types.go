// Package types defines the entities shared across dispatchd's components:
// nodes, tasks, folder work items, and file locks. They are the value
// objects Store persists and every other component reads and writes
// through Store.
package types

import "time"

// Node is a worker machine registered with the server.
type Node struct {
	ID                  string
	Name                string
	IPAddress           string
	HardwareFingerprint string
	IsAvailable         bool
	LastHeartbeat       time.Time
	CreatedAt           time.Time
}

// TaskType enumerates the batch workloads the fleet processes.
type TaskType string

const (
	TaskTypeTestMessage       TaskType = "TestMessage"
	TaskTypeFileProcessing    TaskType = "FileProcessing"
	TaskTypeRenderThumbnails  TaskType = "RenderThumbnails"
	TaskTypeRealityCapture    TaskType = "RealityCapture"
	TaskTypePackageTask       TaskType = "PackageTask"
	TaskTypeVolumeCompression TaskType = "VolumeCompression"
)

// IsFanOut reports whether tasks of this type are partitioned into
// FolderWorkItems processable by multiple nodes in parallel. Currently
// only VolumeCompression fans out.
func (t TaskType) IsFanOut() bool {
	return t == TaskTypeVolumeCompression
}

// TaskStatus is the task lifecycle state (see the state machine in
// tasks.Coordinator).
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "Pending"
	TaskStatusRunning   TaskStatus = "Running"
	TaskStatusCompleted TaskStatus = "Completed"
	TaskStatusFailed    TaskStatus = "Failed"
	TaskStatusCancelled TaskStatus = "Cancelled"
)

// IsTerminal reports whether no further transitions are legal from s.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Task is a unit of batch work. For fan-out task types AssignedNodeIDs
// is authoritative and AssignedNodeID holds one of its members (kept
// for single-assignee back-compat callers).
type Task struct {
	ID              int64
	Name            string
	Type            TaskType
	Status          TaskStatus
	AssignedNodeID  *string
	AssignedNodeIDs []string
	Parameters      map[string]any
	ResultMessage   *string
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	Version         string
}

// HasAssignee reports whether nodeID is among the task's assignees
// (single assignee or fan-out list).
func (t *Task) HasAssignee(nodeID string) bool {
	if t.AssignedNodeID != nil && *t.AssignedNodeID == nodeID {
		return true
	}
	for _, id := range t.AssignedNodeIDs {
		if id == nodeID {
			return true
		}
	}
	return false
}

// FolderStatus is the lifecycle state of a single FolderWorkItem.
type FolderStatus string

const (
	FolderStatusPending    FolderStatus = "Pending"
	FolderStatusInProgress FolderStatus = "InProgress"
	FolderStatusCompleted  FolderStatus = "Completed"
	FolderStatusFailed     FolderStatus = "Failed"
)

// IsTerminal reports whether the folder item has finished processing.
func (s FolderStatus) IsTerminal() bool {
	return s == FolderStatusCompleted || s == FolderStatusFailed
}

// FolderWorkItem is one claimable unit of a fan-out task's work.
type FolderWorkItem struct {
	ID               int64
	TaskID           int64
	FolderPath       string
	FolderName       string
	Status           FolderStatus
	AssignedNodeID   *string
	AssignedNodeName *string
	Progress         float64
	CreatedAt        time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
	ErrorMessage     *string
	OutputPath       *string
}

// FileLock is an advisory mutual-exclusion record keyed by a
// normalized path. The server guarantees one holder per path; it does
// not police filesystem I/O.
type FileLock struct {
	ID             int64
	NormalizedPath string
	HolderNodeID   string
	CreatedAt      time.Time
	LastUpdatedAt  time.Time
}

// Expired reports whether the lock has not been refreshed within ttl
// of now.
func (l *FileLock) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(l.LastUpdatedAt) > ttl
}
