// Package types defines the entities dispatchd persists and passes
// between components: the worker fleet (Node), the work it processes
// (Task), the per-folder slices of a fan-out task (FolderWorkItem),
// and the advisory file locks nodes take out while processing
// (FileLock).
//
// All four are plain value structs with no behavior beyond a handful
// of predicates (Task.HasAssignee, TaskStatus.IsTerminal,
// FolderStatus.IsTerminal, FileLock.Expired) — persistence lives in
// pkg/store, mutation and validation in pkg/registry, pkg/tasks, and
// pkg/folders.
//
// # Identity
//
// Node.ID is an opaque string chosen by the registering client and
// never reassigned by the server; a worker that re-registers with the
// same ID is refreshed in place rather than treated as a new node.
// Task.ID and FolderWorkItem.ID are server-assigned, monotonically
// increasing integers minted by the Store on create.
//
// # Task lifecycle
//
//	Pending -> Running -> Completed
//	                   \-> Failed
//	Pending -> Cancelled
//	Running -> Cancelled
//
// AssignedNodeID holds the first assignee (kept for single-assignee
// callers); AssignedNodeIDs is authoritative once a task fans out to
// more than one node. Version is the optimistic-concurrency token the
// Store's CAS update checks on every write.
package types
