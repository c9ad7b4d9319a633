// Package metrics defines dispatchd's Prometheus instrumentation and
// the ticker-driven Collector that refreshes its gauges from the live
// registry, task, folder, and lock state.
//
// # Metric shapes
//
//   - Gauges (NodesTotal, TasksTotal, FolderWorkItemsTotal,
//     LocksHeldTotal) reflect current counts by label and are
//     refreshed on Collector's tick, not on every mutation.
//   - Counters (TasksCreatedTotal, TasksCompletedTotal,
//     LockSweptTotal, NodesReapedTotal, FoldersReclaimedTotal,
//     EventBusDroppedTotal) are incremented inline by the component
//     whose operation they describe.
//   - The histogram TaskAssignDuration records Assign latency via the
//     Timer helper: NewTimer() at the start of an operation, then
//     ObserveDuration/ObserveDurationVec once it completes.
//   - APIRequestsTotal, APIRequestDuration, LockContentionTotal and
//     EventBusSubscribersTotal are registered and exported but no
//     component updates them.
//
// All metrics are registered at package init and exposed at /metrics
// through Handler(), a thin wrapper over promhttp.
package metrics
