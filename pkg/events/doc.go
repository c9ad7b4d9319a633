// Package events implements dispatchd's in-process publish/subscribe
// bus. Every state change that matters to an observer — a task
// created or reassigned, a status or progress change, a node
// registering or going offline — is published as an Event and fanned
// out to whichever subscribers asked for it.
//
// # Groups instead of topics
//
// Subscribers don't filter by event type; they filter by Group. An
// event reaches a subscriber only if one of the groups the publisher
// tagged it with is among the subscriber's groups (a subscriber with no
// groups receives every event). GroupDebug carries node and lock
// notifications; GroupAllTasks carries every task event; TaskGroup(id)
// scopes a subscription to a single task, letting a client watch one
// task's progress without paying for the whole fleet's event volume.
//
// # Delivery
//
// Publish enqueues onto a single buffered channel drained by one
// broadcast goroutine; it blocks while that channel is full and returns
// without enqueuing once the broker is stopped. The broadcaster sends to each
// matching subscriber's own buffered channel. A subscriber whose
// channel is full has its event dropped rather than stalling the
// broadcaster — onDrop (wired to a Prometheus counter by the caller)
// is invoked so drops are observable. There is no replay, no
// persistence, and no delivery guarantee; events are a best-effort
// notification layer, never the system of record (that's pkg/store).
package events
