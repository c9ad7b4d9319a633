// Package registry implements node liveness: registration, heartbeat,
// and availability tracking, wrapping store.Store directly the way the
// teacher's Manager wraps storage.Store for reads and writes in its own
// domain.
package registry

import (
	"time"

	"github.com/cuemby/dispatchd/pkg/dispatcherr"
	"github.com/cuemby/dispatchd/pkg/events"
	"github.com/cuemby/dispatchd/pkg/store"
	"github.com/cuemby/dispatchd/pkg/types"
)

// maxNodeIDLength bounds the client-assigned node id (spec: opaque
// string, <= 50 chars).
const maxNodeIDLength = 50

// LockReclaimer is the subset of lock.Manager the registry needs to
// release a disconnected node's held locks.
type LockReclaimer interface {
	ReleaseAllFor(nodeID string) (int, error)
}

// TaskReclaimer is the subset of tasks.Coordinator the registry needs
// to revert a disconnected node's single-assignee Running work back
// to Pending.
type TaskReclaimer interface {
	RevertOrphaned(nodeID string) (int, error)
}

// Registry tracks worker nodes: who's registered, who's heartbeated
// recently, and who has gone stale.
type Registry struct {
	store            store.Store
	bus              *events.Broker
	heartbeatTimeout time.Duration
	locks            LockReclaimer
	tasks            TaskReclaimer
}

func NewRegistry(st store.Store, bus *events.Broker, heartbeatTimeout time.Duration) *Registry {
	return &Registry{store: st, bus: bus, heartbeatTimeout: heartbeatTimeout}
}

// SetLockReclaimer wires the lock.Manager after both are constructed,
// breaking the registry<->lock initialization cycle.
func (r *Registry) SetLockReclaimer(lr LockReclaimer) {
	r.locks = lr
}

// SetTaskReclaimer wires the tasks.Coordinator after both are
// constructed, breaking the registry<->tasks initialization cycle.
func (r *Registry) SetTaskReclaimer(tr TaskReclaimer) {
	r.tasks = tr
}

// reclaim releases nodeID's held locks and reverts its orphaned work
// whenever it goes unavailable, whether by explicit Disconnect or by
// being reaped for a missed heartbeat. Best-effort: a failure here
// does not roll back the node state change that triggered it.
func (r *Registry) reclaim(nodeID string) {
	if r.locks != nil {
		if _, err := r.locks.ReleaseAllFor(nodeID); err != nil {
			r.publish(events.EventNodeDisconnected, nodeID, "lock release failed: "+err.Error())
		}
	}
	if r.tasks != nil {
		if _, err := r.tasks.RevertOrphaned(nodeID); err != nil {
			r.publish(events.EventNodeDisconnected, nodeID, "task revert failed: "+err.Error())
		}
	}
}

// Register upserts a node by its client-assigned id: insert on first
// sight, refresh name/IP/fingerprint and mark available again on every
// subsequent call from the same id. id is opaque to the registry and
// never minted server-side, so a restarted worker that reuses its own
// id keeps its task assignments.
func (r *Registry) Register(id, name, ipAddress, hardwareFingerprint string) (*types.Node, error) {
	if id == "" {
		return nil, dispatcherr.Validation("id is required")
	}
	if len(id) > maxNodeIDLength {
		return nil, dispatcherr.Validation("id must be at most 50 characters")
	}

	now := time.Now().UTC()
	existing, err := r.store.GetNode(id)
	if err != nil && !dispatcherr.IsCode(err, dispatcherr.CodeNotFound) {
		return nil, err
	}
	if err == nil {
		existing.Name = name
		existing.IPAddress = ipAddress
		existing.HardwareFingerprint = hardwareFingerprint
		existing.IsAvailable = true
		existing.LastHeartbeat = now
		if err := r.store.UpdateNode(existing); err != nil {
			return nil, err
		}
		r.publish(events.EventNodeRegistered, existing.ID, "")
		return existing, nil
	}

	node := &types.Node{
		ID:                  id,
		Name:                name,
		IPAddress:           ipAddress,
		HardwareFingerprint: hardwareFingerprint,
		IsAvailable:         true,
		LastHeartbeat:       now,
		CreatedAt:           now,
	}
	if err := r.store.CreateNode(node); err != nil {
		return nil, err
	}
	r.publish(events.EventNodeRegistered, node.ID, "")
	return node, nil
}

// Heartbeat records a liveness ping from nodeID, marking it available
// again if it had been reaped.
func (r *Registry) Heartbeat(nodeID string) (*types.Node, error) {
	node, err := r.store.GetNode(nodeID)
	if err != nil {
		return nil, err
	}
	node.LastHeartbeat = time.Now().UTC()
	node.IsAvailable = true
	if err := r.store.UpdateNode(node); err != nil {
		return nil, err
	}
	return node, nil
}

// Get returns a single node by ID.
func (r *Registry) Get(nodeID string) (*types.Node, error) {
	return r.store.GetNode(nodeID)
}

// ListAvailable returns nodes flagged available. A node past its
// heartbeat timeout stays listed until SweepStale marks it unavailable.
func (r *Registry) ListAvailable() ([]*types.Node, error) {
	nodes, err := r.store.ListNodes()
	if err != nil {
		return nil, err
	}
	var out []*types.Node
	for _, n := range nodes {
		if n.IsAvailable {
			out = append(out, n)
		}
	}
	return out, nil
}

// ListAll returns every registered node regardless of availability.
func (r *Registry) ListAll() ([]*types.Node, error) {
	return r.store.ListNodes()
}

// Disconnect marks a node unavailable immediately (explicit shutdown,
// as opposed to the sweeper's timeout-based reaping).
func (r *Registry) Disconnect(nodeID string) (*types.Node, error) {
	node, err := r.store.GetNode(nodeID)
	if err != nil {
		return nil, err
	}
	node.IsAvailable = false
	if err := r.store.UpdateNode(node); err != nil {
		return nil, err
	}
	r.publish(events.EventNodeDisconnected, nodeID, "")
	r.reclaim(nodeID)
	return node, nil
}

// SweepStale marks every node whose last heartbeat is older than the
// registry's heartbeatTimeout as unavailable, returning the IDs reaped.
// Invoked on a ticker by pkg/sweeper.
func (r *Registry) SweepStale(now time.Time) ([]string, error) {
	nodes, err := r.store.ListNodes()
	if err != nil {
		return nil, err
	}

	var reaped []string
	for _, n := range nodes {
		if !n.IsAvailable {
			continue
		}
		if now.Sub(n.LastHeartbeat) <= r.heartbeatTimeout {
			continue
		}
		n.IsAvailable = false
		if err := r.store.UpdateNode(n); err != nil {
			return reaped, err
		}
		reaped = append(reaped, n.ID)
		r.publish(events.EventNodeDisconnected, n.ID, "heartbeat timeout")
		r.reclaim(n.ID)
	}
	return reaped, nil
}

func (r *Registry) publish(eventType events.EventType, nodeID, text string) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(&events.Event{
		Type:   eventType,
		Groups: []events.Group{events.GroupDebug},
		NodeID: nodeID,
		Text:   text,
	})
}
