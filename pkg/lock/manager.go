// Package lock implements the advisory file lock subsystem: path
// normalization and a Manager that wraps store.Store to give nodes
// mutual exclusion over named resources, with TTL-based expiry swept
// by pkg/sweeper.
package lock

import (
	"fmt"
	"time"

	"github.com/cuemby/dispatchd/pkg/dispatcherr"
	"github.com/cuemby/dispatchd/pkg/events"
	"github.com/cuemby/dispatchd/pkg/store"
	"github.com/cuemby/dispatchd/pkg/types"
)

// Manager is the coordination-layer entry point for file locks. It
// normalizes paths before every Store call so callers never have to
// reason about path spelling.
type Manager struct {
	store store.Store
	bus   *events.Broker
	ttl   time.Duration
}

func NewManager(st store.Store, bus *events.Broker, ttl time.Duration) *Manager {
	return &Manager{store: st, bus: bus, ttl: ttl}
}

// TryAcquire attempts to take the lock on path for nodeID. Re-entrant:
// the current holder may call this again to no effect. Returns a
// *dispatcherr.Error with Code Conflict if another node holds it, even
// when that lock has expired but has not yet been swept.
func (m *Manager) TryAcquire(path, nodeID string) (*types.FileLock, error) {
	lock, err := m.store.TryAcquireLock(Normalize(path), nodeID)
	if err != nil && dispatcherr.IsCode(err, dispatcherr.CodeConflict) && m.bus != nil {
		m.bus.Publish(&events.Event{
			Type:   events.EventDebugMessage,
			Groups: []events.Group{events.GroupDebug},
			Source: "lock",
			Text:   fmt.Sprintf("node %s denied lock on %s: held by another node", nodeID, Normalize(path)),
		})
	}
	return lock, err
}

// Refresh extends the lock's LastUpdatedAt, resetting its TTL clock.
// Only the current holder may refresh.
func (m *Manager) Refresh(path, nodeID string) (*types.FileLock, error) {
	return m.store.RefreshLock(Normalize(path), nodeID)
}

// Release drops the lock, reporting whether one was actually held at
// path. Only the current holder may release it.
func (m *Manager) Release(path, nodeID string) (bool, error) {
	return m.store.ReleaseLock(Normalize(path), nodeID)
}

// ReleaseAllFor releases every lock held by nodeID, used when a node
// disconnects or is reaped by the sweeper.
func (m *Manager) ReleaseAllFor(nodeID string) (int, error) {
	return m.store.ReleaseAllLocksForNode(nodeID)
}

// Get returns the current holder of path, if any.
func (m *Manager) Get(path string) (*types.FileLock, error) {
	return m.store.GetLockByPath(Normalize(path))
}

// ListAll returns every currently held lock.
func (m *Manager) ListAll() ([]*types.FileLock, error) {
	return m.store.ListLocks()
}

// ReleaseAll releases every lock regardless of holder, the
// administrative escape hatch behind DELETE /locks/all.
func (m *Manager) ReleaseAll() (int, error) {
	return m.store.ReleaseAllLocks()
}

// Sweep releases every lock that has not been refreshed within the
// manager's TTL, returning how many were released. Invoked on a ticker
// by pkg/sweeper.
func (m *Manager) Sweep(now time.Time) (int, error) {
	return m.store.SweepExpiredLocks(m.ttl, now)
}
