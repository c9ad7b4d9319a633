package metrics

import (
	"time"

	"github.com/cuemby/dispatchd/pkg/types"
)

// NodeLister is the subset of registry.Registry the collector needs.
type NodeLister interface {
	ListAll() ([]*types.Node, error)
}

// TaskLister is the subset of tasks.Coordinator the collector needs.
type TaskLister interface {
	ListAll() ([]*types.Task, error)
}

// FolderLister is the subset of folders.Tracker the collector needs.
type FolderLister interface {
	ListAll() ([]*types.FolderWorkItem, error)
}

// LockLister is the subset of lock.Manager the collector needs.
type LockLister interface {
	ListAll() ([]*types.FileLock, error)
}

// Collector periodically refreshes the gauge metrics from the live
// components. Counters and histograms are updated inline by the
// components themselves; Collector only owns point-in-time snapshots.
type Collector struct {
	nodes   NodeLister
	tasks   TaskLister
	folders FolderLister
	locks   LockLister
	stopCh  chan struct{}
}

func NewCollector(nodes NodeLister, tasks TaskLister, folders FolderLister, locks LockLister) *Collector {
	return &Collector{
		nodes:   nodes,
		tasks:   tasks,
		folders: folders,
		locks:   locks,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15 second cadence.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectNodeMetrics()
	c.collectTaskMetrics()
	c.collectFolderMetrics()
	c.collectLockMetrics()
}

func (c *Collector) collectNodeMetrics() {
	nodes, err := c.nodes.ListAll()
	if err != nil {
		return
	}

	counts := map[string]int{"available": 0, "unavailable": 0}
	for _, n := range nodes {
		if n.IsAvailable {
			counts["available"]++
		} else {
			counts["unavailable"]++
		}
	}
	for availability, count := range counts {
		NodesTotal.WithLabelValues(availability).Set(float64(count))
	}
}

func (c *Collector) collectTaskMetrics() {
	tasks, err := c.tasks.ListAll()
	if err != nil {
		return
	}

	counts := make(map[[2]string]int)
	for _, t := range tasks {
		counts[[2]string{string(t.Type), string(t.Status)}]++
	}
	for key, count := range counts {
		TasksTotal.WithLabelValues(key[0], key[1]).Set(float64(count))
	}
}

func (c *Collector) collectFolderMetrics() {
	items, err := c.folders.ListAll()
	if err != nil {
		return
	}

	counts := make(map[string]int)
	for _, item := range items {
		counts[string(item.Status)]++
	}
	for status, count := range counts {
		FolderWorkItemsTotal.WithLabelValues(status).Set(float64(count))
	}
}

func (c *Collector) collectLockMetrics() {
	locks, err := c.locks.ListAll()
	if err != nil {
		return
	}
	LocksHeldTotal.Set(float64(len(locks)))
}
