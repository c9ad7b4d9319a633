// Package sweeper runs the background reconciliation loop that expires
// stale locks, reaps nodes that have stopped heartbeating, and reverts
// orphaned in-progress folder work items back to Pending, adapted from
// the teacher's ticker/stopCh scheduler loop shape into two independent
// cadences instead of one.
package sweeper

import (
	"time"

	"github.com/cuemby/dispatchd/pkg/log"
	"github.com/cuemby/dispatchd/pkg/metrics"
	"github.com/cuemby/dispatchd/pkg/types"
	"github.com/rs/zerolog"
)

// LockSweeper is the subset of lock.Manager the sweeper needs.
type LockSweeper interface {
	Sweep(now time.Time) (int, error)
}

// NodeSweeper is the subset of registry.Registry the sweeper needs.
type NodeSweeper interface {
	SweepStale(now time.Time) ([]string, error)
}

// FolderReclaimer is the subset of folders.Tracker the sweeper needs to
// find and revert orphaned in-progress work.
type FolderReclaimer interface {
	ListAll() ([]*types.FolderWorkItem, error)
	Get(id int64) (*types.FolderWorkItem, error)
}

// FolderUpdater persists a reverted folder work item. Kept separate
// from FolderReclaimer so a test double can swap behavior independently.
type FolderUpdater interface {
	Revert(id int64) error
}

// Sweeper drives lock expiry and node/folder reclamation on independent
// tickers.
type Sweeper struct {
	locks   LockSweeper
	nodes   NodeSweeper
	folders FolderReclaimer
	revert  FolderUpdater

	lockInterval time.Duration
	nodeInterval time.Duration

	logger zerolog.Logger
	stopCh chan struct{}
}

func New(locks LockSweeper, nodes NodeSweeper, folders FolderReclaimer, revert FolderUpdater, lockInterval, nodeInterval time.Duration) *Sweeper {
	return &Sweeper{
		locks:        locks,
		nodes:        nodes,
		folders:      folders,
		revert:       revert,
		lockInterval: lockInterval,
		nodeInterval: nodeInterval,
		logger:       log.WithComponent("sweeper"),
		stopCh:       make(chan struct{}),
	}
}

// Start launches the lock-sweep and node-sweep loops.
func (s *Sweeper) Start() {
	go s.runLockSweep()
	go s.runNodeSweep()
}

func (s *Sweeper) Stop() {
	close(s.stopCh)
}

func (s *Sweeper) runLockSweep() {
	ticker := time.NewTicker(s.lockInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n, err := s.locks.Sweep(time.Now().UTC())
			if err != nil {
				s.logger.Error().Err(err).Msg("lock sweep failed")
				continue
			}
			if n > 0 {
				metrics.LockSweptTotal.Add(float64(n))
				s.logger.Info().Int("expired", n).Msg("swept expired locks")
			}
		case <-s.stopCh:
			return
		}
	}
}

func (s *Sweeper) runNodeSweep() {
	ticker := time.NewTicker(s.nodeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweepNodesAndFolders()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Sweeper) sweepNodesAndFolders() {
	reaped, err := s.nodes.SweepStale(time.Now().UTC())
	if err != nil {
		s.logger.Error().Err(err).Msg("node sweep failed")
		return
	}
	if len(reaped) > 0 {
		metrics.NodesReapedTotal.Add(float64(len(reaped)))
		s.logger.Info().Int("reaped", len(reaped)).Msg("reaped stale nodes")
	}

	reapedSet := make(map[string]bool, len(reaped))
	for _, id := range reaped {
		reapedSet[id] = true
	}
	if len(reapedSet) == 0 {
		return
	}

	items, err := s.folders.ListAll()
	if err != nil {
		s.logger.Error().Err(err).Msg("listing folder work items for reclaim failed")
		return
	}

	reclaimed := 0
	for _, item := range items {
		if item.Status != types.FolderStatusInProgress {
			continue
		}
		if item.AssignedNodeID == nil || !reapedSet[*item.AssignedNodeID] {
			continue
		}
		if err := s.revert.Revert(item.ID); err != nil {
			s.logger.Error().Err(err).Int64("folder_work_item_id", item.ID).Msg("reverting orphaned folder work item failed")
			continue
		}
		reclaimed++
	}
	if reclaimed > 0 {
		metrics.FoldersReclaimedTotal.Add(float64(reclaimed))
		s.logger.Info().Int("reclaimed", reclaimed).Msg("reverted orphaned folder work items to pending")
	}
}
