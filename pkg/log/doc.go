/*
Package log provides structured logging for dispatchd using zerolog.

A single global Logger is configured once via Init and accessed either
directly (log.Info, log.Logger) or through a component/entity child
logger (WithComponent, WithNodeID, WithTaskID, WithLockPath) that tags
every subsequent line with that context.

# Usage

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	sweeperLog := log.WithComponent("sweeper")
	sweeperLog.Info().Int("reaped", len(ids)).Msg("swept stale nodes")

	taskLog := log.WithTaskID(task.ID)
	taskLog.Error().Err(err).Msg("fan-out completion check failed")

# Log levels

Debug is for development; Info is the recommended production default;
Warn flags conditions worth watching (a missed heartbeat, a denied
lock); Error marks failed operations; Fatal logs and exits, reserved
for startup failures the process cannot recover from (e.g. the
configured db_path cannot be opened).

# Integration points

  - pkg/sweeper: logs each sweep cycle's reap/release counts
  - pkg/api/middleware: per-request logging with correlation ID
  - pkg/api: the event stream handler's component logger

pkg/registry, pkg/tasks, pkg/folders and pkg/lock do not log.
*/
package log
