package election

import (
	"context"
	"log"
)

// CatchUpCoordinator is the sub-FSM that copies log segments from the new
// leader up to its announced position before a lagging follower accepts
// the live log stream. The mechanics of segment fetch/verification are
// delegated to an ArchiveClient; CatchUpCoordinator only tracks progress
// and completion.
type CatchUpCoordinator struct {
	leaderID int32
	cursor   int64
	target   int64

	archive ArchiveClient
	logger  *log.Logger

	done   bool
	closed bool
}

// NewCatchUpCoordinator instantiates a coordinator targeting [from, to)
// against leaderID. Callers get one of these from ElectionFSM on a
// FOLLOWER_CATCHUP transition.
func NewCatchUpCoordinator(leaderID int32, from, to int64, archive ArchiveClient, logger *log.Logger) *CatchUpCoordinator {
	return &CatchUpCoordinator{
		leaderID: leaderID,
		cursor:   from,
		target:   to,
		archive:  archive,
		logger:   logger,
		done:     from >= to,
	}
}

// DoWork makes forward progress and returns the count of units of work
// done (bytes/segments copied this call, per the ArchiveClient). It never
// blocks for longer than one archive round trip and is safe to call
// repeatedly from FSM ticks.
func (c *CatchUpCoordinator) DoWork(ctx context.Context) (int64, error) {
	if c.done || c.closed {
		return 0, nil
	}
	cursor, done, err := c.archive.ReplicateRange(ctx, c.leaderID, c.cursor, c.target)
	if err != nil {
		if c.logger != nil {
			c.logger.Printf("catchup: replicate range from %d to %d failed: %v", c.cursor, c.target, err)
		}
		return 0, err
	}
	progress := cursor - c.cursor
	c.cursor = cursor
	c.done = done || c.cursor >= c.target
	return progress, nil
}

// IsDone reports whether the local log end has reached the target.
func (c *CatchUpCoordinator) IsDone() bool {
	return c.done
}

// TargetPosition is the position to adopt as logPosition on completion.
func (c *CatchUpCoordinator) TargetPosition() int64 {
	return c.target
}

// LeaderID is the member this coordinator is catching up against.
func (c *CatchUpCoordinator) LeaderID() int32 {
	return c.leaderID
}

// Cursor is the current copied-up-to position.
func (c *CatchUpCoordinator) Cursor() int64 {
	return c.cursor
}

// OnLeaderRecoveryPlan feeds the leader's recovery plan metadata into the
// coordinator. The default implementation only logs it; a richer
// ArchiveClient may use it to decide which segments to fetch first.
func (c *CatchUpCoordinator) OnLeaderRecoveryPlan(plan RecoveryPlan) {
	if c.logger != nil {
		c.logger.Printf("catchup: leader recovery plan lastAppendedLogPosition=%d", plan.LastAppendedLogPosition)
	}
}

// OnLeaderRecordingLogMeta feeds the leader's recording-log metadata
// (e.g. a term record list) into the coordinator.
func (c *CatchUpCoordinator) OnLeaderRecordingLogMeta(termCount int) {
	if c.logger != nil {
		c.logger.Printf("catchup: leader recording log has %d term records", termCount)
	}
}

// Close releases the coordinator's owned resources. The FOLLOWER_CATCHUP
// exit hook guarantees this runs on every transition out of that state,
// including an abrupt FSM Close().
func (c *CatchUpCoordinator) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.archive != nil {
		return c.archive.Close()
	}
	return nil
}
