package election

import (
	"context"
	"time"
)

// MessageTransport is the pub/sub transport collaborator. It is reached
// only through this interface; its wire encoding, delivery guarantees and
// retry policy live outside this package.
type MessageTransport interface {
	// Poll drains whatever inbound messages have arrived since the last
	// call. It never blocks.
	Poll() []Message

	// SendTo attempts to deliver msg to a single member. It never blocks;
	// a false return means back-pressure, and the FSM is responsible for
	// retrying on a later tick (RequestVote ballots, AppendedPosition).
	SendTo(to int32, msg Message) bool

	// Broadcast attempts best-effort delivery to every peer. Unlike
	// SendTo, broadcast messages (CanvassPosition, NewLeadershipTerm
	// heartbeats) are not retried individually; the next periodic
	// broadcast supersedes a dropped one.
	Broadcast(msg Message)
}

// RecordingLog is the durable replicated-log collaborator. AppendTerm must
// be idempotent on identical (term, logPosition).
type RecordingLog interface {
	AppendTerm(term int64, logPosition int64, timestamp time.Time) error
}

// ArchiveClient is the log-segment-copying collaborator used by
// CatchUpCoordinator. Its segment fetch/verification mechanics are not
// this package's concern.
type ArchiveClient interface {
	// ReplicateRange makes forward progress copying [from, to) of the
	// leader's log into this member's log. It returns the new cursor
	// position, whether the range is now fully copied, and any error.
	ReplicateRange(ctx context.Context, leaderID int32, from, to int64) (cursor int64, done bool, err error)
	Close() error
}

// HostAgent is the collaborator that owns the log stream, serves clients,
// and tracks this member's high-level role.
type HostAgent interface {
	Role(r Role)
	BecomeLeader() error
	UpdateMemberDetails()
	RecordLogAsFollower(channelURI string, logSessionID int32) error
	AwaitServicesReady(channelURI string, logSessionID int32) error
	CatchupLog(coordinator *CatchUpCoordinator) error
	ElectionComplete() error
}

// RecoveryPlan describes where this member's log ends on entry to the
// election. Only LastAppendedLogPosition is consumed by the core.
type RecoveryPlan struct {
	LastAppendedLogPosition int64
}

// RandomSource is the injectable PRNG used for deterministic
// nomination-backoff tests. It is satisfied by *rand.Rand.
type RandomSource interface {
	Int63n(n int64) int64
}
