package election

import "errors"

var (
	// ErrInvariantViolation marks a condition the FSM treats as fatal: an
	// unknown state code, an unknown message kind, or FOLLOWER_CATCHUP with
	// no coordinator. An unknown sender id and a duplicate counter
	// allocation are reported through ErrUnknownMember and
	// ErrCounterAllocated instead. The host is expected to terminate the
	// process.
	ErrInvariantViolation = errors.New("election: invariant violation")

	// ErrUnknownMember is returned when a message arrives from a member id
	// not present in the election's MemberTable.
	ErrUnknownMember = errors.New("election: unknown member id")

	// ErrClosed is returned by Tick once the FSM has completed or been
	// closed; the host must not call Tick again after seeing it.
	ErrClosed = errors.New("election: already closed")

	// ErrCounterAllocated guards against allocating the observable state
	// counter twice for the same FSM instance.
	ErrCounterAllocated = errors.New("election: state counter already allocated")
)
