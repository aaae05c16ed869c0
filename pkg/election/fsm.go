// Package election implements the per-member leader-election state
// machine of a replicated consensus cluster: the states, the messages
// that drive transitions, the quorum arithmetic, the timing/randomization
// rules that break symmetry, and the catch-up protocol that brings a
// lagging new-follower into alignment with the new leader.
//
// The FSM is single-threaded and cooperatively scheduled: a host calls
// Tick(now) repeatedly; Tick never blocks and all timeouts are computed
// from the now it is given, never from a wall clock read internally.
package election

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// FSM drives one member through an election epoch.
type FSM struct {
	epochID uuid.UUID

	self      int32
	isStartup bool

	state            State
	leadershipTermID int64
	logPosition      int64
	logSessionID     int32
	hasLogSession    bool
	leaderMember     int32
	hasLeader        bool

	timeOfLastStateChange time.Time
	timeOfLastBroadcast   time.Time
	nominationDeadline    time.Time

	catchUp *CatchUpCoordinator

	table *MemberTable
	cfg   Config

	transport    MessageTransport
	recordingLog RecordingLog
	archive      ArchiveClient
	host         HostAgent
	logger       *log.Logger

	counter         *StateCounter
	counterAllocated bool

	completed bool
	closed    bool
}

// New builds an election FSM for one member. members must include self
// and is fixed for the FSM's lifetime. isStartup affects only the
// CANVASS timeout: true for the cluster's initial
// election, false when re-electing after a leader is deemed lost.
func New(
	self Member,
	members []Member,
	cfg Config,
	plan RecoveryPlan,
	transport MessageTransport,
	recordingLog RecordingLog,
	archive ArchiveClient,
	host HostAgent,
	logger *log.Logger,
	isStartup bool,
) *FSM {
	if logger == nil {
		logger = log.Default()
	}
	f := &FSM{
		epochID:      uuid.New(),
		self:         self.ID,
		isStartup:    isStartup,
		state:        StateInit,
		logPosition:  plan.LastAppendedLogPosition,
		table:        NewMemberTable(self.ID, members),
		cfg:          cfg,
		transport:    transport,
		recordingLog: recordingLog,
		archive:      archive,
		host:         host,
		logger:       logger,
	}
	return f
}

// EpochID is the uuid identifying this FSM instance; cmd/electiond
// surfaces it on its /status endpoint.
func (f *FSM) EpochID() uuid.UUID { return f.epochID }

// State returns the current state.
func (f *FSM) State() State { return f.state }

// Done reports whether the FSM has called hostAgent.electionComplete() and
// must not be ticked again.
func (f *FSM) Done() bool { return f.completed }

// Counter returns the observable Election State counter. It is nil before
// the first Tick call.
func (f *FSM) Counter() *StateCounter { return f.counter }

// LeadershipTermID is the FSM's current term, monotonically non-decreasing
// so a lagging member can rejoin mid-election without losing ground.
func (f *FSM) LeadershipTermID() int64 { return f.leadershipTermID }

// LogPosition is this member's current log end.
func (f *FSM) LogPosition() int64 { return f.logPosition }

// Tick is the single entry point a host invokes periodically. It drains
// inbound messages, advances the state machine, and may send outbound
// messages. It never blocks.
func (f *FSM) Tick(now time.Time) error {
	if f.closed {
		return ErrClosed
	}
	if f.counter == nil {
		if f.counterAllocated {
			return ErrCounterAllocated
		}
		f.counterAllocated = true
		f.counter = NewStateCounter()
		f.timeOfLastStateChange = now
		f.timeOfLastBroadcast = now
	}

	for _, msg := range f.transport.Poll() {
		if err := f.handleMessage(msg, now); err != nil {
			return err
		}
		if f.completed {
			return nil
		}
	}

	if err := f.onTick(now); err != nil {
		return err
	}
	return nil
}

// Close releases owned resources (catch-up coordinator, if any) without
// completing the election. The host may call this at any time; after
// Close no further Tick is legal.
func (f *FSM) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	if f.catchUp != nil {
		err := f.catchUp.Close()
		f.catchUp = nil
		return err
	}
	return nil
}

// gotoState is the transition primitive: record the
// state-change time, run the outgoing state's exit hook, assign the new
// state, publish it, and — only for CANVASS — reset per-peer ballot/vote
// flags, republish self's own (term, position), and tell the host it is
// a follower again.
func (f *FSM) gotoState(next State, now time.Time) {
	f.timeOfLastStateChange = now
	f.runExitHook(f.state)
	f.state = next
	f.counter.Set(next)
	if next == StateCanvass {
		f.table.ResetBallotFlags()
		self := f.table.Self()
		self.LeadershipTermID = f.leadershipTermID
		self.LogPosition = f.logPosition
		f.host.Role(RoleFollower)
	}
}

// runExitHook implements the one state that has exit behavior: leaving
// FOLLOWER_CATCHUP always releases the catch-up coordinator, including on
// close().
func (f *FSM) runExitHook(s State) {
	if s == StateFollowerCatchup && f.catchUp != nil {
		if err := f.catchUp.Close(); err != nil {
			f.logger.Printf("election[%d]: catchup close error: %v", f.self, err)
		}
		f.catchUp = nil
	}
}

// onTick dispatches to the handler for the current state. The switch is
// exhaustive by construction: an unrecognized state is a
// fatal invariant violation, never a silent no-op.
func (f *FSM) onTick(now time.Time) error {
	switch f.state {
	case StateInit:
		return f.onInit(now)
	case StateCanvass:
		return f.onCanvass(now)
	case StateNominate:
		return f.onNominate(now)
	case StateCandidateBallot:
		return f.onCandidateBallot(now)
	case StateFollowerBallot:
		return f.onFollowerBallot(now)
	case StateLeaderTransition:
		return f.onLeaderTransition(now)
	case StateLeaderReady:
		return f.onLeaderReady(now)
	case StateFollowerCatchup:
		return f.onFollowerCatchup(now)
	case StateFollowerTransition:
		return f.onFollowerTransition(now)
	case StateFollowerReady:
		return f.onFollowerReady(now)
	default:
		return fmt.Errorf("%w: unknown state %d", ErrInvariantViolation, f.state)
	}
}

func (f *FSM) canvassTimeout() time.Duration {
	if f.isStartup {
		return f.cfg.StartupStatusTimeout
	}
	return f.cfg.ElectionTimeout
}

func (f *FSM) appointed() bool {
	return f.cfg.AppointedLeaderID != nil
}

func (f *FSM) isAppointee() bool {
	return f.cfg.AppointedLeaderID != nil && *f.cfg.AppointedLeaderID == f.self
}

// onInit is the one-shot INIT bootstrap.
func (f *FSM) onInit(now time.Time) error {
	if f.table.Count() == 1 {
		f.leaderMember = f.self
		f.hasLeader = true
		f.leadershipTermID++
		if err := f.recordingLog.AppendTerm(f.leadershipTermID, f.logPosition, now); err != nil {
			return fmt.Errorf("election: append term record: %w", err)
		}
		f.gotoState(StateLeaderTransition, now)
		return nil
	}
	if f.isAppointee() {
		f.nominationDeadline = now
		f.gotoState(StateNominate, now)
		return nil
	}
	f.gotoState(StateCanvass, now)
	return nil
}

// onCanvass broadcasts (position, term) and watches for unanimous or
// quorum candidacy.
func (f *FSM) onCanvass(now time.Time) error {
	if now.Sub(f.timeOfLastBroadcast) >= f.cfg.StatusInterval {
		self := f.table.Self()
		f.transport.Broadcast(canvassPosition(f.logPosition, f.leadershipTermID, f.self))
		self.LogPosition = f.logPosition
		self.LeadershipTermID = f.leadershipTermID
		f.timeOfLastBroadcast = now
	}

	if f.appointed() {
		// Only the appointee advances from NOMINATE; everyone else just
		// keeps broadcasting until a NewLeadershipTerm arrives.
		return nil
	}

	unanimous := UnanimousCandidate(f.table)
	quorum := QuorumCandidate(f.table) && now.Sub(f.timeOfLastStateChange) >= f.canvassTimeout()
	if unanimous || quorum {
		f.nominationDeadline = now.Add(time.Duration(f.randomOffset()))
		f.gotoState(StateNominate, now)
	}
	return nil
}

// randomOffset returns a uniform random duration in [0, statusInterval).
func (f *FSM) randomOffset() int64 {
	n := int64(f.cfg.StatusInterval)
	if n <= 0 {
		return 0
	}
	if f.cfg.Random == nil {
		return 0
	}
	return f.cfg.Random.Int63n(n)
}

// onNominate waits out the randomized backoff before self-nominating
// before moving to CANDIDATE_BALLOT.
func (f *FSM) onNominate(now time.Time) error {
	if now.Before(f.nominationDeadline) {
		return nil
	}
	f.leadershipTermID++
	f.table.BeginCandidacy(f.leadershipTermID, f.logPosition)
	if err := f.recordingLog.AppendTerm(f.leadershipTermID, f.logPosition, now); err != nil {
		return fmt.Errorf("election: append term record: %w", err)
	}
	f.host.Role(RoleCandidate)
	f.gotoState(StateCandidateBallot, now)
	return nil
}

// onCandidateBallot awaits votes for own candidacy, in priority order: a
// win on full count, then on election timeout a majority win or a fall
// back to CANVASS, else sending any RequestVote not yet accepted.
func (f *FSM) onCandidateBallot(now time.Time) error {
	term := f.leadershipTermID
	if HasWonVoteOnFullCount(f.table, term) {
		f.leaderMember = f.self
		f.hasLeader = true
		f.gotoState(StateLeaderTransition, now)
		return nil
	}
	if now.Sub(f.timeOfLastStateChange) >= f.cfg.ElectionTimeout {
		if HasMajorityVote(f.table, term) {
			f.leaderMember = f.self
			f.hasLeader = true
			f.gotoState(StateLeaderTransition, now)
		} else {
			f.gotoState(StateCanvass, now)
		}
		return nil
	}
	for _, peer := range f.table.Peers() {
		if peer.IsBallotSent {
			continue
		}
		if f.transport.SendTo(peer.ID, requestVote(f.logPosition, term, f.self)) {
			peer.IsBallotSent = true
		}
	}
	return nil
}

// onFollowerBallot idles until a NewLeadershipTerm moves the FSM forward,
// or the ballot times out back to CANVASS.
func (f *FSM) onFollowerBallot(now time.Time) error {
	if now.Sub(f.timeOfLastStateChange) >= f.cfg.ElectionTimeout {
		f.gotoState(StateCanvass, now)
	}
	return nil
}

// onLeaderTransition is one-shot: instruct the host to become leader,
// reset the table's reported positions, and move to LEADER_READY
// before declaring the election complete.
func (f *FSM) onLeaderTransition(now time.Time) error {
	if err := f.host.BecomeLeader(); err != nil {
		return fmt.Errorf("election: becomeLeader: %w", err)
	}
	f.table.ResetLogPositionsUnknown()
	f.table.Self().LogPosition = f.logPosition
	f.gotoState(StateLeaderReady, now)
	return nil
}

// onLeaderReady waits until every yes-voter has acknowledged the new term
// at logPosition, broadcasting heartbeats meanwhile.
func (f *FSM) onLeaderReady(now time.Time) error {
	if HaveVotersReachedPosition(f.table, f.logPosition, f.leadershipTermID) {
		if err := f.host.ElectionComplete(); err != nil {
			return fmt.Errorf("election: electionComplete: %w", err)
		}
		f.completed = true
		return f.Close()
	}
	if now.Sub(f.timeOfLastBroadcast) >= f.cfg.LeaderHeartbeatInterval {
		f.transport.Broadcast(newLeadershipTerm(f.logPosition, f.leadershipTermID, f.self, f.logSessionID))
		f.timeOfLastBroadcast = now
	}
	return nil
}

// onFollowerCatchup delegates to the catch-up coordinator until it
// reports done, then adopts its target position and moves on
// until the local log catches up to the leader's announced position.
func (f *FSM) onFollowerCatchup(now time.Time) error {
	if f.catchUp == nil {
		return fmt.Errorf("%w: FOLLOWER_CATCHUP with no coordinator", ErrInvariantViolation)
	}
	if !f.catchUp.IsDone() {
		if _, err := f.catchUp.DoWork(context.Background()); err != nil {
			// Catch-up failure is permissive: fall back to
			// CANVASS and retry from scratch on the next term announcement.
			f.logger.Printf("election[%d]: catchup failed, returning to canvass: %v", f.self, err)
			f.gotoState(StateCanvass, now)
			return nil
		}
	}
	if f.catchUp.IsDone() {
		f.logPosition = f.catchUp.TargetPosition()
		if err := f.host.CatchupLog(f.catchUp); err != nil {
			return fmt.Errorf("election: catchupLog: %w", err)
		}
		f.gotoState(StateFollowerTransition, now)
	}
	return nil
}

// onFollowerTransition is one-shot: tell the host to refresh its peer
// view, build the follower's log subscription channel, and instruct it to
// begin recording and wait for downstream services.
func (f *FSM) onFollowerTransition(now time.Time) error {
	f.host.UpdateMemberDetails()
	channelURI := f.followerChannelURI()
	if err := f.host.RecordLogAsFollower(channelURI, f.logSessionID); err != nil {
		return fmt.Errorf("election: recordLogAsFollower: %w", err)
	}
	if err := f.host.AwaitServicesReady(channelURI, f.logSessionID); err != nil {
		return fmt.Errorf("election: awaitServicesReady: %w", err)
	}
	f.gotoState(StateFollowerReady, now)
	return nil
}

func (f *FSM) followerChannelURI() string {
	leaderEndpoint := ""
	if peer, ok := f.table.Peer(f.leaderMember); ok {
		leaderEndpoint = peer.Endpoint
	}
	return fmt.Sprintf(f.cfg.LogChannel, leaderEndpoint, f.logSessionID)
}

// onFollowerReady informs the leader of this member's appended position
// and completes once accepted, or falls back to CANVASS on timeout
// once caught up and recording.
func (f *FSM) onFollowerReady(now time.Time) error {
	accepted := f.transport.SendTo(f.leaderMember, appendedPosition(f.logPosition, f.leadershipTermID, f.self))
	if accepted {
		if err := f.host.ElectionComplete(); err != nil {
			return fmt.Errorf("election: electionComplete: %w", err)
		}
		f.completed = true
		return f.Close()
	}
	if now.Sub(f.timeOfLastStateChange) >= f.cfg.ElectionTimeout {
		f.gotoState(StateCanvass, now)
	}
	return nil
}
