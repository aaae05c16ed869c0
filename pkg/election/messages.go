package election

import (
	"fmt"
	"time"
)

// handleMessage dispatches one inbound message by kind. Handling is
// state-sensitive; all five kinds are idempotent under
// reordering and duplication, since ballot-sent flags suppress duplicate
// vote requests, higher-term messages always override, and lower-term
// messages either update peer state or are ignored.
func (f *FSM) handleMessage(msg Message, now time.Time) error {
	switch msg.Kind {
	case MsgCanvassPosition:
		return f.onCanvassPosition(msg, now)
	case MsgRequestVote:
		return f.onRequestVote(msg, now)
	case MsgVote:
		return f.onVote(msg)
	case MsgNewLeadershipTerm:
		return f.onNewLeadershipTerm(msg, now)
	case MsgAppendedPosition:
		return f.onAppendedPosition(msg)
	default:
		return fmt.Errorf("%w: unknown message kind %d", ErrInvariantViolation, msg.Kind)
	}
}

// onCanvassPosition updates the sender's row. If this member is
// LEADER_READY and the sender is behind, it replies with a
// NewLeadershipTerm to pull the lagging peer in. If this member is not in
// CANVASS and the sender reports a higher term, it falls back to CANVASS.
func (f *FSM) onCanvassPosition(msg Message, now time.Time) error {
	peer, ok := f.table.Peer(msg.SenderID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownMember, msg.SenderID)
	}
	peer.LogPosition = msg.LogPosition
	peer.LeadershipTermID = msg.Term

	if f.state == StateLeaderReady && msg.Term <= f.leadershipTermID {
		f.transport.SendTo(msg.SenderID, newLeadershipTerm(f.logPosition, f.leadershipTermID, f.self, f.logSessionID))
	}
	if f.state != StateCanvass && msg.Term > f.leadershipTermID {
		f.gotoState(StateCanvass, now)
	}
	return nil
}

// onRequestVote implements the three RequestVote cases: deny outright,
// defer while adopting the term, or adopt and vote yes.
func (f *FSM) onRequestVote(msg Message, now time.Time) error {
	if _, ok := f.table.Peer(msg.SenderID); !ok {
		return fmt.Errorf("%w: %d", ErrUnknownMember, msg.SenderID)
	}

	// Case 1: candidate's term is not ahead of ours. The reply echoes the
	// term the candidate asked about, not our own.
	if msg.Term <= f.leadershipTermID {
		f.transport.SendTo(msg.SenderID, vote(msg.Term, msg.SenderID, f.self, false))
		return nil
	}

	// Case 2: candidate's term is exactly one ahead, but its log is
	// behind ours. Defer: adopt the term, but vote no.
	if msg.Term == f.leadershipTermID+1 && msg.LogPosition < f.logPosition {
		f.leadershipTermID = msg.Term
		if err := f.recordingLog.AppendTerm(f.leadershipTermID, f.logPosition, now); err != nil {
			return fmt.Errorf("election: append term record: %w", err)
		}
		f.transport.SendTo(msg.SenderID, vote(msg.Term, msg.SenderID, f.self, false))
		f.gotoState(StateCanvass, now)
		return nil
	}

	// Case 3: candidate's term is strictly greater and its log is not
	// demonstrably behind. Adopt, follow, and vote yes.
	f.leadershipTermID = msg.Term
	if err := f.recordingLog.AppendTerm(f.leadershipTermID, msg.LogPosition, now); err != nil {
		return fmt.Errorf("election: append term record: %w", err)
	}
	f.gotoState(StateFollowerBallot, now)
	f.transport.SendTo(msg.SenderID, vote(msg.Term, msg.SenderID, f.self, true))
	return nil
}

// onVote records a voter's ballot, but only while self is a candidate for
// exactly that (term, id).
func (f *FSM) onVote(msg Message) error {
	voter, ok := f.table.Peer(msg.VoterID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownMember, msg.VoterID)
	}
	if f.state != StateCandidateBallot || msg.Term != f.leadershipTermID || msg.CandidateID != f.self {
		return nil
	}
	voter.LeadershipTermID = msg.Term
	if msg.VoteYes {
		voter.VotedFor = VoteYes
	} else {
		voter.VotedFor = VoteNo
	}
	return nil
}

// onNewLeadershipTerm accepts a leader announcement in FOLLOWER_BALLOT or
// CANDIDATE_BALLOT when the term matches, or adopts a strictly higher
// term from any state: adopt the higher term, append a term record at
// the leader's position, drop any catch-up in flight, and enter
// FOLLOWER_CATCHUP against that leader. In either case a member whose log
// is not behind the leader's position goes to FOLLOWER_TRANSITION instead.
func (f *FSM) onNewLeadershipTerm(msg Message, now time.Time) error {
	if _, ok := f.table.Peer(msg.SenderID); !ok {
		return fmt.Errorf("%w: %d", ErrUnknownMember, msg.SenderID)
	}

	sameTermFollowUp := (f.state == StateFollowerBallot || f.state == StateCandidateBallot) && msg.Term == f.leadershipTermID
	higherTerm := msg.Term > f.leadershipTermID

	if !sameTermFollowUp && !higherTerm {
		return nil
	}

	if higherTerm {
		f.leadershipTermID = msg.Term
		if err := f.recordingLog.AppendTerm(f.leadershipTermID, msg.LogPosition, now); err != nil {
			return fmt.Errorf("election: append term record: %w", err)
		}
	}

	f.leaderMember = msg.SenderID
	f.hasLeader = true
	f.logSessionID = msg.LogSessionID
	f.hasLogSession = true

	if higherTerm && f.catchUp != nil {
		// The catch-up in flight targets a superseded leader; release it
		// so a fresh one is started against the new leader below.
		if err := f.catchUp.Close(); err != nil {
			f.logger.Printf("election[%d]: catchup close error: %v", f.self, err)
		}
		f.catchUp = nil
	}

	if f.logPosition < msg.LogPosition && f.catchUp == nil {
		// Transition first: re-entering FOLLOWER_CATCHUP runs its exit
		// hook, which would otherwise release the new coordinator.
		f.gotoState(StateFollowerCatchup, now)
		f.catchUp = NewCatchUpCoordinator(msg.SenderID, f.logPosition, msg.LogPosition, f.archive, f.logger)
	} else {
		f.gotoState(StateFollowerTransition, now)
	}
	return nil
}

// onAppendedPosition unconditionally updates the sender's row.
func (f *FSM) onAppendedPosition(msg Message) error {
	peer, ok := f.table.Peer(msg.SenderID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownMember, msg.SenderID)
	}
	peer.LogPosition = msg.LogPosition
	peer.LeadershipTermID = msg.Term
	return nil
}
