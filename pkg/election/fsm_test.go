package election

import (
	"testing"
	"time"
)

var base = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Unanimous candidacy drives CANVASS -> NOMINATE
// -> CANDIDATE_BALLOT with a bumped term.
func TestScenarioUnanimousCandidacy(t *testing.T) {
	transport := &fakeTransport{}
	host := &fakeHost{}
	f, rl := newTestFSM(1, RecoveryPlan{LastAppendedLogPosition: 1000}, transport, host, nil)
	f.leadershipTermID = 5

	if err := f.Tick(base); err != nil {
		t.Fatalf("tick1: %v", err)
	}
	if f.State() != StateCanvass {
		t.Fatalf("expected CANVASS after INIT, got %s", f.State())
	}

	transport.deliver(canvassPosition(800, 5, 0))
	transport.deliver(canvassPosition(900, 5, 2))

	t2 := base.Add(100 * time.Millisecond)
	if err := f.Tick(t2); err != nil {
		t.Fatalf("tick2: %v", err)
	}
	if f.State() != StateNominate {
		t.Fatalf("expected NOMINATE once unanimous, got %s", f.State())
	}

	if err := f.Tick(t2); err != nil {
		t.Fatalf("tick3: %v", err)
	}
	if f.State() != StateCandidateBallot {
		t.Fatalf("expected CANDIDATE_BALLOT, got %s", f.State())
	}
	if f.LeadershipTermID() != 6 {
		t.Fatalf("expected term bumped to 6, got %d", f.LeadershipTermID())
	}
	if len(rl.terms) == 0 || rl.terms[len(rl.terms)-1].term != 6 {
		t.Fatalf("expected a term record appended at term 6")
	}
}

// A candidate that wins full-count moves to
// LEADER_TRANSITION then LEADER_READY, and completes once every voter has
// acknowledged the new term at its position.
func TestScenarioCandidateWins(t *testing.T) {
	transport := &fakeTransport{}
	host := &fakeHost{}
	f, _ := newTestFSM(1, RecoveryPlan{LastAppendedLogPosition: 1000}, transport, host, nil)
	f.leadershipTermID = 5
	f.Tick(base)
	transport.deliver(canvassPosition(800, 5, 0))
	transport.deliver(canvassPosition(900, 5, 2))
	t2 := base.Add(100 * time.Millisecond)
	f.Tick(t2)
	f.Tick(t2)
	if f.State() != StateCandidateBallot || f.LeadershipTermID() != 6 {
		t.Fatalf("setup failed: state=%s term=%d", f.State(), f.LeadershipTermID())
	}

	transport.deliver(vote(6, 1, 0, true))
	transport.deliver(vote(6, 1, 2, true))
	t3 := t2.Add(10 * time.Millisecond)
	if err := f.Tick(t3); err != nil {
		t.Fatalf("tick4: %v", err)
	}
	if f.State() != StateLeaderTransition {
		t.Fatalf("expected LEADER_TRANSITION, got %s", f.State())
	}

	t4 := t3.Add(10 * time.Millisecond)
	if err := f.Tick(t4); err != nil {
		t.Fatalf("tick5: %v", err)
	}
	if f.State() != StateLeaderReady {
		t.Fatalf("expected LEADER_READY, got %s", f.State())
	}
	if !host.becameLeader {
		t.Fatal("expected hostAgent.becomeLeader() to have been called")
	}

	transport.deliver(appendedPosition(1000, 6, 0))
	transport.deliver(appendedPosition(1000, 6, 2))
	t5 := t4.Add(10 * time.Millisecond)
	if err := f.Tick(t5); err != nil {
		t.Fatalf("tick6: %v", err)
	}
	if !host.completed {
		t.Fatal("expected hostAgent.electionComplete() once every voter acked")
	}
	if !f.Done() {
		t.Fatal("expected FSM to report Done() after electionComplete")
	}
}

// A lower-term RequestVote in CANVASS is denied
// without a state change, echoing the candidate's own term in the reply.
func TestScenarioVoteDeniedLowerTerm(t *testing.T) {
	transport := &fakeTransport{}
	host := &fakeHost{}
	f, _ := newTestFSM(1, RecoveryPlan{LastAppendedLogPosition: 1000}, transport, host, nil)
	f.leadershipTermID = 5
	f.Tick(base)
	if f.State() != StateCanvass {
		t.Fatalf("setup: expected CANVASS, got %s", f.State())
	}

	transport.deliver(requestVote(500, 4, 2))
	t2 := base.Add(10 * time.Millisecond)
	if err := f.Tick(t2); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if f.State() != StateCanvass {
		t.Fatalf("expected no state change, got %s", f.State())
	}
	if len(transport.sent) != 1 {
		t.Fatalf("expected exactly one reply, got %d", len(transport.sent))
	}
	got := transport.sent[0]
	want := Message{Kind: MsgVote, SenderID: 1, Term: 4, CandidateID: 2, VoterID: 1, VoteYes: false}
	if got.to != 2 || got.msg != want {
		t.Fatalf("expected Vote(4,2,1,no) to member 2, got to=%d msg=%+v", got.to, got.msg)
	}
}

// A higher-term RequestVote is granted; the term
// is adopted and a term record appended at the candidate's position.
func TestScenarioVoteGrantedHigherTerm(t *testing.T) {
	transport := &fakeTransport{}
	host := &fakeHost{}
	f, rl := newTestFSM(1, RecoveryPlan{LastAppendedLogPosition: 1000}, transport, host, nil)
	f.leadershipTermID = 5
	f.Tick(base)

	transport.deliver(requestVote(1200, 7, 2))
	t2 := base.Add(10 * time.Millisecond)
	if err := f.Tick(t2); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if f.LeadershipTermID() != 7 {
		t.Fatalf("expected term adopted to 7, got %d", f.LeadershipTermID())
	}
	if f.State() != StateFollowerBallot {
		t.Fatalf("expected FOLLOWER_BALLOT, got %s", f.State())
	}
	last := rl.terms[len(rl.terms)-1]
	if last.term != 7 || last.pos != 1200 {
		t.Fatalf("expected term record at (7,1200), got (%d,%d)", last.term, last.pos)
	}
	if len(transport.sent) != 1 {
		t.Fatalf("expected one Vote reply, got %d", len(transport.sent))
	}
	got := transport.sent[0]
	want := Message{Kind: MsgVote, SenderID: 1, Term: 7, CandidateID: 2, VoterID: 1, VoteYes: true}
	if got.to != 2 || got.msg != want {
		t.Fatalf("expected Vote(7,2,1,yes) to member 2, got to=%d msg=%+v", got.to, got.msg)
	}
}

// A NewLeadershipTerm in FOLLOWER_BALLOT that
// reveals this member is behind drives FOLLOWER_CATCHUP, then
// FOLLOWER_TRANSITION, then FOLLOWER_READY once catch-up completes.
func TestScenarioCatchUpPath(t *testing.T) {
	transport := &fakeTransport{}
	host := &fakeHost{}
	archive := &fakeArchive{chunk: 400}
	f, _ := newTestFSM(1, RecoveryPlan{LastAppendedLogPosition: 500}, transport, host, archive)
	f.leadershipTermID = 7
	f.counter = NewStateCounter()
	f.counterAllocated = true
	f.timeOfLastBroadcast = base
	f.gotoState(StateFollowerBallot, base)

	transport.deliver(newLeadershipTerm(1200, 7, 2, 42))
	t2 := base.Add(10 * time.Millisecond)
	if err := f.Tick(t2); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if f.State() != StateFollowerCatchup {
		t.Fatalf("expected FOLLOWER_CATCHUP, got %s", f.State())
	}
	if f.catchUp == nil || f.catchUp.TargetPosition() != 1200 {
		t.Fatalf("expected catch-up coordinator targeting 1200")
	}

	t3 := t2.Add(10 * time.Millisecond)
	if err := f.Tick(t3); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if f.State() != StateFollowerTransition {
		t.Fatalf("expected FOLLOWER_TRANSITION once catch-up is done, got %s", f.State())
	}
	if f.LogPosition() != 1200 {
		t.Fatalf("expected logPosition adopted to 1200, got %d", f.LogPosition())
	}
	if archive.closed == false {
		t.Fatal("expected catch-up coordinator to release the archive client on exit")
	}

	t4 := t3.Add(10 * time.Millisecond)
	if err := f.Tick(t4); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if f.State() != StateFollowerReady {
		t.Fatalf("expected FOLLOWER_READY, got %s", f.State())
	}
}

// A FOLLOWER_BALLOT that times out without a
// message falls back to CANVASS and resets the ballot/vote flags.
func TestScenarioFollowerBallotTimeout(t *testing.T) {
	transport := &fakeTransport{}
	host := &fakeHost{}
	f, _ := newTestFSM(1, RecoveryPlan{LastAppendedLogPosition: 0}, transport, host, nil)
	f.counter = NewStateCounter()
	f.counterAllocated = true
	f.timeOfLastBroadcast = base
	f.gotoState(StateFollowerBallot, base)
	p0, _ := f.table.Peer(0)
	p0.IsBallotSent = true
	p0.VotedFor = VoteYes

	t2 := base.Add(1001 * time.Millisecond)
	if err := f.Tick(t2); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if f.State() != StateCanvass {
		t.Fatalf("expected CANVASS after election timeout, got %s", f.State())
	}
	if p0.IsBallotSent || p0.VotedFor != VoteUnknown {
		t.Fatal("expected ballot/vote flags reset on fallback to CANVASS")
	}
}

// A single-member cluster advances
// directly from INIT to LEADER_TRANSITION within one tick.
func TestSingleMemberClusterBecomesLeaderImmediately(t *testing.T) {
	transport := &fakeTransport{}
	host := &fakeHost{}
	members := []Member{{ID: 9}}
	cfg := DefaultConfig()
	cfg.Random = fixedRandom{v: 0}
	rl := &fakeRecordingLog{}
	f := New(Member{ID: 9}, members, cfg, RecoveryPlan{LastAppendedLogPosition: 42}, transport, rl, nil, host, testLogger(), true)

	if err := f.Tick(base); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if f.State() != StateLeaderTransition {
		t.Fatalf("expected LEADER_TRANSITION after one tick, got %s", f.State())
	}
	if f.LeadershipTermID() != 1 {
		t.Fatalf("expected term bumped to 1, got %d", f.LeadershipTermID())
	}

	t2 := base.Add(time.Millisecond)
	if err := f.Tick(t2); err != nil {
		t.Fatalf("tick2: %v", err)
	}
	if f.State() != StateLeaderReady {
		t.Fatalf("expected LEADER_READY, got %s", f.State())
	}

	t3 := t2.Add(time.Millisecond)
	if err := f.Tick(t3); err != nil {
		t.Fatalf("tick3: %v", err)
	}
	if !f.Done() {
		t.Fatal("expected single-member cluster to complete the election with nobody else to wait for")
	}
}

// In appointed-leader mode the appointee
// skips CANVASS and enters NOMINATE at t=0; non-appointees stay in
// CANVASS.
func TestAppointedLeaderSkipsCanvass(t *testing.T) {
	appointee := int32(1)
	cfg := DefaultConfig()
	cfg.AppointedLeaderID = &appointee
	cfg.Random = fixedRandom{v: 0}

	transport := &fakeTransport{}
	host := &fakeHost{}
	rl := &fakeRecordingLog{}
	members := []Member{{ID: 0}, {ID: 1}, {ID: 2}}
	f := New(Member{ID: 1}, members, cfg, RecoveryPlan{}, transport, rl, nil, host, testLogger(), true)
	if err := f.Tick(base); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if f.State() != StateNominate {
		t.Fatalf("expected appointee to enter NOMINATE immediately, got %s", f.State())
	}

	transport2 := &fakeTransport{}
	host2 := &fakeHost{}
	rl2 := &fakeRecordingLog{}
	nonAppointee := New(Member{ID: 0}, members, cfg, RecoveryPlan{}, transport2, rl2, nil, host2, testLogger(), true)
	if err := nonAppointee.Tick(base); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if nonAppointee.State() != StateCanvass {
		t.Fatalf("expected non-appointee to remain in CANVASS, got %s", nonAppointee.State())
	}
	if err := nonAppointee.Tick(base.Add(time.Second)); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if nonAppointee.State() != StateCanvass {
		t.Fatalf("expected non-appointee to stay in CANVASS absent a NewLeadershipTerm, got %s", nonAppointee.State())
	}
}

// Tick rejects further calls once the FSM has been closed.
func TestTickAfterCloseIsRejected(t *testing.T) {
	transport := &fakeTransport{}
	host := &fakeHost{}
	f := New(Member{ID: 9}, []Member{{ID: 9}}, DefaultConfig(), RecoveryPlan{}, transport, &fakeRecordingLog{}, nil, host, testLogger(), true)
	f.Tick(base)
	f.Tick(base)
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := f.Tick(base); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

// A message from an unknown member id is a fatal invariant violation.
func TestUnknownSenderIsInvariantViolation(t *testing.T) {
	transport := &fakeTransport{}
	host := &fakeHost{}
	f, _ := newTestFSM(1, RecoveryPlan{}, transport, host, nil)
	f.Tick(base)
	transport.deliver(canvassPosition(0, 0, 99))
	if err := f.Tick(base.Add(time.Millisecond)); err == nil {
		t.Fatal("expected an error for an unknown sender id")
	}
}
