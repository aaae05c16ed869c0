package election

import (
	"context"
	"log"
	"time"
)

type sentMessage struct {
	to  int32
	msg Message
}

// fakeTransport is a deterministic, in-memory MessageTransport double.
type fakeTransport struct {
	inbox      []Message
	sent       []sentMessage
	broadcasts []Message
	rejectNext int // number of upcoming SendTo calls to reject (backpressure)
}

func (t *fakeTransport) Poll() []Message {
	out := t.inbox
	t.inbox = nil
	return out
}

func (t *fakeTransport) SendTo(to int32, msg Message) bool {
	if t.rejectNext > 0 {
		t.rejectNext--
		return false
	}
	t.sent = append(t.sent, sentMessage{to, msg})
	return true
}

func (t *fakeTransport) Broadcast(msg Message) {
	t.broadcasts = append(t.broadcasts, msg)
}

func (t *fakeTransport) deliver(msg Message) {
	t.inbox = append(t.inbox, msg)
}

// fakeHost is a recording HostAgent double.
type fakeHost struct {
	roles             []Role
	becomeLeaderErr   error
	becameLeader      bool
	updateMemberCalls int
	recordFollowerErr error
	recordFollower    []string
	awaitReadyErr     error
	awaitReady        []string
	catchupLogCalls   int
	completed         bool
	completeErr       error
}

func (h *fakeHost) Role(r Role) { h.roles = append(h.roles, r) }

func (h *fakeHost) BecomeLeader() error {
	if h.becomeLeaderErr != nil {
		return h.becomeLeaderErr
	}
	h.becameLeader = true
	return nil
}

func (h *fakeHost) UpdateMemberDetails() { h.updateMemberCalls++ }

func (h *fakeHost) RecordLogAsFollower(channelURI string, logSessionID int32) error {
	h.recordFollower = append(h.recordFollower, channelURI)
	return h.recordFollowerErr
}

func (h *fakeHost) AwaitServicesReady(channelURI string, logSessionID int32) error {
	h.awaitReady = append(h.awaitReady, channelURI)
	return h.awaitReadyErr
}

func (h *fakeHost) CatchupLog(c *CatchUpCoordinator) error {
	h.catchupLogCalls++
	return nil
}

func (h *fakeHost) ElectionComplete() error {
	h.completed = true
	return h.completeErr
}

// fakeRecordingLog is a recording RecordingLog double.
type fakeRecordingLog struct {
	terms []struct {
		term, pos int64
	}
}

func (l *fakeRecordingLog) AppendTerm(term int64, pos int64, ts time.Time) error {
	l.terms = append(l.terms, struct{ term, pos int64 }{term, pos})
	return nil
}

// fakeArchive is a deterministic ArchiveClient that copies a fixed chunk
// size per call.
type fakeArchive struct {
	chunk  int64
	closed bool
}

func (a *fakeArchive) ReplicateRange(ctx context.Context, leaderID int32, from, to int64) (int64, bool, error) {
	next := from + a.chunk
	if next >= to {
		return to, true, nil
	}
	return next, false, nil
}

func (a *fakeArchive) Close() error {
	a.closed = true
	return nil
}

// fixedRandom is a RandomSource that always returns the same offset
// (clamped to n-1), for deterministic nomination-backoff tests.
type fixedRandom struct{ v int64 }

func (r fixedRandom) Int63n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	if r.v >= n {
		return n - 1
	}
	return r.v
}

func testLogger() *log.Logger {
	return log.New(discardWriter{}, "", 0)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// newTestFSM builds a 3-member cluster (ids 0,1,2; self=1) with timings
// short enough to exercise timeout-driven transitions in a few ticks.
func newTestFSM(self int32, plan RecoveryPlan, transport MessageTransport, host HostAgent, archive ArchiveClient) (*FSM, *fakeRecordingLog) {
	members := []Member{{ID: 0}, {ID: 1}, {ID: 2}}
	cfg := Config{
		StatusInterval:          100 * time.Millisecond,
		LeaderHeartbeatInterval: 50 * time.Millisecond,
		ElectionTimeout:         1000 * time.Millisecond,
		StartupStatusTimeout:    5000 * time.Millisecond,
		LogChannel:              "log://%s/%d",
		Random:                  fixedRandom{v: 0},
	}
	rl := &fakeRecordingLog{}
	f := New(Member{ID: self}, members, cfg, plan, transport, rl, archive, host, testLogger(), true)
	return f, rl
}
