// Package harness is a deterministic multi-member election test harness:
// a controllable clock and an all-members-ticked-together loop, wiring N
// election.FSMs over a pkg/localtransport hub.
package harness

import (
	"sync"
	"time"

	"github.com/vzdtic/clusterelect/pkg/election"
	"github.com/vzdtic/clusterelect/pkg/localtransport"
)

// Clock is a controllable clock for driving a simulated cluster one step
// at a time.
type Clock struct {
	mu      sync.Mutex
	current time.Time
}

// NewClock creates a clock starting at start.
func NewClock(start time.Time) *Clock {
	return &Clock{current: start}
}

// Now returns the current simulated time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by d and returns the new time.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	return c.current
}

// StubHost is a minimal election.HostAgent that records the callbacks a
// harness cares about without driving a real consensus log or service
// set — a cluster harness asserts on the election's outcome, not on the
// downstream log replication it would gate.
type StubHost struct {
	mu        sync.Mutex
	role      election.Role
	isLeader  bool
	completed bool
}

func (h *StubHost) Role(r election.Role) { h.mu.Lock(); h.role = r; h.mu.Unlock() }

func (h *StubHost) BecomeLeader() error {
	h.mu.Lock()
	h.isLeader = true
	h.mu.Unlock()
	return nil
}

func (h *StubHost) UpdateMemberDetails() {}

func (h *StubHost) RecordLogAsFollower(channelURI string, logSessionID int32) error { return nil }

func (h *StubHost) AwaitServicesReady(channelURI string, logSessionID int32) error { return nil }

func (h *StubHost) CatchupLog(c *election.CatchUpCoordinator) error { return nil }

func (h *StubHost) ElectionComplete() error {
	h.mu.Lock()
	h.completed = true
	h.mu.Unlock()
	return nil
}

// IsLeader reports whether BecomeLeader has been called.
func (h *StubHost) IsLeader() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.isLeader
}

// LastRole reports the most recent Role callback value.
func (h *StubHost) LastRole() election.Role {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.role
}

// StubRecordingLog accepts every term record in memory, for a harness to
// inspect after a run.
type StubRecordingLog struct {
	mu      sync.Mutex
	records []TermRecord
}

// TermRecord is one observed (term, position) pair.
type TermRecord struct {
	Term, Pos int64
}

// AppendTerm implements election.RecordingLog.
func (l *StubRecordingLog) AppendTerm(term, pos int64, ts time.Time) error {
	l.mu.Lock()
	l.records = append(l.records, TermRecord{term, pos})
	l.mu.Unlock()
	return nil
}

// Records returns every appended term record, in order.
func (l *StubRecordingLog) Records() []TermRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]TermRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Member bundles one simulated cluster member's FSM with its host and
// recording log for post-run inspection.
type Member struct {
	ID   int32
	FSM  *election.FSM
	Host *StubHost
	Log  *StubRecordingLog
}

// Cluster is a deterministic multi-member election harness: N FSMs
// sharing a localtransport.Hub, advanced together by the caller one tick
// at a time.
type Cluster struct {
	Clock   *Clock
	Hub     *localtransport.Hub
	Members []*Member
}

// idOffsetRandom gives each member a distinct, deterministic
// nomination-backoff offset derived from its own id: id nanoseconds,
// modulo the status interval. The offsets are far smaller than a harness
// tick step, so members that nominate on the same tick still reach
// CANDIDATE_BALLOT on the same tick; in a symmetric cluster only the
// highest id is a unanimous candidate, since candidacy ranks ties by
// member id.
type idOffsetRandom struct{ id int32 }

func (r idOffsetRandom) Int63n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	return int64(r.id) % n
}

// New builds a Cluster of n members (ids 0..n-1) sharing one
// localtransport.Hub. Every member uses cfg except for Random, which New
// overrides per member to break nomination symmetry deterministically.
func New(n int, cfg election.Config, isStartup bool, start time.Time) *Cluster {
	hub := localtransport.NewHub()
	roster := make([]election.Member, n)
	for i := 0; i < n; i++ {
		roster[i] = election.Member{ID: int32(i)}
	}

	c := &Cluster{Clock: NewClock(start), Hub: hub}
	for i := 0; i < n; i++ {
		host := &StubHost{}
		rl := &StubRecordingLog{}
		ep := hub.Endpoint(int32(i))
		memberCfg := cfg
		memberCfg.Random = idOffsetRandom{id: int32(i)}
		fsm := election.New(roster[i], roster, memberCfg, election.RecoveryPlan{}, ep, rl, nil, host, nil, isStartup)
		c.Members = append(c.Members, &Member{ID: int32(i), FSM: fsm, Host: host, Log: rl})
	}
	return c
}

// Tick advances the clock by d and ticks every not-yet-done member once,
// in member-id order, returning the first error any member reports.
func (c *Cluster) Tick(d time.Duration) error {
	now := c.Clock.Advance(d)
	for _, m := range c.Members {
		if m.FSM.Done() {
			continue
		}
		if err := m.FSM.Tick(now); err != nil {
			return err
		}
	}
	return nil
}

// Leaders returns the ids of every member whose host has been told it
// became leader.
func (c *Cluster) Leaders() []int32 {
	var out []int32
	for _, m := range c.Members {
		if m.Host.IsLeader() {
			out = append(out, m.ID)
		}
	}
	return out
}

// AllDone reports whether every member has completed its election.
func (c *Cluster) AllDone() bool {
	for _, m := range c.Members {
		if !m.FSM.Done() {
			return false
		}
	}
	return true
}
