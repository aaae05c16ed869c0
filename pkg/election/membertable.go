package election

import "fmt"

// NoPosition and NoTerm are the MemberTable's sentinel "unknown" values: a
// peer row starts in this state and only becomes a "reporter" once a
// CanvassPosition or AppendedPosition message sets its position (a Vote
// message sets only its term).
const (
	NoPosition int64 = -1
	NoTerm     int64 = -1
)

// VoteState is the tri-state vote a peer carries in a ballot: it has not
// been asked, it voted yes, or it voted no.
type VoteState int

const (
	VoteUnknown VoteState = iota
	VoteYes
	VoteNo
)

// Member is a peer known by a stable small integer id. The
// mutable fields are the per-peer state the MemberTable tracks: the last
// position/term it reported, whether it has voted in the current ballot,
// and whether this node has already sent it a vote request.
type Member struct {
	ID       int32
	Endpoint string

	LogPosition      int64
	LeadershipTermID int64
	VotedFor         VoteState
	IsBallotSent     bool
}

func newMemberRow(id int32, endpoint string) *Member {
	return &Member{
		ID:               id,
		Endpoint:         endpoint,
		LogPosition:      NoPosition,
		LeadershipTermID: NoTerm,
		VotedFor:         VoteUnknown,
	}
}

// hasReported is true once a peer's row carries a real (term, position)
// pair, i.e. it is no longer at its sentinel construction value.
func (m *Member) hasReported() bool {
	return m.LogPosition != NoPosition
}

// rank is the (term, position, id) lexicographic ordering key used by
// QuorumCalculator to find the best candidate.
func (m *Member) rank() [3]int64 {
	return [3]int64{m.LeadershipTermID, m.LogPosition, int64(m.ID)}
}

func rankLess(a, b [3]int64) bool {
	for i := 0; i < 3; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func rankGE(a, b [3]int64) bool {
	return !rankLess(a, b)
}

// MemberTable holds every Member known for the life of one election,
// including thisMember (self). It is mutated only by the owning
// ElectionFSM, on its single thread — no internal locking is needed or
// used.
type MemberTable struct {
	selfID int32
	order  []int32 // stable iteration order, as given to NewMemberTable
	rows   map[int32]*Member
}

// NewMemberTable builds the fixed set of members for one election. self
// must be included in members.
func NewMemberTable(selfID int32, members []Member) *MemberTable {
	t := &MemberTable{
		selfID: selfID,
		rows:   make(map[int32]*Member, len(members)),
	}
	for _, m := range members {
		t.rows[m.ID] = newMemberRow(m.ID, m.Endpoint)
		t.order = append(t.order, m.ID)
	}
	return t
}

// Self returns this member's own row.
func (t *MemberTable) Self() *Member {
	return t.rows[t.selfID]
}

// Peer looks up a member row by id.
func (t *MemberTable) Peer(id int32) (*Member, bool) {
	m, ok := t.rows[id]
	return m, ok
}

// Peers returns every row except self, in stable order.
func (t *MemberTable) Peers() []*Member {
	out := make([]*Member, 0, len(t.order)-1)
	for _, id := range t.order {
		if id != t.selfID {
			out = append(out, t.rows[id])
		}
	}
	return out
}

// All returns every row, including self, in stable order.
func (t *MemberTable) All() []*Member {
	out := make([]*Member, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.rows[id])
	}
	return out
}

// Count returns the fixed cluster size.
func (t *MemberTable) Count() int {
	return len(t.order)
}

// Majority returns floor(n/2)+1 for the table's member count.
func (t *MemberTable) Majority() int {
	return Majority(t.Count())
}

// Majority returns floor(n/2)+1 for a cluster of n members.
func Majority(n int) int {
	return n/2 + 1
}

// ResetBallotFlags clears every row's vote/ballot-sent state and resets
// reported positions to the sentinel "unknown" value. Called when the FSM
// transitions into CANVASS.
func (t *MemberTable) ResetBallotFlags() {
	for _, id := range t.order {
		row := t.rows[id]
		row.VotedFor = VoteUnknown
		row.IsBallotSent = false
		row.LogPosition = NoPosition
		row.LeadershipTermID = NoTerm
	}
}

// BeginCandidacy clears every peer's vote and records self's own yes-vote
// for the given term and position.
func (t *MemberTable) BeginCandidacy(term, logPosition int64) {
	for _, id := range t.order {
		row := t.rows[id]
		row.VotedFor = VoteUnknown
		row.IsBallotSent = false
	}
	self := t.Self()
	self.LeadershipTermID = term
	self.LogPosition = logPosition
	self.VotedFor = VoteYes
	self.IsBallotSent = true
}

// ResetLogPositionsUnknown resets every row's reported log position to
// the sentinel value; used on entry to LEADER_TRANSITION.
func (t *MemberTable) ResetLogPositionsUnknown() {
	for _, id := range t.order {
		t.rows[id].LogPosition = NoPosition
	}
}

func (t *MemberTable) String() string {
	return fmt.Sprintf("MemberTable{self=%d, n=%d}", t.selfID, len(t.order))
}
