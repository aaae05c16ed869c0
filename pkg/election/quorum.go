package election

// QuorumCalculator is a set of pure functions over a MemberTable. None of
// them mutate state; they exist as free functions rather than methods so
// tests can exercise them against hand-built tables without an
// ElectionFSM.

// UnanimousCandidate is true when every peer has reported a non-sentinel
// (term, position) and self ranks at or above every peer in the
// (term, position, id) lexicographic order.
func UnanimousCandidate(t *MemberTable) bool {
	self := t.Self().rank()
	for _, peer := range t.Peers() {
		if !peer.hasReported() {
			return false
		}
		if rankLess(self, peer.rank()) {
			return false
		}
	}
	return true
}

// QuorumCandidate is true when at least a majority of members (counting
// self) have reported, and self ranks at or above every reporter.
func QuorumCandidate(t *MemberTable) bool {
	self := t.Self().rank()
	reporters := 1 // self always counts as having reported
	for _, peer := range t.Peers() {
		if !peer.hasReported() {
			continue
		}
		reporters++
		if rankLess(self, peer.rank()) {
			return false
		}
	}
	return reporters >= t.Majority()
}

// HasWonVoteOnFullCount is true when every member has cast a definite vote
// for term and the yes-votes reach a majority.
func HasWonVoteOnFullCount(t *MemberTable, term int64) bool {
	yes := 0
	for _, m := range t.All() {
		if m.LeadershipTermID != term || m.VotedFor == VoteUnknown {
			return false
		}
		if m.VotedFor == VoteYes {
			yes++
		}
	}
	return yes >= t.Majority()
}

// HasMajorityVote is true when the yes-votes for term reach a majority,
// regardless of how many members have abstained so far.
func HasMajorityVote(t *MemberTable, term int64) bool {
	yes := 0
	for _, m := range t.All() {
		if m.LeadershipTermID == term && m.VotedFor == VoteYes {
			yes++
		}
	}
	return yes >= t.Majority()
}

// HaveVotersReachedPosition is true when every member that voted yes has
// reported logPosition >= pos for exactly the given term.
func HaveVotersReachedPosition(t *MemberTable, pos, term int64) bool {
	for _, m := range t.All() {
		if m.VotedFor != VoteYes {
			continue
		}
		if m.LeadershipTermID != term || m.LogPosition < pos {
			return false
		}
	}
	return true
}
