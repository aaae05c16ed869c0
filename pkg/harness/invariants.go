package harness

import "fmt"

// Violation is one observed safety breach.
type Violation struct {
	Term        int64
	Description string
}

// SafetyChecker accumulates (term -> leader) observations across a
// cluster run and flags a violation of the "at most one leader per term"
// invariant. It records observations and checks them after the fact,
// rather than asserting inline against live node state.
type SafetyChecker struct {
	leaderByTerm map[int64]int32
	violations   []Violation
}

// NewSafetyChecker creates an empty checker.
func NewSafetyChecker() *SafetyChecker {
	return &SafetyChecker{leaderByTerm: make(map[int64]int32)}
}

// Observe records that memberID believes itself leader at term. It flags
// a violation immediately if a different member already claimed that
// term.
func (s *SafetyChecker) Observe(term int64, memberID int32) {
	if existing, ok := s.leaderByTerm[term]; ok {
		if existing != memberID {
			s.violations = append(s.violations, Violation{
				Term:        term,
				Description: fmt.Sprintf("term %d has two leaders: %d and %d", term, existing, memberID),
			})
		}
		return
	}
	s.leaderByTerm[term] = memberID
}

// Violations returns every safety violation observed so far.
func (s *SafetyChecker) Violations() []Violation {
	out := make([]Violation, len(s.violations))
	copy(out, s.violations)
	return out
}

// CollectFromCluster observes every member currently believing itself
// leader, at that member's own reported term.
func (s *SafetyChecker) CollectFromCluster(c *Cluster) {
	for _, m := range c.Members {
		if m.Host.IsLeader() {
			s.Observe(m.FSM.LeadershipTermID(), m.ID)
		}
	}
}
