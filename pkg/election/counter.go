package election

import "sync/atomic"

// StateCounter is the single-writer, multiple-reader "Election State"
// observable. The FSM is the sole writer; it publishes state-code
// transitions with a release-store. No additional synchronization is
// required because the FSM itself is single-threaded.
type StateCounter struct {
	v atomic.Int32
}

// NewStateCounter allocates the observable counter. An ElectionFSM
// allocates exactly one of these on its first tick; allocating a second
// one for the same FSM instance is a duplicate state-code assignment.
func NewStateCounter() *StateCounter {
	c := &StateCounter{}
	c.v.Store(int32(StateInit))
	return c
}

// Set publishes a new state code.
func (c *StateCounter) Set(s State) {
	c.v.Store(int32(s))
}

// Get reads the current published state code.
func (c *StateCounter) Get() State {
	return State(c.v.Load())
}
