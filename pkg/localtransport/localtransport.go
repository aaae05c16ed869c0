// Package localtransport is an in-memory election.MessageTransport for
// tests and simulation harnesses: a shared registry keyed by member id,
// with a Disconnect/Connect/Partition/Heal fault-injection surface over
// mailbox delivery.
package localtransport

import (
	"sync"

	"github.com/vzdtic/clusterelect/pkg/election"
)

// Hub is the shared registry every member's Endpoint binds to. It owns the
// per-member inboxes and the from->to connectivity matrix.
type Hub struct {
	mu       sync.Mutex
	inboxes  map[int32][]election.Message
	disabled map[int32]map[int32]bool
}

// NewHub creates an empty registry.
func NewHub() *Hub {
	return &Hub{
		inboxes:  make(map[int32][]election.Message),
		disabled: make(map[int32]map[int32]bool),
	}
}

// Register allocates an empty inbox for id, if one does not already exist.
func (h *Hub) Register(id int32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.inboxes[id]; !ok {
		h.inboxes[id] = nil
	}
	if _, ok := h.disabled[id]; !ok {
		h.disabled[id] = make(map[int32]bool)
	}
}

// Endpoint returns a MessageTransport bound to member id against this hub.
func (h *Hub) Endpoint(id int32) *Endpoint {
	h.Register(id)
	return &Endpoint{hub: h, self: id}
}

// Disconnect makes messages from->to silently undeliverable.
func (h *Hub) Disconnect(from, to int32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disabled[from] == nil {
		h.disabled[from] = make(map[int32]bool)
	}
	h.disabled[from][to] = true
}

// Connect restores a from->to link disabled by Disconnect.
func (h *Hub) Connect(from, to int32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disabled[from] != nil {
		delete(h.disabled[from], to)
	}
}

// Partition isolates id from every other registered member, in both
// directions.
func (h *Hub) Partition(id int32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for other := range h.inboxes {
		if other == id {
			continue
		}
		if h.disabled[id] == nil {
			h.disabled[id] = make(map[int32]bool)
		}
		if h.disabled[other] == nil {
			h.disabled[other] = make(map[int32]bool)
		}
		h.disabled[id][other] = true
		h.disabled[other][id] = true
	}
}

// Heal restores every connection touching id.
func (h *Hub) Heal(id int32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disabled[id] = make(map[int32]bool)
	for other := range h.disabled {
		delete(h.disabled[other], id)
	}
}

func (h *Hub) connected(from, to int32) bool {
	if h.disabled[from] == nil {
		return true
	}
	return !h.disabled[from][to]
}

func (h *Hub) deliver(from, to int32, msg election.Message) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.inboxes[to]; !ok {
		return false
	}
	if !h.connected(from, to) {
		return false
	}
	h.inboxes[to] = append(h.inboxes[to], msg)
	return true
}

func (h *Hub) drain(id int32) []election.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.inboxes[id]
	h.inboxes[id] = nil
	return out
}

// Endpoint is one member's view of the Hub; it implements
// election.MessageTransport.
type Endpoint struct {
	hub  *Hub
	self int32
}

// Poll drains this member's inbox.
func (e *Endpoint) Poll() []election.Message {
	return e.hub.drain(e.self)
}

// SendTo attempts delivery to a single member, honoring any fault
// injection configured on the hub. The bool return mirrors a transport
// send-buffer-full rejection, letting tests exercise ballot/AppendedPosition
// retry under back-pressure by calling Disconnect.
func (e *Endpoint) SendTo(to int32, msg election.Message) bool {
	msg.SenderID = e.self
	return e.hub.deliver(e.self, to, msg)
}

// Broadcast sends to every other registered member, best-effort.
func (e *Endpoint) Broadcast(msg election.Message) {
	msg.SenderID = e.self
	e.hub.mu.Lock()
	targets := make([]int32, 0, len(e.hub.inboxes))
	for id := range e.hub.inboxes {
		if id != e.self {
			targets = append(targets, id)
		}
	}
	e.hub.mu.Unlock()
	for _, to := range targets {
		e.hub.deliver(e.self, to, msg)
	}
}
