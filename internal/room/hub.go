package room

import "sync"

// Subscriber receives events for one connection. Delivery must never
// block a pipeline run; implementations drop when saturated and report
// whether the event was accepted.
type Subscriber interface {
	Deliver(event any) bool
}

// ChannelSubscriber adapts an outbound channel to the Subscriber interface.
type ChannelSubscriber chan<- any

func (c ChannelSubscriber) Deliver(event any) bool {
	select {
	case c <- event:
		return true
	default:
		return false
	}
}

// Hub maps an interview id to the set of connections currently joined.
// Within a room, events are forwarded in the order they are emitted for a
// given session; ordering across rooms is not guaranteed.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Subscriber

	onDrop func(interviewID string)
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[string]Subscriber)}
}

// SetDropHook registers a callback invoked whenever a saturated subscriber
// forces an event to be dropped.
func (h *Hub) SetDropHook(hook func(interviewID string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDrop = hook
}

// Join is idempotent: re-joining replaces the existing subscriber.
func (h *Hub) Join(interviewID, connID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.rooms[interviewID]
	if !ok {
		conns = make(map[string]Subscriber)
		h.rooms[interviewID] = conns
	}
	conns[connID] = sub
}

// Leave is idempotent.
func (h *Hub) Leave(interviewID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.rooms[interviewID]
	if !ok {
		return
	}
	delete(conns, connID)
	if len(conns) == 0 {
		delete(h.rooms, interviewID)
	}
}

// Broadcast delivers to every connection joined to the interview.
func (h *Hub) Broadcast(interviewID string, event any) {
	h.fanOut(interviewID, "", event)
}

// BroadcastExcept delivers to every connection except connID; used for
// presence indicators that should not echo back to the sender.
func (h *Hub) BroadcastExcept(interviewID, connID string, event any) {
	h.fanOut(interviewID, connID, event)
}

// SendTo delivers to a single connection in the room, for private results
// like transcripts that only the originating participant should see.
func (h *Hub) SendTo(interviewID, connID string, event any) bool {
	h.mu.RLock()
	sub, ok := h.rooms[interviewID][connID]
	drop := h.onDrop
	h.mu.RUnlock()
	if !ok {
		return false
	}
	if !sub.Deliver(event) {
		if drop != nil {
			drop(interviewID)
		}
		return false
	}
	return true
}

// SendToInterview is the surface exposed to external services that push
// administrative events into a room.
func (h *Hub) SendToInterview(interviewID string, event any) {
	h.Broadcast(interviewID, event)
}

func (h *Hub) RoomSize(interviewID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[interviewID])
}

func (h *Hub) fanOut(interviewID, skipConnID string, event any) {
	h.mu.RLock()
	conns := h.rooms[interviewID]
	subs := make([]Subscriber, 0, len(conns))
	for id, sub := range conns {
		if id == skipConnID {
			continue
		}
		subs = append(subs, sub)
	}
	drop := h.onDrop
	h.mu.RUnlock()

	for _, sub := range subs {
		if !sub.Deliver(event) && drop != nil {
			drop(interviewID)
		}
	}
}
