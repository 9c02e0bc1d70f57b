package ws

import (
	"encoding/json"
	"log"
	"sync"

	"messaging-service/internal/observability"
)

// Envelope is the wire frame for server to client events.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Hub tracks live websocket connections and the conversation rooms each one
// subscribes to. A user holds at most one connection; a newer socket replaces
// the older one.
type Hub struct {
	mu    sync.RWMutex
	rooms map[int]map[*Client]bool
	users map[int]*Client
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[int]map[*Client]bool),
		users: make(map[int]*Client),
	}
}

// Register adds a client, closing any previous connection of the same user.
func (h *Hub) Register(c *Client) {
	var prev *Client
	h.mu.Lock()
	if existing, ok := h.users[c.UserID]; ok && existing != c {
		prev = existing
		h.detachLocked(prev)
	}
	h.users[c.UserID] = c
	h.mu.Unlock()
	if prev != nil {
		log.Printf("websocket replaced: user=%d old=%s new=%s", c.UserID, prev.ID, c.ID)
		prev.shutdown()
	}
}

// Unregister removes a client from the user registry and every room. Safe to
// call more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if h.users[c.UserID] == c {
		delete(h.users, c.UserID)
	}
	h.detachLocked(c)
	h.mu.Unlock()
	c.shutdown()
}

func (h *Hub) detachLocked(c *Client) {
	for id := range c.rooms {
		if room, ok := h.rooms[id]; ok {
			delete(room, c)
			if len(room) == 0 {
				delete(h.rooms, id)
			}
		}
	}
	c.rooms = make(map[int]bool)
}

// Connected reports whether the user has a live connection.
func (h *Hub) Connected(userID int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.users[userID]
	return ok
}

// Stats is a point-in-time occupancy snapshot.
type Stats struct {
	Connections   int `json:"connections"`
	Rooms         int `json:"rooms"`
	Subscriptions int `json:"subscriptions"`
}

// Snapshot reports current hub occupancy.
func (h *Hub) Snapshot() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := Stats{Connections: len(h.users), Rooms: len(h.rooms)}
	for _, room := range h.rooms {
		s.Subscriptions += len(room)
	}
	return s
}

// InConversation reports whether the client subscribes to the room.
func (h *Hub) InConversation(c *Client, conversationID int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return c.rooms[conversationID]
}

// JoinConversation subscribes the users' connections to a conversation room.
// Users without a live connection are skipped.
func (h *Hub) JoinConversation(conversationID int, userIDs ...int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range userIDs {
		c, ok := h.users[id]
		if !ok {
			continue
		}
		if _, ok := h.rooms[conversationID]; !ok {
			h.rooms[conversationID] = make(map[*Client]bool)
		}
		h.rooms[conversationID][c] = true
		c.rooms[conversationID] = true
	}
}

// EvictFromConversation unsubscribes the users' connections from a room.
func (h *Hub) EvictFromConversation(conversationID int, userIDs ...int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[conversationID]
	if !ok {
		return
	}
	for _, id := range userIDs {
		if c, ok := h.users[id]; ok {
			delete(room, c)
			delete(c.rooms, conversationID)
		}
	}
	if len(room) == 0 {
		delete(h.rooms, conversationID)
	}
}

// DropConversation removes a room entirely.
func (h *Hub) DropConversation(conversationID int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[conversationID] {
		delete(c.rooms, conversationID)
	}
	delete(h.rooms, conversationID)
}

// BroadcastToConversation sends an event to every connection in the room
// except excludeConnID and reports how many connections accepted it.
func (h *Hub) BroadcastToConversation(conversationID int, excludeConnID string, event string, data interface{}) int {
	payload, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		log.Printf("websocket marshal error: event=%s err=%v", event, err)
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for c := range h.rooms[conversationID] {
		if c.ID == excludeConnID {
			continue
		}
		if h.deliver(c, event, payload) {
			sent++
		}
	}
	return sent
}

// SendToUsers sends an event to the users' connections regardless of room
// membership and reports how many connections accepted it.
func (h *Hub) SendToUsers(userIDs []int, event string, data interface{}) int {
	payload, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		log.Printf("websocket marshal error: event=%s err=%v", event, err)
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for _, id := range userIDs {
		c, ok := h.users[id]
		if !ok {
			continue
		}
		if h.deliver(c, event, payload) {
			sent++
		}
	}
	return sent
}

// SendToConn sends an event to a single connection.
func (h *Hub) SendToConn(c *Client, event string, data interface{}) bool {
	payload, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		log.Printf("websocket marshal error: event=%s err=%v", event, err)
		return false
	}
	return h.deliver(c, event, payload)
}

// deliver enqueues a payload without blocking. A connection that cannot accept
// it is dead or backed up and gets dropped instead of stalling the caller.
func (h *Hub) deliver(c *Client, event string, payload []byte) bool {
	if !c.enqueue(payload) {
		log.Printf("websocket delivery failed: conn=%s user=%d event=%s", c.ID, c.UserID, event)
		go h.Unregister(c)
		return false
	}
	observability.IncWSEvent("out", event)
	return true
}
