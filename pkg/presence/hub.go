package presence

import (
	"encoding/json"
	"sync"
	"time"

	"chatrixx/pkg/logger"
	"chatrixx/pkg/telemetry"
)

// Event is one wire frame pushed to live connections.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

func (e Event) encode() []byte {
	b, err := json.Marshal(e)
	if err != nil {
		logger.Error("event_encode_failed", "type", e.Type, "error", err)
		return []byte(`{"type":"error"}`)
	}
	return b
}

// PresenceSink observes online/offline transitions. The hub calls it outside
// its lock; implementations persist the flag and fan the change out to the
// user's conversation partners.
type PresenceSink interface {
	PresenceChanged(userID string, online bool, lastSeen time.Time)
}

// Hub is the in-process connection registry: user id to live connection
// handles, conversation rooms, and typing flags. The maps are the only truly
// shared mutable state in the process; every access goes through the mutex.
type Hub struct {
	mu sync.RWMutex
	// clients holds every live connection per user id.
	clients map[string]map[*Client]bool
	// rooms holds the connections that joined a conversation channel.
	rooms map[string]map[*Client]bool
	// typing holds the set of users typing per conversation. Entries are
	// cleared on explicit stop or disconnect only.
	typing map[string]map[string]bool

	sink PresenceSink
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]bool),
		rooms:   make(map[string]map[*Client]bool),
		typing:  make(map[string]map[string]bool),
	}
}

// SetPresenceSink wires the presence observer. Must be called before the
// first Register.
func (h *Hub) SetPresenceSink(s PresenceSink) { h.sink = s }

// Register adds a connection. The first connection for a user flips them
// online.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	first := len(h.clients[c.UserID]) == 0
	if h.clients[c.UserID] == nil {
		h.clients[c.UserID] = make(map[*Client]bool)
	}
	h.clients[c.UserID][c] = true
	h.mu.Unlock()

	telemetry.ConnectedClients.Inc()
	logger.Info("client_registered", "user", c.UserID, "first", first)
	if first && h.sink != nil {
		h.sink.PresenceChanged(c.UserID, true, time.Now().UTC())
	}
}

// Unregister tears a connection down: leaves all rooms, clears the user's
// typing flags, and flips presence to offline when no handles remain.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if conns, ok := h.clients[c.UserID]; ok {
		if _, ok := conns[c]; ok {
			delete(conns, c)
			c.closeSend()
		}
		if len(conns) == 0 {
			delete(h.clients, c.UserID)
		}
	}
	for room, members := range h.rooms {
		if members[c] {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	last := len(h.clients[c.UserID]) == 0
	var stopped []string
	if last {
		for conv, users := range h.typing {
			if users[c.UserID] {
				delete(users, c.UserID)
				stopped = append(stopped, conv)
				if len(users) == 0 {
					delete(h.typing, conv)
				}
			}
		}
	}
	h.mu.Unlock()

	telemetry.ConnectedClients.Dec()
	for _, conv := range stopped {
		h.BroadcastToRoom(conv, c.UserID, Event{Type: "user_stop_typing", Data: map[string]any{
			"user": c.UserID, "conversation": conv,
		}})
	}
	logger.Info("client_unregistered", "user", c.UserID, "last", last)
	if last && h.sink != nil {
		h.sink.PresenceChanged(c.UserID, false, time.Now().UTC())
	}
}

// JoinRoom subscribes the connection to a conversation channel.
func (h *Hub) JoinRoom(c *Client, room string) {
	h.mu.Lock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]bool)
	}
	h.rooms[room][c] = true
	h.mu.Unlock()
}

// LeaveRoom unsubscribes the connection from a conversation channel.
func (h *Hub) LeaveRoom(c *Client, room string) {
	h.mu.Lock()
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()
}

// SetTyping records a typing flag for (conversation, user) and notifies the
// other connections in the room. There is no server-side timeout beyond the
// explicit stop or disconnect.
func (h *Hub) SetTyping(conv, user string, typing bool) {
	h.mu.Lock()
	if typing {
		if h.typing[conv] == nil {
			h.typing[conv] = make(map[string]bool)
		}
		h.typing[conv][user] = true
	} else if users, ok := h.typing[conv]; ok {
		delete(users, user)
		if len(users) == 0 {
			delete(h.typing, conv)
		}
	}
	h.mu.Unlock()

	evt := "user_typing"
	if !typing {
		evt = "user_stop_typing"
	}
	h.BroadcastToRoom(conv, user, Event{Type: evt, Data: map[string]any{
		"user": user, "conversation": conv,
	}})
}

// TypingUsers returns the users currently typing in a conversation.
func (h *Hub) TypingUsers(conv string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []string
	for u := range h.typing[conv] {
		out = append(out, u)
	}
	return out
}

// IsOnline reports whether the user has at least one live connection.
func (h *Hub) IsOnline(user string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[user]) > 0
}

// OnlineOf partitions ids into online and offline sets.
func (h *Hub) OnlineOf(ids []string) (online, offline []string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, id := range ids {
		if len(h.clients[id]) > 0 {
			online = append(online, id)
		} else {
			offline = append(offline, id)
		}
	}
	return online, offline
}

// BroadcastToUser delivers an event to every connection of one user.
// Delivery is fire-and-forget per connection: a full send buffer drops the
// frame rather than stalling the caller.
func (h *Hub) BroadcastToUser(user string, e Event) {
	data := e.encode()
	h.mu.RLock()
	conns := make([]*Client, 0, len(h.clients[user]))
	for c := range h.clients[user] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.trySend(data)
	}
}

// BroadcastToUsers delivers an event to every connection of each user.
func (h *Hub) BroadcastToUsers(users []string, e Event) {
	data := e.encode()
	h.mu.RLock()
	var conns []*Client
	for _, u := range users {
		for c := range h.clients[u] {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.trySend(data)
	}
}

// BroadcastToRoom delivers an event to every connection that joined the
// room, excluding the given user (typically the sender).
func (h *Hub) BroadcastToRoom(room, except string, e Event) {
	data := e.encode()
	h.mu.RLock()
	var conns []*Client
	for c := range h.rooms[room] {
		if c.UserID == except {
			continue
		}
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.trySend(data)
	}
}
