package presence

import (
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"
)

// connect registers a fresh client without a real websocket; broadcasts
// land in the client's send buffer.
func connect(h *Hub, user string) *Client {
	c := NewClient(h, nil, user, 16)
	h.Register(c)
	return c
}

func drain(c *Client) []Event {
	out := []Event{}
	for {
		select {
		case raw := <-c.send:
			var e Event
			if err := json.Unmarshal(raw, &e); err == nil {
				out = append(out, e)
			}
		default:
			return out
		}
	}
}

func TestOnlineTracking(t *testing.T) {
	h := NewHub()
	if h.IsOnline("alice") {
		t.Fatalf("alice should start offline")
	}

	c1 := connect(h, "alice")
	c2 := connect(h, "alice")
	if !h.IsOnline("alice") {
		t.Fatalf("alice should be online")
	}

	// still online while one handle remains
	h.Unregister(c1)
	if !h.IsOnline("alice") {
		t.Fatalf("alice should stay online with a second connection")
	}
	h.Unregister(c2)
	if h.IsOnline("alice") {
		t.Fatalf("alice should be offline after last disconnect")
	}
}

func TestOnlineOfPartition(t *testing.T) {
	h := NewHub()
	connect(h, "alice")
	connect(h, "carol")

	online, offline := h.OnlineOf([]string{"alice", "bob", "carol"})
	sort.Strings(online)
	if len(online) != 2 || online[0] != "alice" || online[1] != "carol" {
		t.Fatalf("unexpected online set: %v", online)
	}
	if len(offline) != 1 || offline[0] != "bob" {
		t.Fatalf("unexpected offline set: %v", offline)
	}
}

func TestBroadcastToUsers(t *testing.T) {
	h := NewHub()
	alice := connect(h, "alice")
	bob := connect(h, "bob")

	h.BroadcastToUsers([]string{"alice", "bob"}, Event{Type: "ping"})

	if got := drain(alice); len(got) != 1 || got[0].Type != "ping" {
		t.Fatalf("alice got %v", got)
	}
	if got := drain(bob); len(got) != 1 || got[0].Type != "ping" {
		t.Fatalf("bob got %v", got)
	}
}

func TestRoomBroadcastExcludesSender(t *testing.T) {
	h := NewHub()
	alice := connect(h, "alice")
	bob := connect(h, "bob")
	mallory := connect(h, "mallory")

	h.JoinRoom(alice, "conv-1")
	h.JoinRoom(bob, "conv-1")

	h.BroadcastToRoom("conv-1", "alice", Event{Type: "message_received"})

	if got := drain(alice); len(got) != 0 {
		t.Fatalf("sender should not receive its own broadcast: %v", got)
	}
	if got := drain(bob); len(got) != 1 {
		t.Fatalf("bob should receive the broadcast: %v", got)
	}
	if got := drain(mallory); len(got) != 0 {
		t.Fatalf("non-members should not receive room broadcasts: %v", got)
	}
}

func TestTypingIndicators(t *testing.T) {
	h := NewHub()
	alice := connect(h, "alice")
	bob := connect(h, "bob")
	h.JoinRoom(alice, "conv-1")
	h.JoinRoom(bob, "conv-1")

	h.SetTyping("conv-1", "alice", true)
	if users := h.TypingUsers("conv-1"); len(users) != 1 || users[0] != "alice" {
		t.Fatalf("unexpected typing set: %v", users)
	}
	got := drain(bob)
	if len(got) != 1 || got[0].Type != "user_typing" {
		t.Fatalf("bob should see user_typing: %v", got)
	}
	if got := drain(alice); len(got) != 0 {
		t.Fatalf("the typist should not see their own indicator: %v", got)
	}

	h.SetTyping("conv-1", "alice", false)
	if users := h.TypingUsers("conv-1"); len(users) != 0 {
		t.Fatalf("typing flag should clear: %v", users)
	}
	got = drain(bob)
	if len(got) != 1 || got[0].Type != "user_stop_typing" {
		t.Fatalf("bob should see user_stop_typing: %v", got)
	}
}

func TestDisconnectClearsTyping(t *testing.T) {
	h := NewHub()
	alice := connect(h, "alice")
	bob := connect(h, "bob")
	h.JoinRoom(alice, "conv-1")
	h.JoinRoom(bob, "conv-1")

	h.SetTyping("conv-1", "alice", true)
	drain(bob)

	h.Unregister(alice)
	if users := h.TypingUsers("conv-1"); len(users) != 0 {
		t.Fatalf("typing should clear on disconnect: %v", users)
	}
	got := drain(bob)
	if len(got) != 1 || got[0].Type != "user_stop_typing" {
		t.Fatalf("bob should see user_stop_typing on disconnect: %v", got)
	}
}

func TestFullBufferDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub()
	c := NewClient(h, nil, "alice", 1)
	h.Register(c)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			h.BroadcastToUser("alice", Event{Type: "flood"})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("broadcast blocked on a full send buffer")
	}
	if got := drain(c); len(got) != 1 {
		t.Fatalf("expected exactly the buffered frame, got %d", len(got))
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingSink) PresenceChanged(userID string, online bool, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state := "offline"
	if online {
		state = "online"
	}
	r.events = append(r.events, userID+":"+state)
}

func TestPresenceSinkFiresOnEdges(t *testing.T) {
	h := NewHub()
	sink := &recordingSink{}
	h.SetPresenceSink(sink)

	c1 := connect(h, "alice")
	c2 := connect(h, "alice")
	h.Unregister(c1)
	h.Unregister(c2)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	want := []string{"alice:online", "alice:offline"}
	if len(sink.events) != len(want) || sink.events[0] != want[0] || sink.events[1] != want[1] {
		t.Fatalf("expected %v, got %v", want, sink.events)
	}
}
