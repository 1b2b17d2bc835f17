package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatrixx/pkg/faults"
	"chatrixx/pkg/models"
)

func openTestStore(t *testing.T) {
	t.Helper()
	require.NoError(t, Open(t.TempDir()))
	t.Cleanup(func() { _ = Close() })
}

func seedConversation(t *testing.T, id string, participants ...string) models.Conversation {
	t.Helper()
	now := time.Now().UTC().UnixNano()
	c := models.Conversation{ID: id, Participants: participants, CreatedTS: now, UpdatedTS: now}
	require.NoError(t, SaveConversation(c))
	return c
}

func seedMessage(t *testing.T, conv, id, content string, ts int64) models.Message {
	t.Helper()
	m := models.Message{ID: id, Conversation: conv, Sender: "alice", Content: content, Kind: models.KindText, CreatedTS: ts}
	require.NoError(t, SaveMessage(m))
	return m
}

func TestConversationRoundTrip(t *testing.T) {
	openTestStore(t)
	seedConversation(t, "c1", "alice", "bob")

	got, err := GetConversation("c1")
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, got.Participants)

	_, err = GetConversation("missing")
	require.True(t, faults.Is(err, faults.NotFound))

	ids, err := ListConversationIDs("alice")
	require.NoError(t, err)
	require.Equal(t, []string{"c1"}, ids)
}

func TestUpdateConversationApplied(t *testing.T) {
	openTestStore(t)
	seedConversation(t, "c1", "alice", "bob")

	updated, err := UpdateConversation("c1", func(c *models.Conversation) error {
		c.GroupName = "renamed"
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "renamed", updated.GroupName)

	// callback errors must not persist partial state
	_, err = UpdateConversation("c1", func(c *models.Conversation) error {
		c.GroupName = "should not stick"
		return faults.New(faults.Forbidden, "nope")
	})
	require.True(t, faults.Is(err, faults.Forbidden))
	got, err := GetConversation("c1")
	require.NoError(t, err)
	require.Equal(t, "renamed", got.GroupName)
}

func TestDirectIndex(t *testing.T) {
	openTestStore(t)

	_, ok, err := FindDirect("alice", "bob")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, SaveDirectIndex("alice", "bob", "c1"))

	// lookup order must not matter
	id, ok, err := FindDirect("bob", "alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "c1", id)
}

func TestMessagePagePagination(t *testing.T) {
	openTestStore(t)
	seedConversation(t, "c1", "alice", "bob")

	base := time.Now().UTC().UnixNano()
	for i := 0; i < 45; i++ {
		seedMessage(t, "c1", fmt.Sprintf("m%02d", i), fmt.Sprintf("message %d", i), base+int64(i)*int64(time.Millisecond))
	}

	page1, total, err := MessagePage("c1", 0, 0, 0, 20)
	require.NoError(t, err)
	require.Equal(t, 45, total)
	require.Len(t, page1, 20)
	// newest first
	require.Equal(t, "m44", page1[0].ID)
	require.Equal(t, "m25", page1[19].ID)

	page3, total, err := MessagePage("c1", 0, 0, 40, 20)
	require.NoError(t, err)
	require.Equal(t, 45, total)
	require.Len(t, page3, 5)
	require.Equal(t, "m00", page3[4].ID)
}

func TestMessagePageClearedAndBefore(t *testing.T) {
	openTestStore(t)
	seedConversation(t, "c1", "alice", "bob")

	base := time.Now().UTC().UnixNano()
	for i := 0; i < 10; i++ {
		seedMessage(t, "c1", fmt.Sprintf("m%d", i), "x", base+int64(i)*int64(time.Second))
	}

	// cleared cursor hides everything at or before it
	msgs, total, err := MessagePage("c1", base+4*int64(time.Second), 0, 0, 50)
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Equal(t, "m9", msgs[0].ID)
	require.Equal(t, "m5", msgs[4].ID)

	// before cursor excludes newer messages
	msgs, total, err = MessagePage("c1", 0, base+3*int64(time.Second), 0, 50)
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Equal(t, "m2", msgs[0].ID)
}

func TestMessageByIDAndUpdate(t *testing.T) {
	openTestStore(t)
	seedConversation(t, "c1", "alice", "bob")
	seedMessage(t, "c1", "m1", "hello", time.Now().UTC().UnixNano())

	got, err := GetMessage("m1")
	require.NoError(t, err)
	require.Equal(t, "hello", got.Content)

	updated, err := UpdateMessage("m1", func(m *models.Message) error {
		m.Content = "edited"
		m.IsEdited = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, updated.IsEdited)

	got, err = GetMessage("m1")
	require.NoError(t, err)
	require.Equal(t, "edited", got.Content)

	_, err = GetMessage("missing")
	require.True(t, faults.Is(err, faults.NotFound))
}

func TestDeleteMessageRemovesIndexes(t *testing.T) {
	openTestStore(t)
	seedConversation(t, "c1", "alice", "bob")
	now := time.Now().UTC().UnixNano()
	m := models.Message{ID: "m1", Conversation: "c1", Sender: "alice", Content: "bye", Kind: models.KindText, CreatedTS: now, ExpiresAt: now + int64(time.Hour)}
	require.NoError(t, SaveMessage(m))

	require.NoError(t, DeleteMessage("m1"))
	_, err := GetMessage("m1")
	require.True(t, faults.Is(err, faults.NotFound))

	refs, err := ExpiredBefore(now + 2*int64(time.Hour))
	require.NoError(t, err)
	require.Empty(t, refs)

	_, total, err := MessagePage("c1", 0, 0, 0, 10)
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestExpiredBefore(t *testing.T) {
	openTestStore(t)
	seedConversation(t, "c1", "alice", "bob")
	now := time.Now().UTC().UnixNano()

	past := models.Message{ID: "m1", Conversation: "c1", Sender: "alice", Content: "old", Kind: models.KindText, CreatedTS: now - int64(time.Hour), ExpiresAt: now - int64(time.Minute)}
	future := models.Message{ID: "m2", Conversation: "c1", Sender: "alice", Content: "new", Kind: models.KindText, CreatedTS: now, ExpiresAt: now + int64(time.Hour)}
	require.NoError(t, SaveMessage(past))
	require.NoError(t, SaveMessage(future))

	refs, err := ExpiredBefore(now)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	require.Equal(t, "m1", refs[0].MsgID)
	require.Equal(t, "c1", refs[0].Conversation)
}

func TestThreadPage(t *testing.T) {
	openTestStore(t)
	seedConversation(t, "c1", "alice", "bob")
	base := time.Now().UTC().UnixNano()
	seedMessage(t, "c1", "parent", "root", base)
	for i := 0; i < 5; i++ {
		m := models.Message{ID: fmt.Sprintf("r%d", i), Conversation: "c1", Sender: "bob", Content: "reply", Kind: models.KindText, ThreadID: "parent", CreatedTS: base + int64(i+1)*int64(time.Second)}
		require.NoError(t, SaveMessage(m))
	}

	replies, total, err := ThreadPage("c1", "parent", 0, 3)
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Len(t, replies, 3)
	// oldest first
	require.Equal(t, "r0", replies[0].ID)
}

func TestLatestMessage(t *testing.T) {
	openTestStore(t)
	seedConversation(t, "c1", "alice", "bob")

	_, ok, err := LatestMessage("c1")
	require.NoError(t, err)
	require.False(t, ok)

	base := time.Now().UTC().UnixNano()
	seedMessage(t, "c1", "m1", "first", base)
	seedMessage(t, "c1", "m2", "second", base+int64(time.Second))

	latest, ok, err := LatestMessage("c1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "m2", latest.ID)
}

func TestSearchMessages(t *testing.T) {
	openTestStore(t)
	seedConversation(t, "c1", "alice", "bob")
	base := time.Now().UTC().UnixNano()
	seedMessage(t, "c1", "m1", "the quick brown fox", base)
	seedMessage(t, "c1", "m2", "lazy dog", base+1)
	deleted := models.Message{ID: "m3", Conversation: "c1", Sender: "alice", Content: "quick quick", Kind: models.KindDeleted, CreatedTS: base + 2}
	require.NoError(t, SaveMessage(deleted))

	got, err := SearchMessages("c1", "QUICK", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "m1", got[0].ID)
}

func TestClearHistoryCursor(t *testing.T) {
	openTestStore(t)

	ts, err := GetClearHistory("alice", "c1")
	require.NoError(t, err)
	require.Zero(t, ts)

	require.NoError(t, SetClearHistory("alice", "c1", 12345))
	ts, err = GetClearHistory("alice", "c1")
	require.NoError(t, err)
	require.EqualValues(t, 12345, ts)
}

func TestUpdateUserCreatesDefaults(t *testing.T) {
	openTestStore(t)

	u, err := UpdateUser("alice", func(u *models.User) error {
		u.IsOnline = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, u.IsOnline)
	require.True(t, u.Notifications.Messages)
	require.True(t, u.Notifications.Enabled("group_messages"))
}

func TestActivityAppendAndList(t *testing.T) {
	openTestStore(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, AppendActivity(models.ActivityEntry{
			User: "alice", Action: models.ActionMessageSend,
			TS: time.Now().UTC().UnixNano() + int64(i),
		}))
	}
	entries, err := ListActivity("alice", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestEnsureDirectSerializesCreation(t *testing.T) {
	openTestStore(t)

	build := func() models.Conversation {
		now := time.Now().UTC().UnixNano()
		return models.Conversation{
			ID:           fmt.Sprintf("conv-%d", now),
			Participants: []string{"alice", "bob"},
			CreatedTS:    now,
			UpdatedTS:    now,
		}
	}

	first, created, err := EnsureDirect("alice", "bob", build)
	require.NoError(t, err)
	require.True(t, created)

	// either ordering of the pair resolves to the existing record
	second, created, err := EnsureDirect("bob", "alice", build)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, second.ID)
}

func TestConnectionPairRoundTrip(t *testing.T) {
	openTestStore(t)

	_, err := UpdateConnectionPair("alice", "bob", func(c *models.Connection, exists bool) error {
		require.False(t, exists)
		*c = models.Connection{Requester: "alice", Recipient: "bob", Status: models.ConnectionPending}
		return nil
	})
	require.NoError(t, err)

	// the pair key is unordered
	got, ok, err := GetConnection("bob", "alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "alice", got.Requester)

	// a mutator error aborts without writing
	_, err = UpdateConnectionPair("bob", "alice", func(c *models.Connection, exists bool) error {
		require.True(t, exists)
		c.Status = models.ConnectionAccepted
		return fmt.Errorf("abort")
	})
	require.Error(t, err)
	got, _, err = GetConnection("alice", "bob")
	require.NoError(t, err)
	require.Equal(t, models.ConnectionPending, got.Status)

	// both sides list the connection, deletion clears both indexes
	for _, u := range []string{"alice", "bob"} {
		conns, err := ListConnections(u)
		require.NoError(t, err)
		require.Len(t, conns, 1)
	}
	require.NoError(t, DeleteConnection("bob", "alice"))
	for _, u := range []string{"alice", "bob"} {
		conns, err := ListConnections(u)
		require.NoError(t, err)
		require.Empty(t, conns)
	}
}
