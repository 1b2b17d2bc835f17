package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatrixx/pkg/faults"
	"chatrixx/pkg/models"
	"chatrixx/pkg/store"
)

func openTestStore(t *testing.T) {
	t.Helper()
	require.NoError(t, store.Open(t.TempDir()))
	t.Cleanup(func() { _ = store.Close() })
}

func TestRunOnceDeletesExpired(t *testing.T) {
	openTestStore(t)
	now := time.Now().UTC().UnixNano()

	conv := models.Conversation{ID: "c1", Participants: []string{"alice", "bob"}, CreatedTS: now, UpdatedTS: now}
	require.NoError(t, store.SaveConversation(conv))

	expired := models.Message{ID: "m1", Conversation: "c1", Sender: "alice", Content: "gone", Kind: models.KindText, CreatedTS: now - int64(2*time.Hour), ExpiresAt: now - int64(time.Hour)}
	alive := models.Message{ID: "m2", Conversation: "c1", Sender: "alice", Content: "still here", Kind: models.KindText, CreatedTS: now - int64(time.Hour), ExpiresAt: now + int64(time.Hour)}
	require.NoError(t, store.SaveMessage(expired))
	require.NoError(t, store.SaveMessage(alive))

	swept, err := RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, swept)

	_, err = store.GetMessage("m1")
	require.True(t, faults.Is(err, faults.NotFound))
	_, err = store.GetMessage("m2")
	require.NoError(t, err)

	// a second pass finds nothing
	swept, err = RunOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, swept)
}

func TestRunOnceRepairsSnapshot(t *testing.T) {
	openTestStore(t)
	now := time.Now().UTC().UnixNano()

	conv := models.Conversation{
		ID: "c1", Participants: []string{"alice", "bob"},
		LastMessage: &models.LastMessage{ID: "m2", Sender: "alice", Preview: "newest", Kind: models.KindText, TS: now},
		CreatedTS:   now, UpdatedTS: now,
	}
	require.NoError(t, store.SaveConversation(conv))

	older := models.Message{ID: "m1", Conversation: "c1", Sender: "alice", Content: "older", Kind: models.KindText, CreatedTS: now - int64(time.Minute)}
	newest := models.Message{ID: "m2", Conversation: "c1", Sender: "alice", Content: "newest", Kind: models.KindText, CreatedTS: now, ExpiresAt: now - int64(time.Second)}
	require.NoError(t, store.SaveMessage(older))
	require.NoError(t, store.SaveMessage(newest))

	swept, err := RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, swept)

	got, err := store.GetConversation("c1")
	require.NoError(t, err)
	require.NotNil(t, got.LastMessage)
	require.Equal(t, "m1", got.LastMessage.ID)
}

func TestRunOnceEmptiesConversation(t *testing.T) {
	openTestStore(t)
	now := time.Now().UTC().UnixNano()

	conv := models.Conversation{
		ID: "c1", Participants: []string{"alice", "bob"},
		LastMessage: &models.LastMessage{ID: "m1", Sender: "alice", Preview: "only", Kind: models.KindText, TS: now},
		CreatedTS:   now, UpdatedTS: now,
	}
	require.NoError(t, store.SaveConversation(conv))
	only := models.Message{ID: "m1", Conversation: "c1", Sender: "alice", Content: "only", Kind: models.KindText, CreatedTS: now, ExpiresAt: now - int64(time.Second)}
	require.NoError(t, store.SaveMessage(only))

	_, err := RunOnce(context.Background())
	require.NoError(t, err)

	got, err := store.GetConversation("c1")
	require.NoError(t, err)
	require.Nil(t, got.LastMessage)
}

func TestStartRejectsBadCron(t *testing.T) {
	_, err := Start(context.Background(), true, "not a cron")
	require.Error(t, err)

	cancel, err := Start(context.Background(), false, "")
	require.NoError(t, err)
	cancel()
}
