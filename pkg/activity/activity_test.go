package activity

import (
	"testing"

	"github.com/stretchr/testify/require"

	"chatrixx/pkg/models"
	"chatrixx/pkg/store"
)

func TestRecorderDrainsToStore(t *testing.T) {
	require.NoError(t, store.Open(t.TempDir()))
	t.Cleanup(func() { _ = store.Close() })

	r := NewRecorder(64)
	for i := 0; i < 5; i++ {
		r.Record("alice", models.ActionMessageSend, map[string]any{"n": i})
	}
	// Close drains everything that was accepted
	r.Close()

	entries, err := store.ListActivity("alice", 10)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	require.Equal(t, models.ActionMessageSend, entries[0].Action)
	require.NotZero(t, entries[0].TS)
}

func TestRecordAfterCloseAndNil(t *testing.T) {
	require.NoError(t, store.Open(t.TempDir()))
	t.Cleanup(func() { _ = store.Close() })

	var nilRecorder *Recorder
	nilRecorder.Record("alice", models.ActionMessageSend, nil)
	nilRecorder.Close()

	r := NewRecorder(1)
	r.Close()
	r.Close()
}
