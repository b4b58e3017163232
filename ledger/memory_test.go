package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertAssignsIDAndPending(t *testing.T) {
	store := NewMemoryStore()

	record, err := store.Insert(context.Background(), Record{
		AgentID: "agent-1",
		Amount:  "0.010000",
		Network: "base",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, record.ID)
	assert.Equal(t, StatusPending, record.Status)
	assert.False(t, record.CreatedAt.IsZero())
}

func TestCloseLifecycle(t *testing.T) {
	store := NewMemoryStore()
	record, err := store.Insert(context.Background(), Record{AgentID: "agent-1"})
	require.NoError(t, err)

	require.NoError(t, store.Close(context.Background(), record.ID, StatusSuccess, "0xabc", ""))

	got, err := store.Get(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, got.Status)
	assert.Equal(t, "0xabc", got.TxHash)
	assert.True(t, !got.UpdatedAt.Before(got.CreatedAt))
}

func TestCloseRejectsNonTerminalStatus(t *testing.T) {
	store := NewMemoryStore()
	record, err := store.Insert(context.Background(), Record{AgentID: "agent-1"})
	require.NoError(t, err)

	err = store.Close(context.Background(), record.ID, StatusPending, "", "")
	require.Error(t, err)
}

func TestCloseUnknownRecord(t *testing.T) {
	store := NewMemoryStore()
	err := store.Close(context.Background(), "missing", StatusFailed, "", "boom")
	require.Error(t, err)
}

func TestListNewestFirstPerAgent(t *testing.T) {
	store := NewMemoryStore()

	older, err := store.Insert(context.Background(), Record{
		AgentID:   "agent-1",
		CreatedAt: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)
	newer, err := store.Insert(context.Background(), Record{AgentID: "agent-1"})
	require.NoError(t, err)
	_, err = store.Insert(context.Background(), Record{AgentID: "agent-2"})
	require.NoError(t, err)

	records, err := store.List(context.Background(), "agent-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, newer.ID, records[0].ID)
	assert.Equal(t, older.ID, records[1].ID)
}
