package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Server records land settled.
func TestSyncFromServer_UpsertsAbsentRecord(t *testing.T) {
	ctx := context.Background()
	e, _, clock := setupTestEngine(t)

	res, err := e.SyncFromServer(ctx, "c1", staticLister(map[string][]Record{
		"c1": {{ID: "s1", ConversationID: "c1", Role: "assistant", Content: "hi", CreatedAt: clock.Now().UnixMilli()}},
	}))
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Fetched: 1, Merged: 1}, res)

	got, err := e.List(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "s1", got[0].ID)
	assert.False(t, got[0].Pending)
	assert.Nil(t, got[0].Error)
}

func TestSyncFromServer_ForcesSettledState(t *testing.T) {
	ctx := context.Background()
	e, _, _ := setupTestEngine(t)

	_, err := e.SyncFromServer(ctx, "c1", staticLister(map[string][]Record{
		"c1": {{ID: "s1", ConversationID: "c1", CreatedAt: 1, Pending: true, Error: strPtr("server junk")}},
	}))
	require.NoError(t, err)

	got, err := e.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, got.Pending)
	assert.Nil(t, got.Error)
}

func TestSyncFromServer_Defaults(t *testing.T) {
	ctx := context.Background()
	e, _, clock := setupTestEngine(t)

	_, err := e.SyncFromServer(ctx, "c1", staticLister(map[string][]Record{
		"c1": {{ID: "s1", Content: "no metadata"}},
	}))
	require.NoError(t, err)

	got, err := e.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ConversationID)
	assert.Equal(t, clock.Now().UnixMilli(), got.CreatedAt)
}

func TestSyncFromServer_SkipsRecordsWithoutID(t *testing.T) {
	ctx := context.Background()
	e, _, _ := setupTestEngine(t)

	res, err := e.SyncFromServer(ctx, "c1", staticLister(map[string][]Record{
		"c1": {{Content: "anonymous"}, {ID: "s1", CreatedAt: 1}},
	}))
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Fetched: 2, Merged: 1, Skipped: 1}, res)
}

func TestSyncFromServer_KeepsLocalOnlyPending(t *testing.T) {
	ctx := context.Background()
	e, _, _ := setupTestEngine(t)

	_, err := e.AddLocalPending(ctx, Record{ID: "m2", ConversationID: "c1", CreatedAt: 2})
	require.NoError(t, err)

	_, err = e.SyncFromServer(ctx, "c1", staticLister(map[string][]Record{
		"c1": {{ID: "s1", CreatedAt: 1}},
	}))
	require.NoError(t, err)

	got, err := e.List(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "s1", got[0].ID)
	assert.Equal(t, "m2", got[1].ID)
	assert.True(t, got[1].Pending)
}

func TestSyncFromServer_ServerWinsOverwritesPending(t *testing.T) {
	ctx := context.Background()
	e, _, _ := setupTestEngine(t)

	_, err := e.AddLocalPending(ctx, Record{ID: "m1", ConversationID: "c1", Content: "local edit", CreatedAt: 1})
	require.NoError(t, err)

	res, err := e.SyncFromServer(ctx, "c1", staticLister(map[string][]Record{
		"c1": {{ID: "m1", Content: "server copy", CreatedAt: 1}},
	}))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Merged)

	got, err := e.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "server copy", got.Content)
	assert.False(t, got.Pending)
}

func TestSyncFromServer_KeepPendingPolicy(t *testing.T) {
	ctx := context.Background()
	e, _, _ := setupTestEngine(t, WithConflictPolicy(PolicyKeepPending))

	_, err := e.AddLocalPending(ctx, Record{ID: "m1", ConversationID: "c1", Content: "local edit", CreatedAt: 1})
	require.NoError(t, err)
	_, err = e.AddLocalPending(ctx, Record{ID: "m2", ConversationID: "c1", Content: "settled", CreatedAt: 2})
	require.NoError(t, err)
	require.NoError(t, e.MarkConfirmed(ctx, "m2"))

	res, err := e.SyncFromServer(ctx, "c1", staticLister(map[string][]Record{
		"c1": {
			{ID: "m1", Content: "server copy", CreatedAt: 1},
			{ID: "m2", Content: "server m2", CreatedAt: 2},
		},
	}))
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Fetched: 2, Merged: 1, Skipped: 1}, res)

	m1, err := e.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "local edit", m1.Content)
	assert.True(t, m1.Pending)

	m2, err := e.Get(ctx, "m2")
	require.NoError(t, err)
	assert.Equal(t, "server m2", m2.Content)
}

func TestSyncFromServer_FetchFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	e, _, _ := setupTestEngine(t)

	_, err := e.AddLocalPending(ctx, Record{ID: "m1", ConversationID: "c1", CreatedAt: 1})
	require.NoError(t, err)

	res, err := e.SyncFromServer(ctx, "c1", failingLister)
	require.ErrorIs(t, err, errServerDown)
	assert.Equal(t, SyncResult{}, res)

	got, err := e.List(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Pending)
}

func TestSyncFromServer_EmptyResponse(t *testing.T) {
	ctx := context.Background()
	e, _, _ := setupTestEngine(t)

	res, err := e.SyncFromServer(ctx, "c1", staticLister(nil))
	require.NoError(t, err)
	assert.Equal(t, SyncResult{}, res)

	got, err := e.List(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSyncFromServer_ThenFlushConfirmsAlreadyMerged(t *testing.T) {
	ctx := context.Background()
	e, _, _ := setupTestEngine(t)

	_, err := e.AddLocalPending(ctx, Record{ID: "m1", ConversationID: "c1", Content: "hello", CreatedAt: 1})
	require.NoError(t, err)

	_, err = e.SyncFromServer(ctx, "c1", staticLister(map[string][]Record{
		"c1": {{ID: "m1", Content: "hello", CreatedAt: 1}},
	}))
	require.NoError(t, err)

	res, err := e.Flush(ctx, newScriptedSender(SendResult{OK: true}).send)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Confirmed)

	got, err := e.List(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got, 1)
}
