package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPut_Upsert(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, TableMessages, testMessage{ID: "m1", ConversationID: "c1", Content: "first"}))
	require.NoError(t, s.Put(ctx, TableMessages, testMessage{ID: "m1", ConversationID: "c1", Content: "second"}))

	var count int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM messages").Scan(&count))
	assert.Equal(t, 1, count, "exactly one row per key")

	got, err := Get[testMessage](ctx, s, TableMessages, "m1")
	require.NoError(t, err)
	assert.Equal(t, "second", got.Content)
}

func TestPut_MissingKeyRejected(t *testing.T) {
	s := createTestStore(t)

	err := s.Put(context.Background(), TableMessages, map[string]any{"conversationId": "c1"})
	assert.Error(t, err)
}

func TestPut_UnknownTable(t *testing.T) {
	s := createTestStore(t)

	err := s.Put(context.Background(), "nope", testMessage{ID: "m1"})
	assert.True(t, errors.Is(err, ErrUnknownTable))
}

func TestGet_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := Get[testMessage](context.Background(), s, TableMessages, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueryByIndex_Conversation(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, TableMessages, testMessage{ID: "b", ConversationID: "c1"}))
	require.NoError(t, s.Put(ctx, TableMessages, testMessage{ID: "a", ConversationID: "c1"}))
	require.NoError(t, s.Put(ctx, TableMessages, testMessage{ID: "z", ConversationID: "c2"}))

	got, err := QueryByIndex[testMessage](ctx, s, TableMessages, "conversationId", "c1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID, "results ordered by key")
	assert.Equal(t, "b", got[1].ID)
}

func TestQueryByIndex_BooleanIndex(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, TableMessages, testMessage{ID: "m1", ConversationID: "c1", Pending: true}))
	require.NoError(t, s.Put(ctx, TableMessages, testMessage{ID: "m2", ConversationID: "c1", Pending: false}))

	pending, err := QueryByIndex[testMessage](ctx, s, TableMessages, "pending", true)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "m1", pending[0].ID)

	settled, err := QueryByIndex[testMessage](ctx, s, TableMessages, "pending", false)
	require.NoError(t, err)
	require.Len(t, settled, 1)
	assert.Equal(t, "m2", settled[0].ID)
}

func TestQueryByIndex_EmptyNotNil(t *testing.T) {
	s := createTestStore(t)

	got, err := QueryByIndex[testMessage](context.Background(), s, TableMessages, "conversationId", "none")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestQueryByIndex_UnknownIndex(t *testing.T) {
	s := createTestStore(t)

	_, err := QueryByIndex[testMessage](context.Background(), s, TableMessages, "content", "x")
	assert.ErrorIs(t, err, ErrUnknownIndex)
}

func TestDeleteByIndex_PerUser(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, TableSubscriptions, testSubscription{UserID: "alice", Tier: "pro", LastSynced: 10}))
	require.NoError(t, s.Put(ctx, TableSubscriptions, testSubscription{UserID: "bob", Tier: "pro", LastSynced: 10}))

	n, err := s.DeleteByIndex(ctx, TableSubscriptions, "tier", "pro")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.DeleteByIndex(ctx, TableSubscriptions, "tier", "pro")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestDelete(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, TableMessages, testMessage{ID: "m1", ConversationID: "c1"}))

	existed, err := s.Delete(ctx, TableMessages, "m1")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = s.Delete(ctx, TableMessages, "m1")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestUpdate_CommitsAcrossTables(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.Update(ctx, func(tx *Tx) error {
		if err := tx.Put(ctx, TableMessages, testMessage{ID: "m1", ConversationID: "c1"}); err != nil {
			return err
		}
		return tx.Put(ctx, TableSubscriptions, testSubscription{UserID: "alice", Tier: "free"})
	})
	require.NoError(t, err)

	_, err = s.GetRaw(ctx, TableMessages, "m1")
	assert.NoError(t, err)
	_, err = s.GetRaw(ctx, TableSubscriptions, "alice")
	assert.NoError(t, err)
}

func TestUpdate_RollsBackOnError(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Update(ctx, func(tx *Tx) error {
		if err := tx.Put(ctx, TableMessages, testMessage{ID: "m1", ConversationID: "c1"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetRaw(ctx, TableMessages, "m1")
	assert.ErrorIs(t, err, ErrNotFound, "write inside failed tx must not persist")
}

func TestUpdate_ReadsOwnWrites(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.Update(ctx, func(tx *Tx) error {
		if err := tx.Put(ctx, TableMessages, testMessage{ID: "m1", ConversationID: "c1", Content: "hi"}); err != nil {
			return err
		}
		got, err := Get[testMessage](ctx, tx, TableMessages, "m1")
		if err != nil {
			return err
		}
		assert.Equal(t, "hi", got.Content)
		return nil
	})
	require.NoError(t, err)
}
