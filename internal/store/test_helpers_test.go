package store

import (
	"context"
	"path/filepath"
	"testing"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	res, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if res.Status != StatusOpened {
		t.Fatalf("Open() status = %v, want opened", res.Status)
	}
	t.Cleanup(func() { res.Store.Close() })
	return res.Store
}

// testMessage mirrors the engine's record shape without importing it.
type testMessage struct {
	ID             string  `json:"id"`
	ConversationID string  `json:"conversationId"`
	Content        string  `json:"content"`
	CreatedAt      int64   `json:"createdAt"`
	Pending        bool    `json:"pending"`
	Error          *string `json:"error"`
}

type testSubscription struct {
	UserID     string `json:"userId"`
	Tier       string `json:"tier"`
	LastSynced int64  `json:"lastSynced"`
}
