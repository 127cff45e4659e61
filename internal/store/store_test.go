package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	res, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer res.Store.Close()

	if res.Status != StatusOpened {
		t.Errorf("status = %v, want %v", res.Status, StatusOpened)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := Open(ctx, path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		if res.Status != StatusOpened {
			t.Fatalf("Open() iteration %d status = %v", i, res.Status)
		}
		res.Store.Close()
	}

	res, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer res.Store.Close()

	tables := []string{"messages", "conversations", "subscriptions", "kv"}
	for _, table := range tables {
		var name string
		err := res.Store.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_CreatesIndexes(t *testing.T) {
	s := createTestStore(t)

	want := []string{
		"idx_messages_conversationId",
		"idx_messages_pending",
		"idx_conversations_userId",
		"idx_conversations_status",
		"idx_subscriptions_tier",
		"idx_subscriptions_lastSynced",
	}
	for _, idx := range want {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='index' AND name=?", idx,
		).Scan(&name)
		if err != nil {
			t.Errorf("index %q not found: %v", idx, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open(context.Background(), "/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestOpen_SchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	res, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := res.Store.setUserVersion(currentSchemaVersion + 1); err != nil {
		t.Fatalf("setUserVersion() failed: %v", err)
	}
	res.Store.Close()

	res, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("Open() returned error for mismatch: %v", err)
	}
	if res.Status != StatusSchemaMismatch {
		t.Fatalf("status = %v, want %v", res.Status, StatusSchemaMismatch)
	}
	if res.Store != nil {
		t.Error("store should be nil on schema mismatch")
	}
	if res.FoundVersion != currentSchemaVersion+1 || res.WantVersion != currentSchemaVersion {
		t.Errorf("versions = (%d, %d)", res.FoundVersion, res.WantVersion)
	}

	var mismatch *SchemaMismatchError
	if !errors.As(res.Err(), &mismatch) {
		t.Fatalf("Err() = %v, want *SchemaMismatchError", res.Err())
	}
	if mismatch.Path != path {
		t.Errorf("mismatch path = %q, want %q", mismatch.Path, path)
	}

	// The file is left untouched
	if _, err := os.Stat(path); err != nil {
		t.Errorf("database file should still exist: %v", err)
	}
}

func TestOpenOrReset_WipesOnMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	res, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := res.Store.Put(ctx, TableMessages, testMessage{ID: "m1", ConversationID: "c1", Pending: true}); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if err := res.Store.setUserVersion(99); err != nil {
		t.Fatalf("setUserVersion() failed: %v", err)
	}
	res.Store.Close()

	s, err := OpenOrReset(ctx, path)
	if err != nil {
		t.Fatalf("OpenOrReset() failed: %v", err)
	}
	defer s.Close()

	_, err = s.GetRaw(ctx, TableMessages, "m1")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRaw() after reset err = %v, want ErrNotFound", err)
	}
}

func TestOpenOrReset_KeepsCompatibleData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s, err := OpenOrReset(ctx, path)
	if err != nil {
		t.Fatalf("OpenOrReset() failed: %v", err)
	}
	if err := s.Put(ctx, TableMessages, testMessage{ID: "m1", ConversationID: "c1"}); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	s.Close()

	s, err = OpenOrReset(ctx, path)
	if err != nil {
		t.Fatalf("second OpenOrReset() failed: %v", err)
	}
	defer s.Close()

	if _, err := s.GetRaw(ctx, TableMessages, "m1"); err != nil {
		t.Errorf("GetRaw() after reopen failed: %v", err)
	}
}

func TestOpen_PureGoDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	res, err := Open(ctx, path, WithDriver(DriverPureGo))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer res.Store.Close()

	if res.Store.Driver() != DriverPureGo {
		t.Errorf("Driver() = %q, want %q", res.Store.Driver(), DriverPureGo)
	}
	if err := res.Store.Put(ctx, TableMessages, testMessage{ID: "m1", ConversationID: "c1", Pending: true}); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	got, err := QueryByIndex[testMessage](ctx, res.Store, TableMessages, "pending", true)
	if err != nil {
		t.Fatalf("QueryByIndex() failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("len = %d, want 1", len(got))
	}
}

func TestReset_MissingFiles(t *testing.T) {
	if err := Reset(filepath.Join(t.TempDir(), "absent.db")); err != nil {
		t.Errorf("Reset() on missing files failed: %v", err)
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestDB_ReturnsUnderlyingConnection(t *testing.T) {
	s := createTestStore(t)

	db := s.DB()
	if db == nil {
		t.Fatal("DB() returned nil")
	}
	if err := db.Ping(); err != nil {
		t.Errorf("DB() connection not usable: %v", err)
	}
}

// Pragma tests

func TestPragma_JournalMode(t *testing.T) {
	s := createTestStore(t)
	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
}

func TestPragma_Synchronous(t *testing.T) {
	s := createTestStore(t)
	// NORMAL = 1
	if err := s.verifyPragma("synchronous", "1"); err != nil {
		t.Error(err)
	}
}

func TestPragma_BusyTimeout(t *testing.T) {
	s := createTestStore(t)
	if err := s.verifyPragma("busy_timeout", "5000"); err != nil {
		t.Error(err)
	}
}

func TestPragma_UserVersion(t *testing.T) {
	s := createTestStore(t)
	if err := s.verifyPragma("user_version", "1"); err != nil {
		t.Error(err)
	}
}

func TestOpenStatus_String(t *testing.T) {
	if StatusOpened.String() != "opened" {
		t.Errorf("StatusOpened = %q", StatusOpened.String())
	}
	if StatusSchemaMismatch.String() != "schema_mismatch" {
		t.Errorf("StatusSchemaMismatch = %q", StatusSchemaMismatch.String())
	}
}
