// Package store provides SQLite-backed durable storage for the chatsync client.
//
// The store is a small document database:
//   - Tables hold JSON documents keyed by a JSON field (the primary key)
//   - Secondary indexes are SQLite expression indexes over json_extract
//   - Multi-table writes run inside one transaction via Store.Update
//   - A separate kv table models the browser's key/value storage
//
// # Tables
//
//	messages:      key=id,     indexes=[conversationId, pending]
//	conversations: key=id,     indexes=[userId, status]
//	subscriptions: key=userId, indexes=[tier, lastSynced]
//
// # Schema Versioning
//
// The schema version lives in PRAGMA user_version. Open never migrates and
// never destroys data on its own: an incompatible version is reported as
// StatusSchemaMismatch in the OpenResult. OpenOrReset implements the
// operational policy of dropping the database files and starting over.
//
// # Deterministic Query Results
//
// All multi-row reads are ordered by key COLLATE BINARY so repeated reads of
// the same data return the same order.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Two drivers are supported: "sqlite3" (mattn/go-sqlite3, cgo) and
// "sqlite" (modernc.org/sqlite, pure Go).
package store
