package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	DriverCGO    = "sqlite3" // github.com/mattn/go-sqlite3
	DriverPureGo = "sqlite"  // modernc.org/sqlite
)

// OpenStatus is the outcome of opening a database file.
type OpenStatus int

const (
	// StatusOpened means the store is ready to use.
	StatusOpened OpenStatus = iota + 1

	// StatusSchemaMismatch means the file carries an incompatible schema
	// version. No store is returned and the file is left untouched.
	StatusSchemaMismatch
)

func (s OpenStatus) String() string {
	switch s {
	case StatusOpened:
		return "opened"
	case StatusSchemaMismatch:
		return "schema_mismatch"
	default:
		return fmt.Sprintf("OpenStatus(%d)", int(s))
	}
}

// OpenResult is returned by Open.
// Store is non-nil only when Status is StatusOpened.
type OpenResult struct {
	Store        *Store
	Status       OpenStatus
	Path         string
	FoundVersion int
	WantVersion  int
}

// Err returns a *SchemaMismatchError for StatusSchemaMismatch, nil otherwise.
func (r OpenResult) Err() error {
	if r.Status == StatusSchemaMismatch {
		return &SchemaMismatchError{Path: r.Path, Found: r.FoundVersion, Want: r.WantVersion}
	}
	return nil
}

// Store provides durable document storage for the sync engine.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db     *sql.DB
	path   string
	driver string
}

type openConfig struct {
	driver string
	logger *slog.Logger
}

// Option configures Open.
type Option func(*openConfig)

// WithDriver selects the database/sql driver (DriverCGO or DriverPureGo).
func WithDriver(name string) Option {
	return func(c *openConfig) {
		if name != "" {
			c.driver = name
		}
	}
}

// WithLogger sets the logger used by OpenOrReset.
func WithLogger(l *slog.Logger) Option {
	return func(c *openConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

func newOpenConfig(opts []Option) *openConfig {
	cfg := &openConfig{driver: DriverCGO, logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Open creates or opens a SQLite database at the given path.
//
// A fresh database gets the current schema. A database already stamped with
// the current version is opened as is. Any other version yields
// StatusSchemaMismatch with a nil error: deciding whether to wipe the file is
// left to the caller (see OpenOrReset).
func Open(ctx context.Context, path string, opts ...Option) (OpenResult, error) {
	cfg := newOpenConfig(opts)
	res := OpenResult{Path: path, WantVersion: currentSchemaVersion}

	db, err := sql.Open(cfg.driver, path)
	if err != nil {
		return res, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return res, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return res, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	version, err := userVersion(ctx, db)
	if err != nil {
		db.Close()
		return res, err
	}
	res.FoundVersion = version

	if version != 0 && version != currentSchemaVersion {
		db.Close()
		res.Status = StatusSchemaMismatch
		return res, nil
	}

	if err := applySchema(ctx, db); err != nil {
		db.Close()
		return res, fmt.Errorf("failed to apply schema: %w", err)
	}

	res.Status = StatusOpened
	res.FoundVersion = currentSchemaVersion
	res.Store = &Store{db: db, path: path, driver: cfg.driver}
	return res, nil
}

// OpenOrReset opens the database and, on a schema mismatch, deletes the
// database files and opens a fresh one. Unsent local data is lost; the
// server copy is expected to be re-synced.
func OpenOrReset(ctx context.Context, path string, opts ...Option) (*Store, error) {
	cfg := newOpenConfig(opts)

	res, err := Open(ctx, path, opts...)
	if err != nil {
		return nil, err
	}
	if res.Status == StatusOpened {
		return res.Store, nil
	}

	cfg.logger.Warn("local store schema mismatch, resetting",
		"path", path,
		"found_version", res.FoundVersion,
		"want_version", res.WantVersion,
	)
	if err := Reset(path); err != nil {
		return nil, fmt.Errorf("reset after schema mismatch: %w", err)
	}

	res, err = Open(ctx, path, opts...)
	if err != nil {
		return nil, err
	}
	if res.Status != StatusOpened {
		return nil, res.Err()
	}
	return res.Store, nil
}

// Reset removes the database file and its WAL side files.
// Missing files are not an error.
func Reset(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}

// Close closes the database connection.
// Should be called when the store is no longer needed.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Driver returns the database/sql driver name in use.
func (s *Store) Driver() string {
	return s.driver
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

func userVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return version, nil
}

// applySchema creates tables and indexes if they don't exist and stamps the
// schema version. This function is idempotent.
func applySchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	stmts := []string{kvDDL}
	for _, t := range Tables {
		stmts = append(stmts, t.ddl()...)
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return tx.Commit()
}

// setUserVersion overwrites the schema version. Used by tests to simulate
// a database written by another build.
func (s *Store) setUserVersion(version int) error {
	_, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", version))
	return err
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
