package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// execQuerier is satisfied by both *sql.DB and *sql.Tx.
type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Reader is implemented by *Store and *Tx. The generic helpers Get and
// QueryByIndex decode through it.
type Reader interface {
	GetRaw(ctx context.Context, table, key string) (json.RawMessage, error)
	QueryRaw(ctx context.Context, table, index string, value any) ([]json.RawMessage, error)
}

// Writer is implemented by *Store and *Tx.
type Writer interface {
	Put(ctx context.Context, table string, doc any) error
	Delete(ctx context.Context, table, key string) (bool, error)
	DeleteByIndex(ctx context.Context, table, index string, value any) (int64, error)
}

// Tx is a transaction spanning any number of tables.
type Tx struct {
	tx *sql.Tx
}

// Update runs fn inside a transaction. The transaction commits if fn returns
// nil and rolls back otherwise.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := fn(&Tx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Put upserts doc into table. The primary key is read from the document's
// key field; a document without it is rejected by the NOT NULL constraint.
func (s *Store) Put(ctx context.Context, table string, doc any) error {
	return put(ctx, s.db, table, doc)
}

// Put upserts doc into table within the transaction.
func (t *Tx) Put(ctx context.Context, table string, doc any) error {
	return put(ctx, t.tx, table, doc)
}

// GetRaw returns the JSON document stored under key.
// Returns ErrNotFound if the key is absent.
func (s *Store) GetRaw(ctx context.Context, table, key string) (json.RawMessage, error) {
	return getRaw(ctx, s.db, table, key)
}

// GetRaw returns the JSON document stored under key within the transaction.
func (t *Tx) GetRaw(ctx context.Context, table, key string) (json.RawMessage, error) {
	return getRaw(ctx, t.tx, table, key)
}

// QueryRaw returns every document whose index field equals value,
// ordered by key. Returns an empty slice (not nil) if nothing matches.
func (s *Store) QueryRaw(ctx context.Context, table, index string, value any) ([]json.RawMessage, error) {
	return queryRaw(ctx, s.db, table, index, value)
}

// QueryRaw is QueryRaw within the transaction.
func (t *Tx) QueryRaw(ctx context.Context, table, index string, value any) ([]json.RawMessage, error) {
	return queryRaw(ctx, t.tx, table, index, value)
}

// Delete removes the document stored under key and reports whether it existed.
func (s *Store) Delete(ctx context.Context, table, key string) (bool, error) {
	return deleteKey(ctx, s.db, table, key)
}

// Delete removes the document stored under key within the transaction.
func (t *Tx) Delete(ctx context.Context, table, key string) (bool, error) {
	return deleteKey(ctx, t.tx, table, key)
}

// DeleteByIndex removes every document whose index field equals value and
// returns the number removed.
func (s *Store) DeleteByIndex(ctx context.Context, table, index string, value any) (int64, error) {
	return deleteByIndex(ctx, s.db, table, index, value)
}

// DeleteByIndex is DeleteByIndex within the transaction.
func (t *Tx) DeleteByIndex(ctx context.Context, table, index string, value any) (int64, error) {
	return deleteByIndex(ctx, t.tx, table, index, value)
}

// Get decodes the document stored under key into a T.
func Get[T any](ctx context.Context, r Reader, table, key string) (T, error) {
	var out T
	raw, err := r.GetRaw(ctx, table, key)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s/%s: %w", table, key, err)
	}
	return out, nil
}

// QueryByIndex decodes every document whose index field equals value.
func QueryByIndex[T any](ctx context.Context, r Reader, table, index string, value any) ([]T, error) {
	raws, err := r.QueryRaw(ctx, table, index, value)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s row: %w", table, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func put(ctx context.Context, q execQuerier, table string, doc any) error {
	t, err := lookupTable(table)
	if err != nil {
		return err
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("put %s: marshal: %w", table, err)
	}

	_, err = q.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (key, doc)
		VALUES (json_extract(?, '$.%s'), ?)
		ON CONFLICT(key) DO UPDATE SET doc = excluded.doc
	`, t.Name, t.Key), string(data), string(data))
	if err != nil {
		return fmt.Errorf("put %s: %w", table, err)
	}
	return nil
}

func getRaw(ctx context.Context, q execQuerier, table, key string) (json.RawMessage, error) {
	t, err := lookupTable(table)
	if err != nil {
		return nil, err
	}

	var doc string
	err = q.QueryRowContext(ctx, fmt.Sprintf(`SELECT doc FROM %s WHERE key = ?`, t.Name), key).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s/%s: %w", table, key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", table, key, err)
	}
	return json.RawMessage(doc), nil
}

func queryRaw(ctx context.Context, q execQuerier, table, index string, value any) ([]json.RawMessage, error) {
	t, err := lookupTable(table)
	if err != nil {
		return nil, err
	}
	if err := t.checkIndex(index); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, fmt.Sprintf(`
		SELECT doc FROM %s
		WHERE %s = ?
		ORDER BY key COLLATE BINARY ASC
	`, t.Name, jsonPath(index)), indexValue(value))
	if err != nil {
		return nil, fmt.Errorf("query %s by %s: %w", table, index, err)
	}
	defer rows.Close()

	docs := []json.RawMessage{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		docs = append(docs, json.RawMessage(doc))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return docs, nil
}

func deleteKey(ctx context.Context, q execQuerier, table, key string) (bool, error) {
	t, err := lookupTable(table)
	if err != nil {
		return false, err
	}

	res, err := q.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, t.Name), key)
	if err != nil {
		return false, fmt.Errorf("delete %s/%s: %w", table, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete %s/%s: rows affected: %w", table, key, err)
	}
	return n > 0, nil
}

func deleteByIndex(ctx context.Context, q execQuerier, table, index string, value any) (int64, error) {
	t, err := lookupTable(table)
	if err != nil {
		return 0, err
	}
	if err := t.checkIndex(index); err != nil {
		return 0, err
	}

	res, err := q.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, t.Name, jsonPath(index)), indexValue(value))
	if err != nil {
		return 0, fmt.Errorf("delete %s by %s: %w", table, index, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete %s by %s: rows affected: %w", table, index, err)
	}
	return n, nil
}

// indexValue maps Go values onto what json_extract yields for them.
// JSON true/false come back from SQLite as integers 1/0.
func indexValue(v any) any {
	if b, ok := v.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	return v
}
