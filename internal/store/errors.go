package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Get when no document has the key.
	ErrNotFound = errors.New("store: not found")

	// ErrUnknownTable is returned for table names absent from Tables.
	ErrUnknownTable = errors.New("store: unknown table")

	// ErrUnknownIndex is returned for index names not declared on the table.
	ErrUnknownIndex = errors.New("store: unknown index")
)

// SchemaMismatchError reports a database written by an incompatible schema.
type SchemaMismatchError struct {
	Path  string
	Found int
	Want  int
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch in %s: found version %d, want %d", e.Path, e.Found, e.Want)
}
