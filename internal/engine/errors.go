package engine

import "errors"

var (
	// ErrRecordNotFound is returned when an operation names an id the store
	// does not hold.
	ErrRecordNotFound = errors.New("record not found")

	// ErrInvalidRecord is returned by AddLocalPending for records that
	// cannot be stored (no conversation id).
	ErrInvalidRecord = errors.New("invalid record")

	// ErrClosed is returned by AddLocalPending after Close. The record is
	// still written as pending and will be picked up by Restore.
	ErrClosed = errors.New("engine closed")
)
