// Package outbox implements the pending-operation queue: an in-memory,
// keyed, at-least-once delivery queue of outbound work.
//
// The queue never decides whether an item was delivered. Flush hands each
// item to a sender, and the sender's side effects (typically Remove) decide
// what stays queued. Nothing here survives a restart; owners rebuild the
// queue from durable state.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrFlushInProgress is returned when Flush is called while another
	// Flush on the same queue has not returned yet.
	ErrFlushInProgress = errors.New("outbox: flush already in progress")

	// ErrClosed is returned by Flush after Close.
	ErrClosed = errors.New("outbox: closed")
)

// Item is one queued operation. Seq is assigned by Enqueue and grows
// monotonically, so a later item for the same key has a larger Seq.
type Item[T any] struct {
	Key     string
	Seq     uint64
	Payload T
}

// Sender delivers one item. A returned error aborts the flush.
type Sender[T any] func(ctx context.Context, item Item[T]) error

// Queue is a thread-safe keyed queue.
//
// Duplicate keys are allowed; deduplication is the caller's business.
// Flush is sequential and refuses to run concurrently with itself, since
// interleaved flushes could deliver the same item twice.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []Item[T]
	seq      uint64
	closed   bool
	flushing bool
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{
		items: make([]Item[T], 0, 64), // Pre-allocate for typical workloads
	}
}

// Enqueue adds an item to the back of the queue.
// Returns false if the queue is closed.
func (q *Queue[T]) Enqueue(key string, payload T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.seq++
	q.items = append(q.items, Item[T]{Key: key, Seq: q.seq, Payload: payload})
	return true
}

// Flush calls send for each item queued at the time of the call, in enqueue
// order, waiting for each call to return before starting the next.
//
// Items enqueued during the flush wait for the next one. Items are never
// removed or re-queued by Flush itself.
func (q *Queue[T]) Flush(ctx context.Context, send Sender[T]) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if q.flushing {
		q.mu.Unlock()
		return ErrFlushInProgress
	}
	q.flushing = true
	snapshot := make([]Item[T], len(q.items))
	copy(snapshot, q.items)
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.flushing = false
		q.mu.Unlock()
	}()

	for _, item := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := send(ctx, item); err != nil {
			return fmt.Errorf("flush %q: %w", item.Key, err)
		}
	}
	return nil
}

// Remove drops every item with the given key and returns how many were removed.
func (q *Queue[T]) Remove(key string) int {
	return q.removeWhere(func(item Item[T]) bool { return item.Key == key })
}

// RemoveThrough drops the items with the given key whose Seq is at most seq.
// Later items for the key stay queued.
func (q *Queue[T]) RemoveThrough(key string, seq uint64) int {
	return q.removeWhere(func(item Item[T]) bool { return item.Key == key && item.Seq <= seq })
}

// LastSeq returns the Seq of the newest item with the given key.
func (q *Queue[T]) LastSeq(key string) (uint64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var last uint64
	found := false
	for _, item := range q.items {
		if item.Key == key && item.Seq > last {
			last = item.Seq
			found = true
		}
	}
	return last, found
}

func (q *Queue[T]) removeWhere(match func(Item[T]) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.items[:0]
	removed := 0
	for _, item := range q.items {
		if match(item) {
			removed++
			continue
		}
		kept = append(kept, item)
	}

	// Zero the tail so the backing array does not pin removed payloads.
	var zero Item[T]
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = zero
	}
	q.items = kept
	return removed
}

// Contains reports whether at least one item has the key.
func (q *Queue[T]) Contains(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, item := range q.items {
		if item.Key == key {
			return true
		}
	}
	return false
}

// Keys returns the keys of all queued items in enqueue order.
func (q *Queue[T]) Keys() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	keys := make([]string, len(q.items))
	for i, item := range q.items {
		keys[i] = item.Key
	}
	return keys
}

// Size returns the current queue length.
func (q *Queue[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops the queue from accepting new items or flushing.
// Queued items are kept so Keys and Size stay accurate.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}
