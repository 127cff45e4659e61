package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/chatsync/internal/metrics"
	"github.com/roach88/chatsync/internal/outbox"
	"github.com/roach88/chatsync/internal/store"
)

// Engine reconciles optimistic local writes with the remote store.
//
// Thread-safety model:
//   - List, AddLocalPending, MarkConfirmed, MarkFailed, SyncFromServer:
//     safe from any goroutine (the store serializes writes)
//   - Flush: one at a time; a concurrent call returns outbox.ErrFlushInProgress
//
// SyncFromServer and Flush may overlap. When both write the same id, the
// last store write wins.
type Engine struct {
	store   *store.Store
	outbox  *outbox.Queue[Record]
	clock   Clock
	ids     IDGenerator
	policy  ConflictPolicy
	logger  *slog.Logger
	metrics *metrics.Sync
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for default CreatedAt values.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithIDGenerator sets the generator for records added without an id.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithConflictPolicy sets how SyncFromServer treats same-id local records.
//
// Default: PolicyServerWins
func WithConflictPolicy(p ConflictPolicy) Option {
	return func(e *Engine) {
		if p.valid() {
			e.policy = p
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics records engine activity on m.
func WithMetrics(m *metrics.Sync) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New creates an Engine over an open store with an empty outbox.
// Call Restore to re-queue pending records left by a previous run.
func New(s *store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  s,
		outbox: outbox.New[Record](),
		clock:  SystemClock{},
		ids:    UUIDv7Generator{},
		policy: PolicyServerWins,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.logger = e.logger.With("component", "engine")
	return e
}

// Policy returns the active conflict policy.
func (e *Engine) Policy() ConflictPolicy {
	return e.policy
}

// List returns the records of a conversation ordered by CreatedAt ascending.
// An unknown conversation yields an empty slice.
func (e *Engine) List(ctx context.Context, conversationID string) ([]Record, error) {
	recs, err := store.QueryByIndex[Record](ctx, e.store, store.TableMessages, "conversationId", conversationID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", conversationID, err)
	}
	sortRecords(recs)
	return recs, nil
}

// Pending returns every record not yet acknowledged by the remote store,
// across all conversations, ordered by CreatedAt.
func (e *Engine) Pending(ctx context.Context) ([]Record, error) {
	recs, err := store.QueryByIndex[Record](ctx, e.store, store.TableMessages, "pending", true)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	sortRecords(recs)
	return recs, nil
}

// Get returns one record by id.
func (e *Engine) Get(ctx context.Context, id string) (Record, error) {
	rec, err := store.Get[Record](ctx, e.store, store.TableMessages, id)
	if errors.Is(err, store.ErrNotFound) {
		return Record{}, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	return rec, err
}

// AddLocalPending stores rec as pending and queues it for delivery.
//
// The store write completes before AddLocalPending returns, so the next
// List includes the record. A missing ID is generated; a zero CreatedAt
// defaults to now. Pending and Error are overwritten.
func (e *Engine) AddLocalPending(ctx context.Context, rec Record) (Record, error) {
	if rec.ConversationID == "" {
		return Record{}, fmt.Errorf("%w: conversation id is required", ErrInvalidRecord)
	}
	if rec.ID == "" {
		rec.ID = e.ids.Generate()
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = e.clock.Now().UnixMilli()
	}
	rec.Pending = true
	rec.Error = nil

	if err := e.store.Put(ctx, store.TableMessages, rec); err != nil {
		return Record{}, fmt.Errorf("add local pending %s: %w", rec.ID, err)
	}

	if !e.outbox.Enqueue(rec.ID, rec) {
		return rec, ErrClosed
	}
	e.metrics.RecordEnqueued()
	e.metrics.SetOutboxSize(e.outbox.Size())

	e.logger.Debug("record queued", "id", rec.ID, "conversation", rec.ConversationID)
	return rec, nil
}

// MarkConfirmed settles a record: Pending=false, Error=nil.
func (e *Engine) MarkConfirmed(ctx context.Context, id string) error {
	_, err := e.confirm(ctx, id, "", nil)
	return err
}

// MarkFailed records a delivery failure: Pending=true, Error=reason.
func (e *Engine) MarkFailed(ctx context.Context, id, reason string) error {
	return e.store.Update(ctx, func(tx *store.Tx) error {
		rec, err := getForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		rec.Pending = true
		rec.Error = &reason
		if err := tx.Put(ctx, store.TableMessages, rec); err != nil {
			return fmt.Errorf("mark failed %s: %w", id, err)
		}
		return nil
	})
}

// confirm settles a record and, when serverID is set and differs, re-keys it.
// Both happen in one transaction so the record is never visible twice or
// not at all. When sent is non-nil the record is settled only if its body
// still matches what was delivered; otherwise errSuperseded is returned.
func (e *Engine) confirm(ctx context.Context, id, serverID string, sent *Record) (remapped bool, err error) {
	err = e.store.Update(ctx, func(tx *store.Tx) error {
		rec, err := getForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if sent != nil && !rec.sameBody(*sent) {
			return errSuperseded
		}
		rec.Pending = false
		rec.Error = nil

		if serverID != "" && serverID != id {
			if _, err := tx.Delete(ctx, store.TableMessages, id); err != nil {
				return fmt.Errorf("remap %s: %w", id, err)
			}
			rec.ID = serverID
			remapped = true
		}

		if err := tx.Put(ctx, store.TableMessages, rec); err != nil {
			return fmt.Errorf("confirm %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return remapped, nil
}

// Restore queues every pending record in the store that is not already in
// the outbox. Returns how many were queued.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	pending, err := e.Pending(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore: %w", err)
	}

	restored := 0
	for _, rec := range pending {
		if e.outbox.Contains(rec.ID) {
			continue
		}
		if !e.outbox.Enqueue(rec.ID, rec) {
			return restored, ErrClosed
		}
		restored++
	}
	e.metrics.SetOutboxSize(e.outbox.Size())

	if restored > 0 {
		e.logger.Info("restored pending records", "count", restored)
	}
	return restored, nil
}

// OutboxSize returns the number of queued deliveries.
func (e *Engine) OutboxSize() int {
	return e.outbox.Size()
}

// PutConversation upserts conversation metadata.
func (e *Engine) PutConversation(ctx context.Context, c Conversation) error {
	if c.UpdatedAt == 0 {
		c.UpdatedAt = e.clock.Now().UnixMilli()
	}
	if err := e.store.Put(ctx, store.TableConversations, c); err != nil {
		return fmt.Errorf("put conversation %s: %w", c.ID, err)
	}
	return nil
}

// ConversationsForUser returns a user's conversations, most recently
// updated first.
func (e *Engine) ConversationsForUser(ctx context.Context, userID string) ([]Conversation, error) {
	convs, err := store.QueryByIndex[Conversation](ctx, e.store, store.TableConversations, "userId", userID)
	if err != nil {
		return nil, fmt.Errorf("conversations for %s: %w", userID, err)
	}
	slices.SortStableFunc(convs, func(a, b Conversation) int {
		if c := cmp.Compare(b.UpdatedAt, a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return convs, nil
}

// Close stops accepting new deliveries. The store is owned by the caller and
// stays open.
func (e *Engine) Close() {
	e.outbox.Close()
}

func getForUpdate(ctx context.Context, tx *store.Tx, id string) (Record, error) {
	rec, err := store.Get[Record](ctx, tx, store.TableMessages, id)
	if errors.Is(err, store.ErrNotFound) {
		return Record{}, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

func sortRecords(recs []Record) {
	slices.SortStableFunc(recs, func(a, b Record) int {
		if c := cmp.Compare(a.CreatedAt, b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
