package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/chatsync/internal/bus"
	"github.com/roach88/chatsync/internal/entitlement"
	"github.com/roach88/chatsync/internal/metrics"
	"github.com/roach88/chatsync/internal/store"
)

// Invalidation targets, as reported and counted.
const (
	TargetMemory = "memory"
	TargetKV     = "kv"
	TargetStore  = "store"
)

// MemoryCache is an in-memory cache holding per-user tier state.
// *entitlement.Service implements it.
type MemoryCache interface {
	InvalidateMemory(userID string) int
}

// TierSource fetches a fresh tier. *entitlement.Service implements it.
type TierSource interface {
	Refresh(ctx context.Context, userID string) (entitlement.Tier, error)
}

// InvalidationReport lists what one invalidation cleared.
type InvalidationReport struct {
	UserID      string   `json:"userId"`
	MemoryItems int      `json:"memoryItems"`
	KVKeys      []string `json:"kvKeys"`
	StoreRows   int      `json:"storeRows"`
	Failed      []string `json:"failed,omitempty"`
}

// OK reports whether every target was cleared.
func (r InvalidationReport) OK() bool {
	return len(r.Failed) == 0
}

// Broadcaster clears tier caches and notifies peers.
//
// Thread-safety: all methods are safe for concurrent use. Local listeners
// are called synchronously, on the goroutine that raised the notification.
type Broadcaster struct {
	store    *store.Store
	bus      bus.Bus
	tiers    TierSource
	memory   []MemoryCache
	topic    string
	patterns []string
	origin   string
	now      func() time.Time
	logger   *slog.Logger
	metrics  *metrics.Sync

	mu        sync.Mutex
	listeners map[int]func(TierChanged)
	nextID    int
	sub       bus.Subscription
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithMemoryCache adds an in-memory cache to clear on invalidation.
func WithMemoryCache(c MemoryCache) Option {
	return func(b *Broadcaster) {
		if c != nil {
			b.memory = append(b.memory, c)
		}
	}
}

// WithTierSource sets the source ForceRefresh fetches from.
func WithTierSource(t TierSource) Option {
	return func(b *Broadcaster) {
		b.tiers = t
	}
}

// WithTopic overrides DefaultTopic.
func WithTopic(topic string) Option {
	return func(b *Broadcaster) {
		if topic != "" {
			b.topic = topic
		}
	}
}

// WithKeyPatterns overrides DefaultKeyPatterns.
func WithKeyPatterns(patterns []string) Option {
	return func(b *Broadcaster) {
		if len(patterns) > 0 {
			b.patterns = patterns
		}
	}
}

// WithOrigin sets the instance id stamped on published messages.
// Default: a random UUID.
func WithOrigin(origin string) Option {
	return func(b *Broadcaster) {
		if origin != "" {
			b.origin = origin
		}
	}
}

// WithNow sets the time source for message timestamps.
func WithNow(now func() time.Time) Option {
	return func(b *Broadcaster) {
		if now != nil {
			b.now = now
		}
	}
}

// WithLogger sets the broadcaster logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broadcaster) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithMetrics records invalidations and broadcasts on m.
func WithMetrics(m *metrics.Sync) Option {
	return func(b *Broadcaster) {
		b.metrics = m
	}
}

// New creates a Broadcaster over a store and bus. Call Start to receive
// peer messages.
func New(s *store.Store, b bus.Bus, opts ...Option) *Broadcaster {
	br := &Broadcaster{
		store:     s,
		bus:       b,
		topic:     DefaultTopic,
		patterns:  DefaultKeyPatterns,
		origin:    uuid.NewString(),
		now:       time.Now,
		logger:    slog.Default(),
		listeners: make(map[int]func(TierChanged)),
	}
	for _, opt := range opts {
		opt(br)
	}
	br.logger = br.logger.With("component", "broadcast", "origin", br.origin)
	return br
}

// Origin returns this instance's id.
func (b *Broadcaster) Origin() string {
	return b.origin
}

// InvalidateUserTier clears every tier-derived copy for userID. Failures
// are logged at warn and listed in the report.
func (b *Broadcaster) InvalidateUserTier(ctx context.Context, userID string) InvalidationReport {
	uid := entitlement.NormalizeUserID(userID)
	report := InvalidationReport{UserID: uid, KVKeys: []string{}}

	var mu sync.Mutex
	fail := func(target string, err error) {
		b.logger.Warn("cache invalidation failed", "user", uid, "target", target, "error", err)
		b.metrics.RecordInvalidation(target, err)
		mu.Lock()
		report.Failed = append(report.Failed, target)
		mu.Unlock()
	}

	var g errgroup.Group

	g.Go(func() error {
		n := 0
		for _, c := range b.memory {
			n += c.InvalidateMemory(uid)
		}
		mu.Lock()
		report.MemoryItems = n
		mu.Unlock()
		b.metrics.RecordInvalidation(TargetMemory, nil)
		return nil
	})

	g.Go(func() error {
		removed, err := b.store.KV().RemoveMatching(ctx, ExpandPatterns(b.patterns, uid)...)
		mu.Lock()
		report.KVKeys = append(report.KVKeys, removed...)
		mu.Unlock()
		if err != nil {
			fail(TargetKV, err)
			return nil
		}
		b.metrics.RecordInvalidation(TargetKV, nil)
		return nil
	})

	g.Go(func() error {
		deleted, err := b.store.Delete(ctx, store.TableSubscriptions, uid)
		if err != nil {
			fail(TargetStore, err)
			return nil
		}
		if deleted {
			mu.Lock()
			report.StoreRows = 1
			mu.Unlock()
		}
		b.metrics.RecordInvalidation(TargetStore, nil)
		return nil
	})

	// Every goroutine swallows its own error.
	_ = g.Wait()

	sort.Strings(report.Failed)
	b.logger.Info("tier caches invalidated",
		"user", uid,
		"memory_items", report.MemoryItems,
		"kv_keys", len(report.KVKeys),
		"store_rows", report.StoreRows,
		"failed", report.Failed,
	)
	return report
}

// OnTierChange handles an authoritative tier change: invalidate locally,
// tell peers, then notify local listeners. A publish failure is returned
// after local listeners have been notified.
func (b *Broadcaster) OnTierChange(ctx context.Context, userID string, newTier entitlement.Tier, source string) (InvalidationReport, error) {
	report := b.InvalidateUserTier(ctx, userID)

	ev := TierChanged{
		Type:      TypeTierChanged,
		UserID:    report.UserID,
		NewTier:   newTier,
		Timestamp: b.now().UnixMilli(),
		Source:    source,
		Origin:    b.origin,
	}

	err := b.publish(ctx, ev)
	b.notify(ev)
	return report, err
}

// ForceRefresh invalidates the user's caches and fetches a fresh tier.
func (b *Broadcaster) ForceRefresh(ctx context.Context, userID string) (entitlement.Tier, error) {
	if b.tiers == nil {
		return "", fmt.Errorf("force refresh: no tier source configured")
	}
	b.InvalidateUserTier(ctx, userID)
	tier, err := b.tiers.Refresh(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("force refresh: %w", err)
	}
	return tier, nil
}

// Subscribe registers fn for local notifications and returns a function
// that removes it.
func (b *Broadcaster) Subscribe(fn func(TierChanged)) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.listeners, id)
		})
	}
}

// Start listens for peer messages on the bus. Calling Start twice is a
// no-op.
func (b *Broadcaster) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil {
		return nil
	}

	sub, err := b.bus.Subscribe(b.topic, b.handlePeer)
	if err != nil {
		return fmt.Errorf("start tier listener: %w", err)
	}
	b.sub = sub
	b.logger.Debug("tier listener started", "topic", b.topic)
	return nil
}

// Close stops listening for peer messages. The bus stays open.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	sub := b.sub
	b.sub = nil
	b.mu.Unlock()

	if sub == nil {
		return nil
	}
	return sub.Unsubscribe()
}

func (b *Broadcaster) publish(ctx context.Context, ev TierChanged) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode tier message: %w", err)
	}
	if err := b.bus.Publish(ctx, b.topic, data); err != nil {
		b.logger.Warn("tier broadcast failed", "user", ev.UserID, "error", err)
		return fmt.Errorf("publish tier change: %w", err)
	}
	b.metrics.RecordBroadcast("sent")
	return nil
}

// handlePeer drops this tab's in-memory entries for the user and re-raises
// the change locally. KV and store rows are shared and were already cleared
// by the sender.
func (b *Broadcaster) handlePeer(_ context.Context, data []byte) {
	ev, err := decodeTierChanged(data)
	if err != nil {
		b.logger.Warn("ignoring tier message", "error", err)
		return
	}
	if ev.Origin == b.origin {
		return
	}
	b.metrics.RecordBroadcast("received")
	cleared := 0
	for _, m := range b.memory {
		cleared += m.InvalidateMemory(ev.UserID)
	}
	b.logger.Debug("peer tier change", "user", ev.UserID, "tier", ev.NewTier, "from", ev.Origin, "memory", cleared)
	b.notify(ev)
}

func (b *Broadcaster) notify(ev TierChanged) {
	b.mu.Lock()
	ids := make([]int, 0, len(b.listeners))
	for id := range b.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(TierChanged), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, b.listeners[id])
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
