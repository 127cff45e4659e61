// Package entitlement resolves a user's subscription tier and keeps the
// derived copies (memory cache, key/value entry, subscriptions row) in step.
//
// A tier is FRESH from a successful fetch until its expiry; expiry or
// invalidation makes it STALE and the next read refetches.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/chatsync/internal/cache"
	"github.com/roach88/chatsync/internal/store"
)

// Tier is a subscription level such as "free" or "pro".
type Tier string

// Defaults for New.
const (
	DefaultTTL       = 5 * time.Minute
	DefaultCacheSize = 1024
)

// StatusActive is written to subscriptions rows on every successful fetch.
const StatusActive = "active"

// TierFetchFn asks the authoritative service for a user's current tier.
type TierFetchFn func(ctx context.Context, userID string) (Tier, error)

// Subscription is the persisted entitlement row, keyed by UserID.
type Subscription struct {
	UserID     string `json:"userId"`
	Tier       Tier   `json:"tier"`
	Status     string `json:"status"`
	LastSynced int64  `json:"lastSynced"` // Unix milliseconds
	ExpiresAt  int64  `json:"expiresAt"`  // Unix milliseconds
}

// ErrNoSubscription is returned by Persisted for users never fetched.
var ErrNoSubscription = errors.New("no subscription")

// KVKey returns the key/value entry holding the user's last known tier.
func KVKey(userID string) string {
	return "tier:" + NormalizeUserID(userID)
}

// NormalizeUserID folds a user id to NFC so visually identical ids share
// cache entries and storage keys.
func NormalizeUserID(userID string) string {
	return norm.NFC.String(userID)
}

// Service caches tiers in memory and persists them to the local store.
//
// Thread-safety: safe for concurrent use. Two concurrent misses for the
// same user may both fetch; the last write wins.
type Service struct {
	store  *store.Store
	fetch  TierFetchFn
	cache  *cache.Cache[string, Tier]
	now    func() time.Time
	ttl    time.Duration
	logger *slog.Logger
}

type options struct {
	ttl    time.Duration
	size   int
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*options)

// WithTTL sets how long a fetched tier stays fresh.
func WithTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.ttl = d
		}
	}
}

// WithCacheSize bounds the number of users held in memory.
func WithCacheSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.size = n
		}
	}
}

// WithNow sets the time source.
func WithNow(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates a Service. fetch is required.
func New(s *store.Store, fetch TierFetchFn, opts ...Option) (*Service, error) {
	if fetch == nil {
		return nil, errors.New("entitlement: fetch function is required")
	}

	o := options{ttl: DefaultTTL, size: DefaultCacheSize, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	c, err := cache.New[string, Tier](o.size, o.ttl, cache.WithNow(o.now))
	if err != nil {
		return nil, fmt.Errorf("entitlement: %w", err)
	}

	return &Service{
		store:  s,
		fetch:  fetch,
		cache:  c,
		now:    o.now,
		ttl:    o.ttl,
		logger: o.logger.With("component", "entitlement"),
	}, nil
}

// Tier returns the user's tier, from memory while fresh, otherwise from a
// new fetch.
func (s *Service) Tier(ctx context.Context, userID string) (Tier, error) {
	if t, ok := s.cache.Get(NormalizeUserID(userID)); ok {
		return t, nil
	}
	return s.Refresh(ctx, userID)
}

// Refresh fetches the tier regardless of cache state and stores it
// everywhere the service keeps a copy.
func (s *Service) Refresh(ctx context.Context, userID string) (Tier, error) {
	uid := NormalizeUserID(userID)

	tier, err := s.fetch(ctx, uid)
	if err != nil {
		return "", fmt.Errorf("fetch tier for %s: %w", uid, err)
	}

	now := s.now()
	entry := s.cache.Set(uid, tier)

	sub := Subscription{
		UserID:     uid,
		Tier:       tier,
		Status:     StatusActive,
		LastSynced: now.UnixMilli(),
		ExpiresAt:  entry.ExpiresAt.UnixMilli(),
	}
	if err := s.store.Put(ctx, store.TableSubscriptions, sub); err != nil {
		return tier, fmt.Errorf("persist subscription for %s: %w", uid, err)
	}
	if err := s.store.KV().Set(ctx, KVKey(uid), string(tier)); err != nil {
		return tier, fmt.Errorf("persist tier for %s: %w", uid, err)
	}

	s.logger.Debug("tier refreshed", "user", uid, "tier", tier)
	return tier, nil
}

// InvalidateMemory drops the user's in-memory entries and returns how many
// were dropped. Persisted copies are left alone.
func (s *Service) InvalidateMemory(userID string) int {
	uid := NormalizeUserID(userID)
	return s.cache.InvalidateAll(func(k string) bool { return k == uid })
}

// State reports whether Tier would be served from memory.
func (s *Service) State(userID string) cache.State {
	return s.cache.State(NormalizeUserID(userID))
}

// Persisted returns the stored subscription row.
func (s *Service) Persisted(ctx context.Context, userID string) (Subscription, error) {
	uid := NormalizeUserID(userID)
	sub, err := store.Get[Subscription](ctx, s.store, store.TableSubscriptions, uid)
	if errors.Is(err, store.ErrNotFound) {
		return Subscription{}, fmt.Errorf("%w: %s", ErrNoSubscription, uid)
	}
	return sub, err
}

// TTL returns how long fetched tiers stay fresh.
func (s *Service) TTL() time.Duration {
	return s.ttl
}
