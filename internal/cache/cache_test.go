package cache

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chatsync/internal/testutil"
)

func newTestCache(t *testing.T, size int) (*Cache[string, string], *testutil.ManualClock) {
	t.Helper()
	clock := testutil.NewManualClock(time.Time{})
	c, err := New[string, string](size, time.Minute, WithNow(clock.Now))
	require.NoError(t, err)
	return c, clock
}

func TestNew_RejectsBadArguments(t *testing.T) {
	_, err := New[string, int](0, time.Minute)
	assert.Error(t, err)

	_, err = New[string, int](8, 0)
	assert.Error(t, err)
}

func TestCache_FreshUntilExpiry(t *testing.T) {
	c, clock := newTestCache(t, 8)

	e := c.Set("tier:alice", "pro")
	assert.Equal(t, clock.Now().Add(time.Minute), e.ExpiresAt)

	v, ok := c.Get("tier:alice")
	require.True(t, ok)
	assert.Equal(t, "pro", v)
	assert.Equal(t, StateFresh, c.State("tier:alice"))

	clock.Advance(59 * time.Second)
	_, ok = c.Get("tier:alice")
	assert.True(t, ok)

	clock.Advance(time.Second)
	assert.Equal(t, StateStale, c.State("tier:alice"))
	_, ok = c.Get("tier:alice")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry evicted on read")
}

func TestCache_SetUntil(t *testing.T) {
	c, clock := newTestCache(t, 8)

	c.SetUntil("k", "v", clock.Now().Add(time.Hour))
	clock.Advance(30 * time.Minute)

	_, ok := c.Get("k")
	assert.True(t, ok)
}

func TestCache_PeekIgnoresExpiry(t *testing.T) {
	c, clock := newTestCache(t, 8)

	c.Set("k", "v")
	clock.Advance(time.Hour)

	e, ok := c.Peek("k")
	require.True(t, ok)
	assert.Equal(t, "v", e.Value)
	assert.False(t, e.Fresh(clock.Now()))
}

func TestCache_InvalidateForcesStale(t *testing.T) {
	c, _ := newTestCache(t, 8)

	c.Set("k", "v")
	assert.True(t, c.Invalidate("k"))
	assert.False(t, c.Invalidate("k"))
	assert.Equal(t, StateStale, c.State("k"))
}

func TestCache_InvalidateAll(t *testing.T) {
	c, _ := newTestCache(t, 8)

	c.Set("alice|tier", "pro")
	c.Set("alice|limits", "100")
	c.Set("bob|tier", "free")

	n := c.InvalidateAll(func(k string) bool { return strings.HasPrefix(k, "alice|") })
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, c.Len())

	_, ok := c.Get("bob|tier")
	assert.True(t, ok)
}

func TestCache_BoundedLRU(t *testing.T) {
	c, _ := newTestCache(t, 2)

	c.Set("a", "1")
	c.Set("b", "2")
	_, _ = c.Get("a")
	c.Set("c", "3")

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("b")
	assert.False(t, ok, "least recently used entry evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
}

func TestCache_Purge(t *testing.T) {
	c, _ := newTestCache(t, 8)

	c.Set("a", "1")
	c.Set("b", "2")
	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "fresh", StateFresh.String())
	assert.Equal(t, "stale", StateStale.String())
}
