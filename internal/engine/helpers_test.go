package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/chatsync/internal/store"
	"github.com/roach88/chatsync/internal/testutil"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	res, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.Equal(t, store.StatusOpened, res.Status)
	t.Cleanup(func() { res.Store.Close() })
	return res.Store
}

// setupTestEngine returns an engine over a fresh store with a manual clock
// starting at testutil.DefaultEpoch.
func setupTestEngine(t *testing.T, opts ...Option) (*Engine, *store.Store, *testutil.ManualClock) {
	t.Helper()
	s := setupTestStore(t)
	clock := testutil.NewManualClock(testutil.DefaultEpoch)
	all := append([]Option{WithClock(clock), WithIDGenerator(testutil.NewSequentialIDs("m"))}, opts...)
	e := New(s, all...)
	t.Cleanup(e.Close)
	return e, s, clock
}

// scriptedSender answers each delivery from a per-id script. Ids without a
// script (or with an exhausted one) get the fallback outcome.
type scriptedSender struct {
	mu       sync.Mutex
	scripts  map[string][]sendOutcome
	fallback sendOutcome
	calls    []string
}

type sendOutcome struct {
	result SendResult
	err    error
}

func newScriptedSender(fallback SendResult) *scriptedSender {
	return &scriptedSender{
		scripts:  make(map[string][]sendOutcome),
		fallback: sendOutcome{result: fallback},
	}
}

func (s *scriptedSender) on(id string, res SendResult) *scriptedSender {
	s.scripts[id] = append(s.scripts[id], sendOutcome{result: res})
	return s
}

func (s *scriptedSender) onError(id string, err error) *scriptedSender {
	s.scripts[id] = append(s.scripts[id], sendOutcome{err: err})
	return s
}

func (s *scriptedSender) send(_ context.Context, rec Record) (SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, rec.ID)
	out := s.fallback
	if script := s.scripts[rec.ID]; len(script) > 0 {
		out = script[0]
		s.scripts[rec.ID] = script[1:]
	}
	return out.result, out.err
}

func (s *scriptedSender) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.calls...)
}

// staticLister serves fixed server records per conversation.
func staticLister(records map[string][]Record) ListFn {
	return func(_ context.Context, conversationID string) ([]Record, error) {
		return append([]Record{}, records[conversationID]...), nil
	}
}

var errServerDown = errors.New("server down")

func failingLister(_ context.Context, _ string) ([]Record, error) {
	return nil, errServerDown
}

func strPtr(s string) *string {
	return &s
}
