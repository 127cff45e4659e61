package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/chatsync/internal/engine"
	"github.com/roach88/chatsync/internal/logging"
	"github.com/roach88/chatsync/internal/store"
	"github.com/roach88/chatsync/internal/testutil"
)

// Harness executes one scenario.
type Harness struct {
	scenario *Scenario
	store    *store.Store
	engine   *engine.Engine
	clock    *testutil.ManualClock
	ids      *testutil.SequentialIDs
	logger   *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Step failures the engine reports (a failed fetch, for instance) are
// recorded in the trace; only harness faults are returned as errors.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	res, err := store.Open(ctx, ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	if res.Status != store.StatusOpened {
		return nil, res.Err()
	}
	st := res.Store
	defer st.Close()

	h := &Harness{
		scenario: scenario,
		store:    st,
		clock:    testutil.NewManualClock(testutil.DefaultEpoch),
		ids:      testutil.NewSequentialIDs("local-"),
		logger:   logging.Discard(),
	}
	h.engine = h.newEngine()
	defer func() { h.engine.Close() }()

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.execute(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Op(), err)
		}
	}

	final, err := h.engine.List(ctx, scenario.Conversation)
	if err != nil {
		return nil, fmt.Errorf("failed to read final state: %w", err)
	}
	result.Final = final
	result.OutboxSize = h.engine.OutboxSize()

	actx := &AssertionContext{Ctx: ctx, Engine: h.engine, Conversation: scenario.Conversation}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	return result, nil
}

func (h *Harness) newEngine() *engine.Engine {
	opts := []engine.Option{
		engine.WithClock(h.clock),
		engine.WithIDGenerator(h.ids),
		engine.WithLogger(h.logger),
	}
	if h.scenario.Policy != "" {
		opts = append(opts, engine.WithConflictPolicy(engine.ConflictPolicy(h.scenario.Policy)))
	}
	return engine.New(h.store, opts...)
}

func (h *Harness) execute(ctx context.Context, i int, step Step, result *Result) error {
	switch op := step.Op(); op {
	case OpAdd:
		rec, err := h.engine.AddLocalPending(ctx, engine.Record{
			ID:             step.Add.ID,
			ConversationID: h.conversation(step.Add.Conversation),
			Role:           step.Add.Role,
			Content:        step.Add.Content,
			CreatedAt:      step.Add.CreatedAt,
		})
		result.AddTrace(i, op, rec, err)

	case OpFlush:
		fr, err := h.engine.Flush(ctx, scriptedSender(step.Flush))
		if err != nil {
			return err
		}
		result.AddTrace(i, op, fr, nil)

	case OpSync:
		cid := h.conversation(step.Sync.Conversation)
		sr, err := h.engine.SyncFromServer(ctx, cid, fixedLister(step.Sync))
		result.AddTrace(i, op, sr, err)

	case OpAdvance:
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return err
		}
		now := h.clock.Advance(d)
		result.AddTrace(i, op, now.UnixMilli(), nil)

	case OpRestart:
		h.engine.Close()
		h.engine = h.newEngine()
		n, err := h.engine.Restore(ctx)
		if err != nil {
			return err
		}
		result.AddTrace(i, op, map[string]int{"restored": n}, nil)

	case OpList:
		recs, err := h.engine.List(ctx, h.scenario.Conversation)
		if err != nil {
			return err
		}
		result.AddTrace(i, op, recs, nil)

	default:
		return fmt.Errorf("invalid step")
	}
	return nil
}

func (h *Harness) conversation(override string) string {
	if override != "" {
		return override
	}
	return h.scenario.Conversation
}

func scriptedSender(f *FlushStep) engine.SendFn {
	fallback := Outcome{OK: true}
	if f.Default != nil {
		fallback = *f.Default
	}
	return func(_ context.Context, rec engine.Record) (engine.SendResult, error) {
		out, ok := f.Outcomes[rec.ID]
		if !ok {
			out = fallback
		}
		if out.Raise != "" {
			return engine.SendResult{}, errors.New(out.Raise)
		}
		return engine.SendResult{OK: out.OK, ServerID: out.ServerID, Error: out.Error}, nil
	}
}

func fixedLister(s *SyncStep) engine.ListFn {
	return func(_ context.Context, conversationID string) ([]engine.Record, error) {
		if s.Fail != "" {
			return nil, errors.New(s.Fail)
		}
		recs := make([]engine.Record, 0, len(s.Records))
		for _, r := range s.Records {
			recs = append(recs, engine.Record{
				ID:             r.ID,
				ConversationID: r.Conversation,
				Role:           r.Role,
				Content:        r.Content,
				CreatedAt:      r.CreatedAt,
			})
		}
		return recs, nil
	}
}
