package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/chatsync/internal/engine"
)

// AssertionContext gives assertions read access to the engine.
type AssertionContext struct {
	Ctx          context.Context
	Engine       *engine.Engine
	Conversation string
}

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		if event.Error != "" {
			fmt.Fprintf(&buf, "  [%d] %s error=%s\n", event.Step, event.Op, event.Error)
			continue
		}
		fmt.Fprintf(&buf, "  [%d] %s\n", event.Step, event.Op)
	}

	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	errs := []string{}
	for i, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %s", i, err.Error()))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertRecord:
		return assertRecord(result, a, actx)
	case AssertAbsent:
		return assertAbsent(result, a, actx)
	case AssertCount:
		return assertCount(result, a, actx)
	case AssertOrder:
		return assertOrder(result, a, actx)
	case AssertOutboxSize:
		if result.OutboxSize != *a.Count {
			return &AssertionError{
				Type:     AssertOutboxSize,
				Expected: fmt.Sprintf("%d queued", *a.Count),
				Actual:   fmt.Sprintf("%d queued", result.OutboxSize),
				Trace:    result.Trace,
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertRecord checks the named record's fields (subset match on JSON names).
func assertRecord(result *Result, a Assertion, actx *AssertionContext) error {
	rec, err := actx.Engine.Get(actx.Ctx, a.ID)
	if errors.Is(err, engine.ErrRecordNotFound) {
		return &AssertionError{
			Type:     AssertRecord,
			Expected: fmt.Sprintf("record %s", a.ID),
			Actual:   "not found",
			Trace:    result.Trace,
		}
	}
	if err != nil {
		return err
	}

	got, err := toJSONMap(rec)
	if err != nil {
		return err
	}
	want, err := toJSONMap(a.Expect)
	if err != nil {
		return fmt.Errorf("expect: %w", err)
	}

	keys := make([]string, 0, len(want))
	for k := range want {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		actual, ok := got[k]
		if !ok {
			return &AssertionError{
				Type:     AssertRecord,
				Expected: fmt.Sprintf("%s.%s = %v", a.ID, k, want[k]),
				Actual:   "no such field",
				Trace:    result.Trace,
			}
		}
		if !reflect.DeepEqual(actual, want[k]) {
			return &AssertionError{
				Type:     AssertRecord,
				Expected: fmt.Sprintf("%s.%s = %v", a.ID, k, want[k]),
				Actual:   fmt.Sprintf("%s.%s = %v", a.ID, k, actual),
				Trace:    result.Trace,
			}
		}
	}
	return nil
}

func assertAbsent(result *Result, a Assertion, actx *AssertionContext) error {
	_, err := actx.Engine.Get(actx.Ctx, a.ID)
	if errors.Is(err, engine.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return &AssertionError{
		Type:     AssertAbsent,
		Expected: fmt.Sprintf("no record %s", a.ID),
		Actual:   "present",
		Trace:    result.Trace,
	}
}

func assertCount(result *Result, a Assertion, actx *AssertionContext) error {
	recs, err := actx.Engine.List(actx.Ctx, conversationFor(a, actx))
	if err != nil {
		return err
	}
	if len(recs) != *a.Count {
		return &AssertionError{
			Type:     AssertCount,
			Expected: fmt.Sprintf("%d records", *a.Count),
			Actual:   fmt.Sprintf("%d records %v", len(recs), recordIDs(recs)),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertOrder(result *Result, a Assertion, actx *AssertionContext) error {
	recs, err := actx.Engine.List(actx.Ctx, conversationFor(a, actx))
	if err != nil {
		return err
	}
	ids := recordIDs(recs)
	if !slices.Equal(ids, a.IDs) {
		return &AssertionError{
			Type:     AssertOrder,
			Expected: fmt.Sprintf("%v", a.IDs),
			Actual:   fmt.Sprintf("%v", ids),
			Trace:    result.Trace,
		}
	}
	return nil
}

func conversationFor(a Assertion, actx *AssertionContext) string {
	if a.Conversation != "" {
		return a.Conversation
	}
	return actx.Conversation
}

func recordIDs(recs []engine.Record) []string {
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	return ids
}

// toJSONMap normalizes v through JSON so YAML ints and record int64s
// compare equal.
func toJSONMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
