package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScenario_Valid(t *testing.T) {
	data := []byte(`
name: basic
description: one add
policy: keep_pending
steps:
  - add:
      content: hi
  - advance: 2s
  - flush:
      default:
        ok: false
        error: nope
assertions:
  - type: outbox_size
    count: 1
`)
	s, err := ParseScenario(data)
	require.NoError(t, err)

	assert.Equal(t, "basic", s.Name)
	assert.Equal(t, DefaultConversation, s.Conversation)
	assert.Equal(t, "keep_pending", s.Policy)
	require.Len(t, s.Steps, 3)
	assert.Equal(t, OpAdd, s.Steps[0].Op())
	assert.Equal(t, OpAdvance, s.Steps[1].Op())
	require.NotNil(t, s.Steps[2].Flush.Default)
	assert.Equal(t, "nope", s.Steps[2].Flush.Default.Error)
}

func TestParseScenario_Errors(t *testing.T) {
	base := "name: n\ndescription: d\n"
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing name", "description: d\nsteps: [{list: true}]\nassertions: [{type: count, count: 0}]", "name is required"},
		{"missing description", "name: n\nsteps: [{list: true}]\nassertions: [{type: count, count: 0}]", "description is required"},
		{"no steps", base + "assertions: [{type: count, count: 0}]", "steps list is required"},
		{"no assertions", base + "steps: [{list: true}]", "assertions list is required"},
		{"unknown field", base + "step: []", "field step not found"},
		{"bad policy", base + "policy: client_wins\nsteps: [{list: true}]\nassertions: [{type: count, count: 0}]", "unknown policy"},
		{"empty step", base + "steps: [{}]\nassertions: [{type: count, count: 0}]", "exactly one of"},
		{"two ops in one step", base + "steps: [{list: true, restart: true}]\nassertions: [{type: count, count: 0}]", "exactly one of"},
		{"bad duration", base + "steps: [{advance: soon}]\nassertions: [{type: count, count: 0}]", "advance"},
		{"negative duration", base + "steps: [{advance: -1s}]\nassertions: [{type: count, count: 0}]", "must not be negative"},
		{"record without id", base + "steps: [{list: true}]\nassertions: [{type: record, expect: {pending: true}}]", "id is required"},
		{"record without expect", base + "steps: [{list: true}]\nassertions: [{type: record, id: x}]", "expect is required"},
		{"count without count", base + "steps: [{list: true}]\nassertions: [{type: count}]", "count is required"},
		{"negative count", base + "steps: [{list: true}]\nassertions: [{type: outbox_size, count: -1}]", "non-negative"},
		{"order without ids", base + "steps: [{list: true}]\nassertions: [{type: order}]", "ids list is required"},
		{"unknown assertion", base + "steps: [{list: true}]\nassertions: [{type: vibes}]", "unknown assertion type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
