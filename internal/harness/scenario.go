package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/chatsync/internal/engine"
)

// DefaultConversation is used when a scenario names none.
const DefaultConversation = "c1"

// Scenario defines a sync scenario.
type Scenario struct {
	// Name uniquely identifies this scenario (and its golden file).
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Conversation is the default conversation for steps and assertions.
	Conversation string `yaml:"conversation,omitempty"`

	// Policy is the engine conflict policy; empty means server_wins.
	Policy string `yaml:"policy,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one operation. Exactly one field must be set.
type Step struct {
	Add     *AddStep   `yaml:"add,omitempty"`
	Flush   *FlushStep `yaml:"flush,omitempty"`
	Sync    *SyncStep  `yaml:"sync,omitempty"`
	Advance string     `yaml:"advance,omitempty"`
	Restart bool       `yaml:"restart,omitempty"`
	List    bool       `yaml:"list,omitempty"`
}

// Step operation names, as they appear in traces.
const (
	OpAdd     = "add"
	OpFlush   = "flush"
	OpSync    = "sync"
	OpAdvance = "advance"
	OpRestart = "restart"
	OpList    = "list"
)

// Op returns the operation name, or "" if no field or several are set.
func (s Step) Op() string {
	ops := []string{}
	if s.Add != nil {
		ops = append(ops, OpAdd)
	}
	if s.Flush != nil {
		ops = append(ops, OpFlush)
	}
	if s.Sync != nil {
		ops = append(ops, OpSync)
	}
	if s.Advance != "" {
		ops = append(ops, OpAdvance)
	}
	if s.Restart {
		ops = append(ops, OpRestart)
	}
	if s.List {
		ops = append(ops, OpList)
	}
	if len(ops) != 1 {
		return ""
	}
	return ops[0]
}

// AddStep writes one local record.
type AddStep struct {
	ID           string `yaml:"id,omitempty"`
	Conversation string `yaml:"conversation,omitempty"`
	Role         string `yaml:"role,omitempty"`
	Content      string `yaml:"content"`
	CreatedAt    int64  `yaml:"created_at,omitempty"`
}

// FlushStep scripts the remote store's answers for one flush.
type FlushStep struct {
	Outcomes map[string]Outcome `yaml:"outcomes,omitempty"`
	Default  *Outcome           `yaml:"default,omitempty"`
}

// Outcome is one scripted delivery result.
type Outcome struct {
	OK       bool   `yaml:"ok"`
	ServerID string `yaml:"server_id,omitempty"`
	Error    string `yaml:"error,omitempty"`
	// Raise makes the sender fail with this error message.
	Raise string `yaml:"raise,omitempty"`
}

// SyncStep scripts the server's answer for one fetch.
type SyncStep struct {
	Conversation string         `yaml:"conversation,omitempty"`
	Records      []ServerRecord `yaml:"records,omitempty"`
	// Fail makes the fetch fail with this error message.
	Fail string `yaml:"fail,omitempty"`
}

// ServerRecord is a record as returned by the server.
type ServerRecord struct {
	ID           string `yaml:"id"`
	Conversation string `yaml:"conversation,omitempty"`
	Role         string `yaml:"role,omitempty"`
	Content      string `yaml:"content"`
	CreatedAt    int64  `yaml:"created_at,omitempty"`
}

// Assertion validates final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// ID names the record (record, absent).
	ID string `yaml:"id,omitempty"`

	// Conversation overrides the scenario conversation (count, order).
	Conversation string `yaml:"conversation,omitempty"`

	// Expect holds record fields by JSON name (record).
	// Subset match - only specified fields are validated.
	Expect map[string]interface{} `yaml:"expect,omitempty"`

	// Count is the expected number (count, outbox_size).
	Count *int `yaml:"count,omitempty"`

	// IDs is the expected List order (order).
	IDs []string `yaml:"ids,omitempty"`
}

// Assertion type constants.
const (
	AssertRecord     = "record"
	AssertAbsent     = "absent"
	AssertCount      = "count"
	AssertOrder      = "order"
	AssertOutboxSize = "outbox_size"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Conversation == "" {
		scenario.Conversation = DefaultConversation
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	switch engine.ConflictPolicy(s.Policy) {
	case "", engine.PolicyServerWins, engine.PolicyKeepPending:
	default:
		return fmt.Errorf("unknown policy %q", s.Policy)
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, s Step) error {
	switch s.Op() {
	case "":
		return fmt.Errorf("steps[%d]: exactly one of add, flush, sync, advance, restart, list is required", index)
	case OpAdvance:
		d, err := time.ParseDuration(s.Advance)
		if err != nil {
			return fmt.Errorf("steps[%d]: advance: %w", index, err)
		}
		if d < 0 {
			return fmt.Errorf("steps[%d]: advance must not be negative", index)
		}
	case OpSync:
		for j, r := range s.Sync.Records {
			if r.CreatedAt < 0 {
				return fmt.Errorf("steps[%d].sync.records[%d]: created_at must not be negative", index, j)
			}
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertRecord:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for record", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for record", index)
		}
	case AssertAbsent:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for absent", index)
		}
	case AssertCount, AssertOutboxSize:
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for %s", index, a.Type)
		}
		if *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertOrder:
		if len(a.IDs) == 0 {
			return fmt.Errorf("assertions[%d]: ids list is required for order", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
