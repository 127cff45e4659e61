package store

import (
	"fmt"
	"slices"
)

// Table names.
const (
	TableMessages      = "messages"
	TableConversations = "conversations"
	TableSubscriptions = "subscriptions"
)

// Schema version tracking:
// 0 - Empty database, schema not yet applied
// 1 - Document tables (messages, conversations, subscriptions) and kv
const currentSchemaVersion = 1

// Table describes a document table.
// Key and Indexes name top-level JSON fields of the stored documents.
type Table struct {
	Name    string
	Key     string
	Indexes []string
}

// Tables is the schema applied by Open, in creation order.
var Tables = []Table{
	{Name: TableMessages, Key: "id", Indexes: []string{"conversationId", "pending"}},
	{Name: TableConversations, Key: "id", Indexes: []string{"userId", "status"}},
	{Name: TableSubscriptions, Key: "userId", Indexes: []string{"tier", "lastSynced"}},
}

const kvDDL = `CREATE TABLE IF NOT EXISTS kv (
	key   TEXT NOT NULL PRIMARY KEY,
	value TEXT NOT NULL
)`

// SchemaVersion returns the schema version this build expects.
func SchemaVersion() int {
	return currentSchemaVersion
}

func lookupTable(name string) (Table, error) {
	for _, t := range Tables {
		if t.Name == name {
			return t, nil
		}
	}
	return Table{}, fmt.Errorf("%w: %q", ErrUnknownTable, name)
}

func (t Table) checkIndex(index string) error {
	if !slices.Contains(t.Indexes, index) {
		return fmt.Errorf("%w: %s.%s", ErrUnknownIndex, t.Name, index)
	}
	return nil
}

// jsonPath returns the json_extract expression for a top-level field.
// Field names come from Tables, never from callers, so interpolation is safe.
func jsonPath(field string) string {
	return fmt.Sprintf("json_extract(doc, '$.%s')", field)
}

func (t Table) ddl() []string {
	stmts := []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	key TEXT NOT NULL PRIMARY KEY,
	doc TEXT NOT NULL
)`, t.Name)}
	for _, idx := range t.Indexes {
		stmts = append(stmts, fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(%s)",
			t.Name, idx, t.Name, jsonPath(idx),
		))
	}
	return stmts
}
