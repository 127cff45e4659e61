package engine

import "context"

// Record is a cached chat message. The JSON names are indexed by the store
// and must not change without a schema version bump.
type Record struct {
	ID             string  `json:"id"`
	ConversationID string  `json:"conversationId"`
	Role           string  `json:"role"`
	Content        string  `json:"content"`
	CreatedAt      int64   `json:"createdAt"` // Unix milliseconds
	Pending        bool    `json:"pending"`
	Error          *string `json:"error"`
}

// sameBody reports whether r and o carry the same message, ignoring
// delivery state.
func (r Record) sameBody(o Record) bool {
	return r.ID == o.ID &&
		r.ConversationID == o.ConversationID &&
		r.Role == o.Role &&
		r.Content == o.Content &&
		r.CreatedAt == o.CreatedAt
}

// Failed reports whether the last delivery attempt failed.
func (r Record) Failed() bool {
	return r.Error != nil
}

// ErrorString returns the failure reason or "".
func (r Record) ErrorString() string {
	if r.Error == nil {
		return ""
	}
	return *r.Error
}

// Conversation groups records for one user.
type Conversation struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	Title     string `json:"title,omitempty"`
	Status    string `json:"status"`
	UpdatedAt int64  `json:"updatedAt"`
}

// SendResult is the remote store's answer to one delivery.
type SendResult struct {
	OK       bool   `json:"ok"`
	ServerID string `json:"serverId,omitempty"`
	Error    string `json:"error,omitempty"`
}

// SendFn delivers one record to the authoritative store.
// A returned error counts as a delivery failure, like OK=false.
type SendFn func(ctx context.Context, rec Record) (SendResult, error)

// ListFn fetches the authoritative records of a conversation.
type ListFn func(ctx context.Context, conversationID string) ([]Record, error)

// DefaultSendError is recorded when a send fails without a reason.
const DefaultSendError = "SEND_FAILED"

// ConflictPolicy decides what SyncFromServer does when a server record has
// the same id as a local one.
type ConflictPolicy string

const (
	// PolicyServerWins overwrites the local record unconditionally, even if a
	// local edit is still pending.
	PolicyServerWins ConflictPolicy = "server_wins"

	// PolicyKeepPending leaves local records with Pending=true untouched.
	PolicyKeepPending ConflictPolicy = "keep_pending"
)

func (p ConflictPolicy) valid() bool {
	return p == PolicyServerWins || p == PolicyKeepPending
}
