package domain

import (
	"context"
	"time"
)

// ConversationStore is the single source of truth for conversation state.
// No component caches status across requests.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// ActiveConversation returns the session's active conversation, or nil
	// when the session has none (a new one must then be created).
	ActiveConversation(ctx context.Context, sessionID string) (*Conversation, error)

	// FindByTicket resolves a conversation by its external ticket
	// correlation id. Returns nil when no conversation correlates.
	FindByTicket(ctx context.Context, ticketID string) (*Conversation, error)

	// MarkEscalated transitions active -> escalated with a compare-and-swap
	// on status. Returns false when the conversation was not active (already
	// escalated or resolved), in which case nothing was written.
	MarkEscalated(ctx context.Context, id string, reason EscalationReason, at time.Time) (bool, error)

	// MarkResolved transitions escalated -> resolved. Returns false when the
	// conversation was already resolved or never escalated.
	MarkResolved(ctx context.Context, id, resolvedBy string, at time.Time) (bool, error)

	// SetConversationMeta merges a single metadata key into the conversation
	// without touching other keys.
	SetConversationMeta(ctx context.Context, id, key, value string) error

	// SetRollupSentiment stores the advisory conversation-level sentiment.
	SetRollupSentiment(ctx context.Context, id string, label SentimentLabel) error

	AddMessage(ctx context.Context, msg Message) error

	// Messages returns up to limit most recent messages of the conversation
	// in ascending creation order.
	Messages(ctx context.Context, convID string, limit int) ([]Message, error)

	// UserMessages returns up to limit most recent user messages in
	// ascending creation order.
	UserMessages(ctx context.Context, convID string, limit int) ([]Message, error)

	// SetMessageSentiment attaches the asynchronously computed label to a
	// stored user message.
	SetMessageSentiment(ctx context.Context, messageID string, label SentimentLabel) error

	// AgentRepliesSince returns agent messages created after the cursor for
	// the session's most recent escalated or resolved conversation, plus
	// whether that conversation is resolved.
	AgentRepliesSince(ctx context.Context, sessionID string, after time.Time) ([]Message, bool, error)

	UpsertFeedback(ctx context.Context, fb Feedback) error

	// AppendAudit records an analytics/audit event.
	AppendAudit(ctx context.Context, ev AuditEvent) error

	Close() error
}

// AuditEvent is one row in the append-only audit trail.
type AuditEvent struct {
	Action         string    `json:"action"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Detail         string    `json:"detail,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
