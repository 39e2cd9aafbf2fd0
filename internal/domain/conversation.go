package domain

import "time"

// ConversationStatus is the closed set of conversation lifecycle states.
type ConversationStatus string

const (
	StatusActive    ConversationStatus = "active"
	StatusEscalated ConversationStatus = "escalated"
	StatusResolved  ConversationStatus = "resolved"
)

// Valid reports whether s is a known status.
func (s ConversationStatus) Valid() bool {
	switch s {
	case StatusActive, StatusEscalated, StatusResolved:
		return true
	}
	return false
}

// Terminal reports whether no further automatic transitions apply.
func (s ConversationStatus) Terminal() bool { return s == StatusResolved }

// Metadata keys stored on a conversation. escalated_at is never cleared
// except by a resolution transition.
const (
	MetaEscalationReason = "escalation_reason"
	MetaEscalatedAt      = "escalated_at"
	MetaTicketID         = "ticket_id"
	MetaResolvedAt       = "resolved_at"
	MetaResolvedBy       = "resolved_by"
)

// Conversation groups the messages of one client session. At most one
// conversation is active per session at a time.
type Conversation struct {
	ID        string             `json:"id"`
	SessionID string             `json:"session_id"`
	Status    ConversationStatus `json:"status"`
	Sentiment SentimentLabel     `json:"sentiment"` // rollup, advisory only
	Metadata  map[string]string  `json:"metadata,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// TicketID returns the external ticket correlation id, if one was recorded.
func (c *Conversation) TicketID() string {
	if c.Metadata == nil {
		return ""
	}
	return c.Metadata[MetaTicketID]
}
