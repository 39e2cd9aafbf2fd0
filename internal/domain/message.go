package domain

import "time"

// Role identifies the producer of a message. Agent messages originate only
// from the agent reply ingestion path.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleAgent     Role = "agent"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleAgent:
		return true
	}
	return false
}

// SentimentLabel is the three-way sentiment classification of a user message.
// The empty value means "not yet labeled".
type SentimentLabel string

const (
	SentimentPositive SentimentLabel = "positive"
	SentimentNeutral  SentimentLabel = "neutral"
	SentimentNegative SentimentLabel = "negative"
)

// Valid reports whether l is a known label.
func (l SentimentLabel) Valid() bool {
	switch l {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return true
	}
	return false
}

// Message is one turn in a conversation. Immutable once created, except for
// the sentiment label which is filled in asynchronously after classification.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Role           Role   `json:"role"`
	Content        string `json:"content"`

	// Role-specific metadata.
	Sentiment SentimentLabel `json:"sentiment,omitempty"`  // user messages
	Sources   []string       `json:"sources,omitempty"`    // assistant: retrieved doc ids
	AgentName string         `json:"agent_name,omitempty"` // agent messages
	TicketID  string         `json:"ticket_id,omitempty"`  // agent messages

	CreatedAt time.Time `json:"created_at"`
}

// Feedback is a thumbs up/down rating on a single assistant message.
// One record per message id; later submissions replace earlier ones.
type Feedback struct {
	MessageID string    `json:"message_id"`
	Rating    int       `json:"rating"` // 1 or -1
	Text      string    `json:"text,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
