package domain

import "context"

// GenerationRequest carries everything the language model needs to produce
// a grounded answer: the system instruction, the retrieved context, recent
// conversation turns, and the user question.
type GenerationRequest struct {
	System   string
	Context  string
	History  []Message
	Question string
}

// Generator produces the final answer as a token stream. Implementations
// close nothing: they send tokens on out until done or ctx expires, then
// return. The caller owns the channel.
type Generator interface {
	GenerateStream(ctx context.Context, req GenerationRequest, out chan<- string) error
}

// SentimentClassifier labels a single message. Implementations are trusted
// only for their three-way answer; callers collapse anything else to neutral.
type SentimentClassifier interface {
	Classify(ctx context.Context, text string) (SentimentLabel, error)
}

// TicketRequest describes the support ticket created for an escalated
// conversation.
type TicketRequest struct {
	Subject        string `json:"subject"`
	Body           string `json:"body"`
	Reason         string `json:"reason"`
	ConversationID string `json:"conversation_id"`
	SessionID      string `json:"session_id"`
}

// TicketCreator creates a ticket in the external support system and returns
// its id, used later to correlate asynchronous agent replies.
type TicketCreator interface {
	CreateTicket(ctx context.Context, req TicketRequest) (string, error)
}
