package domain

import "time"

// EventType classifies an analytics event.
type EventType string

const (
	EventMessageCreated EventType = "message_created"
	EventEscalation     EventType = "escalation"
	EventAgentReply     EventType = "agent_reply"
	EventResolution     EventType = "resolution"
)

// Event is an in-process analytics event. Delivery is best-effort; nothing
// user-facing depends on it.
type Event struct {
	Type           EventType
	ConversationID string
	SessionID      string
	Role           Role
	Reason         EscalationReason
	Detail         string
	At             time.Time
}

// EventBus fans analytics events out to registered subscribers.
type EventBus interface {
	Publish(ev Event)
	Subscribe(name string, fn func(Event))
	Close()
}
