package domain

// EscalationReason is the closed set of trigger names the decision engine
// can report. At most one reason is reported per decision.
type EscalationReason string

const (
	ReasonExplicitRequest   EscalationReason = "explicit_request"
	ReasonNegativeSentiment EscalationReason = "negative_sentiment"
	ReasonRepeatedQuery     EscalationReason = "repeated_query"
)

// Valid reports whether r is a known reason.
func (r EscalationReason) Valid() bool {
	switch r {
	case ReasonExplicitRequest, ReasonNegativeSentiment, ReasonRepeatedQuery:
		return true
	}
	return false
}

// Decision is the outcome of evaluating the escalation triggers for one
// inbound message. Confidence is observability-only; control flow is gated
// solely on ShouldEscalate.
type Decision struct {
	ShouldEscalate bool             `json:"should_escalate"`
	Reason         EscalationReason `json:"reason,omitempty"`
	Confidence     float64          `json:"confidence"`
}
