package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"deskbot/internal/domain"
)

// Notifier delivers the human-handoff side effects for one escalation and
// returns the external ticket id when one was created.
type Notifier interface {
	NotifyEscalation(ctx context.Context, conv domain.Conversation, reason domain.EscalationReason) (string, error)
}

// Escalator applies an escalation verdict to persistent state exactly once.
// The status write is durable before notification fires; a notification
// failure is logged and never rolls the status back.
type Escalator struct {
	store    domain.ConversationStore
	notifier Notifier
	bus      domain.EventBus
	logger   *slog.Logger
}

func NewEscalator(store domain.ConversationStore, notifier Notifier, bus domain.EventBus, logger *slog.Logger) *Escalator {
	return &Escalator{store: store, notifier: notifier, bus: bus, logger: logger}
}

// Escalate transitions the conversation to escalated and notifies the human
// channel. Returns false when the conversation was already escalated or
// resolved; in that case nothing is written and nothing is notified.
func (e *Escalator) Escalate(ctx context.Context, convID string, reason domain.EscalationReason) (bool, error) {
	conv, err := e.store.GetConversation(ctx, convID)
	if err != nil {
		return false, fmt.Errorf("load conversation: %w", err)
	}
	if conv == nil {
		return false, fmt.Errorf("conversation %s: %w", convID, domain.ErrNotFound)
	}
	if conv.Status != domain.StatusActive {
		e.logger.Debug("escalation skipped, conversation not active",
			"conversation", convID, "status", conv.Status)
		return false, nil
	}

	now := time.Now().UTC()
	// CAS on status: a racing duplicate observes ok=false and skips the
	// notifier, so at most one notification fires per transition.
	ok, err := e.store.MarkEscalated(ctx, convID, reason, now)
	if err != nil {
		return false, fmt.Errorf("mark escalated: %w", err)
	}
	if !ok {
		return false, nil
	}

	e.logger.Info("conversation escalated", "conversation", convID, "reason", reason)

	if err := e.store.AppendAudit(ctx, domain.AuditEvent{
		Action:         "escalation",
		ConversationID: convID,
		Detail:         string(reason),
		CreatedAt:      now,
	}); err != nil {
		e.logger.Warn("audit append failed", "conversation", convID, "err", err)
	}
	e.bus.Publish(domain.Event{
		Type:           domain.EventEscalation,
		ConversationID: convID,
		SessionID:      conv.SessionID,
		Reason:         reason,
		At:             now,
	})

	// Best effort from here: escalation state is the source of truth,
	// notification delivery is independently retryable.
	conv.Status = domain.StatusEscalated
	ticketID, err := e.notifier.NotifyEscalation(ctx, *conv, reason)
	if err != nil {
		e.logger.Error("handoff notification failed, escalation state kept",
			"conversation", convID, "err", err)
		return true, nil
	}
	if ticketID != "" {
		if err := e.store.SetConversationMeta(ctx, convID, domain.MetaTicketID, ticketID); err != nil {
			e.logger.Error("ticket correlation write-back failed",
				"conversation", convID, "ticket", ticketID, "err", err)
		}
	}
	return true, nil
}
