package handoff

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"deskbot/internal/domain"
)

// AgentReply is the payload delivered by the ticket system when a human
// agent answers.
type AgentReply struct {
	TicketID  string `json:"ticket_id"`
	AgentName string `json:"agent_name"`
	Content   string `json:"content"`
	Resolved  bool   `json:"resolved"`
}

// Ingestor correlates agent replies back to their conversation by ticket id
// and applies the resolution transition when the agent closes the ticket.
type Ingestor struct {
	store  domain.ConversationStore
	bus    domain.EventBus
	logger *slog.Logger
}

func NewIngestor(store domain.ConversationStore, bus domain.EventBus, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{store: store, bus: bus, logger: logger}
}

// Ingest appends the agent reply to the correlated conversation. Returns
// domain.ErrNotFound when no conversation carries the ticket id and
// domain.ErrValidation when the reply is empty after sanitization, unless
// it carries a resolution flag.
func (i *Ingestor) Ingest(ctx context.Context, reply AgentReply) error {
	if reply.TicketID == "" {
		return fmt.Errorf("ticket id: %w", domain.ErrValidation)
	}

	conv, err := i.store.FindByTicket(ctx, reply.TicketID)
	if err != nil {
		return fmt.Errorf("find by ticket: %w", err)
	}
	if conv == nil {
		return fmt.Errorf("ticket %s: %w", reply.TicketID, domain.ErrNotFound)
	}

	content := StripHTML(reply.Content)
	if content == "" && !reply.Resolved {
		return fmt.Errorf("reply content: %w", domain.ErrValidation)
	}

	now := time.Now().UTC()
	if content != "" {
		msg := domain.Message{
			ConversationID: conv.ID,
			Role:           domain.RoleAgent,
			Content:        content,
			AgentName:      reply.AgentName,
			TicketID:       reply.TicketID,
			CreatedAt:      now,
		}
		if err := i.store.AddMessage(ctx, msg); err != nil {
			return fmt.Errorf("append agent reply: %w", err)
		}
		i.bus.Publish(domain.Event{
			Type:           domain.EventAgentReply,
			ConversationID: conv.ID,
			SessionID:      conv.SessionID,
			Role:           domain.RoleAgent,
			At:             now,
		})
		i.logger.Info("agent reply ingested",
			"conversation", conv.ID, "ticket", reply.TicketID, "agent", reply.AgentName)
	}

	if reply.Resolved {
		ok, err := i.store.MarkResolved(ctx, conv.ID, reply.AgentName, now)
		if err != nil {
			return fmt.Errorf("mark resolved: %w", err)
		}
		if ok {
			if err := i.store.AppendAudit(ctx, domain.AuditEvent{
				Action:         "resolution",
				ConversationID: conv.ID,
				Detail:         reply.AgentName,
				CreatedAt:      now,
			}); err != nil {
				i.logger.Warn("audit append failed", "conversation", conv.ID, "err", err)
			}
			i.bus.Publish(domain.Event{
				Type:           domain.EventResolution,
				ConversationID: conv.ID,
				SessionID:      conv.SessionID,
				At:             now,
			})
			i.logger.Info("conversation resolved", "conversation", conv.ID, "agent", reply.AgentName)
		}
	}
	return nil
}

var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// StripHTML removes markup from agent replies. Ticket systems commonly send
// rich-text bodies; the chat transcript stores plain text.
func StripHTML(s string) string {
	stripped := htmlTagPattern.ReplaceAllString(s, " ")
	unescaped := html.UnescapeString(stripped)
	return strings.Join(strings.Fields(unescaped), " ")
}
