// Package handoff carries the human side of an escalation: notifying the
// support team and ingesting their replies back into the conversation.
package handoff

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"deskbot/internal/domain"
)

// TelegramAlerter posts an escalation alert to the support team chat.
type TelegramAlerter struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

func NewTelegramAlerter(token string, chatID int64) (*TelegramAlerter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &TelegramAlerter{bot: bot, chatID: chatID}, nil
}

func (t *TelegramAlerter) Alert(conv domain.Conversation, reason domain.EscalationReason, ticketID string) error {
	text := fmt.Sprintf("Escalation: conversation %s (session %s)\nReason: %s", conv.ID, conv.SessionID, reason)
	if ticketID != "" {
		text += "\nTicket: " + ticketID
	}
	_, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, text))
	return err
}

// NotifierConfig wires the optional notification channels. Either may be
// nil; a fully nil notifier is valid and makes escalation state-only.
type NotifierConfig struct {
	Tickets  domain.TicketCreator
	Telegram *TelegramAlerter
	Logger   *slog.Logger
}

// Notifier fans an escalation out to the configured channels. Ticket
// creation is the primary channel because its id correlates agent replies;
// the Telegram alert is purely informational.
type Notifier struct {
	tickets  domain.TicketCreator
	telegram *TelegramAlerter
	logger   *slog.Logger
}

func NewNotifier(cfg NotifierConfig) *Notifier {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Notifier{tickets: cfg.Tickets, telegram: cfg.Telegram, logger: cfg.Logger}
}

// NotifyEscalation creates the support ticket and fires the chat alert.
// A ticket failure is returned to the caller; an alert failure is only
// logged since nothing downstream depends on it.
func (n *Notifier) NotifyEscalation(ctx context.Context, conv domain.Conversation, reason domain.EscalationReason) (string, error) {
	var ticketID string
	if n.tickets != nil {
		id, err := n.tickets.CreateTicket(ctx, domain.TicketRequest{
			Subject:        fmt.Sprintf("Escalated conversation %s", conv.ID),
			Body:           fmt.Sprintf("Conversation %s in session %s was escalated (%s).", conv.ID, conv.SessionID, reason),
			Reason:         string(reason),
			ConversationID: conv.ID,
			SessionID:      conv.SessionID,
		})
		if err != nil {
			return "", fmt.Errorf("create ticket: %w", err)
		}
		ticketID = id
	}

	if n.telegram != nil {
		if err := n.telegram.Alert(conv, reason, ticketID); err != nil {
			n.logger.Warn("telegram alert failed", "conversation", conv.ID, "err", err)
		}
	}
	return ticketID, nil
}
