package handoff

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"deskbot/internal/domain"
)

type fakeStore struct {
	conv       *domain.Conversation
	messages   []domain.Message
	audits     []domain.AuditEvent
	resolved   bool
	resolveOK  bool
	findErr    error
	addMsgErr  error
	resolveErr error
}

func (s *fakeStore) FindByTicket(ctx context.Context, ticketID string) (*domain.Conversation, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.conv != nil && s.conv.TicketID() == ticketID {
		return s.conv, nil
	}
	return nil, nil
}

func (s *fakeStore) AddMessage(ctx context.Context, msg domain.Message) error {
	if s.addMsgErr != nil {
		return s.addMsgErr
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *fakeStore) MarkResolved(ctx context.Context, id, resolvedBy string, at time.Time) (bool, error) {
	if s.resolveErr != nil {
		return false, s.resolveErr
	}
	if !s.resolveOK {
		return false, nil
	}
	s.resolved = true
	return true, nil
}

func (s *fakeStore) AppendAudit(ctx context.Context, ev domain.AuditEvent) error {
	s.audits = append(s.audits, ev)
	return nil
}

func (s *fakeStore) CreateConversation(ctx context.Context, c domain.Conversation) error { return nil }
func (s *fakeStore) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	return nil, nil
}
func (s *fakeStore) ActiveConversation(ctx context.Context, sessionID string) (*domain.Conversation, error) {
	return nil, nil
}
func (s *fakeStore) MarkEscalated(ctx context.Context, id string, reason domain.EscalationReason, at time.Time) (bool, error) {
	return false, nil
}
func (s *fakeStore) SetConversationMeta(ctx context.Context, id, key, value string) error {
	return nil
}
func (s *fakeStore) SetRollupSentiment(ctx context.Context, id string, label domain.SentimentLabel) error {
	return nil
}
func (s *fakeStore) Messages(ctx context.Context, convID string, limit int) ([]domain.Message, error) {
	return nil, nil
}
func (s *fakeStore) UserMessages(ctx context.Context, convID string, limit int) ([]domain.Message, error) {
	return nil, nil
}
func (s *fakeStore) SetMessageSentiment(ctx context.Context, messageID string, label domain.SentimentLabel) error {
	return nil
}
func (s *fakeStore) AgentRepliesSince(ctx context.Context, sessionID string, after time.Time) ([]domain.Message, bool, error) {
	return nil, false, nil
}
func (s *fakeStore) UpsertFeedback(ctx context.Context, fb domain.Feedback) error { return nil }
func (s *fakeStore) Close() error                                                 { return nil }

type captureBus struct {
	events []domain.Event
}

func (b *captureBus) Publish(ev domain.Event)                      { b.events = append(b.events, ev) }
func (b *captureBus) Subscribe(name string, fn func(domain.Event)) {}
func (b *captureBus) Close()                                       {}

func escalatedConv(ticketID string) *domain.Conversation {
	return &domain.Conversation{
		ID:        "conv1",
		SessionID: "sess1",
		Status:    domain.StatusEscalated,
		Metadata:  map[string]string{domain.MetaTicketID: ticketID},
	}
}

func testIngestor(store *fakeStore, bus *captureBus) *Ingestor {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewIngestor(store, bus, logger)
}

func TestIngest_AppendsSanitizedReply(t *testing.T) {
	store := &fakeStore{conv: escalatedConv("TCK-1")}
	bus := &captureBus{}
	ing := testIngestor(store, bus)

	err := ing.Ingest(context.Background(), AgentReply{
		TicketID:  "TCK-1",
		AgentName: "dana",
		Content:   "<p>Hold the button for <b>ten</b> seconds.</p>",
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(store.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(store.messages))
	}
	msg := store.messages[0]
	if msg.Role != domain.RoleAgent || msg.AgentName != "dana" || msg.TicketID != "TCK-1" {
		t.Errorf("unexpected message: %+v", msg)
	}
	if msg.Content != "Hold the button for ten seconds." {
		t.Errorf("content not sanitized: %q", msg.Content)
	}
	if len(bus.events) != 1 || bus.events[0].Type != domain.EventAgentReply {
		t.Errorf("unexpected events: %+v", bus.events)
	}
	if store.resolved {
		t.Error("reply without resolved flag must not resolve")
	}
}

func TestIngest_UnknownTicket(t *testing.T) {
	ing := testIngestor(&fakeStore{}, &captureBus{})
	err := ing.Ingest(context.Background(), AgentReply{TicketID: "TCK-404", Content: "hi"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestIngest_Validation(t *testing.T) {
	store := &fakeStore{conv: escalatedConv("TCK-1")}
	ing := testIngestor(store, &captureBus{})

	if err := ing.Ingest(context.Background(), AgentReply{Content: "hi"}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("missing ticket id: expected ErrValidation, got %v", err)
	}
	if err := ing.Ingest(context.Background(), AgentReply{TicketID: "TCK-1", Content: "<br/> "}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("empty content: expected ErrValidation, got %v", err)
	}
}

func TestIngest_Resolution(t *testing.T) {
	store := &fakeStore{conv: escalatedConv("TCK-1"), resolveOK: true}
	bus := &captureBus{}
	ing := testIngestor(store, bus)

	err := ing.Ingest(context.Background(), AgentReply{
		TicketID:  "TCK-1",
		AgentName: "dana",
		Content:   "All sorted, closing this.",
		Resolved:  true,
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !store.resolved {
		t.Error("expected conversation resolved")
	}
	if len(bus.events) != 2 || bus.events[1].Type != domain.EventResolution {
		t.Errorf("expected reply and resolution events, got %+v", bus.events)
	}
	if len(store.audits) != 1 || store.audits[0].Action != "resolution" {
		t.Errorf("unexpected audit trail: %+v", store.audits)
	}
}

func TestIngest_ResolutionWithoutContent(t *testing.T) {
	store := &fakeStore{conv: escalatedConv("TCK-1"), resolveOK: true}
	bus := &captureBus{}
	ing := testIngestor(store, bus)

	if err := ing.Ingest(context.Background(), AgentReply{TicketID: "TCK-1", Resolved: true}); err != nil {
		t.Fatalf("a bare resolution must be accepted: %v", err)
	}
	if len(store.messages) != 0 {
		t.Error("no message must be appended for a bare resolution")
	}
	if !store.resolved {
		t.Error("expected conversation resolved")
	}
}

func TestIngest_AlreadyResolvedIsQuiet(t *testing.T) {
	store := &fakeStore{conv: escalatedConv("TCK-1"), resolveOK: false}
	bus := &captureBus{}
	ing := testIngestor(store, bus)

	if err := ing.Ingest(context.Background(), AgentReply{TicketID: "TCK-1", Content: "late note", Resolved: true}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	for _, ev := range bus.events {
		if ev.Type == domain.EventResolution {
			t.Error("no resolution event when the transition did not happen")
		}
	}
}

func TestStripHTML(t *testing.T) {
	cases := []struct{ in, want string }{
		{"<p>hello</p>", "hello"},
		{"a<br>b", "a b"},
		{"&lt;tag&gt; &amp; more", "<tag> & more"},
		{"plain text", "plain text"},
		{"<div><span>nested</span>  content</div>", "nested content"},
		{"", ""},
	}
	for _, c := range cases {
		if got := StripHTML(c.in); got != c.want {
			t.Errorf("StripHTML(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
