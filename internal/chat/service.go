// Package chat orchestrates one inbound user message end to end: conversation
// lookup, the escalation verdict, retrieval-grounded generation, and
// persistence of both sides of the exchange.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"deskbot/internal/domain"
	"deskbot/internal/metrics"
	"deskbot/internal/retrieval"
)

// escalationAck is the message shown to the user instead of a generated
// answer when their conversation is handed to a human.
const escalationAck = "I'm connecting you with a human support agent who can help you better. Please hold on while I transfer your conversation."

// fallbackAnswer is sent when generation fails before producing any tokens.
const fallbackAnswer = "I'm sorry, I'm having trouble answering right now. Please try again in a moment."

const historyLimit = 10

// Evaluator is the escalation decision engine.
type Evaluator interface {
	Evaluate(ctx context.Context, convID, text string) domain.Decision
}

// Transitioner applies an escalation verdict to persistent state.
type Transitioner interface {
	Escalate(ctx context.Context, convID string, reason domain.EscalationReason) (bool, error)
}

// Labeler runs the asynchronous sentiment pipeline for one stored message.
type Labeler interface {
	LabelMessage(ctx context.Context, convID, messageID, text string) domain.SentimentLabel
}

type ServiceConfig struct {
	TopK         int
	MinScore     float64
	GenTimeout   time.Duration // per-call bound on answer generation
	LabelTimeout time.Duration // budget for the detached sentiment task
	Logger       *slog.Logger
}

// Service is the inbound message pipeline.
type Service struct {
	store      domain.ConversationStore
	engine     Evaluator
	escalator  Transitioner
	retriever  domain.Retriever
	generator  domain.Generator
	labeler    Labeler
	bus        domain.EventBus
	topK       int
	minScore   float64
	genTimeout time.Duration
	labelGrace time.Duration
	logger     *slog.Logger
}

func NewService(
	store domain.ConversationStore,
	engine Evaluator,
	escalator Transitioner,
	retriever domain.Retriever,
	generator domain.Generator,
	labeler Labeler,
	bus domain.EventBus,
	cfg ServiceConfig,
) *Service {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.LabelTimeout <= 0 {
		cfg.LabelTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		store:      store,
		engine:     engine,
		escalator:  escalator,
		retriever:  retriever,
		generator:  generator,
		labeler:    labeler,
		bus:        bus,
		topK:       cfg.TopK,
		minScore:   cfg.MinScore,
		genTimeout: cfg.GenTimeout,
		labelGrace: cfg.LabelTimeout,
		logger:     cfg.Logger,
	}
}

// Reply is the outcome of one handled message. For escalations Message
// carries the canned acknowledgement; for answers the tokens went to the
// out channel and Answer holds the accumulated text.
type Reply struct {
	ConversationID string
	MessageID      string
	Escalated      bool
	Reason         domain.EscalationReason
	Message        string
	Answer         string
	Sources        []string
}

// HandleMessage runs the full pipeline for one user message. Answer tokens
// are sent on out as they arrive; the caller owns the channel and must
// consume it until HandleMessage returns.
func (s *Service) HandleMessage(ctx context.Context, sessionID, question string, out chan<- string) (*Reply, error) {
	sessionID = strings.TrimSpace(sessionID)
	question = strings.TrimSpace(question)
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session_id is required", domain.ErrValidation)
	}
	if question == "" {
		return nil, fmt.Errorf("%w: message is required", domain.ErrValidation)
	}

	conv, err := s.activeConversation(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// The verdict is computed against stored history, before the current
	// message is persisted, so the current message never counts against
	// itself in the history windows.
	decisionStart := time.Now()
	decision := s.engine.Evaluate(ctx, conv.ID, question)
	metrics.DecisionLatency.ObserveSince(decisionStart)

	userMsg := domain.Message{
		ID:             ulid.Make().String(),
		ConversationID: conv.ID,
		Role:           domain.RoleUser,
		Content:        question,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.AddMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}
	s.bus.Publish(domain.Event{
		Type:           domain.EventMessageCreated,
		ConversationID: conv.ID,
		SessionID:      sessionID,
		Role:           domain.RoleUser,
		At:             userMsg.CreatedAt,
	})

	// Sentiment labeling runs detached from the request so a slow
	// classifier can never delay the reply.
	go func() {
		labelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.labelGrace)
		defer cancel()
		s.labeler.LabelMessage(labelCtx, conv.ID, userMsg.ID, question)
	}()

	if decision.ShouldEscalate {
		if _, err := s.escalator.Escalate(ctx, conv.ID, decision.Reason); err != nil {
			return nil, fmt.Errorf("escalate: %w", err)
		}
		return &Reply{
			ConversationID: conv.ID,
			MessageID:      userMsg.ID,
			Escalated:      true,
			Reason:         decision.Reason,
			Message:        escalationAck,
		}, nil
	}

	answer, sources, err := s.generate(ctx, conv.ID, question, out)
	if err != nil {
		return nil, err
	}

	assistantMsg := domain.Message{
		ID:             ulid.Make().String(),
		ConversationID: conv.ID,
		Role:           domain.RoleAssistant,
		Content:        answer,
		Sources:        sources,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.AddMessage(ctx, assistantMsg); err != nil {
		return nil, fmt.Errorf("persist assistant message: %w", err)
	}
	s.bus.Publish(domain.Event{
		Type:           domain.EventMessageCreated,
		ConversationID: conv.ID,
		SessionID:      sessionID,
		Role:           domain.RoleAssistant,
		At:             assistantMsg.CreatedAt,
	})

	return &Reply{
		ConversationID: conv.ID,
		MessageID:      userMsg.ID,
		Answer:         answer,
		Sources:        sources,
	}, nil
}

// activeConversation returns the session's active conversation, creating
// one when the session has none (first contact, or the previous
// conversation was escalated or resolved).
func (s *Service) activeConversation(ctx context.Context, sessionID string) (*domain.Conversation, error) {
	conv, err := s.store.ActiveConversation(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if conv != nil {
		return conv, nil
	}

	now := time.Now().UTC()
	fresh := domain.Conversation{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Status:    domain.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateConversation(ctx, fresh); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	s.logger.Info("conversation started", "conversation", fresh.ID, "session", sessionID)
	return &fresh, nil
}

// generate retrieves grounding context and streams the answer. Retrieval
// failures degrade to the no-context instruction; a generation failure with
// no tokens sent degrades to the canned fallback.
func (s *Service) generate(ctx context.Context, convID, question string, out chan<- string) (string, []string, error) {
	retrievalStart := time.Now()
	docs, err := s.retriever.Retrieve(ctx, question, s.topK, s.minScore)
	metrics.RetrievalLatency.ObserveSince(retrievalStart)
	if err != nil {
		s.logger.Warn("retrieval failed, answering without context", "conversation", convID, "err", err)
		docs = nil
	}
	knowledgeCtx := retrieval.BuildContext(docs)
	sources := retrieval.Sources(docs)

	history, err := s.store.Messages(ctx, convID, historyLimit)
	if err != nil {
		s.logger.Warn("history unavailable for generation", "conversation", convID, "err", err)
		history = nil
	}
	// The current question was already persisted; it goes in as the final
	// turn, not as history.
	if n := len(history); n > 0 && history[n-1].Role == domain.RoleUser && history[n-1].Content == question {
		history = history[:n-1]
	}

	genCtx := ctx
	if s.genTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, s.genTimeout)
		defer cancel()
	}

	inner := make(chan string, 32)
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.generator.GenerateStream(genCtx, domain.GenerationRequest{
			Context:  knowledgeCtx,
			History:  history,
			Question: question,
		}, inner)
		close(inner)
	}()

	var sb strings.Builder
	for tok := range inner {
		sb.WriteString(tok)
		if out != nil {
			select {
			case out <- tok:
			case <-ctx.Done():
			}
		}
	}
	if err := <-errCh; err != nil {
		s.logger.Error("generation failed", "conversation", convID, "partial", sb.Len(), "err", err)
		if sb.Len() == 0 {
			if out != nil {
				select {
				case out <- fallbackAnswer:
				case <-ctx.Done():
				}
			}
			return fallbackAnswer, nil, nil
		}
	}
	return sb.String(), sources, nil
}

// SubmitFeedback records a thumbs-up or thumbs-down on an assistant message.
func (s *Service) SubmitFeedback(ctx context.Context, messageID string, rating int, text string) error {
	if messageID == "" {
		return fmt.Errorf("%w: message_id is required", domain.ErrValidation)
	}
	if rating != 1 && rating != -1 {
		return fmt.Errorf("%w: rating must be 1 or -1", domain.ErrValidation)
	}
	return s.store.UpsertFeedback(ctx, domain.Feedback{
		MessageID: messageID,
		Rating:    rating,
		Text:      strings.TrimSpace(text),
		CreatedAt: time.Now().UTC(),
	})
}

// AgentReplies returns agent messages for the session created after the
// cursor, plus whether the underlying conversation is resolved. Clients
// poll this to surface human answers.
func (s *Service) AgentReplies(ctx context.Context, sessionID string, after time.Time) ([]domain.Message, bool, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, false, fmt.Errorf("%w: session_id is required", domain.ErrValidation)
	}
	return s.store.AgentRepliesSince(ctx, sessionID, after)
}
