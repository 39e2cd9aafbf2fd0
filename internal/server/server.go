// Package server exposes the HTTP API: the streaming chat endpoint, the
// feedback and reply-polling endpoints, the agent-reply webhook, and the
// operational endpoints.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"deskbot/internal/chat"
	"deskbot/internal/domain"
	"deskbot/internal/handoff"
	"deskbot/internal/metrics"
)

// ChatService is the inbound message pipeline as the handlers see it.
type ChatService interface {
	HandleMessage(ctx context.Context, sessionID, question string, out chan<- string) (*chat.Reply, error)
	SubmitFeedback(ctx context.Context, messageID string, rating int, text string) error
	AgentReplies(ctx context.Context, sessionID string, after time.Time) ([]domain.Message, bool, error)
}

// ReplyIngestor accepts agent replies from the webhook.
type ReplyIngestor interface {
	Ingest(ctx context.Context, reply handoff.AgentReply) error
}

type Config struct {
	Host           string
	Port           int
	AllowedOrigins []string
	RequestTimeout time.Duration // whole-request budget for chat
	WebhookSecret  string
	MetricsEnabled bool
	MetricsPath    string
	Logger         *slog.Logger
}

// Server wires the chat service and reply ingestor into HTTP handlers.
type Server struct {
	chat     ChatService
	ingestor ReplyIngestor
	cfg      Config
	logger   *slog.Logger
	httpSrv  *http.Server
}

func New(chatSvc ChatService, ingestor ReplyIngestor, cfg Config) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{chat: chatSvc, ingestor: ingestor, cfg: cfg, logger: cfg.Logger}
}

// Router builds the chi router with all routes and middleware attached.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"https://*", "http://*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Post("/api/chat", s.handleChat)
	r.Post("/api/feedback", s.handleFeedback)
	r.Get("/api/replies", s.handleReplies)
	r.Post("/webhooks/agent", s.handleAgentWebhook)
	r.Get("/healthz", s.handleHealth)
	if s.cfg.MetricsEnabled {
		r.Get(s.cfg.MetricsPath, metrics.Collector.Handler())
	}
	return r
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("http server starting", "addr", s.httpSrv.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}
