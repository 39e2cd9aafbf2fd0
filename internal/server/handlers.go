package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"deskbot/internal/domain"
	"deskbot/internal/handoff"
	"deskbot/internal/metrics"
)

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type feedbackRequest struct {
	MessageID string `json:"message_id"`
	Rating    int    `json:"rating"`
	Text      string `json:"text,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleChat streams the answer over SSE. Tokens arrive as token events;
// the stream ends with either a done event carrying sources or an
// escalated event carrying the handoff acknowledgement.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.SessionID) == "" || strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "session_id and message are required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	metrics.ChatRequests.Inc()
	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()
	start := time.Now()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	out := make(chan string, 32)
	type outcome struct {
		reply *chatReply
		err   error
	}
	resCh := make(chan outcome, 1)
	go func() {
		reply, err := s.chat.HandleMessage(ctx, req.SessionID, req.Message, out)
		close(out)
		if reply != nil {
			resCh <- outcome{&chatReply{
				ConversationID: reply.ConversationID,
				Escalated:      reply.Escalated,
				Reason:         string(reply.Reason),
				Message:        reply.Message,
				Sources:        reply.Sources,
			}, err}
			return
		}
		resCh <- outcome{nil, err}
	}()

	for tok := range out {
		writeSSE(w, "token", map[string]string{"content": tok})
		flusher.Flush()
	}
	res := <-resCh

	if res.err != nil {
		s.logger.Error("chat request failed", "session", req.SessionID, "err", res.err)
		writeSSE(w, "error", map[string]string{"error": "internal error"})
		flusher.Flush()
		return
	}
	metrics.GenerationLatency.ObserveSince(start)

	if res.reply.Escalated {
		metrics.EscalationCounter(res.reply.Reason).Inc()
		writeSSE(w, "escalated", res.reply)
	} else {
		writeSSE(w, "done", res.reply)
	}
	flusher.Flush()
}

type chatReply struct {
	ConversationID string   `json:"conversation_id"`
	Escalated      bool     `json:"escalated"`
	Reason         string   `json:"reason,omitempty"`
	Message        string   `json:"message,omitempty"`
	Sources        []string `json:"sources,omitempty"`
}

func writeSSE(w http.ResponseWriter, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.chat.SubmitFeedback(r.Context(), req.MessageID, req.Rating, req.Text); err != nil {
		switch {
		case errors.Is(err, domain.ErrValidation):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			s.logger.Error("feedback failed", "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReplies(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	var after time.Time
	if raw := r.URL.Query().Get("after"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "after must be RFC3339")
			return
		}
		after = t
	}

	replies, resolved, err := s.chat.AgentReplies(r.Context(), sessionID, after)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("replies lookup failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if replies == nil {
		replies = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"replies":  replies,
		"resolved": resolved,
	})
}

// handleAgentWebhook receives agent replies from the ticket system. When a
// webhook secret is configured the request must carry a valid HMAC-SHA256
// signature over the raw body.
func (s *Server) handleAgentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read body")
		return
	}

	if s.cfg.WebhookSecret != "" {
		sig := r.Header.Get("X-Signature-256")
		if sig == "" {
			writeError(w, http.StatusUnauthorized, "missing signature")
			return
		}
		if !verifyHMAC(body, s.cfg.WebhookSecret, sig) {
			writeError(w, http.StatusForbidden, "invalid signature")
			return
		}
	}

	var reply handoff.AgentReply
	if err := json.Unmarshal(body, &reply); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.ingestor.Ingest(r.Context(), reply); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "no conversation for ticket")
		case errors.Is(err, domain.ErrValidation):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("agent reply ingestion failed", "ticket", reply.TicketID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	metrics.AgentReplies.Inc()
	if reply.Resolved {
		metrics.Resolutions.Inc()
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// verifyHMAC checks an HMAC-SHA256 signature of the body.
func verifyHMAC(body []byte, secret, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
