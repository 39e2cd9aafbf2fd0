// Package ticket talks to the external support ticket system. Escalated
// conversations get a ticket; its id correlates asynchronous agent replies
// back to the conversation.
package ticket

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"deskbot/internal/domain"
)

const defaultHTTPTimeout = 15 * time.Second

type ClientConfig struct {
	Endpoint string
	Secret   string // HMAC secret for signing request bodies, optional
	Logger   *slog.Logger
}

// Client implements domain.TicketCreator against a JSON-over-HTTP ticket
// API. Requests are signed with HMAC-SHA256 when a secret is configured.
type Client struct {
	endpoint string
	secret   string
	http     *http.Client
	logger   *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		endpoint: cfg.Endpoint,
		secret:   cfg.Secret,
		http:     &http.Client{Timeout: defaultHTTPTimeout},
		logger:   cfg.Logger,
	}
}

type createResponse struct {
	TicketID string `json:"ticket_id"`
}

// CreateTicket posts the ticket and returns the id assigned by the external
// system.
func (c *Client) CreateTicket(ctx context.Context, req domain.TicketRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal ticket: %w", err)
	}

	resp, err := doWithRetry(ctx, c.http, func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.secret != "" {
			httpReq.Header.Set("X-Signature-256", signBody(body, c.secret))
		}
		return httpReq, nil
	}, c.logger)
	if err != nil {
		return "", fmt.Errorf("create ticket: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("ticket API returned %d: %s", resp.StatusCode, msg)
	}

	var out createResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode ticket response: %w", err)
	}
	if out.TicketID == "" {
		return "", fmt.Errorf("ticket API returned no ticket id")
	}

	c.logger.Info("ticket created", "ticket", out.TicketID, "conversation", req.ConversationID)
	return out.TicketID, nil
}

// signBody produces the HMAC-SHA256 signature header value for a payload.
func signBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
