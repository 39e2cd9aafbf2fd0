// Package sentiment labels user messages asynchronously and keeps the
// advisory conversation-level rollup current. Labels feed the escalation
// engine's frustration trigger; the rollup feeds nothing and exists for
// operators.
package sentiment

import (
	"context"
	"log/slog"
	"time"

	"deskbot/internal/domain"
	"deskbot/internal/metrics"
)

// rollupLimit caps how many recent user messages the rollup considers.
const rollupLimit = 100

// MessageStore is the slice of the conversation store the labeler writes to.
type MessageStore interface {
	SetMessageSentiment(ctx context.Context, messageID string, label domain.SentimentLabel) error
	UserMessages(ctx context.Context, convID string, limit int) ([]domain.Message, error)
	SetRollupSentiment(ctx context.Context, id string, label domain.SentimentLabel) error
}

// Labeler classifies one message at a time with a bounded call budget.
// Classification is best-effort: any failure, timeout, or off-vocabulary
// answer degrades the label to neutral so a flaky classifier can never
// block a reply or fabricate a frustration signal.
type Labeler struct {
	classifier domain.SentimentClassifier
	store      MessageStore
	timeout    time.Duration
	logger     *slog.Logger
}

func NewLabeler(classifier domain.SentimentClassifier, store MessageStore, timeout time.Duration, logger *slog.Logger) *Labeler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Labeler{classifier: classifier, store: store, timeout: timeout, logger: logger}
}

// LabelMessage classifies the stored user message, persists the label, and
// refreshes the conversation rollup. Intended to run detached from the
// request path; the returned label is for tests and metrics.
func (l *Labeler) LabelMessage(ctx context.Context, convID, messageID, text string) domain.SentimentLabel {
	label := l.classify(ctx, text)

	if err := l.store.SetMessageSentiment(ctx, messageID, label); err != nil {
		l.logger.Warn("sentiment label write failed", "message", messageID, "err", err)
		return label
	}

	msgs, err := l.store.UserMessages(ctx, convID, rollupLimit)
	if err != nil {
		l.logger.Warn("rollup skipped, history unavailable", "conversation", convID, "err", err)
		return label
	}
	labels := make([]domain.SentimentLabel, 0, len(msgs))
	for _, m := range msgs {
		if m.Sentiment.Valid() {
			labels = append(labels, m.Sentiment)
		}
	}
	if err := l.store.SetRollupSentiment(ctx, convID, Rollup(labels)); err != nil {
		l.logger.Warn("rollup write failed", "conversation", convID, "err", err)
	}
	return label
}

// classify calls the model with a per-attempt timeout and one retry.
func (l *Labeler) classify(ctx context.Context, text string) domain.SentimentLabel {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, l.timeout)
		label, err := l.classifier.Classify(callCtx, text)
		cancel()
		if err == nil {
			if !label.Valid() {
				return domain.SentimentNeutral
			}
			return label
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	metrics.ClassifierFailures.Inc()
	l.logger.Warn("classification failed, defaulting to neutral", "err", lastErr)
	return domain.SentimentNeutral
}

// Rollup reduces per-message labels to a conversation-level label: the
// majority label when it covers more than half of the labeled messages,
// neutral otherwise.
func Rollup(labels []domain.SentimentLabel) domain.SentimentLabel {
	if len(labels) == 0 {
		return domain.SentimentNeutral
	}
	counts := map[domain.SentimentLabel]int{}
	for _, l := range labels {
		counts[l]++
	}
	for _, candidate := range []domain.SentimentLabel{domain.SentimentNegative, domain.SentimentPositive} {
		if counts[candidate]*2 > len(labels) {
			return candidate
		}
	}
	return domain.SentimentNeutral
}
