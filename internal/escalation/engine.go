// Package escalation decides when a conversation leaves automated handling
// and carries out the transition to a human.
package escalation

import (
	"context"
	"log/slog"
	"strings"

	"deskbot/internal/domain"
)

// Trigger confidences are fixed per trigger and reported for observability
// only; nothing branches on them.
const (
	explicitConfidence   = 1.0
	sentimentConfidence  = 0.9
	repetitionConfidence = 0.85
)

// minSignalTokens is the minimum normalized token count for a message to
// participate in the repetition check. Shorter messages carry too little
// signal.
const minSignalTokens = 3

// HistoryReader is the slice of the conversation store the engine needs.
type HistoryReader interface {
	UserMessages(ctx context.Context, convID string, limit int) ([]domain.Message, error)
}

// EngineConfig tunes the three triggers. Thresholds favor precision over
// recall: a missed escalation is recoverable, a spurious one is not cheap.
type EngineConfig struct {
	Vocab                []string // explicit-request phrases, lowercase
	SentimentWindow      int      // recent labels considered (default 3)
	MinLabeledMessages   int      // labels required before the sentiment trigger is eligible
	RepetitionWindow     int      // prior messages compared (default 6)
	MinUserMessages      int      // total user messages (incl. current) before repetition is eligible
	SimilarityThreshold  float64  // token-overlap ratio counting as a near-repeat
	ExactRepeatThreshold int      // exact repeats that force escalation
	SimilarThreshold     int      // near-repeats that force escalation
	Logger               *slog.Logger
}

// Engine evaluates the escalation triggers in priority order. It performs
// no writes and never returns an error: a failed history read degrades the
// affected trigger to "no match".
type Engine struct {
	history HistoryReader
	cfg     EngineConfig
	logger  *slog.Logger
}

func NewEngine(history HistoryReader, cfg EngineConfig) *Engine {
	if len(cfg.Vocab) == 0 {
		cfg.Vocab = DefaultVocab()
	}
	if cfg.SentimentWindow <= 0 {
		cfg.SentimentWindow = 3
	}
	if cfg.MinLabeledMessages <= 0 {
		cfg.MinLabeledMessages = 2
	}
	if cfg.RepetitionWindow <= 0 {
		cfg.RepetitionWindow = 6
	}
	if cfg.MinUserMessages <= 0 {
		cfg.MinUserMessages = 4
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = 0.8
	}
	if cfg.ExactRepeatThreshold <= 0 {
		cfg.ExactRepeatThreshold = 2
	}
	if cfg.SimilarThreshold <= 0 {
		cfg.SimilarThreshold = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{history: history, cfg: cfg, logger: cfg.Logger}
}

// Evaluate decides whether the candidate message should divert the
// conversation to a human. The message is evaluated against stored history
// and must not have been persisted yet. First matching trigger wins.
func (e *Engine) Evaluate(ctx context.Context, convID, text string) domain.Decision {
	if e.matchesVocab(text) {
		return domain.Decision{ShouldEscalate: true, Reason: domain.ReasonExplicitRequest, Confidence: explicitConfidence}
	}

	limit := e.cfg.RepetitionWindow
	if e.cfg.SentimentWindow > limit {
		limit = e.cfg.SentimentWindow
	}
	// Fetch a wider slice than either window so the sentiment trigger sees
	// enough labeled messages even when recent ones are still unlabeled.
	prior, err := e.history.UserMessages(ctx, convID, limit*2)
	if err != nil {
		e.logger.Warn("history unavailable, triggers degrade to no-match",
			"conversation", convID, "err", err)
		return domain.Decision{}
	}

	if e.negativePattern(prior) {
		return domain.Decision{ShouldEscalate: true, Reason: domain.ReasonNegativeSentiment, Confidence: sentimentConfidence}
	}
	if e.repeatedQuery(prior, text) {
		return domain.Decision{ShouldEscalate: true, Reason: domain.ReasonRepeatedQuery, Confidence: repetitionConfidence}
	}
	return domain.Decision{}
}

func (e *Engine) matchesVocab(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range e.cfg.Vocab {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// negativePattern matches when every label in the recent window is
// negative. Unanimity over the window, not majority: recent frustration
// bursts escalate, isolated complaints do not.
func (e *Engine) negativePattern(prior []domain.Message) bool {
	var labeled []domain.SentimentLabel
	for _, m := range prior {
		if m.Sentiment.Valid() {
			labeled = append(labeled, m.Sentiment)
		}
	}
	if len(labeled) < e.cfg.MinLabeledMessages {
		return false
	}
	if len(labeled) < e.cfg.SentimentWindow {
		return false
	}
	window := labeled[len(labeled)-e.cfg.SentimentWindow:]
	for _, l := range window {
		if l != domain.SentimentNegative {
			return false
		}
	}
	return true
}

// repeatedQuery matches when the candidate message repeats recent prior
// questions, either verbatim (post-normalization) or by heavy token overlap.
func (e *Engine) repeatedQuery(prior []domain.Message, text string) bool {
	if len(prior)+1 < e.cfg.MinUserMessages {
		return false
	}

	current := normalizeQuery(text)
	currentTokens := tokenSet(current)
	if len(strings.Fields(current)) < minSignalTokens {
		return false
	}

	window := prior
	if len(window) > e.cfg.RepetitionWindow {
		window = window[len(window)-e.cfg.RepetitionWindow:]
	}

	exact, similar := 0, 0
	for _, m := range window {
		norm := normalizeQuery(m.Content)
		if len(strings.Fields(norm)) < minSignalTokens {
			continue
		}
		if norm == current {
			exact++
			continue
		}
		if overlapRatio(currentTokens, tokenSet(norm)) > e.cfg.SimilarityThreshold {
			similar++
		}
	}
	return exact >= e.cfg.ExactRepeatThreshold || similar >= e.cfg.SimilarThreshold
}

var queryPunctuation = strings.NewReplacer("?", "", ".", "", "!", "", ",", "")

// normalizeQuery lowercases, strips sentence punctuation, and collapses
// whitespace.
func normalizeQuery(text string) string {
	lower := strings.ToLower(text)
	stripped := queryPunctuation.Replace(lower)
	return strings.Join(strings.Fields(stripped), " ")
}

// tokenSet returns the distinct tokens longer than three characters.
func tokenSet(normalized string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(normalized) {
		if len(tok) > 3 {
			set[tok] = struct{}{}
		}
	}
	return set
}

// overlapRatio is |a ∩ b| over the size of the larger set.
func overlapRatio(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			shared++
		}
	}
	larger := len(a)
	if len(b) > larger {
		larger = len(b)
	}
	return float64(shared) / float64(larger)
}
