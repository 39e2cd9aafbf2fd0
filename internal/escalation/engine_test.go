package escalation

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"deskbot/internal/domain"
)

type fakeHistory struct {
	messages []domain.Message
	err      error
}

func (f *fakeHistory) UserMessages(ctx context.Context, convID string, limit int) ([]domain.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	msgs := f.messages
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func userMsgs(contents []string, labels []domain.SentimentLabel) []domain.Message {
	base := time.Now().Add(-time.Hour)
	msgs := make([]domain.Message, len(contents))
	for i, c := range contents {
		msgs[i] = domain.Message{
			Role:      domain.RoleUser,
			Content:   c,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if labels != nil {
			msgs[i].Sentiment = labels[i]
		}
	}
	return msgs
}

func testEngine(history HistoryReader) *Engine {
	return NewEngine(history, EngineConfig{
		Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	})
}

// --- explicit request ---

func TestEvaluate_ExplicitRequest(t *testing.T) {
	engine := testEngine(&fakeHistory{})

	cases := []string{
		"I need to speak to a human",
		"GET ME AN AGENT",
		"can I talk to someone about this",
		"your manager, now",
		"please escalate this issue",
	}
	for _, text := range cases {
		d := engine.Evaluate(context.Background(), "conv1", text)
		if !d.ShouldEscalate {
			t.Errorf("%q: expected escalation", text)
			continue
		}
		if d.Reason != domain.ReasonExplicitRequest {
			t.Errorf("%q: expected explicit_request, got %s", text, d.Reason)
		}
		if d.Confidence != 1.0 {
			t.Errorf("%q: expected confidence 1.0, got %f", text, d.Confidence)
		}
	}
}

func TestEvaluate_ExplicitRequest_IgnoresHistory(t *testing.T) {
	// Explicit request wins even when history is unreadable.
	engine := testEngine(&fakeHistory{err: errors.New("store down")})
	d := engine.Evaluate(context.Background(), "conv1", "let me talk to a live agent")
	if !d.ShouldEscalate || d.Reason != domain.ReasonExplicitRequest {
		t.Errorf("expected explicit_request, got %+v", d)
	}
}

// --- negative sentiment ---

func negLabels(n int) []domain.SentimentLabel {
	labels := make([]domain.SentimentLabel, n)
	for i := range labels {
		labels[i] = domain.SentimentNegative
	}
	return labels
}

func TestEvaluate_NegativeSentiment_Unanimous(t *testing.T) {
	history := &fakeHistory{messages: userMsgs(
		[]string{"it does not work", "tried that already", "this is useless"},
		negLabels(3),
	)}
	engine := testEngine(history)

	d := engine.Evaluate(context.Background(), "conv1", "still broken")
	if !d.ShouldEscalate {
		t.Fatal("expected escalation on unanimous negative window")
	}
	if d.Reason != domain.ReasonNegativeSentiment {
		t.Errorf("expected negative_sentiment, got %s", d.Reason)
	}
	if d.Confidence != 0.9 {
		t.Errorf("expected confidence 0.9, got %f", d.Confidence)
	}
}

func TestEvaluate_NegativeSentiment_TwoOfThreeDoesNotFire(t *testing.T) {
	history := &fakeHistory{messages: userMsgs(
		[]string{"it does not work", "ok thanks", "this is useless"},
		[]domain.SentimentLabel{domain.SentimentNegative, domain.SentimentNeutral, domain.SentimentNegative},
	)}
	engine := testEngine(history)

	d := engine.Evaluate(context.Background(), "conv1", "still broken")
	if d.ShouldEscalate {
		t.Errorf("2 of 3 negative must not escalate, got %+v", d)
	}
}

func TestEvaluate_NegativeSentiment_TooFewLabels(t *testing.T) {
	history := &fakeHistory{messages: userMsgs(
		[]string{"it does not work"},
		negLabels(1),
	)}
	engine := testEngine(history)

	d := engine.Evaluate(context.Background(), "conv1", "still broken")
	if d.ShouldEscalate {
		t.Errorf("one labeled message must not escalate, got %+v", d)
	}
}

func TestEvaluate_NegativeSentiment_WindowIsRecent(t *testing.T) {
	// Old positivity must not mask a recent negative burst.
	history := &fakeHistory{messages: userMsgs(
		[]string{"great thanks", "love it", "now it broke", "still failing badly", "nothing works anymore"},
		[]domain.SentimentLabel{
			domain.SentimentPositive, domain.SentimentPositive,
			domain.SentimentNegative, domain.SentimentNegative, domain.SentimentNegative,
		},
	)}
	engine := testEngine(history)

	d := engine.Evaluate(context.Background(), "conv1", "please fix this")
	if !d.ShouldEscalate || d.Reason != domain.ReasonNegativeSentiment {
		t.Errorf("expected negative_sentiment over recent window, got %+v", d)
	}
}

func TestEvaluate_UnlabeledMessagesSkipped(t *testing.T) {
	// Unlabeled messages (classifier still running or degraded) are not
	// counted as any sentiment.
	history := &fakeHistory{messages: userMsgs(
		[]string{"bad", "bad", "pending label"},
		[]domain.SentimentLabel{domain.SentimentNegative, domain.SentimentNegative, ""},
	)}
	engine := testEngine(history)

	d := engine.Evaluate(context.Background(), "conv1", "still broken")
	if d.ShouldEscalate {
		t.Errorf("two labels must not satisfy a window of three, got %+v", d)
	}
}

// --- repeated query ---

func TestEvaluate_RepeatedQuery_ExactMatches(t *testing.T) {
	history := &fakeHistory{messages: userMsgs([]string{
		"how do I reset my hub?",
		"how do I reset my hub?",
		"some other question entirely",
		"how do I reset my hub?",
	}, nil)}
	engine := testEngine(history)

	d := engine.Evaluate(context.Background(), "conv1", "How do I reset my hub?")
	if !d.ShouldEscalate {
		t.Fatal("expected escalation on repeated query")
	}
	if d.Reason != domain.ReasonRepeatedQuery {
		t.Errorf("expected repeated_query, got %s", d.Reason)
	}
	if d.Confidence != 0.85 {
		t.Errorf("expected confidence 0.85, got %f", d.Confidence)
	}
}

func TestEvaluate_RepeatedQuery_NormalizationMatters(t *testing.T) {
	history := &fakeHistory{messages: userMsgs([]string{
		"How do I reset my hub?!",
		"how   do i reset my hub",
		"unrelated question about billing",
		"another unrelated question",
	}, nil)}
	engine := testEngine(history)

	d := engine.Evaluate(context.Background(), "conv1", "how do i reset my hub?")
	if !d.ShouldEscalate || d.Reason != domain.ReasonRepeatedQuery {
		t.Errorf("punctuation and case must not defeat exact matching, got %+v", d)
	}
}

func TestEvaluate_RepeatedQuery_TooFewMessages(t *testing.T) {
	history := &fakeHistory{messages: userMsgs([]string{
		"how do I reset my hub?",
		"how do I reset my hub?",
	}, nil)}
	engine := testEngine(history)

	d := engine.Evaluate(context.Background(), "conv1", "how do I reset my hub?")
	if d.ShouldEscalate {
		t.Errorf("too few user messages for eligibility, got %+v", d)
	}
}

func TestEvaluate_RepeatedQuery_ShortMessagesIneligible(t *testing.T) {
	history := &fakeHistory{messages: userMsgs([]string{
		"help", "help", "help", "help",
	}, nil)}
	engine := testEngine(history)

	d := engine.Evaluate(context.Background(), "conv1", "help")
	if d.ShouldEscalate {
		t.Errorf("messages under three tokens carry no repetition signal, got %+v", d)
	}
}

func TestEvaluate_RepeatedQuery_HighSimilarity(t *testing.T) {
	history := &fakeHistory{messages: userMsgs([]string{
		"reset instructions for my smart hub device",
		"reset instructions for the smart hub device",
		"reset instructions for a smart hub device",
		"a completely different question about my invoice",
	}, nil)}
	engine := testEngine(history)

	d := engine.Evaluate(context.Background(), "conv1", "reset instructions for our smart hub device")
	if !d.ShouldEscalate || d.Reason != domain.ReasonRepeatedQuery {
		t.Errorf("expected similarity-based repeat detection, got %+v", d)
	}
}

func TestEvaluate_RepeatedQuery_ExactMatchCountsOnce(t *testing.T) {
	// A verbatim repeat lands in the exact tally only, never in the
	// near-repeat tally it would also satisfy. One exact plus two
	// near-repeats stays below both thresholds (2 exact, 3 similar).
	history := &fakeHistory{messages: userMsgs([]string{
		"reset instructions for my smart hub device",
		"reset instructions for the smart hub device",
		"reset instructions for a smart hub device",
	}, nil)}
	engine := testEngine(history)

	d := engine.Evaluate(context.Background(), "conv1", "reset instructions for my smart hub device")
	if d.ShouldEscalate {
		t.Errorf("1 exact + 2 near-repeats must not escalate, got %+v", d)
	}
}

func TestEvaluate_RepeatedQuery_WindowExcludesOldMessages(t *testing.T) {
	// Two exact repeats exist, but both fall outside the 6-message window.
	contents := []string{
		"how do I reset my hub?",
		"how do I reset my hub?",
		"different question one here",
		"different question two here",
		"different question three here",
		"different question four here",
		"different question five here",
		"different question six here",
	}
	history := &fakeHistory{messages: userMsgs(contents, nil)}
	engine := testEngine(history)

	d := engine.Evaluate(context.Background(), "conv1", "how do I reset my hub?")
	if d.ShouldEscalate {
		t.Errorf("repeats outside the window must not count, got %+v", d)
	}
}

// --- priority and defaults ---

func TestEvaluate_PriorityOrder(t *testing.T) {
	// History satisfies both sentiment and repetition; message also contains
	// an explicit phrase. Highest priority reason must win.
	history := &fakeHistory{messages: userMsgs(
		[]string{"this is broken", "this is broken", "this is broken", "this is broken"},
		negLabels(4),
	)}
	engine := testEngine(history)

	d := engine.Evaluate(context.Background(), "conv1", "this is broken, give me a human")
	if d.Reason != domain.ReasonExplicitRequest {
		t.Errorf("explicit request must outrank other triggers, got %s", d.Reason)
	}

	d = engine.Evaluate(context.Background(), "conv1", "this is broken")
	if d.Reason != domain.ReasonNegativeSentiment {
		t.Errorf("negative sentiment must outrank repetition, got %s", d.Reason)
	}
}

func TestEvaluate_NoMatch(t *testing.T) {
	engine := testEngine(&fakeHistory{})
	d := engine.Evaluate(context.Background(), "conv1", "What is the price?")
	if d.ShouldEscalate {
		t.Errorf("fresh conversation must not escalate, got %+v", d)
	}
	if d.Confidence != 0 {
		t.Errorf("expected confidence 0, got %f", d.Confidence)
	}
	if d.Reason != "" {
		t.Errorf("expected empty reason, got %s", d.Reason)
	}
}

func TestEvaluate_HistoryFailureDegradesToNoMatch(t *testing.T) {
	engine := testEngine(&fakeHistory{err: errors.New("store down")})
	d := engine.Evaluate(context.Background(), "conv1", "this keeps failing over and over")
	if d.ShouldEscalate {
		t.Errorf("history failure must degrade to no-match, got %+v", d)
	}
}

// --- normalization helpers ---

func TestNormalizeQuery(t *testing.T) {
	cases := []struct{ in, want string }{
		{"How do I reset my Hub?!", "how do i reset my hub"},
		{"  spaced   out\ttext ", "spaced out text"},
		{"no-change needed", "no-change needed"},
		{"trailing, commas, stay.", "trailing commas stay"},
	}
	for _, c := range cases {
		if got := normalizeQuery(c.in); got != c.want {
			t.Errorf("normalizeQuery(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestOverlapRatio(t *testing.T) {
	a := tokenSet("reset instructions smart device")
	b := tokenSet("reset instructions smart device")
	if r := overlapRatio(a, b); r != 1.0 {
		t.Errorf("identical sets: expected 1.0, got %f", r)
	}

	c := tokenSet("completely different invoice words")
	if r := overlapRatio(a, c); r != 0 {
		t.Errorf("disjoint sets: expected 0, got %f", r)
	}

	if r := overlapRatio(a, tokenSet("")); r != 0 {
		t.Errorf("empty set: expected 0, got %f", r)
	}
}
