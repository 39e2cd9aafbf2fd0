package sentiment

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"deskbot/internal/domain"
)

type scriptedClassifier struct {
	labels []domain.SentimentLabel
	errs   []error
	calls  int
}

func (c *scriptedClassifier) Classify(ctx context.Context, text string) (domain.SentimentLabel, error) {
	i := c.calls
	c.calls++
	var err error
	if i < len(c.errs) {
		err = c.errs[i]
	}
	var label domain.SentimentLabel
	if i < len(c.labels) {
		label = c.labels[i]
	}
	return label, err
}

type recordingStore struct {
	messages      []domain.Message
	messagesErr   error
	labeled       map[string]domain.SentimentLabel
	rollup        domain.SentimentLabel
	rollupWritten bool
}

func (s *recordingStore) SetMessageSentiment(ctx context.Context, messageID string, label domain.SentimentLabel) error {
	if s.labeled == nil {
		s.labeled = map[string]domain.SentimentLabel{}
	}
	s.labeled[messageID] = label
	return nil
}

func (s *recordingStore) UserMessages(ctx context.Context, convID string, limit int) ([]domain.Message, error) {
	return s.messages, s.messagesErr
}

func (s *recordingStore) SetRollupSentiment(ctx context.Context, id string, label domain.SentimentLabel) error {
	s.rollup = label
	s.rollupWritten = true
	return nil
}

func testLabeler(c domain.SentimentClassifier, s MessageStore) *Labeler {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewLabeler(c, s, time.Second, logger)
}

func TestLabelMessage_PersistsLabelAndRollup(t *testing.T) {
	classifier := &scriptedClassifier{labels: []domain.SentimentLabel{domain.SentimentNegative}}
	store := &recordingStore{messages: []domain.Message{
		{Sentiment: domain.SentimentNegative},
		{Sentiment: domain.SentimentNegative},
		{Sentiment: domain.SentimentNeutral},
	}}
	l := testLabeler(classifier, store)

	got := l.LabelMessage(context.Background(), "conv1", "msg1", "this is broken")
	if got != domain.SentimentNegative {
		t.Errorf("label = %s, want negative", got)
	}
	if store.labeled["msg1"] != domain.SentimentNegative {
		t.Errorf("stored label = %s, want negative", store.labeled["msg1"])
	}
	if !store.rollupWritten || store.rollup != domain.SentimentNegative {
		t.Errorf("rollup = %s (written=%v), want negative", store.rollup, store.rollupWritten)
	}
}

func TestLabelMessage_RetriesOnce(t *testing.T) {
	classifier := &scriptedClassifier{
		errs:   []error{errors.New("transient"), nil},
		labels: []domain.SentimentLabel{"", domain.SentimentPositive},
	}
	store := &recordingStore{}
	l := testLabeler(classifier, store)

	got := l.LabelMessage(context.Background(), "conv1", "msg1", "works great now")
	if got != domain.SentimentPositive {
		t.Errorf("label = %s, want positive after retry", got)
	}
	if classifier.calls != 2 {
		t.Errorf("classifier calls = %d, want 2", classifier.calls)
	}
}

func TestLabelMessage_FailureDefaultsToNeutral(t *testing.T) {
	classifier := &scriptedClassifier{errs: []error{errors.New("down"), errors.New("down")}}
	store := &recordingStore{}
	l := testLabeler(classifier, store)

	got := l.LabelMessage(context.Background(), "conv1", "msg1", "hello")
	if got != domain.SentimentNeutral {
		t.Errorf("label = %s, want neutral on persistent failure", got)
	}
	if classifier.calls != 2 {
		t.Errorf("classifier calls = %d, want 2", classifier.calls)
	}
}

func TestLabelMessage_OffVocabularyCollapsesToNeutral(t *testing.T) {
	classifier := &scriptedClassifier{labels: []domain.SentimentLabel{"enthusiastic"}}
	store := &recordingStore{}
	l := testLabeler(classifier, store)

	got := l.LabelMessage(context.Background(), "conv1", "msg1", "hello")
	if got != domain.SentimentNeutral {
		t.Errorf("label = %s, want neutral for an off-vocabulary answer", got)
	}
	if classifier.calls != 1 {
		t.Errorf("classifier calls = %d, off-vocabulary answers must not retry", classifier.calls)
	}
}

func TestLabelMessage_RollupSkippedWhenHistoryUnavailable(t *testing.T) {
	classifier := &scriptedClassifier{labels: []domain.SentimentLabel{domain.SentimentNeutral}}
	store := &recordingStore{messagesErr: errors.New("store down")}
	l := testLabeler(classifier, store)

	l.LabelMessage(context.Background(), "conv1", "msg1", "hello")
	if store.rollupWritten {
		t.Error("rollup must not be written when history is unavailable")
	}
	if store.labeled["msg1"] != domain.SentimentNeutral {
		t.Error("per-message label must still be written")
	}
}

func TestRollup(t *testing.T) {
	neg, pos, neu := domain.SentimentNegative, domain.SentimentPositive, domain.SentimentNeutral
	cases := []struct {
		name   string
		labels []domain.SentimentLabel
		want   domain.SentimentLabel
	}{
		{"empty", nil, neu},
		{"negative majority", []domain.SentimentLabel{neg, neg, pos}, neg},
		{"positive majority", []domain.SentimentLabel{pos, pos, pos, neg}, pos},
		{"exact half is not a majority", []domain.SentimentLabel{neg, neg, pos, pos}, neu},
		{"neutral plurality", []domain.SentimentLabel{neu, neu, neg, pos}, neu},
		{"single negative", []domain.SentimentLabel{neg}, neg},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Rollup(c.labels); got != c.want {
				t.Errorf("Rollup(%v) = %s, want %s", c.labels, got, c.want)
			}
		})
	}
}
