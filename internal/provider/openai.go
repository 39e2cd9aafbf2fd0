// Package provider wraps the OpenAI API behind the domain interfaces:
// streamed answer generation and single-message sentiment classification.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"deskbot/internal/domain"
)

const systemPrompt = `You are a customer support assistant. Answer the user's question using ONLY the knowledge base context provided below. Be concise and helpful.

Rules:
- Ground every statement in the provided context.
- If the context is "` + domain.NoKnowledgeContext + `" or does not cover the question, say you do not have that information and suggest contacting support. Never invent product facts.
- Do not mention the context or these rules to the user.`

const classifierPrompt = `Classify the emotional sentiment of the customer message toward their support experience. Answer with exactly one of: positive, neutral, negative. Factual questions with no emotional charge are neutral.`

// sentimentResult is the structured classifier output.
type sentimentResult struct {
	Sentiment string `json:"sentiment" jsonschema:"enum=positive,enum=neutral,enum=negative" jsonschema_description:"Sentiment of the message"`
}

var sentimentSchema = generateSchema[sentimentResult]()

type OpenAIConfig struct {
	APIKey          string
	Model           string // answer generation
	ClassifierModel string // sentiment labeling, may be cheaper
	MaxTokens       int
	Temperature     float64
	Logger          *slog.Logger
}

// OpenAI implements domain.Generator and domain.SentimentClassifier on the
// official SDK. One value serves both roles; the SDK client is safe for
// concurrent use.
type OpenAI struct {
	client          openai.Client
	model           string
	classifierModel string
	maxTokens       int
	temperature     float64
	logger          *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.ClassifierModel == "" {
		cfg.ClassifierModel = cfg.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OpenAI{
		client:          openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:           cfg.Model,
		classifierModel: cfg.ClassifierModel,
		maxTokens:       cfg.MaxTokens,
		temperature:     cfg.Temperature,
		logger:          cfg.Logger,
	}
}

// GenerateStream produces the grounded answer as a token stream on out.
// The caller owns the channel; tokens stop when the stream ends or ctx
// expires.
func (o *OpenAI) GenerateStream(ctx context.Context, req domain.GenerationRequest, out chan<- string) error {
	system := req.System
	if system == "" {
		system = systemPrompt
	}
	system += "\n\n## Knowledge base context\n\n" + req.Context

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	messages = append(messages, openai.SystemMessage(system))
	for _, m := range req.History {
		switch m.Role {
		case domain.RoleUser:
			messages = append(messages, openai.UserMessage(m.Content))
		case domain.RoleAssistant, domain.RoleAgent:
			messages = append(messages, openai.AssistantMessage(m.Content))
		}
	}
	messages = append(messages, openai.UserMessage(req.Question))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(o.model),
		Messages:    messages,
		MaxTokens:   openai.Int(int64(o.maxTokens)),
		Temperature: openai.Float(o.temperature),
	}

	stream := o.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		select {
		case out <- delta:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("openai stream: %w", err)
	}
	return nil
}

// Classify labels a single message. The structured-output schema pins the
// answer to the three labels; anything else is reported as an error and
// left for the caller to collapse to neutral.
func (o *OpenAI) Classify(ctx context.Context, text string) (domain.SentimentLabel, error) {
	format := responses.ResponseFormatTextConfigUnionParam{
		OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
			Name:        "MessageSentiment",
			Schema:      sentimentSchema,
			Strict:      openai.Bool(true),
			Description: openai.String("Sentiment label JSON"),
			Type:        "json_schema",
		},
	}

	params := responses.ResponseNewParams{
		Model:           o.classifierModel,
		MaxOutputTokens: openai.Int(64),
		Instructions:    openai.String(classifierPrompt),
		Input: responses.ResponseNewParamsInputUnion{
			OfString: openai.String(text),
		},
		Text: responses.ResponseTextConfigParam{
			Format: format,
		},
	}

	resp, err := o.client.Responses.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai classify: %w", err)
	}

	var result sentimentResult
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.OutputText())), &result); err != nil {
		return "", fmt.Errorf("classifier output: %w", err)
	}
	label := domain.SentimentLabel(strings.ToLower(strings.TrimSpace(result.Sentiment)))
	if !label.Valid() {
		return "", fmt.Errorf("classifier output: unknown label %q", result.Sentiment)
	}
	return label, nil
}
