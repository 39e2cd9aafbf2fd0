// Package retrieval grounds answers in the indexed knowledge base. Documents
// are chunked on ingest and looked up per question through full-text search.
package retrieval

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"deskbot/internal/domain"
)

// Index is the storage interface behind the retrieval engine.
type Index interface {
	AddDocument(ctx context.Context, doc domain.Document, chunks []domain.DocumentChunk) error
	SearchChunks(ctx context.Context, query string, topK int) ([]domain.RetrievedDoc, error)
	ListDocuments(ctx context.Context) ([]domain.Document, error)
	DeleteDocument(ctx context.Context, id string) error
}

type EngineConfig struct {
	ChunkSize int // words per chunk (default: 512)
	Overlap   int // overlapping words between chunks (default: 50)
	Logger    *slog.Logger
}

// Engine chunks documents on the way in and filters search hits on the way
// out. It implements domain.Retriever.
type Engine struct {
	index     Index
	chunkSize int
	overlap   int
	logger    *slog.Logger
}

func NewEngine(index Index, cfg EngineConfig) *Engine {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 512
	}
	if cfg.Overlap < 0 {
		cfg.Overlap = 50
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		index:     index,
		chunkSize: cfg.ChunkSize,
		overlap:   cfg.Overlap,
		logger:    cfg.Logger,
	}
}

// IndexDocument chunks the content and stores document plus chunks. The
// document id is derived from the content hash, so re-indexing identical
// content is a no-op replace.
func (e *Engine) IndexDocument(ctx context.Context, name, mimeType, content string) (*domain.Document, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("document %s: %w: empty content", name, domain.ErrValidation)
	}

	hash := sha256.Sum256([]byte(content))
	docID := fmt.Sprintf("%x", hash[:8])

	chunks := e.chunkText(content, docID)
	doc := domain.Document{
		ID:         docID,
		Name:       name,
		MimeType:   mimeType,
		Size:       int64(len(content)),
		ChunkCount: len(chunks),
		CreatedAt:  time.Now().UTC(),
	}

	if err := e.index.AddDocument(ctx, doc, chunks); err != nil {
		return nil, fmt.Errorf("index document: %w", err)
	}

	e.logger.Info("document indexed", "name", name, "chunks", len(chunks), "size", len(content))
	return &doc, nil
}

// Retrieve returns up to limit chunks relevant to the query, dropping hits
// below minScore. An empty result is a valid answer, not an error.
func (e *Engine) Retrieve(ctx context.Context, query string, limit int, minScore float64) ([]domain.RetrievedDoc, error) {
	if limit <= 0 {
		limit = 5
	}
	hits, err := e.index.SearchChunks(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	filtered := hits[:0]
	for _, h := range hits {
		if h.Score >= minScore {
			filtered = append(filtered, h)
		}
	}
	return filtered, nil
}

func (e *Engine) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	return e.index.ListDocuments(ctx)
}

func (e *Engine) DeleteDocument(ctx context.Context, id string) error {
	return e.index.DeleteDocument(ctx, id)
}

// BuildContext renders retrieved chunks into the prompt context block. With
// no results it returns the sentinel that switches the generator into its
// decline-rather-than-fabricate instruction.
func BuildContext(docs []domain.RetrievedDoc) string {
	if len(docs) == 0 {
		return domain.NoKnowledgeContext
	}
	var sb strings.Builder
	for i, d := range docs {
		fmt.Fprintf(&sb, "[%d] (source: %s)\n", i+1, d.SourceID)
		sb.WriteString(d.Content)
		if i < len(docs)-1 {
			sb.WriteString("\n\n---\n\n")
		}
	}
	return sb.String()
}

// Sources extracts the distinct source ids in result order.
func Sources(docs []domain.RetrievedDoc) []string {
	seen := make(map[string]struct{}, len(docs))
	var out []string
	for _, d := range docs {
		if _, ok := seen[d.SourceID]; ok {
			continue
		}
		seen[d.SourceID] = struct{}{}
		out = append(out, d.SourceID)
	}
	return out
}

// chunkText splits text into overlapping chunks of approximately chunkSize
// words.
func (e *Engine) chunkText(text, docID string) []domain.DocumentChunk {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []domain.DocumentChunk
	step := e.chunkSize - e.overlap
	if step <= 0 {
		step = e.chunkSize
	}

	for i := 0; i < len(words); i += step {
		end := i + e.chunkSize
		if end > len(words) {
			end = len(words)
		}

		chunks = append(chunks, domain.DocumentChunk{
			ID:         fmt.Sprintf("%s_%d", docID, len(chunks)),
			DocumentID: docID,
			Content:    strings.Join(words[i:end], " "),
			ChunkIndex: len(chunks),
			TokenCount: end - i,
		})

		if end >= len(words) {
			break
		}
	}
	return chunks
}
