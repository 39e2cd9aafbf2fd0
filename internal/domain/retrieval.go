package domain

import (
	"context"
	"time"
)

// Document is an indexed knowledge-base document.
type Document struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	MimeType   string    `json:"mime_type"`
	Size       int64     `json:"size"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// DocumentChunk is a single indexed piece of a document.
type DocumentChunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Content    string `json:"content"`
	ChunkIndex int    `json:"chunk_index"`
	TokenCount int    `json:"token_count"`
}

// NoKnowledgeContext is the sentinel context string meaning "no relevant
// documents found". The generator receives a decline-rather-than-fabricate
// instruction when the context equals this value.
const NoKnowledgeContext = "NO_RELEVANT_CONTEXT_FOUND"

// RetrievedDoc is one grounding document returned by the retriever.
type RetrievedDoc struct {
	Content  string  `json:"content"`
	SourceID string  `json:"source_id"`
	Score    float64 `json:"score"`
}

// Retriever looks up grounding documents for a user question. The concrete
// index (full-text, vector, remote service) is an implementation detail.
type Retriever interface {
	Retrieve(ctx context.Context, query string, limit int, minScore float64) ([]RetrievedDoc, error)
}
