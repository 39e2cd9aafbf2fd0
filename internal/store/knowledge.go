package store

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"deskbot/internal/domain"
)

// AddDocument stores a document and its chunks in one transaction. Indexing
// the same content twice replaces the previous copy.
func (s *SQLiteStore) AddDocument(ctx context.Context, doc domain.Document, chunks []domain.DocumentChunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, doc.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents (id, name, mime_type, size, chunk_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, mime_type = excluded.mime_type,
		     size = excluded.size, chunk_count = excluded.chunk_count`,
		doc.ID, doc.Name, doc.MimeType, doc.Size, doc.ChunkCount, doc.CreatedAt,
	); err != nil {
		return err
	}
	for _, c := range chunks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (id, document_id, content, chunk_index, token_count)
			 VALUES (?, ?, ?, ?, ?)`,
			c.ID, c.DocumentID, c.Content, c.ChunkIndex, c.TokenCount,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SearchChunks runs a full-text query over the chunk index and returns the
// top-k hits with a score in (0, 1], higher is better.
func (s *SQLiteStore) SearchChunks(ctx context.Context, query string, topK int) ([]domain.RetrievedDoc, error) {
	match := ftsMatchExpr(query)
	if match == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = 5
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.content, bm25(chunks_fts) AS rank
		 FROM chunks_fts f
		 JOIN chunks c ON c.rowid = f.rowid
		 WHERE chunks_fts MATCH ?
		 ORDER BY rank LIMIT ?`, match, topK)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	defer rows.Close()

	var results []domain.RetrievedDoc
	for rows.Next() {
		var doc domain.RetrievedDoc
		var rank float64
		if err := rows.Scan(&doc.SourceID, &doc.Content, &rank); err != nil {
			return nil, err
		}
		// bm25 ranks are negative, more negative = better. Map onto (0, 1].
		doc.Score = -rank / (1 - rank)
		results = append(results, doc)
	}
	return results, rows.Err()
}

// ListDocuments returns all indexed documents, newest first.
func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, mime_type, size, chunk_count, created_at
		 FROM documents ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		var d domain.Document
		if err := rows.Scan(&d.ID, &d.Name, &d.MimeType, &d.Size, &d.ChunkCount, &d.CreatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document and its chunks (FTS rows go via trigger).
func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	return err
}

// ftsMatchExpr builds a safe MATCH expression: each alphanumeric term is
// quoted so user punctuation cannot break FTS5 query syntax.
func ftsMatchExpr(query string) string {
	terms := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " OR ")
}
