// Package store implements the conversation state store and the full-text
// knowledge index on SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"deskbot/internal/domain"
)

// SQLiteStore implements domain.ConversationStore.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return s, nil
}

// newMessageID returns a ULID: lexicographically sortable by creation time,
// which keeps id ordering consistent with created_at ordering.
func (s *SQLiteStore) newMessageID() string {
	return ulid.Make().String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id          TEXT PRIMARY KEY,
		session_id  TEXT NOT NULL,
		status      TEXT NOT NULL DEFAULT 'active',
		sentiment   TEXT NOT NULL DEFAULT '',
		metadata    TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_session ON conversations(session_id, status);

	CREATE TABLE IF NOT EXISTS messages (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		role            TEXT NOT NULL,
		content         TEXT NOT NULL,
		sentiment       TEXT NOT NULL DEFAULT '',
		sources         TEXT,
		agent_name      TEXT NOT NULL DEFAULT '',
		ticket_id       TEXT NOT NULL DEFAULT '',
		created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conv ON messages(conversation_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_conv_role ON messages(conversation_id, role, created_at);

	CREATE TABLE IF NOT EXISTS feedback (
		message_id    TEXT PRIMARY KEY,
		rating        INTEGER NOT NULL,
		feedback_text TEXT NOT NULL DEFAULT '',
		created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		action          TEXT NOT NULL,
		conversation_id TEXT,
		detail          TEXT,
		created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_audit_time ON audit_log(created_at);

	CREATE TABLE IF NOT EXISTS documents (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		mime_type   TEXT NOT NULL DEFAULT '',
		size        INTEGER NOT NULL DEFAULT 0,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id          TEXT PRIMARY KEY,
		document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		content     TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		token_count INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(document_id);

	CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
		content,
		content=chunks,
		content_rowid=rowid
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// FTS5 triggers keep the index in sync with the chunks table.
	s.db.Exec(`CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
		INSERT INTO chunks_fts(rowid, content) VALUES (new.rowid, new.content);
	END`)
	s.db.Exec(`CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
		INSERT INTO chunks_fts(chunks_fts, rowid, content) VALUES('delete', old.rowid, old.content);
	END`)

	return nil
}

func (s *SQLiteStore) CreateConversation(ctx context.Context, conv domain.Conversation) error {
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = now
	}
	if conv.Status == "" {
		conv.Status = domain.StatusActive
	}
	if !conv.Status.Valid() {
		return fmt.Errorf("invalid conversation status %q", conv.Status)
	}

	meta, err := marshalMeta(conv.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, session_id, status, sentiment, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.SessionID, string(conv.Status), string(conv.Sentiment), meta, conv.CreatedAt, conv.UpdatedAt,
	)
	return err
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	return s.scanConversation(s.db.QueryRowContext(ctx,
		`SELECT id, session_id, status, sentiment, metadata, created_at, updated_at
		 FROM conversations WHERE id = ?`, id))
}

func (s *SQLiteStore) ActiveConversation(ctx context.Context, sessionID string) (*domain.Conversation, error) {
	return s.scanConversation(s.db.QueryRowContext(ctx,
		`SELECT id, session_id, status, sentiment, metadata, created_at, updated_at
		 FROM conversations
		 WHERE session_id = ? AND status = ?
		 ORDER BY created_at DESC LIMIT 1`, sessionID, string(domain.StatusActive)))
}

func (s *SQLiteStore) FindByTicket(ctx context.Context, ticketID string) (*domain.Conversation, error) {
	return s.scanConversation(s.db.QueryRowContext(ctx,
		`SELECT id, session_id, status, sentiment, metadata, created_at, updated_at
		 FROM conversations
		 WHERE json_extract(metadata, '$.`+domain.MetaTicketID+`') = ?
		 ORDER BY updated_at DESC LIMIT 1`, ticketID))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanConversation(row rowScanner) (*domain.Conversation, error) {
	var conv domain.Conversation
	var status, sentiment string
	var meta sql.NullString
	err := row.Scan(&conv.ID, &conv.SessionID, &status, &sentiment, &meta, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	conv.Status = domain.ConversationStatus(status)
	conv.Sentiment = domain.SentimentLabel(sentiment)
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &conv.Metadata); err != nil {
			return nil, fmt.Errorf("decode conversation metadata: %w", err)
		}
	}
	return &conv, nil
}

// MarkEscalated performs the active -> escalated transition as a single
// compare-and-swap UPDATE. The WHERE clause on status is what makes a racing
// duplicate escalation observe affected=0 and skip notification.
func (s *SQLiteStore) MarkEscalated(ctx context.Context, id string, reason domain.EscalationReason, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations
		 SET status = ?,
		     updated_at = ?,
		     metadata = json_set(COALESCE(metadata, '{}'),
		         '$.`+domain.MetaEscalationReason+`', ?,
		         '$.`+domain.MetaEscalatedAt+`', ?)
		 WHERE id = ? AND status = ?`,
		string(domain.StatusEscalated), at.UTC(),
		string(reason), at.UTC().Format(time.RFC3339),
		id, string(domain.StatusActive),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) MarkResolved(ctx context.Context, id, resolvedBy string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations
		 SET status = ?,
		     updated_at = ?,
		     metadata = json_set(COALESCE(metadata, '{}'),
		         '$.`+domain.MetaResolvedAt+`', ?,
		         '$.`+domain.MetaResolvedBy+`', ?)
		 WHERE id = ? AND status = ?`,
		string(domain.StatusResolved), at.UTC(),
		at.UTC().Format(time.RFC3339), resolvedBy,
		id, string(domain.StatusEscalated),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) SetConversationMeta(ctx context.Context, id, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations
		 SET metadata = json_set(COALESCE(metadata, '{}'), '$.'||?, ?), updated_at = ?
		 WHERE id = ?`,
		key, value, time.Now().UTC(), id,
	)
	return err
}

func (s *SQLiteStore) SetRollupSentiment(ctx context.Context, id string, label domain.SentimentLabel) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET sentiment = ?, updated_at = ? WHERE id = ?`,
		string(label), time.Now().UTC(), id,
	)
	return err
}

func (s *SQLiteStore) AddMessage(ctx context.Context, msg domain.Message) error {
	if msg.Content == "" {
		return fmt.Errorf("%w: message content is required", domain.ErrValidation)
	}
	if !msg.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", domain.ErrValidation, msg.Role)
	}
	if msg.ID == "" {
		msg.ID = s.newMessageID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	var sources sql.NullString
	if len(msg.Sources) > 0 {
		b, err := json.Marshal(msg.Sources)
		if err != nil {
			return fmt.Errorf("encode sources: %w", err)
		}
		sources = sql.NullString{String: string(b), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, sentiment, sources, agent_name, ticket_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, string(msg.Role), msg.Content, string(msg.Sentiment),
		sources, msg.AgentName, msg.TicketID, msg.CreatedAt,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, msg.CreatedAt, msg.ConversationID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Messages(ctx context.Context, convID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryMessages(ctx,
		`SELECT id, conversation_id, role, content, sentiment, sources, agent_name, ticket_id, created_at
		 FROM (
		     SELECT * FROM messages WHERE conversation_id = ?
		     ORDER BY created_at DESC, id DESC LIMIT ?
		 ) ORDER BY created_at ASC, id ASC`, convID, limit)
}

func (s *SQLiteStore) UserMessages(ctx context.Context, convID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryMessages(ctx,
		`SELECT id, conversation_id, role, content, sentiment, sources, agent_name, ticket_id, created_at
		 FROM (
		     SELECT * FROM messages WHERE conversation_id = ? AND role = ?
		     ORDER BY created_at DESC, id DESC LIMIT ?
		 ) ORDER BY created_at ASC, id ASC`, convID, string(domain.RoleUser), limit)
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		var role, sentiment string
		var sources sql.NullString
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &sentiment,
			&sources, &m.AgentName, &m.TicketID, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = domain.Role(role)
		m.Sentiment = domain.SentimentLabel(sentiment)
		if sources.Valid && sources.String != "" {
			if err := json.Unmarshal([]byte(sources.String), &m.Sources); err != nil {
				return nil, fmt.Errorf("decode message sources: %w", err)
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *SQLiteStore) SetMessageSentiment(ctx context.Context, messageID string, label domain.SentimentLabel) error {
	if !label.Valid() {
		return fmt.Errorf("invalid sentiment label %q", label)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET sentiment = ? WHERE id = ?`, string(label), messageID)
	return err
}

func (s *SQLiteStore) AgentRepliesSince(ctx context.Context, sessionID string, after time.Time) ([]domain.Message, bool, error) {
	var convID, status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, status FROM conversations
		 WHERE session_id = ? AND status IN (?, ?)
		 ORDER BY updated_at DESC LIMIT 1`,
		sessionID, string(domain.StatusEscalated), string(domain.StatusResolved),
	).Scan(&convID, &status)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	msgs, err := s.queryMessages(ctx,
		`SELECT id, conversation_id, role, content, sentiment, sources, agent_name, ticket_id, created_at
		 FROM messages
		 WHERE conversation_id = ? AND role = ? AND created_at > ?
		 ORDER BY created_at ASC, id ASC`,
		convID, string(domain.RoleAgent), after.UTC())
	if err != nil {
		return nil, false, err
	}
	return msgs, status == string(domain.StatusResolved), nil
}

func (s *SQLiteStore) UpsertFeedback(ctx context.Context, fb domain.Feedback) error {
	if fb.MessageID == "" {
		return fmt.Errorf("%w: message id is required", domain.ErrValidation)
	}
	if fb.Rating != 1 && fb.Rating != -1 {
		return fmt.Errorf("%w: rating must be 1 or -1", domain.ErrValidation)
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feedback (message_id, rating, feedback_text, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(message_id) DO UPDATE SET rating = excluded.rating,
		     feedback_text = excluded.feedback_text, created_at = excluded.created_at`,
		fb.MessageID, fb.Rating, fb.Text, fb.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) AppendAudit(ctx context.Context, ev domain.AuditEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (action, conversation_id, detail, created_at) VALUES (?, ?, ?, ?)`,
		ev.Action, ev.ConversationID, ev.Detail, ev.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func marshalMeta(meta map[string]string) (sql.NullString, error) {
	if len(meta) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode metadata: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
