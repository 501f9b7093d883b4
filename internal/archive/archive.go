// Package archive is the durable tier behind working memory. Every accepted
// message and every summary version lands here in SQLite; working memory can
// be rebuilt from it after an eviction or a restart.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/athlete-space/coachmem/internal/chatmsg"
	"github.com/athlete-space/coachmem/internal/summary"
)

const schemaVersion = 1

// Store wraps the archive database. Messages are append-only; summaries are
// immutable rows keyed by (conversation_id, version) with versions assigned
// inside a transaction so concurrent writers can never collide.
type Store struct {
	db *sql.DB
}

// Open opens (and if needed bootstraps) the archive at baseDir/coachmem.db.
// Tests pass t.TempDir() as baseDir.
func Open(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	dsn := filepath.Join(baseDir, "coachmem.db") + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open archive database: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS messages (
		  id              TEXT PRIMARY KEY,
		  conversation_id TEXT NOT NULL,
		  user_id         TEXT NOT NULL,
		  role            TEXT NOT NULL,
		  content         TEXT NOT NULL,
		  tokens          INTEGER NOT NULL,
		  metadata_json   TEXT,
		  created_at      TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
		ON messages(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS summaries (
		  conversation_id TEXT NOT NULL,
		  version         INTEGER NOT NULL,
		  payload_json    TEXT NOT NULL,
		  created_at      TEXT NOT NULL,
		  PRIMARY KEY (conversation_id, version)
		);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("apply schema migration 1: %w", err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", schemaVersion)); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	}
	return nil
}

// SaveMessage appends one message. Re-saving the same message id is a no-op,
// which makes retried background writes safe.
func (s *Store) SaveMessage(ctx context.Context, msg chatmsg.Message) error {
	if msg.ID == "" {
		return fmt.Errorf("archive message without id")
	}
	var metadata any
	if len(msg.Metadata) > 0 {
		encoded, err := json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("encode message metadata: %w", err)
		}
		metadata = string(encoded)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages
		  (id, conversation_id, user_id, role, content, tokens, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.UserID, string(msg.Role), msg.Content,
		msg.Tokens, metadata, msg.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("archive message %s: %w", msg.ID, err)
	}
	return nil
}

// RecentMessages returns the newest limit messages for the conversation,
// oldest first. It backs the history reader's fallback path.
func (s *Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]chatmsg.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	// Order by rowid, not created_at: RFC3339Nano strips trailing zeros from
	// fractional seconds, so the stored strings do not sort chronologically
	// when one fraction is a prefix of another. rowid is insertion order.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, user_id, role, content, tokens, metadata_json, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY rowid DESC
		LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("read archived messages: %w", err)
	}
	defer rows.Close()

	var out []chatmsg.Message
	for rows.Next() {
		var (
			msg      chatmsg.Message
			role     string
			metadata sql.NullString
			created  string
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.UserID, &role,
			&msg.Content, &msg.Tokens, &metadata, &created); err != nil {
			return nil, fmt.Errorf("scan archived message: %w", err)
		}
		msg.Role = chatmsg.Role(role)
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			msg.Timestamp = ts
		}
		if metadata.Valid {
			if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata for message %s: %w", msg.ID, err)
			}
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read archived messages: %w", err)
	}
	// Reverse the DESC scan so callers get chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// AppendSummary stores the summary as a new immutable row and returns the
// version it was assigned. The next version is computed inside the same
// transaction as the insert.
func (s *Store) AppendSummary(ctx context.Context, conversationID string, sum summary.ConversationSummary) (int, error) {
	payload, err := json.Marshal(sum)
	if err != nil {
		return 0, fmt.Errorf("encode summary: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin summary transaction: %w", err)
	}
	defer tx.Rollback()

	var version int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM summaries WHERE conversation_id = ?`,
		conversationID,
	).Scan(&version); err != nil {
		return 0, fmt.Errorf("assign summary version: %w", err)
	}

	createdAt := sum.LastUpdated
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO summaries (conversation_id, version, payload_json, created_at)
		VALUES (?, ?, ?, ?)`,
		conversationID, version, string(payload), createdAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return 0, fmt.Errorf("archive summary v%d: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit summary v%d: %w", version, err)
	}
	return version, nil
}

// LatestSummary returns the highest-version summary for the conversation, or
// (nil, 0, nil) when none has been written yet.
func (s *Store) LatestSummary(ctx context.Context, conversationID string) (*summary.ConversationSummary, int, error) {
	var (
		version int
		payload string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT version, payload_json
		FROM summaries
		WHERE conversation_id = ?
		ORDER BY version DESC
		LIMIT 1`,
		conversationID,
	).Scan(&version, &payload)
	if err == sql.ErrNoRows {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read latest summary: %w", err)
	}
	var sum summary.ConversationSummary
	if err := json.Unmarshal([]byte(payload), &sum); err != nil {
		return nil, 0, fmt.Errorf("decode summary v%d: %w", version, err)
	}
	sum.Version = version
	return &sum, version, nil
}

// SummaryHistory returns every stored version for the conversation in
// ascending order. Inspection surface for the CLI; the hot path only ever
// needs LatestSummary.
func (s *Store) SummaryHistory(ctx context.Context, conversationID string) ([]summary.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version, payload_json
		FROM summaries
		WHERE conversation_id = ?
		ORDER BY version ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("read summary history: %w", err)
	}
	defer rows.Close()

	var out []summary.ConversationSummary
	for rows.Next() {
		var (
			version int
			payload string
		)
		if err := rows.Scan(&version, &payload); err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}
		var sum summary.ConversationSummary
		if err := json.Unmarshal([]byte(payload), &sum); err != nil {
			return nil, fmt.Errorf("decode summary v%d: %w", version, err)
		}
		sum.Version = version
		out = append(out, sum)
	}
	return out, rows.Err()
}
