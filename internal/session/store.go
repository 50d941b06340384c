// Package session persists chat history, model providers and plugin servers
// registered at runtime in SQLite.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/persai/persai/internal/schema"
)

const ddl = `
CREATE TABLE IF NOT EXISTS messages (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id    TEXT NOT NULL,
	id         TEXT NOT NULL,
	role       TEXT NOT NULL,
	parts      TEXT NOT NULL DEFAULT '[]',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages (chat_id, seq);

CREATE TABLE IF NOT EXISTS providers (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	name     TEXT NOT NULL,
	base_url TEXT NOT NULL,
	api_key  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tool_servers (
	id      TEXT PRIMARY KEY,
	url     TEXT NOT NULL,
	api_key TEXT NOT NULL DEFAULT '',
	name    TEXT NOT NULL DEFAULT '',
	version TEXT NOT NULL DEFAULT '',
	enabled INTEGER NOT NULL DEFAULT 1
);
`

// Store is an append-only message log keyed by chat id. Stored messages are
// never updated.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path. Use ":memory:" for tests.
// The caller is responsible for calling Close.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// Append stores msgs at the end of chatID's log in one transaction.
func (s *Store) Append(ctx context.Context, chatID string, msgs ...schema.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO messages (chat_id, id, role, parts, created_at) VALUES (?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	ts := s.now().UTC().UnixNano()
	for _, m := range msgs {
		parts, err := json.Marshal(m.Parts)
		if err != nil {
			return fmt.Errorf("encode message %s: %w", m.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, chatID, m.ID, string(m.Role), string(parts), ts); err != nil {
			return fmt.Errorf("insert message %s: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

// ListSince returns chatID's messages stored at or after since, oldest first.
// A zero since returns the whole log.
func (s *Store) ListSince(ctx context.Context, chatID string, since time.Time) ([]schema.Message, error) {
	var from int64
	if !since.IsZero() {
		from = since.UTC().UnixNano()
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, parts FROM messages WHERE chat_id = ? AND created_at >= ? ORDER BY seq`,
		chatID, from)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	out := []schema.Message{}
	for rows.Next() {
		var (
			m     schema.Message
			role  string
			parts string
		)
		if err := rows.Scan(&m.ID, &role, &parts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = schema.Role(role)
		if err := json.Unmarshal([]byte(parts), &m.Parts); err != nil {
			return nil, fmt.Errorf("decode message %s: %w", m.ID, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ChatSummary describes one stored conversation.
type ChatSummary struct {
	ID       string    `json:"id"`
	Messages int       `json:"messages"`
	Updated  time.Time `json:"updated"`
}

// Chats lists conversations, most recently updated first.
func (s *Store) Chats(ctx context.Context) ([]ChatSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, COUNT(*), MAX(created_at) FROM messages GROUP BY chat_id ORDER BY MAX(seq) DESC`)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}
	defer rows.Close()

	var out []ChatSummary
	for rows.Next() {
		var (
			c  ChatSummary
			ts int64
		)
		if err := rows.Scan(&c.ID, &c.Messages, &ts); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		c.Updated = time.Unix(0, ts).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")
