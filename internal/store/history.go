package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/minhdn/ragserve/internal/errors"
)

// SQLiteStore persists chat transcripts and the document catalog in a
// single SQLite file. WAL mode keeps readers from blocking the writer, so
// an in-flight chat turn never stalls a sessions listing.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path. An empty path uses
// an in-memory database for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.New(errors.ErrCodeHistoryStore, "failed to open history database", err)
	}
	// modernc.org/sqlite serializes writes per connection; a single
	// connection avoids SQLITE_BUSY under concurrent appends.
	db.SetMaxOpenConns(1)

	if path != "" {
		if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
			db.Close()
			return nil, errors.New(errors.ErrCodeHistoryStore, "failed to enable WAL", err)
		}
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		db.Close()
		return nil, errors.New(errors.ErrCodeHistoryStore, "failed to enable foreign keys", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			tool_name  TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS messages_session_idx ON messages (session_id, id)`,
		`CREATE TABLE IF NOT EXISTS documents (
			id         TEXT PRIMARY KEY,
			path       TEXT NOT NULL,
			title      TEXT NOT NULL DEFAULT '',
			sha256     TEXT NOT NULL DEFAULT '',
			chunks     INTEGER NOT NULL DEFAULT 0,
			indexed_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return errors.New(errors.ErrCodeHistoryStore, "history migration failed", err)
		}
	}
	return nil
}

// Append records a message at the end of the session transcript.
func (s *SQLiteStore) Append(ctx context.Context, msg *Message) error {
	if msg.SessionID == "" {
		return errors.InvalidArgument("message session_id is required")
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (session_id, role, content, tool_name, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		msg.SessionID, string(msg.Role), msg.Content, msg.ToolName, msg.CreatedAt)
	if err != nil {
		return errors.New(errors.ErrCodeHistoryStore, "failed to append message", err)
	}
	if id, idErr := res.LastInsertId(); idErr == nil {
		msg.ID = id
	}
	return nil
}

// History returns the session transcript in insertion order. With a
// positive limit only the most recent limit messages are returned, still
// oldest first.
func (s *SQLiteStore) History(ctx context.Context, sessionID string, limit int) ([]*Message, error) {
	query := `
		SELECT id, session_id, role, content, tool_name, created_at
		FROM messages WHERE session_id = ? ORDER BY id`
	args := []interface{}{sessionID}
	if limit > 0 {
		query = `
			SELECT id, session_id, role, content, tool_name, created_at
			FROM (
				SELECT id, session_id, role, content, tool_name, created_at
				FROM messages WHERE session_id = ? ORDER BY id DESC LIMIT ?
			) ORDER BY id`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.New(errors.ErrCodeHistoryStore, "failed to read history", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var (
			m    Message
			role string
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &m.ToolName, &m.CreatedAt); err != nil {
			return nil, errors.New(errors.ErrCodeHistoryStore, "failed to scan message", err)
		}
		m.Role = Role(role)
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.ErrCodeHistoryStore, "failed to read history", err)
	}
	if messages == nil {
		messages = []*Message{}
	}
	return messages, nil
}

// Clear removes a session's messages and returns how many were removed.
func (s *SQLiteStore) Clear(ctx context.Context, sessionID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, errors.New(errors.ErrCodeHistoryStore, "failed to clear session", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.New(errors.ErrCodeHistoryStore, "failed to count cleared messages", err)
	}
	return int(n), nil
}

// Sessions lists stored sessions, most recently updated first.
func (s *SQLiteStore) Sessions(ctx context.Context) ([]*SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, count(*), max(created_at)
		FROM messages GROUP BY session_id ORDER BY max(created_at) DESC`)
	if err != nil {
		return nil, errors.New(errors.ErrCodeHistoryStore, "failed to list sessions", err)
	}
	defer rows.Close()

	var sessions []*SessionInfo
	for rows.Next() {
		var info SessionInfo
		if err := rows.Scan(&info.SessionID, &info.Messages, &info.UpdatedAt); err != nil {
			return nil, errors.New(errors.ErrCodeHistoryStore, "failed to scan session", err)
		}
		sessions = append(sessions, &info)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.ErrCodeHistoryStore, "failed to list sessions", err)
	}
	if sessions == nil {
		sessions = []*SessionInfo{}
	}
	return sessions, nil
}

// Upsert registers a document in the catalog.
func (s *SQLiteStore) Upsert(ctx context.Context, doc *Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, path, title, sha256, chunks, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			path = excluded.path,
			title = excluded.title,
			sha256 = excluded.sha256,
			chunks = excluded.chunks,
			indexed_at = excluded.indexed_at`,
		doc.ID, doc.Path, doc.Title, doc.SHA256, doc.Chunks, doc.IndexedAt)
	if err != nil {
		return fmt.Errorf("upsert document %s: %w", doc.ID, err)
	}
	return nil
}

// Get returns the document record or nil when absent.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Document, error) {
	var doc Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, path, title, sha256, chunks, indexed_at
		FROM documents WHERE id = ?`, id).
		Scan(&doc.ID, &doc.Path, &doc.Title, &doc.SHA256, &doc.Chunks, &doc.IndexedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	return &doc, nil
}

// List returns all registered documents.
func (s *SQLiteStore) List(ctx context.Context) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, path, title, sha256, chunks, indexed_at
		FROM documents ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Path, &doc.Title, &doc.SHA256, &doc.Chunks, &doc.IndexedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

// Delete removes a document record.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
