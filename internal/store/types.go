// Package store provides the persistence layer for ragserve: lexical and
// vector indexes over document chunks, plus chat history.
//
// Two backend families are supported. The embedded backend keeps everything
// on local disk (Bleve for keyword search, HNSW for vectors, SQLite for
// history) and needs no external services. The postgres backend keeps chunks
// in a single Postgres database using tsvector full-text search and pgvector
// cosine k-NN, which is the right choice when several ragserve instances
// share one corpus.
package store

import (
	"context"
	"time"
)

// Chunk is a slice of a source document with its embedding and metadata.
type Chunk struct {
	ID        string            `json:"id"`
	DocID     string            `json:"doc_id"`
	Text      string            `json:"text"`
	Ordinal   int               `json:"ordinal"`
	Embedding []float32         `json:"embedding,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Document is a source file registered with the store.
type Document struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Title     string    `json:"title"`
	SHA256    string    `json:"sha256"`
	Chunks    int       `json:"chunks"`
	IndexedAt time.Time `json:"indexed_at"`
}

// LexicalResult is a single hit from the sparse (keyword) channel.
type LexicalResult struct {
	ID       string
	Text     string
	Score    float64
	Metadata map[string]string
}

// VectorResult is a single hit from the dense (embedding) channel.
type VectorResult struct {
	ID       string
	Text     string
	Score    float64
	Metadata map[string]string
}

// LexicalIndex is the sparse retrieval channel.
type LexicalIndex interface {
	// Index adds or replaces chunks in the index.
	Index(ctx context.Context, chunks []*Chunk) error

	// Search returns up to limit chunks ranked by lexical relevance,
	// best first. An empty or whitespace query returns no results.
	Search(ctx context.Context, query string, limit int) ([]*LexicalResult, error)

	// Delete removes chunks by ID. Missing IDs are ignored.
	Delete(ctx context.Context, ids []string) error

	// Count returns the number of indexed chunks.
	Count() (int, error)

	Close() error
}

// VectorIndex is the dense retrieval channel.
type VectorIndex interface {
	// Index adds or replaces chunks. Every chunk must carry an embedding
	// of the dimension the index was created with.
	Index(ctx context.Context, chunks []*Chunk) error

	// Search returns up to limit chunks ranked by cosine similarity to
	// the query embedding, best first.
	Search(ctx context.Context, embedding []float32, limit int) ([]*VectorResult, error)

	// Delete removes chunks by ID. Missing IDs are ignored.
	Delete(ctx context.Context, ids []string) error

	// Count returns the number of indexed chunks.
	Count() (int, error)

	Close() error
}

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in a chat session transcript.
type Message struct {
	ID        int64     `json:"id,omitempty"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	ToolName  string    `json:"tool_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionInfo summarizes a stored chat session.
type SessionInfo struct {
	SessionID string    `json:"session_id"`
	Messages  int       `json:"messages"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HistoryStore persists chat transcripts across sessions.
type HistoryStore interface {
	// Append records a message at the end of the session transcript.
	Append(ctx context.Context, msg *Message) error

	// History returns the session transcript in insertion order,
	// limited to the most recent limit messages (0 means all).
	History(ctx context.Context, sessionID string, limit int) ([]*Message, error)

	// Clear removes a session and its messages. Returns the number of
	// messages removed.
	Clear(ctx context.Context, sessionID string) (int, error)

	// Sessions lists stored sessions, most recently updated first.
	Sessions(ctx context.Context) ([]*SessionInfo, error)

	Close() error
}

// DocumentStore tracks which source files have been ingested, keyed by
// content hash so re-ingesting an unchanged folder is a no-op.
type DocumentStore interface {
	// Upsert registers a document, replacing any previous entry with the
	// same ID.
	Upsert(ctx context.Context, doc *Document) error

	// Get returns the document or nil when absent.
	Get(ctx context.Context, id string) (*Document, error)

	// List returns all registered documents.
	List(ctx context.Context) ([]*Document, error)

	// Delete removes a document record.
	Delete(ctx context.Context, id string) error
}
