package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/minhdn/ragserve/internal/errors"
)

// PostgresStore keeps chunks in a single Postgres database. The lexical
// channel uses a generated tsvector column with a GIN index and ts_rank_cd
// scoring; the dense channel uses pgvector cosine k-NN. Both channels read
// the same chunks table, so one ingest serves both.
type PostgresStore struct {
	db         *sql.DB
	dimensions int
}

// NewPostgresStore connects to dsn and ensures the schema exists. The
// pgvector extension must be installable by the connecting role.
func NewPostgresStore(ctx context.Context, dsn string, dimensions int) (*PostgresStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", dimensions)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "invalid postgres DSN", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, errors.AdapterUnavailable("postgres", err)
	}

	s := &PostgresStore{db: db, dimensions: dimensions}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS documents (
			id         TEXT PRIMARY KEY,
			path       TEXT NOT NULL,
			title      TEXT NOT NULL DEFAULT '',
			sha256     TEXT NOT NULL DEFAULT '',
			chunks     INTEGER NOT NULL DEFAULT 0,
			indexed_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunks (
			id        TEXT PRIMARY KEY,
			doc_id    TEXT NOT NULL,
			ordinal   INTEGER NOT NULL DEFAULT 0,
			text      TEXT NOT NULL,
			metadata  JSONB,
			embedding vector(%d),
			tsv       tsvector GENERATED ALWAYS AS (to_tsvector('english', text)) STORED
		)`, s.dimensions),
		`CREATE INDEX IF NOT EXISTS chunks_tsv_idx ON chunks USING GIN (tsv)`,
		`CREATE INDEX IF NOT EXISTS chunks_doc_id_idx ON chunks (doc_id)`,
		`CREATE INDEX IF NOT EXISTS chunks_embedding_idx ON chunks
			USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migration failed: %w", err)
		}
	}
	return nil
}

// Lexical returns the sparse channel view of the store.
func (s *PostgresStore) Lexical() LexicalIndex { return &pgLexical{s} }

// Vector returns the dense channel view of the store.
func (s *PostgresStore) Vector() VectorIndex { return &pgVector{s} }

// Close releases the connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) upsertChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin chunk upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, doc_id, ordinal, text, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			doc_id = EXCLUDED.doc_id,
			ordinal = EXCLUDED.ordinal,
			text = EXCLUDED.text,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding`)
	if err != nil {
		return fmt.Errorf("prepare chunk upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		var meta interface{}
		if len(c.Metadata) > 0 {
			data, mErr := json.Marshal(c.Metadata)
			if mErr != nil {
				return fmt.Errorf("marshal metadata for chunk %s: %w", c.ID, mErr)
			}
			meta = data
		}

		var embedding interface{}
		if len(c.Embedding) > 0 {
			if len(c.Embedding) != s.dimensions {
				return ErrDimensionMismatch{Expected: s.dimensions, Got: len(c.Embedding)}
			}
			embedding = pgvector.NewVector(c.Embedding)
		}

		if _, err := stmt.ExecContext(ctx, c.ID, c.DocID, c.Ordinal, c.Text, meta, embedding); err != nil {
			return fmt.Errorf("upsert chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

func (s *PostgresStore) deleteChunks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}

func (s *PostgresStore) countChunks() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT count(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

func scanMetadata(raw []byte) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		slog.Warn("chunk_metadata_unreadable", slog.String("error", err.Error()))
		return nil
	}
	return m
}

// pgLexical is the LexicalIndex adapter over the shared chunks table.
type pgLexical struct {
	store *PostgresStore
}

func (l *pgLexical) Index(ctx context.Context, chunks []*Chunk) error {
	return l.store.upsertChunks(ctx, chunks)
}

func (l *pgLexical) Search(ctx context.Context, query string, limit int) ([]*LexicalResult, error) {
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return []*LexicalResult{}, nil
	}

	rows, err := l.store.db.QueryContext(ctx, `
		SELECT id, text, metadata,
		       ts_rank_cd(tsv, plainto_tsquery('english', $1)) AS rank
		FROM chunks
		WHERE tsv @@ plainto_tsquery('english', $1)
		ORDER BY rank DESC
		LIMIT $2`, query, limit)
	if err != nil {
		return nil, errors.AdapterUnavailable("sparse", err)
	}
	defer rows.Close()

	var results []*LexicalResult
	for rows.Next() {
		var (
			r    LexicalResult
			meta []byte
		)
		if err := rows.Scan(&r.ID, &r.Text, &meta, &r.Score); err != nil {
			return nil, fmt.Errorf("scan lexical result: %w", err)
		}
		r.Metadata = scanMetadata(meta)
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.AdapterUnavailable("sparse", err)
	}
	if results == nil {
		results = []*LexicalResult{}
	}
	return results, nil
}

func (l *pgLexical) Delete(ctx context.Context, ids []string) error {
	return l.store.deleteChunks(ctx, ids)
}

func (l *pgLexical) Count() (int, error) { return l.store.countChunks() }

func (l *pgLexical) Close() error { return nil }

// pgVector is the VectorIndex adapter over the shared chunks table.
type pgVector struct {
	store *PostgresStore
}

func (v *pgVector) Index(ctx context.Context, chunks []*Chunk) error {
	for _, c := range chunks {
		if len(c.Embedding) != v.store.dimensions {
			return ErrDimensionMismatch{Expected: v.store.dimensions, Got: len(c.Embedding)}
		}
	}
	return v.store.upsertChunks(ctx, chunks)
}

func (v *pgVector) Search(ctx context.Context, embedding []float32, limit int) ([]*VectorResult, error) {
	if limit <= 0 {
		return []*VectorResult{}, nil
	}
	if len(embedding) != v.store.dimensions {
		return nil, ErrDimensionMismatch{Expected: v.store.dimensions, Got: len(embedding)}
	}

	// <=> is pgvector cosine distance; similarity is 1 - distance.
	rows, err := v.store.db.QueryContext(ctx, `
		SELECT id, text, metadata, 1 - (embedding <=> $1) AS score
		FROM chunks
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $2`, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, errors.AdapterUnavailable("dense", err)
	}
	defer rows.Close()

	var results []*VectorResult
	for rows.Next() {
		var (
			r    VectorResult
			meta []byte
		)
		if err := rows.Scan(&r.ID, &r.Text, &meta, &r.Score); err != nil {
			return nil, fmt.Errorf("scan vector result: %w", err)
		}
		r.Metadata = scanMetadata(meta)
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.AdapterUnavailable("dense", err)
	}
	if results == nil {
		results = []*VectorResult{}
	}
	return results, nil
}

func (v *pgVector) Delete(ctx context.Context, ids []string) error {
	return v.store.deleteChunks(ctx, ids)
}

func (v *pgVector) Count() (int, error) { return v.store.countChunks() }

func (v *pgVector) Close() error { return nil }

// Upsert registers a document record.
func (s *PostgresStore) Upsert(ctx context.Context, doc *Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, path, title, sha256, chunks, indexed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			path = EXCLUDED.path,
			title = EXCLUDED.title,
			sha256 = EXCLUDED.sha256,
			chunks = EXCLUDED.chunks,
			indexed_at = EXCLUDED.indexed_at`,
		doc.ID, doc.Path, doc.Title, doc.SHA256, doc.Chunks, doc.IndexedAt)
	if err != nil {
		return fmt.Errorf("upsert document %s: %w", doc.ID, err)
	}
	return nil
}

// Get returns the document record or nil when absent.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Document, error) {
	var doc Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, path, title, sha256, chunks, indexed_at
		FROM documents WHERE id = $1`, id).
		Scan(&doc.ID, &doc.Path, &doc.Title, &doc.SHA256, &doc.Chunks, &doc.IndexedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	return &doc, nil
}

// List returns all document records.
func (s *PostgresStore) List(ctx context.Context) ([]*Document, error) {
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

// Delete removes a document record and its chunks.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE doc_id = $1`, id); err != nil {
		return fmt.Errorf("delete chunks for document %s: %w", id, err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	return nil
}
