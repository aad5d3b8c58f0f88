package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/schollz/progressbar/v3"

	"github.com/minhdn/ragserve/internal/embed"
	"github.com/minhdn/ragserve/internal/errors"
	"github.com/minhdn/ragserve/internal/store"
)

// Report summarizes one pipeline run.
type Report struct {
	Scanned  int           `json:"scanned"`
	Ingested int           `json:"ingested"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Chunks   int           `json:"chunks"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Pipeline scans a folder and indexes its documents into both retrieval
// channels. Runs are serialized with a file lock so two processes cannot
// interleave index writes.
type Pipeline struct {
	scanner  *Scanner
	chunker  *Chunker
	embedder embed.Embedder
	lexical  store.LexicalIndex
	vector   store.VectorIndex
	docs     store.DocumentStore
	lockPath string
	logger   *slog.Logger

	// ShowProgress renders a terminal progress bar during the run.
	ShowProgress bool
}

// PipelineConfig wires a pipeline.
type PipelineConfig struct {
	Scanner  *Scanner
	Chunker  *Chunker
	Embedder embed.Embedder
	Lexical  store.LexicalIndex
	Vector   store.VectorIndex
	Docs     store.DocumentStore

	// DataDir holds the ingest lock file.
	DataDir string
	Logger  *slog.Logger
}

// NewPipeline assembles a pipeline, defaulting the scanner and chunker.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Scanner == nil {
		cfg.Scanner = NewScanner(nil, nil)
	}
	if cfg.Chunker == nil {
		cfg.Chunker = NewChunker(0, -1)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		scanner:  cfg.Scanner,
		chunker:  cfg.Chunker,
		embedder: cfg.Embedder,
		lexical:  cfg.Lexical,
		vector:   cfg.Vector,
		docs:     cfg.Docs,
		lockPath: filepath.Join(cfg.DataDir, "ingest.lock"),
		logger:   cfg.Logger,
	}
}

// docID derives a stable document ID from the relative path.
func docID(relPath string) string {
	sum := sha256.Sum256([]byte(relPath))
	return "doc_" + hex.EncodeToString(sum[:8])
}

func chunkID(doc string, ordinal int) string {
	return fmt.Sprintf("%s_%04d", doc, ordinal)
}

// Run ingests folder. Unchanged documents (same content hash) are
// skipped; changed documents have their old chunks replaced.
func (p *Pipeline) Run(ctx context.Context, folder string) (*Report, error) {
	start := time.Now()

	if err := os.MkdirAll(filepath.Dir(p.lockPath), 0755); err != nil {
		return nil, errors.New(errors.ErrCodeIngestFailed, "cannot create data directory", err)
	}
	lock := flock.New(p.lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errors.New(errors.ErrCodeIngestFailed, "cannot acquire ingest lock", err)
	}
	if !locked {
		return nil, errors.New(errors.ErrCodeIndexLocked, "another ingest is running", nil)
	}
	defer func() { _ = lock.Unlock() }()

	if _, err := os.Stat(folder); err != nil {
		return nil, errors.New(errors.ErrCodeFileNotFound, fmt.Sprintf("folder %s not found", folder), err)
	}

	files, err := p.scanner.Scan(folder)
	if err != nil {
		return nil, errors.New(errors.ErrCodeIngestFailed, "folder scan failed", err)
	}

	report := &Report{Scanned: len(files)}
	var bar *progressbar.ProgressBar
	if p.ShowProgress && len(files) > 0 {
		bar = progressbar.NewOptions(len(files),
			progressbar.OptionSetDescription("indexing"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionOnCompletion(func() { fmt.Println() }),
		)
	}

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := p.ingestFile(ctx, file, report); err != nil {
			report.Failed++
			p.logger.Warn("ingest_file_failed",
				slog.String("path", file.RelPath),
				slog.String("error", err.Error()))
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}

	report.Elapsed = time.Since(start)
	p.logger.Info("ingest_complete",
		slog.Int("scanned", report.Scanned),
		slog.Int("ingested", report.Ingested),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
		slog.Int("chunks", report.Chunks),
		slog.Duration("elapsed", report.Elapsed))

	return report, nil
}

func (p *Pipeline) ingestFile(ctx context.Context, file FileInfo, report *Report) error {
	content, err := ReadDocument(file.Path)
	if err != nil {
		if errors.GetCode(err) == errors.ErrCodeFileUnsupported {
			report.Skipped++
			p.logger.Debug("ingest_file_skipped",
				slog.String("path", file.RelPath),
				slog.String("reason", err.Error()))
			return nil
		}
		return err
	}

	id := docID(file.RelPath)
	existing, err := p.docs.Get(ctx, id)
	if err != nil {
		return err
	}
	if existing != nil && existing.SHA256 == content.SHA256 {
		report.Skipped++
		return nil
	}

	texts := p.chunker.Chunk(content.Text)
	if len(texts) == 0 {
		report.Skipped++
		return nil
	}

	embeddings, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}

	chunks := make([]*store.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = &store.Chunk{
			ID:        chunkID(id, i),
			DocID:     id,
			Ordinal:   i,
			Text:      text,
			Embedding: embeddings[i],
			Metadata: map[string]string{
				"source": file.RelPath,
				"title":  content.Title,
			},
		}
	}

	// Replace the document's previous chunks before indexing the new
	// set, covering the case where the document shrank.
	if existing != nil && existing.Chunks > len(chunks) {
		stale := make([]string, 0, existing.Chunks-len(chunks))
		for i := len(chunks); i < existing.Chunks; i++ {
			stale = append(stale, chunkID(id, i))
		}
		if err := p.lexical.Delete(ctx, stale); err != nil {
			return err
		}
		if err := p.vector.Delete(ctx, stale); err != nil {
			return err
		}
	}

	if err := p.lexical.Index(ctx, chunks); err != nil {
		return err
	}
	if err := p.vector.Index(ctx, chunks); err != nil {
		return err
	}

	if err := p.docs.Upsert(ctx, &store.Document{
		ID:        id,
		Path:      file.RelPath,
		Title:     content.Title,
		SHA256:    content.SHA256,
		Chunks:    len(chunks),
		IndexedAt: time.Now().UTC(),
	}); err != nil {
		return err
	}

	report.Ingested++
	report.Chunks += len(chunks)
	return nil
}
