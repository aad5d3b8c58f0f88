package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/minhdn/ragserve/internal/errors"
)

// BleveIndex is the embedded lexical channel, backed by a Bleve BM25 index
// on local disk. An empty path creates an in-memory index for tests.
type BleveIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// bleveChunk is the document shape Bleve indexes. Text and metadata are
// stored so search hits can be returned without a second lookup.
type bleveChunk struct {
	Text     string `json:"text"`
	DocID    string `json:"doc_id"`
	Source   string `json:"source"`
	Metadata string `json:"metadata"`
}

// validateBleveIndex checks the on-disk index before opening. A missing
// directory is fine (the index will be created); a missing or unparseable
// index_meta.json means a crashed or interrupted write left the index
// corrupt.
func validateBleveIndex(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}

	return nil
}

func isBleveCorruption(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unexpected end of JSON") ||
		strings.Contains(msg, "error parsing mapping JSON") ||
		strings.Contains(msg, "failed to load segment") ||
		strings.Contains(msg, "error opening bolt") ||
		err == bleve.ErrorIndexMetaCorrupt
}

// NewBleveIndex opens or creates a lexical index at path. A corrupt index
// is cleared and recreated; callers should reindex when that happens.
func NewBleveIndex(path string) (*BleveIndex, error) {
	indexMapping, err := newBleveMapping()
	if err != nil {
		return nil, err
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0755); mkErr != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", mkErr)
		}

		if validErr := validateBleveIndex(path); validErr != nil {
			slog.Warn("lexical_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, errors.New(errors.ErrCodeCorruptIndex,
					fmt.Sprintf("lexical index corrupted at %s and cannot be cleared", path), removeErr)
			}
			slog.Info("lexical_index_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, reindex required"))
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		} else if err != nil && isBleveCorruption(err) {
			slog.Warn("lexical_index_open_failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, errors.New(errors.ErrCodeCorruptIndex,
					fmt.Sprintf("lexical index at %s cannot be cleared", path), removeErr)
			}
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open lexical index: %w", err)
	}

	return &BleveIndex{index: idx, path: path}, nil
}

func newBleveMapping() (*mapping.IndexMappingImpl, error) {
	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name
	textField.Store = true

	storedOnly := bleve.NewTextFieldMapping()
	storedOnly.Store = true
	storedOnly.Index = false

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("text", textField)
	docMapping.AddFieldMappingsAt("doc_id", storedOnly)
	docMapping.AddFieldMappingsAt("source", storedOnly)
	docMapping.AddFieldMappingsAt("metadata", storedOnly)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = standard.Name
	return indexMapping, nil
}

// Index adds or replaces chunks in the index.
func (b *BleveIndex) Index(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("lexical index is closed")
	}

	batch := b.index.NewBatch()
	for _, c := range chunks {
		doc := bleveChunk{
			Text:     c.Text,
			DocID:    c.DocID,
			Source:   c.Metadata["source"],
			Metadata: encodeMetadata(c.Metadata),
		}
		if err := batch.Index(c.ID, doc); err != nil {
			return fmt.Errorf("failed to index chunk %s: %w", c.ID, err)
		}
	}

	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute index batch: %w", err)
	}
	return nil
}

// Search returns up to limit chunks ranked by BM25 score, best first.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int) ([]*LexicalResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return []*LexicalResult{}, nil
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("text")

	req := bleve.NewSearchRequest(matchQuery)
	req.Size = limit
	req.Fields = []string{"text", "doc_id", "source", "metadata"}

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("lexical search failed: %w", err)
	}

	results := make([]*LexicalResult, 0, len(result.Hits))
	for _, hit := range result.Hits {
		text, _ := hit.Fields["text"].(string)
		meta := decodeMetadata(hit.Fields["metadata"])
		if docID, ok := hit.Fields["doc_id"].(string); ok && docID != "" {
			if meta == nil {
				meta = map[string]string{}
			}
			meta["doc_id"] = docID
		}
		results = append(results, &LexicalResult{
			ID:       hit.ID,
			Text:     text,
			Score:    hit.Score,
			Metadata: meta,
		})
	}
	return results, nil
}

// Delete removes chunks by ID.
func (b *BleveIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("lexical index is closed")
	}

	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// Count returns the number of indexed chunks.
func (b *BleveIndex) Count() (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0, fmt.Errorf("lexical index is closed")
	}
	n, err := b.index.DocCount()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Close releases the underlying index.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

func encodeMetadata(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	data, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(data)
}

func decodeMetadata(v interface{}) map[string]string {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}
