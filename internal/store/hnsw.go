package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWIndex is the embedded dense channel, backed by the coder/hnsw pure Go
// HNSW graph. Chunk text and metadata ride along in a payload map so search
// hits come back fully populated without a second store.
type HNSWIndex struct {
	mu         sync.RWMutex
	graph      *hnsw.Graph[uint64]
	dimensions int

	// ID mapping (string <-> uint64 graph key)
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	payloads map[string]*chunkPayload

	closed bool
}

type chunkPayload struct {
	Text     string
	DocID    string
	Metadata map[string]string
}

// hnswMetadata is the gob-persisted sidecar for the graph file.
type hnswMetadata struct {
	IDMap      map[string]uint64
	NextKey    uint64
	Dimensions int
	Payloads   map[string]*chunkPayload
}

// ErrDimensionMismatch is returned when a vector's length does not match
// the dimension the index was created with.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// NewHNSWIndex creates an in-memory HNSW index for cosine similarity.
func NewHNSWIndex(dimensions int) (*HNSWIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", dimensions)
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	return &HNSWIndex{
		graph:      graph,
		dimensions: dimensions,
		idMap:      make(map[string]uint64),
		keyMap:     make(map[uint64]string),
		payloads:   make(map[string]*chunkPayload),
	}, nil
}

// Index adds or replaces chunks. Re-adding an existing ID uses lazy
// deletion: the old graph node is orphaned rather than removed, which
// avoids a coder/hnsw bug when deleting the last node.
func (s *HNSWIndex) Index(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector index is closed")
	}

	for _, c := range chunks {
		if len(c.Embedding) != s.dimensions {
			return ErrDimensionMismatch{Expected: s.dimensions, Got: len(c.Embedding)}
		}
	}

	for _, c := range chunks {
		if existingKey, exists := s.idMap[c.ID]; exists {
			delete(s.keyMap, existingKey)
			delete(s.idMap, c.ID)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(c.Embedding))
		copy(vec, c.Embedding)
		normalizeVectorInPlace(vec)

		s.graph.Add(hnsw.MakeNode(key, vec))

		s.idMap[c.ID] = key
		s.keyMap[key] = c.ID
		s.payloads[c.ID] = &chunkPayload{
			Text:     c.Text,
			DocID:    c.DocID,
			Metadata: c.Metadata,
		}
	}

	return nil
}

// Search returns up to limit chunks by cosine similarity, best first.
func (s *HNSWIndex) Search(ctx context.Context, embedding []float32, limit int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("vector index is closed")
	}
	if len(embedding) != s.dimensions {
		return nil, ErrDimensionMismatch{Expected: s.dimensions, Got: len(embedding)}
	}
	if s.graph.Len() == 0 || limit <= 0 {
		return []*VectorResult{}, nil
	}

	query := make([]float32, len(embedding))
	copy(query, embedding)
	normalizeVectorInPlace(query)

	// Over-fetch to compensate for lazy-deleted orphans still in the graph.
	orphans := s.graph.Len() - len(s.idMap)
	nodes := s.graph.Search(query, limit+orphans)

	results := make([]*VectorResult, 0, limit)
	for _, node := range nodes {
		id, exists := s.keyMap[node.Key]
		if !exists {
			continue
		}

		distance := s.graph.Distance(query, node.Value)
		res := &VectorResult{
			ID:    id,
			Score: cosineScore(distance),
		}
		if p := s.payloads[id]; p != nil {
			res.Text = p.Text
			res.Metadata = p.Metadata
			if p.DocID != "" {
				if res.Metadata == nil {
					res.Metadata = map[string]string{}
				}
				res.Metadata["doc_id"] = p.DocID
			}
		}
		results = append(results, res)
		if len(results) >= limit {
			break
		}
	}

	return results, nil
}

// Delete removes chunks by ID using lazy deletion.
func (s *HNSWIndex) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector index is closed")
	}

	for _, id := range ids {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.idMap, id)
			delete(s.payloads, id)
		}
	}
	return nil
}

// Count returns the number of active vectors.
func (s *HNSWIndex) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, fmt.Errorf("vector index is closed")
	}
	return len(s.idMap), nil
}

// Close marks the index closed. In-memory state is discarded; call Save
// first to persist.
func (s *HNSWIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Save persists the graph and payloads to disk atomically (temp + rename).
func (s *HNSWIndex) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("vector index is closed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	if err := s.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close index file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename index file: %w", err)
	}

	if err := s.saveMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}
	return nil
}

func (s *HNSWIndex) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}

	meta := hnswMetadata{
		IDMap:      s.idMap,
		NextKey:    s.nextKey,
		Dimensions: s.dimensions,
		Payloads:   s.payloads,
	}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		if closeErr := file.Close(); closeErr != nil {
			slog.Warn("failed to close temp metadata file", slog.String("error", closeErr.Error()))
		}
		os.Remove(tmpPath)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load restores a previously saved index. The metadata sidecar is read
// first so the dimension check happens before importing the graph.
func (s *HNSWIndex) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector index is closed")
	}

	if err := s.loadMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("failed to load metadata: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open index file: %w", err)
	}
	defer file.Close()

	// coder/hnsw Import requires an io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}
	return nil
}

func (s *HNSWIndex) loadMetadata(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer file.Close()

	var meta hnswMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	if meta.Dimensions != s.dimensions {
		return ErrDimensionMismatch{Expected: s.dimensions, Got: meta.Dimensions}
	}

	s.idMap = meta.IDMap
	s.nextKey = meta.NextKey
	s.payloads = meta.Payloads
	if s.idMap == nil {
		s.idMap = make(map[string]uint64)
	}
	if s.payloads == nil {
		s.payloads = make(map[string]*chunkPayload)
	}
	s.keyMap = make(map[uint64]string, len(s.idMap))
	for id, key := range s.idMap {
		s.keyMap[key] = id
	}
	return nil
}

// normalizeVectorInPlace scales v to unit length. Zero vectors are left
// unchanged.
func normalizeVectorInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return
	}
	inv := float32(1.0 / norm)
	for i := range v {
		v[i] *= inv
	}
}

// cosineScore converts cosine distance (0..2) to a similarity in [0, 1].
func cosineScore(distance float32) float64 {
	return 1.0 - float64(distance)/2.0
}
