package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhdn/ragserve/internal/embed"
	"github.com/minhdn/ragserve/internal/store"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestScanner_MatchesPatterns(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "readme.md", "# readme")
	writeFile(t, dir, "notes.txt", "notes")
	writeFile(t, dir, "image.png", "not text")
	writeFile(t, dir, "sub/deep.md", "# deep")
	writeFile(t, dir, ".git/config", "[core]")
	writeFile(t, dir, "node_modules/pkg/readme.md", "# dep readme")

	s := NewScanner(nil, nil)
	files, err := s.Scan(dir)
	require.NoError(t, err)

	rels := make([]string, len(files))
	for i, f := range files {
		rels[i] = f.RelPath
	}
	assert.Equal(t, []string{"notes.txt", "readme.md", "sub/deep.md"}, rels)
}

func TestScanner_HonorsGitignore(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".gitignore", "drafts/\n*.draft.md\n")
	writeFile(t, dir, "readme.md", "# readme")
	writeFile(t, dir, "plan.draft.md", "# wip")
	writeFile(t, dir, "drafts/idea.md", "# idea")

	s := NewScanner(nil, nil)
	files, err := s.Scan(dir)
	require.NoError(t, err)

	rels := make([]string, len(files))
	for i, f := range files {
		rels[i] = f.RelPath
	}
	assert.Equal(t, []string{"readme.md"}, rels)
}

func TestReadDocument_TitleAndHash(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "guide.md", "# Setup Guide\n\nInstall the thing.")

	doc, err := ReadDocument(path)
	require.NoError(t, err)
	assert.Equal(t, "Setup Guide", doc.Title)
	assert.Len(t, doc.SHA256, 64)

	// No heading: title falls back to the file name.
	plain := writeFile(t, dir, "notes.txt", "just some notes")
	doc, err = ReadDocument(plain)
	require.NoError(t, err)
	assert.Equal(t, "notes", doc.Title)
}

func TestReadDocument_RejectsBinary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blob.txt")
	require.NoError(t, os.WriteFile(path, []byte{0x00, 0x01, 0x02, 'a'}, 0644))

	_, err := ReadDocument(path)
	require.Error(t, err)
}

func newTestPipeline(t *testing.T) (*Pipeline, store.LexicalIndex, store.VectorIndex, *store.SQLiteStore) {
	t.Helper()

	lexical, err := store.NewBleveIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = lexical.Close() })

	vector, err := store.NewHNSWIndex(32)
	require.NoError(t, err)
	t.Cleanup(func() { _ = vector.Close() })

	catalog, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = catalog.Close() })

	p := NewPipeline(PipelineConfig{
		Embedder: embed.NewStaticEmbedder(32),
		Lexical:  lexical,
		Vector:   vector,
		Docs:     catalog,
		DataDir:  t.TempDir(),
	})
	return p, lexical, vector, catalog
}

func TestPipeline_IngestsFolder(t *testing.T) {
	// Given: a folder with two documents and one binary file
	dir := t.TempDir()
	writeFile(t, dir, "fusion.md", "# Fusion\n\nReciprocal rank fusion merges sparse and dense results.")
	writeFile(t, dir, "rerank.md", "# Rerank\n\nCross encoders score query document pairs.")

	p, lexical, vector, catalog := newTestPipeline(t)

	// When: the pipeline runs
	report, err := p.Run(context.Background(), dir)
	require.NoError(t, err)

	// Then: both documents are ingested into both channels
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 2, report.Ingested)
	assert.Zero(t, report.Failed)
	assert.GreaterOrEqual(t, report.Chunks, 2)

	n, err := lexical.Count()
	require.NoError(t, err)
	assert.Equal(t, report.Chunks, n)

	n, err = vector.Count()
	require.NoError(t, err)
	assert.Equal(t, report.Chunks, n)

	docs, err := catalog.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	// And: indexed chunks are searchable
	hits, err := lexical.Search(context.Background(), "reciprocal rank fusion", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "fusion.md", hits[0].Metadata["source"])
}

func TestPipeline_SkipsUnchanged(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "doc.md", "# Doc\n\nSome stable content.")

	p, _, _, _ := newTestPipeline(t)

	report, err := p.Run(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Ingested)

	// A second run sees the same hash and does nothing.
	report, err = p.Run(context.Background(), dir)
	require.NoError(t, err)
	assert.Zero(t, report.Ingested)
	assert.Equal(t, 1, report.Skipped)
}

func TestPipeline_ReingestsChanged(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "doc.md", "# Doc\n\nOriginal content about fusion.")

	p, lexical, _, _ := newTestPipeline(t)

	_, err := p.Run(context.Background(), dir)
	require.NoError(t, err)

	writeFile(t, dir, "doc.md", "# Doc\n\nRewritten content about reranking.")
	report, err := p.Run(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Ingested)

	hits, err := lexical.Search(context.Background(), "reranking", 5)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}

func TestPipeline_MissingFolder(t *testing.T) {
	p, _, _, _ := newTestPipeline(t)

	_, err := p.Run(context.Background(), filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}
