package knowledge

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fredabila/orcbot-sub007/pkg/embedder/mock"
)

func newTestIndex(t *testing.T, opts ...Option) *Index {
	t.Helper()
	path := filepath.Join(t.TempDir(), "knowledge.json")
	idx, err := New(path, mock.New(), opts...)
	require.NoError(t, err)
	return idx
}

func TestIngestAndSearch(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	content := "Python is great. Python is simple. Python powers our automation scripts."
	doc, err := idx.Ingest(ctx, content, "notes.txt", "docs")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "docs", doc.Collection)
	assert.Equal(t, 1, doc.TotalChunks)
	assert.Equal(t, "text", doc.Format)

	hits, err := idx.Search(ctx, "python", 5, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Greater(t, hits[0].Score, 0.25)
	assert.Equal(t, doc.ID, hits[0].Chunk.DocumentID)
	assert.Equal(t, doc.ID+"-chunk-0", hits[0].Chunk.ID)
}

func TestIngestTooShort(t *testing.T) {
	idx := newTestIndex(t)
	_, err := idx.Ingest(context.Background(), "too short", "x.txt", "docs")
	assert.ErrorIs(t, err, ErrContentTooShort)
}

func TestSearchCollectionFilter(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	content := strings.Repeat("python ", 30)
	_, err := idx.Ingest(ctx, content, "a.txt", "docs")
	require.NoError(t, err)
	_, err = idx.Ingest(ctx, content, "b.txt", "runbooks")
	require.NoError(t, err)

	hits, err := idx.Search(ctx, "python", 10, &Filter{Collection: "runbooks"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "runbooks", hits[0].Chunk.Collection)
}

func TestSearchPerDocumentCap(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	// One document split into 8 near-identical chunks; without the cap it
	// would fill the whole result set.
	content := strings.Repeat("alpha beta gamma delta. ", 40)
	chunking := ChunkOptions{ChunkSize: 120, Overlap: 0, RespectBoundaries: false}
	doc, err := idx.Ingest(ctx, content, "big.txt", "docs", WithChunking(chunking))
	require.NoError(t, err)
	require.Greater(t, doc.TotalChunks, DefaultPerDocumentCap)

	hits, err := idx.Search(ctx, "alpha", 10, nil)
	require.NoError(t, err)
	assert.Len(t, hits, DefaultPerDocumentCap)
}

func TestEvictionDropsOldestDocumentWhole(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxChunks = 6
	idx := newTestIndex(t, WithConfig(cfg))
	ctx := context.Background()

	content := strings.Repeat("lorem ipsum dolor sit amet consectetur ", 10)
	chunking := ChunkOptions{ChunkSize: 100, Overlap: 0, RespectBoundaries: false}

	docA, err := idx.Ingest(ctx, content, "a.txt", "docs", WithChunking(chunking))
	require.NoError(t, err)
	require.Equal(t, 4, docA.TotalChunks)

	time.Sleep(5 * time.Millisecond)
	docB, err := idx.Ingest(ctx, content, "b.txt", "docs", WithChunking(chunking))
	require.NoError(t, err)

	stats := idx.Stats()
	assert.Equal(t, 1, stats.DocumentCount)
	assert.Equal(t, 4, stats.ChunkCount)
	assert.False(t, idx.DeleteDocument(docA.ID), "evicted document should be gone")
	assert.True(t, idx.DeleteDocument(docB.ID))
}

func TestIndexMemoryReplaces(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.IndexMemory(ctx, "m-1", "remembered the deploy password hint", nil))
	require.NoError(t, idx.IndexMemory(ctx, "m-1", "remembered the updated deploy password hint", nil))

	stats := idx.Stats()
	assert.Equal(t, 1, stats.DocumentCount)
	assert.Equal(t, 1, stats.ChunkCount)

	hits, err := idx.Search(ctx, "deploy password", 5, &Filter{Collection: MemoryCollection})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Contains(t, hits[0].Chunk.Content, "updated")
}

func TestDeleteCollection(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	content := strings.Repeat("python ", 30)
	_, err := idx.Ingest(ctx, content, "a.txt", "docs")
	require.NoError(t, err)
	_, err = idx.Ingest(ctx, content, "b.txt", "docs")
	require.NoError(t, err)
	_, err = idx.Ingest(ctx, content, "c.txt", "runbooks")
	require.NoError(t, err)

	assert.Equal(t, 2, idx.DeleteCollection("docs"))
	assert.Equal(t, 0, idx.DeleteCollection("docs"))

	stats := idx.Stats()
	assert.Equal(t, 1, stats.DocumentCount)
}

func TestRetrieveForTask(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	content := strings.Repeat("python ", 30)
	_, err := idx.Ingest(ctx, content, "guide.md", "docs", WithTitle("Python Guide"))
	require.NoError(t, err)

	block, err := idx.RetrieveForTask(ctx, "python", 3)
	require.NoError(t, err)
	assert.Contains(t, block, "Relevant knowledge:")
	assert.Contains(t, block, "Python Guide")
}

func TestDeriveTitle(t *testing.T) {
	assert.Equal(t, "Setup Guide", deriveTitle("# Setup Guide\n\nbody text", "docs/setup.md"))
	assert.Equal(t, "A short opening line", deriveTitle("A short opening line\nmore text", "notes.txt"))
	// A first line too long for a title falls back to the filename.
	assert.Equal(t, "guide.txt", deriveTitle(strings.Repeat("x", 120), "docs/guide.txt"))
}

func TestDisabledIndexNoOps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knowledge.json")
	idx, err := New(path, nil)
	require.NoError(t, err)
	ctx := context.Background()

	assert.False(t, idx.Enabled())

	_, err = idx.Ingest(ctx, strings.Repeat("python ", 30), "a.txt", "docs")
	assert.ErrorIs(t, err, ErrDisabled)

	hits, err := idx.Search(ctx, "python", 5, nil)
	assert.NoError(t, err)
	assert.Empty(t, hits)

	assert.NoError(t, idx.IndexMemory(ctx, "m-1", "anything", nil))
	assert.False(t, idx.DeleteDocument("m-1"))
	assert.Equal(t, Stats{}, idx.Stats())

	block, err := idx.RetrieveForTask(ctx, "python", 3)
	assert.NoError(t, err)
	assert.Empty(t, block)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knowledge.json")
	ctx := context.Background()

	idx, err := New(path, mock.New())
	require.NoError(t, err)
	doc, err := idx.Ingest(ctx, strings.Repeat("python ", 30), "a.txt", "docs")
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	reopened, err := New(path, mock.New())
	require.NoError(t, err)
	stats := reopened.Stats()
	assert.Equal(t, 1, stats.DocumentCount)
	assert.Equal(t, 1, stats.ChunkCount)

	hits, err := reopened.Search(ctx, "python", 5, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, doc.ID, hits[0].Chunk.DocumentID)
}
