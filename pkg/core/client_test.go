package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fredabila/orcbot-sub007/pkg/embedder/mock"
	"github.com/fredabila/orcbot-sub007/pkg/ledger"
	"github.com/fredabila/orcbot-sub007/pkg/llm"
)

// stubLLM returns a fixed summary.
type stubLLM struct {
	reply string
}

func (s *stubLLM) Generate(context.Context, string, ...llm.GenerateOption) (string, error) {
	return s.reply, nil
}

func (s *stubLLM) GenerateWithMessages(context.Context, []llm.Message, ...llm.GenerateOption) (string, error) {
	return s.reply, nil
}

func (s *stubLLM) Close() error { return nil }

func newTestClient(t *testing.T, opts ...ClientOption) *Client {
	t.Helper()
	cfg := DefaultConfig(t.TempDir())
	opts = append([]ClientOption{WithEmbedder(mock.New())}, opts...)
	client, err := NewClient(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func waitChunks(t *testing.T, c *Client, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.Stats().Knowledge.ChunkCount >= n
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClientSaveAndRecall(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	saved, err := c.SaveMemory(ctx, ledger.TypeShort, "the staging database password rotates on fridays", nil)
	require.NoError(t, err)
	require.NotNil(t, saved)
	waitChunks(t, c, 1)

	hits, err := c.SemanticRecall(ctx, "database password", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, saved.ID, hits[0].Entry.ID)
}

func TestClientIngestAndRetrieve(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	content := strings.Repeat("Python is great. Python is simple. ", 3)
	doc, err := c.IngestDocument(ctx, content, "python.md", "docs")
	require.NoError(t, err)
	require.NotNil(t, doc)

	hits, err := c.SearchKnowledge(ctx, "python", 5, nil)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "docs", hits[0].Chunk.Collection)
	assert.Greater(t, hits[0].Score, 0.25)

	block, err := c.RetrieveForTask(ctx, "python", 3)
	require.NoError(t, err)
	assert.Contains(t, block, "Relevant knowledge:")
}

func TestClientIngestTooShort(t *testing.T) {
	c := newTestClient(t)
	_, err := c.IngestDocument(context.Background(), "tiny", "t.txt", "docs")
	assert.ErrorIs(t, err, ErrContentTooShort)

	var opError *Error
	require.ErrorAs(t, err, &opError)
	assert.Equal(t, "ingest", opError.Op)
}

func TestClientConsolidateFlow(t *testing.T) {
	c := newTestClient(t, WithLLM(&stubLLM{reply: "twenty events, summarized"}))
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		_, err := c.SaveMemory(ctx, ledger.TypeShort, fmt.Sprintf("observed event %d", i), nil)
		require.NoError(t, err)
	}

	episodic, err := c.Consolidate(ctx)
	require.NoError(t, err)
	require.NotNil(t, episodic)
	assert.Equal(t, "twenty events, summarized", episodic.Content)

	stats := c.Stats()
	assert.Equal(t, 10, stats.ShortCount)
	assert.Equal(t, 1, stats.EpisodicCount)
}

func TestClientDeleteMemory(t *testing.T) {
	c := newTestClient(t)
	entry, err := c.SaveMemory(context.Background(), ledger.TypeShort, "temporary note", nil)
	require.NoError(t, err)

	require.NoError(t, c.DeleteMemory(entry.ID))
	assert.ErrorIs(t, c.DeleteMemory(entry.ID), ErrNotFound)
	_, err = c.GetMemory(entry.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClientDisabledWithoutProvider(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	c, err := NewClient(cfg)
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	assert.False(t, c.Stats().Knowledge.Enabled)

	_, err = c.IngestDocument(ctx, strings.Repeat("python ", 30), "a.txt", "docs")
	assert.ErrorIs(t, err, ErrDisabled)

	hits, err := c.SemanticRecall(ctx, "anything", 5)
	assert.NoError(t, err)
	assert.Empty(t, hits)

	// Saving still works; memory is durable without semantic recall.
	entry, err := c.SaveMemory(ctx, ledger.TypeShort, "plain note", nil)
	require.NoError(t, err)
	assert.NotNil(t, entry)
}

func TestClientCloseRejectsWrites(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	c, err := NewClient(cfg, WithEmbedder(mock.New()))
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = c.SaveMemory(context.Background(), ledger.TypeShort, "after close", nil)
	assert.Error(t, err)
}

func TestClientReconfigure(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	lcfg := ledger.DefaultConfig()
	lcfg.ConsolidationThreshold = 4
	lcfg.ConsolidationBatch = 3
	c.Reconfigure(lcfg)

	for i := 0; i < 4; i++ {
		_, err := c.SaveMemory(ctx, ledger.TypeShort, fmt.Sprintf("note %d", i), nil)
		require.NoError(t, err)
	}
	episodic, err := c.Consolidate(ctx)
	require.NoError(t, err)
	require.NotNil(t, episodic)
	assert.Equal(t, 1, c.Stats().ShortCount)
}

func TestAsyncClient(t *testing.T) {
	c := newTestClient(t)
	async := NewAsyncClient(c)
	ctx := context.Background()

	saveCh := async.SaveMemory(ctx, ledger.TypeShort, "asynchronous note", nil)
	res := <-saveCh
	require.NoError(t, res.Err)
	require.NotNil(t, res.Entry)

	ingestCh := async.IngestDocument(ctx, strings.Repeat("go routines ", 10), "go.md", "docs")
	ingest := <-ingestCh
	require.NoError(t, ingest.Err)
	require.NotNil(t, ingest.Document)

	async.Wait()
	assert.Equal(t, 1, c.Stats().ShortCount)
}

func TestErrorWrapping(t *testing.T) {
	err := opErr("save", errors.New("boom"))
	assert.Equal(t, "orcbot: save: boom", err.Error())
	assert.Nil(t, opErr("save", nil))
}
