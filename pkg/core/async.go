package core

import (
	"context"
	"sync"

	"github.com/fredabila/orcbot-sub007/pkg/knowledge"
	"github.com/fredabila/orcbot-sub007/pkg/ledger"
)

// AsyncClient wraps Client with non-blocking variants of the slow
// operations (those that hit disk or a remote provider). Each call runs in
// its own goroutine and delivers its result on a buffered channel; Wait
// blocks until every outstanding call finishes.
//
//	async := core.NewAsyncClient(client)
//	saveCh := async.SaveMemory(ctx, ledger.TypeShort, "hello", nil)
//	ingestCh := async.IngestDocument(ctx, content, "notes.md", "docs")
//	res := <-saveCh
//	async.Wait()
type AsyncClient struct {
	client *Client
	wg     sync.WaitGroup
}

// NewAsyncClient creates an asynchronous wrapper around client.
func NewAsyncClient(client *Client) *AsyncClient {
	return &AsyncClient{client: client}
}

// Client returns the wrapped synchronous client.
func (a *AsyncClient) Client() *Client {
	return a.client
}

// SaveResult is the outcome of an asynchronous SaveMemory.
type SaveResult struct {
	Entry *ledger.Entry
	Err   error
}

// SaveMemory records an entry in the background.
func (a *AsyncClient) SaveMemory(ctx context.Context, entryType ledger.EntryType, content string, metadata map[string]string, opts ...ledger.SaveOption) <-chan SaveResult {
	ch := make(chan SaveResult, 1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		entry, err := a.client.SaveMemory(ctx, entryType, content, metadata, opts...)
		ch <- SaveResult{Entry: entry, Err: err}
	}()
	return ch
}

// RecallResult is the outcome of an asynchronous SemanticRecall.
type RecallResult struct {
	Hits []ledger.ScoredEntry
	Err  error
}

// SemanticRecall runs ranked retrieval in the background.
func (a *AsyncClient) SemanticRecall(ctx context.Context, query string, limit int) <-chan RecallResult {
	ch := make(chan RecallResult, 1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		hits, err := a.client.SemanticRecall(ctx, query, limit)
		ch <- RecallResult{Hits: hits, Err: err}
	}()
	return ch
}

// IngestResult is the outcome of an asynchronous IngestDocument.
type IngestResult struct {
	Document *knowledge.Document
	Err      error
}

// IngestDocument ingests a document in the background.
func (a *AsyncClient) IngestDocument(ctx context.Context, content, source, collection string, opts ...knowledge.IngestOption) <-chan IngestResult {
	ch := make(chan IngestResult, 1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		doc, err := a.client.IngestDocument(ctx, content, source, collection, opts...)
		ch <- IngestResult{Document: doc, Err: err}
	}()
	return ch
}

// ConsolidateResult is the outcome of an asynchronous Consolidate.
type ConsolidateResult struct {
	Entry *ledger.Entry
	Err   error
}

// Consolidate runs threshold consolidation in the background.
func (a *AsyncClient) Consolidate(ctx context.Context) <-chan ConsolidateResult {
	ch := make(chan ConsolidateResult, 1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		entry, err := a.client.Consolidate(ctx)
		ch <- ConsolidateResult{Entry: entry, Err: err}
	}()
	return ch
}

// Wait blocks until every outstanding asynchronous call has completed.
func (a *AsyncClient) Wait() {
	a.wg.Wait()
}

// Close waits for outstanding calls, then closes the wrapped client.
func (a *AsyncClient) Close() error {
	a.Wait()
	return a.client.Close()
}
