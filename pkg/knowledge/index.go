package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fredabila/orcbot-sub007/pkg/embedder"
	"github.com/fredabila/orcbot-sub007/pkg/store"
)

// Index defaults.
const (
	// DefaultMaxChunks is the hard ceiling on stored chunks.
	DefaultMaxChunks = 20000

	// DefaultMinScore is the minimum cosine similarity for search results.
	DefaultMinScore = 0.25

	// DefaultTaskMinScore is the stricter floor used by RetrieveForTask.
	DefaultTaskMinScore = 0.35

	// DefaultEmbedBatchSize is how many chunks are embedded per provider
	// call during ingest.
	DefaultEmbedBatchSize = 50

	// DefaultPerDocumentCap limits how many chunks of one document may
	// appear in a single result set.
	DefaultPerDocumentCap = 3

	// MemoryCollection is the collection conversational memory entries are
	// indexed under.
	MemoryCollection = "memories"
)

// Predefined errors for index operations.
var (
	// ErrDisabled indicates that no embedding provider is configured; the
	// index permanently rejects ingest and returns empty search results.
	ErrDisabled = errors.New("knowledge index is disabled: no embedding provider configured")

	// ErrContentTooShort indicates that the content is below the minimum
	// ingestable length.
	ErrContentTooShort = errors.New("content too short to ingest")

	// ErrEmbeddingFailed indicates that every chunk of a document failed
	// to embed.
	ErrEmbeddingFailed = errors.New("embedding failed for all chunks")
)

// DocumentMeta is the per-chunk snapshot of document metadata.
type DocumentMeta struct {
	Source string   `json:"source,omitempty"`
	Title  string   `json:"title,omitempty"`
	Format string   `json:"format,omitempty"`
	Tags   []string `json:"tags,omitempty"`
}

// Chunk is one embedded slice of a document.
//
// Invariant: all vectors in one index share the same dimensionality, and a
// chunk's document is always present in the document registry.
type Chunk struct {
	ID         string       `json:"id"`
	DocumentID string       `json:"documentId"`
	Collection string       `json:"collection"`
	Content    string       `json:"content"`
	Vector     []float64    `json:"vector"`
	ChunkIndex int          `json:"chunkIndex"`
	Metadata   DocumentMeta `json:"metadata"`
	IndexedAt  time.Time    `json:"indexedAt"`
}

// Document is the registry record for one ingested document. TotalChunks
// always equals the number of chunks stored for the document.
type Document struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	Title       string    `json:"title"`
	Collection  string    `json:"collection"`
	Format      string    `json:"format"`
	TotalChunks int       `json:"totalChunks"`
	SizeBytes   int       `json:"sizeBytes"`
	IngestedAt  time.Time `json:"ingestedAt"`
	Tags        []string  `json:"tags,omitempty"`
}

// Config contains tunables for the knowledge index.
type Config struct {
	// MaxChunks is the hard capacity ceiling (default 20000). Exceeding it
	// evicts the oldest document's entire chunk set, never partial ones.
	MaxChunks int

	// MinScore is the minimum similarity for search hits (default 0.25).
	MinScore float64

	// TaskMinScore is the stricter floor for RetrieveForTask (default 0.35).
	TaskMinScore float64

	// EmbedBatchSize is the per-call embedding batch size (default 50).
	EmbedBatchSize int

	// PerDocumentCap caps chunks per document in one result set (default 3).
	PerDocumentCap int

	// Chunking configures document splitting.
	Chunking ChunkOptions
}

// DefaultConfig returns the default index configuration.
func DefaultConfig() Config {
	return Config{
		MaxChunks:      DefaultMaxChunks,
		MinScore:       DefaultMinScore,
		TaskMinScore:   DefaultTaskMinScore,
		EmbedBatchSize: DefaultEmbedBatchSize,
		PerDocumentCap: DefaultPerDocumentCap,
		Chunking:       DefaultChunkOptions(),
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.MaxChunks <= 0 {
		c.MaxChunks = d.MaxChunks
	}
	if c.MinScore <= 0 {
		c.MinScore = d.MinScore
	}
	if c.TaskMinScore <= 0 {
		c.TaskMinScore = d.TaskMinScore
	}
	if c.EmbedBatchSize <= 0 {
		c.EmbedBatchSize = d.EmbedBatchSize
	}
	if c.PerDocumentCap <= 0 {
		c.PerDocumentCap = d.PerDocumentCap
	}
	if c.Chunking.ChunkSize <= 0 {
		c.Chunking = d.Chunking
	}
}

// Index is a chunked vector index persisted to a single JSON file using the
// same atomic replace-with-backup pattern as the durable store.
//
// A nil provider permanently disables the index: ingest returns
// ErrDisabled, searches return empty results, deletes return false.
type Index struct {
	path     string
	provider embedder.Provider
	cfg      Config
	logger   *log.Logger

	mu        sync.Mutex
	chunks    []*Chunk
	documents map[string]*Document

	// Last query embedding, cached to avoid re-embedding repeated
	// identical queries.
	lastQuery  string
	lastVector []float64
}

// Option configures an Index.
type Option func(*Index)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(i *Index) {
		i.cfg = cfg
	}
}

// WithLogger sets the logger for eviction and recovery events.
func WithLogger(l *log.Logger) Option {
	return func(i *Index) {
		if l != nil {
			i.logger = l
		}
	}
}

// snapshot is the on-disk index document.
type snapshot struct {
	Provider      string               `json:"provider"`
	Dimensions    int                  `json:"dimensions"`
	ChunkCount    int                  `json:"chunkCount"`
	DocumentCount int                  `json:"documentCount"`
	Documents     map[string]*Document `json:"documents"`
	Chunks        []*Chunk             `json:"chunks"`
}

// New opens (or creates) the index backed by the file at path.
//
// provider may be nil, in which case the index is disabled and all
// operations are safe no-ops. A corrupt primary file recovers from its
// ".bak" sibling; when both are unusable the index starts empty.
func New(path string, provider embedder.Provider, opts ...Option) (*Index, error) {
	idx := &Index{
		path:      path,
		provider:  provider,
		cfg:       DefaultConfig(),
		logger:    log.Default(),
		documents: make(map[string]*Document),
	}
	for _, opt := range opts {
		opt(idx)
	}
	idx.cfg.applyDefaults()

	if provider == nil {
		return idx, nil
	}

	var snap snapshot
	recovered, err := store.LoadJSON(path, &snap)
	switch {
	case err == nil:
		idx.chunks = snap.Chunks
		if snap.Documents != nil {
			idx.documents = snap.Documents
		}
		if recovered {
			idx.logger.Printf("[knowledge] recovered %s from backup, rewriting primary", filepath.Base(path))
			if pErr := idx.persistLocked(); pErr != nil {
				return nil, pErr
			}
		}
		// All vectors in one index must share the provider's
		// dimensionality; a provider change invalidates the index.
		if snap.Dimensions != 0 && snap.Dimensions != provider.Dimensions() && len(idx.chunks) > 0 {
			idx.logger.Printf("[knowledge] dimension mismatch (stored %d, provider %d), resetting index", snap.Dimensions, provider.Dimensions())
			idx.chunks = nil
			idx.documents = make(map[string]*Document)
			if pErr := idx.persistLocked(); pErr != nil {
				return nil, pErr
			}
		}
	case errors.Is(err, os.ErrNotExist):
		// Fresh index.
	default:
		idx.logger.Printf("[knowledge] %s unusable (primary and backup), starting empty: %v", filepath.Base(path), err)
	}

	return idx, nil
}

// Enabled reports whether an embedding provider is configured.
func (i *Index) Enabled() bool {
	return i.provider != nil
}

// IngestOptions configures a single ingest call.
type IngestOptions struct {
	// Title overrides the derived document title.
	Title string

	// Tags are attached to the document and all its chunks.
	Tags []string

	// Chunking overrides the index-level chunking options.
	Chunking *ChunkOptions
}

// IngestOption configures Ingest.
type IngestOption func(*IngestOptions)

// WithTitle overrides the derived document title.
func WithTitle(title string) IngestOption {
	return func(o *IngestOptions) {
		o.Title = title
	}
}

// WithTags attaches tags to the ingested document.
func WithTags(tags ...string) IngestOption {
	return func(o *IngestOptions) {
		o.Tags = tags
	}
}

// WithChunking overrides the chunking options for one ingest.
func WithChunking(chunking ChunkOptions) IngestOption {
	return func(o *IngestOptions) {
		o.Chunking = &chunking
	}
}

// Ingest chunks, embeds, and stores a document.
//
// The document title is derived from the first Markdown heading, else a
// short first line, else the source filename; the format comes from the
// source extension. Chunks are embedded in batches; a chunk whose
// embedding fails individually is dropped, and the ingest fails only when
// every chunk failed. When the new chunks would push the index over
// MaxChunks, the oldest documents are evicted whole until there is room.
//
// Returns the new Document, or an error:
//   - ErrDisabled when no provider is configured
//   - ErrContentTooShort when content is under the minimum length
//   - ErrEmbeddingFailed when no chunk could be embedded
func (i *Index) Ingest(ctx context.Context, content, source, collection string, opts ...IngestOption) (*Document, error) {
	if i.provider == nil {
		return nil, ErrDisabled
	}
	if len(strings.TrimSpace(content)) < MinChunkLength {
		return nil, ErrContentTooShort
	}

	var options IngestOptions
	for _, opt := range opts {
		opt(&options)
	}

	chunking := i.cfg.Chunking
	if options.Chunking != nil {
		chunking = *options.Chunking
	}

	texts := ChunkText(content, chunking)
	if len(texts) == 0 {
		return nil, ErrContentTooShort
	}

	title := options.Title
	if title == "" {
		title = deriveTitle(content, source)
	}
	format := deriveFormat(source)

	// Embed in batches, tolerating per-item failure.
	vectors := make([][]float64, len(texts))
	for start := 0; start < len(texts); start += i.cfg.EmbedBatchSize {
		end := start + i.cfg.EmbedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := i.provider.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed chunks: %w", err)
		}
		copy(vectors[start:end], batch)
	}

	docID := uuid.NewString()
	now := time.Now()
	meta := DocumentMeta{Source: source, Title: title, Format: format, Tags: options.Tags}

	newChunks := make([]*Chunk, 0, len(texts))
	for idx, text := range texts {
		if vectors[idx] == nil {
			i.logger.Printf("[knowledge] dropping chunk %d of %s: embedding unavailable", idx, source)
			continue
		}
		newChunks = append(newChunks, &Chunk{
			ID:         fmt.Sprintf("%s-chunk-%d", docID, idx),
			DocumentID: docID,
			Collection: collection,
			Content:    text,
			Vector:     vectors[idx],
			ChunkIndex: idx,
			Metadata:   meta,
			IndexedAt:  now,
		})
	}
	if len(newChunks) == 0 {
		return nil, ErrEmbeddingFailed
	}
	if len(newChunks) > i.cfg.MaxChunks {
		i.logger.Printf("[knowledge] document %s alone exceeds capacity, keeping first %d chunks", source, i.cfg.MaxChunks)
		newChunks = newChunks[:i.cfg.MaxChunks]
	}

	doc := &Document{
		ID:          docID,
		Source:      source,
		Title:       title,
		Collection:  collection,
		Format:      format,
		TotalChunks: len(newChunks),
		SizeBytes:   len(content),
		IngestedAt:  now,
		Tags:        options.Tags,
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.ensureCapacityLocked(len(newChunks))
	i.chunks = append(i.chunks, newChunks...)
	i.documents[docID] = doc
	if err := i.persistLocked(); err != nil {
		return nil, err
	}
	return doc, nil
}

// IndexMemory stores one conversational memory entry as a single-chunk
// document in the "memories" collection, keyed by the entry id. Re-indexing
// the same id replaces the previous vector. A disabled index is a silent
// no-op.
func (i *Index) IndexMemory(ctx context.Context, id, content string, tags []string) error {
	if i.provider == nil {
		return nil
	}
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil
	}

	vector, err := i.provider.Embed(ctx, trimmed)
	if err != nil {
		return fmt.Errorf("embed memory %s: %w", id, err)
	}

	now := time.Now()
	title := firstLine(trimmed, 80)

	i.mu.Lock()
	defer i.mu.Unlock()
	if _, exists := i.documents[id]; exists {
		i.removeDocumentLocked(id)
	}
	i.ensureCapacityLocked(1)
	i.chunks = append(i.chunks, &Chunk{
		ID:         id + "-chunk-0",
		DocumentID: id,
		Collection: MemoryCollection,
		Content:    trimmed,
		Vector:     vector,
		ChunkIndex: 0,
		Metadata:   DocumentMeta{Source: "memory", Title: title, Format: "text", Tags: tags},
		IndexedAt:  now,
	})
	i.documents[id] = &Document{
		ID:          id,
		Source:      "memory",
		Title:       title,
		Collection:  MemoryCollection,
		Format:      "text",
		TotalChunks: 1,
		SizeBytes:   len(trimmed),
		IngestedAt:  now,
		Tags:        tags,
	}
	return i.persistLocked()
}

// DeleteDocument removes a document and all its chunks.
// Returns false when the document is unknown (or the index is disabled).
func (i *Index) DeleteDocument(id string) bool {
	if i.provider == nil {
		return false
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.documents[id]; !ok {
		return false
	}
	i.removeDocumentLocked(id)
	if err := i.persistLocked(); err != nil {
		i.logger.Printf("[knowledge] persist after delete failed: %v", err)
	}
	return true
}

// DeleteCollection removes every document in the named collection.
// Returns the number of documents removed.
func (i *Index) DeleteCollection(name string) int {
	if i.provider == nil {
		return 0
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	var ids []string
	for id, doc := range i.documents {
		if doc.Collection == name {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		i.removeDocumentLocked(id)
	}
	if len(ids) > 0 {
		if err := i.persistLocked(); err != nil {
			i.logger.Printf("[knowledge] persist after collection delete failed: %v", err)
		}
	}
	return len(ids)
}

// Stats describes the current index contents.
type Stats struct {
	Enabled       bool
	Provider      string
	Dimensions    int
	ChunkCount    int
	DocumentCount int
}

// Stats returns a snapshot of the index state.
func (i *Index) Stats() Stats {
	if i.provider == nil {
		return Stats{}
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	return Stats{
		Enabled:       true,
		Provider:      i.provider.Name(),
		Dimensions:    i.provider.Dimensions(),
		ChunkCount:    len(i.chunks),
		DocumentCount: len(i.documents),
	}
}

// Close releases the embedding provider.
func (i *Index) Close() error {
	if i.provider == nil {
		return nil
	}
	return i.provider.Close()
}

// ensureCapacityLocked evicts the oldest documents, whole, until incoming
// chunks fit under MaxChunks. Eviction is silent towards callers and
// logged at info level.
func (i *Index) ensureCapacityLocked(incoming int) {
	for len(i.chunks)+incoming > i.cfg.MaxChunks && len(i.documents) > 0 {
		var oldest *Document
		for _, doc := range i.documents {
			if oldest == nil || doc.IngestedAt.Before(oldest.IngestedAt) {
				oldest = doc
			}
		}
		i.logger.Printf("[knowledge] capacity %d reached, evicting oldest document %q (%d chunks)", i.cfg.MaxChunks, oldest.Title, oldest.TotalChunks)
		i.removeDocumentLocked(oldest.ID)
	}
}

// removeDocumentLocked drops a document record and all its chunks.
func (i *Index) removeDocumentLocked(id string) {
	kept := i.chunks[:0]
	for _, c := range i.chunks {
		if c.DocumentID != id {
			kept = append(kept, c)
		}
	}
	i.chunks = kept
	delete(i.documents, id)
}

// persistLocked writes the index snapshot atomically.
func (i *Index) persistLocked() error {
	snap := snapshot{
		Provider:      i.provider.Name(),
		Dimensions:    i.provider.Dimensions(),
		ChunkCount:    len(i.chunks),
		DocumentCount: len(i.documents),
		Documents:     i.documents,
		Chunks:        i.chunks,
	}
	data, err := json.Marshal(&snap)
	if err != nil {
		return err
	}
	return store.WriteAtomic(i.path, data)
}

// deriveTitle picks a document title: the first Markdown heading, else a
// short first line, else the source filename.
func deriveTitle(content, source string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			return strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		}
	}
	if line := firstLine(content, 80); line != "" {
		return line
	}
	return filepath.Base(source)
}

// firstLine returns the first non-empty line when it is short enough (at
// most maxLen bytes) to serve as a title, else "".
func firstLine(content string, maxLen int) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if len(trimmed) > maxLen {
			return ""
		}
		return trimmed
	}
	return ""
}

// deriveFormat maps a source extension to a document format.
func deriveFormat(source string) string {
	switch strings.ToLower(filepath.Ext(source)) {
	case ".md", ".markdown":
		return "markdown"
	case ".html", ".htm":
		return "html"
	case ".json":
		return "json"
	case ".pdf":
		return "pdf"
	case ".txt", "":
		return "text"
	default:
		return "text"
	}
}
