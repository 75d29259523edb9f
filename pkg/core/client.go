package core

import (
	"context"
	"log"

	"github.com/fredabila/orcbot-sub007/pkg/embedder"
	"github.com/fredabila/orcbot-sub007/pkg/knowledge"
	"github.com/fredabila/orcbot-sub007/pkg/ledger"
	"github.com/fredabila/orcbot-sub007/pkg/llm"
	llmanthropic "github.com/fredabila/orcbot-sub007/pkg/llm/anthropic"
	llmopenai "github.com/fredabila/orcbot-sub007/pkg/llm/openai"
	"github.com/fredabila/orcbot-sub007/pkg/store"
)

// Client is the memory subsystem facade. External collaborators (channel
// adapters, skills, the decision engine) interact with memory exclusively
// through it: push entries, read recent or ranked context, run semantic
// search, ingest documents, consolidate.
//
// All methods are safe for concurrent use.
type Client struct {
	cfg      *Config
	store    *store.Store
	ledger   *ledger.Ledger
	index    *knowledge.Index
	llm      llm.Provider
	logger   *log.Logger
	ownedLLM bool
}

// ClientOption configures a Client beyond its Config, mainly for injecting
// collaborators in tests.
type ClientOption func(*clientOptions)

type clientOptions struct {
	logger   *log.Logger
	embedder embedder.Provider
	llm      llm.Provider
	daily    ledger.DailyLog
}

// WithLogger sets the logger shared by all components.
func WithLogger(l *log.Logger) ClientOption {
	return func(o *clientOptions) {
		o.logger = l
	}
}

// WithEmbedder injects an embedding provider, bypassing key-based
// resolution.
func WithEmbedder(p embedder.Provider) ClientOption {
	return func(o *clientOptions) {
		o.embedder = p
	}
}

// WithLLM injects a summarizer, bypassing the configured provider.
func WithLLM(p llm.Provider) ClientOption {
	return func(o *clientOptions) {
		o.llm = p
	}
}

// WithDailyLog injects the daily log collaborator, overriding DailyLogDir.
func WithDailyLog(d ledger.DailyLog) ClientOption {
	return func(o *clientOptions) {
		o.daily = d
	}
}

// NewClient builds the full memory subsystem from cfg: durable store,
// ledger, knowledge index, and the configured providers.
func NewClient(cfg *Config, opts ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, opErr("config", err)
	}

	var options clientOptions
	for _, opt := range opts {
		opt(&options)
	}
	logger := options.logger
	if logger == nil {
		logger = log.Default()
	}

	provider := options.embedder
	if provider == nil {
		var err error
		provider, err = embedder.Resolve(embedder.Config{
			OpenAIAPIKey: cfg.Embedding.OpenAIAPIKey,
			GeminiAPIKey: cfg.Embedding.GeminiAPIKey,
			Preferred:    cfg.Embedding.Preferred,
			Model:        cfg.Embedding.Model,
			BaseURL:      cfg.Embedding.BaseURL,
			Dimensions:   cfg.Embedding.Dimensions,
		})
		if err != nil {
			return nil, opErr("embedder", err)
		}
	}

	idx, err := knowledge.New(cfg.KnowledgeFile, provider,
		knowledge.WithConfig(cfg.Knowledge), knowledge.WithLogger(logger))
	if err != nil {
		return nil, opErr("knowledge", err)
	}

	summarizer := options.llm
	ownedLLM := false
	if summarizer == nil && cfg.LLM.Provider != "" {
		summarizer, err = newSummarizer(cfg.LLM)
		if err != nil {
			return nil, opErr("llm", err)
		}
		ownedLLM = true
	}

	st, err := store.Open(cfg.MemoryFile, store.WithLogger(logger))
	if err != nil {
		return nil, opErr("store", err)
	}

	daily := options.daily
	if daily == nil && cfg.DailyLogDir != "" {
		daily = ledger.NewFileDailyLog(cfg.DailyLogDir)
	}

	led, err := ledger.New(st,
		ledger.WithIndex(idx),
		ledger.WithLLM(summarizer),
		ledger.WithDailyLog(daily),
		ledger.WithConfig(cfg.Ledger),
		ledger.WithLogger(logger))
	if err != nil {
		_ = st.Shutdown()
		return nil, opErr("ledger", err)
	}

	return &Client{
		cfg:      cfg,
		store:    st,
		ledger:   led,
		index:    idx,
		llm:      summarizer,
		logger:   logger,
		ownedLLM: ownedLLM,
	}, nil
}

func newSummarizer(cfg LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return llmanthropic.NewClient(&llmanthropic.Config{
			APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL,
		})
	default:
		return llmopenai.NewClient(&llmopenai.Config{
			APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL,
		})
	}
}

// SaveMemory records one memory entry. A duplicate inside the dedup window
// returns (nil, nil).
func (c *Client) SaveMemory(ctx context.Context, entryType ledger.EntryType, content string, metadata map[string]string, opts ...ledger.SaveOption) (*ledger.Entry, error) {
	entry, err := c.ledger.Save(ctx, entryType, content, metadata, opts...)
	return entry, opErr("save", err)
}

// DeleteMemory removes one entry and its indexed vector.
func (c *Client) DeleteMemory(id string) error {
	found, err := c.ledger.Delete(id)
	if err != nil {
		return opErr("delete", err)
	}
	if !found {
		return opErr("delete", ErrNotFound)
	}
	return nil
}

// GetMemory returns one entry by id.
func (c *Client) GetMemory(id string) (*ledger.Entry, error) {
	entry := c.ledger.Get(id)
	if entry == nil {
		return nil, opErr("get", ErrNotFound)
	}
	return entry, nil
}

// GetRecentContext returns quality-filtered recent short entries plus the
// latest episodic summaries.
func (c *Client) GetRecentContext(limit int) (shorts, episodic []*ledger.Entry) {
	return c.ledger.RecentContext(limit)
}

// GetUserRecentExchanges returns the chronological short entries for one
// (source, contact) pair.
func (c *Client) GetUserRecentExchanges(source, contactID string, limit int) []*ledger.Entry {
	return c.ledger.UserRecentExchanges(source, contactID, limit)
}

// SemanticSearch runs recency-blended similarity retrieval over memories.
func (c *Client) SemanticSearch(ctx context.Context, query string, limit int) ([]ledger.ScoredEntry, error) {
	hits, err := c.ledger.SemanticSearch(ctx, query, limit)
	return hits, opErr("search", err)
}

// SemanticRecall is SemanticSearch with the recall similarity floor.
func (c *Client) SemanticRecall(ctx context.Context, query string, limit int) ([]ledger.ScoredEntry, error) {
	hits, err := c.ledger.Recall(ctx, query, limit)
	return hits, opErr("recall", err)
}

// GetRelevantEpisodicMemories returns episodic entries matching the query,
// falling back to the most recent ones.
func (c *Client) GetRelevantEpisodicMemories(ctx context.Context, query string, limit int) ([]*ledger.Entry, error) {
	out, err := c.ledger.RelevantEpisodic(ctx, query, limit)
	return out, opErr("episodic", err)
}

// GetContactProfile returns the derived profile for platform:contactID,
// or nil when the contact has never been seen.
func (c *Client) GetContactProfile(platform, contactID string) *ledger.ContactProfile {
	return c.ledger.Profile(platform, contactID)
}

// IngestDocument chunks, embeds, and indexes a document.
func (c *Client) IngestDocument(ctx context.Context, content, source, collection string, opts ...knowledge.IngestOption) (*knowledge.Document, error) {
	doc, err := c.index.Ingest(ctx, content, source, collection, opts...)
	return doc, opErr("ingest", err)
}

// SearchKnowledge runs a similarity query over ingested documents.
func (c *Client) SearchKnowledge(ctx context.Context, query string, limit int, filter *knowledge.Filter) ([]knowledge.Hit, error) {
	hits, err := c.index.Search(ctx, query, limit, filter)
	return hits, opErr("search", err)
}

// RetrieveForTask returns a formatted knowledge block for prompt
// injection, or "" when nothing relevant exists.
func (c *Client) RetrieveForTask(ctx context.Context, task string, limit int) (string, error) {
	block, err := c.index.RetrieveForTask(ctx, task, limit)
	return block, opErr("retrieve", err)
}

// DeleteDocument removes an ingested document and its chunks.
func (c *Client) DeleteDocument(id string) bool {
	return c.index.DeleteDocument(id)
}

// Consolidate runs threshold consolidation now. Returns the new episodic
// entry, or (nil, nil) below threshold.
func (c *Client) Consolidate(ctx context.Context) (*ledger.Entry, error) {
	entry, err := c.ledger.Consolidate(ctx)
	return entry, opErr("consolidate", err)
}

// ConsolidateInteractions sweeps stale per-contact buckets.
func (c *Client) ConsolidateInteractions(ctx context.Context) error {
	return opErr("consolidate", c.ledger.ConsolidateInteractions(ctx))
}

// EndSession forces interaction consolidation for one contact.
func (c *Client) EndSession(ctx context.Context, platform, contactID string) error {
	return opErr("session", c.ledger.EndSession(ctx, platform, contactID))
}

// CleanupActionMemories deletes an action's step entries once the action
// completes. Returns the number removed.
func (c *Client) CleanupActionMemories(actionID string) (int, error) {
	n, err := c.ledger.CleanupActionMemories(actionID)
	return n, opErr("cleanup", err)
}

// Stats describes the current memory subsystem state.
type Stats struct {
	ShortCount    int
	LongCount     int
	EpisodicCount int
	Knowledge     knowledge.Stats
}

// Stats returns entry counts per type plus index statistics.
func (c *Client) Stats() Stats {
	counts := c.ledger.Counts()
	return Stats{
		ShortCount:    counts[ledger.TypeShort],
		LongCount:     counts[ledger.TypeLong],
		EpisodicCount: counts[ledger.TypeEpisodic],
		Knowledge:     c.index.Stats(),
	}
}

// Reconfigure replaces the ledger tunables at runtime. File paths and
// providers are fixed at construction.
func (c *Client) Reconfigure(cfg ledger.Config) {
	c.ledger.Reconfigure(cfg)
}

// Flush forces pending writes to disk.
func (c *Client) Flush() error {
	return opErr("flush", c.store.Flush())
}

// Close flushes and shuts down the subsystem. The client rejects further
// writes afterwards.
func (c *Client) Close() error {
	err := c.store.Shutdown()
	if cErr := c.index.Close(); err == nil {
		err = cErr
	}
	if c.ownedLLM && c.llm != nil {
		if cErr := c.llm.Close(); err == nil {
			err = cErr
		}
	}
	return opErr("close", err)
}
