package ledger

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"

	"github.com/fredabila/orcbot-sub007/pkg/knowledge"
	"github.com/fredabila/orcbot-sub007/pkg/llm"
	"github.com/fredabila/orcbot-sub007/pkg/store"
)

// Ledger defaults.
const (
	// DefaultMaxContentLength is the hard cap on stored entry content.
	DefaultMaxContentLength = 2000

	// TruncationSuffix marks content that was cut to the maximum length.
	TruncationSuffix = "..."

	// DefaultDedupWindow is the span inside which matching entries are
	// treated as duplicates.
	DefaultDedupWindow = 5 * time.Minute

	// DefaultConsolidationThreshold is the short-entry count that arms
	// threshold consolidation.
	DefaultConsolidationThreshold = 30

	// DefaultConsolidationBatch is how many of the oldest short entries one
	// consolidation compresses.
	DefaultConsolidationBatch = 20

	// DefaultInteractionBatchSize triggers per-contact consolidation when a
	// bucket reaches this many entries.
	DefaultInteractionBatchSize = 12

	// DefaultInteractionStaleAfter triggers per-contact consolidation when
	// a bucket's newest entry is this old.
	DefaultInteractionStaleAfter = 10 * time.Minute

	// DefaultContextLimit is how many short entries RecentContext returns.
	DefaultContextLimit = 15

	// DefaultEpisodicLimit is how many episodic entries RecentContext
	// returns alongside the shorts.
	DefaultEpisodicLimit = 3

	// DefaultRecallMinScore is the similarity floor for Recall.
	DefaultRecallMinScore = 0.25
)

// Store document keys.
const (
	memoriesKey = "memories"
	contactsKey = "contacts"
)

// Config contains the ledger's tunables. Zero values fall back to the
// defaults above.
type Config struct {
	MaxContentLength       int
	DedupWindow            time.Duration
	ConsolidationThreshold int
	ConsolidationBatch     int
	InteractionBatchSize   int
	InteractionStaleAfter  time.Duration
	ContextLimit           int
	EpisodicLimit          int
	RecallMinScore         float64
}

// DefaultConfig returns the default ledger configuration.
func DefaultConfig() Config {
	return Config{
		MaxContentLength:       DefaultMaxContentLength,
		DedupWindow:            DefaultDedupWindow,
		ConsolidationThreshold: DefaultConsolidationThreshold,
		ConsolidationBatch:     DefaultConsolidationBatch,
		InteractionBatchSize:   DefaultInteractionBatchSize,
		InteractionStaleAfter:  DefaultInteractionStaleAfter,
		ContextLimit:           DefaultContextLimit,
		EpisodicLimit:          DefaultEpisodicLimit,
		RecallMinScore:         DefaultRecallMinScore,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.MaxContentLength <= 0 {
		c.MaxContentLength = d.MaxContentLength
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = d.DedupWindow
	}
	if c.ConsolidationThreshold <= 0 {
		c.ConsolidationThreshold = d.ConsolidationThreshold
	}
	if c.ConsolidationBatch <= 0 {
		c.ConsolidationBatch = d.ConsolidationBatch
	}
	if c.InteractionBatchSize <= 0 {
		c.InteractionBatchSize = d.InteractionBatchSize
	}
	if c.InteractionStaleAfter <= 0 {
		c.InteractionStaleAfter = d.InteractionStaleAfter
	}
	if c.ContextLimit <= 0 {
		c.ContextLimit = d.ContextLimit
	}
	if c.EpisodicLimit <= 0 {
		c.EpisodicLimit = d.EpisodicLimit
	}
	if c.RecallMinScore <= 0 {
		c.RecallMinScore = d.RecallMinScore
	}
}

// bucket is the transient per-contact buffer awaiting interaction
// consolidation. Not persisted; rebuilt as entries arrive.
type bucket struct {
	entries []*Entry
	newest  time.Time
}

// Ledger owns the memory-entry lifecycle. All public methods are safe for
// concurrent use.
type Ledger struct {
	store  *store.Store
	index  *knowledge.Index
	llm    llm.Provider
	daily  DailyLog
	logger *log.Logger
	node   *snowflake.Node

	mu       sync.Mutex
	cfg      Config
	entries  []*Entry
	profiles map[string]*ContactProfile
	buckets  map[string]*bucket
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithIndex attaches an embedding index for semantic recall. A nil or
// disabled index turns semantic operations into empty-result no-ops.
func WithIndex(idx *knowledge.Index) Option {
	return func(l *Ledger) {
		l.index = idx
	}
}

// WithLLM attaches a summarizer for consolidation. Without one (or on
// failure) consolidation falls back to deterministic concatenation.
func WithLLM(p llm.Provider) Option {
	return func(l *Ledger) {
		l.llm = p
	}
}

// WithDailyLog attaches the append-only daily log collaborator.
func WithDailyLog(d DailyLog) Option {
	return func(l *Ledger) {
		l.daily = d
	}
}

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(l *Ledger) {
		l.cfg = cfg
	}
}

// WithLogger sets the logger for recovery and background-failure events.
func WithLogger(lg *log.Logger) Option {
	return func(l *Ledger) {
		if lg != nil {
			l.logger = lg
		}
	}
}

// New creates a ledger backed by st, loading any previously persisted
// entries and contact profiles.
func New(st *store.Store, opts ...Option) (*Ledger, error) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, fmt.Errorf("id generator: %w", err)
	}

	l := &Ledger{
		store:    st,
		logger:   log.Default(),
		node:     node,
		cfg:      DefaultConfig(),
		profiles: make(map[string]*ContactProfile),
		buckets:  make(map[string]*bucket),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.cfg.applyDefaults()

	if _, err := st.Get(memoriesKey, &l.entries); err != nil {
		return nil, fmt.Errorf("load memories: %w", err)
	}
	if _, err := st.Get(contactsKey, &l.profiles); err != nil {
		return nil, fmt.Errorf("load contacts: %w", err)
	}
	if l.profiles == nil {
		l.profiles = make(map[string]*ContactProfile)
	}
	return l, nil
}

// Reconfigure replaces the tunables at runtime. Zero fields fall back to
// defaults. In-flight buckets and stored entries are unaffected.
func (l *Ledger) Reconfigure(cfg Config) {
	cfg.applyDefaults()
	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()
}

// SaveOption configures a single Save call.
type SaveOption func(*saveOptions)

type saveOptions struct {
	id string
}

// WithID overrides the generated entry id. Action-step entries use this to
// carry their "<actionId>-step-" prefix. Saving an id that already exists
// replaces the stored entry, so ids stay unique.
func WithID(id string) SaveOption {
	return func(o *saveOptions) {
		o.id = id
	}
}

// Save records one memory entry.
//
// Content longer than the configured maximum is hard-truncated and tagged
// metadata.truncated. A duplicate (matching dedup key, or same
// source/contact with identical content, inside the dedup window) is
// silently dropped: Save returns (nil, nil) and nothing is written or
// indexed. An explicit id (WithID) that matches a stored entry replaces
// that entry in place. Otherwise the entry is appended to the durable
// store, embedded
// asynchronously when an index is attached, tracked in its contact bucket
// when short, and mirrored to the daily log when long or important.
//
// A short entry that fills its contact bucket triggers interaction
// consolidation for that contact before Save returns.
func (l *Ledger) Save(ctx context.Context, entryType EntryType, content string, metadata map[string]string, opts ...SaveOption) (*Entry, error) {
	var options saveOptions
	for _, opt := range opts {
		opt(&options)
	}
	if entryType == "" {
		entryType = TypeShort
	}

	meta := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		meta[k] = v
	}

	l.mu.Lock()
	if len(content) > l.cfg.MaxContentLength {
		content = cutAtRune(content, l.cfg.MaxContentLength) + TruncationSuffix
		meta[MetaTruncated] = "true"
	}

	if l.isDuplicateLocked(content, meta) {
		l.mu.Unlock()
		return nil, nil
	}

	id := options.id
	if id == "" {
		id = l.node.Generate().String()
	}
	entry := &Entry{
		ID:        id,
		Type:      entryType,
		Content:   content,
		Metadata:  meta,
		Timestamp: time.Now(),
	}
	replaced := false
	if options.id != "" {
		for i, e := range l.entries {
			if e.ID == id {
				l.entries[i] = entry
				replaced = true
				break
			}
		}
	}
	if !replaced {
		l.entries = append(l.entries, entry)
	}
	l.upsertProfileLocked(entry)

	var full []*Entry
	if entryType == TypeShort && !replaced {
		full = l.trackBucketLocked(entry)
	}
	err := l.persistLocked()
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if l.index != nil && l.index.Enabled() {
		// Fire-and-forget: conversational embedding failures are logged,
		// never propagated.
		go func(e *Entry) {
			if iErr := l.index.IndexMemory(context.Background(), e.ID, e.Content, nil); iErr != nil {
				l.logger.Printf("[ledger] background embedding of %s failed: %v", e.ID, iErr)
			}
		}(entry)
	}

	if entryType == TypeLong || meta[MetaImportant] == "true" {
		l.appendDaily(ctx, fmt.Sprintf("[%s] %s", entryType, content))
	}

	if full != nil {
		if cErr := l.consolidateInteraction(ctx, bucketKey(entry), full); cErr != nil {
			l.logger.Printf("[ledger] interaction consolidation failed: %v", cErr)
		}
	}
	return entry, nil
}

// Delete removes one entry by id, along with its vector-index counterpart.
// Returns false when the id is unknown.
func (l *Ledger) Delete(id string) (bool, error) {
	l.mu.Lock()
	found := false
	kept := l.entries[:0]
	for _, e := range l.entries {
		if e.ID == id {
			found = true
			continue
		}
		kept = append(kept, e)
	}
	l.entries = kept
	var err error
	if found {
		err = l.persistLocked()
	}
	l.mu.Unlock()

	if found && l.index != nil {
		l.index.DeleteDocument(id)
	}
	return found, err
}

// Get returns the entry with the given id, or nil.
func (l *Ledger) Get(id string) *Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.findLocked(id)
}

// Profile returns the contact profile for platform:contactID, or nil.
func (l *Ledger) Profile(platform, contactID string) *ContactProfile {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.profiles[platform+":"+contactID]
}

// Counts returns the number of stored entries per type.
func (l *Ledger) Counts() map[EntryType]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	counts := make(map[EntryType]int, 3)
	for _, e := range l.entries {
		counts[e.Type]++
	}
	return counts
}

// Flush forces the durable store to disk.
func (l *Ledger) Flush() error {
	return l.store.Flush()
}

func (l *Ledger) findLocked(id string) *Entry {
	for _, e := range l.entries {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// isDuplicateLocked reports whether a new entry duplicates an existing one
// inside the dedup window: either a shared explicit dedup key, or the same
// (source, contact) pair with identical content.
func (l *Ledger) isDuplicateLocked(content string, meta map[string]string) bool {
	cutoff := time.Now().Add(-l.cfg.DedupWindow)
	source, contact := meta[MetaSource], meta[MetaSourceID]

	for i := len(l.entries) - 1; i >= 0; i-- {
		existing := l.entries[i]
		if existing.Timestamp.Before(cutoff) {
			break // entries are append-ordered; everything older is out of window
		}
		for _, key := range dedupKeys {
			if v := meta[key]; v != "" && existing.Meta(key) == v {
				return true
			}
		}
		if source != "" && contact != "" &&
			existing.Meta(MetaSource) == source && existing.Meta(MetaSourceID) == contact &&
			existing.Content == content {
			return true
		}
	}
	return false
}

// upsertProfileLocked derives the contact profile from save metadata.
func (l *Ledger) upsertProfileLocked(e *Entry) {
	platform, contact := e.Meta(MetaSource), e.Meta(MetaSourceID)
	if platform == "" || contact == "" {
		return
	}
	key := platform + ":" + contact
	profile, ok := l.profiles[key]
	if !ok {
		profile = &ContactProfile{Key: key, Platform: platform, ContactID: contact}
		l.profiles[key] = profile
	}
	profile.LastSeen = e.Timestamp
	if name := e.Meta(MetaSenderName); name != "" {
		if profile.DisplayName == "" {
			profile.DisplayName = name
		} else if profile.DisplayName != name && !contains(profile.Aliases, name) {
			profile.Aliases = append(profile.Aliases, name)
		}
	}
	if !contains(profile.Platforms, platform) {
		profile.Platforms = append(profile.Platforms, platform)
	}
}

// trackBucketLocked appends a short entry to its contact bucket. When the
// bucket reaches the interaction batch size its contents are returned (and
// the bucket cleared) for consolidation by the caller.
func (l *Ledger) trackBucketLocked(e *Entry) []*Entry {
	key := bucketKey(e)
	if key == ":" {
		return nil
	}
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{}
		l.buckets[key] = b
	}
	b.entries = append(b.entries, e)
	b.newest = e.Timestamp
	if len(b.entries) >= l.cfg.InteractionBatchSize {
		full := b.entries
		delete(l.buckets, key)
		return full
	}
	return nil
}

func bucketKey(e *Entry) string {
	return e.Meta(MetaSource) + ":" + e.Meta(MetaSourceID)
}

// persistLocked writes entries and profiles through the coalescing store.
func (l *Ledger) persistLocked() error {
	if err := l.store.Put(memoriesKey, l.entries); err != nil {
		return err
	}
	return l.store.Put(contactsKey, l.profiles)
}

func (l *Ledger) appendDaily(ctx context.Context, line string) {
	if l.daily == nil {
		return
	}
	if err := l.daily.Append(ctx, line); err != nil {
		l.logger.Printf("[ledger] daily log append failed: %v", err)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func truncateForSummary(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return cutAtRune(s, max) + TruncationSuffix
}

// cutAtRune cuts s at byte offset n, backed off to the nearest rune
// boundary so the result is always valid UTF-8.
func cutAtRune(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
