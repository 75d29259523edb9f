package ledger

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fredabila/orcbot-sub007/pkg/llm"
)

// Consolidate runs threshold consolidation: when at least
// ConsolidationThreshold short entries exist, the oldest ConsolidationBatch
// of them are summarized into one new episodic entry and deleted.
//
// The summary is produced by the attached LLM; without one, or when the
// call fails, a deterministic concatenation of role and content pairs is
// stored instead, so consolidation never loses data or blocks writes.
//
// Returns the new episodic entry, or (nil, nil) when below threshold.
func (l *Ledger) Consolidate(ctx context.Context) (*Entry, error) {
	l.mu.Lock()
	var shorts []*Entry
	for _, e := range l.entries {
		if e.Type == TypeShort {
			shorts = append(shorts, e)
		}
	}
	if len(shorts) < l.cfg.ConsolidationThreshold {
		l.mu.Unlock()
		return nil, nil
	}
	batch := make([]*Entry, l.cfg.ConsolidationBatch)
	copy(batch, shorts[:l.cfg.ConsolidationBatch])
	l.mu.Unlock()

	summary := l.summarize(ctx, batch)
	episodic := &Entry{
		ID:        l.node.Generate().String(),
		Type:      TypeEpisodic,
		Content:   summary,
		Metadata:  batchMetadata(batch),
		Timestamp: time.Now(),
	}

	removed := make(map[string]bool, len(batch))
	for _, e := range batch {
		removed[e.ID] = true
	}

	l.mu.Lock()
	kept := l.entries[:0]
	for _, e := range l.entries {
		if !removed[e.ID] {
			kept = append(kept, e)
		}
	}
	l.entries = append(kept, episodic)
	err := l.persistLocked()
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	l.indexEpisodic(episodic)
	l.appendDaily(ctx, fmt.Sprintf("[episodic] %s", summary))
	for _, e := range batch {
		if l.index != nil {
			l.index.DeleteDocument(e.ID)
		}
	}
	return episodic, nil
}

// ConsolidateInteractions sweeps the per-contact buckets and consolidates
// every bucket whose newest entry is older than InteractionStaleAfter.
func (l *Ledger) ConsolidateInteractions(ctx context.Context) error {
	cutoff := time.Now().Add(-l.cfg.InteractionStaleAfter)

	l.mu.Lock()
	stale := make(map[string][]*Entry)
	for key, b := range l.buckets {
		if b.newest.Before(cutoff) {
			stale[key] = b.entries
			delete(l.buckets, key)
		}
	}
	l.mu.Unlock()

	for key, entries := range stale {
		if err := l.consolidateInteraction(ctx, key, entries); err != nil {
			return err
		}
	}
	return nil
}

// EndSession forces interaction consolidation for one contact's bucket,
// regardless of size or age. A missing or empty bucket is a no-op.
func (l *Ledger) EndSession(ctx context.Context, platform, contactID string) error {
	key := platform + ":" + contactID

	l.mu.Lock()
	b, ok := l.buckets[key]
	if ok {
		delete(l.buckets, key)
	}
	l.mu.Unlock()

	if !ok || len(b.entries) == 0 {
		return nil
	}
	return l.consolidateInteraction(ctx, key, b.entries)
}

// consolidateInteraction compresses one contact bucket into a single
// episodic entry describing the structured tail of the exchange. The
// summary is deterministic; the buffered short entries stay in the store.
func (l *Ledger) consolidateInteraction(ctx context.Context, key string, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}
	platform, contact, _ := strings.Cut(key, ":")

	var b strings.Builder
	fmt.Fprintf(&b, "Interaction with %s (%d messages):\n", key, len(entries))
	for _, e := range entries {
		role := e.Meta(MetaRole)
		if role == "" {
			role = "user"
		}
		line := "- " + role
		if mt := e.Meta(MetaMessageType); mt != "" {
			line += "/" + mt
		}
		if status := e.Meta(MetaStatus); status != "" {
			line += " (" + status + ")"
		}
		b.WriteString(line + ": " + truncateForSummary(e.Content, 100) + "\n")
	}

	episodic := &Entry{
		ID:      l.node.Generate().String(),
		Type:    TypeEpisodic,
		Content: strings.TrimSpace(b.String()),
		Metadata: map[string]string{
			MetaSource:   platform,
			MetaSourceID: contact,
			"interaction": "true",
			"messageCount": strconv.Itoa(len(entries)),
		},
		Timestamp: time.Now(),
	}

	l.mu.Lock()
	l.entries = append(l.entries, episodic)
	err := l.persistLocked()
	l.mu.Unlock()
	if err != nil {
		return err
	}

	l.indexEpisodic(episodic)
	l.appendDaily(ctx, fmt.Sprintf("[episodic] %s", episodic.Content))
	return nil
}

// summarize asks the LLM for a summary of the batch, falling back to a
// deterministic concatenation on any failure.
func (l *Ledger) summarize(ctx context.Context, batch []*Entry) string {
	if l.llm != nil {
		var b strings.Builder
		b.WriteString("Summarize the following agent memory entries into one short paragraph preserving names, decisions, and outcomes:\n\n")
		for _, e := range batch {
			fmt.Fprintf(&b, "%s: %s\n", e.Timestamp.Format(time.RFC3339), e.Content)
		}
		summary, err := l.llm.Generate(ctx, b.String(), llm.WithTemperature(0.3))
		if err == nil && strings.TrimSpace(summary) != "" {
			return strings.TrimSpace(summary)
		}
		if err != nil {
			l.logger.Printf("[ledger] consolidation summary failed, using fallback: %v", err)
		}
	}
	return fallbackSummary(batch)
}

// fallbackSummary concatenates role and content pairs deterministically.
func fallbackSummary(batch []*Entry) string {
	var b strings.Builder
	b.WriteString("Summary of earlier activity:\n")
	for _, e := range batch {
		role := e.Meta(MetaRole)
		if role == "" {
			role = "event"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, truncateForSummary(e.Content, 150))
	}
	return strings.TrimSpace(b.String())
}

// batchMetadata builds the episodic entry's index of referenced sources,
// contacts, and skills, plus the batch's time range.
func batchMetadata(batch []*Entry) map[string]string {
	ids := make([]string, 0, len(batch))
	contactSet := make(map[string]bool)
	skillSet := make(map[string]bool)
	from, to := batch[0].Timestamp, batch[0].Timestamp

	for _, e := range batch {
		ids = append(ids, e.ID)
		if c := bucketKey(e); c != ":" {
			contactSet[c] = true
		}
		if s := e.Meta(MetaSkill); s != "" {
			skillSet[s] = true
		}
		if e.Timestamp.Before(from) {
			from = e.Timestamp
		}
		if e.Timestamp.After(to) {
			to = e.Timestamp
		}
	}

	meta := map[string]string{
		"sources":           strings.Join(ids, ","),
		"consolidatedCount": strconv.Itoa(len(ids)),
		"from":              from.Format(time.RFC3339),
		"to":                to.Format(time.RFC3339),
	}
	if len(contactSet) > 0 {
		meta["contacts"] = strings.Join(sortedKeys(contactSet), ",")
	}
	if len(skillSet) > 0 {
		meta["skills"] = strings.Join(sortedKeys(skillSet), ",")
	}
	return meta
}

// indexEpisodic embeds an episodic entry in the background, like any other
// save.
func (l *Ledger) indexEpisodic(e *Entry) {
	if l.index == nil || !l.index.Enabled() {
		return
	}
	go func() {
		if err := l.index.IndexMemory(context.Background(), e.ID, e.Content, nil); err != nil {
			l.logger.Printf("[ledger] background embedding of %s failed: %v", e.ID, err)
		}
	}()
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
