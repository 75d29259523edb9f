package ledger

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/fredabila/orcbot-sub007/pkg/knowledge"
)

// Recency blend weights: ranked retrieval scores are
// 0.8*similarity + 0.2*exp(-ageHours/72).
const (
	similarityWeight  = 0.8
	recencyWeight     = 0.2
	recencyDecayHours = 72.0

	// systemNoiseMarker opens system-generated entries (skill and tool
	// traces); the quality filter caps them per originating group.
	systemNoiseMarker = "["

	// maxNoisePerGroup is the quality filter's cap on system-noise entries
	// per skill or tool.
	maxNoisePerGroup = 2

	// actionStepInfix joins an action id to its step entries' ids.
	actionStepInfix = "-step-"
)

// ScoredEntry is a semantic retrieval hit after recency blending.
type ScoredEntry struct {
	Entry *Entry

	// Similarity is the raw cosine similarity against the query.
	Similarity float64

	// Score is the recency-blended ranking score.
	Score float64
}

// RecentContext returns the most recent short entries (newest first, up to
// limit, default ContextLimit) and the most recent episodic entries (up to
// EpisodicLimit), both passed through the quality filter: exact-duplicate
// content is dropped and system-noise entries are capped per originating
// skill or tool.
func (l *Ledger) RecentContext(limit int) (shorts, episodic []*Entry) {
	l.mu.Lock()
	if limit <= 0 {
		limit = l.cfg.ContextLimit
	}
	episodicLimit := l.cfg.EpisodicLimit

	var allShorts, allEpisodic []*Entry
	for _, e := range l.entries {
		switch e.Type {
		case TypeShort:
			allShorts = append(allShorts, e)
		case TypeEpisodic:
			allEpisodic = append(allEpisodic, e)
		}
	}
	l.mu.Unlock()

	// Entries are append-ordered; reverse for newest-first.
	reverseEntries(allShorts)
	reverseEntries(allEpisodic)

	shorts = qualityFilter(allShorts, limit)
	episodic = qualityFilter(allEpisodic, episodicLimit)
	return shorts, episodic
}

// UserRecentExchanges returns the short entries for one exact
// (source, contact) pair, chronological, keeping the last limit entries.
func (l *Ledger) UserRecentExchanges(source, contactID string, limit int) []*Entry {
	l.mu.Lock()
	var matched []*Entry
	for _, e := range l.entries {
		if e.Type == TypeShort && e.Meta(MetaSource) == source && e.Meta(MetaSourceID) == contactID {
			matched = append(matched, e)
		}
	}
	l.mu.Unlock()

	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched
}

// SemanticSearch runs a similarity query over indexed memories and
// re-ranks the hits by blending raw similarity with a recency boost, so a
// slightly weaker but fresh memory can outrank a stale strong one.
//
// Without an index it returns an empty result and no error.
func (l *Ledger) SemanticSearch(ctx context.Context, query string, limit int) ([]ScoredEntry, error) {
	return l.search(ctx, query, limit, 0)
}

// Recall is SemanticSearch with the recall floor applied: hits whose raw
// similarity is below RecallMinScore are discarded before blending.
func (l *Ledger) Recall(ctx context.Context, query string, limit int) ([]ScoredEntry, error) {
	return l.search(ctx, query, limit, l.cfg.RecallMinScore)
}

func (l *Ledger) search(ctx context.Context, query string, limit int, minSimilarity float64) ([]ScoredEntry, error) {
	if l.index == nil || !l.index.Enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = l.cfg.ContextLimit
	}

	// Over-fetch so blending has room to reorder before the cut.
	filter := &knowledge.Filter{Collection: knowledge.MemoryCollection}
	if minSimilarity > 0 {
		filter.MinScore = minSimilarity
	}
	hits, err := l.index.Search(ctx, query, limit*2, filter)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	scored := make([]ScoredEntry, 0, len(hits))
	l.mu.Lock()
	for _, hit := range hits {
		entry := l.findLocked(hit.Chunk.DocumentID)
		if entry == nil {
			continue // deleted since indexing
		}
		scored = append(scored, ScoredEntry{
			Entry:      entry,
			Similarity: hit.Score,
			Score:      blendRecency(hit.Score, entry.Timestamp, now),
		})
	}
	l.mu.Unlock()

	sort.Slice(scored, func(a, b int) bool {
		return scored[a].Score > scored[b].Score
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// RelevantEpisodic returns episodic entries matching the query
// semantically; when fewer than 2 semantic hits exist it falls back to the
// most recent episodic entries by time. The single most recent episodic
// entry is always included for continuity, de-duplicated by id.
func (l *Ledger) RelevantEpisodic(ctx context.Context, query string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = l.cfg.EpisodicLimit
	}

	var semantic []*Entry
	hits, err := l.SemanticSearch(ctx, query, limit*2)
	if err != nil {
		return nil, err
	}
	for _, hit := range hits {
		if hit.Entry.Type == TypeEpisodic {
			semantic = append(semantic, hit.Entry)
		}
	}

	l.mu.Lock()
	var recent []*Entry
	for _, e := range l.entries {
		if e.Type == TypeEpisodic {
			recent = append(recent, e)
		}
	}
	l.mu.Unlock()
	reverseEntries(recent)

	out := semantic
	if len(semantic) < 2 {
		out = recent
	}

	// Force-include the most recent episodic entry.
	if len(recent) > 0 && !containsEntry(out, recent[0].ID) {
		out = append([]*Entry{recent[0]}, out...)
	}
	out = dedupEntries(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ActionMemories lists the step entries recorded under one action id.
func (l *Ledger) ActionMemories(actionID string) []*Entry {
	prefix := actionID + actionStepInfix
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*Entry
	for _, e := range l.entries {
		if strings.HasPrefix(e.ID, prefix) {
			out = append(out, e)
		}
	}
	return out
}

// CountActionMemories returns how many step entries an action has.
func (l *Ledger) CountActionMemories(actionID string) int {
	return len(l.ActionMemories(actionID))
}

// CleanupActionMemories bulk-deletes an action's step entries and their
// vector-index counterparts once the action completes. Returns the number
// of entries removed.
func (l *Ledger) CleanupActionMemories(actionID string) (int, error) {
	prefix := actionID + actionStepInfix

	l.mu.Lock()
	var removed []string
	kept := l.entries[:0]
	for _, e := range l.entries {
		if strings.HasPrefix(e.ID, prefix) {
			removed = append(removed, e.ID)
			continue
		}
		kept = append(kept, e)
	}
	l.entries = kept
	var err error
	if len(removed) > 0 {
		err = l.persistLocked()
	}
	l.mu.Unlock()
	if err != nil {
		return 0, err
	}

	if l.index != nil {
		for _, id := range removed {
			l.index.DeleteDocument(id)
		}
	}
	return len(removed), nil
}

// blendRecency computes 0.8*similarity + 0.2*exp(-ageHours/72).
func blendRecency(similarity float64, ts, now time.Time) float64 {
	ageHours := now.Sub(ts).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	return similarityWeight*similarity + recencyWeight*math.Exp(-ageHours/recencyDecayHours)
}

// qualityFilter drops exact-duplicate normalized content and caps
// system-noise entries at maxNoisePerGroup per originating skill or tool,
// keeping at most limit entries.
func qualityFilter(entries []*Entry, limit int) []*Entry {
	seen := make(map[string]bool)
	noise := make(map[string]int)
	var out []*Entry
	for _, e := range entries {
		norm := normalizeContent(e.Content)
		if seen[norm] {
			continue
		}
		if strings.HasPrefix(e.Content, systemNoiseMarker) {
			group := e.Meta(MetaSkill)
			if group == "" {
				group = e.Meta(MetaTool)
			}
			if group == "" {
				group = "unknown"
			}
			if noise[group] >= maxNoisePerGroup {
				continue
			}
			noise[group]++
		}
		seen[norm] = true
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func normalizeContent(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func reverseEntries(entries []*Entry) {
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
}

func containsEntry(entries []*Entry, id string) bool {
	for _, e := range entries {
		if e.ID == id {
			return true
		}
	}
	return false
}

func dedupEntries(entries []*Entry) []*Entry {
	seen := make(map[string]bool, len(entries))
	out := entries[:0]
	for _, e := range entries {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		out = append(out, e)
	}
	return out
}
