package knowledge

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
)

// DefaultSearchLimit is the result count used when a caller passes a
// non-positive limit.
const DefaultSearchLimit = 10

// Filter narrows a search to a subset of the index. Zero-value fields
// match everything.
type Filter struct {
	// Collection restricts hits to one collection.
	Collection string

	// DocumentID restricts hits to one document's chunks.
	DocumentID string

	// Tags matches chunks carrying at least one of the given tags.
	Tags []string

	// MinScore overrides the index-level similarity floor when > 0.
	MinScore float64
}

// Hit is a single search result.
type Hit struct {
	Chunk *Chunk
	Score float64
}

// Search embeds the query and returns the most similar chunks, ranked by
// cosine similarity.
//
// Hits below the similarity floor are dropped, and at most PerDocumentCap
// chunks of any single document appear in the result so one large document
// cannot monopolize it. The embedding of the most recent query is cached
// and reused when the same query repeats. A disabled index returns an
// empty result and no error.
func (i *Index) Search(ctx context.Context, query string, limit int, filter *Filter) ([]Hit, error) {
	if i.provider == nil {
		return nil, nil
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	vector, err := i.queryVector(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	minScore := i.cfg.MinScore
	perDocCap := i.cfg.PerDocumentCap
	if filter != nil && filter.MinScore > 0 {
		minScore = filter.MinScore
	}

	i.mu.Lock()
	var hits []Hit
	for _, chunk := range i.chunks {
		if !matchesFilter(chunk, filter) {
			continue
		}
		score := CosineSimilarity(vector, chunk.Vector)
		if score < minScore {
			continue
		}
		hits = append(hits, Hit{Chunk: chunk, Score: score})
	}
	i.mu.Unlock()

	sort.Slice(hits, func(a, b int) bool {
		return hits[a].Score > hits[b].Score
	})

	perDoc := make(map[string]int)
	out := make([]Hit, 0, limit)
	for _, hit := range hits {
		if perDoc[hit.Chunk.DocumentID] >= perDocCap {
			continue
		}
		perDoc[hit.Chunk.DocumentID]++
		out = append(out, hit)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// RetrieveForTask searches the index with a stricter similarity floor and
// formats the hits as a context block for prompt injection. Returns ""
// when nothing clears the floor or the index is disabled.
func (i *Index) RetrieveForTask(ctx context.Context, task string, limit int) (string, error) {
	if i.provider == nil {
		return "", nil
	}
	hits, err := i.Search(ctx, task, limit, &Filter{MinScore: i.cfg.TaskMinScore})
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("Relevant knowledge:\n")
	for n, hit := range hits {
		title := hit.Chunk.Metadata.Title
		if title == "" {
			title = hit.Chunk.Metadata.Source
		}
		fmt.Fprintf(&b, "\n[%d] %s (relevance %.2f)\n%s\n", n+1, title, hit.Score, hit.Chunk.Content)
	}
	return b.String(), nil
}

// queryVector returns the embedding for query, reusing the cached vector
// when the query matches the previous one.
func (i *Index) queryVector(ctx context.Context, query string) ([]float64, error) {
	i.mu.Lock()
	if query == i.lastQuery && i.lastVector != nil {
		vector := i.lastVector
		i.mu.Unlock()
		return vector, nil
	}
	i.mu.Unlock()

	vector, err := i.provider.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	i.mu.Lock()
	i.lastQuery = query
	i.lastVector = vector
	i.mu.Unlock()
	return vector, nil
}

func matchesFilter(chunk *Chunk, filter *Filter) bool {
	if filter == nil {
		return true
	}
	if filter.Collection != "" && chunk.Collection != filter.Collection {
		return false
	}
	if filter.DocumentID != "" && chunk.DocumentID != filter.DocumentID {
		return false
	}
	if len(filter.Tags) > 0 {
		found := false
		for _, want := range filter.Tags {
			for _, have := range chunk.Metadata.Tags {
				if want == have {
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Returns 0 when the vectors differ in length or either has zero norm.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for n := range a {
		dot += a[n] * b[n]
		normA += a[n] * a[n]
		normB += b[n] * b[n]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
