// Package knowledge provides a chunked, file-persisted vector index over
// ingested documents and conversational memory.
//
// Text is split into bounded chunks, embedded through an external provider,
// and searched by cosine similarity under a hard storage capacity: when the
// index would exceed its chunk ceiling, the oldest document's entire chunk
// set is evicted.
package knowledge

import (
	"regexp"
	"strings"
	"unicode"
)

// Chunking defaults.
const (
	// DefaultChunkSize is the target chunk length in characters.
	DefaultChunkSize = 800

	// DefaultChunkOverlap is the number of characters shared between
	// consecutive chunks.
	DefaultChunkOverlap = 150

	// MinChunkLength is the minimum useful chunk length; shorter chunks
	// are discarded.
	MinChunkLength = 50
)

// ChunkOptions configures document chunking.
type ChunkOptions struct {
	// ChunkSize is the sliding window length (default 800).
	ChunkSize int

	// Overlap is how many trailing characters of one chunk reappear at the
	// start of the next (default 150).
	Overlap int

	// RespectBoundaries enables searching for a paragraph or sentence
	// break near the cut point instead of hard-cutting.
	RespectBoundaries bool
}

// DefaultChunkOptions returns the default chunking configuration.
func DefaultChunkOptions() ChunkOptions {
	return ChunkOptions{
		ChunkSize:         DefaultChunkSize,
		Overlap:           DefaultChunkOverlap,
		RespectBoundaries: true,
	}
}

var (
	spaceRun   = regexp.MustCompile(`[ \t]+`)
	newlineRun = regexp.MustCompile(`\n{3,}`)
)

// ChunkText splits content into overlapping chunks.
//
// Whitespace is normalized first. Content that fits one chunk (and is at
// least MinChunkLength long) is returned as-is. Otherwise a window of
// ChunkSize slides over the text; with RespectBoundaries the cut point is
// moved back to the nearest paragraph break, then sentence break, found in
// a lookback window, else the window is hard-cut. The start position always
// advances by ChunkSize − Overlap, so consecutive chunks share Overlap
// characters. Chunks shorter than MinChunkLength are discarded.
func ChunkText(content string, opts ChunkOptions) []string {
	text := normalizeWhitespace(content)
	if len(text) < MinChunkLength {
		return nil
	}

	size := opts.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	overlap := opts.Overlap
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}

	if len(text) <= size {
		return []string{text}
	}

	step := size - overlap
	if step <= 0 {
		step = 1 // non-advancing cursor guard
	}

	var chunks []string
	for start := 0; start < len(text); {
		end := start + size
		if end >= len(text) {
			if chunk := strings.TrimSpace(text[start:]); len(chunk) >= MinChunkLength {
				chunks = append(chunks, chunk)
			}
			break
		}

		cut := end
		if opts.RespectBoundaries {
			cut = findBoundary(text, start, end, overlap)
		}
		if chunk := strings.TrimSpace(text[start:cut]); len(chunk) >= MinChunkLength {
			chunks = append(chunks, chunk)
		}

		next := start + step
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}

// findBoundary looks backwards from end for a natural break point: a
// paragraph break first, then a sentence end (./!/? followed by a capital
// letter). Returns end when no break exists in the lookback window.
//
// The lookback never exceeds the overlap: backing off further than the
// next window's start would drop the text between the cut and that start.
// Zero overlap therefore means hard cuts.
func findBoundary(text string, start, end, lookback int) int {
	if lookback <= 0 {
		return end
	}
	lo := end - lookback
	if lo < start+MinChunkLength {
		lo = start + MinChunkLength
	}
	if lo >= end {
		return end
	}

	window := text[lo:end]
	if para := strings.LastIndex(window, "\n\n"); para >= 0 {
		return lo + para
	}

	for i := len(window) - 1; i >= 0; i-- {
		c := window[i]
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		// A sentence end is punctuation followed (after whitespace) by a
		// capital letter.
		j := lo + i + 1
		for j < len(text) && (text[j] == ' ' || text[j] == '\n') {
			j++
		}
		if j > lo+i+1 && j < len(text) && unicode.IsUpper(rune(text[j])) {
			return lo + i + 1
		}
	}
	return end
}

// normalizeWhitespace collapses runs of spaces and blank lines and trims
// the ends.
func normalizeWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = spaceRun.ReplaceAllString(s, " ")
	s = newlineRun.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
