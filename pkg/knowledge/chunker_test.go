package knowledge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkTextTooShort(t *testing.T) {
	assert.Nil(t, ChunkText("short", DefaultChunkOptions()))
	assert.Nil(t, ChunkText("   \n\n  ", DefaultChunkOptions()))
}

func TestChunkTextSingleChunk(t *testing.T) {
	content := strings.Repeat("abcdefghij", 10) // 100 chars, fits one chunk
	chunks := ChunkText(content, DefaultChunkOptions())
	require.Len(t, chunks, 1)
	assert.Equal(t, content, chunks[0])
}

func TestChunkTextOverlap(t *testing.T) {
	// 300 chars with no whitespace so trimming cannot shift offsets.
	content := strings.Repeat("abcdefghij", 30)
	opts := ChunkOptions{ChunkSize: 200, Overlap: 50, RespectBoundaries: false}

	chunks := ChunkText(content, opts)
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0], 200)
	assert.Len(t, chunks[1], 150)

	// Consecutive chunks share exactly Overlap characters.
	assert.Equal(t, chunks[0][150:], chunks[1][:50])
}

func TestChunkTextParagraphBoundary(t *testing.T) {
	para := strings.Repeat("x", 80)
	rest := strings.Repeat("y", 200)
	content := para + "\n\n" + rest

	opts := ChunkOptions{ChunkSize: 100, Overlap: 30, RespectBoundaries: true}
	chunks := ChunkText(content, opts)
	require.NotEmpty(t, chunks)

	// The cut point lands on the paragraph break, not mid-paragraph.
	assert.Equal(t, para, chunks[0])
}

func TestChunkTextZeroOverlapNoGaps(t *testing.T) {
	// A paragraph break sits inside the boundary lookback window. With zero
	// overlap the cut must not back off past the next window start, or the
	// text between the two would be lost.
	text := strings.Repeat("x", 80) + "\n\n" + strings.Repeat("y", 200)
	chunks := ChunkText(text, ChunkOptions{ChunkSize: 100, Overlap: 0, RespectBoundaries: true})
	require.NotEmpty(t, chunks)
	assert.Equal(t, text, strings.Join(chunks, ""), "zero-overlap chunks must tile the text exactly")
}

func TestChunkTextMinLengthEnforced(t *testing.T) {
	content := strings.Repeat("abcdefghij", 50)
	chunks := ChunkText(content, ChunkOptions{ChunkSize: 120, Overlap: 20})
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.GreaterOrEqual(t, len(c), MinChunkLength)
	}
}

func TestChunkTextDegenerateOverlapTerminates(t *testing.T) {
	// Overlap >= size would stall the cursor without the guard.
	content := strings.Repeat("abcdefghij", 20)
	chunks := ChunkText(content, ChunkOptions{ChunkSize: 60, Overlap: 60})
	assert.NotEmpty(t, chunks)
}

func TestChunkTextNormalizesWhitespace(t *testing.T) {
	content := "one  two\tthree" + strings.Repeat("\n", 5) + strings.Repeat("abcdefghij", 6)
	chunks := ChunkText(content, DefaultChunkOptions())
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0], "one two three")
	assert.NotContains(t, chunks[0], "\n\n\n")
}
