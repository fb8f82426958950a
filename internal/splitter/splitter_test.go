package splitter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/knowledged/internal/extract"
)

func TestNewDefaults(t *testing.T) {
	s, err := New(0, -1, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultChunkSize, s.chunkSize)
	assert.Equal(t, DefaultChunkOverlap, s.chunkOverlap)
	assert.Equal(t, DefaultSeparator, s.separator)
}

func TestNewUnescapesSeparator(t *testing.T) {
	s, err := New(100, 10, `\n\n`)
	require.NoError(t, err)
	assert.Equal(t, "\n\n", s.separator)
}

func TestNewRejectsOverlapNotBelowSize(t *testing.T) {
	_, err := New(50, 50, "")
	assert.Error(t, err)
}

func TestNewRejectsBadSeparatorRegex(t *testing.T) {
	_, err := New(100, 10, "[")
	assert.Error(t, err)
}

func TestSplitShortTextSingleChunk(t *testing.T) {
	s, err := New(500, 50, "\n\n")
	require.NoError(t, err)

	chunks := s.splitText("line one\n\nline two\n\nline three")
	require.Len(t, chunks, 1)
	assert.Equal(t, "line one\n\nline two\n\nline three", chunks[0])
}

func TestSplitPacksToChunkSize(t *testing.T) {
	s, err := New(25, 5, "\n\n")
	require.NoError(t, err)

	text := strings.Join([]string{"aaaaaaaaaa", "bbbbbbbbbb", "cccccccccc"}, "\n\n")
	chunks := s.splitText(text)
	require.True(t, len(chunks) >= 2)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 25)
	}
	assert.Contains(t, chunks[0], "aaaaaaaaaa")
	assert.Contains(t, chunks[len(chunks)-1], "cccccccccc")
}

func TestSplitOverlapCarriesTail(t *testing.T) {
	s, err := New(12, 6, " ")
	require.NoError(t, err)

	chunks := s.splitText("alpha beta gamma delta")
	require.True(t, len(chunks) >= 2)
	// The overlap budget lets a short trailing piece repeat in the
	// next chunk.
	joined := strings.Join(chunks, "|")
	assert.Contains(t, joined, "alpha")
	assert.Contains(t, joined, "delta")
}

func TestSplitSeparatorIsRegex(t *testing.T) {
	s, err := New(500, 50, `#+`)
	require.NoError(t, err)

	chunks := s.splitText("a## b### c")
	require.Len(t, chunks, 1)
	// Pieces are re-joined with the raw separator string.
	assert.Equal(t, "a#+ b#+ c", chunks[0])
}

func TestSplitCopiesMetadata(t *testing.T) {
	s, err := New(10, 2, "\n\n")
	require.NoError(t, err)

	segs := s.Split([]extract.Segment{{
		PageContent: "aaaaaaaa\n\nbbbbbbbb",
		Metadata:    map[string]any{"source": "/tmp/a.txt"},
	}})
	require.Len(t, segs, 2)
	assert.Equal(t, "/tmp/a.txt", segs[0].Metadata["source"])
	assert.Equal(t, "/tmp/a.txt", segs[1].Metadata["source"])

	// Chunk metadata maps are independent copies.
	segs[0].Metadata["page"] = 1
	_, ok := segs[1].Metadata["page"]
	assert.False(t, ok)
}

func TestSplitCJKCountsRunes(t *testing.T) {
	s, err := New(4, 1, "\n\n")
	require.NoError(t, err)

	chunks := s.splitText("知识\n\n库服\n\n务器")
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 4+2) // pieces joined by separator
	}
	assert.True(t, len(chunks) >= 2)
}
