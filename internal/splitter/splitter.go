// Package splitter chunks extracted segments for indexing.
package splitter

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/knowledged/internal/extract"
)

// Defaults applied when the task payload leaves chunking unset.
const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
	DefaultSeparator    = "\n\n"
)

// Splitter splits on a separator treated as a regex, then packs
// neighboring pieces into chunks of up to ChunkSize characters with
// ChunkOverlap characters shared between consecutive chunks. Sizes are
// measured in runes.
type Splitter struct {
	chunkSize    int
	chunkOverlap int
	separator    string
	pattern      *regexp.Regexp
}

// New builds a splitter. Backslash-n sequences in the separator are
// unescaped to newlines before compiling.
func New(chunkSize, chunkOverlap int, separator string) (*Splitter, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = DefaultChunkOverlap
	}
	if chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("splitter: chunk overlap %d must be smaller than chunk size %d", chunkOverlap, chunkSize)
	}
	if separator == "" {
		separator = DefaultSeparator
	}
	separator = strings.ReplaceAll(separator, `\n`, "\n")

	pattern, err := regexp.Compile(separator)
	if err != nil {
		return nil, fmt.Errorf("splitter: invalid separator %q: %w", separator, err)
	}

	return &Splitter{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		separator:    separator,
		pattern:      pattern,
	}, nil
}

// Split chunks every segment, copying the parent metadata onto each
// chunk.
func (s *Splitter) Split(segments []extract.Segment) []extract.Segment {
	var out []extract.Segment
	for _, seg := range segments {
		for _, chunk := range s.splitText(seg.PageContent) {
			meta := make(map[string]any, len(seg.Metadata))
			for k, v := range seg.Metadata {
				meta[k] = v
			}
			out = append(out, extract.Segment{PageContent: chunk, Metadata: meta})
		}
	}
	return out
}

// splitText splits on the separator and re-packs the pieces.
func (s *Splitter) splitText(text string) []string {
	var pieces []string
	for _, p := range s.pattern.Split(text, -1) {
		if p != "" {
			pieces = append(pieces, p)
		}
	}
	return s.merge(pieces)
}

// merge packs pieces into chunks, carrying the overlap tail forward.
func (s *Splitter) merge(pieces []string) []string {
	sepLen := utf8.RuneCountInString(s.separator)

	var (
		chunks  []string
		current []string
		total   int
	)
	for _, piece := range pieces {
		pieceLen := utf8.RuneCountInString(piece)
		joinLen := 0
		if len(current) > 0 {
			joinLen = sepLen
		}
		if total+pieceLen+joinLen > s.chunkSize && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, s.separator))
			// Drop leading pieces until the retained tail fits the
			// overlap budget and leaves room for the incoming piece.
			for total > s.chunkOverlap ||
				(total+pieceLen+sepLen > s.chunkSize && total > 0) {
				drop := utf8.RuneCountInString(current[0])
				if len(current) > 1 {
					drop += sepLen
				}
				total -= drop
				current = current[1:]
			}
		}
		if len(current) > 0 {
			total += sepLen
		}
		current = append(current, piece)
		total += pieceLen
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, s.separator))
	}
	return chunks
}
