package chunk

import (
	"strings"
	"unicode/utf8"
)

const (
	// DefaultChunkSize is the target chunk size in characters.
	DefaultChunkSize = 2000

	// DefaultOverlap is the overlap between consecutive chunks in characters.
	DefaultOverlap = 200
)

// sentenceSeparators in boundary preference order, tried after paragraph breaks.
var sentenceSeparators = []string{". ", "? ", "! ", "\n"}

// Chunker splits extracted text into overlapping windows on hierarchical
// boundaries: paragraph, then sentence, then word, then a hard character cut.
type Chunker struct {
	chunkSize int
	overlap   int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithChunkSize sets the target chunk size in characters.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between consecutive chunks in characters.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// New creates a Chunker with the default 2000/200 policy.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultOverlap,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.chunkSize {
		c.overlap = c.chunkSize / 10
	}
	return c
}

// Split produces a sequence of chunks covering the text. Concatenating the
// non-overlap regions of all chunks in order reproduces the input.
func (c *Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if len(text) <= c.chunkSize {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + c.chunkSize
		if end >= len(text) {
			chunks = append(chunks, text[start:])
			break
		}
		end = snapToRuneStart(text, end)
		if end <= start {
			_, size := utf8.DecodeRuneInString(text[start:])
			end = start + size
		}

		cut := c.findBoundary(text, start, end)
		chunks = append(chunks, text[start:cut])

		next := snapToRuneStart(text, cut-c.overlap)
		if next <= start {
			// Guarantee forward progress on boundary-free text.
			next = cut
		}
		start = next
	}

	return chunks
}

// findBoundary returns the cut position for a chunk starting at start with a
// hard limit at end, preferring the latest boundary in the window. Boundaries
// in the first half of the window are ignored to keep chunks near target size.
func (c *Chunker) findBoundary(text string, start, end int) int {
	window := text[start:end]
	minCut := len(window) / 2

	if i := strings.LastIndex(window, "\n\n"); i > minCut {
		return start + i + 2
	}

	for _, sep := range sentenceSeparators {
		if i := strings.LastIndex(window, sep); i > minCut {
			return start + i + len(sep)
		}
	}

	if i := strings.LastIndexByte(window, ' '); i > minCut {
		return start + i + 1
	}

	return end
}

// SplitInHalf divides text into two parts at the best semantic boundary near
// the midpoint (paragraph, then sentence, then word, then hard cut). Used for
// token-limit recovery when a chunk is rejected by the embedding model.
func SplitInHalf(text string) (string, string) {
	if len(text) < 2 {
		return text, ""
	}

	mid := snapToRuneStart(text, len(text)/2)
	if mid == 0 {
		_, size := utf8.DecodeRuneInString(text)
		if size >= len(text) {
			return text, ""
		}
		mid = size
	}

	if cut := nearestBoundary(text, mid, "\n\n"); cut > 0 {
		return text[:cut], text[cut:]
	}
	for _, sep := range sentenceSeparators {
		if cut := nearestBoundary(text, mid, sep); cut > 0 {
			return text[:cut], text[cut:]
		}
	}
	if cut := nearestBoundary(text, mid, " "); cut > 0 {
		return text[:cut], text[cut:]
	}

	return text[:mid], text[mid:]
}

// nearestBoundary finds the separator occurrence closest to mid, returning
// the cut position after the separator, or 0 when no usable boundary exists.
func nearestBoundary(text string, mid int, sep string) int {
	before := strings.LastIndex(text[:mid], sep)
	after := strings.Index(text[mid:], sep)

	cut := -1
	switch {
	case before >= 0 && after >= 0:
		if mid-before <= after {
			cut = before
		} else {
			cut = mid + after
		}
	case before >= 0:
		cut = before
	case after >= 0:
		cut = mid + after
	}

	if cut < 0 {
		return 0
	}
	cut += len(sep)
	// Both halves must be non-empty for the recursion to terminate.
	if cut <= 0 || cut >= len(text) {
		return 0
	}
	return cut
}

// snapToRuneStart moves a byte offset back to the nearest rune boundary so
// cuts never land inside a multi-byte character.
func snapToRuneStart(text string, i int) int {
	for i > 0 && i < len(text) && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}
