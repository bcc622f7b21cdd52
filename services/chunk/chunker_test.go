package chunk

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkerSplit(t *testing.T) {
	t.Run("short text is a single chunk", func(t *testing.T) {
		c := New()
		chunks := c.Split("a short document")
		require.Len(t, chunks, 1)
		assert.Equal(t, "a short document", chunks[0])
	})

	t.Run("empty and whitespace input produce no chunks", func(t *testing.T) {
		c := New()
		assert.Nil(t, c.Split(""))
		assert.Nil(t, c.Split("   \n\n  "))
	})

	t.Run("long text splits into overlapping chunks", func(t *testing.T) {
		c := New(WithChunkSize(100), WithOverlap(20))
		text := strings.Repeat("the quick brown fox jumps over the lazy dog. ", 30)

		chunks := c.Split(text)
		require.Greater(t, len(chunks), 1)
		for _, chunk := range chunks[:len(chunks)-1] {
			assert.LessOrEqual(t, len(chunk), 100)
		}
		assertCovers(t, text, chunks)
	})

	t.Run("prefers paragraph boundaries", func(t *testing.T) {
		c := New(WithChunkSize(100), WithOverlap(0))
		para := strings.Repeat("x", 80)
		text := para + "\n\n" + para + "\n\n" + para

		chunks := c.Split(text)
		require.Greater(t, len(chunks), 1)
		assert.True(t, strings.HasSuffix(chunks[0], "\n\n"))
	})

	t.Run("hard cut on boundary-free text still covers input", func(t *testing.T) {
		c := New(WithChunkSize(50), WithOverlap(10))
		text := strings.Repeat("q", 200)

		chunks := c.Split(text)
		require.Greater(t, len(chunks), 1)
		assertCovers(t, text, chunks)
	})

	t.Run("overlapping windows reproduce the input", func(t *testing.T) {
		c := New(WithChunkSize(120), WithOverlap(30))
		text := strings.Repeat("alpha beta gamma delta epsilon. ", 40)

		assertCovers(t, text, c.Split(text))
	})

	t.Run("multi-byte text never cuts inside a rune", func(t *testing.T) {
		c := New(WithChunkSize(100), WithOverlap(20))
		text := strings.Repeat("αλφα βητα γαμμα δελτα εψιλον. ", 20)

		chunks := c.Split(text)
		require.Greater(t, len(chunks), 1)
		for i, chunk := range chunks {
			assert.True(t, utf8.ValidString(chunk), "chunk %d is not valid UTF-8", i)
		}
		assertCovers(t, text, chunks)
	})

	t.Run("boundary-free multi-byte text stays valid UTF-8", func(t *testing.T) {
		c := New(WithChunkSize(101), WithOverlap(21))
		text := strings.Repeat("ω", 300)

		chunks := c.Split(text)
		require.Greater(t, len(chunks), 1)
		for i, chunk := range chunks {
			assert.True(t, utf8.ValidString(chunk), "chunk %d is not valid UTF-8", i)
		}
		assertCovers(t, text, chunks)
	})
}

// assertCovers verifies that the chunks tile the text: the first is a prefix,
// the last is a suffix, and consecutive chunks overlap or abut at their
// earliest possible placements.
func assertCovers(t *testing.T, text string, chunks []string) {
	t.Helper()

	require.NotEmpty(t, chunks)
	require.True(t, strings.HasPrefix(text, chunks[0]), "first chunk is not a prefix")
	require.True(t, strings.HasSuffix(text, chunks[len(chunks)-1]), "last chunk is not a suffix")

	pos := 0
	end := 0
	for i, chunk := range chunks {
		idx := strings.Index(text[pos:], chunk)
		require.GreaterOrEqual(t, idx, 0, "chunk %d is not a substring at or after %d", i, pos)
		start := pos + idx
		require.LessOrEqual(t, start, end, "gap before chunk %d", i)
		end = start + len(chunk)
		pos = start + 1
	}
}

func TestSplitInHalf(t *testing.T) {
	t.Run("splits at sentence boundary near midpoint", func(t *testing.T) {
		text := "First sentence here. Second sentence follows. Third one ends it."
		left, right := SplitInHalf(text)
		assert.Equal(t, text, left+right)
		assert.NotEmpty(t, left)
		assert.NotEmpty(t, right)
	})

	t.Run("splits boundary-free text at midpoint", func(t *testing.T) {
		text := strings.Repeat("z", 100)
		left, right := SplitInHalf(text)
		assert.Equal(t, text, left+right)
		assert.Len(t, left, 50)
	})

	t.Run("tiny input", func(t *testing.T) {
		left, right := SplitInHalf("a")
		assert.Equal(t, "a", left)
		assert.Empty(t, right)
	})

	t.Run("both halves always non-empty for splittable input", func(t *testing.T) {
		text := "word " + strings.Repeat("filler ", 50) + "end"
		left, right := SplitInHalf(text)
		assert.NotEmpty(t, left)
		assert.NotEmpty(t, right)
		assert.Equal(t, text, left+right)
	})

	t.Run("boundary-free multi-byte text splits on a rune boundary", func(t *testing.T) {
		text := strings.Repeat("ω", 101)
		left, right := SplitInHalf(text)
		assert.Equal(t, text, left+right)
		assert.True(t, utf8.ValidString(left))
		assert.True(t, utf8.ValidString(right))
		assert.NotEmpty(t, left)
		assert.NotEmpty(t, right)
	})

	t.Run("single multi-byte rune is unsplittable", func(t *testing.T) {
		left, right := SplitInHalf("語")
		assert.Equal(t, "語", left)
		assert.Empty(t, right)
	})
}
