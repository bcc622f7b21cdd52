package bm25

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildDocIndex(t *testing.T) {
	freqs := BuildDocIndex([]string{
		"vector search with embeddings",
		"vector indexes accelerate search",
	})

	assert.Equal(t, 2, freqs["vector"])
	assert.Equal(t, 2, freqs["search"])
	assert.Equal(t, 1, freqs["embed"])
	assert.NotContains(t, freqs, "with")
}

func TestScore(t *testing.T) {
	freqs := map[string]int{"vector": 5, "search": 3, "index": 1}

	t.Run("zero for no matching terms", func(t *testing.T) {
		assert.Zero(t, Score([]string{"banana"}, freqs, 100, nil))
	})

	t.Run("zero for empty inputs", func(t *testing.T) {
		assert.Zero(t, Score(nil, freqs, 100, nil))
		assert.Zero(t, Score([]string{"vector"}, nil, 100, nil))
	})

	t.Run("positive for matching terms", func(t *testing.T) {
		score := Score([]string{"vector", "search"}, freqs, 100, nil)
		assert.Greater(t, score, 0.0)
	})

	t.Run("monotone in term frequency", func(t *testing.T) {
		low := Score([]string{"vector"}, map[string]int{"vector": 2}, 100, nil)
		high := Score([]string{"vector"}, map[string]int{"vector": 10}, 100, nil)
		assert.GreaterOrEqual(t, high, low)
	})

	t.Run("longer documents score lower per occurrence", func(t *testing.T) {
		short := Score([]string{"vector"}, map[string]int{"vector": 3}, 100, nil)
		long := Score([]string{"vector"}, map[string]int{"vector": 3}, 5000, nil)
		assert.Greater(t, short, long)
	})

	t.Run("keyword boost multiplies per matched keyword", func(t *testing.T) {
		base := Score([]string{"vector"}, freqs, 100, nil)
		boosted := Score([]string{"vector"}, freqs, 100, []string{"vector database"})
		assert.InDelta(t, base*KeywordBoost, boosted, 1e-9)

		double := Score([]string{"vector"}, freqs, 100, []string{"vector database", "vector index"})
		assert.InDelta(t, base*KeywordBoost*KeywordBoost, double, 1e-9)
	})

	t.Run("keyword boost inactive for zero base score", func(t *testing.T) {
		assert.Zero(t, Score([]string{"banana"}, freqs, 100, []string{"banana split"}))
	})
}

func TestFuse(t *testing.T) {
	t.Run("item in both rankings outranks single-list items", func(t *testing.T) {
		scores := Fuse([]string{"a", "b", "c"}, []string{"b", "d"})
		assert.Greater(t, scores["b"], scores["a"])
		assert.Greater(t, scores["b"], scores["d"])
	})

	t.Run("missing rank contributes zero", func(t *testing.T) {
		scores := Fuse([]string{"a"}, []string{"b"})
		assert.InDelta(t, 1.0/61.0, scores["a"], 1e-12)
		assert.InDelta(t, 1.0/61.0, scores["b"], 1e-12)
	})

	t.Run("ranks are one-based", func(t *testing.T) {
		scores := Fuse([]string{"a", "b"})
		assert.InDelta(t, 1.0/61.0, scores["a"], 1e-12)
		assert.InDelta(t, 1.0/62.0, scores["b"], 1e-12)
	})
}

func TestFuseOrdered(t *testing.T) {
	t.Run("deterministic across runs", func(t *testing.T) {
		a := []string{"x", "y", "z"}
		b := []string{"z", "y", "w"}
		first := FuseOrdered(a, b)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, FuseOrdered(a, b))
		}
	})

	t.Run("ties broken by identifier", func(t *testing.T) {
		order := FuseOrdered([]string{"b"}, []string{"a"})
		assert.Equal(t, []string{"a", "b"}, order)
	})
}
