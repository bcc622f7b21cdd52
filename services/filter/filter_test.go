package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raglab-search/models"
)

func TestCompile(t *testing.T) {
	t.Run("empty filter is TRUE", func(t *testing.T) {
		c, err := Compile(nil)
		require.NoError(t, err)
		assert.Equal(t, "TRUE", c.SQL)
		assert.Empty(t, c.Args)
	})

	t.Run("implicit eq on a column", func(t *testing.T) {
		c, err := Compile(map[string]any{"uploaded_by": "alice"})
		require.NoError(t, err)
		assert.Equal(t, "(d.uploaded_by = ?)", c.SQL)
		assert.Equal(t, []any{"alice"}, c.Args)
	})

	t.Run("implicit and of siblings", func(t *testing.T) {
		c, err := Compile(map[string]any{
			"uploaded_by": "alice",
			"file_type":   ".pdf",
		})
		require.NoError(t, err)
		assert.Contains(t, c.SQL, "d.uploaded_by = ?")
		assert.Contains(t, c.SQL, "d.file_type = ?")
		assert.Contains(t, c.SQL, " AND ")
		assert.Len(t, c.Args, 2)
	})

	t.Run("numeric comparison on token_count", func(t *testing.T) {
		c, err := Compile(map[string]any{"token_count": map[string]any{"$gte": float64(100)}})
		require.NoError(t, err)
		assert.Equal(t, "((d.token_count >= ?))", c.SQL)
		assert.Equal(t, []any{float64(100)}, c.Args)
	})

	t.Run("keywords membership uses array operators", func(t *testing.T) {
		c, err := Compile(map[string]any{"keywords": map[string]any{"$in": []any{"legal", "tax"}}})
		require.NoError(t, err)
		assert.Contains(t, c.SQL, "d.keywords && ?")

		c, err = Compile(map[string]any{"keywords": map[string]any{"$all": []any{"legal", "tax"}}})
		require.NoError(t, err)
		assert.Contains(t, c.SQL, "d.keywords @> ?")

		c, err = Compile(map[string]any{"keywords": "legal"})
		require.NoError(t, err)
		assert.Contains(t, c.SQL, "? = ANY(d.keywords)")
	})

	t.Run("metadata string equality matches scalars and arrays", func(t *testing.T) {
		c, err := Compile(map[string]any{"department": "legal"})
		require.NoError(t, err)
		assert.Contains(t, c.SQL, "d.metadata->>'department' = ?")
		assert.Contains(t, c.SQL, "d.metadata->'department' @> ?::jsonb")
	})

	t.Run("metadata numeric comparison is type-guarded", func(t *testing.T) {
		c, err := Compile(map[string]any{"score": map[string]any{"$gt": float64(5)}})
		require.NoError(t, err)
		assert.Contains(t, c.SQL, "jsonb_typeof(d.metadata->'score') = 'number'")
		assert.Contains(t, c.SQL, "(d.metadata->>'score')::numeric > ?")
	})

	t.Run("metadata exists avoids placeholder operators", func(t *testing.T) {
		c, err := Compile(map[string]any{"department": map[string]any{"$exists": true}})
		require.NoError(t, err)
		assert.Contains(t, c.SQL, "jsonb_exists(d.metadata, 'department')")
		assert.Empty(t, c.Args)
	})

	t.Run("logical operators nest", func(t *testing.T) {
		c, err := Compile(map[string]any{
			"$or": []any{
				map[string]any{"uploaded_by": "alice"},
				map[string]any{"uploaded_by": "bob"},
			},
		})
		require.NoError(t, err)
		assert.Contains(t, c.SQL, " OR ")
		assert.Len(t, c.Args, 2)
	})

	t.Run("not negates its subtree", func(t *testing.T) {
		c, err := Compile(map[string]any{
			"$not": map[string]any{"file_type": ".pdf"},
		})
		require.NoError(t, err)
		assert.Contains(t, c.SQL, "NOT (")
	})

	t.Run("unknown top-level operator is rejected", func(t *testing.T) {
		_, err := Compile(map[string]any{"$regex": "x"})
		require.Error(t, err)
		assert.Equal(t, models.ErrKindInvalidFilter, models.KindOf(err))
	})

	t.Run("unknown field operator is rejected", func(t *testing.T) {
		_, err := Compile(map[string]any{"uploaded_by": map[string]any{"$regex": "al.*"}})
		require.Error(t, err)
		assert.Equal(t, models.ErrKindInvalidFilter, models.KindOf(err))
	})

	t.Run("invalid metadata key is rejected", func(t *testing.T) {
		_, err := Compile(map[string]any{"bad key'); --": "x"})
		require.Error(t, err)
		assert.Equal(t, models.ErrKindInvalidFilter, models.KindOf(err))
	})

	t.Run("type-mismatched column comparison fails closed", func(t *testing.T) {
		c, err := Compile(map[string]any{"token_count": "many"})
		require.NoError(t, err)
		assert.Equal(t, "(FALSE)", c.SQL)
	})
}

func sampleDoc() Doc {
	return Doc{
		UploadedBy: "alice",
		Filename:   "contract.pdf",
		FileType:   ".pdf",
		Keywords:   []string{"legal", "contract"},
		TokenCount: 1200,
		ChunkCount: 4,
		UploadedAt: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		Metadata: map[string]any{
			"department": "legal",
			"tags":       []any{"legal", "compliance"},
			"priority":   float64(3),
			"archived":   false,
		},
	}
}

func TestMatch(t *testing.T) {
	doc := sampleDoc()

	t.Run("empty filter matches", func(t *testing.T) {
		assert.True(t, Match(nil, doc))
	})

	t.Run("column and metadata equality", func(t *testing.T) {
		assert.True(t, Match(map[string]any{"uploaded_by": "alice"}, doc))
		assert.False(t, Match(map[string]any{"uploaded_by": "bob"}, doc))
		assert.True(t, Match(map[string]any{"department": "legal"}, doc))
		assert.False(t, Match(map[string]any{"department": "finance"}, doc))
	})

	t.Run("equality matches inside array-valued metadata", func(t *testing.T) {
		assert.True(t, Match(map[string]any{"tags": "compliance"}, doc))
		assert.False(t, Match(map[string]any{"tags": "finance"}, doc))
	})

	t.Run("numeric comparisons", func(t *testing.T) {
		assert.True(t, Match(map[string]any{"token_count": map[string]any{"$gte": float64(1000)}}, doc))
		assert.False(t, Match(map[string]any{"token_count": map[string]any{"$lt": float64(1000)}}, doc))
		assert.True(t, Match(map[string]any{"priority": map[string]any{"$lte": float64(3)}}, doc))
	})

	t.Run("keyword array operators", func(t *testing.T) {
		assert.True(t, Match(map[string]any{"keywords": map[string]any{"$in": []any{"legal", "tax"}}}, doc))
		assert.True(t, Match(map[string]any{"keywords": map[string]any{"$all": []any{"legal", "contract"}}}, doc))
		assert.False(t, Match(map[string]any{"keywords": map[string]any{"$all": []any{"legal", "tax"}}}, doc))
		assert.True(t, Match(map[string]any{"keywords": map[string]any{"$nin": []any{"tax"}}}, doc))
	})

	t.Run("exists", func(t *testing.T) {
		assert.True(t, Match(map[string]any{"department": map[string]any{"$exists": true}}, doc))
		assert.True(t, Match(map[string]any{"owner": map[string]any{"$exists": false}}, doc))
		assert.False(t, Match(map[string]any{"owner": map[string]any{"$exists": true}}, doc))
	})

	t.Run("time comparisons parse RFC3339 strings", func(t *testing.T) {
		assert.True(t, Match(map[string]any{"uploaded_at": map[string]any{"$gt": "2026-01-01T00:00:00Z"}}, doc))
		assert.False(t, Match(map[string]any{"uploaded_at": map[string]any{"$lt": "2026-01-01T00:00:00Z"}}, doc))
	})

	t.Run("logical combinators", func(t *testing.T) {
		ok := Match(map[string]any{
			"$and": []any{
				map[string]any{"uploaded_by": "alice"},
				map[string]any{"$or": []any{
					map[string]any{"file_type": ".txt"},
					map[string]any{"file_type": ".pdf"},
				}},
			},
		}, doc)
		assert.True(t, ok)

		assert.False(t, Match(map[string]any{
			"$nor": []any{map[string]any{"uploaded_by": "alice"}},
		}, doc))
	})

	t.Run("in with not-all exclusion", func(t *testing.T) {
		legalOnly := doc
		legalOnly.Metadata = map[string]any{"tags": []any{"legal"}}
		legalAndFinance := doc
		legalAndFinance.Metadata = map[string]any{"tags": []any{"legal", "finance"}}

		f := map[string]any{
			"$and": []any{
				map[string]any{"tags": map[string]any{"$in": []any{"legal"}}},
				map[string]any{"$not": map[string]any{"tags": map[string]any{"$all": []any{"finance"}}}},
			},
		}
		assert.True(t, Match(f, legalOnly))
		assert.False(t, Match(f, legalAndFinance))
	})

	t.Run("type mismatches fail closed", func(t *testing.T) {
		assert.False(t, Match(map[string]any{"token_count": "many"}, doc))
		assert.False(t, Match(map[string]any{"priority": map[string]any{"$gt": "high"}}, doc))
		assert.False(t, Match(map[string]any{"uploaded_at": map[string]any{"$gt": "not-a-date"}}, doc))
		assert.False(t, Match(map[string]any{"archived": map[string]any{"$gt": float64(0)}}, doc))
	})

	t.Run("unknown operator fails closed", func(t *testing.T) {
		assert.False(t, Match(map[string]any{"uploaded_by": map[string]any{"$regex": "al.*"}}, doc))
	})
}
