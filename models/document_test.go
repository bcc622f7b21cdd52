package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeMetadata(t *testing.T) {
	t.Run("drops protected keys silently", func(t *testing.T) {
		clean := SanitizeMetadata(map[string]any{
			"uploaded_by":  "mallory",
			"content_hash": "deadbeef",
			"department":   "legal",
			"priority":     3,
		})
		assert.Equal(t, DocumentMetadata{"department": "legal", "priority": 3}, clean)
	})

	t.Run("nil input yields empty map", func(t *testing.T) {
		clean := SanitizeMetadata(nil)
		assert.NotNil(t, clean)
		assert.Empty(t, clean)
	})
}

func TestQueryRequestHybrid(t *testing.T) {
	assert.True(t, QueryRequest{}.Hybrid())

	off := false
	assert.False(t, QueryRequest{UseHybrid: &off}.Hybrid())

	on := true
	assert.True(t, QueryRequest{UseHybrid: &on}.Hybrid())
}

func TestDuplicateMessage(t *testing.T) {
	assert.Equal(t,
		"Document already exists (uploaded as 'first.txt'). Skipping duplicate.",
		DuplicateMessage("first.txt"))
}
