package impl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProviderClientOptions(t *testing.T) {
	t.Run("always carries credentials", func(t *testing.T) {
		assert.Len(t, providerClientOptions("", "key", 0), 1)
	})

	t.Run("adds base url and request timeout when configured", func(t *testing.T) {
		assert.Len(t, providerClientOptions("http://localhost:1234/v1", "key", 60), 3)
	})

	t.Run("zero timeout leaves the client unbounded", func(t *testing.T) {
		assert.Len(t, providerClientOptions("http://localhost:1234/v1", "key", 0), 2)
	})
}
