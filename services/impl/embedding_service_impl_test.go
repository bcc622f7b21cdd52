package impl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raglab-search/config"
	"github.com/raglab-search/models"
)

const stubDimension = 4

// embeddingProviderStub rejects inputs longer than maxChars with the
// provider's context-length error and embeds the rest. The first vector
// component encodes the input length so tests can check text/vector
// alignment.
func embeddingProviderStub(t *testing.T, maxChars int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Input) != 1 {
			http.Error(w, "unexpected request shape", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if len(req.Input[0]) > maxChars {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":{"message":"This model's maximum context length was exceeded, too many tokens in input","type":"invalid_request_error","code":"context_length_exceeded"}}`)
			return
		}
		fmt.Fprintf(w, `{"object":"list","model":"stub","data":[{"object":"embedding","index":0,"embedding":[%d,0,0,0]}],"usage":{"prompt_tokens":0,"total_tokens":0}}`, len(req.Input[0]))
	}))
}

func newTestEmbeddingService(url string) *embeddingServiceImpl {
	svc := NewEmbeddingService(&config.EmbeddingConfig{
		BaseURL:     url,
		APIKey:      "test-key",
		Model:       "stub",
		Dimension:   stubDimension,
		Concurrency: 2,
	})
	return svc.(*embeddingServiceImpl)
}

func TestEmbedChunksSplitsOversizedChunks(t *testing.T) {
	srv := embeddingProviderStub(t, 200)
	defer srv.Close()
	svc := newTestEmbeddingService(srv.URL)

	oversized := strings.Repeat("alpha beta gamma delta. ", 15)
	require.Greater(t, len(oversized), 200)

	result, err := svc.EmbedChunks(context.Background(), []string{"short text", oversized})
	require.NoError(t, err)

	// The oversized chunk splits once; its halves replace it in order.
	require.Len(t, result.Texts, 3)
	assert.Equal(t, "short text", result.Texts[0])
	assert.Equal(t, oversized, result.Texts[1]+result.Texts[2])
	assert.Equal(t, 1, result.SplitsPerformed)

	require.Len(t, result.Vectors, len(result.Texts))
	for i, vector := range result.Vectors {
		require.Len(t, vector, stubDimension)
		assert.Equal(t, float32(len(result.Texts[i])), vector[0], "vector %d is not aligned with its text", i)
	}
}

func TestEmbedChunksFailsWhenSplittingCannotFit(t *testing.T) {
	srv := embeddingProviderStub(t, 10)
	defer srv.Close()
	svc := newTestEmbeddingService(srv.URL)

	_, err := svc.EmbedChunks(context.Background(), []string{strings.Repeat("word ", 40)})
	require.Error(t, err)
	assert.Equal(t, models.ErrKindEmbeddingFailed, models.KindOf(err))
}
