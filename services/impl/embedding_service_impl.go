package impl

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff/v5"
	openaisdk "github.com/openai/openai-go/v3"
	"golang.org/x/sync/errgroup"

	"github.com/raglab-search/config"
	"github.com/raglab-search/models"
	"github.com/raglab-search/services"
	"github.com/raglab-search/services/chunk"
)

const (
	// embeddingConcurrency bounds in-flight embedding requests per document.
	embeddingConcurrency = 10

	// maxSplitDepth caps recursive halving of oversized chunks. A chunk that
	// still exceeds the provider's token limit after 3 halvings fails hard.
	maxSplitDepth = 3

	// embeddingMaxTries covers transient provider errors (429, 5xx).
	embeddingMaxTries = 5
)

// embeddingServiceImpl produces dense vectors through an OpenAI-compatible
// embeddings endpoint.
type embeddingServiceImpl struct {
	client      openaisdk.Client
	model       string
	dimension   int
	concurrency int
}

func NewEmbeddingService(cfg *config.EmbeddingConfig) services.EmbeddingService {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = embeddingConcurrency
	}

	return &embeddingServiceImpl{
		client:      openaisdk.NewClient(providerClientOptions(cfg.BaseURL, cfg.APIKey, cfg.Timeout)...),
		model:       cfg.Model,
		dimension:   cfg.Dimension,
		concurrency: concurrency,
	}
}

func (s *embeddingServiceImpl) Dimension() int {
	return s.dimension
}

// slotResult holds the expansion of one input chunk: a single text/vector
// pair normally, more when the chunk had to be split to fit the token limit.
type slotResult struct {
	texts   []string
	vectors [][]float32
	splits  int
}

// EmbedChunks embeds every chunk, splitting oversized ones in half
// recursively. The returned texts replace the input in order, so a split
// chunk contributes consecutive entries where the original stood.
func (s *embeddingServiceImpl) EmbedChunks(ctx context.Context, texts []string) (*services.EmbeddingResult, error) {
	slots := make([]slotResult, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, text := range texts {
		g.Go(func() error {
			slot, err := s.embedWithSplit(gctx, text, 0)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			slots[i] = slot
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &services.EmbeddingResult{}
	for _, slot := range slots {
		result.Texts = append(result.Texts, slot.texts...)
		result.Vectors = append(result.Vectors, slot.vectors...)
		result.SplitsPerformed += slot.splits
	}
	return result, nil
}

func (s *embeddingServiceImpl) embedWithSplit(ctx context.Context, text string, depth int) (slotResult, error) {
	vector, err := s.embedOne(ctx, text)
	if err == nil {
		return slotResult{texts: []string{text}, vectors: [][]float32{vector}}, nil
	}

	if !isTokenLimitError(err) {
		return slotResult{}, err
	}
	if depth >= maxSplitDepth {
		return slotResult{}, models.WrapServiceError(models.ErrKindEmbeddingFailed,
			fmt.Sprintf("chunk still exceeds the embedding token limit after %d splits", maxSplitDepth), err)
	}

	left, right := chunk.SplitInHalf(text)
	if right == "" {
		return slotResult{}, models.WrapServiceError(models.ErrKindEmbeddingFailed,
			"oversized chunk cannot be split further", err)
	}

	leftSlot, err := s.embedWithSplit(ctx, left, depth+1)
	if err != nil {
		return slotResult{}, err
	}
	rightSlot, err := s.embedWithSplit(ctx, right, depth+1)
	if err != nil {
		return slotResult{}, err
	}

	return slotResult{
		texts:   append(leftSlot.texts, rightSlot.texts...),
		vectors: append(leftSlot.vectors, rightSlot.vectors...),
		splits:  1 + leftSlot.splits + rightSlot.splits,
	}, nil
}

func (s *embeddingServiceImpl) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vector, err := s.embedOne(ctx, query)
	if err != nil {
		return nil, models.WrapServiceError(models.ErrKindEmbeddingFailed, "query embedding failed", err)
	}
	return vector, nil
}

// embedOne calls the provider with exponential backoff on transient errors.
// Token-limit errors surface unwrapped so the caller can split and retry.
func (s *embeddingServiceImpl) embedOne(ctx context.Context, text string) ([]float32, error) {
	op := func() ([]float32, error) {
		resp, err := s.client.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
			Model: s.model,
			Input: openaisdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{text}},
		})
		if err != nil {
			if isRetriableProviderError(err) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		if len(resp.Data) == 0 {
			return nil, backoff.Permanent(errors.New("provider returned no embedding"))
		}
		return toFloat32(resp.Data[0].Embedding), nil
	}

	vector, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(embeddingMaxTries))
	if err != nil {
		return nil, err
	}

	if len(vector) != s.dimension {
		return nil, models.NewServiceError(models.ErrKindEmbeddingFailed,
			fmt.Sprintf("provider returned a %d-dimensional vector, expected %d", len(vector), s.dimension))
	}
	return vector, nil
}

func toFloat32(values []float64) []float32 {
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = float32(v)
	}
	return out
}

func isRetriableProviderError(err error) bool {
	var apierr *openaisdk.Error
	if !errors.As(err, &apierr) {
		return false
	}
	switch apierr.StatusCode {
	case 429, 500, 503, 504:
		return true
	}
	return false
}

// isTokenLimitError detects the provider's context-length rejection, which
// arrives as a 400 whose message mentions tokens.
func isTokenLimitError(err error) bool {
	var apierr *openaisdk.Error
	if !errors.As(err, &apierr) {
		return false
	}
	if apierr.StatusCode != 400 {
		return false
	}
	msg := strings.ToLower(apierr.Error())
	return strings.Contains(msg, "token") || strings.Contains(msg, "context length")
}
