package impl

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raglab-search/models"
)

// stubObjectStorage serves chunk payloads from memory, keyed by chunk index.
// Indices without an entry fail to load.
type stubObjectStorage struct {
	chunks map[int]string
}

func (s *stubObjectStorage) UploadArtifacts(context.Context, uuid.UUID, []byte, string, string, []models.ChunkPayload, models.BM25DocIndex) error {
	return errors.New("not implemented")
}

func (s *stubObjectStorage) FetchChunk(_ context.Context, _ uuid.UUID, chunkIndex int) (*models.ChunkPayload, error) {
	text, ok := s.chunks[chunkIndex]
	if !ok {
		return nil, fmt.Errorf("chunk %d unavailable", chunkIndex)
	}
	return &models.ChunkPayload{Text: text, Index: chunkIndex}, nil
}

func (s *stubObjectStorage) FetchChunks(context.Context, uuid.UUID, int) ([]models.ChunkPayload, error) {
	return nil, errors.New("not implemented")
}

func (s *stubObjectStorage) FetchBM25Index(context.Context, uuid.UUID) (*models.BM25DocIndex, error) {
	return nil, errors.New("not implemented")
}

func (s *stubObjectStorage) FetchExtractedText(context.Context, uuid.UUID) (string, error) {
	return "", errors.New("not implemented")
}

func (s *stubObjectStorage) FetchOriginal(context.Context, uuid.UUID) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (s *stubObjectStorage) DeletePrefix(context.Context, uuid.UUID) (int64, error) {
	return 0, errors.New("not implemented")
}

func TestHydrate(t *testing.T) {
	docUUID := uuid.New()
	newCandidates := func(indices ...int) []*candidate {
		out := make([]*candidate, 0, len(indices))
		for _, i := range indices {
			out = append(out, &candidate{ChunkIndex: i, DocumentUUID: docUUID})
		}
		return out
	}

	t.Run("loads chunk texts", func(t *testing.T) {
		s := &queryServiceImpl{storage: &stubObjectStorage{chunks: map[int]string{0: "first", 1: "second"}}}

		out, err := s.hydrate(context.Background(), newCandidates(0, 1))
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Equal(t, "first", out[0].chunkText)
		assert.Equal(t, "second", out[1].chunkText)
	})

	t.Run("drops only the chunks that fail to load", func(t *testing.T) {
		s := &queryServiceImpl{storage: &stubObjectStorage{chunks: map[int]string{2: "kept"}}}

		out, err := s.hydrate(context.Background(), newCandidates(1, 2))
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, 2, out[0].ChunkIndex)
	})

	t.Run("errors when every chunk fails to load", func(t *testing.T) {
		s := &queryServiceImpl{storage: &stubObjectStorage{}}

		_, err := s.hydrate(context.Background(), newCandidates(0, 1, 2))
		require.Error(t, err)
		assert.Equal(t, models.ErrKindInconsistent, models.KindOf(err))
	})

	t.Run("empty candidate set is not an error", func(t *testing.T) {
		s := &queryServiceImpl{storage: &stubObjectStorage{}}

		out, err := s.hydrate(context.Background(), nil)
		require.NoError(t, err)
		assert.Empty(t, out)
	})
}
