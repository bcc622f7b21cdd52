package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/raglab-search/models"
)

// DocumentService owns the document lifecycle across both storage tiers:
// the vector store rows and the object store artifacts.
type DocumentService interface {
	Upload(ctx context.Context, req UploadRequest) (*models.UploadResponse, error)

	GetDocument(ctx context.Context, id int64) (*models.OriginalDocument, error)
	GetDocumentByHash(ctx context.Context, contentHash string) (*models.OriginalDocument, error)
	ListDocuments(ctx context.Context, filter models.DocumentListFilter) (*models.DocumentListResponse, error)

	DeleteDocument(ctx context.Context, id int64) (*models.DeleteResponse, error)
	DeleteDocumentByHash(ctx context.Context, contentHash string) (*models.DeleteResponse, error)

	Download(ctx context.Context, id int64, format string) (*DownloadResult, error)
	GetDocumentChunks(ctx context.Context, id int64) ([]models.ChunkPayload, error)
	GetChunkContext(ctx context.Context, id int64, chunkIndex, before, after int) (*models.ChunkContextResponse, error)
}

// QueryService performs retrieval over the ingested corpus.
type QueryService interface {
	Query(ctx context.Context, req models.QueryRequest) (*models.QueryResponse, error)

	// EmbedText embeds arbitrary text without storing anything.
	EmbedText(ctx context.Context, text string) (*models.EmbedResponse, error)
}

// UploadRequest carries one file into ingestion.
type UploadRequest struct {
	Filename    string
	Content     []byte
	Metadata    map[string]any
	UploadedBy  string
	UploadedVia string
}

// DownloadResult is a stored artifact ready to stream back.
type DownloadResult struct {
	Filename    string
	ContentType string
	Content     []byte
}

// EmbeddingResult is the outcome of embedding a chunk sequence. Texts may be
// longer than the input when oversized chunks had to be split to fit the
// embedder's token limit; Vectors is index-aligned with Texts.
type EmbeddingResult struct {
	Texts           []string
	Vectors         [][]float32
	SplitsPerformed int
}

// EmbeddingService produces dense vectors for chunks and queries.
type EmbeddingService interface {
	EmbedChunks(ctx context.Context, texts []string) (*EmbeddingResult, error)
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
	Dimension() int
}

// DocumentInsights is the fail-soft enrichment a document gets at ingest.
type DocumentInsights struct {
	Summary  *string
	Keywords []string
}

// MetadataExtractionService derives a summary and keywords from extracted
// text. Failures degrade to empty insights, never to an ingestion error.
type MetadataExtractionService interface {
	ExtractInsights(ctx context.Context, text string) DocumentInsights
}

// RerankResult scores one candidate passage against the query. OK is false
// when the batch holding this candidate failed and the score is a fallback.
type RerankResult struct {
	Index     int
	Score     float64
	Reasoning string
	OK        bool
}

// RerankService reorders candidate passages by LLM-judged relevance.
type RerankService interface {
	Rerank(ctx context.Context, query string, passages []string) ([]RerankResult, error)
}

// ObjectStorageService manages the cold-tier artifacts for a document:
// the original bytes, the extracted text, per-chunk payloads, and the
// lexical index.
type ObjectStorageService interface {
	UploadArtifacts(ctx context.Context, docUUID uuid.UUID, original []byte, contentType string, extracted string, chunks []models.ChunkPayload, index models.BM25DocIndex) error

	FetchChunk(ctx context.Context, docUUID uuid.UUID, chunkIndex int) (*models.ChunkPayload, error)
	FetchChunks(ctx context.Context, docUUID uuid.UUID, chunkCount int) ([]models.ChunkPayload, error)
	FetchBM25Index(ctx context.Context, docUUID uuid.UUID) (*models.BM25DocIndex, error)
	FetchExtractedText(ctx context.Context, docUUID uuid.UUID) (string, error)
	FetchOriginal(ctx context.Context, docUUID uuid.UUID) ([]byte, error)

	DeletePrefix(ctx context.Context, docUUID uuid.UUID) (int64, error)
}

// QueryCacheService caches full query responses keyed by the request hash.
type QueryCacheService interface {
	Get(ctx context.Context, key string) (*models.QueryResponse, bool)
	Set(ctx context.Context, key string, resp *models.QueryResponse) error
	Invalidate(ctx context.Context) error
	HashRequest(req models.QueryRequest) string
}
