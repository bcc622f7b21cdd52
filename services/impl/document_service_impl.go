package impl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/raglab-search/models"
	"github.com/raglab-search/services"
	"github.com/raglab-search/services/bm25"
	"github.com/raglab-search/services/chunk"
	"github.com/raglab-search/services/extract"
)

const (
	defaultListPageSize = 20
	maxListPageSize     = 100
)

// documentServiceImpl owns ingestion and the document lifecycle. The object
// store is always written before the vector store commits, so a half-ingested
// document is at worst an orphaned object prefix, never a dangling row.
type documentServiceImpl struct {
	db       *gorm.DB
	storage  services.ObjectStorageService
	embedder services.EmbeddingService
	insights services.MetadataExtractionService
	cache    services.QueryCacheService
	chunker  *chunk.Chunker
}

func NewDocumentService(db *gorm.DB, storage services.ObjectStorageService, embedder services.EmbeddingService, insights services.MetadataExtractionService, cache services.QueryCacheService, chunker *chunk.Chunker) services.DocumentService {
	if chunker == nil {
		chunker = chunk.New()
	}
	return &documentServiceImpl{
		db:       db,
		storage:  storage,
		embedder: embedder,
		insights: insights,
		cache:    cache,
		chunker:  chunker,
	}
}

// HashContent returns the dedup identity of a file: sha256 over the raw
// bytes, independent of filename and metadata.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func (s *documentServiceImpl) Upload(ctx context.Context, req services.UploadRequest) (*models.UploadResponse, error) {
	validation, err := extract.Validate(req.Filename, req.Content)
	if err != nil {
		return nil, err
	}

	contentHash := HashContent(req.Content)

	if existing, err := s.findByHash(ctx, contentHash); err == nil {
		return duplicateResponse(existing), nil
	} else if models.KindOf(err) != models.ErrKindNotFound {
		return nil, err
	}

	extracted, err := extract.Extract(req.Filename, req.Content)
	if err != nil {
		return nil, err
	}

	chunkTexts := s.chunker.Split(extracted)
	if len(chunkTexts) == 0 {
		return nil, models.NewServiceError(models.ErrKindEmptyExtraction,
			fmt.Sprintf("no chunks could be produced from '%s'", req.Filename))
	}

	// Enrichment runs concurrently with embedding; it is fail-soft and never
	// blocks ingestion on its own errors.
	insightsCh := make(chan services.DocumentInsights, 1)
	go func() {
		insightsCh <- s.insights.ExtractInsights(ctx, extracted)
	}()

	embedded, err := s.embedder.EmbedChunks(ctx, chunkTexts)
	if err != nil {
		return nil, models.WrapServiceError(models.ErrKindEmbeddingFailed, "chunk embedding failed", err)
	}
	insights := <-insightsCh

	tokenCount := len(bm25.Tokenize(extracted))
	docIndex := models.BM25DocIndex{TermFrequencies: bm25.BuildDocIndex(embedded.Texts)}

	docUUID := uuid.New()
	payloads := make([]models.ChunkPayload, len(embedded.Texts))
	for i, text := range embedded.Texts {
		payloads[i] = models.ChunkPayload{Text: text, Index: i}
	}

	contentType := extract.ContentTypeFor(validation.Ext)
	if err := s.storage.UploadArtifacts(ctx, docUUID, req.Content, contentType, extracted, payloads, docIndex); err != nil {
		s.cleanupArtifacts(docUUID)
		return nil, err
	}

	doc := &models.OriginalDocument{
		UUID:        docUUID,
		Filename:    req.Filename,
		FileType:    validation.Ext,
		FileSize:    int64(len(req.Content)),
		ContentHash: contentHash,
		UploadedBy:  req.UploadedBy,
		UploadedVia: uploadedViaOrDefault(req.UploadedVia),
		Metadata:    models.SanitizeMetadata(req.Metadata),
		Summary:     insights.Summary,
		Keywords:    insights.Keywords,
		TokenCount:  tokenCount,
		ChunkCount:  len(payloads),
	}

	if err := s.commit(ctx, doc, embedded.Vectors); err != nil {
		s.cleanupArtifacts(docUUID)
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Lost a concurrent-upload race; the other writer's row wins.
			if existing, lookupErr := s.findByHash(ctx, contentHash); lookupErr == nil {
				return duplicateResponse(existing), nil
			}
		}
		return nil, models.WrapServiceError(models.ErrKindStoreUnavailable, "vector store commit failed", err)
	}

	if err := s.cache.Invalidate(ctx); err != nil {
		log.Printf("failed to invalidate query cache after upload: %v", err)
	}

	return &models.UploadResponse{
		ID:              doc.ID,
		UUID:            doc.UUID.String(),
		Filename:        doc.Filename,
		ChunksCreated:   doc.ChunkCount,
		SplitsPerformed: embedded.SplitsPerformed,
		Summary:         doc.Summary,
		Keywords:        doc.Keywords,
		Message:         fmt.Sprintf("Document '%s' ingested with %d chunks.", doc.Filename, doc.ChunkCount),
	}, nil
}

// commit writes the document row and its chunk rows in one transaction.
func (s *documentServiceImpl) commit(ctx context.Context, doc *models.OriginalDocument, vectors [][]float32) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(doc).Error; err != nil {
			return err
		}

		chunks := make([]models.DocumentChunk, len(vectors))
		for i, vector := range vectors {
			if len(vector) != models.EmbeddingDimension {
				return fmt.Errorf("chunk %d has dimension %d, expected %d", i, len(vector), models.EmbeddingDimension)
			}
			chunks[i] = models.DocumentChunk{
				OriginalDocID: doc.ID,
				ChunkIndex:    i,
				Embedding:     pgvector.NewVector(vector),
			}
		}
		if len(chunks) > 0 {
			if err := tx.CreateInBatches(chunks, 200).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// cleanupArtifacts removes a failed ingestion's object prefix with a
// background context so cleanup survives request cancellation.
func (s *documentServiceImpl) cleanupArtifacts(docUUID uuid.UUID) {
	if _, err := s.storage.DeletePrefix(context.Background(), docUUID); err != nil {
		log.Printf("failed to clean up artifacts for %s after aborted ingestion: %v", docUUID, err)
	}
}

func uploadedViaOrDefault(via string) string {
	if via == "" {
		return "api"
	}
	return via
}

func duplicateResponse(doc *models.OriginalDocument) *models.UploadResponse {
	return &models.UploadResponse{
		ID:            doc.ID,
		UUID:          doc.UUID.String(),
		Filename:      doc.Filename,
		ChunksCreated: 0,
		Summary:       doc.Summary,
		Keywords:      doc.Keywords,
		Message:       models.DuplicateMessage(doc.Filename),
	}
}

func (s *documentServiceImpl) findByHash(ctx context.Context, contentHash string) (*models.OriginalDocument, error) {
	var doc models.OriginalDocument
	err := s.db.WithContext(ctx).Where("content_hash = ?", contentHash).First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewServiceError(models.ErrKindNotFound,
				fmt.Sprintf("no document with content hash %s", contentHash))
		}
		return nil, fmt.Errorf("failed to look up document by hash: %w", err)
	}
	return &doc, nil
}

func (s *documentServiceImpl) GetDocument(ctx context.Context, id int64) (*models.OriginalDocument, error) {
	var doc models.OriginalDocument
	err := s.db.WithContext(ctx).First(&doc, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewServiceError(models.ErrKindNotFound,
				fmt.Sprintf("document %d not found", id))
		}
		return nil, fmt.Errorf("failed to load document %d: %w", id, err)
	}
	return &doc, nil
}

func (s *documentServiceImpl) GetDocumentByHash(ctx context.Context, contentHash string) (*models.OriginalDocument, error) {
	return s.findByHash(ctx, contentHash)
}

func (s *documentServiceImpl) ListDocuments(ctx context.Context, filter models.DocumentListFilter) (*models.DocumentListResponse, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.Size
	if size < 1 {
		size = defaultListPageSize
	}
	if size > maxListPageSize {
		size = maxListPageSize
	}

	query := s.db.WithContext(ctx).Model(&models.OriginalDocument{})
	if filter.UploadedBy != "" {
		query = query.Where("uploaded_by = ?", filter.UploadedBy)
	}
	if filter.FileType != "" {
		query = query.Where("file_type = ?", strings.ToLower(filter.FileType))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}

	var docs []models.OriginalDocument
	err := query.Order("uploaded_at DESC, id DESC").
		Offset((page - 1) * size).
		Limit(size).
		Find(&docs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	return &models.DocumentListResponse{
		Documents: docs,
		Total:     total,
		Page:      page,
		Size:      size,
	}, nil
}

func (s *documentServiceImpl) DeleteDocument(ctx context.Context, id int64) (*models.DeleteResponse, error) {
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.delete(ctx, doc)
}

func (s *documentServiceImpl) DeleteDocumentByHash(ctx context.Context, contentHash string) (*models.DeleteResponse, error) {
	doc, err := s.findByHash(ctx, contentHash)
	if err != nil {
		return nil, err
	}
	return s.delete(ctx, doc)
}

// delete removes both tiers: chunk rows and the document row first, then the
// object prefix. A failed prefix deletion is surfaced so the caller can retry;
// re-running is safe since the row is already gone.
func (s *documentServiceImpl) delete(ctx context.Context, doc *models.OriginalDocument) (*models.DeleteResponse, error) {
	var chunksDeleted int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("original_doc_id = ?", doc.ID).Delete(&models.DocumentChunk{})
		if result.Error != nil {
			return result.Error
		}
		chunksDeleted = result.RowsAffected
		return tx.Delete(&models.OriginalDocument{}, doc.ID).Error
	})
	if err != nil {
		return nil, models.WrapServiceError(models.ErrKindStoreUnavailable,
			fmt.Sprintf("failed to delete document %d", doc.ID), err)
	}

	if _, err := s.storage.DeletePrefix(ctx, doc.UUID); err != nil {
		return nil, err
	}

	if err := s.cache.Invalidate(ctx); err != nil {
		log.Printf("failed to invalidate query cache after delete: %v", err)
	}

	return &models.DeleteResponse{Deleted: true, ChunksDeleted: chunksDeleted}, nil
}

func (s *documentServiceImpl) Download(ctx context.Context, id int64, format string) (*services.DownloadResult, error) {
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}

	switch format {
	case "", "original":
		content, err := s.storage.FetchOriginal(ctx, doc.UUID)
		if err != nil {
			return nil, err
		}
		return &services.DownloadResult{
			Filename:    doc.Filename,
			ContentType: extract.ContentTypeFor(doc.FileType),
			Content:     content,
		}, nil
	case "extracted":
		text, err := s.storage.FetchExtractedText(ctx, doc.UUID)
		if err != nil {
			return nil, err
		}
		return &services.DownloadResult{
			Filename:    doc.Filename + ".txt",
			ContentType: "text/plain; charset=utf-8",
			Content:     []byte(text),
		}, nil
	default:
		return nil, models.NewServiceError(models.ErrKindInvalidRequest,
			fmt.Sprintf("unknown download format '%s', expected 'original' or 'extracted'", format))
	}
}

func (s *documentServiceImpl) GetDocumentChunks(ctx context.Context, id int64) ([]models.ChunkPayload, error) {
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.storage.FetchChunks(ctx, doc.UUID, doc.ChunkCount)
}

// GetChunkContext returns a chunk with its neighbors, clamped to the
// document's bounds.
func (s *documentServiceImpl) GetChunkContext(ctx context.Context, id int64, chunkIndex, before, after int) (*models.ChunkContextResponse, error) {
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if chunkIndex < 0 || chunkIndex >= doc.ChunkCount {
		return nil, models.NewServiceError(models.ErrKindNotFound,
			fmt.Sprintf("chunk %d out of range for document %d with %d chunks", chunkIndex, id, doc.ChunkCount))
	}
	if before < 0 || after < 0 {
		return nil, models.NewServiceError(models.ErrKindInvalidRequest, "before and after must be non-negative")
	}

	lo := max(0, chunkIndex-before)
	hi := min(doc.ChunkCount-1, chunkIndex+after)

	chunks := make([]models.ChunkPayload, 0, hi-lo+1)
	texts := make([]string, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		payload, err := s.storage.FetchChunk(ctx, doc.UUID, i)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *payload)
		texts = append(texts, payload.Text)
	}

	return &models.ChunkContextResponse{
		DocumentID:   doc.ID,
		DocumentUUID: doc.UUID.String(),
		ChunkIndex:   chunkIndex,
		Before:       chunkIndex - lo,
		After:        hi - chunkIndex,
		Chunks:       chunks,
		CombinedText: joinAdjacentChunks(texts),
	}, nil
}

// joinAdjacentChunks concatenates neighboring chunk texts, collapsing the
// shared overlap region so the combined text reads continuously.
func joinAdjacentChunks(texts []string) string {
	if len(texts) == 0 {
		return ""
	}
	combined := texts[0]
	for _, next := range texts[1:] {
		combined = mergeOverlap(combined, next)
	}
	return combined
}

// mergeOverlap appends next to acc, dropping the longest suffix of acc that
// next repeats as its prefix.
func mergeOverlap(acc, next string) string {
	limit := min(len(acc), len(next))
	for n := limit; n > 0; n-- {
		if strings.HasSuffix(acc, next[:n]) {
			return acc + next[n:]
		}
	}
	return acc + next
}
