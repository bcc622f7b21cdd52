package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// EmbeddingDimension is the dimension the vector store is provisioned for.
// Chunks of any other dimension cannot be inserted.
const EmbeddingDimension = 768

// DocumentMetadata is the free-form user metadata map stored as JSONB.
type DocumentMetadata map[string]any

func (m DocumentMetadata) Value() (driver.Value, error) {
	if m == nil {
		return json.Marshal(map[string]any{})
	}
	return json.Marshal(m)
}

func (m *DocumentMetadata) Scan(value interface{}) error {
	if value == nil {
		*m = DocumentMetadata{}
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return json.Unmarshal([]byte(value.(string)), m)
	}

	return json.Unmarshal(bytes, m)
}

// ProtectedMetadataKeys are system-derived fields. Uploader-supplied values
// for these keys are silently overridden, never rejected.
var ProtectedMetadataKeys = map[string]struct{}{
	"uploaded_by":       {},
	"uploaded_at":       {},
	"uploaded_via":      {},
	"doc_id":            {},
	"doc_uuid":          {},
	"filename":          {},
	"file_type":         {},
	"file_size":         {},
	"file_hash":         {},
	"content_hash":      {},
	"chunk_count":       {},
	"original_filename": {},
	"created_at":        {},
	"updated_at":        {},
	"deleted_at":        {},
	"version":           {},
}

// SanitizeMetadata drops protected keys from uploader-supplied metadata.
func SanitizeMetadata(meta map[string]any) DocumentMetadata {
	clean := DocumentMetadata{}
	for k, v := range meta {
		if _, protected := ProtectedMetadataKeys[k]; protected {
			continue
		}
		clean[k] = v
	}
	return clean
}

// OriginalDocument is the unit of ingestion. Rows are immutable after commit;
// re-ingestion of modified content produces a new row with a new uuid.
type OriginalDocument struct {
	ID          int64            `json:"id" gorm:"primaryKey;autoIncrement"`
	UUID        uuid.UUID        `json:"uuid" gorm:"type:uuid;not null;uniqueIndex"`
	Filename    string           `json:"filename" gorm:"type:varchar(512);not null"`
	FileType    string           `json:"file_type" gorm:"type:varchar(32);not null;index"`
	FileSize    int64            `json:"file_size" gorm:"not null"`
	ContentHash string           `json:"content_hash" gorm:"type:varchar(64);not null;uniqueIndex"`
	UploadedBy  string           `json:"uploaded_by" gorm:"type:varchar(255);not null;index"`
	UploadedVia string           `json:"uploaded_via" gorm:"type:varchar(64);not null;default:'api'"`
	UploadedAt  time.Time        `json:"uploaded_at" gorm:"not null;index;default:now()"`
	Metadata    DocumentMetadata `json:"metadata" gorm:"type:jsonb;default:'{}'"`
	Summary     *string          `json:"summary" gorm:"type:text"`
	Keywords    pq.StringArray   `json:"keywords" gorm:"type:text[];default:'{}'"`
	TokenCount  int              `json:"token_count" gorm:"not null;default:0"`
	ChunkCount  int              `json:"chunk_count" gorm:"not null;default:0"`
}

func (OriginalDocument) TableName() string {
	return "original_documents"
}

// DocumentChunk holds one chunk's embedding. Chunk text is NOT stored here;
// it lives in the object store at {uuid}/chunks/NNN.json.
type DocumentChunk struct {
	ID            int64           `json:"id" gorm:"primaryKey;autoIncrement"`
	OriginalDocID int64           `json:"original_doc_id" gorm:"not null;uniqueIndex:idx_doc_chunk,priority:1"`
	ChunkIndex    int             `json:"chunk_index" gorm:"not null;uniqueIndex:idx_doc_chunk,priority:2"`
	Embedding     pgvector.Vector `json:"-" gorm:"type:vector(768);not null"`
	CreatedAt     time.Time       `json:"created_at" gorm:"not null;default:now()"`

	Document OriginalDocument `json:"-" gorm:"foreignKey:OriginalDocID;constraint:OnDelete:CASCADE"`
}

func (DocumentChunk) TableName() string {
	return "document_chunks"
}

// ChunkPayload is the on-object-store format of chunks/NNN.json.
type ChunkPayload struct {
	Text     string         `json:"text"`
	Index    int            `json:"index"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// BM25DocIndex is the on-object-store format of bm25_doc_index.json.
// Term frequencies are over the whole document, keyed by stemmed term.
type BM25DocIndex struct {
	TermFrequencies map[string]int `json:"term_frequencies"`
}

type UploadResponse struct {
	ID              int64    `json:"id"`
	UUID            string   `json:"uuid"`
	Filename        string   `json:"filename"`
	ChunksCreated   int      `json:"chunks_created"`
	SplitsPerformed int      `json:"splits_performed,omitempty"`
	Summary         *string  `json:"summary,omitempty"`
	Keywords        []string `json:"keywords,omitempty"`
	Message         string   `json:"message"`
}

// DuplicateMessage is the dedup response message, naming the filename the
// content was first ingested under.
func DuplicateMessage(originalFilename string) string {
	return fmt.Sprintf("Document already exists (uploaded as '%s'). Skipping duplicate.", originalFilename)
}

type QueryRequest struct {
	Query            string         `json:"query" binding:"required"`
	TopK             int            `json:"top_k"`
	UseHybrid        *bool          `json:"use_hybrid"`
	Rerank           bool           `json:"rerank"`
	RerankCandidates int            `json:"rerank_candidates"`
	MinSimilarity    float64        `json:"min_similarity"`
	Filters          map[string]any `json:"filters"`
}

// Hybrid reports whether hybrid retrieval is requested (default true).
func (r QueryRequest) Hybrid() bool {
	if r.UseHybrid == nil {
		return true
	}
	return *r.UseHybrid
}

type QueryResultItem struct {
	ChunkText        string           `json:"chunk_text"`
	Similarity       float64          `json:"similarity"`
	RerankScore      *float64         `json:"rerank_score,omitempty"`
	RerankReasoning  *string          `json:"rerank_reasoning,omitempty"`
	Filename         string           `json:"filename"`
	ChunkIndex       int              `json:"chunk_index"`
	DocumentID       int64            `json:"document_id"`
	DocumentUUID     string           `json:"document_uuid"`
	Summary          *string          `json:"summary,omitempty"`
	DocumentMetadata DocumentMetadata `json:"document_metadata"`
}

type QueryResponse struct {
	Query    string            `json:"query"`
	Total    int               `json:"total"`
	Hybrid   bool              `json:"hybrid"`
	Reranked bool              `json:"reranked"`
	Results  []QueryResultItem `json:"results"`
}

type DocumentListFilter struct {
	UploadedBy string `form:"uploaded_by"`
	FileType   string `form:"file_type"`
	Page       int    `form:"page"`
	Size       int    `form:"size"`
}

type DocumentListResponse struct {
	Documents []OriginalDocument `json:"documents"`
	Total     int64              `json:"total"`
	Page      int                `json:"page"`
	Size      int                `json:"size"`
}

type DeleteResponse struct {
	Deleted       bool  `json:"deleted"`
	ChunksDeleted int64 `json:"chunks_deleted"`
}

type ChunkContextResponse struct {
	DocumentID   int64          `json:"document_id"`
	DocumentUUID string         `json:"document_uuid"`
	ChunkIndex   int            `json:"chunk_index"`
	Before       int            `json:"before"`
	After        int            `json:"after"`
	Chunks       []ChunkPayload `json:"chunks"`
	CombinedText string         `json:"combined_text"`
}

type EmbedRequest struct {
	Text string `json:"text" binding:"required"`
}

type EmbedResponse struct {
	Embedding []float32 `json:"embedding"`
	Dimension int       `json:"dimension"`
}
