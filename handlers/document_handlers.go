package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/raglab-search/models"
	"github.com/raglab-search/services"
	"github.com/raglab-search/services/extract"
)

type DocumentHandlers struct {
	documentService services.DocumentService
}

func NewDocumentHandlers(documentService services.DocumentService) *DocumentHandlers {
	return &DocumentHandlers{documentService: documentService}
}

// respondError maps a service error to its status code with a single
// human-readable message.
func respondError(c *gin.Context, err error) {
	var se *models.ServiceError
	message := err.Error()
	if errors.As(err, &se) {
		message = se.Message
	}
	c.JSON(models.HTTPStatus(err), gin.H{"error": message, "kind": string(models.KindOf(err))})
}

// Upload ingests a multipart file. The optional "metadata" form field carries
// a JSON object of user attributes; protected keys are silently overridden.
func (h *DocumentHandlers) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing 'file' form field", "details": err.Error()})
		return
	}
	if fileHeader.Size > extract.MaxFileSize {
		respondError(c, models.NewServiceError(models.ErrKindFileTooLarge,
			fmt.Sprintf("file '%s' exceeds the %dMB size limit", fileHeader.Filename, extract.MaxFileSize/1024/1024)))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to open uploaded file", "details": err.Error()})
		return
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, extract.MaxFileSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read uploaded file", "details": err.Error()})
		return
	}

	var metadata map[string]any
	if raw := c.PostForm("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid metadata JSON", "details": err.Error()})
			return
		}
	}

	resp, err := h.documentService.Upload(c.Request.Context(), services.UploadRequest{
		Filename:    fileHeader.Filename,
		Content:     content,
		Metadata:    metadata,
		UploadedBy:  effectiveUser(c),
		UploadedVia: c.GetString("uploaded_via"),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusCreated
	if resp.ChunksCreated == 0 {
		// Duplicate content is a success, not a conflict.
		status = http.StatusOK
	}
	c.JSON(status, resp)
}

// effectiveUser returns the principal the auth middleware resolved, after
// any trusted-service delegation.
func effectiveUser(c *gin.Context) string {
	if user := c.GetString("effective_user"); user != "" {
		return user
	}
	return c.GetString("user_id")
}

func (h *DocumentHandlers) List(c *gin.Context) {
	var filter models.DocumentListFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid list parameters", "details": err.Error()})
		return
	}

	resp, err := h.documentService.ListDocuments(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *DocumentHandlers) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	doc, err := h.documentService.GetDocument(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *DocumentHandlers) GetByHash(c *gin.Context) {
	doc, err := h.documentService.GetDocumentByHash(c.Request.Context(), c.Param("hash"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *DocumentHandlers) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	resp, err := h.documentService.DeleteDocument(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *DocumentHandlers) DeleteByHash(c *gin.Context) {
	resp, err := h.documentService.DeleteDocumentByHash(c.Request.Context(), c.Param("hash"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Download streams a stored artifact: ?format=original (default) returns the
// uploaded bytes verbatim, ?format=extracted returns the normalized text.
func (h *DocumentHandlers) Download(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	result, err := h.documentService.Download(c.Request.Context(), id, c.Query("format"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	c.Data(http.StatusOK, result.ContentType, result.Content)
}

func (h *DocumentHandlers) GetChunks(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	chunks, err := h.documentService.GetDocumentChunks(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document_id": id, "chunk_count": len(chunks), "chunks": chunks})
}

func (h *DocumentHandlers) GetChunkContext(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid chunk index"})
		return
	}
	before := intQuery(c, "before", 1)
	after := intQuery(c, "after", 1)

	resp, err := h.documentService.GetChunkContext(c.Request.Context(), id, index, before, after)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid document id"})
		return 0, false
	}
	return id, true
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
