package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/raglab-search/models"
	"github.com/raglab-search/services"
)

type QueryHandlers struct {
	queryService services.QueryService
}

func NewQueryHandlers(queryService services.QueryService) *QueryHandlers {
	return &QueryHandlers{queryService: queryService}
}

func (h *QueryHandlers) Query(c *gin.Context) {
	var req models.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	resp, err := h.queryService.Query(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Embed returns the dense vector for ad-hoc text, mainly for debugging and
// for callers that run their own similarity math.
func (h *QueryHandlers) Embed(c *gin.Context) {
	var req models.EmbedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	resp, err := h.queryService.EmbedText(c.Request.Context(), req.Text)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
