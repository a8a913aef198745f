package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"docresearch/internal/app"
	"docresearch/internal/index"
	"docresearch/internal/model"
	"docresearch/internal/transport/http/response"
)

type QueryService interface {
	Answer(ctx context.Context, in app.AnswerInput) (*model.QueryResult, error)
}

type Searcher interface {
	Search(ctx context.Context, query string, documentIDs []string, k int) ([]index.Hit, error)
}

type QueryHandler struct {
	queries      QueryService
	searcher     Searcher
	defaultLimit int
}

type QueryRequest struct {
	Question      string   `json:"question" binding:"required"`
	DocumentIDs   []string `json:"document_ids"`
	IncludeThemes *bool    `json:"include_themes"`
}

type SearchRequest struct {
	Query       string   `json:"query" binding:"required"`
	DocumentIDs []string `json:"document_ids"`
	Limit       int      `json:"limit" binding:"omitempty,min=1,max=100"`
}

type searchResult struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Position   int     `json:"position"`
	Content    string  `json:"content"`
	Page       *int    `json:"page,omitempty"`
	Score      float64 `json:"score"`
}

func NewQueryHandler(queries QueryService, searcher Searcher, defaultLimit int) *QueryHandler {
	if defaultLimit <= 0 {
		defaultLimit = 5
	}
	return &QueryHandler{queries: queries, searcher: searcher, defaultLimit: defaultLimit}
}

func (h *QueryHandler) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	result, err := h.queries.Answer(c.Request.Context(), app.AnswerInput{
		Question:      req.Question,
		DocumentIDs:   req.DocumentIDs,
		IncludeThemes: req.IncludeThemes,
	})
	if err != nil {
		writeError(c, err, "query failed")
		return
	}
	response.OK(c, result)
}

func (h *QueryHandler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	limit := req.Limit
	if limit == 0 {
		limit = h.defaultLimit
	}
	hits, err := h.searcher.Search(c.Request.Context(), req.Query, req.DocumentIDs, limit)
	if err != nil {
		writeError(c, err, "search failed")
		return
	}
	out := make([]searchResult, len(hits))
	for i, hit := range hits {
		out[i] = searchResult{
			ChunkID:    hit.Chunk.ID,
			DocumentID: hit.Chunk.DocumentID,
			Position:   hit.Chunk.Position,
			Content:    hit.Chunk.Content,
			Page:       hit.Chunk.Page,
			Score:      hit.Score,
		}
	}
	response.OK(c, out)
}
