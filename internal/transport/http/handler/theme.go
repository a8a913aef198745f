package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"docresearch/internal/app"
	"docresearch/internal/model"
	"docresearch/internal/transport/http/response"
)

type ThemeService interface {
	Analyze(ctx context.Context, in app.AnalyzeInput) ([]model.Theme, error)
	List(ctx context.Context) ([]model.Theme, error)
	Get(ctx context.Context, id string) (*model.Theme, error)
	Create(ctx context.Context, in app.ThemeInput) (*model.Theme, error)
	Update(ctx context.Context, id string, patch app.ThemePatch) (*model.Theme, error)
	Delete(ctx context.Context, id string) error
}

type ThemeHandler struct {
	themes ThemeService
}

type AnalyzeRequest struct {
	DocumentIDs   []string `json:"document_ids"`
	MinConfidence float64  `json:"min_confidence" binding:"min=0,max=1"`
	MaxThemes     int      `json:"max_themes" binding:"min=0"`
}

type CreateThemeRequest struct {
	Name        string   `json:"name" binding:"required"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
	DocumentIDs []string `json:"document_ids" binding:"required"`
	Confidence  *float64 `json:"confidence" binding:"omitempty,min=0,max=1"`
}

// UpdateThemeRequest leaves absent fields unchanged.
type UpdateThemeRequest struct {
	Name        *string   `json:"name"`
	Description *string   `json:"description"`
	Keywords    *[]string `json:"keywords"`
	DocumentIDs *[]string `json:"document_ids"`
	Confidence  *float64  `json:"confidence" binding:"omitempty,min=0,max=1"`
}

func NewThemeHandler(themes ThemeService) *ThemeHandler {
	return &ThemeHandler{themes: themes}
}

func (h *ThemeHandler) Analyze(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	themes, err := h.themes.Analyze(c.Request.Context(), app.AnalyzeInput{
		DocumentIDs:   req.DocumentIDs,
		MinConfidence: req.MinConfidence,
		MaxThemes:     req.MaxThemes,
	})
	if err != nil {
		writeError(c, err, "analyze themes failed")
		return
	}
	if themes == nil {
		themes = []model.Theme{}
	}
	response.OK(c, themes)
}

func (h *ThemeHandler) List(c *gin.Context) {
	themes, err := h.themes.List(c.Request.Context())
	if err != nil {
		writeError(c, err, "list themes failed")
		return
	}
	if themes == nil {
		themes = []model.Theme{}
	}
	response.OK(c, themes)
}

func (h *ThemeHandler) Get(c *gin.Context) {
	t, err := h.themes.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, "get theme failed")
		return
	}
	response.OK(c, t)
}

func (h *ThemeHandler) Create(c *gin.Context) {
	var req CreateThemeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	t, err := h.themes.Create(c.Request.Context(), app.ThemeInput{
		Name:        req.Name,
		Description: req.Description,
		Keywords:    req.Keywords,
		DocumentIDs: req.DocumentIDs,
		Confidence:  req.Confidence,
	})
	if err != nil {
		writeError(c, err, "create theme failed")
		return
	}
	response.OK(c, t)
}

func (h *ThemeHandler) Update(c *gin.Context) {
	var req UpdateThemeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	t, err := h.themes.Update(c.Request.Context(), c.Param("id"), app.ThemePatch{
		Name:        req.Name,
		Description: req.Description,
		Keywords:    req.Keywords,
		DocumentIDs: req.DocumentIDs,
		Confidence:  req.Confidence,
	})
	if err != nil {
		writeError(c, err, "update theme failed")
		return
	}
	response.OK(c, t)
}

func (h *ThemeHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.themes.Delete(c.Request.Context(), id); err != nil {
		writeError(c, err, "delete theme failed")
		return
	}
	response.OK(c, gin.H{"deleted_theme_id": id})
}
