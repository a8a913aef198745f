package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"docresearch/internal/pkg/apperr"
	"docresearch/internal/transport/http/response"
)

// writeError maps an application error onto the response envelope. Unknown
// errors are reported as fallback without leaking their text.
func writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, apperr.ErrInvalidRequest):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, apperr.ErrNotFound):
		response.Error(c, http.StatusNotFound, response.CodeNotFound, err.Error())
	case errors.Is(err, apperr.ErrDocumentNotReady):
		response.Error(c, http.StatusConflict, response.CodeDocumentNotReady, err.Error())
	case errors.Is(err, apperr.ErrUnsupportedFormat):
		response.Error(c, http.StatusUnsupportedMediaType, response.CodeUnsupportedFormat, err.Error())
	case errors.Is(err, apperr.ErrExtractionFailure), errors.Is(err, apperr.ErrNoExtractableText):
		response.Error(c, http.StatusUnprocessableEntity, response.CodeExtractionFailure, err.Error())
	case errors.Is(err, apperr.ErrGenerationTimeout):
		response.Error(c, http.StatusGatewayTimeout, response.CodeUpstreamTimeout, err.Error())
	case errors.Is(err, apperr.ErrEmbeddingService), errors.Is(err, apperr.ErrGenerationService):
		response.Error(c, http.StatusBadGateway, response.CodeUpstreamError, err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}
