// Package apperr defines the error kinds shared by ingestion, retrieval,
// synthesis and theme analysis.
package apperr

import (
	"context"
	"errors"
)

var (
	ErrUnsupportedFormat  = errors.New("unsupported format")
	ErrExtractionFailure  = errors.New("extraction failure")
	ErrEmbeddingService   = errors.New("embedding service error")
	ErrGenerationTimeout  = errors.New("generation service timeout")
	ErrGenerationService  = errors.New("generation service error")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrNotFound           = errors.New("not found")
	ErrDocumentNotReady   = errors.New("document not processed")
	ErrNoExtractableText  = errors.New("no extractable text")
	ErrMalformedModelText = errors.New("malformed model output")
)

const (
	KindUnsupportedFormat = "UnsupportedFormat"
	KindExtraction        = "ExtractionFailure"
	KindEmbedding         = "EmbeddingServiceError"
	KindGenerationTimeout = "GenerationServiceTimeout"
	KindGeneration        = "GenerationServiceError"
	KindInvalidRequest    = "InvalidRequest"
	KindNotFound          = "NotFound"
	KindNotReady          = "DocumentNotReady"
	KindInternal          = "Internal"
)

// KindOf classifies err into one of the stable kind names.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnsupportedFormat):
		return KindUnsupportedFormat
	case errors.Is(err, ErrExtractionFailure), errors.Is(err, ErrNoExtractableText):
		return KindExtraction
	case errors.Is(err, ErrEmbeddingService):
		return KindEmbedding
	case errors.Is(err, ErrGenerationTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindGenerationTimeout
	case errors.Is(err, ErrGenerationService), errors.Is(err, ErrMalformedModelText):
		return KindGeneration
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrDocumentNotReady):
		return KindNotReady
	default:
		return KindInternal
	}
}

// Result carries either a value or the error that prevented it.
type Result[T any] struct {
	Value T
	Err   error
}

func Ok[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

func Err[T any](err error) Result[T] {
	return Result[T]{Err: err}
}

func (r Result[T]) IsOk() bool {
	return r.Err == nil
}
