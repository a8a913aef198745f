package cache

import (
	"context"
	"log/slog"
)

// Embedder is the embedding backend being cached.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// VectorCache is the storage behind CachedEmbedder.
type VectorCache interface {
	GetMany(ctx context.Context, model string, texts []string) ([][]float32, error)
	SetMany(ctx context.Context, model string, texts []string, vectors [][]float32) error
}

// CachedEmbedder serves repeated texts from the cache and only sends misses to
// the backend. Cache failures are logged and bypassed.
type CachedEmbedder struct {
	next   Embedder
	cache  VectorCache
	logger *slog.Logger
}

func NewCachedEmbedder(next Embedder, cache VectorCache, logger *slog.Logger) *CachedEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedEmbedder{next: next, cache: cache, logger: logger}
}

func (e *CachedEmbedder) Model() string {
	return e.next.Model()
}

func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (e *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	model := e.next.Model()

	cached, err := e.cache.GetMany(ctx, model, texts)
	if err != nil {
		e.logger.Warn("embedding cache read failed", slog.String("error", err.Error()))
		cached = nil
	}

	out := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int
	for i, t := range texts {
		if i < len(cached) && len(cached[i]) > 0 {
			out[i] = cached[i]
			continue
		}
		missTexts = append(missTexts, t)
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	fresh, err := e.next.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = fresh[j]
	}
	if err := e.cache.SetMany(ctx, model, missTexts, fresh); err != nil {
		e.logger.Warn("embedding cache write failed", slog.String("error", err.Error()))
	}
	return out, nil
}
