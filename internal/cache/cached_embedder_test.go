package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	batches [][]string
}

func (e *countingEmbedder) Model() string { return "test-model" }

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (e *countingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.batches = append(e.batches, texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

type mapCache struct {
	data    map[string][]float32
	readErr error
}

func (c *mapCache) GetMany(_ context.Context, model string, texts []string) ([][]float32, error) {
	if c.readErr != nil {
		return nil, c.readErr
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = c.data[embeddingKey(model, t)]
	}
	return out, nil
}

func (c *mapCache) SetMany(_ context.Context, model string, texts []string, vectors [][]float32) error {
	for i, t := range texts {
		c.data[embeddingKey(model, t)] = vectors[i]
	}
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCachedEmbedder_OnlyMissesReachBackend(t *testing.T) {
	backend := &countingEmbedder{}
	store := &mapCache{data: map[string][]float32{}}
	e := NewCachedEmbedder(backend, store, discardLogger())
	ctx := context.Background()

	first, err := e.EmbedBatch(ctx, []string{"alpha", "be"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{5, 1}, {2, 1}}, first)

	second, err := e.EmbedBatch(ctx, []string{"be", "gamma", "alpha"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2, 1}, {5, 1}, {5, 1}}, second)

	require.Len(t, backend.batches, 2)
	assert.Equal(t, []string{"gamma"}, backend.batches[1])
}

func TestCachedEmbedder_ReadFailureFallsThrough(t *testing.T) {
	backend := &countingEmbedder{}
	store := &mapCache{data: map[string][]float32{}, readErr: errors.New("redis down")}
	e := NewCachedEmbedder(backend, store, discardLogger())

	vec, err := e.Embed(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 1}, vec)
	assert.Len(t, backend.batches, 1)
}

func TestEmbeddingKey(t *testing.T) {
	assert.Equal(t, embeddingKey("m", "x"), embeddingKey("m", "x"))
	assert.NotEqual(t, embeddingKey("m", "x"), embeddingKey("n", "x"))
	assert.NotEqual(t, embeddingKey("m", "x"), embeddingKey("m", "y"))
}
