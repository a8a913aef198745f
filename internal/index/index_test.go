package index

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docresearch/internal/model"
	"docresearch/internal/pkg/apperr"
)

// keywordEmbedder maps texts onto a fixed vocabulary so similarity is predictable.
type keywordEmbedder struct {
	mu      sync.Mutex
	vocab   []string
	calls   int
	failOn  string
	batches []int
}

func (e *keywordEmbedder) vector(text string) []float32 {
	text = strings.ToLower(text)
	vec := make([]float32, len(e.vocab)+1)
	vec[len(e.vocab)] = 0.01
	for i, w := range e.vocab {
		vec[i] = float32(strings.Count(text, w))
	}
	return vec
}

func (e *keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.failOn != "" && strings.Contains(text, e.failOn) {
		return nil, fmt.Errorf("%w: boom", apperr.ErrEmbeddingService)
	}
	return e.vector(text), nil
}

func (e *keywordEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.batches = append(e.batches, len(texts))
	e.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if e.failOn != "" && strings.Contains(t, e.failOn) {
			return nil, fmt.Errorf("%w: boom", apperr.ErrEmbeddingService)
		}
		out[i] = e.vector(t)
	}
	return out, nil
}

func chunks(docID string, texts ...string) []model.Chunk {
	out := make([]model.Chunk, len(texts))
	for i, t := range texts {
		out[i] = model.Chunk{ID: fmt.Sprintf("%s_%d", docID, i), DocumentID: docID, Position: i, Content: t}
	}
	return out
}

func newTestIndex(e Embedder) *Index {
	return New(e, NewMemoryStore(), WithBatchSize(2), WithConcurrency(2))
}

func TestIndex_SearchRanksAndScopes(t *testing.T) {
	e := &keywordEmbedder{vocab: []string{"refund", "shipping", "warranty"}}
	x := newTestIndex(e)
	ctx := context.Background()

	_, err := x.Index(ctx, "a", chunks("a", "refund refund policy", "shipping times", "warranty terms"))
	require.NoError(t, err)
	_, err = x.Index(ctx, "b", chunks("b", "refund only", "shipping shipping"))
	require.NoError(t, err)

	hits, err := x.Search(ctx, "refund", nil, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.Contains(t, h.Chunk.Content, "refund")
		assert.InDelta(t, 1.0, h.Score, 0.01)
	}

	scoped, err := x.Search(ctx, "refund", []string{"b"}, 5)
	require.NoError(t, err)
	require.Len(t, scoped, 2)
	for _, h := range scoped {
		assert.Equal(t, "b", h.Chunk.DocumentID)
	}
	assert.Equal(t, "b_0", scoped[0].Chunk.ID)
}

func TestIndex_TiesBrokenByPosition(t *testing.T) {
	e := &keywordEmbedder{vocab: []string{"same"}}
	x := newTestIndex(e)
	ctx := context.Background()

	_, err := x.Index(ctx, "d", chunks("d", "same", "same", "same"))
	require.NoError(t, err)

	hits, err := x.Search(ctx, "same", []string{"d"}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{hits[0].Chunk.Position, hits[1].Chunk.Position, hits[2].Chunk.Position})
}

func TestIndex_ReindexReplaces(t *testing.T) {
	e := &keywordEmbedder{vocab: []string{"old", "new"}}
	x := newTestIndex(e)
	ctx := context.Background()

	_, err := x.Index(ctx, "d", chunks("d", "old text", "old again", "old more"))
	require.NoError(t, err)
	_, err = x.Index(ctx, "d", chunks("d", "new text"))
	require.NoError(t, err)

	hits, err := x.Search(ctx, "old", nil, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "new text", hits[0].Chunk.Content)
}

func TestIndex_IndexReturnsEmbeddedChunksInBatches(t *testing.T) {
	e := &keywordEmbedder{vocab: []string{"x"}}
	x := newTestIndex(e)

	out, err := x.Index(context.Background(), "d", chunks("d", "x", "x x", "x x x", "y"))
	require.NoError(t, err)
	require.Len(t, out, 4)
	for _, c := range out {
		assert.NotEmpty(t, c.EmbeddingVector())
	}
	assert.Equal(t, []float32{2, 0.01}, out[1].EmbeddingVector())
	assert.Equal(t, 2, e.calls)
}

func TestIndex_EmbeddingFailureLeavesPriorEntries(t *testing.T) {
	e := &keywordEmbedder{vocab: []string{"keep"}}
	x := newTestIndex(e)
	ctx := context.Background()

	_, err := x.Index(ctx, "d", chunks("d", "keep me"))
	require.NoError(t, err)

	e.failOn = "poison"
	_, err = x.Index(ctx, "d", chunks("d", "poison"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrEmbeddingService))

	e.failOn = ""
	hits, err := x.Search(ctx, "keep", nil, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "keep me", hits[0].Chunk.Content)
}

func TestIndex_RemoveIsIdempotent(t *testing.T) {
	e := &keywordEmbedder{vocab: []string{"a"}}
	x := newTestIndex(e)
	ctx := context.Background()

	require.NoError(t, x.Remove(ctx, "never-indexed"))

	_, err := x.Index(ctx, "d", chunks("d", "a"))
	require.NoError(t, err)
	require.NoError(t, x.Remove(ctx, "d"))
	require.NoError(t, x.Remove(ctx, "d"))

	hits, err := x.Search(ctx, "a", nil, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
	docs, err := x.Documents(ctx)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestIndex_Load(t *testing.T) {
	e := &keywordEmbedder{vocab: []string{"a"}}
	x := newTestIndex(e)
	ctx := context.Background()

	persisted := chunks("d", "a", "b", "no vector")
	persisted[0].SetEmbedding([]float32{1, 0})
	persisted[1].SetEmbedding([]float32{0, 1})

	n, err := x.Load(ctx, persisted)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	hits, err := x.SearchVector(ctx, []float32{1, 0}, nil, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "d_0", hits[0].Chunk.ID)
}

func TestIndex_EmptyQueryRejected(t *testing.T) {
	x := newTestIndex(&keywordEmbedder{})
	_, err := x.Search(context.Background(), "  ", nil, 3)
	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
}

func TestIndex_ConcurrentIndexAndSearch(t *testing.T) {
	e := &keywordEmbedder{vocab: []string{"w"}}
	x := newTestIndex(e)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := x.Index(ctx, "shared", chunks("shared", "w", "w w"))
			assert.NoError(t, err)
		}(i)
		go func() {
			defer wg.Done()
			hits, err := x.Search(ctx, "w", []string{"shared"}, 10)
			assert.NoError(t, err)
			assert.True(t, len(hits) == 0 || len(hits) == 2)
		}()
	}
	wg.Wait()
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 2}))
}

func TestHit_Relevance(t *testing.T) {
	assert.Equal(t, 0.0, Hit{Score: -0.3}.Relevance())
	assert.Equal(t, 0.4, Hit{Score: 0.4}.Relevance())
}
