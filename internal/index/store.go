package index

import (
	"context"
	"sort"

	"docresearch/internal/model"
)

// Entry is one indexed chunk with its embedding.
type Entry struct {
	Chunk  model.Chunk
	Vector []float32
}

// Hit is a search result. Score is the cosine similarity to the query.
type Hit struct {
	Chunk model.Chunk
	Score float64
}

// Relevance maps Score onto [0,1].
func (h Hit) Relevance() float64 {
	switch {
	case h.Score < 0:
		return 0
	case h.Score > 1:
		return 1
	default:
		return h.Score
	}
}

// Store is the vector storage behind an Index.
// Replace must swap a document's entries atomically with respect to Search.
type Store interface {
	Replace(ctx context.Context, documentID string, entries []Entry) error
	Delete(ctx context.Context, documentID string) error
	Search(ctx context.Context, vector []float32, documentIDs []string, k int) ([]Hit, error)
	Documents(ctx context.Context) ([]string, error)
}

// sortHits orders by descending score, then ascending position, then document
// and chunk id.
func sortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Chunk.Position != b.Chunk.Position {
			return a.Chunk.Position < b.Chunk.Position
		}
		if a.Chunk.DocumentID != b.Chunk.DocumentID {
			return a.Chunk.DocumentID < b.Chunk.DocumentID
		}
		return a.Chunk.ID < b.Chunk.ID
	})
}
