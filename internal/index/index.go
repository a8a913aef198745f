// Package index embeds document chunks and answers similarity queries over them.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"docresearch/internal/model"
	"docresearch/internal/pkg/apperr"
)

// Embedder produces embedding vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type Index struct {
	embedder    Embedder
	store       Store
	batchSize   int
	concurrency int
	locks       *keyedMutex
	logger      *slog.Logger
}

type Option func(*Index)

// WithBatchSize sets how many chunks go into one embedding request.
func WithBatchSize(n int) Option {
	return func(x *Index) {
		if n > 0 {
			x.batchSize = n
		}
	}
}

// WithConcurrency bounds in-flight embedding requests per Index call.
func WithConcurrency(n int) Option {
	return func(x *Index) {
		if n > 0 {
			x.concurrency = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(x *Index) {
		if logger != nil {
			x.logger = logger
		}
	}
}

func New(embedder Embedder, store Store, opts ...Option) *Index {
	x := &Index{
		embedder:    embedder,
		store:       store,
		batchSize:   10,
		concurrency: 4,
		locks:       newKeyedMutex(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Index embeds chunks and registers them for documentID, replacing any entries
// from a previous run. The returned chunks carry their embeddings.
func (x *Index) Index(ctx context.Context, documentID string, chunks []model.Chunk) ([]model.Chunk, error) {
	vectors, err := x.embedChunks(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("embed chunks of %s: %w", documentID, err)
	}

	out := make([]model.Chunk, len(chunks))
	entries := make([]Entry, len(chunks))
	for i, c := range chunks {
		c.DocumentID = documentID
		c.SetEmbedding(vectors[i])
		out[i] = c
		entries[i] = Entry{Chunk: c, Vector: vectors[i]}
	}

	unlock := x.locks.Lock(documentID)
	defer unlock()
	if err := x.store.Replace(ctx, documentID, entries); err != nil {
		return nil, fmt.Errorf("store entries of %s: %w", documentID, err)
	}
	x.logger.Debug("indexed document", slog.String("document_id", documentID), slog.Int("chunks", len(entries)))
	return out, nil
}

func (x *Index) embedChunks(ctx context.Context, chunks []model.Chunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.concurrency)
	for start := 0; start < len(chunks); start += x.batchSize {
		end := start + x.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, c := range chunks[start:end] {
				texts = append(texts, c.Content)
			}
			batch, err := x.embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return err
			}
			if len(batch) != len(texts) {
				return fmt.Errorf("%w: got %d embeddings for %d chunks", apperr.ErrEmbeddingService, len(batch), len(texts))
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// Load registers chunks that already carry embeddings, grouped by document.
// Chunks without an embedding are skipped.
func (x *Index) Load(ctx context.Context, chunks []model.Chunk) (int, error) {
	byDoc := make(map[string][]Entry)
	for _, c := range chunks {
		vec := c.EmbeddingVector()
		if len(vec) == 0 {
			continue
		}
		byDoc[c.DocumentID] = append(byDoc[c.DocumentID], Entry{Chunk: c, Vector: vec})
	}
	loaded := 0
	for docID, entries := range byDoc {
		sort.Slice(entries, func(i, j int) bool { return entries[i].Chunk.Position < entries[j].Chunk.Position })
		unlock := x.locks.Lock(docID)
		err := x.store.Replace(ctx, docID, entries)
		unlock()
		if err != nil {
			return loaded, fmt.Errorf("load entries of %s: %w", docID, err)
		}
		loaded += len(entries)
	}
	return loaded, nil
}

// Embed returns the embedding of a query text.
func (x *Index) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty query", apperr.ErrInvalidRequest)
	}
	vec, err := x.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return vec, nil
}

// Search embeds query and returns the top k chunks restricted to documentIDs,
// or across the whole index when documentIDs is empty.
func (x *Index) Search(ctx context.Context, query string, documentIDs []string, k int) ([]Hit, error) {
	vec, err := x.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return x.SearchVector(ctx, vec, documentIDs, k)
}

// SearchVector is Search with a precomputed query embedding.
func (x *Index) SearchVector(ctx context.Context, vector []float32, documentIDs []string, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	hits, err := x.store.Search(ctx, vector, dedupe(documentIDs), k)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	return hits, nil
}

// Remove drops every entry of documentID. Removing an unknown document is a no-op.
func (x *Index) Remove(ctx context.Context, documentID string) error {
	unlock := x.locks.Lock(documentID)
	defer unlock()
	if err := x.store.Delete(ctx, documentID); err != nil {
		return fmt.Errorf("remove %s from index: %w", documentID, err)
	}
	return nil
}

// Documents lists the ids of documents currently indexed.
func (x *Index) Documents(ctx context.Context) ([]string, error) {
	return x.store.Documents(ctx)
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// keyedMutex serializes writers per document.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
