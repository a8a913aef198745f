// Package theme derives cross-document themes from indexed chunks.
package theme

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"docresearch/internal/index"
	"docresearch/internal/model"
	"docresearch/internal/pkg/apperr"
	"docresearch/internal/pkg/modeljson"
)

// candidateQuery steers retrieval toward chunks that describe what a document is about.
const candidateQuery = "main topics, themes, key subjects and conclusions"

type Searcher interface {
	Search(ctx context.Context, query string, documentIDs []string, k int) ([]index.Hit, error)
}

type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error)
}

type Config struct {
	SimilarityThreshold      float64
	MaxCandidatesPerDocument int
	CandidateChunks          int
	MaxKeywords              int
	MinConfidence            float64
	MaxThemes                int
	Concurrency              int
	MaxTokens                int
	Temperature              float64
}

func (c Config) withDefaults() Config {
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold >= 1 {
		c.SimilarityThreshold = 0.82
	}
	if c.MaxCandidatesPerDocument <= 0 {
		c.MaxCandidatesPerDocument = 5
	}
	if c.CandidateChunks <= 0 {
		c.CandidateChunks = 8
	}
	if c.MaxKeywords <= 0 {
		c.MaxKeywords = 20
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1024
	}
	return c
}

// Filter narrows the output of one analysis run. Zero values fall back to Config.
type Filter struct {
	MinConfidence float64
	MaxThemes     int
}

type Engine struct {
	searcher  Searcher
	embedder  Embedder
	generator Generator
	cfg       Config
	logger    *slog.Logger
}

func NewEngine(searcher Searcher, embedder Embedder, generator Generator, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		searcher:  searcher,
		embedder:  embedder,
		generator: generator,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

// Analyze derives candidates per document, merges them across documents and
// scores the merged themes. A document whose candidates cannot be derived is
// left out; the run fails only when candidate signatures cannot be embedded.
func (e *Engine) Analyze(ctx context.Context, documentIDs []string, filter Filter) ([]model.Theme, error) {
	ids := uniqueSorted(documentIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no documents to analyze", apperr.ErrInvalidRequest)
	}

	perDoc := make([]apperr.Result[[]Candidate], len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, id := range ids {
		g.Go(func() error {
			cands, err := e.Candidates(gctx, id)
			if err != nil {
				perDoc[i] = apperr.Err[[]Candidate](err)
				return nil
			}
			perDoc[i] = apperr.Ok(cands)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var candidates []Candidate
	for i, r := range perDoc {
		if !r.IsOk() {
			e.logger.Warn("theme candidates excluded",
				slog.String("document_id", ids[i]),
				slog.String("error_kind", apperr.KindOf(r.Err)),
				slog.String("error", r.Err.Error()))
			continue
		}
		candidates = append(candidates, r.Value...)
	}
	if len(candidates) == 0 {
		return []model.Theme{}, nil
	}

	signatures := make([]string, len(candidates))
	for i, c := range candidates {
		signatures[i] = c.signature()
	}
	vectors, err := e.embedder.EmbedBatch(ctx, signatures)
	if err != nil {
		return nil, fmt.Errorf("embed theme candidates: %w", err)
	}
	if len(vectors) != len(candidates) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d candidates", apperr.ErrEmbeddingService, len(vectors), len(candidates))
	}

	themes := Merge(candidates, vectors, MergeOptions{
		Threshold:   e.cfg.SimilarityThreshold,
		MaxKeywords: e.cfg.MaxKeywords,
	})
	themes = e.filter(themes, filter)
	e.logger.Info("themes analyzed",
		slog.Int("documents", len(ids)),
		slog.Int("candidates", len(candidates)),
		slog.Int("themes", len(themes)))
	return themes, nil
}

func (e *Engine) filter(themes []model.Theme, f Filter) []model.Theme {
	minConf := f.MinConfidence
	if minConf <= 0 {
		minConf = e.cfg.MinConfidence
	}
	maxThemes := f.MaxThemes
	if maxThemes <= 0 {
		maxThemes = e.cfg.MaxThemes
	}
	out := themes[:0]
	for _, t := range themes {
		if t.Confidence >= minConf {
			out = append(out, t)
		}
	}
	if maxThemes > 0 && len(out) > maxThemes {
		out = out[:maxThemes]
	}
	return out
}

type candidateReply struct {
	Themes []struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Keywords    []string `json:"keywords"`
		Chunks      []int    `json:"chunks"`
	} `json:"themes"`
}

// Candidates asks the generator for the topics of one document, grounded in its
// most representative chunks. Every returned candidate references at least one
// of those chunks.
func (e *Engine) Candidates(ctx context.Context, documentID string) ([]Candidate, error) {
	hits, err := e.searcher.Search(ctx, candidateQuery, []string{documentID}, e.cfg.CandidateChunks)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, fmt.Errorf("%w: document %s has no indexed chunks", apperr.ErrNotFound, documentID)
	}
	// Present chunks in reading order.
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Chunk.Position < hits[j].Chunk.Position })

	raw, err := e.generator.Generate(ctx, candidatePrompt(hits, e.cfg.MaxCandidatesPerDocument), e.cfg.MaxTokens, e.cfg.Temperature)
	if err != nil {
		return nil, err
	}
	var reply candidateReply
	if err := modeljson.Decode(raw, &reply); err != nil {
		return nil, err
	}

	var out []Candidate
	for _, t := range reply.Themes {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			continue
		}
		var chunkIDs []string
		seen := make(map[int]bool)
		for _, ref := range t.Chunks {
			if ref < 1 || ref > len(hits) || seen[ref] {
				continue
			}
			seen[ref] = true
			chunkIDs = append(chunkIDs, hits[ref-1].Chunk.ID)
		}
		if len(chunkIDs) == 0 {
			continue
		}
		out = append(out, Candidate{
			DocumentID:  documentID,
			Name:        name,
			Description: strings.TrimSpace(t.Description),
			Keywords:    normalizeKeywords(t.Keywords, e.cfg.MaxKeywords),
			ChunkIDs:    chunkIDs,
		})
		if len(out) == e.cfg.MaxCandidatesPerDocument {
			break
		}
	}
	return out, nil
}

func candidatePrompt(hits []index.Hit, maxThemes int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Identify up to %d distinct themes discussed in the document excerpts below.\n", maxThemes)
	sb.WriteString("For each theme give a short name, a one-sentence description, 3 to 8 keywords, ")
	sb.WriteString("and the numbers of the excerpts that support it.\n")
	sb.WriteString("Respond with JSON only, in the form:\n")
	sb.WriteString(`{"themes":[{"name":"...","description":"...","keywords":["..."],"chunks":[1,2]}]}`)
	sb.WriteString("\n\n")
	for i, h := range hits {
		fmt.Fprintf(&sb, "[%d]\n%s\n\n", i+1, h.Chunk.Content)
	}
	return sb.String()
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
