package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"docresearch/internal/index"
	"docresearch/internal/model"
	"docresearch/internal/theme"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memDocuments struct {
	mu   sync.Mutex
	docs map[string]model.Document
	// beforeUpdate runs ahead of every Update, outside the lock.
	beforeUpdate func(doc *model.Document)
}

func newMemDocuments(docs ...model.Document) *memDocuments {
	s := &memDocuments{docs: make(map[string]model.Document)}
	for _, d := range docs {
		s.docs[d.ID] = d
	}
	return s
}

func (s *memDocuments) Create(_ context.Context, doc *model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = *doc
	return nil
}

func (s *memDocuments) Update(_ context.Context, doc *model.Document) (bool, error) {
	s.mu.Lock()
	hook := s.beforeUpdate
	s.mu.Unlock()
	if hook != nil {
		hook(doc)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[doc.ID]; !ok {
		return false, nil
	}
	doc.UpdatedAt = time.Now()
	s.docs[doc.ID] = *doc
	return true, nil
}

func (s *memDocuments) GetByID(_ context.Context, id string) (*model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (s *memDocuments) GetByIDs(_ context.Context, ids []string) ([]model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Document
	for _, id := range ids {
		if d, ok := s.docs[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *memDocuments) List(_ context.Context, status model.DocumentStatus) ([]model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Document
	for _, d := range s.docs {
		if status == "" || d.Status == status {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memDocuments) ListIDsByStatus(ctx context.Context, status model.DocumentStatus) ([]string, error) {
	docs, _ := s.List(ctx, status)
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids, nil
}

func (s *memDocuments) DeleteByID(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	return nil
}

func (s *memDocuments) get(id string) model.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[id]
}

type memChunks struct {
	mu      sync.Mutex
	byDoc   map[string][]model.Chunk
	failPut error
}

func newMemChunks() *memChunks {
	return &memChunks{byDoc: make(map[string][]model.Chunk)}
}

func (s *memChunks) ReplaceForDocument(_ context.Context, documentID string, chunks []model.Chunk) error {
	if s.failPut != nil {
		return s.failPut
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byDoc[documentID] = append([]model.Chunk(nil), chunks...)
	return nil
}

func (s *memChunks) ListByDocumentID(_ context.Context, documentID string) ([]model.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Chunk(nil), s.byDoc[documentID]...), nil
}

func (s *memChunks) DeleteByDocumentID(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byDoc, documentID)
	return nil
}

type memThemes struct {
	mu     sync.Mutex
	themes map[string]model.Theme
}

func newMemThemes() *memThemes {
	return &memThemes{themes: make(map[string]model.Theme)}
}

func (s *memThemes) ReplaceScope(_ context.Context, scopeHash string, themes []model.Theme) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.themes {
		if t.ScopeHash == scopeHash {
			delete(s.themes, id)
		}
	}
	for _, t := range themes {
		s.themes[t.ID] = t
	}
	return nil
}

func (s *memThemes) Update(_ context.Context, t *model.Theme) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.themes[t.ID]; !ok {
		return false, nil
	}
	s.themes[t.ID] = *t
	return true, nil
}

func (s *memThemes) List(context.Context) ([]model.Theme, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Theme, 0, len(s.themes))
	for _, t := range s.themes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memThemes) GetByID(_ context.Context, id string) (*model.Theme, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.themes[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *memThemes) DeleteByID(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.themes, id)
	return nil
}

func (s *memThemes) RemoveDocument(_ context.Context, documentID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for id, t := range s.themes {
		kept := t.SupportingDocumentIDs[:0:0]
		for _, d := range t.SupportingDocumentIDs {
			if d != documentID {
				kept = append(kept, d)
			}
		}
		if len(kept) == 0 {
			delete(s.themes, id)
			removed = append(removed, id)
			continue
		}
		t.SupportingDocumentIDs = kept
		s.themes[id] = t
	}
	sort.Strings(removed)
	return removed, nil
}

// wordEmbedder maps text onto counts of a fixed vocabulary.
type wordEmbedder struct {
	vocab []string
	err   error
}

func (e *wordEmbedder) vector(text string) []float32 {
	text = strings.ToLower(text)
	vec := make([]float32, len(e.vocab)+1)
	vec[len(e.vocab)] = 0.1
	for i, w := range e.vocab {
		vec[i] = float32(strings.Count(text, w))
	}
	return vec
}

func (e *wordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.vector(text), nil
}

func (e *wordEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func newTestIndex(vocab ...string) *index.Index {
	return index.New(&wordEmbedder{vocab: vocab}, index.NewMemoryStore(), index.WithLogger(quietLogger()))
}

// scriptedGenerator replies by the first marker found in the prompt. A reply of
// "<block>" waits for the context to expire.
type scriptedGenerator struct {
	mu      sync.Mutex
	replies map[string]string
	errs    map[string]error
	calls   []string
}

const blockReply = "<block>"

func (g *scriptedGenerator) Generate(ctx context.Context, prompt string, _ int, _ float64) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, prompt)
	g.mu.Unlock()

	keys := make([]string, 0, len(g.replies)+len(g.errs))
	for k := range g.errs {
		keys = append(keys, k)
	}
	for k := range g.replies {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, marker := range keys {
		if !strings.Contains(prompt, marker) {
			continue
		}
		if err := g.errs[marker]; err != nil {
			return "", err
		}
		if g.replies[marker] == blockReply {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return g.replies[marker], nil
	}
	return "", errors.New("no scripted reply")
}

func (g *scriptedGenerator) prompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

type stubAnalyzer struct {
	themes []model.Theme
	err    error
	ids    []string
	filter theme.Filter
}

func (a *stubAnalyzer) Analyze(_ context.Context, ids []string, filter theme.Filter) ([]model.Theme, error) {
	a.ids = append([]string(nil), ids...)
	a.filter = filter
	if a.err != nil {
		return nil, a.err
	}
	out := make([]model.Theme, len(a.themes))
	copy(out, a.themes)
	return out, nil
}

type recordingPublisher struct {
	jobs []model.IngestJob
	err  error
}

func (p *recordingPublisher) PublishIngest(_ context.Context, job model.IngestJob) error {
	if p.err != nil {
		return p.err
	}
	p.jobs = append(p.jobs, job)
	return nil
}

type fakeOCR struct {
	text string
}

func (f *fakeOCR) ExtractText(context.Context, []byte) (string, error) {
	return f.text, nil
}
