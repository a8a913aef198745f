package index

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is a brute-force in-process Store.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]Entry)}
}

func (s *MemoryStore) Replace(_ context.Context, documentID string, entries []Entry) error {
	cp := make([]Entry, len(entries))
	copy(cp, entries)

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(cp) == 0 {
		delete(s.docs, documentID)
		return nil
	}
	s.docs[documentID] = cp
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, documentID)
	return nil
}

func (s *MemoryStore) Search(ctx context.Context, vector []float32, documentIDs []string, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	targets := documentIDs
	if len(targets) == 0 {
		targets = make([]string, 0, len(s.docs))
		for id := range s.docs {
			targets = append(targets, id)
		}
	}

	var hits []Hit
	for _, id := range targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, e := range s.docs[id] {
			hits = append(hits, Hit{Chunk: e.Chunk, Score: Cosine(vector, e.Vector)})
		}
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (s *MemoryStore) Documents(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.docs))
	for id := range s.docs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
