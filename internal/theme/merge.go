package theme

import (
	"math"
	"sort"
	"strings"

	"docresearch/internal/index"
	"docresearch/internal/model"
)

// Candidate is one topic descriptor proposed for a single document.
type Candidate struct {
	DocumentID  string   `json:"document_id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
	ChunkIDs    []string `json:"chunk_ids"`
}

// signature is the text embedded to compare candidates.
func (c Candidate) signature() string {
	if len(c.Keywords) == 0 {
		return c.Name
	}
	return c.Name + ": " + strings.Join(c.Keywords, ", ")
}

// MergeOptions controls clustering and scoring.
type MergeOptions struct {
	Threshold   float64
	MaxKeywords int
}

// Merge clusters candidates whose signature vectors have cosine similarity at or
// above the threshold. Clustering is transitive and independent of input order
// up to tie-breaks between equally central members. Output is sorted by
// confidence descending, then name.
func Merge(candidates []Candidate, vectors [][]float32, opts MergeOptions) []model.Theme {
	n := len(candidates)
	if n == 0 || len(vectors) != n {
		return nil
	}

	sim := make([][]float64, n)
	for i := range sim {
		sim[i] = make([]float64, n)
	}
	uf := newUnionFind(n)
	for i := 0; i < n; i++ {
		sim[i][i] = 1
		for j := i + 1; j < n; j++ {
			s := index.Cosine(vectors[i], vectors[j])
			sim[i][j], sim[j][i] = s, s
			if s >= opts.Threshold {
				uf.union(i, j)
			}
		}
	}

	groups := make(map[int][]int)
	for i := 0; i < n; i++ {
		root := uf.find(i)
		groups[root] = append(groups[root], i)
	}

	themes := make([]model.Theme, 0, len(groups))
	for _, members := range groups {
		sort.Ints(members)
		themes = append(themes, buildTheme(candidates, sim, members, opts))
	}
	sort.SliceStable(themes, func(i, j int) bool {
		if themes[i].Confidence != themes[j].Confidence {
			return themes[i].Confidence > themes[j].Confidence
		}
		if themes[i].Name != themes[j].Name {
			return themes[i].Name < themes[j].Name
		}
		return strings.Join(themes[i].SupportingDocumentIDs, ",") < strings.Join(themes[j].SupportingDocumentIDs, ",")
	})
	return themes
}

func buildTheme(candidates []Candidate, sim [][]float64, members []int, opts MergeOptions) model.Theme {
	rep := members[0]
	best := math.Inf(-1)
	for _, i := range members {
		var total float64
		for _, j := range members {
			if i != j {
				total += sim[i][j]
			}
		}
		if total > best {
			best, rep = total, i
		}
	}

	docSet := make(map[string]struct{})
	for _, i := range members {
		docSet[candidates[i].DocumentID] = struct{}{}
	}
	docs := make([]string, 0, len(docSet))
	for id := range docSet {
		docs = append(docs, id)
	}
	sort.Strings(docs)

	description := candidates[rep].Description
	for _, i := range members {
		if description != "" {
			break
		}
		description = candidates[i].Description
	}

	return model.Theme{
		Name:                  strings.TrimSpace(candidates[rep].Name),
		Description:           strings.TrimSpace(description),
		Keywords:              mergeKeywords(candidates, members, opts.MaxKeywords),
		Confidence:            Confidence(len(docs), averagePairSimilarity(sim, members), opts.Threshold),
		SupportingDocumentIDs: docs,
	}
}

func averagePairSimilarity(sim [][]float64, members []int) float64 {
	if len(members) < 2 {
		return 0
	}
	var total float64
	pairs := 0
	for a := 0; a < len(members); a++ {
		for b := a + 1; b < len(members); b++ {
			total += sim[members[a]][members[b]]
			pairs++
		}
	}
	return total / float64(pairs)
}

// Confidence scores a theme supported by docs distinct documents whose merged
// candidates have average pairwise similarity avgSim:
//
//	1 - 0.5^docs * (1 - 0.45*cohesion)
//
// cohesion rescales avgSim from [threshold, 1] onto [0, 1] and is 0 for a single
// candidate. A theme with more supporting documents always outscores one with
// fewer, and the result is rounded to four decimals.
func Confidence(docs int, avgSim, threshold float64) float64 {
	if docs <= 0 {
		return 0
	}
	cohesion := 0.0
	if threshold < 1 {
		cohesion = (avgSim - threshold) / (1 - threshold)
	}
	cohesion = clamp(cohesion, 0, 1)
	score := 1 - math.Pow(0.5, float64(docs))*(1-0.45*cohesion)
	return math.Round(clamp(score, 0, 1)*1e4) / 1e4
}

func mergeKeywords(candidates []Candidate, members []int, limit int) []string {
	counts := make(map[string]int)
	for _, i := range members {
		for _, kw := range normalizeKeywords(candidates[i].Keywords, 0) {
			counts[kw]++
		}
	}
	out := make([]string, 0, len(counts))
	for kw := range counts {
		out = append(out, kw)
	}
	sort.Slice(out, func(i, j int) bool {
		if counts[out[i]] != counts[out[j]] {
			return counts[out[i]] > counts[out[j]]
		}
		return out[i] < out[j]
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// normalizeKeywords lowercases, trims and deduplicates keywords in order.
func normalizeKeywords(keywords []string, limit int) []string {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.Join(strings.Fields(kw), " "))
		if kw == "" {
			continue
		}
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	switch {
	case u.rank[ra] < u.rank[rb]:
		u.parent[ra] = rb
	case u.rank[ra] > u.rank[rb]:
		u.parent[rb] = ra
	default:
		u.parent[rb] = ra
		u.rank[ra]++
	}
}
