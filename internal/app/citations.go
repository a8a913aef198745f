package app

import (
	"sort"
	"unicode"

	"docresearch/internal/index"
	"docresearch/internal/model"
)

// validateCitations keeps the citations that point at a retrieved chunk and whose
// quote occurs in it. Quotes are matched with whitespace collapsed, falling back
// to a case-insensitive match. Overlapping quotes in one chunk are joined.
func validateCitations(documentID string, hits []index.Hit, refs []citationReply) []model.Citation {
	type span struct{ start, end int }
	spans := make(map[int][]span)
	for _, ref := range refs {
		if ref.Chunk < 1 || ref.Chunk > len(hits) {
			continue
		}
		start, end, ok := locateQuote([]rune(hits[ref.Chunk-1].Chunk.Content), ref.Quote)
		if !ok {
			continue
		}
		spans[ref.Chunk-1] = append(spans[ref.Chunk-1], span{start, end})
	}

	var out []model.Citation
	for hi, list := range spans {
		hit := hits[hi]
		content := []rune(hit.Chunk.Content)
		sort.Slice(list, func(i, j int) bool { return list[i].start < list[j].start })
		merged := []span{list[0]}
		for _, sp := range list[1:] {
			last := &merged[len(merged)-1]
			if sp.start <= last.end {
				last.end = max(last.end, sp.end)
				continue
			}
			merged = append(merged, sp)
		}
		for _, sp := range merged {
			out = append(out, model.Citation{
				DocumentID: documentID,
				ChunkID:    hit.Chunk.ID,
				Position:   hit.Chunk.Position,
				Text:       string(content[sp.start:sp.end]),
				Start:      hit.Chunk.Start + sp.start,
				End:        hit.Chunk.Start + sp.end,
				Page:       hit.Chunk.Page,
				Relevance:  hit.Relevance(),
			})
		}
	}
	sortCitations(out)
	return out
}

// locateQuote returns the rune span of quote inside content. An empty quote
// covers the whole chunk.
func locateQuote(content []rune, quote string) (start, end int, ok bool) {
	needle := collapse([]rune(quote), nil)
	if len(needle) == 0 {
		return 0, len(content), len(content) > 0
	}
	offsets := make([]int, 0, len(content))
	hay := collapse(content, &offsets)

	idx := indexRunes(hay, needle, false)
	if idx < 0 {
		idx = indexRunes(hay, needle, true)
	}
	if idx < 0 {
		return 0, 0, false
	}
	return offsets[idx], offsets[idx+len(needle)-1] + 1, true
}

// collapse trims s and folds whitespace runs into one space. When offsets is
// non-nil it records the source index of every output rune.
func collapse(s []rune, offsets *[]int) []rune {
	out := make([]rune, 0, len(s))
	pendingSpace := -1
	for i, r := range s {
		if unicode.IsSpace(r) {
			if pendingSpace < 0 {
				pendingSpace = i
			}
			continue
		}
		if pendingSpace >= 0 && len(out) > 0 {
			out = append(out, ' ')
			if offsets != nil {
				*offsets = append(*offsets, pendingSpace)
			}
		}
		pendingSpace = -1
		out = append(out, r)
		if offsets != nil {
			*offsets = append(*offsets, i)
		}
	}
	return out
}

func indexRunes(hay, needle []rune, fold bool) int {
	for i := 0; i+len(needle) <= len(hay); i++ {
		match := true
		for j, r := range needle {
			h := hay[i+j]
			if fold {
				h, r = unicode.ToLower(h), unicode.ToLower(r)
			}
			if h != r {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// dedupeCitations drops citations whose span overlaps a kept citation of the
// same document. The more relevant citation wins, then the earlier chunk.
func dedupeCitations(cits []model.Citation) []model.Citation {
	if len(cits) == 0 {
		return nil
	}
	ranked := make([]model.Citation, len(cits))
	copy(ranked, cits)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Relevance != b.Relevance {
			return a.Relevance > b.Relevance
		}
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		return a.Start < b.Start
	})

	kept := make([]model.Citation, 0, len(ranked))
	for _, c := range ranked {
		overlaps := false
		for _, k := range kept {
			if k.DocumentID == c.DocumentID && c.Start < k.End && k.Start < c.End {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, c)
		}
	}
	sortCitations(kept)
	return kept
}

func sortCitations(cits []model.Citation) {
	sort.SliceStable(cits, func(i, j int) bool {
		a, b := cits[i], cits[j]
		if a.DocumentID != b.DocumentID {
			return a.DocumentID < b.DocumentID
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.Position < b.Position
	})
}
