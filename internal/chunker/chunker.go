// Package chunker splits extracted document text into overlapping, deterministic chunks.
package chunker

import (
	"fmt"
	"strings"
	"unicode"

	"docresearch/internal/model"
	"docresearch/internal/pkg/pdfextract"
)

// DefaultChunkSize is the default number of characters per chunk.
const DefaultChunkSize = 1000

// DefaultChunkOverlap is the default number of overlapping characters.
const DefaultChunkOverlap = 200

// separators are tried in order; earlier entries are stronger boundaries.
var separators = []string{"\n\n", "\n", ". ", "! ", "? ", "; ", ", ", " "}

// Chunker splits text into fixed-size windows that end on the strongest
// nearby boundary. Output depends only on the input text and settings.
type Chunker struct {
	chunkSize int
	overlap   int
}

// Option configures the chunker.
type Option func(*Chunker)

// WithChunkSize sets the target chunk size in characters.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between consecutive chunks in characters.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

func New(opts ...Option) *Chunker {
	c := &Chunker{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.chunkSize {
		c.overlap = c.chunkSize / 4
	}
	return c
}

func (c *Chunker) ChunkSize() int { return c.chunkSize }
func (c *Chunker) Overlap() int   { return c.overlap }

// Split cuts text into chunks for documentID. Chunk IDs are "<documentID>_<position>"
// and spans are rune offsets into text. Whitespace-only text yields no chunks.
func (c *Chunker) Split(documentID, text string) []model.Chunk {
	runes := []rune(text)
	n := len(runes)
	if strings.TrimSpace(text) == "" {
		return nil
	}
	markers := pdfextract.Markers(text)

	var chunks []model.Chunk
	start := 0
	for start < n {
		end := start + c.chunkSize
		if end >= n {
			end = n
		} else {
			end = c.boundary(runes, start, end)
		}

		lo, hi := trim(runes, start, end)
		if lo < hi {
			pos := len(chunks)
			ch := model.Chunk{
				ID:         fmt.Sprintf("%s_%d", documentID, pos),
				DocumentID: documentID,
				Position:   pos,
				Content:    string(runes[lo:hi]),
				Start:      lo,
				End:        hi,
			}
			if page, ok := pdfextract.PageAt(markers, lo, hi); ok {
				p := page
				ch.Page = &p
			}
			chunks = append(chunks, ch)
		}

		if end >= n {
			break
		}
		next := end - c.overlap
		if next <= start {
			next = end
		}
		start = c.alignStart(runes, next, end)
	}
	return chunks
}

// boundary picks the cut point in (start, end]: the end of the strongest separator
// found in the back half of the window, falling back to the hard limit.
func (c *Chunker) boundary(runes []rune, start, end int) int {
	floor := start + c.chunkSize/2
	for _, sep := range separators {
		sr := []rune(sep)
		for i := end - len(sr); i >= floor; i-- {
			if hasPrefixAt(runes, i, sr) {
				return i + len(sr)
			}
		}
	}
	return end
}

// alignStart moves an overlap start forward to the next word start so chunks do
// not begin mid-word, without passing limit.
func (c *Chunker) alignStart(runes []rune, pos, limit int) int {
	if pos == 0 || unicode.IsSpace(runes[pos-1]) {
		return pos
	}
	for i := pos; i < limit; i++ {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}
	return pos
}

func hasPrefixAt(runes []rune, i int, prefix []rune) bool {
	if i < 0 || i+len(prefix) > len(runes) {
		return false
	}
	for j, r := range prefix {
		if runes[i+j] != r {
			return false
		}
	}
	return true
}

func trim(runes []rune, lo, hi int) (int, int) {
	for lo < hi && unicode.IsSpace(runes[lo]) {
		lo++
	}
	for hi > lo && unicode.IsSpace(runes[hi-1]) {
		hi--
	}
	return lo, hi
}
