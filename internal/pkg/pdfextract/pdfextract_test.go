package pdfextract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageAt(t *testing.T) {
	text := "Page 1:\nalpha beta\n\nPage 2:\ngamma delta"
	markers := Markers(text)
	assert.Equal(t, []Marker{{Offset: 0, Page: 1}, {Offset: strings.Index(text, "Page 2"), Page: 2}}, markers)

	p, ok := PageAt(markers, 0, 5)
	assert.True(t, ok)
	assert.Equal(t, 1, p)

	p, ok = PageAt(markers, strings.Index(text, "gamma"), len(text))
	assert.True(t, ok)
	assert.Equal(t, 2, p)
}

func TestPageAt_MarkerInsideSpan(t *testing.T) {
	text := "preface\nPage 4:\nbody"
	p, ok := PageAt(Markers(text), 0, len(text))
	assert.True(t, ok)
	assert.Equal(t, 4, p)
}

func TestPageAt_NoMarkers(t *testing.T) {
	_, ok := PageAt(Markers("plain text without pages"), 0, 10)
	assert.False(t, ok)
}

func TestPages(t *testing.T) {
	text := "Page 1:\nalpha\n\nPage 3:\ngamma"
	pages := Pages(text)
	assert.Equal(t, map[int]string{1: "alpha", 3: "gamma"}, pages)
}

func TestExtractText_Empty(t *testing.T) {
	res, err := ExtractText(strings.NewReader(""))
	assert.NoError(t, err)
	assert.Empty(t, res.Text)
}

func TestExtractText_NotPDF(t *testing.T) {
	_, err := ExtractText(strings.NewReader("definitely not a pdf"))
	assert.Error(t, err)
}

func TestEmbeddedJPEGs(t *testing.T) {
	jpg := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x01, 0x02, 0xFF, 0xD9}
	var raw []byte
	raw = append(raw, []byte("%PDF-1.4\n1 0 obj\n<< /Length 3 >>\nstream\nabc\nendstream\nendobj\n")...)
	raw = append(raw, []byte("2 0 obj\n<< /Filter /DCTDecode >>\nstream\n")...)
	raw = append(raw, jpg...)
	raw = append(raw, []byte("\nendstream\nendobj\n%%EOF")...)

	images := EmbeddedJPEGs(raw)
	assert.Equal(t, [][]byte{jpg}, images)
}
