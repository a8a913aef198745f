package pdfextract

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// PageMarker prefixes each page's text in the extracted output, e.g. "Page 3:\n".
const PageMarker = "Page %d:\n"

var markerRe = regexp.MustCompile(`(?m)^Page (\d+):$`)

// Result is the text layer of a PDF.
type Result struct {
	Text      string
	PageCount int
}

// ExtractText reads the entire content of r and extracts plain text page by page.
// Every page with text is emitted as "Page N:\n<text>\n\n".
// Returns empty Text and nil error if the PDF has no extractable text.
func ExtractText(r io.Reader) (res Result, err error) {
	// the parser panics on some malformed files
	defer func() {
		if p := recover(); p != nil {
			res, err = Result{}, fmt.Errorf("parse pdf failed: %v", p)
		}
	}()

	b, err := io.ReadAll(r)
	if err != nil {
		return Result{}, err
	}
	if len(b) == 0 {
		return Result{}, nil
	}
	pdfReader, err := pdf.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return Result{}, fmt.Errorf("open pdf failed: %w", err)
	}

	res = Result{PageCount: pdfReader.NumPage()}
	var sb strings.Builder
	for i := 1; i <= res.PageCount; i++ {
		page := pdfReader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return Result{}, fmt.Errorf("read pdf page %d failed: %w", i, err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&sb, PageMarker, i)
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}
	res.Text = strings.TrimRight(sb.String(), "\n")
	return res, nil
}

// Marker is a "Page N:" line located at rune offset Offset of the extracted text.
type Marker struct {
	Offset int
	Page   int
}

// Markers lists the page markers of text in order of appearance.
func Markers(text string) []Marker {
	locs := markerRe.FindAllStringSubmatchIndex(text, -1)
	out := make([]Marker, 0, len(locs))
	for _, loc := range locs {
		n, err := strconv.Atoi(text[loc[2]:loc[3]])
		if err != nil {
			continue
		}
		out = append(out, Marker{Offset: utf8.RuneCountInString(text[:loc[0]]), Page: n})
	}
	return out
}

// PageAt returns the page number covering the rune span [start, end): the last
// marker at or before start, else the first marker inside the span.
// ok is false when neither exists.
func PageAt(markers []Marker, start, end int) (page int, ok bool) {
	for i := len(markers) - 1; i >= 0; i-- {
		if markers[i].Offset <= start {
			return markers[i].Page, true
		}
	}
	for _, m := range markers {
		if m.Offset < end {
			return m.Page, true
		}
	}
	return 0, false
}

// Pages splits marked-up text back into per-page bodies keyed by page number.
func Pages(text string) map[int]string {
	locs := markerRe.FindAllStringSubmatchIndex(text, -1)
	out := make(map[int]string, len(locs))
	for i, loc := range locs {
		n, err := strconv.Atoi(text[loc[2]:loc[3]])
		if err != nil {
			continue
		}
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		out[n] = strings.TrimSpace(text[loc[1]:end])
	}
	return out
}

var (
	streamOpen  = []byte("stream")
	streamClose = []byte("endstream")
	jpegSOI     = []byte{0xFF, 0xD8, 0xFF}
)

// EmbeddedJPEGs returns the raw DCT-encoded image streams of a PDF in file order.
// Scanned documents usually carry one such image per page.
func EmbeddedJPEGs(data []byte) [][]byte {
	var out [][]byte
	rest := data
	for {
		i := bytes.Index(rest, streamOpen)
		if i < 0 {
			return out
		}
		body := rest[i+len(streamOpen):]
		body = bytes.TrimPrefix(body, []byte("\r"))
		body = bytes.TrimPrefix(body, []byte("\n"))
		end := bytes.Index(body, streamClose)
		if end < 0 {
			return out
		}
		if bytes.HasPrefix(body, jpegSOI) {
			out = append(out, bytes.TrimRight(body[:end], "\r\n"))
		}
		rest = body[end+len(streamClose):]
	}
}
