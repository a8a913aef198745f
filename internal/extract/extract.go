// Package extract turns uploaded files into normalized plain text.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"code.sajari.com/docconv/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/gabriel-vasile/mimetype"

	"docresearch/internal/ocr"
	"docresearch/internal/pkg/apperr"
	"docresearch/internal/pkg/pdfextract"
)

const (
	MimePDF  = "application/pdf"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeDOC  = "application/msword"
	MimeODT  = "application/vnd.oasis.opendocument.text"
	MimeRTF  = "application/rtf"
	MimeHTML = "text/html"
	MimeText = "text/plain"
)

var extensionTypes = map[string]string{
	".pdf":  MimePDF,
	".docx": MimeDOCX,
	".doc":  MimeDOC,
	".odt":  MimeODT,
	".rtf":  MimeRTF,
	".html": MimeHTML,
	".htm":  MimeHTML,
	".txt":  MimeText,
	".md":   "text/markdown",
	".csv":  "text/csv",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".webp": "image/webp",
	".bmp":  "image/bmp",
}

// Result is the outcome of a successful extraction.
type Result struct {
	Text      string
	PageCount int
	FileType  string
	OCR       bool
}

type Extractor struct {
	ocr        ocr.Engine
	ocrEnabled bool
	logger     *slog.Logger
}

func NewExtractor(engine ocr.Engine, ocrEnabled bool, logger *slog.Logger) *Extractor {
	if engine == nil {
		engine = ocr.Disabled{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{ocr: engine, ocrEnabled: ocrEnabled, logger: logger}
}

// DetectType resolves the MIME type of an upload: an explicit declared type wins,
// then the file extension, then content sniffing.
func DetectType(filename, declared string, data []byte) string {
	if t := baseType(declared); t != "" && t != "application/octet-stream" {
		return t
	}
	if t, ok := extensionTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return t
	}
	return baseType(mimetype.Detect(data).String())
}

func baseType(t string) string {
	t, _, _ = strings.Cut(t, ";")
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "text/rtf" {
		return MimeRTF
	}
	return t
}

// Supported reports whether fileType can be extracted at all.
func Supported(fileType string) bool {
	switch t := baseType(fileType); {
	case t == MimePDF, t == MimeDOCX, t == MimeDOC, t == MimeODT, t == MimeRTF, t == MimeHTML:
		return true
	case strings.HasPrefix(t, "text/"), strings.HasPrefix(t, "image/"):
		return true
	}
	return false
}

// Extract converts data of the given type to text. Failures wrap
// apperr.ErrUnsupportedFormat, apperr.ErrNoExtractableText or apperr.ErrExtractionFailure.
func (e *Extractor) Extract(ctx context.Context, data []byte, fileType string) (Result, error) {
	t := baseType(fileType)
	res := Result{FileType: t, PageCount: 1}

	var err error
	switch {
	case t == MimePDF:
		res, err = e.extractPDF(ctx, data)
		res.FileType = t
	case t == MimeDOCX, t == MimeDOC, t == MimeODT, t == MimeRTF:
		res.Text, err = convert(data, t)
	case t == MimeHTML:
		res.Text, err = extractHTML(data)
	case strings.HasPrefix(t, "text/"):
		res.Text = string(data)
	case strings.HasPrefix(t, "image/"):
		res.OCR = true
		res.Text, err = e.recognize(ctx, data)
	default:
		return Result{}, fmt.Errorf("%w: %s", apperr.ErrUnsupportedFormat, fileType)
	}
	if err != nil {
		e.logger.Warn("extraction failed", slog.String("file_type", t), slog.String("error", err.Error()))
		if errors.Is(err, apperr.ErrNoExtractableText) || errors.Is(err, apperr.ErrExtractionFailure) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("%w: %v", apperr.ErrExtractionFailure, err)
	}

	res.Text = normalize(res.Text)
	if res.Text == "" {
		return Result{}, apperr.ErrNoExtractableText
	}
	e.logger.Debug("extracted text",
		slog.String("file_type", t),
		slog.Int("pages", res.PageCount),
		slog.Int("text_length", len(res.Text)),
		slog.Bool("ocr", res.OCR))
	return res, nil
}

// extractPDF reads the text layer and falls back to OCR over embedded page scans
// when there is none.
func (e *Extractor) extractPDF(ctx context.Context, data []byte) (Result, error) {
	layer, layerErr := pdfextract.ExtractText(bytes.NewReader(data))
	if layerErr == nil && strings.TrimSpace(layer.Text) != "" {
		return Result{Text: layer.Text, PageCount: layer.PageCount}, nil
	}

	images := pdfextract.EmbeddedJPEGs(data)
	if len(images) == 0 {
		if layerErr != nil {
			return Result{}, fmt.Errorf("%w: %v", apperr.ErrExtractionFailure, layerErr)
		}
		return Result{}, apperr.ErrNoExtractableText
	}
	e.logger.Info("pdf has no text layer, running ocr", slog.Int("images", len(images)))

	var sb strings.Builder
	for i, img := range images {
		text, err := e.recognize(ctx, img)
		if errors.Is(err, apperr.ErrNoExtractableText) {
			continue
		}
		if err != nil {
			return Result{}, err
		}
		fmt.Fprintf(&sb, pdfextract.PageMarker, i+1)
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}
	pages := layer.PageCount
	if pages < len(images) {
		pages = len(images)
	}
	return Result{Text: sb.String(), PageCount: pages, OCR: true}, nil
}

func (e *Extractor) recognize(ctx context.Context, image []byte) (string, error) {
	if !e.ocrEnabled {
		return "", fmt.Errorf("%w: ocr is disabled", apperr.ErrExtractionFailure)
	}
	text, err := e.ocr.ExtractText(ctx, image)
	if err != nil {
		return "", fmt.Errorf("%w: ocr: %v", apperr.ErrExtractionFailure, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", apperr.ErrNoExtractableText
	}
	return text, nil
}

func convert(data []byte, mimeType string) (string, error) {
	resp, err := docconv.Convert(bytes.NewReader(data), mimeType, false)
	if err != nil {
		return "", fmt.Errorf("convert %s: %w", mimeType, err)
	}
	return resp.Body, nil
}

func extractHTML(data []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript, template").Remove()

	var parts []string
	doc.Find("title, h1, h2, h3, h4, h5, h6, p, li, td, th, pre, blockquote").Each(func(_ int, s *goquery.Selection) {
		if s.Find("p, li, pre, blockquote").Length() > 0 {
			return
		}
		if text := strings.TrimSpace(s.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	if len(parts) == 0 {
		return doc.Find("body").Text(), nil
	}
	return strings.Join(parts, "\n\n"), nil
}

// normalize fixes encoding and line endings and drops trailing spaces and runs of
// blank lines.
func normalize(text string) string {
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "")
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\x00", "")

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" {
			blank++
			if blank > 1 {
				continue
			}
			line = ""
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
