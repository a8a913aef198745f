package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"docresearch/internal/extract"
	"docresearch/internal/model"
	"docresearch/internal/pkg/apperr"
	"docresearch/internal/pkg/pdfextract"
)

type UploadInput struct {
	Filename    string
	ContentType string
	Data        []byte
	Metadata    DocumentMetadata
}

// DocumentMetadata is descriptive information supplied with an upload.
// Name defaults to the filename without its extension.
type DocumentMetadata struct {
	Name         string
	DocumentType string
	Author       string
	Date         string // YYYY-MM-DD
}

func (m DocumentMetadata) normalize(filename string) (DocumentMetadata, error) {
	m.Name = strings.TrimSpace(m.Name)
	m.DocumentType = strings.TrimSpace(m.DocumentType)
	m.Author = strings.TrimSpace(m.Author)
	m.Date = strings.TrimSpace(m.Date)
	if m.Name == "" {
		m.Name = strings.TrimSuffix(filename, filepath.Ext(filename))
	}
	switch {
	case utf8.RuneCountInString(m.Name) > 256:
		return m, fmt.Errorf("%w: document_name exceeds 256 characters", apperr.ErrInvalidRequest)
	case utf8.RuneCountInString(m.DocumentType) > 64:
		return m, fmt.Errorf("%w: document_type exceeds 64 characters", apperr.ErrInvalidRequest)
	case utf8.RuneCountInString(m.Author) > 128:
		return m, fmt.Errorf("%w: author exceeds 128 characters", apperr.ErrInvalidRequest)
	}
	if m.Date != "" {
		if _, err := time.Parse(time.DateOnly, m.Date); err != nil {
			return m, fmt.Errorf("%w: date must be YYYY-MM-DD", apperr.ErrInvalidRequest)
		}
	}
	return m, nil
}

// UploadResult is the outcome for one file of a batch upload.
type UploadResult struct {
	Filename  string          `json:"filename"`
	Document  *model.Document `json:"document,omitempty"`
	ErrorKind string          `json:"error_kind,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// DocumentService owns the document lifecycle around the ingestion pipeline.
type DocumentService struct {
	docs      DocumentStore
	chunks    ChunkStore
	themes    ThemeStore
	indexer   Indexer
	ingest    *IngestService
	publisher IngestPublisher
	uploadDir string
	maxBytes  int64
	logger    *slog.Logger
}

// NewDocumentService builds the service. A nil publisher makes ingestion synchronous.
func NewDocumentService(
	docs DocumentStore,
	chunks ChunkStore,
	themes ThemeStore,
	indexer Indexer,
	ingest *IngestService,
	publisher IngestPublisher,
	uploadDir string,
	maxBytes int64,
	logger *slog.Logger,
) *DocumentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentService{
		docs:      docs,
		chunks:    chunks,
		themes:    themes,
		indexer:   indexer,
		ingest:    ingest,
		publisher: publisher,
		uploadDir: uploadDir,
		maxBytes:  maxBytes,
		logger:    logger,
	}
}

// Upload stores the file, records the document as UPLOADED and schedules ingestion.
func (s *DocumentService) Upload(ctx context.Context, in UploadInput) (*model.Document, error) {
	filename := filepath.Base(strings.TrimSpace(in.Filename))
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		return nil, fmt.Errorf("%w: filename is required", apperr.ErrInvalidRequest)
	}
	if len(in.Data) == 0 {
		return nil, fmt.Errorf("%w: file is empty", apperr.ErrInvalidRequest)
	}
	if s.maxBytes > 0 && int64(len(in.Data)) > s.maxBytes {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", apperr.ErrInvalidRequest, s.maxBytes)
	}
	fileType := extract.DetectType(filename, in.ContentType, in.Data)
	if !extract.Supported(fileType) {
		return nil, fmt.Errorf("%w: %s", apperr.ErrUnsupportedFormat, fileType)
	}
	meta, err := in.Metadata.normalize(filename)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir failed: %w", err)
	}
	path := filepath.Join(s.uploadDir, id+filepath.Ext(filename))
	if err := os.WriteFile(path, in.Data, 0o644); err != nil {
		return nil, fmt.Errorf("write upload failed: %w", err)
	}

	doc := &model.Document{
		ID:           id,
		Filename:     filename,
		Name:         meta.Name,
		DocumentType: meta.DocumentType,
		Author:       meta.Author,
		Date:         meta.Date,
		FileType:     fileType,
		Size:         int64(len(in.Data)),
		Status:       model.StatusUploaded,
		StoragePath:  path,
		UploadedAt:   time.Now().UTC(),
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	s.logger.Info("document uploaded",
		slog.String("document_id", doc.ID),
		slog.String("filename", filename),
		slog.String("file_type", fileType))
	return s.dispatch(ctx, doc)
}

// UploadMany uploads each file independently. A rejected file is reported in
// its result and does not stop the others.
func (s *DocumentService) UploadMany(ctx context.Context, inputs []UploadInput) ([]UploadResult, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: no files", apperr.ErrInvalidRequest)
	}
	results := make([]UploadResult, len(inputs))
	for i, in := range inputs {
		results[i].Filename = in.Filename
		doc, err := s.Upload(ctx, in)
		if err != nil {
			s.logger.Warn("batch upload file rejected",
				slog.String("filename", in.Filename),
				slog.String("error", err.Error()))
			results[i].ErrorKind = apperr.KindOf(err)
			results[i].Error = err.Error()
			continue
		}
		results[i].Document = doc
	}
	return results, nil
}

// dispatch hands the document to the worker, or runs the pipeline inline when
// no queue is configured or publishing fails.
func (s *DocumentService) dispatch(ctx context.Context, doc *model.Document) (*model.Document, error) {
	if s.publisher != nil {
		err := s.publisher.PublishIngest(ctx, model.IngestJob{DocumentID: doc.ID, RequestedAt: time.Now().UTC()})
		if err == nil {
			return doc, nil
		}
		s.logger.Warn("publish ingest job failed, ingesting inline",
			slog.String("document_id", doc.ID),
			slog.String("error", err.Error()))
	}
	processed, err := s.ingest.Ingest(context.WithoutCancel(ctx), doc.ID)
	if processed != nil {
		return processed, nil
	}
	return nil, err
}

func (s *DocumentService) List(ctx context.Context, status string) ([]model.Document, error) {
	st := model.DocumentStatus(strings.ToUpper(strings.TrimSpace(status)))
	switch st {
	case "", model.StatusUploaded, model.StatusProcessing, model.StatusProcessed, model.StatusError:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", apperr.ErrInvalidRequest, status)
	}
	return s.docs.List(ctx, st)
}

func (s *DocumentService) Get(ctx context.Context, id string) (*model.Document, error) {
	doc, err := s.docs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: document %s", apperr.ErrNotFound, id)
	}
	return doc, nil
}

// GetMany returns the existing documents among ids in request order. Unknown
// ids are skipped.
func (s *DocumentService) GetMany(ctx context.Context, ids []string) ([]model.Document, error) {
	ids = uniqueInOrder(ids)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: document_ids is required", apperr.ErrInvalidRequest)
	}
	found, err := s.docs.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.Document, len(found))
	for _, d := range found {
		byID[d.ID] = d
	}
	out := make([]model.Document, 0, len(found))
	for _, id := range ids {
		if d, ok := byID[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// Content returns the extracted text, or a single page of it when page > 0.
func (s *DocumentService) Content(ctx context.Context, id string, page int) (string, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if !doc.IsProcessed() || doc.Text == nil {
		return "", fmt.Errorf("%w: document %s is %s", apperr.ErrDocumentNotReady, id, doc.Status)
	}
	if page <= 0 {
		return *doc.Text, nil
	}
	text, ok := pdfextract.Pages(*doc.Text)[page]
	if !ok {
		return "", fmt.Errorf("%w: page %d of document %s", apperr.ErrNotFound, page, id)
	}
	return text, nil
}

func (s *DocumentService) Chunks(ctx context.Context, id string) ([]model.Chunk, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.chunks.ListByDocumentID(ctx, id)
}

// Reingest starts a fresh pipeline run for a stored document.
func (s *DocumentService) Reingest(ctx context.Context, id string) (*model.Document, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Status == model.StatusProcessing {
		return nil, fmt.Errorf("%w: document %s is being processed", apperr.ErrInvalidRequest, id)
	}
	doc.Status = model.StatusUploaded
	doc.Error = nil
	doc.ErrorKind = ""
	ok, err := s.docs.Update(ctx, doc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: document %s", apperr.ErrNotFound, id)
	}
	return s.dispatch(ctx, doc)
}

// Delete removes the document from the index, its chunks, every theme that
// cites it and finally the stored file.
func (s *DocumentService) Delete(ctx context.Context, id string) error {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.indexer.Remove(ctx, id); err != nil {
		return err
	}
	if err := s.chunks.DeleteByDocumentID(ctx, id); err != nil {
		return err
	}
	removed, err := s.themes.RemoveDocument(ctx, id)
	if err != nil {
		return err
	}
	if err := s.docs.DeleteByID(ctx, id); err != nil {
		return err
	}
	if doc.StoragePath != "" {
		if err := os.Remove(doc.StoragePath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("remove upload failed", slog.String("document_id", id), slog.String("error", err.Error()))
		}
	}
	s.logger.Info("document deleted", slog.String("document_id", id), slog.Int("themes_removed", len(removed)))
	return nil
}
