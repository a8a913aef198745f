package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"docresearch/internal/model"
	"docresearch/internal/pkg/apperr"
)

// IngestService runs the ingestion pipeline: extract, chunk, index, persist.
type IngestService struct {
	docs      DocumentStore
	chunks    ChunkStore
	extractor Extractor
	chunker   Chunker
	indexer   Indexer
	logger    *slog.Logger
	readFile  func(string) ([]byte, error)
}

func NewIngestService(
	docs DocumentStore,
	chunks ChunkStore,
	extractor Extractor,
	chunker Chunker,
	indexer Indexer,
	logger *slog.Logger,
) *IngestService {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestService{
		docs:      docs,
		chunks:    chunks,
		extractor: extractor,
		chunker:   chunker,
		indexer:   indexer,
		logger:    logger,
		readFile:  os.ReadFile,
	}
}

// Ingest loads the stored upload of documentID and processes it.
func (s *IngestService) Ingest(ctx context.Context, documentID string) (*model.Document, error) {
	doc, err := s.docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: document %s", apperr.ErrNotFound, documentID)
	}
	data, err := s.readFile(doc.StoragePath)
	if err != nil {
		return s.fail(ctx, doc, fmt.Errorf("%w: read upload: %v", apperr.ErrExtractionFailure, err))
	}
	return s.Process(ctx, doc, data)
}

// Process moves doc through PROCESSING to PROCESSED or ERROR. The document is
// indexed before it is marked PROCESSED. On failure the returned document
// carries the ERROR state alongside the error.
func (s *IngestService) Process(ctx context.Context, doc *model.Document, data []byte) (*model.Document, error) {
	log := s.logger.With(slog.String("document_id", doc.ID))
	started := time.Now()

	doc.Status = model.StatusProcessing
	doc.Error = nil
	doc.ErrorKind = ""
	if err := s.update(ctx, doc); err != nil {
		return nil, err
	}
	log.Info("ingestion started", slog.String("file_type", doc.FileType), slog.Int64("size", doc.Size))

	res, err := s.extractor.Extract(ctx, data, doc.FileType)
	if err != nil {
		log.Warn("ingestion failed", slog.String("stage", "extract"), slog.String("error", err.Error()))
		return s.fail(ctx, doc, err)
	}

	chunks := s.chunker.Split(doc.ID, res.Text)
	if len(chunks) == 0 {
		log.Warn("ingestion failed", slog.String("stage", "chunk"))
		return s.fail(ctx, doc, apperr.ErrNoExtractableText)
	}

	indexed, err := s.indexer.Index(ctx, doc.ID, chunks)
	if err != nil {
		log.Warn("ingestion failed", slog.String("stage", "index"), slog.String("error", err.Error()))
		return s.fail(ctx, doc, err)
	}
	if err := s.chunks.ReplaceForDocument(ctx, doc.ID, indexed); err != nil {
		log.Warn("ingestion failed", slog.String("stage", "persist"), slog.String("error", err.Error()))
		return s.fail(ctx, doc, err)
	}

	text := res.Text
	doc.Text = &text
	doc.PageCount = res.PageCount
	doc.Status = model.StatusProcessed
	if err := s.update(ctx, doc); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			s.cleanup(context.WithoutCancel(ctx), doc.ID)
			return nil, err
		}
		return s.fail(ctx, doc, err)
	}
	log.Info("ingestion finished",
		slog.Int("chunks", len(indexed)),
		slog.Int("pages", res.PageCount),
		slog.Bool("ocr", res.OCR),
		slog.Duration("elapsed", time.Since(started)))
	return doc, nil
}

// fail records the terminal ERROR state and drops anything indexed for doc.
// A run cut short by cancellation is not a failure of the document: it goes
// back to UPLOADED and no document is returned, so the job can be redelivered.
func (s *IngestService) fail(ctx context.Context, doc *model.Document, cause error) (*model.Document, error) {
	interrupted := ctx.Err()
	ctx = context.WithoutCancel(ctx)
	s.cleanup(ctx, doc.ID)

	if interrupted != nil {
		doc.Status = model.StatusUploaded
		doc.Text = nil
		if _, err := s.docs.Update(ctx, doc); err != nil {
			s.logger.Warn("reset interrupted document failed", slog.String("document_id", doc.ID), slog.String("error", err.Error()))
		}
		s.logger.Warn("ingestion interrupted", slog.String("document_id", doc.ID), slog.String("error", cause.Error()))
		return nil, fmt.Errorf("ingestion of %s interrupted: %w", doc.ID, errors.Join(interrupted, cause))
	}

	doc.MarkError(apperr.KindOf(cause), errorCause(cause))
	doc.Text = nil
	if err := s.update(ctx, doc); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
		return doc, errors.Join(cause, err)
	}
	return doc, cause
}

// update writes doc only while its row exists, so a concurrent delete is never undone.
func (s *IngestService) update(ctx context.Context, doc *model.Document) error {
	ok, err := s.docs.Update(ctx, doc)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: document %s deleted during ingestion", apperr.ErrNotFound, doc.ID)
	}
	return nil
}

func (s *IngestService) cleanup(ctx context.Context, documentID string) {
	if err := s.indexer.Remove(ctx, documentID); err != nil {
		s.logger.Warn("remove from index failed", slog.String("document_id", documentID), slog.String("error", err.Error()))
	}
	if err := s.chunks.DeleteByDocumentID(ctx, documentID); err != nil {
		s.logger.Warn("delete chunks failed", slog.String("document_id", documentID), slog.String("error", err.Error()))
	}
}

func errorCause(err error) string {
	if errors.Is(err, apperr.ErrNoExtractableText) {
		return apperr.ErrNoExtractableText.Error()
	}
	return err.Error()
}
