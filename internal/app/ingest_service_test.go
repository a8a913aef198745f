package app

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docresearch/internal/chunker"
	"docresearch/internal/extract"
	"docresearch/internal/index"
	"docresearch/internal/model"
	"docresearch/internal/pkg/apperr"
)

type stubExtractor struct {
	res extract.Result
	err error
}

func (e *stubExtractor) Extract(context.Context, []byte, string) (extract.Result, error) {
	return e.res, e.err
}

type ingestFixture struct {
	docs    *memDocuments
	chunks  *memChunks
	index   *index.Index
	service *IngestService
}

func newIngestFixture(ex Extractor, idx *index.Index) *ingestFixture {
	f := &ingestFixture{
		docs:   newMemDocuments(),
		chunks: newMemChunks(),
		index:  idx,
	}
	ch := chunker.New(chunker.WithChunkSize(80), chunker.WithOverlap(10))
	f.service = NewIngestService(f.docs, f.chunks, ex, ch, idx, quietLogger())
	return f
}

func (f *ingestFixture) upload(id, fileType string) *model.Document {
	doc := &model.Document{
		ID:          id,
		Filename:    id + ".bin",
		FileType:    fileType,
		Size:        1,
		Status:      model.StatusUploaded,
		StoragePath: "/uploads/" + id,
		UploadedAt:  time.Now(),
	}
	_ = f.docs.Create(context.Background(), doc)
	return doc
}

func twoPageText() string {
	page1 := strings.Repeat("Customers may ask for a refund within thirty days of purchase. ", 3)
	page2 := strings.Repeat("Orders ship within two business days by standard shipping. ", 3)
	return "Page 1:\n" + page1 + "\n\nPage 2:\n" + page2
}

func TestProcess_TwoPagePDF(t *testing.T) {
	ex := &stubExtractor{res: extract.Result{Text: twoPageText(), PageCount: 2, FileType: extract.MimePDF}}
	f := newIngestFixture(ex, newTestIndex("refund", "shipping"))
	doc := f.upload("doc-a", extract.MimePDF)

	got, err := f.service.Process(context.Background(), doc, []byte("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessed, got.Status)
	assert.Equal(t, 2, got.PageCount)
	require.NotNil(t, got.Text)
	assert.Nil(t, got.Error)
	assert.Equal(t, model.StatusProcessed, f.docs.get("doc-a").Status)

	stored, err := f.chunks.ListByDocumentID(context.Background(), "doc-a")
	require.NoError(t, err)
	require.NotEmpty(t, stored)
	pages := map[int]bool{}
	for _, c := range stored {
		assert.NotEmpty(t, c.EmbeddingVector(), "chunk %s has no embedding", c.ID)
		require.NotNil(t, c.Page)
		pages[*c.Page] = true
	}
	assert.True(t, pages[1])
	assert.True(t, pages[2])

	hits, err := f.index.Search(context.Background(), "shipping", []string{"doc-a"}, len(stored))
	require.NoError(t, err)
	assert.Len(t, hits, len(stored))
	assert.Contains(t, hits[0].Chunk.Content, "shipping")
}

func TestIngest_ScannedPDFWithEmptyOCR(t *testing.T) {
	ex := extract.NewExtractor(&fakeOCR{text: ""}, true, quietLogger())
	f := newIngestFixture(ex, newTestIndex("refund"))
	f.upload("scan", extract.MimePDF)

	var raw []byte
	raw = append(raw, []byte("%PDF-1.4\nstream\n")...)
	raw = append(raw, 0xFF, 0xD8, 0xFF, 0xD9)
	raw = append(raw, []byte("\nendstream\n")...)
	f.service.readFile = func(string) ([]byte, error) { return raw, nil }

	doc, err := f.service.Ingest(context.Background(), "scan")
	require.ErrorIs(t, err, apperr.ErrNoExtractableText)
	require.NotNil(t, doc)
	assert.Equal(t, model.StatusError, doc.Status)
	require.NotNil(t, doc.Error)
	assert.Equal(t, "no extractable text", *doc.Error)
	assert.Equal(t, apperr.KindExtraction, doc.ErrorKind)

	stored := f.docs.get("scan")
	assert.Equal(t, model.StatusError, stored.Status)
	indexed, err := f.index.Documents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, indexed)
}

func TestIngest_UnreadableUpload(t *testing.T) {
	f := newIngestFixture(&stubExtractor{}, newTestIndex("refund"))
	f.upload("gone", "text/plain")
	f.service.readFile = func(string) ([]byte, error) { return nil, fmt.Errorf("no such file") }

	doc, err := f.service.Ingest(context.Background(), "gone")
	require.ErrorIs(t, err, apperr.ErrExtractionFailure)
	assert.Equal(t, model.StatusError, doc.Status)
}

func TestIngest_UnknownDocument(t *testing.T) {
	f := newIngestFixture(&stubExtractor{}, newTestIndex("refund"))
	_, err := f.service.Ingest(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestProcess_ReingestReplacesChunks(t *testing.T) {
	ex := &stubExtractor{res: extract.Result{Text: "Refund requests are handled by the billing team.", PageCount: 1}}
	f := newIngestFixture(ex, newTestIndex("refund", "warranty"))
	doc := f.upload("doc-a", "text/plain")

	_, err := f.service.Process(context.Background(), doc, nil)
	require.NoError(t, err)

	ex.res.Text = "The warranty covers parts for one year."
	doc, err = f.service.Process(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessed, doc.Status)

	hits, err := f.index.Search(context.Background(), "refund", nil, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "The warranty covers parts for one year.", hits[0].Chunk.Content)

	stored, _ := f.chunks.ListByDocumentID(context.Background(), "doc-a")
	require.Len(t, stored, 1)
	assert.Equal(t, "doc-a_0", stored[0].ID)
}

func TestProcess_EmbeddingFailureMarksError(t *testing.T) {
	ex := &stubExtractor{res: extract.Result{Text: "some text", PageCount: 1}}
	idx := index.New(&wordEmbedder{err: fmt.Errorf("%w: 503", apperr.ErrEmbeddingService)}, index.NewMemoryStore())
	f := newIngestFixture(ex, idx)
	doc := f.upload("doc-a", "text/plain")

	got, err := f.service.Process(context.Background(), doc, nil)
	require.ErrorIs(t, err, apperr.ErrEmbeddingService)
	assert.Equal(t, model.StatusError, got.Status)
	assert.Equal(t, apperr.KindEmbedding, got.ErrorKind)
	assert.Nil(t, got.Text)
}

func TestProcess_PersistFailureRemovesIndexEntries(t *testing.T) {
	ex := &stubExtractor{res: extract.Result{Text: "refund text", PageCount: 1}}
	f := newIngestFixture(ex, newTestIndex("refund"))
	f.chunks.failPut = fmt.Errorf("insert chunks failed: deadlock")
	doc := f.upload("doc-a", "text/plain")

	got, err := f.service.Process(context.Background(), doc, nil)
	require.Error(t, err)
	assert.Equal(t, model.StatusError, got.Status)
	assert.Equal(t, apperr.KindInternal, got.ErrorKind)

	indexed, err := f.index.Documents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, indexed)
}

func TestProcess_ErrorClearedOnRetry(t *testing.T) {
	ex := &stubExtractor{err: apperr.ErrNoExtractableText}
	f := newIngestFixture(ex, newTestIndex("refund"))
	doc := f.upload("doc-a", "text/plain")

	doc, err := f.service.Process(context.Background(), doc, nil)
	require.Error(t, err)
	require.Equal(t, model.StatusError, doc.Status)

	ex.err = nil
	ex.res = extract.Result{Text: "refund text", PageCount: 1}
	doc, err = f.service.Process(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessed, doc.Status)
	assert.Nil(t, doc.Error)
	assert.Empty(t, doc.ErrorKind)
}

func TestProcess_DeletedBeforeFinalWrite(t *testing.T) {
	ex := &stubExtractor{res: extract.Result{Text: "refund text", PageCount: 1}}
	f := newIngestFixture(ex, newTestIndex("refund"))
	doc := f.upload("doc-a", "text/plain")
	f.docs.beforeUpdate = func(d *model.Document) {
		if d.Status == model.StatusProcessed {
			_ = f.docs.DeleteByID(context.Background(), d.ID)
		}
	}

	got, err := f.service.Process(context.Background(), doc, nil)
	require.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Nil(t, got)

	stored, err := f.docs.GetByID(context.Background(), "doc-a")
	require.NoError(t, err)
	assert.Nil(t, stored)
	indexed, err := f.index.Documents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, indexed)
	chunks, _ := f.chunks.ListByDocumentID(context.Background(), "doc-a")
	assert.Empty(t, chunks)
}

type cancellingExtractor struct {
	cancel context.CancelFunc
}

func (e *cancellingExtractor) Extract(ctx context.Context, _ []byte, _ string) (extract.Result, error) {
	e.cancel()
	return extract.Result{}, ctx.Err()
}

func TestProcess_CancelledRunStaysRetryable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newIngestFixture(&cancellingExtractor{cancel: cancel}, newTestIndex("refund"))
	doc := f.upload("doc-a", "text/plain")

	got, err := f.service.Process(ctx, doc, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, got)

	stored := f.docs.get("doc-a")
	assert.Equal(t, model.StatusUploaded, stored.Status)
	assert.Nil(t, stored.Error)
	assert.Empty(t, stored.ErrorKind)
}
