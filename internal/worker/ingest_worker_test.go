package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"docresearch/internal/model"
	"docresearch/internal/pkg/apperr"
)

type fakeIngester struct {
	doc *model.Document
	err error
	ids []string
}

func (f *fakeIngester) Ingest(_ context.Context, id string) (*model.Document, error) {
	f.ids = append(f.ids, id)
	return f.doc, f.err
}

func newTestWorker(ing Ingester) *IngestWorker {
	return NewIngestWorker(nil, ing, "ingest", 2, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHandle(t *testing.T) {
	body := []byte(`{"document_id":"doc-1","requested_at":"2026-01-02T03:04:05Z"}`)
	errored := &model.Document{ID: "doc-1", Status: model.StatusError}

	tests := []struct {
		name        string
		ingester    *fakeIngester
		body        []byte
		redelivered bool
		want        outcome
	}{
		{"processed", &fakeIngester{doc: &model.Document{ID: "doc-1"}}, body, false, ack},
		{"pipeline error recorded", &fakeIngester{doc: errored, err: apperr.ErrNoExtractableText}, body, false, ack},
		{"document deleted", &fakeIngester{err: apperr.ErrNotFound}, body, false, ack},
		{"store unavailable", &fakeIngester{err: errors.New("mysql down")}, body, false, requeue},
		{"store unavailable again", &fakeIngester{err: errors.New("mysql down")}, body, true, drop},
		{"bad payload", &fakeIngester{}, []byte(`{`), false, drop},
		{"missing id", &fakeIngester{}, []byte(`{}`), false, drop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newTestWorker(tt.ingester)
			assert.Equal(t, tt.want, w.handle(context.Background(), tt.body, tt.redelivered))
		})
	}
}

func TestHandle_ShutdownRequeues(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ing := &fakeIngester{err: context.Canceled}
	body := []byte(`{"document_id":"doc-1"}`)

	w := newTestWorker(ing)
	assert.Equal(t, requeue, w.handle(ctx, body, false))
	assert.Equal(t, requeue, w.handle(ctx, body, true))
}

func TestHandle_PassesDocumentID(t *testing.T) {
	ing := &fakeIngester{doc: &model.Document{}}
	newTestWorker(ing).handle(context.Background(), []byte(`{"document_id":"abc"}`), false)
	assert.Equal(t, []string{"abc"}, ing.ids)
}
