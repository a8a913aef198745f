package app

import (
	"context"

	"docresearch/internal/extract"
	"docresearch/internal/index"
	"docresearch/internal/model"
	"docresearch/internal/theme"
)

type DocumentStore interface {
	Create(ctx context.Context, doc *model.Document) error
	// Update writes every field of doc and reports false when its row no longer exists.
	Update(ctx context.Context, doc *model.Document) (bool, error)
	GetByID(ctx context.Context, id string) (*model.Document, error)
	GetByIDs(ctx context.Context, ids []string) ([]model.Document, error)
	List(ctx context.Context, status model.DocumentStatus) ([]model.Document, error)
	ListIDsByStatus(ctx context.Context, status model.DocumentStatus) ([]string, error)
	DeleteByID(ctx context.Context, id string) error
}

type ChunkStore interface {
	ReplaceForDocument(ctx context.Context, documentID string, chunks []model.Chunk) error
	ListByDocumentID(ctx context.Context, documentID string) ([]model.Chunk, error)
	DeleteByDocumentID(ctx context.Context, documentID string) error
}

type ThemeStore interface {
	ReplaceScope(ctx context.Context, scopeHash string, themes []model.Theme) error
	// Update rewrites a theme and its supporting documents; false when it no longer exists.
	Update(ctx context.Context, theme *model.Theme) (bool, error)
	List(ctx context.Context) ([]model.Theme, error)
	GetByID(ctx context.Context, id string) (*model.Theme, error)
	DeleteByID(ctx context.Context, id string) error
	RemoveDocument(ctx context.Context, documentID string) ([]string, error)
}

type Extractor interface {
	Extract(ctx context.Context, data []byte, fileType string) (extract.Result, error)
}

type Chunker interface {
	Split(documentID, text string) []model.Chunk
}

// Indexer is the write side of the retrieval index.
type Indexer interface {
	Index(ctx context.Context, documentID string, chunks []model.Chunk) ([]model.Chunk, error)
	Remove(ctx context.Context, documentID string) error
}

// Retriever is the read side of the retrieval index.
type Retriever interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Search(ctx context.Context, query string, documentIDs []string, k int) ([]index.Hit, error)
	SearchVector(ctx context.Context, vector []float32, documentIDs []string, k int) ([]index.Hit, error)
}

type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error)
}

type ThemeAnalyzer interface {
	Analyze(ctx context.Context, documentIDs []string, filter theme.Filter) ([]model.Theme, error)
}

type IngestPublisher interface {
	PublishIngest(ctx context.Context, job model.IngestJob) error
}
