package index

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"docresearch/internal/model"
)

// PGVectorStore keeps chunk embeddings in a Postgres table with a pgvector column.
type PGVectorStore struct {
	pool *pgxpool.Pool
}

func NewPGVectorStore(pool *pgxpool.Pool) *PGVectorStore {
	return &PGVectorStore{pool: pool}
}

// EnsureSchema creates the extension, table and HNSW index when missing.
func (s *PGVectorStore) EnsureSchema(ctx context.Context, dimensions int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunk_embeddings (
			chunk_id     TEXT PRIMARY KEY,
			document_id  TEXT NOT NULL,
			position     INTEGER NOT NULL,
			content      TEXT NOT NULL,
			span_start   INTEGER NOT NULL,
			span_end     INTEGER NOT NULL,
			page         INTEGER,
			embedding    vector(%d) NOT NULL
		)`, dimensions),
		`CREATE INDEX IF NOT EXISTS chunk_embeddings_document_idx ON chunk_embeddings (document_id)`,
		`CREATE INDEX IF NOT EXISTS chunk_embeddings_embedding_idx ON chunk_embeddings USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure pgvector schema failed: %w", err)
		}
	}
	return nil
}

func (s *PGVectorStore) Replace(ctx context.Context, documentID string, entries []Entry) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM chunk_embeddings WHERE document_id = $1`, documentID); err != nil {
			return fmt.Errorf("delete chunk embeddings failed: %w", err)
		}
		if len(entries) == 0 {
			return nil
		}
		batch := &pgx.Batch{}
		for _, e := range entries {
			batch.Queue(`INSERT INTO chunk_embeddings
				(chunk_id, document_id, position, content, span_start, span_end, page, embedding)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				e.Chunk.ID, documentID, e.Chunk.Position, e.Chunk.Content,
				e.Chunk.Start, e.Chunk.End, e.Chunk.Page, pgvector.NewVector(e.Vector))
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert chunk embeddings failed: %w", err)
		}
		return nil
	})
}

func (s *PGVectorStore) Delete(ctx context.Context, documentID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM chunk_embeddings WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("delete chunk embeddings failed: %w", err)
	}
	return nil
}

func (s *PGVectorStore) Search(ctx context.Context, vector []float32, documentIDs []string, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	query := searchQuery(len(documentIDs) > 0, k)
	args := []any{pgvector.NewVector(vector)}
	if len(documentIDs) > 0 {
		args = append(args, documentIDs)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search chunk embeddings failed: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var c model.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Position, &c.Content, &c.Start, &c.End, &c.Page, &h.Score); err != nil {
			return nil, fmt.Errorf("scan chunk embedding failed: %w", err)
		}
		h.Chunk = c
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunk embeddings failed: %w", err)
	}
	sortHits(hits)
	return hits, nil
}

const searchColumns = `chunk_id, document_id, position, content, span_start, span_end, page,
		1 - (embedding <=> $1) AS score`

// searchQuery builds the top-k statement. A scoped search ranks every chunk of
// the selected documents exactly: the materialized CTE keeps the planner off the
// HNSW index, whose post-filtering can drop matches from a small scope.
func searchQuery(scoped bool, k int) string {
	if !scoped {
		return fmt.Sprintf(`SELECT %s
		FROM chunk_embeddings
		ORDER BY embedding <=> $1, position, document_id, chunk_id
		LIMIT %d`, searchColumns, k)
	}
	return fmt.Sprintf(`WITH scoped AS MATERIALIZED (
			SELECT chunk_id, document_id, position, content, span_start, span_end, page, embedding
			FROM chunk_embeddings
			WHERE document_id = ANY($2)
		)
		SELECT %s
		FROM scoped
		ORDER BY embedding <=> $1, position, document_id, chunk_id
		LIMIT %d`, searchColumns, k)
}

func (s *PGVectorStore) Documents(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT document_id FROM chunk_embeddings ORDER BY document_id`)
	if err != nil {
		return nil, fmt.Errorf("list indexed documents failed: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect indexed documents failed: %w", err)
	}
	return ids, nil
}
