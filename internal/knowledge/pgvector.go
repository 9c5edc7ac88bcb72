package knowledge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/beaconai/beacon/internal/log"
)

// PgvectorIndex stores document chunks and their embeddings in PostgreSQL
// using the pgvector extension. Similarity is cosine: score = 1 - distance.
type PgvectorIndex struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewPgvectorIndex wraps an existing connection pool.
func NewPgvectorIndex(pool *pgxpool.Pool, logger log.Logger) *PgvectorIndex {
	if logger == nil {
		logger = log.NewNop()
	}
	return &PgvectorIndex{pool: pool, logger: logger}
}

func (x *PgvectorIndex) Query(ctx context.Context, embedding []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	vec := pgvector.NewVector(embedding)

	rows, err := x.pool.Query(ctx, `
		SELECT id, content, source, metadata, 1 - (embedding <=> $1) AS score
		FROM documents
		ORDER BY embedding <=> $1
		LIMIT $2`, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	matches := make([]Match, 0, topK)
	for rows.Next() {
		var (
			m    Match
			meta []byte
		)
		if err := rows.Scan(&m.Document.ID, &m.Document.Text, &m.Document.Source, &meta, &m.Score); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &m.Document.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (x *PgvectorIndex) Upsert(ctx context.Context, doc Document, embedding []float32) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if doc.Metadata == nil {
		meta = []byte("{}")
	}

	_, err = x.pool.Exec(ctx, `
		INSERT INTO documents (id, content, source, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET content = EXCLUDED.content,
		    source = EXCLUDED.source,
		    metadata = EXCLUDED.metadata,
		    embedding = EXCLUDED.embedding`,
		doc.ID, doc.Text, doc.Source, meta, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	x.logger.Debug("upserted document", "id", doc.ID, "source", doc.Source)
	return nil
}

func (x *PgvectorIndex) Delete(ctx context.Context, id string) error {
	_, err := x.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}
