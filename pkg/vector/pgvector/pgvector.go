// Package pgvector provides a PostgreSQL-backed vector driver using the
// pgvector extension.
package pgvector

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvec "github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/vector"
)

// Driver implements vector.Driver using PostgreSQL with pgvector.
type Driver struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Config holds configuration for the pgvector driver.
type Config struct {
	// ConnString is the PostgreSQL connection string.
	ConnString string

	// Dimensions is the number of dimensions for the embedding vectors.
	Dimensions uint
}

// NewDriver creates a pgvector driver, enabling the extension and creating
// the embeddings table with an HNSW cosine index.
func NewDriver(ctx context.Context, c Config, logger *zap.Logger) (*Driver, error) {
	if c.ConnString == "" {
		return nil, fmt.Errorf("connection string is required")
	}
	if c.Dimensions == 0 {
		return nil, fmt.Errorf("pgvector embedding dimensions cannot be 0, must be configured")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := pgxpool.New(ctx, c.ConnString)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vector.ErrConnection, err)
	}

	if _, err := pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("enabling pgvector extension: %w", err)
	}

	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS fact_embeddings (
			fact_id    TEXT PRIMARY KEY,
			category   TEXT NOT NULL DEFAULT '',
			embedding  vector(%d) NOT NULL
		)`, c.Dimensions)
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating embeddings table: %w", err)
	}

	if _, err := pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_fact_embeddings_hnsw
		ON fact_embeddings USING hnsw (embedding vector_cosine_ops)`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating hnsw index: %w", err)
	}

	logger.Info("pgvector vector driver initialized",
		zap.Uint("dimensions", c.Dimensions),
	)

	return &Driver{pool: pool, logger: logger}, nil
}

// Add stores documents with their embeddings, updating existing ids.
func (d *Driver) Add(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, doc := range docs {
		batch.Queue(`
			INSERT INTO fact_embeddings (fact_id, category, embedding)
			VALUES ($1, $2, $3)
			ON CONFLICT (fact_id) DO UPDATE SET
				category = EXCLUDED.category,
				embedding = EXCLUDED.embedding`,
			doc.ID, doc.Category, pgvec.NewVector(doc.Embedding),
		)
	}

	if err := d.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upserting embeddings: %w", err)
	}

	d.logger.Debug("added documents to pgvector",
		zap.Int("count", len(docs)),
	)
	return nil
}

// Query finds the topK most similar documents by cosine distance.
func (d *Driver) Query(ctx context.Context, embedding []float32, topK int) ([]vector.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}

	rows, err := d.pool.Query(ctx, `
		SELECT fact_id, category, embedding <=> $1 AS distance
		FROM fact_embeddings
		ORDER BY distance
		LIMIT $2`,
		pgvec.NewVector(embedding), topK,
	)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	var results []vector.QueryResult
	for rows.Next() {
		var (
			factID, category string
			distance         float64
		)
		if err := rows.Scan(&factID, &category, &distance); err != nil {
			return nil, fmt.Errorf("scanning query result: %w", err)
		}
		results = append(results, vector.QueryResult{
			Document: vector.Document{ID: factID, Category: category},
			Score:    float32(1.0 / (1.0 + distance)),
		})
	}
	return results, rows.Err()
}

// Get retrieves documents by their IDs.
func (d *Driver) Get(ctx context.Context, ids []string) ([]vector.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := d.pool.Query(ctx, `
		SELECT fact_id, category, embedding
		FROM fact_embeddings
		WHERE fact_id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("querying facts: %w", err)
	}
	defer rows.Close()

	var docs []vector.Document
	for rows.Next() {
		var (
			doc vector.Document
			vec pgvec.Vector
		)
		if err := rows.Scan(&doc.ID, &doc.Category, &vec); err != nil {
			return nil, fmt.Errorf("scanning fact: %w", err)
		}
		doc.Embedding = vec.Slice()
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Delete removes documents by their IDs.
func (d *Driver) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	if _, err := d.pool.Exec(ctx,
		`DELETE FROM fact_embeddings WHERE fact_id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("deleting facts: %w", err)
	}

	d.logger.Debug("deleted documents from pgvector",
		zap.Int("count", len(ids)),
	)
	return nil
}

// Clear removes every document.
func (d *Driver) Clear(ctx context.Context) error {
	if _, err := d.pool.Exec(ctx, `TRUNCATE fact_embeddings`); err != nil {
		return fmt.Errorf("clearing embeddings: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (d *Driver) Close() error {
	d.pool.Close()
	return nil
}

// Ensure Driver implements vector.Driver
var _ vector.Driver = (*Driver)(nil)
