package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PostgresBackend is a Backend over a pgvector-enabled Postgres table, used
// for the "managed" vector-database backend mode.
type PostgresBackend struct {
	pool       *pgxpool.Pool
	table      string
	dimensions int
}

// NewPostgresBackend ensures the pgvector extension and a per-collection
// table exist, then returns a Backend over it.
func NewPostgresBackend(ctx context.Context, pool *pgxpool.Pool, table string, dimensions int) (*PostgresBackend, error) {
	if _, err := pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return nil, fmt.Errorf("create vector extension: %w", err)
	}
	vecType := "vector"
	if dimensions > 0 {
		vecType = fmt.Sprintf("vector(%d)", dimensions)
	}
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  vec %s,
  payload JSONB NOT NULL DEFAULT '{}'::jsonb
)`, table, vecType)
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return nil, fmt.Errorf("create table %s: %w", table, err)
	}
	return &PostgresBackend{pool: pool, table: table, dimensions: dimensions}, nil
}

func (p *PostgresBackend) Upsert(ctx context.Context, id string, vector []float32, payload map[string]string) error {
	query := fmt.Sprintf(`
INSERT INTO %s(id, vec, payload) VALUES($1, $2::vector, $3)
ON CONFLICT (id) DO UPDATE SET vec=EXCLUDED.vec, payload=EXCLUDED.payload`, p.table)
	_, err := p.pool.Exec(ctx, query, id, vectorLiteral(vector), payload)
	return err
}

func (p *PostgresBackend) Delete(ctx context.Context, id string) error {
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id=$1`, p.table), id)
	return err
}

func (p *PostgresBackend) SimilaritySearch(ctx context.Context, vector []float32, k int, filter map[string]string) ([]Hit, error) {
	if k <= 0 {
		k = 10
	}
	where, args := filterClause(filter, 3)
	query := fmt.Sprintf(`SELECT id, 1 - (vec <=> $1::vector) AS score, payload FROM %s %s ORDER BY vec <=> $1::vector LIMIT $2`, p.table, where)
	rows, err := p.pool.Query(ctx, query, append([]any{vectorLiteral(vector), k}, args...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var hits []Hit
	for rows.Next() {
		var h Hit
		var payload map[string]string
		if err := rows.Scan(&h.ID, &h.Score, &payload); err != nil {
			return nil, err
		}
		h.Payload = payload
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (p *PostgresBackend) Scroll(ctx context.Context, filter map[string]string) ([]Hit, error) {
	where, args := filterClause(filter, 1)
	query := fmt.Sprintf(`SELECT id, payload FROM %s %s`, p.table, where)
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var hits []Hit
	for rows.Next() {
		var h Hit
		var payload map[string]string
		if err := rows.Scan(&h.ID, &payload); err != nil {
			return nil, err
		}
		h.Payload = payload
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func filterClause(filter map[string]string, firstArgIndex int) (string, []any) {
	if len(filter) == 0 {
		return "", nil
	}
	return fmt.Sprintf("WHERE payload @> $%d", firstArgIndex), []any{filter}
}

// vectorLiteral renders v in pgvector's canonical "[x,y,z]" text format via
// the pgvector-go client library, rather than hand-rolling the brackets.
func vectorLiteral(v []float32) string {
	return pgvector.NewVector(v).String()
}

func (p *PostgresBackend) Close() {}
