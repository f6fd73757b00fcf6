package graph

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend stores nodes/edges in two generic tables, grounded on the
// node/edge graph table shape used elsewhere for the portable GraphDB.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend ensures the nodes/edges tables exist and returns a
// Backend over them.
func NewPostgresBackend(ctx context.Context, pool *pgxpool.Pool) (*PostgresBackend, error) {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS graph_nodes (
			id TEXT PRIMARY KEY,
			labels TEXT[] NOT NULL DEFAULT '{}',
			props JSONB NOT NULL DEFAULT '{}'::jsonb
		)`,
		`CREATE TABLE IF NOT EXISTS graph_edges (
			source TEXT NOT NULL,
			rel TEXT NOT NULL,
			target TEXT NOT NULL,
			props JSONB NOT NULL DEFAULT '{}'::jsonb,
			PRIMARY KEY (source, rel, target)
		)`,
		`CREATE INDEX IF NOT EXISTS graph_edges_src_rel ON graph_edges(source, rel)`,
		`CREATE INDEX IF NOT EXISTS graph_nodes_labels ON graph_nodes USING GIN(labels)`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("ensure graph schema: %w", err)
		}
	}
	return &PostgresBackend{pool: pool}, nil
}

func (p *PostgresBackend) UpsertNode(ctx context.Context, id string, labels []string, props map[string]any) error {
	if props == nil {
		props = map[string]any{}
	}
	_, err := p.pool.Exec(ctx, `
INSERT INTO graph_nodes(id, labels, props) VALUES($1,$2,$3)
ON CONFLICT (id) DO UPDATE SET labels=EXCLUDED.labels, props=EXCLUDED.props`, id, labels, props)
	return err
}

func (p *PostgresBackend) UpsertEdge(ctx context.Context, srcID, rel, dstID string, props map[string]any) error {
	if props == nil {
		props = map[string]any{}
	}
	_, err := p.pool.Exec(ctx, `
INSERT INTO graph_edges(source, rel, target, props) VALUES($1,$2,$3,$4)
ON CONFLICT (source, rel, target) DO UPDATE SET props=EXCLUDED.props`, srcID, rel, dstID, props)
	return err
}

func (p *PostgresBackend) Neighbors(ctx context.Context, id string, rel string) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT target FROM graph_edges WHERE source=$1 AND rel=$2`, id, rel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var dst string
		if err := rows.Scan(&dst); err != nil {
			return nil, err
		}
		out = append(out, dst)
	}
	return out, rows.Err()
}

func (p *PostgresBackend) GetNode(ctx context.Context, id string) (Node, bool, error) {
	var labels []string
	var props map[string]any
	err := p.pool.QueryRow(ctx, `SELECT labels, props FROM graph_nodes WHERE id=$1`, id).Scan(&labels, &props)
	if err == pgx.ErrNoRows {
		return Node{}, false, nil
	}
	if err != nil {
		return Node{}, false, err
	}
	return Node{ID: id, Labels: labels, Props: props}, true, nil
}

func (p *PostgresBackend) FindNodes(ctx context.Context, label string, propFilter map[string]any) ([]Node, error) {
	query := `SELECT id, labels, props FROM graph_nodes WHERE $1 = ANY(labels)`
	args := []any{label}
	if len(propFilter) > 0 {
		query += ` AND props @> $2`
		args = append(args, propFilter)
	}
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Node
	for rows.Next() {
		var n Node
		if err := rows.Scan(&n.ID, &n.Labels, &n.Props); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (p *PostgresBackend) DeleteNode(ctx context.Context, id string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM graph_edges WHERE source=$1 OR target=$1`, id); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx, `DELETE FROM graph_nodes WHERE id=$1`, id)
	return err
}

func (p *PostgresBackend) RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx Backend) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := fn(ctx, &txBackend{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// txBackend mirrors PostgresBackend's queries against an open transaction.
type txBackend struct {
	tx pgx.Tx
}

func (t *txBackend) UpsertNode(ctx context.Context, id string, labels []string, props map[string]any) error {
	if props == nil {
		props = map[string]any{}
	}
	_, err := t.tx.Exec(ctx, `
INSERT INTO graph_nodes(id, labels, props) VALUES($1,$2,$3)
ON CONFLICT (id) DO UPDATE SET labels=EXCLUDED.labels, props=EXCLUDED.props`, id, labels, props)
	return err
}

func (t *txBackend) UpsertEdge(ctx context.Context, srcID, rel, dstID string, props map[string]any) error {
	if props == nil {
		props = map[string]any{}
	}
	_, err := t.tx.Exec(ctx, `
INSERT INTO graph_edges(source, rel, target, props) VALUES($1,$2,$3,$4)
ON CONFLICT (source, rel, target) DO UPDATE SET props=EXCLUDED.props`, srcID, rel, dstID, props)
	return err
}

func (t *txBackend) Neighbors(ctx context.Context, id string, rel string) ([]string, error) {
	rows, err := t.tx.Query(ctx, `SELECT target FROM graph_edges WHERE source=$1 AND rel=$2`, id, rel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var dst string
		if err := rows.Scan(&dst); err != nil {
			return nil, err
		}
		out = append(out, dst)
	}
	return out, rows.Err()
}

func (t *txBackend) GetNode(ctx context.Context, id string) (Node, bool, error) {
	var labels []string
	var props map[string]any
	err := t.tx.QueryRow(ctx, `SELECT labels, props FROM graph_nodes WHERE id=$1`, id).Scan(&labels, &props)
	if err == pgx.ErrNoRows {
		return Node{}, false, nil
	}
	if err != nil {
		return Node{}, false, err
	}
	return Node{ID: id, Labels: labels, Props: props}, true, nil
}

func (t *txBackend) FindNodes(ctx context.Context, label string, propFilter map[string]any) ([]Node, error) {
	query := `SELECT id, labels, props FROM graph_nodes WHERE $1 = ANY(labels)`
	args := []any{label}
	if len(propFilter) > 0 {
		query += ` AND props @> $2`
		args = append(args, propFilter)
	}
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Node
	for rows.Next() {
		var n Node
		if err := rows.Scan(&n.ID, &n.Labels, &n.Props); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (t *txBackend) DeleteNode(ctx context.Context, id string) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM graph_edges WHERE source=$1 OR target=$1`, id); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `DELETE FROM graph_nodes WHERE id=$1`, id)
	return err
}

func (t *txBackend) RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx Backend) error) error {
	return fn(ctx, t)
}
