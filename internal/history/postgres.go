package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres records deployment attempts in the deployments table.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Recorder = (*Postgres)(nil)

// NewPostgres connects to dsn and verifies the connection.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Record inserts entry.
func (p *Postgres) Record(ctx context.Context, entry Entry) error {
	const query = `INSERT INTO deployments (id, started_at, finished_at, status, stage, message, committed, deploy_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := p.pool.Exec(ctx, query, entry.ID, entry.StartedAt, entry.FinishedAt, entry.Status, entry.Stage, entry.Message, entry.Committed, entry.DeployCount)
	if err != nil {
		return fmt.Errorf("insert deployment: %w", err)
	}
	return nil
}

// Recent lists up to limit entries, newest first.
func (p *Postgres) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT id::text, started_at, finished_at, status, stage, message, committed, deploy_count
		FROM deployments ORDER BY started_at DESC LIMIT $1`
	rows, err := p.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var e Entry
		err := row.Scan(&e.ID, &e.StartedAt, &e.FinishedAt, &e.Status, &e.Stage, &e.Message, &e.Committed, &e.DeployCount)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan deployments: %w", err)
	}
	return entries, nil
}

// Close releases pooled connections.
func (p *Postgres) Close() {
	p.pool.Close()
}
