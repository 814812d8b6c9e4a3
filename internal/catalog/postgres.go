package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// postgresWriter implements Writer using a pgx connection pool.
type postgresWriter struct {
	pool *pgxpool.Pool
}

func newPostgresWriter(ctx context.Context, dsn string) (*postgresWriter, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse catalog DSN: %w", err)
	}

	poolCfg.MaxConns = 5
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create catalog pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping catalog database: %w", err)
	}

	if _, err := pool.Exec(connectCtx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init catalog schema: %w", err)
	}

	return &postgresWriter{pool: pool}, nil
}

// RecordLoad inserts one history row. Append-only; repeated runs of the
// same hour produce multiple rows, which is exactly the audit trail wanted.
func (w *postgresWriter) RecordLoad(ctx context.Context, rec LoadRecord) error {
	query := `
		INSERT INTO pageview_load_history (
			run_id, file_name, target_hour, status, error_kind,
			row_count, byte_size, load_timestamp
		)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, NULLIF($8, '0001-01-01 00:00:00'::timestamp))
	`

	_, err := w.pool.Exec(ctx, query,
		rec.RunID,
		rec.FileName,
		rec.TargetHour,
		rec.Status,
		rec.ErrorKind,
		rec.RowCount,
		rec.ByteSize,
		rec.LoadTimestamp,
	)
	if err != nil {
		return fmt.Errorf("record load %s: %w", rec.FileName, err)
	}
	return nil
}

func (w *postgresWriter) Close() {
	w.pool.Close()
}
