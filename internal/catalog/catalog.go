// Package catalog records load history in Postgres for audit and lineage.
//
// The history table is informational only. It is never consulted as a
// duplicate-prevention gate: the pipeline's cross-run dedup story is
// deliberately left to downstream consumers (see internal/warehouse).
package catalog

import (
	"context"
	"time"
)

// LoadRecord is one terminal outcome for one file in one driver pass.
type LoadRecord struct {
	RunID         string
	FileName      string
	TargetHour    time.Time
	Status        string // done | failed
	ErrorKind     string // empty on success
	RowCount      int64
	ByteSize      int64
	LoadTimestamp time.Time // zero when the file never reached the loader
}

// Writer persists load records.
type Writer interface {
	RecordLoad(ctx context.Context, rec LoadRecord) error
	Close()
}

// NewWriter returns a Postgres-backed writer when dsn is set, otherwise a
// no-op writer so the catalog stays optional.
func NewWriter(ctx context.Context, dsn string) (Writer, error) {
	if dsn == "" {
		return noopWriter{}, nil
	}
	return newPostgresWriter(ctx, dsn)
}

type noopWriter struct{}

func (noopWriter) RecordLoad(context.Context, LoadRecord) error { return nil }
func (noopWriter) Close()                                       {}
