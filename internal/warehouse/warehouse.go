// Package warehouse loads decompressed pageview files into a Snowflake raw
// table through an internal stage.
//
// CopyIntoTable is append-only: re-running it for a filename that was
// already copied in an earlier run duplicates rows in the raw table.
// Within a single run the driver's per-file state machine guarantees one
// copy per file; across runs, deduplication is deliberately left to
// downstream consumers keyed on (file_name, project_code, page_title).
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ConnectionError reports a transport or session failure talking to the
// warehouse. Retryable with backoff at the driver level.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("warehouse connection (%s): %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// LoadError reports malformed or schema-mismatched data rejected by the
// warehouse. Not retryable; the file is surfaced to the operator.
type LoadError struct {
	FileName string
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("warehouse load %s: %v", e.FileName, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// IsConnection reports whether err is a retryable warehouse transport error.
func IsConnection(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// IsLoad reports whether err is a non-retryable warehouse load error.
func IsLoad(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}

// Loader is the warehouse contract used by the driver. All operations are
// idempotent except CopyIntoTable (see the package comment).
type Loader interface {
	// EnsureSchema creates the target schema if absent.
	EnsureSchema(ctx context.Context) error

	// EnsureStageAndTable creates the internal stage and raw table if absent.
	EnsureStageAndTable(ctx context.Context) error

	// Upload pushes a local text file into the stage under its base name,
	// overwriting any previously staged object of the same name.
	Upload(ctx context.Context, localPath string) error

	// CopyIntoTable bulk-loads the staged file into the raw table, tagging
	// every row with fileName and loadedAt. Returns the number of rows the
	// warehouse reports as loaded (0 when unknown).
	CopyIntoTable(ctx context.Context, fileName string, loadedAt time.Time) (int64, error)

	// Close releases the pooled connections.
	Close() error
}
