package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wikitrends/pageview-ingest/internal/download"
	"github.com/wikitrends/pageview-ingest/internal/extract"
	"github.com/wikitrends/pageview-ingest/internal/resolver"
	"github.com/wikitrends/pageview-ingest/internal/warehouse"
)

// Status is the per-file pipeline state.
type Status string

const (
	StatusPending       Status = "pending"
	StatusDownloading   Status = "downloading"
	StatusDecompressing Status = "decompressing"
	StatusLoading       Status = "loading"
	StatusDone          Status = "done"
	StatusFailed        Status = "failed"
)

// legalTransitions enforces the forward-only per-file state machine. A file
// can fail from any active state, but can never re-enter an earlier stage,
// which is what guarantees at most one copy-into-table per file per run.
var legalTransitions = map[Status][]Status{
	StatusPending:       {StatusDownloading, StatusFailed},
	StatusDownloading:   {StatusDecompressing, StatusFailed},
	StatusDecompressing: {StatusLoading, StatusFailed},
	StatusLoading:       {StatusDone, StatusFailed},
}

// fileState tracks one file's progress through the pipeline.
type fileState struct {
	status Status
}

func newFileState() *fileState {
	return &fileState{status: StatusPending}
}

// advance moves to the next status or reports an illegal transition.
func (s *fileState) advance(to Status) error {
	for _, allowed := range legalTransitions[s.status] {
		if allowed == to {
			s.status = to
			return nil
		}
	}
	return fmt.Errorf("illegal state transition %s -> %s", s.status, to)
}

// Outcome is the terminal result for one file in one driver pass.
type Outcome struct {
	File     resolver.PageviewFile
	Status   Status
	Err      error
	Rows     int64
	Bytes    int64
	LoadedAt time.Time // zero when the file never reached the loader
	Duration time.Duration
}

// ErrorKind names the failure class for reports, metrics and the catalog.
func (o Outcome) ErrorKind() string {
	return errorKind(o.Err)
}

func errorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case download.IsNotFound(err):
		return "not_found"
	case extract.IsCorruptArchive(err):
		return "corrupt_archive"
	case warehouse.IsConnection(err):
		return "warehouse_connection"
	case warehouse.IsLoad(err):
		return "warehouse_load"
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		var de *download.Error
		if errors.As(err, &de) {
			return "download"
		}
		return "error"
	}
}

// Report is the driver's final per-run summary.
type Report struct {
	RunID    string
	Outcomes []Outcome
}

// Failed returns the outcomes that did not reach done.
func (r *Report) Failed() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if o.Status != StatusDone {
			failed = append(failed, o)
		}
	}
	return failed
}

// OK reports whether every requested file reached done.
func (r *Report) OK() bool {
	return len(r.Failed()) == 0
}
