// Package ingest drives the per-hour pageview pipeline: resolve, download,
// decompress, load. Files are independent; a bounded worker pool runs one
// full pipeline per file and failures are collected as outcomes, never
// propagated across siblings.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/wikitrends/pageview-ingest/internal/archive"
	"github.com/wikitrends/pageview-ingest/internal/catalog"
	"github.com/wikitrends/pageview-ingest/internal/config"
	"github.com/wikitrends/pageview-ingest/internal/extract"
	"github.com/wikitrends/pageview-ingest/internal/logging"
	"github.com/wikitrends/pageview-ingest/internal/metrics"
	"github.com/wikitrends/pageview-ingest/internal/resolver"
	"github.com/wikitrends/pageview-ingest/internal/warehouse"
)

// Fetcher downloads one file; implemented by download.Downloader.
type Fetcher interface {
	Fetch(ctx context.Context, pf resolver.PageviewFile) (string, error)
}

// Extractor decompresses one file; implemented by extract.Extractor.
type Extractor interface {
	Extract(pf resolver.PageviewFile) (string, error)
}

// Driver owns the lifecycle of every PageviewFile in one pass.
type Driver struct {
	cfg      config.Config
	resolver *resolver.Resolver
	fetcher  Fetcher
	extract  Extractor
	wh       warehouse.Loader
	mirror   archive.Mirror
	catalog  catalog.Writer
	log      *slog.Logger
	runID    string

	// now is injectable for tests; defaults to time.Now.
	now func() time.Time
}

// New wires a Driver from its collaborators.
func New(cfg config.Config, res *resolver.Resolver, f Fetcher, x Extractor,
	wh warehouse.Loader, mirror archive.Mirror, cat catalog.Writer, log *slog.Logger) *Driver {
	if log == nil {
		log = slog.Default()
	}
	if mirror == nil {
		mirror, _ = archive.New(context.Background(), "", nil)
	}
	if cat == nil {
		cat, _ = catalog.NewWriter(context.Background(), "")
	}
	runID := logging.GenerateRunID()
	return &Driver{
		cfg:      cfg,
		resolver: res,
		fetcher:  f,
		extract:  x,
		wh:       wh,
		mirror:   mirror,
		catalog:  cat,
		log:      log.With("run_id", runID),
		runID:    runID,
		now:      time.Now,
	}
}

// Run processes the configured range, or the current hour when no range is
// set, and returns the per-file report. The returned error is non-nil only
// for failures that abort the run before any file is processed.
func (d *Driver) Run(ctx context.Context) (*Report, error) {
	files, err := d.resolveFiles()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(d.cfg.Ingest.WorkDir, 0755); err != nil {
		return nil, fmt.Errorf("create working directory %s: %w", d.cfg.Ingest.WorkDir, err)
	}

	d.log.Info("starting ingestion run",
		"files", len(files),
		"workers", d.workerCount(len(files)),
		"first_hour", files[0].Hour.Format(time.DateTime),
	)

	// Warehouse objects are shared by every file; create them once up
	// front, retrying connection errors.
	if err := d.withRetry(ctx, "ensure schema", func(opCtx context.Context) error {
		return d.wh.EnsureSchema(opCtx)
	}); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	if err := d.withRetry(ctx, "ensure stage and table", func(opCtx context.Context) error {
		return d.wh.EnsureStageAndTable(opCtx)
	}); err != nil {
		return nil, fmt.Errorf("ensure stage and table: %w", err)
	}

	outcomes := d.runPool(ctx, files)

	// Hours may complete out of order; report chronologically.
	sort.Slice(outcomes, func(i, j int) bool {
		return outcomes[i].File.Hour.Before(outcomes[j].File.Hour)
	})

	report := &Report{RunID: d.runID, Outcomes: outcomes}
	d.logReport(report)
	return report, nil
}

// resolveFiles picks range mode or current-hour mode.
func (d *Driver) resolveFiles() ([]resolver.PageviewFile, error) {
	if d.cfg.HasRange() {
		start, end, err := d.cfg.Range()
		if err != nil {
			return nil, err
		}
		return d.resolver.FilesForRange(start, end)
	}
	return []resolver.PageviewFile{d.resolver.FileForHour(d.now())}, nil
}

func (d *Driver) workerCount(files int) int {
	n := d.cfg.Ingest.MaxWorkers
	if n > files {
		n = files
	}
	if n < 1 {
		n = 1
	}
	return n
}

// runPool fans the files out over a bounded worker pool and collects one
// outcome per file.
func (d *Driver) runPool(ctx context.Context, files []resolver.PageviewFile) []Outcome {
	tasks := make(chan resolver.PageviewFile)
	results := make(chan Outcome, len(files))

	var wg sync.WaitGroup
	for i := 0; i < d.workerCount(len(files)); i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			wlog := logging.WorkerLogger(d.log, workerID)
			for pf := range tasks {
				results <- d.processFile(ctx, wlog, pf)
			}
		}(i)
	}

	go func() {
		defer close(tasks)
		for _, pf := range files {
			select {
			case tasks <- pf:
			case <-ctx.Done():
				// Remaining files become canceled outcomes; they still go
				// through finish so metrics and the catalog see every file.
				o := Outcome{File: pf, Status: StatusFailed, Err: ctx.Err()}
				d.finish(context.WithoutCancel(ctx), o)
				results <- o
			}
		}
	}()

	wg.Wait()
	close(results)

	outcomes := make([]Outcome, 0, len(files))
	for o := range results {
		outcomes = append(outcomes, o)
	}
	return outcomes
}

// processFile runs the full pipeline for one file. Every stage failure is
// converted into a failed outcome at this boundary.
func (d *Driver) processFile(ctx context.Context, wlog *slog.Logger, pf resolver.PageviewFile) Outcome {
	log := logging.FileLogger(wlog, pf.FileName, pf.Hour.Format(time.DateTime))
	state := newFileState()
	started := d.now()

	if m := metrics.Get(); m != nil {
		m.FilesInFlight.Inc()
		defer m.FilesInFlight.Dec()
	}

	fail := func(err error) Outcome {
		stage := state.status
		state.advance(StatusFailed)
		kind := errorKind(err)
		if kind == "not_found" {
			log.Warn("dump not yet published upstream", "error", err)
		} else {
			log.Error("file failed", "stage", stage, "kind", kind, "error", err)
		}
		o := Outcome{File: pf, Status: StatusFailed, Err: err, Duration: d.now().Sub(started)}
		d.finish(ctx, o)
		return o
	}

	// Download
	if err := state.advance(StatusDownloading); err != nil {
		return fail(err)
	}
	stageStart := d.now()
	if _, err := d.fetcher.Fetch(ctx, pf); err != nil {
		return fail(err)
	}
	d.observeStage("download", stageStart)

	// Decompress
	if err := state.advance(StatusDecompressing); err != nil {
		return fail(err)
	}
	stageStart = d.now()
	txtPath, err := d.extract.Extract(pf)
	if err != nil {
		return fail(err)
	}
	rows, err := extract.CountRows(txtPath)
	if err != nil {
		return fail(err)
	}
	d.observeStage("extract", stageStart)

	// Load
	if err := state.advance(StatusLoading); err != nil {
		return fail(err)
	}
	stageStart = d.now()
	if err := d.withRetry(ctx, "upload", func(opCtx context.Context) error {
		return d.wh.Upload(opCtx, txtPath)
	}); err != nil {
		return fail(err)
	}

	loadedAt := d.now().UTC()
	var loadedRows int64
	if err := d.withRetry(ctx, "copy", func(opCtx context.Context) error {
		var copyErr error
		loadedRows, copyErr = d.wh.CopyIntoTable(opCtx, pf.TextName, loadedAt)
		return copyErr
	}); err != nil {
		return fail(err)
	}
	d.observeStage("load", stageStart)

	if err := state.advance(StatusDone); err != nil {
		return fail(err)
	}

	var byteSize int64
	if info, statErr := os.Stat(pf.GzPath); statErr == nil {
		byteSize = info.Size()
	}

	o := Outcome{
		File:     pf,
		Status:   StatusDone,
		Rows:     rows,
		Bytes:    byteSize,
		LoadedAt: loadedAt,
		Duration: d.now().Sub(started),
	}
	if loadedRows > 0 {
		o.Rows = loadedRows
	}

	log.Info("file done", "rows", o.Rows, "duration", o.Duration.String())
	d.finish(ctx, o)
	return o
}

// finish handles the non-fatal tail of every outcome: metrics, the archive
// mirror and the load-history catalog.
func (d *Driver) finish(ctx context.Context, o Outcome) {
	if m := metrics.Get(); m != nil {
		m.FilesProcessed.WithLabelValues(string(o.Status)).Inc()
		if o.Status == StatusFailed {
			m.FilesFailed.WithLabelValues(o.ErrorKind()).Inc()
		} else {
			m.RowsLoaded.Add(float64(o.Rows))
		}
	}

	if o.Status == StatusDone {
		if err := d.mirror.Store(ctx, o.File.GzPath); err != nil {
			d.log.Warn("archive mirror failed", "file", o.File.FileName, "error", err)
		}
	}

	rec := catalog.LoadRecord{
		RunID:         d.runID,
		FileName:      o.File.TextName,
		TargetHour:    o.File.Hour,
		Status:        string(o.Status),
		ErrorKind:     o.ErrorKind(),
		RowCount:      o.Rows,
		ByteSize:      o.Bytes,
		LoadTimestamp: o.LoadedAt,
	}
	if err := d.catalog.RecordLoad(ctx, rec); err != nil {
		d.log.Warn("catalog record failed", "file", o.File.FileName, "error", err)
	}
}

// observeStage records the elapsed time of one pipeline stage.
func (d *Driver) observeStage(stage string, start time.Time) {
	if m := metrics.Get(); m != nil {
		m.StageDuration.WithLabelValues(stage).Observe(d.now().Sub(start).Seconds())
	}
}

// withRetry retries op with exponential backoff while it keeps failing with
// warehouse connection errors. Any other error is permanent. Each attempt
// gets its own bounded timeout.
func (d *Driver) withRetry(ctx context.Context, name string, op func(ctx context.Context) error) error {
	ebo := backoff.NewExponentialBackOff()
	ebo.InitialInterval = d.cfg.Ingest.RetryBackoff

	attempts := uint64(d.cfg.Ingest.RetryAttempts)
	if attempts < 1 {
		attempts = 1
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(ebo, attempts-1), ctx)

	return backoff.Retry(func() error {
		opCtx, cancel := context.WithTimeout(ctx, d.cfg.Ingest.WarehouseTimeout)
		defer cancel()

		err := op(opCtx)
		if err == nil {
			return nil
		}
		if warehouse.IsConnection(err) {
			d.log.Warn("retryable warehouse error", "op", name, "error", err)
			if m := metrics.Get(); m != nil {
				m.RetryAttempts.Inc()
			}
			return err
		}
		return backoff.Permanent(err)
	}, bo)
}

// logReport writes the final per-hour summary.
func (d *Driver) logReport(r *Report) {
	for _, o := range r.Outcomes {
		if o.Status == StatusDone {
			d.log.Info("hour done",
				"hour", o.File.Hour.Format(time.DateTime),
				"file", o.File.FileName,
				"rows", o.Rows,
			)
			continue
		}
		d.log.Error("hour failed",
			"hour", o.File.Hour.Format(time.DateTime),
			"file", o.File.FileName,
			"kind", o.ErrorKind(),
			"error", o.Err,
		)
	}

	failed := len(r.Failed())
	d.log.Info("run complete",
		"total", len(r.Outcomes),
		"done", len(r.Outcomes)-failed,
		"failed", failed,
	)
}
