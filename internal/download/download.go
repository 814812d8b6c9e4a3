// Package download fetches hourly pageview dumps over HTTP into the local
// working directory.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/wikitrends/pageview-ingest/internal/metrics"
	"github.com/wikitrends/pageview-ingest/internal/resolver"
)

// Error reports a failed fetch. NotFound marks the hour as not yet published
// upstream, which callers treat differently from a transient network failure.
type Error struct {
	URL      string
	NotFound bool
	Err      error
}

func (e *Error) Error() string {
	if e.NotFound {
		return fmt.Sprintf("download %s: not found (not yet published)", e.URL)
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a download error for an unpublished dump.
func IsNotFound(err error) bool {
	var de *Error
	return errors.As(err, &de) && de.NotFound
}

// Downloader streams remote dump files to disk. A non-empty local file of
// the expected name short-circuits the fetch, so re-runs make zero network
// requests for hours already on disk. There is no retry here; whole-file
// retries belong to the driver.
type Downloader struct {
	client *http.Client
	log    *slog.Logger
}

// New creates a Downloader with a bounded per-request timeout.
func New(timeout time.Duration, log *slog.Logger) *Downloader {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Downloader{
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

// Fetch downloads pf.URL to pf.GzPath and returns the local path. The write
// is atomic (temp file + rename) so a killed run never leaves a partial .gz
// that would satisfy the idempotency check.
func (d *Downloader) Fetch(ctx context.Context, pf resolver.PageviewFile) (string, error) {
	if info, err := os.Stat(pf.GzPath); err == nil && info.Size() > 0 {
		d.log.Info("skipping download, file already present",
			"file", pf.FileName, "bytes", info.Size())
		if m := metrics.Get(); m != nil {
			m.DownloadsSkipped.Inc()
		}
		return pf.GzPath, nil
	}

	d.log.Info("downloading", "file", pf.FileName, "url", pf.URL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pf.URL, nil)
	if err != nil {
		return "", &Error{URL: pf.URL, Err: err}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", &Error{URL: pf.URL, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", &Error{URL: pf.URL, NotFound: true, Err: fmt.Errorf("status %s", resp.Status)}
	case resp.StatusCode != http.StatusOK:
		return "", &Error{URL: pf.URL, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	n, err := writeAtomic(pf.GzPath, resp.Body)
	if err != nil {
		return "", &Error{URL: pf.URL, Err: err}
	}

	d.log.Info("downloaded", "file", pf.FileName, "bytes", n)
	if m := metrics.Get(); m != nil {
		m.BytesDownloaded.Add(float64(n))
	}
	return pf.GzPath, nil
}

// writeAtomic streams r to path via a temp file + rename.
func writeAtomic(path string, r io.Reader) (int64, error) {
	tempPath := path + ".tmp"

	f, err := os.Create(tempPath)
	if err != nil {
		return 0, fmt.Errorf("create temp file %s: %w", tempPath, err)
	}

	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(tempPath)
		return 0, fmt.Errorf("stream to %s: %w", tempPath, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return 0, fmt.Errorf("close %s: %w", tempPath, err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return 0, fmt.Errorf("rename %s to %s: %w", tempPath, path, err)
	}
	return n, nil
}
