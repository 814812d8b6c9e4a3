// Package extract decompresses downloaded pageview dumps into flat text
// files next to the compressed originals.
package extract

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/klauspost/compress/gzip"

	"github.com/wikitrends/pageview-ingest/internal/metrics"
	"github.com/wikitrends/pageview-ingest/internal/resolver"
)

// CorruptArchiveError reports a gzip stream that could not be fully read.
// The file is local-data damaged; callers should not retry.
type CorruptArchiveError struct {
	Path string
	Err  error
}

func (e *CorruptArchiveError) Error() string {
	return fmt.Sprintf("corrupt archive %s: %v", e.Path, e.Err)
}

func (e *CorruptArchiveError) Unwrap() error { return e.Err }

// IsCorruptArchive reports whether err marks an unreadable gzip stream.
func IsCorruptArchive(err error) bool {
	var ce *CorruptArchiveError
	return errors.As(err, &ce)
}

// Extractor gunzips .gz dumps to sibling .txt files. An existing .txt
// short-circuits the extraction (idempotent re-run).
type Extractor struct {
	log *slog.Logger
}

// New creates an Extractor.
func New(log *slog.Logger) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{log: log}
}

// Extract decompresses pf.GzPath into pf.TxtPath and returns the text path.
// The write goes through a temp file + rename so a partial extraction never
// satisfies the idempotency check of a later run.
func (x *Extractor) Extract(pf resolver.PageviewFile) (string, error) {
	if _, err := os.Stat(pf.TxtPath); err == nil {
		x.log.Info("skipping extract, text file already present", "file", pf.TextName)
		if m := metrics.Get(); m != nil {
			m.ExtractsSkipped.Inc()
		}
		return pf.TxtPath, nil
	}

	x.log.Info("extracting", "file", pf.FileName)

	in, err := os.Open(pf.GzPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", pf.GzPath, err)
	}
	defer in.Close()

	gz, err := gzip.NewReader(bufio.NewReader(in))
	if err != nil {
		return "", &CorruptArchiveError{Path: pf.GzPath, Err: err}
	}
	defer gz.Close()

	tempPath := pf.TxtPath + ".tmp"
	out, err := os.Create(tempPath)
	if err != nil {
		return "", fmt.Errorf("create temp file %s: %w", tempPath, err)
	}

	n, err := io.Copy(out, gz)
	if err != nil {
		out.Close()
		os.Remove(tempPath)
		return "", &CorruptArchiveError{Path: pf.GzPath, Err: err}
	}
	if err := out.Close(); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("close %s: %w", tempPath, err)
	}

	if err := os.Rename(tempPath, pf.TxtPath); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("rename %s to %s: %w", tempPath, pf.TxtPath, err)
	}

	x.log.Info("extracted", "file", pf.TextName, "bytes", n)
	return pf.TxtPath, nil
}

// CountRows counts the non-empty lines of a decompressed dump, i.e. the
// candidate rows handed to the bulk loader. Row shape is the warehouse's
// concern; this is a volume count only.
func CountRows(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var rows int64
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024) // page titles can be long
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) > 0 {
			rows++
		}
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("scan %s: %w", path, err)
	}
	return rows, nil
}
