// Package resolver computes the remote and local identifiers for hourly
// Wikipedia pageview dump files. It is pure computation over timestamps and
// a fixed URL template; no network access happens here.
package resolver

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// DefaultBaseURL is the public Wikimedia pageview dump host.
const DefaultBaseURL = "https://dumps.wikimedia.org/other/pageviews"

// ErrInvalidRange is returned when a requested range has end <= start.
var ErrInvalidRange = errors.New("invalid hour range: end must be after start")

// PageviewFile describes one hourly dump file and where each stage of the
// pipeline puts it. The presence of GzPath / TxtPath on disk doubles as the
// idempotency marker for the download and extract stages.
type PageviewFile struct {
	Hour     time.Time // target hour, truncated, UTC
	URL      string    // remote location of the .gz dump
	FileName string    // pageviews-YYYYMMDD-HH0000.gz
	TextName string    // pageviews-YYYYMMDD-HH0000.txt
	GzPath   string    // local compressed path
	TxtPath  string    // local decompressed path
}

// Resolver builds PageviewFile entries for requested hours.
type Resolver struct {
	baseURL string
	workDir string
}

// New creates a Resolver. An empty baseURL falls back to DefaultBaseURL.
func New(baseURL, workDir string) *Resolver {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Resolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		workDir: workDir,
	}
}

// FileForHour returns the single PageviewFile for the hour containing t.
func (r *Resolver) FileForHour(t time.Time) PageviewFile {
	hour := t.UTC().Truncate(time.Hour)
	name := fmt.Sprintf("pageviews-%s-%s0000.gz", hour.Format("20060102"), hour.Format("15"))
	txtName := strings.TrimSuffix(name, ".gz") + ".txt"

	// Dumps are laid out by year and year-month directories.
	url := fmt.Sprintf("%s/%d/%s/%s", r.baseURL, hour.Year(), hour.Format("2006-01"), name)

	return PageviewFile{
		Hour:     hour,
		URL:      url,
		FileName: name,
		TextName: txtName,
		GzPath:   filepath.Join(r.workDir, name),
		TxtPath:  filepath.Join(r.workDir, txtName),
	}
}

// FilesForRange returns one PageviewFile per hour boundary in [start, end),
// in chronological order. Returns ErrInvalidRange when end <= start.
func (r *Resolver) FilesForRange(start, end time.Time) ([]PageviewFile, error) {
	start = start.UTC()
	end = end.UTC()
	if !end.After(start) {
		return nil, fmt.Errorf("%w: start=%s end=%s", ErrInvalidRange,
			start.Format(time.DateTime), end.Format(time.DateTime))
	}
	start = start.Truncate(time.Hour)

	var files []PageviewFile
	for h := start; h.Before(end); h = h.Add(time.Hour) {
		files = append(files, r.FileForHour(h))
	}
	return files, nil
}
