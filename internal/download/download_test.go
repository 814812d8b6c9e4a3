package download

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wikitrends/pageview-ingest/internal/resolver"
)

func testFile(workDir, name, url string) resolver.PageviewFile {
	return resolver.PageviewFile{
		URL:      url,
		FileName: name,
		GzPath:   filepath.Join(workDir, name),
	}
}

func TestFetchWritesFile(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.Write([]byte("compressed payload"))
	}))
	defer srv.Close()

	tmpDir, err := os.MkdirTemp("", "download-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	d := New(5*time.Second, nil)
	pf := testFile(tmpDir, "pageviews-20240101-000000.gz", srv.URL+"/dump.gz")

	path, err := d.Fetch(context.Background(), pf)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if path != pf.GzPath {
		t.Errorf("path = %q, want %q", path, pf.GzPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(data) != "compressed payload" {
		t.Errorf("file content = %q", data)
	}
	if got := atomic.LoadInt32(&requests); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}

	// No temp file left behind.
	if _, err := os.Stat(pf.GzPath + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file should be removed after fetch")
	}
}

func TestFetchSkipsExistingFile(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.Write([]byte("fresh"))
	}))
	defer srv.Close()

	tmpDir, err := os.MkdirTemp("", "download-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	pf := testFile(tmpDir, "pageviews-20240101-000000.gz", srv.URL+"/dump.gz")
	if err := os.WriteFile(pf.GzPath, []byte("already here"), 0644); err != nil {
		t.Fatalf("seed existing file: %v", err)
	}

	d := New(5*time.Second, nil)
	path, err := d.Fetch(context.Background(), pf)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if path != pf.GzPath {
		t.Errorf("path = %q, want %q", path, pf.GzPath)
	}

	// Idempotent re-run: zero network requests, existing content untouched.
	if got := atomic.LoadInt32(&requests); got != 0 {
		t.Errorf("requests = %d, want 0", got)
	}
	data, _ := os.ReadFile(pf.GzPath)
	if string(data) != "already here" {
		t.Errorf("existing file was overwritten: %q", data)
	}
}

func TestFetchEmptyFileNotSkipped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("refetched"))
	}))
	defer srv.Close()

	tmpDir, err := os.MkdirTemp("", "download-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	pf := testFile(tmpDir, "pageviews-20240101-000000.gz", srv.URL+"/dump.gz")
	if err := os.WriteFile(pf.GzPath, nil, 0644); err != nil {
		t.Fatalf("seed empty file: %v", err)
	}

	d := New(5*time.Second, nil)
	if _, err := d.Fetch(context.Background(), pf); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	data, _ := os.ReadFile(pf.GzPath)
	if string(data) != "refetched" {
		t.Errorf("zero-byte file should be refetched, got %q", data)
	}
}

func TestFetchNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	tmpDir, err := os.MkdirTemp("", "download-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	d := New(5*time.Second, nil)
	pf := testFile(tmpDir, "pageviews-20990101-000000.gz", srv.URL+"/dump.gz")

	_, err = d.Fetch(context.Background(), pf)
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if !IsNotFound(err) {
		t.Errorf("IsNotFound = false for %v", err)
	}

	var de *Error
	if !errors.As(err, &de) {
		t.Fatalf("error is not *Error: %v", err)
	}
	if !de.NotFound {
		t.Error("NotFound flag not set")
	}

	// Nothing written for a missing dump.
	if _, statErr := os.Stat(pf.GzPath); !os.IsNotExist(statErr) {
		t.Error("no file should exist after 404")
	}
}

func TestFetchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	tmpDir, err := os.MkdirTemp("", "download-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	d := New(5*time.Second, nil)
	pf := testFile(tmpDir, "pageviews-20240101-000000.gz", srv.URL+"/dump.gz")

	_, err = d.Fetch(context.Background(), pf)
	if err == nil {
		t.Fatal("expected error for 500")
	}
	if IsNotFound(err) {
		t.Error("server error misclassified as not found")
	}
}

func TestFetchNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close() // connection refused from here on

	tmpDir, err := os.MkdirTemp("", "download-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	d := New(time.Second, nil)
	pf := testFile(tmpDir, "pageviews-20240101-000000.gz", url+"/dump.gz")

	_, err = d.Fetch(context.Background(), pf)
	if err == nil {
		t.Fatal("expected network error")
	}
	if IsNotFound(err) {
		t.Error("network error misclassified as not found")
	}
}
