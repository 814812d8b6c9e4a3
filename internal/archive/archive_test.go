package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestDisabledMirrorIsNoop(t *testing.T) {
	m, err := New(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer m.Close()

	// A disabled mirror accepts anything, including paths that don't exist.
	if err := m.Store(context.Background(), "/nonexistent/file.gz"); err != nil {
		t.Errorf("noop Store failed: %v", err)
	}
}

func TestStoreCopiesFileToBucket(t *testing.T) {
	srcDir, err := os.MkdirTemp("", "archive-src-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(srcDir)

	bucketDir, err := os.MkdirTemp("", "archive-bucket-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(bucketDir)

	localPath := filepath.Join(srcDir, "pageviews-20240101-000000.gz")
	if err := os.WriteFile(localPath, []byte("compressed dump"), 0644); err != nil {
		t.Fatalf("write source file: %v", err)
	}

	m, err := New(context.Background(), "file://"+bucketDir, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer m.Close()

	if err := m.Store(context.Background(), localPath); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	// Objects are keyed by base filename.
	data, err := os.ReadFile(filepath.Join(bucketDir, "pageviews-20240101-000000.gz"))
	if err != nil {
		t.Fatalf("read archived object: %v", err)
	}
	if string(data) != "compressed dump" {
		t.Errorf("archived content = %q", data)
	}
}

func TestStoreOverwritesExistingObject(t *testing.T) {
	srcDir, err := os.MkdirTemp("", "archive-src-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(srcDir)

	bucketDir, err := os.MkdirTemp("", "archive-bucket-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(bucketDir)

	localPath := filepath.Join(srcDir, "pageviews-20240101-000000.gz")
	m, err := New(context.Background(), "file://"+bucketDir, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer m.Close()

	for _, content := range []string{"first", "second"} {
		if err := os.WriteFile(localPath, []byte(content), 0644); err != nil {
			t.Fatalf("write source file: %v", err)
		}
		if err := m.Store(context.Background(), localPath); err != nil {
			t.Fatalf("Store failed: %v", err)
		}
	}

	data, err := os.ReadFile(filepath.Join(bucketDir, "pageviews-20240101-000000.gz"))
	if err != nil {
		t.Fatalf("read archived object: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("archived content = %q, want second", data)
	}
}

func TestStoreMissingSourceFails(t *testing.T) {
	bucketDir, err := os.MkdirTemp("", "archive-bucket-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(bucketDir)

	m, err := New(context.Background(), "file://"+bucketDir, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer m.Close()

	if err := m.Store(context.Background(), filepath.Join(bucketDir, "missing.gz")); err == nil {
		t.Error("expected error for missing source file")
	}
}
