// Package archive mirrors raw compressed dumps to an object-store bucket
// for retention after a successful load. The mirror is optional: with no
// bucket URL configured it is a no-op, and mirror failures never fail the
// file they belong to.
package archive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // gs:// driver
	_ "gocloud.dev/blob/memblob"  // mem:// driver, used in tests
	_ "gocloud.dev/blob/s3blob"   // s3:// driver
)

// Mirror copies local files into a blob bucket keyed by base filename.
type Mirror interface {
	// Store uploads the file at localPath under its base name.
	Store(ctx context.Context, localPath string) error
	Close() error
}

// New opens the bucket named by bucketURL (gs://, s3://, file://, mem://).
// An empty URL returns a disabled no-op mirror.
func New(ctx context.Context, bucketURL string, log *slog.Logger) (Mirror, error) {
	if bucketURL == "" {
		return noopMirror{}, nil
	}
	if log == nil {
		log = slog.Default()
	}

	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open archive bucket %s: %w", bucketURL, err)
	}

	log.Info("dump archive enabled", "bucket", bucketURL)
	return &bucketMirror{bucket: bucket, log: log}, nil
}

type bucketMirror struct {
	bucket *blob.Bucket
	log    *slog.Logger
}

func (m *bucketMirror) Store(ctx context.Context, localPath string) error {
	key := filepath.Base(localPath)

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	w, err := m.bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return fmt.Errorf("create writer for %s: %w", key, err)
	}

	n, err := io.Copy(w, f)
	if err != nil {
		w.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", key, err)
	}

	m.log.Debug("archived dump", "key", key, "bytes", n)
	return nil
}

func (m *bucketMirror) Close() error {
	return m.bucket.Close()
}

type noopMirror struct{}

func (noopMirror) Store(context.Context, string) error { return nil }
func (noopMirror) Close() error                        { return nil }
