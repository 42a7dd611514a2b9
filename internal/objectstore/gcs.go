package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"vidingest/internal/config"
)

// GCS stores objects in a Google Cloud Storage bucket.
type GCS struct {
	client    *storage.Client
	bucket    string
	prefix    string
	baseURL   string
	overwrite bool
}

// NewGCS creates a client using the configured credentials file, or
// application default credentials when none is set.
func NewGCS(ctx context.Context, cfg config.Storage) (*GCS, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs: bucket is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: create client: %w", err)
	}
	return &GCS{
		client:    client,
		bucket:    cfg.Bucket,
		prefix:    cfg.Prefix,
		baseURL:   cfg.PublicBaseURL,
		overwrite: cfg.Overwrite,
	}, nil
}

func (g *GCS) object(key string) *storage.ObjectHandle {
	return g.client.Bucket(g.bucket).Object(joinKey(g.prefix, key))
}

func (g *GCS) Bucket() string { return g.bucket }

func (g *GCS) URI(key string) string {
	return httpURI(g.baseURL, g.bucket, joinKey(g.prefix, key))
}

func (g *GCS) Exists(ctx context.Context, key string) (bool, error) {
	if _, err := g.object(key).Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("gcs: stat %s: %w", key, err)
	}
	return true, nil
}

func (g *GCS) Put(ctx context.Context, localPath, key string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("gcs: open %s: %w", localPath, err)
	}
	defer file.Close()

	obj := g.object(key)
	if !g.overwrite {
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	}
	w := obj.NewWriter(ctx)
	w.ContentType = contentType(key)
	if _, err := io.Copy(w, file); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs: upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
			return g.URI(key), ErrExists
		}
		return "", fmt.Errorf("gcs: finalize %s: %w", key, err)
	}
	return g.URI(key), nil
}

func (g *GCS) Get(ctx context.Context, key, localPath string) error {
	reader, err := g.object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("gcs: %s: %w", key, ErrNotFound)
		}
		return fmt.Errorf("gcs: open %s: %w", key, err)
	}
	defer reader.Close()
	return writeFileAtomic(localPath, reader)
}

func (g *GCS) List(ctx context.Context, prefix string) ([]string, error) {
	q := &storage.Query{Prefix: joinKey(g.prefix, prefix), Versions: false}
	it := g.client.Bucket(g.bucket).Objects(ctx, q)
	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcs: list %s: %w", prefix, err)
		}
		keys = append(keys, trimPrefix(g.prefix, attrs.Name))
	}
	return keys, nil
}

func (g *GCS) Delete(ctx context.Context, key string) error {
	if err := g.object(key).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs: delete %s: %w", key, err)
	}
	return nil
}

func (g *GCS) Ping(ctx context.Context) error {
	if _, err := g.client.Bucket(g.bucket).Attrs(ctx); err != nil {
		return fmt.Errorf("gcs: bucket %s: %w", g.bucket, err)
	}
	return nil
}

// Close releases the underlying client.
func (g *GCS) Close() error {
	return g.client.Close()
}

func writeFileAtomic(localPath string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", localPath, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(localPath), "."+filepath.Base(localPath)+".part-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", localPath, err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", localPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", localPath, err)
	}
	if err := os.Rename(tmp.Name(), localPath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename %s: %w", localPath, err)
	}
	return nil
}
