package objectstore

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"vidingest/internal/config"
)

var (
	// ErrNotFound is returned by Get when the object does not exist.
	ErrNotFound = errors.New("object not found")
	// ErrExists is returned by Put when overwrite is off and the object is
	// already present.
	ErrExists = errors.New("object already exists")
)

// Store is the durable destination for artifacts. Keys are relative to the
// configured prefix; implementations apply it.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	// Put uploads localPath to key and returns the object's URI.
	Put(ctx context.Context, localPath, key string) (string, error)
	// Get downloads key into localPath.
	Get(ctx context.Context, key, localPath string) error
	// List returns keys under prefix, relative to the store prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
	// URI is a pure function of the store location and key.
	URI(key string) string
	Bucket() string
	// Ping verifies the destination is reachable.
	Ping(ctx context.Context) error
}

// New opens the store selected by cfg.
func New(ctx context.Context, cfg config.Storage) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "gcs":
		return NewGCS(ctx, cfg)
	case "s3":
		return NewS3(cfg)
	case "local":
		return NewLocal(cfg.LocalRoot, cfg.Bucket, cfg.Prefix, cfg.Overwrite)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}

func joinKey(prefix, key string) string {
	key = strings.TrimLeft(filepath.ToSlash(key), "/")
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

func trimPrefix(prefix, name string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return strings.TrimPrefix(name, prefix+"/")
}

// httpURI builds <base>/<bucket>/<object> with each path segment escaped.
func httpURI(base, bucket, object string) string {
	segments := strings.Split(path.Join(bucket, object), "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.TrimRight(base, "/") + "/" + strings.Join(segments, "/")
}

func contentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".mkv":
		return "video/x-matroska"
	}
	if value := mime.TypeByExtension(path.Ext(name)); value != "" {
		return value
	}
	return "application/octet-stream"
}
