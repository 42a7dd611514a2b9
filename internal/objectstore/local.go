package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Local stores objects under a directory tree. It backs tests and offline
// runs; URIs use the file scheme.
type Local struct {
	root      string
	bucket    string
	prefix    string
	overwrite bool
}

// NewLocal creates the bucket directory under root if needed.
func NewLocal(root, bucket, prefix string, overwrite bool) (*Local, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("local store: root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("local store: resolve root: %w", err)
	}
	l := &Local{root: abs, bucket: bucket, prefix: prefix, overwrite: overwrite}
	if err := os.MkdirAll(l.base(), 0o755); err != nil {
		return nil, fmt.Errorf("local store: create %s: %w", l.base(), err)
	}
	return l, nil
}

func (l *Local) base() string {
	return filepath.Join(l.root, l.bucket)
}

func (l *Local) path(key string) string {
	return filepath.Join(l.base(), filepath.FromSlash(joinKey(l.prefix, key)))
}

func (l *Local) Bucket() string { return l.bucket }

func (l *Local) URI(key string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(l.path(key))}
	return u.String()
}

func (l *Local) Exists(_ context.Context, key string) (bool, error) {
	info, err := os.Stat(l.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("local store: stat %s: %w", key, err)
	}
	return info.Mode().IsRegular(), nil
}

func (l *Local) Put(ctx context.Context, localPath, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !l.overwrite {
		exists, err := l.Exists(ctx, key)
		if err != nil {
			return "", err
		}
		if exists {
			return l.URI(key), ErrExists
		}
	}
	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("local store: open %s: %w", localPath, err)
	}
	defer src.Close()
	if err := writeFileAtomic(l.path(key), src); err != nil {
		return "", fmt.Errorf("local store: %w", err)
	}
	return l.URI(key), nil
}

func (l *Local) Get(ctx context.Context, key, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := os.Open(l.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("local store: %s: %w", key, ErrNotFound)
		}
		return fmt.Errorf("local store: open %s: %w", key, err)
	}
	defer src.Close()
	return writeFileAtomic(localPath, src)
}

func (l *Local) List(ctx context.Context, prefix string) ([]string, error) {
	start := filepath.Join(l.base(), filepath.FromSlash(strings.Trim(l.prefix, "/")))
	want := joinKey(l.prefix, prefix)
	var keys []string
	err := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || strings.Contains(d.Name(), ".part-") {
			return nil
		}
		rel, err := filepath.Rel(l.base(), path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if strings.HasPrefix(name, want) {
			keys = append(keys, trimPrefix(l.prefix, name))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("local store: list %s: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (l *Local) Delete(_ context.Context, key string) error {
	if err := os.Remove(l.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("local store: delete %s: %w", key, err)
	}
	return nil
}

func (l *Local) Ping(context.Context) error {
	info, err := os.Stat(l.base())
	if err != nil {
		return fmt.Errorf("local store: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("local store: %s is not a directory", l.base())
	}
	return nil
}
