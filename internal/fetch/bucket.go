package fetch

import (
	"context"
	"path"
	"path/filepath"

	"vidingest/internal/enumerate"
	"vidingest/internal/ingest"
	"vidingest/internal/objectstore"
	"vidingest/internal/services"
)

// BucketItems lists objects under prefix whose extension is in exts.
func BucketItems(ctx context.Context, store objectstore.Store, prefix string, exts []string) ([]ingest.WorkItem, error) {
	keys, err := store.List(ctx, prefix)
	if err != nil {
		return nil, services.Wrap(services.ErrEnumeration, "pull", "list bucket", store.Bucket(), err)
	}
	var items []ingest.WorkItem
	for _, key := range keys {
		if !enumerate.HasExtension(key, exts) {
			continue
		}
		items = append(items, ingest.WorkItem{
			ID:        key,
			Source:    store.URI(key),
			Key:       key,
			ObjectKey: key,
		})
	}
	return items, nil
}

// FromBucket copies each object to <OutputDir>/<base name>. Two objects with
// the same base name are rejected before anything is downloaded.
func FromBucket(ctx context.Context, store objectstore.Store, items []ingest.WorkItem, opts Options) (*ingest.RunReport, error) {
	if opts.Source == "" {
		opts.Source = store.Bucket()
	}
	dest := func(item ingest.WorkItem) string {
		return filepath.Join(opts.OutputDir, path.Base(item.ObjectKey))
	}
	fetch := func(ctx context.Context, item ingest.WorkItem, localPath string) error {
		if err := store.Get(ctx, item.ObjectKey, localPath); err != nil {
			return services.Wrap(services.ErrTransfer, "pull", "get object", item.ObjectKey, err)
		}
		return nil
	}
	return run(ctx, "pull", items, dest, fetch, opts)
}
