package testsupport

import (
	"context"
	"testing"

	"vidingest/internal/catalog"
	"vidingest/internal/config"
	"vidingest/internal/objectstore"
)

// MustOpenObjectStore opens the local object store described by cfg.
func MustOpenObjectStore(t testing.TB, cfg *config.Config) *objectstore.Local {
	t.Helper()

	store, err := objectstore.NewLocal(cfg.Storage.LocalRoot, cfg.Storage.Bucket, cfg.Storage.Prefix, cfg.Storage.Overwrite)
	if err != nil {
		t.Fatalf("open object store: %v", err)
	}
	return store
}

// MustOpenCatalog opens the local catalog described by cfg and registers
// cleanup.
func MustOpenCatalog(t testing.TB, cfg *config.Config) *catalog.Local {
	t.Helper()

	local, err := catalog.OpenLocal(context.Background(), cfg.Catalog.LocalPath)
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(func() {
		_ = local.Close()
	})
	return local
}
