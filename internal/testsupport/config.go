package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"vidingest/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Storage and catalog default to the local backends so tests never reach the
// network.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StagingDir = filepath.Join(base, "staging")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Source.Root = filepath.Join(base, "source")
	cfgVal.Transcode.Backend = "none"
	cfgVal.Storage.Backend = "local"
	cfgVal.Storage.Bucket = "test-bucket"
	cfgVal.Storage.LocalRoot = filepath.Join(base, "objects")
	cfgVal.Catalog.Backend = "local"
	cfgVal.Catalog.DatasetID = "test-dataset"
	cfgVal.Catalog.LocalPath = filepath.Join(base, "catalog.db")
	cfgVal.Catalog.WaitTimeoutSeconds = 5
	cfgVal.Catalog.PollIntervalSeconds = 1
	cfgVal.Fetch.OutputDir = filepath.Join(base, "downloads")

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithWorkers sets the worker pool size.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.Workers = n
	}
}

// WithPolicy sets the registration policy.
func WithPolicy(policy string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Catalog.Policy = policy
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, ffmpeg is stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StagingDir)
}
