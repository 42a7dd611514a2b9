package testsupport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"vidingest/internal/catalog"
	"vidingest/internal/ingest"
)

// FakeTranscoder copies the source to the output. Sources whose base name
// contains FailOn fail without leaving output behind.
type FakeTranscoder struct {
	Container string
	FailOn    string

	mu      sync.Mutex
	outputs []string
}

func (f *FakeTranscoder) Name() string { return "fake" }

func (f *FakeTranscoder) Target() string {
	if f.Container == "" {
		return "mp4"
	}
	return f.Container
}

func (f *FakeTranscoder) Convert(ctx context.Context, in, out string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.outputs = append(f.outputs, out)
	f.mu.Unlock()
	if f.FailOn != "" && strings.Contains(filepath.Base(in), f.FailOn) {
		return fmt.Errorf("fake transcoder: cannot convert %s", filepath.Base(in))
	}
	src, err := os.Open(in)
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := os.Create(out)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(out)
		return err
	}
	return dst.Close()
}

// Outputs returns every output path Convert was asked to write.
func (f *FakeTranscoder) Outputs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.outputs...)
}

// Calls returns how many times Convert ran.
func (f *FakeTranscoder) Calls() int {
	return len(f.Outputs())
}

// RecordingDataset wraps a dataset and remembers every submitted batch. It
// forwards ExistingKeys when the wrapped dataset supports it.
type RecordingDataset struct {
	catalog.Dataset
	// WaitErr, when set, is returned by every task's Wait.
	WaitErr error

	mu      sync.Mutex
	batches [][]ingest.CatalogRecord
}

func (d *RecordingDataset) SubmitRows(ctx context.Context, records []ingest.CatalogRecord) (catalog.Task, error) {
	d.mu.Lock()
	d.batches = append(d.batches, append([]ingest.CatalogRecord(nil), records...))
	d.mu.Unlock()
	task, err := d.Dataset.SubmitRows(ctx, records)
	if err != nil {
		return nil, err
	}
	if d.WaitErr != nil {
		return failingTask{Task: task, err: d.WaitErr}, nil
	}
	return task, nil
}

func (d *RecordingDataset) ExistingKeys(ctx context.Context, keys []string) (map[string]bool, error) {
	lookup, ok := d.Dataset.(catalog.KeyLookup)
	if !ok {
		return nil, errors.New("wrapped dataset cannot look up keys")
	}
	return lookup.ExistingKeys(ctx, keys)
}

// Batches returns the submitted batches in order.
func (d *RecordingDataset) Batches() [][]ingest.CatalogRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]ingest.CatalogRecord(nil), d.batches...)
}

type failingTask struct {
	catalog.Task
	err error
}

func (t failingTask) Wait(context.Context, catalog.WaitPolicy) (*catalog.Result, error) {
	return nil, t.err
}
