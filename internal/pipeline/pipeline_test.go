package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"vidingest/internal/catalog"
	"vidingest/internal/config"
	"vidingest/internal/ingest"
	"vidingest/internal/objectstore"
	"vidingest/internal/pipeline"
	"vidingest/internal/services"
	"vidingest/internal/testsupport"
)

type harness struct {
	cfg        *config.Config
	store      *objectstore.Local
	local      *catalog.Local
	dataset    *testsupport.RecordingDataset
	transcoder *testsupport.FakeTranscoder
	items      []ingest.WorkItem
}

func newHarness(t *testing.T, names ...string) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenObjectStore(t, cfg)
	local := testsupport.MustOpenCatalog(t, cfg)
	ds, err := local.Dataset(context.Background(), cfg.Catalog.DatasetID)
	if err != nil {
		t.Fatalf("Dataset: %v", err)
	}
	h := &harness{
		cfg:        cfg,
		store:      store,
		local:      local,
		dataset:    &testsupport.RecordingDataset{Dataset: ds},
		transcoder: &testsupport.FakeTranscoder{FailOn: "broken"},
	}
	for i, path := range testsupport.WriteSources(t, cfg.Source.Root, names...) {
		stem := strings.TrimSuffix(filepath.Base(names[i]), filepath.Ext(names[i]))
		h.items = append(h.items, ingest.WorkItem{
			ID:        names[i],
			Source:    path,
			Key:       stem,
			ObjectKey: stem + ".mp4",
		})
	}
	return h
}

func (h *harness) run(t *testing.T, ctx context.Context, mutate func(*pipeline.Options)) *ingest.RunReport {
	t.Helper()
	opts := pipeline.OptionsFromConfig(h.cfg)
	opts.Wait = catalog.WaitPolicy{Timeout: 5 * time.Second, Interval: 5 * time.Millisecond}
	if mutate != nil {
		mutate(&opts)
	}
	p, err := pipeline.New(opts, h.transcoder, h.store, h.dataset)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	report, err := p.Run(ctx, h.items)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := report.CheckPartition(h.items); err != nil {
		t.Fatalf("report does not partition the input: %v", err)
	}
	return report
}

func uploads(report *ingest.RunReport) int {
	n := 0
	for _, o := range report.Outcomes {
		if o.Uploaded {
			n++
		}
	}
	return n
}

func TestRunWithOneFailingTranscode(t *testing.T) {
	h := newHarness(t, "a.mov", "broken.mov", "c.mov")
	report := h.run(t, context.Background(), nil)

	if got, want := report.Succeeded(), []string{"a.mov", "c.mov"}; !equal(got, want) {
		t.Fatalf("Succeeded = %v, want %v", got, want)
	}
	if reason := report.Failed()["broken.mov"]; reason != ingest.ReasonConversionError {
		t.Fatalf("broken.mov reason = %q, want conversion_error", reason)
	}
	if uploads(report) != 2 {
		t.Fatalf("uploads = %d, want 2", uploads(report))
	}
	rows, err := h.local.Rows(context.Background(), h.cfg.Catalog.DatasetID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows["a"] != h.store.URI("a.mp4") {
		t.Fatalf("catalog rows = %v", rows)
	}
	if batches := h.dataset.Batches(); len(batches) != 1 || len(batches[0]) != 2 {
		t.Fatalf("expected one batch of 2 rows, got %v", batches)
	}
	if !report.HasFailures() {
		t.Fatal("report should signal failures")
	}
}

func TestRerunIsIdempotent(t *testing.T) {
	h := newHarness(t, "a.mov", "broken.mov", "c.mov")
	first := h.run(t, context.Background(), nil)
	callsAfterFirst := h.transcoder.Calls()

	second := h.run(t, context.Background(), nil)
	if uploads(second) != 0 {
		t.Fatalf("rerun uploaded %d objects", uploads(second))
	}
	// Only the item that failed before is transformed again.
	if extra := h.transcoder.Calls() - callsAfterFirst; extra != 1 {
		t.Fatalf("rerun ran the transcoder %d times, want 1", extra)
	}
	if got := len(h.dataset.Batches()); got != 2 {
		t.Fatalf("registration batches = %d, want 2", got)
	}
	for _, id := range []string{"a.mov", "c.mov"} {
		o, _ := second.Outcome(id)
		if o.State != ingest.StateSkipped || o.Reason != ingest.ReasonAlreadyRegistered {
			t.Fatalf("%s = %s/%s, want skipped/already_registered", id, o.State, o.Reason)
		}
		prev, _ := first.Outcome(id)
		if o.URI != prev.URI {
			t.Fatalf("%s uri changed between runs: %q -> %q", id, prev.URI, o.URI)
		}
	}
	if second.Failed()["broken.mov"] != ingest.ReasonConversionError {
		t.Fatalf("broken.mov should still fail: %v", second.Failed())
	}
	rows, _ := h.local.Rows(context.Background(), h.cfg.Catalog.DatasetID)
	if len(rows) != 2 {
		t.Fatalf("catalog gained rows on rerun: %v", rows)
	}
}

func TestSkipRegisteredPolicyAvoidsSubmission(t *testing.T) {
	h := newHarness(t, "a.mov", "b.mov")
	h.run(t, context.Background(), nil)

	report := h.run(t, context.Background(), func(o *pipeline.Options) {
		o.Policy = config.PolicySkipRegistered
	})
	if got := len(h.dataset.Batches()); got != 1 {
		t.Fatalf("second run submitted rows: %d batches", got)
	}
	if got := report.Skipped(); !equal(got, []string{"a.mov", "b.mov"}) {
		t.Fatalf("Skipped = %v", got)
	}
}

func TestFreshUploadWithRegisteredKeyIsDuplicate(t *testing.T) {
	h := newHarness(t, "a.mov")
	h.run(t, context.Background(), nil)
	if err := h.store.Delete(context.Background(), "a.mp4"); err != nil {
		t.Fatal(err)
	}

	report := h.run(t, context.Background(), nil)
	if reason := report.Failed()["a.mov"]; reason != ingest.ReasonDuplicateKey {
		t.Fatalf("reason = %q, want duplicate_key", reason)
	}
	if uploads(report) != 1 {
		t.Fatal("object should have been uploaded again")
	}
}

func TestRerunWithOverwriteSkipsRegisteredRows(t *testing.T) {
	h := newHarness(t, "a.mov", "b.mov")
	first := h.run(t, context.Background(), nil)

	h.cfg.Storage.Overwrite = true
	h.store = testsupport.MustOpenObjectStore(t, h.cfg)
	callsBefore := h.transcoder.Calls()
	second := h.run(t, context.Background(), func(o *pipeline.Options) {
		o.Overwrite = true
	})

	if second.HasFailures() {
		t.Fatalf("overwrite rerun reported failures: %v", second.Failed())
	}
	if uploads(second) != 2 {
		t.Fatalf("uploads = %d, want 2", uploads(second))
	}
	if extra := h.transcoder.Calls() - callsBefore; extra != 2 {
		t.Fatalf("transcoder ran %d times, want 2", extra)
	}
	for _, id := range []string{"a.mov", "b.mov"} {
		o, _ := second.Outcome(id)
		if o.State != ingest.StateSkipped || o.Reason != ingest.ReasonAlreadyRegistered {
			t.Fatalf("%s = %s/%s, want skipped/already_registered", id, o.State, o.Reason)
		}
		prev, _ := first.Outcome(id)
		if o.URI != prev.URI {
			t.Fatalf("%s uri changed: %q -> %q", id, prev.URI, o.URI)
		}
	}
}

func TestRegisterOnlyModeDoesNotUpload(t *testing.T) {
	h := newHarness(t, "a.mov", "b.mov")
	report := h.run(t, context.Background(), func(o *pipeline.Options) {
		o.Mode = config.ModeRegisterOnly
	})
	if uploads(report) != 0 || h.transcoder.Calls() != 0 {
		t.Fatalf("register_only touched artifacts: uploads=%d converts=%d", uploads(report), h.transcoder.Calls())
	}
	keys, err := h.store.List(context.Background(), "")
	if err != nil || len(keys) != 0 {
		t.Fatalf("store contents = %v, %v", keys, err)
	}
	if got := report.Succeeded(); !equal(got, []string{"a.mov", "b.mov"}) {
		t.Fatalf("Succeeded = %v", got)
	}
	o, _ := report.Outcome("a.mov")
	if o.URI != h.store.URI("a.mp4") {
		t.Fatalf("uri = %q", o.URI)
	}
}

func TestDryRunChangesNothing(t *testing.T) {
	h := newHarness(t, "a.mov", "b.mov")
	report := h.run(t, context.Background(), func(o *pipeline.Options) {
		o.DryRun = true
	})
	if len(h.dataset.Batches()) != 0 || h.transcoder.Calls() != 0 || uploads(report) != 0 {
		t.Fatal("dry run performed work")
	}
	for _, o := range report.Outcomes {
		if o.State != ingest.StateSkipped || o.Reason != ingest.ReasonDryRun {
			t.Fatalf("%s = %s/%s", o.ID, o.State, o.Reason)
		}
	}
}

func TestDuplicateKeysFailFast(t *testing.T) {
	h := newHarness(t, "x/a.mov", "y/a.mov")
	p, err := pipeline.New(pipeline.OptionsFromConfig(h.cfg), h.transcoder, h.store, h.dataset)
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Run(context.Background(), h.items)
	if !errors.Is(err, services.ErrEnumeration) || !services.IsFatal(err) {
		t.Fatalf("Run error = %v, want fatal ErrEnumeration", err)
	}
	if h.transcoder.Calls() != 0 || len(h.dataset.Batches()) != 0 {
		t.Fatal("work started despite duplicate keys")
	}
	if _, err := os.Stat(h.cfg.Paths.StagingDir); !os.IsNotExist(err) {
		t.Fatalf("staging directory created: %v", err)
	}
}

func TestCancelledRunReportsInterrupted(t *testing.T) {
	h := newHarness(t, "a.mov", "b.mov", "c.mov")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report := h.run(t, ctx, nil)
	failed := report.Failed()
	if len(failed) != 3 {
		t.Fatalf("failed = %v, want all three", failed)
	}
	for id, reason := range failed {
		if reason != ingest.ReasonInterrupted {
			t.Fatalf("%s reason = %q, want interrupted", id, reason)
		}
	}
}

func TestRegistrationTimeoutFailsPendingItems(t *testing.T) {
	h := newHarness(t, "a.mov", "b.mov")
	h.dataset.WaitErr = services.Wrap(services.ErrTimeout, "registration", "wait", "too slow", nil)
	report := h.run(t, context.Background(), nil)
	for _, id := range []string{"a.mov", "b.mov"} {
		if reason := report.Failed()[id]; reason != ingest.ReasonRegistrationError {
			t.Fatalf("%s reason = %q, want registration_error", id, reason)
		}
	}
	// The objects stay in the store so a rerun only needs to register.
	if exists, _ := h.store.Exists(context.Background(), "a.mp4"); !exists {
		t.Fatal("uploaded object missing after registration timeout")
	}
}

func TestWorkersUseIsolatedDirectoriesAndCleanUp(t *testing.T) {
	h := newHarness(t, "a.mov", "b.mov", "c.mov", "d.mov", "e.mov")
	report := h.run(t, context.Background(), func(o *pipeline.Options) {
		o.Workers = 3
	})
	if got := len(report.Succeeded()); got != 5 {
		t.Fatalf("succeeded = %d, want 5", got)
	}

	dirs := make(map[string]bool)
	for _, out := range h.transcoder.Outputs() {
		dir := filepath.Dir(out)
		if dirs[dir] {
			t.Fatalf("work directory %s reused", dir)
		}
		dirs[dir] = true
		if _, err := os.Stat(dir); !os.IsNotExist(err) {
			t.Fatalf("work directory %s left behind", dir)
		}
	}
	entries, err := os.ReadDir(h.cfg.Paths.StagingDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("staging not swept: %v", entries)
	}
	// Sources are never modified.
	for _, item := range h.items {
		data, err := os.ReadFile(item.Source)
		if err != nil || string(data) != "video:"+item.ID {
			t.Fatalf("source %s changed: %q, %v", item.ID, data, err)
		}
	}
}

func TestPassthroughUploadsSourceDirectly(t *testing.T) {
	h := newHarness(t, "a.mp4")
	report := h.run(t, context.Background(), nil)
	if h.transcoder.Calls() != 0 {
		t.Fatal("mp4 source should not be converted")
	}
	if uploads(report) != 1 {
		t.Fatal("mp4 source was not uploaded")
	}
}

func TestMissingSourceIsConversionError(t *testing.T) {
	h := newHarness(t, "a.mp4")
	if err := os.Remove(h.items[0].Source); err != nil {
		t.Fatal(err)
	}
	report := h.run(t, context.Background(), nil)
	if reason := report.Failed()["a.mp4"]; reason != ingest.ReasonConversionError {
		t.Fatalf("reason = %q, want conversion_error", reason)
	}
}

func equal(a, b []string) bool {
	a = append([]string(nil), a...)
	b = append([]string(nil), b...)
	sort.Strings(a)
	sort.Strings(b)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
