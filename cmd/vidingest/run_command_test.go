package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"vidingest/internal/config"
	"vidingest/internal/ingest"
	"vidingest/internal/services"
	"vidingest/internal/testsupport"
)

func TestRunIngestsDirectory(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.WriteSources(t, env.cfg.Source.Root, "a.mp4", "nested/b.mov")

	stdout, _, err := runCLI(t, []string{"run", env.cfg.Source.Root}, env.configPath)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	requireContains(t, stdout, "Succeeded:")
	requireContains(t, stdout, "[OK] 2")

	store := testsupport.MustOpenObjectStore(t, env.cfg)
	for _, key := range []string{"a.mp4", "b.mov"} {
		ok, err := store.Exists(context.Background(), key)
		if err != nil || !ok {
			t.Fatalf("expected object %s, exists=%v err=%v", key, ok, err)
		}
	}

	cat := testsupport.MustOpenCatalog(t, env.cfg)
	rows, err := cat.Rows(context.Background(), env.cfg.Catalog.DatasetID)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 catalog rows, got %d", len(rows))
	}
	if rows["a"] != store.URI("a.mp4") {
		t.Fatalf("row a points at %q, want %q", rows["a"], store.URI("a.mp4"))
	}
}

func TestRunTwiceSkipsRegisteredItems(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.WriteSources(t, env.cfg.Source.Root, "a.mp4", "b.mp4")

	if _, _, err := runCLI(t, []string{"run", env.cfg.Source.Root}, env.configPath); err != nil {
		t.Fatalf("first run: %v", err)
	}
	stdout, _, err := runCLI(t, []string{"run", "--json", env.cfg.Source.Root}, env.configPath)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	report := decodeReport(t, stdout)
	counts := report.Counts()
	if counts.Skipped != 2 || counts.Failed != 0 {
		t.Fatalf("unexpected counts on rerun: %+v", counts)
	}
	for _, o := range report.Outcomes {
		if o.Reason != ingest.ReasonAlreadyRegistered {
			t.Fatalf("item %s skipped for %q, want already_registered", o.ID, o.Reason)
		}
		if o.Uploaded {
			t.Fatalf("item %s was uploaded again", o.ID)
		}
	}
}

func TestRunOverwriteRerunSucceeds(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.WriteSources(t, env.cfg.Source.Root, "a.mp4", "b.mp4")

	if _, _, err := runCLI(t, []string{"run", env.cfg.Source.Root}, env.configPath); err != nil {
		t.Fatalf("first run: %v", err)
	}
	stdout, _, err := runCLI(t, []string{"run", "--json", "--overwrite", env.cfg.Source.Root}, env.configPath)
	if err != nil {
		t.Fatalf("overwrite run: %v", err)
	}
	for _, o := range decodeReport(t, stdout).Outcomes {
		if o.State != ingest.StateSkipped || o.Reason != ingest.ReasonAlreadyRegistered || !o.Uploaded {
			t.Fatalf("item %s = %s/%s uploaded=%v, want a re-uploaded already_registered skip", o.ID, o.State, o.Reason, o.Uploaded)
		}
	}
}

func TestRunWithFailedItemsExitsOne(t *testing.T) {
	env := setupCLITestEnv(t)
	manifest := filepath.Join(env.baseDir, "manifest.csv")
	content := "video_name,download_link,collector_name\n" +
		fmt.Sprintf("missing.mp4,%s,alice\n", filepath.Join(env.baseDir, "nowhere", "missing.mp4"))
	testsupport.WriteFile(t, manifest, content)

	stdout, _, err := runCLI(t, []string{"run", "--manifest", manifest}, env.configPath)
	if !errors.Is(err, errItemsFailed) {
		t.Fatalf("expected errItemsFailed, got %v", err)
	}
	if code := exitCode(err); code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	requireContains(t, stdout, "missing.mp4")
	requireContains(t, stdout, "[ERROR] 1")
}

func TestRunDuplicateKeysIsFatal(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.WriteSources(t, env.cfg.Source.Root, "clip.mp4", "other/clip.mp4")

	_, _, err := runCLI(t, []string{"run", env.cfg.Source.Root}, env.configPath)
	if !errors.Is(err, services.ErrEnumeration) {
		t.Fatalf("expected enumeration error, got %v", err)
	}
	if code := exitCode(err); code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}

	store := testsupport.MustOpenObjectStore(t, env.cfg)
	keys, err := store.List(context.Background(), "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("nothing should be uploaded, found %v", keys)
	}
}

func TestRunMissingSourceIsConfigurationError(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"run", filepath.Join(env.baseDir, "absent")}, env.configPath)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if code := exitCode(err); code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
}

func TestRunRejectsUnknownPolicy(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.WriteSources(t, env.cfg.Source.Root, "a.mp4")

	_, _, err := runCLI(t, []string{"run", "--policy", "sometimes", env.cfg.Source.Root}, env.configPath)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestRunDryRunTouchesNothing(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.WriteSources(t, env.cfg.Source.Root, "a.mp4", "b.mp4")

	stdout, _, err := runCLI(t, []string{"run", "--dry-run", "--json", env.cfg.Source.Root}, env.configPath)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	report := decodeReport(t, stdout)
	for _, o := range report.Outcomes {
		if o.State != ingest.StateSkipped || o.Reason != ingest.ReasonDryRun {
			t.Fatalf("item %s ended %s/%s, want skipped/dry_run", o.ID, o.State, o.Reason)
		}
	}

	store := testsupport.MustOpenObjectStore(t, env.cfg)
	keys, err := store.List(context.Background(), "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("dry run uploaded %v", keys)
	}
}

func TestRunRegisterOnlyUsesExistingObjects(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.WriteSources(t, env.cfg.Source.Root, "a.mp4")

	stdout, _, err := runCLI(t, []string{"run", "--mode", config.ModeRegisterOnly, "--json", env.cfg.Source.Root}, env.configPath)
	if err != nil {
		t.Fatalf("register only: %v", err)
	}
	report := decodeReport(t, stdout)
	outcome, ok := report.Outcome("a.mp4")
	if !ok || outcome.State != ingest.StateRegistered {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if outcome.Uploaded {
		t.Fatal("register_only must not upload")
	}

	store := testsupport.MustOpenObjectStore(t, env.cfg)
	if exists, _ := store.Exists(context.Background(), "a.mp4"); exists {
		t.Fatal("register_only created an object")
	}
}

func writeNameOnlyManifest(t *testing.T, dir string, names ...string) string {
	t.Helper()
	content := "video_name\n"
	for _, name := range names {
		content += name + "\n"
	}
	path := filepath.Join(dir, "testbed.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestRunNameOnlyManifestUsesSourceRoot(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.WriteSources(t, env.cfg.Source.Root, "a.mp4", "b.mp4")
	manifest := writeNameOnlyManifest(t, env.baseDir, "a.mp4", "b.mp4")

	stdout, _, err := runCLI(t, []string{"run", "--json", "--manifest", manifest}, env.configPath)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	report := decodeReport(t, stdout)
	if counts := report.Counts(); counts.Succeeded != 2 || counts.Failed != 0 {
		t.Fatalf("unexpected counts %+v", counts)
	}
	store := testsupport.MustOpenObjectStore(t, env.cfg)
	for _, key := range []string{"a.mp4", "b.mp4"} {
		if ok, err := store.Exists(context.Background(), key); err != nil || !ok {
			t.Fatalf("expected object %s, exists=%v err=%v", key, ok, err)
		}
	}
}

func TestRunNameOnlyManifestSourceRootFlag(t *testing.T) {
	env := setupCLITestEnv(t)
	elsewhere := filepath.Join(env.baseDir, "elsewhere")
	testsupport.WriteSources(t, elsewhere, "c.mp4")
	manifest := writeNameOnlyManifest(t, env.baseDir, "c.mp4")

	stdout, _, err := runCLI(t, []string{"run", "--json", "--manifest", manifest, "--source-root", elsewhere}, env.configPath)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	outcome, ok := decodeReport(t, stdout).Outcome("c.mp4")
	if !ok || outcome.State != ingest.StateRegistered || !outcome.Uploaded {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
}

func TestRunRegisterOnlyNameOnlyManifest(t *testing.T) {
	env := setupCLITestEnv(t)
	manifest := writeNameOnlyManifest(t, env.baseDir, "a.mp4", "b.mp4")

	stdout, _, err := runCLI(t, []string{"run", "--json", "--mode", config.ModeRegisterOnly, "--manifest", manifest}, env.configPath)
	if err != nil {
		t.Fatalf("register only: %v", err)
	}
	report := decodeReport(t, stdout)
	if counts := report.Counts(); counts.Succeeded != 2 {
		t.Fatalf("unexpected counts %+v", counts)
	}
	store := testsupport.MustOpenObjectStore(t, env.cfg)
	rows, err := testsupport.MustOpenCatalog(t, env.cfg).Rows(context.Background(), env.cfg.Catalog.DatasetID)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if rows["b"] != store.URI("b.mp4") {
		t.Fatalf("row b points at %q, want %q", rows["b"], store.URI("b.mp4"))
	}
}

func TestRunWritesReportAndHistory(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.WriteSources(t, env.cfg.Source.Root, "a.mp4")
	reportPath := filepath.Join(env.baseDir, "reports", "run.json")

	if _, _, err := runCLI(t, []string{"run", "--report", reportPath, env.cfg.Source.Root}, env.configPath); err != nil {
		t.Fatalf("run: %v", err)
	}
	data, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	report := decodeReport(t, string(data))
	if report.Counts().Succeeded != 1 {
		t.Fatalf("unexpected report counts %+v", report.Counts())
	}

	stdout, _, err := runCLI(t, []string{"history"}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, stdout, shortID(report.RunID))

	stdout, _, err = runCLI(t, []string{"history", "show", "--json", report.RunID[:8]}, env.configPath)
	if err != nil {
		t.Fatalf("history show: %v", err)
	}
	shown := decodeReport(t, stdout)
	if shown.RunID != report.RunID || len(shown.Outcomes) != 1 {
		t.Fatalf("history show returned %+v", shown)
	}

	_, _, err = runCLI(t, []string{"history", "show", "zzzz"}, env.configPath)
	if err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, 0},
		{"item failures", errItemsFailed, 1},
		{"wrapped item failures", fmt.Errorf("run: %w", errItemsFailed), 1},
		{"configuration", services.Wrap(services.ErrConfiguration, "config", "load", "", nil), 2},
		{"enumeration", services.Wrap(services.ErrEnumeration, "enumerate", "walk", "", nil), 2},
		{"other", errors.New("boom"), 2},
	}
	for _, tc := range cases {
		if got := exitCode(tc.err); got != tc.want {
			t.Errorf("%s: exitCode = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestRunSendsCompletionNotification(t *testing.T) {
	bodies := make(chan string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		bodies <- string(data)
	}))
	defer srv.Close()

	env := setupCLITestEnv(t)
	env.cfg.Notify.NtfyTopic = srv.URL + "/ingest"
	writeTestConfig(t, env.configPath, env.cfg)
	testsupport.WriteSources(t, env.cfg.Source.Root, "a.mp4")

	if _, _, err := runCLI(t, []string{"run", env.cfg.Source.Root}, env.configPath); err != nil {
		t.Fatalf("run: %v", err)
	}
	select {
	case body := <-bodies:
		requireContains(t, body, "1 items: 1 succeeded")
	default:
		t.Fatal("expected a completion notification")
	}
}

func TestLogsShowsRunLines(t *testing.T) {
	env := setupCLITestEnv(t)
	env.cfg.Logging.Level = "info"
	env.cfg.Logging.Format = "json"
	writeTestConfig(t, env.configPath, env.cfg)
	testsupport.WriteSources(t, env.cfg.Source.Root, "a.mp4")

	stdout, _, err := runCLI(t, []string{"run", "--json", env.cfg.Source.Root}, env.configPath)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	report := decodeReport(t, stdout)

	stdout, _, err = runCLI(t, []string{"logs", "--run", report.RunID, "-n", "500"}, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, stdout, report.RunID)
	requireContains(t, stdout, "work items enumerated")
}
