package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vidingest/internal/testsupport"
)

func TestDownloadWritesPerCollectorFolders(t *testing.T) {
	env := setupCLITestEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "payload:%s", strings.TrimPrefix(r.URL.Path, "/"))
	}))
	defer srv.Close()

	manifest := filepath.Join(env.baseDir, "manifest.csv")
	testsupport.WriteFile(t, manifest, "video_name,download_link,collector_name\n"+
		"clip.mp4,"+srv.URL+"/one,alice\n"+
		"clip.mp4,"+srv.URL+"/two,bob\n")
	output := filepath.Join(env.baseDir, "out")

	stdout, _, err := runCLI(t, []string{"download", "--manifest", manifest, "--output", output}, env.configPath)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	requireContains(t, stdout, "[OK] 2")

	for owner, want := range map[string]string{"alice": "payload:one", "bob": "payload:two"} {
		data, err := os.ReadFile(filepath.Join(output, owner, "clip.mp4"))
		if err != nil {
			t.Fatalf("read %s download: %v", owner, err)
		}
		if string(data) != want {
			t.Fatalf("%s download = %q, want %q", owner, data, want)
		}
	}
}

func TestDownloadRequiresCollectorColumn(t *testing.T) {
	env := setupCLITestEnv(t)
	manifest := filepath.Join(env.baseDir, "manifest.csv")
	testsupport.WriteFile(t, manifest, "video_name,download_link\nclip.mp4,http://example.invalid/clip.mp4\n")

	_, _, err := runCLI(t, []string{"download", "--manifest", manifest, "--output", filepath.Join(env.baseDir, "out")}, env.configPath)
	if err == nil {
		t.Fatal("expected missing collector column to fail")
	}
	if code := exitCode(err); code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
}

func TestPullCopiesBucketObjects(t *testing.T) {
	env := setupCLITestEnv(t)
	store := testsupport.MustOpenObjectStore(t, env.cfg)
	sources := testsupport.WriteSources(t, filepath.Join(env.baseDir, "upload"), "a.mp4", "notes.txt")
	ctx := context.Background()
	if _, err := store.Put(ctx, sources[0], "clips/a.mp4"); err != nil {
		t.Fatalf("put video: %v", err)
	}
	if _, err := store.Put(ctx, sources[1], "clips/notes.txt"); err != nil {
		t.Fatalf("put notes: %v", err)
	}
	output := filepath.Join(env.baseDir, "pulled")

	if _, _, err := runCLI(t, []string{"pull", "--prefix", "clips", "--output", output}, env.configPath); err != nil {
		t.Fatalf("pull: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(output, "a.mp4"))
	if err != nil {
		t.Fatalf("read pulled file: %v", err)
	}
	if string(data) != "video:a.mp4" {
		t.Fatalf("pulled content = %q", data)
	}
	if _, err := os.Stat(filepath.Join(output, "notes.txt")); !os.IsNotExist(err) {
		t.Fatalf("non-video object should not be pulled, stat err=%v", err)
	}

	// A second pull finds everything in place.
	stdout, _, err := runCLI(t, []string{"pull", "--json", "--prefix", "clips", "--output", output}, env.configPath)
	if err != nil {
		t.Fatalf("second pull: %v", err)
	}
	report := decodeReport(t, stdout)
	if report.Counts().Skipped != 1 {
		t.Fatalf("expected one skipped item, got %+v", report.Counts())
	}
}
