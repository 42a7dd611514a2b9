package fetch_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"vidingest/internal/enumerate"
	"vidingest/internal/fetch"
	"vidingest/internal/ingest"
	"vidingest/internal/objectstore"
	"vidingest/internal/services"
)

func manifestItems(t *testing.T, serverURL string) []ingest.WorkItem {
	t.Helper()
	csv := strings.Join([]string{
		"video_name,download_link,collector_name",
		"a.mp4," + serverURL + "/a.mp4,alice",
		"b.mov," + serverURL + "/missing.mov,alice",
		"a.mp4," + serverURL + "/a-bob.mp4,bob",
	}, "\n")
	items, err := enumerate.ReadManifest(strings.NewReader(csv), enumerate.ManifestOptions{
		NameColumn:       "video_name",
		SourceColumn:     "download_link",
		OwnerColumn:      "collector_name",
		RequireOwner:     true,
		QualifyWithOwner: true,
	})
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	return items
}

func TestFromManifestDownloadsIntoCollectorFolders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a.mp4":
			_, _ = w.Write([]byte("alice-a"))
		case "/a-bob.mp4":
			_, _ = w.Write([]byte("bob-a"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	out := t.TempDir()
	items := manifestItems(t, server.URL)
	report, err := fetch.FromManifest(context.Background(), items, fetch.NewHTTPClient(10*time.Second, 0), fetch.Options{
		OutputDir: out,
		Workers:   2,
	})
	if err != nil {
		t.Fatalf("FromManifest: %v", err)
	}
	if err := report.CheckPartition(items); err != nil {
		t.Fatal(err)
	}

	for path, want := range map[string]string{
		filepath.Join(out, "alice", "a.mp4"): "alice-a",
		filepath.Join(out, "bob", "a.mp4"):   "bob-a",
	} {
		data, err := os.ReadFile(path)
		if err != nil || string(data) != want {
			t.Fatalf("%s = %q, %v; want %q", path, data, err, want)
		}
	}
	if reason := report.Failed()["alice/b.mov"]; reason != ingest.ReasonTransferError {
		t.Fatalf("missing link reason = %q, want transfer_error", reason)
	}
	if _, err := os.Stat(filepath.Join(out, "alice", "b.mov")); !os.IsNotExist(err) {
		t.Fatalf("failed download left a file behind: %v", err)
	}
	entries, _ := os.ReadDir(filepath.Join(out, "alice"))
	for _, entry := range entries {
		if strings.Contains(entry.Name(), ".part-") {
			t.Fatalf("temporary file left behind: %s", entry.Name())
		}
	}
}

func TestFromManifestSkipsExistingFiles(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("fresh"))
	}))
	defer server.Close()

	out := t.TempDir()
	existing := filepath.Join(out, "alice", "a.mp4")
	if err := os.MkdirAll(filepath.Dir(existing), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(existing, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	items := manifestItems(t, server.URL)[:1]
	report, err := fetch.FromManifest(context.Background(), items, nil, fetch.Options{OutputDir: out})
	if err != nil {
		t.Fatal(err)
	}
	if got := report.Skipped(); len(got) != 1 || got[0] != "alice/a.mp4" {
		t.Fatalf("Skipped = %v", got)
	}
	if hits.Load() != 0 {
		t.Fatalf("server hit %d times for an existing file", hits.Load())
	}
	if data, _ := os.ReadFile(existing); string(data) != "old" {
		t.Fatal("existing file was overwritten")
	}
}

func TestFromBucketPullsVideos(t *testing.T) {
	ctx := context.Background()
	store, err := objectstore.NewLocal(t.TempDir(), "media", "", false)
	if err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(t.TempDir(), "src")
	for _, key := range []string{"x/one.mp4", "x/two.MOV", "notes.txt"} {
		if err := os.WriteFile(src, []byte(key), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := store.Put(ctx, src, key); err != nil {
			t.Fatal(err)
		}
	}

	items, err := fetch.BucketItems(ctx, store, "", []string{".mp4", ".mov"})
	if err != nil {
		t.Fatalf("BucketItems: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %+v, want two videos", items)
	}
	out := t.TempDir()
	report, err := fetch.FromBucket(ctx, store, items, fetch.Options{OutputDir: out})
	if err != nil {
		t.Fatalf("FromBucket: %v", err)
	}
	if got := report.Succeeded(); len(got) != 2 {
		t.Fatalf("Succeeded = %v", got)
	}
	if report.Source != "media" || report.Mode != "pull" {
		t.Fatalf("report header = %q/%q", report.Source, report.Mode)
	}
	data, err := os.ReadFile(filepath.Join(out, "two.MOV"))
	if err != nil || string(data) != "x/two.MOV" {
		t.Fatalf("two.MOV = %q, %v", data, err)
	}
}

func TestFromBucketRejectsBaseNameCollisions(t *testing.T) {
	store, err := objectstore.NewLocal(t.TempDir(), "media", "", false)
	if err != nil {
		t.Fatal(err)
	}
	items := []ingest.WorkItem{
		{ID: "a/clip.mp4", Source: "x", Key: "a/clip.mp4", ObjectKey: "a/clip.mp4"},
		{ID: "b/clip.mp4", Source: "x", Key: "b/clip.mp4", ObjectKey: "b/clip.mp4"},
	}
	_, err = fetch.FromBucket(context.Background(), store, items, fetch.Options{OutputDir: t.TempDir()})
	if !errors.Is(err, services.ErrEnumeration) {
		t.Fatalf("error = %v, want ErrEnumeration", err)
	}
}
