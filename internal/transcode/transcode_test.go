package transcode

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vidingest/internal/config"
	"vidingest/internal/services"
)

// stubFFmpeg writes a fake ffmpeg that copies a marker into its last argument.
// Remux attempts fail when STUB_REMUX_FAIL is set; any invocation whose input
// path contains "broken" fails outright.
func stubFFmpeg(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	script := `#!/bin/sh
for last; do :; done
echo "$*" >> "$STUB_LOG"
case "$*" in *broken*) echo "Invalid data found when processing input" >&2; exit 1;; esac
case "$*" in *"-c copy"*)
  if [ -n "$STUB_REMUX_FAIL" ]; then echo "codec not currently supported in container" >&2; exit 1; fi
  printf remux > "$last"; exit 0;;
esac
printf encode > "$last"
`
	path := filepath.Join(dir, "ffmpeg")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	t.Setenv("STUB_LOG", filepath.Join(dir, "calls.log"))
	return path
}

func writeSource(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("source"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

func TestFFmpegRemuxSucceeds(t *testing.T) {
	bin := stubFFmpeg(t)
	src := writeSource(t, "clip.MOV")
	out := filepath.Join(t.TempDir(), "clip.mp4")

	ff := NewFFmpeg(bin, "mp4", 0)
	if err := ff.Convert(context.Background(), src, out); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil || string(data) != "remux" {
		t.Fatalf("expected remux output, got %q err=%v", data, err)
	}
	if orig, _ := os.ReadFile(src); string(orig) != "source" {
		t.Fatal("source was modified")
	}
}

func TestFFmpegFallsBackToEncode(t *testing.T) {
	bin := stubFFmpeg(t)
	t.Setenv("STUB_REMUX_FAIL", "1")
	src := writeSource(t, "clip.avi")
	out := filepath.Join(t.TempDir(), "clip.mp4")

	if err := NewFFmpeg(bin, "mp4", 0).Convert(context.Background(), src, out); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	data, _ := os.ReadFile(out)
	if string(data) != "encode" {
		t.Fatalf("expected encode output, got %q", data)
	}
	calls, _ := os.ReadFile(os.Getenv("STUB_LOG"))
	if !strings.Contains(string(calls), "libx264") || !strings.Contains(string(calls), "+faststart") {
		t.Fatalf("unexpected ffmpeg invocations: %s", calls)
	}
}

func TestFFmpegFailureIsConversionError(t *testing.T) {
	bin := stubFFmpeg(t)
	src := writeSource(t, "broken.mov")
	out := filepath.Join(t.TempDir(), "broken.mp4")

	err := NewFFmpeg(bin, "mp4", 0).Convert(context.Background(), src, out)
	if !errors.Is(err, services.ErrConversion) {
		t.Fatalf("expected ErrConversion, got %v", err)
	}
	if !strings.Contains(err.Error(), "Invalid data found") {
		t.Fatalf("expected stderr tail in error, got %v", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Fatalf("expected no output left behind, stat err=%v", statErr)
	}
}

func TestFFmpegMissingSource(t *testing.T) {
	err := NewFFmpeg("ffmpeg", "mp4", 0).Convert(context.Background(), filepath.Join(t.TempDir(), "gone.mov"), filepath.Join(t.TempDir(), "gone.mp4"))
	if !errors.Is(err, services.ErrConversion) {
		t.Fatalf("expected ErrConversion, got %v", err)
	}
}

func TestDraptoMovesOutput(t *testing.T) {
	src := writeSource(t, "clip.mov")
	outDir := t.TempDir()
	out := filepath.Join(outDir, "renamed.mkv")

	d := NewDrapto(0)
	d.encode = func(_ context.Context, in, dir string) error {
		return os.WriteFile(filepath.Join(dir, "clip.mkv"), []byte("av1"), 0o644)
	}
	if err := d.Convert(context.Background(), src, out); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if data, _ := os.ReadFile(out); string(data) != "av1" {
		t.Fatalf("unexpected output %q", data)
	}

	d.encode = func(context.Context, string, string) error { return errors.New("encoder crashed") }
	if err := d.Convert(context.Background(), src, out); !errors.Is(err, services.ErrConversion) {
		t.Fatalf("expected ErrConversion, got %v", err)
	}
}

func TestNeedsConversionAndOutputName(t *testing.T) {
	ff := NewFFmpeg("", ".MP4", 0)
	cases := []struct {
		source string
		force  bool
		want   bool
	}{
		{"/a/clip.MOV", false, true},
		{"/a/clip.mp4", false, false},
		{"/a/clip.MP4", false, false},
		{"/a/clip.mp4", true, true},
	}
	for _, tc := range cases {
		if got := NeedsConversion(ff, tc.source, tc.force); got != tc.want {
			t.Fatalf("NeedsConversion(%s, %v) = %v", tc.source, tc.force, got)
		}
	}
	if NeedsConversion(Passthrough{}, "/a/clip.mov", true) {
		t.Fatal("passthrough never converts")
	}
	if got := OutputName(ff, "/a/clip.MOV"); got != "clip.mp4" {
		t.Fatalf("unexpected output name %q", got)
	}
	if got := OutputName(Passthrough{}, "/a/clip.MOV"); got != "clip.MOV" {
		t.Fatalf("unexpected passthrough name %q", got)
	}
}

func TestNewSelectsBackend(t *testing.T) {
	cfg := config.Default().Transcode
	for backend, want := range map[string]string{"ffmpeg": "ffmpeg", "drapto": "drapto", "none": "none"} {
		cfg.Backend = backend
		tr, err := New(cfg)
		if err != nil {
			t.Fatalf("New(%s): %v", backend, err)
		}
		if tr.Name() != want {
			t.Fatalf("New(%s) returned %s", backend, tr.Name())
		}
	}
	cfg.Backend = "handbrake"
	if _, err := New(cfg); err == nil {
		t.Fatal("expected unsupported backend error")
	}
}
