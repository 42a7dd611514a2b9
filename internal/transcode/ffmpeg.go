package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"vidingest/internal/services"
)

const stderrTailLines = 6

// FFmpeg remuxes with stream copy and falls back to an H.264/AAC encode when
// the source codecs are not allowed in the target container.
type FFmpeg struct {
	binary    string
	container string
	timeout   time.Duration
}

// NewFFmpeg constructs an ffmpeg transcoder. A zero timeout disables the
// per-item deadline.
func NewFFmpeg(binary, container string, timeout time.Duration) *FFmpeg {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	container = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(container)), ".")
	if container == "" {
		container = "mp4"
	}
	return &FFmpeg{binary: binary, container: container, timeout: timeout}
}

func (f *FFmpeg) Name() string   { return "ffmpeg" }
func (f *FFmpeg) Target() string { return f.container }

// Convert writes the converted artifact to out.
func (f *FFmpeg) Convert(ctx context.Context, in, out string) error {
	if _, err := os.Stat(in); err != nil {
		return services.Wrap(services.ErrConversion, "transform", "stat source", in, err)
	}
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	remuxErr := f.run(ctx, f.remuxArgs(in, out))
	if remuxErr == nil {
		return nil
	}
	_ = os.Remove(out)
	if ctx.Err() != nil {
		return services.Wrap(services.ErrConversion, "transform", "ffmpeg remux", in, ctx.Err())
	}

	if err := f.run(ctx, f.encodeArgs(in, out)); err != nil {
		_ = os.Remove(out)
		return services.Wrap(services.ErrConversion, "transform", "ffmpeg encode", in,
			fmt.Errorf("remux: %v; encode: %w", remuxErr, err))
	}
	return nil
}

func (f *FFmpeg) remuxArgs(in, out string) []string {
	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error", "-y", "-i", in, "-map", "0", "-c", "copy"}
	return append(append(args, f.containerFlags()...), out)
}

func (f *FFmpeg) encodeArgs(in, out string) []string {
	args := []string{
		"-hide_banner", "-nostdin", "-loglevel", "error", "-y", "-i", in,
		"-map", "0:v:0", "-map", "0:a?",
		"-c:v", "libx264", "-preset", "medium", "-crf", "20", "-pix_fmt", "yuv420p",
		"-c:a", "aac", "-b:a", "192k",
	}
	return append(append(args, f.containerFlags()...), out)
}

func (f *FFmpeg) containerFlags() []string {
	switch f.container {
	case "mp4", "mov", "m4v":
		return []string{"-movflags", "+faststart"}
	default:
		return nil
	}
}

func (f *FFmpeg) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, f.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if tail := stderrTail(stderr.String(), stderrTailLines); tail != "" {
			return fmt.Errorf("%w: %s", err, tail)
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return fmt.Errorf("run %s: %w", f.binary, err)
		}
		return err
	}
	return nil
}

func stderrTail(output string, lines int) string {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return ""
	}
	all := strings.Split(trimmed, "\n")
	if len(all) > lines {
		all = all[len(all)-lines:]
	}
	return strings.Join(all, " | ")
}
