package transcode

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"vidingest/internal/config"
)

// Transcoder converts one source file into an artifact at out. It must not
// modify in and must leave nothing at out when it fails.
type Transcoder interface {
	Convert(ctx context.Context, in, out string) error
	Name() string
	// Target is the output container extension without the dot. Empty means
	// the source is used as is.
	Target() string
}

// New builds the transcoder selected by cfg.
func New(cfg config.Transcode) (Transcoder, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "ffmpeg":
		return NewFFmpeg(cfg.FFmpegBinary, cfg.Container, time.Duration(cfg.TimeoutSeconds)*time.Second), nil
	case "drapto":
		return NewDrapto(time.Duration(cfg.TimeoutSeconds) * time.Second), nil
	case "none", "":
		return Passthrough{}, nil
	default:
		return nil, fmt.Errorf("unsupported transcode backend %q", cfg.Backend)
	}
}

// NeedsConversion reports whether source must go through t before upload.
// Sources already in the target container are uploaded directly unless force
// is set.
func NeedsConversion(t Transcoder, source string, force bool) bool {
	target := t.Target()
	if target == "" {
		return false
	}
	if force {
		return true
	}
	return !strings.EqualFold(strings.TrimPrefix(filepath.Ext(source), "."), target)
}

// OutputName returns the artifact file name for source under t.
func OutputName(t Transcoder, source string) string {
	base := filepath.Base(source)
	target := t.Target()
	if target == "" {
		return base
	}
	return strings.TrimSuffix(base, filepath.Ext(base)) + "." + target
}

// Passthrough never converts.
type Passthrough struct{}

func (Passthrough) Name() string   { return "none" }
func (Passthrough) Target() string { return "" }

// Convert is never reached through NeedsConversion; it reports misuse.
func (Passthrough) Convert(context.Context, string, string) error {
	return fmt.Errorf("passthrough transcoder does not convert")
}
