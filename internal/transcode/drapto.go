package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	draptolib "github.com/five82/drapto"

	"vidingest/internal/services"
)

// encodeFunc runs an encode of in into outDir and returns when it finishes.
type encodeFunc func(ctx context.Context, in, outDir string) error

// Drapto encodes through the drapto library (AV1 in Matroska). drapto names
// its output <stem>.mkv inside the output directory.
type Drapto struct {
	timeout time.Duration
	encode  encodeFunc
}

// NewDrapto constructs a drapto transcoder.
func NewDrapto(timeout time.Duration) *Drapto {
	return &Drapto{timeout: timeout, encode: draptoEncode}
}

func (d *Drapto) Name() string   { return "drapto" }
func (d *Drapto) Target() string { return "mkv" }

// Convert encodes in and moves the result to out.
func (d *Drapto) Convert(ctx context.Context, in, out string) error {
	if _, err := os.Stat(in); err != nil {
		return services.Wrap(services.ErrConversion, "transform", "stat source", in, err)
	}
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	outDir := filepath.Dir(out)
	base := filepath.Base(in)
	produced := filepath.Join(outDir, strings.TrimSuffix(base, filepath.Ext(base))+".mkv")
	if err := d.encode(ctx, in, outDir); err != nil {
		_ = os.Remove(produced)
		return services.Wrap(services.ErrConversion, "transform", "drapto encode", in, err)
	}
	if produced != out {
		if err := os.Rename(produced, out); err != nil {
			_ = os.Remove(produced)
			return services.Wrap(services.ErrConversion, "transform", "drapto output", in, err)
		}
	}
	if _, err := os.Stat(out); err != nil {
		return services.Wrap(services.ErrConversion, "transform", "drapto output", in,
			fmt.Errorf("expected output missing: %w", err))
	}
	return nil
}

func draptoEncode(ctx context.Context, in, outDir string) error {
	if strings.TrimSpace(outDir) == "" {
		return errors.New("output directory required")
	}
	encoder, err := draptolib.New(draptolib.WithResponsive())
	if err != nil {
		return err
	}
	var rep draptolib.Reporter
	_, err = encoder.EncodeWithReporter(ctx, in, outDir, rep)
	return err
}
