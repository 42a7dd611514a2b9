// Package staging reclaims per-run scratch directories that a crashed or
// killed run left behind.
package staging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"vidingest/internal/logging"
)

// SweepResult lists what a sweep removed and what it could not remove.
type SweepResult struct {
	Removed []string
	Errors  []SweepError
}

// SweepError pairs a directory with the error that kept it in place.
type SweepError struct {
	Path string
	Err  error
}

// SweepStale removes run directories under stagingDir that have not been
// modified for maxAge. Only directories named by a run ID are considered, so
// lock files and anything an operator put there are left alone.
func SweepStale(ctx context.Context, stagingDir string, maxAge time.Duration, logger *slog.Logger) SweepResult {
	var result SweepResult
	stagingDir = strings.TrimSpace(stagingDir)
	if stagingDir == "" {
		return result
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	entries, err := os.ReadDir(stagingDir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, SweepError{Path: stagingDir, Err: err})
		}
		return result
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if !entry.IsDir() || !isRunDir(entry.Name()) {
			continue
		}
		dir := filepath.Join(stagingDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, SweepError{Path: dir, Err: err})
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			result.Errors = append(result.Errors, SweepError{Path: dir, Err: err})
			logger.Warn("failed to remove stale run directory",
				logging.String("path", dir),
				logging.Error(err),
				logging.Event("staging_sweep_failed"),
				logging.Hint("check staging_dir permissions"),
			)
			continue
		}
		result.Removed = append(result.Removed, dir)
		logger.Info("removed stale run directory",
			logging.String("path", dir),
			logging.Duration("age", time.Since(info.ModTime())),
			logging.Event("staging_sweep"),
		)
	}
	return result
}

func isRunDir(name string) bool {
	_, err := uuid.Parse(name)
	return err == nil
}
