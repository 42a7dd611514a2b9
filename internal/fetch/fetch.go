package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"vidingest/internal/ingest"
	"vidingest/internal/logging"
	"vidingest/internal/services"
)

// Options configures a fetch run.
type Options struct {
	RunID     string
	OutputDir string
	Workers   int
	Source    string
	Logger    *slog.Logger
}

// fetchFunc writes item to dest. Implementations must not leave a partial
// file at dest.
type fetchFunc func(ctx context.Context, item ingest.WorkItem, dest string) error

type result struct {
	id     string
	state  ingest.State
	reason ingest.Reason
	detail string
}

// run downloads items concurrently. Destinations that already exist are
// skipped. Workers report to a single goroutine that owns the tracker.
func run(ctx context.Context, mode string, items []ingest.WorkItem, dest func(ingest.WorkItem) string, fetch fetchFunc, opts Options) (*ingest.RunReport, error) {
	started := time.Now().UTC()
	if opts.OutputDir == "" {
		return nil, services.Wrap(services.ErrConfiguration, mode, "prepare", "output directory is required", nil)
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, mode, "create output directory", opts.OutputDir, err)
	}
	tracker, err := ingest.NewTracker(items)
	if err != nil {
		return nil, services.Wrap(services.ErrEnumeration, mode, "track items", "", err)
	}
	if err := checkDestinations(items, dest); err != nil {
		return nil, err
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	ctx = services.WithRunID(ctx, runID)
	base := opts.Logger
	if base == nil {
		base = logging.NewNop()
	}
	logger := logging.WithContext(ctx, logging.NewComponentLogger(base, mode))
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	logger.Info("fetch started",
		logging.Event("run_start"),
		logging.Int("items", len(items)),
		logging.String("output_dir", opts.OutputDir),
	)

	results := make(chan result)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for res := range results {
			itemLogger := logger.With(logging.String(logging.FieldItemID, res.id))
			var updateErr error
			switch res.state {
			case ingest.StateDone:
				updateErr = tracker.Complete(res.id)
				itemLogger.Info("item downloaded", logging.Event("item_done"))
			case ingest.StateSkipped:
				updateErr = tracker.Skip(res.id, res.reason, res.detail)
				itemLogger.Info("item skipped",
					logging.Event("item_skipped"),
					logging.Reason(res.reason),
				)
			default:
				updateErr = tracker.Fail(res.id, res.reason, res.detail)
				itemLogger.Warn("item failed",
					logging.Event("item_failed"),
					logging.Reason(res.reason),
					logging.String(logging.FieldError, res.detail),
				)
			}
			if updateErr != nil {
				itemLogger.Error("report update rejected", logging.Error(updateErr))
			}
		}
	}()

	var g errgroup.Group
	g.SetLimit(workers)
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			results <- fetchOne(ctx, item, dest(item), fetch)
			return nil
		})
	}
	_ = g.Wait()
	close(results)
	<-done

	for _, id := range tracker.Pending() {
		_ = tracker.Fail(id, ingest.ReasonInterrupted, "run interrupted before the item finished")
	}
	report, err := tracker.Report(runID, mode, started, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	report.Source = opts.Source
	counts := report.Counts()
	logger.Info("fetch finished",
		logging.Event("run_complete"),
		logging.Int("done", counts.Succeeded),
		logging.Int("failed", counts.Failed),
		logging.Int("skipped", counts.Skipped),
	)
	return report, nil
}

func fetchOne(ctx context.Context, item ingest.WorkItem, dest string, fetch fetchFunc) result {
	ctx = services.WithItemID(ctx, item.ID)
	if info, err := os.Stat(dest); err == nil && info.Mode().IsRegular() {
		return result{id: item.ID, state: ingest.StateSkipped, reason: ingest.ReasonAlreadyPresent, detail: dest}
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return result{id: item.ID, state: ingest.StateFailed, reason: ingest.ReasonTransferError, detail: err.Error()}
	}
	if err := fetch(ctx, item, dest); err != nil {
		reason := services.ReasonFor(err)
		if ctx.Err() != nil {
			reason = ingest.ReasonInterrupted
		} else if !errors.Is(err, services.ErrTransfer) {
			reason = ingest.ReasonTransferError
		}
		return result{id: item.ID, state: ingest.StateFailed, reason: reason, detail: err.Error()}
	}
	return result{id: item.ID, state: ingest.StateDone}
}

func checkDestinations(items []ingest.WorkItem, dest func(ingest.WorkItem) string) error {
	seen := make(map[string]string, len(items))
	for _, item := range items {
		path := dest(item)
		if other, ok := seen[path]; ok {
			return services.Wrap(services.ErrEnumeration, "fetch", "plan destinations",
				fmt.Sprintf("%s and %s would both be written to %s", other, item.ID, path), nil)
		}
		seen[path] = item.ID
	}
	return nil
}
