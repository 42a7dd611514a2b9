package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"vidingest/internal/catalog"
	"vidingest/internal/config"
	"vidingest/internal/ingest"
	"vidingest/internal/logging"
	"vidingest/internal/objectstore"
	"vidingest/internal/services"
	"vidingest/internal/transcode"
)

// Pipeline wires a transcoder, an object store and a catalog dataset into one
// batch run.
type Pipeline struct {
	opts       Options
	transcoder transcode.Transcoder
	store      objectstore.Store
	dataset    catalog.Dataset
	logger     *slog.Logger
}

// New validates the collaborators. The dataset may be nil only for dry runs.
func New(opts Options, transcoder transcode.Transcoder, store objectstore.Store, dataset catalog.Dataset) (*Pipeline, error) {
	opts = opts.withDefaults()
	if store == nil {
		return nil, errors.New("pipeline: object store is required")
	}
	if dataset == nil && !opts.DryRun {
		return nil, errors.New("pipeline: catalog dataset is required")
	}
	if transcoder == nil {
		transcoder = transcode.Passthrough{}
	}
	switch opts.Mode {
	case config.ModeIngest, config.ModeRegisterOnly:
	default:
		return nil, fmt.Errorf("pipeline: unsupported mode %q", opts.Mode)
	}
	switch opts.Policy {
	case config.PolicyAlways, config.PolicySkipRegistered:
	default:
		return nil, fmt.Errorf("pipeline: unsupported registration policy %q", opts.Policy)
	}
	if opts.Mode == config.ModeIngest && !opts.DryRun && strings.TrimSpace(opts.StagingDir) == "" {
		return nil, errors.New("pipeline: staging directory is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pipeline{
		opts:       opts,
		transcoder: transcoder,
		store:      store,
		dataset:    dataset,
		logger:     logging.NewComponentLogger(logger, "pipeline"),
	}, nil
}

// pending is an item that reached the store and waits for registration.
type pending struct {
	item ingest.WorkItem
	ref  ingest.ArtifactRef
}

// run holds the state of one Run call. Only the coordinator goroutine and,
// after it exits, Run itself touch tracker and queue.
type run struct {
	id         string
	dir        string
	tracker    *ingest.Tracker
	queue      []pending
	registered map[string]bool
	sampler    *logging.ProgressSampler
	progress   *progress
	total      int
	completed  int
}

// Run processes items and returns the report. The returned error is non-nil
// only for run-fatal problems detected before any item work starts.
func (p *Pipeline) Run(ctx context.Context, items []ingest.WorkItem) (*ingest.RunReport, error) {
	started := time.Now().UTC()
	if err := validateItems(items); err != nil {
		return nil, err
	}
	tracker, err := ingest.NewTracker(items)
	if err != nil {
		return nil, services.Wrap(services.ErrEnumeration, "pipeline", "track items", "", err)
	}

	runID := p.opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	ctx = services.WithRunID(ctx, runID)
	logger := logging.WithContext(ctx, p.logger)

	r := &run{
		id:       runID,
		tracker:  tracker,
		sampler:  logging.NewProgressSampler(len(items), 10),
		progress: newProgress(p.opts.ProgressOutput, len(items), "ingest"),
		total:    len(items),
	}
	if p.opts.Mode == config.ModeIngest && !p.opts.DryRun {
		r.dir = filepath.Join(p.opts.StagingDir, runID)
		if err := os.MkdirAll(r.dir, 0o755); err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "pipeline", "create staging dir", r.dir, err)
		}
		defer p.sweep(logger, r.dir)
	}

	logger.Info("run started",
		logging.Event("run_start"),
		logging.String("mode", p.opts.Mode),
		logging.String("policy", p.opts.Policy),
		logging.Int("items", len(items)),
		logging.Int("workers", p.opts.Workers),
		logging.Bool("dry_run", p.opts.DryRun),
	)

	r.registered = p.lookupRegistered(ctx, logger, items)
	p.process(ctx, r, items)
	r.progress.finish()

	if len(r.queue) > 0 {
		switch {
		case ctx.Err() != nil:
		case p.opts.DryRun:
			for _, entry := range r.queue {
				p.finish(logger, entry.item.ID, tracker.Skip(entry.item.ID, ingest.ReasonDryRun, "dry run: nothing transferred or registered"))
			}
		default:
			p.register(ctx, logger, r)
		}
	}

	for _, id := range tracker.Pending() {
		p.finish(logger, id, tracker.Fail(id, ingest.ReasonInterrupted, "run interrupted before the item finished"))
	}

	report, err := tracker.Report(runID, p.opts.Mode, started, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	report.Source = p.opts.Source
	counts := report.Counts()
	logger.Info("run finished",
		logging.Event("run_complete"),
		logging.Int("succeeded", counts.Succeeded),
		logging.Int("failed", counts.Failed),
		logging.Int("skipped", counts.Skipped),
		logging.Duration("duration", report.Duration()),
	)
	return report, nil
}

// process fans items out to workers and applies their events on a single
// coordinator goroutine.
func (p *Pipeline) process(ctx context.Context, r *run, items []ingest.WorkItem) {
	events := make(chan event)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			p.apply(ctx, r, ev)
		}
	}()

	var g errgroup.Group
	g.SetLimit(p.opts.Workers)
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			p.processItem(ctx, r.dir, item, r.registered[item.Key], func(ev event) { events <- ev })
			return nil
		})
	}
	_ = g.Wait()
	close(events)
	<-done
}

func (p *Pipeline) lookupRegistered(ctx context.Context, logger *slog.Logger, items []ingest.WorkItem) map[string]bool {
	if p.opts.Policy != config.PolicySkipRegistered || p.dataset == nil {
		return nil
	}
	lookup, ok := p.dataset.(catalog.KeyLookup)
	if !ok {
		logger.Warn("catalog cannot look up existing keys; registering every item",
			logging.Event("key_lookup_unsupported"),
		)
		return nil
	}
	keys := make([]string, 0, len(items))
	for _, item := range items {
		keys = append(keys, item.Key)
	}
	found, err := lookup.ExistingKeys(ctx, keys)
	if err != nil {
		logger.Warn("existing key lookup failed; registering every item",
			logging.Event("key_lookup_failed"),
			logging.Error(err),
			logging.Hint("check catalog credentials; duplicates will be reported by the catalog instead"),
		)
		return nil
	}
	return found
}

func (p *Pipeline) sweep(logger *slog.Logger, dir string) {
	if err := os.RemoveAll(dir); err != nil {
		logger.Warn("failed to remove run staging directory",
			logging.String("path", dir),
			logging.Error(err),
		)
	}
}

func validateItems(items []ingest.WorkItem) error {
	keys := make(map[string]string, len(items))
	objects := make(map[string]string, len(items))
	for _, item := range items {
		if err := item.Validate(); err != nil {
			return services.Wrap(services.ErrEnumeration, "pipeline", "validate items", "", err)
		}
		if other, ok := keys[item.Key]; ok && other != item.ID {
			return services.Wrap(services.ErrEnumeration, "pipeline", "validate items",
				fmt.Sprintf("items %s and %s share key %q", other, item.ID, item.Key), nil)
		}
		keys[item.Key] = item.ID
		if other, ok := objects[item.ObjectKey]; ok && other != item.ID {
			return services.Wrap(services.ErrEnumeration, "pipeline", "validate items",
				fmt.Sprintf("items %s and %s share object key %q", other, item.ID, item.ObjectKey), nil)
		}
		objects[item.ObjectKey] = item.ID
	}
	return nil
}
