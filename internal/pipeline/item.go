package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"vidingest/internal/config"
	"vidingest/internal/ingest"
	"vidingest/internal/logging"
	"vidingest/internal/objectstore"
	"vidingest/internal/services"
	"vidingest/internal/transcode"
)

type eventKind int

const (
	eventTransformed eventKind = iota
	eventTransferred
	eventFailed
	eventSkipped
)

// event is what a worker reports to the coordinator.
type event struct {
	kind     eventKind
	item     ingest.WorkItem
	ref      ingest.ArtifactRef
	uploaded bool
	reason   ingest.Reason
	detail   string
	err      error
}

// processItem runs the per-item stages up to and including transfer. An item
// that sees a cancelled context before starting emits nothing and is failed as
// interrupted at the end of the run.
func (p *Pipeline) processItem(ctx context.Context, runDir string, item ingest.WorkItem, registered bool, emit func(event)) {
	ctx = services.WithItemID(ctx, item.ID)
	if ctx.Err() != nil {
		return
	}

	if p.opts.Mode == config.ModeRegisterOnly {
		emit(event{
			kind: eventTransferred,
			item: item,
			ref:  ingest.ArtifactRef{RemoteURI: p.store.URI(item.ObjectKey), Preexisting: true},
		})
		return
	}

	checkCtx := services.WithStage(ctx, "transfer")
	exists, err := p.store.Exists(checkCtx, item.ObjectKey)
	if err != nil {
		emit(p.failure(ctx, item, services.Wrap(services.ErrTransfer, "transfer", "check destination", item.ObjectKey, err)))
		return
	}
	if exists && !p.opts.Overwrite {
		if registered {
			emit(event{kind: eventSkipped, item: item, reason: ingest.ReasonAlreadyRegistered, detail: "object and catalog row already exist"})
			return
		}
		emit(event{
			kind: eventTransferred,
			item: item,
			ref:  ingest.ArtifactRef{RemoteURI: p.store.URI(item.ObjectKey), Preexisting: true},
		})
		return
	}

	if p.opts.DryRun {
		emit(event{
			kind: eventTransferred,
			item: item,
			ref:  ingest.ArtifactRef{LocalPath: item.Source, RemoteURI: p.store.URI(item.ObjectKey)},
		})
		return
	}

	ref, cleanup, err := p.transform(services.WithStage(ctx, "transform"), runDir, item)
	if err != nil {
		if cleanup != nil {
			cleanup()
		}
		emit(p.failure(ctx, item, err))
		return
	}
	emit(event{kind: eventTransformed, item: item, ref: ref})

	uri, err := p.store.Put(services.WithStage(ctx, "transfer"), ref.LocalPath, item.ObjectKey)
	if cleanup != nil {
		cleanup()
		ref.LocalPath = ""
	}
	uploaded := err == nil
	switch {
	case errors.Is(err, objectstore.ErrExists):
		ref.Preexisting = true
		uri = p.store.URI(item.ObjectKey)
	case err != nil:
		emit(p.failure(ctx, item, services.Wrap(services.ErrTransfer, "transfer", "upload", item.ObjectKey, err)))
		return
	}
	// An overwritten object keeps its key and URI, so its catalog row from
	// an earlier run still describes it.
	if exists {
		ref.Preexisting = true
	}
	ref.RemoteURI = uri
	emit(event{kind: eventTransferred, item: item, ref: ref, uploaded: uploaded})
}

// transform produces the artifact to upload. The returned cleanup removes the
// item's private work directory and is nil when the source is uploaded as is.
func (p *Pipeline) transform(ctx context.Context, runDir string, item ingest.WorkItem) (ingest.ArtifactRef, func(), error) {
	if !transcode.NeedsConversion(p.transcoder, item.Source, p.opts.Force) {
		info, err := os.Stat(item.Source)
		if err != nil {
			return ingest.ArtifactRef{}, nil, services.Wrap(services.ErrConversion, "transform", "stat source", item.Source, err)
		}
		if !info.Mode().IsRegular() {
			return ingest.ArtifactRef{}, nil, services.Wrap(services.ErrConversion, "transform", "stat source", fmt.Sprintf("%s is not a regular file", item.Source), nil)
		}
		return ingest.ArtifactRef{LocalPath: item.Source}, nil, nil
	}

	dir, err := os.MkdirTemp(runDir, "item-*")
	if err != nil {
		return ingest.ArtifactRef{}, nil, services.Wrap(services.ErrConversion, "transform", "create work dir", runDir, err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }
	out := filepath.Join(dir, transcode.OutputName(p.transcoder, item.Source))
	if err := p.transcoder.Convert(ctx, item.Source, out); err != nil {
		if !errors.Is(err, services.ErrConversion) {
			err = services.Wrap(services.ErrConversion, "transform", p.transcoder.Name(), item.ID, err)
		}
		return ingest.ArtifactRef{}, cleanup, err
	}
	return ingest.ArtifactRef{LocalPath: out, Temporary: true}, cleanup, nil
}

func (p *Pipeline) failure(ctx context.Context, item ingest.WorkItem, err error) event {
	reason := services.ReasonFor(err)
	if ctx.Err() != nil {
		reason = ingest.ReasonInterrupted
	}
	return event{kind: eventFailed, item: item, reason: reason, detail: err.Error(), err: err}
}

// apply runs on the coordinator goroutine only.
func (p *Pipeline) apply(ctx context.Context, r *run, ev event) {
	id := ev.item.ID
	logger := logging.WithContext(services.WithItemID(ctx, id), p.logger)
	switch ev.kind {
	case eventTransformed:
		p.check(logger, r.tracker.Advance(id, ingest.StateTransformed))
		logger.Debug("item transformed",
			logging.Event("item_transformed"),
			logging.String("artifact", ev.ref.LocalPath),
			logging.Bool("converted", ev.ref.Temporary),
		)
	case eventTransferred:
		p.check(logger, r.tracker.Advance(id, ingest.StateTransferred))
		p.check(logger, r.tracker.SetURI(id, ev.ref.RemoteURI, ev.uploaded))
		r.queue = append(r.queue, pending{item: ev.item, ref: ev.ref})
		logger.Info("item transferred",
			logging.Event("item_transferred"),
			logging.String("uri", ev.ref.RemoteURI),
			logging.Bool("preexisting", ev.ref.Preexisting),
			logging.Bool("uploaded", ev.uploaded),
		)
		p.step(r)
	case eventFailed:
		p.check(logger, r.tracker.Fail(id, ev.reason, ev.detail))
		logger.Warn("item failed",
			logging.Event("item_failed"),
			logging.Reason(ev.reason),
			logging.Error(ev.err),
		)
		p.step(r)
	case eventSkipped:
		p.check(logger, r.tracker.Skip(id, ev.reason, ev.detail))
		logger.Info("item skipped",
			logging.Event("item_skipped"),
			logging.Reason(ev.reason),
		)
		p.step(r)
	}
}

// step records that one more item left the worker stage.
func (p *Pipeline) step(r *run) {
	r.completed++
	r.progress.add()
	if r.total == 0 {
		return
	}
	if r.sampler.ShouldLog(r.completed) {
		p.logger.Info("transfer progress",
			logging.String(logging.FieldRunID, r.id),
			logging.Event("progress"),
			logging.Int("completed", r.completed),
			logging.Int("total", r.total),
		)
	}
}

func (p *Pipeline) check(logger *slog.Logger, err error) {
	if err != nil {
		logger.Error("report update rejected", logging.Error(err))
	}
}

func (p *Pipeline) finish(logger *slog.Logger, id string, err error) {
	if err != nil {
		logger.Error("report update rejected", logging.String(logging.FieldItemID, id), logging.Error(err))
	}
}
