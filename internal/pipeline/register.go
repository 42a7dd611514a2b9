package pipeline

import (
	"context"
	"log/slog"

	"vidingest/internal/catalog"
	"vidingest/internal/ingest"
	"vidingest/internal/logging"
	"vidingest/internal/services"
)

// register submits every queued item in one batch and resolves each from the
// task result.
func (p *Pipeline) register(ctx context.Context, logger *slog.Logger, r *run) {
	ctx = services.WithStage(ctx, "registration")
	logger = logging.WithContext(ctx, p.logger)
	r.progress.describe("register")

	records := make([]ingest.CatalogRecord, 0, len(r.queue))
	entries := make([]pending, 0, len(r.queue))
	for _, entry := range r.queue {
		record, err := ingest.NewCatalogRecord(entry.item, entry.ref)
		if err != nil {
			p.finish(logger, entry.item.ID, r.tracker.Fail(entry.item.ID, ingest.ReasonRegistrationError, err.Error()))
			continue
		}
		records = append(records, record)
		entries = append(entries, entry)
	}
	if len(records) == 0 {
		return
	}

	task, err := p.dataset.SubmitRows(ctx, records)
	if err != nil {
		p.failAll(ctx, logger, r, entries, err)
		return
	}
	logger.Info("registration submitted",
		logging.Event("registration_submitted"),
		logging.String("dataset_id", p.dataset.ID()),
		logging.String("task_id", task.ID()),
		logging.Int("rows", len(records)),
	)

	result, err := task.Wait(ctx, p.opts.Wait)
	if err != nil {
		p.failAll(ctx, logger, r, entries, err)
		return
	}

	var registered, duplicates, failed int
	for i, entry := range entries {
		id := entry.item.ID
		created, rowErr := result.Lookup(records[i].GlobalKey)
		switch {
		case created:
			p.finish(logger, id, r.tracker.Register(id))
			registered++
		case rowErr != nil && rowErr.Kind == catalog.RowErrorDuplicate && entry.ref.Preexisting:
			p.finish(logger, id, r.tracker.Skip(id, ingest.ReasonAlreadyRegistered, rowErr.Message))
			duplicates++
		case rowErr != nil && rowErr.Kind == catalog.RowErrorDuplicate:
			p.finish(logger, id, r.tracker.Fail(id, ingest.ReasonDuplicateKey, rowErr.Message))
			failed++
		case rowErr != nil:
			p.finish(logger, id, r.tracker.Fail(id, ingest.ReasonRegistrationError, rowErr.Message))
			failed++
		default:
			p.finish(logger, id, r.tracker.Fail(id, ingest.ReasonRegistrationError, "catalog did not acknowledge the row"))
			failed++
		}
	}
	logger.Info("registration finished",
		logging.Event("registration_complete"),
		logging.Int("registered", registered),
		logging.Int("already_registered", duplicates),
		logging.Int("failed", failed),
	)
}

func (p *Pipeline) failAll(ctx context.Context, logger *slog.Logger, r *run, entries []pending, err error) {
	reason := services.ReasonFor(err)
	if ctx.Err() != nil {
		reason = ingest.ReasonInterrupted
	}
	logger.Error("registration failed",
		logging.Event("registration_failed"),
		logging.Reason(reason),
		logging.Int("rows", len(entries)),
		logging.Error(err),
	)
	for _, entry := range entries {
		p.finish(logger, entry.item.ID, r.tracker.Fail(entry.item.ID, reason, err.Error()))
	}
}
