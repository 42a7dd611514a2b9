// Package pipeline runs the batch ingestion workflow.
//
// Each work item moves through transform and transfer on a bounded pool of
// workers. Workers never touch the report; they send events to a single
// coordinator goroutine that owns the ingest.Tracker and the buffer of items
// waiting for registration. Once every worker has drained, the buffered items
// are registered with the catalog in one batch and the tracker is folded into
// an ingest.RunReport.
//
// Per-item failures are recorded and never abort the run. Errors returned by
// Run are run-fatal (invalid input or an unusable staging directory); when
// the context is cancelled Run still returns a complete report in which the
// unfinished items are failed with reason interrupted.
package pipeline
