// Package services defines shared utilities consumed by the pipeline stages
// and the external integrations behind them.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, work item IDs and stage names for
//     logging.
//   - Structured error markers plus the Wrap helper. ReasonFor turns a marked
//     error into the reason code stored in the run report, and IsFatal tells
//     the CLI whether a failure happened before any item work started.
//
// Use these helpers when wiring new stage logic so failure classification
// stays uniform across the pipeline.
package services
