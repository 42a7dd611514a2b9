// Package ingest defines the data model shared by every stage of the batch
// ingestion pipeline.
//
// A WorkItem is produced once by the enumerator and never mutated. As the item
// moves through transform and transfer it accumulates an ArtifactRef; once the
// artifact has a remote URI a CatalogRecord is built from it. The RunReport is
// the single summary of a run and partitions every input item into exactly one
// of succeeded, failed or skipped.
//
// Item progress is modelled by State. Transitions only move forward; use
// State.CanAdvance before recording a new state so a regression is caught at
// the point it happens instead of surfacing as a wrong report.
package ingest
