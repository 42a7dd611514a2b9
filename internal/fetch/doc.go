// Package fetch implements the download variants of the pipeline: pulling
// manifest links over HTTP and copying objects out of a bucket. Both produce
// an ingest.RunReport with the same partition rules as ingestion, with done
// as the success state.
package fetch
