// Package objectstore moves artifacts to and from durable storage.
//
// Three backends implement Store: Google Cloud Storage, S3-compatible
// services through minio-go, and a local directory tree. Keys passed to a
// Store are relative to its configured prefix. URI is a pure function of the
// store location and key so reruns produce the same row data.
package objectstore
