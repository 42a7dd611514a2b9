// Package catalog registers artifacts as rows in a labeling-platform dataset.
//
// A run submits one batch through Dataset.SubmitRows and waits on the returned
// Task. Wait polls with exponential backoff and gives up with
// services.ErrTimeout once the WaitPolicy timeout passes. Per-row failures
// come back in Result.Errors, classified as duplicate keys or other errors.
//
// Two backends exist: Labelbox over GraphQL, and a SQLite catalog for offline
// runs and tests.
package catalog
