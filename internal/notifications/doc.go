// Package notifications publishes run summaries to ntfy.
//
// Unattended runs (cron, CI) are the main audience: a finished run posts its
// counts and an aborted run posts the error that stopped it. When no topic is
// configured NewService returns a no-op implementation, so callers never need
// to check whether notifications are enabled.
package notifications
