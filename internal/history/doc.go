// Package history keeps a SQLite ledger of finished runs so operators can
// review what a cron-driven run did after the fact. Reports are written once,
// after the run completes.
package history
