// Package logging builds the slog loggers used by every vidingest command.
//
// Console output is one human-oriented line per record with the component,
// stage and item lifted into a prefix; JSON output is for log shippers. Field
// helpers (Event, Reason, Hint) keep key names consistent so that the logs
// command can filter a run's lines back out of vidingest.log.
package logging
