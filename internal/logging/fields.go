package logging

import (
	"log/slog"
	"time"
)

// Attr is re-exported so callers only import this package for log fields.
type Attr = slog.Attr

func String(key, value string) Attr { return slog.String(key, value) }

func Int(key string, value int) Attr { return slog.Int(key, value) }

func Bool(key string, value bool) Attr { return slog.Bool(key, value) }

func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }

// Error attaches err under the error key. A nil error is logged as "<nil>"
// rather than dropped so that a missing cause stays visible.
func Error(err error) Attr {
	if err == nil {
		return slog.String(FieldError, "<nil>")
	}
	return slog.Any(FieldError, err)
}

// Event tags a line with its event_type.
func Event(eventType string) Attr { return slog.String(FieldEventType, eventType) }

// Reason records the outcome reason code of a failed or skipped item.
func Reason[T ~string](reason T) Attr { return slog.String(FieldReason, string(reason)) }

// Hint carries a short operator-facing next step.
func Hint(text string) Attr { return slog.String(FieldErrorHint, text) }

// NewNop returns a logger that discards everything.
func NewNop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// NewComponentLogger scopes logger to a component. A nil logger yields a
// discarding one.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(slog.String(FieldComponent, component))
}
