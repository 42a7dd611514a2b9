package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"vidingest/internal/ingest"
)

// Run-fatal markers. These abort a run before any item work starts.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrEnumeration   = errors.New("enumeration error")
)

// Per-item markers. These end a single item and never abort the run.
var (
	ErrConversion   = errors.New("conversion error")
	ErrTransfer     = errors.New("transfer error")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrRegistration = errors.New("registration error")
	ErrTimeout      = errors.New("timeout")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrRegistration
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsFatal reports whether err should abort the run before item work starts.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfiguration) || errors.Is(err, ErrEnumeration)
}

// ReasonFor maps an item error to the reason code recorded in the run report.
// Context cancellation maps to interrupted; unknown errors are treated as
// registration failures since registration is the last stage to run.
func ReasonFor(err error) ingest.Reason {
	switch {
	case err == nil:
		return ingest.ReasonNone
	case errors.Is(err, ErrConversion):
		return ingest.ReasonConversionError
	case errors.Is(err, ErrTransfer):
		return ingest.ReasonTransferError
	case errors.Is(err, ErrDuplicateKey):
		return ingest.ReasonDuplicateKey
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrRegistration):
		return ingest.ReasonRegistrationError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ingest.ReasonInterrupted
	default:
		return ingest.ReasonRegistrationError
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
