package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"vidingest/internal/config"
	"vidingest/internal/ingest"
	"vidingest/internal/services"
)

// Service resolves datasets on a catalog backend.
type Service interface {
	Dataset(ctx context.Context, id string) (Dataset, error)
	Close() error
}

// Dataset accepts batched row submissions.
type Dataset interface {
	ID() string
	SubmitRows(ctx context.Context, records []ingest.CatalogRecord) (Task, error)
}

// Task is an asynchronous submission.
type Task interface {
	ID() string
	Wait(ctx context.Context, policy WaitPolicy) (*Result, error)
}

// KeyLookup is implemented by datasets that can report which global keys
// already exist.
type KeyLookup interface {
	ExistingKeys(ctx context.Context, keys []string) (map[string]bool, error)
}

// WaitPolicy bounds how long Wait polls a task.
type WaitPolicy struct {
	Timeout  time.Duration
	Interval time.Duration
}

// WaitPolicyFromConfig converts the configured seconds into a WaitPolicy.
func WaitPolicyFromConfig(cfg config.Catalog) WaitPolicy {
	return WaitPolicy{
		Timeout:  time.Duration(cfg.WaitTimeoutSeconds) * time.Second,
		Interval: time.Duration(cfg.PollIntervalSeconds) * time.Second,
	}
}

func (p WaitPolicy) normalized() WaitPolicy {
	if p.Interval <= 0 {
		p.Interval = 2 * time.Second
	}
	if p.Timeout <= 0 {
		p.Timeout = 30 * time.Minute
	}
	if p.Interval > p.Timeout {
		p.Interval = p.Timeout
	}
	return p
}

// RowErrorKind classifies a per-row failure.
type RowErrorKind string

const (
	RowErrorDuplicate RowErrorKind = "duplicate_key"
	RowErrorOther     RowErrorKind = "other"
)

// RowError is a failure reported for one submitted row.
type RowError struct {
	GlobalKey string
	Kind      RowErrorKind
	Message   string
}

// Result is the terminal state of a task. A submitted key appears in at most
// one of Created and Errors; keys in neither were not acknowledged.
type Result struct {
	Created []string
	Errors  []RowError
}

// Lookup reports what the result says about key.
func (r *Result) Lookup(key string) (created bool, rowErr *RowError) {
	if r == nil {
		return false, nil
	}
	for _, k := range r.Created {
		if k == key {
			return true, nil
		}
	}
	for i := range r.Errors {
		if r.Errors[i].GlobalKey == key {
			return false, &r.Errors[i]
		}
	}
	return false, nil
}

// New opens the catalog backend selected by cfg.
func New(ctx context.Context, cfg config.Catalog, logger *slog.Logger) (Service, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "labelbox":
		return NewLabelbox(cfg, logger), nil
	case "local":
		return OpenLocal(ctx, cfg.LocalPath)
	default:
		return nil, fmt.Errorf("unsupported catalog backend %q", cfg.Backend)
	}
}

// CheckDistinctKeys rejects a batch in which two records share a global key.
func CheckDistinctKeys(records []ingest.CatalogRecord) error {
	seen := make(map[string]struct{}, len(records))
	for _, record := range records {
		if _, dup := seen[record.GlobalKey]; dup {
			return services.Wrap(services.ErrDuplicateKey, "registration", "submit", fmt.Sprintf("global key %q appears twice in batch", record.GlobalKey), nil)
		}
		seen[record.GlobalKey] = struct{}{}
	}
	return nil
}

func classifyRowError(code, message string) RowErrorKind {
	code = strings.ToUpper(strings.TrimSpace(code))
	if strings.Contains(code, "DUPLICATE") || code == "ALREADY_EXISTS" {
		return RowErrorDuplicate
	}
	lower := strings.ToLower(message)
	if strings.Contains(lower, "duplicate") || (strings.Contains(lower, "global key") && strings.Contains(lower, "already")) {
		return RowErrorDuplicate
	}
	return RowErrorOther
}

var errPending = errors.New("task still running")

// pollUntilDone calls poll with exponential backoff until it reports done,
// the policy timeout elapses (ErrTimeout) or ctx ends.
func pollUntilDone(ctx context.Context, policy WaitPolicy, poll func(context.Context) (*Result, bool, error)) (*Result, error) {
	policy = policy.normalized()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.Interval
	b.MaxInterval = 8 * policy.Interval
	b.MaxElapsedTime = policy.Timeout

	var result *Result
	op := func() error {
		res, done, err := poll(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !done {
			return errPending
		}
		result = res
		return nil
	}
	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	switch {
	case err == nil:
		return result, nil
	case errors.Is(err, errPending):
		return nil, services.Wrap(services.ErrTimeout, "registration", "wait", fmt.Sprintf("task not finished after %s", policy.Timeout), nil)
	default:
		return nil, err
	}
}
