package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"vidingest/internal/ingest"
	"vidingest/internal/sqlitedb"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// ErrNotFound is returned when no run matches the requested ID.
var ErrNotFound = errors.New("run not found")

// Store persists finished run reports.
type Store struct {
	db *sqlitedb.DB
}

// RunSummary is one row of the run listing.
type RunSummary struct {
	RunID      string        `json:"run_id"`
	Mode       string        `json:"mode"`
	Source     string        `json:"source,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Counts     ingest.Counts `json:"counts"`
}

// Open opens or creates the history database.
func Open(ctx context.Context, path string) (*Store, error) {
	migrations, err := sqlitedb.LoadMigrations(migrationFS, "migrations")
	if err != nil {
		return nil, err
	}
	db, err := sqlitedb.Open(ctx, path, migrations)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// Save records a finished report. Saving the same run twice replaces it.
func (s *Store) Save(ctx context.Context, report *ingest.RunReport) error {
	if report == nil || strings.TrimSpace(report.RunID) == "" {
		return errors.New("history: report has no run id")
	}
	counts := report.Counts()
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM outcomes WHERE run_id = ?`,
			`DELETE FROM runs WHERE run_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, report.RunID); err != nil {
				return fmt.Errorf("clear run: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO runs (run_id, mode, source, started_at, finished_at, total, succeeded, failed, skipped)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			report.RunID, report.Mode, report.Source,
			formatTime(report.StartedAt), formatTime(report.FinishedAt),
			counts.Total, counts.Succeeded, counts.Failed, counts.Skipped,
		); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		for i, o := range report.Outcomes {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO outcomes (run_id, position, item_id, global_key, object_key, uri, state, reason, detail, uploaded)
                 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				report.RunID, i, o.ID, o.Key, o.ObjectKey, o.URI,
				string(o.State), string(o.Reason), o.Detail, boolToInt(o.Uploaded),
			); err != nil {
				return fmt.Errorf("insert outcome %s: %w", o.ID, err)
			}
		}
		return nil
	})
}

// List returns the most recent runs first. A non-positive limit returns all.
func (s *Store) List(ctx context.Context, limit int) ([]RunSummary, error) {
	query := `SELECT run_id, mode, source, started_at, finished_at, total, succeeded, failed, skipped
              FROM runs ORDER BY started_at DESC, run_id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	return out, rows.Err()
}

// Get loads a run and its outcomes. A unique ID prefix is accepted.
func (s *Store) Get(ctx context.Context, runID string) (*ingest.RunReport, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, ErrNotFound
	}
	rows, err := s.db.SQL().QueryContext(ctx,
		`SELECT run_id, mode, source, started_at, finished_at, total, succeeded, failed, skipped
         FROM runs WHERE substr(run_id, 1, length(?)) = ? ORDER BY run_id LIMIT 2`,
		runID, runID)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	var matches []RunSummary
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		matches = append(matches, summary)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	var summary RunSummary
	switch {
	case len(matches) == 0:
		return nil, fmt.Errorf("%s: %w", runID, ErrNotFound)
	case len(matches) == 1:
		summary = matches[0]
	default:
		exact := false
		for _, m := range matches {
			if m.RunID == runID {
				summary, exact = m, true
			}
		}
		if !exact {
			return nil, fmt.Errorf("run id prefix %q is ambiguous", runID)
		}
	}

	report := &ingest.RunReport{
		RunID:      summary.RunID,
		Mode:       summary.Mode,
		Source:     summary.Source,
		StartedAt:  summary.StartedAt,
		FinishedAt: summary.FinishedAt,
	}
	outcomeRows, err := s.db.SQL().QueryContext(ctx,
		`SELECT item_id, global_key, object_key, uri, state, reason, detail, uploaded
         FROM outcomes WHERE run_id = ? ORDER BY position`, summary.RunID)
	if err != nil {
		return nil, fmt.Errorf("get outcomes: %w", err)
	}
	defer outcomeRows.Close()
	for outcomeRows.Next() {
		var (
			o        ingest.Outcome
			state    string
			reason   string
			uploaded int
		)
		if err := outcomeRows.Scan(&o.ID, &o.Key, &o.ObjectKey, &o.URI, &state, &reason, &o.Detail, &uploaded); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.State = ingest.State(state)
		o.Reason = ingest.Reason(reason)
		o.Uploaded = uploaded != 0
		report.Outcomes = append(report.Outcomes, o)
	}
	return report, outcomeRows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(row scanner) (RunSummary, error) {
	var (
		s                 RunSummary
		started, finished string
	)
	if err := row.Scan(&s.RunID, &s.Mode, &s.Source, &started, &finished,
		&s.Counts.Total, &s.Counts.Succeeded, &s.Counts.Failed, &s.Counts.Skipped); err != nil {
		return RunSummary{}, fmt.Errorf("scan run: %w", err)
	}
	s.StartedAt = parseTime(started)
	s.FinishedAt = parseTime(finished)
	return s, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
