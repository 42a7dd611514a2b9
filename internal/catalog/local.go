package catalog

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"vidingest/internal/ingest"
	"vidingest/internal/services"
	"vidingest/internal/sqlitedb"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const (
	taskPending  = "PENDING"
	taskComplete = "COMPLETE"
)

// Local is a SQLite-backed catalog. Datasets are created on first use and
// submitted tasks are processed when first polled.
type Local struct {
	db *sqlitedb.DB
}

// OpenLocal opens or creates the catalog database at path.
func OpenLocal(ctx context.Context, path string) (*Local, error) {
	if strings.TrimSpace(path) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "registration", "open local catalog", "catalog.local_path is empty", nil)
	}
	migrations, err := sqlitedb.LoadMigrations(migrationFS, "migrations")
	if err != nil {
		return nil, err
	}
	db, err := sqlitedb.Open(ctx, path, migrations)
	if err != nil {
		return nil, fmt.Errorf("open local catalog: %w", err)
	}
	return &Local{db: db}, nil
}

func (l *Local) Close() error {
	return l.db.Close()
}

func (l *Local) Dataset(ctx context.Context, id string) (Dataset, error) {
	if strings.TrimSpace(id) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "registration", "get dataset", "dataset id is empty", nil)
	}
	if _, err := l.db.Exec(ctx,
		`INSERT INTO datasets (id, created_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
		id, now(),
	); err != nil {
		return nil, fmt.Errorf("ensure dataset %s: %w", id, err)
	}
	return &localDataset{db: l.db, id: id}, nil
}

// Rows maps each global key registered in dataset to its row data.
func (l *Local) Rows(ctx context.Context, dataset string) (map[string]string, error) {
	rows, err := l.db.SQL().QueryContext(ctx,
		`SELECT global_key, row_data FROM data_rows WHERE dataset_id = ? ORDER BY global_key`, dataset)
	if err != nil {
		return nil, fmt.Errorf("list rows: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var key, data string
		if err := rows.Scan(&key, &data); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out[key] = data
	}
	return out, rows.Err()
}

type localDataset struct {
	db *sqlitedb.DB
	id string
}

func (d *localDataset) ID() string { return d.id }

func (d *localDataset) SubmitRows(ctx context.Context, records []ingest.CatalogRecord) (Task, error) {
	if err := CheckDistinctKeys(records); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode rows: %w", err)
	}
	id := uuid.NewString()
	ts := now()
	if _, err := d.db.Exec(ctx,
		`INSERT INTO tasks (id, dataset_id, status, payload, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, d.id, taskPending, string(payload), ts, ts,
	); err != nil {
		return nil, services.Wrap(services.ErrRegistration, "registration", "submit rows", "", err)
	}
	return &localTask{db: d.db, id: id, dataset: d.id}, nil
}

func (d *localDataset) ExistingKeys(ctx context.Context, keys []string) (map[string]bool, error) {
	found := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return found, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, 0, len(keys)+1)
	args = append(args, d.id)
	for _, key := range keys {
		args = append(args, key)
	}
	rows, err := d.db.SQL().QueryContext(ctx,
		`SELECT global_key FROM data_rows WHERE dataset_id = ? AND global_key IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, services.Wrap(services.ErrRegistration, "registration", "lookup keys", "", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		found[key] = true
	}
	return found, rows.Err()
}

type localTask struct {
	db      *sqlitedb.DB
	id      string
	dataset string
}

func (t *localTask) ID() string { return t.id }

func (t *localTask) Wait(ctx context.Context, policy WaitPolicy) (*Result, error) {
	return pollUntilDone(ctx, policy, t.poll)
}

type storedResult struct {
	Created []string   `json:"created"`
	Errors  []RowError `json:"errors"`
}

func (t *localTask) poll(ctx context.Context) (*Result, bool, error) {
	var stored storedResult
	err := t.db.InTx(ctx, func(tx *sql.Tx) error {
		stored = storedResult{}
		var status, payload string
		var result sql.NullString
		row := tx.QueryRowContext(ctx, `SELECT status, payload, result FROM tasks WHERE id = ?`, t.id)
		if err := row.Scan(&status, &payload, &result); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("task %s not found", t.id)
			}
			return err
		}
		if status == taskComplete {
			return json.Unmarshal([]byte(result.String), &stored)
		}
		var records []ingest.CatalogRecord
		if err := json.Unmarshal([]byte(payload), &records); err != nil {
			return fmt.Errorf("decode task payload: %w", err)
		}
		for _, record := range records {
			if err := insertRow(ctx, tx, t.dataset, record); err != nil {
				if sqlitedb.IsConstraint(err) {
					stored.Errors = append(stored.Errors, RowError{
						GlobalKey: record.GlobalKey,
						Kind:      RowErrorDuplicate,
						Message:   fmt.Sprintf("duplicate global key %q", record.GlobalKey),
					})
					continue
				}
				return err
			}
			stored.Created = append(stored.Created, record.GlobalKey)
		}
		encoded, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE tasks SET status = ?, result = ?, updated_at = ? WHERE id = ?`,
			taskComplete, string(encoded), now(), t.id)
		return err
	})
	if err != nil {
		return nil, false, services.Wrap(services.ErrRegistration, "registration", "poll task", t.id, err)
	}
	return &Result{Created: stored.Created, Errors: stored.Errors}, true, nil
}

// insertRow uses a savepoint so a constraint failure leaves the rest of the
// transaction usable.
func insertRow(ctx context.Context, tx *sql.Tx, dataset string, record ingest.CatalogRecord) error {
	if _, err := tx.ExecContext(ctx, `SAVEPOINT row_insert`); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO data_rows (id, dataset_id, global_key, row_data, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), dataset, record.GlobalKey, record.RowData, now())
	if err != nil {
		_, _ = tx.ExecContext(ctx, `ROLLBACK TO row_insert`)
		_, _ = tx.ExecContext(ctx, `RELEASE row_insert`)
		return err
	}
	_, err = tx.ExecContext(ctx, `RELEASE row_insert`)
	return err
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
