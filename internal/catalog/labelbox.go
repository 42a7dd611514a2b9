package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"vidingest/internal/config"
	"vidingest/internal/ingest"
	"vidingest/internal/logging"
	"vidingest/internal/services"
)

const (
	labelboxRetryMax     = 4
	labelboxRetryWaitMin = 1 * time.Second
	labelboxRetryWaitMax = 15 * time.Second
	labelboxTimeout      = 2 * time.Minute
)

// GraphQL operations. The shapes mirror the Python SDK flow (create_data_rows,
// task wait, task errors, global key lookup) and have not been checked
// against a published schema.
const (
	datasetQuery = `query GetDataset($id: ID!) {
  dataset(where: {id: $id}) { id name }
}`
	createRowsMutation = `mutation CreateDataRows($datasetId: ID!, $rows: [DataRowCreateInput!]!) {
  createDataRowsAsync(data: {datasetId: $datasetId, dataRows: $rows}) { taskId }
}`
	taskQuery = `query TaskStatus($id: ID!) {
  task(where: {id: $id}) {
    id
    status
    createdDataRows { globalKey }
    rowErrors { globalKey code message }
  }
}`
	globalKeysQuery = `query DataRowsForGlobalKeys($datasetId: ID!, $keys: [String!]!) {
  dataRowsForGlobalKeys(where: {datasetId: $datasetId, globalKeys: $keys}) { globalKey }
}`
)

// Labelbox talks to the Labelbox GraphQL API.
type Labelbox struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *slog.Logger
}

// NewLabelbox builds a client that retries transport errors and 5xx
// responses.
func NewLabelbox(cfg config.Catalog, logger *slog.Logger) *Labelbox {
	retry := retryablehttp.NewClient()
	retry.RetryMax = labelboxRetryMax
	retry.RetryWaitMin = labelboxRetryWaitMin
	retry.RetryWaitMax = labelboxRetryWaitMax
	retry.Logger = nil
	client := retry.StandardClient()
	client.Timeout = labelboxTimeout
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Labelbox{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   client,
		logger:   logging.NewComponentLogger(logger, "labelbox"),
	}
}

func (l *Labelbox) Close() error { return nil }

// Dataset resolves id. An unknown dataset is a configuration error.
func (l *Labelbox) Dataset(ctx context.Context, id string) (Dataset, error) {
	var resp struct {
		Dataset *struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"dataset"`
	}
	if err := l.do(ctx, datasetQuery, map[string]any{"id": id}, &resp); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "registration", "get dataset", id, err)
	}
	if resp.Dataset == nil {
		return nil, services.Wrap(services.ErrConfiguration, "registration", "get dataset", fmt.Sprintf("dataset %s not found", id), nil)
	}
	l.logger.Debug("dataset resolved", logging.String("dataset_id", resp.Dataset.ID), logging.String("dataset_name", resp.Dataset.Name))
	return &labelboxDataset{client: l, id: resp.Dataset.ID}, nil
}

type graphQLError struct {
	Message string `json:"message"`
}

func (l *Labelbox) do(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.apiKey)

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("labelbox request: %w", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read labelbox response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("labelbox returned %s: %s", resp.Status, snippet(payload))
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphQLError  `json:"errors"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return fmt.Errorf("decode labelbox response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		messages := make([]string, 0, len(envelope.Errors))
		for _, e := range envelope.Errors {
			messages = append(messages, e.Message)
		}
		return errors.New("labelbox: " + strings.Join(messages, "; "))
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode labelbox data: %w", err)
	}
	return nil
}

func snippet(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		return text[:200] + "..."
	}
	return text
}

type labelboxDataset struct {
	client *Labelbox
	id     string
}

func (d *labelboxDataset) ID() string { return d.id }

type dataRowInput struct {
	RowData   string `json:"rowData"`
	GlobalKey string `json:"globalKey"`
}

func (d *labelboxDataset) SubmitRows(ctx context.Context, records []ingest.CatalogRecord) (Task, error) {
	if err := CheckDistinctKeys(records); err != nil {
		return nil, err
	}
	rows := make([]dataRowInput, 0, len(records))
	for _, record := range records {
		rows = append(rows, dataRowInput{RowData: record.RowData, GlobalKey: record.GlobalKey})
	}
	var resp struct {
		CreateDataRowsAsync struct {
			TaskID string `json:"taskId"`
		} `json:"createDataRowsAsync"`
	}
	if err := d.client.do(ctx, createRowsMutation, map[string]any{"datasetId": d.id, "rows": rows}, &resp); err != nil {
		return nil, services.Wrap(services.ErrRegistration, "registration", "submit rows", "", err)
	}
	taskID := resp.CreateDataRowsAsync.TaskID
	if taskID == "" {
		return nil, services.Wrap(services.ErrRegistration, "registration", "submit rows", "no task id returned", nil)
	}
	d.client.logger.Info("rows submitted",
		logging.String("dataset_id", d.id),
		logging.String("task_id", taskID),
		logging.Int("rows", len(rows)),
	)
	return &labelboxTask{client: d.client, id: taskID}, nil
}

func (d *labelboxDataset) ExistingKeys(ctx context.Context, keys []string) (map[string]bool, error) {
	found := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return found, nil
	}
	var resp struct {
		Rows []struct {
			GlobalKey string `json:"globalKey"`
		} `json:"dataRowsForGlobalKeys"`
	}
	if err := d.client.do(ctx, globalKeysQuery, map[string]any{"datasetId": d.id, "keys": keys}, &resp); err != nil {
		return nil, services.Wrap(services.ErrRegistration, "registration", "lookup keys", "", err)
	}
	for _, row := range resp.Rows {
		found[row.GlobalKey] = true
	}
	return found, nil
}

type labelboxTask struct {
	client *Labelbox
	id     string
}

func (t *labelboxTask) ID() string { return t.id }

func (t *labelboxTask) Wait(ctx context.Context, policy WaitPolicy) (*Result, error) {
	return pollUntilDone(ctx, policy, t.poll)
}

func (t *labelboxTask) poll(ctx context.Context) (*Result, bool, error) {
	var resp struct {
		Task *struct {
			ID              string `json:"id"`
			Status          string `json:"status"`
			CreatedDataRows []struct {
				GlobalKey string `json:"globalKey"`
			} `json:"createdDataRows"`
			RowErrors []struct {
				GlobalKey string `json:"globalKey"`
				Code      string `json:"code"`
				Message   string `json:"message"`
			} `json:"rowErrors"`
		} `json:"task"`
	}
	if err := t.client.do(ctx, taskQuery, map[string]any{"id": t.id}, &resp); err != nil {
		return nil, false, services.Wrap(services.ErrRegistration, "registration", "poll task", t.id, err)
	}
	if resp.Task == nil {
		return nil, false, services.Wrap(services.ErrRegistration, "registration", "poll task", fmt.Sprintf("task %s not found", t.id), nil)
	}
	status := strings.ToUpper(resp.Task.Status)
	switch status {
	case "COMPLETE", "FAILED":
	default:
		t.client.logger.Debug("task pending", logging.String("task_id", t.id), logging.String("status", status))
		return nil, false, nil
	}

	result := &Result{}
	for _, row := range resp.Task.CreatedDataRows {
		result.Created = append(result.Created, row.GlobalKey)
	}
	for _, rowErr := range resp.Task.RowErrors {
		result.Errors = append(result.Errors, RowError{
			GlobalKey: rowErr.GlobalKey,
			Kind:      classifyRowError(rowErr.Code, rowErr.Message),
			Message:   rowErr.Message,
		})
	}
	if status == "FAILED" && len(result.Created) == 0 && len(result.Errors) == 0 {
		return nil, false, services.Wrap(services.ErrRegistration, "registration", "task", fmt.Sprintf("task %s failed without row details", t.id), nil)
	}
	return result, true, nil
}
