package config

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
)

var (
	transcodeBackends = []string{"ffmpeg", "drapto", "none"}
	containers        = []string{"mp4", "mkv", "mov"}
	storageBackends   = []string{"gcs", "s3", "local"}
	catalogBackends   = []string{"labelbox", "local"}
	policies          = []string{PolicyAlways, PolicySkipRegistered}
	modes             = []string{ModeIngest, ModeRegisterOnly}
	logFormats        = []string{"console", "json"}
	logLevels         = []string{"debug", "info", "warn", "warning", "error"}
)

// Validate ensures the configuration is internally consistent. Settings that
// only some commands need (bucket, dataset, output directory) are checked by
// the Require* helpers instead.
func (c *Config) Validate() error {
	if err := ensureOneOf(map[string]oneOf{
		"transcode.backend": {c.Transcode.Backend, transcodeBackends},
		"storage.backend":   {c.Storage.Backend, storageBackends},
		"catalog.backend":   {c.Catalog.Backend, catalogBackends},
		"catalog.policy":    {c.Catalog.Policy, policies},
		"workflow.mode":     {c.Workflow.Mode, modes},
		"logging.format":    {c.Logging.Format, logFormats},
		"logging.level":     {c.Logging.Level, logLevels},
	}); err != nil {
		return err
	}
	if c.Transcode.Backend == "ffmpeg" && !slices.Contains(containers, c.Transcode.Container) {
		return fmt.Errorf("transcode.container must be one of %s for the ffmpeg backend", strings.Join(containers, ", "))
	}
	if err := ensurePositiveMap(map[string]int{
		"transcode.timeout_seconds":     c.Transcode.TimeoutSeconds,
		"catalog.wait_timeout_seconds":  c.Catalog.WaitTimeoutSeconds,
		"catalog.poll_interval_seconds": c.Catalog.PollIntervalSeconds,
		"workflow.workers":              c.Workflow.Workers,
		"fetch.request_timeout_seconds": c.Fetch.RequestTimeoutSeconds,
	}); err != nil {
		return err
	}
	if c.Catalog.PollIntervalSeconds > c.Catalog.WaitTimeoutSeconds {
		return errors.New("catalog.poll_interval_seconds must not exceed catalog.wait_timeout_seconds")
	}
	if c.Storage.Backend == "s3" && c.Storage.Endpoint == "" {
		return errors.New("storage.endpoint must be set when storage.backend is s3")
	}
	return nil
}

// RequireDestination checks the settings needed to reach the object store.
func (c *Config) RequireDestination() error {
	switch c.Storage.Backend {
	case "gcs", "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required. Set DESTINATION_BUCKET_NAME, pass --bucket, or edit %s", configHint())
		}
	}
	if c.Storage.Backend == "s3" && (c.Storage.AccessKeyID == "" || c.Storage.SecretAccessKey == "") {
		return errors.New("storage.access_key_id and storage.secret_access_key are required for the s3 backend (S3_ACCESS_KEY_ID, S3_SECRET_ACCESS_KEY)")
	}
	return nil
}

// RequireCatalog checks the settings needed to register rows.
func (c *Config) RequireCatalog() error {
	if c.Catalog.DatasetID == "" {
		return fmt.Errorf("catalog.dataset_id is required. Set LABELBOX_DATASET_ID, pass --dataset, or edit %s", configHint())
	}
	if c.Catalog.Backend == "labelbox" && c.Catalog.APIKey == "" {
		return fmt.Errorf("catalog.api_key is required. Set LABELBOX_API_KEY or edit %s", configHint())
	}
	return nil
}

// RequireFetchOutput checks the settings needed by download and pull.
func (c *Config) RequireFetchOutput() error {
	if c.Fetch.OutputDir == "" {
		return errors.New("fetch.output_dir is required (pass --output)")
	}
	return nil
}

type oneOf struct {
	value   string
	allowed []string
}

func ensureOneOf(values map[string]oneOf) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		entry := values[key]
		if !slices.Contains(entry.allowed, entry.value) {
			return fmt.Errorf("%s: unsupported value %q (want one of %s)", key, entry.value, strings.Join(entry.allowed, ", "))
		}
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

func configHint() string {
	path, err := DefaultConfigPath()
	if err != nil {
		return defaultConfigPath
	}
	return path + " (create with 'vidingest config init')"
}
