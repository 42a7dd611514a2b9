package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeSource(); err != nil {
		return err
	}
	c.normalizeTranscode()
	if err := c.normalizeStorage(); err != nil {
		return err
	}
	if err := c.normalizeCatalog(); err != nil {
		return err
	}
	c.normalizeWorkflow()
	if err := c.normalizeFetch(); err != nil {
		return err
	}
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		c.Paths.StagingDir = defaultStagingDir
	}
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeSource() error {
	var err error
	if c.Source.Root, err = expandPath(strings.TrimSpace(c.Source.Root)); err != nil {
		return fmt.Errorf("source.root: %w", err)
	}
	c.Source.Extensions = normalizeExtensions(c.Source.Extensions)
	if len(c.Source.Extensions) == 0 {
		c.Source.Extensions = Default().Source.Extensions
	}
	c.Source.KeyPrefix = strings.TrimSpace(c.Source.KeyPrefix)

	if c.Manifest.Path, err = expandPath(strings.TrimSpace(c.Manifest.Path)); err != nil {
		return fmt.Errorf("manifest.path: %w", err)
	}
	if c.Manifest.SourceRoot, err = expandPath(strings.TrimSpace(c.Manifest.SourceRoot)); err != nil {
		return fmt.Errorf("manifest.source_root: %w", err)
	}
	c.Manifest.NameColumn = orDefault(c.Manifest.NameColumn, defaultNameColumn)
	c.Manifest.SourceColumn = orDefault(c.Manifest.SourceColumn, defaultSourceColumn)
	c.Manifest.OwnerColumn = orDefault(c.Manifest.OwnerColumn, defaultOwnerColumn)
	return nil
}

func (c *Config) normalizeTranscode() {
	c.Transcode.Backend = strings.ToLower(orDefault(c.Transcode.Backend, defaultTranscodeBackend))
	container := strings.ToLower(strings.TrimSpace(c.Transcode.Container))
	c.Transcode.Container = strings.TrimPrefix(orDefault(container, defaultContainer), ".")
	if c.Transcode.Backend == "drapto" {
		// drapto always writes Matroska.
		c.Transcode.Container = "mkv"
	}
	if c.Transcode.TimeoutSeconds <= 0 {
		c.Transcode.TimeoutSeconds = defaultTranscodeTimeout
	}
	c.Transcode.FFmpegBinary = orDefault(c.Transcode.FFmpegBinary, defaultFFmpegBinary)
}

func (c *Config) normalizeStorage() error {
	c.Storage.Backend = strings.ToLower(orDefault(c.Storage.Backend, defaultStorageBackend))
	c.Storage.Bucket = envFallback(c.Storage.Bucket, "DESTINATION_BUCKET_NAME")
	c.Storage.Prefix = strings.Trim(strings.TrimSpace(c.Storage.Prefix), "/")
	c.Storage.PublicBaseURL = strings.TrimRight(orDefault(c.Storage.PublicBaseURL, defaultPublicBaseURL), "/")
	c.Storage.ProjectID = envFallback(c.Storage.ProjectID, "GCS_PROJECT_ID")
	c.Storage.CredentialsFile = envFallback(c.Storage.CredentialsFile, "GOOGLE_APPLICATION_CREDENTIALS")
	c.Storage.Endpoint = strings.TrimSpace(c.Storage.Endpoint)
	c.Storage.Region = orDefault(c.Storage.Region, defaultS3Region)
	c.Storage.AccessKeyID = envFallback(c.Storage.AccessKeyID, "S3_ACCESS_KEY_ID")
	c.Storage.SecretAccessKey = envFallback(c.Storage.SecretAccessKey, "S3_SECRET_ACCESS_KEY")

	var err error
	if c.Storage.CredentialsFile != "" {
		if c.Storage.CredentialsFile, err = expandPath(c.Storage.CredentialsFile); err != nil {
			return fmt.Errorf("storage.credentials_file: %w", err)
		}
	}
	if c.Storage.LocalRoot, err = expandPath(orDefault(c.Storage.LocalRoot, defaultLocalStoreRoot)); err != nil {
		return fmt.Errorf("storage.local_root: %w", err)
	}
	return nil
}

func (c *Config) normalizeCatalog() error {
	c.Catalog.Backend = strings.ToLower(orDefault(c.Catalog.Backend, defaultCatalogBackend))
	c.Catalog.APIKey = envFallback(c.Catalog.APIKey, "LABELBOX_API_KEY")
	c.Catalog.DatasetID = envFallback(c.Catalog.DatasetID, "LABELBOX_DATASET_ID")
	c.Catalog.Endpoint = orDefault(c.Catalog.Endpoint, defaultLabelboxEndpoint)
	c.Catalog.Policy = strings.ToLower(orDefault(c.Catalog.Policy, defaultCatalogPolicy))
	if c.Catalog.WaitTimeoutSeconds <= 0 {
		c.Catalog.WaitTimeoutSeconds = defaultCatalogWaitTimeout
	}
	if c.Catalog.PollIntervalSeconds <= 0 {
		c.Catalog.PollIntervalSeconds = defaultCatalogPollInterval
	}
	var err error
	if c.Catalog.LocalPath, err = expandPath(orDefault(c.Catalog.LocalPath, defaultLocalCatalogPath)); err != nil {
		return fmt.Errorf("catalog.local_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notify.NtfyTopic = envFallback(c.Notify.NtfyTopic, "NTFY_TOPIC")
	if c.Notify.RequestTimeoutSeconds <= 0 {
		c.Notify.RequestTimeoutSeconds = defaultNotifyTimeout
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.Workers <= 0 {
		c.Workflow.Workers = defaultWorkers
	}
	c.Workflow.Mode = strings.ToLower(orDefault(c.Workflow.Mode, defaultMode))
}

func (c *Config) normalizeFetch() error {
	var err error
	if c.Fetch.OutputDir, err = expandPath(strings.TrimSpace(c.Fetch.OutputDir)); err != nil {
		return fmt.Errorf("fetch.output_dir: %w", err)
	}
	c.Fetch.Extensions = normalizeExtensions(c.Fetch.Extensions)
	if len(c.Fetch.Extensions) == 0 {
		c.Fetch.Extensions = Default().Fetch.Extensions
	}
	if c.Fetch.RequestTimeoutSeconds <= 0 {
		c.Fetch.RequestTimeoutSeconds = defaultFetchRequestTimeout
	}
	if c.Fetch.RetryMax < 0 {
		c.Fetch.RetryMax = 0
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(orDefault(c.Logging.Format, defaultLogFormat))
	c.Logging.Level = strings.ToLower(orDefault(c.Logging.Level, defaultLogLevel))
}

func normalizeExtensions(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		ext := strings.ToLower(strings.TrimSpace(value))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if _, ok := seen[ext]; ok {
			continue
		}
		seen[ext] = struct{}{}
		out = append(out, ext)
	}
	return out
}

func orDefault(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}

func envFallback(value, key string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	if env, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(env)
	}
	return ""
}
