package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains working directory configuration.
type Paths struct {
	StagingDir string `toml:"staging_dir"`
	LogDir     string `toml:"log_dir"`
}

// Source describes how a directory tree is enumerated.
type Source struct {
	Root       string   `toml:"root"`
	Extensions []string `toml:"extensions"`
	KeyPrefix  string   `toml:"key_prefix"`
}

// Manifest describes the CSV manifest columns.
type Manifest struct {
	Path         string `toml:"path"`
	NameColumn   string `toml:"name_column"`
	SourceColumn string `toml:"source_column"`
	OwnerColumn  string `toml:"owner_column"`
	// SourceRoot locates rows that carry only a name. Empty falls back to
	// source.root, then to the manifest's own directory.
	SourceRoot string `toml:"source_root"`
}

// Transcode contains container conversion settings.
type Transcode struct {
	Backend        string `toml:"backend"`
	Container      string `toml:"container"`
	Force          bool   `toml:"force"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	FFmpegBinary   string `toml:"ffmpeg_binary"`
}

// Storage contains object store settings. Backend-specific fields are ignored
// by the other backends.
type Storage struct {
	Backend       string `toml:"backend"`
	Bucket        string `toml:"bucket"`
	Prefix        string `toml:"prefix"`
	PublicBaseURL string `toml:"public_base_url"`
	Overwrite     bool   `toml:"overwrite"`

	// gcs
	ProjectID       string `toml:"project_id"`
	CredentialsFile string `toml:"credentials_file"`

	// s3
	Endpoint        string `toml:"endpoint"`
	Region          string `toml:"region"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	UseSSL          bool   `toml:"use_ssl"`

	// local
	LocalRoot string `toml:"local_root"`
}

// Catalog contains catalog registration settings.
type Catalog struct {
	Backend             string `toml:"backend"`
	APIKey              string `toml:"api_key"`
	Endpoint            string `toml:"endpoint"`
	DatasetID           string `toml:"dataset_id"`
	Policy              string `toml:"policy"`
	WaitTimeoutSeconds  int    `toml:"wait_timeout_seconds"`
	PollIntervalSeconds int    `toml:"poll_interval_seconds"`
	LocalPath           string `toml:"local_path"`
}

// Workflow contains run-level settings.
type Workflow struct {
	Workers int    `toml:"workers"`
	Mode    string `toml:"mode"`
}

// Fetch contains settings for the download and pull commands.
type Fetch struct {
	OutputDir             string   `toml:"output_dir"`
	Extensions            []string `toml:"extensions"`
	RequestTimeoutSeconds int      `toml:"request_timeout_seconds"`
	RetryMax              int      `toml:"retry_max"`
}

// Notifications contains ntfy settings for run summaries.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for vidingest.
//
// Configuration sections by subsystem:
//   - Paths: staging and log directories
//   - Source, Manifest: where work items come from
//   - Transcode: container conversion backend
//   - Storage: destination object store
//   - Catalog: labeling platform registration
//   - Workflow: worker count and run mode
//   - Fetch: download/pull variants
//   - Notifications: ntfy run summaries
//   - Logging: log format and level
type Config struct {
	Paths     Paths         `toml:"paths"`
	Source    Source        `toml:"source"`
	Manifest  Manifest      `toml:"manifest"`
	Transcode Transcode     `toml:"transcode"`
	Storage   Storage       `toml:"storage"`
	Catalog   Catalog       `toml:"catalog"`
	Workflow  Workflow      `toml:"workflow"`
	Fetch     Fetch         `toml:"fetch"`
	Notify    Notifications `toml:"notifications"`
	Logging   Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. A .env file in the
// working directory is loaded first so its values act as environment
// fallbacks; variables already set in the process win. The returned config has
// all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, "", false, err
	}

	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config %s: %w", resolvedPath, err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// Finalize re-applies normalization and validation after callers (such as CLI
// flag overrides) have changed fields of a loaded config.
func (c *Config) Finalize() error {
	if err := c.normalize(); err != nil {
		return err
	}
	return c.Validate()
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs(projectConfigName)
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the staging and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LogFile returns the location of the persistent log file.
func (c *Config) LogFile() string {
	return filepath.Join(c.Paths.LogDir, "vidingest.log")
}

// HistoryPath returns the location of the run history database.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.LogDir, "history.db")
}

// LockDir returns the directory holding per-destination run locks.
func (c *Config) LockDir() string {
	return filepath.Join(c.Paths.StagingDir, "locks")
}

// DestinationKey identifies the bucket and dataset pair a run writes to.
func (c *Config) DestinationKey() string {
	return c.Storage.Backend + ":" + c.Storage.Bucket + "/" + c.Catalog.Backend + ":" + c.Catalog.DatasetID
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
