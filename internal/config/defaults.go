package config

const (
	defaultConfigPath          = "~/.config/vidingest/config.toml"
	projectConfigName          = "vidingest.toml"
	defaultStagingDir          = "~/.local/share/vidingest/staging"
	defaultLogDir              = "~/.local/share/vidingest/logs"
	defaultLocalStoreRoot      = "~/.local/share/vidingest/objects"
	defaultLocalCatalogPath    = "~/.local/share/vidingest/catalog.db"
	defaultTranscodeBackend    = "ffmpeg"
	defaultContainer           = "mp4"
	defaultTranscodeTimeout    = 3600
	defaultFFmpegBinary        = "ffmpeg"
	defaultStorageBackend      = "gcs"
	defaultPublicBaseURL       = "https://storage.googleapis.com"
	defaultS3Region            = "us-east-1"
	defaultCatalogBackend      = "labelbox"
	defaultLabelboxEndpoint    = "https://api.labelbox.com/graphql"
	defaultCatalogPolicy       = PolicyAlways
	defaultCatalogWaitTimeout  = 1800
	defaultCatalogPollInterval = 2
	defaultWorkers             = 1
	defaultMode                = ModeIngest
	defaultFetchRequestTimeout = 300
	defaultFetchRetryMax       = 3
	defaultNotifyTimeout       = 10
	defaultNameColumn          = "video_name"
	defaultSourceColumn        = "download_link"
	defaultOwnerColumn         = "collector_name"
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Registration policies.
const (
	PolicyAlways         = "always"
	PolicySkipRegistered = "skip_registered"
)

// Run modes.
const (
	ModeIngest       = "ingest"
	ModeRegisterOnly = "register_only"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			LogDir:     defaultLogDir,
		},
		Source: Source{
			Extensions: []string{".mov", ".mp4", ".m4v", ".avi", ".mkv"},
		},
		Manifest: Manifest{
			NameColumn:   defaultNameColumn,
			SourceColumn: defaultSourceColumn,
			OwnerColumn:  defaultOwnerColumn,
		},
		Transcode: Transcode{
			Backend:        defaultTranscodeBackend,
			Container:      defaultContainer,
			TimeoutSeconds: defaultTranscodeTimeout,
			FFmpegBinary:   defaultFFmpegBinary,
		},
		Storage: Storage{
			Backend:       defaultStorageBackend,
			PublicBaseURL: defaultPublicBaseURL,
			Region:        defaultS3Region,
			UseSSL:        true,
			LocalRoot:     defaultLocalStoreRoot,
		},
		Catalog: Catalog{
			Backend:             defaultCatalogBackend,
			Endpoint:            defaultLabelboxEndpoint,
			Policy:              defaultCatalogPolicy,
			WaitTimeoutSeconds:  defaultCatalogWaitTimeout,
			PollIntervalSeconds: defaultCatalogPollInterval,
			LocalPath:           defaultLocalCatalogPath,
		},
		Workflow: Workflow{
			Workers: defaultWorkers,
			Mode:    defaultMode,
		},
		Fetch: Fetch{
			Extensions:            []string{".mp4", ".mov"},
			RequestTimeoutSeconds: defaultFetchRequestTimeout,
			RetryMax:              defaultFetchRetryMax,
		},
		Notify: Notifications{
			RequestTimeoutSeconds: defaultNotifyTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
