package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"vidingest/internal/catalog"
	"vidingest/internal/config"
	"vidingest/internal/deps"
	"vidingest/internal/enumerate"
	"vidingest/internal/ingest"
	"vidingest/internal/logging"
	"vidingest/internal/notifications"
	"vidingest/internal/pipeline"
	"vidingest/internal/runlock"
	"vidingest/internal/services"
	"vidingest/internal/staging"
	"vidingest/internal/transcode"
)

// staleRunAge is how old a leftover run directory must be before a new run
// removes it.
const staleRunAge = 24 * time.Hour

type runFlags struct {
	manifest   string
	sourceRoot string
	mode       string
	workers    int
	bucket     string
	prefix     string
	dataset    string
	keyPrefix  string
	policy     string
	overwrite  bool
	force      bool
	dryRun     bool
	noLock     bool
	reportPath string
	jsonOutput bool
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run [SOURCE]",
		Short: "Convert, upload and register every video in a directory or manifest",
		Long: "Enumerate videos from SOURCE (or --manifest), convert them to the target\n" +
			"container, upload them to the configured bucket and register one catalog\n" +
			"row per video. Exit status is 0 when nothing failed, 1 when some items\n" +
			"failed and 2 when the run could not start.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			cfg := *base
			if err := flags.apply(cmd, &cfg, args); err != nil {
				return err
			}
			if err := cfg.Finalize(); err != nil {
				return services.Wrap(services.ErrConfiguration, "run", "validate flags", "", err)
			}
			logger, err := logging.NewFromConfig(&cfg)
			if err != nil {
				return services.Wrap(services.ErrConfiguration, "run", "build logger", "", err)
			}
			notifier := notifications.NewService(&cfg)
			err = executeRun(cmd, &cfg, flags, logger, notifier)
			notifyAborted(cmd, notifier, "run", err, logger)
			return err
		},
	}

	cmd.Flags().StringVarP(&flags.manifest, "manifest", "m", "", "CSV manifest to ingest instead of a directory")
	cmd.Flags().StringVar(&flags.sourceRoot, "source-root", "", "Directory holding the files of a name-only manifest")
	cmd.Flags().StringVar(&flags.mode, "mode", "", "Run mode: ingest or register_only")
	cmd.Flags().IntVarP(&flags.workers, "workers", "w", 0, "Items processed concurrently")
	cmd.Flags().StringVar(&flags.bucket, "bucket", "", "Destination bucket")
	cmd.Flags().StringVar(&flags.prefix, "prefix", "", "Object key prefix inside the bucket")
	cmd.Flags().StringVar(&flags.dataset, "dataset", "", "Catalog dataset ID")
	cmd.Flags().StringVar(&flags.keyPrefix, "key-prefix", "", "Prefix for catalog keys")
	cmd.Flags().StringVar(&flags.policy, "policy", "", "Registration policy: always or skip_registered")
	cmd.Flags().BoolVar(&flags.overwrite, "overwrite", false, "Re-upload objects that already exist")
	cmd.Flags().BoolVar(&flags.force, "force", false, "Convert sources that already have the target container")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Check the destination without converting, uploading or registering")
	cmd.Flags().BoolVar(&flags.noLock, "no-lock", false, "Do not take the per-destination run lock")
	cmd.Flags().StringVar(&flags.reportPath, "report", "", "Write the JSON run report to this file")
	cmd.Flags().BoolVar(&flags.jsonOutput, "json", false, "Print the run report as JSON")
	return cmd
}

// apply copies explicitly set flags over the loaded configuration.
func (f runFlags) apply(cmd *cobra.Command, cfg *config.Config, args []string) error {
	if len(args) > 0 {
		if f.manifest != "" {
			return services.Wrap(services.ErrConfiguration, "run", "parse arguments", "pass either SOURCE or --manifest, not both", nil)
		}
		cfg.Source.Root = args[0]
		cfg.Manifest.Path = ""
	}
	if f.manifest != "" {
		cfg.Manifest.Path = f.manifest
	}
	if f.sourceRoot != "" {
		cfg.Manifest.SourceRoot = f.sourceRoot
	}
	changed := cmd.Flags().Changed
	if changed("mode") {
		cfg.Workflow.Mode = strings.TrimSpace(f.mode)
	}
	if changed("workers") {
		cfg.Workflow.Workers = f.workers
	}
	if changed("bucket") {
		cfg.Storage.Bucket = strings.TrimSpace(f.bucket)
	}
	if changed("prefix") {
		cfg.Storage.Prefix = strings.TrimSpace(f.prefix)
	}
	if changed("dataset") {
		cfg.Catalog.DatasetID = strings.TrimSpace(f.dataset)
	}
	if changed("key-prefix") {
		cfg.Source.KeyPrefix = strings.TrimSpace(f.keyPrefix)
	}
	if changed("policy") {
		cfg.Catalog.Policy = strings.TrimSpace(f.policy)
	}
	if changed("overwrite") {
		cfg.Storage.Overwrite = f.overwrite
	}
	if changed("force") {
		cfg.Transcode.Force = f.force
	}
	return nil
}

func executeRun(cmd *cobra.Command, cfg *config.Config, flags runFlags, logger *slog.Logger, notifier notifications.Service) error {
	ctx := cmd.Context()
	runID := uuid.NewString()
	runLogger := logger.With(logging.String(logging.FieldRunID, runID))

	transcoder, err := transcode.New(cfg.Transcode)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "run", "select transcoder", "", err)
	}

	items, source, err := enumerateRun(cfg, transcoder.Target())
	if err != nil {
		return err
	}
	runLogger.Info("work items enumerated",
		logging.Event("enumerated"),
		logging.String("source", source),
		logging.Int("items", len(items)),
	)

	if cfg.Workflow.Mode == config.ModeIngest && !flags.dryRun {
		if err := deps.Missing(deps.CheckBinaries(deps.ForConfig(cfg))); err != nil {
			return services.Wrap(services.ErrConfiguration, "run", "check dependencies", "", err)
		}
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store)
	if err := store.Ping(ctx); err != nil {
		return services.Wrap(services.ErrConfiguration, "storage", "reach bucket", store.Bucket(), err)
	}

	var dataset catalog.Dataset
	if !flags.dryRun || cfg.RequireCatalog() == nil {
		svc, err := openCatalog(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer svc.Close()
		dataset, err = svc.Dataset(ctx, cfg.Catalog.DatasetID)
		if err != nil {
			return services.Wrap(services.ErrConfiguration, "catalog", "open dataset", cfg.Catalog.DatasetID, err)
		}
	}

	if !flags.noLock && !flags.dryRun {
		lock, err := runlock.Acquire(cfg.LockDir(), cfg.DestinationKey())
		if err != nil {
			if errors.Is(err, runlock.ErrHeld) {
				return services.Wrap(services.ErrConfiguration, "run", "acquire lock", cfg.DestinationKey(), err)
			}
			return fmt.Errorf("acquire run lock: %w", err)
		}
		defer lock.Release()
		staging.SweepStale(ctx, cfg.Paths.StagingDir, staleRunAge, runLogger)
	}

	opts := pipeline.OptionsFromConfig(cfg)
	opts.RunID = runID
	opts.Source = source
	opts.DryRun = flags.dryRun
	opts.Logger = logger
	if !flags.jsonOutput && shouldColorize(cmd.ErrOrStderr()) {
		opts.ProgressOutput = cmd.ErrOrStderr()
	}
	p, err := pipeline.New(opts, transcoder, store, dataset)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "run", "build pipeline", "", err)
	}

	report, err := p.Run(ctx, items)
	if err != nil {
		return err
	}
	return finishReport(cmd, cfg, report, reportOptions{
		path:       flags.reportPath,
		jsonOutput: flags.jsonOutput,
		notifier:   notifier,
	}, runLogger)
}

func enumerateRun(cfg *config.Config, container string) ([]ingest.WorkItem, string, error) {
	keys := enumerate.KeyOptions{KeyPrefix: cfg.Source.KeyPrefix, Container: container}
	if cfg.Manifest.Path != "" {
		items, err := enumerate.Manifest(cfg.Manifest.Path, enumerate.ManifestOptions{
			KeyOptions:   keys,
			NameColumn:   cfg.Manifest.NameColumn,
			SourceColumn: cfg.Manifest.SourceColumn,
			OwnerColumn:  cfg.Manifest.OwnerColumn,
			SourceRoot:   manifestSourceRoot(cfg),
		})
		return items, cfg.Manifest.Path, err
	}
	if strings.TrimSpace(cfg.Source.Root) == "" {
		return nil, "", services.Wrap(services.ErrConfiguration, "run", "resolve source",
			"no SOURCE given and source.root is not configured", nil)
	}
	items, err := enumerate.Directory(cfg.Source.Root, enumerate.DirectoryOptions{
		KeyOptions: keys,
		Extensions: cfg.Source.Extensions,
	})
	return items, cfg.Source.Root, err
}

// manifestSourceRoot picks the directory that name-only manifest rows are
// resolved against.
func manifestSourceRoot(cfg *config.Config) string {
	switch {
	case cfg.Manifest.SourceRoot != "":
		return cfg.Manifest.SourceRoot
	case cfg.Source.Root != "":
		return cfg.Source.Root
	default:
		return filepath.Dir(cfg.Manifest.Path)
	}
}

type reportOptions struct {
	path       string
	jsonOutput bool
	notifier   notifications.Service
}

// finishReport prints the report, writes the optional report file, records
// the run in history and sends the completion notification. History and
// notification failures are logged and do not change the exit status.
func finishReport(cmd *cobra.Command, cfg *config.Config, report *ingest.RunReport, opts reportOptions, logger *slog.Logger) error {
	if opts.jsonOutput {
		if err := writeJSON(cmd, report); err != nil {
			return err
		}
	} else {
		renderReport(cmd.OutOrStdout(), report, shouldColorize(cmd.OutOrStdout()))
	}
	if opts.path != "" {
		if err := writeJSONFile(opts.path, report); err != nil {
			return err
		}
	}

	ctx := context.WithoutCancel(cmd.Context())
	if hist, err := openHistory(ctx, cfg); err != nil {
		logger.Warn("run history unavailable", logging.Error(err))
	} else {
		if err := hist.Save(ctx, report); err != nil {
			logger.Warn("failed to record run history",
				logging.Event("history_save_failed"),
				logging.Error(err),
			)
		}
		_ = hist.Close()
	}

	if opts.notifier != nil {
		if err := opts.notifier.NotifyRunCompleted(ctx, report); err != nil {
			logger.Warn("run notification failed",
				logging.Event("notification_failed"),
				logging.Error(err),
			)
		}
	}

	if report.HasFailures() {
		return errItemsFailed
	}
	return nil
}

// notifyAborted reports a run that stopped before producing a report.
// Interrupts and item failures are not aborts.
func notifyAborted(cmd *cobra.Command, notifier notifications.Service, label string, err error, logger *slog.Logger) {
	if err == nil || notifier == nil || errors.Is(err, errItemsFailed) || errors.Is(err, context.Canceled) {
		return
	}
	if services.IsFatal(err) {
		label += " setup"
	}
	if notifyErr := notifier.NotifyRunAborted(context.WithoutCancel(cmd.Context()), label, err); notifyErr != nil {
		logger.Warn("run notification failed",
			logging.Event("notification_failed"),
			logging.Error(notifyErr),
		)
	}
}
