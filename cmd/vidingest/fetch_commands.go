package main

import (
	"time"

	"github.com/spf13/cobra"

	"vidingest/internal/config"
	"vidingest/internal/enumerate"
	"vidingest/internal/fetch"
	"vidingest/internal/logging"
	"vidingest/internal/notifications"
	"vidingest/internal/services"
)

type fetchFlags struct {
	output     string
	workers    int
	reportPath string
	jsonOutput bool
}

func (f *fetchFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "Directory to write files into")
	cmd.Flags().IntVarP(&f.workers, "workers", "w", 0, "Files fetched concurrently")
	cmd.Flags().StringVar(&f.reportPath, "report", "", "Write the JSON run report to this file")
	cmd.Flags().BoolVar(&f.jsonOutput, "json", false, "Print the run report as JSON")
}

func (f fetchFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("output") {
		cfg.Fetch.OutputDir = f.output
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workflow.Workers = f.workers
	}
	if err := cfg.Finalize(); err != nil {
		return services.Wrap(services.ErrConfiguration, "fetch", "validate flags", "", err)
	}
	if err := cfg.RequireFetchOutput(); err != nil {
		return services.Wrap(services.ErrConfiguration, "fetch", "validate flags", "", err)
	}
	return nil
}

func (f fetchFlags) reportOptions(cfg *config.Config) reportOptions {
	return reportOptions{
		path:       f.reportPath,
		jsonOutput: f.jsonOutput,
		notifier:   notifications.NewService(cfg),
	}
}

func newDownloadCommand(ctx *commandContext) *cobra.Command {
	var flags fetchFlags
	var manifestPath string

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download the videos listed in a manifest, one folder per collector",
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			cfg := *base
			if manifestPath != "" {
				cfg.Manifest.Path = manifestPath
			}
			if err := flags.apply(cmd, &cfg); err != nil {
				return err
			}
			if cfg.Manifest.Path == "" {
				return services.Wrap(services.ErrConfiguration, "download", "resolve manifest", "pass --manifest or set manifest.path", nil)
			}
			logger, err := logging.NewFromConfig(&cfg)
			if err != nil {
				return services.Wrap(services.ErrConfiguration, "download", "build logger", "", err)
			}

			items, err := enumerate.Manifest(cfg.Manifest.Path, enumerate.ManifestOptions{
				NameColumn:       cfg.Manifest.NameColumn,
				SourceColumn:     cfg.Manifest.SourceColumn,
				OwnerColumn:      cfg.Manifest.OwnerColumn,
				RequireOwner:     true,
				QualifyWithOwner: true,
			})
			if err != nil {
				return err
			}

			client := fetch.NewHTTPClient(time.Duration(cfg.Fetch.RequestTimeoutSeconds)*time.Second, cfg.Fetch.RetryMax)
			report, err := fetch.FromManifest(cmd.Context(), items, client, fetch.Options{
				OutputDir: cfg.Fetch.OutputDir,
				Workers:   cfg.Workflow.Workers,
				Source:    cfg.Manifest.Path,
				Logger:    logger,
			})
			if err != nil {
				return err
			}
			return finishReport(cmd, &cfg, report, flags.reportOptions(&cfg), logger)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "CSV manifest listing the videos")
	return cmd
}

func newPullCommand(ctx *commandContext) *cobra.Command {
	var flags fetchFlags
	var prefix string
	var bucket string

	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Copy videos from the destination bucket to a local directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			cfg := *base
			if bucket != "" {
				cfg.Storage.Bucket = bucket
			}
			if err := flags.apply(cmd, &cfg); err != nil {
				return err
			}
			logger, err := logging.NewFromConfig(&cfg)
			if err != nil {
				return services.Wrap(services.ErrConfiguration, "pull", "build logger", "", err)
			}

			store, err := openStore(cmd.Context(), &cfg)
			if err != nil {
				return err
			}
			defer closeStore(store)

			items, err := fetch.BucketItems(cmd.Context(), store, prefix, cfg.Fetch.Extensions)
			if err != nil {
				return err
			}
			report, err := fetch.FromBucket(cmd.Context(), store, items, fetch.Options{
				OutputDir: cfg.Fetch.OutputDir,
				Workers:   cfg.Workflow.Workers,
				Logger:    logger,
			})
			if err != nil {
				return err
			}
			return finishReport(cmd, &cfg, report, flags.reportOptions(&cfg), logger)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&prefix, "prefix", "", "Only pull objects under this key prefix")
	cmd.Flags().StringVar(&bucket, "bucket", "", "Bucket to pull from")
	return cmd
}
