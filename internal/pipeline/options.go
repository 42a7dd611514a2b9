package pipeline

import (
	"io"
	"log/slog"
	"time"

	"vidingest/internal/catalog"
	"vidingest/internal/config"
)

// Options configures a Pipeline.
type Options struct {
	RunID string
	// Mode is config.ModeIngest or config.ModeRegisterOnly.
	Mode string
	// Source describes where items came from; it is copied to the report.
	Source string
	// StagingDir holds per-run scratch directories for transform output.
	StagingDir string
	Workers    int
	// Force converts sources even when they already have the target
	// container.
	Force bool
	// Overwrite re-uploads objects that already exist.
	Overwrite bool
	// Policy is config.PolicyAlways or config.PolicySkipRegistered.
	Policy string
	// DryRun checks the destination but transforms, uploads and registers
	// nothing.
	DryRun bool
	Wait   catalog.WaitPolicy
	Logger *slog.Logger
	// ProgressOutput receives an interactive progress bar when set.
	ProgressOutput io.Writer
}

// OptionsFromConfig maps the loaded configuration onto pipeline options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Mode:       cfg.Workflow.Mode,
		Source:     cfg.Source.Root,
		StagingDir: cfg.Paths.StagingDir,
		Workers:    cfg.Workflow.Workers,
		Force:      cfg.Transcode.Force,
		Overwrite:  cfg.Storage.Overwrite,
		Policy:     cfg.Catalog.Policy,
		Wait:       catalog.WaitPolicyFromConfig(cfg.Catalog),
	}
}

func (o Options) withDefaults() Options {
	if o.Mode == "" {
		o.Mode = config.ModeIngest
	}
	if o.Policy == "" {
		o.Policy = config.PolicyAlways
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.Wait.Interval <= 0 {
		o.Wait.Interval = 2 * time.Second
	}
	if o.Wait.Timeout <= 0 {
		o.Wait.Timeout = 30 * time.Minute
	}
	return o
}
