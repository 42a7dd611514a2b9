package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"vidingest/internal/config"
	"vidingest/internal/deps"
)

const redacted = "********"

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigValidateCommand(ctx))
	configCmd.AddCommand(newConfigShowCommand(ctx))

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("determine default config path: %w", err)
				}
				target = defaultPath
			} else {
				expanded, err := config.ExpandPath(target)
				if err != nil {
					return fmt.Errorf("resolve config path: %w", err)
				}
				target = expanded
			}

			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				} else if !os.IsNotExist(err) {
					return fmt.Errorf("check config path: %w", err)
				}
			}

			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Set storage.bucket and catalog.dataset_id (or DESTINATION_BUCKET_NAME and LABELBOX_DATASET_ID) before running vidingest.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and check external tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			path := ctx.configPath
			if _, statErr := os.Stat(path); path == "" || statErr != nil {
				fmt.Fprintln(out, renderStatusLine("Config", statusWarn, "no config file found; defaults and environment were used", colorize))
			} else {
				fmt.Fprintln(out, renderStatusLine("Config", statusOK, path, colorize))
			}

			readiness := []struct {
				label string
				err   error
			}{
				{"Storage", cfg.RequireDestination()},
				{"Catalog", cfg.RequireCatalog()},
			}
			for _, check := range readiness {
				if check.err != nil {
					fmt.Fprintln(out, renderStatusLine(check.label, statusWarn, check.err.Error(), colorize))
					continue
				}
				fmt.Fprintln(out, renderStatusLine(check.label, statusOK, describeBackend(cfg, check.label), colorize))
			}

			statuses := deps.CheckBinaries(deps.ForConfig(cfg))
			for _, status := range statuses {
				if status.Available {
					fmt.Fprintln(out, renderStatusLine(status.Name, statusOK, status.Command, colorize))
				} else {
					fmt.Fprintln(out, renderStatusLine(status.Name, statusError, status.Detail, colorize))
				}
			}
			if err := deps.Missing(statuses); err != nil {
				return err
			}
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	var showSecrets bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as TOML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			effective := *cfg
			if !showSecrets {
				effective.Storage.SecretAccessKey = redact(effective.Storage.SecretAccessKey)
				effective.Catalog.APIKey = redact(effective.Catalog.APIKey)
			}
			data, err := toml.Marshal(effective)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			out := cmd.OutOrStdout()
			if ctx.configPath != "" {
				fmt.Fprintf(out, "# %s\n", filepath.Clean(ctx.configPath))
			}
			_, err = out.Write(data)
			return err
		},
	}
	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "Print credentials instead of masking them")
	return cmd
}

func describeBackend(cfg *config.Config, label string) string {
	switch label {
	case "Storage":
		return cfg.Storage.Backend + " bucket " + cfg.Storage.Bucket
	case "Catalog":
		return cfg.Catalog.Backend + " dataset " + cfg.Catalog.DatasetID
	default:
		return ""
	}
}

func redact(value string) string {
	if value == "" {
		return ""
	}
	return redacted
}
