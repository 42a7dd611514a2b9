package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"vidingest/internal/catalog"
	"vidingest/internal/config"
	"vidingest/internal/history"
	"vidingest/internal/objectstore"
	"vidingest/internal/services"
)

type commandContext struct {
	configFlag    *string
	logLevelFlag  *string
	logFormatFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag, logLevelFlag, logFormatFlag *string) *commandContext {
	return &commandContext{
		configFlag:    configFlag,
		logLevelFlag:  logLevelFlag,
		logFormatFlag: logFormatFlag,
	}
}

// ensureConfig loads the configuration once per process. Load failures are
// configuration errors so the command exits with the fatal status.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = services.Wrap(services.ErrConfiguration, "config", "load", resolved, err)
			return
		}
		if level := flagValue(c.logLevelFlag); level != "" {
			cfg.Logging.Level = level
		}
		if format := flagValue(c.logFormatFlag); format != "" {
			cfg.Logging.Format = format
		}
		if err := cfg.Finalize(); err != nil {
			c.configErr = services.Wrap(services.ErrConfiguration, "config", "validate", "", err)
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = services.Wrap(services.ErrConfiguration, "config", "prepare directories", "", err)
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

func openStore(ctx context.Context, cfg *config.Config) (objectstore.Store, error) {
	if err := cfg.RequireDestination(); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "storage", "configure", "", err)
	}
	store, err := objectstore.New(ctx, cfg.Storage)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "storage", "open", cfg.Storage.Backend, err)
	}
	return store, nil
}

func openCatalog(ctx context.Context, cfg *config.Config, logger *slog.Logger) (catalog.Service, error) {
	if err := cfg.RequireCatalog(); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "catalog", "configure", "", err)
	}
	svc, err := catalog.New(ctx, cfg.Catalog, logger)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "catalog", "open", cfg.Catalog.Backend, err)
	}
	return svc, nil
}

func openHistory(ctx context.Context, cfg *config.Config) (*history.Store, error) {
	store, err := history.Open(ctx, cfg.HistoryPath())
	if err != nil {
		return nil, fmt.Errorf("open run history: %w", err)
	}
	return store, nil
}

// closeStore releases backends that hold connections. Not every store does.
func closeStore(store objectstore.Store) {
	if closer, ok := store.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}

func flagValue(flag *string) string {
	if flag == nil {
		return ""
	}
	return strings.TrimSpace(*flag)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
