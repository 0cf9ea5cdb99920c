package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/vk/buildgrid/internal/buildconfig"
	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/loader"
	"github.com/vk/buildgrid/internal/registry"
)

// App encapsulates one analysis run's dependencies and lifecycle.
type App struct {
	outW          io.Writer
	logger        *slog.Logger
	registry      *registry.Registry
	workspace     *loader.Workspace
	configuration *buildconfig.Configuration
}

// NewApp constructs the application: logger, rule registry, workspace, and
// top-level configuration. Startup failures are fatal and panic; the
// entrypoint recovers them into a clean exit.
func NewApp(outW io.Writer, cfg *Config) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW).With("run_id", uuid.NewString())
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	reg := registry.New()
	registry.RegisterBuiltins(reg)
	if err := reg.LoadManifests(ctx, cfg.RulesPath); err != nil {
		panic(fmt.Errorf("failed to load rule manifests: %w", err))
	}
	if err := reg.Validate(); err != nil {
		panic(err)
	}
	logger.Debug("Registry validation passed.")

	workspace, err := loader.Load(ctx, cfg.BuildPath, reg)
	if err != nil {
		panic(fmt.Errorf("failed to load workspace: %w", err))
	}

	configuration, err := loadConfiguration(ctx, cfg.ConfigPath, buildconfig.Options{
		AllowAnalysisFailures: cfg.AllowAnalysisFailures,
		FragmentMode:          cfg.FragmentMode,
	})
	if err != nil {
		panic(fmt.Errorf("failed to load configuration: %w", err))
	}

	return &App{
		outW:          outW,
		logger:        logger,
		registry:      reg,
		workspace:     workspace,
		configuration: configuration,
	}
}

// Registry returns the application's registry. Primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Workspace returns the loaded target universe. Primarily for testing.
func (a *App) Workspace() *loader.Workspace {
	return a.workspace
}
