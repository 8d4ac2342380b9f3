package main

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"kamisetup/internal/conda"
	"kamisetup/internal/config"
	"kamisetup/internal/history"
	"kamisetup/internal/installer"
	"kamisetup/internal/logging"
	"kamisetup/internal/pyrelease"
	"kamisetup/internal/tactile"
)

// app wires the services every command needs.
type app struct {
	cfg      *config.Config
	settings *config.Settings
	executor *tactile.DirectExecutor
	runner   *installer.Runner
	conda    *conda.Client
	releases *pyrelease.Client
	history  *history.Store
}

// loadApp resolves the workspace and config, then builds the services.
// The --workspace flag wins over KAMI_WORKSPACE and the config file.
func loadApp() (*app, error) {
	ws := workspace
	if ws == "" {
		var err error
		if ws, err = os.Getwd(); err != nil {
			return nil, fmt.Errorf("failed to resolve workspace: %w", err)
		}
	}

	path := configPath
	if path == "" {
		path = filepath.Join(ws, config.DefaultConfigFile)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if workspace != "" || cfg.Workspace == "" || cfg.Workspace == "." {
		cfg.Workspace = ws
	}
	if cfg.Workspace, err = filepath.Abs(cfg.Workspace); err != nil {
		return nil, fmt.Errorf("failed to resolve workspace: %w", err)
	}
	if verbose {
		cfg.Logging.DebugMode = true
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	if err := logging.Initialize(cfg.Workspace, logging.Options{
		DebugMode:  cfg.Logging.DebugMode,
		Level:      cfg.Logging.Level,
		JSONFormat: cfg.Logging.JSONFormat,
		Categories: cfg.Logging.Categories,
	}); err != nil {
		logger.Warn("Logging disabled", zap.Error(err))
	}
	logging.Boot("Config %s, workspace %s", path, cfg.Workspace)

	settings, err := config.LoadSettings(cfg.SettingsPath())
	if err != nil {
		return nil, err
	}

	execCfg := tactile.DefaultExecutorConfig()
	execCfg.DefaultWorkingDir = cfg.Workspace
	execCfg.DefaultTimeout = cfg.GetStepTimeout()
	if cfg.Execution.MaxOutputBytes > 0 {
		execCfg.MaxOutputBytes = cfg.Execution.MaxOutputBytes
	}
	executor := tactile.NewDirectExecutorWithConfig(execCfg)
	executor.SetAuditCallback(func(ev tactile.AuditEvent) {
		fields := []zap.Field{
			zap.String("type", string(ev.Type)),
			zap.String("command", ev.Command.CommandString()),
		}
		if ev.Result != nil {
			fields = append(fields, zap.Int("exit_code", ev.Result.ExitCode), zap.Duration("duration", ev.Result.Duration))
		}
		logger.Debug("exec", fields...)
	})

	a := &app{
		cfg:      cfg,
		settings: settings,
		executor: executor,
		conda:    conda.New(executor),
		releases: pyrelease.NewClient(cfg.PythonIndexURL, nil),
	}

	opts := []installer.Option{
		installer.WithStepTimeout(cfg.GetStepTimeout()),
		installer.WithDryRun(dryRun),
	}
	if cfg.History.Enabled {
		store, err := history.Open(cfg.HistoryPath())
		if err != nil {
			// history is optional; installs still work without it
			logger.Warn("Run history unavailable", zap.String("path", cfg.HistoryPath()), zap.Error(err))
		} else {
			a.history = store
			opts = append(opts, installer.WithRecorder(store))
		}
	}
	a.runner = installer.NewRunner(executor, opts...)
	return a, nil
}

// Close releases the history database and log files.
func (a *app) Close() {
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			logger.Warn("Failed to close history", zap.Error(err))
		}
	}
	logging.CloseAll()
}
