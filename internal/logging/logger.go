// Package logging provides config-driven categorized file-based logging for kamisetup.
// Logs are written to .kami/logs/ with separate files per category.
// Logging is controlled by debug_mode in kami.yaml - when false, no logs are written.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot     Category = "boot"     // Startup, config loading
	CategoryConfig   Category = "config"   // Settings reads/writes, file watching
	CategoryExec     Category = "exec"     // Subprocess execution
	CategoryInstall  Category = "install"  // Pipeline runs and steps
	CategoryEnv      Category = "env"      // venv / conda environment management
	CategoryDownload Category = "download" // python.org index and installer downloads
	CategoryGPU      Category = "gpu"      // nvidia-smi probing
	CategoryUI       Category = "ui"       // Terminal UI events
	CategoryStore    Category = "store"    // History database
)

// Options mirrors config.LoggingConfig to avoid an import cycle.
type Options struct {
	DebugMode  bool
	Level      string
	JSONFormat bool
	Categories map[string]bool
}

// Logger is a category logger. The zero value (nil sugar) discards everything.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	opts      Options
	optsMu    sync.RWMutex
	level     = zapcore.InfoLevel
)

// Initialize sets up the logging directory under workspace/.kami/logs.
// It is a silent no-op unless opt.DebugMode is set.
func Initialize(workspace string, opt Options) error {
	if workspace == "" {
		return fmt.Errorf("workspace path required")
	}

	CloseAll()

	optsMu.Lock()
	opts = opt
	level = parseLevel(opt.Level)
	optsMu.Unlock()

	dir := filepath.Join(workspace, ".kami", "logs")
	loggersMu.Lock()
	logsDir = dir
	loggersMu.Unlock()
	if !opt.DebugMode {
		return nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== kamisetup logging initialized ===")
	boot.Info("Workspace: %s", workspace)
	boot.Info("Log level: %s", level)
	return nil
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// IsDebugMode returns whether debug logging is enabled
func IsDebugMode() bool {
	optsMu.RLock()
	defer optsMu.RUnlock()
	return opts.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	optsMu.RLock()
	defer optsMu.RUnlock()

	if !opts.DebugMode {
		return false
	}
	enabled, exists := opts.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode or the category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	cached, ok := loggers[category]
	dir := logsDir
	loggersMu.RUnlock()
	if ok {
		return cached
	}
	if dir == "" {
		return &Logger{category: category}
	}

	loggersMu.Lock()
	defer loggersMu.Unlock()

	if l, ok := loggers[category]; ok {
		return l
	}
	if logsDir == "" {
		return &Logger{category: category}
	}

	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", date, category))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		sugar:    zap.New(newCore(file)).Named(string(category)).Sugar(),
	}
	loggers[category] = l
	return l
}

func newCore(file *os.File) zapcore.Core {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	optsMu.RLock()
	jsonFormat := opts.JSONFormat
	lvl := level
	optsMu.RUnlock()

	var enc zapcore.Encoder
	if jsonFormat {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	return zapcore.NewCore(enc, zapcore.AddSync(file), lvl)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Debugf(format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Errorf(format, args...)
}

// With returns a logger carrying structured key/value context.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	if l.sugar == nil {
		return l
	}
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

// Enabled reports whether the logger writes anywhere.
func (l *Logger) Enabled() bool {
	return l.sugar != nil
}

// CloseAll flushes and closes all open log files (call at shutdown)
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	for _, l := range loggers {
		if l.sugar != nil {
			_ = l.sugar.Sync()
		}
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// CONVENIENCE FUNCTIONS
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) { Get(CategoryBoot).Info(format, args...) }

// BootWarn logs a warning to the boot category
func BootWarn(format string, args ...interface{}) { Get(CategoryBoot).Warn(format, args...) }

// Config logs to the config category
func Config(format string, args ...interface{}) { Get(CategoryConfig).Info(format, args...) }

// ConfigWarn logs a warning to the config category
func ConfigWarn(format string, args ...interface{}) { Get(CategoryConfig).Warn(format, args...) }

// Exec logs to the exec category
func Exec(format string, args ...interface{}) { Get(CategoryExec).Info(format, args...) }

// ExecDebug logs debug to the exec category
func ExecDebug(format string, args ...interface{}) { Get(CategoryExec).Debug(format, args...) }

// ExecWarn logs a warning to the exec category
func ExecWarn(format string, args ...interface{}) { Get(CategoryExec).Warn(format, args...) }

// ExecError logs an error to the exec category
func ExecError(format string, args ...interface{}) { Get(CategoryExec).Error(format, args...) }

// Install logs to the install category
func Install(format string, args ...interface{}) { Get(CategoryInstall).Info(format, args...) }

// InstallWarn logs a warning to the install category
func InstallWarn(format string, args ...interface{}) { Get(CategoryInstall).Warn(format, args...) }

// InstallError logs an error to the install category
func InstallError(format string, args ...interface{}) { Get(CategoryInstall).Error(format, args...) }

// Env logs to the env category
func Env(format string, args ...interface{}) { Get(CategoryEnv).Info(format, args...) }

// EnvWarn logs a warning to the env category
func EnvWarn(format string, args ...interface{}) { Get(CategoryEnv).Warn(format, args...) }

// Download logs to the download category
func Download(format string, args ...interface{}) { Get(CategoryDownload).Info(format, args...) }

// DownloadWarn logs a warning to the download category
func DownloadWarn(format string, args ...interface{}) { Get(CategoryDownload).Warn(format, args...) }

// GPU logs to the gpu category
func GPU(format string, args ...interface{}) { Get(CategoryGPU).Info(format, args...) }

// UI logs debug to the ui category
func UI(format string, args ...interface{}) { Get(CategoryUI).Debug(format, args...) }

// Store logs to the store category
func Store(format string, args ...interface{}) { Get(CategoryStore).Info(format, args...) }

// StoreDebug logs debug to the store category
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }

// StoreError logs an error to the store category
func StoreError(format string, args ...interface{}) { Get(CategoryStore).Error(format, args...) }

// =============================================================================
// TIMERS
// =============================================================================

// Timer measures an operation and logs its duration on Stop.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
