// Package config loads kamisetup's tool configuration (kami.yaml) and the
// user's settings.json.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is looked up in the workspace when --config is not given.
const DefaultConfigFile = "kami.yaml"

// Config holds all kamisetup configuration.
type Config struct {
	// Workspace is where venvs are created and discovered.
	Workspace string `yaml:"workspace"`

	// SettingsFile is the path of settings.json, relative to Workspace.
	SettingsFile string `yaml:"settings_file"`

	// Offered versions
	PythonVersions []string `yaml:"python_versions"`
	CUDAVersions   []string `yaml:"cuda_versions"`

	// Remote indexes
	PythonIndexURL  string `yaml:"python_index_url"`
	PyTorchIndexURL string `yaml:"pytorch_index_url"`

	Execution ExecutionConfig `yaml:"execution"`
	Console   ConsoleConfig   `yaml:"console"`
	Logging   LoggingConfig   `yaml:"logging"`
	History   HistoryConfig   `yaml:"history"`
}

// ExecutionConfig configures subprocess execution.
type ExecutionConfig struct {
	StepTimeout    string `yaml:"step_timeout"`
	ProbeTimeout   string `yaml:"probe_timeout"`
	MaxOutputBytes int64  `yaml:"max_output_bytes"`
}

// ConsoleConfig configures the UI console pane.
type ConsoleConfig struct {
	MaxLines int `yaml:"max_lines"`
}

// LoggingConfig configures the category file loggers.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories"`
}

// HistoryConfig configures the run history database.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Workspace:       ".",
		SettingsFile:    "settings.json",
		PythonVersions:  []string{"3.8", "3.9", "3.10", "3.11", "3.12"},
		CUDAVersions:    []string{"11.8", "12.1", "12.4"},
		PythonIndexURL:  "https://www.python.org/ftp/python/",
		PyTorchIndexURL: "https://download.pytorch.org/whl",
		Execution: ExecutionConfig{
			StepTimeout:    "60m",
			ProbeTimeout:   "15s",
			MaxOutputBytes: 10 * 1024 * 1024,
		},
		Console: ConsoleConfig{MaxLines: 200},
		Logging: LoggingConfig{Level: "info"},
		History: HistoryConfig{
			Enabled: true,
			Path:    filepath.Join(".kami", "history.db"),
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("KAMI_WORKSPACE"); v != "" {
		c.Workspace = v
	}
	if v := os.Getenv("KAMI_SETTINGS"); v != "" {
		c.SettingsFile = v
	}
	if v := os.Getenv("KAMI_PYTHON_INDEX"); v != "" {
		c.PythonIndexURL = v
	}
	if v := os.Getenv("KAMI_PYTORCH_INDEX"); v != "" {
		c.PyTorchIndexURL = v
	}
	if v := os.Getenv("KAMI_DEBUG"); v == "1" || v == "true" {
		c.Logging.DebugMode = true
	}
}

var majorMinor = regexp.MustCompile(`^\d+\.\d+$`)

// Validate validates the configuration.
func (c *Config) Validate() error {
	if len(c.PythonVersions) == 0 {
		return fmt.Errorf("python_versions must not be empty")
	}
	for _, v := range c.PythonVersions {
		if !majorMinor.MatchString(v) {
			return fmt.Errorf("invalid python version %q (want MAJOR.MINOR)", v)
		}
	}
	for _, v := range c.CUDAVersions {
		if !majorMinor.MatchString(v) {
			return fmt.Errorf("invalid CUDA version %q (want MAJOR.MINOR)", v)
		}
	}
	if _, err := time.ParseDuration(c.Execution.StepTimeout); err != nil {
		return fmt.Errorf("invalid execution.step_timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.Execution.ProbeTimeout); err != nil {
		return fmt.Errorf("invalid execution.probe_timeout: %w", err)
	}
	if c.Console.MaxLines <= 0 {
		return fmt.Errorf("console.max_lines must be positive")
	}
	return nil
}

// GetStepTimeout returns the per-step timeout as a duration.
func (c *Config) GetStepTimeout() time.Duration {
	d, err := time.ParseDuration(c.Execution.StepTimeout)
	if err != nil {
		return 60 * time.Minute
	}
	return d
}

// GetProbeTimeout returns the probe timeout as a duration.
func (c *Config) GetProbeTimeout() time.Duration {
	d, err := time.ParseDuration(c.Execution.ProbeTimeout)
	if err != nil {
		return 15 * time.Second
	}
	return d
}

// SettingsPath resolves settings.json against the workspace.
func (c *Config) SettingsPath() string {
	return c.resolve(c.SettingsFile)
}

// HistoryPath resolves the history database against the workspace.
func (c *Config) HistoryPath() string {
	return c.resolve(c.History.Path)
}

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Workspace, p)
}

// HasPythonVersion reports whether v is one of the offered versions.
func (c *Config) HasPythonVersion(v string) bool {
	for _, pv := range c.PythonVersions {
		if pv == v {
			return true
		}
	}
	return false
}
