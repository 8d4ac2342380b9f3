package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "kami.yaml"))
	require.NoError(t, err)

	assert.Equal(t, []string{"3.8", "3.9", "3.10", "3.11", "3.12"}, cfg.PythonVersions)
	assert.Equal(t, []string{"11.8", "12.1", "12.4"}, cfg.CUDAVersions)
	assert.Equal(t, 200, cfg.Console.MaxLines)
	assert.Equal(t, 60*time.Minute, cfg.GetStepTimeout())
	assert.NoError(t, cfg.Validate())
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kami.yaml")
	content := `
python_versions: ["3.10", "3.11"]
execution:
  step_timeout: 5m
console:
  max_lines: 50
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"3.10", "3.11"}, cfg.PythonVersions)
	assert.Equal(t, 5*time.Minute, cfg.GetStepTimeout())
	assert.Equal(t, 50, cfg.Console.MaxLines)
	// untouched keys keep defaults
	assert.Equal(t, "https://download.pytorch.org/whl", cfg.PyTorchIndexURL)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kami.yaml")
	require.NoError(t, os.WriteFile(path, []byte("python_versions: [unterminated"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KAMI_WORKSPACE", "/tmp/ws")
	t.Setenv("KAMI_PYTHON_INDEX", "http://mirror.local/python/")
	t.Setenv("KAMI_DEBUG", "1")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, "/tmp/ws", cfg.Workspace)
	assert.Equal(t, "http://mirror.local/python/", cfg.PythonIndexURL)
	assert.True(t, cfg.Logging.DebugMode)
	assert.Equal(t, filepath.Join("/tmp/ws", "settings.json"), cfg.SettingsPath())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty python versions", func(c *Config) { c.PythonVersions = nil }},
		{"bad python version", func(c *Config) { c.PythonVersions = []string{"3"} }},
		{"bad cuda version", func(c *Config) { c.CUDAVersions = []string{"cu121"} }},
		{"bad step timeout", func(c *Config) { c.Execution.StepTimeout = "soon" }},
		{"bad probe timeout", func(c *Config) { c.Execution.ProbeTimeout = "" }},
		{"zero console lines", func(c *Config) { c.Console.MaxLines = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "kami.yaml")
	cfg := DefaultConfig()
	cfg.CUDAVersions = []string{"12.4"}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"12.4"}, loaded.CUDAVersions)
}

func TestHasPythonVersion(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.HasPythonVersion("3.11"))
	assert.False(t, cfg.HasPythonVersion("2.7"))
}
