package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettingsMissingFile(t *testing.T) {
	s, err := LoadSettings(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)

	_, _, ok := s.SelectedEnv()
	assert.False(t, ok)
	theme, err := s.Get(KeyTheme)
	require.NoError(t, err)
	assert.Equal(t, "dark", theme)
}

func TestSelectEnvPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := LoadSettings(path)
	require.NoError(t, err)

	require.NoError(t, s.SelectEnv(ManagerConda, "myenv_1"))

	reloaded, err := LoadSettings(path)
	require.NoError(t, err)
	manager, name, ok := reloaded.SelectedEnv()
	require.True(t, ok)
	assert.Equal(t, ManagerConda, manager)
	assert.Equal(t, "myenv_1", name)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"env_manager": "conda"`)
}

func TestSetValidation(t *testing.T) {
	s, err := LoadSettings(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)

	assert.Error(t, s.Set(KeyEnvManager, "pipenv"))
	assert.Error(t, s.Set(KeyTheme, "solarized"))
	assert.Error(t, s.Set(KeyPythonVersion, "three"))
	assert.Error(t, s.Set("colour", "red"))

	require.NoError(t, s.Set(KeyTheme, "light"))
	require.NoError(t, s.Set(KeyPythonVersion, "3.10"))
	got, err := s.Get(KeyPythonVersion)
	require.NoError(t, err)
	assert.Equal(t, "3.10", got)
}

func TestSelectEnvRejectsUnknownManager(t *testing.T) {
	s, err := LoadSettings(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)
	assert.Error(t, s.SelectEnv("poetry", "x"))
}

func TestLoadSettingsCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte("venv\nmyenv"), 0o644))

	_, err := LoadSettings(path)
	assert.Error(t, err)
}

func TestKeysSorted(t *testing.T) {
	assert.Equal(t, []string{"env_manager", "env_name", "python_version", "theme"}, Keys())
}

func TestWatchSettingsReloadsOnExternalWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := LoadSettings(path)
	require.NoError(t, err)
	require.NoError(t, s.Save())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan SettingsData, 1)
	done := make(chan error, 1)
	go func() {
		done <- WatchSettings(ctx, s, func(d SettingsData) {
			select {
			case changed <- d:
			default:
			}
		})
	}()

	// give the watcher a moment to register
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{"env_manager":"venv","env_name":"proj"}`), 0o644))

	select {
	case d := <-changed:
		assert.Equal(t, ManagerVenv, d.EnvManager)
		assert.Equal(t, "proj", d.EnvName)
	case <-time.After(3 * time.Second):
		t.Fatal("settings change not observed")
	}

	cancel()
	require.NoError(t, <-done)
}
