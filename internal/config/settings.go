package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"kamisetup/internal/logging"
)

// EnvManager selects which tool owns the active environment.
type EnvManager string

const (
	ManagerVenv  EnvManager = "venv"
	ManagerConda EnvManager = "conda"
)

// Settings keys accepted by Set/Get.
const (
	KeyEnvManager    = "env_manager"
	KeyEnvName       = "env_name"
	KeyTheme         = "theme"
	KeyPythonVersion = "python_version"
)

// SettingsData is the on-disk shape of settings.json.
type SettingsData struct {
	EnvManager    EnvManager `json:"env_manager,omitempty"`
	EnvName       string     `json:"env_name,omitempty"`
	Theme         string     `json:"theme,omitempty"`
	PythonVersion string     `json:"python_version,omitempty"`
}

func defaultSettings() SettingsData {
	return SettingsData{Theme: "dark", PythonVersion: "3.11"}
}

// Settings is the user's settings.json. Safe for concurrent use.
type Settings struct {
	mu   sync.RWMutex
	path string
	data SettingsData
}

// LoadSettings reads settings.json. A missing file yields defaults.
func LoadSettings(path string) (*Settings, error) {
	s := &Settings{path: path, data: defaultSettings()}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the file from disk, keeping defaults for absent keys.
func (s *Settings) Reload() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read settings: %w", err)
	}

	data := defaultSettings()
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("failed to parse settings %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
	logging.Config("Settings loaded from %s", s.path)
	return nil
}

// Path returns the settings file location.
func (s *Settings) Path() string {
	return s.path
}

// Snapshot returns a copy of the current values.
func (s *Settings) Snapshot() SettingsData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data
}

// Save writes settings atomically (temp file + rename).
func (s *Settings) Save() error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.data, "", "    ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp settings: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace settings: %w", err)
	}
	return nil
}

// Get returns the value of a single key.
func (s *Settings) Get(key string) (string, error) {
	d := s.Snapshot()
	switch key {
	case KeyEnvManager:
		return string(d.EnvManager), nil
	case KeyEnvName:
		return d.EnvName, nil
	case KeyTheme:
		return d.Theme, nil
	case KeyPythonVersion:
		return d.PythonVersion, nil
	default:
		return "", fmt.Errorf("unknown setting: %s", key)
	}
}

// Set updates one key and saves.
func (s *Settings) Set(key, value string) error {
	s.mu.Lock()
	switch key {
	case KeyEnvManager:
		m, err := ParseEnvManager(value)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		s.data.EnvManager = m
	case KeyEnvName:
		s.data.EnvName = value
	case KeyTheme:
		if value != "dark" && value != "light" {
			s.mu.Unlock()
			return fmt.Errorf("invalid theme %q (valid: dark, light)", value)
		}
		s.data.Theme = value
	case KeyPythonVersion:
		if !majorMinor.MatchString(value) {
			s.mu.Unlock()
			return fmt.Errorf("invalid python version %q (want MAJOR.MINOR)", value)
		}
		s.data.PythonVersion = value
	default:
		s.mu.Unlock()
		return fmt.Errorf("unknown setting: %s", key)
	}
	s.mu.Unlock()
	return s.Save()
}

// SelectEnv records the active environment and saves.
func (s *Settings) SelectEnv(manager EnvManager, name string) error {
	if _, err := ParseEnvManager(string(manager)); err != nil {
		return err
	}
	s.mu.Lock()
	s.data.EnvManager = manager
	s.data.EnvName = name
	s.mu.Unlock()
	logging.Config("Selected %s environment %q", manager, name)
	return s.Save()
}

// SelectedEnv returns the active environment, ok=false when none is selected.
func (s *Settings) SelectedEnv() (EnvManager, string, bool) {
	d := s.Snapshot()
	if d.EnvManager == "" || d.EnvName == "" {
		return "", "", false
	}
	return d.EnvManager, d.EnvName, true
}

// Keys lists the supported setting keys in stable order.
func Keys() []string {
	keys := []string{KeyEnvManager, KeyEnvName, KeyTheme, KeyPythonVersion}
	sort.Strings(keys)
	return keys
}

// ParseEnvManager validates an environment manager name.
func ParseEnvManager(v string) (EnvManager, error) {
	switch EnvManager(v) {
	case ManagerVenv, ManagerConda:
		return EnvManager(v), nil
	default:
		return "", fmt.Errorf("invalid environment manager %q (valid: venv, conda)", v)
	}
}
