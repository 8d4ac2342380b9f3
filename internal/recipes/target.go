// Package recipes turns user choices into installer pipelines: creating
// environments, PyTorch with or without CUDA, ONNX Runtime,
// requirements.txt dependencies and the full AI setup.
package recipes

import (
	"fmt"
	"path/filepath"

	"kamisetup/internal/conda"
	"kamisetup/internal/config"
	"kamisetup/internal/installer"
	"kamisetup/internal/python"
	"kamisetup/internal/tactile"
)

// Target is the environment packages are installed into.
type Target struct {
	Manager   config.EnvManager
	Name      string
	Workspace string
}

// Validate checks that the target names a usable environment.
func (t Target) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("no environment selected: create or select one first")
	}
	if _, err := config.ParseEnvManager(string(t.Manager)); err != nil {
		return err
	}
	return nil
}

// EnvDir is the venv directory. Only meaningful for venv targets.
func (t Target) EnvDir() string {
	return filepath.Join(t.Workspace, t.Name)
}

// Pip runs pip inside the target environment.
func (t Target) Pip(args ...string) tactile.Command {
	if t.Manager == config.ManagerConda {
		cmd := conda.RunCommand(t.Name, append([]string{"python", "-m", "pip"}, args...)...)
		cmd.WorkingDirectory = t.Workspace
		return cmd
	}
	cmd := python.PipCommand(t.EnvDir(), args...)
	cmd.WorkingDirectory = t.Workspace
	return cmd
}

// Python runs the target environment's interpreter.
func (t Target) Python(args ...string) tactile.Command {
	if t.Manager == config.ManagerConda {
		cmd := conda.RunCommand(t.Name, append([]string{"python"}, args...)...)
		cmd.WorkingDirectory = t.Workspace
		return cmd
	}
	return tactile.Command{
		Binary:           python.PythonPath(t.EnvDir()),
		Arguments:        args,
		WorkingDirectory: t.Workspace,
	}
}

// CreateEnv creates the target environment and upgrades its pip.
func CreateEnv(t Target, pythonVersion string) ([]installer.Step, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if pythonVersion == "" {
		return nil, fmt.Errorf("python version is required")
	}

	var create tactile.Command
	if t.Manager == config.ManagerConda {
		create = conda.CreateCommand(t.Name, pythonVersion)
		create.WorkingDirectory = t.Workspace
	} else {
		create = python.CreateVenvCommand(t.Workspace, t.Name, pythonVersion)
	}

	return []installer.Step{
		{
			Name:        "create-env",
			Description: fmt.Sprintf("Create %s environment %s (Python %s)", t.Manager, t.Name, pythonVersion),
			Command:     create,
		},
		{
			Name:            "upgrade-pip",
			Description:     "Upgrade pip",
			Command:         t.Pip("install", "--upgrade", "pip"),
			ContinueOnError: true,
		},
	}, nil
}
