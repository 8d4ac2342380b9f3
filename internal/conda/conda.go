// Package conda wraps the conda CLI: detection, environment listing and the
// commands used to create and populate environments.
package conda

import (
	"bufio"
	"context"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"

	"kamisetup/internal/logging"
	"kamisetup/internal/python"
	"kamisetup/internal/tactile"
)

// Binary is the conda executable looked up on PATH.
const Binary = "conda"

// ErrNotInstalled is returned when `conda --version` cannot run.
var ErrNotInstalled = errors.New("conda is not installed")

// Client runs conda through an executor.
type Client struct {
	executor tactile.Executor
}

// New creates a conda client.
func New(executor tactile.Executor) *Client {
	return &Client{executor: executor}
}

// Check runs `conda --version` and returns the reported version, e.g. "24.5.0".
func (c *Client) Check(ctx context.Context) (string, error) {
	result, err := c.executor.Execute(ctx, tactile.Command{
		Binary:    Binary,
		Arguments: []string{"--version"},
		Limits:    &tactile.ResourceLimits{TimeoutMs: 30000},
	})
	if err != nil {
		return "", err
	}
	if !result.OK() {
		logging.EnvWarn("conda check failed: exit=%d err=%s", result.ExitCode, result.Error)
		return "", errors.WithHint(ErrNotInstalled,
			"install Miniconda from https://docs.conda.io/en/latest/miniconda.html and make sure conda is on PATH")
	}
	version := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(result.Output()), "conda"))
	logging.Env("conda detected: %s", version)
	return version, nil
}

// ListEnvs returns the environment names reported by `conda env list`.
func (c *Client) ListEnvs(ctx context.Context) ([]string, error) {
	result, err := c.executor.Execute(ctx, tactile.Command{
		Binary:    Binary,
		Arguments: []string{"env", "list"},
		Limits:    &tactile.ResourceLimits{TimeoutMs: 60000},
	})
	if err != nil {
		return nil, err
	}
	if result.IsError() {
		return nil, errors.WithHint(errors.Wrap(ErrNotInstalled, result.Error),
			"install Miniconda and make sure conda is on PATH")
	}
	if result.ExitCode != 0 {
		return nil, errors.Newf("conda env list exited with code %d: %s",
			result.ExitCode, strings.TrimSpace(result.Output()))
	}
	// Stdout only: conda prints warnings on stderr
	return ParseEnvList(result.Stdout), nil
}

// ParseEnvList extracts environment names from `conda env list` output.
// Blank and comment lines are skipped; only lines containing whitespace are
// entries. Unnamed environments (listed by path) are reported by base name.
func ParseEnvList(output string) []string {
	var envs []string
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.ContainsAny(line, " \t") {
			continue
		}
		name := strings.Fields(line)[0]
		if strings.ContainsAny(name, `/\`) {
			name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
		}
		envs = append(envs, name)
	}
	return envs
}

// UniqueEnvName applies the venv increment rule against existing conda envs.
func UniqueEnvName(existing []string, base string) string {
	if base == "" {
		base = python.DefaultEnvName
	}
	set := make(map[string]bool, len(existing))
	for _, e := range existing {
		set[e] = true
	}
	return python.NextFreeName(base, func(name string) bool { return set[name] })
}

// CreateCommand creates env name with the given Python major.minor.
func CreateCommand(name, pythonVersion string) tactile.Command {
	return tactile.Command{
		Binary:    Binary,
		Arguments: []string{"create", "-n", name, "python=" + pythonVersion, "-y"},
		Tags:      map[string]string{"manager": "conda", "env": name},
	}
}

// InstallCommand installs pkgs into env name from the given channels.
func InstallCommand(name string, channels []string, pkgs ...string) tactile.Command {
	args := []string{"install", "-n", name, "-y"}
	for _, ch := range channels {
		args = append(args, "-c", ch)
	}
	args = append(args, pkgs...)
	return tactile.Command{
		Binary:    Binary,
		Arguments: args,
		Tags:      map[string]string{"manager": "conda", "env": name},
	}
}

// RunCommand runs argv inside env name.
func RunCommand(name string, argv ...string) tactile.Command {
	return tactile.Command{
		Binary:    Binary,
		Arguments: append([]string{"run", "-n", name, "--no-capture-output"}, argv...),
		Tags:      map[string]string{"manager": "conda", "env": name},
	}
}
