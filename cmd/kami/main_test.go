package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kamisetup/internal/installer"
	"kamisetup/internal/logging"
	"kamisetup/internal/tactile"
)

// resetFlags restores flag defaults; cobra keeps values between Execute calls.
func resetFlags() {
	verbose, configPath, workspace, dryRun = false, "", "", false
	envPython, envInstallPython, envNoSelect = "", false, false
	activateManager, activateShell = "", false
	targetEnv, targetManager = "", ""
	torchInstaller, torchDevice, torchCUDA = "", "cpu", ""
	torchAuto, torchNoVision, torchNoAudio, torchPrint, torchCopy = false, false, false, false, false
	onnxGPU = false
	setupManager, setupName, setupNoONNX, setupRequirements, setupInstallPython = "venv", "myenv", false, "", false
	doctorJSON, doctorStrict, historyLimit = false, false, 20
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func makeVenv(t *testing.T, ws, name string) {
	t.Helper()
	for _, marker := range []string{filepath.Join("bin", "activate"), filepath.Join("Scripts", "activate.bat")} {
		p := filepath.Join(ws, name, marker)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, nil, 0o644))
	}
}

func TestPrintErrorWithHint(t *testing.T) {
	var buf bytes.Buffer
	printError(&buf, errors.WithHint(errors.New("conda is not installed"), "install Miniconda"))
	assert.Contains(t, buf.String(), "Error: conda is not installed")
	assert.Contains(t, buf.String(), "Hint: install Miniconda")

	buf.Reset()
	printError(&buf, errors.New("plain"))
	assert.NotContains(t, buf.String(), "Hint:")
}

func TestSettingsSetGet(t *testing.T) {
	ws := t.TempDir()
	_, err := execute(t, "--workspace", ws, "settings", "set", "theme", "light")
	require.NoError(t, err)

	out, err := execute(t, "--workspace", ws, "settings", "get", "theme")
	require.NoError(t, err)
	assert.Equal(t, "light", strings.TrimSpace(out))

	out, err = execute(t, "--workspace", ws, "settings", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "theme = light")
	assert.Contains(t, out, "python_version = 3.11")
}

func TestSettingsSetRejectsInvalid(t *testing.T) {
	ws := t.TempDir()
	_, err := execute(t, "--workspace", ws, "settings", "set", "theme", "purple")
	assert.Error(t, err)
	_, err = execute(t, "--workspace", ws, "settings", "get", "nope")
	assert.Error(t, err)
}

func TestVenvList(t *testing.T) {
	ws := t.TempDir()
	out, err := execute(t, "--workspace", ws, "venv", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No venvs")

	makeVenv(t, ws, "alpha")
	makeVenv(t, ws, "beta")
	_, err = execute(t, "--workspace", ws, "activate", "beta")
	require.NoError(t, err)

	out, err = execute(t, "--workspace", ws, "venv", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "  alpha")
	assert.Contains(t, out, "* beta")
}

func TestActivateUnknownVenv(t *testing.T) {
	_, err := execute(t, "--workspace", t.TempDir(), "activate", "ghost")
	require.Error(t, err)
	assert.Contains(t, errors.FlattenHints(err), "kami venv list")
}

func TestTorchPrint(t *testing.T) {
	ws := t.TempDir()
	out, err := execute(t, "--workspace", ws, "torch", "--env", "myenv", "--print")
	require.NoError(t, err)
	assert.Contains(t, out, "torchvision")
	assert.Contains(t, out, "--index-url")
	assert.Contains(t, out, "/cpu")

	out, err = execute(t, "--workspace", ws, "torch", "--env", "myenv", "--print", "--device", "cuda", "--cuda", "12.1", "--no-torchaudio")
	require.NoError(t, err)
	assert.Contains(t, out, "/cu121")
	assert.NotContains(t, out, "torchaudio")
}

func TestTorchRequiresEnvironment(t *testing.T) {
	_, err := execute(t, "--workspace", t.TempDir(), "torch", "--print")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no environment selected")
}

func TestDryRunIsRecorded(t *testing.T) {
	ws := t.TempDir()
	out, err := execute(t, "--workspace", ws, "--dry-run", "onnx", "--env", "myenv")
	require.NoError(t, err)
	assert.Contains(t, out, "[dry-run]")
	assert.Contains(t, out, "Install ONNX completed")

	out, err = execute(t, "--workspace", ws, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "Install ONNX")
	assert.Contains(t, out, "dry-run")
}

func TestHistoryEmpty(t *testing.T) {
	out, err := execute(t, "--workspace", t.TempDir(), "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded yet")
}

func TestEventPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := &eventPrinter{w: &buf, steps: 2}
	step := installer.Step{Name: "install-onnx", Command: tactile.Command{Binary: "pip", Arguments: []string{"install", "onnx"}}}

	p.handle(installer.Event{Type: installer.EventStepStarted, StepIndex: 0, Step: &step})
	p.handle(installer.Event{Type: installer.EventOutput, Line: logging.ConsoleLine{Time: time.Now(), Level: logging.LevelInfo, Message: "Collecting onnx"}})
	p.handle(installer.Event{Type: installer.EventStepFinished, Result: &installer.StepResult{Name: "install-onnx", Status: installer.StepFailed, Err: &installer.ExitError{Code: 1}}})
	p.handle(installer.Event{Type: installer.EventStepFinished, Result: &installer.StepResult{Name: "verify-onnx", Status: installer.StepSkipped, Skipped: true}})

	out := buf.String()
	assert.Contains(t, out, "[INFO] Step 1/2: install-onnx")
	assert.Contains(t, out, "$ pip install onnx")
	assert.Contains(t, out, "Collecting onnx")
	assert.Contains(t, out, "[ERROR] install-onnx failed")
	assert.Contains(t, out, "[WARN] verify-onnx skipped")
}
