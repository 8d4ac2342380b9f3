package ui

import (
	"context"
	"path/filepath"
	"runtime"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/cockroachdb/errors"

	"kamisetup/internal/conda"
	"kamisetup/internal/config"
	"kamisetup/internal/gpu"
	"kamisetup/internal/history"
	"kamisetup/internal/installer"
	"kamisetup/internal/logging"
	"kamisetup/internal/probe"
	"kamisetup/internal/pyrelease"
	"kamisetup/internal/python"
	"kamisetup/internal/recipes"
	"kamisetup/internal/tactile"
)

// Deps are the services the UI drives.
type Deps struct {
	Config   *config.Config
	Settings *config.Settings
	Executor tactile.StreamExecutor
	Runner   *installer.Runner
	Conda    *conda.Client
	Releases *pyrelease.Client
	// History is nil when run history is disabled.
	History *history.Store
}

// errNoEnv is returned when an install page needs a selected environment.
var errNoEnv = errors.WithHint(
	errors.New("no environment selected"),
	"create one on the Create venv or Conda pages, or pick one on Activate venv",
)

// shell is shared by all pages: services, the root context and the
// current styles.
type shell struct {
	ctx    context.Context
	deps   Deps
	styles Styles
	keys   keyMap
	goos   string
	goarch string
}

func newShell(ctx context.Context, deps Deps, styles Styles) *shell {
	return &shell{
		ctx:    ctx,
		deps:   deps,
		styles: styles,
		keys:   defaultKeyMap(),
		goos:   runtime.GOOS,
		goarch: runtime.GOARCH,
	}
}

func (sh *shell) workspace() string {
	return sh.deps.Config.Workspace
}

// downloadDir holds Python installers while they run.
func (sh *shell) downloadDir() string {
	return filepath.Join(sh.workspace(), ".kami", "downloads")
}

// target is the selected environment as an install target.
func (sh *shell) target() (recipes.Target, error) {
	mgr, name, ok := sh.deps.Settings.SelectedEnv()
	if !ok {
		return recipes.Target{}, errNoEnv
	}
	return recipes.Target{Manager: mgr, Name: name, Workspace: sh.workspace()}, nil
}

func (sh *shell) probeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(sh.ctx, sh.deps.Config.GetProbeTimeout())
}

func (sh *shell) loadVenvs() tea.Cmd {
	ws := sh.workspace()
	return func() tea.Msg {
		names, err := python.FindLocalVenvs(ws)
		return venvsMsg{names: names, err: err}
	}
}

func (sh *shell) loadCondaEnvs() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := sh.probeContext()
		defer cancel()
		version, err := sh.deps.Conda.Check(ctx)
		if err != nil {
			return condaEnvsMsg{err: err}
		}
		names, err := sh.deps.Conda.ListEnvs(ctx)
		return condaEnvsMsg{version: version, names: names, err: err}
	}
}

func (sh *shell) checkPython(purpose, version string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := sh.probeContext()
		defer cancel()
		full, err := python.CheckVersion(ctx, sh.deps.Executor, version)
		return pythonCheckMsg{purpose: purpose, version: version, full: full, err: err}
	}
}

func (sh *shell) resolveLatest(purpose, majorMinor string) tea.Cmd {
	return func() tea.Msg {
		return resolvedMsg{
			purpose:    purpose,
			majorMinor: majorMinor,
			full:       sh.deps.Releases.ResolveLatest(sh.ctx, majorMinor),
		}
	}
}

func (sh *shell) detectGPU(purpose string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := sh.probeContext()
		defer cancel()
		r, err := gpu.Detect(ctx, sh.deps.Executor)
		return gpuMsg{purpose: purpose, report: r, err: err}
	}
}

func (sh *shell) runDoctor() tea.Cmd {
	d := &probe.Doctor{
		Executor:       sh.deps.Executor,
		PythonVersions: sh.deps.Config.PythonVersions,
		CUDAVersions:   sh.deps.Config.CUDAVersions,
		Workspace:      sh.workspace(),
		Timeout:        sh.deps.Config.GetProbeTimeout(),
		Releases:       sh.deps.Releases,
	}
	return func() tea.Msg {
		r, err := d.Run(sh.ctx)
		return doctorMsg{report: r, err: err}
	}
}

func (sh *shell) loadHistory(limit int) tea.Cmd {
	store := sh.deps.History
	return func() tea.Msg {
		if store == nil {
			return historyMsg{}
		}
		runs, err := store.Recent(sh.ctx, limit)
		return historyMsg{runs: runs, err: err}
	}
}

func (sh *shell) loadHistorySteps(runID string) tea.Cmd {
	store := sh.deps.History
	return func() tea.Msg {
		if store == nil {
			return historyStepsMsg{runID: runID}
		}
		steps, err := store.Steps(sh.ctx, runID)
		return historyStepsMsg{runID: runID, steps: steps, err: err}
	}
}

// pythonInstallSteps downloads and runs the python.org installer for full.
func (sh *shell) pythonInstallSteps(full string) ([]installer.Step, error) {
	return sh.deps.Releases.InstallSteps(full, sh.downloadDir(), sh.goos, sh.goarch)
}

// failure logs err with any hints attached to it.
func failure(prefix string, err error) tea.Cmd {
	logging.UI("%s: %v", prefix, err)
	cmds := []tea.Cmd{report(logging.LevelError, "%s: %v", prefix, err)}
	if hint := errors.FlattenHints(err); hint != "" {
		cmds = append(cmds, logf(logging.LevelInfo, "Hint: %s", hint))
	}
	return tea.Batch(cmds...)
}

// selectEnvOnSuccess records name as the active environment after a
// successful create run and shows how to activate it.
func (sh *shell) selectEnvOnSuccess(manager config.EnvManager, name string) func(*installer.Run) tea.Cmd {
	return func(run *installer.Run) tea.Cmd {
		if !run.Succeeded() || run.DryRun {
			return nil
		}
		if err := sh.deps.Settings.SelectEnv(manager, name); err != nil {
			return failure("Failed to save settings", err)
		}
		launch := python.ShellCommand(string(manager), name, sh.workspace())
		return tea.Batch(
			report(logging.LevelSuccess, "Environment %q is now active", name),
			showInfo("Activate "+name, python.ActivationInstructions(string(manager), name), &launch),
			sh.loadVenvs(),
		)
	}
}
