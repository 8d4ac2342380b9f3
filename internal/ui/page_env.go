package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"kamisetup/internal/conda"
	"kamisetup/internal/config"
	"kamisetup/internal/installer"
	"kamisetup/internal/logging"
	"kamisetup/internal/python"
	"kamisetup/internal/recipes"
)

// venvPage creates a venv in the workspace, offering to install the
// interpreter first when it is missing.
type venvPage struct {
	sh      *shell
	f       *form
	name    *textField
	version *choiceField
	venvs   []string
	// pending is the env name waiting on a python check or download.
	pending string
}

func newVenvPage(sh *shell) *venvPage {
	p := &venvPage{sh: sh}
	p.name = newTextField("Environment name", python.DefaultEnvName, "")
	p.version = newChoiceField("Python version", sh.deps.Config.PythonVersions, sh.deps.Settings.Snapshot().PythonVersion)
	p.f = newForm(
		p.name,
		p.version,
		&buttonField{label: "Check Python", action: p.check},
		&buttonField{label: "Create venv", action: p.create},
	)
	return p
}

func (p *venvPage) Title() string       { return "Create venv" }
func (p *venvPage) Description() string { return "New virtual environment" }
func (p *venvPage) form() *form         { return p.f }

func (p *venvPage) Enter() tea.Cmd {
	if p.name.Value() == "" {
		p.name.SetValue(python.UniqueName(p.sh.workspace(), python.DefaultEnvName))
	}
	return p.sh.loadVenvs()
}

func (p *venvPage) check() tea.Cmd {
	v := p.version.Value()
	return tea.Batch(setStatus(logging.LevelInfo, "Checking Python %s...", v), p.sh.checkPython(purposeVenvCheck, v))
}

func (p *venvPage) create() tea.Cmd {
	ws := p.sh.workspace()
	name := python.FormatEnvName(p.name.Value())
	if name == "" {
		name = python.DefaultEnvName
	}
	var cmds []tea.Cmd
	if unique := python.UniqueName(ws, name); unique != name {
		cmds = append(cmds, logf(logging.LevelWarn, "%q already exists in the workspace, using %q", name, unique))
		name = unique
	}
	p.name.SetValue(name)
	p.pending = name

	v := p.version.Value()
	cmds = append(cmds,
		logf(logging.LevelInfo, "Checking Python %s...", v),
		p.sh.checkPython(purposeVenvCreate, v))
	return tea.Batch(cmds...)
}

func (p *venvPage) runCreate(version string, pre []installer.Step) tea.Cmd {
	name := p.pending
	t := recipes.Target{Manager: config.ManagerVenv, Name: name, Workspace: p.sh.workspace()}
	steps, err := recipes.CreateEnv(t, version)
	if err != nil {
		return failure("Cannot create venv", err)
	}
	steps = append(pre, steps...)
	return startRun("Create venv "+name, steps, p.sh.selectEnvOnSuccess(config.ManagerVenv, name))
}

func (p *venvPage) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case venvsMsg:
		if msg.err == nil {
			p.venvs = msg.names
		}
		return nil

	case pythonCheckMsg:
		switch msg.purpose {
		case purposeVenvCheck:
			if msg.err != nil {
				return failure("Python "+msg.version+" not found", msg.err)
			}
			return report(logging.LevelSuccess, "Python %s is installed (%s)", msg.version, msg.full)
		case purposeVenvCreate:
			if msg.err == nil {
				return tea.Batch(
					logf(logging.LevelSuccess, "Found Python %s", msg.full),
					p.runCreate(msg.version, nil))
			}
			return tea.Batch(
				logf(logging.LevelWarn, "Python %s is not installed", msg.version),
				confirm(
					fmt.Sprintf("Python %s is not installed. Install it first?", msg.version),
					p.sh.resolveLatest(purposeVenvInstall, msg.version),
					setStatus(logging.LevelWarn, "Venv creation canceled"),
				))
		}

	case resolvedMsg:
		if msg.purpose != purposeVenvInstall {
			return nil
		}
		pre, err := p.sh.pythonInstallSteps(msg.full)
		if err != nil {
			return failure("Cannot install Python "+msg.full, err)
		}
		return p.runCreate(msg.majorMinor, pre)

	case tea.KeyMsg:
		return p.f.Update(msg, p.sh.keys)
	}
	return nil
}

func (p *venvPage) View() string {
	s := p.sh.styles
	existing := s.Muted.Render("No venvs in " + p.sh.workspace())
	if len(p.venvs) > 0 {
		existing = s.Label.Render("Existing venvs: ") + s.Body.Render(strings.Join(p.venvs, ", "))
	}
	return joinSections(s.Title.Render("Create a virtual environment"), p.f.View(s), existing)
}

// activatePage selects the active environment and shows how to enter it.
type activatePage struct {
	sh        *shell
	f         *form
	manager   *choiceField
	env       *choiceField
	venvs     []string
	condaEnvs []string
	condaErr  error
}

func newActivatePage(sh *shell) *activatePage {
	p := &activatePage{sh: sh}
	p.manager = newChoiceField("Manager", []string{string(config.ManagerVenv), string(config.ManagerConda)}, string(config.ManagerVenv))
	p.manager.onChange = func(string) tea.Cmd {
		p.syncEnvs()
		return nil
	}
	p.env = newChoiceField("Environment", nil, "")
	p.f = newForm(
		p.manager,
		p.env,
		&buttonField{label: "Refresh", action: p.refresh},
		&buttonField{label: "Select", action: p.selectEnv},
		&buttonField{label: "Instructions", action: p.instructions},
		&buttonField{label: "Launch shell", action: p.launch},
	)
	if mgr, _, ok := sh.deps.Settings.SelectedEnv(); ok {
		p.manager.Select(string(mgr))
	}
	return p
}

func (p *activatePage) Title() string       { return "Activate venv" }
func (p *activatePage) Description() string { return "Select and enter an environment" }
func (p *activatePage) form() *form         { return p.f }
func (p *activatePage) Enter() tea.Cmd      { return p.refresh() }

func (p *activatePage) refresh() tea.Cmd {
	return tea.Batch(p.sh.loadVenvs(), p.sh.loadCondaEnvs())
}

func (p *activatePage) syncEnvs() {
	names := p.venvs
	if config.EnvManager(p.manager.Value()) == config.ManagerConda {
		names = p.condaEnvs
	}
	p.env.SetOptions(names)
	if mgr, name, ok := p.sh.deps.Settings.SelectedEnv(); ok && string(mgr) == p.manager.Value() {
		p.env.Select(name)
	}
}

func (p *activatePage) selected() (config.EnvManager, string, bool) {
	name := p.env.Value()
	return config.EnvManager(p.manager.Value()), name, name != ""
}

func (p *activatePage) selectEnv() tea.Cmd {
	mgr, name, ok := p.selected()
	if !ok {
		return report(logging.LevelWarn, "No %s environment to select", p.manager.Value())
	}
	if err := p.sh.deps.Settings.SelectEnv(mgr, name); err != nil {
		return failure("Failed to save settings", err)
	}
	return report(logging.LevelSuccess, "Selected %s environment %q", mgr, name)
}

func (p *activatePage) instructions() tea.Cmd {
	mgr, name, ok := p.selected()
	if !ok {
		return report(logging.LevelWarn, "No %s environment selected", p.manager.Value())
	}
	launch := python.ShellCommand(string(mgr), name, p.sh.workspace())
	return showInfo("Activate "+name, python.ActivationInstructions(string(mgr), name), &launch)
}

func (p *activatePage) launch() tea.Cmd {
	mgr, name, ok := p.selected()
	if !ok {
		return report(logging.LevelWarn, "No %s environment selected", p.manager.Value())
	}
	cmd := python.ShellCommand(string(mgr), name, p.sh.workspace())
	return func() tea.Msg { return launchShellMsg{cmd: cmd} }
}

func (p *activatePage) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case venvsMsg:
		if msg.err != nil {
			return failure("Failed to list venvs", msg.err)
		}
		p.venvs = msg.names
		p.syncEnvs()
	case condaEnvsMsg:
		p.condaErr = msg.err
		p.condaEnvs = msg.names
		p.syncEnvs()
	case SettingsChangedMsg:
		p.syncEnvs()
	case tea.KeyMsg:
		return p.f.Update(msg, p.sh.keys)
	}
	return nil
}

func (p *activatePage) View() string {
	s := p.sh.styles
	var note string
	if config.EnvManager(p.manager.Value()) == config.ManagerConda && p.condaErr != nil {
		note = s.Warning.Render("Conda unavailable: " + p.condaErr.Error())
	}
	return joinSections(
		s.Title.Render("Activate an environment"),
		targetLine(s, p.sh.deps.Settings),
		p.f.View(s),
		note,
	)
}

// condaPage checks the conda install and creates conda environments.
type condaPage struct {
	sh      *shell
	f       *form
	name    *textField
	version *choiceField
	envs    *choiceField

	loaded       bool
	condaVersion string
	condaErr     error
	existing     []string
}

func newCondaPage(sh *shell) *condaPage {
	p := &condaPage{sh: sh}
	p.name = newTextField("New environment name", python.DefaultEnvName, python.DefaultEnvName)
	p.version = newChoiceField("Python version", sh.deps.Config.PythonVersions, sh.deps.Settings.Snapshot().PythonVersion)
	p.envs = newChoiceField("Existing environments", nil, "")
	p.f = newForm(
		p.name,
		p.version,
		&buttonField{label: "Create env", action: p.create},
		p.envs,
		&buttonField{label: "Select env", action: p.selectEnv},
		&buttonField{label: "Refresh", action: p.refresh},
	)
	return p
}

func (p *condaPage) Title() string       { return "Conda manager" }
func (p *condaPage) Description() string { return "Conda environments" }
func (p *condaPage) form() *form         { return p.f }

func (p *condaPage) Enter() tea.Cmd {
	if p.loaded {
		return nil
	}
	return p.refresh()
}

func (p *condaPage) refresh() tea.Cmd {
	return tea.Batch(setStatus(logging.LevelInfo, "Checking conda..."), p.sh.loadCondaEnvs())
}

func (p *condaPage) create() tea.Cmd {
	if !p.loaded {
		return report(logging.LevelWarn, "Still checking conda, try again in a moment")
	}
	if p.condaErr != nil {
		return failure("Conda is not available", p.condaErr)
	}
	name := python.FormatEnvName(p.name.Value())
	if name == "" {
		name = python.DefaultEnvName
	}
	unique := conda.UniqueEnvName(p.existing, name)
	var cmds []tea.Cmd
	if unique != name {
		cmds = append(cmds, logf(logging.LevelWarn, "Conda environment %q already exists, using %q", name, unique))
	}
	p.name.SetValue(unique)

	t := recipes.Target{Manager: config.ManagerConda, Name: unique, Workspace: p.sh.workspace()}
	steps, err := recipes.CreateEnv(t, p.version.Value())
	if err != nil {
		return failure("Cannot create conda environment", err)
	}
	onSuccess := p.sh.selectEnvOnSuccess(config.ManagerConda, unique)
	cmds = append(cmds, startRun("Create conda env "+unique, steps, func(run *installer.Run) tea.Cmd {
		return tea.Batch(onSuccess(run), p.sh.loadCondaEnvs())
	}))
	return tea.Batch(cmds...)
}

func (p *condaPage) selectEnv() tea.Cmd {
	name := p.envs.Value()
	if name == "" {
		return report(logging.LevelWarn, "No conda environment to select")
	}
	if err := p.sh.deps.Settings.SelectEnv(config.ManagerConda, name); err != nil {
		return failure("Failed to save settings", err)
	}
	return report(logging.LevelSuccess, "Selected conda environment %q", name)
}

func (p *condaPage) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case condaEnvsMsg:
		first := !p.loaded
		p.loaded = true
		p.condaErr = msg.err
		p.condaVersion = msg.version
		p.existing = msg.names
		p.envs.SetOptions(msg.names)
		if msg.err != nil {
			if first {
				return failure("Conda check failed", msg.err)
			}
			return nil
		}
		if first {
			return report(logging.LevelSuccess, "%s found, %d environment(s)", msg.version, len(msg.names))
		}
	case tea.KeyMsg:
		return p.f.Update(msg, p.sh.keys)
	}
	return nil
}

func (p *condaPage) View() string {
	s := p.sh.styles
	var state string
	switch {
	case !p.loaded:
		state = s.Muted.Render("Checking conda...")
	case p.condaErr != nil:
		state = s.Error.Render("Conda not available: " + p.condaErr.Error())
	default:
		state = s.Success.Render(p.condaVersion)
	}
	return joinSections(s.Title.Render("Conda environments"), state, p.f.View(s))
}
