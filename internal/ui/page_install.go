package ui

import (
	"path/filepath"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"

	"kamisetup/internal/config"
	"kamisetup/internal/installer"
	"kamisetup/internal/logging"
	"kamisetup/internal/pyrelease"
	"kamisetup/internal/recipes"
)

// torchPage installs PyTorch into the selected environment.
type torchPage struct {
	sh          *shell
	f           *form
	installer   *choiceField
	dev         *deviceFields
	torchvision *toggleField
	torchaudio  *toggleField
}

func newTorchPage(sh *shell) *torchPage {
	p := &torchPage{sh: sh}
	p.installer = newChoiceField("Installer", []string{"pip", "conda"}, "pip")
	if mgr, _, ok := sh.deps.Settings.SelectedEnv(); ok && mgr == config.ManagerConda {
		p.installer.Select("conda")
	}
	p.dev = newDeviceFields(sh.deps.Config.CUDAVersions, func() *form { return p.f })
	p.torchvision = &toggleField{label: "torchvision", on: true}
	p.torchaudio = &toggleField{label: "torchaudio", on: true}
	p.f = newForm(
		p.installer,
		p.dev.device,
		p.dev.cuda,
		p.torchvision,
		p.torchaudio,
		&buttonField{label: "Detect GPU", action: func() tea.Cmd { return p.sh.detectGPU(purposeTorchGPU) }},
		&buttonField{label: "Copy command", action: p.copy},
		&buttonField{label: "Install", action: p.install},
	)
	return p
}

func (p *torchPage) Title() string       { return "Install PyTorch/CUDA" }
func (p *torchPage) Description() string { return "torch, torchvision, torchaudio" }
func (p *torchPage) form() *form         { return p.f }
func (p *torchPage) Enter() tea.Cmd      { return nil }

func (p *torchPage) options() recipes.TorchOptions {
	return recipes.TorchOptions{
		Installer:   p.installer.Value(),
		Device:      p.dev.Device(),
		CUDAVersion: p.dev.cuda.Value(),
		Torchvision: p.torchvision.on,
		Torchaudio:  p.torchaudio.on,
		IndexURL:    p.sh.deps.Config.PyTorchIndexURL,
	}
}

func (p *torchPage) steps() ([]installer.Step, error) {
	t, err := p.sh.target()
	if err != nil {
		return nil, err
	}
	return recipes.Torch(t, p.options(), p.sh.deps.Config.CUDAVersions)
}

func (p *torchPage) preview() (string, error) {
	steps, err := p.steps()
	if err != nil {
		return "", err
	}
	return steps[0].Display(), nil
}

func (p *torchPage) copy() tea.Cmd {
	cmd, err := p.preview()
	if err != nil {
		return failure("Nothing to copy", err)
	}
	if err := clipboard.WriteAll(cmd); err != nil {
		return failure("Clipboard unavailable", err)
	}
	return report(logging.LevelSuccess, "Install command copied to clipboard")
}

func (p *torchPage) install() tea.Cmd {
	steps, err := p.steps()
	if err != nil {
		return failure("Cannot install PyTorch", err)
	}
	return startRun("Install PyTorch", steps, nil)
}

func (p *torchPage) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case gpuMsg:
		if msg.purpose != purposeTorchGPU {
			return nil
		}
		if msg.err != nil {
			return failure("GPU detection failed", msg.err)
		}
		return p.dev.apply(msg.report, p.sh.deps.Config.CUDAVersions)
	case SettingsChangedMsg:
		if msg.Data.EnvManager == config.ManagerVenv {
			p.installer.Select("pip")
		}
	case tea.KeyMsg:
		return p.f.Update(msg, p.sh.keys)
	}
	return nil
}

func (p *torchPage) View() string {
	s := p.sh.styles
	preview, err := p.preview()
	if err != nil {
		preview = ""
	}
	var errLine string
	if err != nil && err != errNoEnv {
		errLine = s.Error.Render(err.Error())
	}
	return joinSections(
		s.Title.Render("Install PyTorch"),
		targetLine(s, p.sh.deps.Settings),
		p.f.View(s),
		codeBlock(s, preview),
		errLine,
	)
}

// onnxPage installs ONNX Runtime.
type onnxPage struct {
	sh  *shell
	f   *form
	gpu *toggleField
}

func newONNXPage(sh *shell) *onnxPage {
	p := &onnxPage{sh: sh}
	p.gpu = &toggleField{label: "GPU runtime (onnxruntime-gpu)"}
	p.f = newForm(p.gpu, &buttonField{label: "Install", action: p.install})
	return p
}

func (p *onnxPage) Title() string       { return "Install ONNX" }
func (p *onnxPage) Description() string { return "onnx and ONNX Runtime" }
func (p *onnxPage) form() *form         { return p.f }
func (p *onnxPage) Enter() tea.Cmd      { return nil }

func (p *onnxPage) steps() ([]installer.Step, error) {
	t, err := p.sh.target()
	if err != nil {
		return nil, err
	}
	return recipes.ONNX(t, recipes.ONNXOptions{GPU: p.gpu.on})
}

func (p *onnxPage) install() tea.Cmd {
	steps, err := p.steps()
	if err != nil {
		return failure("Cannot install ONNX", err)
	}
	return startRun("Install ONNX", steps, nil)
}

func (p *onnxPage) Update(msg tea.Msg) tea.Cmd {
	if km, ok := msg.(tea.KeyMsg); ok {
		return p.f.Update(km, p.sh.keys)
	}
	return nil
}

func (p *onnxPage) View() string {
	s := p.sh.styles
	var preview string
	if steps, err := p.steps(); err == nil {
		preview = steps[0].Display()
	}
	return joinSections(
		s.Title.Render("Install ONNX Runtime"),
		targetLine(s, p.sh.deps.Settings),
		p.f.View(s),
		codeBlock(s, preview),
	)
}

// depsPage installs a requirements file, routing torch lines through the
// selected PyTorch wheel index.
type depsPage struct {
	sh   *shell
	f    *form
	path *textField
	dev  *deviceFields
}

func newDepsPage(sh *shell) *depsPage {
	p := &depsPage{sh: sh}
	p.path = newTextField("Requirements file", recipes.DefaultRequirementsFile, recipes.DefaultRequirementsFile)
	p.dev = newDeviceFields(sh.deps.Config.CUDAVersions, func() *form { return p.f })
	p.f = newForm(p.path, p.dev.device, p.dev.cuda, &buttonField{label: "Install", action: p.install})
	return p
}

func (p *depsPage) Title() string       { return "Install dependencies" }
func (p *depsPage) Description() string { return "pip install -r requirements.txt" }
func (p *depsPage) form() *form         { return p.f }
func (p *depsPage) Enter() tea.Cmd      { return nil }

func (p *depsPage) resolvedPath() string {
	path := p.path.Value()
	if path == "" {
		path = recipes.DefaultRequirementsFile
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(p.sh.workspace(), path)
	}
	return path
}

func (p *depsPage) install() tea.Cmd {
	t, err := p.sh.target()
	if err != nil {
		return failure("Cannot install dependencies", err)
	}
	torchOpts := &recipes.TorchOptions{
		Installer:   "pip",
		Device:      p.dev.Device(),
		CUDAVersion: p.dev.cuda.Value(),
		IndexURL:    p.sh.deps.Config.PyTorchIndexURL,
	}
	steps, err := recipes.Requirements(t, p.resolvedPath(), torchOpts)
	if err != nil {
		return failure("Cannot install dependencies", err)
	}
	return startRun("Install dependencies", steps, nil)
}

func (p *depsPage) Update(msg tea.Msg) tea.Cmd {
	if km, ok := msg.(tea.KeyMsg); ok {
		return p.f.Update(km, p.sh.keys)
	}
	return nil
}

func (p *depsPage) View() string {
	s := p.sh.styles
	return joinSections(
		s.Title.Render("Install project dependencies"),
		targetLine(s, p.sh.deps.Settings),
		p.f.View(s),
		s.Muted.Render("torch, torchvision and torchaudio lines use the selected device's wheel index."),
	)
}

// pythonPage checks for and installs Python releases from python.org.
type pythonPage struct {
	sh      *shell
	f       *form
	version *choiceField
	latest  map[string]string
	found   map[string]string
}

func newPythonPage(sh *shell) *pythonPage {
	p := &pythonPage{sh: sh, latest: map[string]string{}, found: map[string]string{}}
	p.version = newChoiceField("Python version", sh.deps.Config.PythonVersions, sh.deps.Settings.Snapshot().PythonVersion)
	p.f = newForm(
		p.version,
		&buttonField{label: "Check", action: p.check},
		&buttonField{label: "Latest release", action: p.resolve},
		&buttonField{label: "Install", action: p.install},
		&buttonField{label: "Make default", action: p.makeDefault},
	)
	return p
}

func (p *pythonPage) Title() string       { return "Install Python" }
func (p *pythonPage) Description() string { return "Interpreters from python.org" }
func (p *pythonPage) form() *form         { return p.f }
func (p *pythonPage) Enter() tea.Cmd      { return nil }

func (p *pythonPage) check() tea.Cmd {
	return p.sh.checkPython(purposePythonCheck, p.version.Value())
}

func (p *pythonPage) resolve() tea.Cmd {
	v := p.version.Value()
	return tea.Batch(
		setStatus(logging.LevelInfo, "Fetching releases from %s", p.sh.deps.Releases.IndexURL()),
		p.sh.resolveLatest(purposePythonLatest, v))
}

func (p *pythonPage) install() tea.Cmd {
	v := p.version.Value()
	return tea.Batch(
		logf(logging.LevelInfo, "Resolving the latest Python %s release...", v),
		p.sh.resolveLatest(purposePythonInst, v))
}

func (p *pythonPage) makeDefault() tea.Cmd {
	v := p.version.Value()
	if err := p.sh.deps.Settings.Set(config.KeyPythonVersion, v); err != nil {
		return failure("Failed to save settings", err)
	}
	return report(logging.LevelSuccess, "Python %s is now the default version", v)
}

func (p *pythonPage) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case pythonCheckMsg:
		if msg.purpose != purposePythonCheck {
			return nil
		}
		if msg.err != nil {
			delete(p.found, msg.version)
			return failure("Python "+msg.version+" not found", msg.err)
		}
		p.found[msg.version] = msg.full
		return report(logging.LevelSuccess, "Python %s is installed (%s)", msg.version, msg.full)

	case resolvedMsg:
		switch msg.purpose {
		case purposePythonLatest:
			if !pyrelease.IsFullVersion(msg.full) {
				return report(logging.LevelWarn, "Could not resolve a release for Python %s", msg.majorMinor)
			}
			p.latest[msg.majorMinor] = msg.full
			return report(logging.LevelSuccess, "Latest Python %s release: %s", msg.majorMinor, msg.full)
		case purposePythonInst:
			if pyrelease.IsFullVersion(msg.full) {
				p.latest[msg.majorMinor] = msg.full
			}
			steps, err := p.sh.pythonInstallSteps(msg.full)
			if err != nil {
				return failure("Cannot install Python "+msg.full, err)
			}
			version := msg.majorMinor
			return startRun("Install Python "+msg.full, steps, func(run *installer.Run) tea.Cmd {
				if !run.Succeeded() || run.DryRun {
					return nil
				}
				return p.sh.checkPython(purposePythonCheck, version)
			})
		}

	case tea.KeyMsg:
		return p.f.Update(msg, p.sh.keys)
	}
	return nil
}

func (p *pythonPage) View() string {
	s := p.sh.styles
	v := p.version.Value()
	t := newTable("", "Version", "Installed", "Latest")
	for _, mm := range p.sh.deps.Config.PythonVersions {
		installed, latest := p.found[mm], p.latest[mm]
		if installed == "" {
			installed = "-"
		}
		if latest == "" {
			latest = "-"
		}
		t.addRow(mm, installed, latest)
	}
	return joinSections(
		s.Title.Render("Install Python "+v),
		p.f.View(s),
		t.View(s),
	)
}
