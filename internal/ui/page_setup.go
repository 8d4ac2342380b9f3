package ui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"kamisetup/internal/conda"
	"kamisetup/internal/config"
	"kamisetup/internal/installer"
	"kamisetup/internal/logging"
	"kamisetup/internal/python"
	"kamisetup/internal/recipes"
)

// setupPage runs the one-click setup: environment, PyTorch, ONNX Runtime
// and the workspace requirements.
type setupPage struct {
	sh      *shell
	f       *form
	manager *choiceField
	name    *textField
	version *choiceField
	dev     *deviceFields
	onnx    *toggleField

	condaEnvs []string
	pending   recipes.FullSetupOptions

	// plan is rebuilt when inputs change, never while rendering.
	plan    []installer.Step
	planErr error
}

func newSetupPage(sh *shell) *setupPage {
	p := &setupPage{sh: sh}
	p.manager = newChoiceField("Environment type", []string{string(config.ManagerVenv), string(config.ManagerConda)}, string(config.ManagerVenv))
	p.name = newTextField("Environment name", python.DefaultEnvName, python.DefaultEnvName)
	p.version = newChoiceField("Python version", sh.deps.Config.PythonVersions, sh.deps.Settings.Snapshot().PythonVersion)
	p.dev = newDeviceFields(sh.deps.Config.CUDAVersions, func() *form { return p.f })
	p.onnx = &toggleField{label: "Install ONNX Runtime", on: true}
	p.f = newForm(
		p.manager,
		p.name,
		p.version,
		p.dev.device,
		p.dev.cuda,
		p.onnx,
		&buttonField{label: "Detect GPU", action: func() tea.Cmd { return p.sh.detectGPU(purposeSetupGPU) }},
		&buttonField{label: "Run full setup", action: p.run},
	)
	p.refreshPlan()
	return p
}

func (p *setupPage) Title() string       { return "Full AI setup" }
func (p *setupPage) Description() string { return "Env + PyTorch + ONNX + deps" }
func (p *setupPage) form() *form         { return p.f }

func (p *setupPage) Enter() tea.Cmd {
	p.refreshPlan()
	return tea.Batch(p.sh.loadCondaEnvs(), p.sh.detectGPU(purposeSetupGPU))
}

// options builds the setup for the current form values. The env name is
// made unique for the chosen manager.
func (p *setupPage) options() recipes.FullSetupOptions {
	mgr := config.EnvManager(p.manager.Value())
	name := python.FormatEnvName(p.name.Value())
	if name == "" {
		name = python.DefaultEnvName
	}
	if mgr == config.ManagerConda {
		name = conda.UniqueEnvName(p.condaEnvs, name)
	} else {
		name = python.UniqueName(p.sh.workspace(), name)
	}

	torchInstaller := "pip"
	if mgr == config.ManagerConda {
		torchInstaller = "conda"
	}
	var onnx *recipes.ONNXOptions
	if p.onnx.on {
		onnx = &recipes.ONNXOptions{GPU: p.dev.Device() == recipes.DeviceCUDA}
	}
	return recipes.FullSetupOptions{
		Target:        recipes.Target{Manager: mgr, Name: name, Workspace: p.sh.workspace()},
		PythonVersion: p.version.Value(),
		Torch: recipes.TorchOptions{
			Installer:   torchInstaller,
			Device:      p.dev.Device(),
			CUDAVersion: p.dev.cuda.Value(),
			Torchvision: true,
			Torchaudio:  true,
			IndexURL:    p.sh.deps.Config.PyTorchIndexURL,
		},
		SupportedCUDA: p.sh.deps.Config.CUDAVersions,
		ONNX:          onnx,
	}
}

func (p *setupPage) refreshPlan() {
	p.plan, p.planErr = recipes.FullSetup(p.options())
}

func (p *setupPage) run() tea.Cmd {
	p.pending = p.options()
	p.name.SetValue(p.pending.Target.Name)
	if p.pending.Target.Manager == config.ManagerConda {
		return p.start(nil)
	}
	v := p.pending.PythonVersion
	return tea.Batch(
		logf(logging.LevelInfo, "Checking Python %s...", v),
		p.sh.checkPython(purposeSetupCheck, v))
}

func (p *setupPage) start(pre []installer.Step) tea.Cmd {
	o := p.pending
	steps, err := recipes.FullSetup(o)
	if err != nil {
		return failure("Cannot run full setup", err)
	}
	steps = append(pre, steps...)
	title := fmt.Sprintf("Full AI setup (%s %s)", o.Target.Manager, o.Target.Name)
	return startRun(title, steps, p.sh.selectEnvOnSuccess(o.Target.Manager, o.Target.Name))
}

func (p *setupPage) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case condaEnvsMsg:
		if msg.err == nil {
			p.condaEnvs = msg.names
			p.refreshPlan()
		}
	case gpuMsg:
		if msg.purpose != purposeSetupGPU {
			return nil
		}
		if msg.err != nil {
			return failure("GPU detection failed", msg.err)
		}
		cmd := p.dev.apply(msg.report, p.sh.deps.Config.CUDAVersions)
		p.refreshPlan()
		return cmd
	case pythonCheckMsg:
		if msg.purpose != purposeSetupCheck {
			return nil
		}
		if msg.err == nil {
			return tea.Batch(logf(logging.LevelSuccess, "Found Python %s", msg.full), p.start(nil))
		}
		return confirm(
			fmt.Sprintf("Python %s is not installed. Install it first?", msg.version),
			p.sh.resolveLatest(purposeSetupInstall, msg.version),
			setStatus(logging.LevelWarn, "Full setup canceled"),
		)
	case resolvedMsg:
		if msg.purpose != purposeSetupInstall {
			return nil
		}
		pre, err := p.sh.pythonInstallSteps(msg.full)
		if err != nil {
			return failure("Cannot install Python "+msg.full, err)
		}
		return p.start(pre)
	case runEventMsg:
		if msg.ev.Type == installer.EventRunFinished {
			p.refreshPlan()
		}
	case tea.KeyMsg:
		cmd := p.f.Update(msg, p.sh.keys)
		p.refreshPlan()
		return cmd
	}
	return nil
}

func (p *setupPage) View() string {
	s := p.sh.styles
	var plan string
	if p.planErr == nil {
		t := newTable("Plan", "#", "Step", "Description")
		for i, st := range p.plan {
			t.addRow(fmt.Sprint(i+1), st.Name, st.Description)
		}
		plan = t.View(s)
	} else {
		plan = s.Error.Render(p.planErr.Error())
	}
	return joinSections(s.Title.Render("Full AI setup"), p.f.View(s), plan)
}
