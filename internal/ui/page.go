package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"kamisetup/internal/config"
	"kamisetup/internal/gpu"
	"kamisetup/internal/logging"
	"kamisetup/internal/recipes"
)

// page is one entry of the side menu.
type page interface {
	Title() string
	Description() string
	// Enter is called when the page becomes active.
	Enter() tea.Cmd
	// Update receives keys while the page is focused and every other
	// message regardless of focus.
	Update(msg tea.Msg) tea.Cmd
	View() string
	form() *form
}

// Routing keys for async answers, so each page only reacts to its own.
const (
	purposeVenvCheck    = "venv-check"
	purposeVenvCreate   = "venv-create"
	purposeVenvInstall  = "venv-install"
	purposePythonCheck  = "python-check"
	purposePythonLatest = "python-latest"
	purposePythonInst   = "python-install"
	purposeSetupCheck   = "setup-check"
	purposeSetupInstall = "setup-install"
	purposeTorchGPU     = "torch-gpu"
	purposeSetupGPU     = "setup-gpu"
)

// deviceFields are the cpu/cuda selectors shared by the torch, deps and
// setup pages. The CUDA choice is hidden for CPU builds.
type deviceFields struct {
	device *choiceField
	cuda   *choiceField
	owner  func() *form
}

func newDeviceFields(cudaVersions []string, owner func() *form) *deviceFields {
	d := &deviceFields{
		device: newChoiceField("Device", []string{string(recipes.DeviceCPU), string(recipes.DeviceCUDA)}, string(recipes.DeviceCPU)),
		owner:  owner,
	}
	d.cuda = newChoiceField("CUDA version", cudaVersions, "")
	if len(cudaVersions) > 0 {
		d.cuda.Select(cudaVersions[len(cudaVersions)-1])
	}
	d.cuda.hidden = true
	d.device.onChange = func(string) tea.Cmd {
		d.sync()
		return nil
	}
	return d
}

func (d *deviceFields) sync() {
	d.cuda.hidden = d.Device() != recipes.DeviceCUDA
	if f := d.owner(); f != nil {
		f.Ensure()
	}
}

func (d *deviceFields) Device() recipes.Device {
	return recipes.Device(d.device.Value())
}

// apply picks the build SuggestCUDA recommends for r.
func (d *deviceFields) apply(r *gpu.Report, supported []string) tea.Cmd {
	var cmds []tea.Cmd
	for _, g := range r.GPUs {
		cmds = append(cmds, logf(logging.LevelInfo, "GPU %d: %s (%d MB)", g.Index, g.Name, g.MemoryMB))
	}
	suggested := gpu.SuggestCUDA(r, supported)
	if suggested == "" {
		d.device.Select(string(recipes.DeviceCPU))
		d.sync()
		reason := r.ErrorMessage
		if reason == "" {
			reason = fmt.Sprintf("driver CUDA %s has no matching build", r.CUDAVersion)
		}
		cmds = append(cmds, report(logging.LevelWarn, "Using the CPU build: %s", reason))
		return tea.Batch(cmds...)
	}
	d.device.Select(string(recipes.DeviceCUDA))
	d.cuda.Select(suggested)
	d.sync()
	cmds = append(cmds, report(logging.LevelSuccess, "Driver supports CUDA %s, selected the CUDA %s build",
		r.CUDAVersion, suggested))
	return tea.Batch(cmds...)
}

func targetLine(s Styles, settings *config.Settings) string {
	mgr, name, ok := settings.SelectedEnv()
	if !ok {
		return s.Warning.Render("No environment selected")
	}
	return s.Label.Render("Target: ") + s.Body.Render(fmt.Sprintf("%s (%s)", name, mgr))
}

func codeBlock(s Styles, text string) string {
	if text == "" {
		return ""
	}
	return s.CodeBlock.Render(text)
}

func joinSections(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}
