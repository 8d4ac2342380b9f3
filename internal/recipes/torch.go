package recipes

import (
	"fmt"
	"slices"
	"strings"

	"kamisetup/internal/conda"
	"kamisetup/internal/config"
	"kamisetup/internal/installer"
)

// Device is the compute backend PyTorch is built for.
type Device string

const (
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
)

// TorchOptions describes a PyTorch installation.
type TorchOptions struct {
	// Installer is pip or conda. conda requires a conda target.
	Installer   string
	Device      Device
	CUDAVersion string
	Torchvision bool
	Torchaudio  bool
	// IndexURL is the PyTorch wheel index root.
	IndexURL string
}

// Validate rejects combinations that cannot be installed.
func (o TorchOptions) Validate(t Target, supportedCUDA []string) error {
	switch o.Installer {
	case "pip":
	case "conda":
		if t.Manager != config.ManagerConda {
			return fmt.Errorf("conda installs need a conda environment, %q is a %s", t.Name, t.Manager)
		}
	default:
		return fmt.Errorf("unknown installer %q (want pip or conda)", o.Installer)
	}

	switch o.Device {
	case DeviceCPU:
	case DeviceCUDA:
		if !slices.Contains(supportedCUDA, o.CUDAVersion) {
			return fmt.Errorf("unsupported CUDA version %q (supported: %s)",
				o.CUDAVersion, strings.Join(supportedCUDA, ", "))
		}
	default:
		return fmt.Errorf("unknown device %q (want cpu or cuda)", o.Device)
	}
	return nil
}

// Packages lists the PyTorch packages selected.
func (o TorchOptions) Packages(base string) []string {
	pkgs := []string{base}
	if o.Torchvision {
		pkgs = append(pkgs, "torchvision")
	}
	if o.Torchaudio {
		pkgs = append(pkgs, "torchaudio")
	}
	return pkgs
}

// WheelIndex returns the pip index for the selected device,
// e.g. https://download.pytorch.org/whl/cu121.
func (o TorchOptions) WheelIndex() string {
	root := strings.TrimSuffix(o.IndexURL, "/")
	if o.Device == DeviceCUDA {
		return root + "/cu" + strings.ReplaceAll(o.CUDAVersion, ".", "")
	}
	return root + "/cpu"
}

// Torch installs PyTorch into t.
func Torch(t Target, o TorchOptions, supportedCUDA []string) ([]installer.Step, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if err := o.Validate(t, supportedCUDA); err != nil {
		return nil, err
	}

	var install installer.Step
	if o.Installer == "conda" {
		pkgs := o.Packages("pytorch")
		channels := []string{"pytorch"}
		if o.Device == DeviceCUDA {
			pkgs = append(pkgs, "pytorch-cuda="+o.CUDAVersion)
			channels = append(channels, "nvidia")
		} else {
			pkgs = append(pkgs, "cpuonly")
		}
		cmd := conda.InstallCommand(t.Name, channels, pkgs...)
		cmd.WorkingDirectory = t.Workspace
		install = installer.Step{Name: "install-torch", Command: cmd}
	} else {
		args := append([]string{"install"}, o.Packages("torch")...)
		args = append(args, "--index-url", o.WheelIndex())
		install = installer.Step{Name: "install-torch", Command: t.Pip(args...)}
	}
	install.Description = fmt.Sprintf("Install PyTorch (%s)", o.label())

	verify := installer.Step{
		Name:            "verify-torch",
		Description:     "Check that torch imports",
		Command:         t.Python("-c", "import torch; print('torch', torch.__version__, 'cuda:', torch.cuda.is_available())"),
		ContinueOnError: true,
	}
	return []installer.Step{install, verify}, nil
}

func (o TorchOptions) label() string {
	if o.Device == DeviceCUDA {
		return "CUDA " + o.CUDAVersion + " via " + o.Installer
	}
	return "CPU via " + o.Installer
}
