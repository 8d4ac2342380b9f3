package recipes

import (
	"os"
	"path/filepath"

	"kamisetup/internal/installer"
	"kamisetup/internal/logging"
)

// FullSetupOptions describes the one-click setup.
type FullSetupOptions struct {
	Target        Target
	PythonVersion string
	Torch         TorchOptions
	SupportedCUDA []string

	// ONNX is skipped when nil.
	ONNX *ONNXOptions

	// Requirements defaults to the workspace requirements.txt and is skipped
	// when that file does not exist.
	Requirements string
}

// FullSetup creates the environment, then installs PyTorch, ONNX Runtime and
// the project requirements.
func FullSetup(o FullSetupOptions) ([]installer.Step, error) {
	steps, err := CreateEnv(o.Target, o.PythonVersion)
	if err != nil {
		return nil, err
	}

	torch, err := Torch(o.Target, o.Torch, o.SupportedCUDA)
	if err != nil {
		return nil, err
	}
	steps = append(steps, torch...)

	if o.ONNX != nil {
		onnx, err := ONNX(o.Target, *o.ONNX)
		if err != nil {
			return nil, err
		}
		steps = append(steps, onnx...)
	}

	reqPath := o.Requirements
	if reqPath == "" {
		reqPath = filepath.Join(o.Target.Workspace, DefaultRequirementsFile)
	}
	if _, err := os.Stat(reqPath); err == nil {
		torchOpts := o.Torch
		reqs, err := Requirements(o.Target, reqPath, &torchOpts)
		if err != nil {
			return nil, err
		}
		steps = append(steps, reqs...)
	} else if o.Requirements != "" {
		return nil, err
	} else {
		logging.Install("No %s in workspace, skipping dependencies", DefaultRequirementsFile)
	}

	return steps, nil
}
