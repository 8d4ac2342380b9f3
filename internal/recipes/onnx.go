package recipes

import "kamisetup/internal/installer"

// ONNXOptions selects the ONNX Runtime build.
type ONNXOptions struct {
	GPU bool
}

// Runtime is the pip package providing the runtime.
func (o ONNXOptions) Runtime() string {
	if o.GPU {
		return "onnxruntime-gpu"
	}
	return "onnxruntime"
}

// ONNX installs onnx and ONNX Runtime into t.
func ONNX(t Target, o ONNXOptions) ([]installer.Step, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return []installer.Step{
		{
			Name:        "install-onnx",
			Description: "Install " + o.Runtime(),
			Command:     t.Pip("install", "--upgrade", "onnx", o.Runtime()),
		},
		{
			Name:            "verify-onnx",
			Description:     "Check that onnxruntime imports",
			Command:         t.Python("-c", "import onnxruntime as ort; print('onnxruntime', ort.__version__, ort.get_available_providers())"),
			ContinueOnError: true,
		},
	}, nil
}
