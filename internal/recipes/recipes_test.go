package recipes

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kamisetup/internal/config"
	"kamisetup/internal/installer"
	"kamisetup/internal/logging"
)

var supported = []string{"11.8", "12.1", "12.4"}

const pytorchIndex = "https://download.pytorch.org/whl"

func venvTarget(ws string) Target {
	return Target{Manager: config.ManagerVenv, Name: "myenv", Workspace: ws}
}

func condaTarget() Target {
	return Target{Manager: config.ManagerConda, Name: "torch", Workspace: "."}
}

func stepNames(steps []installer.Step) []string {
	var names []string
	for _, s := range steps {
		names = append(names, s.Name)
	}
	return names
}

func TestTargetValidate(t *testing.T) {
	assert.Error(t, Target{Manager: config.ManagerVenv}.Validate())
	assert.Error(t, Target{Manager: "poetry", Name: "x"}.Validate())
	assert.NoError(t, condaTarget().Validate())
}

func TestTargetPip(t *testing.T) {
	cmd := condaTarget().Pip("install", "onnx")
	assert.Equal(t, "conda", cmd.Binary)
	assert.Equal(t, []string{"run", "-n", "torch", "--no-capture-output", "python", "-m", "pip", "install", "onnx"}, cmd.Arguments)

	cmd = venvTarget("/ws").Pip("install", "onnx")
	assert.True(t, strings.HasPrefix(cmd.Binary, filepath.Join("/ws", "myenv")))
	assert.Equal(t, []string{"-m", "pip", "install", "onnx"}, cmd.Arguments)
}

func TestCreateEnv(t *testing.T) {
	steps, err := CreateEnv(condaTarget(), "3.11")
	require.NoError(t, err)
	assert.Equal(t, []string{"create-env", "upgrade-pip"}, stepNames(steps))
	assert.Equal(t, []string{"create", "-n", "torch", "python=3.11", "-y"}, steps[0].Command.Arguments)
	assert.True(t, steps[1].ContinueOnError)

	_, err = CreateEnv(condaTarget(), "")
	assert.Error(t, err)
}

func TestTorch_PipCUDA(t *testing.T) {
	opts := TorchOptions{Installer: "pip", Device: DeviceCUDA, CUDAVersion: "12.1", Torchvision: true, IndexURL: pytorchIndex + "/"}
	steps, err := Torch(venvTarget("."), opts, supported)
	require.NoError(t, err)
	require.Len(t, steps, 2)

	args := steps[0].Command.Arguments
	assert.Equal(t, []string{"-m", "pip", "install", "torch", "torchvision", "--index-url", "https://download.pytorch.org/whl/cu121"}, args)
	assert.True(t, steps[1].ContinueOnError)
}

func TestTorch_PipCPU(t *testing.T) {
	opts := TorchOptions{Installer: "pip", Device: DeviceCPU, Torchaudio: true, IndexURL: pytorchIndex}
	steps, err := Torch(condaTarget(), opts, supported)
	require.NoError(t, err)
	args := steps[0].Command.Arguments
	assert.Contains(t, args, "torchaudio")
	assert.Equal(t, "https://download.pytorch.org/whl/cpu", args[len(args)-1])
}

func TestTorch_Conda(t *testing.T) {
	steps, err := Torch(condaTarget(), TorchOptions{Installer: "conda", Device: DeviceCUDA, CUDAVersion: "12.4"}, supported)
	require.NoError(t, err)
	assert.Equal(t,
		[]string{"install", "-n", "torch", "-y", "-c", "pytorch", "-c", "nvidia", "pytorch", "pytorch-cuda=12.4"},
		steps[0].Command.Arguments)

	steps, err = Torch(condaTarget(), TorchOptions{Installer: "conda", Device: DeviceCPU, Torchvision: true}, supported)
	require.NoError(t, err)
	assert.Equal(t,
		[]string{"install", "-n", "torch", "-y", "-c", "pytorch", "pytorch", "torchvision", "cpuonly"},
		steps[0].Command.Arguments)
}

func TestTorch_Rejects(t *testing.T) {
	_, err := Torch(condaTarget(), TorchOptions{Installer: "pip", Device: DeviceCUDA, CUDAVersion: "10.2"}, supported)
	assert.ErrorContains(t, err, "unsupported CUDA version")

	_, err = Torch(venvTarget("."), TorchOptions{Installer: "conda", Device: DeviceCPU}, supported)
	assert.ErrorContains(t, err, "conda environment")

	_, err = Torch(venvTarget("."), TorchOptions{Installer: "uv", Device: DeviceCPU}, supported)
	assert.Error(t, err)

	_, err = Torch(venvTarget("."), TorchOptions{Installer: "pip", Device: "rocm"}, supported)
	assert.Error(t, err)
}

func TestONNX(t *testing.T) {
	steps, err := ONNX(condaTarget(), ONNXOptions{GPU: true})
	require.NoError(t, err)
	assert.Contains(t, steps[0].Command.Arguments, "onnxruntime-gpu")
	assert.Contains(t, steps[0].Command.Arguments, "onnx")

	steps, err = ONNX(condaTarget(), ONNXOptions{})
	require.NoError(t, err)
	assert.Contains(t, steps[0].Command.Arguments, "onnxruntime")
	assert.NotContains(t, steps[0].Command.Arguments, "onnxruntime-gpu")
}

func TestParseRequirements(t *testing.T) {
	in := "# comment\nnumpy>=1.26\n\n  torch==2.3.0  # pinned\n-e .\nTorchVision\npandas\t# tabbed note\nhttps://example.com/pkg.whl#sha256=abc\n"
	reqs, err := ParseRequirements(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []string{"numpy>=1.26", "torch==2.3.0", "-e .", "TorchVision", "pandas", "https://example.com/pkg.whl#sha256=abc"}, reqs)
}

func TestSplitTorch(t *testing.T) {
	torch, other := SplitTorch([]string{"numpy", "torch==2.3.0", "torchmetrics", "torchvision>=0.18", "-e .", "torchaudio ; sys_platform == 'linux'"})
	assert.Equal(t, []string{"torch==2.3.0", "torchvision>=0.18", "torchaudio ; sys_platform == 'linux'"}, torch)
	assert.Equal(t, []string{"numpy", "torchmetrics", "-e ."}, other)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRequirements_Plain(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, filepath.Join(ws, "requirements.txt"), "numpy\ntorch\n")

	steps, err := Requirements(venvTarget(ws), "", nil)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	args := steps[0].Command.Arguments
	assert.Equal(t, "-r", args[len(args)-2])
	assert.True(t, filepath.IsAbs(args[len(args)-1]))
}

func TestRequirements_SplitsTorch(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, filepath.Join(ws, "requirements.txt"), "numpy\ntorch==2.3.0\n")

	opts := &TorchOptions{Installer: "pip", Device: DeviceCUDA, CUDAVersion: "11.8", IndexURL: pytorchIndex}
	steps, err := Requirements(venvTarget(ws), "", opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"install-torch-requirements", "write-requirements", "install-requirements"}, stepNames(steps))
	assert.Contains(t, steps[0].Command.Arguments, "https://download.pytorch.org/whl/cu118")

	var lines []string
	out := outputFunc(func(l logging.Level, format string, args ...interface{}) { lines = append(lines, format) })
	require.NoError(t, steps[1].Func(context.Background(), out))
	data, err := os.ReadFile(filepath.Join(ws, ".kami", "requirements.rest.txt"))
	require.NoError(t, err)
	assert.Equal(t, "numpy\n", string(data))
	assert.Len(t, lines, 1)
}

func TestRebaseRequirement(t *testing.T) {
	dir := filepath.Join(string(filepath.Separator)+"proj", "app")
	tests := []struct {
		line string
		want string
	}{
		{"-r base.txt", "-r " + filepath.Join(dir, "base.txt")},
		{"--requirement=dev/base.txt", "--requirement=" + filepath.Join(dir, "dev", "base.txt")},
		{"-cconstraints.txt", "-c" + filepath.Join(dir, "constraints.txt")},
		{"--constraint ../shared/c.txt", "--constraint " + filepath.Join(dir, "..", "shared", "c.txt")},
		{"-e .", "-e " + dir},
		{"-e ./pkg", "-e " + filepath.Join(dir, "pkg")},
		{"./wheels/x.whl", filepath.Join(dir, "wheels", "x.whl")},
		{"-e git+https://github.com/org/repo#egg=repo", "-e git+https://github.com/org/repo#egg=repo"},
		{"-r https://example.com/req.txt", "-r https://example.com/req.txt"},
		{"--extra-index-url https://example.com/simple", "--extra-index-url https://example.com/simple"},
		{"numpy>=1.26", "numpy>=1.26"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, RebaseRequirement(tt.line, dir))
		})
	}
}

func TestRequirements_SplitKeepsNestedFilesReachable(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, filepath.Join(ws, "requirements.txt"), "torch\n-r base.txt\n")
	writeFile(t, filepath.Join(ws, "base.txt"), "numpy\n")

	opts := &TorchOptions{Installer: "pip", Device: DeviceCPU, IndexURL: pytorchIndex}
	steps, err := Requirements(venvTarget(ws), "", opts)
	require.NoError(t, err)
	require.Len(t, steps, 3)

	out := outputFunc(func(logging.Level, string, ...interface{}) {})
	require.NoError(t, steps[1].Func(context.Background(), out))
	data, err := os.ReadFile(filepath.Join(ws, ".kami", "requirements.rest.txt"))
	require.NoError(t, err)

	line := strings.TrimSpace(string(data))
	require.True(t, strings.HasPrefix(line, "-r "), line)
	_, err = os.Stat(strings.TrimPrefix(line, "-r "))
	assert.NoError(t, err, "nested requirements file must resolve from the rest file")
}

func TestRequirements_Errors(t *testing.T) {
	ws := t.TempDir()
	_, err := Requirements(venvTarget(ws), "", nil)
	assert.Error(t, err)

	writeFile(t, filepath.Join(ws, "empty.txt"), "# nothing\n")
	_, err = Requirements(venvTarget(ws), filepath.Join(ws, "empty.txt"), nil)
	assert.ErrorContains(t, err, "no requirements")
}

func TestFullSetup(t *testing.T) {
	ws := t.TempDir()
	target := venvTarget(ws)
	opts := FullSetupOptions{
		Target:        target,
		PythonVersion: "3.11",
		Torch:         TorchOptions{Installer: "pip", Device: DeviceCPU, IndexURL: pytorchIndex},
		SupportedCUDA: supported,
		ONNX:          &ONNXOptions{},
	}

	steps, err := FullSetup(opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"create-env", "upgrade-pip", "install-torch", "verify-torch", "install-onnx", "verify-onnx"}, stepNames(steps))

	writeFile(t, filepath.Join(ws, "requirements.txt"), "numpy\n")
	steps, err = FullSetup(opts)
	require.NoError(t, err)
	assert.Equal(t, "install-requirements", steps[len(steps)-1].Name)

	opts.Requirements = filepath.Join(ws, "missing.txt")
	_, err = FullSetup(opts)
	assert.Error(t, err)
}

type outputFunc func(level logging.Level, format string, args ...interface{})

func (f outputFunc) Printf(level logging.Level, format string, args ...interface{}) {
	f(level, format, args...)
}

func (f outputFunc) Progress(int64, int64) {}
