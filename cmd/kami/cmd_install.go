package main

import (
	"context"
	"fmt"
	"io"
	"runtime"

	"github.com/atotto/clipboard"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"kamisetup/internal/conda"
	"kamisetup/internal/config"
	"kamisetup/internal/gpu"
	"kamisetup/internal/logging"
	"kamisetup/internal/pyrelease"
	"kamisetup/internal/python"
	"kamisetup/internal/recipes"
)

var (
	targetEnv     string
	targetManager string

	torchInstaller string
	torchDevice    string
	torchCUDA      string
	torchAuto      bool
	torchNoVision  bool
	torchNoAudio   bool
	torchPrint     bool
	torchCopy      bool

	onnxGPU bool

	setupManager       string
	setupName          string
	setupNoONNX        bool
	setupRequirements  string
	setupInstallPython bool
)

var torchCmd = &cobra.Command{
	Use:   "torch",
	Short: "Install PyTorch into the active environment",
	Long: `Installs torch (plus torchvision and torchaudio) for CPU or a CUDA
toolkit. With --auto the CUDA build is picked from the NVIDIA driver.

Example:
  kami torch --device cuda --cuda 12.1
  kami torch --auto --print`,
	Args: cobra.NoArgs,
	RunE: installTorch,
}

var onnxCmd = &cobra.Command{
	Use:   "onnx",
	Short: "Install onnx and ONNX Runtime into the active environment",
	Args:  cobra.NoArgs,
	RunE:  installONNX,
}

var depsCmd = &cobra.Command{
	Use:   "deps [requirements-file]",
	Short: "Install a requirements file into the active environment",
	Long: `Installs requirements.txt (or the given file). torch, torchvision and
torchaudio lines are installed first from the PyTorch wheel index of the
selected device.`,
	Args: cobra.MaximumNArgs(1),
	RunE: installDeps,
}

var pythonCmd = &cobra.Command{
	Use:   "python",
	Short: "Check and install Python interpreters",
}

var pythonCheckCmd = &cobra.Command{
	Use:   "check [version]",
	Short: "Check whether a Python version is installed",
	Args:  cobra.MaximumNArgs(1),
	RunE:  pythonCheck,
}

var pythonLatestCmd = &cobra.Command{
	Use:   "latest [version]",
	Short: "Show the newest python.org release of a version",
	Args:  cobra.MaximumNArgs(1),
	RunE:  pythonLatest,
}

var pythonInstallCmd = &cobra.Command{
	Use:   "install [version]",
	Short: "Download and run the python.org installer",
	Long: `Resolves the newest X.Y.Z release of the version, downloads the
installer and runs it. Supported on Windows and macOS; on Linux use the
distribution's package manager.`,
	Args: cobra.MaximumNArgs(1),
	RunE: pythonInstall,
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Full AI setup: environment, PyTorch, ONNX Runtime and requirements",
	Args:  cobra.NoArgs,
	RunE:  fullSetup,
}

func addTargetFlags(c *cobra.Command) {
	c.Flags().StringVarP(&targetEnv, "env", "e", "", "Environment name (default: the active environment)")
	c.Flags().StringVarP(&targetManager, "manager", "m", "", "venv or conda (default: the active environment's)")
}

func addDeviceFlags(c *cobra.Command) {
	c.Flags().StringVar(&torchDevice, "device", "cpu", "cpu or cuda")
	c.Flags().StringVar(&torchCUDA, "cuda", "", "CUDA toolkit version, e.g. 12.1 (default: newest configured)")
	c.Flags().BoolVar(&torchAuto, "auto", false, "Pick cpu/cuda from the detected NVIDIA driver")
}

func init() {
	addTargetFlags(torchCmd)
	addDeviceFlags(torchCmd)
	torchCmd.Flags().StringVar(&torchInstaller, "installer", "", "pip or conda (default: conda for conda environments)")
	torchCmd.Flags().BoolVar(&torchNoVision, "no-torchvision", false, "Skip torchvision")
	torchCmd.Flags().BoolVar(&torchNoAudio, "no-torchaudio", false, "Skip torchaudio")
	torchCmd.Flags().BoolVar(&torchPrint, "print", false, "Print the install command and exit")
	torchCmd.Flags().BoolVar(&torchCopy, "copy", false, "Copy the install command to the clipboard and exit")

	addTargetFlags(onnxCmd)
	onnxCmd.Flags().BoolVar(&onnxGPU, "gpu", false, "Install onnxruntime-gpu")

	addTargetFlags(depsCmd)
	addDeviceFlags(depsCmd)

	addDeviceFlags(setupCmd)
	setupCmd.Flags().StringVarP(&setupManager, "manager", "m", "venv", "venv or conda")
	setupCmd.Flags().StringVarP(&setupName, "name", "n", python.DefaultEnvName, "Environment name")
	setupCmd.Flags().StringVarP(&envPython, "python", "p", "", "Python version (default: settings python_version)")
	setupCmd.Flags().BoolVar(&setupNoONNX, "no-onnx", false, "Skip ONNX Runtime")
	setupCmd.Flags().StringVar(&setupRequirements, "requirements", "", "Requirements file (default: requirements.txt when present)")
	setupCmd.Flags().BoolVar(&setupInstallPython, "install-python", false, "Install Python from python.org when missing")

	pythonCmd.AddCommand(pythonCheckCmd, pythonLatestCmd, pythonInstallCmd)
}

// resolveTarget applies --env/--manager over the active environment.
func resolveTarget(a *app) (recipes.Target, error) {
	mgr, name, _ := a.settings.SelectedEnv()
	if targetManager != "" {
		m, err := config.ParseEnvManager(targetManager)
		if err != nil {
			return recipes.Target{}, err
		}
		mgr = m
	}
	if targetEnv != "" {
		name = targetEnv
		if mgr == "" {
			mgr = config.ManagerVenv
		}
	}
	if name == "" {
		return recipes.Target{}, errors.WithHint(errors.New("no environment selected"),
			"create one with: kami venv create, or pass --env")
	}
	return recipes.Target{Manager: mgr, Name: name, Workspace: a.cfg.Workspace}, nil
}

// resolveDevice returns the device and CUDA version from the flags, asking
// nvidia-smi when --auto is set.
func resolveDevice(ctx context.Context, a *app, w io.Writer) (recipes.Device, string, error) {
	cuda := torchCUDA
	if cuda == "" && len(a.cfg.CUDAVersions) > 0 {
		cuda = a.cfg.CUDAVersions[len(a.cfg.CUDAVersions)-1]
	}
	if !torchAuto {
		return recipes.Device(torchDevice), cuda, nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, a.cfg.GetProbeTimeout())
	defer cancel()
	report, err := gpu.Detect(probeCtx, a.executor)
	if err != nil {
		return "", "", err
	}
	for _, g := range report.GPUs {
		fmt.Fprintln(w, logging.NewConsoleLine(logging.LevelInfo, "GPU %d: %s (%d MB)", g.Index, g.Name, g.MemoryMB).String())
	}
	suggested := gpu.SuggestCUDA(report, a.cfg.CUDAVersions)
	if suggested == "" {
		fmt.Fprintln(w, logging.NewConsoleLine(logging.LevelWarn, "No usable CUDA driver, using the CPU build").String())
		return recipes.DeviceCPU, "", nil
	}
	fmt.Fprintln(w, logging.NewConsoleLine(logging.LevelInfo, "Driver CUDA %s, using the CUDA %s build", report.CUDAVersion, suggested).String())
	return recipes.DeviceCUDA, suggested, nil
}

func installTorch(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()
	out := cmd.OutOrStdout()

	t, err := resolveTarget(a)
	if err != nil {
		return err
	}
	device, cuda, err := resolveDevice(cmd.Context(), a, out)
	if err != nil {
		return err
	}
	inst := torchInstaller
	if inst == "" {
		inst = "pip"
		if t.Manager == config.ManagerConda {
			inst = "conda"
		}
	}
	steps, err := recipes.Torch(t, recipes.TorchOptions{
		Installer:   inst,
		Device:      device,
		CUDAVersion: cuda,
		Torchvision: !torchNoVision,
		Torchaudio:  !torchNoAudio,
		IndexURL:    a.cfg.PyTorchIndexURL,
	}, a.cfg.CUDAVersions)
	if err != nil {
		return err
	}

	command := steps[0].Display()
	switch {
	case torchPrint:
		fmt.Fprintln(out, command)
		return nil
	case torchCopy:
		if err := clipboard.WriteAll(command); err != nil {
			return errors.WithHint(errors.Wrap(err, "clipboard unavailable"), "use --print instead")
		}
		fmt.Fprintln(out, "Copied: "+command)
		return nil
	}
	_, err = runSteps(cmd.Context(), a, out, "Install PyTorch", steps)
	return err
}

func installONNX(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := resolveTarget(a)
	if err != nil {
		return err
	}
	steps, err := recipes.ONNX(t, recipes.ONNXOptions{GPU: onnxGPU})
	if err != nil {
		return err
	}
	_, err = runSteps(cmd.Context(), a, cmd.OutOrStdout(), "Install ONNX", steps)
	return err
}

func installDeps(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()
	out := cmd.OutOrStdout()

	t, err := resolveTarget(a)
	if err != nil {
		return err
	}
	device, cuda, err := resolveDevice(cmd.Context(), a, out)
	if err != nil {
		return err
	}
	var path string
	if len(args) == 1 {
		path = args[0]
	}
	steps, err := recipes.Requirements(t, path, &recipes.TorchOptions{
		Installer:   "pip",
		Device:      device,
		CUDAVersion: cuda,
		IndexURL:    a.cfg.PyTorchIndexURL,
	})
	if err != nil {
		return err
	}
	_, err = runSteps(cmd.Context(), a, out, "Install dependencies", steps)
	return err
}

func versionArg(a *app, args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return a.settings.Snapshot().PythonVersion
}

func pythonCheck(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	v := versionArg(a, args)
	full, err := python.CheckVersion(cmd.Context(), a.executor, v)
	if err != nil {
		return err
	}
	bin, launcherArgs := python.Interpreter(v)
	fmt.Fprintf(cmd.OutOrStdout(), "Python %s (%s %v)\n", full, bin, launcherArgs)
	return nil
}

func pythonLatest(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	v := versionArg(a, args)
	versions, err := a.releases.Versions(cmd.Context())
	if err != nil {
		return errors.WithHint(err, "check your network connection or python_index_url")
	}
	latest, ok := pyrelease.Latest(versions, v)
	if !ok {
		return errors.Newf("python.org lists no %s release", v)
	}
	fmt.Fprintln(cmd.OutOrStdout(), latest.String())
	return nil
}

func pythonInstall(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	v := versionArg(a, args)
	full := v
	if !pyrelease.IsFullVersion(v) {
		full = a.releases.ResolveLatest(cmd.Context(), v)
	}
	if !pyrelease.IsFullVersion(full) {
		return errors.WithHint(errors.Newf("could not resolve a Python %s release", v),
			"pass a full version, e.g. kami python install 3.11.9")
	}
	steps, err := a.releases.InstallSteps(full, a.downloadDir(), runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return err
	}
	_, err = runSteps(cmd.Context(), a, cmd.OutOrStdout(), "Install Python "+full, steps)
	return err
}

func fullSetup(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	mgr, err := config.ParseEnvManager(setupManager)
	if err != nil {
		return err
	}
	version, err := pythonVersionFor(a)
	if err != nil {
		return err
	}
	device, cuda, err := resolveDevice(ctx, a, out)
	if err != nil {
		return err
	}

	base := python.FormatEnvName(setupName)
	if base == "" {
		base = python.DefaultEnvName
	}
	name := python.UniqueName(a.cfg.Workspace, base)
	torchInst := "pip"
	if mgr == config.ManagerConda {
		if _, err := a.conda.Check(ctx); err != nil {
			return err
		}
		existing, err := a.conda.ListEnvs(ctx)
		if err != nil {
			return err
		}
		name = conda.UniqueEnvName(existing, base)
		torchInst = "conda"
	}

	var onnx *recipes.ONNXOptions
	if !setupNoONNX {
		onnx = &recipes.ONNXOptions{GPU: device == recipes.DeviceCUDA}
	}
	steps, err := recipes.FullSetup(recipes.FullSetupOptions{
		Target:        recipes.Target{Manager: mgr, Name: name, Workspace: a.cfg.Workspace},
		PythonVersion: version,
		Torch: recipes.TorchOptions{
			Installer:   torchInst,
			Device:      device,
			CUDAVersion: cuda,
			Torchvision: true,
			Torchaudio:  true,
			IndexURL:    a.cfg.PyTorchIndexURL,
		},
		SupportedCUDA: a.cfg.CUDAVersions,
		ONNX:          onnx,
		Requirements:  setupRequirements,
	})
	if err != nil {
		return err
	}

	if mgr == config.ManagerVenv {
		pre, err := ensurePython(ctx, a, out, version, setupInstallPython)
		if err != nil {
			return err
		}
		steps = append(pre, steps...)
	}
	title := fmt.Sprintf("Full AI setup (%s %s)", mgr, name)
	if _, err := runSteps(ctx, a, out, title, steps); err != nil {
		return err
	}
	return selectCreated(a, out, mgr, name)
}
