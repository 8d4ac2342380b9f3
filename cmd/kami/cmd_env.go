package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/charmbracelet/glamour"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"kamisetup/internal/conda"
	"kamisetup/internal/config"
	"kamisetup/internal/installer"
	"kamisetup/internal/logging"
	"kamisetup/internal/python"
	"kamisetup/internal/recipes"
)

var (
	envPython        string
	envInstallPython bool
	envNoSelect      bool

	activateManager string
	activateShell   bool
)

var venvCmd = &cobra.Command{
	Use:   "venv",
	Short: "Manage virtual environments in the workspace",
}

var venvListCmd = &cobra.Command{
	Use:   "list",
	Short: "List venvs in the workspace",
	Args:  cobra.NoArgs,
	RunE:  venvList,
}

var venvCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a venv and make it the active environment",
	Long: `Creates a virtual environment with the selected Python version and
upgrades its pip. The name is normalized (lowercase, only letters, digits
and underscores) and made unique: myenv, myenv_1, myenv_2, ...

Example:
  kami venv create vision --python 3.11 --install-python`,
	Args: cobra.MaximumNArgs(1),
	RunE: venvCreate,
}

var condaCmd = &cobra.Command{
	Use:   "conda",
	Short: "Manage conda environments",
}

var condaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conda environments",
	Args:  cobra.NoArgs,
	RunE:  condaList,
}

var condaCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a conda environment and make it the active environment",
	Args:  cobra.MaximumNArgs(1),
	RunE:  condaCreate,
}

var activateCmd = &cobra.Command{
	Use:   "activate [name]",
	Short: "Select an environment and show how to activate it",
	Long: `Selects the environment and prints the activation instructions.
Without a name the active environment is used. With --shell a new shell
is started with the environment activated.`,
	Args: cobra.MaximumNArgs(1),
	RunE: activateEnv,
}

func init() {
	for _, c := range []*cobra.Command{venvCreateCmd, condaCreateCmd} {
		c.Flags().StringVarP(&envPython, "python", "p", "", "Python version (default: settings python_version)")
		c.Flags().BoolVar(&envNoSelect, "no-select", false, "Do not make the new environment active")
	}
	venvCreateCmd.Flags().BoolVar(&envInstallPython, "install-python", false, "Install Python from python.org when missing")

	activateCmd.Flags().StringVarP(&activateManager, "manager", "m", "", "venv or conda (default: the active environment's)")
	activateCmd.Flags().BoolVar(&activateShell, "shell", false, "Start a shell with the environment activated")

	venvCmd.AddCommand(venvListCmd, venvCreateCmd)
	condaCmd.AddCommand(condaListCmd, condaCreateCmd)
}

func pythonVersionFor(a *app) (string, error) {
	v := envPython
	if v == "" {
		v = a.settings.Snapshot().PythonVersion
	}
	if !a.cfg.HasPythonVersion(v) {
		return "", errors.WithHintf(
			errors.Newf("python %s is not offered", v),
			"choose one of %v or add it to python_versions in kami.yaml", a.cfg.PythonVersions)
	}
	return v, nil
}

func venvList(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	venvs, err := python.FindLocalVenvs(a.cfg.Workspace)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(venvs) == 0 {
		fmt.Fprintf(out, "No venvs in %s\n", a.cfg.Workspace)
		return nil
	}
	mgr, active, _ := a.settings.SelectedEnv()
	for _, v := range venvs {
		marker := " "
		if mgr == config.ManagerVenv && v == active {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %s\n", marker, v)
	}
	return nil
}

// ensurePython checks the interpreter and, when allowed, returns the steps
// that install it first.
func ensurePython(ctx context.Context, a *app, w io.Writer, version string, install bool) ([]installer.Step, error) {
	full, err := python.CheckVersion(ctx, a.executor, version)
	if err == nil {
		fmt.Fprintln(w, logging.NewConsoleLine(logging.LevelSuccess, "Found Python %s", full).String())
		return nil, nil
	}
	if !install {
		return nil, err
	}
	fmt.Fprintln(w, logging.NewConsoleLine(logging.LevelWarn, "Python %s is not installed, installing it first", version).String())
	latest := a.releases.ResolveLatest(ctx, version)
	return a.releases.InstallSteps(latest, a.downloadDir(), runtime.GOOS, runtime.GOARCH)
}

func (a *app) downloadDir() string {
	return filepath.Join(a.cfg.Workspace, ".kami", "downloads")
}

func venvCreate(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()
	out := cmd.OutOrStdout()

	version, err := pythonVersionFor(a)
	if err != nil {
		return err
	}
	base := python.DefaultEnvName
	if len(args) == 1 {
		base = python.FormatEnvName(args[0])
	}
	name := python.UniqueName(a.cfg.Workspace, base)
	if name != base {
		fmt.Fprintln(out, logging.NewConsoleLine(logging.LevelWarn, "%q already exists, using %q", base, name).String())
	}

	pre, err := ensurePython(cmd.Context(), a, out, version, envInstallPython)
	if err != nil {
		return err
	}
	t := recipes.Target{Manager: config.ManagerVenv, Name: name, Workspace: a.cfg.Workspace}
	steps, err := recipes.CreateEnv(t, version)
	if err != nil {
		return err
	}
	if _, err := runSteps(cmd.Context(), a, out, "Create venv "+name, append(pre, steps...)); err != nil {
		return err
	}
	return selectCreated(a, out, config.ManagerVenv, name)
}

func selectCreated(a *app, w io.Writer, manager config.EnvManager, name string) error {
	if envNoSelect || a.runner.DryRun() {
		return nil
	}
	if err := a.settings.SelectEnv(manager, name); err != nil {
		return err
	}
	fmt.Fprintln(w, logging.NewConsoleLine(logging.LevelSuccess, "Environment %q is now active", name).String())
	fmt.Fprintln(w, python.ActivationLine(runtime.GOOS, string(manager), name))
	return nil
}

func condaList(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	version, err := a.conda.Check(cmd.Context())
	if err != nil {
		return err
	}
	envs, err := a.conda.ListEnvs(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, version)
	mgr, active, _ := a.settings.SelectedEnv()
	for _, e := range envs {
		marker := " "
		if mgr == config.ManagerConda && e == active {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %s\n", marker, e)
	}
	return nil
}

func condaCreate(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()
	out := cmd.OutOrStdout()

	version, err := pythonVersionFor(a)
	if err != nil {
		return err
	}
	if _, err := a.conda.Check(cmd.Context()); err != nil {
		return err
	}
	existing, err := a.conda.ListEnvs(cmd.Context())
	if err != nil {
		return err
	}
	base := python.DefaultEnvName
	if len(args) == 1 {
		base = python.FormatEnvName(args[0])
	}
	name := conda.UniqueEnvName(existing, base)
	if name != base {
		fmt.Fprintln(out, logging.NewConsoleLine(logging.LevelWarn, "conda env %q already exists, using %q", base, name).String())
	}

	t := recipes.Target{Manager: config.ManagerConda, Name: name, Workspace: a.cfg.Workspace}
	steps, err := recipes.CreateEnv(t, version)
	if err != nil {
		return err
	}
	if _, err := runSteps(cmd.Context(), a, out, "Create conda env "+name, steps); err != nil {
		return err
	}
	return selectCreated(a, out, config.ManagerConda, name)
}

func activateEnv(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()
	out := cmd.OutOrStdout()

	mgr, name, ok := a.settings.SelectedEnv()
	if activateManager != "" {
		if mgr, err = config.ParseEnvManager(activateManager); err != nil {
			return err
		}
	}
	if len(args) == 1 {
		name, ok = args[0], true
		if mgr == "" {
			mgr = config.ManagerVenv
		}
		if mgr == config.ManagerVenv && !python.IsVenv(filepath.Join(a.cfg.Workspace, name)) {
			return errors.WithHint(errors.Newf("%q is not a venv in %s", name, a.cfg.Workspace),
				"list them with: kami venv list")
		}
		if err := a.settings.SelectEnv(mgr, name); err != nil {
			return err
		}
	}
	if !ok {
		return errors.WithHint(errors.New("no environment selected"), "pass a name: kami activate myenv")
	}

	if activateShell {
		shell := python.ShellCommand(string(mgr), name, a.cfg.Workspace)
		c := exec.CommandContext(cmd.Context(), shell.Binary, shell.Arguments...)
		c.Dir = shell.WorkingDirectory
		c.Stdin, c.Stdout, c.Stderr = os.Stdin, out, cmd.ErrOrStderr()
		return c.Run()
	}

	md := python.ActivationInstructions(string(mgr), name)
	rendered, err := glamour.Render(md, a.settings.Snapshot().Theme)
	if err != nil {
		rendered = md
	}
	fmt.Fprint(out, rendered)
	return nil
}
