package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"kamisetup/internal/config"
	"kamisetup/internal/history"
	"kamisetup/internal/probe"
)

var (
	doctorJSON   bool
	doctorStrict bool
	historyLimit int
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check Python, conda, pip and the NVIDIA driver",
	Args:  cobra.NoArgs,
	RunE:  runDoctor,
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show and change settings.json",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print all settings",
	Args:  cobra.NoArgs,
	RunE:  settingsShow,
}

var settingsGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Print one setting",
	Args:  cobra.ExactArgs(1),
	RunE:  settingsGet,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Change one setting",
	Long: `Changes a setting and saves settings.json. Keys:
  env_manager     venv or conda
  env_name        active environment
  theme           dark or light
  python_version  default MAJOR.MINOR`,
	Args: cobra.ExactArgs(2),
	RunE: settingsSet,
}

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List past runs, or the steps of one run",
	Args:  cobra.MaximumNArgs(1),
	RunE:  showHistory,
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "Print the report as JSON")
	doctorCmd.Flags().BoolVar(&doctorStrict, "strict", false, "Exit non-zero when any check fails")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to list")

	settingsCmd.AddCommand(settingsShowCmd, settingsGetCmd, settingsSetCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	d := &probe.Doctor{
		Executor:       a.executor,
		PythonVersions: a.cfg.PythonVersions,
		CUDAVersions:   a.cfg.CUDAVersions,
		Workspace:      a.cfg.Workspace,
		Timeout:        a.cfg.GetProbeTimeout(),
		Releases:       a.releases,
	}
	report, err := d.Run(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if doctorJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		for _, c := range report.Checks {
			status := "ok  "
			if !c.OK {
				status = "FAIL"
			}
			fmt.Fprintf(out, "[%s] %-22s %s\n", status, c.Name, c.Detail)
			if !c.OK && c.Hint != "" {
				fmt.Fprintf(out, "       %-22s hint: %s\n", "", c.Hint)
			}
		}
		if report.SuggestedCUDA != "" {
			fmt.Fprintf(out, "\nSuggested PyTorch build: CUDA %s\n", report.SuggestedCUDA)
		} else {
			fmt.Fprintln(out, "\nSuggested PyTorch build: CPU")
		}
		fmt.Fprintf(out, "Checked in %s\n", report.Duration.Round(time.Millisecond))
	}

	if doctorStrict && !report.OK() {
		return errors.New("some checks failed")
	}
	return nil
}

func settingsShow(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "# %s\n", a.settings.Path())
	for _, k := range config.Keys() {
		v, _ := a.settings.Get(k)
		fmt.Fprintf(out, "%s = %s\n", k, v)
	}
	return nil
}

func settingsGet(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	v, err := a.settings.Get(args[0])
	if err != nil {
		return errors.WithHintf(err, "valid keys: %v", config.Keys())
	}
	fmt.Fprintln(cmd.OutOrStdout(), v)
	return nil
}

func settingsSet(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.settings.Set(args[0], args[1]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], args[1])
	return nil
}

func runStatus(r history.RunRecord) string {
	switch {
	case r.Canceled:
		return "canceled"
	case r.DryRun:
		return "dry-run"
	case r.OK:
		return "ok"
	default:
		return "failed"
	}
}

func showHistory(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if a.history == nil {
		return errors.WithHint(errors.New("run history is disabled"), "set history.enabled: true in kami.yaml")
	}
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	if len(args) == 1 {
		run, err := a.history.Get(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s  %s  %s  (%s)\n", run.ID, run.Title, runStatus(run), run.Duration().Round(time.Second))
		steps, err := a.history.Steps(ctx, run.ID)
		if err != nil {
			return err
		}
		for _, s := range steps {
			fmt.Fprintf(out, "  %2d. %-28s %-9s exit=%-3d %s\n", s.Index+1, s.Name, s.Status, s.ExitCode, s.Duration.Round(time.Millisecond))
			if s.Command != "" {
				fmt.Fprintf(out, "      $ %s\n", s.Command)
			}
			if s.Error != "" {
				fmt.Fprintf(out, "      error: %s\n", s.Error)
			}
		}
		return nil
	}

	runs, err := a.history.Recent(ctx, historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded yet")
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(out, "%s  %-16s %-9s %-10s %s\n",
			r.ID, humanize.Time(r.StartedAt), runStatus(r), r.Duration().Round(time.Second), r.Title)
	}
	return nil
}
