package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"kamisetup/internal/ui"
)

var (
	// Global flags
	verbose    bool
	configPath string
	workspace  string
	dryRun     bool

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "kami",
	Short: "kami - one-click AI environment installer",
	Long: `kami sets up Python environments for AI work: virtual environments or
conda environments, PyTorch with the right CUDA build, ONNX Runtime and
project requirements. Python itself can be installed from python.org.

Run without arguments to start the interactive terminal UI.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runUI,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging (also writes .kami/logs)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: <workspace>/kami.yaml)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Print the commands instead of running them")

	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(venvCmd)
	rootCmd.AddCommand(condaCmd)
	rootCmd.AddCommand(torchCmd)
	rootCmd.AddCommand(onnxCmd)
	rootCmd.AddCommand(depsCmd)
	rootCmd.AddCommand(pythonCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(activateCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(historyCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

// printError writes err and any hints attached to it.
func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)
	if hint := errors.FlattenHints(err); hint != "" {
		fmt.Fprintf(w, "Hint: %s\n", hint)
	}
}

// runUI starts the interactive terminal UI.
func runUI(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	logger.Debug("Starting terminal UI", zap.String("workspace", a.cfg.Workspace))
	return ui.Run(cmd.Context(), ui.Deps{
		Config:   a.cfg,
		Settings: a.settings,
		Executor: a.executor,
		Runner:   a.runner,
		Conda:    a.conda,
		Releases: a.releases,
		History:  a.history,
	})
}
