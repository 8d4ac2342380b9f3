// Package python manages local virtual environments and the Python
// interpreters used to create them.
package python

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"unicode"

	"github.com/cockroachdb/errors"

	"kamisetup/internal/logging"
	"kamisetup/internal/tactile"
)

// DefaultEnvName is used when the user leaves the name blank.
const DefaultEnvName = "myenv"

// ErrInterpreterNotFound is returned when no interpreter answers for a version.
var ErrInterpreterNotFound = errors.New("python interpreter not found")

var versionOutput = regexp.MustCompile(`Python (\d+\.\d+(?:\.\d+)?)`)

// FormatEnvName lowercases text and replaces every rune that is not a letter,
// digit or underscore with an underscore.
func FormatEnvName(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

// IsVenv reports whether dir looks like a virtual environment on any platform.
func IsVenv(dir string) bool {
	for _, marker := range []string{
		filepath.Join("Scripts", "activate.bat"),
		filepath.Join("bin", "activate"),
	} {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}

// FindLocalVenvs returns the names of the virtual environments directly under dir.
func FindLocalVenvs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s for venvs: %w", dir, err)
	}

	var venvs []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if IsVenv(filepath.Join(dir, entry.Name())) {
			venvs = append(venvs, entry.Name())
		}
	}
	sort.Strings(venvs)
	logging.Env("Found %d venvs in %s", len(venvs), dir)
	return venvs, nil
}

// UniqueName returns base, or base_1, base_2, ... for the first name that does
// not exist under dir. An empty base means DefaultEnvName.
func UniqueName(dir, base string) string {
	if base == "" {
		base = DefaultEnvName
	}
	return NextFreeName(base, func(name string) bool {
		_, err := os.Stat(filepath.Join(dir, name))
		return err == nil
	})
}

// NextFreeName applies the increment rule shared by venvs and conda envs.
func NextFreeName(base string, taken func(string) bool) string {
	name := base
	for n := 1; taken(name); n++ {
		name = fmt.Sprintf("%s_%d", base, n)
	}
	return name
}

// Interpreter returns the launcher for a major.minor version on this platform.
func Interpreter(version string) (string, []string) {
	return interpreterFor(runtime.GOOS, version)
}

func interpreterFor(goos, version string) (string, []string) {
	if goos == "windows" {
		return "py", []string{"-" + version}
	}
	return "python" + version, nil
}

// CheckVersion asks the launcher for version and returns the full version it
// reports, e.g. "3.11.9".
func CheckVersion(ctx context.Context, executor tactile.Executor, version string) (string, error) {
	bin, args := Interpreter(version)
	result, err := executor.Execute(ctx, tactile.Command{
		Binary:    bin,
		Arguments: append(args, "--version"),
		Limits:    &tactile.ResourceLimits{TimeoutMs: 15000},
	})
	if err != nil {
		return "", err
	}
	if !result.OK() {
		logging.EnvWarn("Python %s not available: exit=%d err=%s", version, result.ExitCode, result.Error)
		return "", errors.WithHint(
			errors.Wrapf(ErrInterpreterNotFound, "python %s", version),
			fmt.Sprintf("install it with: kami python install %s", version))
	}

	m := versionOutput.FindStringSubmatch(result.Output())
	if m == nil {
		return "", fmt.Errorf("unexpected version output from %s: %q", bin, strings.TrimSpace(result.Output()))
	}
	return m[1], nil
}

// CreateVenvCommand builds the command that creates venv name inside dir.
func CreateVenvCommand(dir, name, version string) tactile.Command {
	bin, args := Interpreter(version)
	return tactile.Command{
		Binary:           bin,
		Arguments:        append(args, "-m", "venv", name),
		WorkingDirectory: dir,
		Tags:             map[string]string{"manager": "venv", "env": name},
	}
}

// BinDir is the venv directory holding its executables.
func BinDir(envDir string) string {
	return binDirFor(runtime.GOOS, envDir)
}

func binDirFor(goos, envDir string) string {
	if goos == "windows" {
		return filepath.Join(envDir, "Scripts")
	}
	return filepath.Join(envDir, "bin")
}

// PythonPath is the venv's own interpreter.
func PythonPath(envDir string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(BinDir(envDir), "python.exe")
	}
	return filepath.Join(BinDir(envDir), "python")
}

// PipCommand runs pip through the venv interpreter so the right site-packages
// is targeted.
func PipCommand(envDir string, args ...string) tactile.Command {
	return tactile.Command{
		Binary:    PythonPath(envDir),
		Arguments: append([]string{"-m", "pip"}, args...),
		Tags:      map[string]string{"manager": "venv", "env": filepath.Base(envDir)},
	}
}
