package python

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"kamisetup/internal/tactile"
)

// ActivationScript returns the script that activates envDir.
func ActivationScript(envDir string) string {
	return activationScriptFor(runtime.GOOS, envDir)
}

func activationScriptFor(goos, envDir string) string {
	if goos == "windows" {
		return filepath.Join(binDirFor(goos, envDir), "activate.bat")
	}
	return filepath.Join(binDirFor(goos, envDir), "activate")
}

// ActivationLine is the shell line a user types to activate an environment.
// manager is "venv" or "conda".
func ActivationLine(goos, manager, name string) string {
	if manager == "conda" {
		return "conda activate " + shellQuote(goos, name)
	}
	if goos == "windows" {
		return "call " + shellQuote(goos, activationScriptFor(goos, name))
	}
	return "source " + shellQuote(goos, activationScriptFor(goos, name))
}

// ActivationInstructions renders markdown explaining how to use an environment.
func ActivationInstructions(manager, name string) string {
	return activationInstructionsFor(runtime.GOOS, manager, name)
}

func activationInstructionsFor(goos, manager, name string) string {
	lang := "bash"
	if goos == "windows" {
		lang = "bat"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Activate `%s`\n\n", name)
	fmt.Fprintf(&b, "Environment type: **%s**\n\n", manager)
	b.WriteString("Run this in a new terminal:\n\n")
	fmt.Fprintf(&b, "```%s\n%s\n```\n\n", lang, ActivationLine(goos, manager, name))
	if manager == "conda" {
		b.WriteString("Leave it again with `conda deactivate`.\n")
	} else {
		b.WriteString("Leave it again with `deactivate`.\n")
	}
	return b.String()
}

// ShellCommand opens an interactive shell with the environment activated:
// `cmd.exe /K` on Windows, bash elsewhere.
func ShellCommand(manager, name, workDir string) tactile.Command {
	return shellCommandFor(runtime.GOOS, manager, name, workDir)
}

func shellCommandFor(goos, manager, name, workDir string) tactile.Command {
	line := ActivationLine(goos, manager, name)
	if goos == "windows" {
		check := "where python && python --version"
		if manager == "conda" {
			check = "conda info --envs"
		}
		return tactile.Command{
			Binary:           "cmd.exe",
			Arguments:        []string{"/K", line + " && " + check},
			WorkingDirectory: workDir,
		}
	}
	if manager == "conda" {
		// conda activate needs the shell hook in a non-login shell
		line = `eval "$(conda shell.bash hook)" && ` + line
	}
	return tactile.Command{
		Binary:           "bash",
		Arguments:        []string{"-c", line + " && python --version && exec bash -i"},
		WorkingDirectory: workDir,
	}
}

// cmdSpecial are the characters that end or alter a cmd.exe argument.
const cmdSpecial = " \t&()[]{}^=;!'+,`~%<>|"

func shellQuote(goos, s string) string {
	if goos == "windows" {
		// '"' cannot occur in a Windows path.
		if strings.ContainsAny(s, cmdSpecial) {
			return `"` + s + `"`
		}
		return s
	}
	q, err := syntax.Quote(s, syntax.LangBash)
	if err != nil {
		return s
	}
	return q
}
