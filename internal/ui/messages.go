package ui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"kamisetup/internal/config"
	"kamisetup/internal/gpu"
	"kamisetup/internal/history"
	"kamisetup/internal/installer"
	"kamisetup/internal/logging"
	"kamisetup/internal/probe"
	"kamisetup/internal/tactile"
)

// statusMsg replaces the status bar text.
type statusMsg struct {
	level logging.Level
	text  string
}

// logMsg appends a line to the console.
type logMsg struct {
	line logging.ConsoleLine
}

// startRunMsg asks the model to run steps. onDone is called with the
// finished run and may return a follow-up command.
type startRunMsg struct {
	title  string
	steps  []installer.Step
	onDone func(*installer.Run) tea.Cmd
}

// runEventMsg carries one runner event plus the channel to keep reading.
type runEventMsg struct {
	ev     installer.Event
	events <-chan installer.Event
}

type runClosedMsg struct{}

// confirmMsg opens a yes/no dialog.
type confirmMsg struct {
	prompt string
	onYes  tea.Cmd
	onNo   tea.Cmd
}

// infoMsg opens the markdown overlay. launch, when set, can be started
// from the overlay as an interactive shell.
type infoMsg struct {
	title    string
	markdown string
	launch   *tactile.Command
}

type launchShellMsg struct {
	cmd tactile.Command
}

type shellExitedMsg struct {
	err error
}

// SettingsChangedMsg is sent when settings.json changes on disk.
type SettingsChangedMsg struct {
	Data config.SettingsData
}

type venvsMsg struct {
	names []string
	err   error
}

type condaEnvsMsg struct {
	version string
	names   []string
	err     error
}

// pythonCheckMsg answers checkPython. purpose routes the answer back to the
// action that asked.
type pythonCheckMsg struct {
	purpose string
	version string
	full    string
	err     error
}

type resolvedMsg struct {
	purpose    string
	majorMinor string
	full       string
}

type gpuMsg struct {
	purpose string
	report  *gpu.Report
	err     error
}

type doctorMsg struct {
	report *probe.Report
	err    error
}

type historyMsg struct {
	runs []history.RunRecord
	err  error
}

type historyStepsMsg struct {
	runID string
	steps []history.StepRecord
	err   error
}

func setStatus(level logging.Level, format string, args ...interface{}) tea.Cmd {
	text := fmt.Sprintf(format, args...)
	return func() tea.Msg { return statusMsg{level: level, text: text} }
}

func logf(level logging.Level, format string, args ...interface{}) tea.Cmd {
	line := logging.NewConsoleLine(level, format, args...)
	return func() tea.Msg { return logMsg{line: line} }
}

// report logs a message and mirrors it in the status bar.
func report(level logging.Level, format string, args ...interface{}) tea.Cmd {
	return tea.Batch(logf(level, format, args...), setStatus(level, format, args...))
}

func startRun(title string, steps []installer.Step, onDone func(*installer.Run) tea.Cmd) tea.Cmd {
	return func() tea.Msg { return startRunMsg{title: title, steps: steps, onDone: onDone} }
}

func confirm(prompt string, onYes, onNo tea.Cmd) tea.Cmd {
	return func() tea.Msg { return confirmMsg{prompt: prompt, onYes: onYes, onNo: onNo} }
}

func showInfo(title, markdown string, launch *tactile.Command) tea.Cmd {
	return func() tea.Msg { return infoMsg{title: title, markdown: markdown, launch: launch} }
}

// waitForEvent reads the next runner event off the channel.
func waitForEvent(events <-chan installer.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return runClosedMsg{}
		}
		return runEventMsg{ev: ev, events: events}
	}
}
