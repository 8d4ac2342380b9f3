// Package ui is the interactive terminal front end: a side menu of setup
// pages, a streaming console and a status bar, built on Bubble Tea.
package ui

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"kamisetup/internal/config"
	"kamisetup/internal/installer"
	"kamisetup/internal/logging"
	"kamisetup/internal/tactile"
)

const sidebarWidth = 30

type pane int

const (
	paneMenu pane = iota
	paneForm
)

type menuItem struct {
	title string
	desc  string
}

func (i menuItem) Title() string       { return i.title }
func (i menuItem) Description() string { return i.desc }
func (i menuItem) FilterValue() string { return i.title }

// Model is the root Bubble Tea model.
type Model struct {
	sh      *shell
	pages   []page
	active  int
	pane    pane
	menu    list.Model
	console *ConsoleModel
	spinner spinner.Model
	bar     progress.Model
	help    help.Model

	width  int
	height int
	status statusMsg

	// active run
	running       bool
	events        <-chan installer.Event
	runTitle      string
	onDone        func(*installer.Run) tea.Cmd
	stepIndex     int
	stepCount     int
	stepName      string
	progressDone  int64
	progressTotal int64

	confirm *confirmMsg
	info    *infoMsg
	infoVP  viewport.Model
}

// New builds the model. ctx bounds every command the UI starts.
func New(ctx context.Context, deps Deps) *Model {
	styles := NewStyles(ThemeByName(deps.Settings.Snapshot().Theme))
	sh := newShell(ctx, deps, styles)

	m := &Model{
		sh: sh,
		pages: []page{
			newVenvPage(sh),
			newActivatePage(sh),
			newCondaPage(sh),
			newTorchPage(sh),
			newONNXPage(sh),
			newDepsPage(sh),
			newPythonPage(sh),
			newSetupPage(sh),
			newDoctorPage(sh),
			newHistoryPage(sh),
		},
		console: NewConsoleModel(deps.Config.Console.MaxLines, styles),
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		help:    help.New(),
		infoVP:  viewport.New(60, 20),
		width:   100,
		height:  30,
	}

	items := make([]list.Item, len(m.pages))
	for i, p := range m.pages {
		items[i] = menuItem{title: p.Title(), desc: p.Description()}
	}
	m.menu = list.New(items, list.NewDefaultDelegate(), sidebarWidth, 20)
	m.menu.Title = "Kami"
	m.menu.SetShowHelp(false)
	m.menu.SetShowStatusBar(false)
	m.menu.SetFilteringEnabled(false)

	m.applyTheme(styles.Theme.Name)
	m.layout()
	return m
}

func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		tea.SetWindowTitle("Kami"),
		logf(logging.LevelInfo, "Workspace: %s", m.sh.workspace()),
		m.pages[m.active].Enter(),
	}
	if mgr, name, ok := m.sh.deps.Settings.SelectedEnv(); ok {
		cmds = append(cmds, logf(logging.LevelInfo, "Active environment: %s (%s)", name, mgr))
	}
	if m.sh.deps.Runner.DryRun() {
		cmds = append(cmds, logf(logging.LevelWarn, "Dry run: commands are printed, not executed"))
	}
	return tea.Batch(cmds...)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		return m, m.handleKey(msg)

	case statusMsg:
		m.status = msg
		return m, nil

	case logMsg:
		m.console.Append(msg.line)
		return m, nil

	case startRunMsg:
		return m, m.beginRun(msg)

	case runEventMsg:
		cmds := []tea.Cmd{m.handleEvent(msg.ev), waitForEvent(msg.events)}
		if msg.ev.Type == installer.EventRunFinished {
			cmds = append(cmds, m.broadcast(msg))
		}
		return m, tea.Batch(cmds...)

	case runClosedMsg:
		m.running = false
		m.events = nil
		return m, nil

	case confirmMsg:
		m.confirm = &msg
		return m, nil

	case infoMsg:
		m.openInfo(msg)
		return m, nil

	case launchShellMsg:
		return m, m.launchShell(msg.cmd)

	case shellExitedMsg:
		if msg.err != nil {
			return m, failure("Shell exited", msg.err)
		}
		return m, logf(logging.LevelInfo, "Back from the environment shell")

	case SettingsChangedMsg:
		m.applyTheme(msg.Data.Theme)
		cmds := []tea.Cmd{m.broadcast(msg)}
		if msg.Data.EnvName != "" {
			cmds = append(cmds, logf(logging.LevelInfo, "Settings reloaded, active environment: %s (%s)",
				msg.Data.EnvName, msg.Data.EnvManager))
		} else {
			cmds = append(cmds, logf(logging.LevelInfo, "Settings reloaded"))
		}
		return m, tea.Batch(cmds...)

	case spinner.TickMsg:
		if !m.running {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	// cursor blinks and the like belong to the focused input
	return m, tea.Batch(m.broadcast(msg), m.pages[m.active].form().Update(msg, m.sh.keys))
}

// broadcast hands a non-key message to every page.
func (m *Model) broadcast(msg tea.Msg) tea.Cmd {
	cmds := make([]tea.Cmd, 0, len(m.pages))
	for _, p := range m.pages {
		cmds = append(cmds, p.Update(msg))
	}
	return tea.Batch(cmds...)
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	keys := m.sh.keys

	if key.Matches(msg, keys.Quit) {
		if m.running {
			m.sh.deps.Runner.Cancel()
			return report(logging.LevelWarn, "Canceling %s...", m.runTitle)
		}
		return tea.Quit
	}

	if m.confirm != nil {
		c := m.confirm
		switch {
		case key.Matches(msg, keys.Yes):
			m.confirm = nil
			return c.onYes
		case key.Matches(msg, keys.No):
			m.confirm = nil
			return c.onNo
		}
		return nil
	}

	if m.info != nil {
		switch {
		case m.info.launch != nil && key.Matches(msg, keys.Launch):
			cmd := *m.info.launch
			m.info = nil
			return m.launchShell(cmd)
		case key.Matches(msg, keys.Close):
			m.info = nil
			return nil
		}
		var cmd tea.Cmd
		m.infoVP, cmd = m.infoVP.Update(msg)
		return cmd
	}

	switch {
	case key.Matches(msg, keys.Theme):
		return m.toggleTheme()
	case key.Matches(msg, keys.ClearLog):
		m.console.Clear()
		return nil
	case key.Matches(msg, keys.ScrollUp, keys.ScrollDown):
		return m.console.Update(msg)
	}

	p := m.pages[m.active]
	if m.pane == paneForm {
		if key.Matches(msg, keys.SwitchPane) {
			m.pane = paneMenu
			p.form().Blur()
			return nil
		}
		return p.Update(msg)
	}

	if key.Matches(msg, keys.Activate, keys.Right) || msg.String() == "tab" {
		m.pane = paneForm
		return p.form().FocusFirst()
	}
	prev := m.menu.Index()
	var cmd tea.Cmd
	m.menu, cmd = m.menu.Update(msg)
	if idx := m.menu.Index(); idx != prev && idx >= 0 && idx < len(m.pages) {
		m.active = idx
		return tea.Batch(cmd, m.pages[idx].Enter())
	}
	return cmd
}

func (m *Model) beginRun(msg startRunMsg) tea.Cmd {
	run, events, err := m.sh.deps.Runner.Start(m.sh.ctx, msg.title, msg.steps)
	if err != nil {
		return failure("Cannot start "+msg.title, err)
	}
	m.running = true
	m.events = events
	m.runTitle = msg.title
	m.onDone = msg.onDone
	m.stepCount = len(msg.steps)
	m.stepIndex = 0
	m.stepName = ""
	m.progressDone, m.progressTotal = 0, 0
	logging.UI("Run %s started from the UI: %s", run.ID, msg.title)

	return tea.Batch(
		logf(logging.LevelInfo, "Starting %s (%d steps)", msg.title, len(msg.steps)),
		setStatus(logging.LevelInfo, "%s...", msg.title),
		waitForEvent(events),
		m.spinner.Tick,
	)
}

func (m *Model) handleEvent(ev installer.Event) tea.Cmd {
	switch ev.Type {
	case installer.EventStepStarted:
		m.stepIndex = ev.StepIndex
		m.stepName = ev.StepName
		m.progressDone, m.progressTotal = 0, 0
		desc := ev.Step.Description
		if desc == "" {
			desc = ev.Step.Name
		}
		m.console.Log(logging.LevelInfo, "Step %d/%d: %s", ev.StepIndex+1, m.stepCount, desc)
		if !ev.Step.Command.IsZero() {
			m.console.Log(logging.LevelInfo, "$ %s", ev.Step.Command.CommandString())
		}

	case installer.EventOutput:
		m.console.Append(ev.Line)

	case installer.EventProgress:
		m.progressDone, m.progressTotal = ev.Done, ev.Total

	case installer.EventStepFinished:
		m.progressDone, m.progressTotal = 0, 0
		r := ev.Result
		switch {
		case r.Status == installer.StepSucceeded:
			m.console.Log(logging.LevelSuccess, "%s done in %s", r.Name, r.Duration.Round(time.Millisecond))
		case r.Status == installer.StepSkipped:
			m.console.Log(logging.LevelWarn, "%s skipped", r.Name)
		case r.Tolerated:
			m.console.Log(logging.LevelWarn, "%s failed, continuing: %v", r.Name, r.Err)
		default:
			m.console.Log(logging.LevelError, "%s failed: %v", r.Name, r.Err)
		}

	case installer.EventRunFinished:
		m.running = false
		run := ev.Run
		var cmd tea.Cmd
		switch {
		case run.Canceled:
			cmd = report(logging.LevelWarn, "%s canceled", run.Title)
		case run.Succeeded():
			cmd = report(logging.LevelSuccess, "%s completed in %s", run.Title, run.Duration().Round(time.Second))
		default:
			name := "a step"
			if f := run.FirstFailure(); f != nil {
				name = f.Name
			}
			cmd = report(logging.LevelError, "%s failed at %s", run.Title, name)
		}
		onDone := m.onDone
		m.onDone = nil
		if onDone != nil {
			return tea.Batch(cmd, onDone(run))
		}
		return cmd
	}
	return nil
}

func (m *Model) openInfo(msg infoMsg) {
	w := min(m.width-10, 90)
	if w < 20 {
		w = 20
	}
	out := msg.markdown
	r, err := glamour.NewTermRenderer(
		glamour.WithStylePath(m.sh.styles.Theme.Name),
		glamour.WithWordWrap(w-4),
	)
	if err == nil {
		if rendered, err := r.Render(msg.markdown); err == nil {
			out = rendered
		}
	}
	m.infoVP.Width = w
	m.infoVP.Height = max(m.height-12, 5)
	m.infoVP.SetContent(out)
	m.infoVP.GotoTop()
	m.info = &msg
}

func (m *Model) launchShell(cmd tactile.Command) tea.Cmd {
	c := exec.Command(cmd.Binary, cmd.Arguments...)
	c.Dir = cmd.WorkingDirectory
	c.Env = append(os.Environ(), cmd.Environment...)
	logging.UI("Launching shell: %s", cmd.CommandString())
	return tea.Batch(
		logf(logging.LevelInfo, "Launching: %s", cmd.CommandString()),
		tea.ExecProcess(c, func(err error) tea.Msg { return shellExitedMsg{err: err} }),
	)
}

func (m *Model) toggleTheme() tea.Cmd {
	next := "light"
	if m.sh.styles.Theme.Name == "light" {
		next = "dark"
	}
	if err := m.sh.deps.Settings.Set(config.KeyTheme, next); err != nil {
		return failure("Failed to save theme", err)
	}
	m.applyTheme(next)
	return setStatus(logging.LevelInfo, "Theme: %s", next)
}

func (m *Model) applyTheme(name string) {
	theme := ThemeByName(name)
	s := NewStyles(theme)
	m.sh.styles = s
	m.console.SetStyles(s)
	m.spinner.Style = lipgloss.NewStyle().Foreground(theme.Accent)
	m.bar = progress.New(progress.WithGradient(string(theme.Primary), string(theme.Accent)))
	m.bar.Width = max(m.width-sidebarWidth-30, 10)

	d := list.NewDefaultDelegate()
	d.Styles.SelectedTitle = d.Styles.SelectedTitle.Foreground(theme.Accent).BorderLeftForeground(theme.Accent)
	d.Styles.SelectedDesc = d.Styles.SelectedDesc.Foreground(theme.Primary).BorderLeftForeground(theme.Accent)
	d.Styles.NormalTitle = d.Styles.NormalTitle.Foreground(theme.Foreground)
	d.Styles.NormalDesc = d.Styles.NormalDesc.Foreground(theme.Muted)
	m.menu.SetDelegate(d)
	m.menu.Styles.Title = s.Header
}

func (m *Model) consoleHeight() int {
	return max(m.height/4, 5)
}

// bodyHeight is the height left for the menu and page once the header,
// console, status bar and help line are placed.
func (m *Model) bodyHeight() int {
	return max(m.height-m.consoleHeight()-7, 8)
}

func (m *Model) layout() {
	m.menu.SetSize(sidebarWidth-4, m.bodyHeight())
	m.console.SetSize(max(m.width-2, 20), m.consoleHeight())
	m.bar.Width = max(m.width-sidebarWidth-30, 10)
	m.help.Width = m.width
}

func (m *Model) View() string {
	s := m.sh.styles

	if m.confirm != nil {
		return m.overlay(s.Dialog.Render(
			s.Bold.Render(m.confirm.prompt) + "\n\n" + s.Muted.Render("[y] yes   [n] no")))
	}
	if m.info != nil {
		footer := "esc close"
		if m.info.launch != nil {
			footer = "l launch shell   " + footer
		}
		return m.overlay(s.Dialog.Render(
			s.Title.Render(m.info.title) + "\n" + m.infoVP.View() + "\n" + s.Muted.Render(footer)))
	}

	bodyH := m.bodyHeight()
	contentW := max(m.width-sidebarWidth-4, 20)
	sidebar := s.Sidebar.Width(sidebarWidth - 2).Height(bodyH).Render(m.menu.View())
	content := s.Content.Width(contentW).Height(bodyH).MaxHeight(bodyH + 2).Render(m.pages[m.active].View())
	body := lipgloss.JoinHorizontal(lipgloss.Top, sidebar, content)

	console := s.Console.Width(max(m.width-2, 20)).Render(m.console.View())

	var sections []string
	sections = append(sections, m.headerView(), body, console, m.statusView(), m.helpView())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *Model) overlay(box string) string {
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}

func (m *Model) headerView() string {
	s := m.sh.styles
	right := "no environment selected"
	if mgr, name, ok := m.sh.deps.Settings.SelectedEnv(); ok {
		right = fmt.Sprintf("%s (%s)", name, mgr)
	}
	if m.sh.deps.Runner.DryRun() {
		right += " · dry run"
	}
	left := s.Header.Render("Kami · AI environment setup")
	gap := max(m.width-lipgloss.Width(left)-lipgloss.Width(right)-1, 1)
	return left + strings.Repeat(" ", gap) + s.Muted.Render(right)
}

func (m *Model) statusView() string {
	s := m.sh.styles
	if m.running {
		line := fmt.Sprintf("%s %s · step %d/%d %s", m.spinner.View(), m.runTitle, m.stepIndex+1, m.stepCount, m.stepName)
		if m.progressTotal > 0 {
			line += "  " + m.bar.ViewAs(float64(m.progressDone)/float64(m.progressTotal))
		}
		return s.StatusBar.Width(m.width).Render(line)
	}
	text := m.status.text
	if text == "" {
		text = "Ready"
	}
	return s.StatusBar.Width(m.width).Render(s.Level(m.status.level).Render(text))
}

func (m *Model) helpView() string {
	if m.pane == paneForm {
		return m.help.ShortHelpView(m.sh.keys.formHelp())
	}
	return m.help.ShortHelpView(m.sh.keys.menuHelp())
}

// Run starts the terminal UI and blocks until it exits. Settings changes on
// disk are pushed into the program while it runs.
func Run(ctx context.Context, deps Deps) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := New(ctx, deps)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		err := config.WatchSettings(ctx, deps.Settings, func(d config.SettingsData) {
			p.Send(SettingsChangedMsg{Data: d})
		})
		if err != nil {
			logging.ConfigWarn("Settings watcher stopped: %v", err)
		}
	}()

	logging.UI("Starting terminal UI")
	_, err := p.Run()

	if deps.Runner.Cancel() {
		logging.InstallWarn("Canceling the active run on exit")
	}
	if m.events != nil {
		// the runner blocks on undelivered events
		for range m.events {
		}
	}
	deps.Runner.Wait()
	cancel()
	<-watchDone
	return err
}
