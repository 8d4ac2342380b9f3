package ui

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kamisetup/internal/conda"
	"kamisetup/internal/config"
	"kamisetup/internal/history"
	"kamisetup/internal/installer"
	"kamisetup/internal/logging"
	"kamisetup/internal/pyrelease"
	"kamisetup/internal/tactile"
)

// nopExecutor fails every command; the UI tests never need real output.
type nopExecutor struct{}

func (nopExecutor) Execute(ctx context.Context, cmd tactile.Command) (*tactile.ExecutionResult, error) {
	return nopExecutor{}.Stream(ctx, cmd, nil)
}

func (nopExecutor) Stream(_ context.Context, _ tactile.Command, _ func(tactile.Line)) (*tactile.ExecutionResult, error) {
	return &tactile.ExecutionResult{ExitCode: 1, Success: true}, nil
}

func (nopExecutor) Capabilities() tactile.ExecutorCapabilities { return tactile.ExecutorCapabilities{} }
func (nopExecutor) Validate(tactile.Command) error              { return nil }

func testDeps(t *testing.T) Deps {
	t.Helper()
	ws := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Workspace = ws
	settings, err := config.LoadSettings(filepath.Join(ws, "settings.json"))
	require.NoError(t, err)
	exec := nopExecutor{}
	return Deps{
		Config:   cfg,
		Settings: settings,
		Executor: exec,
		Runner:   installer.NewRunner(exec, installer.WithDryRun(true)),
		Conda:    conda.New(exec),
		Releases: pyrelease.NewClient("", nil),
	}
}

// collect runs cmd and any batched children, returning every message.
func collect(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, collect(c)...)
		}
		return out
	}
	return []tea.Msg{msg}
}

func keyRune(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestConsoleCapsLines(t *testing.T) {
	c := NewConsoleModel(3, NewStyles(DarkTheme()))
	for i := 0; i < 5; i++ {
		c.Log(logging.LevelInfo, "line %d", i)
	}
	lines := c.Lines()
	require.Len(t, lines, 3)
	assert.Equal(t, "line 2", lines[0].Message)
	assert.Equal(t, "line 4", lines[2].Message)
	assert.Contains(t, c.View(), "line 4")

	c.Clear()
	assert.Empty(t, c.Lines())
}

func TestConsoleDefaultCap(t *testing.T) {
	c := NewConsoleModel(0, NewStyles(DarkTheme()))
	for i := 0; i < 250; i++ {
		c.Log(logging.LevelInfo, "x")
	}
	assert.Len(t, c.Lines(), 200)
}

func TestThemeByName(t *testing.T) {
	assert.Equal(t, "light", ThemeByName("light").Name)
	assert.Equal(t, "dark", ThemeByName("dark").Name)
	assert.Equal(t, "dark", ThemeByName("").Name)
}

func TestFormSkipsHiddenFields(t *testing.T) {
	keys := defaultKeyMap()
	name := newTextField("Name", "", "")
	hidden := newChoiceField("Hidden", []string{"a", "b"}, "a")
	hidden.hidden = true
	button := &buttonField{label: "Go"}
	f := newForm(name, hidden, button)
	f.FocusFirst()

	assert.Same(t, field(name), f.focused())
	f.Update(tea.KeyMsg{Type: tea.KeyTab}, keys)
	assert.Same(t, field(button), f.focused())
	f.Update(tea.KeyMsg{Type: tea.KeyTab}, keys)
	assert.Same(t, field(name), f.focused())
	f.Update(tea.KeyMsg{Type: tea.KeyShiftTab}, keys)
	assert.Same(t, field(button), f.focused())
}

func TestFormEnsureLeavesHiddenField(t *testing.T) {
	a := newChoiceField("A", []string{"x"}, "x")
	b := newChoiceField("B", []string{"y"}, "y")
	f := newForm(a, b)
	f.focus = 1
	b.hidden = true
	f.Ensure()
	assert.Equal(t, 0, f.focus)
}

func TestChoiceFieldCycles(t *testing.T) {
	keys := defaultKeyMap()
	var changed []string
	c := newChoiceField("Device", []string{"cpu", "cuda"}, "cuda")
	c.onChange = func(v string) tea.Cmd {
		changed = append(changed, v)
		return nil
	}
	assert.Equal(t, "cuda", c.Value())

	c.Update(tea.KeyMsg{Type: tea.KeyRight}, keys)
	assert.Equal(t, "cpu", c.Value())
	c.Update(tea.KeyMsg{Type: tea.KeyLeft}, keys)
	assert.Equal(t, "cuda", c.Value())
	assert.Equal(t, []string{"cpu", "cuda"}, changed)

	c.SetOptions([]string{"rocm", "cuda"})
	assert.Equal(t, "cuda", c.Value())
	c.SetOptions(nil)
	assert.Equal(t, "", c.Value())
}

func TestToggleAndButton(t *testing.T) {
	keys := defaultKeyMap()
	tg := &toggleField{label: "GPU"}
	tg.Update(tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}, keys)
	assert.True(t, tg.on)

	pressed := false
	b := &buttonField{label: "Go", action: func() tea.Cmd {
		pressed = true
		return nil
	}}
	b.Update(tea.KeyMsg{Type: tea.KeyEnter}, keys)
	assert.True(t, pressed)
}

func TestTableView(t *testing.T) {
	s := NewStyles(DarkTheme())
	tbl := newTable("Checks", "Name", "Status")
	assert.Contains(t, tbl.View(s), "nothing yet")

	tbl.addRow("conda", "ok")
	tbl.addRow("python 3.11", "fail")
	view := tbl.View(s)
	for _, want := range []string{"Checks", "Name", "conda", "python 3.11", "fail"} {
		assert.Contains(t, view, want)
	}
}

func TestModelQuitsWhenIdle(t *testing.T) {
	m := New(context.Background(), testDeps(t))
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestModelConfirmDialog(t *testing.T) {
	m := New(context.Background(), testDeps(t))
	yes := func() tea.Msg { return "yes" }
	no := func() tea.Msg { return "no" }

	m.Update(confirmMsg{prompt: "Install it first?", onYes: yes, onNo: no})
	assert.Contains(t, m.View(), "Install it first?")

	_, cmd := m.Update(keyRune('y'))
	require.NotNil(t, cmd)
	assert.Equal(t, "yes", cmd())
	assert.Nil(t, m.confirm)

	m.Update(confirmMsg{prompt: "again", onYes: yes, onNo: no})
	_, cmd = m.Update(keyRune('n'))
	require.NotNil(t, cmd)
	assert.Equal(t, "no", cmd())
}

func TestModelViewListsPages(t *testing.T) {
	m := New(context.Background(), testDeps(t))
	m.Update(tea.WindowSizeMsg{Width: 160, Height: 80})
	view := m.View()
	for _, title := range []string{"Create venv", "Conda manager", "History"} {
		assert.Contains(t, view, title)
	}
	assert.Contains(t, view, "dry run")
}

func TestModelThemeToggle(t *testing.T) {
	deps := testDeps(t)
	m := New(context.Background(), deps)
	assert.Equal(t, "dark", m.sh.styles.Theme.Name)

	m.Update(tea.KeyMsg{Type: tea.KeyCtrlT})
	assert.Equal(t, "light", m.sh.styles.Theme.Name)
	assert.Equal(t, "light", deps.Settings.Snapshot().Theme)
}

func TestModelDryRunPipeline(t *testing.T) {
	m := New(context.Background(), testDeps(t))
	var finished *installer.Run
	steps := []installer.Step{{
		Name:    "say-hi",
		Command: tactile.Command{Binary: "echo", Arguments: []string{"hi"}},
	}}

	m.Update(startRunMsg{title: "Greeting", steps: steps, onDone: func(run *installer.Run) tea.Cmd {
		finished = run
		return nil
	}})
	require.True(t, m.running)
	require.NotNil(t, m.events)

	for ev := range m.events {
		m.Update(runEventMsg{ev: ev})
	}
	m.sh.deps.Runner.Wait()

	assert.False(t, m.running)
	require.NotNil(t, finished)
	assert.True(t, finished.Succeeded())
	assert.True(t, finished.DryRun)

	var out []string
	for _, l := range m.console.Lines() {
		out = append(out, l.Message)
	}
	joined := strings.Join(out, "\n")
	assert.Contains(t, joined, "[dry-run] echo hi")
	assert.Contains(t, joined, "say-hi done")
}

func TestModelRefusesSecondRun(t *testing.T) {
	deps := testDeps(t)
	// unbuffered so the first run stays active until drained
	deps.Runner = installer.NewRunner(deps.Executor, installer.WithDryRun(true), installer.WithEventBuffer(0))
	m := New(context.Background(), deps)
	steps := []installer.Step{{Name: "a", Command: tactile.Command{Binary: "echo"}}}
	m.Update(startRunMsg{title: "first", steps: steps})
	events := m.events

	_, cmd := m.Update(startRunMsg{title: "second", steps: steps})
	var texts []string
	for _, msg := range collect(cmd) {
		if s, ok := msg.(statusMsg); ok {
			texts = append(texts, s.text)
		}
	}
	assert.Contains(t, strings.Join(texts, "\n"), "already running")

	for range events {
	}
	m.sh.deps.Runner.Wait()
}

func TestVenvPageAsksToInstallMissingPython(t *testing.T) {
	m := New(context.Background(), testDeps(t))
	p := newVenvPage(m.sh)
	p.pending = "myenv"

	cmd := p.Update(pythonCheckMsg{purpose: purposeVenvCreate, version: "3.11", err: errors.New("not found")})
	var dialog *confirmMsg
	for _, msg := range collect(cmd) {
		if c, ok := msg.(confirmMsg); ok {
			dialog = &c
		}
	}
	require.NotNil(t, dialog)
	assert.Contains(t, dialog.prompt, "Python 3.11 is not installed")
	assert.NotNil(t, dialog.onYes)
}

func TestVenvPageIgnoresOtherPurposes(t *testing.T) {
	m := New(context.Background(), testDeps(t))
	p := newVenvPage(m.sh)
	assert.Nil(t, p.Update(pythonCheckMsg{purpose: purposeSetupCheck, version: "3.11"}))
}

func TestVenvPageRejectsUnresolvedPythonVersion(t *testing.T) {
	m := New(context.Background(), testDeps(t))
	p := newVenvPage(m.sh)
	p.pending = "myenv"

	var status string
	for _, msg := range collect(p.Update(resolvedMsg{purpose: purposeVenvInstall, majorMinor: "3.11", full: "3.11"})) {
		switch msg := msg.(type) {
		case startRunMsg:
			t.Fatalf("started %q with an unresolved version", msg.title)
		case statusMsg:
			status = msg.text
		}
	}
	assert.Contains(t, status, "could not resolve a full Python version")
}

func TestSetupPagePlanIsCachedBetweenRenders(t *testing.T) {
	deps := testDeps(t)
	m := New(context.Background(), deps)
	p := newSetupPage(m.sh)
	require.NoError(t, p.planErr)
	require.NotEmpty(t, p.plan)
	assert.Contains(t, p.plan[0].Description, "environment myenv (")

	require.NoError(t, os.Mkdir(filepath.Join(deps.Config.Workspace, "myenv"), 0o755))
	p.View()
	assert.Contains(t, p.plan[0].Description, "environment myenv (", "rendering must not rebuild the plan")

	p.Update(keyRune('x'))
	assert.Contains(t, p.plan[0].Description, "environment myenv_1 (")
}

func TestTorchPagePreview(t *testing.T) {
	deps := testDeps(t)
	m := New(context.Background(), deps)
	p := newTorchPage(m.sh)

	_, err := p.preview()
	assert.ErrorIs(t, err, errNoEnv)

	require.NoError(t, deps.Settings.SelectEnv(config.ManagerVenv, "myenv"))
	cmd, err := p.preview()
	require.NoError(t, err)
	assert.Contains(t, cmd, "torch")
	assert.Contains(t, cmd, "/cpu")

	p.dev.device.Select("cuda")
	p.dev.sync()
	p.dev.cuda.Select("12.1")
	cmd, err = p.preview()
	require.NoError(t, err)
	assert.Contains(t, cmd, "/cu121")
}

func TestDeviceFieldsHideCUDAForCPU(t *testing.T) {
	var f *form
	d := newDeviceFields([]string{"11.8", "12.1"}, func() *form { return f })
	f = newForm(d.device, d.cuda)
	assert.True(t, d.cuda.Hidden())
	assert.Equal(t, "12.1", d.cuda.Value())

	d.device.Update(tea.KeyMsg{Type: tea.KeyRight}, defaultKeyMap())
	assert.Equal(t, "cuda", string(d.Device()))
	assert.False(t, d.cuda.Hidden())
}

func TestRunResult(t *testing.T) {
	assert.Equal(t, "ok", runResult(historyRecord(true, false, false)))
	assert.Equal(t, "failed", runResult(historyRecord(false, false, false)))
	assert.Equal(t, "canceled", runResult(historyRecord(false, true, false)))
	assert.Equal(t, "dry-run", runResult(historyRecord(true, false, true)))
	assert.Equal(t, "12345678", shortID("12345678-aaaa"))
}

func historyRecord(ok, canceled, dryRun bool) history.RunRecord {
	return history.RunRecord{ID: "run", OK: ok, Canceled: canceled, DryRun: dryRun}
}
