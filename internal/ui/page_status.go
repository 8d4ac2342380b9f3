package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"kamisetup/internal/history"
	"kamisetup/internal/installer"
	"kamisetup/internal/logging"
	"kamisetup/internal/probe"
)

// doctorPage shows the system checks.
type doctorPage struct {
	sh      *shell
	f       *form
	running bool
	report  *probe.Report
	err     error
}

func newDoctorPage(sh *shell) *doctorPage {
	p := &doctorPage{sh: sh}
	p.f = newForm(&buttonField{label: "Run checks", action: p.run})
	return p
}

func (p *doctorPage) Title() string       { return "System doctor" }
func (p *doctorPage) Description() string { return "Python, conda, pip, GPU" }
func (p *doctorPage) form() *form         { return p.f }

func (p *doctorPage) Enter() tea.Cmd {
	if p.report != nil || p.running {
		return nil
	}
	return p.run()
}

func (p *doctorPage) run() tea.Cmd {
	if p.running {
		return nil
	}
	p.running = true
	return tea.Batch(setStatus(logging.LevelInfo, "Running system checks..."), p.sh.runDoctor())
}

func (p *doctorPage) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case doctorMsg:
		p.running = false
		p.report, p.err = msg.report, msg.err
		if msg.err != nil {
			return failure("System checks failed", msg.err)
		}
		if msg.report.OK() {
			return report(logging.LevelSuccess, "All %d checks passed in %s", len(msg.report.Checks), msg.report.Duration.Round(time.Millisecond))
		}
		var failed []string
		for _, c := range msg.report.Checks {
			if !c.OK {
				failed = append(failed, c.Name)
			}
		}
		return report(logging.LevelWarn, "Failed checks: %s", strings.Join(failed, ", "))
	case tea.KeyMsg:
		return p.f.Update(msg, p.sh.keys)
	}
	return nil
}

func (p *doctorPage) View() string {
	s := p.sh.styles
	var body string
	switch {
	case p.running:
		body = s.Muted.Render("Checking...")
	case p.err != nil:
		body = s.Error.Render(p.err.Error())
	case p.report != nil:
		t := newTable("", "Check", "Status", "Detail")
		t.styleCell = func(col int, cell string) lipgloss.Style {
			if col != 1 {
				return s.Body
			}
			if cell == "ok" {
				return s.Success
			}
			return s.Error
		}
		var hints []string
		for _, c := range p.report.Checks {
			status := "ok"
			if !c.OK {
				status = "fail"
				if c.Hint != "" {
					hints = append(hints, fmt.Sprintf("%s: %s", c.Name, c.Hint))
				}
			}
			t.addRow(c.Name, status, c.Detail)
		}
		body = t.View(s)
		if p.report.SuggestedCUDA != "" {
			body += "\n\n" + s.Label.Render("Suggested PyTorch build: ") + s.Body.Render("CUDA "+p.report.SuggestedCUDA)
		}
		if len(hints) > 0 {
			body += "\n\n" + s.Muted.Render(strings.Join(hints, "\n"))
		}
	}
	return joinSections(s.Title.Render("System doctor"), p.f.View(s), body)
}

const historyLimit = 20

// historyPage lists recorded runs and the steps of the chosen one.
type historyPage struct {
	sh    *shell
	f     *form
	pick  *choiceField
	runs  []history.RunRecord
	steps []history.StepRecord
	err   error
}

func newHistoryPage(sh *shell) *historyPage {
	p := &historyPage{sh: sh}
	p.pick = newChoiceField("Run", nil, "")
	p.pick.onChange = func(string) tea.Cmd { return p.loadSteps() }
	p.f = newForm(p.pick, &buttonField{label: "Refresh", action: p.refresh})
	return p
}

func (p *historyPage) Title() string       { return "History" }
func (p *historyPage) Description() string { return "Past installation runs" }
func (p *historyPage) form() *form         { return p.f }
func (p *historyPage) Enter() tea.Cmd      { return p.refresh() }

func (p *historyPage) refresh() tea.Cmd {
	return p.sh.loadHistory(historyLimit)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (p *historyPage) selectedRun() (history.RunRecord, bool) {
	short := p.pick.Value()
	for _, r := range p.runs {
		if shortID(r.ID) == short {
			return r, true
		}
	}
	return history.RunRecord{}, false
}

func (p *historyPage) loadSteps() tea.Cmd {
	r, ok := p.selectedRun()
	if !ok {
		p.steps = nil
		return nil
	}
	return p.sh.loadHistorySteps(r.ID)
}

func (p *historyPage) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case historyMsg:
		p.runs, p.err = msg.runs, msg.err
		ids := make([]string, len(msg.runs))
		for i, r := range msg.runs {
			ids[i] = shortID(r.ID)
		}
		p.pick.SetOptions(ids)
		if msg.err != nil {
			return failure("Failed to load history", msg.err)
		}
		return p.loadSteps()
	case historyStepsMsg:
		if r, ok := p.selectedRun(); ok && r.ID == msg.runID {
			p.steps = msg.steps
		}
	case runEventMsg:
		// a finished run has just been recorded
		if msg.ev.Type == installer.EventRunFinished {
			return p.refresh()
		}
	case tea.KeyMsg:
		return p.f.Update(msg, p.sh.keys)
	}
	return nil
}

func runResult(r history.RunRecord) string {
	switch {
	case r.Canceled:
		return "canceled"
	case r.DryRun && r.OK:
		return "dry-run"
	case r.OK:
		return "ok"
	default:
		return "failed"
	}
}

func (p *historyPage) View() string {
	s := p.sh.styles
	if p.sh.deps.History == nil {
		return joinSections(s.Title.Render("History"), s.Muted.Render("Run history is disabled in the configuration."))
	}
	if p.err != nil {
		return joinSections(s.Title.Render("History"), s.Error.Render(p.err.Error()))
	}

	resultStyle := func(col int, cell string) lipgloss.Style {
		switch {
		case cell == "ok" || cell == "succeeded":
			return s.Success
		case cell == "failed":
			return s.Error
		case cell == "canceled" || cell == "skipped":
			return s.Warning
		}
		return s.Body
	}

	runs := newTable("Recent runs", "Run", "Started", "Title", "Result", "Duration")
	runs.styleCell = resultStyle
	for _, r := range p.runs {
		runs.addRow(shortID(r.ID), r.StartedAt.Local().Format("2006-01-02 15:04"), r.Title, runResult(r),
			r.Duration().Round(time.Second).String())
	}

	steps := newTable("Steps", "#", "Step", "Status", "Exit", "Duration", "Error")
	steps.styleCell = resultStyle
	for _, st := range p.steps {
		steps.addRow(fmt.Sprint(st.Index+1), st.Name, st.Status, fmt.Sprint(st.ExitCode),
			st.Duration.Round(time.Millisecond).String(), st.Error)
	}
	return joinSections(s.Title.Render("History"), p.f.View(s), runs.View(s), steps.View(s))
}
