package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"kamisetup/internal/logging"
)

// ConsoleModel is the scrolling output pane. It keeps at most maxLines lines.
type ConsoleModel struct {
	viewport viewport.Model
	lines    []logging.ConsoleLine
	maxLines int
	styles   Styles
}

// NewConsoleModel creates a console capped at maxLines.
func NewConsoleModel(maxLines int, styles Styles) *ConsoleModel {
	if maxLines <= 0 {
		maxLines = 200
	}
	return &ConsoleModel{
		viewport: viewport.New(80, 8),
		maxLines: maxLines,
		styles:   styles,
	}
}

// SetSize updates the size of the viewport.
func (c *ConsoleModel) SetSize(w, h int) {
	c.viewport.Width = w
	c.viewport.Height = h
	c.refresh(true)
}

// SetStyles switches the theme.
func (c *ConsoleModel) SetStyles(s Styles) {
	c.styles = s
	c.refresh(false)
}

// Append adds a line, dropping the oldest beyond the cap. The view follows
// new output unless the user scrolled up.
func (c *ConsoleModel) Append(line logging.ConsoleLine) {
	follow := c.viewport.AtBottom() || len(c.lines) == 0
	c.lines = append(c.lines, line)
	if over := len(c.lines) - c.maxLines; over > 0 {
		c.lines = append(c.lines[:0], c.lines[over:]...)
	}
	c.refresh(follow)
}

// Log appends a formatted line stamped now.
func (c *ConsoleModel) Log(level logging.Level, format string, args ...interface{}) {
	c.Append(logging.NewConsoleLine(level, format, args...))
}

// Lines returns the retained lines.
func (c *ConsoleModel) Lines() []logging.ConsoleLine {
	return c.lines
}

// Clear drops all lines.
func (c *ConsoleModel) Clear() {
	c.lines = nil
	c.refresh(true)
}

func (c *ConsoleModel) refresh(follow bool) {
	var sb strings.Builder
	for i, l := range c.lines {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(c.styles.Muted.Render("[" + l.Time.Format("15:04:05") + "]"))
		sb.WriteByte(' ')
		sb.WriteString(c.styles.Level(l.Level).Render("[" + string(l.Level) + "]"))
		sb.WriteByte(' ')
		sb.WriteString(l.Message)
	}
	c.viewport.SetContent(sb.String())
	if follow {
		c.viewport.GotoBottom()
	}
}

// Update handles scrolling.
func (c *ConsoleModel) Update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	c.viewport, cmd = c.viewport.Update(msg)
	return cmd
}

// View renders the console.
func (c *ConsoleModel) View() string {
	return c.viewport.View()
}
