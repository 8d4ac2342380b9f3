package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// table renders rows of text as aligned columns. Used by the doctor and
// history pages.
type table struct {
	title   string
	headers []string
	rows    [][]string
	// styleCell may restyle a cell, e.g. to color a status column.
	styleCell func(col int, cell string) lipgloss.Style
}

func newTable(title string, headers ...string) *table {
	return &table{title: title, headers: headers}
}

func (t *table) addRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) widths() []int {
	w := make([]int, len(t.headers))
	for i, h := range t.headers {
		w[i] = lipgloss.Width(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(w) && lipgloss.Width(cell) > w[i] {
				w[i] = lipgloss.Width(cell)
			}
		}
	}
	return w
}

func (t *table) View(s Styles) string {
	var sb strings.Builder
	if t.title != "" {
		sb.WriteString(s.Title.Render(t.title))
		sb.WriteString("\n")
	}
	if len(t.rows) == 0 {
		sb.WriteString(s.Muted.Render("(nothing yet)"))
		return sb.String()
	}

	widths := t.widths()
	sep := s.Muted.Render(" │ ")
	head := make([]string, len(t.headers))
	for i, h := range t.headers {
		head[i] = s.Bold.Width(widths[i]).Render(h)
	}
	sb.WriteString(strings.Join(head, sep))
	sb.WriteString("\n")

	total := len(widths)*3 - 3
	for _, w := range widths {
		total += w
	}
	sb.WriteString(s.Muted.Render(strings.Repeat("─", total)))

	for _, row := range t.rows {
		cells := make([]string, len(widths))
		for i := range widths {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			style := s.Body
			if t.styleCell != nil {
				style = t.styleCell(i, cell)
			}
			cells[i] = style.Width(widths[i]).Render(cell)
		}
		sb.WriteString("\n")
		sb.WriteString(strings.Join(cells, sep))
	}
	return sb.String()
}
