package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// field is one focusable row of a page form.
type field interface {
	Focus() tea.Cmd
	Blur()
	Hidden() bool
	Update(msg tea.Msg, keys keyMap) tea.Cmd
	View(s Styles, focused bool) string
}

type textField struct {
	label  string
	input  textinput.Model
	hidden bool
}

func newTextField(label, placeholder, value string) *textField {
	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.SetValue(value)
	ti.CharLimit = 128
	ti.Width = 32
	ti.Prompt = "> "
	return &textField{label: label, input: ti}
}

func (f *textField) Value() string   { return strings.TrimSpace(f.input.Value()) }
func (f *textField) SetValue(v string) { f.input.SetValue(v) }
func (f *textField) Focus() tea.Cmd    { return f.input.Focus() }
func (f *textField) Blur()             { f.input.Blur() }
func (f *textField) Hidden() bool      { return f.hidden }

func (f *textField) Update(msg tea.Msg, _ keyMap) tea.Cmd {
	var cmd tea.Cmd
	f.input, cmd = f.input.Update(msg)
	return cmd
}

func (f *textField) View(s Styles, focused bool) string {
	label := s.Label.Render(f.label + ":")
	if focused {
		label = s.Focused.Render(f.label + ":")
	}
	return label + "\n" + f.input.View()
}

type choiceField struct {
	label    string
	options  []string
	index    int
	hidden   bool
	onChange func(string) tea.Cmd
}

func newChoiceField(label string, options []string, selected string) *choiceField {
	f := &choiceField{label: label, options: options}
	f.Select(selected)
	return f
}

func (f *choiceField) Value() string {
	if len(f.options) == 0 {
		return ""
	}
	return f.options[f.index]
}

// Select picks value when it is one of the options.
func (f *choiceField) Select(value string) {
	for i, o := range f.options {
		if o == value {
			f.index = i
			return
		}
	}
}

// SetOptions replaces the options, keeping the selection when possible.
func (f *choiceField) SetOptions(options []string) {
	current := f.Value()
	f.options = options
	f.index = 0
	f.Select(current)
}

func (f *choiceField) Focus() tea.Cmd { return nil }
func (f *choiceField) Blur()          {}
func (f *choiceField) Hidden() bool   { return f.hidden }

func (f *choiceField) Update(msg tea.Msg, keys keyMap) tea.Cmd {
	km, ok := msg.(tea.KeyMsg)
	if !ok || len(f.options) == 0 {
		return nil
	}
	switch {
	case key.Matches(km, keys.Left):
		f.index = (f.index - 1 + len(f.options)) % len(f.options)
	case key.Matches(km, keys.Right), key.Matches(km, keys.Toggle), key.Matches(km, keys.Activate):
		f.index = (f.index + 1) % len(f.options)
	default:
		return nil
	}
	if f.onChange != nil {
		return f.onChange(f.Value())
	}
	return nil
}

func (f *choiceField) View(s Styles, focused bool) string {
	label := s.Label.Render(f.label + ":")
	if focused {
		label = s.Focused.Render(f.label + ":")
	}
	if len(f.options) == 0 {
		return label + "\n  " + s.Muted.Render("(none)")
	}
	parts := make([]string, len(f.options))
	for i, o := range f.options {
		if i == f.index {
			parts[i] = s.Focused.Render("(•) " + o)
		} else {
			parts[i] = s.Muted.Render("( ) " + o)
		}
	}
	return label + "\n  " + strings.Join(parts, "  ")
}

type toggleField struct {
	label    string
	on       bool
	hidden   bool
	onChange func(bool) tea.Cmd
}

func (f *toggleField) Focus() tea.Cmd { return nil }
func (f *toggleField) Blur()          {}
func (f *toggleField) Hidden() bool   { return f.hidden }

func (f *toggleField) Update(msg tea.Msg, keys keyMap) tea.Cmd {
	km, ok := msg.(tea.KeyMsg)
	if !ok || !(key.Matches(km, keys.Toggle) || key.Matches(km, keys.Activate)) {
		return nil
	}
	f.on = !f.on
	if f.onChange != nil {
		return f.onChange(f.on)
	}
	return nil
}

func (f *toggleField) View(s Styles, focused bool) string {
	box := "[ ]"
	if f.on {
		box = "[x]"
	}
	line := fmt.Sprintf("%s %s", box, f.label)
	if focused {
		return s.Focused.Render(line)
	}
	return s.Body.Render(line)
}

type buttonField struct {
	label  string
	hidden bool
	action func() tea.Cmd
}

func (f *buttonField) Focus() tea.Cmd { return nil }
func (f *buttonField) Blur()          {}
func (f *buttonField) Hidden() bool   { return f.hidden }

func (f *buttonField) Update(msg tea.Msg, keys keyMap) tea.Cmd {
	km, ok := msg.(tea.KeyMsg)
	if !ok || !key.Matches(km, keys.Activate) || f.action == nil {
		return nil
	}
	return f.action()
}

func (f *buttonField) View(s Styles, focused bool) string {
	if focused {
		return s.ButtonHot.Render(f.label)
	}
	return s.Button.Render(f.label)
}

// form moves focus between fields and routes keys to the focused one.
type form struct {
	fields []field
	focus  int
	// active is set while the page has keyboard focus.
	active bool
}

func newForm(fields ...field) *form {
	f := &form{fields: fields}
	f.focus = f.nextVisible(-1, 1)
	return f
}

func (f *form) focused() field {
	if f.focus < 0 || f.focus >= len(f.fields) {
		return nil
	}
	return f.fields[f.focus]
}

func (f *form) nextVisible(from, dir int) int {
	n := len(f.fields)
	for step := 1; step <= n; step++ {
		i := ((from+dir*step)%n + n) % n
		if !f.fields[i].Hidden() {
			return i
		}
	}
	return -1
}

func (f *form) move(dir int) tea.Cmd {
	if cur := f.focused(); cur != nil {
		cur.Blur()
	}
	f.focus = f.nextVisible(f.focus, dir)
	if cur := f.focused(); cur != nil {
		return cur.Focus()
	}
	return nil
}

// FocusFirst focuses the first visible field.
func (f *form) FocusFirst() tea.Cmd {
	f.active = true
	if cur := f.focused(); cur != nil {
		cur.Blur()
	}
	f.focus = f.nextVisible(-1, 1)
	if cur := f.focused(); cur != nil {
		return cur.Focus()
	}
	return nil
}

// Blur removes focus from the current field.
func (f *form) Blur() {
	f.active = false
	if cur := f.focused(); cur != nil {
		cur.Blur()
	}
}

// Ensure moves focus off a field that became hidden.
func (f *form) Ensure() {
	if cur := f.focused(); cur == nil || cur.Hidden() {
		f.focus = f.nextVisible(f.focus, 1)
	}
}

func (f *form) Update(msg tea.Msg, keys keyMap) tea.Cmd {
	if km, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(km, keys.Next):
			return f.move(1)
		case key.Matches(km, keys.Prev):
			return f.move(-1)
		}
	}
	if cur := f.focused(); cur != nil {
		return cur.Update(msg, keys)
	}
	return nil
}

func (f *form) View(s Styles) string {
	var rows []string
	var buttons []string
	for i, fld := range f.fields {
		if fld.Hidden() {
			continue
		}
		view := fld.View(s, f.active && i == f.focus)
		if _, ok := fld.(*buttonField); ok {
			buttons = append(buttons, view)
			continue
		}
		if len(buttons) > 0 {
			rows = append(rows, strings.Join(buttons, " "))
			buttons = nil
		}
		rows = append(rows, view)
	}
	if len(buttons) > 0 {
		rows = append(rows, strings.Join(buttons, " "))
	}
	return strings.Join(rows, "\n\n")
}
