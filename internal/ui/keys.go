package ui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Quit       key.Binding
	SwitchPane key.Binding
	Next       key.Binding
	Prev       key.Binding
	Activate   key.Binding
	Left       key.Binding
	Right      key.Binding
	Toggle     key.Binding
	ScrollUp   key.Binding
	ScrollDown key.Binding
	Theme      key.Binding
	ClearLog   key.Binding
	Yes        key.Binding
	No         key.Binding
	Launch     key.Binding
	Close      key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Quit:       key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "cancel run / quit")),
		SwitchPane: key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "menu")),
		Next:       key.NewBinding(key.WithKeys("tab", "down"), key.WithHelp("tab/↓", "next field")),
		Prev:       key.NewBinding(key.WithKeys("shift+tab", "up"), key.WithHelp("shift+tab/↑", "prev field")),
		Activate:   key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "select")),
		Left:       key.NewBinding(key.WithKeys("left"), key.WithHelp("←/→", "change option")),
		Right:      key.NewBinding(key.WithKeys("right")),
		Toggle:     key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "toggle")),
		ScrollUp:   key.NewBinding(key.WithKeys("pgup"), key.WithHelp("pgup/pgdn", "scroll console")),
		ScrollDown: key.NewBinding(key.WithKeys("pgdown")),
		Theme:      key.NewBinding(key.WithKeys("ctrl+t"), key.WithHelp("ctrl+t", "theme")),
		ClearLog:   key.NewBinding(key.WithKeys("ctrl+l"), key.WithHelp("ctrl+l", "clear console")),
		Yes:        key.NewBinding(key.WithKeys("y", "Y", "enter"), key.WithHelp("y", "yes")),
		No:         key.NewBinding(key.WithKeys("n", "N", "esc"), key.WithHelp("n", "no")),
		Launch:     key.NewBinding(key.WithKeys("l"), key.WithHelp("l", "launch activated shell")),
		Close:      key.NewBinding(key.WithKeys("esc", "enter", "q"), key.WithHelp("esc", "close")),
	}
}

func (k keyMap) menuHelp() []key.Binding {
	return []key.Binding{k.Next, k.Activate, k.ScrollUp, k.Theme, k.Quit}
}

func (k keyMap) formHelp() []key.Binding {
	return []key.Binding{k.Next, k.Left, k.Toggle, k.Activate, k.SwitchPane, k.Quit}
}
