// Package ui is the kamisetup terminal interface: a side menu of installer
// pages, a streaming console and a status bar.
package ui

import (
	"github.com/charmbracelet/lipgloss"

	"kamisetup/internal/logging"
)

var (
	// Dark Mode Colors (default)
	DarkBackground = lipgloss.Color("#1e1f26")
	DarkForeground = lipgloss.Color("#e6e6e6")
	DarkPrimary    = lipgloss.Color("#4fc3f7")
	DarkAccent     = lipgloss.Color("#7c4dff")
	DarkSecondary  = lipgloss.Color("#2b2d38")
	DarkMuted      = lipgloss.Color("#7a7f91")
	DarkBorder     = lipgloss.Color("#3a3d4d")
	DarkCard       = lipgloss.Color("#252733")

	// Light Mode Colors
	LightBackground = lipgloss.Color("#f5f6f8")
	LightForeground = lipgloss.Color("#1f2330")
	LightPrimary    = lipgloss.Color("#0277bd")
	LightAccent     = lipgloss.Color("#5e35b1")
	LightSecondary  = lipgloss.Color("#e3e6ec")
	LightMuted      = lipgloss.Color("#8a90a0")
	LightBorder     = lipgloss.Color("#cfd4dc")
	LightCard       = lipgloss.Color("#ffffff")

	// Semantic Colors (same in both modes)
	Destructive = lipgloss.Color("#e53935")
	Success     = lipgloss.Color("#66bb6a")
	Warning     = lipgloss.Color("#ffb300")
	Info        = lipgloss.Color("#42a5f5")
)

// Theme holds the current color scheme
type Theme struct {
	Name       string
	Background lipgloss.Color
	Foreground lipgloss.Color
	Primary    lipgloss.Color
	Accent     lipgloss.Color
	Secondary  lipgloss.Color
	Muted      lipgloss.Color
	Border     lipgloss.Color
	Card       lipgloss.Color
	IsDark     bool
}

// DarkTheme returns the dark mode theme
func DarkTheme() Theme {
	return Theme{
		Name:       "dark",
		Background: DarkBackground,
		Foreground: DarkForeground,
		Primary:    DarkPrimary,
		Accent:     DarkAccent,
		Secondary:  DarkSecondary,
		Muted:      DarkMuted,
		Border:     DarkBorder,
		Card:       DarkCard,
		IsDark:     true,
	}
}

// LightTheme returns the light mode theme
func LightTheme() Theme {
	return Theme{
		Name:       "light",
		Background: LightBackground,
		Foreground: LightForeground,
		Primary:    LightPrimary,
		Accent:     LightAccent,
		Secondary:  LightSecondary,
		Muted:      LightMuted,
		Border:     LightBorder,
		Card:       LightCard,
		IsDark:     false,
	}
}

// ThemeByName maps the settings value to a theme. Anything but "light" is dark.
func ThemeByName(name string) Theme {
	if name == "light" {
		return LightTheme()
	}
	return DarkTheme()
}

// Styles holds all the styled components
type Styles struct {
	Theme Theme

	// Layout
	Header    lipgloss.Style
	Sidebar   lipgloss.Style
	Content   lipgloss.Style
	Console   lipgloss.Style
	StatusBar lipgloss.Style
	Dialog    lipgloss.Style

	// Text
	Title lipgloss.Style
	Label lipgloss.Style
	Body  lipgloss.Style
	Muted lipgloss.Style
	Bold  lipgloss.Style

	// Form
	Focused   lipgloss.Style
	Button    lipgloss.Style
	ButtonHot lipgloss.Style
	CodeBlock lipgloss.Style

	// Status
	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Info    lipgloss.Style
}

// NewStyles creates a new Styles instance with the given theme
func NewStyles(theme Theme) Styles {
	return Styles{
		Theme: theme,

		Header: lipgloss.NewStyle().
			Background(theme.Primary).
			Foreground(theme.Background).
			Padding(0, 2).
			Bold(true),

		Sidebar: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(theme.Border).
			Padding(0, 1),

		Content: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(theme.Border).
			Padding(0, 2),

		Console: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(theme.Border).
			Foreground(theme.Foreground),

		StatusBar: lipgloss.NewStyle().
			Background(theme.Secondary).
			Foreground(theme.Foreground).
			Padding(0, 1),

		Dialog: lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(theme.Accent).
			Padding(1, 3),

		Title: lipgloss.NewStyle().
			Foreground(theme.Primary).
			Bold(true).
			MarginBottom(1),

		Label: lipgloss.NewStyle().
			Foreground(theme.Muted),

		Body: lipgloss.NewStyle().
			Foreground(theme.Foreground),

		Muted: lipgloss.NewStyle().
			Foreground(theme.Muted),

		Bold: lipgloss.NewStyle().
			Foreground(theme.Foreground).
			Bold(true),

		Focused: lipgloss.NewStyle().
			Foreground(theme.Accent).
			Bold(true),

		Button: lipgloss.NewStyle().
			Foreground(theme.Foreground).
			Background(theme.Secondary).
			Padding(0, 2),

		ButtonHot: lipgloss.NewStyle().
			Foreground(theme.Background).
			Background(theme.Accent).
			Padding(0, 2).
			Bold(true),

		CodeBlock: lipgloss.NewStyle().
			Background(theme.Card).
			Foreground(theme.Foreground).
			Padding(0, 1),

		Success: lipgloss.NewStyle().
			Foreground(Success).
			Bold(true),

		Error: lipgloss.NewStyle().
			Foreground(Destructive).
			Bold(true),

		Warning: lipgloss.NewStyle().
			Foreground(Warning).
			Bold(true),

		Info: lipgloss.NewStyle().
			Foreground(Info),
	}
}

// Level returns the style for a console level.
func (s Styles) Level(level logging.Level) lipgloss.Style {
	switch level {
	case logging.LevelSuccess:
		return s.Success
	case logging.LevelError:
		return s.Error
	case logging.LevelWarn:
		return s.Warning
	default:
		return s.Info
	}
}
