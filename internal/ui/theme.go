package ui

import "github.com/charmbracelet/lipgloss"

var (
	Base     = lipgloss.Color("#1e1e2e")
	Surface1 = lipgloss.Color("#45475a")
	Text     = lipgloss.Color("#cdd6f4")
	Subtext0 = lipgloss.Color("#a6adc8")
	Lavender = lipgloss.Color("#b4befe")
	Sapphire = lipgloss.Color("#74c7ec")
	Green    = lipgloss.Color("#a6e3a1")
	Peach    = lipgloss.Color("#fab387")
	Red      = lipgloss.Color("#f38ba8")
	Yellow   = lipgloss.Color("#f9e2af")

	App = lipgloss.NewStyle().
		Foreground(Text).
		Padding(0, 1)

	Pane = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Surface1).
		Padding(0, 1)

	Title     = lipgloss.NewStyle().Foreground(Sapphire).Bold(true)
	Muted     = lipgloss.NewStyle().Foreground(Subtext0)
	Recording = lipgloss.NewStyle().Foreground(Red).Bold(true)
	Ready     = lipgloss.NewStyle().Foreground(Green)

	BannerUnsupported = lipgloss.NewStyle().Foreground(Base).Background(Yellow).Padding(0, 1)
	BannerPermission  = lipgloss.NewStyle().Foreground(Base).Background(Peach).Padding(0, 1)
	BannerError       = lipgloss.NewStyle().Foreground(Base).Background(Red).Padding(0, 1)
)
