package cmd

import "github.com/charmbracelet/lipgloss"

var (
	// Colors chosen for readability on both black and dark surfaces
	primaryColor = lipgloss.Color("#A78BFA") // Purple
	greenColor   = lipgloss.Color("#10B981") // Green
	amberColor   = lipgloss.Color("#F59E0B") // Amber
	redColor     = lipgloss.Color("#F87171") // Red
	mutedColor   = lipgloss.Color("#9CA3AF") // Gray
	textColor    = lipgloss.Color("#F9FAFB") // Light text
	borderColor  = lipgloss.Color("#6B7280") // Gray

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	errorStyle = lipgloss.NewStyle().
			Foreground(redColor)

	warnStyle = lipgloss.NewStyle().
			Foreground(amberColor)

	okStyle = lipgloss.NewStyle().
		Foreground(greenColor)

	// Agreement level badges
	badgeUnanimous = lipgloss.NewStyle().
			Bold(true).
			Foreground(textColor).
			Background(greenColor).
			Padding(0, 1)

	badgeMajority = lipgloss.NewStyle().
			Bold(true).
			Foreground(textColor).
			Background(amberColor).
			Padding(0, 1)

	badgeNoConsensus = lipgloss.NewStyle().
				Bold(true).
				Foreground(textColor).
				Background(redColor).
				Padding(0, 1)

	contentBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(borderColor).
			Padding(0, 1)
)
