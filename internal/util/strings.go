// Package util provides shared string helpers used across the codebase.
package util

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// Ellipsize truncates a string to maxLen runes, adding "..." if truncated.
// It does not account for ANSI escape codes or wide characters. For styled
// terminal output use Truncate instead.
func Ellipsize(s string, maxLen int) string {
	if maxLen <= 3 {
		return "..."
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}

// Truncate truncates a string to maxWidth visual columns, adding "..." if
// truncated. ANSI escape sequences and wide characters are preserved, so
// the result is safe for styled terminal output.
func Truncate(s string, maxWidth int) string {
	if maxWidth <= 3 {
		return "..."
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	// ansi.Truncate includes the tail in the final width calculation
	return ansi.Truncate(s, maxWidth, "...")
}

// FirstLine returns the first line of s, with "..." appended when more
// lines follow.
func FirstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + "..."
	}
	return s
}
