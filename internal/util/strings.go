// Package util holds small render helpers shared by the CLI commands.
package util

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

const ellipsis = "..."

// TruncateString caps s at max runes, replacing the overflow with an
// ellipsis. Escape sequences count like any other runes; styled text
// goes through TruncateANSI.
func TruncateString(s string, max int) string {
	if max <= len(ellipsis) {
		return ellipsis
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-len(ellipsis)]) + ellipsis
}

// TruncateANSI caps s at max visual columns. Escape sequences keep their
// zero width and wide runes their double width, so captured pane content
// truncates where the terminal would.
func TruncateANSI(s string, max int) string {
	if max <= len(ellipsis) {
		return ellipsis
	}
	if lipgloss.Width(s) <= max {
		return s
	}
	return ansi.Truncate(s, max, ellipsis)
}
