// Package util provides text helpers shared by logging and CLI output.
package util

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

const ellipsis = "..."

// Truncate shortens s to at most max runes, ending in "..." when cut.
// It is meant for plain text such as typed input echoed into logs.
func Truncate(s string, max int) string {
	if max <= len(ellipsis) {
		return ellipsis
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-len(ellipsis)]) + ellipsis
}

// TruncateANSI shortens s to at most width terminal columns, keeping any
// escape sequences intact and counting wide characters as two columns.
func TruncateANSI(s string, width int) string {
	if width <= len(ellipsis) {
		return ellipsis
	}
	if lipgloss.Width(s) <= width {
		return s
	}
	return ansi.Truncate(s, width, ellipsis)
}

// FitLines indents every line of s with prefix and truncates each line to
// width columns. A width of zero or less disables truncation.
func FitLines(s, prefix string, width int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		line = prefix + line
		if width > 0 {
			line = TruncateANSI(line, width)
		}
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}
