package cmd

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	okColor    = lipgloss.Color("#10B981") // Green
	warnColor  = lipgloss.Color("#F59E0B") // Amber
	errorColor = lipgloss.Color("#F87171") // Red
	mutedColor = lipgloss.Color("#9CA3AF") // Gray
	titleColor = lipgloss.Color("#A78BFA") // Purple
)

// palette renders status text, styled only when writing to a terminal.
type palette struct {
	styled bool

	title lipgloss.Style
	ok    lipgloss.Style
	warn  lipgloss.Style
	err   lipgloss.Style
	muted lipgloss.Style
}

func newPalette(w io.Writer) palette {
	p := palette{styled: isTerminal(w)}
	p.title = lipgloss.NewStyle().Bold(true).Foreground(titleColor)
	p.ok = lipgloss.NewStyle().Foreground(okColor)
	p.warn = lipgloss.NewStyle().Foreground(warnColor)
	p.err = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	p.muted = lipgloss.NewStyle().Foreground(mutedColor)
	return p
}

func (p palette) render(s lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return s.Render(text)
}

func (p palette) Title(text string) string { return p.render(p.title, text) }
func (p palette) OK(text string) string    { return p.render(p.ok, text) }
func (p palette) Warn(text string) string  { return p.render(p.warn, text) }
func (p palette) Err(text string) string   { return p.render(p.err, text) }
func (p palette) Muted(text string) string { return p.render(p.muted, text) }

// terminalWidth returns the column count of w, or 0 when w is not a terminal.
func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return width
}

// isTerminal reports whether w is a terminal file.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
