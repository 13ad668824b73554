package session

import (
	"fmt"
)

// EmulatorSpec describes one emulator instance to start.
type EmulatorSpec struct {
	// Title is the unique window title given to the emulator.
	Title    string
	Geometry Geometry
	// Argv is the command run inside the emulator, already split.
	Argv []string
}

// EmulatorCommandFunc builds the emulator command line for spec.
type EmulatorCommandFunc func(spec EmulatorSpec) (path string, args []string)

// XtermOptions configures XtermCommand.
type XtermOptions struct {
	Binary     string
	Background string
	Foreground string
	Hold       bool
	ExtraArgs  []string
}

// XtermCommand returns an EmulatorCommandFunc for xterm.
//
// Synthetic key events are enabled because xdotool delivers keys to a
// specific window with XSendEvent, which xterm ignores by default.
func XtermCommand(opts XtermOptions) EmulatorCommandFunc {
	binary := opts.Binary
	if binary == "" {
		binary = "xterm"
	}
	return func(spec EmulatorSpec) (string, []string) {
		g := spec.Geometry
		args := []string{
			"-geometry", fmt.Sprintf("%dx%d+0+0", g.Columns, g.Rows),
			"-T", spec.Title,
			"-xrm", "XTerm*allowSendEvents: true",
			"-xrm", "XTerm*allowTitleOps: false",
		}
		if g.Font != "" {
			args = append(args, "-fn", g.Font)
		}
		if opts.Background != "" {
			args = append(args, "-bg", opts.Background)
		}
		if opts.Foreground != "" {
			args = append(args, "-fg", opts.Foreground)
		}
		if opts.Hold {
			args = append(args, "-hold")
		}
		args = append(args, opts.ExtraArgs...)
		args = append(args, "-e")
		args = append(args, spec.Argv...)
		return binary, args
	}
}
