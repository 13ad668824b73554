// Package xdo wraps the xdotool X automation utility.
//
// Every call runs one short-lived xdotool process against an explicit X
// display (DISPLAY=:N in the child environment); the caller's own DISPLAY is
// never used. Commands are executed directly, never through a shell, so text
// and window names are passed to xdotool verbatim.
package xdo

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/Iron-Ham/termctl/internal/errors"
	"github.com/Iron-Ham/termctl/internal/logging"
)

// Runner executes a command with extra environment entries and returns its
// standard output. Failures are reported as *CommandError.
type Runner interface {
	Run(ctx context.Context, env []string, name string, args ...string) ([]byte, error)
}

// CommandError describes a failed xdotool invocation.
type CommandError struct {
	Name     string
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Name, strings.Join(e.Args, " "))
	if e.ExitCode > 0 {
		msg += fmt.Sprintf(": exit status %d", e.ExitCode)
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExecRunner is the production Runner backed by os/exec.
type ExecRunner struct{}

// Run executes name with args. env entries override the inherited environment.
func (ExecRunner) Run(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	// Later duplicates win in os/exec.
	cmd.Env = append(os.Environ(), env...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		cmdErr := &CommandError{
			Name:     name,
			Args:     args,
			ExitCode: -1,
			Stderr:   strings.TrimSpace(stderr.String()),
			Err:      err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			cmdErr.ExitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			cmdErr.Err = ctxErr
		}
		return out, cmdErr
	}
	return out, nil
}

// Query selects windows for Search. Exactly one field should be set.
type Query struct {
	PID   int
	Class string
	// Name is an xdotool (POSIX extended) regular expression over window names.
	Name string
}

// String renders the query as its xdotool flags.
func (q Query) String() string {
	return strings.Join(q.args(), " ")
}

func (q Query) args() []string {
	switch {
	case q.PID > 0:
		return []string{"--pid", strconv.Itoa(q.PID)}
	case q.Class != "":
		return []string{"--class", q.Class}
	default:
		return []string{"--name", q.Name}
	}
}

// Options configures a Client.
type Options struct {
	// Binary is the xdotool executable (default "xdotool").
	Binary string
	// TypeDelayMs is passed to "type --delay".
	TypeDelayMs int
	Runner      Runner
	Logger      *logging.Logger
}

// Client issues xdotool commands.
type Client struct {
	binary    string
	typeDelay int
	runner    Runner
	logger    *logging.Logger
}

// New creates a Client.
func New(opts Options) *Client {
	if opts.Binary == "" {
		opts.Binary = "xdotool"
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	return &Client{
		binary:    opts.Binary,
		typeDelay: opts.TypeDelayMs,
		runner:    opts.Runner,
		logger:    opts.Logger.WithComponent("xdo"),
	}
}

// Binary returns the xdotool executable name.
func (c *Client) Binary() string {
	return c.binary
}

func (c *Client) run(ctx context.Context, display string, args ...string) ([]byte, error) {
	c.logger.Debug("xdotool", "display", display, "args", strings.Join(args, " "))
	return c.runner.Run(ctx, []string{"DISPLAY=" + display}, c.binary, args...)
}

// Search returns the ids of visible windows matching q on display. No match
// is not an error: xdotool exits 1 with empty output and Search returns nil.
func (c *Client) Search(ctx context.Context, display string, q Query) ([]string, error) {
	args := append([]string{"search", "--onlyvisible"}, q.args()...)
	out, err := c.run(ctx, display, args...)
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && cmdErr.ExitCode == 1 && len(bytes.TrimSpace(out)) == 0 {
			return nil, nil
		}
		return nil, err
	}
	return parseIDs(out), nil
}

// ActiveWindow returns the id of the window holding focus on display.
func (c *Client) ActiveWindow(ctx context.Context, display string) (string, error) {
	out, err := c.run(ctx, display, "getactivewindow")
	if err != nil {
		return "", err
	}
	ids := parseIDs(out)
	if len(ids) == 0 {
		return "", nil
	}
	return ids[0], nil
}

// WindowName returns the title of window id.
func (c *Client) WindowName(ctx context.Context, display, id string) (string, error) {
	out, err := c.run(ctx, display, "getwindowname", id)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(out), "\r\n"), nil
}

// Focus gives keyboard focus to window id.
func (c *Client) Focus(ctx context.Context, display, id string) error {
	_, err := c.run(ctx, display, "windowfocus", id)
	return err
}

// Key sends one keysym, optionally with modifiers ("ctrl+c"), to window id.
func (c *Client) Key(ctx context.Context, display, id, sym string) error {
	_, err := c.run(ctx, display, "key", "--window", id, sym)
	return err
}

// Type types text literally into window id.
func (c *Client) Type(ctx context.Context, display, id, text string) error {
	args := []string{"type"}
	if c.typeDelay > 0 {
		args = append(args, "--delay", strconv.Itoa(c.typeDelay))
	}
	args = append(args, "--window", id, "--", text)
	_, err := c.run(ctx, display, args...)
	return err
}

// parseIDs splits xdotool output into window ids, one per line.
func parseIDs(out []byte) []string {
	var ids []string
	for _, line := range strings.Split(string(out), "\n") {
		if id := strings.TrimSpace(line); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
