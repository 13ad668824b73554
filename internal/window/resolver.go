// Package window finds the X window of a freshly started terminal emulator.
//
// A new emulator's window appears some time after the process starts and
// may be mapped, renamed or reparented while we look. The Resolver runs an
// ordered list of lookup strategies in rounds with exponential backoff until
// one strategy yields exactly one candidate, the emulator dies, or the
// timeout expires.
package window

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gobwas/glob"

	"github.com/Iron-Ham/termctl/internal/errors"
	"github.com/Iron-Ham/termctl/internal/logging"
	"github.com/Iron-Ham/termctl/internal/xdo"
)

// Strategy names one way of locating a window.
type Strategy string

const (
	// StrategyPID matches windows whose _NET_WM_PID is the emulator's pid.
	StrategyPID Strategy = "pid"
	// StrategyClass matches windows by WM_CLASS.
	StrategyClass Strategy = "class"
	// StrategyTitle matches visible window names against a glob pattern.
	StrategyTitle Strategy = "title"
	// StrategyActive takes whichever window holds focus on the display.
	StrategyActive Strategy = "active"
)

// DefaultStrategies is the lookup order used when none is configured.
var DefaultStrategies = []Strategy{StrategyPID, StrategyClass, StrategyTitle, StrategyActive}

// ParseStrategies converts configured strategy names.
func ParseStrategies(names []string) ([]Strategy, error) {
	out := make([]Strategy, 0, len(names))
	for _, name := range names {
		s := Strategy(strings.ToLower(strings.TrimSpace(name)))
		switch s {
		case StrategyPID, StrategyClass, StrategyTitle, StrategyActive:
			out = append(out, s)
		default:
			return nil, errors.NewValidationError("unknown window strategy").
				WithField("window.strategies").
				WithValue(name)
		}
	}
	return out, nil
}

// Handle identifies a resolved window. It is fixed for the life of a session.
type Handle struct {
	ID       string
	Strategy Strategy
}

// IsZero reports whether the handle is unset.
func (h Handle) IsZero() bool {
	return h.ID == ""
}

// Target describes the window to look for.
type Target struct {
	// Display is the X display name, e.g. ":101".
	Display string
	// PID is the emulator's process id.
	PID int
	// Title is a glob pattern over window names.
	Title string
	// Class overrides the resolver's configured WM_CLASS.
	Class string
	// Done, when non-nil, is closed when the emulator exits.
	Done <-chan struct{}
}

// Finder is the subset of the xdotool client used for lookups.
type Finder interface {
	Search(ctx context.Context, display string, q xdo.Query) ([]string, error)
	ActiveWindow(ctx context.Context, display string) (string, error)
	WindowName(ctx context.Context, display, id string) (string, error)
}

// Options configures a Resolver.
type Options struct {
	Strategies     []Strategy
	Class          string
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         *logging.Logger
}

// Resolver locates emulator windows.
type Resolver struct {
	finder     Finder
	strategies []Strategy
	class      string
	initial    time.Duration
	max        time.Duration
	logger     *logging.Logger
}

// NewResolver creates a Resolver over finder.
func NewResolver(finder Finder, opts Options) *Resolver {
	if len(opts.Strategies) == 0 {
		opts.Strategies = DefaultStrategies
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 50 * time.Millisecond
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = opts.InitialBackoff
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	return &Resolver{
		finder:     finder,
		strategies: opts.Strategies,
		class:      opts.Class,
		initial:    opts.InitialBackoff,
		max:        opts.MaxBackoff,
		logger:     opts.Logger.WithComponent("window"),
	}
}

var (
	errEmulatorExited = errors.New("emulator exited before its window was found")
	errInconclusive   = errors.New("no strategy produced a unique window")
)

// outcome is the result of one strategy in one round.
type outcome struct {
	candidates int
	skipped    string
	err        error
}

func (o outcome) String() string {
	switch {
	case o.skipped != "":
		return "skipped (" + o.skipped + ")"
	case o.err != nil:
		return "error: " + o.err.Error()
	case o.candidates == 0:
		return "no window"
	case o.candidates == 1:
		return "1 window"
	default:
		return fmt.Sprintf("%d windows", o.candidates)
	}
}

// Resolve looks for target's window until exactly one candidate is found by
// some strategy or timeout elapses. It fails with WindowNotFound, which
// records every strategy's last outcome and the number of rounds tried.
func (r *Resolver) Resolve(ctx context.Context, target Target, timeout time.Duration) (Handle, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ctx, cancelTimeout := context.WithTimeout(ctx, timeout)
	defer cancelTimeout()
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	if target.Done != nil {
		go func() {
			select {
			case <-target.Done:
				cancel(errEmulatorExited)
			case <-ctx.Done():
			}
		}()
	}

	var title glob.Glob
	if target.Title != "" {
		g, err := glob.Compile(target.Title)
		if err != nil {
			return Handle{}, errors.NewValidationError("invalid title pattern").
				WithField("title").
				WithValue(target.Title).
				WithCause(err)
		}
		title = g
	}

	log := r.logger.WithDisplay(target.Display)
	last := make(map[Strategy]outcome, len(r.strategies))
	rounds := 0
	var found Handle

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initial
	b.MaxInterval = r.max
	b.MaxElapsedTime = timeout
	b.Reset()

	started := time.Now()
	op := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(context.Cause(ctx))
		}
		rounds++
		for _, s := range r.strategies {
			id, out := r.try(ctx, s, target, title)
			last[s] = out
			if id != "" {
				found = Handle{ID: id, Strategy: s}
				return nil
			}
			if ctx.Err() != nil {
				return backoff.Permanent(context.Cause(ctx))
			}
		}
		return errInconclusive
	}

	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	if err == nil {
		log.Debug("window resolved",
			"window", found.ID,
			"strategy", string(found.Strategy),
			"rounds", rounds,
			"elapsed_ms", time.Since(started).Milliseconds())
		return found, nil
	}

	cause := context.Cause(ctx)
	if cause == nil {
		cause = err
	}
	msg := fmt.Sprintf("no unique window after %d rounds", rounds)
	if errors.Is(cause, errEmulatorExited) {
		msg = "emulator exited before its window appeared"
	}

	names := make([]string, len(r.strategies))
	results := make([]string, len(r.strategies))
	for i, s := range r.strategies {
		names[i] = string(s)
		o, tried := last[s]
		if !tried {
			results[i] = string(s) + ": not tried"
			continue
		}
		results[i] = string(s) + ": " + o.String()
	}

	log.Warn("window not found", "rounds", rounds, "outcomes", strings.Join(results, "; "))
	return Handle{}, errors.NewEngineError(errors.KindWindowNotFound, msg, cause).
		WithContext("display", target.Display).
		WithContext("strategies", strings.Join(names, ",")).
		WithContext("outcomes", strings.Join(results, "; ")).
		WithContext("rounds", rounds).
		WithContext("timeout", timeout)
}

// try runs a single strategy and returns the window id when it found
// exactly one candidate.
func (r *Resolver) try(ctx context.Context, s Strategy, target Target, title glob.Glob) (string, outcome) {
	var ids []string
	var err error

	switch s {
	case StrategyPID:
		if target.PID <= 0 {
			return "", outcome{skipped: "no pid"}
		}
		ids, err = r.finder.Search(ctx, target.Display, xdo.Query{PID: target.PID})
	case StrategyClass:
		class := target.Class
		if class == "" {
			class = r.class
		}
		if class == "" {
			return "", outcome{skipped: "no class"}
		}
		ids, err = r.finder.Search(ctx, target.Display, xdo.Query{Class: class})
	case StrategyTitle:
		if title == nil {
			return "", outcome{skipped: "no title"}
		}
		ids, err = r.byTitle(ctx, target.Display, title)
	case StrategyActive:
		var id string
		id, err = r.finder.ActiveWindow(ctx, target.Display)
		if id != "" {
			ids = []string{id}
		}
	default:
		return "", outcome{skipped: "unknown strategy"}
	}

	if err != nil {
		return "", outcome{err: err}
	}
	o := outcome{candidates: len(ids)}
	if len(ids) == 1 {
		return ids[0], o
	}
	return "", o
}

// byTitle lists visible named windows and keeps those whose name matches.
func (r *Resolver) byTitle(ctx context.Context, display string, title glob.Glob) ([]string, error) {
	ids, err := r.finder.Search(ctx, display, xdo.Query{Name: "."})
	if err != nil {
		return nil, err
	}
	var matched []string
	for _, id := range ids {
		name, err := r.finder.WindowName(ctx, display, id)
		if err != nil {
			// The window may have been destroyed since the search.
			continue
		}
		if title.Match(name) {
			matched = append(matched, id)
		}
	}
	return matched, nil
}
