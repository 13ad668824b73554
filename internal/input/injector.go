// Package input delivers keyboard input to terminal emulator windows.
//
// Every send focuses the target window explicitly, waits a short settle
// delay so the emulator can process the focus change, and then types text
// literally or sends a single key symbol. Key names are validated against a
// fixed table before anything is sent.
package input

import (
	"context"
	"fmt"
	"time"

	"github.com/Iron-Ham/termctl/internal/errors"
	"github.com/Iron-Ham/termctl/internal/logging"
)

// Sender defines the window operations the injector needs.
// This interface enables testing without a real X server.
type Sender interface {
	Focus(ctx context.Context, display, window string) error
	Key(ctx context.Context, display, window, sym string) error
	Type(ctx context.Context, display, window, text string) error
}

// Type represents the kind of input sent.
type Type int

const (
	// TypeText is literal text.
	TypeText Type = iota
	// TypeKey is a single key symbol, possibly with modifiers.
	TypeKey
)

// String returns a human-readable string for the input type.
func (t Type) String() string {
	switch t {
	case TypeText:
		return "text"
	case TypeKey:
		return "key"
	default:
		return "unknown"
	}
}

// Injector focuses windows and sends keystrokes to them.
type Injector struct {
	sender Sender
	settle time.Duration
	logger *logging.Logger
}

// Option configures the Injector.
type Option func(*Injector)

// WithSettleDelay sets the pause between focusing and sending.
func WithSettleDelay(d time.Duration) Option {
	return func(i *Injector) {
		i.settle = d
	}
}

// WithLogger sets the injector's logger.
func WithLogger(logger *logging.Logger) Option {
	return func(i *Injector) {
		i.logger = logger
	}
}

// NewInjector creates an injector that sends through sender.
func NewInjector(sender Sender, opts ...Option) *Injector {
	i := &Injector{
		sender: sender,
		settle: 200 * time.Millisecond,
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = i.logger.WithComponent("input")
	return i
}

// SendText types text into window on display exactly as given.
func (i *Injector) SendText(ctx context.Context, display, window, text string) error {
	if err := i.focus(ctx, display, window); err != nil {
		return failure(ctx, "focus", display, window, err)
	}
	if err := i.sender.Type(ctx, display, window, text); err != nil {
		return failure(ctx, "type", display, window, err)
	}
	i.logger.Debug("text sent", "display", display, "window", window, "length", len(text))
	return nil
}

// SendKey sends one key to window on display. Unknown key names fail with
// UnknownKeySymbol and nothing is sent to the window.
func (i *Injector) SendKey(ctx context.Context, display, window, key string) error {
	sym, err := ResolveKey(key)
	if err != nil {
		return err
	}
	if err := i.focus(ctx, display, window); err != nil {
		return failure(ctx, "focus", display, window, err)
	}
	if err := i.sender.Key(ctx, display, window, sym); err != nil {
		return failure(ctx, "key", display, window, err).WithContext("key", sym)
	}
	i.logger.Debug("key sent", "display", display, "window", window, "key", sym)
	return nil
}

func (i *Injector) focus(ctx context.Context, display, window string) error {
	if err := i.sender.Focus(ctx, display, window); err != nil {
		return err
	}
	if i.settle <= 0 {
		return nil
	}

	timer := time.NewTimer(i.settle)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// failure reports a failed input step as InputFailed. A tool killed by an
// expired ctx keeps the context error in its chain.
func failure(ctx context.Context, step, display, window string, err error) *errors.EngineError {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		err = fmt.Errorf("%w: %w", ctxErr, err)
	}
	return errors.NewEngineError(errors.KindInputFailed, step+" failed", err).
		WithContext("step", step).
		WithContext("display", display).
		WithContext("window", window)
}
