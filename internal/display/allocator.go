package display

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/termctl/internal/errors"
	"github.com/Iron-Ham/termctl/internal/event"
	"github.com/Iron-Ham/termctl/internal/logging"
	"github.com/Iron-Ham/termctl/internal/process"
)

// Phase is the lifecycle phase of one display number in the pool.
type Phase int

const (
	PhaseFree Phase = iota
	PhaseStarting
	PhaseReady
	PhaseReleasing
	// PhaseQuarantined marks a number whose server could not be killed.
	// It is never handed out again by this allocator.
	PhaseQuarantined
)

func (p Phase) String() string {
	switch p {
	case PhaseFree:
		return "free"
	case PhaseStarting:
		return "starting"
	case PhaseReady:
		return "ready"
	case PhaseReleasing:
		return "releasing"
	case PhaseQuarantined:
		return "quarantined"
	default:
		return "unknown"
	}
}

// Screen is the framebuffer size in pixels.
type Screen struct {
	Width  int
	Height int
}

// Slot is a leased display number with its running server.
type Slot struct {
	Number int
	Owner  string
	Screen Screen

	server *process.Handle
}

// Name returns the X display name, e.g. ":101".
func (s *Slot) Name() string {
	return ":" + strconv.Itoa(s.Number)
}

// Server returns the handle of the framebuffer server process.
func (s *Slot) Server() *process.Handle {
	return s.server
}

// SlotInfo is a point-in-time view of one pool entry.
type SlotInfo struct {
	Number int
	Owner  string
	Phase  Phase
	PID    int
}

// Supervisor is the subset of process.Supervisor the allocator needs.
type Supervisor interface {
	Spawn(ctx context.Context, spec process.Spec) (*process.Handle, error)
	Terminate(ctx context.Context, h *process.Handle, grace time.Duration) error
}

// CommandFunc builds the server command line for display number n.
type CommandFunc func(n int, screen Screen) (path string, args []string)

// Options configures an Allocator.
type Options struct {
	BaseNumber   int
	PoolSize     int
	StartTimeout time.Duration
	PollInterval time.Duration
	// GracePeriod is the SIGTERM grace given to a server on release.
	GracePeriod time.Duration
	SocketDir   string
	LockDir     string
	// Command overrides the server command; nil uses XvfbCommand.
	Command CommandFunc
	// Xvfb settings used by the default command.
	ServerBinary string
	Depth        int
	DPI          int
	ExtraArgs    []string

	Fs     afero.Fs
	Bus    *event.Bus
	Logger *logging.Logger
}

// XvfbCommand returns a CommandFunc starting Xvfb with the given settings.
func XvfbCommand(binary string, depth, dpi int, extra []string) CommandFunc {
	return func(n int, screen Screen) (string, []string) {
		args := []string{
			":" + strconv.Itoa(n),
			"-screen", "0", fmt.Sprintf("%dx%dx%d", screen.Width, screen.Height, depth),
			"-dpi", strconv.Itoa(dpi),
			"-ac",
			"-nolisten", "tcp",
		}
		return binary, append(args, extra...)
	}
}

// entry is the pool bookkeeping for one display number.
type entry struct {
	phase Phase
	slot  *Slot
}

// Allocator hands out display numbers from a fixed pool and owns the
// framebuffer server started on each.
//
// The pool table is guarded by a single mutex held only for bookkeeping,
// never while a server starts or stops.
type Allocator struct {
	mu      sync.Mutex
	base    int
	entries []entry

	supervisor   Supervisor
	command      CommandFunc
	startTimeout time.Duration
	grace        time.Duration
	ready        readiness
	bus          *event.Bus
	logger       *logging.Logger
}

// NewAllocator creates an allocator over [opts.BaseNumber, opts.BaseNumber+opts.PoolSize).
func NewAllocator(sup Supervisor, opts Options) *Allocator {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 50 * time.Millisecond
	}
	if opts.SocketDir == "" {
		opts.SocketDir = "/tmp/.X11-unix"
	}
	if opts.LockDir == "" {
		opts.LockDir = "/tmp"
	}
	if opts.Command == nil {
		binary := opts.ServerBinary
		if binary == "" {
			binary = "Xvfb"
		}
		depth, dpi := opts.Depth, opts.DPI
		if depth == 0 {
			depth = 24
		}
		if dpi == 0 {
			dpi = 100
		}
		opts.Command = XvfbCommand(binary, depth, dpi, opts.ExtraArgs)
	}

	logger := opts.Logger.WithComponent("display")
	return &Allocator{
		base:         opts.BaseNumber,
		entries:      make([]entry, opts.PoolSize),
		supervisor:   sup,
		command:      opts.Command,
		startTimeout: opts.StartTimeout,
		grace:        opts.GracePeriod,
		ready: readiness{
			artifacts: artifacts{
				fs:        opts.Fs,
				socketDir: opts.SocketDir,
				lockDir:   opts.LockDir,
			},
			pollInterval: opts.PollInterval,
			logger:       logger,
		},
		bus:    opts.Bus,
		logger: logger,
	}
}

// Capacity returns the pool size.
func (a *Allocator) Capacity() int {
	return len(a.entries)
}

// InUse returns how many numbers are currently not free (including quarantined).
func (a *Allocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inUseLocked()
}

func (a *Allocator) inUseLocked() int {
	n := 0
	for _, e := range a.entries {
		if e.phase != PhaseFree {
			n++
		}
	}
	return n
}

// Snapshot reports every pool entry in number order.
func (a *Allocator) Snapshot() []SlotInfo {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]SlotInfo, len(a.entries))
	for i, e := range a.entries {
		info := SlotInfo{Number: a.base + i, Phase: e.phase}
		if e.slot != nil {
			info.Owner = e.slot.Owner
			if e.slot.server != nil {
				info.PID = e.slot.server.PID()
			}
		}
		out[i] = info
	}
	return out
}

// Foreign reports the free pool numbers currently held by X servers this
// allocator did not start, keyed by number, with the evidence found.
func (a *Allocator) Foreign() map[int]string {
	a.mu.Lock()
	var free []int
	for i, e := range a.entries {
		if e.phase == PhaseFree {
			free = append(free, a.base+i)
		}
	}
	a.mu.Unlock()

	out := make(map[int]string)
	for _, n := range free {
		if taken, why := a.ready.foreign(n); taken {
			out[n] = why
		}
	}
	return out
}

// Acquire leases the lowest free display number for owner, starts a
// framebuffer server on it and waits until the server listens.
//
// It fails with NoSlotsAvailable when every number is leased, quarantined
// or held by a foreign X server, and with DisplayStartTimeout when the
// server does not listen within the start timeout or exits first. On
// failure the number is free again (or quarantined if its server could not
// be killed) before Acquire returns.
func (a *Allocator) Acquire(ctx context.Context, owner string, screen Screen) (*Slot, error) {
	slot, err := a.reserve(owner, screen)
	if err != nil {
		return nil, err
	}

	log := a.logger.WithSession(owner).WithDisplay(slot.Name())
	started := time.Now()

	startCtx := ctx
	if a.startTimeout > 0 {
		var cancel context.CancelFunc
		startCtx, cancel = context.WithTimeout(ctx, a.startTimeout)
		defer cancel()
	}

	path, args := a.command(slot.Number, screen)
	server, err := a.supervisor.Spawn(startCtx, process.Spec{
		Name: "display",
		Path: path,
		Args: args,
	})
	if err != nil {
		a.free(slot)
		log.Error("display server failed to spawn", "error", err.Error())
		return nil, withSlotContext(err, owner, slot)
	}

	a.mu.Lock()
	slot.server = server
	a.mu.Unlock()

	if err := a.ready.wait(startCtx, slot.Number, server); err != nil {
		startErr := a.startFailure(owner, slot, server, err)
		a.unwind(slot, server, log)
		return nil, startErr
	}

	a.mu.Lock()
	a.entries[slot.Number-a.base].phase = PhaseReady
	inUse := a.inUseLocked()
	a.mu.Unlock()

	elapsed := time.Since(started)
	log.Info("display ready", "pid", server.PID(), "startup_ms", elapsed.Milliseconds())
	a.bus.Publish(event.NewDisplayAcquiredEvent(owner, slot.Number, elapsed, inUse, a.Capacity()))

	return slot, nil
}

// reserve marks the lowest usable number as starting for owner.
func (a *Allocator) reserve(owner string, screen Screen) (*Slot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var leased, quarantined, foreign int
	for i := range a.entries {
		e := &a.entries[i]
		switch e.phase {
		case PhaseFree:
		case PhaseQuarantined:
			quarantined++
			continue
		default:
			leased++
			continue
		}

		n := a.base + i
		if held, why := a.ready.foreign(n); held {
			a.logger.Debug("skipping display held by foreign server", "display", n, "reason", why)
			foreign++
			continue
		}

		slot := &Slot{Number: n, Owner: owner, Screen: screen}
		e.phase = PhaseStarting
		e.slot = slot
		return slot, nil
	}

	return nil, errors.NewEngineError(errors.KindNoSlotsAvailable,
		"every display number in the pool is taken", nil).
		WithSessionID(owner).
		WithContext("pool", fmt.Sprintf(":%d-:%d", a.base, a.base+len(a.entries)-1)).
		WithContext("leased", leased).
		WithContext("quarantined", quarantined).
		WithContext("foreign", foreign)
}

// free returns a reserved number to the pool.
func (a *Allocator) free(slot *Slot) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e := &a.entries[slot.Number-a.base]
	if e.slot != slot {
		return
	}
	e.phase = PhaseFree
	e.slot = nil
}

// quarantine retires a number whose server survived termination.
func (a *Allocator) quarantine(slot *Slot) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e := &a.entries[slot.Number-a.base]
	if e.slot == slot {
		e.phase = PhaseQuarantined
	}
}

// unwind stops a server that failed to come up and settles its number.
func (a *Allocator) unwind(slot *Slot, server *process.Handle, log *logging.Logger) {
	if err := a.supervisor.Terminate(context.Background(), server, a.grace); err != nil {
		log.Error("display server survived unwind, quarantining", "error", err.Error())
		a.quarantine(slot)
		return
	}
	a.ready.removeStale(slot.Number, server.PID())
	a.free(slot)
}

func (a *Allocator) startFailure(owner string, slot *Slot, server *process.Handle, cause error) error {
	msg := "display server did not start listening in time"
	if errors.Is(cause, errServerExited) {
		msg = "display server exited before listening"
		cause = server.ExitErr()
	}

	e := errors.NewEngineError(errors.KindDisplayStartTimeout, msg, cause).
		WithSessionID(owner).
		WithContext("display", slot.Name()).
		WithContext("timeout", a.startTimeout)
	if stderr := server.Stderr(); stderr != "" {
		e.WithContext("server_stderr", stderr)
	}
	return e
}

// Release stops the slot's server and returns the number to the pool once
// the server is confirmed dead. If the server cannot be killed the number
// is quarantined and a ReclaimFailed error is returned. Releasing a slot
// that is not leased is a no-op.
func (a *Allocator) Release(ctx context.Context, slot *Slot) error {
	if slot == nil {
		return nil
	}
	idx := slot.Number - a.base
	if idx < 0 || idx >= len(a.entries) {
		return nil
	}

	a.mu.Lock()
	e := &a.entries[idx]
	if e.slot != slot || e.phase != PhaseReady {
		a.mu.Unlock()
		return nil
	}
	e.phase = PhaseReleasing
	server := slot.server
	a.mu.Unlock()

	log := a.logger.WithSession(slot.Owner).WithDisplay(slot.Name())

	if err := a.supervisor.Terminate(ctx, server, a.grace); err != nil {
		a.quarantine(slot)
		log.Error("display server survived termination, quarantining", "error", err.Error())
		a.bus.Publish(event.NewDisplayReleasedEvent(slot.Owner, slot.Number, true, a.InUse(), a.Capacity()))
		return withSlotContext(err, slot.Owner, slot)
	}

	a.ready.removeStale(slot.Number, server.PID())
	a.free(slot)

	log.Info("display released")
	a.bus.Publish(event.NewDisplayReleasedEvent(slot.Owner, slot.Number, false, a.InUse(), a.Capacity()))
	return nil
}

// withSlotContext annotates engine errors with the session and display.
func withSlotContext(err error, owner string, slot *Slot) error {
	var engineErr *errors.EngineError
	if errors.As(err, &engineErr) {
		if engineErr.SessionID == "" {
			engineErr.WithSessionID(owner)
		}
		engineErr.WithContext("display", slot.Name())
	}
	return err
}
