package session

import (
	"cmp"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/shlex"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/Iron-Ham/termctl/internal/capture"
	"github.com/Iron-Ham/termctl/internal/display"
	"github.com/Iron-Ham/termctl/internal/errors"
	"github.com/Iron-Ham/termctl/internal/event"
	"github.com/Iron-Ham/termctl/internal/input"
	"github.com/Iron-Ham/termctl/internal/logging"
	"github.com/Iron-Ham/termctl/internal/process"
	"github.com/Iron-Ham/termctl/internal/window"
)

// ErrEmulatorExited is the LastError of a session whose emulator died while active.
var ErrEmulatorExited = errors.New("emulator exited")

// Displays leases virtual displays.
type Displays interface {
	Acquire(ctx context.Context, owner string, screen display.Screen) (*display.Slot, error)
	Release(ctx context.Context, slot *display.Slot) error
}

// Processes starts and stops child processes.
type Processes interface {
	Spawn(ctx context.Context, spec process.Spec) (*process.Handle, error)
	Terminate(ctx context.Context, h *process.Handle, grace time.Duration) error
}

// Resolver finds an emulator's window.
type Resolver interface {
	Resolve(ctx context.Context, target window.Target, timeout time.Duration) (window.Handle, error)
}

// Injector sends keyboard input to a window.
type Injector interface {
	SendText(ctx context.Context, display, window, text string) error
	SendKey(ctx context.Context, display, window, key string) error
}

// Capturer takes screenshots of a display.
type Capturer interface {
	Capture(ctx context.Context, display, window string) (*capture.RawImage, error)
}

// Options configures a Manager.
type Options struct {
	Displays  Displays
	Processes Processes
	Resolver  Resolver
	Injector  Injector
	Capturer  Capturer

	// EmulatorCommand builds the emulator command line (default: xterm).
	EmulatorCommand EmulatorCommandFunc

	DefaultWidth  int
	DefaultHeight int
	DefaultFont   string

	// StartupTimeout bounds display start plus window resolution.
	StartupTimeout time.Duration
	// OperationTimeout bounds each input and capture.
	OperationTimeout time.Duration
	// GracePeriod is the SIGTERM grace for the emulator.
	GracePeriod time.Duration

	// LookPath resolves the session command on PATH (default: exec.LookPath).
	LookPath func(file string) (string, error)

	Bus    *event.Bus
	Logger *logging.Logger
}

// Manager owns every session and drives its state machine.
//
// Distinct sessions proceed concurrently. Operations on one session are
// serialized by that session's lock; the manager lock only guards the
// session table.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*session

	displays  Displays
	processes Processes
	resolver  Resolver
	injector  Injector
	capturer  Capturer
	emulator  EmulatorCommandFunc

	width, height int
	font          string

	startupTimeout   time.Duration
	operationTimeout time.Duration
	grace            time.Duration
	lookPath         func(string) (string, error)

	bus    *event.Bus
	logger *logging.Logger

	done       chan struct{}
	closeOnce  sync.Once
	watchers   sync.WaitGroup
	onShutdown []func() error
}

// NewManager creates a Manager.
func NewManager(opts Options) *Manager {
	if opts.EmulatorCommand == nil {
		opts.EmulatorCommand = XtermCommand(XtermOptions{Hold: true})
	}
	if opts.DefaultWidth <= 0 {
		opts.DefaultWidth = 1024
	}
	if opts.DefaultHeight <= 0 {
		opts.DefaultHeight = 768
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = 15 * time.Second
	}
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = 10 * time.Second
	}
	if opts.LookPath == nil {
		opts.LookPath = exec.LookPath
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}

	return &Manager{
		sessions:         make(map[string]*session),
		displays:         opts.Displays,
		processes:        opts.Processes,
		resolver:         opts.Resolver,
		injector:         opts.Injector,
		capturer:         opts.Capturer,
		emulator:         opts.EmulatorCommand,
		width:            opts.DefaultWidth,
		height:           opts.DefaultHeight,
		font:             opts.DefaultFont,
		startupTimeout:   opts.StartupTimeout,
		operationTimeout: opts.OperationTimeout,
		grace:            opts.GracePeriod,
		lookPath:         opts.LookPath,
		bus:              opts.Bus,
		logger:           opts.Logger.WithComponent("session"),
		done:             make(chan struct{}),
	}
}

// Launch creates a session running opts.Command and blocks until it is
// ACTIVE or has failed. The session id is returned in both cases: a failed
// session stays queryable in the ERROR state with every resource it held
// already released.
func (m *Manager) Launch(ctx context.Context, opts LaunchOptions) (string, error) {
	argv, err := shlex.Split(opts.Command)
	if err != nil {
		return "", errors.NewValidationError("cannot parse command").
			WithField("command").
			WithValue(opts.Command).
			WithCause(err)
	}
	if len(argv) == 0 {
		return "", errors.NewValidationError("command is empty").WithField("command")
	}
	if opts.StartupTimeout < 0 {
		return "", errors.NewValidationError("timeout must not be negative").
			WithField("startup_timeout").WithValue(opts.StartupTimeout)
	}
	if opts.OperationTimeout < 0 {
		return "", errors.NewValidationError("timeout must not be negative").
			WithField("operation_timeout").WithValue(opts.OperationTimeout)
	}

	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}

	s := &session{
		id:               id,
		command:          opts.Command,
		argv:             argv,
		title:            "termctl-" + id,
		geometry:         opts.Geometry.withDefaults(m.width, m.height, m.font),
		createdAt:        time.Now(),
		startupTimeout:   cmp.Or(opts.StartupTimeout, m.startupTimeout),
		operationTimeout: cmp.Or(opts.OperationTimeout, m.operationTimeout),
		state:            StateInitializing,
	}

	// The op lock is taken before the session becomes visible so that no
	// other operation can observe it half-built.
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := m.register(s); err != nil {
		return "", err
	}

	log := m.logger.WithSession(id)
	log.Info("launching session", "command", opts.Command,
		"width", s.geometry.Width, "height", s.geometry.Height)
	m.bus.Publish(event.NewSessionStateChangedEvent(id, "", StateInitializing.String(), "launch"))

	started := time.Now()
	if err := m.start(ctx, s, log); err != nil {
		m.fail(s, err, log)
		m.bus.Publish(event.NewSessionLaunchedEvent(id, false, errors.KindOf(err).String(), time.Since(started)))
		return id, err
	}

	s.mu.Lock()
	s.lastActivity = time.Now()
	emulator := s.emulator
	s.mu.Unlock()

	m.transition(s, StateActive, "launched")
	m.bus.Publish(event.NewSessionLaunchedEvent(id, true, "", time.Since(started)))
	info := s.info()
	log.Info("session active",
		"display", info.Display,
		"window", info.WindowID,
		"strategy", info.WindowStrategy,
		"duration_ms", time.Since(started).Milliseconds())

	m.watch(s, emulator)
	return id, nil
}

// register adds s to the session table. Ids are never reused while their
// session is still known, including closed tombstones.
func (m *Manager) register(s *session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[s.id]; ok {
		state := existing.getState()
		return errors.NewEngineError(errors.KindInvalidSessionState,
			fmt.Sprintf("session already exists in state %s", state), nil).
			WithSessionID(s.id).
			WithContext("state", state.String())
	}
	select {
	case <-m.done:
		return errors.NewEngineError(errors.KindInvalidSessionState,
			"manager is shutting down", nil).WithSessionID(s.id)
	default:
	}
	m.sessions[s.id] = s
	return nil
}

// start performs the INITIALIZING steps. On error the caller unwinds
// whatever start recorded on s.
func (m *Manager) start(ctx context.Context, s *session, log *logging.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, s.startupTimeout)
	defer cancel()

	if _, err := m.lookPath(s.argv[0]); err != nil {
		return errors.NewEngineError(errors.KindSpawnError,
			fmt.Sprintf("command %q not found on PATH", s.argv[0]), err).
			WithSessionID(s.id).
			WithContext("command", s.command)
	}

	slot, err := m.displays.Acquire(ctx, s.id, display.Screen{
		Width:  s.geometry.Width,
		Height: s.geometry.Height,
	})
	if err != nil {
		return withSession(err, s.id)
	}
	s.mu.Lock()
	s.slot = slot
	s.mu.Unlock()
	log = log.WithDisplay(slot.Name())

	path, args := m.emulator(EmulatorSpec{
		Title:    s.title,
		Geometry: s.geometry,
		Argv:     s.argv,
	})
	emulator, err := m.processes.Spawn(ctx, process.Spec{
		Name: "emulator",
		Path: path,
		Args: args,
		Env:  []string{"DISPLAY=" + slot.Name()},
	})
	if err != nil {
		return withSession(err, s.id)
	}
	s.mu.Lock()
	s.emulator = emulator
	s.mu.Unlock()
	log.Debug("emulator started", "pid", emulator.PID())

	remaining := s.startupTimeout
	if deadline, ok := ctx.Deadline(); ok {
		remaining = time.Until(deadline)
	}
	handle, err := m.resolver.Resolve(ctx, window.Target{
		Display: slot.Name(),
		PID:     emulator.PID(),
		Title:   glob.QuoteMeta(s.title),
		Done:    emulator.Done(),
	}, remaining)
	if err != nil {
		return withSession(err, s.id)
	}

	s.mu.Lock()
	s.window = handle
	s.mu.Unlock()
	return nil
}

// fail moves s to ERROR and synchronously releases everything it holds.
// The caller holds s.opMu.
func (m *Manager) fail(s *session, cause error, log *logging.Logger) {
	s.mu.Lock()
	s.lastError = cause
	s.mu.Unlock()

	if err := m.teardown(context.Background(), s, log); err != nil {
		log.Error("cleanup after failure incomplete", "error", err.Error())
		s.mu.Lock()
		s.lastError = errors.Join(cause, err)
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.endedAt = time.Now()
	s.mu.Unlock()

	logFailure(log, "session failed", cause)
	m.transition(s, StateError, cause.Error())
}

// teardown terminates the emulator and releases the display. It is
// idempotent: already-stopped processes and released slots are skipped.
// Cancellation of ctx skips the emulator's grace period, never the release.
func (m *Manager) teardown(ctx context.Context, s *session, log *logging.Logger) error {
	s.mu.Lock()
	emulator, slot := s.emulator, s.slot
	s.mu.Unlock()

	var errs []error
	if emulator != nil {
		if err := m.processes.Terminate(ctx, emulator, m.grace); err != nil {
			log.Error("emulator could not be reclaimed", "pid", emulator.PID(), "error", err.Error())
			m.bus.Publish(event.NewReclaimFailedEvent(s.id, "emulator", emulator.PID()))
			errs = append(errs, withSession(err, s.id))
		}
	}
	if slot != nil {
		if err := m.displays.Release(context.WithoutCancel(ctx), slot); err != nil {
			pid := 0
			if srv := slot.Server(); srv != nil {
				pid = srv.PID()
			}
			log.Error("display could not be reclaimed", "display", slot.Name(), "error", err.Error())
			m.bus.Publish(event.NewReclaimFailedEvent(s.id, "display", pid))
			errs = append(errs, withSession(err, s.id))
		}
	}
	return errors.Join(errs...)
}

// transition records a state change and publishes it.
func (m *Manager) transition(s *session, to State, reason string) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()

	if from != to {
		m.bus.Publish(event.NewSessionStateChangedEvent(s.id, from.String(), to.String(), reason))
	}
}

// watch moves s to ERROR if its emulator exits while the session is active.
func (m *Manager) watch(s *session, emulator *process.Handle) {
	// Registration and shutdown are ordered by m.mu so that no watcher
	// starts once Shutdown is waiting for them.
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.done:
		return
	default:
	}

	m.watchers.Go(func() {
		select {
		case <-emulator.Done():
		case <-m.done:
			return
		}

		s.opMu.Lock()
		defer s.opMu.Unlock()
		if s.getState() != StateActive {
			return
		}

		log := m.logger.WithSession(s.id)
		cause := ErrEmulatorExited
		if exitErr := emulator.ExitErr(); exitErr != nil {
			cause = fmt.Errorf("%w: %v", ErrEmulatorExited, exitErr)
		}
		log.Warn("emulator exited while session active", "pid", emulator.PID())
		m.fail(s, cause, log)
	})
}

// lookup returns the session with id.
func (m *Manager) lookup(id string) (*session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, errors.NewNotFoundError("session", id)
	}
	return s, nil
}

// requireActive returns an InvalidSessionState error unless s is ACTIVE.
// The caller holds s.opMu.
func requireActive(s *session, op string) error {
	state := s.getState()
	if state == StateActive {
		return nil
	}
	return errors.NewEngineError(errors.KindInvalidSessionState,
		fmt.Sprintf("cannot %s: session is %s", op, state), nil).
		WithSessionID(s.id).
		WithContext("state", state.String()).
		WithContext("operation", op)
}

// Input delivers p to the session's window. The session must be ACTIVE.
func (m *Manager) Input(ctx context.Context, id string, p Payload) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := requireActive(s, "send input"); err != nil {
		return err
	}
	if (p.Text == "") == (p.Key == "") {
		return errors.NewValidationError("exactly one of text or key is required").WithField("payload")
	}

	info := s.info()
	ctx, cancel := context.WithTimeout(ctx, s.operationTimeout)
	defer cancel()

	kind, length := input.TypeText, len(p.Text)
	if p.Key != "" {
		kind, length = input.TypeKey, len(p.Key)
		err = m.injector.SendKey(ctx, info.Display, info.WindowID, p.Key)
	} else {
		err = m.injector.SendText(ctx, info.Display, info.WindowID, p.Text)
	}
	if err != nil {
		err = operationFailure(ctx, err, s, "send input", errors.KindInputFailed)
		logFailure(m.logger.WithSession(id), "input failed", err)
		return err
	}

	s.touch()
	m.bus.Publish(event.NewSessionInputEvent(id, kind.String(), length))
	return nil
}

// Capture takes a screenshot of the session's display. The session must be ACTIVE.
func (m *Manager) Capture(ctx context.Context, id string) (*capture.RawImage, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := requireActive(s, "capture"); err != nil {
		return nil, err
	}

	info := s.info()
	ctx, cancel := context.WithTimeout(ctx, s.operationTimeout)
	defer cancel()

	started := time.Now()
	img, err := m.capturer.Capture(ctx, info.Display, info.WindowID)
	if err != nil {
		err = operationFailure(ctx, err, s, "capture", errors.KindCaptureFailed)
		logFailure(m.logger.WithSession(id), "capture failed", err)
		return nil, err
	}
	img.SessionID = id
	img.Columns = info.Geometry.Columns
	img.Rows = info.Geometry.Rows

	s.touch()
	m.bus.Publish(event.NewSessionCapturedEvent(id, img.Width, img.Height, img.EncodedBytes, time.Since(started)))
	return img, nil
}

// Close tears the session down. It is valid in every state; closing a
// CLOSED session succeeds without doing anything. If a process cannot be
// reclaimed the session is left in ERROR and the ReclaimFailed error is
// returned.
func (m *Manager) Close(ctx context.Context, id string) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	return m.close(ctx, s)
}

// close tears s down under its operation lock. A record forgotten between
// lookup and locking is reported as not found and left untouched.
func (m *Manager) close(ctx context.Context, s *session) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	id := s.id
	if s.forgotten {
		return errors.NewNotFoundError("session", id)
	}
	if s.getState() == StateClosed {
		return nil
	}

	log := m.logger.WithSession(id)
	m.transition(s, StateClosing, "close requested")

	if err := m.teardown(ctx, s, log); err != nil {
		s.mu.Lock()
		s.lastError = err
		s.endedAt = time.Now()
		s.mu.Unlock()
		m.transition(s, StateError, "reclaim failed")
		return err
	}

	s.mu.Lock()
	s.endedAt = time.Now()
	s.mu.Unlock()
	m.transition(s, StateClosed, "closed")
	log.Info("session closed")
	return nil
}

// Status returns a snapshot of one session.
func (m *Manager) Status(id string) (Info, error) {
	s, err := m.lookup(id)
	if err != nil {
		return Info{}, err
	}
	return s.info(), nil
}

// List returns a snapshot of every known session, oldest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	infos := make([]Info, len(all))
	for i, s := range all {
		infos[i] = s.info()
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// forget drops a terminal session from the table. It reports whether the
// session was removed. A session with an operation in flight, such as a
// Close of an ERROR session, is left for a later sweep.
func (m *Manager) forget(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	if !s.opMu.TryLock() {
		m.mu.Unlock()
		return false
	}
	defer s.opMu.Unlock()

	state := s.getState()
	if !state.Terminal() {
		m.mu.Unlock()
		return false
	}
	delete(m.sessions, id)
	s.forgotten = true
	m.mu.Unlock()

	m.bus.Publish(event.NewSessionForgottenEvent(id, state.String()))
	return true
}

// OnShutdown registers fn to run after every session is closed by Shutdown.
func (m *Manager) OnShutdown(fn func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onShutdown = append(m.onShutdown, fn)
}

// Shutdown closes every session that is not already CLOSED, concurrently,
// and refuses new launches. It returns the joined teardown errors.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		close(m.done)
		m.mu.Unlock()
	})
	m.watchers.Wait()

	p := pool.New().WithErrors()
	for _, info := range m.List() {
		if info.State == StateClosed {
			continue
		}
		p.Go(func() error {
			err := m.Close(ctx, info.ID)
			if errors.Is(err, errors.ErrSessionNotFound) {
				return nil
			}
			return err
		})
	}
	err := p.Wait()

	m.mu.Lock()
	hooks := m.onShutdown
	m.onShutdown = nil
	m.mu.Unlock()
	for _, fn := range hooks {
		err = errors.Join(err, fn())
	}

	if err != nil {
		m.logger.Error("shutdown incomplete", "error", err.Error())
	} else {
		m.logger.Info("all sessions closed")
	}
	return err
}

// operationFailure turns an input or capture failure into an engine error
// carrying the session id and its operation timeout. Engine errors from
// below keep their kind; anything else gets kind. A failure caused by the
// operation deadline wraps a TimeoutError, one caused by the caller giving
// up wraps ErrCanceled.
func operationFailure(ctx context.Context, err error, s *session, op string, kind errors.Kind) error {
	if k := errors.KindOf(err); k != errors.KindUnknown {
		kind = k
	}

	switch ctxErr := ctx.Err(); {
	case errors.Is(ctxErr, context.DeadlineExceeded):
		return errors.NewEngineError(kind, op+" timed out",
			errors.NewTimeoutError(op, s.operationTimeout).WithCause(err)).
			WithSessionID(s.id).
			WithContext("operation_timeout", s.operationTimeout)
	case errors.Is(ctxErr, context.Canceled):
		return errors.NewEngineError(kind, op+" canceled",
			fmt.Errorf("%w: %w", errors.ErrCanceled, err)).
			WithSessionID(s.id).
			WithContext("operation_timeout", s.operationTimeout)
	}

	var engineErr *errors.EngineError
	if !errors.As(err, &engineErr) {
		return errors.NewEngineError(kind, op+" failed", err).
			WithSessionID(s.id).
			WithContext("operation_timeout", s.operationTimeout)
	}
	if engineErr.SessionID == "" {
		engineErr.WithSessionID(s.id)
	}
	return err
}

// logFailure logs err at the level matching its severity.
func logFailure(log *logging.Logger, msg string, err error) {
	args := []any{"error", err.Error(), "kind", errors.KindOf(err).String()}
	switch errors.GetSeverity(err) {
	case errors.SeverityCritical, errors.SeverityError:
		log.Error(msg, args...)
	case errors.SeverityWarning:
		log.Warn(msg, args...)
	default:
		log.Info(msg, args...)
	}
}

// withSession annotates an engine error with the session id.
func withSession(err error, id string) error {
	var engineErr *errors.EngineError
	if errors.As(err, &engineErr) && engineErr.SessionID == "" {
		engineErr.WithSessionID(id)
	}
	return err
}
