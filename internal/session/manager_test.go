package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/Iron-Ham/termctl/internal/capture"
	"github.com/Iron-Ham/termctl/internal/display"
	"github.com/Iron-Ham/termctl/internal/errors"
	"github.com/Iron-Ham/termctl/internal/event"
	"github.com/Iron-Ham/termctl/internal/process"
	"github.com/Iron-Ham/termctl/internal/window"
)

// fakeDisplays hands out consecutive display numbers without starting servers.
type fakeDisplays struct {
	mu         sync.Mutex
	next       int
	leased     map[int]string
	acquireErr error
	releaseErr error
	acquires   int
	releases   int
}

func newFakeDisplays() *fakeDisplays {
	return &fakeDisplays{next: 100, leased: map[int]string{}}
}

func (f *fakeDisplays) Acquire(_ context.Context, owner string, screen display.Screen) (*display.Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquires++
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	n := f.next
	f.next++
	f.leased[n] = owner
	return &display.Slot{Number: n, Owner: owner, Screen: screen}, nil
}

func (f *fakeDisplays) Release(_ context.Context, slot *display.Slot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
	if f.releaseErr != nil {
		return f.releaseErr
	}
	delete(f.leased, slot.Number)
	return nil
}

func (f *fakeDisplays) inUse() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.leased)
}

// fakeResolver returns a fixed window or blocks until released.
type fakeResolver struct {
	mu      sync.Mutex
	err     error
	gate    map[string]chan struct{}
	targets []window.Target
}

func (f *fakeResolver) Resolve(ctx context.Context, target window.Target, _ time.Duration) (window.Handle, error) {
	f.mu.Lock()
	f.targets = append(f.targets, target)
	err := f.err
	var gate chan struct{}
	for prefix, ch := range f.gate {
		if strings.Contains(target.Title, prefix) {
			gate = ch
		}
	}
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return window.Handle{}, errors.NewEngineError(errors.KindWindowNotFound, "timed out", ctx.Err())
		}
	}
	if err != nil {
		return window.Handle{}, err
	}
	return window.Handle{ID: fmt.Sprintf("0x%x", target.PID), Strategy: window.StrategyPID}, nil
}

type injected struct {
	display, window, text, key string
}

type fakeInjector struct {
	mu    sync.Mutex
	calls []injected
	err   error
	// hang makes every send wait for its context, like a stuck xdotool.
	hang bool
}

func (f *fakeInjector) send(ctx context.Context, call injected) error {
	f.mu.Lock()
	err, hang := f.err, f.hang
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return fmt.Errorf("xdotool type: signal: killed")
	}
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return nil
}

func (f *fakeInjector) SendText(ctx context.Context, d, w, text string) error {
	return f.send(ctx, injected{display: d, window: w, text: text})
}

func (f *fakeInjector) SendKey(ctx context.Context, d, w, key string) error {
	return f.send(ctx, injected{display: d, window: w, key: key})
}

func (f *fakeInjector) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeCapturer struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeCapturer) Capture(_ context.Context, d, _ string) (*capture.RawImage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return &capture.RawImage{
		Pixels:       make([]byte, 4*2*2),
		Width:        2,
		Height:       2,
		CapturedAt:   time.Now(),
		Display:      d,
		EncodedBytes: 70,
	}, nil
}

type harness struct {
	m         *Manager
	displays  *fakeDisplays
	sup       *process.Supervisor
	resolver  *fakeResolver
	injector  *fakeInjector
	capturer  *fakeCapturer
	bus       *event.Bus
	mu        sync.Mutex
	states    []string
	emulators []process.Spec
}

// newHarness builds a manager whose emulator is a real "sleep" process.
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		displays: newFakeDisplays(),
		sup:      process.NewSupervisor(process.Options{PollInterval: 10 * time.Millisecond, KillTimeout: time.Second}),
		resolver: &fakeResolver{gate: map[string]chan struct{}{}},
		injector: &fakeInjector{},
		capturer: &fakeCapturer{},
		bus:      event.NewBus(nil),
	}
	h.bus.Subscribe(event.TypeSessionStateChanged, func(e event.Event) {
		sc := e.(event.SessionStateChangedEvent)
		h.mu.Lock()
		h.states = append(h.states, sc.SessionID+":"+sc.To)
		h.mu.Unlock()
	})

	h.m = NewManager(Options{
		Displays:  h.displays,
		Processes: h.sup,
		Resolver:  h.resolver,
		Injector:  h.injector,
		Capturer:  h.capturer,
		EmulatorCommand: func(spec EmulatorSpec) (string, []string) {
			h.mu.Lock()
			h.emulators = append(h.emulators, process.Spec{Name: spec.Title, Args: spec.Argv})
			h.mu.Unlock()
			return "sleep", []string{"30"}
		},
		StartupTimeout:   2 * time.Second,
		OperationTimeout: time.Second,
		GracePeriod:      time.Second,
		Bus:              h.bus,
	})
	t.Cleanup(func() { _ = h.m.Shutdown(context.Background()) })
	return h
}

func (h *harness) stateLog() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.states...)
}

func mustLaunch(t *testing.T, h *harness, opts LaunchOptions) string {
	t.Helper()
	id, err := h.m.Launch(context.Background(), opts)
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	return id
}

func TestLaunch_HappyPath(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id := mustLaunch(t, h, LaunchOptions{ID: "s1", Command: "echo hello", Geometry: Geometry{Width: 800, Height: 600}})
	if id != "s1" {
		t.Errorf("Launch() id = %q, want s1", id)
	}

	info, err := h.m.Status(id)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if info.State != StateActive {
		t.Fatalf("state = %v, want ACTIVE", info.State)
	}
	if info.Display != ":100" || info.EmulatorPID <= 0 || info.WindowID == "" {
		t.Errorf("info = %+v", info)
	}
	if info.Geometry.Columns != 66 || info.Geometry.Rows != 30 {
		t.Errorf("cells = %dx%d, want 66x30", info.Geometry.Columns, info.Geometry.Rows)
	}

	target := h.resolver.targets[0]
	if target.Display != ":100" || target.PID != info.EmulatorPID || target.Done == nil {
		t.Errorf("resolver target = %+v", target)
	}
	if h.emulators[0].Name != "termctl-s1" || strings.Join(h.emulators[0].Args, " ") != "echo hello" {
		t.Errorf("emulator spec = %+v", h.emulators[0])
	}

	if err := h.m.Input(ctx, id, Payload{Text: "ls -la"}); err != nil {
		t.Fatalf("Input(text) error = %v", err)
	}
	if err := h.m.Input(ctx, id, Payload{Key: "Enter"}); err != nil {
		t.Fatalf("Input(key) error = %v", err)
	}
	if h.injector.calls[0].display != ":100" || h.injector.calls[0].window != info.WindowID {
		t.Errorf("input went to %+v", h.injector.calls[0])
	}

	img, err := h.m.Capture(ctx, id)
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if img.SessionID != id || img.Columns != 66 || img.Rows != 30 {
		t.Errorf("capture metadata = %+v", img)
	}

	if err := h.m.Close(ctx, id); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	info, _ = h.m.Status(id)
	if info.State != StateClosed {
		t.Errorf("state after Close = %v", info.State)
	}
	if h.displays.inUse() != 0 {
		t.Error("display not released")
	}

	if err := h.m.Close(ctx, id); err != nil {
		t.Errorf("closing a CLOSED session = %v, want nil", err)
	}

	want := []string{"s1:INITIALIZING", "s1:ACTIVE", "s1:CLOSING", "s1:CLOSED"}
	if got := h.stateLog(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("transitions = %v, want %v", got, want)
	}
}

func TestLaunch_GeneratesID(t *testing.T) {
	h := newHarness(t)

	a := mustLaunch(t, h, LaunchOptions{Command: "sh"})
	b := mustLaunch(t, h, LaunchOptions{Command: "sh"})
	if a == "" || a == b {
		t.Errorf("ids %q and %q should be distinct and non-empty", a, b)
	}
	if got := len(h.m.List()); got != 2 {
		t.Errorf("List() has %d sessions, want 2", got)
	}
}

func TestLaunch_DuplicateID(t *testing.T) {
	h := newHarness(t)
	mustLaunch(t, h, LaunchOptions{ID: "dup", Command: "sh"})

	_, err := h.m.Launch(context.Background(), LaunchOptions{ID: "dup", Command: "sh"})
	if !errors.Is(err, errors.ErrInvalidSessionState) {
		t.Errorf("Launch() error = %v, want InvalidSessionState", err)
	}
	if h.displays.acquires != 1 {
		t.Errorf("duplicate launch acquired a display")
	}
}

func TestLaunch_Failures(t *testing.T) {
	tests := []struct {
		name     string
		command  string
		setup    func(h *harness)
		wantKind errors.Kind
	}{
		{
			name:     "command not on PATH",
			command:  "definitely-not-installed-9c1e --flag",
			wantKind: errors.KindSpawnError,
		},
		{
			name:    "no display slots",
			command: "bash",
			setup: func(h *harness) {
				h.displays.acquireErr = errors.NewEngineError(errors.KindNoSlotsAvailable, "pool exhausted", nil)
			},
			wantKind: errors.KindNoSlotsAvailable,
		},
		{
			name:    "display start timeout",
			command: "bash",
			setup: func(h *harness) {
				h.displays.acquireErr = errors.NewEngineError(errors.KindDisplayStartTimeout, "no socket", nil)
			},
			wantKind: errors.KindDisplayStartTimeout,
		},
		{
			name:    "window never found",
			command: "bash",
			setup: func(h *harness) {
				h.resolver.err = errors.NewEngineError(errors.KindWindowNotFound, "no unique window", nil)
			},
			wantKind: errors.KindWindowNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if tt.setup != nil {
				tt.setup(h)
			}

			id, err := h.m.Launch(context.Background(), LaunchOptions{Command: tt.command})
			if errors.KindOf(err) != tt.wantKind {
				t.Fatalf("Launch() error = %v, want %v", err, tt.wantKind)
			}

			info, statusErr := h.m.Status(id)
			if statusErr != nil {
				t.Fatalf("failed session not queryable: %v", statusErr)
			}
			if info.State != StateError || info.LastError == nil {
				t.Errorf("state = %v, LastError = %v; want ERROR with error", info.State, info.LastError)
			}
			if h.displays.inUse() != 0 {
				t.Error("display leaked after failed launch")
			}
			if info.EmulatorPID > 0 && processAlive(info.EmulatorPID) {
				t.Errorf("emulator %d still running after failed launch", info.EmulatorPID)
			}

			var engineErr *errors.EngineError
			if errors.As(err, &engineErr) && engineErr.SessionID != id {
				t.Errorf("error SessionID = %q, want %q", engineErr.SessionID, id)
			}
		})
	}
}

func TestLaunch_InvalidCommand(t *testing.T) {
	h := newHarness(t)

	for _, cmd := range []string{"", "   ", `echo "unterminated`} {
		if _, err := h.m.Launch(context.Background(), LaunchOptions{Command: cmd}); !errors.Is(err, errors.ErrInvalidInput) {
			t.Errorf("Launch(%q) error = %v, want validation error", cmd, err)
		}
	}
	if len(h.m.List()) != 0 {
		t.Error("invalid commands should not create sessions")
	}
}

func TestOperations_RequireActive(t *testing.T) {
	h := newHarness(t)
	h.resolver.err = errors.NewEngineError(errors.KindWindowNotFound, "none", nil)

	id, _ := h.m.Launch(context.Background(), LaunchOptions{Command: "sh"})

	err := h.m.Input(context.Background(), id, Payload{Text: "x"})
	if !errors.Is(err, errors.ErrInvalidSessionState) {
		t.Errorf("Input() on ERROR session = %v, want InvalidSessionState", err)
	}
	var engineErr *errors.EngineError
	if errors.As(err, &engineErr) {
		if v, _ := engineErr.ContextValue("state"); v != "ERROR" {
			t.Errorf("error names state %v, want ERROR", v)
		}
	}

	if _, err := h.m.Capture(context.Background(), id); !errors.Is(err, errors.ErrInvalidSessionState) {
		t.Errorf("Capture() on ERROR session = %v", err)
	}
	if h.injector.count() != 0 || h.capturer.calls != 0 {
		t.Error("injector or capturer invoked for a non-active session")
	}

	if err := h.m.Close(context.Background(), id); err != nil {
		t.Errorf("Close() on ERROR session = %v", err)
	}
	if err := h.m.Input(context.Background(), id, Payload{Key: "Enter"}); !errors.Is(err, errors.ErrInvalidSessionState) {
		t.Errorf("Input() on CLOSED session = %v", err)
	}
}

func TestInput_PayloadValidation(t *testing.T) {
	h := newHarness(t)
	id := mustLaunch(t, h, LaunchOptions{Command: "sh"})

	for _, p := range []Payload{{}, {Text: "a", Key: "Enter"}} {
		if err := h.m.Input(context.Background(), id, p); !errors.Is(err, errors.ErrInvalidInput) {
			t.Errorf("Input(%+v) = %v, want validation error", p, err)
		}
	}
}

func TestInput_FailuresCarrySession(t *testing.T) {
	toolErr := fmt.Errorf("xdotool windowfocus: exit status 1")
	tests := []struct {
		name     string
		err      error
		wantKind errors.Kind
	}{
		{"tool failure", toolErr, errors.KindInputFailed},
		{"engine error from injector", errors.NewEngineError(errors.KindUnknownKeySymbol, "bad key", nil), errors.KindUnknownKeySymbol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			id := mustLaunch(t, h, LaunchOptions{Command: "sh"})
			h.injector.err = tt.err

			err := h.m.Input(context.Background(), id, Payload{Text: "ls"})
			if errors.KindOf(err) != tt.wantKind {
				t.Fatalf("Input() error = %v, want %v", err, tt.wantKind)
			}
			if !errors.Is(err, tt.err) {
				t.Error("injector error missing from the chain")
			}

			var engineErr *errors.EngineError
			if !errors.As(err, &engineErr) {
				t.Fatalf("error %v is not an EngineError", err)
			}
			if engineErr.SessionID != id {
				t.Errorf("SessionID = %q, want %q", engineErr.SessionID, id)
			}
			if info, _ := h.m.Status(id); info.State != StateActive {
				t.Errorf("state = %v after a failed input, want ACTIVE", info.State)
			}
		})
	}
}

func TestInput_OperationTimeout(t *testing.T) {
	h := newHarness(t)
	id := mustLaunch(t, h, LaunchOptions{Command: "sh", OperationTimeout: 50 * time.Millisecond})
	h.injector.hang = true

	start := time.Now()
	err := h.m.Input(context.Background(), id, Payload{Key: "Enter"})
	if elapsed := time.Since(start); elapsed > 900*time.Millisecond {
		t.Errorf("Input() took %v; the per-session 50ms timeout was not applied", elapsed)
	}

	if errors.KindOf(err) != errors.KindInputFailed {
		t.Fatalf("Input() error = %v, want InputFailed", err)
	}
	if !errors.Is(err, errors.ErrTimeout) {
		t.Errorf("error %v does not match ErrTimeout", err)
	}
	var timeoutErr *errors.TimeoutError
	if !errors.As(err, &timeoutErr) || timeoutErr.Duration != 50*time.Millisecond {
		t.Errorf("TimeoutError = %v, want 50ms", timeoutErr)
	}
	var engineErr *errors.EngineError
	if errors.As(err, &engineErr) {
		if engineErr.SessionID != id {
			t.Errorf("SessionID = %q, want %q", engineErr.SessionID, id)
		}
		if v, _ := engineErr.ContextValue("operation_timeout"); v != 50*time.Millisecond {
			t.Errorf("operation_timeout = %v, want 50ms", v)
		}
	}
}

func TestInput_CallerCancels(t *testing.T) {
	h := newHarness(t)
	id := mustLaunch(t, h, LaunchOptions{Command: "sh"})
	h.injector.hang = true

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.m.Input(ctx, id, Payload{Text: "x"})
	if !errors.Is(err, errors.ErrCanceled) {
		t.Errorf("Input() error = %v, want canceled", err)
	}
	if errors.Is(err, errors.ErrTimeout) {
		t.Error("a cancelled input should not be reported as a timeout")
	}
}

func TestLaunch_StartupTimeoutOverride(t *testing.T) {
	h := newHarness(t)
	h.resolver.gate["termctl-stuck"] = make(chan struct{})

	start := time.Now()
	_, err := h.m.Launch(context.Background(), LaunchOptions{
		ID:             "stuck",
		Command:        "sh",
		StartupTimeout: 100 * time.Millisecond,
	})
	if !errors.Is(err, errors.ErrWindowNotFound) {
		t.Fatalf("Launch() error = %v, want WindowNotFound", err)
	}
	if elapsed := time.Since(start); elapsed > 1500*time.Millisecond {
		t.Errorf("Launch() took %v with a 100ms startup timeout", elapsed)
	}
	if h.displays.inUse() != 0 {
		t.Error("display leaked after startup timeout")
	}
}

func TestLaunch_NegativeTimeouts(t *testing.T) {
	h := newHarness(t)

	for _, opts := range []LaunchOptions{
		{Command: "sh", StartupTimeout: -time.Second},
		{Command: "sh", OperationTimeout: -time.Second},
	} {
		if _, err := h.m.Launch(context.Background(), opts); !errors.Is(err, errors.ErrInvalidInput) {
			t.Errorf("Launch(%+v) error = %v, want validation error", opts, err)
		}
	}
	if h.displays.acquires != 0 {
		t.Error("invalid options acquired a display")
	}
}

func TestForget_SkipsSessionWithOperationInFlight(t *testing.T) {
	h := newHarness(t)
	h.resolver.err = errors.NewEngineError(errors.KindWindowNotFound, "none", nil)
	id, _ := h.m.Launch(context.Background(), LaunchOptions{Command: "sh"})

	s, err := h.m.lookup(id)
	if err != nil {
		t.Fatal(err)
	}

	s.opMu.Lock()
	if h.m.forget(id) {
		t.Error("forget() removed a session whose operation lock is held")
	}
	s.opMu.Unlock()

	if !h.m.forget(id) {
		t.Fatal("forget() = false for an idle ERROR session")
	}
}

func TestClose_ForgottenRecordIsUntouched(t *testing.T) {
	h := newHarness(t)
	h.resolver.err = errors.NewEngineError(errors.KindWindowNotFound, "none", nil)
	id, _ := h.m.Launch(context.Background(), LaunchOptions{Command: "sh"})

	// A Close that looked the record up just before the reaper dropped it.
	s, err := h.m.lookup(id)
	if err != nil {
		t.Fatal(err)
	}
	if !h.m.forget(id) {
		t.Fatal("forget() = false for an ERROR session")
	}
	before := len(h.stateLog())

	if err := h.m.close(context.Background(), s); !errors.Is(err, errors.ErrSessionNotFound) {
		t.Errorf("close() on a forgotten record = %v, want not found", err)
	}
	if got := len(h.stateLog()); got != before {
		t.Errorf("forgotten session changed state: %v", h.stateLog()[before:])
	}
	if s.getState() != StateError {
		t.Errorf("state = %v, want ERROR", s.getState())
	}
}

func TestUnknownSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.m.Close(ctx, "nope"); !errors.Is(err, errors.ErrSessionNotFound) {
		t.Errorf("Close() = %v, want not found", err)
	}
	if err := h.m.Input(ctx, "nope", Payload{Text: "x"}); !errors.Is(err, errors.ErrSessionNotFound) {
		t.Errorf("Input() = %v, want not found", err)
	}
	if _, err := h.m.Status("nope"); !errors.Is(err, errors.ErrSessionNotFound) {
		t.Errorf("Status() = %v, want not found", err)
	}
}

func TestEmulatorExitMovesToError(t *testing.T) {
	h := newHarness(t)
	id := mustLaunch(t, h, LaunchOptions{Command: "sh"})

	info, _ := h.m.Status(id)
	if err := h.sup.Terminate(context.Background(), emulatorOf(t, h.m, id), 0); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		info, _ = h.m.Status(id)
		if info.State == StateError {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if info.State != StateError {
		t.Fatalf("state = %v after emulator exit, want ERROR", info.State)
	}
	if !errors.Is(info.LastError, ErrEmulatorExited) {
		t.Errorf("LastError = %v, want emulator exited", info.LastError)
	}
	if h.displays.inUse() != 0 {
		t.Error("display not reclaimed after emulator exit")
	}
}

func TestClose_ReclaimFailure(t *testing.T) {
	h := newHarness(t)
	id := mustLaunch(t, h, LaunchOptions{Command: "sh"})
	h.displays.releaseErr = errors.NewEngineError(errors.KindReclaimFailed, "server survived SIGKILL", nil)

	var reclaimEvents int
	h.bus.Subscribe(event.TypeReclaimFailed, func(event.Event) { reclaimEvents++ })

	err := h.m.Close(context.Background(), id)
	if !errors.Is(err, errors.ErrReclaimFailed) {
		t.Fatalf("Close() = %v, want ReclaimFailed", err)
	}
	if errors.GetSeverity(err) != errors.SeverityCritical {
		t.Errorf("severity = %v, want critical", errors.GetSeverity(err))
	}
	info, _ := h.m.Status(id)
	if info.State != StateError {
		t.Errorf("state = %v, want ERROR", info.State)
	}
	if reclaimEvents != 1 {
		t.Errorf("reclaim events = %d, want 1", reclaimEvents)
	}
	h.displays.releaseErr = nil
}

func TestSessionsDoNotBlockEachOther(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.resolver.gate["termctl-slow"] = gate

	slowDone := make(chan error, 1)
	go func() {
		_, err := h.m.Launch(context.Background(), LaunchOptions{ID: "slow", Command: "sh"})
		slowDone <- err
	}()

	// Wait until the slow session is visible and initializing.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if info, err := h.m.Status("slow"); err == nil && info.State == StateInitializing {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("slow session never became visible")
		}
		time.Sleep(5 * time.Millisecond)
	}

	fast := mustLaunch(t, h, LaunchOptions{ID: "fast", Command: "sh"})
	if err := h.m.Input(context.Background(), fast, Payload{Text: "x"}); err != nil {
		t.Fatalf("Input() on fast session error = %v", err)
	}

	close(gate)
	if err := <-slowDone; err != nil {
		t.Fatalf("slow Launch() error = %v", err)
	}
}

func TestShutdown(t *testing.T) {
	h := newHarness(t)
	ids := []string{
		mustLaunch(t, h, LaunchOptions{Command: "sh"}),
		mustLaunch(t, h, LaunchOptions{Command: "sh"}),
		mustLaunch(t, h, LaunchOptions{Command: "sh"}),
	}

	var hookRan bool
	h.m.OnShutdown(func() error { hookRan = true; return nil })

	if err := h.m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	for _, id := range ids {
		if info, _ := h.m.Status(id); info.State != StateClosed {
			t.Errorf("session %s state = %v after Shutdown", id, info.State)
		}
	}
	if h.displays.inUse() != 0 {
		t.Error("displays still leased after Shutdown")
	}
	if !hookRan {
		t.Error("shutdown hook not run")
	}

	if _, err := h.m.Launch(context.Background(), LaunchOptions{Command: "sh"}); !errors.Is(err, errors.ErrInvalidSessionState) {
		t.Errorf("Launch() after Shutdown = %v", err)
	}
}

func TestGeometryDefaults(t *testing.T) {
	tests := []struct {
		in   Geometry
		want Geometry
	}{
		{Geometry{}, Geometry{Width: 1024, Height: 768, Columns: 85, Rows: 38, Font: "fixed"}},
		{Geometry{Width: 800, Height: 600}, Geometry{Width: 800, Height: 600, Columns: 66, Rows: 30, Font: "fixed"}},
		{Geometry{Width: 5, Height: 5}, Geometry{Width: 5, Height: 5, Columns: 1, Rows: 1, Font: "fixed"}},
		{Geometry{Columns: 80, Rows: 24, Font: "9x15"}, Geometry{Width: 1024, Height: 768, Columns: 80, Rows: 24, Font: "9x15"}},
	}
	for _, tt := range tests {
		if got := tt.in.withDefaults(1024, 768, "fixed"); got != tt.want {
			t.Errorf("withDefaults(%+v) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateInitializing, "INITIALIZING"},
		{StateActive, "ACTIVE"},
		{StateClosing, "CLOSING"},
		{StateClosed, "CLOSED"},
		{StateError, "ERROR"},
		{State(42), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestXtermCommand(t *testing.T) {
	build := XtermCommand(XtermOptions{Background: "black", Foreground: "white", Hold: true})
	path, args := build(EmulatorSpec{
		Title:    "termctl-abc",
		Geometry: Geometry{Columns: 80, Rows: 24, Font: "fixed"},
		Argv:     []string{"htop", "-d", "10"},
	})

	if path != "xterm" {
		t.Errorf("path = %q", path)
	}
	joined := strings.Join(args, " ")
	for _, want := range []string{"-geometry 80x24+0+0", "-T termctl-abc", "-fn fixed", "-bg black", "-fg white", "-hold"} {
		if !strings.Contains(joined, want) {
			t.Errorf("args %q missing %q", joined, want)
		}
	}
	if !strings.HasSuffix(joined, "-e htop -d 10") {
		t.Errorf("args must end with the command: %q", joined)
	}
}

func emulatorOf(t *testing.T, m *Manager, id string) *process.Handle {
	t.Helper()
	s, err := m.lookup(id)
	if err != nil {
		t.Fatal(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emulator
}

func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
