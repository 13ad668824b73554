package process

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Iron-Ham/termctl/internal/errors"
	"github.com/Iron-Ham/termctl/internal/logging"
)

// Default timing used when Options leaves a field zero.
const (
	DefaultPollInterval = 50 * time.Millisecond
	DefaultKillTimeout  = 2 * time.Second
	stderrTailBytes     = 4096
)

// Spec describes a process to start.
type Spec struct {
	// Name is a short role label used in logs and errors ("display", "emulator").
	Name string
	// Path is the executable; a bare name is looked up on PATH.
	Path string
	Args []string
	// Env entries are appended to the current environment, overriding duplicates.
	Env []string
	Dir string
	// Stdout receives the child's standard output; nil discards it.
	Stdout io.Writer
}

// Handle is an opaque reference to a spawned process.
type Handle struct {
	name      string
	path      string
	pid       int
	startedAt time.Time

	done    chan struct{}
	exitErr error // written before done is closed
	stderr  *tailBuffer
}

// PID returns the process id recorded at spawn time.
func (h *Handle) PID() int { return h.pid }

// Name returns the role label given in Spec.Name.
func (h *Handle) Name() string { return h.name }

// Path returns the resolved executable path.
func (h *Handle) Path() string { return h.path }

// Done is closed once the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exited reports whether the process has exited.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// ExitErr returns the wait error once the process exited, or nil while it runs.
func (h *Handle) ExitErr() error {
	if !h.Exited() {
		return nil
	}
	return h.exitErr
}

// Stderr returns the last few KiB the process wrote to standard error.
func (h *Handle) Stderr() string {
	return h.stderr.String()
}

// String formats the handle for logs.
func (h *Handle) String() string {
	return fmt.Sprintf("%s(pid=%d)", h.name, h.pid)
}

// Options configures a Supervisor.
type Options struct {
	// PollInterval is how often liveness is checked while waiting for exit.
	PollInterval time.Duration
	// KillTimeout bounds the wait after SIGKILL.
	KillTimeout time.Duration
	Logger      *logging.Logger
}

// Supervisor spawns and terminates child processes.
// It is safe for concurrent use; it holds no per-process state.
type Supervisor struct {
	pollInterval time.Duration
	killTimeout  time.Duration
	logger       *logging.Logger
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(opts Options) *Supervisor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.KillTimeout <= 0 {
		opts.KillTimeout = DefaultKillTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	return &Supervisor{
		pollInterval: opts.PollInterval,
		killTimeout:  opts.KillTimeout,
		logger:       opts.Logger.WithComponent("supervisor"),
	}
}

// Spawn starts the process described by spec in a new process group.
// Any failure to start is a SpawnError wrapping the OS error, so
// errors.Is(err, exec.ErrNotFound) holds for a missing binary.
func (s *Supervisor) Spawn(ctx context.Context, spec Spec) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, spawnError(spec, "context done before spawn", err)
	}

	path, err := exec.LookPath(spec.Path)
	if err != nil {
		return nil, spawnError(spec, "executable not found", err)
	}

	cmd := exec.Command(path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = mergeEnv(os.Environ(), spec.Env)
	cmd.Stdout = spec.Stdout
	cmd.SysProcAttr = sysProcAttr()

	tail := newTailBuffer(stderrTailBytes)
	cmd.Stderr = tail

	if err := cmd.Start(); err != nil {
		return nil, spawnError(spec, "start failed", err)
	}

	h := &Handle{
		name:      spec.Name,
		path:      path,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		done:      make(chan struct{}),
		stderr:    tail,
	}

	go func() {
		h.exitErr = cmd.Wait()
		close(h.done)
	}()

	s.logger.Debug("process spawned",
		"name", spec.Name,
		"pid", h.pid,
		"path", path,
		"args", spec.Args)

	return h, nil
}

// IsAlive reports whether the process has not yet exited.
func (s *Supervisor) IsAlive(h *Handle) bool {
	if h == nil {
		return false
	}
	return !h.Exited()
}

// Terminate stops the process: SIGTERM to its group, a grace period, then
// SIGKILL and a bounded wait. A cancelled ctx cuts the grace period short
// but never the kill confirmation. Returns a ReclaimFailed error when the
// process survives SIGKILL.
func (s *Supervisor) Terminate(ctx context.Context, h *Handle, grace time.Duration) error {
	if h == nil || h.Exited() {
		return nil
	}

	log := s.logger.With("name", h.name, "pid", h.pid,
		"uptime", time.Since(h.startedAt).Round(time.Millisecond).String())

	signalGroup(h.pid, unix.SIGTERM)
	if s.waitExit(ctx, h, grace) {
		log.Debug("process exited after SIGTERM")
		sweepGroup(h.pid)
		return nil
	}

	log.Warn("process ignored SIGTERM, sending SIGKILL", "grace", grace.String())
	signalGroup(h.pid, unix.SIGKILL)
	if s.waitExit(context.Background(), h, s.killTimeout) {
		return nil
	}

	log.Error("process survived SIGKILL", "kill_timeout", s.killTimeout.String())
	return errors.NewEngineError(errors.KindReclaimFailed,
		fmt.Sprintf("%s did not exit after SIGKILL", h.name), nil).
		WithContext("pid", h.pid).
		WithContext("grace", grace).
		WithContext("kill_timeout", s.killTimeout)
}

// waitExit polls until the process exits, the timeout elapses or ctx is done.
func (s *Supervisor) waitExit(ctx context.Context, h *Handle, timeout time.Duration) bool {
	if timeout <= 0 {
		return !s.IsAlive(h)
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return true
		case <-ticker.C:
			if !s.IsAlive(h) {
				return true
			}
		case <-deadline.C:
			return !s.IsAlive(h)
		case <-ctx.Done():
			return !s.IsAlive(h)
		}
	}
}

// signalGroup signals the process group led by pid, falling back to the
// process itself when the group is gone.
func signalGroup(pid int, sig syscall.Signal) {
	if pid <= 0 {
		return
	}
	if err := unix.Kill(-pid, sig); errors.Is(err, unix.ESRCH) {
		_ = unix.Kill(pid, sig)
	}
}

// sweepGroup kills whatever is left in the group once the leader exited.
func sweepGroup(pid int) {
	if pid > 0 {
		_ = unix.Kill(-pid, unix.SIGKILL)
	}
}

func spawnError(spec Spec, msg string, cause error) error {
	return errors.NewEngineError(errors.KindSpawnError,
		fmt.Sprintf("%s: %s", spec.Name, msg), cause).
		WithContext("command", strings.TrimSpace(spec.Path+" "+strings.Join(spec.Args, " ")))
}

// mergeEnv appends extra to base; later keys replace earlier ones.
func mergeEnv(base, extra []string) []string {
	if len(extra) == 0 {
		return base
	}

	override := make(map[string]bool, len(extra))
	for _, kv := range extra {
		if k, _, ok := strings.Cut(kv, "="); ok {
			override[k] = true
		}
	}

	env := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		if k, _, ok := strings.Cut(kv, "="); ok && override[k] {
			continue
		}
		env = append(env, kv)
	}
	return append(env, extra...)
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	if t == nil {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
