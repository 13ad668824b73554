package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/termctl/internal/display"
	"github.com/Iron-Ham/termctl/internal/errors"
	"github.com/Iron-Ham/termctl/internal/event"
	"github.com/Iron-Ham/termctl/internal/process"
)

// xvfbLike returns a server command that behaves like Xvfb: it writes its
// pid to the display's lock file, creates the socket, and removes both when
// it receives SIGTERM.
func xvfbLike(socketDir, lockDir string) display.CommandFunc {
	return func(n int, _ display.Screen) (string, []string) {
		lock := filepath.Join(lockDir, fmt.Sprintf(".X%d-lock", n))
		socket := filepath.Join(socketDir, fmt.Sprintf("X%d", n))
		script := fmt.Sprintf(`printf '%%10d\n' $$ > %[1]s
touch %[2]s
trap 'rm -f %[1]s %[2]s; exit 0' TERM
while :; do sleep 0.05; done`, lock, socket)
		return "sh", []string{"-c", script}
	}
}

// newPoolHarness builds a manager over a real display allocator of size
// poolSize. Only the window resolver, injector and capturer are fakes.
func newPoolHarness(t *testing.T, poolSize int) (*Manager, *display.Allocator) {
	t.Helper()

	root := t.TempDir()
	socketDir := filepath.Join(root, "x11")
	lockDir := filepath.Join(root, "locks")
	for _, d := range []string{socketDir, lockDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatal(err)
		}
	}

	sup := process.NewSupervisor(process.Options{PollInterval: 10 * time.Millisecond, KillTimeout: time.Second})
	bus := event.NewBus(nil)
	alloc := display.NewAllocator(sup, display.Options{
		BaseNumber:   640,
		PoolSize:     poolSize,
		StartTimeout: 3 * time.Second,
		PollInterval: 10 * time.Millisecond,
		GracePeriod:  time.Second,
		SocketDir:    socketDir,
		LockDir:      lockDir,
		Command:      xvfbLike(socketDir, lockDir),
		Bus:          bus,
	})

	m := NewManager(Options{
		Displays:  alloc,
		Processes: sup,
		Resolver:  &fakeResolver{gate: map[string]chan struct{}{}},
		Injector:  &fakeInjector{},
		Capturer:  &fakeCapturer{},
		EmulatorCommand: func(EmulatorSpec) (string, []string) {
			return "sleep", []string{"30"}
		},
		StartupTimeout:   5 * time.Second,
		OperationTimeout: time.Second,
		GracePeriod:      time.Second,
		Bus:              bus,
	})
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m, alloc
}

func TestLaunch_BoundedByDisplayPool(t *testing.T) {
	const poolSize, launches = 2, 5
	m, alloc := newPoolHarness(t, poolSize)
	ctx := context.Background()

	var (
		mu        sync.Mutex
		succeeded []string
		noSlots   int
		wg        sync.WaitGroup
	)
	for range launches {
		wg.Go(func() {
			id, err := m.Launch(ctx, LaunchOptions{Command: "sh"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded = append(succeeded, id)
			case errors.Is(err, errors.ErrNoSlotsAvailable):
				noSlots++
			default:
				t.Errorf("Launch() error = %v", err)
			}
		})
	}
	wg.Wait()

	if len(succeeded) != poolSize || noSlots != launches-poolSize {
		t.Fatalf("succeeded = %d, NoSlotsAvailable = %d; want %d and %d",
			len(succeeded), noSlots, poolSize, launches-poolSize)
	}
	displays := map[string]bool{}
	for _, id := range succeeded {
		info, _ := m.Status(id)
		if displays[info.Display] {
			t.Errorf("display %s shared by two sessions", info.Display)
		}
		displays[info.Display] = true
	}
	if got := alloc.InUse(); got != poolSize {
		t.Errorf("InUse() = %d, want %d", got, poolSize)
	}

	// Still full: one more launch is rejected without waiting.
	if _, err := m.Launch(ctx, LaunchOptions{Command: "sh"}); !errors.Is(err, errors.ErrNoSlotsAvailable) {
		t.Fatalf("Launch() on a full pool = %v, want NoSlotsAvailable", err)
	}

	closed, _ := m.Status(succeeded[0])
	if err := m.Close(ctx, succeeded[0]); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if foreign := alloc.Foreign(); len(foreign) != 0 {
		t.Errorf("Foreign() after close = %v, want none", foreign)
	}

	id, err := m.Launch(ctx, LaunchOptions{Command: "sh"})
	if err != nil {
		t.Fatalf("Launch() after a close error = %v", err)
	}
	info, _ := m.Status(id)
	if info.State != StateActive {
		t.Errorf("relaunched state = %v, want ACTIVE", info.State)
	}
	if info.Display != closed.Display {
		t.Errorf("relaunch got %s, want the released %s", info.Display, closed.Display)
	}
}
