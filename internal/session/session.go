package session

import (
	"sync"
	"time"

	"github.com/Iron-Ham/termctl/internal/display"
	"github.com/Iron-Ham/termctl/internal/process"
	"github.com/Iron-Ham/termctl/internal/window"
)

// State represents the lifecycle state of a session.
type State int

const (
	// StateInitializing indicates the display, emulator and window are being set up.
	StateInitializing State = iota

	// StateActive indicates the session accepts input and capture.
	StateActive

	// StateClosing indicates the session's processes are being torn down.
	StateClosing

	// StateClosed indicates every resource was released. Closed sessions stay
	// queryable until the reaper forgets them.
	StateClosed

	// StateError indicates launch or teardown failed, or the emulator died.
	// Sessions in this state are never retried; they can only be closed.
	StateError
)

// String returns the upper-case name of the state.
func (s State) String() string {
	switch s {
	case StateInitializing:
		return "INITIALIZING"
	case StateActive:
		return "ACTIVE"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transitions happen without Close.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateError
}

// Geometry is the size of a session. Width and Height are the display size
// in pixels; Columns and Rows are the emulator size in character cells.
type Geometry struct {
	Width   int    `yaml:"width"`
	Height  int    `yaml:"height"`
	Columns int    `yaml:"columns"`
	Rows    int    `yaml:"rows"`
	Font    string `yaml:"font"`
}

// Approximate cell size of the default fixed font.
const (
	cellWidth  = 12
	cellHeight = 20
)

// withDefaults fills zero fields: pixels from the given defaults, cells
// from pixels.
func (g Geometry) withDefaults(width, height int, font string) Geometry {
	if g.Width <= 0 {
		g.Width = width
	}
	if g.Height <= 0 {
		g.Height = height
	}
	if g.Columns <= 0 {
		g.Columns = max(1, g.Width/cellWidth)
	}
	if g.Rows <= 0 {
		g.Rows = max(1, g.Height/cellHeight)
	}
	if g.Font == "" {
		g.Font = font
	}
	return g
}

// LaunchOptions describes a session to start.
type LaunchOptions struct {
	// ID is an optional caller-chosen id; a random one is generated when empty.
	ID string
	// Command is the command line run inside the emulator.
	Command string
	// Geometry sizes the display and the emulator; zero fields use defaults.
	Geometry Geometry
	// StartupTimeout bounds display start plus window resolution for this
	// session. Zero uses the manager's default.
	StartupTimeout time.Duration
	// OperationTimeout bounds each input and capture on this session.
	// Zero uses the manager's default.
	OperationTimeout time.Duration
}

// Payload is one unit of input. Exactly one of Text and Key is set.
type Payload struct {
	// Text is typed literally.
	Text string
	// Key is a key name such as "Enter" or "ctrl+c".
	Key string
}

// Info is a read-only snapshot of a session.
type Info struct {
	ID             string
	State          State
	Command        string
	Display        string
	EmulatorPID    int
	WindowID       string
	WindowStrategy string
	Geometry       Geometry
	CreatedAt      time.Time
	LastActivityAt time.Time
	EndedAt        time.Time
	LastError      error
}

// session is the engine's record of one session.
//
// opMu serializes launch, input, capture, close and failure handling. mu
// guards the fields below it so that status queries never wait behind a
// slow operation.
type session struct {
	opMu sync.Mutex
	// forgotten is set under opMu once the session left the table.
	forgotten bool

	id        string
	command   string
	argv      []string
	title     string
	geometry  Geometry
	createdAt time.Time

	startupTimeout   time.Duration
	operationTimeout time.Duration

	mu           sync.Mutex
	state        State
	slot         *display.Slot
	emulator     *process.Handle
	window       window.Handle
	lastActivity time.Time
	endedAt      time.Time
	lastError    error
}

func (s *session) getState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *session) info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		ID:             s.id,
		State:          s.state,
		Command:        s.command,
		WindowID:       s.window.ID,
		WindowStrategy: string(s.window.Strategy),
		Geometry:       s.geometry,
		CreatedAt:      s.createdAt,
		LastActivityAt: s.lastActivity,
		EndedAt:        s.endedAt,
		LastError:      s.lastError,
	}
	if s.slot != nil {
		info.Display = s.slot.Name()
	}
	if s.emulator != nil {
		info.EmulatorPID = s.emulator.PID()
	}
	return info
}
