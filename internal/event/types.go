package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "session.state_changed").
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers.
const (
	TypeSessionStateChanged = "session.state_changed"
	TypeSessionLaunched     = "session.launched"
	TypeSessionInput        = "session.input"
	TypeSessionCaptured     = "session.captured"
	TypeSessionForgotten    = "session.forgotten"
	TypeDisplayAcquired     = "display.acquired"
	TypeDisplayReleased     = "display.released"
	TypeReclaimFailed       = "process.reclaim_failed"
)

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// newBaseEvent creates a baseEvent with the current time.
func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Session Events
// -----------------------------------------------------------------------------

// SessionStateChangedEvent is emitted on every session state transition.
// States are the upper-case state names (INITIALIZING, ACTIVE, ...).
type SessionStateChangedEvent struct {
	baseEvent
	SessionID string
	From      string // Empty for the initial transition
	To        string
	Reason    string // Error text for transitions into ERROR
}

// NewSessionStateChangedEvent creates a SessionStateChangedEvent.
func NewSessionStateChangedEvent(sessionID, from, to, reason string) SessionStateChangedEvent {
	return SessionStateChangedEvent{
		baseEvent: newBaseEvent(TypeSessionStateChanged),
		SessionID: sessionID,
		From:      from,
		To:        to,
		Reason:    reason,
	}
}

// SessionLaunchedEvent is emitted when a launch attempt finishes.
type SessionLaunchedEvent struct {
	baseEvent
	SessionID string
	Success   bool
	ErrorKind string // Engine error kind name when Success is false
	Duration  time.Duration
}

// NewSessionLaunchedEvent creates a SessionLaunchedEvent.
func NewSessionLaunchedEvent(sessionID string, success bool, errorKind string, d time.Duration) SessionLaunchedEvent {
	return SessionLaunchedEvent{
		baseEvent: newBaseEvent(TypeSessionLaunched),
		SessionID: sessionID,
		Success:   success,
		ErrorKind: errorKind,
		Duration:  d,
	}
}

// SessionInputEvent is emitted after input was delivered to a session.
type SessionInputEvent struct {
	baseEvent
	SessionID string
	Kind      string // "text" or "key"
	Length    int    // Characters typed, or 1 for a key
}

// NewSessionInputEvent creates a SessionInputEvent.
func NewSessionInputEvent(sessionID, kind string, length int) SessionInputEvent {
	return SessionInputEvent{
		baseEvent: newBaseEvent(TypeSessionInput),
		SessionID: sessionID,
		Kind:      kind,
		Length:    length,
	}
}

// SessionCapturedEvent is emitted after a successful capture.
type SessionCapturedEvent struct {
	baseEvent
	SessionID string
	Width     int
	Height    int
	Bytes     int // Size of the encoded capture produced by the tool
	Duration  time.Duration
}

// NewSessionCapturedEvent creates a SessionCapturedEvent.
func NewSessionCapturedEvent(sessionID string, width, height, bytes int, d time.Duration) SessionCapturedEvent {
	return SessionCapturedEvent{
		baseEvent: newBaseEvent(TypeSessionCaptured),
		SessionID: sessionID,
		Width:     width,
		Height:    height,
		Bytes:     bytes,
		Duration:  d,
	}
}

// SessionForgottenEvent is emitted when an ended session is dropped from the
// session table and can no longer be queried.
type SessionForgottenEvent struct {
	baseEvent
	SessionID string
	State     string // Final state, CLOSED or ERROR
}

// NewSessionForgottenEvent creates a SessionForgottenEvent.
func NewSessionForgottenEvent(sessionID, state string) SessionForgottenEvent {
	return SessionForgottenEvent{
		baseEvent: newBaseEvent(TypeSessionForgotten),
		SessionID: sessionID,
		State:     state,
	}
}

// -----------------------------------------------------------------------------
// Display Events
// -----------------------------------------------------------------------------

// DisplayAcquiredEvent is emitted when a display server is up for an owner.
type DisplayAcquiredEvent struct {
	baseEvent
	Owner    string
	Number   int
	Startup  time.Duration
	InUse    int // Slots leased after this acquisition
	Capacity int
}

// NewDisplayAcquiredEvent creates a DisplayAcquiredEvent.
func NewDisplayAcquiredEvent(owner string, number int, startup time.Duration, inUse, capacity int) DisplayAcquiredEvent {
	return DisplayAcquiredEvent{
		baseEvent: newBaseEvent(TypeDisplayAcquired),
		Owner:     owner,
		Number:    number,
		Startup:   startup,
		InUse:     inUse,
		Capacity:  capacity,
	}
}

// DisplayReleasedEvent is emitted when a slot leaves the leased set,
// either freed or quarantined.
type DisplayReleasedEvent struct {
	baseEvent
	Owner       string
	Number      int
	Quarantined bool
	InUse       int
	Capacity    int
}

// NewDisplayReleasedEvent creates a DisplayReleasedEvent.
func NewDisplayReleasedEvent(owner string, number int, quarantined bool, inUse, capacity int) DisplayReleasedEvent {
	return DisplayReleasedEvent{
		baseEvent:   newBaseEvent(TypeDisplayReleased),
		Owner:       owner,
		Number:      number,
		Quarantined: quarantined,
		InUse:       inUse,
		Capacity:    capacity,
	}
}

// -----------------------------------------------------------------------------
// Process Events
// -----------------------------------------------------------------------------

// ReclaimFailedEvent is emitted when a supervised process survives SIGKILL.
type ReclaimFailedEvent struct {
	baseEvent
	SessionID string
	Process   string // "emulator" or "display"
	PID       int
}

// NewReclaimFailedEvent creates a ReclaimFailedEvent.
func NewReclaimFailedEvent(sessionID, process string, pid int) ReclaimFailedEvent {
	return ReclaimFailedEvent{
		baseEvent: newBaseEvent(TypeReclaimFailed),
		SessionID: sessionID,
		Process:   process,
		PID:       pid,
	}
}
