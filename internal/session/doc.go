// Package session implements the session state machine: it launches a
// terminal emulator on a freshly leased virtual display, resolves the
// emulator's window, serializes input and capture against that window, and
// tears everything down again.
//
// # State Machine
//
//	INITIALIZING ──► ACTIVE ──► CLOSING ──► CLOSED
//	      │             │           │
//	      └─────────────┴───────────┴──► ERROR ──► CLOSING
//
// A launch that fails at any step ends in ERROR with its emulator already
// terminated and its display released. An ACTIVE session whose emulator
// exits on its own also moves to ERROR. ERROR sessions are never retried.
//
// # Locking
//
// Each session has its own operation lock, held for the whole of launch,
// input, capture, close and failure handling. Operations on different
// sessions never wait for each other; the manager lock only guards the
// session table.
//
// # Reclamation
//
// The Reaper closes sessions idle for longer than the configured timeout
// (disabled by default) and forgets ended sessions after a retention period.
// Manager.Shutdown closes every remaining session concurrently.
package session
