// Package event provides a pub-sub event bus for decoupled communication
// between the session engine and its observers.
//
// Engine components publish lifecycle events without knowing who consumes
// them; the metrics collector and the CLI subscribe to the ones they need.
//
// # Main Types
//
//   - [Event]: Interface that all events must implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous pub-sub event dispatcher with thread-safe operations
//   - [Handler]: Function type for event handlers (func(Event))
//
// # Event Categories
//
// Session:
//   - [SessionStateChangedEvent]: every state machine transition
//   - [SessionLaunchedEvent]: outcome and duration of a launch
//   - [SessionInputEvent], [SessionCapturedEvent]: delivered operations
//
// Display:
//   - [DisplayAcquiredEvent], [DisplayReleasedEvent]: pool occupancy changes
//
// Process:
//   - [ReclaimFailedEvent]: a process that survived termination
//
// # Delivery
//
// Publish runs handlers synchronously on the caller's goroutine, so handlers
// must be quick and must not call back into the publisher. Panics in a
// handler are recovered and logged.
package event
