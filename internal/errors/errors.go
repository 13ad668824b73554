// Package errors provides centralized error definitions and error handling utilities
// for termctl. It defines the engine's error taxonomy, semantic error types,
// error constructors with context wrapping, and error classification helpers.
//
// # Error Types
//
// The package provides two categories of errors:
//
// Engine errors ([EngineError]) are keyed by a [Kind] from the session engine's
// taxonomy:
//   - NoSlotsAvailable: every display number in the pool is leased
//   - DisplayStartTimeout: the virtual framebuffer never started listening
//   - SpawnError: a child process could not be started
//   - WindowNotFound: no lookup strategy produced exactly one window
//   - InvalidSessionState: the operation is not valid in the session's state
//   - UnknownKeySymbol: a key name is not in the symbol table
//   - InputFailed: the input tool could not focus or type into the window
//   - CaptureFailed: the display could not be rasterized
//   - ReclaimFailed: a process refused to die
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - ValidationError: invalid input
//   - TimeoutError: operation timed out
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewEngineError(errors.KindWindowNotFound, "no window for emulator", nil).
//	    WithSessionID("abc123").
//	    WithContext("strategies", "pid,class,title,active")
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrWindowNotFound) { ... }
//	if errors.KindOf(err) == errors.KindNoSlotsAvailable { ... }
//
//	var engineErr *errors.EngineError
//	if errors.As(err, &engineErr) { ... }
//
// # Error Classification
//
// Errors can be classified by severity and behavior:
//   - Retryable: transient errors that may succeed on retry
//   - Severity: Debug, Info, Warning, Error, Critical
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Engine sentinel errors. Every EngineError matches the sentinel of its Kind
// under errors.Is.
var (
	// ErrNoSlotsAvailable indicates the display pool is exhausted.
	ErrNoSlotsAvailable = New("no display slots available")
	// ErrDisplayStartTimeout indicates a display server did not come up in time.
	ErrDisplayStartTimeout = New("display server start timed out")
	// ErrSpawn indicates a child process failed to start.
	ErrSpawn = New("process spawn failed")
	// ErrWindowNotFound indicates window resolution failed.
	ErrWindowNotFound = New("window not found")
	// ErrInvalidSessionState indicates an operation was attempted in the wrong state.
	ErrInvalidSessionState = New("invalid session state")
	// ErrUnknownKeySymbol indicates a key name outside the symbol table.
	ErrUnknownKeySymbol = New("unknown key symbol")
	// ErrInputFailed indicates input could not be delivered to a window.
	ErrInputFailed = New("input failed")
	// ErrCaptureFailed indicates the display could not be captured.
	ErrCaptureFailed = New("capture failed")
	// ErrReclaimFailed indicates a process survived termination.
	ErrReclaimFailed = New("reclaim failed")
)

// General sentinel errors
var (
	// ErrSessionNotFound indicates that a session could not be found.
	ErrSessionNotFound = New("session not found")
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// TermctlError is the base interface for all termctl errors.
// It extends the standard error interface with additional methods for
// error handling and classification.
type TermctlError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	// This is used by errors.Is() for error comparison.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity  Severity
	retryable bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// -----------------------------------------------------------------------------
// Engine Errors
// -----------------------------------------------------------------------------

// Kind identifies an entry of the engine error taxonomy.
type Kind int

const (
	// KindUnknown is the zero value; it is returned by KindOf for foreign errors.
	KindUnknown Kind = iota
	KindNoSlotsAvailable
	KindDisplayStartTimeout
	KindSpawnError
	KindWindowNotFound
	KindInvalidSessionState
	KindUnknownKeySymbol
	KindInputFailed
	KindCaptureFailed
	KindReclaimFailed
)

// String returns the taxonomy name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNoSlotsAvailable:
		return "NoSlotsAvailable"
	case KindDisplayStartTimeout:
		return "DisplayStartTimeout"
	case KindSpawnError:
		return "SpawnError"
	case KindWindowNotFound:
		return "WindowNotFound"
	case KindInvalidSessionState:
		return "InvalidSessionState"
	case KindUnknownKeySymbol:
		return "UnknownKeySymbol"
	case KindInputFailed:
		return "InputFailed"
	case KindCaptureFailed:
		return "CaptureFailed"
	case KindReclaimFailed:
		return "ReclaimFailed"
	default:
		return "Unknown"
	}
}

// Sentinel returns the sentinel error matched by errors of this kind.
func (k Kind) Sentinel() error {
	switch k {
	case KindNoSlotsAvailable:
		return ErrNoSlotsAvailable
	case KindDisplayStartTimeout:
		return ErrDisplayStartTimeout
	case KindSpawnError:
		return ErrSpawn
	case KindWindowNotFound:
		return ErrWindowNotFound
	case KindInvalidSessionState:
		return ErrInvalidSessionState
	case KindUnknownKeySymbol:
		return ErrUnknownKeySymbol
	case KindInputFailed:
		return ErrInputFailed
	case KindCaptureFailed:
		return ErrCaptureFailed
	case KindReclaimFailed:
		return ErrReclaimFailed
	default:
		return nil
	}
}

// classify returns the default severity and retryability of a kind.
// Caller and capacity errors are never retryable.
func (k Kind) classify() (Severity, bool) {
	switch k {
	case KindNoSlotsAvailable, KindInvalidSessionState, KindUnknownKeySymbol:
		return SeverityWarning, false
	case KindDisplayStartTimeout, KindWindowNotFound, KindInputFailed, KindCaptureFailed:
		return SeverityError, true
	case KindReclaimFailed:
		return SeverityCritical, false
	default:
		return SeverityError, false
	}
}

// ContextField is one piece of diagnostic context attached to an EngineError.
type ContextField struct {
	Key   string
	Value any
}

// EngineError represents a failure of the session engine.
//
// Example:
//
//	err := errors.NewEngineError(errors.KindDisplayStartTimeout, "Xvfb never listened", nil).
//	    WithSessionID("abc123").
//	    WithContext("display", ":101").
//	    WithContext("timeout", 10*time.Second)
//	fmt.Println(err) // "DisplayStartTimeout [session=abc123, display=:101, timeout=10s]: Xvfb never listened"
type EngineError struct {
	baseError
	Kind      Kind
	SessionID string
	Context   []ContextField
}

// NewEngineError creates a new EngineError with the kind's default
// severity and retryability.
func NewEngineError(kind Kind, message string, cause error) *EngineError {
	severity, retryable := kind.classify()
	return &EngineError{
		baseError: baseError{
			message:   message,
			cause:     cause,
			severity:  severity,
			retryable: retryable,
		},
		Kind: kind,
	}
}

// WithSessionID adds a session ID to the error context.
func (e *EngineError) WithSessionID(id string) *EngineError {
	e.SessionID = id
	return e
}

// WithContext appends a diagnostic key/value pair. Keys keep insertion order.
func (e *EngineError) WithContext(key string, value any) *EngineError {
	e.Context = append(e.Context, ContextField{Key: key, Value: value})
	return e
}

// ContextValue returns the value recorded under key, if any.
func (e *EngineError) ContextValue(key string) (any, bool) {
	for _, f := range e.Context {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Message returns the error message without kind, context or cause.
func (e *EngineError) Message() string {
	return e.message
}

// Error returns the formatted error message.
func (e *EngineError) Error() string {
	var parts []string
	if e.SessionID != "" {
		parts = append(parts, fmt.Sprintf("session=%s", e.SessionID))
	}
	for _, f := range e.Context {
		parts = append(parts, fmt.Sprintf("%s=%v", f.Key, f.Value))
	}

	prefix := e.Kind.String()
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", prefix, strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *EngineError) Is(target error) bool {
	if t, ok := target.(*EngineError); ok {
		return t.Kind == KindUnknown || t.Kind == e.Kind
	}
	if sentinel := e.Kind.Sentinel(); sentinel != nil && target == sentinel {
		return true
	}
	return e.baseError.Is(target)
}

// KindOf returns the Kind of the first EngineError in err's chain,
// or KindUnknown if there is none.
func KindOf(err error) Kind {
	var engineErr *EngineError
	if As(err, &engineErr) {
		return engineErr.Kind
	}
	return KindUnknown
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("session", "abc123")
//	fmt.Println(err) // "session 'abc123' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:  SeverityWarning,
			retryable: false,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	if target == ErrSessionNotFound && e.ResourceType == "session" {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input.
//
// Example:
//
//	err := errors.NewValidationError("width must be positive")
//	err = err.WithField("geometry.width").WithValue(-1)
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:  SeverityWarning,
			retryable: false,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}

	prefix := "validation error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("validation error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if errors.Is(target, ErrInvalidInput) {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out.
//
// Example:
//
//	err := errors.NewTimeoutError("send input", 10*time.Second)
//	fmt.Println(err) // "timeout error: send input (timeout: 10s)"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:   operation,
			severity:  SeverityWarning,
			retryable: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if errors.Is(target, ErrTimeout) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry. This checks for:
//   - Errors implementing TermctlError with IsRetryable() returning true
//   - Errors wrapping ErrTimeout
//
// Example:
//
//	if errors.IsRetryable(err) {
//	    return relaunch()
//	}
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var termctlErr TermctlError
	if As(err, &termctlErr) {
		return termctlErr.IsRetryable()
	}

	if Is(err, ErrTimeout) {
		return true
	}

	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement TermctlError.
//
// Example:
//
//	switch errors.GetSeverity(err) {
//	case errors.SeverityCritical:
//	    logger.Error("resource leak", "error", err)
//	case errors.SeverityWarning:
//	    logger.Warn("request rejected", "error", err)
//	}
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var termctlErr TermctlError
	if As(err, &termctlErr) {
		return termctlErr.Severity()
	}

	return SeverityError
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
// Unlike fmt.Errorf with %w, this returns nil for a nil error.
//
// Example:
//
//	err := errors.Wrap(baseErr, "failed to close session")
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
//
// Example:
//
//	err := errors.Wrapf(baseErr, "failed to close session %s", sessionID)
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
