package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Iron-Ham/termctl/internal/logging"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "display.pool_size")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// X display numbers and screen sizes accepted by the allocator.
const (
	maxDisplayNumber = 65535
	maxPoolSize      = 1000
	maxScreenPixels  = 16384
)

// ValidStrategies returns the list of window lookup strategy names
func ValidStrategies() []string {
	return []string{"pid", "class", "title", "active"}
}

// ValidDepths returns the screen depths the framebuffer server accepts
func ValidDepths() []int {
	return []int{8, 15, 16, 24, 30}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateDisplay()...)
	errors = append(errors, c.validateEmulator()...)
	errors = append(errors, c.validateSession()...)
	errors = append(errors, c.validateWindow()...)
	errors = append(errors, c.validateInput()...)
	errors = append(errors, c.validateCapture()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateDisplay validates the DisplayConfig
func (c *Config) validateDisplay() []ValidationError {
	var errors []ValidationError
	d := c.Display

	if d.ServerBinary == "" {
		errors = append(errors, ValidationError{
			Field:   "display.server_binary",
			Value:   d.ServerBinary,
			Message: "must not be empty",
		})
	}
	if d.BaseNumber < 0 {
		errors = append(errors, ValidationError{
			Field:   "display.base_number",
			Value:   d.BaseNumber,
			Message: "must be non-negative",
		})
	}
	if d.PoolSize < 1 || d.PoolSize > maxPoolSize {
		errors = append(errors, ValidationError{
			Field:   "display.pool_size",
			Value:   d.PoolSize,
			Message: fmt.Sprintf("must be between 1 and %d", maxPoolSize),
		})
	}
	if d.BaseNumber >= 0 && d.BaseNumber+d.PoolSize-1 > maxDisplayNumber {
		errors = append(errors, ValidationError{
			Field:   "display.base_number",
			Value:   d.BaseNumber,
			Message: fmt.Sprintf("pool would exceed display number %d", maxDisplayNumber),
		})
	}
	if !slices.Contains(ValidDepths(), d.Depth) {
		errors = append(errors, ValidationError{
			Field:   "display.depth",
			Value:   d.Depth,
			Message: fmt.Sprintf("must be one of: %v", ValidDepths()),
		})
	}
	if d.DPI < 1 {
		errors = append(errors, ValidationError{
			Field:   "display.dpi",
			Value:   d.DPI,
			Message: "must be positive",
		})
	}
	if d.StartTimeoutSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "display.start_timeout_seconds",
			Value:   d.StartTimeoutSeconds,
			Message: "must be at least 1",
		})
	}
	if d.PollIntervalMs < 1 {
		errors = append(errors, ValidationError{
			Field:   "display.poll_interval_ms",
			Value:   d.PollIntervalMs,
			Message: "must be positive",
		})
	}
	if d.SocketDir == "" {
		errors = append(errors, ValidationError{
			Field:   "display.socket_dir",
			Value:   d.SocketDir,
			Message: "must not be empty",
		})
	}
	if d.LockDir == "" {
		errors = append(errors, ValidationError{
			Field:   "display.lock_dir",
			Value:   d.LockDir,
			Message: "must not be empty",
		})
	}

	return errors
}

// validateEmulator validates the EmulatorConfig
func (c *Config) validateEmulator() []ValidationError {
	var errors []ValidationError

	if c.Emulator.Binary == "" {
		errors = append(errors, ValidationError{
			Field:   "emulator.binary",
			Value:   c.Emulator.Binary,
			Message: "must not be empty",
		})
	}
	for i, arg := range c.Emulator.ExtraArgs {
		if arg == "-e" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("emulator.extra_args[%d]", i),
				Value:   arg,
				Message: "must not contain -e; the session command is appended automatically",
			})
		}
	}

	return errors
}

// validateSession validates the SessionConfig
func (c *Config) validateSession() []ValidationError {
	var errors []ValidationError
	s := c.Session

	if s.DefaultWidth < 1 || s.DefaultWidth > maxScreenPixels {
		errors = append(errors, ValidationError{
			Field:   "session.default_width",
			Value:   s.DefaultWidth,
			Message: fmt.Sprintf("must be between 1 and %d", maxScreenPixels),
		})
	}
	if s.DefaultHeight < 1 || s.DefaultHeight > maxScreenPixels {
		errors = append(errors, ValidationError{
			Field:   "session.default_height",
			Value:   s.DefaultHeight,
			Message: fmt.Sprintf("must be between 1 and %d", maxScreenPixels),
		})
	}
	if s.StartupTimeoutSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "session.startup_timeout_seconds",
			Value:   s.StartupTimeoutSeconds,
			Message: "must be at least 1",
		})
	}
	if s.OperationTimeoutSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "session.operation_timeout_seconds",
			Value:   s.OperationTimeoutSeconds,
			Message: "must be at least 1",
		})
	}
	if s.GracePeriodMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "session.grace_period_ms",
			Value:   s.GracePeriodMs,
			Message: "must be non-negative",
		})
	}
	if s.KillTimeoutMs < 1 {
		errors = append(errors, ValidationError{
			Field:   "session.kill_timeout_ms",
			Value:   s.KillTimeoutMs,
			Message: "must be positive",
		})
	}
	if s.IdleTimeoutSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "session.idle_timeout_seconds",
			Value:   s.IdleTimeoutSeconds,
			Message: "must be non-negative (0 disables idle reclamation)",
		})
	}
	if s.ClosedRetentionSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "session.closed_retention_seconds",
			Value:   s.ClosedRetentionSeconds,
			Message: "must be non-negative",
		})
	}
	if s.ReapIntervalSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "session.reap_interval_seconds",
			Value:   s.ReapIntervalSeconds,
			Message: "must be at least 1",
		})
	}

	return errors
}

// validateWindow validates the WindowConfig
func (c *Config) validateWindow() []ValidationError {
	var errors []ValidationError
	w := c.Window

	if len(w.Strategies) == 0 {
		errors = append(errors, ValidationError{
			Field:   "window.strategies",
			Value:   w.Strategies,
			Message: "must name at least one strategy",
		})
	}
	seen := make(map[string]bool, len(w.Strategies))
	for i, s := range w.Strategies {
		if !slices.Contains(ValidStrategies(), s) {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("window.strategies[%d]", i),
				Value:   s,
				Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidStrategies(), ", ")),
			})
			continue
		}
		if seen[s] {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("window.strategies[%d]", i),
				Value:   s,
				Message: "is listed more than once",
			})
		}
		seen[s] = true
	}
	if seen["class"] && w.Class == "" {
		errors = append(errors, ValidationError{
			Field:   "window.class",
			Value:   w.Class,
			Message: "must not be empty when the class strategy is enabled",
		})
	}
	if w.InitialBackoffMs < 1 {
		errors = append(errors, ValidationError{
			Field:   "window.initial_backoff_ms",
			Value:   w.InitialBackoffMs,
			Message: "must be positive",
		})
	}
	if w.MaxBackoffMs < w.InitialBackoffMs {
		errors = append(errors, ValidationError{
			Field:   "window.max_backoff_ms",
			Value:   w.MaxBackoffMs,
			Message: "must not be less than window.initial_backoff_ms",
		})
	}

	return errors
}

// validateInput validates the InputConfig
func (c *Config) validateInput() []ValidationError {
	var errors []ValidationError

	if c.Input.Tool == "" {
		errors = append(errors, ValidationError{
			Field:   "input.tool",
			Value:   c.Input.Tool,
			Message: "must not be empty",
		})
	}
	if c.Input.SettleDelayMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "input.settle_delay_ms",
			Value:   c.Input.SettleDelayMs,
			Message: "must be non-negative",
		})
	}
	if c.Input.TypeDelayMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "input.type_delay_ms",
			Value:   c.Input.TypeDelayMs,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateCapture validates the CaptureConfig
func (c *Config) validateCapture() []ValidationError {
	var errors []ValidationError

	if c.Capture.Tool == "" {
		errors = append(errors, ValidationError{
			Field:   "capture.tool",
			Value:   c.Capture.Tool,
			Message: "must not be empty",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(logging.ValidLevels(), strings.ToUpper(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(logging.ValidLevels(), ", ")),
		})
	}
	if c.Logging.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be non-negative (0 disables rotation)",
		})
	}
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
