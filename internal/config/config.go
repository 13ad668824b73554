package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete termctl configuration
type Config struct {
	Display  DisplayConfig  `mapstructure:"display" yaml:"display"`
	Emulator EmulatorConfig `mapstructure:"emulator" yaml:"emulator"`
	Session  SessionConfig  `mapstructure:"session" yaml:"session"`
	Window   WindowConfig   `mapstructure:"window" yaml:"window"`
	Input    InputConfig    `mapstructure:"input" yaml:"input"`
	Capture  CaptureConfig  `mapstructure:"capture" yaml:"capture"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
}

// DisplayConfig controls the virtual framebuffer pool
type DisplayConfig struct {
	// ServerBinary is the framebuffer server executable (default: "Xvfb")
	ServerBinary string `mapstructure:"server_binary" yaml:"server_binary"`
	// BaseNumber is the first display number of the pool (default: 100)
	BaseNumber int `mapstructure:"base_number" yaml:"base_number"`
	// PoolSize is how many consecutive display numbers the pool manages (default: 100)
	PoolSize int `mapstructure:"pool_size" yaml:"pool_size"`
	// Depth is the screen color depth in bits (default: 24)
	Depth int `mapstructure:"depth" yaml:"depth"`
	// DPI is passed to the server with -dpi (default: 100)
	DPI int `mapstructure:"dpi" yaml:"dpi"`
	// StartTimeoutSeconds bounds how long to wait for the server socket (default: 10)
	StartTimeoutSeconds int `mapstructure:"start_timeout_seconds" yaml:"start_timeout_seconds"`
	// PollIntervalMs is the readiness poll interval used alongside file watching (default: 50)
	PollIntervalMs int `mapstructure:"poll_interval_ms" yaml:"poll_interval_ms"`
	// SocketDir holds the X<N> listening sockets (default: "/tmp/.X11-unix")
	SocketDir string `mapstructure:"socket_dir" yaml:"socket_dir"`
	// LockDir holds the .X<N>-lock files (default: "/tmp")
	LockDir string `mapstructure:"lock_dir" yaml:"lock_dir"`
	// ExtraArgs are appended to the server command line
	ExtraArgs []string `mapstructure:"extra_args" yaml:"extra_args"`
}

// EmulatorConfig controls the terminal emulator hosted on each display
type EmulatorConfig struct {
	// Binary is the emulator executable (default: "xterm")
	Binary string `mapstructure:"binary" yaml:"binary"`
	// Font is the X font used by the emulator
	Font string `mapstructure:"font" yaml:"font"`
	// Background and Foreground are emulator colors (default: black on white text)
	Background string `mapstructure:"background" yaml:"background"`
	Foreground string `mapstructure:"foreground" yaml:"foreground"`
	// Hold keeps the emulator window open after the command exits (default: true)
	Hold bool `mapstructure:"hold" yaml:"hold"`
	// ExtraArgs are inserted before the -e command separator
	ExtraArgs []string `mapstructure:"extra_args" yaml:"extra_args"`
}

// SessionConfig controls session lifecycle timing
type SessionConfig struct {
	// DefaultWidth and DefaultHeight are the display size in pixels (default: 1024x768)
	DefaultWidth  int `mapstructure:"default_width" yaml:"default_width"`
	DefaultHeight int `mapstructure:"default_height" yaml:"default_height"`
	// StartupTimeoutSeconds bounds display start plus window resolution (default: 15)
	StartupTimeoutSeconds int `mapstructure:"startup_timeout_seconds" yaml:"startup_timeout_seconds"`
	// OperationTimeoutSeconds bounds each input or capture call (default: 10)
	OperationTimeoutSeconds int `mapstructure:"operation_timeout_seconds" yaml:"operation_timeout_seconds"`
	// GracePeriodMs is how long a process gets between SIGTERM and SIGKILL (default: 5000)
	GracePeriodMs int `mapstructure:"grace_period_ms" yaml:"grace_period_ms"`
	// KillTimeoutMs bounds the wait after SIGKILL (default: 2000)
	KillTimeoutMs int `mapstructure:"kill_timeout_ms" yaml:"kill_timeout_ms"`
	// IdleTimeoutSeconds closes sessions with no activity for this long (0 = disabled, default)
	IdleTimeoutSeconds int `mapstructure:"idle_timeout_seconds" yaml:"idle_timeout_seconds"`
	// ClosedRetentionSeconds is how long closed sessions stay queryable (default: 300)
	ClosedRetentionSeconds int `mapstructure:"closed_retention_seconds" yaml:"closed_retention_seconds"`
	// ReapIntervalSeconds is how often the reaper scans sessions (default: 30)
	ReapIntervalSeconds int `mapstructure:"reap_interval_seconds" yaml:"reap_interval_seconds"`
}

// WindowConfig controls window resolution
type WindowConfig struct {
	// Strategies is the ordered list of lookup strategies (default: pid, class, title, active)
	Strategies []string `mapstructure:"strategies" yaml:"strategies"`
	// Class is the WM_CLASS searched by the class strategy (default: "XTerm")
	Class string `mapstructure:"class" yaml:"class"`
	// InitialBackoffMs and MaxBackoffMs shape the retry backoff (default: 50, 500)
	InitialBackoffMs int `mapstructure:"initial_backoff_ms" yaml:"initial_backoff_ms"`
	MaxBackoffMs     int `mapstructure:"max_backoff_ms" yaml:"max_backoff_ms"`
}

// InputConfig controls keystroke injection
type InputConfig struct {
	// Tool is the X automation binary (default: "xdotool")
	Tool string `mapstructure:"tool" yaml:"tool"`
	// SettleDelayMs is the pause after focusing a window (default: 200)
	SettleDelayMs int `mapstructure:"settle_delay_ms" yaml:"settle_delay_ms"`
	// TypeDelayMs is the per-character delay passed to the type command (default: 12)
	TypeDelayMs int `mapstructure:"type_delay_ms" yaml:"type_delay_ms"`
}

// CaptureConfig controls display capture
type CaptureConfig struct {
	// Tool is the screenshot binary (default: "import")
	Tool string `mapstructure:"tool" yaml:"tool"`
	// TempDir is where capture files are staged; empty uses the system temp dir
	TempDir string `mapstructure:"temp_dir" yaml:"temp_dir"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level" yaml:"level"`
	// File is the log file path; empty logs to stderr
	File string `mapstructure:"file" yaml:"file"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
	// Compress gzips rotated log files (default: false)
	Compress bool `mapstructure:"compress" yaml:"compress"`
}

// MetricsConfig controls the prometheus endpoint
type MetricsConfig struct {
	// ListenAddress serves /metrics when set, e.g. "127.0.0.1:9464"
	ListenAddress string `mapstructure:"listen_address" yaml:"listen_address"`
}

// DefaultFont is the fixed-width X core font used by the emulator.
const DefaultFont = "-*-fixed-medium-r-*-*-14-*-*-*-*-*-*-*"

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Display: DisplayConfig{
			ServerBinary:        "Xvfb",
			BaseNumber:          100,
			PoolSize:            100,
			Depth:               24,
			DPI:                 100,
			StartTimeoutSeconds: 10,
			PollIntervalMs:      50,
			SocketDir:           "/tmp/.X11-unix",
			LockDir:             "/tmp",
			ExtraArgs:           []string{},
		},
		Emulator: EmulatorConfig{
			Binary:     "xterm",
			Font:       DefaultFont,
			Background: "black",
			Foreground: "white",
			Hold:       true,
			ExtraArgs:  []string{},
		},
		Session: SessionConfig{
			DefaultWidth:            1024,
			DefaultHeight:           768,
			StartupTimeoutSeconds:   15,
			OperationTimeoutSeconds: 10,
			GracePeriodMs:           5000,
			KillTimeoutMs:           2000,
			IdleTimeoutSeconds:      0, // Disabled by default
			ClosedRetentionSeconds:  300,
			ReapIntervalSeconds:     30,
		},
		Window: WindowConfig{
			Strategies:       []string{"pid", "class", "title", "active"},
			Class:            "XTerm",
			InitialBackoffMs: 50,
			MaxBackoffMs:     500,
		},
		Input: InputConfig{
			Tool:          "xdotool",
			SettleDelayMs: 200,
			TypeDelayMs:   12,
		},
		Capture: CaptureConfig{
			Tool: "import",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// StartTimeout returns the display start timeout as a time.Duration
func (c *DisplayConfig) StartTimeout() time.Duration {
	return time.Duration(c.StartTimeoutSeconds) * time.Second
}

// PollInterval returns the readiness poll interval as a time.Duration
func (c *DisplayConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// StartupTimeout returns the session startup timeout as a time.Duration
func (c *SessionConfig) StartupTimeout() time.Duration {
	return time.Duration(c.StartupTimeoutSeconds) * time.Second
}

// OperationTimeout returns the input/capture timeout as a time.Duration
func (c *SessionConfig) OperationTimeout() time.Duration {
	return time.Duration(c.OperationTimeoutSeconds) * time.Second
}

// GracePeriod returns the SIGTERM grace period as a time.Duration
func (c *SessionConfig) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodMs) * time.Millisecond
}

// KillTimeout returns the post-SIGKILL wait as a time.Duration
func (c *SessionConfig) KillTimeout() time.Duration {
	return time.Duration(c.KillTimeoutMs) * time.Millisecond
}

// IdleTimeout returns the idle reclamation timeout (0 means disabled)
func (c *SessionConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

// ClosedRetention returns how long closed sessions stay queryable
func (c *SessionConfig) ClosedRetention() time.Duration {
	return time.Duration(c.ClosedRetentionSeconds) * time.Second
}

// ReapInterval returns the reaper scan interval
func (c *SessionConfig) ReapInterval() time.Duration {
	return time.Duration(c.ReapIntervalSeconds) * time.Second
}

// InitialBackoff returns the first resolver backoff interval
func (c *WindowConfig) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffMs) * time.Millisecond
}

// MaxBackoff returns the resolver backoff cap
func (c *WindowConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffMs) * time.Millisecond
}

// SettleDelay returns the post-focus delay as a time.Duration
func (c *InputConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMs) * time.Millisecond
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Display defaults
	viper.SetDefault("display.server_binary", defaults.Display.ServerBinary)
	viper.SetDefault("display.base_number", defaults.Display.BaseNumber)
	viper.SetDefault("display.pool_size", defaults.Display.PoolSize)
	viper.SetDefault("display.depth", defaults.Display.Depth)
	viper.SetDefault("display.dpi", defaults.Display.DPI)
	viper.SetDefault("display.start_timeout_seconds", defaults.Display.StartTimeoutSeconds)
	viper.SetDefault("display.poll_interval_ms", defaults.Display.PollIntervalMs)
	viper.SetDefault("display.socket_dir", defaults.Display.SocketDir)
	viper.SetDefault("display.lock_dir", defaults.Display.LockDir)
	viper.SetDefault("display.extra_args", defaults.Display.ExtraArgs)

	// Emulator defaults
	viper.SetDefault("emulator.binary", defaults.Emulator.Binary)
	viper.SetDefault("emulator.font", defaults.Emulator.Font)
	viper.SetDefault("emulator.background", defaults.Emulator.Background)
	viper.SetDefault("emulator.foreground", defaults.Emulator.Foreground)
	viper.SetDefault("emulator.hold", defaults.Emulator.Hold)
	viper.SetDefault("emulator.extra_args", defaults.Emulator.ExtraArgs)

	// Session defaults
	viper.SetDefault("session.default_width", defaults.Session.DefaultWidth)
	viper.SetDefault("session.default_height", defaults.Session.DefaultHeight)
	viper.SetDefault("session.startup_timeout_seconds", defaults.Session.StartupTimeoutSeconds)
	viper.SetDefault("session.operation_timeout_seconds", defaults.Session.OperationTimeoutSeconds)
	viper.SetDefault("session.grace_period_ms", defaults.Session.GracePeriodMs)
	viper.SetDefault("session.kill_timeout_ms", defaults.Session.KillTimeoutMs)
	viper.SetDefault("session.idle_timeout_seconds", defaults.Session.IdleTimeoutSeconds)
	viper.SetDefault("session.closed_retention_seconds", defaults.Session.ClosedRetentionSeconds)
	viper.SetDefault("session.reap_interval_seconds", defaults.Session.ReapIntervalSeconds)

	// Window defaults
	viper.SetDefault("window.strategies", defaults.Window.Strategies)
	viper.SetDefault("window.class", defaults.Window.Class)
	viper.SetDefault("window.initial_backoff_ms", defaults.Window.InitialBackoffMs)
	viper.SetDefault("window.max_backoff_ms", defaults.Window.MaxBackoffMs)

	// Input defaults
	viper.SetDefault("input.tool", defaults.Input.Tool)
	viper.SetDefault("input.settle_delay_ms", defaults.Input.SettleDelayMs)
	viper.SetDefault("input.type_delay_ms", defaults.Input.TypeDelayMs)

	// Capture defaults
	viper.SetDefault("capture.tool", defaults.Capture.Tool)
	viper.SetDefault("capture.temp_dir", defaults.Capture.TempDir)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.file", defaults.Logging.File)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)

	// Metrics defaults
	viper.SetDefault("metrics.listen_address", defaults.Metrics.ListenAddress)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults when
// the loaded configuration is invalid.
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "termctl")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".termctl"
	}
	return filepath.Join(home, ".config", "termctl")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
