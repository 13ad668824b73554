package session

import (
	"github.com/Iron-Ham/termctl/internal/capture"
	"github.com/Iron-Ham/termctl/internal/config"
	"github.com/Iron-Ham/termctl/internal/display"
	"github.com/Iron-Ham/termctl/internal/event"
	"github.com/Iron-Ham/termctl/internal/input"
	"github.com/Iron-Ham/termctl/internal/logging"
	"github.com/Iron-Ham/termctl/internal/process"
	"github.com/Iron-Ham/termctl/internal/window"
	"github.com/Iron-Ham/termctl/internal/xdo"
)

// Engine bundles a Manager with the components built for it.
type Engine struct {
	*Manager
	Allocator *display.Allocator
	Reaper    *Reaper
}

// NewEngine wires the full session stack from cfg: process supervisor,
// display allocator, xdotool client, window resolver, input injector and
// capture engine. The capture staging directory is removed by Shutdown.
func NewEngine(cfg *config.Config, bus *event.Bus, logger *logging.Logger) (*Engine, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}

	strategies, err := window.ParseStrategies(cfg.Window.Strategies)
	if err != nil {
		return nil, err
	}

	sup := process.NewSupervisor(process.Options{
		PollInterval: cfg.Display.PollInterval(),
		KillTimeout:  cfg.Session.KillTimeout(),
		Logger:       logger,
	})

	alloc := display.NewAllocator(sup, display.Options{
		BaseNumber:   cfg.Display.BaseNumber,
		PoolSize:     cfg.Display.PoolSize,
		StartTimeout: cfg.Display.StartTimeout(),
		PollInterval: cfg.Display.PollInterval(),
		GracePeriod:  cfg.Session.GracePeriod(),
		SocketDir:    cfg.Display.SocketDir,
		LockDir:      cfg.Display.LockDir,
		ServerBinary: cfg.Display.ServerBinary,
		Depth:        cfg.Display.Depth,
		DPI:          cfg.Display.DPI,
		ExtraArgs:    cfg.Display.ExtraArgs,
		Bus:          bus,
		Logger:       logger,
	})

	xd := xdo.New(xdo.Options{
		Binary:      cfg.Input.Tool,
		TypeDelayMs: cfg.Input.TypeDelayMs,
		Logger:      logger,
	})

	resolver := window.NewResolver(xd, window.Options{
		Strategies:     strategies,
		Class:          cfg.Window.Class,
		InitialBackoff: cfg.Window.InitialBackoff(),
		MaxBackoff:     cfg.Window.MaxBackoff(),
		Logger:         logger,
	})

	injector := input.NewInjector(xd,
		input.WithSettleDelay(cfg.Input.SettleDelay()),
		input.WithLogger(logger))

	capturer, err := capture.NewEngine(capture.Options{
		Tool:    cfg.Capture.Tool,
		TempDir: cfg.Capture.TempDir,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	m := NewManager(Options{
		Displays:  alloc,
		Processes: sup,
		Resolver:  resolver,
		Injector:  injector,
		Capturer:  capturer,
		EmulatorCommand: XtermCommand(XtermOptions{
			Binary:     cfg.Emulator.Binary,
			Background: cfg.Emulator.Background,
			Foreground: cfg.Emulator.Foreground,
			Hold:       cfg.Emulator.Hold,
			ExtraArgs:  cfg.Emulator.ExtraArgs,
		}),
		DefaultWidth:     cfg.Session.DefaultWidth,
		DefaultHeight:    cfg.Session.DefaultHeight,
		DefaultFont:      cfg.Emulator.Font,
		StartupTimeout:   cfg.Session.StartupTimeout(),
		OperationTimeout: cfg.Session.OperationTimeout(),
		GracePeriod:      cfg.Session.GracePeriod(),
		Bus:              bus,
		Logger:           logger,
	})
	m.OnShutdown(capturer.Close)

	reaper := NewReaper(m, ReaperOptions{
		IdleTimeout: cfg.Session.IdleTimeout(),
		Retention:   cfg.Session.ClosedRetention(),
		Interval:    cfg.Session.ReapInterval(),
		Logger:      logger,
	})

	return &Engine{Manager: m, Allocator: alloc, Reaper: reaper}, nil
}
