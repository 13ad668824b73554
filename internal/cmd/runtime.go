package cmd

import (
	"context"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/termctl/internal/config"
	"github.com/Iron-Ham/termctl/internal/errors"
	"github.com/Iron-Ham/termctl/internal/event"
	"github.com/Iron-Ham/termctl/internal/logging"
	"github.com/Iron-Ham/termctl/internal/metrics"
	"github.com/Iron-Ham/termctl/internal/session"
)

// shutdownTimeout bounds how long closing every session may take on exit.
const shutdownTimeout = 30 * time.Second

// runtime is the engine stack shared by commands that launch sessions.
type runtime struct {
	cfg     *config.Config
	logger  *logging.Logger
	bus     *event.Bus
	metrics *metrics.Collector
	engine  *session.Engine

	cancel     context.CancelFunc
	background conc.WaitGroup
}

// newLogger builds the logger described by cfg.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	return logging.NewLogger(logging.Options{
		Level: cfg.Logging.Level,
		File:  cfg.Logging.File,
		Rotation: logging.RotationConfig{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			Compress:   cfg.Logging.Compress,
		},
	})
}

// startRuntime loads the configuration and starts the engine, the reaper
// and, when configured, the metrics endpoint. Callers must call close.
func startRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	bus := event.NewBus(logger)
	trace := logger.WithComponent("event")
	bus.SubscribeAll(func(e event.Event) {
		trace.Debug("event", "type", e.EventType())
	})
	collector := metrics.New(logger)
	collector.Attach(bus)

	engine, err := session.NewEngine(cfg, bus, logger)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	bgCtx, cancel := context.WithCancel(ctx)
	rt := &runtime{
		cfg:     cfg,
		logger:  logger,
		bus:     bus,
		metrics: collector,
		engine:  engine,
		cancel:  cancel,
	}

	rt.background.Go(func() { engine.Reaper.Run(bgCtx) })
	if addr := cfg.Metrics.ListenAddress; addr != "" {
		rt.background.Go(func() {
			if err := collector.Serve(bgCtx, addr); err != nil {
				logger.Error("metrics endpoint failed", "address", addr, "error", err.Error())
			}
		})
	}

	logger.Debug("engine started",
		"display_base", cfg.Display.BaseNumber,
		"display_pool", cfg.Display.PoolSize,
		"subscriptions", bus.SubscriptionCount())
	return rt, nil
}

// close shuts the engine down, closing every open session.
func (rt *runtime) close() error {
	rt.cancel()
	rt.background.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := rt.engine.Shutdown(ctx)
	if err != nil {
		rt.logger.Error("shutdown incomplete", "error", err.Error())
	}

	rt.metrics.Detach()
	return errors.Join(err, rt.logger.Close())
}
