package session

import (
	"context"
	"time"

	"github.com/Iron-Ham/termctl/internal/logging"
)

// ReaperOptions configures a Reaper.
type ReaperOptions struct {
	// IdleTimeout closes ACTIVE sessions without input or capture for this
	// long. Zero disables idle reclamation.
	IdleTimeout time.Duration
	// Retention is how long CLOSED and ERROR sessions stay queryable.
	// Zero keeps them until shutdown.
	Retention time.Duration
	// Interval is the time between sweeps (default 30s).
	Interval time.Duration
	Logger   *logging.Logger
}

// Reaper periodically reclaims idle sessions and forgets ended ones.
type Reaper struct {
	manager   *Manager
	idle      time.Duration
	retention time.Duration
	interval  time.Duration
	logger    *logging.Logger
	now       func() time.Time
}

// NewReaper creates a Reaper for m.
func NewReaper(m *Manager, opts ReaperOptions) *Reaper {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	return &Reaper{
		manager:   m,
		idle:      opts.IdleTimeout,
		retention: opts.Retention,
		interval:  opts.Interval,
		logger:    opts.Logger.WithComponent("reaper"),
		now:       time.Now,
	}
}

// Run sweeps every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	if r.idle <= 0 && r.retention <= 0 {
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep closes idle sessions and forgets expired ended sessions once.
// It returns how many sessions were closed and forgotten.
func (r *Reaper) Sweep(ctx context.Context) (closed, forgotten int) {
	now := r.now()

	for _, info := range r.manager.List() {
		switch {
		case info.State == StateActive && r.idle > 0:
			idleFor := now.Sub(info.LastActivityAt)
			if idleFor < r.idle {
				continue
			}
			r.logger.Info("closing idle session",
				"session_id", info.ID,
				"idle_seconds", int(idleFor.Seconds()))
			if err := r.manager.Close(ctx, info.ID); err != nil {
				r.logger.Error("failed to close idle session",
					"session_id", info.ID,
					"error", err.Error())
				continue
			}
			closed++

		case info.State.Terminal() && r.retention > 0:
			if info.EndedAt.IsZero() || now.Sub(info.EndedAt) < r.retention {
				continue
			}
			if r.manager.forget(info.ID) {
				r.logger.Debug("forgot ended session", "session_id", info.ID, "state", info.State.String())
				forgotten++
			}
		}
	}
	return closed, forgotten
}
