package scenario

import (
	"bytes"
	"context"
	"image/png"
	"path/filepath"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"

	"github.com/Iron-Ham/termctl/internal/capture"
	"github.com/Iron-Ham/termctl/internal/errors"
	"github.com/Iron-Ham/termctl/internal/logging"
	"github.com/Iron-Ham/termctl/internal/session"
)

// Engine is the subset of the session manager a scenario drives.
type Engine interface {
	Launch(ctx context.Context, opts session.LaunchOptions) (string, error)
	Input(ctx context.Context, id string, p session.Payload) error
	Capture(ctx context.Context, id string) (*capture.RawImage, error)
	Close(ctx context.Context, id string) error
}

// Result reports how one scripted session went.
type Result struct {
	Name      string
	SessionID string
	// Captures lists the files written, in step order.
	Captures []string
	// Steps is the number of steps completed.
	Steps    int
	Duration time.Duration
	Err      error
}

// Runner executes scripts against an Engine.
type Runner struct {
	engine Engine
	fs     afero.Fs
	logger *logging.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithFs sets the filesystem captures are written to (default: the OS).
func WithFs(fs afero.Fs) RunnerOption {
	return func(r *Runner) { r.fs = fs }
}

// WithLogger sets the runner's logger.
func WithLogger(logger *logging.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// NewRunner creates a Runner for engine.
func NewRunner(engine Engine, opts ...RunnerOption) *Runner {
	r := &Runner{
		engine: engine,
		fs:     afero.NewOsFs(),
		logger: logging.NopLogger(),
		sleep:  sleepCtx,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithComponent("scenario")
	return r
}

// Run executes every session of script concurrently and returns one Result
// per session in script order. The returned error joins the failures.
func (r *Runner) Run(ctx context.Context, script *Script) ([]Result, error) {
	results := make([]Result, len(script.Sessions))

	p := pool.New().WithErrors()
	for i := range script.Sessions {
		p.Go(func() error {
			results[i] = r.runSession(ctx, script, script.Sessions[i])
			return results[i].Err
		})
	}
	return results, p.Wait()
}

func (r *Runner) runSession(ctx context.Context, script *Script, spec Session) (res Result) {
	res.Name = spec.Name
	start := time.Now()
	log := r.logger.With("scenario_session", spec.Name)

	defer func() {
		res.Duration = time.Since(start)
		if res.Err != nil {
			res.Err = errors.Wrapf(res.Err, "session %s", spec.Name)
		}
	}()

	id, err := r.engine.Launch(ctx, session.LaunchOptions{
		Command:          spec.Command,
		Geometry:         spec.Geometry,
		StartupTimeout:   time.Duration(spec.StartupTimeout),
		OperationTimeout: time.Duration(spec.OperationTimeout),
	})
	res.SessionID = id
	if err != nil {
		res.Err = err
		return res
	}
	log = log.WithSession(id)
	log.Info("scenario session launched", "command", spec.Command)

	defer func() {
		if err := r.engine.Close(context.WithoutCancel(ctx), id); err != nil {
			log.Warn("failed to close scenario session", "error", err.Error())
			if res.Err == nil {
				res.Err = err
			}
		}
	}()

	if spec.Settle > 0 {
		if err := r.sleep(ctx, time.Duration(spec.Settle)); err != nil {
			res.Err = err
			return res
		}
	}

	for i, step := range spec.Steps {
		log.Debug("running step", "step", i, "action", step.String())
		path, err := r.runStep(ctx, script, id, step)
		if err != nil {
			res.Err = errors.Wrapf(err, "step %d (%s)", i+1, step.Action())
			return res
		}
		if path != "" {
			res.Captures = append(res.Captures, path)
		}
		res.Steps++
	}
	return res
}

func (r *Runner) runStep(ctx context.Context, script *Script, id string, step Step) (string, error) {
	switch step.Action() {
	case "text":
		return "", r.engine.Input(ctx, id, session.Payload{Text: *step.Text})
	case "key":
		return "", r.engine.Input(ctx, id, session.Payload{Key: step.Key})
	case "sleep":
		return "", r.sleep(ctx, time.Duration(step.Sleep))
	case "capture":
		img, err := r.engine.Capture(ctx, id)
		if err != nil {
			return "", err
		}
		path := script.capturePath(step.Capture)
		if err := r.writePNG(path, img); err != nil {
			return "", err
		}
		return path, nil
	default:
		return "", errors.NewValidationError("step has no action")
	}
}

func (r *Runner) writePNG(path string, img *capture.RawImage) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img.RGBA()); err != nil {
		return errors.Wrap(err, "failed to encode capture")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := r.fs.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "failed to create %s", dir)
		}
	}
	if err := afero.WriteFile(r.fs, path, buf.Bytes(), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
