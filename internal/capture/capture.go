// Package capture takes screenshots of virtual X displays.
//
// A capture runs ImageMagick's import tool against the display's root
// window, stages the PNG in the engine's private temp directory, decodes it
// into RGBA pixels and removes the file again.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/termctl/internal/errors"
	"github.com/Iron-Ham/termctl/internal/logging"
	"github.com/Iron-Ham/termctl/internal/xdo"
)

// RawImage is a decoded capture of a whole display.
type RawImage struct {
	// Pixels holds 4 bytes (R, G, B, A) per pixel, row-major, no padding.
	Pixels     []byte
	Width      int
	Height     int
	CapturedAt time.Time

	// Display is the X display name the image was taken from.
	Display string
	// SessionID, Columns and Rows are filled in by the session layer.
	SessionID string
	Columns   int
	Rows      int
	// EncodedBytes is the size of the PNG produced by the capture tool.
	EncodedBytes int
}

// RGBA returns the pixels as an image without copying.
func (r *RawImage) RGBA() *image.RGBA {
	return &image.RGBA{
		Pix:    r.Pixels,
		Stride: r.Width * 4,
		Rect:   image.Rect(0, 0, r.Width, r.Height),
	}
}

// Runner executes a command with extra environment entries.
type Runner interface {
	Run(ctx context.Context, env []string, name string, args ...string) ([]byte, error)
}

// Options configures an Engine.
type Options struct {
	// Tool is the screenshot binary (default "import").
	Tool string
	// TempDir is the parent of the engine's staging directory; empty uses os.TempDir().
	TempDir string
	Runner  Runner
	Logger  *logging.Logger
}

// Engine captures displays. It is safe for concurrent use.
type Engine struct {
	tool   string
	dir    string
	runner Runner
	logger *logging.Logger
}

// NewEngine creates an engine with its own staging directory.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Tool == "" {
		opts.Tool = "import"
	}
	if opts.Runner == nil {
		opts.Runner = xdo.ExecRunner{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}

	dir, err := os.MkdirTemp(opts.TempDir, "termctl-capture-")
	if err != nil {
		return nil, errors.Wrap(err, "create capture directory")
	}

	return &Engine{
		tool:   opts.Tool,
		dir:    dir,
		runner: opts.Runner,
		logger: opts.Logger.WithComponent("capture"),
	}, nil
}

// Dir returns the staging directory.
func (e *Engine) Dir() string {
	return e.dir
}

// Tool returns the screenshot binary.
func (e *Engine) Tool() string {
	return e.tool
}

// Capture grabs the full contents of display. window is recorded for
// diagnostics only; the root window is always captured so that popups and
// resized emulator windows are included.
func (e *Engine) Capture(ctx context.Context, display, window string) (*RawImage, error) {
	path := filepath.Join(e.dir, "capture-"+uuid.NewString()+".png")
	defer os.Remove(path)

	fail := func(msg string, cause error) error {
		return errors.NewEngineError(errors.KindCaptureFailed, msg, cause).
			WithContext("display", display).
			WithContext("window", window).
			WithContext("tool", e.tool)
	}

	started := time.Now()
	if _, err := e.runner.Run(ctx, []string{"DISPLAY=" + display}, e.tool,
		"-window", "root", "PNG:"+path); err != nil {
		return nil, fail("capture tool failed", err)
	}
	capturedAt := time.Now()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fail("capture tool produced no image", err)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fail("decode captured image", err)
	}
	rgba := toRGBA(img)

	bounds := rgba.Bounds()
	raw := &RawImage{
		Pixels:       rgba.Pix,
		Width:        bounds.Dx(),
		Height:       bounds.Dy(),
		CapturedAt:   capturedAt,
		Display:      display,
		EncodedBytes: len(data),
	}

	e.logger.Debug("display captured",
		"display", display,
		"width", raw.Width,
		"height", raw.Height,
		"bytes", len(data),
		"duration_ms", time.Since(started).Milliseconds())
	return raw, nil
}

// Close removes the staging directory.
func (e *Engine) Close() error {
	return os.RemoveAll(e.dir)
}

// toRGBA converts img to a tightly packed, origin-anchored *image.RGBA.
func toRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) && rgba.Stride == b.Dx()*4 {
		return rgba
	}
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// String describes the image for logs.
func (r *RawImage) String() string {
	return fmt.Sprintf("%dx%d from %s at %s", r.Width, r.Height, r.Display, r.CapturedAt.Format(time.RFC3339))
}
