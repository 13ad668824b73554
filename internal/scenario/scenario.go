// Package scenario parses and runs scripted terminal sessions described in
// YAML. A script lists one or more sessions; each launches a command, then
// performs its steps in order. Sessions run concurrently.
//
//	sessions:
//	  - name: htop
//	    command: htop
//	    geometry: {width: 1440, height: 800}
//	    settle: 3s
//	    steps:
//	      - capture: htop_initial.png
//	      - key: F3
//	      - sleep: 2s
//	      - text: python
//	      - key: Escape
//	      - capture: htop_final.png
package scenario

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/termctl/internal/errors"
	"github.com/Iron-Ham/termctl/internal/input"
	"github.com/Iron-Ham/termctl/internal/session"
	"github.com/Iron-Ham/termctl/internal/util"
)

// Script is a parsed scenario file.
type Script struct {
	Sessions []Session `yaml:"sessions"`

	// dir resolves relative capture paths; it is the script's directory.
	dir string
}

// Session describes one scripted session.
type Session struct {
	Name     string           `yaml:"name"`
	Command  string           `yaml:"command"`
	Geometry session.Geometry `yaml:"geometry"`
	// Settle is waited after launch, before the first step.
	Settle Duration `yaml:"settle"`
	// StartupTimeout and OperationTimeout override the engine's defaults
	// for this session when set.
	StartupTimeout   Duration `yaml:"startup_timeout,omitempty"`
	OperationTimeout Duration `yaml:"operation_timeout,omitempty"`
	Steps            []Step   `yaml:"steps"`
}

// Step is one action. Exactly one field is set.
type Step struct {
	Text    *string  `yaml:"text,omitempty"`
	Key     string   `yaml:"key,omitempty"`
	Sleep   Duration `yaml:"sleep,omitempty"`
	Capture string   `yaml:"capture,omitempty"`
}

// Action names the step's kind.
func (s Step) Action() string {
	switch {
	case s.Text != nil:
		return "text"
	case s.Key != "":
		return "key"
	case s.Sleep > 0:
		return "sleep"
	case s.Capture != "":
		return "capture"
	default:
		return ""
	}
}

func (s Step) String() string {
	switch s.Action() {
	case "text":
		return fmt.Sprintf("text %q", util.Truncate(*s.Text, 40))
	case "key":
		return "key " + s.Key
	case "sleep":
		return "sleep " + time.Duration(s.Sleep).String()
	case "capture":
		return "capture " + s.Capture
	default:
		return "empty step"
	}
}

// Duration accepts Go duration strings ("1.5s") or plain numbers of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	if secs, err := strconv.ParseFloat(value.Value, 64); err == nil {
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", value.Line, value.Value)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Parse decodes and validates a script. Relative capture paths resolve
// against dir.
func Parse(data []byte, dir string) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, errors.NewValidationError("malformed scenario").WithCause(err)
	}
	s.dir = dir
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Load reads and parses the script at path from fs.
func Load(fs afero.Fs, path string) (*Script, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read scenario %s", path)
	}
	return Parse(data, filepath.Dir(path))
}

// Validate checks the script for errors that can be found without running it.
func (s *Script) Validate() error {
	if len(s.Sessions) == 0 {
		return errors.NewValidationError("scenario has no sessions").WithField("sessions")
	}

	names := make(map[string]bool, len(s.Sessions))
	for i := range s.Sessions {
		sess := &s.Sessions[i]
		if sess.Name == "" {
			sess.Name = fmt.Sprintf("session-%d", i+1)
		}
		field := fmt.Sprintf("sessions[%d]", i)

		if names[sess.Name] {
			return errors.NewValidationError("duplicate session name").
				WithField(field + ".name").WithValue(sess.Name)
		}
		names[sess.Name] = true

		if sess.Command == "" {
			return errors.NewValidationError("command is required").WithField(field + ".command")
		}
		if sess.Geometry.Width < 0 || sess.Geometry.Height < 0 {
			return errors.NewValidationError("geometry must not be negative").WithField(field + ".geometry")
		}
		if sess.StartupTimeout < 0 {
			return errors.NewValidationError("timeout must not be negative").WithField(field + ".startup_timeout")
		}
		if sess.OperationTimeout < 0 {
			return errors.NewValidationError("timeout must not be negative").WithField(field + ".operation_timeout")
		}

		for j, step := range sess.Steps {
			stepField := fmt.Sprintf("%s.steps[%d]", field, j)
			if err := validateStep(step); err != nil {
				return errors.NewValidationError(err.Error()).WithField(stepField)
			}
			if step.Key != "" {
				if _, err := input.ResolveKey(step.Key); err != nil {
					return errors.NewValidationError("unknown key").
						WithField(stepField + ".key").WithValue(step.Key).WithCause(err)
				}
			}
		}
	}
	return nil
}

func validateStep(step Step) error {
	set := 0
	if step.Text != nil {
		set++
	}
	if step.Key != "" {
		set++
	}
	if step.Sleep != 0 {
		set++
		if step.Sleep < 0 {
			return fmt.Errorf("sleep must be positive")
		}
	}
	if step.Capture != "" {
		set++
	}
	switch set {
	case 0:
		return fmt.Errorf("step has no action")
	case 1:
		return nil
	default:
		return fmt.Errorf("step must have exactly one of text, key, sleep or capture")
	}
}

// capturePath resolves a capture target against the script directory.
func (s *Script) capturePath(p string) string {
	if filepath.IsAbs(p) || s.dir == "" {
		return p
	}
	return filepath.Join(s.dir, p)
}
