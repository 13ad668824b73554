package cmd

import (
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/termctl/internal/scenario"
	"github.com/Iron-Ham/termctl/internal/session"
)

var shotCmd = &cobra.Command{
	Use:   "shot [flags] -- <command> [args...]",
	Short: "Launch a command, capture its screen, and close it",
	Long: `Launch a command in a fresh session, wait for it to settle, optionally
send input, then save a PNG of the display and close the session.

Examples:
  termctl shot -o top.png -- top
  termctl shot --width 1440 --height 800 --settle 3s --key F3 --text python -- htop
  termctl shot -- 'ls -la /tmp'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runShot,
}

var (
	shotOutput string
	shotWidth  int
	shotHeight int
	shotSettle time.Duration
	shotDelay  time.Duration
	shotKeys   []string
	shotText   string
)

func init() {
	shotCmd.Flags().StringVarP(&shotOutput, "output", "o", "screenshot.png", "PNG file to write")
	shotCmd.Flags().IntVar(&shotWidth, "width", 0, "display width in pixels (default from config)")
	shotCmd.Flags().IntVar(&shotHeight, "height", 0, "display height in pixels (default from config)")
	shotCmd.Flags().DurationVar(&shotSettle, "settle", time.Second, "time to wait after launch")
	shotCmd.Flags().DurationVar(&shotDelay, "delay", 500*time.Millisecond, "time to wait after input before capturing")
	shotCmd.Flags().StringArrayVar(&shotKeys, "key", nil, "key to press after settling (repeatable)")
	shotCmd.Flags().StringVar(&shotText, "text", "", "text to type after the keys")
	rootCmd.AddCommand(shotCmd)
}

func runShot(cmd *cobra.Command, args []string) error {
	script := shotScript(joinCommand(args))
	if err := script.Validate(); err != nil {
		return err
	}

	rt, err := startRuntime(cmd.Context())
	if err != nil {
		return err
	}

	fs := afero.NewOsFs()
	runner := scenario.NewRunner(rt.engine, scenario.WithFs(fs), scenario.WithLogger(rt.logger))
	results, runErr := runner.Run(cmd.Context(), script)
	closeErr := rt.close()

	printResults(cmd.OutOrStdout(), fs, results)
	if runErr != nil {
		return runErr
	}
	return closeErr
}

// shotScript builds the one-session script a shot runs.
func shotScript(command string) *scenario.Script {
	var steps []scenario.Step
	for _, k := range shotKeys {
		steps = append(steps, scenario.Step{Key: k})
	}
	if shotText != "" {
		text := shotText
		steps = append(steps, scenario.Step{Text: &text})
	}
	if len(steps) > 0 && shotDelay > 0 {
		steps = append(steps, scenario.Step{Sleep: scenario.Duration(shotDelay)})
	}
	steps = append(steps, scenario.Step{Capture: shotOutput})

	return &scenario.Script{Sessions: []scenario.Session{{
		Name:     "shot",
		Command:  command,
		Geometry: session.Geometry{Width: shotWidth, Height: shotHeight},
		Settle:   scenario.Duration(shotSettle),
		Steps:    steps,
	}}}
}

// joinCommand turns argv back into a command line. A single argument is
// taken as an already-quoted command line.
func joinCommand(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = shellQuote(a)
	}
	return strings.Join(quoted, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`|&;<>()*?[]#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
