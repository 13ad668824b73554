package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/termctl/internal/errors"
	"github.com/Iron-Ham/termctl/internal/scenario"
	"github.com/Iron-Ham/termctl/internal/util"
)

var runCmd = &cobra.Command{
	Use:   "run <script.yaml>",
	Short: "Run a scripted scenario",
	Long: `Run a YAML scenario. Each session in the script is launched on its own
display and its steps run in order; sessions run concurrently.

Steps are one of:
  text: <string>       type the string literally
  key: <name>          press a key, e.g. Enter, F3, ctrl+c (see 'termctl keys')
  sleep: <duration>    wait, e.g. 2s or 0.5
  capture: <file.png>  save a screenshot (relative to the script's directory)`,
	Args: cobra.ExactArgs(1),
	RunE: runScenario,
}

var runValidateOnly bool

func init() {
	runCmd.Flags().BoolVar(&runValidateOnly, "validate", false, "Only parse and validate the script")
	rootCmd.AddCommand(runCmd)
}

func runScenario(cmd *cobra.Command, args []string) error {
	fs := afero.NewOsFs()
	script, err := scenario.Load(fs, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if runValidateOnly {
		fmt.Fprintf(out, "%s: %d session(s), valid\n", args[0], len(script.Sessions))
		return nil
	}

	rt, err := startRuntime(cmd.Context())
	if err != nil {
		return err
	}

	runner := scenario.NewRunner(rt.engine, scenario.WithFs(fs), scenario.WithLogger(rt.logger))
	results, runErr := runner.Run(cmd.Context(), script)
	closeErr := rt.close()

	printResults(out, fs, results)
	if runErr != nil {
		return runErr
	}
	return closeErr
}

func printResults(w io.Writer, fs afero.Fs, results []scenario.Result) {
	p := newPalette(w)
	width := terminalWidth(w)
	for _, res := range results {
		status := p.OK("ok")
		if res.Err != nil {
			status = p.Err("failed")
		}
		fmt.Fprintf(w, "%s %s %s\n", p.Title(res.Name), status,
			p.Muted(fmt.Sprintf("(%d steps, %s)", res.Steps, res.Duration.Round(10*time.Millisecond))))
		for _, path := range res.Captures {
			size := ""
			if info, err := fs.Stat(path); err == nil {
				size = " " + p.Muted(humanize.Bytes(uint64(info.Size())))
			}
			fmt.Fprintf(w, "  captured %s%s\n", path, size)
		}
		if res.Err != nil {
			fmt.Fprintln(w, util.FitLines(res.Err.Error(), "  ", width))
			if errors.IsRetryable(res.Err) {
				fmt.Fprintln(w, "  "+p.Muted("transient failure, rerunning may succeed"))
			}
		}
	}
}
