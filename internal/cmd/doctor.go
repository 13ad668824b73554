package cmd

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/termctl/internal/config"
	"github.com/Iron-Ham/termctl/internal/display"
)

// Wrapper for exec.LookPath to allow testing
var execLookPath = exec.LookPath

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the external tools and display pool are usable",
	Long: `Check that the display server, terminal emulator, input tool and capture
tool named in the configuration are installed, and report display numbers
in the pool that are already held by other X servers.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

// toolCheck is one external binary the engine depends on.
type toolCheck struct {
	role   string
	binary string
	path   string
	size   int64
	err    error
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	out := cmd.OutOrStdout()
	p := newPalette(out)

	checks := checkTools(cfg)
	fmt.Fprintln(out, p.Title("Tools"))
	missing := printToolChecks(out, p, checks)

	fmt.Fprintln(out)
	fmt.Fprintln(out, p.Title("Display pool"))
	printPoolReport(out, p, cfg)

	if missing > 0 {
		return fmt.Errorf("%d required tool(s) missing", missing)
	}
	return nil
}

func checkTools(cfg *config.Config) []toolCheck {
	checks := []toolCheck{
		{role: "display server", binary: cfg.Display.ServerBinary},
		{role: "terminal emulator", binary: cfg.Emulator.Binary},
		{role: "input tool", binary: cfg.Input.Tool},
		{role: "capture tool", binary: cfg.Capture.Tool},
	}
	for i := range checks {
		c := &checks[i]
		c.path, c.err = execLookPath(c.binary)
		if c.err != nil {
			continue
		}
		if info, err := os.Stat(c.path); err == nil {
			c.size = info.Size()
		}
	}
	return checks
}

func printToolChecks(w io.Writer, p palette, checks []toolCheck) (missing int) {
	for _, c := range checks {
		if c.err != nil {
			missing++
			fmt.Fprintf(w, "  %s %-18s %s %s\n", p.Err("✗"), c.role, c.binary, p.Muted("not found in PATH"))
			continue
		}
		fmt.Fprintf(w, "  %s %-18s %s %s\n", p.OK("✓"), c.role, c.path, p.Muted(humanize.Bytes(uint64(c.size))))
	}
	return missing
}

func printPoolReport(w io.Writer, p palette, cfg *config.Config) {
	first := cfg.Display.BaseNumber
	last := first + cfg.Display.PoolSize - 1
	fmt.Fprintf(w, "  numbers :%d-:%d (%d slots)\n", first, last, cfg.Display.PoolSize)

	if _, err := os.Stat(cfg.Display.SocketDir); err != nil {
		fmt.Fprintf(w, "  %s socket directory %s does not exist yet\n", p.Warn("!"), cfg.Display.SocketDir)
	}

	alloc := display.NewAllocator(nil, display.Options{
		BaseNumber: cfg.Display.BaseNumber,
		PoolSize:   cfg.Display.PoolSize,
		SocketDir:  cfg.Display.SocketDir,
		LockDir:    cfg.Display.LockDir,
	})
	foreign := alloc.Foreign()
	if len(foreign) == 0 {
		fmt.Fprintf(w, "  %s no foreign X servers in the pool\n", p.OK("✓"))
		return
	}

	numbers := make([]int, 0, len(foreign))
	for n := range foreign {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	fmt.Fprintf(w, "  %s %d of %d numbers held by other X servers\n", p.Warn("!"), len(foreign), cfg.Display.PoolSize)
	for _, n := range numbers {
		fmt.Fprintf(w, "      :%d %s\n", n, p.Muted(foreign[n]))
	}
}
