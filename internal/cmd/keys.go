package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/termctl/internal/input"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List the key names accepted for key input",
	RunE:  runKeys,
}

func init() {
	rootCmd.AddCommand(keysCmd)
}

func runKeys(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	p := newPalette(out)

	fmt.Fprintln(out, p.Title("Named keys"))
	for _, name := range input.KeyNames() {
		fmt.Fprintf(out, "  %-10s %s\n", name, p.Muted(input.KeySymbol(name)))
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, p.Title("Modifiers"))
	fmt.Fprintf(out, "  %s\n", strings.Join(input.ModifierNames(), ", "))

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Single letters and digits are accepted as-is. Combine modifiers with '+'")
	fmt.Fprintln(out, "(ctrl+c, ctrl+alt+Delete) or use tmux-style prefixes (C-c, M-x, S-Tab).")
	return nil
}
