// Termctl drives terminal programs on private virtual X displays. It launches
// a command inside xterm on its own Xvfb display, types into it with xdotool
// and saves screenshots, then reclaims every process it started.
//
// SIGINT and SIGTERM close all open sessions before exiting.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Iron-Ham/termctl/internal/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
