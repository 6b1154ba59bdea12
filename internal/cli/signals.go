package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// setupSignalContext returns a context cancelled on SIGINT/SIGTERM, used
// by foreground commands (run --auto-start) that must keep the process
// alive while the Supervisor's worker goroutines are running.
func setupSignalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		fmt.Fprintf(os.Stderr, "\nreceived %s, stopping workers...\n", sig)
		cancel()

		sig = <-sigCh
		fmt.Fprintf(os.Stderr, "received %s again, forcing exit\n", sig)
		os.Exit(1)
	}()

	return ctx, cancel
}
