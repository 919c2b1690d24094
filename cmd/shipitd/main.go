// Command shipitd is the privileged installer daemon. It takes no
// arguments: the application identifier it operates under is read from
// the SHIPIT_APP_ID environment variable, set by whatever launches it
// (a launchd job plist, or a direct exec from the requesting app).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"shipit/internal/daemon"
)

func main() {
	os.Exit(run())
}

func run() int {
	appID := os.Getenv("SHIPIT_APP_ID")
	if appID == "" {
		fmt.Fprintln(os.Stderr, "shipitd: SHIPIT_APP_ID is not set")
		return 1
	}

	co, err := daemon.New(appID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shipitd: %v\n", err)
		return 1
	}
	defer co.Close()

	ctx, cancel := context.WithCancel(context.Background())
	waitForSignals(cancel)

	return co.Run(ctx)
}

// waitForSignals cancels ctx the first time the process receives
// SIGTERM or an interrupt, giving the installer a chance to persist
// its current phase before the OS kills it outright.
func waitForSignals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()
}
