// Command shipit-watch runs inside the logged-in user's session,
// watching the target application until it has fully quit, then
// writing the sentinel file the privileged daemon waits on. It exists
// because the daemon itself usually runs as root and cannot reliably
// observe processes in the user's session.
//
// Usage: shipit-watch <app-id> <target-bundle-path>
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"shipit/internal/appctx"
	"shipit/internal/process"
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	if len(args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: shipit-watch <app-id> <target-bundle-path>")
		return 1
	}
	appID, targetBundlePath := args[1], args[2]

	ctx, err := appctx.New(appID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shipit-watch: %v\n", err)
		return 1
	}
	if err := ctx.Ensure(); err != nil {
		fmt.Fprintf(os.Stderr, "shipit-watch: %v\n", err)
		return 1
	}

	watcher := process.NewWatcher()
	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := watcher.WaitUntilExited(waitCtx, targetBundlePath); err != nil {
		fmt.Fprintf(os.Stderr, "shipit-watch: timed out waiting for %s to quit: %v\n", targetBundlePath, err)
		return 1
	}

	if err := process.WriteSentinel(ctx.SentinelPath()); err != nil {
		fmt.Fprintf(os.Stderr, "shipit-watch: writing sentinel: %v\n", err)
		return 1
	}
	return 0
}
