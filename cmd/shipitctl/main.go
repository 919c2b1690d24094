// Command shipitctl is a development helper for constructing a
// shipit_request record by hand, without writing a requesting
// application. It is not part of the production update flow.
//
// Usage: shipitctl request <app-id> <update-bundle-path> <target-bundle-path> [flags]
package main

import (
	"flag"
	"fmt"
	"os"

	"shipit/internal/appctx"
	"shipit/internal/model"
	"shipit/internal/record"
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	if len(args) < 2 {
		usage()
		return 1
	}

	switch args[1] {
	case "request":
		return runRequest(args[2:])
	default:
		usage()
		return 1
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: shipitctl request <app-id> <update-bundle-path> <target-bundle-path> [-relaunch] [-use-update-name] [-bundle-id id]")
}

func runRequest(args []string) int {
	fs := flag.NewFlagSet("request", flag.ContinueOnError)
	relaunch := fs.Bool("relaunch", true, "relaunch the target after installing")
	useUpdateName := fs.Bool("use-update-name", false, "keep the update bundle's filename instead of the target's")
	bundleID := fs.String("bundle-id", "", "bundle identifier, for audit history grouping")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 3 {
		usage()
		return 1
	}
	appID, updatePath, targetPath := fs.Arg(0), fs.Arg(1), fs.Arg(2)

	req := model.Request{
		UpdateBundlePath:     updatePath,
		TargetBundlePath:     targetPath,
		BundleIdentifier:     *bundleID,
		RelaunchAfterInstall: *relaunch,
		UseUpdateBundleName:  *useUpdateName,
	}
	if err := req.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "shipitctl: invalid request: %v\n", err)
		return 1
	}

	ctx, err := appctx.New(appID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shipitctl: %v\n", err)
		return 1
	}
	if err := ctx.Ensure(); err != nil {
		fmt.Fprintf(os.Stderr, "shipitctl: %v\n", err)
		return 1
	}
	if err := record.Save(ctx.RequestPath(), model.RecordVersion, req); err != nil {
		fmt.Fprintf(os.Stderr, "shipitctl: writing request: %v\n", err)
		return 1
	}

	fmt.Printf("wrote %s\n", ctx.RequestPath())
	return 0
}
