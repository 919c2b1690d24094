// Command shipit-fetch is the unprivileged, user-context half of an
// update check: it fetches a feed manifest, resumably downloads the
// bundle it points at, and hands off to the installer daemon by
// writing a shipit_request record. It never touches the target bundle
// itself; everything past this point is shipitd's job.
//
// Usage: shipit-fetch <app-id> <manifest-url> <target-bundle-path>
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"

	"shipit/internal/appctx"
	"shipit/internal/download"
	"shipit/internal/manifest"
	"shipit/internal/model"
	"shipit/internal/record"
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	fs := flag.NewFlagSet("shipit-fetch", flag.ContinueOnError)
	relaunch := fs.Bool("relaunch", true, "relaunch the target after installing")
	rateLimit := fs.Int("rate-limit", 0, "aggregate download rate ceiling in bytes/sec, 0 for unlimited")
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}
	if fs.NArg() != 3 {
		fmt.Fprintln(os.Stderr, "usage: shipit-fetch <app-id> <manifest-url> <target-bundle-path>")
		return 1
	}
	appID, manifestURL, targetPath := fs.Arg(0), fs.Arg(1), fs.Arg(2)

	ctx, err := appctx.New(appID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shipit-fetch: %v\n", err)
		return 1
	}
	if err := ctx.Ensure(); err != nil {
		fmt.Fprintf(os.Stderr, "shipit-fetch: %v\n", err)
		return 1
	}

	feed, err := fetchManifest(manifestURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shipit-fetch: fetching manifest: %v\n", err)
		return 1
	}
	if feed.URL == "" {
		fmt.Fprintln(os.Stderr, "shipit-fetch: manifest has no url field")
		return 1
	}

	dl := download.New(ctx.DownloadsDir(), http.DefaultClient)
	dl.SetRateLimit(*rateLimit)

	_, bundlePath, err := dl.Download(context.Background(), http.MethodGet, feed.URL, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shipit-fetch: downloading %s: %v\n", feed.URL, err)
		return 1
	}

	req := model.Request{
		UpdateBundlePath:     bundlePath,
		TargetBundlePath:     targetPath,
		RelaunchAfterInstall: *relaunch,
		UseUpdateBundleName:  true,
	}
	if err := req.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "shipit-fetch: invalid request: %v\n", err)
		return 1
	}
	if err := record.Save(ctx.RequestPath(), model.RecordVersion, req); err != nil {
		fmt.Fprintf(os.Stderr, "shipit-fetch: writing request: %v\n", err)
		return 1
	}

	fmt.Printf("downloaded %s, wrote %s\n", feed.Name, ctx.RequestPath())
	return 0
}

func fetchManifest(url string) (*manifest.Manifest, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return manifest.Parse(body)
}
