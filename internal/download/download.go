// Package download implements the Resumable Downloader: a
// byte-resumable HTTP fetch to a fixed local path, with response
// metadata persisted per request fingerprint so a future request can
// resume via conditional headers after a crash.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"golang.org/x/time/rate"

	"shipit/internal/installerr"
	"shipit/internal/record"
)

const recordVersion = 1

// Record is the persisted per-fingerprint resumable-download metadata.
type Record struct {
	RequestURL      string            `json:"request_url"`
	Method          string            `json:"method"`
	ResponseHeaders map[string]string `json:"response_headers"`
	FilePath        string            `json:"file_path"`
}

// Downloader streams HTTP responses to fixed file paths, resuming from
// partial files when the server and a prior record agree it is safe.
type Downloader struct {
	dir        string
	client     *http.Client
	bufferPool *sync.Pool
	limiter    *rate.Limiter

	inFlight sync.Map // fingerprint -> struct{}
}

// New creates a Downloader rooted at dir (conceptually
// <state-dir>/downloads).
func New(dir string, client *http.Client) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Downloader{
		dir:    dir,
		client: client,
		bufferPool: &sync.Pool{
			New: func() interface{} {
				b := make([]byte, 32*1024)
				return &b
			},
		},
		limiter: rate.NewLimiter(rate.Inf, 0),
	}
}

// SetRateLimit caps aggregate throughput in bytes/sec; 0 means
// unlimited.
func (d *Downloader) SetRateLimit(bytesPerSec int) {
	if bytesPerSec <= 0 {
		d.limiter.SetLimit(rate.Inf)
		return
	}
	d.limiter.SetLimit(rate.Limit(bytesPerSec))
	// stream waits for one full buffer per read, so the burst must be
	// at least a buffer's worth or WaitN fails outright.
	burst := bytesPerSec
	if burst < 32*1024 {
		burst = 32 * 1024
	}
	d.limiter.SetBurst(burst)
}

// Fingerprint returns the canonical hash of a request's method and URL
// used to key resumable-download records on disk.
func Fingerprint(method, url string) string {
	h := sha256.Sum256([]byte(method + "\n" + url))
	return hex.EncodeToString(h[:])
}

func (d *Downloader) recordPath(fp string) string { return filepath.Join(d.dir, fp+".meta") }
func (d *Downloader) partPath(fp string) string    { return filepath.Join(d.dir, fp+".part") }

// Download fetches url via method, resuming from a prior partial file
// if one is on disk and still valid, and returns the final response
// headers plus the local file path.
func (d *Downloader) Download(ctx context.Context, method, url string, reqHeaders map[string]string) (map[string]string, string, error) {
	fp := Fingerprint(method, url)

	if _, busy := d.inFlight.LoadOrStore(fp, struct{}{}); busy {
		return nil, "", installerr.New(installerr.DownloadFailed, "Download",
			fmt.Errorf("concurrent download already in progress for this fingerprint"))
	}
	defer d.inFlight.Delete(fp)

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return nil, "", installerr.New(installerr.DownloadFailed, "Download", err)
	}

	partPath := d.partPath(fp)
	var prior *Record
	if record.Exists(d.recordPath(fp)) {
		var rec Record
		if err := record.Load(d.recordPath(fp), recordVersion, &rec); err == nil {
			if _, statErr := os.Stat(partPath); statErr == nil {
				prior = &rec
			}
		}
	}

	headers, err := d.fetch(ctx, method, url, reqHeaders, prior, partPath)
	if err != nil {
		return nil, "", err
	}

	if etag := headers["ETag"]; etag != "" {
		rec := Record{RequestURL: url, Method: method, ResponseHeaders: headers, FilePath: partPath}
		if err := record.Save(d.recordPath(fp), recordVersion, rec); err != nil {
			return nil, "", installerr.New(installerr.DownloadFailed, "Download", err)
		}
	} else {
		// No ETag: the download is non-resumable, so no record should
		// exist to trigger a conditional request next time.
		_ = record.Remove(d.recordPath(fp))
	}

	return headers, partPath, nil
}

func (d *Downloader) fetch(ctx context.Context, method, url string, reqHeaders map[string]string, prior *Record, partPath string) (map[string]string, error) {
	if prior == nil {
		return d.fetchFresh(ctx, method, url, reqHeaders, partPath)
	}

	fi, err := os.Stat(partPath)
	if err != nil {
		return d.fetchFresh(ctx, method, url, reqHeaders, partPath)
	}
	offset := fi.Size()

	etag := prior.ResponseHeaders["ETag"]
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, installerr.New(installerr.DownloadFailed, "Download", err)
	}
	applyHeaders(req, reqHeaders)
	req.Header.Set("If-Range", etag)
	req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, installerr.New(installerr.DownloadFailed, "Download", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		f, err := os.OpenFile(partPath, os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, installerr.New(installerr.DownloadFailed, "Download", err)
		}
		defer f.Close()
		if err := d.stream(ctx, resp.Body, f); err != nil {
			return nil, err
		}
		return responseHeaders(resp), nil

	case http.StatusOK:
		// Server content changed: truncate and overwrite from scratch.
		return d.overwrite(ctx, resp, partPath)

	case http.StatusRequestedRangeNotSatisfiable:
		resp.Body.Close()
		return d.fetchFresh(ctx, method, url, reqHeaders, partPath)

	default:
		return nil, installerr.New(installerr.DownloadFailed, "Download",
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
}

func (d *Downloader) fetchFresh(ctx context.Context, method, url string, reqHeaders map[string]string, partPath string) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, installerr.New(installerr.DownloadFailed, "Download", err)
	}
	applyHeaders(req, reqHeaders)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, installerr.New(installerr.DownloadFailed, "Download", err)
	}
	return d.overwrite(ctx, resp, partPath)
}

func (d *Downloader) overwrite(ctx context.Context, resp *http.Response, partPath string) (map[string]string, error) {
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, installerr.New(installerr.DownloadFailed, "Download",
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	f, err := os.OpenFile(partPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, installerr.New(installerr.DownloadFailed, "Download", err)
	}
	defer f.Close()

	if err := d.stream(ctx, resp.Body, f); err != nil {
		return nil, err
	}
	return responseHeaders(resp), nil
}

func (d *Downloader) stream(ctx context.Context, src io.Reader, dst io.Writer) error {
	bufPtr := d.bufferPool.Get().(*[]byte)
	defer d.bufferPool.Put(bufPtr)
	buf := *bufPtr

	for {
		if err := d.limiter.WaitN(ctx, len(buf)); err != nil {
			return installerr.New(installerr.DownloadFailed, "Download", err)
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return installerr.New(installerr.DownloadFailed, "Download", writeErr)
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			return installerr.New(installerr.DownloadFailed, "Download", readErr)
		}
	}
}

// ClearAll removes every record and partial file under the
// downloader's root).
func (d *Downloader) ClearAll() error {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if err := os.Remove(filepath.Join(d.dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func applyHeaders(req *http.Request, headers map[string]string) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}

func responseHeaders(resp *http.Response) map[string]string {
	h := map[string]string{}
	if v := resp.Header.Get("ETag"); v != "" {
		h["ETag"] = v
	}
	if v := resp.Header.Get("Last-Modified"); v != "" {
		h["Last-Modified"] = v
	}
	if v := resp.Header.Get("Content-Length"); v != "" {
		h["Content-Length"] = v
	}
	return h
}
