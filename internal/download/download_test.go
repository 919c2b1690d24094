package download_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"shipit/internal/download"

	"github.com/stretchr/testify/require"
)

func TestDownloadFreshThenResumeAfterCrash(t *testing.T) {
	const full = "the quick brown fox jumps over the lazy dog"
	const etag = `"v1"`

	var serveRanges int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHdr := r.Header.Get("Range")
		if rangeHdr == "" {
			w.Header().Set("ETag", etag)
			w.Header().Set("Content-Length", strconv.Itoa(len(full)))
			w.WriteHeader(http.StatusOK)
			io.WriteString(w, full)
			return
		}

		atomic.AddInt32(&serveRanges, 1)
		if r.Header.Get("If-Range") != etag {
			w.WriteHeader(http.StatusOK)
			io.WriteString(w, full)
			return
		}
		var start int
		fmt.Sscanf(rangeHdr, "bytes=%d-", &start)
		if start >= len(full) {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		w.Header().Set("ETag", etag)
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, len(full)-1, len(full)))
		w.WriteHeader(http.StatusPartialContent)
		io.WriteString(w, full[start:])
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := download.New(dir, srv.Client())

	headers, path, err := d.Download(context.Background(), http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	require.Equal(t, etag, headers["ETag"])
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, full, string(data))

	// Simulate a crash: truncate the part file partway through, leaving
	// the .meta record intact, and download again. The downloader must
	// resume rather than restart from zero.
	require.NoError(t, os.Truncate(path, 10))

	headers2, path2, err := d.Download(context.Background(), http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	require.Equal(t, path, path2)
	require.Equal(t, etag, headers2["ETag"])
	data2, err := os.ReadFile(path2)
	require.NoError(t, err)
	require.Equal(t, full, string(data2))
	require.GreaterOrEqual(t, atomic.LoadInt32(&serveRanges), int32(1))
}

func TestDownloadServerIgnoresRangeFallsBackToFullOverwrite(t *testing.T) {
	const full = "0123456789"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Server never honors Range: always 200 with the whole body.
		w.Header().Set("ETag", `"static"`)
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, full)
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := download.New(dir, srv.Client())

	fp := download.Fingerprint(http.MethodGet, srv.URL)
	partPath := filepath.Join(dir, fp+".part")

	// A first download leaves a .meta record (the server sends an ETag),
	// so the second call issues a conditional Range request against the
	// stale partial file below.
	_, _, err := d.Download(context.Background(), http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(partPath, []byte("stale-partial-junk"), 0o644))

	_, path, err := d.Download(context.Background(), http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, full, string(data))
}

func TestDownloadWithoutETagLeavesNoRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "no-etag-body")
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := download.New(dir, srv.Client())

	_, _, err := d.Download(context.Background(), http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	fp := download.Fingerprint(http.MethodGet, srv.URL)
	_, statErr := os.Stat(filepath.Join(dir, fp+".meta"))
	require.True(t, os.IsNotExist(statErr))
}

func TestClearAllRemovesRecordsAndPartials(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.part"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.meta"), []byte("{}"), 0o644))

	d := download.New(dir, nil)
	require.NoError(t, d.ClearAll())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestFingerprintStableAndDistinguishesMethod(t *testing.T) {
	a := download.Fingerprint(http.MethodGet, "https://example.com/x")
	b := download.Fingerprint(http.MethodGet, "https://example.com/x")
	c := download.Fingerprint(http.MethodHead, "https://example.com/x")
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.True(t, strings.HasPrefix(a, ""))
}
