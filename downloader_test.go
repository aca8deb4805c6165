package rdl

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hydrz/rdl/events"
)

// TestDownloaderParallelDownload exercises the full coordinator lifecycle
// over a range-capable server: probe, plan, dispatch, assemble, end.
func TestDownloaderParallelDownload(t *testing.T) {
	body := []byte("the quick brown fox jumps over the lazy dog")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
			w.Header().Set("Accept-Ranges", "bytes")
			w.WriteHeader(http.StatusOK)
			return
		}
		rangeHdr := r.Header.Get("Range")
		if rangeHdr == "" {
			w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
			w.Header().Set("Accept-Ranges", "bytes")
			w.WriteHeader(http.StatusOK)
			w.Write(body)
			return
		}
		var lo, hi int64
		if _, err := parseRangeHeader(rangeHdr, &lo, &hi); err != nil {
			http.Error(w, "bad range", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Length", itoa(hi-lo+1))
		w.Header().Set("Accept-Ranges", "bytes")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(body[lo : hi+1])
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "fox.txt")

	var gotMeta events.Metadata
	d := New(srv.URL, dest, Option{
		Connections: 3,
		ChunkSize:   ChunkSizePolicy{Fixed: 10},
		MaxRetry:    2,
		RetryDelay:  time.Millisecond,
	})
	d.Events().OnMetadata(func(m events.Metadata) { gotMeta = m })

	ended, err := d.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !ended {
		t.Fatal("expected end to have fired")
	}

	got, rerr := os.ReadFile(dest)
	if rerr != nil {
		t.Fatalf("ReadFile: %v", rerr)
	}
	if string(got) != string(body) {
		t.Errorf("dest contents = %q, want %q", got, body)
	}

	if !gotMeta.Parallel {
		t.Error("Metadata.Parallel = false, want true")
	}
	if gotMeta.Size != int64(len(body)) {
		t.Errorf("Metadata.Size = %d, want %d", gotMeta.Size, len(body))
	}
}

// TestDownloaderSingleMode runs against a server that doesn't advertise
// ranges, with Connections: 1; either alone keeps the coordinator from
// planning a range split.
func TestDownloaderSingleMode(t *testing.T) {
	body := []byte("single stream payload")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			w.Write(body)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")

	d := New(srv.URL, dest, Option{Connections: 1, MaxRetry: 1})
	ended, err := d.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !ended {
		t.Fatal("expected end to have fired")
	}

	got, rerr := os.ReadFile(dest)
	if rerr != nil {
		t.Fatalf("ReadFile: %v", rerr)
	}
	if string(got) != string(body) {
		t.Errorf("dest contents = %q, want %q", got, body)
	}
}

// TestDownloaderDestroyMidFlight covers spec.md §8 scenario 6: destroying a
// session while a chunk is in flight aborts it and closes exactly once
// without end ever firing.
func TestDownloaderDestroyMidFlight(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "100")
			w.Header().Set("Accept-Ranges", "bytes")
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Length", "50")
		w.WriteHeader(http.StatusPartialContent)
		w.(http.Flusher).Flush()
		<-block
	}))
	defer srv.Close()
	defer close(block)

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")

	d := New(srv.URL, dest, Option{Connections: 2, ChunkSize: ChunkSizePolicy{Fixed: 50}})

	var endFired, closeFired int
	d.Events().OnEnd(func() { endFired++ })
	d.Events().OnClose(func() { closeFired++ })

	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	d.Destroy()
	d.Destroy() // must be idempotent

	ended, _ := d.Wait()
	if ended {
		t.Error("end fired, want it suppressed by Destroy")
	}
	if endFired != 0 {
		t.Errorf("end listener fired %d times, want 0", endFired)
	}
	if closeFired != 1 {
		t.Errorf("close listener fired %d times, want exactly 1", closeFired)
	}
}

// TestDownloaderMetadataBlocksUntilResolved confirms Metadata() blocks until
// the probe has resolved and returns the planned size and chunk count.
func TestDownloaderMetadataBlocksUntilResolved(t *testing.T) {
	body := make([]byte, 64)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
			w.Header().Set("Accept-Ranges", "bytes")
			w.WriteHeader(http.StatusOK)
			return
		}
		rangeHdr := r.Header.Get("Range")
		var lo, hi int64 = 0, int64(len(body) - 1)
		if rangeHdr != "" {
			parseRangeHeader(rangeHdr, &lo, &hi)
		}
		w.Header().Set("Content-Length", itoa(hi-lo+1))
		w.Header().Set("Accept-Ranges", "bytes")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(body[lo : hi+1])
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")
	d := New(srv.URL, dest, Option{Connections: 2, ChunkSize: ChunkSizePolicy{Fixed: 32}})
	defer d.Destroy()

	meta, err := d.Metadata()
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if meta.Size != int64(len(body)) {
		t.Errorf("Metadata.Size = %d, want %d", meta.Size, len(body))
	}
	if len(meta.Chunks) != 2 {
		t.Errorf("len(Chunks) = %d, want 2", len(meta.Chunks))
	}
}
