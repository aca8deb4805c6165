package rdl

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/hydrz/rdl/events"
)

// parseRangeHeader parses a "bytes=lo-hi" Range header value for test
// servers that need to honor it.
func parseRangeHeader(v string, lo, hi *int64) (int, error) {
	return fmt.Sscanf(v, "bytes=%d-%d", lo, hi)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

// discardLogger is a *slog.Logger that throws its output away, for tests
// that construct a pool directly without going through Downloader.New.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestPoolDownloadsAllChunks exercises the full dispatch/attempt/complete
// cycle over a real range-serving HTTP server, with connections < total
// chunks so dispatch must redispatch as workers finish.
func TestPoolDownloadsAllChunks(t *testing.T) {
	body := []byte("0123456789ABCDEFGHIJ") // 20 bytes
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHdr := r.Header.Get("Range")
		if rangeHdr == "" {
			w.Write(body)
			return
		}
		var lo, hi int64
		if _, err := parseRangeHeader(rangeHdr, &lo, &hi); err != nil {
			t.Errorf("bad Range header %q: %v", rangeHdr, err)
			http.Error(w, "bad range", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Length", itoa(hi-lo+1))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(body[lo : hi+1])
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")
	plan := Plan{
		{ID: 0, Lo: 0, Hi: 4},
		{ID: 1, Lo: 5, Hi: 9},
		{ID: 2, Lo: 10, Hi: 14},
		{ID: 3, Lo: 15, Hi: 19},
	}
	sink := &events.Sink{}
	rep := newReporter(sink, time.Hour, plan)

	var done sync.WaitGroup
	done.Add(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p := newPool(ctx, resty.New(), dest, srv.URL, "", nil, 2, 3, time.Millisecond, time.Millisecond, rep, sink, discardLogger(), len(plan), func() {
		done.Done()
	})
	p.start(plan, []int{0, 1, 2, 3})
	done.Wait()

	for _, c := range plan {
		data, err := os.ReadFile(finalChunkPath(dest, c.ID))
		if err != nil {
			t.Fatalf("chunk %d: %v", c.ID, err)
		}
		want := body[c.Lo : c.Hi+1]
		if string(data) != string(want) {
			t.Errorf("chunk %d = %q, want %q", c.ID, data, want)
		}
	}
}

// TestPoolRangeNotHonoredRetriesThenFails covers spec.md §8 scenario 4: a
// server that ignores Range and always answers 200 fails every attempt as
// range-not-honored, so the chunk exhausts its retries and the pool reports
// KindExhausted.
func TestPoolRangeNotHonoredRetriesThenFails(t *testing.T) {
	body := []byte("0123456789")
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")
	plan := Plan{{ID: 0, Lo: 0, Hi: 4}}
	sink := &events.Sink{}
	rep := newReporter(sink, time.Hour, plan)

	var gotErr *Error
	sink.OnError(func(err error) {
		if e, ok := err.(*Error); ok {
			gotErr = e
		}
	})

	var closed sync.WaitGroup
	closed.Add(1)
	sink.OnError(func(error) { closed.Done() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p := newPool(ctx, resty.New(), dest, srv.URL, "", nil, 1, 2, time.Millisecond, 0, rep, sink, discardLogger(), len(plan), nil)
	p.start(plan, []int{0})
	closed.Wait()

	if gotErr == nil {
		t.Fatal("expected a fatal error")
	}
	if gotErr.Kind != KindExhausted {
		t.Errorf("Kind = %v, want KindExhausted", gotErr.Kind)
	}
	if atomic.LoadInt32(&requests) != 2 {
		t.Errorf("requests = %d, want 2 (maxRetry)", requests)
	}
}

// TestPoolDestroyAbortsInFlightRequests covers spec.md §8 scenario 6:
// destroy returns while a chunk request is stalled mid-body and leaves the
// pool marked destroyed.
func TestPoolDestroyAbortsInFlightRequests(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "5")
		w.WriteHeader(http.StatusPartialContent)
		w.(http.Flusher).Flush()
		<-block
	}))
	defer srv.Close()
	defer close(block)

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")
	plan := Plan{{ID: 0, Lo: 0, Hi: 4}}
	sink := &events.Sink{}
	rep := newReporter(sink, time.Hour, plan)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := newPool(ctx, resty.New(), dest, srv.URL, "", nil, 1, 5, time.Hour, 0, rep, sink, discardLogger(), len(plan), nil)
	p.start(plan, []int{0})

	// Give the worker a moment to register its in-flight request.
	time.Sleep(50 * time.Millisecond)
	p.destroy()

	if !p.isDestroyed() {
		t.Error("pool not marked destroyed")
	}
}
