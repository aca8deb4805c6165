package rdl

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/hydrz/rdl/events"
	"github.com/hydrz/rdl/internal/httpx"
	"github.com/hydrz/rdl/utils"
)

// pool implements spec.md §4.6: a bounded-concurrency worker pool dispatching
// pending chunks over a LIFO queue, each chunk handled by a per-attempt
// retry loop with linear backoff. Grounded in teacher chunk.go's
// semaphore + worker-goroutine shape, generalized from direct-offset
// WriteAt into the two-artifact $PART/final convention spec.md requires.
type pool struct {
	client       *resty.Client
	dest         string
	finalAddress string
	method       string
	headers      http.Header
	connections  int
	maxRetry     int
	retryDelay   time.Duration
	retryBackoff time.Duration

	reporter *reporter
	sink     *events.Sink
	logger   *slog.Logger

	ctx       context.Context
	total     int
	onAllDone func()

	onSizeDiscovered func(int64)

	mu        sync.Mutex
	queue     []int
	byID      map[int]ChunkRange
	active    int
	completed int
	destroyed bool
	requests  map[int]*httpx.Request
}

func newPool(ctx context.Context, client *resty.Client, dest, finalAddress, method string, headers http.Header, connections, maxRetry int, retryDelay, retryBackoff time.Duration, reporter *reporter, sink *events.Sink, logger *slog.Logger, total int, onAllDone func()) *pool {
	if method == "" {
		method = http.MethodGet
	}
	return &pool{
		client:       client,
		dest:         dest,
		finalAddress: finalAddress,
		method:       method,
		headers:      headers,
		connections:  connections,
		maxRetry:     maxRetry,
		retryDelay:   retryDelay,
		retryBackoff: retryBackoff,
		reporter:     reporter,
		sink:         sink,
		logger:       logger,
		ctx:          ctx,
		total:        total,
		onAllDone:    onAllDone,
		requests:     make(map[int]*httpx.Request),
	}
}

// enqueueCompleted accounts for a chunk that resume already satisfied,
// without dispatching a worker for it.
func (p *pool) enqueueCompleted() {
	p.mu.Lock()
	p.completed++
	done := p.completed == p.total
	p.mu.Unlock()
	if done && p.onAllDone != nil {
		p.onAllDone()
	}
}

// start enqueues the given chunk ranges (LIFO: the last one pushed is the
// first one popped) and kicks off the initial dispatch cycle.
func (p *pool) start(plan Plan, ids []int) {
	byID := make(map[int]ChunkRange, len(plan))
	for _, c := range plan {
		byID[c.ID] = c
	}
	p.mu.Lock()
	p.byID = byID
	p.queue = append(p.queue, ids...)
	p.mu.Unlock()
	p.dispatch()
}

// startSingle dispatches one worker with no range, for single-request mode.
func (p *pool) startSingle() {
	go p.runChunk(0, nil)
}

// dispatch implements the pool's dispatch rule: while not destroyed, queue
// non-empty, and active < connections, pop a job and start a worker.
func (p *pool) dispatch() {
	for {
		p.mu.Lock()
		if p.destroyed || len(p.queue) == 0 || p.active >= p.connections {
			p.mu.Unlock()
			return
		}
		id := p.queue[len(p.queue)-1]
		p.queue = p.queue[:len(p.queue)-1]
		rng := p.byID[id]
		p.active++
		p.mu.Unlock()

		go p.runChunk(id, &rng)
	}
}

func (p *pool) isDestroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}

// destroy aborts every live request exactly once. Partial $PART files are
// left for external cleanup, per spec.md §9 Open Question (c).
func (p *pool) destroy() {
	p.mu.Lock()
	p.destroyed = true
	reqs := make([]*httpx.Request, 0, len(p.requests))
	for _, r := range p.requests {
		reqs = append(reqs, r)
	}
	p.mu.Unlock()
	for _, r := range reqs {
		r.Destroy()
	}
}

func (p *pool) setRequest(id int, r *httpx.Request) {
	p.mu.Lock()
	p.requests[id] = r
	p.mu.Unlock()
}

func (p *pool) clearRequest(id int) {
	p.mu.Lock()
	delete(p.requests, id)
	p.mu.Unlock()
}

// runChunk is the per-chunk retry loop described in spec.md §4.6. rng is
// nil for single-request (whole file) mode.
func (p *pool) runChunk(id int, rng *ChunkRange) {
	var lastErr error
	for attempt := 1; attempt <= p.maxRetry; attempt++ {
		if p.isDestroyed() {
			return
		}

		err := p.attempt(id, rng)
		if err == nil {
			p.onChunkComplete(id)
			return
		}

		if p.isDestroyed() {
			return
		}

		lastErr = err
		p.sink.EmitRetry(events.Retry{ChunkID: id, Attempt: attempt, Err: err})
		p.logger.Warn("chunk attempt failed", "chunk", id, "attempt", attempt, "error", err)

		if attempt < p.maxRetry {
			delay := p.retryDelay + time.Duration(attempt-1)*p.retryBackoff
			p.logger.Debug("retrying chunk", "chunk", id, "attempt", attempt+1, "delay", delay)
			select {
			case <-time.After(delay):
			case <-p.ctx.Done():
				return
			}
		}
	}

	rangeDesc := "whole file"
	if rng != nil {
		rangeDesc = fmt.Sprintf("[%d,%d]", rng.Lo, rng.Hi)
	}
	p.logger.Error("chunk exhausted retries", "chunk", id, "range", rangeDesc, "error", lastErr)
	p.fatal(newChunkErr(KindExhausted, id, fmt.Errorf("failed to download chunk #%d %s: %w", id, rangeDesc, lastErr)))
}

// attempt runs one end-to-end transfer for a chunk, per spec.md §4.6 step 1.
func (p *pool) attempt(id int, rng *ChunkRange) error {
	rangeHdr := make(http.Header)
	expectedLen := int64(-1)
	if rng != nil {
		rangeHdr.Set("Range", fmt.Sprintf("bytes=%d-%d", rng.Lo, rng.Hi))
		expectedLen = rng.Len()
	}
	hdr := utils.MergeHeader(p.headers, rangeHdr)

	partPath := partChunkPath(p.dest, id)
	partFile, err := os.Create(partPath)
	if err != nil {
		return newChunkErr(KindFilesystem, id, err)
	}
	defer partFile.Close()

	attemptCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()

	var attemptErr error
	var written int64

	// A ranged request must be a GET: Range only has meaning on retrieval
	// methods. A caller-supplied method only applies to single-request
	// (whole-file) transfers, where there is no range to honor.
	method := p.method
	if rng != nil {
		method = http.MethodGet
	}

	req := httpx.New(p.client, method, p.finalAddress, hdr, httpx.Callbacks{
		Ready: func(status int, headers http.Header) {
			if status != http.StatusOK && status != http.StatusPartialContent {
				attemptErr = &Error{Kind: KindBadStatus, ChunkID: id, Status: status}
				cancel()
				return
			}
			if rng != nil && status != http.StatusPartialContent {
				attemptErr = newChunkErr(KindRangeNotHonored, id, nil)
				cancel()
				return
			}
			if cl := parseContentLength(headers); cl >= 0 {
				if expectedLen >= 0 && cl != expectedLen {
					attemptErr = newChunkErr(KindLengthMismatch, id, fmt.Errorf("expected %d got %d", expectedLen, cl))
					cancel()
					return
				}
				if rng == nil && p.onSizeDiscovered != nil {
					p.onSizeDiscovered(cl)
				}
			}
		},
		Data: func(chunk []byte) {
			n := int64(len(chunk))
			written += n
			p.reporter.add(id, n)
		},
	})

	p.setRequest(id, req)
	defer p.clearRequest(id)

	pipeErr := req.Pipe(attemptCtx, partFile)
	if attemptErr != nil {
		return attemptErr
	}
	if pipeErr != nil {
		return newChunkErr(KindFilesystem, id, pipeErr)
	}

	if expectedLen >= 0 && written != expectedLen {
		return newChunkErr(KindLengthMismatch, id, fmt.Errorf("wrote %d bytes, expected %d", written, expectedLen))
	}

	partFile.Close()

	if err := os.Rename(partPath, finalChunkPath(p.dest, id)); err != nil {
		return newChunkErr(KindFilesystem, id, err)
	}
	return nil
}

func parseContentLength(h http.Header) int64 {
	v := h.Get("Content-Length")
	if v == "" {
		return -1
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return -1
	}
	return n
}

// onChunkComplete implements spec.md §4.6's chunk-completed handler.
func (p *pool) onChunkComplete(id int) {
	p.logger.Debug("chunk complete", "chunk", id)
	p.reporter.flush(id)

	p.mu.Lock()
	p.active--
	p.completed++
	done := p.completed == p.total
	queueNotEmpty := len(p.queue) > 0
	p.mu.Unlock()

	if done {
		if p.onAllDone != nil {
			p.onAllDone()
		}
		return
	}
	if queueNotEmpty {
		p.dispatch()
	}
}

func (p *pool) fatal(err *Error) {
	p.destroy()
	p.sink.EmitError(err)
}
