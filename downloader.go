package rdl

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-resty/resty/v2"

	"github.com/hydrz/rdl/events"
)

// SessionState is the coordinator's lifecycle state machine, spec.md §3:
// Fresh → Started → (Ranging | Single) → (Downloading | Assembling) →
// Done | Destroyed. Destroyed is terminal and absorbing.
type SessionState string

const (
	StateFresh       SessionState = "fresh"
	StateStarted     SessionState = "started"
	StateRanging     SessionState = "ranging"
	StateSingle      SessionState = "single"
	StateDownloading SessionState = "downloading"
	StateAssembling  SessionState = "assembling"
	StateDone        SessionState = "done"
	StateDestroyed   SessionState = "destroyed"
)

// Downloader is the download coordinator, spec.md §4.9: it orchestrates the
// destination resolver, redirect resolver, chunk planner, resume scanner,
// worker pool and assembler, and owns the session's lifecycle and event
// emission. Grounded in teacher downloader.go's Downloader.Download /
// downloadDirectWithResume probe-then-branch structure, generalized from a
// per-URL media pipeline into a single-destination resumable session.
type Downloader struct {
	url string
	opt Option

	sink   *events.Sink
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	client         *resty.Client
	transferClient *resty.Client

	mu          sync.Mutex
	state       SessionState
	dest        string
	plan        Plan
	pool        *pool
	reporter    *reporter
	destroyed   bool
	endFired    bool
	fatalErr    error
	metadataErr error

	metadataOnce chan struct{}
	closeOnce    chan struct{}
}

// New constructs a session for url → dest. Caller options overlay
// DefaultOptions via Option.Combine. Register event listeners on the
// returned Downloader's Events() sink before calling Start, per spec.md
// §4.9 ("schedule the start procedure on the next tick so observers
// attached after construction still see initial events").
func New(url, dest string, opts ...Option) *Downloader {
	o := *DefaultOptions
	for _, override := range opts {
		o = o.Combine(override)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Downloader{
		url:          url,
		opt:          o,
		dest:         dest,
		sink:         &events.Sink{},
		logger:       newLogger(o),
		ctx:          ctx,
		cancel:       cancel,
		state:        StateFresh,
		metadataOnce: make(chan struct{}),
		closeOnce:    make(chan struct{}),
	}
	d.client = newClient(o)
	d.transferClient = newTransferClient(o)

	d.sink.OnMetadata(func(events.Metadata) { d.closeMetadataWait() })
	d.sink.OnError(func(err error) {
		d.mu.Lock()
		d.fatalErr = err
		d.mu.Unlock()
		d.closeMetadataWait()
	})
	d.sink.OnEnd(func() {
		d.mu.Lock()
		d.endFired = true
		d.mu.Unlock()
	})
	d.sink.OnClose(func() { close(d.closeOnce) })

	return d
}

// Events returns the session's event sink for registering On* listeners.
func (d *Downloader) Events() *events.Sink { return d.sink }

func (d *Downloader) closeMetadataWait() {
	select {
	case <-d.metadataOnce:
	default:
		close(d.metadataOnce)
	}
}

// Start begins the session asynchronously, per spec.md §4.9's start
// procedure. It is idempotent for a Fresh session; calling it again returns
// ErrAlreadyStarted, and on a destroyed session returns ErrDestroyed.
func (d *Downloader) Start() error {
	d.mu.Lock()
	if d.state == StateDestroyed {
		d.mu.Unlock()
		return ErrDestroyed
	}
	if d.state != StateFresh {
		d.mu.Unlock()
		return ErrAlreadyStarted
	}
	d.state = StateStarted
	d.mu.Unlock()

	go d.run()
	return nil
}

// Metadata schedules Start (if not already started) and blocks until the
// session's metadata event fires or a fatal error occurs.
func (d *Downloader) Metadata() (events.Metadata, error) {
	var m events.Metadata
	var captured sync.Once
	d.sink.OnMetadata(func(got events.Metadata) { captured.Do(func() { m = got }) })

	if err := d.Start(); err != nil && err != ErrAlreadyStarted {
		return events.Metadata{}, err
	}

	<-d.metadataOnce
	d.mu.Lock()
	err := d.fatalErr
	d.mu.Unlock()
	return m, err
}

// Wait schedules Start (if not already started) and blocks until the
// session closes, returning whether end fired, or the fatal error if one
// occurred.
func (d *Downloader) Wait() (bool, error) {
	if err := d.Start(); err != nil && err != ErrAlreadyStarted {
		return false, err
	}

	<-d.closeOnce
	d.mu.Lock()
	ended, err := d.endFired, d.fatalErr
	d.mu.Unlock()
	return ended, err
}

// Destroy marks the session destroyed, aborts every live request, and
// emits close exactly once. Idempotent.
func (d *Downloader) Destroy() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.destroyed = true
	d.state = StateDestroyed
	pool := d.pool
	d.mu.Unlock()

	d.cancel()
	if pool != nil {
		pool.destroy()
	}
	d.closeMetadataWait()
	d.sink.EmitClose()
}

func (d *Downloader) isDestroyed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed
}

func (d *Downloader) setState(s SessionState) {
	d.mu.Lock()
	if !d.destroyed {
		d.state = s
	}
	d.mu.Unlock()
}

func (d *Downloader) fail(err error) {
	if d.isDestroyed() {
		return
	}
	d.mu.Lock()
	d.fatalErr = err
	d.mu.Unlock()
	d.sink.EmitError(err)
	d.Destroy()
}

// run implements the start procedure, spec.md §4.9 steps 1-7.
func (d *Downloader) run() {
	resolved, err := resolveDestination(d.dest, d.url, d.opt.ExistBehavior)
	if err != nil {
		d.fail(err)
		return
	}
	if resolved == "" {
		// existBehavior = ignore and the file already exists: abort
		// silently, emitting close without end or error.
		d.Destroy()
		return
	}
	d.mu.Lock()
	d.dest = resolved
	d.mu.Unlock()

	if err := validateParentDir(d.dest); err != nil {
		d.fail(err)
		return
	}

	finalAddress, headers, size, acceptRanges, err := d.probe()
	if err != nil {
		d.logger.Error("probe failed", "url", d.url, "error", err)
		d.fail(err)
		return
	}
	if d.isDestroyed() {
		return
	}

	parallel := d.opt.Connections != 1 && size >= 0 && acceptRanges
	d.logger.Debug("probe resolved", "finalAddress", finalAddress, "size", size, "acceptRanges", acceptRanges, "parallel", parallel)

	if parallel {
		d.runParallel(finalAddress, headers, size)
	} else {
		d.runSingle(finalAddress, headers, size)
	}
}

// probe implements spec.md §4.9 step 3: resolve redirects (or issue a
// single HEAD) and read Content-Length / Accept-Ranges off the result.
func (d *Downloader) probe() (finalAddress string, headers http.Header, size int64, acceptRanges bool, err error) {
	if d.opt.followRedirect() {
		finalAddress, headers, err = resolveRedirects(d.ctx, d.client, d.url, d.opt.HTTPOptions.Headers)
		if err != nil {
			return "", nil, -1, false, err
		}
	} else {
		status, respHeaders, herr := headProbe(d.ctx, d.client, d.url, d.opt.HTTPOptions.Headers)
		if herr != nil {
			return "", nil, -1, false, newErr(KindFilesystem, herr)
		}
		if status != http.StatusOK && status != http.StatusPartialContent {
			return "", nil, -1, false, &Error{Kind: KindBadStatus, ChunkID: -1, Status: status}
		}
		finalAddress, headers = d.url, respHeaders
	}

	size = -1
	if headers != nil {
		if cl := headers.Get("Content-Length"); cl != "" {
			if n, perr := strconv.ParseInt(cl, 10, 64); perr == nil {
				size = n
			}
		}
	}
	acceptRanges = headers != nil && headers.Get("Accept-Ranges") == "bytes"
	return finalAddress, headers, size, acceptRanges, nil
}

// runParallel implements spec.md §4.9 step 5: plan, scan for resume,
// dispatch workers (or go straight to assembly if every chunk was already
// present).
func (d *Downloader) runParallel(finalAddress string, headers http.Header, size int64) {
	d.setState(StateRanging)

	plan := planChunks(size, d.opt.Connections, d.opt.ChunkSize)
	d.mu.Lock()
	d.plan = plan
	d.mu.Unlock()

	result, err := scanForResume(d.dest, plan)
	if err != nil {
		d.fail(err)
		return
	}

	rep := newReporter(d.sink, d.opt.ReportInterval, plan)
	for _, id := range result.complete {
		rep.markResumed(id)
	}
	d.mu.Lock()
	d.reporter = rep
	d.mu.Unlock()

	d.emitMetadata(finalAddress, headers, plan, result.isResume, true, true)
	if d.isDestroyed() {
		return
	}

	total := len(plan)
	pl := newPool(d.ctx, d.transferClient, d.dest, finalAddress, d.opt.HTTPOptions.Method, d.opt.HTTPOptions.Headers,
		d.opt.Connections, d.opt.MaxRetry, d.opt.RetryDelay, d.opt.RetryBackoff,
		rep, d.sink, d.logger, total, func() { d.finish(plan) })
	d.mu.Lock()
	d.pool = pl
	d.mu.Unlock()

	for _, id := range result.complete {
		pl.enqueueCompleted()
	}

	if len(result.pending) == 0 {
		// every chunk already present: assembly was already triggered by
		// enqueueCompleted's done check once the count matched. An empty
		// plan (zero-length resource) has no chunk to count, so it is
		// assembled here.
		if total == 0 {
			d.finish(plan)
		}
		return
	}

	d.setState(StateDownloading)
	pl.start(plan, result.pending)
}

// runSingle implements spec.md §4.9 step 6: one chunk worker, no range.
func (d *Downloader) runSingle(finalAddress string, headers http.Header, size int64) {
	d.setState(StateSingle)

	var plan Plan
	if size >= 0 {
		plan = Plan{{ID: 0, Lo: 0, Hi: size - 1}}
	} else {
		plan = Plan{{ID: 0, Lo: 0, Hi: 0}}
	}
	d.mu.Lock()
	d.plan = plan
	d.mu.Unlock()

	rep := newReporter(d.sink, d.opt.ReportInterval, plan)
	d.mu.Lock()
	d.reporter = rep
	d.mu.Unlock()

	d.emitMetadata(finalAddress, headers, plan, false, false, false)
	if d.isDestroyed() {
		return
	}

	pl := newPool(d.ctx, d.transferClient, d.dest, finalAddress, d.opt.HTTPOptions.Method, d.opt.HTTPOptions.Headers,
		1, d.opt.MaxRetry, d.opt.RetryDelay, d.opt.RetryBackoff,
		rep, d.sink, d.logger, 1, func() { d.finish(plan) })
	if size < 0 {
		pl.onSizeDiscovered = func(discovered int64) {
			d.mu.Lock()
			d.plan = Plan{{ID: 0, Lo: 0, Hi: discovered - 1}}
			d.mu.Unlock()
			rep.updateLength(0, discovered)
		}
	}
	d.mu.Lock()
	d.pool = pl
	d.mu.Unlock()

	d.setState(StateDownloading)
	pl.startSingle()
}

func (d *Downloader) emitMetadata(finalAddress string, headers http.Header, plan Plan, isResume, parallel, resumable bool) {
	if !d.sink.HasMetadataListener() {
		return
	}
	chunks := make([]events.ChunkRange, len(plan))
	for i, c := range plan {
		chunks[i] = events.ChunkRange{ID: c.ID, Lo: c.Lo, Hi: c.Hi, Bytes: c.Len()}
	}

	d.mu.Lock()
	rep := d.reporter
	dest := d.dest
	d.mu.Unlock()

	var progress []events.ChunkProgress
	if rep != nil {
		progress = rep.Snapshot().Details
	}

	d.sink.EmitMetadata(events.Metadata{
		Size:          plan.TotalSize(),
		Chunks:        chunks,
		IsResume:      isResume,
		Progress:      progress,
		FinalAddress:  finalAddress,
		Parallel:      parallel,
		Resumable:     resumable,
		Headers:       headers,
		SavedFilePath: dest,
	})
}

// finish implements spec.md §4.8/§4.9: assemble the completed chunks into
// the output, emit end, transition to Done, then destroy.
func (d *Downloader) finish(plan Plan) {
	if d.isDestroyed() {
		return
	}
	d.setState(StateAssembling)

	d.mu.Lock()
	dest := d.dest
	d.mu.Unlock()

	if err := assembleChunks(dest, plan, d.sink); err != nil {
		d.logger.Error("assembly failed", "dest", dest, "error", err)
		d.fail(err)
		return
	}

	d.logger.Debug("download complete", "dest", dest)
	d.setState(StateDone)
	d.sink.EmitEnd()
	d.Destroy()
}
