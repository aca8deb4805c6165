// Package httpx is the HTTP request primitive spec.md §4.1 describes: a
// single GET, HEAD or caller-chosen request whose response is delivered through callbacks
// (Ready/Data/End/Error/Close) rather than buffered in memory. It wraps
// *resty.Client — the teacher library's HTTP layer — using
// SetDoNotParseResponse so the body can be forwarded explicitly, byte range
// by byte range, per spec.md §9's "Streaming pipeline" note.
package httpx

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/go-resty/resty/v2"
)

// Callbacks bundles the observer functions a Request reports to. Any of
// them may be nil.
type Callbacks struct {
	Ready func(statusCode int, headers http.Header)
	Data  func(chunk []byte)
	End   func()
	Error func(err error)
	Close func()
}

// Request represents one in-flight or completed HTTP request. It is not
// safe to reuse across requests; create a new Request per attempt.
type Request struct {
	client *resty.Client
	method string
	url    string
	header http.Header

	cb Callbacks

	mu        sync.Mutex
	destroyed bool
	done      chan struct{}
	rawBody   io.ReadCloser
}

// New creates a Request for address using client. method is usually "GET"
// or "HEAD"; an empty method means GET and any other method is sent as
// given. header is overlaid onto the client's own headers at send time.
func New(client *resty.Client, method, address string, header http.Header, cb Callbacks) *Request {
	return &Request{
		client: client,
		method: method,
		url:    address,
		header: header,
		cb:     cb,
		done:   make(chan struct{}),
	}
}

// End sends the request and drains the body into Data callbacks, buffering
// nothing beyond the read-sized chunks. It returns once the body has ended,
// errored, or the Request was destroyed.
func (r *Request) End(ctx context.Context) error {
	return r.run(ctx, nil)
}

// Pipe sends the request and forwards each read chunk into w, waiting for
// the write to drain before requesting more (explicit backpressure, per
// spec.md §9), in addition to invoking Data callbacks.
func (r *Request) Pipe(ctx context.Context, w io.Writer) error {
	return r.run(ctx, w)
}

func (r *Request) run(ctx context.Context, w io.Writer) error {
	req := r.client.R().SetContext(ctx).SetDoNotParseResponse(true)
	if r.header != nil {
		for k, vs := range r.header {
			for _, v := range vs {
				req.SetHeader(k, v)
			}
		}
	}

	var resp *resty.Response
	var err error
	switch r.method {
	case http.MethodHead:
		resp, err = req.Head(r.url)
	case "", http.MethodGet:
		resp, err = req.Get(r.url)
	default:
		resp, err = req.Execute(r.method, r.url)
	}
	if err != nil {
		r.emitError(err)
		close(r.done)
		return err
	}

	status := resp.StatusCode()
	if status == 0 {
		status = http.StatusInternalServerError
	}

	body := resp.RawBody()
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		if body != nil {
			body.Close()
		}
		close(r.done)
		r.emitClose()
		return nil
	}
	r.rawBody = body
	r.mu.Unlock()

	if r.cb.Ready != nil {
		r.cb.Ready(status, resp.Header().Clone())
	}

	if body == nil {
		close(r.done)
		if r.cb.End != nil {
			r.cb.End()
		}
		r.emitClose()
		return nil
	}
	defer body.Close()

	buf := make([]byte, 128*1024)
	for {
		if r.isDestroyed() {
			close(r.done)
			r.emitClose()
			return nil
		}

		n, rerr := body.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if r.cb.Data != nil {
				r.cb.Data(chunk)
			}
			if w != nil {
				if _, werr := w.Write(chunk); werr != nil {
					r.emitError(werr)
					close(r.done)
					return werr
				}
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				close(r.done)
				if r.cb.End != nil {
					r.cb.End()
				}
				r.emitClose()
				return nil
			}
			r.emitError(rerr)
			close(r.done)
			return rerr
		}
	}
}

// Wait blocks until the request's stream has closed (successfully,
// erroneously, or via Destroy).
func (r *Request) Wait() {
	<-r.done
}

// Destroy aborts the in-flight request and suppresses further callback
// delivery. It is idempotent.
func (r *Request) Destroy() {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	r.destroyed = true
	body := r.rawBody
	r.mu.Unlock()

	if body != nil {
		body.Close()
	}
}

func (r *Request) isDestroyed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destroyed
}

func (r *Request) emitError(err error) {
	if r.isDestroyed() {
		return
	}
	if r.cb.Error != nil {
		r.cb.Error(err)
	}
	r.emitClose()
}

func (r *Request) emitClose() {
	if r.cb.Close != nil {
		r.cb.Close()
	}
}

// Engine reports which transport a request would use. HTTPS iff the address
// begins with "https", HTTP otherwise (spec.md §4.1 "Engine selection").
// resty/net-http pick the engine from the URL scheme automatically, so this
// exists only as the documented predicate observers can rely on.
func Engine(address string) string {
	if len(address) >= 5 && address[:5] == "https" {
		return "https"
	}
	return "http"
}
