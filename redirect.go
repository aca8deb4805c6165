package rdl

import (
	"context"
	"net/http"

	"github.com/go-resty/resty/v2"

	"github.com/hydrz/rdl/internal/httpx"
)

// resolveRedirects implements spec.md §4.2: chase 3xx responses via HEAD
// probes, tracking visited URLs to detect loops. Returns the terminal URL
// and its response headers.
func resolveRedirects(ctx context.Context, client *resty.Client, startURL string, headers http.Header) (string, http.Header, error) {
	current := startURL
	visited := make(map[string]bool)
	var hops int

	for {
		if visited[current] {
			return "", nil, newErr(KindRedirectLoop, nil)
		}
		visited[current] = true

		status, respHeaders, err := headProbe(ctx, client, current, headers)
		if err != nil {
			return "", nil, newErr(KindFilesystem, err)
		}

		switch {
		case status == http.StatusOK || status == http.StatusPartialContent:
			return current, respHeaders, nil
		case status >= 300 && status < 400:
			loc := respHeaders.Get("Location")
			if loc == "" {
				return "", nil, newErr(KindBadStatus, ErrNoLocation)
			}
			current = loc
			hops++
			continue
		default:
			if hops > 0 {
				return current, nil, nil
			}
			return "", nil, &Error{Kind: KindBadStatus, ChunkID: -1, Status: status}
		}
	}
}

// headProbe issues a single HEAD request through internal/httpx (the same
// primitive the worker pool uses for chunk bodies), capturing the status and
// headers off its Ready callback. HEAD responses carry no body, so End is
// used rather than Pipe.
func headProbe(ctx context.Context, client *resty.Client, address string, headers http.Header) (int, http.Header, error) {
	var status int
	var respHeaders http.Header
	req := httpx.New(client, http.MethodHead, address, headers, httpx.Callbacks{
		Ready: func(s int, h http.Header) {
			status = s
			respHeaders = h
		},
	})
	if err := req.End(ctx); err != nil {
		return 0, nil, err
	}
	return status, respHeaders, nil
}
