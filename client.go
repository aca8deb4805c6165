package rdl

import (
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"

	"github.com/hydrz/rdl/utils"
)

// newClient builds a configured resty client. The coordinator uses it for
// the redirect resolver and the HEAD probe; chunk transfers (ranged and
// single-request alike) use the client from newTransferClient.
func newClient(o Option) *resty.Client {
	client := resty.New()

	// The redirect resolver (redirect.go) needs to see each 3xx response
	// and its Location header directly so it can track visited URLs and
	// detect loops; resty/net-http's own transparent redirect-following
	// would hide that from it.
	client.SetRedirectPolicy(resty.NoRedirectPolicy())

	if o.HTTPOptions.Timeout > 0 {
		client.SetTimeout(o.HTTPOptions.Timeout)
	} else {
		client.SetTimeout(30 * time.Second)
	}

	if o.HTTPOptions.Proxy != "" {
		client.SetProxy(o.HTTPOptions.Proxy)
	}

	if o.HTTPOptions.Cookie != "" {
		cookieJar, err := utils.CookieJarFromFile(o.HTTPOptions.Cookie)
		if err != nil {
			panic("rdl: failed to load cookie file: " + o.HTTPOptions.Cookie)
		}
		client.SetCookieJar(cookieJar)
	}

	if o.HTTPOptions.Headers != nil {
		client.Header = o.HTTPOptions.Headers.Clone()
	}

	userAgent := o.HTTPOptions.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	client.SetHeader("User-Agent", userAgent)
	client.SetHeader("Accept", "*/*")
	client.SetHeader("Accept-Encoding", "gzip, deflate")

	if o.HTTPOptions.Debug {
		client.SetDebug(true)
	}

	// Cache HEAD probes (metadata/redirect resolution) so a resumed session
	// that re-probes the same URL doesn't re-pay the round trip when the
	// server supports conditional requests. Chunk bodies are never cached:
	// range GETs bypass this transport entirely (see newTransferClient).
	if !o.HTTPOptions.NoCache {
		cachePath := filepath.Join(os.TempDir(), "rdl_cache")
		cache := diskcache.New(cachePath)
		client.SetTransport(httpcache.NewTransport(cache))
	}

	return client
}

// newTransferClient builds the client chunk workers issue range GETs with.
// It never wires the disk cache transport: httpcache keys its store by URL
// alone, and two chunk workers requesting disjoint Range windows of the same
// URL must never be able to serve each other's cached bytes.
func newTransferClient(o Option) *resty.Client {
	o.HTTPOptions.NoCache = true
	return newClient(o)
}
