package rdl

import (
	"net/http"
	"time"
)

// ExistBehavior controls what happens when the resolved destination path
// already names a file.
type ExistBehavior string

const (
	// ExistNewFile renames the destination with a "(COPY)" suffix until a
	// free name is found. This is the default.
	ExistNewFile ExistBehavior = "new_file"
	// ExistOverwrite truncates and replaces the existing file.
	ExistOverwrite ExistBehavior = "overwrite"
	// ExistIgnore aborts the download silently: Start emits close without
	// end and without error.
	ExistIgnore ExistBehavior = "ignore"
)

// ChunkSizePolicy is a tagged union: either a fixed byte count or a function
// of the total resource size. Computed takes precedence when both are set.
type ChunkSizePolicy struct {
	Fixed    int64
	Computed func(size int64) int64
}

func (p ChunkSizePolicy) resolve(size int64) int64 {
	if p.Computed != nil {
		return p.Computed(size)
	}
	if p.Fixed > 0 {
		return p.Fixed
	}
	return DefaultChunkSizePolicy.Computed(size)
}

// DefaultChunkSizePolicy implements spec's default: min(size/10, 10MiB).
var DefaultChunkSizePolicy = ChunkSizePolicy{
	Computed: func(size int64) int64 {
		const tenMiB = 10 * 1024 * 1024
		tenth := size / 10
		if tenth < tenMiB {
			if tenth <= 0 {
				return 1
			}
			return tenth
		}
		return tenMiB
	},
}

// HTTPOptions carries the caller-supplied request options that are passed
// through to the HTTP primitive for every request the session issues.
type HTTPOptions struct {
	Method    string
	Headers   http.Header
	Timeout   time.Duration
	Proxy     string
	Cookie    string
	UserAgent string
	NoCache   bool
	Debug     bool
}

// Option is the immutable per-session configuration. Values left at their
// zero value fall back to DefaultOptions' values via Combine.
type Option struct {
	Connections    int
	ExistBehavior  ExistBehavior
	FollowRedirect *bool
	HTTPOptions    HTTPOptions
	ChunkSize      ChunkSizePolicy
	MaxRetry       int
	RetryDelay     time.Duration
	RetryBackoff   time.Duration
	ReportInterval time.Duration

	Debug   bool
	Verbose bool
	Silent  bool
}

func boolPtr(b bool) *bool { return &b }

// DefaultOptions holds the package defaults described in spec.md §6.
var DefaultOptions = &Option{
	Connections:    5,
	ExistBehavior:  ExistNewFile,
	FollowRedirect: boolPtr(true),
	ChunkSize:      DefaultChunkSizePolicy,
	MaxRetry:       3,
	RetryDelay:     2000 * time.Millisecond,
	RetryBackoff:   3000 * time.Millisecond,
	ReportInterval: 2500 * time.Millisecond,
}

// Combine overlays non-zero fields of o onto a copy of the receiver and
// returns the result, the same merge-by-field pattern the teacher library
// uses to layer caller options on top of DefaultOptions.
func (base Option) Combine(o Option) Option {
	result := base
	if o.Connections > 0 {
		result.Connections = o.Connections
	}
	if o.ExistBehavior != "" {
		result.ExistBehavior = o.ExistBehavior
	}
	if o.FollowRedirect != nil {
		result.FollowRedirect = o.FollowRedirect
	}
	if o.HTTPOptions.Method != "" {
		result.HTTPOptions.Method = o.HTTPOptions.Method
	}
	if o.HTTPOptions.Headers != nil {
		result.HTTPOptions.Headers = o.HTTPOptions.Headers
	}
	if o.HTTPOptions.Timeout > 0 {
		result.HTTPOptions.Timeout = o.HTTPOptions.Timeout
	}
	if o.HTTPOptions.Proxy != "" {
		result.HTTPOptions.Proxy = o.HTTPOptions.Proxy
	}
	if o.HTTPOptions.Cookie != "" {
		result.HTTPOptions.Cookie = o.HTTPOptions.Cookie
	}
	if o.HTTPOptions.UserAgent != "" {
		result.HTTPOptions.UserAgent = o.HTTPOptions.UserAgent
	}
	if o.HTTPOptions.NoCache {
		result.HTTPOptions.NoCache = true
	}
	if o.HTTPOptions.Debug {
		result.HTTPOptions.Debug = true
	}
	if o.ChunkSize.Fixed > 0 || o.ChunkSize.Computed != nil {
		result.ChunkSize = o.ChunkSize
	}
	if o.MaxRetry > 0 {
		result.MaxRetry = o.MaxRetry
	}
	if o.RetryDelay > 0 {
		result.RetryDelay = o.RetryDelay
	}
	if o.RetryBackoff > 0 {
		result.RetryBackoff = o.RetryBackoff
	}
	if o.ReportInterval > 0 {
		result.ReportInterval = o.ReportInterval
	}
	if o.Debug {
		result.Debug = true
	}
	if o.Verbose {
		result.Verbose = true
	}
	if o.Silent {
		result.Silent = true
	}
	return result
}

func (o Option) followRedirect() bool {
	if o.FollowRedirect == nil {
		return true
	}
	return *o.FollowRedirect
}

const defaultUserAgent = "rdl/1.0 (+github.com/hydrz/rdl)"
