// Package httpkit builds the HTTP clients used for every outbound call:
// the completion API, the search backends, the image inference endpoint
// and the reachability probes. All of them share one transport profile
// (bounded dial, TLS and header timeouts, a small idle pool) and send a
// Sidekick User-Agent.
//
// Clients built here never retry. A failed provider call ends the
// current request and the caller decides how to degrade.
package httpkit

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/nugget/sidekick/internal/buildinfo"
)

// Transport defaults.
const (
	DefaultDialTimeout         = 10 * time.Second
	DefaultKeepAlive           = 30 * time.Second
	DefaultTLSHandshakeTimeout = 10 * time.Second
	// DefaultResponseHeader bounds the wait for response headers once
	// the request is written. Streaming clients raise it.
	DefaultResponseHeader  = 15 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
	DefaultMaxIdleConns    = 20
	// DefaultMaxIdleConnsPerHost covers an image batch, which sends
	// several requests to one host at once.
	DefaultMaxIdleConnsPerHost = 8
	// DefaultTimeout is the whole-request timeout of a client built
	// without WithTimeout.
	DefaultTimeout = 30 * time.Second
)

// ClientOption configures a client built by NewClient.
type ClientOption func(*options)

type options struct {
	timeout   time.Duration
	transport *http.Transport
	headers   http.Header
}

// WithTimeout sets the whole-request timeout. Zero disables it, which
// streaming clients need; their requests are bounded by a context.
func WithTimeout(d time.Duration) ClientOption {
	return func(o *options) { o.timeout = d }
}

// WithTransport replaces the default transport.
func WithTransport(t *http.Transport) ClientOption {
	return func(o *options) { o.transport = t }
}

// WithHeader adds a header sent on every request that does not already
// carry one with the same name.
func WithHeader(key, value string) ClientOption {
	return func(o *options) { o.headers.Set(key, value) }
}

// WithUserAgent replaces the Sidekick User-Agent.
func WithUserAgent(ua string) ClientOption {
	return WithHeader("User-Agent", ua)
}

// WithoutUserAgent leaves the User-Agent to net/http.
func WithoutUserAgent() ClientOption {
	return func(o *options) { o.headers.Del("User-Agent") }
}

// NewTransport returns a transport with the shared timeouts and pool
// limits. Callers may adjust it before passing it to WithTransport.
func NewTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   DefaultDialTimeout,
		KeepAlive: DefaultKeepAlive,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: DefaultResponseHeader,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		MaxIdleConns:          DefaultMaxIdleConns,
		MaxIdleConnsPerHost:   DefaultMaxIdleConnsPerHost,
		ForceAttemptHTTP2:     true,
	}
}

// NewClient builds a client on the shared transport profile.
func NewClient(opts ...ClientOption) *http.Client {
	o := &options{
		timeout: DefaultTimeout,
		headers: http.Header{"User-Agent": []string{buildinfo.UserAgent()}},
	}
	for _, opt := range opts {
		opt(o)
	}

	t := o.transport
	if t == nil {
		t = NewTransport()
	}

	var rt http.RoundTripper = t
	if len(o.headers) > 0 {
		rt = &headerTransport{base: t, headers: o.headers}
	}
	return &http.Client{Timeout: o.timeout, Transport: rt}
}

// headerTransport fills in default headers the request does not set.
type headerTransport struct {
	base    http.RoundTripper
	headers http.Header
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := false
	for key, values := range t.headers {
		if req.Header.Get(key) != "" {
			continue
		}
		// RoundTrippers must not modify the caller's request.
		if !cloned {
			req = req.Clone(req.Context())
			cloned = true
		}
		req.Header[key] = values
	}
	return t.base.RoundTrip(req)
}

// CloseIdleConnections forwards to the base transport so
// http.Client.CloseIdleConnections keeps working through the wrapper.
func (t *headerTransport) CloseIdleConnections() {
	if ci, ok := t.base.(interface{ CloseIdleConnections() }); ok {
		ci.CloseIdleConnections()
	}
}

// DrainAndClose discards up to limit bytes of rc and closes it, so the
// connection can return to the pool.
func DrainAndClose(rc io.ReadCloser, limit int64) {
	if rc == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, limit))
	rc.Close()
}

// ReadErrorBody returns at most limit bytes of an error response body
// for inclusion in an error message, then drains and closes rc.
func ReadErrorBody(rc io.ReadCloser, limit int64) string {
	if rc == nil {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(rc, limit))
	DrainAndClose(rc, 1024)
	if err != nil {
		return fmt.Sprintf("(failed to read error body: %v)", err)
	}
	return string(body)
}
