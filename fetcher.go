package shellcache

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Fetcher performs the network leg of an intercepted request. An error means
// the network was unreachable; any HTTP response, whatever its status, is a
// successful fetch.
type Fetcher interface {
	Fetch(req *http.Request) (*http.Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(req *http.Request) (*http.Response, error)

func (f FetcherFunc) Fetch(req *http.Request) (*http.Response, error) {
	return f(req)
}

// TransportFetcher sends requests to a remote origin.
type TransportFetcher struct {
	origin    *url.URL
	transport http.RoundTripper
}

// NewTransportFetcher returns a fetcher that rewrites requests onto origin.
// A nil transport means http.DefaultTransport.
func NewTransportFetcher(origin string, transport http.RoundTripper) (*TransportFetcher, error) {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return nil, errors.New("origin is required")
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("origin scheme must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, errors.New("origin host is required")
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &TransportFetcher{origin: parsed, transport: transport}, nil
}

func (f *TransportFetcher) Fetch(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	// Server-side requests carry RequestURI, which a client request must not.
	out.RequestURI = ""
	target := *req.URL
	target.Scheme = f.origin.Scheme
	target.Host = f.origin.Host
	if base := strings.TrimSuffix(f.origin.Path, "/"); base != "" {
		target.Path = base + target.Path
		target.RawPath = ""
	}
	out.URL = &target
	out.Host = f.origin.Host
	out.Header = stripHopByHop(req.Header)

	resp, err := f.transport.RoundTrip(out)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target.String(), err)
	}
	return resp, nil
}

// HandlerFetcher serves requests through an in-process origin handler.
type HandlerFetcher struct {
	handler http.Handler
}

func NewHandlerFetcher(handler http.Handler) *HandlerFetcher {
	return &HandlerFetcher{handler: handler}
}

// Fetch runs the handler and returns what it wrote. A panicking handler is
// reported as a network failure.
func (f *HandlerFetcher) Fetch(req *http.Request) (resp *http.Response, err error) {
	if f.handler == nil {
		return nil, errors.New("origin handler is not configured")
	}
	recorder := NewResponseRecorder()
	defer func() {
		if p := recover(); p != nil {
			resp = nil
			err = fmt.Errorf("origin handler panic: %v", p)
		}
	}()
	f.handler.ServeHTTP(recorder, req)
	return recorder.Result(req), nil
}
