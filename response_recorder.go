package shellcache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// ResponseRecorder captures a response written by an in-process origin handler.
type ResponseRecorder struct {
	mu          sync.Mutex
	status      int
	header      http.Header
	snapshot    http.Header // header as of WriteHeader
	body        *bytes.Buffer
	wroteHeader bool
}

func NewResponseRecorder() *ResponseRecorder {
	return &ResponseRecorder{
		status: http.StatusOK,
		header: make(http.Header),
		body:   &bytes.Buffer{},
	}
}

// Header implements http.ResponseWriter
func (r *ResponseRecorder) Header() http.Header {
	return r.header
}

// Write implements http.ResponseWriter
func (r *ResponseRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeHeaderLocked(http.StatusOK)
	return r.body.Write(p)
}

// WriteHeader implements http.ResponseWriter
func (r *ResponseRecorder) WriteHeader(status int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeHeaderLocked(status)
}

func (r *ResponseRecorder) writeHeaderLocked(status int) {
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.status = status
	r.snapshot = r.header.Clone()
}

func (r *ResponseRecorder) StatusCode() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Result returns the recorded response for req. Headers set after the first
// write are ignored, as they would be on the wire.
func (r *ResponseRecorder) Result(req *http.Request) *http.Response {
	r.mu.Lock()
	defer r.mu.Unlock()

	header := r.snapshot
	if !r.wroteHeader {
		header = r.header.Clone()
	}
	if header == nil {
		header = make(http.Header)
	}
	body := append([]byte(nil), r.body.Bytes()...)
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", r.status, http.StatusText(r.status)),
		StatusCode:    r.status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

// writeResponse copies resp onto the client connection and closes its body.
func writeResponse(dest http.ResponseWriter, resp *http.Response) {
	defer resp.Body.Close()

	for k, vv := range resp.Header {
		for _, v := range vv {
			dest.Header().Add(k, v)
		}
	}
	dest.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(dest, resp.Body)
}
