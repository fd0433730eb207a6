package cache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Store defines the contract for one cache generation.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Set(ctx context.Context, key string, entry *Entry) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// Pinner is implemented by stores that evict. Pinned entries survive eviction.
type Pinner interface {
	SetPinned(ctx context.Context, key string, entry *Entry) error
}

// SetPinned stores entry pinned when store supports it and plainly otherwise.
func SetPinned(ctx context.Context, store Store, key string, entry *Entry) error {
	if pinner, ok := store.(Pinner); ok {
		return pinner.SetPinned(ctx, key, entry)
	}
	return store.Set(ctx, key, entry)
}

// Registry holds named cache generations. Opening a name that does not exist
// creates it.
type Registry interface {
	Open(ctx context.Context, name string) (Store, error)
	Names(ctx context.Context) ([]string, error)
	// Delete removes a generation and everything stored in it. It reports
	// whether the generation existed.
	Delete(ctx context.Context, name string) (bool, error)
	Close() error // For graceful shutdown/cleanup
}

// Entry holds a stored HTTP response.
type Entry struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	StoredAt   time.Time
}

// Size returns the estimated memory footprint in bytes.
func (e *Entry) Size() int64 {
	// Simple size estimation: Body length + headers map/string overhead
	bodySize := int64(len(e.Body))
	// Heuristic: ~30 bytes per header key/value pair overhead
	headerSize := int64(len(e.Headers) * 30)
	return bodySize + headerSize + int64(len(e.URL))
}

// Clone returns a deep copy so callers can't mutate stored bytes.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	return &Entry{
		URL:        e.URL,
		StatusCode: e.StatusCode,
		Headers:    e.Headers.Clone(),
		Body:       append([]byte(nil), e.Body...),
		StoredAt:   e.StoredAt,
	}
}

// Response rebuilds an HTTP response for req with a fresh body reader.
func (e *Entry) Response(req *http.Request) *http.Response {
	header := e.Headers.Clone()
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode)),
		StatusCode:    e.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

// Usage reports how many entries a store holds and their estimated size.
func Usage(ctx context.Context, store Store) (count int, size int64, err error) {
	keys, err := store.Keys(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list keys: %w", err)
	}
	for _, key := range keys {
		entry, ok, err := store.Get(ctx, key)
		if err != nil {
			return 0, 0, fmt.Errorf("get %q: %w", key, err)
		}
		if !ok {
			continue
		}
		count++
		size += entry.Size()
	}
	return count, size, nil
}
