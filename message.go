package shellcache

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// MessageType identifies a message exchanged with open pages.
type MessageType string

const (
	// MessageCacheNewAsset asks the worker to cache one extra URL.
	MessageCacheNewAsset MessageType = "CACHE_NEW_ASSET"
	// MessageCheckDayChange tells pages to re-check date-dependent state.
	MessageCheckDayChange MessageType = "CHECK_DAY_CHANGE"
)

// Message is the structured frame exchanged with open pages.
type Message struct {
	Type MessageType `json:"type"`
	URL  string      `json:"url,omitempty"`
}

// CacheAsset fetches rawURL from the network and stores it in the worker's
// generation, replacing any existing entry for the same request.
func (w *Worker) CacheAsset(ctx context.Context, rawURL string) error {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidMessage)
	}
	target, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: parse url: %v", ErrInvalidMessage, err)
	}
	if target.Host != "" && !w.servesHost(ctx, target.Host) {
		return fmt.Errorf("%w: host %q is not served by this worker", ErrInvalidMessage, target.Host)
	}
	store := w.currentStore()
	if store == nil {
		return ErrNotInstalled
	}

	// Only the request URI reaches the origin, so it is also the dedup key.
	requestURI := target.RequestURI()
	// The shared fetch must not die with whichever caller started it.
	sharedCtx := context.WithoutCancel(ctx)
	_, err, _ = w.assets.Do(requestURI, func() (any, error) {
		req, err := http.NewRequestWithContext(sharedCtx, http.MethodGet, requestURI, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: build request: %v", ErrInvalidMessage, err)
		}
		entry, err := w.fetchEntry(req)
		if err != nil {
			return nil, err
		}
		if entry.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch %s: unexpected status %d", requestURI, entry.StatusCode)
		}
		cacheKey := w.cfg.KeyGenerator(req)
		if err := store.Set(sharedCtx, cacheKey, entry); err != nil {
			return nil, fmt.Errorf("store %s: %w", requestURI, err)
		}
		w.log.Info("Cached asset on demand", slog.Any("cacheKey", cacheKey))
		return nil, nil
	})
	return err
}

type pageHostKey struct{}

// WithPageHost records the host of the page a message came from.
func WithPageHost(ctx context.Context, host string) context.Context {
	return context.WithValue(ctx, pageHostKey{}, host)
}

func pageHost(ctx context.Context) string {
	host, _ := ctx.Value(pageHostKey{}).(string)
	return host
}

// servesHost reports whether host is the requesting page's host or one of
// cfg.Hosts.
func (w *Worker) servesHost(ctx context.Context, host string) bool {
	if page := pageHost(ctx); page != "" && strings.EqualFold(page, host) {
		return true
	}
	for _, allowed := range w.cfg.Hosts {
		if strings.EqualFold(allowed, host) {
			return true
		}
	}
	return false
}
