package shellcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spdeepak/shellcache/cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const tracerName = "github.com/spdeepak/shellcache"

// Worker is one deployed version of the offline cache. It owns a single cache
// generation and moves through the lifecycle in State.
type Worker struct {
	cfg      *Config
	registry cache.Registry
	network  Fetcher
	log      *slog.Logger
	tracer   trace.Tracer

	mu    sync.RWMutex
	state State
	store cache.Store
	// retired is set once a newer worker took over; no writes start after it.
	retired bool

	// Concurrent CACHE_NEW_ASSET requests for one URL share a fetch.
	assets singleflight.Group
	// pending tracks fire-and-forget cache writes.
	pending sync.WaitGroup
}

// NewWorker builds an uninstalled worker. A nil cfg means DefaultConfig.
func NewWorker(cfg *Config, registry cache.Registry, network Fetcher) (*Worker, error) {
	if registry == nil {
		return nil, errors.New("cache registry is required")
	}
	if network == nil {
		return nil, errors.New("network fetcher is required")
	}
	cfg = cfg.withDefaults()
	return &Worker{
		cfg:      cfg,
		registry: registry,
		network:  network,
		log:      cfg.Logger.With(slog.String("generation", cfg.Generation)),
		tracer:   otel.Tracer(tracerName),
		state:    StateUninstalled,
	}, nil
}

// Generation returns the cache generation this worker owns.
func (w *Worker) Generation() string {
	return w.cfg.Generation
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) transition(from, to State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != from {
		return fmt.Errorf("%w: worker is %s, want %s", ErrInvalidState, w.state, from)
	}
	w.state = to
	return nil
}

func (w *Worker) setState(state State) {
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()
}

// Install fetches every manifest asset into the worker's generation. All
// fetches must succeed with 200 before anything is stored; any failure
// fails the whole install and leaves the worker redundant.
func (w *Worker) Install(ctx context.Context) error {
	if err := w.transition(StateUninstalled, StateInstalling); err != nil {
		return err
	}
	ctx, span := w.tracer.Start(ctx, "shellcache.install",
		trace.WithAttributes(attribute.String("shellcache.generation", w.cfg.Generation)))
	defer span.End()

	if err := w.install(ctx); err != nil {
		w.setState(StateRedundant)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		w.log.Error("Install failed", slog.Any("error", err.Error()))
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	w.setState(StateInstalled)
	w.log.Info("Installed", slog.Int("assets", len(w.cfg.Manifest)))
	return nil
}

func (w *Worker) install(ctx context.Context) error {
	existing, err := w.registry.Names(ctx)
	if err != nil {
		return fmt.Errorf("list generations: %w", err)
	}
	created := !slices.Contains(existing, w.cfg.Generation)

	store, err := w.registry.Open(ctx, w.cfg.Generation)
	if err != nil {
		return fmt.Errorf("open generation %q: %w", w.cfg.Generation, err)
	}

	// A generation this install created must not survive a failed install.
	discard := func(cause error) error {
		if created {
			if _, err := w.registry.Delete(context.WithoutCancel(ctx), w.cfg.Generation); err != nil {
				w.log.Warn("Failed to discard generation", slog.Any("error", err.Error()))
			}
		}
		return cause
	}

	requests := make([]*http.Request, len(w.cfg.Manifest))
	entries := make([]*cache.Entry, len(w.cfg.Manifest))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, path := range w.cfg.Manifest {
		group.Go(func() error {
			req, err := http.NewRequestWithContext(groupCtx, http.MethodGet, path, nil)
			if err != nil {
				return fmt.Errorf("build request for %s: %w", path, err)
			}
			entry, err := w.fetchEntry(req)
			if err != nil {
				return err
			}
			if entry.StatusCode != http.StatusOK {
				return fmt.Errorf("fetch %s: unexpected status %d", path, entry.StatusCode)
			}
			requests[i] = req
			entries[i] = entry
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return discard(err)
	}

	// Reinstalling a live generation overwrites entries it is serving from.
	previous := make(map[string]*cache.Entry)
	if !created {
		for i := range entries {
			key := w.cfg.KeyGenerator(requests[i])
			if old, ok, err := store.Get(ctx, key); err == nil && ok {
				previous[key] = old
			}
		}
	}

	written := make([]string, 0, len(entries))
	for i, entry := range entries {
		key := w.cfg.KeyGenerator(requests[i])
		if err := cache.SetPinned(ctx, store, key, entry); err != nil {
			if !created {
				w.restore(context.WithoutCancel(ctx), store, written, previous)
			}
			return discard(fmt.Errorf("store %s: %w", entry.URL, err))
		}
		written = append(written, key)
	}

	w.mu.Lock()
	w.store = store
	w.mu.Unlock()
	return nil
}

// restore puts back what a failed reinstall overwrote in a live generation.
func (w *Worker) restore(ctx context.Context, store cache.Store, written []string, previous map[string]*cache.Entry) {
	for _, key := range written {
		var err error
		if old, ok := previous[key]; ok {
			err = cache.SetPinned(ctx, store, key, old)
		} else {
			err = store.Delete(ctx, key)
		}
		if err != nil {
			w.log.Warn("Failed to restore entry", slog.Any("cacheKey", key), slog.Any("error", err.Error()))
		}
	}
}

// Activate deletes every cache generation other than the worker's own. The
// deletions run concurrently and Activate waits for all of them. Cleanup
// failures are logged and do not block activation.
func (w *Worker) Activate(ctx context.Context) error {
	if err := w.transition(StateInstalled, StateActivating); err != nil {
		return err
	}
	ctx, span := w.tracer.Start(ctx, "shellcache.activate",
		trace.WithAttributes(attribute.String("shellcache.generation", w.cfg.Generation)))
	defer span.End()

	names, err := w.registry.Names(ctx)
	if err != nil {
		w.log.Warn("Failed to list generations", slog.Any("error", err.Error()))
	}

	var group errgroup.Group
	for _, name := range names {
		if name == w.cfg.Generation {
			continue
		}
		group.Go(func() error {
			if _, err := w.registry.Delete(ctx, name); err != nil {
				return fmt.Errorf("delete generation %q: %w", name, err)
			}
			w.log.Info("Deleted stale generation", slog.String("stale", name))
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		span.RecordError(err)
		w.log.Warn("Failed to delete stale generation", slog.Any("error", err.Error()))
	}

	w.setState(StateActive)
	w.log.Info("Activated")
	return nil
}

// retire marks a superseded worker redundant and waits for its pending writes.
func (w *Worker) retire() {
	w.mu.Lock()
	w.state = StateRedundant
	w.retired = true
	w.mu.Unlock()
	w.pending.Wait()
}

// Drain waits for pending background cache writes.
func (w *Worker) Drain() {
	w.pending.Wait()
}

func (w *Worker) currentStore() cache.Store {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.store
}

// Fetch answers an intercepted request. It never fails: when neither the
// network nor the cache can answer, a synthetic response is returned.
func (w *Worker) Fetch(req *http.Request) *http.Response {
	strategy := "network-first"
	if w.isAppShell(req) {
		strategy = "cache-first"
	}
	ctx, span := w.tracer.Start(req.Context(), "shellcache.fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.URL.Path),
			attribute.String("shellcache.strategy", strategy),
		))
	defer span.End()
	req = req.WithContext(ctx)

	var resp *http.Response
	if strategy == "cache-first" {
		resp = w.cacheFirst(req)
	} else {
		resp = w.networkFirst(req)
	}

	span.SetAttributes(
		attribute.Int("http.response.status_code", resp.StatusCode),
		attribute.String("shellcache.cache_status", resp.Header.Get(HeaderCacheStatus)),
	)
	return resp
}

// isAppShell reports whether req targets a manifest asset or the images directory.
func (w *Worker) isAppShell(req *http.Request) bool {
	if req.Method != http.MethodGet {
		return false
	}
	path := req.URL.Path
	if w.cfg.ImagesDir != "" && strings.HasPrefix(path, w.cfg.ImagesDir) {
		return true
	}
	return slices.Contains(w.cfg.Manifest, path)
}

func (w *Worker) cacheFirst(req *http.Request) *http.Response {
	cacheKey := w.cfg.KeyGenerator(req)
	if entry, ok := w.lookup(req.Context(), cacheKey); ok {
		return withCacheStatus(entry.Response(req), cacheStatusHit)
	}

	entry, err := w.fetchEntry(req)
	if err != nil {
		w.log.Warn("App shell asset unavailable", slog.Any("cacheKey", cacheKey), slog.Any("error", err.Error()))
		return networkErrorResponse(req)
	}
	if w.cacheable(entry) {
		if store := w.currentStore(); store != nil {
			if err := cache.SetPinned(req.Context(), store, cacheKey, entry); err != nil {
				w.log.Warn("Failed to cache response", slog.Any("cacheKey", cacheKey), slog.Any("error", err.Error()))
			}
		}
	}
	return withCacheStatus(entry.Response(req), cacheStatusMiss)
}

func (w *Worker) networkFirst(req *http.Request) *http.Response {
	cacheKey := w.cfg.KeyGenerator(req)
	entry, err := w.fetchEntry(req)
	if err == nil {
		if req.Method == http.MethodGet && w.cacheable(entry) {
			w.storeAsync(req.Context(), cacheKey, entry.Clone())
		}
		return withCacheStatus(entry.Response(req), cacheStatusMiss)
	}
	w.log.Debug("Network unavailable, trying cache", slog.Any("cacheKey", cacheKey), slog.Any("error", err.Error()))

	if req.Method == http.MethodGet {
		if cached, ok := w.lookup(req.Context(), cacheKey); ok {
			return withCacheStatus(cached.Response(req), cacheStatusHit)
		}
	}
	if IsNavigation(req) {
		return offlinePageResponse(req)
	}
	return notAvailableResponse(req)
}

// storeAsync writes entry without blocking the caller.
func (w *Worker) storeAsync(ctx context.Context, cacheKey string, entry *cache.Entry) {
	// Add happens under mu so it can never race retire's Wait. Responses still
	// in flight on a retired worker are not stored.
	w.mu.Lock()
	store := w.store
	if store == nil || w.retired {
		w.mu.Unlock()
		return
	}
	w.pending.Add(1)
	w.mu.Unlock()

	// The request context ends with the response; the write must outlive it.
	ctx = context.WithoutCancel(ctx)
	go func() {
		defer w.pending.Done()
		// recover to avoid uncaught goroutine panic
		defer func() {
			if p := recover(); p != nil {
				w.log.Error("Panic while caching response", slog.Any("cacheKey", cacheKey), slog.Any("panic", p))
			}
		}()
		if err := store.Set(ctx, cacheKey, entry); err != nil {
			w.log.Warn("Failed to cache response", slog.Any("cacheKey", cacheKey), slog.Any("error", err.Error()))
		}
	}()
}

// lookup treats store errors as misses.
func (w *Worker) lookup(ctx context.Context, cacheKey string) (*cache.Entry, bool) {
	store := w.currentStore()
	if store == nil {
		return nil, false
	}
	entry, ok, err := store.Get(ctx, cacheKey)
	if err != nil {
		w.log.Warn("Cache lookup failed", slog.Any("cacheKey", cacheKey), slog.Any("error", err.Error()))
		return nil, false
	}
	if !ok || entry == nil {
		return nil, false
	}
	return entry, true
}

// fetchEntry performs the network fetch and buffers the full body.
func (w *Worker) fetchEntry(req *http.Request) (*cache.Entry, error) {
	resp, err := w.network.Fetch(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", req.URL.RequestURI(), err)
	}
	return &cache.Entry{
		URL:        req.URL.RequestURI(),
		StatusCode: resp.StatusCode,
		Headers:    w.cfg.StripHeaders(resp.Header),
		Body:       body,
		StoredAt:   time.Now(),
	}, nil
}

func (w *Worker) cacheable(entry *cache.Entry) bool {
	if entry.StatusCode != http.StatusOK {
		return false
	}
	return w.cfg.MaxBodyBytes <= 0 || int64(len(entry.Body)) <= w.cfg.MaxBodyBytes
}

func withCacheStatus(resp *http.Response, status string) *http.Response {
	resp.Header.Set(HeaderCacheStatus, status)
	return resp
}
