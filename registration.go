package shellcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/spdeepak/shellcache/cache"
)

// Clients reaches the pages currently open against the registration.
type Clients interface {
	Broadcast(ctx context.Context, msg Message) error
}

// Registration routes intercepted requests through the active worker and
// swaps workers when a new version is registered.
type Registration struct {
	registry cache.Registry
	network  Fetcher
	clients  Clients
	log      *slog.Logger

	// register serializes Register calls.
	register sync.Mutex
	mu       sync.RWMutex
	active   *Worker
}

// NewRegistration returns a registration with no active worker. Until one is
// registered every request goes straight to the network. clients may be nil.
func NewRegistration(registry cache.Registry, network Fetcher, clients Clients, logger *slog.Logger) *Registration {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registration{
		registry: registry,
		network:  network,
		clients:  clients,
		log:      logger,
	}
}

// Register installs a worker for cfg, activates it right away and claims all
// traffic for it. If install fails the previously active worker, if any,
// keeps serving and the error is returned.
func (r *Registration) Register(ctx context.Context, cfg *Config) (*Worker, error) {
	r.register.Lock()
	defer r.register.Unlock()

	if cfg == nil {
		cfg = DefaultConfig
	}
	if cfg.Logger == nil {
		withLogger := *cfg
		withLogger.Logger = r.log
		cfg = &withLogger
	}
	worker, err := NewWorker(cfg, r.registry, r.network)
	if err != nil {
		return nil, err
	}
	if err := worker.Install(ctx); err != nil {
		return nil, err
	}
	if err := worker.Activate(ctx); err != nil {
		return nil, fmt.Errorf("activate %q: %w", worker.Generation(), err)
	}

	r.mu.Lock()
	previous := r.active
	r.active = worker
	r.mu.Unlock()

	if previous != nil && previous != worker {
		previous.retire()
	}
	r.log.Info("Claimed clients", slog.String("generation", worker.Generation()))
	return worker, nil
}

// Active returns the worker currently serving traffic, or nil.
func (r *Registration) Active() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// RoundTrip implements http.RoundTripper. With an active worker it never
// returns an error; without one, network errors pass through.
func (r *Registration) RoundTrip(req *http.Request) (*http.Response, error) {
	if worker := r.Active(); worker != nil {
		return worker.Fetch(req), nil
	}
	return r.network.Fetch(req)
}

// ServeHTTP implements http.Handler for running as a local offline proxy.
func (r *Registration) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	resp, err := r.RoundTrip(req)
	if err != nil {
		r.log.Warn("Uncontrolled fetch failed", slog.String("path", req.URL.Path), slog.Any("error", err.Error()))
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	writeResponse(w, resp)
}

// HandleMessage applies an inbound page message.
func (r *Registration) HandleMessage(ctx context.Context, msg Message) error {
	switch msg.Type {
	case MessageCacheNewAsset:
		worker := r.Active()
		if worker == nil {
			return ErrNoActiveWorker
		}
		return worker.CacheAsset(ctx, msg.URL)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}
}

// Wake tells every open page to re-check the day.
func (r *Registration) Wake(ctx context.Context) error {
	if r.clients == nil {
		return nil
	}
	if err := r.clients.Broadcast(ctx, Message{Type: MessageCheckDayChange}); err != nil {
		return fmt.Errorf("broadcast %s: %w", MessageCheckDayChange, err)
	}
	return nil
}

// Run calls Wake every interval until ctx ends.
func (r *Registration) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("wake interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.Wake(ctx); err != nil {
				r.log.Warn("Wake failed", slog.Any("error", err.Error()))
			}
		}
	}
}

// Drain waits for the active worker's pending cache writes.
func (r *Registration) Drain() {
	if worker := r.Active(); worker != nil {
		worker.Drain()
	}
}
