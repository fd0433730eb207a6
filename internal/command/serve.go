package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spdeepak/shellcache"
	"github.com/spdeepak/shellcache/cache"
	"github.com/spdeepak/shellcache/cache/sqlite"
	"github.com/spdeepak/shellcache/internal/config"
	"github.com/spdeepak/shellcache/internal/otel"
	"github.com/spdeepak/shellcache/pages"
	"github.com/urfave/cli/v3"
)

const serviceName = "shellcache"

// ServeCommand runs the offline proxy.
func ServeCommand(env config.Env) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve the app shell through the offline cache",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Value: env.Listen, Usage: "address to listen on"},
			&cli.StringFlag{Name: "origin", Value: env.Origin, Usage: "origin base URL to proxy"},
			&cli.StringFlag{Name: "static-dir", Value: env.StaticDir, Usage: "serve the origin from this directory in-process"},
			&cli.StringFlag{Name: "db", Value: env.DB, Usage: "SQLite cache file (empty keeps the cache in memory)"},
			&cli.StringFlag{Name: "generation", Value: env.Generation, Usage: "cache generation identifier"},
			&cli.DurationFlag{Name: "wake-interval", Value: env.WakeInterval, Usage: "how often pages are told to re-check the day"},
			&cli.Int64Flag{Name: "max-body-bytes", Value: env.MaxBodyBytes, Usage: "largest response body to cache"},
			&cli.IntFlag{Name: "memory-mb", Value: env.MemoryMB, Usage: "per-generation quota of the in-memory cache"},
			&cli.StringFlag{Name: "log-level", Value: env.LogLevel, Usage: "debug, info, warn or error"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			opts := serveOptions{
				listen:          cmd.String("listen"),
				origin:          cmd.String("origin"),
				staticDir:       cmd.String("static-dir"),
				db:              cmd.String("db"),
				generation:      cmd.String("generation"),
				wakeInterval:    cmd.Duration("wake-interval"),
				maxBodyBytes:    cmd.Int64("max-body-bytes"),
				memoryMB:        cmd.Int("memory-mb"),
				shutdownTimeout: env.ShutdownTimeout,
				otelEndpoint:    env.OTelEndpoint,
				logger:          NewLogger(cmd.String("log-level")),
			}
			return runServe(ctx, opts)
		},
	}
}

type serveOptions struct {
	listen          string
	origin          string
	staticDir       string
	db              string
	generation      string
	wakeInterval    time.Duration
	maxBodyBytes    int64
	memoryMB        int
	shutdownTimeout time.Duration
	otelEndpoint    string
	logger          *slog.Logger
}

// proxyServer is everything serve wires together.
type proxyServer struct {
	registration *shellcache.Registration
	hub          *pages.Hub
	registry     cache.Registry
	handler      http.Handler
}

func newProxyServer(ctx context.Context, opts serveOptions) (*proxyServer, error) {
	if opts.logger == nil {
		opts.logger = slog.Default()
	}
	network, err := newNetwork(opts)
	if err != nil {
		return nil, err
	}
	registry, err := openRegistry(opts)
	if err != nil {
		return nil, err
	}

	hub := pages.NewHub(opts.logger)
	registration := shellcache.NewRegistration(registry, network, hub, opts.logger)

	workerCfg := config.Env{Generation: opts.generation, MaxBodyBytes: opts.maxBodyBytes}.WorkerConfig()
	workerCfg.Logger = opts.logger
	if origin, err := url.Parse(strings.TrimSpace(opts.origin)); err == nil && origin.Host != "" {
		workerCfg.Hosts = []string{origin.Host}
	}
	if _, err := registration.Register(ctx, workerCfg); err != nil {
		// Pages stay uncontrolled; the previous generation, if persisted, is untouched.
		opts.logger.Error("Worker registration failed, serving uncontrolled", slog.Any("error", err.Error()))
	}

	mux := http.NewServeMux()
	mux.Handle("/sw", hub.Handler(registration))
	mux.Handle("/", registration)

	return &proxyServer{
		registration: registration,
		hub:          hub,
		registry:     registry,
		handler:      mux,
	}, nil
}

func (p *proxyServer) Close() error {
	p.registration.Drain()
	return p.registry.Close()
}

func newNetwork(opts serveOptions) (shellcache.Fetcher, error) {
	origin := strings.TrimSpace(opts.origin)
	staticDir := strings.TrimSpace(opts.staticDir)
	switch {
	case origin != "" && staticDir != "":
		return nil, errors.New("use either --origin or --static-dir, not both")
	case origin != "":
		return shellcache.NewTransportFetcher(origin, nil)
	case staticDir != "":
		return shellcache.NewHandlerFetcher(staticOrigin(staticDir)), nil
	default:
		return nil, errors.New("one of --origin or --static-dir is required")
	}
}

// staticOrigin serves files from dir. Unlike http.FileServer it answers
// /index.html directly instead of redirecting, since the manifest lists it.
func staticOrigin(dir string) http.Handler {
	root := http.Dir(dir)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Path
		if strings.HasSuffix(name, "/") {
			name += "index.html"
		}
		f, err := root.Open(name)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil || info.IsDir() {
			http.NotFound(w, r)
			return
		}
		http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	})
}

func openRegistry(opts serveOptions) (cache.Registry, error) {
	if strings.TrimSpace(opts.db) == "" {
		memoryMB := opts.memoryMB
		if memoryMB <= 0 {
			memoryMB = 64
		}
		return cache.NewMemoryRegistry(memoryMB), nil
	}
	registry, err := sqlite.Open(opts.db)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	return registry, nil
}

func runServe(ctx context.Context, opts serveOptions) error {
	shutdownTelemetry, err := otel.Setup(ctx, serviceName, opts.otelEndpoint)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(opts))
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			opts.logger.Warn("Telemetry shutdown failed", slog.Any("error", err.Error()))
		}
	}()

	proxy, err := newProxyServer(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := proxy.Close(); err != nil {
			opts.logger.Warn("Close cache registry", slog.Any("error", err.Error()))
		}
	}()

	if opts.wakeInterval > 0 {
		go func() {
			if err := proxy.registration.Run(ctx, opts.wakeInterval); err != nil {
				opts.logger.Warn("Wake loop stopped", slog.Any("error", err.Error()))
			}
		}()
	}

	server := &http.Server{
		Addr:              opts.listen,
		Handler:           proxy.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return listenAndServe(ctx, server, shutdownTimeout(opts), opts.logger)
}

func shutdownTimeout(opts serveOptions) time.Duration {
	if opts.shutdownTimeout <= 0 {
		return 5 * time.Second
	}
	return opts.shutdownTimeout
}

// listenAndServe runs server until ctx ends.
func listenAndServe(ctx context.Context, server *http.Server, timeout time.Duration, logger *slog.Logger) error {
	serveErr := make(chan error, 1)
	logger.Info("Listening", slog.String("addr", server.Addr))
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		err := server.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}
