package command

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spdeepak/shellcache"
	"github.com/spdeepak/shellcache/cache"
	"github.com/spdeepak/shellcache/cache/sqlite"
	"github.com/spdeepak/shellcache/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeShell lays out every manifest asset under a temp directory.
func writeShell(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, path := range shellcache.DefaultManifest {
		if path == "/" {
			continue
		}
		full := filepath.Join(dir, filepath.FromSlash(path))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte("file "+path), 0o644))
	}
	return dir
}

func TestProxyServerServesShellOffline(t *testing.T) {
	dir := writeShell(t)
	proxy, err := newProxyServer(context.Background(), serveOptions{
		staticDir:  dir,
		generation: "v1",
		memoryMB:   1,
		logger:     discardLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = proxy.Close() })
	require.NotNil(t, proxy.registration.Active())

	// Removing the files simulates the origin going away.
	require.NoError(t, os.RemoveAll(dir))

	srv := httptest.NewServer(proxy.handler)
	t.Cleanup(srv.Close)

	for path, want := range map[string]string{
		"/":                      "file /index.html",
		"/index.html":            "file /index.html",
		"/imgs/icon-512x512.png": "file /imgs/icon-512x512.png",
	} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, "HIT", resp.Header.Get(shellcache.HeaderCacheStatus), path)
		assert.Equal(t, want, string(body), path)
	}
}

func TestProxyServerWithFailedInstallStaysUncontrolled(t *testing.T) {
	dir := writeShell(t)
	require.NoError(t, os.Remove(filepath.Join(dir, "favicon.ico")))

	proxy, err := newProxyServer(context.Background(), serveOptions{
		staticDir:  dir,
		generation: "v1",
		db:         filepath.Join(t.TempDir(), "cache.db"),
		logger:     discardLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = proxy.Close() })

	assert.Nil(t, proxy.registration.Active())
	names, err := proxy.registry.Names(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestNewNetworkValidation(t *testing.T) {
	_, err := newNetwork(serveOptions{})
	assert.Error(t, err)
	_, err = newNetwork(serveOptions{origin: "http://127.0.0.1:1", staticDir: "."})
	assert.Error(t, err)

	network, err := newNetwork(serveOptions{origin: "http://127.0.0.1:1"})
	require.NoError(t, err)
	assert.IsType(t, &shellcache.TransportFetcher{}, network)
}

func TestStaticOriginServesIndexWithoutRedirect(t *testing.T) {
	dir := writeShell(t)
	handler := staticOrigin(dir)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/index.html", nil))
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "file /index.html", recorder.Body.String())

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/imgs", nil))
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestGenerationsCommand(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")
	registry, err := sqlite.Open(path)
	require.NoError(t, err)
	store, err := registry.Open(ctx, "plastic-eliminator-v1")
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "GET /", &cache.Entry{URL: "/", StatusCode: 200, Body: []byte("shell")}))
	require.NoError(t, store.Set(ctx, "GET /index.html", &cache.Entry{URL: "/index.html", StatusCode: 200, Body: []byte("shell")}))
	require.NoError(t, registry.Close())

	var out bytes.Buffer
	app := NewApp(config.Env{})
	app.Writer = &out
	require.NoError(t, app.Run(ctx, []string{"shellcache", "generations", "--db", path}))

	assert.Contains(t, out.String(), "GENERATION")
	assert.Regexp(t, `plastic-eliminator-v1\s+2\s+\d+ B`, out.String())
}

func TestGenerationsCommandRequiresDB(t *testing.T) {
	app := NewApp(config.Env{})
	app.Writer = io.Discard
	app.ErrWriter = io.Discard
	err := app.Run(context.Background(), []string{"shellcache", "generations"})
	assert.EqualError(t, err, "--db is required")
}

func TestListenAndServeStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	server := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}

	done := make(chan error, 1)
	go func() { done <- listenAndServe(ctx, server, time.Second, discardLogger()) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listenAndServe did not stop")
	}
}

func TestNewLoggerLevels(t *testing.T) {
	ctx := context.Background()
	assert.True(t, NewLogger("debug").Enabled(ctx, slog.LevelDebug))
	assert.False(t, NewLogger("info").Enabled(ctx, slog.LevelDebug))
	assert.False(t, NewLogger("warn").Enabled(ctx, slog.LevelInfo))
	assert.False(t, NewLogger("error").Enabled(ctx, slog.LevelWarn))
	assert.True(t, NewLogger("bogus").Enabled(ctx, slog.LevelInfo))
}
