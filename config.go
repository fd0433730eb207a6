package shellcache

import (
	"log/slog"
	"net/http"
	"strings"
)

const (
	// DefaultGeneration names the cache generation of this deployment.
	// Bumping it invalidates everything cached by earlier deployments.
	DefaultGeneration = "plastic-eliminator-v1"
	// DefaultImagesDir is served cache-first along with the manifest.
	DefaultImagesDir = "/imgs/"
)

// DefaultManifest lists the app shell assets fetched on install.
var DefaultManifest = []string{
	"/",
	"/index.html",
	"/manifest.json",
	"/imgs/icon-192x192.png",
	"/imgs/icon-512x512.png",
	"/favicon.ico",
}

// Config holds the worker settings.
type Config struct {
	// Generation is the cache generation identifier.
	Generation string
	// Manifest is the ordered list of app shell paths, all required for install.
	Manifest []string
	// ImagesDir is a path prefix treated as app shell.
	ImagesDir string
	// Hosts are the hosts an absolute CACHE_NEW_ASSET URL may name. Relative
	// URLs and the requesting page's own host are always accepted.
	Hosts        []string
	KeyGenerator func(*http.Request) string
	// MaxBodyBytes - do not cache bodies larger than this. Zero disables the cap.
	MaxBodyBytes int64
	// StripHeaders removes headers before storing (hop-by-hop etc).
	StripHeaders func(http.Header) http.Header
	Logger       *slog.Logger
}

// DefaultConfig provides defaults.
var DefaultConfig = &Config{
	Generation:   DefaultGeneration,
	Manifest:     DefaultManifest,
	ImagesDir:    DefaultImagesDir,
	KeyGenerator: DefaultKeyGenerator,
	MaxBodyBytes: 10 << 20,
	StripHeaders: stripHopByHop,
}

// withDefaults returns a copy of cfg with zero fields taken from DefaultConfig.
func (cfg *Config) withDefaults() *Config {
	if cfg == nil {
		cfg = DefaultConfig
	}
	out := *cfg
	if strings.TrimSpace(out.Generation) == "" {
		out.Generation = DefaultGeneration
	}
	if out.Manifest == nil {
		out.Manifest = DefaultManifest
	}
	out.Manifest = append([]string(nil), out.Manifest...)
	out.Hosts = append([]string(nil), out.Hosts...)
	if out.ImagesDir == "" {
		out.ImagesDir = DefaultImagesDir
	}
	if out.KeyGenerator == nil {
		out.KeyGenerator = DefaultKeyGenerator
	}
	if out.StripHeaders == nil {
		out.StripHeaders = stripHopByHop
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return &out
}

// DefaultKeyGenerator keys a request by method and request URI. The host is
// left out since one worker only ever serves one origin.
func DefaultKeyGenerator(r *http.Request) string {
	return r.Method + " " + r.URL.RequestURI()
}

func stripHopByHop(header http.Header) http.Header {
	// Clone so caller can mutate safely.
	headerClone := header.Clone()
	if headerClone == nil {
		return make(http.Header)
	}

	for _, k := range []string{
		"Connection", "Proxy-Connection", "Keep-Alive",
		"Proxy-Authenticate", "Proxy-Authorization", "TE",
		"Trailer", "Transfer-Encoding", "Upgrade",
	} {
		headerClone.Del(k)
	}
	// Also remove hop-by-hop values referenced by Connection header
	for _, conn := range header.Values("Connection") {
		for _, token := range strings.Split(conn, ",") {
			token = strings.TrimSpace(token)
			if token != "" {
				headerClone.Del(token)
			}
		}
	}
	return headerClone
}
