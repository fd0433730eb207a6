package shellcache

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultKeyGeneratorIgnoresHost(t *testing.T) {
	server := httptest.NewRequest(http.MethodGet, "/imgs/icon-192x192.png?v=1", nil)
	client, _ := http.NewRequest(http.MethodGet, "https://plastic.example/imgs/icon-192x192.png?v=1", nil)

	assert.Equal(t, "GET /imgs/icon-192x192.png?v=1", DefaultKeyGenerator(server))
	assert.Equal(t, DefaultKeyGenerator(server), DefaultKeyGenerator(client))
}

func TestStripHopByHop(t *testing.T) {
	header := http.Header{
		"Connection":        []string{"keep-alive, X-Session"},
		"X-Session":         []string{"abc"},
		"Transfer-Encoding": []string{"chunked"},
		"Content-Type":      []string{"image/png"},
	}

	stripped := stripHopByHop(header)

	assert.Equal(t, http.Header{"Content-Type": []string{"image/png"}}, stripped)
	assert.Equal(t, "abc", header.Get("X-Session"), "original header is untouched")
	assert.NotNil(t, stripHopByHop(nil))
}

func TestWithDefaults(t *testing.T) {
	cfg := (&Config{Generation: "v9"}).withDefaults()

	assert.Equal(t, "v9", cfg.Generation)
	assert.Equal(t, DefaultManifest, cfg.Manifest)
	assert.Equal(t, DefaultImagesDir, cfg.ImagesDir)
	assert.NotNil(t, cfg.KeyGenerator)
	assert.NotNil(t, cfg.StripHeaders)
	assert.NotNil(t, cfg.Logger)

	var nilCfg *Config
	assert.Equal(t, DefaultGeneration, nilCfg.withDefaults().Generation)
}

func TestIsNavigation(t *testing.T) {
	tests := []struct {
		name   string
		method string
		header http.Header
		want   bool
	}{
		{name: "fetch mode navigate", method: http.MethodGet, header: http.Header{"Sec-Fetch-Mode": {"navigate"}}, want: true},
		{name: "fetch mode cors", method: http.MethodGet, header: http.Header{"Sec-Fetch-Mode": {"cors"}, "Accept": {"text/html"}}, want: false},
		{name: "accept html", method: http.MethodGet, header: http.Header{"Accept": {"text/html"}}, want: true},
		{name: "accept image", method: http.MethodGet, header: http.Header{"Accept": {"image/png"}}, want: false},
		{name: "post html", method: http.MethodPost, header: http.Header{"Accept": {"text/html"}}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/", nil)
			req.Header = tt.header
			assert.Equal(t, tt.want, IsNavigation(req))
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "uninstalled", StateUninstalled.String())
	assert.Equal(t, "installing", StateInstalling.String())
	assert.Equal(t, "installed", StateInstalled.String())
	assert.Equal(t, "activating", StateActivating.String())
	assert.Equal(t, "redundant", StateRedundant.String())
	assert.Equal(t, "unknown", State(42).String())
}
