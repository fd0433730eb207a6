package shellcache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HeaderCacheStatus tells the caller which path produced a response.
const HeaderCacheStatus = "X-Cache-Status"

const (
	cacheStatusHit     = "HIT"
	cacheStatusMiss    = "MISS"
	cacheStatusOffline = "OFFLINE"
)

const (
	// OfflinePage is served to navigation requests with no network and no cached copy.
	OfflinePage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Plastic Eliminator - Offline</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 28rem; margin: 4rem auto; padding: 0 1rem; text-align: center; color: #374151; }
h1 { color: #b91c1c; }
</style>
</head>
<body>
<h1>You are offline</h1>
<p>Please reconnect to view this page.</p>
</body>
</html>
`
	// NotAvailableOfflineBody is served to sub-resource requests with no network and no cached copy.
	NotAvailableOfflineBody = "Resource not available offline"
	// NetworkErrorBody is served when an app shell asset is neither cached nor reachable.
	NetworkErrorBody = "Network error occurred"
)

// IsNavigation reports whether req loads a full page rather than a sub-resource.
func IsNavigation(req *http.Request) bool {
	if mode := req.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	if req.Method != http.MethodGet {
		return false
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}

func offlinePageResponse(req *http.Request) *http.Response {
	return syntheticResponse(req, http.StatusOK, "text/html", OfflinePage)
}

func notAvailableResponse(req *http.Request) *http.Response {
	return syntheticResponse(req, http.StatusServiceUnavailable, "text/plain", NotAvailableOfflineBody)
}

func networkErrorResponse(req *http.Request) *http.Response {
	return syntheticResponse(req, http.StatusServiceUnavailable, "text/plain", NetworkErrorBody)
}

func syntheticResponse(req *http.Request, status int, contentType, body string) *http.Response {
	header := make(http.Header)
	header.Set("Content-Type", contentType)
	header.Set(HeaderCacheStatus, cacheStatusOffline)
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader([]byte(body))),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
