package bridge

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	DefaultHealthPath = "api/v1/health"
	DefaultWSPath     = "ws"

	// ProbeTimeout bounds a single liveness probe.
	ProbeTimeout = 3 * time.Second
)

// Environment variables consulted for an externally managed bridge server,
// in priority order.
var BaseURLEnvVars = []string{
	"CODEX_BRIDGE_BASE_URL",
	"CODEX_BRIDGE_HTTP_URL",
	"CODEX_BRIDGE_URL",
}

// NormalizeBaseURL turns a user supplied endpoint into an http(s) base URL.
// ws:// and wss:// map to http:// and https://; bare hosts get http://.
func NormalizeBaseURL(raw string) (string, bool) {
	s := strings.TrimRight(strings.TrimSpace(raw), "/")
	if s == "" {
		return "", false
	}
	switch {
	case strings.HasPrefix(s, "ws://"):
		return "http://" + strings.TrimPrefix(s, "ws://"), true
	case strings.HasPrefix(s, "wss://"):
		return "https://" + strings.TrimPrefix(s, "wss://"), true
	case strings.HasPrefix(s, "http://"), strings.HasPrefix(s, "https://"):
		return s, true
	default:
		return "http://" + s, true
	}
}

// BaseURLFromEnv returns the first usable endpoint from BaseURLEnvVars.
func BaseURLFromEnv() (string, bool) {
	for _, key := range BaseURLEnvVars {
		if u, ok := NormalizeBaseURL(os.Getenv(key)); ok {
			return u, true
		}
	}
	return "", false
}

// WSURLFromBase maps an http(s) base URL to the websocket endpoint.
func WSURLFromBase(base string, wsPath string) string {
	if strings.TrimSpace(wsPath) == "" {
		wsPath = DefaultWSPath
	}
	wsPath = strings.TrimLeft(strings.TrimSpace(wsPath), "/")
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/" + wsPath
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/" + wsPath
	default:
		return base + "/" + wsPath
	}
}

// EndpointURL joins base and path with exactly one slash.
func EndpointURL(base string, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// Probe reports whether GET <base>/<healthPath> answers with a 2xx status
// within ProbeTimeout.
func Probe(ctx context.Context, client *http.Client, base string, healthPath string) bool {
	if strings.TrimSpace(base) == "" {
		return false
	}
	if client == nil {
		client = http.DefaultClient
	}
	if strings.TrimSpace(healthPath) == "" {
		healthPath = DefaultHealthPath
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, EndpointURL(base, healthPath), nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
