package endpointcache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultLegacyPath is the preferences file the desktop companion app writes:
// %LOCALAPPDATA%/codex-relayouter/connection_preferences.json, falling back
// to ~/AppData/Local when the variable is unset.
func DefaultLegacyPath() string {
	base := strings.TrimSpace(os.Getenv("LOCALAPPDATA"))
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil || strings.TrimSpace(home) == "" {
			return ""
		}
		base = filepath.Join(home, "AppData", "Local")
	}
	return filepath.Join(base, "codex-relayouter", "connection_preferences.json")
}

type legacyPreferences struct {
	Port *int64 `json:"port"`
}

// ReadLegacyPort returns the port stored in the preferences file. Missing
// files, bad JSON and ports outside 1..65535 yield ok=false.
func ReadLegacyPort(path string) (int, bool) {
	p := strings.TrimSpace(path)
	if p == "" {
		return 0, false
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return 0, false
	}
	var prefs legacyPreferences
	if err := json.Unmarshal(b, &prefs); err != nil || prefs.Port == nil {
		return 0, false
	}
	port := *prefs.Port
	if port <= 0 || port > 65535 {
		return 0, false
	}
	return int(port), true
}

// LegacyBaseURL maps the legacy port to a loopback base URL.
func LegacyBaseURL(path string) (string, bool) {
	port, ok := ReadLegacyPort(path)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("http://127.0.0.1:%d", port), true
}
