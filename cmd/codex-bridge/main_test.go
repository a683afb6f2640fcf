package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/floegence/codex-bridge/internal/bridge"
	"github.com/floegence/codex-bridge/internal/launcher"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "codex-bridge dev") {
		t.Fatalf("output = %q", out)
	}
}

func TestLocateCmd(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, launcher.ExecutableName())
	if err := os.WriteFile(exe, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv(launcher.EnvExecutable, exe)

	out, err := execute(t, "--config", filepath.Join(dir, "missing.yaml"), "locate")
	if err != nil {
		t.Fatalf("locate: %v", err)
	}
	if strings.TrimSpace(out) != exe {
		t.Fatalf("locate output = %q, want %q", out, exe)
	}

	out, err = execute(t, "--config", filepath.Join(dir, "missing.yaml"), "locate", "--all")
	if err != nil {
		t.Fatalf("locate --all: %v", err)
	}
	if lines := strings.Split(strings.TrimSpace(out), "\n"); len(lines) < 2 || lines[0] != exe {
		t.Fatalf("locate --all output = %q", out)
	}
}

func TestProbeCmd(t *testing.T) {
	for _, key := range bridge.BaseURLEnvVars {
		t.Setenv(key, "")
	}
	t.Setenv("LOCALAPPDATA", t.TempDir())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	out, err := execute(t, "--config", cfgPath, "probe", "--url", srv.URL)
	if err != nil {
		t.Fatalf("probe: %v (%s)", err, out)
	}
	var res probeResult
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &res); err != nil {
		t.Fatalf("json.Unmarshal(%q): %v", out, err)
	}
	if res.BaseURL != srv.URL || !res.Healthy || res.Source != "flag" {
		t.Fatalf("probe result = %+v", res)
	}

	if _, err := execute(t, "--config", cfgPath, "probe"); err == nil {
		t.Fatalf("probe without candidates error = nil")
	}
	if _, err := os.Stat(cfgPath); !os.IsNotExist(err) {
		t.Fatalf("probe created the config file")
	}
}

func TestLoadConfigRejectsInvalidFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte("ui_port: -5\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := loadConfig(p); err == nil {
		t.Fatalf("loadConfig() error = nil")
	}
}

func TestCenter(t *testing.T) {
	t.Parallel()

	if got := center("abc", 9); got != "   abc" {
		t.Fatalf("center() = %q", got)
	}
	styled := sgr("ab", true, sgrCyan, sgrUnderline)
	if got := center(styled, 6); got != "  "+styled {
		t.Fatalf("center(styled) = %q", got)
	}
	if got := center("abc", 0); got != "  abc" {
		t.Fatalf("center(no width) = %q", got)
	}
}

func TestPrintWelcomeBanner(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printWelcomeBanner(&buf, welcomeBannerOptions{Version: "v1.2.3", Port: 23999, Workspace: "/work"})
	out := buf.String()
	for _, want := range []string{"codex-bridge", "v1.2.3", "http://localhost:23999/", "/work"} {
		if !strings.Contains(out, want) {
			t.Fatalf("banner missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\033[") {
		t.Fatalf("banner styled for a non-terminal writer:\n%s", out)
	}
}
