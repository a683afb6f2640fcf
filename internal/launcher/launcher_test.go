//go:build !windows

package launcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFakeServer(t *testing.T, dir string) string {
	t.Helper()
	p := filepath.Join(dir, "fake-server")
	script := "#!/bin/sh\n" +
		"echo \"$@\" > args.txt\n" +
		"echo \"$ASPNETCORE_ENVIRONMENT\" > env.txt\n" +
		"exec sleep 30\n"
	if err := os.WriteFile(p, []byte(script), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return p
}

func waitForFile(t *testing.T, p string) string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		b, err := os.ReadFile(p)
		if err == nil && len(b) > 0 {
			return strings.TrimSpace(string(b))
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", p)
	return ""
}

func TestLaunchPathStartsServerWithLoopbackURL(t *testing.T) {
	dir := t.TempDir()
	bin := writeFakeServer(t, dir)

	l := New(Options{StateDir: t.TempDir()})
	ins, err := l.LaunchPath(bin)
	if err != nil {
		t.Fatalf("LaunchPath: %v", err)
	}
	t.Cleanup(func() { _ = l.Stop() })

	if ins.PID <= 0 || ins.Port <= 0 {
		t.Fatalf("instance = %+v", ins)
	}
	if !strings.HasPrefix(ins.BaseURL, "http://127.0.0.1:") {
		t.Fatalf("BaseURL = %q", ins.BaseURL)
	}

	args := waitForFile(t, filepath.Join(dir, "args.txt"))
	want := "--urls " + ins.BaseURL + " --Bridge:Security:RemoteEnabled=false"
	if args != want {
		t.Fatalf("args = %q, want %q", args, want)
	}
	if env := waitForFile(t, filepath.Join(dir, "env.txt")); env != "Production" {
		t.Fatalf("ASPNETCORE_ENVIRONMENT = %q, want %q", env, "Production")
	}

	if _, ok := l.Current(); !ok {
		t.Fatalf("Current() ok = false, want true")
	}
	if !Alive(ins.PID) {
		t.Fatalf("Alive(%d) = false, want true", ins.PID)
	}

	if err := l.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-ins.Exited():
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not exit after Stop")
	}
	if _, ok := l.Current(); ok {
		t.Fatalf("Current() ok = true after Stop")
	}
}

func TestLaunchReplacesPreviousInstance(t *testing.T) {
	dir := t.TempDir()
	bin := writeFakeServer(t, dir)

	l := New(Options{})
	first, err := l.LaunchPath(bin)
	if err != nil {
		t.Fatalf("LaunchPath: %v", err)
	}
	second, err := l.LaunchPath(bin)
	if err != nil {
		t.Fatalf("LaunchPath: %v", err)
	}
	t.Cleanup(func() { _ = l.Stop() })

	select {
	case <-first.Exited():
	case <-time.After(5 * time.Second):
		t.Fatalf("first instance still running after relaunch")
	}
	cur, ok := l.Current()
	if !ok || cur.PID != second.PID {
		t.Fatalf("Current() = %+v, %v; want pid %d", cur, ok, second.PID)
	}
}

func TestKillForgetsCurrentInstance(t *testing.T) {
	bin := writeFakeServer(t, t.TempDir())

	l := New(Options{})
	ins, err := l.LaunchPath(bin)
	if err != nil {
		t.Fatalf("LaunchPath: %v", err)
	}
	if err := l.Kill(ins.PID); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	select {
	case <-ins.Exited():
	case <-time.After(5 * time.Second):
		t.Fatalf("instance still running after Kill")
	}
	if _, ok := l.Current(); ok {
		t.Fatalf("Current() ok = true after Kill")
	}
}

func TestLaunchMissingExecutable(t *testing.T) {
	l := New(Options{Search: &SearchDirs{Cwd: t.TempDir()}})
	_, err := l.Launch(context.Background())
	if !errors.Is(err, ErrExecutableNotFound) {
		t.Fatalf("Launch() error = %v, want ErrExecutableNotFound", err)
	}
}
