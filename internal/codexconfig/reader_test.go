package codexconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestReaderPicksUpChanges(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(p, []byte(`model = "a"`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r := NewReader(ReaderOptions{Path: p})
	t.Cleanup(func() { _ = r.Close() })

	if got := r.Snapshot().Model; got != "a" {
		t.Fatalf("Snapshot().Model = %q, want %q", got, "a")
	}

	if err := os.WriteFile(p, []byte(`model = "b"`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if r.Snapshot().Model == "b" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("Snapshot().Model = %q after rewrite, want %q", r.Snapshot().Model, "b")
}

func TestReaderWithoutDirectoryReadsEveryTime(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	p := filepath.Join(root, "later", "config.toml")

	r := NewReader(ReaderOptions{Path: p})
	t.Cleanup(func() { _ = r.Close() })
	if r.Watching() {
		t.Fatalf("Watching() = true for a missing directory")
	}
	if got := r.Snapshot(); !got.IsZero() {
		t.Fatalf("Snapshot() = %+v, want zero", got)
	}

	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(p, []byte(`sandbox_mode = "read-only"`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if got := r.Snapshot().SandboxMode; got != "read-only" {
		t.Fatalf("Snapshot().SandboxMode = %q, want %q", got, "read-only")
	}
}

func TestNilReader(t *testing.T) {
	t.Parallel()

	var r *Reader
	if got := r.Snapshot(); !got.IsZero() {
		t.Fatalf("Snapshot() = %+v, want zero", got)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
}
