package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestAcquireWritesPID(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "bridge.lock")
	lk, err := Acquire(p)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer func() { _ = lk.Release() }()

	if lk.Path() != p {
		t.Fatalf("Path() = %q, want %q", lk.Path(), p)
	}
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got := strings.TrimSpace(string(b)); got != strconv.Itoa(os.Getpid()) {
		t.Fatalf("lock contents = %q, want own pid", got)
	}
	pid, alive := Holder(p)
	if pid != os.Getpid() || !alive {
		t.Fatalf("Holder() = (%d, %v), want (%d, true)", pid, alive, os.Getpid())
	}
}

func TestAcquireTwiceFails(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "bridge.lock")
	first, err := Acquire(p)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	// Locks belong to the open file, so a second open in the same process
	// conflicts and reports the recorded holder.
	_, err = Acquire(p)
	if !errors.Is(err, ErrAlreadyLocked) {
		t.Fatalf("second Acquire() error = %v, want ErrAlreadyLocked", err)
	}
	if want := "by pid " + strconv.Itoa(os.Getpid()); !strings.Contains(err.Error(), want) {
		t.Fatalf("second Acquire() error = %q, want it to name %q", err, want)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}

	again, err := Acquire(p)
	if err != nil {
		t.Fatalf("Acquire after Release: %v", err)
	}
	_ = again.Release()
}

func TestHolder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if _, alive := Holder(filepath.Join(dir, "missing")); alive {
		t.Fatalf("Holder(missing) alive = true")
	}

	garbage := filepath.Join(dir, "garbage")
	if err := os.WriteFile(garbage, []byte("nope\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if pid, alive := Holder(garbage); pid != 0 || alive {
		t.Fatalf("Holder(garbage) = (%d, %v)", pid, alive)
	}

	stale := filepath.Join(dir, "stale")
	if err := os.WriteFile(stale, []byte("4000000\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if pid, alive := Holder(stale); pid != 4000000 || alive {
		t.Fatalf("Holder(stale) = (%d, %v), want (4000000, false)", pid, alive)
	}
}

func TestAcquireEmptyPath(t *testing.T) {
	t.Parallel()

	if _, err := Acquire(""); err == nil {
		t.Fatalf("Acquire(\"\") error = nil")
	}
}
