package auditlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStoreAppendAndList(t *testing.T) {
	t.Parallel()

	s, err := New(Options{StateDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Append(Entry{Action: ActionTurnStart, ThreadID: "th1", RunID: "r1"})
	s.Append(Entry{Action: ActionApprovalDecision, RequestID: "q1", Decision: "accept"})
	s.Append(Entry{Action: ActionTurnInterrupt, Status: StatusFailure, Error: "run not found"})

	got, err := s.List(10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("List() len = %d, want 3", len(got))
	}
	if got[0].Action != ActionTurnInterrupt || got[0].Status != StatusFailure {
		t.Fatalf("newest = %+v", got[0])
	}
	if got[2].Action != ActionTurnStart || got[2].Status != StatusSuccess || got[2].CreatedAt == "" {
		t.Fatalf("oldest = %+v", got[2])
	}

	if got, _ := s.List(1); len(got) != 1 || got[0].Action != ActionTurnInterrupt {
		t.Fatalf("List(1) = %+v", got)
	}
}

func TestStoreRotation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := New(Options{StateDir: dir, MaxBytes: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 5; i++ {
		s.Append(Entry{Action: ActionTurnStart, RunID: strings.Repeat("x", i+1), CreatedAt: "2026-01-01T00:00:00Z"})
	}

	ents, err := os.ReadDir(filepath.Join(dir, "audit"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	rotated := 0
	for _, e := range ents {
		if strings.HasPrefix(e.Name(), rotatePrefix) {
			rotated++
		}
	}
	if rotated > 2 {
		t.Fatalf("rotated files = %d, want <= 2", rotated)
	}

	got, err := s.List(10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) == 0 || got[0].RunID != "xxxxx" {
		t.Fatalf("List() = %+v, want newest first", got)
	}
}

func TestNewRequiresStateDir(t *testing.T) {
	t.Parallel()

	if _, err := New(Options{}); err == nil {
		t.Fatalf("New() error = nil")
	}
	var s *Store
	s.Append(Entry{Action: ActionTurnStart})
	if got, err := s.List(5); got != nil || err != nil {
		t.Fatalf("nil List() = %v, %v", got, err)
	}
}
