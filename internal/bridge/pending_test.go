package bridge

import (
	"testing"
)

func TestPendingTurnsFIFO(t *testing.T) {
	t.Parallel()

	p := NewPendingTurns()
	p.Push("s1", "t1")
	p.Push("s1", "t2")
	if p.Push("s1", "t1") {
		t.Fatalf("Push(duplicate) = true")
	}
	p.Push("s2", "u1")

	if got, _ := p.Pop("s1"); got != "t1" {
		t.Fatalf("Pop() = %q, want t1", got)
	}
	if got, _ := p.Pop("s1"); got != "t2" {
		t.Fatalf("Pop() = %q, want t2", got)
	}
	if _, ok := p.Pop("s1"); ok {
		t.Fatalf("Pop(empty) ok = true")
	}
	if got := p.Threads(); got != 1 {
		t.Fatalf("Threads() = %d, want 1 (empty queues pruned)", got)
	}
}

func TestPendingTurnsRemove(t *testing.T) {
	t.Parallel()

	p := NewPendingTurns()
	p.Push("s1", "t1")
	p.Push("s1", "t2")
	p.Push("s1", "t3")

	if !p.Remove("s1", "t2") {
		t.Fatalf("Remove(t2) = false")
	}
	if p.Remove("s1", "t2") {
		t.Fatalf("Remove(t2) twice = true")
	}
	if got := p.Len("s1"); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}
	if got, _ := p.Pop("s1"); got != "t1" {
		t.Fatalf("Pop() = %q, want t1", got)
	}
	p.Remove("s1", "t3")
	if p.Threads() != 0 {
		t.Fatalf("Threads() = %d, want 0", p.Threads())
	}
}
