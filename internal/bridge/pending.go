package bridge

import (
	"sync"
)

// PendingTurns correlates UI-issued turn ids with the run.started events the
// backend emits later for the same thread. Each thread is a FIFO.
type PendingTurns struct {
	mu       sync.Mutex
	byThread map[string][]string
}

func NewPendingTurns() *PendingTurns {
	return &PendingTurns{byThread: make(map[string][]string)}
}

// Push appends turnID to the thread's queue. It returns false when the id is
// already queued for that thread.
func (p *PendingTurns) Push(threadID string, turnID string) bool {
	if p == nil || threadID == "" || turnID == "" {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	q := p.byThread[threadID]
	for _, id := range q {
		if id == turnID {
			return false
		}
	}
	p.byThread[threadID] = append(q, turnID)
	return true
}

// Pop removes and returns the oldest turn id queued for the thread.
func (p *PendingTurns) Pop(threadID string) (string, bool) {
	if p == nil {
		return "", false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	q := p.byThread[threadID]
	if len(q) == 0 {
		delete(p.byThread, threadID)
		return "", false
	}
	head := q[0]
	if len(q) == 1 {
		delete(p.byThread, threadID)
	} else {
		p.byThread[threadID] = q[1:]
	}
	return head, true
}

// Remove withdraws a specific turn id, used when the command that would have
// produced its run never reached the backend.
func (p *PendingTurns) Remove(threadID string, turnID string) bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	q := p.byThread[threadID]
	for i, id := range q {
		if id != turnID {
			continue
		}
		next := append(append([]string(nil), q[:i]...), q[i+1:]...)
		if len(next) == 0 {
			delete(p.byThread, threadID)
		} else {
			p.byThread[threadID] = next
		}
		return true
	}
	return false
}

// Len reports how many turn ids are queued for the thread.
func (p *PendingTurns) Len(threadID string) int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byThread[threadID])
}

// Threads reports how many threads have a non-empty queue.
func (p *PendingTurns) Threads() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byThread)
}
