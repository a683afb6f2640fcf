package bridge

import (
	"sync"
)

// Approvals remembers which run raised each approval request so the UI's
// decision can be routed back to it.
type Approvals struct {
	mu           sync.Mutex
	runByRequest map[string]string
}

func NewApprovals() *Approvals {
	return &Approvals{runByRequest: make(map[string]string)}
}

func (a *Approvals) Record(requestID string, runID string) {
	if a == nil || requestID == "" || runID == "" {
		return
	}
	a.mu.Lock()
	a.runByRequest[requestID] = runID
	a.mu.Unlock()
}

// Resolve consumes the mapping for requestID.
func (a *Approvals) Resolve(requestID string) (string, bool) {
	if a == nil {
		return "", false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	runID, ok := a.runByRequest[requestID]
	if ok {
		delete(a.runByRequest, requestID)
	}
	return runID, ok
}

func (a *Approvals) Reset() int {
	if a == nil {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.runByRequest)
	a.runByRequest = make(map[string]string)
	return n
}

func (a *Approvals) Len() int {
	if a == nil {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.runByRequest)
}
