package bridge

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// RunState is a snapshot of one run's translation state.
type RunState struct {
	ThreadID           string
	TurnID             string
	AssistantItemID    string
	AssistantDeltaSeen bool

	// StartedItems keeps start order so the terminal sweep is stable.
	StartedItems   []string
	CompletedItems map[string]struct{}
	ItemPayloads   map[string]Item
}

// PendingItems returns payloads of items that started but never completed,
// in start order.
func (s RunState) PendingItems() []Item {
	out := make([]Item, 0, len(s.StartedItems))
	for _, id := range s.StartedItems {
		if _, done := s.CompletedItems[id]; done {
			continue
		}
		payload, ok := s.ItemPayloads[id]
		if !ok {
			continue
		}
		out = append(out, payload)
	}
	return out
}

type runEntry struct {
	threadID           string
	turnID             string
	assistantItemID    string
	assistantDeltaSeen bool

	startedOrder []string
	started      map[string]struct{}
	completed    map[string]struct{}
	payloads     map[string]Item
}

func newRunEntry() *runEntry {
	return &runEntry{
		started:   make(map[string]struct{}),
		completed: make(map[string]struct{}),
		payloads:  make(map[string]Item),
	}
}

func (e *runEntry) snapshot() RunState {
	completed := make(map[string]struct{}, len(e.completed))
	for id := range e.completed {
		completed[id] = struct{}{}
	}
	payloads := make(map[string]Item, len(e.payloads))
	for id, it := range e.payloads {
		payloads[id] = it
	}
	return RunState{
		ThreadID:           e.threadID,
		TurnID:             e.turnID,
		AssistantItemID:    e.assistantItemID,
		AssistantDeltaSeen: e.assistantDeltaSeen,
		StartedItems:       append([]string(nil), e.startedOrder...),
		CompletedItems:     completed,
		ItemPayloads:       payloads,
	}
}

// RunTracker maps backend run ids to their in-flight state. Entries are
// created lazily on first reference and removed by Finish or Reset.
type RunTracker struct {
	newID func() string

	mu   sync.Mutex
	runs map[string]*runEntry
}

// NewRunTracker returns a tracker that mints turn ids with newID
// (uuid v4 when nil).
func NewRunTracker(newID func() string) *RunTracker {
	if newID == nil {
		newID = uuid.NewString
	}
	return &RunTracker{
		newID: newID,
		runs:  make(map[string]*runEntry),
	}
}

// entry must be called with t.mu held.
func (t *RunTracker) entry(runID string) *runEntry {
	e := t.runs[runID]
	if e == nil {
		e = newRunEntry()
		t.runs[runID] = e
	}
	return e
}

// Context resolves the thread and turn for a run. A turn id is assigned on
// first use. ok is false while no thread has been bound to the run.
func (t *RunTracker) Context(runID string, threadHint string) (threadID string, turnID string, ok bool) {
	if t == nil {
		return "", "", false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entry(runID)
	if e.threadID == "" {
		if hint := strings.TrimSpace(threadHint); hint != "" {
			e.threadID = hint
		}
	}
	if e.turnID == "" {
		e.turnID = t.newID()
	}
	if e.threadID == "" {
		return "", "", false
	}
	return e.threadID, e.turnID, true
}

// BindThread sets the owning thread unconditionally.
func (t *RunTracker) BindThread(runID string, threadID string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.entry(runID).threadID = threadID
	t.mu.Unlock()
}

// BindTurn sets both thread and turn unconditionally.
func (t *RunTracker) BindTurn(runID string, threadID string, turnID string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	e := t.entry(runID)
	e.threadID = threadID
	e.turnID = turnID
	t.mu.Unlock()
}

// BindTurnIfUnset binds the thread and, when the run has no turn yet, the
// turn. It reports whether this call was the one that bound the turn.
func (t *RunTracker) BindTurnIfUnset(runID string, threadID string, turnID string) bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entry(runID)
	e.threadID = threadID
	if e.turnID != "" {
		return false
	}
	e.turnID = turnID
	return true
}

// MarkItemStarted records the item as started and caches its payload. It
// returns true only the first time for a given item id.
func (t *RunTracker) MarkItemStarted(runID string, itemID string, payload Item) bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entry(runID)
	if _, ok := e.started[itemID]; ok {
		return false
	}
	e.started[itemID] = struct{}{}
	e.startedOrder = append(e.startedOrder, itemID)
	e.payloads[itemID] = payload
	return true
}

// MarkItemCompleted is the completion counterpart of MarkItemStarted. It does
// not require the item to have started, but only a started item has its
// payload refreshed.
func (t *RunTracker) MarkItemCompleted(runID string, itemID string, payload Item) bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entry(runID)
	if _, ok := e.completed[itemID]; ok {
		return false
	}
	e.completed[itemID] = struct{}{}
	if _, ok := e.started[itemID]; ok {
		e.payloads[itemID] = payload
	}
	return true
}

// NoteAssistantDelta remembers the streaming assistant item for the run.
func (t *RunTracker) NoteAssistantDelta(runID string, itemID string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	e := t.entry(runID)
	e.assistantItemID = itemID
	e.assistantDeltaSeen = true
	t.mu.Unlock()
}

// AssistantItem returns the streaming assistant item id, or fallback when no
// delta has named one yet.
func (t *RunTracker) AssistantItem(runID string, fallback string) string {
	if t == nil {
		return fallback
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if id := t.entry(runID).assistantItemID; id != "" {
		return id
	}
	return fallback
}

func (t *RunTracker) AssistantDeltaSeen(runID string) bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.runs[runID]
	return ok && e.assistantDeltaSeen
}

// Finish removes the run and returns its final state.
func (t *RunTracker) Finish(runID string) (RunState, bool) {
	if t == nil {
		return RunState{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.runs[runID]
	if !ok {
		return RunState{}, false
	}
	delete(t.runs, runID)
	return e.snapshot(), true
}

// Snapshot returns a copy of the run state without removing it.
func (t *RunTracker) Snapshot(runID string) (RunState, bool) {
	if t == nil {
		return RunState{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.runs[runID]
	if !ok {
		return RunState{}, false
	}
	return e.snapshot(), true
}

// Reset drops every run and returns how many were abandoned.
func (t *RunTracker) Reset() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.runs)
	t.runs = make(map[string]*runEntry)
	return n
}

func (t *RunTracker) Len() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.runs)
}
