package bridge

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const reasoningSummaryMarker = "_summary_"

var terminalCommandStatuses = map[string]struct{}{
	"completed":   {},
	"failed":      {},
	"declined":    {},
	"interrupted": {},
	"canceled":    {},
	"cancelled":   {},
}

type TranslatorOptions struct {
	Logger *slog.Logger

	Tracker   *RunTracker
	Pending   *PendingTurns
	Approvals *Approvals
	Sink      Sink

	// Cwd reports the working directory shown on thread/started.
	Cwd func() string
	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

// Translator turns backend events into ordered UI envelopes. Handle must be
// called from a single goroutine per connection so per-run order follows
// delivery order.
type Translator struct {
	log *slog.Logger

	tracker   *RunTracker
	pending   *PendingTurns
	approvals *Approvals
	sink      Sink

	cwd   func() string
	now   func() time.Time
	newID func() string
}

func NewTranslator(opts TranslatorOptions) *Translator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	tracker := opts.Tracker
	if tracker == nil {
		tracker = NewRunTracker(newID)
	}
	pending := opts.Pending
	if pending == nil {
		pending = NewPendingTurns()
	}
	approvals := opts.Approvals
	if approvals == nil {
		approvals = NewApprovals()
	}
	sink := opts.Sink
	if sink == nil {
		sink = SinkFunc(nil)
	}
	cwd := opts.Cwd
	if cwd == nil {
		cwd = func() string { return "/" }
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Translator{
		log:       logger,
		tracker:   tracker,
		pending:   pending,
		approvals: approvals,
		sink:      sink,
		cwd:       cwd,
		now:       now,
		newID:     newID,
	}
}

func (t *Translator) Tracker() *RunTracker  { return t.tracker }
func (t *Translator) Pending() *PendingTurns { return t.pending }
func (t *Translator) Approvals() *Approvals  { return t.approvals }

// Abandon drops all run state and approval correlations after the backend
// channel is lost. No notifications are emitted for the abandoned runs.
func (t *Translator) Abandon() {
	if t == nil {
		return
	}
	runs := t.tracker.Reset()
	approvals := t.approvals.Reset()
	if runs > 0 || approvals > 0 {
		t.log.Warn("bridge channel lost; abandoning in-flight runs", "runs", runs, "approvals", approvals)
	}
}

// Handle translates one inbound envelope. Non-event envelopes and unknown
// event names are ignored. A malformed payload returns an error wrapping
// ErrMalformedEvent and leaves all state untouched.
func (t *Translator) Handle(env Envelope) error {
	if t == nil {
		return nil
	}
	if !env.IsEvent() {
		return nil
	}
	kind := ParseEventKind(env.Name)
	if kind == EventUnknown {
		t.log.Debug("ignoring unknown bridge event", "event", env.Name)
		return nil
	}
	if kind == EventBridgeConnected {
		return nil
	}
	d, err := decodeEventData(env.Data)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedEvent, env.Name, err)
	}

	switch kind {
	case EventSessionCreated:
		t.onSessionCreated(d)
	case EventRunStarted:
		t.onRunStarted(d)
	case EventTurnStarted:
		t.onTurnStarted(d)
	case EventMessageDelta:
		t.onMessageDelta(d)
	case EventMessage:
		t.onMessage(d)
	case EventReasoningDelta:
		text := d.TextDelta
		if text == "" {
			text = d.Delta
		}
		t.onReasoning(d, text)
	case EventReasoning:
		t.onReasoning(d, d.Text)
	case EventCommand:
		t.onCommand(d)
	case EventCommandOutputDelta:
		t.onCommandOutputDelta(d)
	case EventApprovalRequested:
		t.onApprovalRequested(d, env.Data)
	case EventRunCompleted, EventRunFailed, EventRunCanceled:
		t.onRunTerminal(kind, d)
	case EventRunRejected:
		t.onRunRejected(d)
	}
	return nil
}

func (t *Translator) onSessionCreated(d eventData) {
	sessionID := strings.TrimSpace(d.SessionID)
	if d.RunID == "" || sessionID == "" {
		return
	}
	t.tracker.BindThread(d.RunID, sessionID)

	now := t.now().Unix()
	t.sink.Publish(notification(MethodThreadStarted, threadStartedParams{Thread: Thread{
		ID:        sessionID,
		CreatedAt: now,
		UpdatedAt: now,
		Preview:   sessionID,
		Cwd:       t.cwd(),
		Source:    threadSource{Kind: "local"},
	}}))
}

func (t *Translator) onRunStarted(d eventData) {
	threadID := d.threadHint()
	if d.RunID == "" || threadID == "" {
		return
	}
	turnID, ok := t.pending.Pop(threadID)
	if !ok {
		turnID = t.newID()
		t.log.Debug("run started without a pending turn", "run_id", d.RunID, "thread_id", threadID, "turn_id", turnID)
	}
	t.tracker.BindTurn(d.RunID, threadID, turnID)
	t.publishTurnStarted(threadID, turnID)
}

func (t *Translator) onTurnStarted(d eventData) {
	threadID := strings.TrimSpace(d.ThreadID)
	turnID := strings.TrimSpace(d.TurnID)
	if d.RunID == "" || threadID == "" || turnID == "" {
		return
	}
	if t.tracker.BindTurnIfUnset(d.RunID, threadID, turnID) {
		t.publishTurnStarted(threadID, turnID)
	}
}

func (t *Translator) publishTurnStarted(threadID, turnID string) {
	t.sink.Publish(notification(MethodTurnStarted, turnParams{
		ThreadID: threadID,
		Turn:     Turn{ID: turnID, Status: TurnInProgress},
	}))
}

// startItem emits item/started the first time an item is seen in a run.
func (t *Translator) startItem(runID, threadID, turnID string, item Item) {
	if t.tracker.MarkItemStarted(runID, item.ID, item) {
		t.sink.Publish(notification(MethodItemStarted, itemParams{ThreadID: threadID, TurnID: turnID, Item: item}))
	}
}

func (t *Translator) onMessageDelta(d eventData) {
	if d.RunID == "" || d.ItemID == "" || d.Delta == "" {
		return
	}
	threadID, turnID, ok := t.tracker.Context(d.RunID, d.threadHint())
	if !ok {
		return
	}
	t.startItem(d.RunID, threadID, turnID, agentMessageItem(d.ItemID))
	t.tracker.NoteAssistantDelta(d.RunID, d.ItemID)
	t.sink.Publish(notification(MethodAgentMessageDelta, deltaParams{
		ThreadID: threadID,
		TurnID:   turnID,
		ItemID:   d.ItemID,
		Delta:    d.Delta,
	}))
}

func (t *Translator) onMessage(d eventData) {
	if d.RunID == "" || !strings.EqualFold(d.Role, "assistant") || d.Text == "" {
		return
	}
	threadID, turnID, ok := t.tracker.Context(d.RunID, d.threadHint())
	if !ok {
		return
	}
	itemID := t.tracker.AssistantItem(d.RunID, "assistant-"+d.RunID)
	t.startItem(d.RunID, threadID, turnID, agentMessageItem(itemID))
	if t.tracker.AssistantDeltaSeen(d.RunID) {
		return
	}
	t.sink.Publish(notification(MethodAgentMessageDelta, deltaParams{
		ThreadID: threadID,
		TurnID:   turnID,
		ItemID:   itemID,
		Delta:    d.Text,
	}))
}

// SplitReasoningItemID splits "<base>_summary_<n>" at the last marker. A
// missing or unparsable index yields 0.
func SplitReasoningItemID(raw string) (string, int64) {
	i := strings.LastIndex(raw, reasoningSummaryMarker)
	if i < 0 {
		return raw, 0
	}
	idx, err := strconv.ParseInt(raw[i+len(reasoningSummaryMarker):], 10, 64)
	if err != nil {
		idx = 0
	}
	return raw[:i], idx
}

func (t *Translator) onReasoning(d eventData, text string) {
	if d.RunID == "" || d.ItemID == "" || text == "" {
		return
	}
	itemID, summaryIndex := SplitReasoningItemID(d.ItemID)
	threadID, turnID, ok := t.tracker.Context(d.RunID, d.threadHint())
	if !ok {
		return
	}
	t.startItem(d.RunID, threadID, turnID, reasoningItem(itemID))
	t.sink.Publish(notification(MethodReasoningSummaryDelta, reasoningDeltaParams{
		ThreadID:     threadID,
		TurnID:       turnID,
		ItemID:       itemID,
		SummaryIndex: summaryIndex,
		Delta:        text,
	}))
}

func (t *Translator) onCommand(d eventData) {
	if d.RunID == "" || d.ItemID == "" || d.Command == "" {
		return
	}
	status := d.Status
	if status == "" {
		status = statusInProgress
	}
	threadID, turnID, ok := t.tracker.Context(d.RunID, d.threadHint())
	if !ok {
		return
	}
	item := commandItem(d.ItemID, d.Command, status, d.ExitCode, d.Output)
	t.startItem(d.RunID, threadID, turnID, item)

	if out := d.outputText(); out != "" {
		t.sink.Publish(notification(MethodCommandOutputDelta, deltaParams{
			ThreadID: threadID,
			TurnID:   turnID,
			ItemID:   d.ItemID,
			Delta:    out,
		}))
	}

	if _, terminal := terminalCommandStatuses[status]; !terminal {
		return
	}
	if t.tracker.MarkItemCompleted(d.RunID, d.ItemID, item) {
		t.sink.Publish(notification(MethodItemCompleted, itemParams{ThreadID: threadID, TurnID: turnID, Item: item}))
	}
}

func (t *Translator) onCommandOutputDelta(d eventData) {
	if d.RunID == "" || d.ItemID == "" || d.Delta == "" {
		return
	}
	threadID, turnID, ok := t.tracker.Context(d.RunID, d.threadHint())
	if !ok {
		return
	}
	t.startItem(d.RunID, threadID, turnID, commandPlaceholderItem(d.ItemID))
	t.sink.Publish(notification(MethodCommandOutputDelta, deltaParams{
		ThreadID: threadID,
		TurnID:   turnID,
		ItemID:   d.ItemID,
		Delta:    d.Delta,
	}))
}

func (t *Translator) onApprovalRequested(d eventData, raw json.RawMessage) {
	requestID := strings.TrimSpace(d.RequestID)
	if requestID == "" {
		return
	}
	if runID := strings.TrimSpace(d.RunID); runID != "" {
		t.approvals.Record(requestID, runID)
	}
	method := MethodCommandRequestApproval
	if strings.EqualFold(d.Kind, "fileChange") {
		method = MethodFileChangeRequestApproval
	}
	t.sink.Publish(request(requestID, method, raw))
}

func (t *Translator) onRunTerminal(kind EventKind, d eventData) {
	if d.RunID == "" {
		return
	}
	state, ok := t.tracker.Finish(d.RunID)
	if !ok {
		return
	}
	if state.ThreadID == "" || state.TurnID == "" {
		t.log.Debug("dropping terminal event for unbound run", "run_id", d.RunID, "event", kind.String())
		return
	}

	for _, item := range state.PendingItems() {
		t.sink.Publish(notification(MethodItemCompleted, itemParams{ThreadID: state.ThreadID, TurnID: state.TurnID, Item: item}))
	}

	turn := Turn{ID: state.TurnID}
	switch kind {
	case EventRunCompleted:
		turn.Status = TurnCompleted
	case EventRunCanceled:
		turn.Status = TurnInterrupted
	default:
		turn.Status = TurnFailed
		if d.Message != nil {
			turn.Error = &TurnError{Message: *d.Message}
		}
	}
	t.sink.Publish(notification(MethodTurnCompleted, turnParams{ThreadID: state.ThreadID, Turn: turn}))
}

func (t *Translator) onRunRejected(d eventData) {
	threadID := d.threadHint()
	if threadID == "" {
		return
	}
	turnID, ok := t.pending.Pop(threadID)
	if !ok {
		turnID = t.newID()
	}
	msg := "Run rejected"
	if d.Reason != nil {
		msg = *d.Reason
	}
	t.sink.Publish(notification(MethodTurnCompleted, turnParams{
		ThreadID: threadID,
		Turn:     Turn{ID: turnID, Status: TurnFailed, Error: &TurnError{Message: msg}},
	}))
}
