package bridge

import (
	"encoding/json"
	"errors"
	"strings"
)

// ProtocolVersion is stamped on every command sent to the bridge server.
const ProtocolVersion = 1

const (
	envelopeTypeCommand = "command"
	envelopeTypeEvent   = "event"
)

// Command names understood by the bridge server.
const (
	CommandChatSend        = "chat.send"
	CommandRunCancel       = "run.cancel"
	CommandApprovalRespond = "approval.respond"
)

var (
	// ErrMalformedEvent marks an inbound event whose payload could not be decoded.
	ErrMalformedEvent = errors.New("malformed bridge event")
)

// CommandEnvelope is the outbound frame format.
type CommandEnvelope struct {
	ProtocolVersion int    `json:"protocolVersion"`
	Type            string `json:"type"`
	Name            string `json:"name"`
	ID              string `json:"id"`
	Data            any    `json:"data"`
}

// Envelope is an inbound frame. Only Type=="event" frames are translated.
type Envelope struct {
	Type string          `json:"type"`
	Name string          `json:"name"`
	Data json.RawMessage `json:"data,omitempty"`
}

func (e Envelope) IsEvent() bool {
	return e.Type == envelopeTypeEvent
}

// DecodeEnvelope parses one inbound frame.
func DecodeEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// EventKind is the closed set of backend events the translator understands.
// Anything else decodes to EventUnknown.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventBridgeConnected
	EventSessionCreated
	EventRunStarted
	EventTurnStarted
	EventMessageDelta
	EventMessage
	EventReasoningDelta
	EventReasoning
	EventCommand
	EventCommandOutputDelta
	EventApprovalRequested
	EventRunCompleted
	EventRunFailed
	EventRunCanceled
	EventRunRejected
)

var eventKindByName = map[string]EventKind{
	"bridge.connected":        EventBridgeConnected,
	"session.created":         EventSessionCreated,
	"run.started":             EventRunStarted,
	"turn.started":            EventTurnStarted,
	"chat.message.delta":      EventMessageDelta,
	"chat.message":            EventMessage,
	"run.reasoning.delta":     EventReasoningDelta,
	"run.reasoning":           EventReasoning,
	"run.command":             EventCommand,
	"run.command.outputDelta": EventCommandOutputDelta,
	"approval.requested":      EventApprovalRequested,
	"run.completed":           EventRunCompleted,
	"run.failed":              EventRunFailed,
	"run.canceled":            EventRunCanceled,
	"run.rejected":            EventRunRejected,
}

// ParseEventKind maps a wire event name to its kind.
func ParseEventKind(name string) EventKind {
	if k, ok := eventKindByName[name]; ok {
		return k
	}
	return EventUnknown
}

func (k EventKind) String() string {
	for name, kind := range eventKindByName {
		if kind == k {
			return name
		}
	}
	return "unknown"
}

// eventData is the union of every field the translator reads from an event
// payload. A field that is absent or of the wrong type reads as its zero
// value, so one odd field never costs the whole event.
type eventData struct {
	RunID     string
	SessionID string
	ThreadID  string
	TurnID    string
	ItemID    string
	Delta     string
	TextDelta string
	Text      string
	Role      string
	Command   string
	Status    string
	ExitCode  json.RawMessage
	Output    json.RawMessage
	RequestID string
	Kind      string
	Message   *string
	Reason    *string
}

// decodeEventData fails only when the payload is not a JSON object.
func decodeEventData(raw json.RawMessage) (eventData, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return eventData{}, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return eventData{}, err
	}
	str := func(key string) string {
		s, _ := stringField(fields, key)
		return s
	}
	d := eventData{
		RunID:     str("runId"),
		SessionID: str("sessionId"),
		ThreadID:  str("threadId"),
		TurnID:    str("turnId"),
		ItemID:    str("itemId"),
		Delta:     str("delta"),
		TextDelta: str("textDelta"),
		Text:      str("text"),
		Role:      str("role"),
		Command:   str("command"),
		Status:    str("status"),
		ExitCode:  fields["exitCode"],
		Output:    fields["output"],
		RequestID: str("requestId"),
		Kind:      str("kind"),
	}
	if s, ok := stringField(fields, "message"); ok {
		d.Message = &s
	}
	if s, ok := stringField(fields, "reason"); ok {
		d.Reason = &s
	}
	return d, nil
}

// stringField reads fields[key] when it holds a JSON string. Absent keys,
// null and other JSON types report false.
func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || strings.TrimSpace(string(raw)) == "null" {
		return "", false
	}
	return s, true
}

// threadHint prefers sessionId and falls back to threadId.
func (d eventData) threadHint() string {
	if s := strings.TrimSpace(d.SessionID); s != "" {
		return s
	}
	return strings.TrimSpace(d.ThreadID)
}

// outputText returns the command output when it is a JSON string.
func (d eventData) outputText() string {
	if len(d.Output) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(d.Output, &s); err != nil {
		return ""
	}
	return s
}

// rawOrNull keeps a field the way the backend sent it, or null when absent.
func rawOrNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}

// boolField reads fields[key] when it holds a JSON boolean.
func boolField(fields map[string]json.RawMessage, key string) (bool, bool) {
	raw, ok := fields[key]
	if !ok {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil || strings.TrimSpace(string(raw)) == "null" {
		return false, false
	}
	return b, true
}

// uintField reads fields[key] when it holds a non-negative JSON integer.
func uintField(fields map[string]json.RawMessage, key string) (uint64, bool) {
	raw, ok := fields[key]
	if !ok {
		return 0, false
	}
	var n uint64
	if err := json.Unmarshal(raw, &n); err != nil || strings.TrimSpace(string(raw)) == "null" {
		return 0, false
	}
	return n, true
}
