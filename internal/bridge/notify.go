package bridge

import (
	"encoding/json"
	"sync"
)

// UI envelope types.
const (
	OutboundNotification = "mcp-notification"
	OutboundRequest      = "mcp-request"
	OutboundResponse     = "mcp-response"
)

// UI method names.
const (
	MethodThreadStarted             = "thread/started"
	MethodTurnStarted               = "turn/started"
	MethodTurnCompleted             = "turn/completed"
	MethodItemStarted               = "item/started"
	MethodItemCompleted             = "item/completed"
	MethodAgentMessageDelta         = "item/agentMessage/delta"
	MethodReasoningSummaryDelta     = "item/reasoning/summaryTextDelta"
	MethodCommandOutputDelta        = "item/commandExecution/outputDelta"
	MethodCommandRequestApproval    = "item/commandExecution/requestApproval"
	MethodFileChangeRequestApproval = "item/fileChange/requestApproval"
)

// Turn status values reported to the UI.
const (
	TurnInProgress  = "inProgress"
	TurnCompleted   = "completed"
	TurnFailed      = "failed"
	TurnInterrupted = "interrupted"
)

// Outbound is one envelope sent toward the UI.
type Outbound struct {
	Type    string               `json:"type"`
	Message any                  `json:"message,omitempty"`
	Request *OutboundRequestBody `json:"request,omitempty"`
}

type NotificationBody struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

type OutboundRequestBody struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

type ResponseBody struct {
	ID     any            `json:"id"`
	Result any            `json:"result,omitempty"`
	Error  *ResponseError `json:"error,omitempty"`
}

type ResponseError struct {
	Message string `json:"message"`
}

// Method returns the notification or request method, or "" for responses.
func (o Outbound) Method() string {
	if o.Request != nil {
		return o.Request.Method
	}
	if n, ok := o.Message.(NotificationBody); ok {
		return n.Method
	}
	return ""
}

func (o Outbound) Marshal() ([]byte, error) {
	return json.Marshal(o)
}

func notification(method string, params any) Outbound {
	return Outbound{Type: OutboundNotification, Message: NotificationBody{Method: method, Params: params}}
}

func request(id string, method string, params any) Outbound {
	return Outbound{Type: OutboundRequest, Request: &OutboundRequestBody{ID: id, Method: method, Params: params}}
}

// ResultResponse answers a UI request successfully.
func ResultResponse(id any, result any) Outbound {
	return Outbound{Type: OutboundResponse, Message: ResponseBody{ID: id, Result: result}}
}

// ErrorResponse answers a UI request with an error message.
func ErrorResponse(id any, msg string) Outbound {
	return Outbound{Type: OutboundResponse, Message: ResponseBody{ID: id, Error: &ResponseError{Message: msg}}}
}

// Sink receives UI envelopes in emission order. Publish must not block for
// long: it is called from the connection's reader goroutine.
type Sink interface {
	Publish(Outbound)
}

type SinkFunc func(Outbound)

func (f SinkFunc) Publish(o Outbound) {
	if f != nil {
		f(o)
	}
}

// Recorder is a Sink that keeps every envelope. It is used by the CLI probe
// command and by tests.
type Recorder struct {
	mu  sync.Mutex
	out []Outbound
}

func (r *Recorder) Publish(o Outbound) {
	r.mu.Lock()
	r.out = append(r.out, o)
	r.mu.Unlock()
}

func (r *Recorder) All() []Outbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Outbound(nil), r.out...)
}

// Methods lists the method of each recorded envelope.
func (r *Recorder) Methods() []string {
	all := r.All()
	out := make([]string, 0, len(all))
	for _, o := range all {
		out = append(out, o.Method())
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.out = nil
	r.mu.Unlock()
}

// Turn is the UI rendering of a turn.
type Turn struct {
	ID     string     `json:"id"`
	Status string     `json:"status"`
	Error  *TurnError `json:"error"`
}

type TurnError struct {
	Message string `json:"message"`
}

type turnParams struct {
	ThreadID string `json:"threadId"`
	Turn     Turn   `json:"turn"`
}

type itemParams struct {
	ThreadID string `json:"threadId"`
	TurnID   string `json:"turnId"`
	Item     Item   `json:"item"`
}

type deltaParams struct {
	ThreadID string `json:"threadId"`
	TurnID   string `json:"turnId"`
	ItemID   string `json:"itemId"`
	Delta    string `json:"delta"`
}

type reasoningDeltaParams struct {
	ThreadID     string `json:"threadId"`
	TurnID       string `json:"turnId"`
	ItemID       string `json:"itemId"`
	SummaryIndex int64  `json:"summaryIndex"`
	Delta        string `json:"delta"`
}

type threadSource struct {
	Kind string `json:"kind"`
}

// Thread is the UI rendering of a backend session.
type Thread struct {
	ID        string       `json:"id"`
	CreatedAt int64        `json:"createdAt"`
	UpdatedAt int64        `json:"updatedAt"`
	Preview   string       `json:"preview"`
	Cwd       string       `json:"cwd"`
	Path      *string      `json:"path"`
	GitInfo   any          `json:"gitInfo"`
	Source    threadSource `json:"source"`
}

type threadStartedParams struct {
	Thread Thread `json:"thread"`
}
