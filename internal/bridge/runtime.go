package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/floegence/codex-bridge/internal/codexconfig"
)

// Defaults used when neither the request, the session nor config.toml name
// a value.
const (
	DefaultModel           = "gpt-5.2-codex"
	DefaultReasoningEffort = "medium"
	DefaultApprovalPolicy  = "on-request"
	DefaultSandboxMode     = "workspace-write"
)

// DefaultDecision is sent when the UI answers an approval without one.
const DefaultDecision = "decline"

var (
	ErrMissingThread = errors.New("turn/start requires threadId")
	ErrEmptyInput    = errors.New("turn/start requires non-empty input")
)

// CommandSender is the part of Manager the runtime needs.
type CommandSender interface {
	SendCommand(ctx context.Context, name string, data any) (string, error)
	SessionSettings(ctx context.Context, sessionID string) SessionSettings
}

// ConfigSource supplies config.toml defaults.
type ConfigSource interface {
	Snapshot() codexconfig.Snapshot
}

// WorkspaceSource supplies the fallback working directory.
type WorkspaceSource interface {
	Preferred() string
}

type RuntimeOptions struct {
	Logger *slog.Logger

	Sender    CommandSender
	Pending   *PendingTurns
	Approvals *Approvals
	Config    ConfigSource
	Workspace WorkspaceSource
	// Sessions serves the thread and history methods.
	Sessions SessionAPI

	NewID func() string
	Now   func() time.Time
}

// Runtime implements the UI operations on top of the backend channel.
type Runtime struct {
	log *slog.Logger

	sender    CommandSender
	pending   *PendingTurns
	approvals *Approvals
	config    ConfigSource
	workspace WorkspaceSource
	sessions  SessionAPI
	newID     func() string
	now       func() time.Time
}

func NewRuntime(opts RuntimeOptions) *Runtime {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	pending := opts.Pending
	if pending == nil {
		pending = NewPendingTurns()
	}
	approvals := opts.Approvals
	if approvals == nil {
		approvals = NewApprovals()
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Runtime{
		log:       logger,
		sender:    opts.Sender,
		pending:   pending,
		approvals: approvals,
		config:    opts.Config,
		workspace: opts.Workspace,
		sessions:  opts.Sessions,
		newID:     newID,
		now:       now,
	}
}

// InputItem is one entry of a turn's input list.
type InputItem struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	URL      string `json:"url,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type StartTurnRequest struct {
	ThreadID       string
	Input          []InputItem
	Cwd            string
	Model          string
	Effort         string
	ApprovalPolicy string
	Sandbox        string
}

// StartTurnResult is returned to the UI as the turn/start result.
type StartTurnResult struct {
	ThreadID string `json:"threadId"`
	Turn     Turn   `json:"turn"`
}

type chatSendData struct {
	Prompt           string   `json:"prompt"`
	SessionID        string   `json:"sessionId"`
	WorkingDirectory string   `json:"workingDirectory"`
	Model            string   `json:"model"`
	Sandbox          string   `json:"sandbox"`
	ApprovalPolicy   string   `json:"approvalPolicy"`
	Effort           string   `json:"effort"`
	SkipGitRepoCheck bool     `json:"skipGitRepoCheck"`
	Images           []string `json:"images,omitempty"`
}

// Prompt returns the first text entry, trimmed.
func Prompt(input []InputItem) string {
	for _, it := range input {
		if it.Type != "text" {
			continue
		}
		return strings.TrimSpace(it.Text)
	}
	return ""
}

// ImageDataURLs returns the inline image attachments of the input.
func ImageDataURLs(input []InputItem) []string {
	var out []string
	for _, it := range input {
		if it.Type != "image" && it.Type != "input_image" {
			continue
		}
		u := it.URL
		if u == "" {
			u = it.ImageURL
		}
		u = strings.TrimSpace(u)
		if strings.HasPrefix(u, "data:image/") {
			out = append(out, u)
		}
	}
	return out
}

// StartTurn queues a turn id for the thread and sends chat.send. The turn's
// progress arrives later as notifications.
func (r *Runtime) StartTurn(ctx context.Context, req StartTurnRequest) (StartTurnResult, error) {
	if r == nil || r.sender == nil {
		return StartTurnResult{}, errors.New("bridge runtime not initialized")
	}
	threadID := strings.TrimSpace(req.ThreadID)
	if threadID == "" {
		return StartTurnResult{}, ErrMissingThread
	}
	prompt := Prompt(req.Input)
	images := ImageDataURLs(req.Input)
	if prompt == "" && len(images) == 0 {
		return StartTurnResult{}, ErrEmptyInput
	}

	cwd := r.resolveCwd(req.Cwd)
	cfg := r.configSnapshot()
	session := r.sender.SessionSettings(ctx, threadID)

	data := chatSendData{
		Prompt:           prompt,
		SessionID:        threadID,
		WorkingDirectory: cwd,
		Model:            firstNonBlank(req.Model, cfg.Model, DefaultModel),
		Effort:           firstNonBlank(req.Effort, cfg.ModelReasoningEffort, DefaultReasoningEffort),
		ApprovalPolicy:   firstNonBlank(req.ApprovalPolicy, session.ApprovalPolicy, cfg.ApprovalPolicy, DefaultApprovalPolicy),
		Sandbox:          firstNonBlank(req.Sandbox, session.SandboxMode, cfg.SandboxMode, DefaultSandboxMode),
		SkipGitRepoCheck: true,
		Images:           images,
	}

	turnID := r.newID()
	r.pending.Push(threadID, turnID)

	cmdID, err := r.sender.SendCommand(ctx, CommandChatSend, data)
	if err != nil {
		r.pending.Remove(threadID, turnID)
		return StartTurnResult{}, fmt.Errorf("turn/start failed: %w", err)
	}
	r.log.Info("turn started", "thread_id", threadID, "turn_id", turnID, "command_id", cmdID, "model", data.Model)

	return StartTurnResult{
		ThreadID: threadID,
		Turn:     Turn{ID: turnID, Status: TurnInProgress},
	}, nil
}

// InterruptTurn asks the backend to cancel a run, addressed by run id,
// session id, or both.
func (r *Runtime) InterruptTurn(ctx context.Context, runID string, threadID string) error {
	if r == nil || r.sender == nil {
		return errors.New("bridge runtime not initialized")
	}
	data := map[string]string{}
	if s := strings.TrimSpace(runID); s != "" {
		data["runId"] = s
	}
	if s := strings.TrimSpace(threadID); s != "" {
		data["sessionId"] = s
	}
	if _, err := r.sender.SendCommand(ctx, CommandRunCancel, data); err != nil {
		return fmt.Errorf("turn/interrupt failed: %w", err)
	}
	return nil
}

type ApprovalDecision struct {
	RequestID string
	Decision  string
	// RunID is used when no correlation was recorded for RequestID.
	RunID string
}

type approvalRespondData struct {
	RunID     string `json:"runId"`
	RequestID string `json:"requestId"`
	Decision  string `json:"decision"`
}

// RespondApproval forwards the UI decision to the run that asked for it. It
// reports false without error when no run can be determined.
func (r *Runtime) RespondApproval(ctx context.Context, d ApprovalDecision) (bool, error) {
	if r == nil || r.sender == nil {
		return false, errors.New("bridge runtime not initialized")
	}
	requestID := strings.TrimSpace(d.RequestID)
	if requestID == "" {
		return false, nil
	}
	decision := strings.TrimSpace(d.Decision)
	if decision == "" {
		decision = DefaultDecision
	}
	runID, ok := r.approvals.Resolve(requestID)
	if !ok {
		runID = strings.TrimSpace(d.RunID)
	}
	if runID == "" {
		r.log.Debug("dropping approval decision without run", "request_id", requestID)
		return false, nil
	}
	if _, err := r.sender.SendCommand(ctx, CommandApprovalRespond, approvalRespondData{
		RunID:     runID,
		RequestID: requestID,
		Decision:  decision,
	}); err != nil {
		return false, fmt.Errorf("approval.respond failed: %w", err)
	}
	return true, nil
}

type startTurnParams struct {
	ThreadID string      `json:"threadId"`
	Input    []InputItem `json:"input"`
	Cwd      string      `json:"cwd"`

	Model                     string `json:"model"`
	ModelReasoningEffortSnake string `json:"model_reasoning_effort"`
	ModelReasoningEffort      string `json:"modelReasoningEffort"`
	ReasoningEffort           string `json:"reasoningEffort"`
	Effort                    string `json:"effort"`
	ApprovalPolicySnake       string `json:"approval_policy"`
	ApprovalPolicy            string `json:"approvalPolicy"`
	SandboxModeSnake          string `json:"sandbox_mode"`
	SandboxMode               string `json:"sandboxMode"`
	Sandbox                   string `json:"sandbox"`
	SandboxPolicy             *struct {
		Mode string `json:"mode"`
	} `json:"sandboxPolicy"`
}

// ParseStartTurnParams decodes turn/start params, accepting the key aliases
// the UI has used over time.
func ParseStartTurnParams(raw json.RawMessage) (StartTurnRequest, error) {
	return parseTurnParams(raw, "turn/start")
}

func parseTurnParams(raw json.RawMessage, method string) (StartTurnRequest, error) {
	var p startTurnParams
	if s := strings.TrimSpace(string(raw)); s != "" && s != "null" {
		if err := json.Unmarshal(raw, &p); err != nil {
			return StartTurnRequest{}, fmt.Errorf("invalid %s params: %w", method, err)
		}
	}
	sandbox := firstNonBlank(p.SandboxModeSnake, p.SandboxMode, p.Sandbox)
	if sandbox == "" && p.SandboxPolicy != nil {
		sandbox = strings.TrimSpace(p.SandboxPolicy.Mode)
	}
	return StartTurnRequest{
		ThreadID:       p.ThreadID,
		Input:          p.Input,
		Cwd:            p.Cwd,
		Model:          firstNonBlank(p.Model),
		Effort:         firstNonBlank(p.ModelReasoningEffortSnake, p.ModelReasoningEffort, p.ReasoningEffort, p.Effort),
		ApprovalPolicy: firstNonBlank(p.ApprovalPolicySnake, p.ApprovalPolicy),
		Sandbox:        sandbox,
	}, nil
}

type interruptParams struct {
	RunID     string `json:"runId"`
	ThreadID  string `json:"threadId"`
	SessionID string `json:"sessionId"`
}

// ParseInterruptParams returns the run id and thread id of turn/interrupt.
func ParseInterruptParams(raw json.RawMessage) (string, string, error) {
	var p interruptParams
	if s := strings.TrimSpace(string(raw)); s != "" && s != "null" {
		if err := json.Unmarshal(raw, &p); err != nil {
			return "", "", fmt.Errorf("invalid turn/interrupt params: %w", err)
		}
	}
	return p.RunID, firstNonBlank(p.ThreadID, p.SessionID), nil
}

// RequestID normalizes a JSON-RPC style id (string or integer) to a string.
func RequestID(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return strings.TrimSpace(str)
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatInt(n, 10)
	}
	return ""
}

type approvalResult struct {
	Decision string `json:"decision"`
	RunID    string `json:"runId"`
}

// ParseApprovalResult decodes the result of an approval response. A result
// that is not an object yields an empty decision.
func ParseApprovalResult(requestID string, raw json.RawMessage) ApprovalDecision {
	var res approvalResult
	_ = json.Unmarshal(raw, &res)
	return ApprovalDecision{RequestID: requestID, Decision: res.Decision, RunID: res.RunID}
}
