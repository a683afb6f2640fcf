package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/floegence/codex-bridge/internal/codexconfig"
	"github.com/floegence/codex-bridge/internal/workspace"
)

const (
	defaultThreadListLimit = 100
	maxSessionListLimit    = 200
	historyMessageLimit    = 200
)

var ErrThreadIDRequired = errors.New("requires threadId")

// SessionAPI is the bridge server's REST surface.
type SessionAPI interface {
	GetJSON(ctx context.Context, path string, out any) error
	PostJSON(ctx context.Context, path string, body any, out any) error
}

// ThreadRequest carries the params shared by the thread methods.
type ThreadRequest struct {
	ThreadID string
	Cwd      string

	Model          string
	Effort         string
	ApprovalPolicy string
	Sandbox        string

	// IncludeTurns defaults to true.
	IncludeTurns bool
	Archived     bool
	Limit        int
	Cursor       string
}

// ParseThreadParams decodes thread/* params. Paging and flag fields of the
// wrong type read as absent.
func ParseThreadParams(raw json.RawMessage) (ThreadRequest, error) {
	base, err := parseTurnParams(raw, "thread")
	if err != nil {
		return ThreadRequest{}, err
	}
	req := ThreadRequest{
		ThreadID:       strings.TrimSpace(base.ThreadID),
		Cwd:            strings.TrimSpace(base.Cwd),
		Model:          base.Model,
		Effort:         base.Effort,
		ApprovalPolicy: base.ApprovalPolicy,
		Sandbox:        base.Sandbox,
		IncludeTurns:   true,
	}

	var fields map[string]json.RawMessage
	if json.Unmarshal(raw, &fields) != nil {
		return req, nil
	}
	if b, ok := boolField(fields, "includeTurns"); ok {
		req.IncludeTurns = b
	}
	if b, ok := boolField(fields, "archived"); ok {
		req.Archived = b
	}
	if n, ok := uintField(fields, "limit"); ok && n <= maxSessionListLimit {
		req.Limit = int(n)
	} else if ok {
		req.Limit = maxSessionListLimit
	}
	if s, ok := stringField(fields, "cursor"); ok {
		req.Cursor = strings.TrimSpace(s)
	}
	return req, nil
}

// ThreadList is the thread/list result.
type ThreadList struct {
	Data       []Thread `json:"data"`
	NextCursor *string  `json:"nextCursor"`
}

// ThreadDetail is a thread with its reconstructed history.
type ThreadDetail struct {
	Thread
	Turns []HistoryTurn `json:"turns"`
}

// HistoryTurn is one completed turn rebuilt from stored session messages.
type HistoryTurn struct {
	ID     string     `json:"id"`
	Status string     `json:"status"`
	Error  *TurnError `json:"error"`
	Items  []any      `json:"items"`
}

type textContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type userMessageHistoryItem struct {
	ID      string        `json:"id"`
	Type    string        `json:"type"`
	Content []textContent `json:"content"`
}

type agentMessageHistoryItem struct {
	ID   string   `json:"id"`
	Type ItemType `json:"type"`
	Text string   `json:"text"`
}

type reasoningHistoryItem struct {
	ID      string   `json:"id"`
	Type    ItemType `json:"type"`
	Summary []string `json:"summary"`
}

type commandHistoryItem struct {
	ID               string   `json:"id"`
	Type             ItemType `json:"type"`
	Command          string   `json:"command"`
	Status           string   `json:"status"`
	ExitCode         *int     `json:"exitCode"`
	AggregatedOutput *string  `json:"aggregatedOutput"`
}

// SessionMeta is the effective policy of a thread.
type SessionMeta struct {
	Cwd            string `json:"cwd"`
	ApprovalPolicy string `json:"approvalPolicy"`
	SandboxMode    string `json:"sandboxMode"`
}

// ThreadSession is the thread/start and thread/resume result.
type ThreadSession struct {
	Thread          ThreadDetail `json:"thread"`
	Model           string       `json:"model"`
	ReasoningEffort string       `json:"reasoningEffort"`
	Cwd             string       `json:"cwd"`
	SessionMeta     SessionMeta  `json:"sessionMeta"`
}

type ReasoningEffortOption struct {
	ReasoningEffort string `json:"reasoningEffort"`
	Description     string `json:"description"`
}

type ModelInfo struct {
	Model                     string                  `json:"model"`
	IsDefault                 bool                    `json:"isDefault"`
	DefaultReasoningEffort    string                  `json:"defaultReasoningEffort"`
	SupportedReasoningEfforts []ReasoningEffortOption `json:"supportedReasoningEfforts"`
}

// ModelList is the model/list result.
type ModelList struct {
	Data       []ModelInfo `json:"data"`
	NextCursor *string     `json:"nextCursor"`
}

// ConfigValues repeats each setting under its config.toml and camelCase key.
type ConfigValues struct {
	Model                string `json:"model"`
	ModelReasoningEffort string `json:"model_reasoning_effort"`
	ApprovalPolicy       string `json:"approval_policy"`
	SandboxMode          string `json:"sandbox_mode"`
	ReasoningEffortCamel string `json:"modelReasoningEffort"`
	ApprovalPolicyCamel  string `json:"approvalPolicy"`
	SandboxModeCamel     string `json:"sandboxMode"`
}

// ConfigView is the config/read result.
type ConfigView struct {
	Config ConfigValues `json:"config"`
	Layers []any        `json:"layers"`
}

var supportedReasoningEfforts = []ReasoningEffortOption{
	{ReasoningEffort: "minimal", Description: "Minimal effort"},
	{ReasoningEffort: "low", Description: "Low effort"},
	{ReasoningEffort: "medium", Description: "Medium effort"},
	{ReasoningEffort: "high", Description: "High effort"},
}

type sessionSummary struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	Cwd   *string `json:"cwd"`
}

type sessionMessage struct {
	Role  string       `json:"role"`
	Text  string       `json:"text"`
	Trace []traceEntry `json:"trace"`
}

type traceEntry struct {
	Kind     string  `json:"kind"`
	Title    *string `json:"title"`
	Text     *string `json:"text"`
	Command  *string `json:"command"`
	Status   *string `json:"status"`
	ExitCode *int    `json:"exitCode"`
	Output   *string `json:"output"`
}

type createdSession struct {
	ID string `json:"id"`
}

func (r *Runtime) sessionsReady() error {
	if r == nil || r.sessions == nil {
		return errors.New("bridge runtime not initialized")
	}
	return nil
}

func (r *Runtime) configSnapshot() codexconfig.Snapshot {
	if r.config == nil {
		return codexconfig.Snapshot{}
	}
	return r.config.Snapshot()
}

func (r *Runtime) preferredCwd() string {
	if r.workspace != nil {
		if c := r.workspace.Preferred(); c != "" {
			return c
		}
	}
	return "/"
}

func (r *Runtime) resolveCwd(requested string) string {
	if c := strings.TrimSpace(requested); c != "" {
		return workspace.NormalizeRoot(c)
	}
	return r.preferredCwd()
}

func (r *Runtime) listSessions(ctx context.Context, limit int) ([]sessionSummary, error) {
	limit = min(max(limit, 1), maxSessionListLimit)
	var out []sessionSummary
	if err := r.sessions.GetJSON(ctx, "api/v1/sessions?limit="+strconv.Itoa(limit), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Runtime) threadFromSummary(s sessionSummary) Thread {
	now := r.now().Unix()
	preview := s.ID
	if strings.TrimSpace(s.Title) != "" {
		preview = s.Title
	}
	cwd := "/"
	if s.Cwd != nil {
		cwd = *s.Cwd
	}
	return Thread{
		ID:        s.ID,
		CreatedAt: now,
		UpdatedAt: now,
		Preview:   preview,
		Cwd:       cwd,
		Source:    threadSource{Kind: "local"},
	}
}

// ListThreads pages through the backend's sessions. Archived threads are not
// tracked by the backend, so that listing is always empty.
func (r *Runtime) ListThreads(ctx context.Context, req ThreadRequest) (ThreadList, error) {
	if err := r.sessionsReady(); err != nil {
		return ThreadList{}, err
	}
	if req.Archived {
		return ThreadList{Data: []Thread{}}, nil
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultThreadListLimit
	}
	limit = min(limit, maxSessionListLimit)
	offset := 0
	if n, err := strconv.Atoi(req.Cursor); err == nil && n > 0 {
		offset = n
	}

	summaries, err := r.listSessions(ctx, limit+offset)
	if err != nil {
		return ThreadList{}, fmt.Errorf("thread/list failed: %w", err)
	}
	data := []Thread{}
	for i := offset; i < len(summaries) && len(data) < limit; i++ {
		data = append(data, r.threadFromSummary(summaries[i]))
	}
	out := ThreadList{Data: data}
	if next := offset + len(data); next < len(summaries) {
		c := strconv.Itoa(next)
		out.NextCursor = &c
	}
	return out, nil
}

// ReadThread returns a thread and, unless IncludeTurns is false, its history.
func (r *Runtime) ReadThread(ctx context.Context, req ThreadRequest) (ThreadDetail, error) {
	if err := r.sessionsReady(); err != nil {
		return ThreadDetail{}, err
	}
	if req.ThreadID == "" {
		return ThreadDetail{}, fmt.Errorf("thread/read %w", ErrThreadIDRequired)
	}
	cwd := ""
	if c := strings.TrimSpace(req.Cwd); c != "" {
		cwd = workspace.NormalizeRoot(c)
	}
	th, err := r.readThread(ctx, req.ThreadID, req.IncludeTurns, cwd)
	if err != nil {
		return ThreadDetail{}, fmt.Errorf("thread/read failed: %w", err)
	}
	return th, nil
}

// readThread looks the session up in the recent list for its title and cwd;
// a failed lookup falls back to the id and the preferred workspace.
func (r *Runtime) readThread(ctx context.Context, threadID string, includeTurns bool, cwd string) (ThreadDetail, error) {
	summaries, err := r.listSessions(ctx, maxSessionListLimit)
	if err != nil {
		r.log.Debug("session list unavailable", "thread_id", threadID, "error", err)
	}
	summary := sessionSummary{ID: threadID}
	for _, s := range summaries {
		if s.ID == threadID {
			summary = s
			break
		}
	}
	switch {
	case cwd != "":
	case summary.Cwd != nil && *summary.Cwd != "":
		cwd = *summary.Cwd
	default:
		cwd = r.preferredCwd()
	}
	summary.Cwd = &cwd

	turns := []HistoryTurn{}
	if includeTurns {
		if turns, err = r.threadTurns(ctx, threadID); err != nil {
			return ThreadDetail{}, err
		}
	}
	return ThreadDetail{Thread: r.threadFromSummary(summary), Turns: turns}, nil
}

// threadTurns rebuilds turns from stored messages. A user message opens a
// turn; an assistant message contributes its trace and text and closes it.
func (r *Runtime) threadTurns(ctx context.Context, threadID string) ([]HistoryTurn, error) {
	var msgs []sessionMessage
	path := fmt.Sprintf("api/v1/sessions/%s/messages?limit=%d", url.PathEscape(threadID), historyMessageLimit)
	if err := r.sessions.GetJSON(ctx, path, &msgs); err != nil {
		return nil, err
	}

	turns := []HistoryTurn{}
	var items []any
	flush := func() {
		if len(items) == 0 {
			return
		}
		turns = append(turns, HistoryTurn{ID: r.newID(), Status: TurnCompleted, Items: items})
		items = nil
	}
	for _, m := range msgs {
		switch strings.ToLower(strings.TrimSpace(m.Role)) {
		case "user":
			flush()
			items = append(items, userMessageHistoryItem{
				ID:      "user-" + r.newID(),
				Type:    "userMessage",
				Content: []textContent{{Type: "text", Text: m.Text}},
			})
		case "assistant":
			for _, tr := range m.Trace {
				if it, ok := r.traceItem(tr); ok {
					items = append(items, it)
				}
			}
			items = append(items, agentMessageHistoryItem{ID: "assistant-" + r.newID(), Type: ItemAgentMessage, Text: m.Text})
			flush()
		}
	}
	flush()
	return turns, nil
}

func (r *Runtime) traceItem(e traceEntry) (any, bool) {
	switch {
	case strings.EqualFold(e.Kind, "reasoning"):
		text := trimmedPtr(e.Text)
		if text == "" {
			return nil, false
		}
		if title := trimmedPtr(e.Title); title != "" {
			text = title + ": " + text
		}
		return reasoningHistoryItem{ID: "reasoning-" + r.newID(), Type: ItemReasoning, Summary: []string{text}}, true
	case strings.EqualFold(e.Kind, "command"):
		status := TurnCompleted
		if e.Status != nil {
			status = *e.Status
		}
		cmd := ""
		if e.Command != nil {
			cmd = *e.Command
		}
		return commandHistoryItem{
			ID:               "command-" + r.newID(),
			Type:             ItemCommandExecution,
			Command:          cmd,
			Status:           status,
			ExitCode:         e.ExitCode,
			AggregatedOutput: e.Output,
		}, true
	default:
		return nil, false
	}
}

func trimmedPtr(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

// StartThread creates a backend session in the resolved cwd and returns it
// with the settings a first turn would use.
func (r *Runtime) StartThread(ctx context.Context, req ThreadRequest) (ThreadSession, error) {
	if err := r.sessionsReady(); err != nil {
		return ThreadSession{}, err
	}
	cwd := r.resolveCwd(req.Cwd)
	cfg := r.configSnapshot()

	var created createdSession
	if err := r.sessions.PostJSON(ctx, "api/v1/sessions", map[string]string{"cwd": cwd}, &created); err != nil {
		return ThreadSession{}, fmt.Errorf("thread/start failed: %w", err)
	}
	threadID := strings.TrimSpace(created.ID)
	if threadID == "" {
		return ThreadSession{}, errors.New("thread/start failed: missing session id")
	}
	th, err := r.readThread(ctx, threadID, true, cwd)
	if err != nil {
		return ThreadSession{}, fmt.Errorf("thread/start read failed: %w", err)
	}
	r.log.Info("thread started", "thread_id", threadID, "cwd", cwd)

	return ThreadSession{
		Thread:          th,
		Model:           firstNonBlank(req.Model, cfg.Model, DefaultModel),
		ReasoningEffort: firstNonBlank(req.Effort, cfg.ModelReasoningEffort, DefaultReasoningEffort),
		Cwd:             cwd,
		SessionMeta: SessionMeta{
			Cwd:            cwd,
			ApprovalPolicy: firstNonBlank(req.ApprovalPolicy, cfg.ApprovalPolicy, DefaultApprovalPolicy),
			SandboxMode:    firstNonBlank(req.Sandbox, cfg.SandboxMode, DefaultSandboxMode),
		},
	}, nil
}

// ResumeThread reopens an existing session. Its policy comes from the
// backend's stored session settings.
func (r *Runtime) ResumeThread(ctx context.Context, req ThreadRequest) (ThreadSession, error) {
	if err := r.sessionsReady(); err != nil {
		return ThreadSession{}, err
	}
	if req.ThreadID == "" {
		return ThreadSession{}, fmt.Errorf("thread/resume %w", ErrThreadIDRequired)
	}
	cfg := r.configSnapshot()
	var session SessionSettings
	if r.sender != nil {
		session = r.sender.SessionSettings(ctx, req.ThreadID)
	}
	cwd := ""
	if c := strings.TrimSpace(req.Cwd); c != "" {
		cwd = workspace.NormalizeRoot(c)
	}
	th, err := r.readThread(ctx, req.ThreadID, true, cwd)
	if err != nil {
		return ThreadSession{}, fmt.Errorf("thread/resume failed: %w", err)
	}

	return ThreadSession{
		Thread:          th,
		Model:           firstNonBlank(req.Model, cfg.Model, DefaultModel),
		ReasoningEffort: firstNonBlank(req.Effort, cfg.ModelReasoningEffort, DefaultReasoningEffort),
		Cwd:             th.Cwd,
		SessionMeta: SessionMeta{
			Cwd:            th.Cwd,
			ApprovalPolicy: firstNonBlank(session.ApprovalPolicy, cfg.ApprovalPolicy, DefaultApprovalPolicy),
			SandboxMode:    firstNonBlank(session.SandboxMode, cfg.SandboxMode, DefaultSandboxMode),
		},
	}, nil
}

// ListModels reports the configured model as the only, default entry.
func (r *Runtime) ListModels() ModelList {
	if r == nil {
		return ModelList{Data: []ModelInfo{}}
	}
	cfg := r.configSnapshot()
	return ModelList{Data: []ModelInfo{{
		Model:                     firstNonBlank(cfg.Model, DefaultModel),
		IsDefault:                 true,
		DefaultReasoningEffort:    firstNonBlank(cfg.ModelReasoningEffort, DefaultReasoningEffort),
		SupportedReasoningEfforts: supportedReasoningEfforts,
	}}}
}

// ReadConfig returns the effective config.toml values with defaults filled in.
func (r *Runtime) ReadConfig() ConfigView {
	var cfg codexconfig.Snapshot
	if r != nil {
		cfg = r.configSnapshot()
	}
	model := firstNonBlank(cfg.Model, DefaultModel)
	effort := firstNonBlank(cfg.ModelReasoningEffort, DefaultReasoningEffort)
	approval := firstNonBlank(cfg.ApprovalPolicy, DefaultApprovalPolicy)
	sandbox := firstNonBlank(cfg.SandboxMode, DefaultSandboxMode)
	return ConfigView{
		Config: ConfigValues{
			Model:                model,
			ModelReasoningEffort: effort,
			ApprovalPolicy:       approval,
			SandboxMode:          sandbox,
			ReasoningEffortCamel: effort,
			ApprovalPolicyCamel:  approval,
			SandboxModeCamel:     sandbox,
		},
		Layers: []any{},
	}
}
