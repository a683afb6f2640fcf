package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/floegence/codex-bridge/internal/codexconfig"
)

type sentCommand struct {
	name string
	data any
}

type fakeSender struct {
	mu       sync.Mutex
	sent     []sentCommand
	err      error
	settings SessionSettings
}

func (f *fakeSender) SendCommand(ctx context.Context, name string, data any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, sentCommand{name: name, data: data})
	return "cmd-1", nil
}

func (f *fakeSender) SessionSettings(ctx context.Context, sessionID string) SessionSettings {
	return f.settings
}

func (f *fakeSender) commands() []sentCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCommand(nil), f.sent...)
}

type staticConfig codexconfig.Snapshot

func (c staticConfig) Snapshot() codexconfig.Snapshot { return codexconfig.Snapshot(c) }

type staticWorkspace string

func (w staticWorkspace) Preferred() string { return string(w) }

func newTestRuntime(sender CommandSender, cfg ConfigSource, ws WorkspaceSource) *Runtime {
	return NewRuntime(RuntimeOptions{
		Logger:    discardLogger(),
		Sender:    sender,
		Config:    cfg,
		Workspace: ws,
		NewID:     sequentialIDs("turn"),
	})
}

func TestPromptAndImages(t *testing.T) {
	t.Parallel()

	input := []InputItem{
		{Type: "image", URL: "data:image/png;base64,AAA"},
		{Type: "text", Text: "  first  "},
		{Type: "text", Text: "second"},
		{Type: "input_image", ImageURL: "data:image/jpeg;base64,BBB"},
		{Type: "image", URL: "https://example.com/x.png"},
	}
	if got := Prompt(input); got != "first" {
		t.Fatalf("Prompt() = %q, want first", got)
	}
	want := []string{"data:image/png;base64,AAA", "data:image/jpeg;base64,BBB"}
	if got := ImageDataURLs(input); !slices.Equal(got, want) {
		t.Fatalf("ImageDataURLs() = %v, want %v", got, want)
	}
}

func TestStartTurnSendsChat(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	rt := newTestRuntime(sender, nil, staticWorkspace("/ws"))

	res, err := rt.StartTurn(context.Background(), StartTurnRequest{
		ThreadID: " s1 ",
		Input:    []InputItem{{Type: "text", Text: "hello"}},
		Model:    "m-req",
	})
	if err != nil {
		t.Fatalf("StartTurn: %v", err)
	}
	if res.ThreadID != "s1" || res.Turn.ID != "turn-1" || res.Turn.Status != TurnInProgress || res.Turn.Error != nil {
		t.Fatalf("StartTurn() = %+v", res)
	}

	cmds := sender.commands()
	if len(cmds) != 1 || cmds[0].name != CommandChatSend {
		t.Fatalf("commands = %+v", cmds)
	}
	data := cmds[0].data.(chatSendData)
	want := chatSendData{
		Prompt:           "hello",
		SessionID:        "s1",
		WorkingDirectory: "/ws",
		Model:            "m-req",
		Sandbox:          DefaultSandboxMode,
		ApprovalPolicy:   DefaultApprovalPolicy,
		Effort:           DefaultReasoningEffort,
		SkipGitRepoCheck: true,
	}
	gotJSON, _ := json.Marshal(data)
	wantJSON, _ := json.Marshal(want)
	if string(gotJSON) != string(wantJSON) {
		t.Fatalf("chat.send data = %s, want %s", gotJSON, wantJSON)
	}

	if got, ok := rt.pending.Pop("s1"); !ok || got != "turn-1" {
		t.Fatalf("pending turn = %q, %v, want turn-1", got, ok)
	}
}

func TestStartTurnSettingPrecedence(t *testing.T) {
	t.Parallel()

	cfg := staticConfig{
		Model:                "m-cfg",
		ModelReasoningEffort: "high",
		ApprovalPolicy:       "untrusted",
		SandboxMode:          "danger-full-access",
	}

	cases := []struct {
		name    string
		req     StartTurnRequest
		session SessionSettings
		want    [4]string // model, effort, approval, sandbox
	}{
		{
			name: "config",
			want: [4]string{"m-cfg", "high", "untrusted", "danger-full-access"},
		},
		{
			name:    "session beats config",
			session: SessionSettings{ApprovalPolicy: "never", SandboxMode: "read-only"},
			want:    [4]string{"m-cfg", "high", "never", "read-only"},
		},
		{
			name:    "request beats session",
			req:     StartTurnRequest{Model: "m", Effort: "low", ApprovalPolicy: "on-failure", Sandbox: "workspace-write"},
			session: SessionSettings{ApprovalPolicy: "never", SandboxMode: "read-only"},
			want:    [4]string{"m", "low", "on-failure", "workspace-write"},
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			sender := &fakeSender{settings: tc.session}
			rt := newTestRuntime(sender, cfg, nil)
			req := tc.req
			req.ThreadID = "s1"
			req.Input = []InputItem{{Type: "text", Text: "go"}}
			if _, err := rt.StartTurn(context.Background(), req); err != nil {
				t.Fatalf("StartTurn: %v", err)
			}
			data := sender.commands()[0].data.(chatSendData)
			got := [4]string{data.Model, data.Effort, data.ApprovalPolicy, data.Sandbox}
			if got != tc.want {
				t.Fatalf("settings = %v, want %v", got, tc.want)
			}
			if data.WorkingDirectory != "/" {
				t.Fatalf("cwd = %q, want /", data.WorkingDirectory)
			}
		})
	}
}

func TestStartTurnNormalizesCwd(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sender := &fakeSender{}
	rt := newTestRuntime(sender, nil, staticWorkspace("/ignored"))
	if _, err := rt.StartTurn(context.Background(), StartTurnRequest{
		ThreadID: "s1",
		Cwd:      dir + "/./",
		Input:    []InputItem{{Type: "text", Text: "go"}},
	}); err != nil {
		t.Fatalf("StartTurn: %v", err)
	}
	data := sender.commands()[0].data.(chatSendData)
	if data.WorkingDirectory == "/ignored" || data.WorkingDirectory == "" {
		t.Fatalf("cwd = %q, want the normalized request cwd", data.WorkingDirectory)
	}
}

func TestStartTurnValidation(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	rt := newTestRuntime(sender, nil, nil)
	ctx := context.Background()

	if _, err := rt.StartTurn(ctx, StartTurnRequest{Input: []InputItem{{Type: "text", Text: "x"}}}); !errors.Is(err, ErrMissingThread) {
		t.Fatalf("StartTurn(no thread) error = %v, want ErrMissingThread", err)
	}
	if _, err := rt.StartTurn(ctx, StartTurnRequest{ThreadID: "s1", Input: []InputItem{{Type: "text", Text: "  "}}}); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("StartTurn(blank) error = %v, want ErrEmptyInput", err)
	}
	if _, err := rt.StartTurn(ctx, StartTurnRequest{ThreadID: "s1", Input: []InputItem{{Type: "image", URL: "data:image/png;base64,AA"}}}); err != nil {
		t.Fatalf("StartTurn(image only) error = %v", err)
	}
	if got := len(sender.commands()); got != 1 {
		t.Fatalf("commands sent = %d, want 1", got)
	}
}

func TestStartTurnWithdrawsPendingOnSendFailure(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{err: ErrNoSender}
	rt := newTestRuntime(sender, nil, nil)
	_, err := rt.StartTurn(context.Background(), StartTurnRequest{ThreadID: "s1", Input: []InputItem{{Type: "text", Text: "x"}}})
	if !errors.Is(err, ErrNoSender) {
		t.Fatalf("StartTurn() error = %v, want ErrNoSender", err)
	}
	if n := rt.pending.Len("s1"); n != 0 {
		t.Fatalf("pending turns = %d, want 0", n)
	}
}

func TestInterruptTurn(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	rt := newTestRuntime(sender, nil, nil)
	if err := rt.InterruptTurn(context.Background(), "r1", " s1 "); err != nil {
		t.Fatalf("InterruptTurn: %v", err)
	}
	if err := rt.InterruptTurn(context.Background(), "", "s2"); err != nil {
		t.Fatalf("InterruptTurn: %v", err)
	}
	cmds := sender.commands()
	first := cmds[0].data.(map[string]string)
	second := cmds[1].data.(map[string]string)
	if cmds[0].name != CommandRunCancel || first["runId"] != "r1" || first["sessionId"] != "s1" {
		t.Fatalf("first cancel = %+v", cmds[0])
	}
	if _, ok := second["runId"]; ok || second["sessionId"] != "s2" {
		t.Fatalf("second cancel = %+v", second)
	}
}

func TestApprovalRoundTrip(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	tr, rec := newTestTranslator(t)
	rt := NewRuntime(RuntimeOptions{
		Logger:    discardLogger(),
		Sender:    sender,
		Approvals: tr.Approvals(),
	})

	mustHandle(t, tr, event(t, "approval.requested", map[string]any{"requestId": "q1", "runId": "r9", "kind": "exec"}))
	req := wire(t, rec.All()[0])["request"].(map[string]any)
	if req["id"] != "q1" {
		t.Fatalf("request = %v", req)
	}

	ok, err := rt.RespondApproval(context.Background(), ParseApprovalResult("q1", json.RawMessage(`{"decision":"accept"}`)))
	if err != nil || !ok {
		t.Fatalf("RespondApproval() = %v, %v", ok, err)
	}
	cmds := sender.commands()
	if len(cmds) != 1 || cmds[0].name != CommandApprovalRespond {
		t.Fatalf("commands = %+v", cmds)
	}
	if got := cmds[0].data.(approvalRespondData); got != (approvalRespondData{RunID: "r9", RequestID: "q1", Decision: "accept"}) {
		t.Fatalf("approval.respond data = %+v", got)
	}

	// The correlation is consumed.
	ok, err = rt.RespondApproval(context.Background(), ApprovalDecision{RequestID: "q1", Decision: "accept"})
	if err != nil || ok {
		t.Fatalf("second RespondApproval() = %v, %v, want dropped", ok, err)
	}
}

func TestRespondApprovalFallbacks(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	rt := newTestRuntime(sender, nil, nil)
	ctx := context.Background()

	ok, err := rt.RespondApproval(ctx, ApprovalDecision{RequestID: "q1", RunID: "r1"})
	if err != nil || !ok {
		t.Fatalf("RespondApproval(run hint) = %v, %v", ok, err)
	}
	if got := sender.commands()[0].data.(approvalRespondData); got.Decision != DefaultDecision || got.RunID != "r1" {
		t.Fatalf("data = %+v", got)
	}

	if ok, err := rt.RespondApproval(ctx, ApprovalDecision{RequestID: " "}); ok || err != nil {
		t.Fatalf("RespondApproval(blank id) = %v, %v", ok, err)
	}
	if ok, err := rt.RespondApproval(ctx, ApprovalDecision{RequestID: "q2", Decision: "accept"}); ok || err != nil {
		t.Fatalf("RespondApproval(no run) = %v, %v", ok, err)
	}
	if got := len(sender.commands()); got != 1 {
		t.Fatalf("commands = %d, want 1", got)
	}
}

func TestParseStartTurnParamsAliases(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
		want StartTurnRequest
	}{
		{
			name: "camel case",
			raw:  `{"threadId":"s1","model":"m","modelReasoningEffort":"high","approvalPolicy":"never","sandboxMode":"read-only"}`,
			want: StartTurnRequest{ThreadID: "s1", Model: "m", Effort: "high", ApprovalPolicy: "never", Sandbox: "read-only"},
		},
		{
			name: "snake case wins",
			raw:  `{"model_reasoning_effort":"low","effort":"high","approval_policy":"untrusted","approvalPolicy":"never","sandbox_mode":"a","sandbox":"b"}`,
			want: StartTurnRequest{Effort: "low", ApprovalPolicy: "untrusted", Sandbox: "a"},
		},
		{
			name: "sandbox policy",
			raw:  `{"reasoningEffort":"minimal","sandboxPolicy":{"mode":"workspace-write"}}`,
			want: StartTurnRequest{Effort: "minimal", Sandbox: "workspace-write"},
		},
		{
			name: "null",
			raw:  `null`,
		},
	}
	for _, tc := range cases {
		got, err := ParseStartTurnParams(json.RawMessage(tc.raw))
		if err != nil {
			t.Fatalf("%s: ParseStartTurnParams: %v", tc.name, err)
		}
		got.Input = nil
		gotJSON, _ := json.Marshal(got)
		wantJSON, _ := json.Marshal(tc.want)
		if string(gotJSON) != string(wantJSON) {
			t.Fatalf("%s: ParseStartTurnParams() = %s, want %s", tc.name, gotJSON, wantJSON)
		}
	}

	if _, err := ParseStartTurnParams(json.RawMessage(`{"threadId": 1}`)); err == nil {
		t.Fatalf("ParseStartTurnParams(bad type) error = nil")
	}
}

func TestParseStartTurnParamsInput(t *testing.T) {
	t.Parallel()

	got, err := ParseStartTurnParams(json.RawMessage(`{"threadId":"s1","cwd":"/p","input":[{"type":"text","text":"hi"},{"type":"input_image","image_url":"data:image/png;base64,A"}]}`))
	if err != nil {
		t.Fatalf("ParseStartTurnParams: %v", err)
	}
	if got.Cwd != "/p" || Prompt(got.Input) != "hi" || len(ImageDataURLs(got.Input)) != 1 {
		t.Fatalf("ParseStartTurnParams() = %+v", got)
	}
}

func TestParseInterruptParams(t *testing.T) {
	t.Parallel()

	runID, threadID, err := ParseInterruptParams(json.RawMessage(`{"runId":"r1","sessionId":"s1"}`))
	if err != nil || runID != "r1" || threadID != "s1" {
		t.Fatalf("ParseInterruptParams() = (%q, %q, %v)", runID, threadID, err)
	}
	_, threadID, _ = ParseInterruptParams(json.RawMessage(`{"threadId":"t","sessionId":"s"}`))
	if threadID != "t" {
		t.Fatalf("threadId = %q, want t", threadID)
	}
	if _, _, err := ParseInterruptParams(json.RawMessage(`[]`)); err == nil {
		t.Fatalf("ParseInterruptParams([]) error = nil")
	}
}

func TestRequestID(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		`"abc"`:  "abc",
		`" q1 "`: "q1",
		`42`:     "42",
		`null`:   "",
		``:       "",
		`{}`:     "",
		`1.5`:    "",
	}
	for raw, want := range cases {
		if got := RequestID(json.RawMessage(raw)); got != want {
			t.Fatalf("RequestID(%s) = %q, want %q", raw, got, want)
		}
	}
}
