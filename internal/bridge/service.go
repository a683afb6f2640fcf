package bridge

import (
	"context"
	"log/slog"
	"os"
)

type ServiceOptions struct {
	Logger *slog.Logger
	Sink   Sink

	Manager   ManagerOptions
	Config    ConfigSource
	Workspace WorkspaceSource
}

// Service wires the tracker, pending queue and approval correlator shared by
// the translator (reader side) and the runtime (request side).
type Service struct {
	Translator *Translator
	Manager    *Manager
	Runtime    *Runtime
}

func NewService(opts ServiceOptions) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	pending := NewPendingTurns()
	approvals := NewApprovals()

	cwd := func() string { return "/" }
	if opts.Workspace != nil {
		cwd = opts.Workspace.Preferred
	}
	tr := NewTranslator(TranslatorOptions{
		Logger:    logger.With("component", "translator"),
		Pending:   pending,
		Approvals: approvals,
		Sink:      opts.Sink,
		Cwd:       cwd,
	})

	mopts := opts.Manager
	if mopts.Logger == nil {
		mopts.Logger = logger.With("component", "bridge")
	}
	mopts.Translator = tr
	mgr := NewManager(mopts)

	rt := NewRuntime(RuntimeOptions{
		Logger:    logger.With("component", "runtime"),
		Sender:    mgr,
		Sessions:  mgr,
		Pending:   pending,
		Approvals: approvals,
		Config:    opts.Config,
		Workspace: opts.Workspace,
	})
	return &Service{Translator: tr, Manager: mgr, Runtime: rt}
}

// Status is a point-in-time view of the channel.
type Status struct {
	State      string `json:"state"`
	BaseURL    string `json:"base_url,omitempty"`
	ActiveRuns int    `json:"active_runs"`
}

func (s *Service) Status() Status {
	if s == nil {
		return Status{State: StateClosed.String()}
	}
	return Status{
		State:      s.Manager.State().String(),
		BaseURL:    s.Manager.BaseURL(),
		ActiveRuns: s.Translator.Tracker().Len(),
	}
}

func (s *Service) StartTurn(ctx context.Context, req StartTurnRequest) (StartTurnResult, error) {
	return s.Runtime.StartTurn(ctx, req)
}

func (s *Service) InterruptTurn(ctx context.Context, runID string, threadID string) error {
	return s.Runtime.InterruptTurn(ctx, runID, threadID)
}

func (s *Service) RespondApproval(ctx context.Context, d ApprovalDecision) (bool, error) {
	return s.Runtime.RespondApproval(ctx, d)
}

func (s *Service) ListThreads(ctx context.Context, req ThreadRequest) (ThreadList, error) {
	return s.Runtime.ListThreads(ctx, req)
}

func (s *Service) ReadThread(ctx context.Context, req ThreadRequest) (ThreadDetail, error) {
	return s.Runtime.ReadThread(ctx, req)
}

func (s *Service) StartThread(ctx context.Context, req ThreadRequest) (ThreadSession, error) {
	return s.Runtime.StartThread(ctx, req)
}

func (s *Service) ResumeThread(ctx context.Context, req ThreadRequest) (ThreadSession, error) {
	return s.Runtime.ResumeThread(ctx, req)
}

func (s *Service) ListModels() ModelList {
	return s.Runtime.ListModels()
}

func (s *Service) ReadConfig() ConfigView {
	return s.Runtime.ReadConfig()
}

func (s *Service) Close() error {
	if s == nil {
		return nil
	}
	return s.Manager.Close()
}
