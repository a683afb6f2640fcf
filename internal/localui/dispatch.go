package localui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/floegence/codex-bridge/internal/auditlog"
	"github.com/floegence/codex-bridge/internal/bridge"
)

const (
	methodTurnStart     = "turn/start"
	methodTurnInterrupt = "turn/interrupt"
	methodThreadList    = "thread/list"
	methodThreadRead    = "thread/read"
	methodThreadStart   = "thread/start"
	methodThreadResume  = "thread/resume"
	methodModelList     = "model/list"
	methodConfigRead    = "config/read"
)

// inbound is one UI frame. Approval decisions arrive as mcp-response with
// the body under either "response" or "message".
type inbound struct {
	Type     string       `json:"type"`
	Request  *inboundCall `json:"request"`
	Response *inboundCall `json:"response"`
	Message  *inboundCall `json:"message"`
}

type inboundCall struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
}

var errNoRuntime = errors.New("bridge runtime unavailable")

// dispatch handles one inbound frame and returns the reply for the
// originating viewer, if any.
func (s *Server) dispatch(ctx context.Context, data []byte) ([]byte, bool) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		s.log.Debug("ignoring undecodable ui frame", "error", err)
		return nil, false
	}

	switch in.Type {
	case bridge.OutboundRequest:
		if in.Request == nil {
			return nil, false
		}
		return s.encode(s.handleRequest(ctx, in.Request))
	case bridge.OutboundResponse:
		call := in.Response
		if call == nil {
			call = in.Message
		}
		if call != nil {
			s.handleApproval(ctx, call)
		}
		return nil, false
	default:
		s.log.Debug("ignoring ui frame", "type", in.Type)
		return nil, false
	}
}

func (s *Server) encode(o bridge.Outbound) ([]byte, bool) {
	b, err := o.Marshal()
	if err != nil {
		s.log.Warn("failed to encode ui response", "error", err)
		return nil, false
	}
	return b, true
}

func (s *Server) handleRequest(ctx context.Context, call *inboundCall) bridge.Outbound {
	id := responseID(call.ID)
	rt := s.runtime()
	if rt == nil {
		return bridge.ErrorResponse(id, errNoRuntime.Error())
	}

	switch call.Method {
	case methodTurnStart:
		req, err := bridge.ParseStartTurnParams(call.Params)
		if err != nil {
			return bridge.ErrorResponse(id, err.Error())
		}
		res, err := rt.StartTurn(ctx, req)
		s.record(auditlog.Entry{
			Action:   auditlog.ActionTurnStart,
			ThreadID: req.ThreadID,
			RunID:    res.Turn.ID,
			Detail:   map[string]any{"model": req.Model, "cwd": req.Cwd, "inputs": len(req.Input)},
		}, err)
		if err != nil {
			s.log.Warn("turn/start failed", "thread_id", req.ThreadID, "error", err)
			return bridge.ErrorResponse(id, err.Error())
		}
		return bridge.ResultResponse(id, res)

	case methodTurnInterrupt:
		runID, threadID, err := bridge.ParseInterruptParams(call.Params)
		if err != nil {
			return bridge.ErrorResponse(id, err.Error())
		}
		err = rt.InterruptTurn(ctx, runID, threadID)
		s.record(auditlog.Entry{Action: auditlog.ActionTurnInterrupt, ThreadID: threadID, RunID: runID}, err)
		if err != nil {
			s.log.Warn("turn/interrupt failed", "run_id", runID, "thread_id", threadID, "error", err)
			return bridge.ErrorResponse(id, err.Error())
		}
		return bridge.ResultResponse(id, map[string]bool{"success": true})

	case methodThreadList, methodThreadRead, methodThreadStart, methodThreadResume:
		return s.handleThreadRequest(ctx, id, rt, call)

	case methodModelList:
		return bridge.ResultResponse(id, rt.ListModels())

	case methodConfigRead:
		return bridge.ResultResponse(id, rt.ReadConfig())

	default:
		return bridge.ErrorResponse(id, fmt.Sprintf("unsupported method: %s", call.Method))
	}
}

func (s *Server) handleThreadRequest(ctx context.Context, id any, rt Runtime, call *inboundCall) bridge.Outbound {
	req, err := bridge.ParseThreadParams(call.Params)
	if err != nil {
		return bridge.ErrorResponse(id, err.Error())
	}

	var res any
	switch call.Method {
	case methodThreadList:
		res, err = rt.ListThreads(ctx, req)
	case methodThreadRead:
		res, err = rt.ReadThread(ctx, req)
	case methodThreadStart:
		var started bridge.ThreadSession
		started, err = rt.StartThread(ctx, req)
		s.record(auditlog.Entry{
			Action:   auditlog.ActionThreadStart,
			ThreadID: started.Thread.ID,
			Detail:   map[string]any{"cwd": started.Cwd},
		}, err)
		res = started
	case methodThreadResume:
		res, err = rt.ResumeThread(ctx, req)
	}
	if err != nil {
		s.log.Warn("thread request failed", "method", call.Method, "thread_id", req.ThreadID, "error", err)
		return bridge.ErrorResponse(id, err.Error())
	}
	return bridge.ResultResponse(id, res)
}

func (s *Server) handleApproval(ctx context.Context, call *inboundCall) {
	requestID := bridge.RequestID(call.ID)
	if requestID == "" {
		return
	}
	rt := s.runtime()
	if rt == nil {
		s.log.Warn("dropping approval decision", "request_id", requestID, "error", errNoRuntime)
		return
	}
	d := bridge.ParseApprovalResult(requestID, call.Result)
	sent, err := rt.RespondApproval(ctx, d)
	s.record(auditlog.Entry{
		Action:    auditlog.ActionApprovalDecision,
		RequestID: requestID,
		RunID:     d.RunID,
		Decision:  d.Decision,
		Detail:    map[string]any{"sent": sent},
	}, err)
	if err != nil {
		s.log.Warn("approval.respond failed", "request_id", requestID, "error", err)
		return
	}
	if !sent {
		s.log.Debug("approval decision had no run", "request_id", requestID)
	}
}

// responseID echoes the request id verbatim; a missing id becomes null.
func responseID(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
