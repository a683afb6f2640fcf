package localui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/floegence/codex-bridge/internal/auditlog"
	"github.com/floegence/codex-bridge/internal/bridge"
)

const defaultPort = 23999

// Runtime is the bridge surface the UI drives.
type Runtime interface {
	StartTurn(ctx context.Context, req bridge.StartTurnRequest) (bridge.StartTurnResult, error)
	InterruptTurn(ctx context.Context, runID string, threadID string) error
	RespondApproval(ctx context.Context, d bridge.ApprovalDecision) (bool, error)
	Status() bridge.Status

	ListThreads(ctx context.Context, req bridge.ThreadRequest) (bridge.ThreadList, error)
	ReadThread(ctx context.Context, req bridge.ThreadRequest) (bridge.ThreadDetail, error)
	StartThread(ctx context.Context, req bridge.ThreadRequest) (bridge.ThreadSession, error)
	ResumeThread(ctx context.Context, req bridge.ThreadRequest) (bridge.ThreadSession, error)
	ListModels() bridge.ModelList
	ReadConfig() bridge.ConfigView
}

// AuditLog records operator actions taken through the UI.
type AuditLog interface {
	Append(e auditlog.Entry)
	List(limit int) ([]auditlog.Entry, error)
}

type Options struct {
	Logger *slog.Logger
	Port   int

	// AllowedOrigins extends the loopback origins for this port.
	AllowedOrigins []string

	// ViewerSendBuffer is the per-viewer queue length. A full queue drops
	// messages for that viewer only.
	ViewerSendBuffer int

	Version string

	// Audit is optional.
	Audit AuditLog
}

// Server is the loopback HTTP/websocket surface for the chat UI. It is also
// the bridge.Sink that fans translator output out to every viewer.
type Server struct {
	log *slog.Logger

	port    int
	version string

	allowedOrigins map[string]struct{}
	upgrader       websocket.Upgrader

	rtMu sync.RWMutex
	rt   Runtime

	audit AuditLog
	hub   *hub

	ln4 net.Listener
	ln6 net.Listener
	srv *http.Server
}

func AllowedOriginsForPort(port int) []string {
	p := port
	if p <= 0 {
		p = defaultPort
	}
	var out []string
	for _, scheme := range []string{"http", "https"} {
		for _, host := range []string{"localhost", "127.0.0.1", "[::1]"} {
			out = append(out, fmt.Sprintf("%s://%s:%d", scheme, host, p))
		}
	}
	return out
}

func New(opts Options) (*Server, error) {
	port := opts.Port
	if port == 0 {
		port = defaultPort
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid Port: %d", port)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	allowed := make(map[string]struct{})
	for _, o := range append(AllowedOriginsForPort(port), opts.AllowedOrigins...) {
		if n := normalizeOrigin(o); n != "" {
			allowed[n] = struct{}{}
		}
	}

	s := &Server{
		log:            logger,
		port:           port,
		version:        strings.TrimSpace(opts.Version),
		allowedOrigins: allowed,
		audit:          opts.Audit,
		hub:            newHub(logger, opts.ViewerSendBuffer),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s, nil
}

// SetRuntime attaches the bridge runtime. The server answers requests with
// an error until one is set.
func (s *Server) SetRuntime(rt Runtime) {
	if s == nil {
		return
	}
	s.rtMu.Lock()
	s.rt = rt
	s.rtMu.Unlock()
}

func (s *Server) runtime() Runtime {
	s.rtMu.RLock()
	defer s.rtMu.RUnlock()
	return s.rt
}

// Publish implements bridge.Sink.
func (s *Server) Publish(o bridge.Outbound) {
	if s == nil {
		return
	}
	b, err := o.Marshal()
	if err != nil {
		s.log.Warn("failed to encode ui envelope", "method", o.Method(), "error", err)
		return
	}
	s.hub.broadcast(b)
}

// Handler returns the routes without binding a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/local/health", s.handleHealth)
	mux.HandleFunc("/api/local/runtime", s.handleRuntime)
	mux.HandleFunc("/api/local/audit", s.handleAudit)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if s.srv != nil {
		return nil
	}

	addr4 := net.JoinHostPort("127.0.0.1", fmt.Sprintf("%d", s.port))
	ln4, err := net.Listen("tcp", addr4)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr4, err)
	}
	addr6 := net.JoinHostPort("::1", fmt.Sprintf("%d", s.port))
	ln6, err := net.Listen("tcp", addr6)
	if err != nil {
		// Hosts without IPv6 loopback still serve 127.0.0.1.
		s.log.Warn("ipv6 loopback unavailable", "addr", addr6, "error", err)
		ln6 = nil
	}

	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.ln4 = ln4
	s.ln6 = ln6

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	srv := s.srv
	go func() {
		if err := srv.Serve(ln4); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("local ui server stopped (ipv4)", "error", err)
		}
	}()
	if ln6 != nil {
		go func() {
			if err := srv.Serve(ln6); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("local ui server stopped (ipv6)", "error", err)
			}
		}()
	}

	s.log.Info("local ui listening", "port", s.port)
	return nil
}

func (s *Server) Close() error {
	if s == nil {
		return nil
	}
	if s.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(ctx)
	}
	if s.ln4 != nil {
		_ = s.ln4.Close()
	}
	if s.ln6 != nil {
		_ = s.ln6.Close()
	}
	s.hub.closeAll()
	s.srv = nil
	s.ln4 = nil
	s.ln6 = nil
	return nil
}

func (s *Server) Port() int {
	if s == nil {
		return 0
	}
	return s.port
}

// ViewerCount reports the attached websocket viewers.
func (s *Server) ViewerCount() int {
	if s == nil {
		return 0
	}
	return s.hub.count()
}

func normalizeOrigin(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

// checkOrigin admits origin-less clients (native webviews) and the allow-list.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	_, ok := s.allowedOrigins[normalizeOrigin(origin)]
	return ok
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type healthResp struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s == nil || w == nil || r == nil {
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, healthResp{Status: "ok", Version: s.version})
}

type runtimeResp struct {
	bridge.Status
	Viewers int `json:"viewers"`
}

func (s *Server) handleRuntime(w http.ResponseWriter, r *http.Request) {
	if s == nil || w == nil || r == nil {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st := bridge.Status{State: bridge.StateUnresolved.String()}
	if rt := s.runtime(); rt != nil {
		st = rt.Status()
	}
	writeJSON(w, http.StatusOK, runtimeResp{Status: st, Viewers: s.hub.count()})
}

type auditResp struct {
	Entries []auditlog.Entry `json:"entries"`
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s == nil || w == nil || r == nil {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.checkOrigin(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if s.audit == nil {
		writeJSON(w, http.StatusOK, auditResp{Entries: []auditlog.Entry{}})
		return
	}
	limit, _ := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("limit")))
	entries, err := s.audit.List(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []auditlog.Entry{}
	}
	writeJSON(w, http.StatusOK, auditResp{Entries: entries})
}

func (s *Server) record(e auditlog.Entry, err error) {
	if s.audit == nil {
		return
	}
	if err != nil {
		e.Status = auditlog.StatusFailure
		e.Error = err.Error()
	}
	s.audit.Append(e)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s == nil || w == nil || r == nil {
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("local ui ws upgrade failed", "origin", r.Header.Get("Origin"), "error", err)
		return
	}
	v := s.hub.attach(conn)
	defer s.hub.detach(v)

	conn.SetReadLimit(maxInboundFrame)
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("local ui viewer read ended", "viewer_id", v.id, "error", err)
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		if reply, ok := s.dispatch(r.Context(), data); ok {
			s.hub.send(v, reply)
		}
	}
}
