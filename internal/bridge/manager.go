package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/floegence/codex-bridge/internal/endpointcache"
	"github.com/floegence/codex-bridge/internal/launcher"
)

var (
	ErrLaunchTimeout = errors.New("timed out waiting for bridge server health check")
	ErrNoSender      = errors.New("bridge websocket sender is unavailable")
	ErrQueueFull     = errors.New("bridge outbound queue is full")
	ErrClosed        = errors.New("bridge manager closed")
)

const (
	defaultLaunchTimeout = 12 * time.Second
	defaultProbeInterval = 250 * time.Millisecond
	defaultQueueSize     = 1024
	cachedEndpointLimit  = 5
	writeTimeout         = 10 * time.Second
	requestTimeout       = 30 * time.Second
	maxResponseBody      = 16 << 20
)

// ServerLauncher starts bridge server processes.
type ServerLauncher interface {
	Launch(ctx context.Context) (*launcher.Instance, error)
	Kill(pid int) error
}

// EndpointStore persists endpoints that passed a probe.
type EndpointStore interface {
	Remember(ctx context.Context, rec endpointcache.Record) error
	Recent(ctx context.Context, limit int) ([]endpointcache.Record, error)
	Forget(ctx context.Context, baseURL string) error
}

// ConnState is the lifecycle of the backend channel.
type ConnState int

const (
	StateUnresolved ConnState = iota
	StateDiscovering
	StateConnected
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateUnresolved:
		return "unresolved"
	case StateDiscovering:
		return "discovering"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type ManagerOptions struct {
	Logger *slog.Logger

	// BaseURL is an operator-configured endpoint tried before the
	// environment variables.
	BaseURL    string
	HealthPath string
	WSPath     string

	LaunchTimeout time.Duration
	ProbeInterval time.Duration
	QueueSize     int

	Launcher ServerLauncher
	Cache    EndpointStore
	// LegacyPrefsPath points at connection_preferences.json; empty disables it.
	LegacyPrefsPath string

	// OnEndpoint is called whenever discovery settles on an endpoint.
	OnEndpoint func(baseURL string, source endpointcache.Source)

	Translator *Translator
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
}

// Manager discovers the bridge server and owns the single websocket link to
// it. Inbound events are dispatched to the Translator on the reader
// goroutine.
type Manager struct {
	log *slog.Logger

	configuredBaseURL string
	healthPath        string
	wsPath            string
	launchTimeout     time.Duration
	probeInterval     time.Duration
	queueSize         int

	launcher   ServerLauncher
	cache      EndpointStore
	legacyPath string
	onEndpoint func(string, endpointcache.Source)
	translator *Translator
	httpClient *http.Client
	dialer     *websocket.Dialer

	// connectMu serializes link setup; discoverMu serializes endpoint
	// discovery so concurrent callers never launch two servers.
	connectMu  sync.Mutex
	discoverMu sync.Mutex

	mu          sync.Mutex
	baseURL     string
	link        *link
	discovering bool
	closed      bool
}

func NewManager(opts ManagerOptions) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	healthPath := strings.TrimSpace(opts.HealthPath)
	if healthPath == "" {
		healthPath = DefaultHealthPath
	}
	wsPath := strings.TrimSpace(opts.WSPath)
	if wsPath == "" {
		wsPath = DefaultWSPath
	}
	launchTimeout := opts.LaunchTimeout
	if launchTimeout <= 0 {
		launchTimeout = defaultLaunchTimeout
	}
	probeInterval := opts.ProbeInterval
	if probeInterval <= 0 {
		probeInterval = defaultProbeInterval
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	translator := opts.Translator
	if translator == nil {
		translator = NewTranslator(TranslatorOptions{Logger: logger})
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	return &Manager{
		log:               logger,
		configuredBaseURL: strings.TrimSpace(opts.BaseURL),
		healthPath:        healthPath,
		wsPath:            wsPath,
		launchTimeout:     launchTimeout,
		probeInterval:     probeInterval,
		queueSize:         queueSize,
		launcher:          opts.Launcher,
		cache:             opts.Cache,
		onEndpoint:        opts.OnEndpoint,
		legacyPath:        strings.TrimSpace(opts.LegacyPrefsPath),
		translator:        translator,
		httpClient:        client,
		dialer:            dialer,
	}
}

func (m *Manager) Translator() *Translator {
	if m == nil {
		return nil
	}
	return m.translator
}

// State reports the channel lifecycle.
func (m *Manager) State() ConnState {
	if m == nil {
		return StateClosed
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.closed:
		return StateClosed
	case m.link != nil && m.link.alive():
		return StateConnected
	case m.discovering:
		return StateDiscovering
	default:
		return StateUnresolved
	}
}

// BaseURL returns the last resolved endpoint, if any.
func (m *Manager) BaseURL() string {
	if m == nil {
		return ""
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.baseURL
}

type endpointCandidate struct {
	baseURL string
	source  endpointcache.Source
	pid     int
}

// EnsureEndpoint returns a base URL whose liveness probe succeeds, launching
// a bridge server as a last resort.
func (m *Manager) EnsureEndpoint(ctx context.Context) (string, error) {
	if m == nil {
		return "", errors.New("nil manager")
	}
	m.discoverMu.Lock()
	defer m.discoverMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrClosed
	}
	current := m.baseURL
	m.discovering = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.discovering = false
		m.mu.Unlock()
	}()

	if current != "" && Probe(ctx, m.httpClient, current, m.healthPath) {
		return current, nil
	}

	for _, c := range m.candidates(ctx) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if !Probe(ctx, m.httpClient, c.baseURL, m.healthPath) {
			if c.source == endpointcache.SourceCached {
				m.forget(ctx, c.baseURL)
			}
			continue
		}
		m.adopt(ctx, c)
		return c.baseURL, nil
	}

	return m.launch(ctx)
}

func (m *Manager) candidates(ctx context.Context) []endpointCandidate {
	var out []endpointCandidate
	seen := make(map[string]struct{})
	add := func(c endpointCandidate) {
		if c.baseURL == "" {
			return
		}
		if _, ok := seen[c.baseURL]; ok {
			return
		}
		seen[c.baseURL] = struct{}{}
		out = append(out, c)
	}

	if u, ok := NormalizeBaseURL(m.configuredBaseURL); ok {
		add(endpointCandidate{baseURL: u, source: endpointcache.SourceEnv})
	}
	if u, ok := BaseURLFromEnv(); ok {
		add(endpointCandidate{baseURL: u, source: endpointcache.SourceEnv})
	}
	if m.legacyPath != "" {
		if u, ok := endpointcache.LegacyBaseURL(m.legacyPath); ok {
			add(endpointCandidate{baseURL: u, source: endpointcache.SourceLegacy})
		}
	}
	if m.cache != nil {
		recs, err := m.cache.Recent(ctx, cachedEndpointLimit)
		if err != nil {
			m.log.Debug("endpoint cache unavailable", "error", err)
		}
		for _, r := range recs {
			add(endpointCandidate{baseURL: r.BaseURL, source: endpointcache.SourceCached, pid: r.PID})
		}
	}
	return out
}

func (m *Manager) launch(ctx context.Context) (string, error) {
	if m.launcher == nil {
		return "", fmt.Errorf("no reachable bridge server: %w", launcher.ErrExecutableNotFound)
	}
	ins, err := m.launcher.Launch(ctx)
	if err != nil {
		return "", err
	}
	base := strings.TrimRight(ins.BaseURL, "/")
	m.log.Info("launched bridge server", "base_url", base, "pid", ins.PID)

	exited := ins.Exited()
	if ins.PID <= 0 {
		exited = nil
	}
	deadline := time.Now().Add(m.launchTimeout)
	for {
		if Probe(ctx, m.httpClient, base, m.healthPath) {
			m.adopt(ctx, endpointCandidate{baseURL: base, source: endpointcache.SourceLaunched, pid: ins.PID})
			return base, nil
		}
		if !time.Now().Before(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			_ = m.launcher.Kill(ins.PID)
			return "", ctx.Err()
		case <-exited:
			return "", fmt.Errorf("bridge server exited before becoming healthy (pid %d)", ins.PID)
		case <-time.After(m.probeInterval):
		}
	}

	m.log.Warn("bridge server failed health check; killing", "base_url", base, "pid", ins.PID, "timeout", m.launchTimeout)
	if err := m.launcher.Kill(ins.PID); err != nil {
		m.log.Warn("failed to kill bridge server", "pid", ins.PID, "error", err)
	}
	return "", ErrLaunchTimeout
}

func (m *Manager) adopt(ctx context.Context, c endpointCandidate) {
	m.mu.Lock()
	m.baseURL = c.baseURL
	m.mu.Unlock()

	src := c.source
	if src == "" {
		src = endpointcache.SourceCached
	}
	if m.onEndpoint != nil {
		m.onEndpoint(c.baseURL, src)
	}
	if m.cache == nil {
		return
	}
	if err := m.cache.Remember(ctx, endpointcache.Record{BaseURL: c.baseURL, Source: src, PID: c.pid}); err != nil {
		m.log.Debug("failed to remember endpoint", "base_url", c.baseURL, "error", err)
	}
}

func (m *Manager) forget(ctx context.Context, base string) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Forget(ctx, base); err != nil {
		m.log.Debug("failed to forget endpoint", "base_url", base, "error", err)
	}
}

// link is one websocket connection with its writer and reader goroutines.
type link struct {
	conn   *websocket.Conn
	outbox chan []byte
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func (l *link) close() {
	l.once.Do(func() {
		close(l.done)
		_ = l.conn.Close()
	})
}

// enqueue queues b without blocking. A link that is closed before or while
// the frame is queued reports ErrNoSender.
func (l *link) enqueue(b []byte) error {
	if !l.alive() {
		return ErrNoSender
	}
	select {
	case l.outbox <- b:
	default:
		return ErrQueueFull
	}
	if !l.alive() {
		return ErrNoSender
	}
	return nil
}

func (l *link) alive() bool {
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

// EnsureConnected establishes the websocket link if none is live.
func (m *Manager) EnsureConnected(ctx context.Context) error {
	if m == nil {
		return errors.New("nil manager")
	}
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	stale := m.link
	if stale != nil && stale.alive() {
		m.mu.Unlock()
		return nil
	}
	m.link = nil
	m.mu.Unlock()

	if stale != nil {
		stale.close()
		stale.wg.Wait()
	}

	base, err := m.EnsureEndpoint(ctx)
	if err != nil {
		return err
	}
	wsURL := WSURLFromBase(base, m.wsPath)
	conn, resp, err := m.dialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("connect bridge websocket %s: %w", wsURL, err)
	}

	l := &link{
		conn:   conn,
		outbox: make(chan []byte, m.queueSize),
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	m.link = l
	m.mu.Unlock()

	l.wg.Add(2)
	go m.writeLoop(l)
	go m.readLoop(l)

	m.log.Info("bridge websocket connected", "url", wsURL)
	return nil
}

func (m *Manager) writeLoop(l *link) {
	defer l.wg.Done()
	for {
		select {
		case <-l.done:
			return
		case b := <-l.outbox:
			_ = l.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := l.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				m.log.Warn("bridge websocket write failed", "error", err)
				l.close()
				return
			}
		}
	}
}

func (m *Manager) readLoop(l *link) {
	defer l.wg.Done()
	defer func() {
		l.close()
		m.translator.Abandon()
	}()

	for {
		mt, data, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, io.EOF) {
				m.log.Info("bridge websocket closed")
			} else if l.alive() {
				m.log.Warn("bridge websocket read failed", "error", err)
			}
			return
		}
		switch mt {
		case websocket.TextMessage:
		case websocket.BinaryMessage:
			if !utf8.Valid(data) {
				continue
			}
		default:
			continue
		}

		env, err := DecodeEnvelope(data)
		if err != nil {
			m.log.Debug("skipping undecodable bridge frame", "error", err)
			continue
		}
		if err := m.translator.Handle(env); err != nil {
			m.log.Warn("bridge event handling failed", "event", env.Name, "error", err)
		}
	}
}

// SendCommand wraps data in a command envelope and queues it on the live
// link. It never blocks on the socket.
func (m *Manager) SendCommand(ctx context.Context, name string, data any) (string, error) {
	if m == nil {
		return "", errors.New("nil manager")
	}
	if err := m.EnsureConnected(ctx); err != nil {
		return "", err
	}

	m.mu.Lock()
	l := m.link
	m.mu.Unlock()
	if l == nil || !l.alive() {
		return "", ErrNoSender
	}

	id := uuid.NewString()
	b, err := json.Marshal(CommandEnvelope{
		ProtocolVersion: ProtocolVersion,
		Type:            envelopeTypeCommand,
		Name:            name,
		ID:              id,
		Data:            data,
	})
	if err != nil {
		return "", fmt.Errorf("serialize bridge command: %w", err)
	}

	if err := l.enqueue(b); err != nil {
		return "", err
	}
	m.log.Debug("bridge command queued", "command", name, "command_id", id)
	return id, nil
}

// SessionSettings are per-session overrides stored by the bridge server.
type SessionSettings struct {
	ApprovalPolicy string `json:"approvalPolicy,omitempty"`
	SandboxMode    string `json:"sandboxMode,omitempty"`
}

type sessionSettingsWire struct {
	ApprovalPolicy      string `json:"approvalPolicy"`
	ApprovalPolicySnake string `json:"approval_policy"`
	Sandbox             string `json:"sandbox"`
	SandboxMode         string `json:"sandboxMode"`
	SandboxModeSnake    string `json:"sandbox_mode"`
}

// SessionSettings fetches api/v1/sessions/{id}/settings. Any failure yields
// empty settings.
func (m *Manager) SessionSettings(ctx context.Context, sessionID string) SessionSettings {
	if m == nil {
		return SessionSettings{}
	}
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return SessionSettings{}
	}
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	var w sessionSettingsWire
	if err := m.GetJSON(ctx, "api/v1/sessions/"+url.PathEscape(id)+"/settings", &w); err != nil {
		m.log.Debug("session settings unavailable", "thread_id", id, "error", err)
		return SessionSettings{}
	}
	return SessionSettings{
		ApprovalPolicy: firstNonBlank(w.ApprovalPolicy, w.ApprovalPolicySnake),
		SandboxMode:    firstNonBlank(w.Sandbox, w.SandboxMode, w.SandboxModeSnake),
	}
}

// GetJSON resolves the endpoint and decodes GET <base>/<path> into out.
func (m *Manager) GetJSON(ctx context.Context, path string, out any) error {
	return m.doJSON(ctx, http.MethodGet, path, nil, out)
}

// PostJSON resolves the endpoint, posts body as JSON and decodes the reply
// into out.
func (m *Manager) PostJSON(ctx context.Context, path string, body any, out any) error {
	return m.doJSON(ctx, http.MethodPost, path, body, out)
}

func (m *Manager) doJSON(ctx context.Context, method string, path string, body any, out any) error {
	if m == nil {
		return errors.New("nil manager")
	}
	base, err := m.EnsureEndpoint(ctx)
	if err != nil {
		return err
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode bridge %s body: %w", method, err)
		}
		rd = bytes.NewReader(b)
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, EndpointURL(base, path), rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("bridge %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		if msg := strings.TrimSpace(string(text)); msg != "" {
			return fmt.Errorf("bridge %s %s: status %d: %s", method, path, resp.StatusCode, msg)
		}
		return fmt.Errorf("bridge %s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(out); err != nil {
		return fmt.Errorf("decode bridge %s %s: %w", method, path, err)
	}
	return nil
}

// Close tears down the link. The manager cannot be reused.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	l := m.link
	m.link = nil
	m.mu.Unlock()

	if l != nil {
		l.close()
		l.wg.Wait()
	}
	return nil
}

func firstNonBlank(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
