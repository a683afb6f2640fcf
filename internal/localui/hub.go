package localui

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	defaultViewerSendBuffer = 256
	viewerWriteTimeout      = 10 * time.Second
	maxInboundFrame         = 4 << 20
)

type viewer struct {
	id     string
	conn   *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
}

func (v *viewer) close() {
	v.once.Do(func() { close(v.done) })
}

// hub fans UI envelopes out to every attached viewer.
type hub struct {
	log    *slog.Logger
	buffer int

	mu      sync.RWMutex
	viewers map[string]*viewer
}

func newHub(log *slog.Logger, buffer int) *hub {
	if buffer <= 0 {
		buffer = defaultViewerSendBuffer
	}
	return &hub{log: log, buffer: buffer, viewers: make(map[string]*viewer)}
}

func (h *hub) attach(conn *websocket.Conn) *viewer {
	v := &viewer{
		id:     uuid.NewString(),
		conn:   conn,
		sendCh: make(chan []byte, h.buffer),
		done:   make(chan struct{}),
	}
	go h.writePump(v)

	h.mu.Lock()
	h.viewers[v.id] = v
	total := len(h.viewers)
	h.mu.Unlock()

	h.log.Info("local ui viewer attached", "viewer_id", v.id, "viewers", total)
	return v
}

func (h *hub) detach(v *viewer) {
	if v == nil {
		return
	}
	h.mu.Lock()
	_, ok := h.viewers[v.id]
	delete(h.viewers, v.id)
	total := len(h.viewers)
	h.mu.Unlock()

	v.close()
	if ok {
		h.log.Info("local ui viewer detached", "viewer_id", v.id, "viewers", total)
	}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

func (h *hub) broadcast(data []byte) {
	h.mu.RLock()
	for _, v := range h.viewers {
		h.send(v, data)
	}
	h.mu.RUnlock()
}

// send queues data for one viewer, dropping it when the queue is full.
func (h *hub) send(v *viewer, data []byte) {
	select {
	case v.sendCh <- data:
	case <-v.done:
	default:
		h.log.Warn("local ui viewer send buffer full, dropping message", "viewer_id", v.id)
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	vs := make([]*viewer, 0, len(h.viewers))
	for _, v := range h.viewers {
		vs = append(vs, v)
	}
	h.mu.Unlock()
	for _, v := range vs {
		h.detach(v)
	}
}

func (h *hub) writePump(v *viewer) {
	defer func() {
		// Signal done before closing so the read loop sees the failure.
		v.close()
		_ = v.conn.Close()
	}()
	for {
		select {
		case <-v.done:
			_ = v.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case data := <-v.sendCh:
			_ = v.conn.SetWriteDeadline(time.Now().Add(viewerWriteTimeout))
			if err := v.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.log.Debug("local ui viewer write failed", "viewer_id", v.id, "error", err)
				return
			}
		}
	}
}
