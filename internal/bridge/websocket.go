package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cua/internal/agent/ports"
	"cua/internal/logging"
	"cua/internal/utils/id"

	"github.com/gorilla/websocket"
)

const (
	defaultHeartbeat    = 30 * time.Second
	defaultWriteTimeout = 10 * time.Second
	maxMessageBytes     = 32 << 20
)

var errConnClosed = errors.New("connection closed")

// WebSocketConfig tunes the extension endpoint.
type WebSocketConfig struct {
	// HeartbeatInterval is how long a connection may stay silent before a ping is sent.
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
}

func (c WebSocketConfig) withDefaults() WebSocketConfig {
	out := c
	if out.HeartbeatInterval <= 0 {
		out.HeartbeatInterval = defaultHeartbeat
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = defaultWriteTimeout
	}
	return out
}

// WebSocketHandler accepts extension connections and feeds their responses
// into a Channel.
type WebSocketHandler struct {
	channel  *Channel
	cfg      WebSocketConfig
	upgrader websocket.Upgrader
	logger   logging.Logger
}

// NewWebSocketHandler serves the extension endpoint for channel.
func NewWebSocketHandler(channel *Channel, cfg WebSocketConfig, logger logging.Logger) *WebSocketHandler {
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("bridge-ws")
	}
	return &WebSocketHandler{
		channel: channel,
		cfg:     cfg.withDefaults(),
		upgrader: websocket.Upgrader{
			// Extensions connect from chrome-extension:// origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed: %v", err)
		return
	}
	raw.SetReadLimit(maxMessageBytes)

	conn := newWSConn(raw, h.cfg.WriteTimeout)
	h.channel.Register(conn)

	done := make(chan struct{})
	activity := make(chan struct{}, 1)
	go h.heartbeat(conn, activity, done)

	h.readLoop(conn, activity)

	close(done)
	h.channel.Unregister(conn)
	conn.Close()
}

type inboundMessage struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
}

func (h *WebSocketHandler) readLoop(conn *wsConn, activity chan<- struct{}) {
	for {
		_, data, err := conn.raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("WebSocket read error on %s: %v", conn.ID(), err)
			}
			return
		}
		select {
		case activity <- struct{}{}:
		default:
		}
		h.handleMessage(conn, data)
	}
}

func (h *WebSocketHandler) handleMessage(conn *wsConn, data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.logger.Warn("Ignoring malformed message from %s: %v", conn.ID(), err)
		return
	}
	switch strings.ToLower(msg.Type) {
	case "ping":
		_ = conn.Send(context.Background(), map[string]string{"type": "pong"})
		return
	case "pong", "connected":
		return
	}
	if msg.ID == "" {
		h.logger.Debug("Ignoring uncorrelated message from %s: %s", conn.ID(), msg.Type)
		return
	}
	h.channel.Resolve(msg.ID, ports.ActionResponse{
		ID:     msg.ID,
		Status: msg.Status,
		Data:   msg.Data,
		Error:  msg.Error,
	})
}

// heartbeat pings once on connect and again whenever the connection has been
// silent for the configured interval.
func (h *WebSocketHandler) heartbeat(conn *wsConn, activity <-chan struct{}, done <-chan struct{}) {
	ping := map[string]string{"type": "ping"}
	if err := conn.Send(context.Background(), ping); err != nil {
		return
	}

	timer := time.NewTimer(h.cfg.HeartbeatInterval)
	defer timer.Stop()
	for {
		select {
		case <-done:
			return
		case <-activity:
			timer.Reset(h.cfg.HeartbeatInterval)
		case <-timer.C:
			if err := conn.Send(context.Background(), ping); err != nil {
				h.logger.Debug("Heartbeat to %s failed: %v", conn.ID(), err)
				return
			}
			timer.Reset(h.cfg.HeartbeatInterval)
		}
	}
}

// wsConn serialises writes on a gorilla connection, which allows one
// concurrent writer only.
type wsConn struct {
	id           string
	raw          *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex
	closed  atomic.Bool
}

func newWSConn(raw *websocket.Conn, writeTimeout time.Duration) *wsConn {
	return &wsConn{id: "ext-" + id.ShortHex(), raw: raw, writeTimeout: writeTimeout}
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Closed() bool { return c.closed.Load() }

func (c *wsConn) Send(ctx context.Context, msg any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed.Load() {
		return errConnClosed
	}
	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.raw.SetWriteDeadline(deadline)
	return c.raw.WriteJSON(msg)
}

func (c *wsConn) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.raw.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = c.raw.Close()
}
