package bridge

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cua/internal/logging"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWSServer(t *testing.T, cfg WebSocketConfig) (*Channel, *websocket.Conn) {
	t.Helper()
	ch := newTestChannel(FirstRegistered)
	srv := httptest.NewServer(NewWebSocketHandler(ch, cfg, logging.Nop()))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	var hello map[string]string
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "ping", hello["type"])

	require.Eventually(t, ch.HasConnection, time.Second, 5*time.Millisecond)
	return ch, conn
}

func TestWebSocketRoundTrip(t *testing.T) {
	ch, conn := startWSServer(t, WebSocketConfig{HeartbeatInterval: time.Minute})

	go func() {
		_ = conn.WriteJSON(map[string]string{"type": "connected"})
		for {
			var req Request
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			if req.ID == "" {
				continue
			}
			_ = conn.WriteJSON(map[string]any{
				"id":     req.ID,
				"status": "success",
				"data":   map[string]string{"url": "https://a.test", "title": "A"},
			})
		}
	}()

	resp, err := ch.Call(context.Background(), "t_info_abcd1234", "getPageInfo", nil, 2*time.Second)
	require.NoError(t, err)
	require.True(t, resp.OK())

	var info struct {
		URL   string `json:"url"`
		Title string `json:"title"`
	}
	require.NoError(t, resp.DecodeData(&info))
	assert.Equal(t, "https://a.test", info.URL)
	assert.Equal(t, "A", info.Title)
}

func TestWebSocketHeartbeatWhenIdle(t *testing.T) {
	_, conn := startWSServer(t, WebSocketConfig{HeartbeatInterval: 30 * time.Millisecond})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]string
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "ping", msg["type"])
}

func TestWebSocketDisconnectUnregisters(t *testing.T) {
	ch, conn := startWSServer(t, WebSocketConfig{HeartbeatInterval: time.Minute})

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return !ch.HasConnection() }, 2*time.Second, 5*time.Millisecond)
}
