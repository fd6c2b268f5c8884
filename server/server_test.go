package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhearth/hearth/config"
	"github.com/openhearth/hearth/logger"
)

func TestCheckOrigin(t *testing.T) {
	mkReq := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	s := New(logger.Logger, config.ServerConfig{}, nil, nil, nil, nil)
	assert.True(t, s.checkOrigin(mkReq("")))
	assert.True(t, s.checkOrigin(mkReq("http://localhost:5173")))
	assert.True(t, s.checkOrigin(mkReq("http://127.0.0.1:8700")))
	assert.False(t, s.checkOrigin(mkReq("https://evil.example.com")))

	s = New(logger.Logger, config.ServerConfig{
		AllowedOrigins: []string{"https://app.example.com"},
	}, nil, nil, nil, nil)
	assert.True(t, s.checkOrigin(mkReq("https://app.example.com")))
	assert.True(t, s.checkOrigin(mkReq("https://app.example.com:8443")))
	assert.False(t, s.checkOrigin(mkReq("http://localhost:5173")))
}

func dialTestServer(t *testing.T, h *harness) (*websocket.Conn, func()) {
	t.Helper()

	go h.server.run()
	ts := httptest.NewServer(http.HandlerFunc(h.server.HandleWebSocket))

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	return conn, func() {
		conn.Close()
		_ = h.server.Shutdown(context.Background())
		ts.Close()
	}
}

func TestWebSocketRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.addMessage(t, "garden.water", nil)

	conn, done := dialTestServer(t, h)
	defer done()

	require.NoError(t, conn.WriteJSON(&Request{ID: "c1", Cmd: "admin.constants.get"}))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var resp Response
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "c1", resp.ID)
	assert.True(t, resp.OK)

	// Malformed envelopes answer with BAD_REQUEST instead of dropping
	// the connection.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.ReadJSON(&resp))
	assert.False(t, resp.OK)
	require.NotNil(t, resp.Err)
	assert.Equal(t, CodeBadRequest, resp.Err.Code)

	require.NoError(t, conn.WriteJSON(&Request{ID: "c2", Cmd: "admin.stats.get"}))
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "c2", resp.ID)
	assert.True(t, resp.OK)
}

func TestMaxClientsRejected(t *testing.T) {
	h := newHarness(t)
	h.server.cfg.MaxClients = 1

	_, done := dialTestServer(t, h)
	defer done()

	require.Eventually(t, func() bool { return h.server.ClientCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	// The hub closes the second connection on registration.
	ts := httptest.NewServer(http.HandlerFunc(h.server.HandleWebSocket))
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	second, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer second.Close()

	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = second.ReadMessage()
	require.Error(t, err)
	assert.Equal(t, 1, h.server.ClientCount())
}
