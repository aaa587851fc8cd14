package hub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/por-chain/por/pkg/logger"
)

func mockLogger() *logger.Logger {
	log, _ := logger.New(logger.Config{
		Level:  "error",
		Output: "stdout",
	})
	return log
}

func setupTestHub() *Hub {
	return NewHub(mockLogger())
}

func setupTestServer(t *testing.T, h *Hub) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)

		client := NewClient(h, conn, mockLogger())
		h.Register(client)

		go client.WritePump()
		go client.ReadPump()
	})

	return httptest.NewServer(handler)
}

func dialTestServer(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

func subscribe(t *testing.T, conn *websocket.Conn, eventType string) {
	t.Helper()
	msg := Message{
		Type: MessageTypeSubscribe,
		Data: map[string]string{"Type": eventType},
	}
	require.NoError(t, conn.WriteJSON(msg))
	time.Sleep(50 * time.Millisecond)
}

func TestNewHub(t *testing.T) {
	h := setupTestHub()
	assert.NotNil(t, h)
	assert.NotNil(t, h.clients)
	assert.NotNil(t, h.broadcast)
	assert.NotNil(t, h.register)
	assert.NotNil(t, h.unregister)
	assert.NotNil(t, h.log)
	assert.NotNil(t, h.ctx)
}

func TestHubStop(t *testing.T) {
	h := setupTestHub()

	go h.Run()
	time.Sleep(50 * time.Millisecond)

	h.Stop()

	select {
	case <-h.ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("hub did not stop in time")
	}
}

func TestClientRegistration(t *testing.T) {
	h := setupTestHub()
	go h.Run()
	defer h.Stop()

	server := setupTestServer(t, h)
	defer server.Close()

	conn := dialTestServer(t, server)
	defer conn.Close()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, h.GetClientCount())
}

func TestClientUnregistration(t *testing.T) {
	h := setupTestHub()
	go h.Run()
	defer h.Stop()

	server := setupTestServer(t, h)
	defer server.Close()

	conn := dialTestServer(t, server)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, h.GetClientCount())

	conn.Close()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, h.GetClientCount())
}

func TestBroadcastToSubscriber(t *testing.T) {
	h := setupTestHub()
	go h.Run()
	defer h.Stop()

	server := setupTestServer(t, h)
	defer server.Close()

	conn := dialTestServer(t, server)
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)
	subscribe(t, conn, "round_finalized")

	h.BroadcastEvent("round_finalized", map[string]string{
		"round":     "abc123",
		"consensus": "101.5",
	})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var received Message
	require.NoError(t, json.Unmarshal(raw, &received))
	assert.Equal(t, "round_finalized", received.Type)
}

func TestSubscriptionFiltering(t *testing.T) {
	h := setupTestHub()
	go h.Run()
	defer h.Stop()

	server := setupTestServer(t, h)
	defer server.Close()

	conn := dialTestServer(t, server)
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)
	subscribe(t, conn, "verifier_slashed")

	// not subscribed to submissions, must not receive this
	h.BroadcastEvent("proof_submitted", map[string]string{"round": "abc"})

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	h.BroadcastEvent("verifier_slashed", map[string]string{"actor": "v1"})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var received Message
	require.NoError(t, json.Unmarshal(raw, &received))
	assert.Equal(t, "verifier_slashed", received.Type)
}

func TestSubscribeAll(t *testing.T) {
	h := setupTestHub()
	go h.Run()
	defer h.Stop()

	server := setupTestServer(t, h)
	defer server.Close()

	conn := dialTestServer(t, server)
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)
	subscribe(t, conn, SubscribeAll)

	h.BroadcastEvent("round_started", map[string]string{"farm": "farm-1"})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var received Message
	require.NoError(t, json.Unmarshal(raw, &received))
	assert.Equal(t, "round_started", received.Type)
}

func TestUnsubscribe(t *testing.T) {
	h := setupTestHub()
	go h.Run()
	defer h.Stop()

	server := setupTestServer(t, h)
	defer server.Close()

	conn := dialTestServer(t, server)
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)
	subscribe(t, conn, "round_started")

	msg := Message{
		Type: MessageTypeUnsubscribe,
		Data: map[string]string{"Type": "round_started"},
	}
	require.NoError(t, conn.WriteJSON(msg))
	time.Sleep(50 * time.Millisecond)

	h.BroadcastEvent("round_started", map[string]string{"farm": "farm-1"})

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
