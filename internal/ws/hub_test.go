package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub, cancel
}

func dial(t *testing.T, hub *Hub, userID uuid.UUID) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(conn, hub, userID)
		hub.Register(client)
		client.Run(r.Context())
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return hub.Online(userID) == 1 }, time.Second, 5*time.Millisecond)
	return conn
}

func TestHub_BroadcastToUser(t *testing.T) {
	hub, _ := startHub(t)
	userID := uuid.New()
	conn := dial(t, hub, userID)

	err := hub.BroadcastToUser(context.Background(), userID, "payment.captured", map[string]string{"payment_id": "pay-1"})
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type string            `json:"type"`
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "payment.captured", msg.Type)
	assert.Equal(t, "pay-1", msg.Data["payment_id"])
}

func TestHub_OfflineUserIsNoop(t *testing.T) {
	hub, _ := startHub(t)

	err := hub.BroadcastToUser(context.Background(), uuid.New(), "payment.captured", nil)

	assert.NoError(t, err)
}

func TestHub_StoppedHubRejectsBroadcast(t *testing.T) {
	hub, cancel := startHub(t)
	userID := uuid.New()
	conn := dial(t, hub, userID)

	cancel()

	// Остановка хаба закрывает соединения клиентов.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	require.Eventually(t, func() bool {
		return hub.BroadcastToUser(context.Background(), userID, "x", nil) == ErrHubStopped
	}, time.Second, 5*time.Millisecond)
}
