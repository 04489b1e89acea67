package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ordersaga/internal/event"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, *httptest.Server, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil)
	go hub.Run(ctx)

	srv := httptest.NewServer(NewRouter(hub))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, srv, cancel
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.ClientCount() == want },
		2*time.Second, 5*time.Millisecond, "expected %d clients", want)
}

func readFrame(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return data
}

func TestHub_Broadcast(t *testing.T) {
	hub, srv, _ := startHub(t)
	first := dial(t, srv)
	second := dial(t, srv)
	waitForClients(t, hub, 2)

	msg := []byte("hello world")
	require.NoError(t, hub.Broadcast(context.Background(), msg))

	for _, conn := range []*websocket.Conn{first, second} {
		assert.Equal(t, string(msg), string(readFrame(t, conn)))
	}
}

func TestHub_UnregistersClosedClients(t *testing.T) {
	hub, srv, _ := startHub(t)
	conn := dial(t, srv)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
}

func TestHub_StopsOnCancel(t *testing.T) {
	hub, srv, cancel := startHub(t)
	dial(t, srv)
	waitForClients(t, hub, 1)

	cancel()
	waitForClients(t, hub, 0)

	assert.ErrorIs(t, hub.Broadcast(context.Background(), []byte("late")), ErrHubStopped)
}

func TestRouter_Health(t *testing.T) {
	hub, srv, _ := startHub(t)
	dial(t, srv)
	waitForClients(t, hub, 1)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.Clients)
}

func TestFanout_ToWebSocket(t *testing.T) {
	hub, srv, _ := startHub(t)
	conn := dial(t, srv)
	waitForClients(t, hub, 1)

	env, err := event.New(event.TopicPayment, event.ExecutePayment{Data: event.PaymentCommand{TransactionID: "T1", OrderID: "O1", Amount: 5}})
	require.NoError(t, err)
	out, err := NewFanout(hub, nil).Handle(context.Background(), env)
	require.NoError(t, err)
	assert.Empty(t, out, "fanout must not emit")

	var frame Message
	require.NoError(t, json.Unmarshal(readFrame(t, conn), &frame))
	assert.Equal(t, event.TypeExecutePayment, frame.Type)
	assert.Equal(t, "Payment Service", frame.Service)
}
