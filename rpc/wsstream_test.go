package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func newTestWSServer(t *testing.T, handle func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		handle(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestWSStreamSubscribeAccountReceivesAck(t *testing.T) {
	srv := newTestWSServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		var req rpcRequest
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(msg, &req))
		require.Equal(t, "accountSubscribe", req.Method)
		resp, _ := json.Marshal(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`42`)})
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, resp))
		time.Sleep(50 * time.Millisecond)
	})

	conn, err := NewWSDialer(nil).Dial(context.Background(), wsURL(srv.URL))
	require.NoError(t, err)
	defer conn.Close()

	remoteID, err := conn.SubscribeAccount(context.Background(), "Abc123", Confirmed)
	require.NoError(t, err)
	require.Equal(t, uint64(42), remoteID)
}

func TestWSStreamDispatchesAccountNotification(t *testing.T) {
	srv := newTestWSServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		var req rpcRequest
		require.NoError(t, json.Unmarshal(msg, &req))
		ack, _ := json.Marshal(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`7`)})
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, ack))

		notif := map[string]any{
			"jsonrpc": "2.0",
			"method":  "accountNotification",
			"params": map[string]any{
				"subscription": 7,
				"result": map[string]any{
					"value": map[string]any{
						"owner":      "Owner111",
						"lamports":   1000,
						"data":       []any{"aGVsbG8=", "base64"},
						"executable": false,
						"rentEpoch":  10,
					},
				},
			},
		}
		body, _ := json.Marshal(notif)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, body))
		time.Sleep(50 * time.Millisecond)
	})

	conn, err := NewWSDialer(nil).Dial(context.Background(), wsURL(srv.URL))
	require.NoError(t, err)
	defer conn.Close()

	remoteID, err := conn.SubscribeAccount(context.Background(), "Abc123", Confirmed)
	require.NoError(t, err)
	require.Equal(t, uint64(7), remoteID)

	select {
	case n := <-conn.Notifications():
		require.Equal(t, AccountNotification, n.Kind)
		require.Equal(t, uint64(7), n.RemoteSubID)
		require.NotNil(t, n.Account)
		require.Equal(t, "Owner111", n.Account.Owner)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestWSStreamErrorsFiresOnServerClose(t *testing.T) {
	srv := newTestWSServer(t, func(conn *websocket.Conn) {
		conn.Close()
	})

	conn, err := NewWSDialer(nil).Dial(context.Background(), wsURL(srv.URL))
	require.NoError(t, err)
	defer conn.Close()

	select {
	case _, ok := <-conn.Errors():
		require.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection error")
	}
}
