package ws

import (
	"context"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// newTestPair starts an httptest server running peer on the upgraded
// connection and returns the client side as a byte stream
func newTestPair(t *testing.T, peer func(conn *websocket.Conn)) *wsConn {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		peer(conn)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := (&clientConnector{}).Connect(ctx, strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn.(*wsConn)
}

func TestReadSpansFrames(t *testing.T) {
	conn := newTestPair(t, func(peer *websocket.Conn) {
		// one message split over two frames, then two messages in one frame
		_ = peer.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0",`))
		_ = peer.WriteMessage(websocket.TextMessage, []byte(`"id":1,"result":true}`))
		_ = peer.WriteMessage(websocket.TextMessage, []byte(`[1][2]`))
		_ = peer.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	})

	got, err := io.ReadAll(conn)
	require.NoError(t, err, "a normal close ends the stream with io.EOF")
	assert.Equal(t, `{"jsonrpc":"2.0","id":1,"result":true}[1][2]`, string(got))
}

func TestWriteSendsTextFrames(t *testing.T) {
	received := make(chan string, 1)
	conn := newTestPair(t, func(peer *websocket.Conn) {
		typ, msg, err := peer.ReadMessage()
		if err == nil && typ == websocket.TextMessage {
			received <- string(msg)
		}
	})

	n, err := conn.Write([]byte(`{"jsonrpc":"2.0","id":1,"method":"rpc_ping"}`))
	require.NoError(t, err)
	assert.Equal(t, 44, n)

	select {
	case msg := <-received:
		assert.Equal(t, `{"jsonrpc":"2.0","id":1,"method":"rpc_ping"}`, msg)
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for the frame")
	}
}

func TestEndpointURL(t *testing.T) {
	assert.Equal(t, "ws://127.0.0.1:8545/", endpointURL("127.0.0.1:8545"))
	assert.Equal(t, "ws://host/rpc", endpointURL("ws://host/rpc"))
	assert.Equal(t, "wss://host/rpc", endpointURL("wss://host/rpc"))
}
