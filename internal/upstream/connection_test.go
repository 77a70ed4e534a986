package upstream

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// wsPair dials a loopback websocket server and returns both ends.
func wsPair(t *testing.T) (client, server *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	serverCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		serverCh <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case server = <-serverCh:
	case <-time.After(2 * time.Second):
		t.Fatal("server side never arrived")
	}
	t.Cleanup(func() { server.Close() })
	return client, server
}

func TestInstallConnAfterStopClosesSocket(t *testing.T) {
	c := NewConnection(RoomIDKey(1), nil, noopHandler)
	c.Stop()

	client, server := wsPair(t)
	require.Error(t, c.installConn(client))

	// The socket was closed rather than leaked: the peer sees EOF.
	_ = server.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := server.ReadMessage()
	require.Error(t, err)
}

func TestInstallConnBeforeStop(t *testing.T) {
	c := NewConnection(RoomIDKey(1), nil, noopHandler)
	client, _ := wsPair(t)

	require.NoError(t, c.installConn(client))
	c.Stop()
}

func TestDroppedSessionFiresOnDrop(t *testing.T) {
	c := NewConnection(RoomIDKey(1), nil, noopHandler)
	client, server := wsPair(t)
	require.NoError(t, c.installConn(client))

	dropped := make(chan struct{})
	c.onDrop = func() { close(dropped) }
	c.Start()

	// The peer going away must surface as a drop, not wait for Stop.
	server.Close()
	select {
	case <-dropped:
	case <-time.After(2 * time.Second):
		t.Fatal("drop callback never fired")
	}
	c.Stop()
}

func TestStopDoesNotFireOnDrop(t *testing.T) {
	c := NewConnection(RoomIDKey(1), nil, noopHandler)
	client, _ := wsPair(t)
	require.NoError(t, c.installConn(client))

	dropped := make(chan struct{})
	c.onDrop = func() { close(dropped) }
	c.Start()
	c.Stop()

	select {
	case <-dropped:
		t.Fatal("deliberate Stop must not report a drop")
	case <-time.After(50 * time.Millisecond):
	}
}
