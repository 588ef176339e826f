package broadcast

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/paddockwire/timingcore/internal/session"
)

// dialTestWS creates a test HTTP server that upgrades to WebSocket and
// returns the server-side connection. The caller must close both the
// server and the returned connection.
func dialTestWS(t *testing.T) (*httptest.Server, *websocket.Conn) {
	t.Helper()

	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		connCh <- c
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	_ = clientConn.Close()

	select {
	case serverConn := <-connCh:
		return srv, serverConn
	case <-time.After(2 * time.Second):
		srv.Close()
		t.Fatal("timed out waiting for server-side WebSocket connection")
		return nil, nil
	}
}

func emptySnapshot() *session.State { return session.NewState(1, "practice") }

func TestHub_AddClient_MaxConnections(t *testing.T) {
	const maxConns = 2
	h := NewHub(maxConns, zerolog.Nop())

	var clients []*client
	var servers []*httptest.Server
	for i := 0; i < maxConns; i++ {
		srv, conn := dialTestWS(t)
		servers = append(servers, srv)

		c, err := h.AddClient(1, conn, emptySnapshot)
		if err != nil {
			t.Fatalf("AddClient[%d]: unexpected error: %v", i, err)
		}
		clients = append(clients, c)
	}

	if got := h.ClientCount(); got != maxConns {
		t.Fatalf("expected %d clients, got %d", maxConns, got)
	}

	srv, conn := dialTestWS(t)
	servers = append(servers, srv)

	_, err := h.AddClient(1, conn, emptySnapshot)
	if !errors.Is(err, ErrTooManyConnections) {
		t.Fatalf("expected ErrTooManyConnections, got %v", err)
	}
	if got := h.ClientCount(); got != maxConns {
		t.Fatalf("expected %d clients after rejection, got %d", maxConns, got)
	}

	h.RemoveClient(1, clients[0])

	srv2, conn2 := dialTestWS(t)
	servers = append(servers, srv2)

	_, err = h.AddClient(1, conn2, emptySnapshot)
	if err != nil {
		t.Fatalf("AddClient after removal: unexpected error: %v", err)
	}
	if got := h.ClientCount(); got != maxConns {
		t.Fatalf("expected %d clients after re-add, got %d", maxConns, got)
	}

	for _, srv := range servers {
		srv.Close()
	}
}

func TestHub_AddClient_ZeroMaxConnectionsUnlimited(t *testing.T) {
	h := NewHub(0, zerolog.Nop())

	var servers []*httptest.Server
	for i := 0; i < 10; i++ {
		srv, conn := dialTestWS(t)
		servers = append(servers, srv)

		_, err := h.AddClient(1, conn, emptySnapshot)
		if err != nil {
			t.Fatalf("AddClient[%d]: unexpected error with maxConns=0: %v", i, err)
		}
	}

	if got := h.ClientCount(); got != 10 {
		t.Fatalf("expected 10 clients, got %d", got)
	}
	for _, srv := range servers {
		srv.Close()
	}
}

func TestHub_ClientsPartitionByEvent(t *testing.T) {
	h := NewHub(0, zerolog.Nop())

	srv1, conn1 := dialTestWS(t)
	defer srv1.Close()
	srv2, conn2 := dialTestWS(t)
	defer srv2.Close()

	if _, err := h.AddClient(1, conn1, emptySnapshot); err != nil {
		t.Fatalf("AddClient event 1: %v", err)
	}
	if _, err := h.AddClient(2, conn2, emptySnapshot); err != nil {
		t.Fatalf("AddClient event 2: %v", err)
	}

	room1 := h.Room(1, emptySnapshot)
	room2 := h.Room(2, emptySnapshot)
	if room1.ClientCount() != 1 {
		t.Errorf("room 1 expected 1 client, got %d", room1.ClientCount())
	}
	if room2.ClientCount() != 1 {
		t.Errorf("room 2 expected 1 client, got %d", room2.ClientCount())
	}
	if h.ClientCount() != 2 {
		t.Errorf("hub expected 2 total clients, got %d", h.ClientCount())
	}
}

// TestRoom_WritePumpRemovesClientOnWriteError verifies that when writePump
// encounters a write error, the dead client's send channel is drained and
// RemoveClient cleans it out of the room.
func TestRoom_WritePumpRemovesClientOnWriteError(t *testing.T) {
	srv, serverConn := dialTestWS(t)
	defer srv.Close()

	h := NewHub(0, zerolog.Nop())
	c, err := h.AddClient(1, serverConn, emptySnapshot)
	if err != nil {
		t.Fatalf("AddClient: %v", err)
	}
	if got := h.ClientCount(); got != 1 {
		t.Fatalf("expected 1 client before test, got %d", got)
	}

	serverConn.Close()
	c.send <- []byte(`{"type":"test"}`)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		room := h.Room(1, emptySnapshot)
		if room.ClientCount() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("client not removed after write error")
}

func TestRoom_DispatchDropsEmptyPatches(t *testing.T) {
	h := NewHub(0, zerolog.Nop())
	srv, conn := dialTestWS(t)
	defer srv.Close()

	c, err := h.AddClient(1, conn, emptySnapshot)
	if err != nil {
		t.Fatalf("AddClient: %v", err)
	}
	// Drain the initial snapshot message.
	<-c.send

	room := h.Room(1, emptySnapshot)
	room.Dispatch(session.SessionStatePatch{}, nil)

	select {
	case <-c.send:
		t.Fatal("Dispatch with no changes should not enqueue a message")
	case <-time.After(50 * time.Millisecond):
	}
}
