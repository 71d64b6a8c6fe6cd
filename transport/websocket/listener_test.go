package websocket

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wricardo/metaverse-presence/auth"
	"github.com/wricardo/metaverse-presence/metaverse/protocol"
	"github.com/wricardo/metaverse-presence/metaverse/room"
	"github.com/wricardo/metaverse-presence/metaverse/session"
	"github.com/wricardo/metaverse-presence/metaverse/space"
)

const testSecret = "listener-secret"

type staticSpaces map[string]space.Space

func (s staticSpaces) LookupSpace(ctx context.Context, id string) (space.Space, error) {
	if sp, ok := s[id]; ok {
		return sp, nil
	}
	return space.Space{}, space.ErrSpaceNotFound
}

func newTestServer(t *testing.T) (*httptest.Server, *Listener, *room.Directory) {
	t.Helper()

	verifier, err := auth.NewVerifier(testSecret, 0)
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}
	directory := room.NewDirectory()
	handler, err := session.NewHandler(session.Config{
		Directory: directory,
		Verifier:  verifier,
		Spaces:    staticSpaces{"lobby": {ID: "lobby", Width: 10, Height: 10}},
	})
	if err != nil {
		t.Fatalf("NewHandler failed: %v", err)
	}

	listener := NewListener(handler, WithSendBuffer(16))
	server := httptest.NewServer(listener)
	t.Cleanup(func() {
		listener.Shutdown()
		server.Close()
	})
	return server, listener, directory
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok, _, err := auth.Issue(testSecret, userID, time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	return tok
}

func send(t *testing.T, conn *websocket.Conn, msg protocol.Message) {
	t.Helper()
	data, err := protocol.Encode(msg)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
}

func read(t *testing.T, conn *websocket.Conn) protocol.ServerMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	msg, err := protocol.DecodeServer(data)
	if err != nil {
		t.Fatalf("DecodeServer(%s) failed: %v", data, err)
	}
	return msg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestListenerJoinMoveLeave(t *testing.T) {
	server, listener, directory := newTestServer(t)

	alice := dial(t, server)
	send(t, alice, protocol.Join{SpaceID: "lobby", Token: token(t, "alice")})
	joined, ok := read(t, alice).(protocol.SpaceJoined)
	if !ok {
		t.Fatal("Expected space-joined for alice")
	}
	if joined.UserID != "alice" || len(joined.Users) != 0 {
		t.Errorf("Unexpected space-joined: %+v", joined)
	}

	bob := dial(t, server)
	send(t, bob, protocol.Join{SpaceID: "lobby", Token: token(t, "bob")})
	bobJoined, ok := read(t, bob).(protocol.SpaceJoined)
	if !ok {
		t.Fatal("Expected space-joined for bob")
	}
	if len(bobJoined.Users) != 1 || bobJoined.Users[0].UserID != "alice" {
		t.Fatalf("Expected alice in bob's peer list, got %+v", bobJoined.Users)
	}
	if _, err := uuid.Parse(bobJoined.Users[0].ID); err != nil {
		t.Errorf("Expected uuid connection id, got %q", bobJoined.Users[0].ID)
	}

	announced, ok := read(t, alice).(protocol.UserJoined)
	if !ok || announced.UserID != "bob" || announced.X != bobJoined.Spawn.X || announced.Y != bobJoined.Spawn.Y {
		t.Fatalf("Unexpected user-joined: %+v", announced)
	}

	target := joined.Spawn
	target.X++
	send(t, alice, protocol.Move{X: target.X, Y: target.Y})
	moved, ok := read(t, bob).(protocol.Movement)
	if !ok || moved.UserID != "alice" || moved.X != target.X || moved.Y != target.Y {
		t.Fatalf("Unexpected movement: %+v", moved)
	}

	send(t, alice, protocol.Move{X: target.X + 5, Y: target.Y})
	rejected, ok := read(t, alice).(protocol.MovementRejected)
	if !ok || rejected.X != target.X || rejected.Y != target.Y {
		t.Fatalf("Unexpected movement-rejected: %+v", rejected)
	}

	if listener.Count() != 2 {
		t.Errorf("Expected 2 live connections, got %d", listener.Count())
	}

	alice.Close()
	left, ok := read(t, bob).(protocol.UserLeft)
	if !ok || left.UserID != "alice" || left.ConnectionID != bobJoined.Users[0].ID {
		t.Fatalf("Unexpected user-left: %+v", left)
	}

	waitFor(t, "alice to be unregistered", func() bool {
		return listener.Count() == 1 && len(directory.Members("lobby")) == 1
	})
}

func TestListenerClosesOnBadToken(t *testing.T) {
	server, listener, directory := newTestServer(t)

	conn := dial(t, server)
	send(t, conn, protocol.Join{SpaceID: "lobby", Token: "forged"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("Expected the server to close the socket, got frame %s", data)
	}
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("Expected close frame, got %v", err)
	}

	waitFor(t, "connection teardown", func() bool { return listener.Count() == 0 })
	if len(directory.Rooms()) != 0 {
		t.Error("Failed join must not register a room")
	}
}

func TestListenerClosesOnUnknownSpace(t *testing.T) {
	server, _, _ := newTestServer(t)

	conn := dial(t, server)
	send(t, conn, protocol.Join{SpaceID: "attic", Token: token(t, "alice")})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("Expected the server to close the socket")
	}
}

func TestListenerRejectsDuplicateUser(t *testing.T) {
	server, _, directory := newTestServer(t)

	first := dial(t, server)
	send(t, first, protocol.Join{SpaceID: "lobby", Token: token(t, "alice")})
	if _, ok := read(t, first).(protocol.SpaceJoined); !ok {
		t.Fatal("Expected space-joined for the first connection")
	}

	second := dial(t, server)
	send(t, second, protocol.Join{SpaceID: "lobby", Token: token(t, "alice")})
	rejected, ok := read(t, second).(protocol.JoinRejected)
	if !ok || rejected.Reason != protocol.ReasonDuplicateUser {
		t.Fatalf("Expected join-rejected duplicate-user, got %#v", rejected)
	}

	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := second.ReadMessage(); err == nil {
		t.Fatal("Expected the server to close the duplicate socket")
	}
	if got := len(directory.Members("lobby")); got != 1 {
		t.Errorf("Expected 1 member in lobby, got %d", got)
	}
}

func TestListenerDisconnectBeforeJoin(t *testing.T) {
	server, listener, directory := newTestServer(t)

	watcher := dial(t, server)
	send(t, watcher, protocol.Join{SpaceID: "lobby", Token: token(t, "watcher")})
	read(t, watcher)

	conn := dial(t, server)
	waitFor(t, "second connection", func() bool { return listener.Count() == 2 })
	conn.Close()
	waitFor(t, "teardown", func() bool { return listener.Count() == 1 })

	watcher.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, data, err := watcher.ReadMessage(); err == nil {
		t.Errorf("Expected no broadcast for an unjoined disconnect, got %s", data)
	}
	if len(directory.Members("lobby")) != 1 {
		t.Error("Expected only the watcher in the room")
	}
}

func TestListenerIgnoresGarbage(t *testing.T) {
	server, _, _ := newTestServer(t)

	conn := dial(t, server)
	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	send(t, conn, protocol.Join{SpaceID: "lobby", Token: token(t, "alice")})

	if _, ok := read(t, conn).(protocol.SpaceJoined); !ok {
		t.Fatal("Expected the connection to survive a malformed frame")
	}
}

func TestListenerShutdown(t *testing.T) {
	server, listener, directory := newTestServer(t)

	conn := dial(t, server)
	send(t, conn, protocol.Join{SpaceID: "lobby", Token: token(t, "alice")})
	read(t, conn)

	listener.Shutdown()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("Expected socket to close on shutdown")
	}
	waitFor(t, "shutdown teardown", func() bool {
		return listener.Count() == 0 && len(directory.Rooms()) == 0
	})

	late, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err == nil {
		defer late.Close()
		late.SetReadDeadline(time.Now().Add(2 * time.Second))
		if _, _, err := late.ReadMessage(); err == nil {
			t.Error("Expected connections after shutdown to be closed")
		}
	}
}

func TestNewListenerOptions(t *testing.T) {
	verifier, err := auth.NewVerifier(testSecret, 0)
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}
	handler, err := session.NewHandler(session.Config{
		Directory: room.NewDirectory(),
		Verifier:  verifier,
		Spaces:    staticSpaces{},
	})
	if err != nil {
		t.Fatalf("NewHandler failed: %v", err)
	}

	l := NewListener(handler, WithSendBuffer(3), WithIDGenerator(func() string { return "fixed" }))
	if l.sendBuffer != 3 {
		t.Errorf("Expected send buffer 3, got %d", l.sendBuffer)
	}
	if l.newID() != "fixed" {
		t.Error("Expected custom id generator")
	}
	if l.Count() != 0 {
		t.Error("Expected no live connections")
	}
}
