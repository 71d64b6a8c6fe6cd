// Package websocket accepts presence connections over WebSocket.
//
// The Listener upgrades each request, gives the socket a fresh connection
// id, and binds it to a protocol session from the session package. Two
// goroutines serve each socket:
//
//   - readPump reads text frames and hands them to the session one at a
//     time, so a connection's messages are processed in arrival order.
//   - writePump drains the connection's outbound queue, writing one frame
//     per message, and keeps the peer alive with pings.
//
// Message Protocol:
//
// Frames are JSON objects {type, payload}; see the protocol package.
//
// Connection Lifecycle:
//
//  1. Client connects to /ws
//  2. Client sends join {spaceId, token}
//  3. Server answers space-joined or closes the socket
//  4. Client sends move {x, y}; peers receive movement
//  5. Socket closes; peers receive user-left
//
// Whichever side notices the socket is gone first (reader, writer or
// Shutdown), the session's disconnect handling runs exactly once. Transport
// errors are logged and never reach other connections.
//
// Usage:
//
//	listener := websocket.NewListener(handler, websocket.WithLogger(logger))
//	http.Handle("/ws", listener)
package websocket
