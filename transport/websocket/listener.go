package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wricardo/metaverse-presence/metaverse/session"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

// Listener is an http.Handler that serves presence sessions.
type Listener struct {
	handler    *session.Handler
	upgrader   websocket.Upgrader
	logger     *zap.Logger
	sendBuffer int
	newID      func() string

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[*session.Session]struct{}
}

// Option configures a Listener.
type Option func(*Listener)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Listener) { l.logger = logger }
}

// WithSendBuffer sets the per-connection outbound queue length.
func WithSendBuffer(n int) Option {
	return func(l *Listener) { l.sendBuffer = n }
}

// WithCheckOrigin overrides the origin check. All origins are allowed by default.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(l *Listener) { l.upgrader.CheckOrigin = fn }
}

// WithIDGenerator replaces the uuid connection id generator.
func WithIDGenerator(fn func() string) Option {
	return func(l *Listener) { l.newID = fn }
}

// NewListener creates a listener that binds every socket to a session of handler.
func NewListener(handler *session.Handler, opts ...Option) *Listener {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		handler: handler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger:     zap.NewNop(),
		sendBuffer: session.DefaultSendBuffer,
		newID:      uuid.NewString,
		ctx:        ctx,
		cancel:     cancel,
		sessions:   make(map[*session.Session]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ServeHTTP upgrades the request and starts the pumps.
func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Warn("websocket upgrade failed", zap.Error(err), zap.String("remote_addr", r.RemoteAddr))
		return
	}

	conn := session.NewConnection(l.newID(), l.sendBuffer)
	sess := l.handler.NewSession(l.ctx, conn)
	if !l.track(sess) {
		sess.Close()
		ws.Close()
		return
	}

	logger := l.logger.With(zap.String("connection_id", conn.ID()))
	logger.Debug("connection opened", zap.String("remote_addr", r.RemoteAddr))

	go l.writePump(ws, sess, logger)
	go l.readPump(ws, sess, logger)
}

// Count returns the number of live connections.
func (l *Listener) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}

// Shutdown closes every live session and refuses new ones.
func (l *Listener) Shutdown() {
	l.cancel()

	l.mu.Lock()
	live := make([]*session.Session, 0, len(l.sessions))
	for s := range l.sessions {
		live = append(live, s)
	}
	l.mu.Unlock()

	for _, s := range live {
		s.Close()
	}
}

func (l *Listener) track(s *session.Session) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx.Err() != nil {
		return false
	}
	l.sessions[s] = struct{}{}
	return true
}

func (l *Listener) untrack(s *session.Session) {
	l.mu.Lock()
	delete(l.sessions, s)
	l.mu.Unlock()
}

// readPump feeds inbound frames to the session until the socket fails.
func (l *Listener) readPump(ws *websocket.Conn, sess *session.Session, logger *zap.Logger) {
	defer func() {
		l.untrack(sess)
		sess.Close()
		ws.Close()
		logger.Debug("connection closed")
	}()

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.Info("websocket read error", zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		sess.Handle(data)
	}
}

// writePump writes queued frames, one per message, and pings the peer.
// Every ping also renews the session's presence record.
func (l *Listener) writePump(ws *websocket.Conn, sess *session.Session, logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	out := sess.Connection().Outbound()
	for {
		select {
		case message, ok := <-out:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The session closed the connection
				ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Info("websocket write error", zap.Error(err))
				sess.Close()
				return
			}

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Info("websocket ping failed", zap.Error(err))
				sess.Close()
				return
			}
			go sess.Heartbeat()
		}
	}
}
