package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wricardo/metaverse-presence/metaverse/grid"
	"github.com/wricardo/metaverse-presence/metaverse/protocol"
	"github.com/wricardo/metaverse-presence/metaverse/space"
)

// ErrJoinRefused is returned when the server closes the socket instead of
// answering a join.
var ErrJoinRefused = errors.New("join refused")

const joinWait = 10 * time.Second

// Stats counts what one bot did.
type Stats struct {
	Sent       int
	Rejected   int
	PeerEvents int
}

// Bot is one simulated user walking around a space.
type Bot struct {
	Name string

	conn   *websocket.Conn
	logger *zap.Logger
	rand   *rand.Rand

	mu     sync.Mutex
	userID string
	pos    grid.Position
	bounds grid.Bounds
	peers  map[string]grid.Position
	stats  Stats
}

// wsURL turns an http(s) server URL into its /ws endpoint.
func wsURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

// Dial opens a protocol connection for a new bot.
func Dial(ctx context.Context, serverURL, name string, seed uint64, logger *zap.Logger) (*Bot, error) {
	endpoint, err := wsURL(serverURL)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	return &Bot{
		Name:   name,
		conn:   conn,
		logger: logger.With(zap.String("bot", name)),
		rand:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		peers:  make(map[string]grid.Position),
	}, nil
}

func (b *Bot) send(msg protocol.ClientMessage) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	b.conn.SetWriteDeadline(time.Now().Add(joinWait))
	return b.conn.WriteMessage(websocket.TextMessage, data)
}

// Join sends a join frame and waits for space-joined.
func (b *Bot) Join(spaceID, token string, bounds grid.Bounds) error {
	if err := b.send(protocol.Join{SpaceID: spaceID, Token: token}); err != nil {
		return fmt.Errorf("send join: %w", err)
	}

	b.conn.SetReadDeadline(time.Now().Add(joinWait))
	defer b.conn.SetReadDeadline(time.Time{})

	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrJoinRefused, err)
		}
		msg, err := protocol.DecodeServer(data)
		if err != nil {
			b.logger.Debug("ignoring frame", zap.Error(err))
			continue
		}

		switch m := msg.(type) {
		case protocol.SpaceJoined:
			b.mu.Lock()
			b.userID = m.UserID
			b.pos = m.Spawn
			b.bounds = bounds
			for _, p := range m.Users {
				b.peers[p.UserID] = grid.Position{X: p.X, Y: p.Y}
			}
			b.mu.Unlock()
			b.logger.Info("joined",
				zap.String("space", spaceID),
				zap.Stringer("spawn", m.Spawn),
				zap.Int("peers", len(m.Users)),
			)
			return nil
		case protocol.JoinRejected:
			return fmt.Errorf("%w: %s", ErrJoinRefused, m.Reason)
		default:
			b.apply(msg)
		}
	}
}

// apply folds a server frame into local state.
func (b *Bot) apply(msg protocol.ServerMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch m := msg.(type) {
	case protocol.MovementRejected:
		b.stats.Rejected++
		b.pos = grid.Position{X: m.X, Y: m.Y}
	case protocol.UserJoined:
		b.stats.PeerEvents++
		b.peers[m.UserID] = grid.Position{X: m.X, Y: m.Y}
	case protocol.Movement:
		b.stats.PeerEvents++
		b.peers[m.UserID] = grid.Position{X: m.X, Y: m.Y}
	case protocol.UserLeft:
		b.stats.PeerEvents++
		delete(b.peers, m.UserID)
	}
}

func (b *Bot) readLoop(done chan<- struct{}) {
	defer close(done)
	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.DecodeServer(data)
		if err != nil {
			continue
		}
		b.apply(msg)
	}
}

// nextStep picks a random neighbour of the current position. Without known
// bounds it only keeps coordinates non-negative and relies on rejections.
func (b *Bot) nextStep() grid.Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	var options []grid.Position
	if b.bounds.Valid() {
		options = grid.Neighbors(b.pos, b.bounds)
	} else {
		for _, d := range grid.Directions {
			if p := grid.Step(b.pos, d); p.X >= 0 && p.Y >= 0 {
				options = append(options, p)
			}
		}
	}
	if len(options) == 0 {
		return b.pos
	}
	next := options[b.rand.IntN(len(options))]
	b.pos = next
	return next
}

// Walk sends moves one step at a time until moves is reached or ctx ends,
// then closes the connection.
func (b *Bot) Walk(ctx context.Context, moves int, interval time.Duration) (Stats, error) {
	done := make(chan struct{})
	go b.readLoop(done)

	var err error
	for i := 0; moves <= 0 || i < moves; i++ {
		next := b.nextStep()
		if err = b.send(protocol.Move{X: next.X, Y: next.Y}); err != nil {
			err = fmt.Errorf("send move: %w", err)
			break
		}
		b.mu.Lock()
		b.stats.Sent++
		b.mu.Unlock()

		if interval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(interval):
			}
		}
		if ctx.Err() != nil {
			break
		}
	}

	b.Close(done)
	return b.Stats(), err
}

// Close sends a normal close frame and waits for the reader to finish.
func (b *Bot) Close(readerDone <-chan struct{}) {
	b.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	select {
	case <-readerDone:
	case <-time.After(2 * time.Second):
	}
	b.conn.Close()
}

// Stats returns a snapshot of the counters.
func (b *Bot) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Position returns the bot's believed position.
func (b *Bot) Position() grid.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pos
}

// Peers returns the last known position of every other user.
func (b *Bot) Peers() map[string]grid.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]grid.Position, len(b.peers))
	for k, v := range b.peers {
		out[k] = v
	}
	return out
}

// fetchBounds asks the REST API for the dimensions of spaceID.
func fetchBounds(ctx context.Context, client *http.Client, serverURL, spaceID string) (grid.Bounds, error) {
	endpoint := strings.TrimRight(serverURL, "/") + "/api/spaces/" + url.PathEscape(spaceID)
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return grid.Bounds{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return grid.Bounds{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return grid.Bounds{}, fmt.Errorf("get space %s: %s", spaceID, resp.Status)
	}
	var s space.Space
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return grid.Bounds{}, fmt.Errorf("parse space: %w", err)
	}
	return s.Bounds(), nil
}
