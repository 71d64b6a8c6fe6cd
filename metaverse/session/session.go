package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wricardo/metaverse-presence/metaverse/grid"
	"github.com/wricardo/metaverse-presence/metaverse/presence"
	"github.com/wricardo/metaverse-presence/metaverse/protocol"
	"github.com/wricardo/metaverse-presence/metaverse/space"
)

// State is the protocol state of a session.
type State int

const (
	StateUnjoined State = iota
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnjoined:
		return "unjoined"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Session runs the join/move/disconnect protocol for one connection.
type Session struct {
	h      *Handler
	conn   *Connection
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	state  State
	roomID string
	bounds grid.Bounds
	logger *zap.Logger

	// pubMu keeps this session's presence events in order. It is acquired
	// while holding mu, never the other way round.
	pubMu sync.Mutex
}

// Connection returns the connection this session drives.
func (s *Session) Connection() *Connection { return s.conn }

// State returns the current protocol state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Handle processes one inbound frame. Unknown or malformed frames are ignored.
func (s *Session) Handle(data []byte) {
	msg, err := protocol.DecodeClient(data)
	if err != nil {
		s.handleDecodeError(err)
		return
	}

	switch m := msg.(type) {
	case protocol.Join:
		s.join(m)
	case protocol.Move:
		s.move(m)
	}
}

func (s *Session) handleDecodeError(err error) {
	var perr *protocol.PayloadError
	if errors.As(err, &perr) {
		switch perr.Type {
		case protocol.TypeJoin:
			s.log().Debug("invalid join payload", zap.Error(err))
			s.join(protocol.Join{})
			return
		case protocol.TypeMove:
			s.log().Debug("invalid move payload", zap.Error(err))
			s.rejectMove()
			return
		}
	}
	s.log().Debug("ignoring frame", zap.Error(err))
}

func (s *Session) join(m protocol.Join) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	switch state {
	case StateClosed:
		return
	case StateJoined:
		s.conn.Send(protocol.JoinRejected{Reason: protocol.ReasonAlreadyJoined})
		return
	}

	userID, err := s.h.verifier.Verify(m.Token)
	if err != nil {
		s.failJoin("authentication failed", err)
		return
	}

	sp, err := s.lookup(m.SpaceID)
	if err != nil {
		s.failJoin("space lookup failed", err, zap.String("space_id", m.SpaceID))
		return
	}

	roomID := m.SpaceID
	bounds := sp.Bounds()

	s.mu.Lock()
	if s.state != StateUnjoined {
		// Closed while the lookup was in flight.
		s.mu.Unlock()
		return
	}

	spawn := grid.Spawn(s.h.rand, bounds)
	s.conn.assign(userID, roomID, spawn)
	if !s.h.directory.AddUser(roomID, s.conn) {
		s.conn.Send(protocol.JoinRejected{Reason: protocol.ReasonDuplicateUser})
		s.mu.Unlock()
		s.failJoin("user already present in room", nil, zap.String("user_id", userID), zap.String("room_id", roomID))
		return
	}

	s.state = StateJoined
	s.roomID = roomID
	s.bounds = bounds
	s.logger = s.logger.With(zap.String("user_id", userID), zap.String("room_id", roomID))

	peers := []protocol.Peer{}
	for _, member := range s.h.directory.Members(roomID) {
		if member.ID() == s.conn.ID() {
			continue
		}
		pos := member.Position()
		peers = append(peers, protocol.Peer{ID: member.ID(), UserID: member.UserID(), X: pos.X, Y: pos.Y})
	}

	s.conn.Send(protocol.SpaceJoined{Spawn: spawn, Users: peers, UserID: userID})
	s.h.directory.Broadcast(protocol.UserJoined{UserID: userID, X: spawn.X, Y: spawn.Y}, s.conn, roomID)
	logger := s.logger
	s.pubMu.Lock()
	s.mu.Unlock()
	defer s.pubMu.Unlock()

	s.h.joins.Add(1)
	logger.Info("joined room", zap.Stringer("spawn", spawn), zap.Int("peers", len(peers)))
	s.h.publish(logger, presence.Event{
		Kind:         presence.KindJoined,
		RoomID:       roomID,
		UserID:       userID,
		ConnectionID: s.conn.ID(),
		X:            spawn.X,
		Y:            spawn.Y,
		At:           time.Now().UTC(),
	})
}

func (s *Session) lookup(spaceID string) (space.Space, error) {
	ctx := s.ctx
	if s.h.lookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.h.lookupTimeout)
		defer cancel()
	}

	sp, err := s.h.spaces.LookupSpace(ctx, spaceID)
	if err != nil {
		return space.Space{}, err
	}
	if !sp.Bounds().Valid() {
		return space.Space{}, fmt.Errorf("%w: %dx%d", space.ErrInvalidSpace, sp.Width, sp.Height)
	}
	return sp, nil
}

// failJoin closes the connection without replying.
func (s *Session) failJoin(reason string, err error, fields ...zap.Field) {
	s.h.joinFailures.Add(1)
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	s.log().Info("join refused: "+reason, fields...)
	s.Close()
}

func (s *Session) move(m protocol.Move) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateJoined {
		s.logger.Debug("ignoring move outside a room", zap.Stringer("state", s.state))
		return
	}

	current := s.conn.Position()
	target := grid.Position{X: m.X, Y: m.Y}
	userID := s.conn.UserID()

	if !s.bounds.Contains(target) || !grid.IsUnitStep(current, target) {
		s.h.movesRejected.Add(1)
		s.logger.Debug("move rejected", zap.Stringer("from", current), zap.Stringer("to", target))
		s.conn.Send(protocol.MovementRejected{X: current.X, Y: current.Y, UserID: userID})
		return
	}

	s.conn.moveTo(target)
	s.h.movesAccepted.Add(1)
	s.h.directory.Broadcast(protocol.Movement{X: target.X, Y: target.Y, UserID: userID}, s.conn, s.roomID)
}

// rejectMove answers an undecodable move with the current position.
func (s *Session) rejectMove() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateJoined {
		return
	}
	s.h.movesRejected.Add(1)
	pos := s.conn.Position()
	s.conn.Send(protocol.MovementRejected{X: pos.X, Y: pos.Y, UserID: s.conn.UserID()})
}

// Heartbeat renews the presence record of a joined session. It does nothing
// in any other state.
func (s *Session) Heartbeat() {
	s.mu.Lock()
	if s.state != StateJoined {
		s.mu.Unlock()
		return
	}
	pos := s.conn.Position()
	ev := presence.Event{
		Kind:         presence.KindRefreshed,
		RoomID:       s.roomID,
		UserID:       s.conn.UserID(),
		ConnectionID: s.conn.ID(),
		X:            pos.X,
		Y:            pos.Y,
		At:           time.Now().UTC(),
	}
	logger := s.logger
	s.pubMu.Lock()
	s.mu.Unlock()
	defer s.pubMu.Unlock()

	s.h.publish(logger, ev)
}

// Close tears the session down exactly once. A joined session leaves its
// room and the remaining members are told. Safe to call from any goroutine.
func (s *Session) Close() {
	s.mu.Lock()
	prev := s.state
	if prev == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.cancel()

	var left *presence.Event
	if prev == StateJoined {
		userID := s.conn.UserID()
		pos := s.conn.Position()
		s.h.directory.RemoveUser(s.conn, s.roomID)
		s.h.directory.Broadcast(protocol.UserLeft{UserID: userID, ConnectionID: s.conn.ID()}, s.conn, s.roomID)
		left = &presence.Event{
			Kind:         presence.KindLeft,
			RoomID:       s.roomID,
			UserID:       userID,
			ConnectionID: s.conn.ID(),
			X:            pos.X,
			Y:            pos.Y,
			At:           time.Now().UTC(),
		}
	}
	logger := s.logger
	s.mu.Unlock()

	s.conn.Close()
	if left != nil {
		logger.Info("left room", zap.Uint64("dropped_frames", s.conn.Dropped()))
		// Waits for an in-flight joined or refreshed event.
		s.pubMu.Lock()
		defer s.pubMu.Unlock()
		s.h.publish(logger, *left)
	}
}

func (s *Session) log() *zap.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logger
}
