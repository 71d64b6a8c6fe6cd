package protocol

import "github.com/wricardo/metaverse-presence/metaverse/grid"

// Frame types.
const (
	TypeJoin = "join"
	TypeMove = "move"

	TypeSpaceJoined      = "space-joined"
	TypeUserJoined       = "user-joined"
	TypeMovement         = "movement"
	TypeMovementRejected = "movement-rejected"
	TypeUserLeft         = "user-left"
	TypeJoinRejected     = "join-rejected"
)

// Message is anything that can be framed on the wire.
type Message interface {
	MessageType() string
}

// ClientMessage is a frame sent by a client. The set is closed.
type ClientMessage interface {
	Message
	clientMessage()
}

// ServerMessage is a frame sent by the server. The set is closed.
type ServerMessage interface {
	Message
	serverMessage()
}

// Join asks to enter the room backing SpaceID.
type Join struct {
	SpaceID string `json:"spaceId"`
	Token   string `json:"token"`
}

// Move asks to step onto (X, Y).
type Move struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (Join) MessageType() string { return TypeJoin }
func (Move) MessageType() string { return TypeMove }
func (Join) clientMessage()      {}
func (Move) clientMessage()      {}

// Peer describes another connection already present in a room.
type Peer struct {
	ID     string `json:"id"`
	UserID string `json:"userId,omitempty"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
}

// SpaceJoined is the reply to a successful join.
type SpaceJoined struct {
	Spawn  grid.Position `json:"spawn"`
	Users  []Peer        `json:"users"`
	UserID string        `json:"userId"`
}

// UserJoined announces a newcomer to the rest of the room.
type UserJoined struct {
	UserID string `json:"userId"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
}

// Movement announces an accepted move.
type Movement struct {
	X      int    `json:"x"`
	Y      int    `json:"y"`
	UserID string `json:"userId"`
}

// MovementRejected carries the mover's authoritative position after a refused move.
type MovementRejected struct {
	X      int    `json:"x"`
	Y      int    `json:"y"`
	UserID string `json:"userId,omitempty"`
}

// UserLeft announces a departure.
type UserLeft struct {
	UserID       string `json:"userId"`
	ConnectionID string `json:"connectionId,omitempty"`
}

// JoinRejected answers a join that will not be honoured. A duplicate-user
// rejection is followed by the connection closing.
type JoinRejected struct {
	Reason string `json:"reason"`
}

// Join rejection reasons.
const (
	ReasonAlreadyJoined = "already-joined"
	ReasonDuplicateUser = "duplicate-user"
)

func (SpaceJoined) MessageType() string      { return TypeSpaceJoined }
func (UserJoined) MessageType() string       { return TypeUserJoined }
func (Movement) MessageType() string         { return TypeMovement }
func (MovementRejected) MessageType() string { return TypeMovementRejected }
func (UserLeft) MessageType() string         { return TypeUserLeft }
func (JoinRejected) MessageType() string     { return TypeJoinRejected }

func (SpaceJoined) serverMessage()      {}
func (UserJoined) serverMessage()       {}
func (Movement) serverMessage()         {}
func (MovementRejected) serverMessage() {}
func (UserLeft) serverMessage()         {}
func (JoinRejected) serverMessage()     {}
