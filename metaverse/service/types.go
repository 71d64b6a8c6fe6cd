package service

import (
	"time"

	"github.com/wricardo/metaverse-presence/metaverse/session"
)

// Where room and location answers come from. Mirrored answers carry no
// positions.
const (
	SourceDirectory = "directory"
	SourceMirror    = "mirror"
)

// MemberInfo is one connection inside a room.
type MemberInfo struct {
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
	X            int    `json:"x"`
	Y            int    `json:"y"`
}

// RoomInfo describes a live room.
type RoomInfo struct {
	ID          string        `json:"id"`
	MemberCount int           `json:"member_count"`
	Members     []*MemberInfo `json:"members,omitempty"`
	Source      string        `json:"source,omitempty"`
}

// UserLocation says where a user currently is.
type UserLocation struct {
	UserID       string `json:"user_id"`
	RoomID       string `json:"room_id"`
	ConnectionID string `json:"connection_id"`
	X            int    `json:"x"`
	Y            int    `json:"y"`
	Source       string `json:"source"`
}

// HealthInfo is the health endpoint payload.
type HealthInfo struct {
	Status      string            `json:"status"`
	StartedAt   time.Time         `json:"started_at"`
	Uptime      string            `json:"uptime"`
	Rooms       int               `json:"rooms"`
	Members     int               `json:"members"`
	Connections int               `json:"connections"`
	Counters    *session.Counters `json:"counters,omitempty"`
}
