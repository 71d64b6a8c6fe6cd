package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/wricardo/metaverse-presence/metaverse/presence"
	"github.com/wricardo/metaverse-presence/metaverse/room"
	"github.com/wricardo/metaverse-presence/metaverse/session"
	"github.com/wricardo/metaverse-presence/metaverse/space"
)

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrUserNotFound       = errors.New("user not connected")
	ErrListingUnsupported = errors.New("space listing not supported")
)

// PresenceService defines the read operations offered to API clients
type PresenceService interface {
	Health(ctx context.Context) *HealthInfo

	// Rooms
	ListRooms(ctx context.Context) ([]*RoomInfo, error)
	GetRoom(ctx context.Context, roomID string) (*RoomInfo, error)
	LocateUser(ctx context.Context, userID string) (*UserLocation, error)

	// Spaces
	ListSpaces(ctx context.Context) ([]space.Space, error)
	GetSpace(ctx context.Context, spaceID string) (*space.Space, error)
}

// RoomDirectory is the part of room.Directory the service reads.
type RoomDirectory interface {
	Rooms() []room.Summary
	Members(roomID string) []room.Member
	Stats() room.Stats
	FindUser(userID string) (string, room.Member, bool)
}

// CounterSource reports handler statistics.
type CounterSource interface {
	Counters() session.Counters
}

// ConnectionCounter reports live transport connections.
type ConnectionCounter interface {
	Count() int
}

// PresenceMirror is an external copy of presence such as presence.RedisSink.
// It knows who is where but not their positions.
type PresenceMirror interface {
	Lookup(ctx context.Context, userID string) ([]presence.Location, error)
	RoomMembers(ctx context.Context, roomID string) (map[string]string, error)
}

// Option configures the service.
type Option func(*presenceServiceImpl)

// WithCounters adds handler statistics to Health.
func WithCounters(c CounterSource) Option {
	return func(s *presenceServiceImpl) { s.counters = c }
}

// WithConnections adds the live connection count to Health.
func WithConnections(c ConnectionCounter) Option {
	return func(s *presenceServiceImpl) { s.connections = c }
}

// WithMirror consults m for rooms and users the directory does not hold.
func WithMirror(m PresenceMirror) Option {
	return func(s *presenceServiceImpl) { s.mirror = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *presenceServiceImpl) { s.now = now }
}

type presenceServiceImpl struct {
	directory   RoomDirectory
	spaces      space.Lookup
	counters    CounterSource
	connections ConnectionCounter
	mirror      PresenceMirror
	now         func() time.Time
	startedAt   time.Time
}

// NewPresenceService creates a service over directory and spaces.
func NewPresenceService(directory RoomDirectory, spaces space.Lookup, opts ...Option) PresenceService {
	s := &presenceServiceImpl{
		directory: directory,
		spaces:    spaces,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.startedAt = s.now()
	return s
}

func (s *presenceServiceImpl) Health(ctx context.Context) *HealthInfo {
	stats := s.directory.Stats()
	info := &HealthInfo{
		Status:    "ok",
		StartedAt: s.startedAt,
		Uptime:    s.now().Sub(s.startedAt).Round(time.Second).String(),
		Rooms:     stats.Rooms,
		Members:   stats.Members,
	}
	if s.connections != nil {
		info.Connections = s.connections.Count()
	}
	if s.counters != nil {
		c := s.counters.Counters()
		info.Counters = &c
	}
	return info
}

func (s *presenceServiceImpl) ListRooms(ctx context.Context) ([]*RoomInfo, error) {
	summaries := s.directory.Rooms()
	rooms := make([]*RoomInfo, 0, len(summaries))
	for _, summary := range summaries {
		rooms = append(rooms, &RoomInfo{ID: summary.ID, MemberCount: summary.Members})
	}
	return rooms, nil
}

func (s *presenceServiceImpl) GetRoom(ctx context.Context, roomID string) (*RoomInfo, error) {
	members := s.directory.Members(roomID)
	if len(members) == 0 {
		return s.mirroredRoom(ctx, roomID)
	}

	info := &RoomInfo{ID: roomID, MemberCount: len(members), Source: SourceDirectory}
	for _, m := range members {
		pos := m.Position()
		info.Members = append(info.Members, &MemberInfo{
			ConnectionID: m.ID(),
			UserID:       m.UserID(),
			X:            pos.X,
			Y:            pos.Y,
		})
	}
	return info, nil
}

func (s *presenceServiceImpl) LocateUser(ctx context.Context, userID string) (*UserLocation, error) {
	roomID, m, ok := s.directory.FindUser(userID)
	if !ok {
		return s.mirroredUser(ctx, userID)
	}
	pos := m.Position()
	return &UserLocation{
		UserID:       userID,
		RoomID:       roomID,
		ConnectionID: m.ID(),
		X:            pos.X,
		Y:            pos.Y,
		Source:       SourceDirectory,
	}, nil
}

func (s *presenceServiceImpl) mirroredRoom(ctx context.Context, roomID string) (*RoomInfo, error) {
	if s.mirror == nil {
		return nil, ErrRoomNotFound
	}
	members, err := s.mirror.RoomMembers(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("presence mirror: %w", err)
	}
	if len(members) == 0 {
		return nil, ErrRoomNotFound
	}

	info := &RoomInfo{ID: roomID, MemberCount: len(members), Source: SourceMirror}
	for connID, userID := range members {
		info.Members = append(info.Members, &MemberInfo{ConnectionID: connID, UserID: userID})
	}
	sort.Slice(info.Members, func(i, j int) bool {
		return info.Members[i].ConnectionID < info.Members[j].ConnectionID
	})
	return info, nil
}

func (s *presenceServiceImpl) mirroredUser(ctx context.Context, userID string) (*UserLocation, error) {
	if s.mirror == nil {
		return nil, ErrUserNotFound
	}
	locs, err := s.mirror.Lookup(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("presence mirror: %w", err)
	}
	if len(locs) == 0 {
		return nil, ErrUserNotFound
	}
	return &UserLocation{
		UserID:       userID,
		RoomID:       locs[0].RoomID,
		ConnectionID: locs[0].ConnectionID,
		Source:       SourceMirror,
	}, nil
}

func (s *presenceServiceImpl) ListSpaces(ctx context.Context) ([]space.Space, error) {
	lister, ok := s.spaces.(space.Lister)
	if !ok {
		return nil, ErrListingUnsupported
	}
	return lister.ListSpaces(ctx)
}

func (s *presenceServiceImpl) GetSpace(ctx context.Context, spaceID string) (*space.Space, error) {
	sp, err := s.spaces.LookupSpace(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	return &sp, nil
}
