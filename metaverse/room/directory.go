package room

import (
	"sort"
	"sync"

	"github.com/wricardo/metaverse-presence/metaverse/grid"
	"github.com/wricardo/metaverse-presence/metaverse/protocol"
)

// Member is a connection that can sit in a room.
type Member interface {
	ID() string
	UserID() string
	Position() grid.Position
	Send(msg protocol.ServerMessage)
}

// Summary is a point-in-time view of one room.
type Summary struct {
	ID      string `json:"id"`
	Members int    `json:"members"`
}

// Stats counts rooms and members across the directory.
type Stats struct {
	Rooms   int `json:"rooms"`
	Members int `json:"members"`
}

// Directory maps room ids to their members.
type Directory struct {
	mu    sync.RWMutex
	rooms map[string][]Member
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{rooms: make(map[string][]Member)}
}

// AddUser registers m in roomID, creating the room if needed.
// A member whose user id (or, without one, connection id) is already present
// is not added again; the first registration wins. Reports whether m was added.
func (d *Directory) AddUser(roomID string, m Member) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	members := d.rooms[roomID]
	for _, existing := range members {
		if isDuplicate(existing, m) {
			return false
		}
	}
	d.rooms[roomID] = append(members, m)
	return true
}

func isDuplicate(existing, m Member) bool {
	if existing.ID() == m.ID() {
		return true
	}
	uid := m.UserID()
	return uid != "" && existing.UserID() == uid
}

// RemoveUser drops m from roomID by connection id. Unknown rooms are ignored.
// The room is deleted once empty. Reports whether m was present.
func (d *Directory) RemoveUser(m Member, roomID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	members, ok := d.rooms[roomID]
	if !ok {
		return false
	}

	kept := members[:0:0]
	removed := false
	for _, existing := range members {
		if existing.ID() == m.ID() {
			removed = true
			continue
		}
		kept = append(kept, existing)
	}

	if len(kept) == 0 {
		delete(d.rooms, roomID)
	} else {
		d.rooms[roomID] = kept
	}
	return removed
}

// Broadcast sends msg to every member of roomID except origin, in join order.
// An empty or unknown room id is a no-op. Returns how many members were sent to.
func (d *Directory) Broadcast(msg protocol.ServerMessage, origin Member, roomID string) int {
	if roomID == "" {
		return 0
	}

	sent := 0
	for _, m := range d.Members(roomID) {
		if origin != nil && m.ID() == origin.ID() {
			continue
		}
		m.Send(msg)
		sent++
	}
	return sent
}

// Members returns a snapshot of roomID's members in join order.
func (d *Directory) Members(roomID string) []Member {
	d.mu.RLock()
	defer d.mu.RUnlock()

	members := d.rooms[roomID]
	if len(members) == 0 {
		return nil
	}
	out := make([]Member, len(members))
	copy(out, members)
	return out
}

// Rooms lists every non-empty room sorted by id.
func (d *Directory) Rooms() []Summary {
	d.mu.RLock()
	out := make([]Summary, 0, len(d.rooms))
	for id, members := range d.rooms {
		out = append(out, Summary{ID: id, Members: len(members)})
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats returns room and member totals.
func (d *Directory) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s := Stats{Rooms: len(d.rooms)}
	for _, members := range d.rooms {
		s.Members += len(members)
	}
	return s
}

// FindUser returns the room and member registered for userID, if any.
func (d *Directory) FindUser(userID string) (string, Member, bool) {
	if userID == "" {
		return "", nil, false
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	for roomID, members := range d.rooms {
		for _, m := range members {
			if m.UserID() == userID {
				return roomID, m, true
			}
		}
	}
	return "", nil, false
}
