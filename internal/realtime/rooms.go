package realtime

import "sync"

// Room name helpers. Personal rooms address every connection of an identity;
// conversation rooms carry chat traffic; the presence room carries
// online/offline broadcasts to whoever cares.
const PresenceRoom = "presence"

func PersonalRoom(identity string) string {
	return "user:" + identity
}

func ConversationRoom(conversationID string) string {
	return "conversation:" + conversationID
}

// RoomIndex tracks which connections are interested in which logical channel.
// Membership is connection-scoped: each device of an identity joins and
// leaves independently. Rooms are created lazily on first join and deleted
// when the last member leaves.
type RoomIndex struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Conn
}

func NewRoomIndex() *RoomIndex {
	return &RoomIndex{
		rooms: make(map[string]map[string]*Conn),
	}
}

// Join is idempotent.
func (r *RoomIndex) Join(c *Conn, room string) {
	if c == nil || room == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]*Conn)
		r.rooms[room] = members
	}
	members[c.ID] = c
}

// Leave is idempotent; leaving a room the connection is not in is a no-op.
func (r *RoomIndex) Leave(c *Conn, room string) {
	if c == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, c.ID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// LeaveAll removes the connection from every room, called on disconnect.
func (r *RoomIndex) LeaveAll(c *Conn) {
	if c == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for room, members := range r.rooms {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
}

// Members returns a snapshot of the room's connections; nil if the room does
// not exist.
func (r *RoomIndex) Members(room string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.rooms[room]
	if !ok {
		return nil
	}

	out := make([]*Conn, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

func (r *RoomIndex) MemberCount(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}
