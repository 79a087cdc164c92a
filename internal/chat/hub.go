package chat

import (
	"log"
	"sort"
	"sync"
)

// Conn is one live transport connection as seen by the Hub.
type Conn interface {
	ID() string
	// Send queues a frame without blocking. It returns false if the
	// connection cannot keep up or is already closed.
	Send(payload []byte) bool
	Close()
}

// SessionInfo is a read-only snapshot of a session.
type SessionInfo struct {
	ConnID string
	Identity
	Rooms []string
}

type session struct {
	conn     Conn
	identity Identity
	rooms    map[string]struct{}
}

func (s *session) snapshot() SessionInfo {
	rooms := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		rooms = append(rooms, id)
	}
	sort.Strings(rooms)
	return SessionInfo{ConnID: s.conn.ID(), Identity: s.identity, Rooms: rooms}
}

// Hub is the Session Registry: the only record of who is online and which
// rooms each connection has joined. It also owns the room groups used for
// fan-out, and keeps both views in step.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*session
	rooms    map[string]map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{
		sessions: make(map[string]*session),
		rooms:    make(map[string]map[string]struct{}),
	}
}

// Register adds a session for conn, joined to the general room only.
func (h *Hub) Register(conn Conn, id Identity) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.sessions[conn.ID()]; ok {
		h.dropLocked(old)
	}
	h.sessions[conn.ID()] = &session{conn: conn, identity: id, rooms: make(map[string]struct{})}
	h.joinLocked(conn.ID(), GeneralRoomID)
}

// Evict removes every session of userID other than keepConnID and returns
// them. The caller closes the returned connections.
func (h *Hub) Evict(userID int, keepConnID string) ([]SessionInfo, []Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var infos []SessionInfo
	var conns []Conn
	for connID, s := range h.sessions {
		if s.identity.ID != userID || connID == keepConnID {
			continue
		}
		infos = append(infos, s.snapshot())
		conns = append(conns, s.conn)
		h.dropLocked(s)
	}
	return infos, conns
}

// Unregister removes the session for connID.
func (h *Hub) Unregister(connID string) (SessionInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[connID]
	if !ok {
		return SessionInfo{}, false
	}
	info := s.snapshot()
	h.dropLocked(s)
	return info, true
}

func (h *Hub) dropLocked(s *session) {
	connID := s.conn.ID()
	for roomID := range s.rooms {
		h.leaveLocked(connID, roomID)
	}
	delete(h.sessions, connID)
}

func (h *Hub) Session(connID string) (SessionInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.sessions[connID]
	if !ok {
		return SessionInfo{}, false
	}
	return s.snapshot(), true
}

// JoinRoom adds connID to roomID. It reports false if there is no such
// session.
func (h *Hub) JoinRoom(connID, roomID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.joinLocked(connID, roomID)
}

func (h *Hub) joinLocked(connID, roomID string) bool {
	s, ok := h.sessions[connID]
	if !ok {
		return false
	}
	s.rooms[roomID] = struct{}{}
	group, ok := h.rooms[roomID]
	if !ok {
		group = make(map[string]struct{})
		h.rooms[roomID] = group
	}
	group[connID] = struct{}{}
	return true
}

// LeaveRoom reports whether connID was in roomID.
func (h *Hub) LeaveRoom(connID, roomID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaveLocked(connID, roomID)
}

func (h *Hub) leaveLocked(connID, roomID string) bool {
	s, ok := h.sessions[connID]
	if !ok {
		return false
	}
	if _, joined := s.rooms[roomID]; !joined {
		return false
	}
	delete(s.rooms, roomID)
	if group, ok := h.rooms[roomID]; ok {
		delete(group, connID)
		if len(group) == 0 {
			delete(h.rooms, roomID)
		}
	}
	return true
}

func (h *Hub) IsOnline(userID int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, s := range h.sessions {
		if s.identity.ID == userID {
			return true
		}
	}
	return false
}

// RoomPresence returns the identities of the connections in roomID, one
// per user, ordered by user id.
func (h *Hub) RoomPresence(roomID string) []Identity {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[int]struct{})
	var out []Identity
	for connID := range h.rooms[roomID] {
		s := h.sessions[connID]
		if s == nil {
			continue
		}
		if _, dup := seen[s.identity.ID]; dup {
			continue
		}
		seen[s.identity.ID] = struct{}{}
		out = append(out, s.identity)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ActiveRooms lists every room with at least one live connection.
func (h *Hub) ActiveRooms() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// UpdateIdentity applies fn to every session of userID and returns the
// updated snapshots.
func (h *Hub) UpdateIdentity(userID int, fn func(*Identity)) []SessionInfo {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []SessionInfo
	for _, s := range h.sessions {
		if s.identity.ID != userID {
			continue
		}
		fn(&s.identity)
		out = append(out, s.snapshot())
	}
	return out
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// SendTo delivers an event to a single connection.
func (h *Hub) SendTo(connID, event string, data any) {
	h.mu.RLock()
	s, ok := h.sessions[connID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	h.deliver(event, data, []Conn{s.conn})
}

// SendToRoom delivers an event to every connection in roomID except
// exceptConnID.
func (h *Hub) SendToRoom(roomID, event string, data any, exceptConnID string) {
	h.mu.RLock()
	var targets []Conn
	for connID := range h.rooms[roomID] {
		if connID == exceptConnID {
			continue
		}
		if s := h.sessions[connID]; s != nil {
			targets = append(targets, s.conn)
		}
	}
	h.mu.RUnlock()
	h.deliver(event, data, targets)
}

// Broadcast delivers an event to every connection except exceptConnID.
func (h *Hub) Broadcast(event string, data any, exceptConnID string) {
	h.mu.RLock()
	targets := make([]Conn, 0, len(h.sessions))
	for connID, s := range h.sessions {
		if connID != exceptConnID {
			targets = append(targets, s.conn)
		}
	}
	h.mu.RUnlock()
	h.deliver(event, data, targets)
}

// SendToUsers delivers an event to every connection owned by one of
// userIDs, whatever rooms they are in.
func (h *Hub) SendToUsers(userIDs []int, event string, data any) {
	wanted := make(map[int]struct{}, len(userIDs))
	for _, id := range userIDs {
		wanted[id] = struct{}{}
	}

	h.mu.RLock()
	var targets []Conn
	for _, s := range h.sessions {
		if _, ok := wanted[s.identity.ID]; ok {
			targets = append(targets, s.conn)
		}
	}
	h.mu.RUnlock()
	h.deliver(event, data, targets)
}

// CloseAll closes every live connection. Their read pumps unregister them.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]Conn, 0, len(h.sessions))
	for _, s := range h.sessions {
		conns = append(conns, s.conn)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.Close()
	}
}

// deliver encodes once and queues the frame on each target. A connection
// whose buffer is full is closed.
func (h *Hub) deliver(event string, data any, targets []Conn) {
	if len(targets) == 0 {
		return
	}
	payload, err := encodeEvent(event, data)
	if err != nil {
		log.Printf("[hub] encode %s: %v", event, err)
		return
	}
	for _, c := range targets {
		if !c.Send(payload) {
			log.Printf("[hub] dropping slow connection %s", c.ID())
			c.Close()
		}
	}
}
