package group

import (
	"sort"
	"sync"

	"golang.org/x/exp/maps"
)

// Room represents a chat room.
type Room struct {
	ID      string
	Members map[string]struct{}
}

// Manager tracks which room each connection is in. A connection is in at
// most one room; an empty room is removed.
type Manager struct {
	mu          sync.Mutex
	clientRooms map[string]string
	rooms       map[string]*Room
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		clientRooms: make(map[string]string),
		rooms:       make(map[string]*Room),
	}
}

// RegisterClient adds a connection outside of any room.
func (m *Manager) RegisterClient(clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clientRooms[clientID]; !ok {
		m.clientRooms[clientID] = ""
	}
}

// RemoveClient forgets a connection and returns the members left in its room.
func (m *Manager) RemoveClient(clientID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	roomID, ok := m.clientRooms[clientID]
	if !ok {
		return nil
	}
	delete(m.clientRooms, clientID)
	return m.leaveLocked(clientID, roomID)
}

// Join moves a registered connection into room and returns the room it left
// together with the new member list. Joining the current room is a no-op.
func (m *Manager) Join(clientID string, roomID string) (string, []string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.clientRooms[clientID]
	if !ok || roomID == "" {
		return "", nil, false
	}
	if prev != roomID {
		m.leaveLocked(clientID, prev)
		room := m.rooms[roomID]
		if room == nil {
			room = &Room{ID: roomID, Members: make(map[string]struct{})}
			m.rooms[roomID] = room
		}
		room.Members[clientID] = struct{}{}
		m.clientRooms[clientID] = roomID
	}
	return prev, sortedMembers(m.rooms[roomID]), true
}

// Leave takes a connection out of its room.
func (m *Manager) Leave(clientID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	roomID := m.clientRooms[clientID]
	if roomID == "" {
		return nil
	}
	m.clientRooms[clientID] = ""
	return m.leaveLocked(clientID, roomID)
}

// RoomOf returns the connection's room, or "".
func (m *Manager) RoomOf(clientID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clientRooms[clientID]
}

// Members returns the sorted members of room.
func (m *Manager) Members(roomID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedMembers(m.rooms[roomID])
}

// Rooms returns the sorted ids of non-empty rooms.
func (m *Manager) Rooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := maps.Keys(m.rooms)
	sort.Strings(ids)
	return ids
}

func (m *Manager) leaveLocked(clientID string, roomID string) []string {
	if roomID == "" {
		return nil
	}
	room, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	delete(room.Members, clientID)
	if len(room.Members) == 0 {
		delete(m.rooms, roomID)
		return nil
	}
	return sortedMembers(room)
}

func sortedMembers(room *Room) []string {
	if room == nil {
		return nil
	}
	members := maps.Keys(room.Members)
	sort.Strings(members)
	return members
}
