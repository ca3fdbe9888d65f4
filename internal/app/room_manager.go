package app

import (
	"sync"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
)

// RoomManagerImpl creates rooms on first join and drops them when the last
// member leaves. Join/Leave mutate both the room and the session's own
// membership set under one lock so an emptied room is never resurrected
// half-way.
type RoomManagerImpl struct {
	mu    sync.RWMutex
	rooms map[domain.RoomName]core.RoomService
}

func NewRoomManager() *RoomManagerImpl {
	return &RoomManagerImpl{rooms: make(map[domain.RoomName]core.RoomService)}
}

func (f *RoomManagerImpl) GetOrCreate(name domain.RoomName) core.RoomService {
	f.mu.RLock()
	room, ok := f.rooms[name]
	f.mu.RUnlock()
	if ok {
		return room
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getOrCreateLocked(name)
}

func (f *RoomManagerImpl) getOrCreateLocked(name domain.RoomName) core.RoomService {
	if room, ok := f.rooms[name]; ok {
		return room
	}
	room := core.NewRoomService(domain.NewRoom(name))
	f.rooms[name] = room
	return room
}

func (f *RoomManagerImpl) Get(name domain.RoomName) (core.RoomService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	room, ok := f.rooms[name]
	return room, ok
}

// Join is idempotent; it reports whether the membership is new.
func (f *RoomManagerImpl) Join(name domain.RoomName, s *core.Session) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	room := f.getOrCreateLocked(name)
	added := room.AddMember(s)
	s.AddRoom(name)
	return added
}

// Leave is idempotent; it reports whether a membership was removed.
func (f *RoomManagerImpl) Leave(name domain.RoomName, s *core.Session) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	s.RemoveRoom(name)
	room, ok := f.rooms[name]
	if !ok {
		return false
	}
	removed := room.RemoveMember(s.ID())
	if room.MemberCount() == 0 {
		delete(f.rooms, name)
	}
	return removed
}

// LeaveAll drops every membership of the session and returns the labels.
func (f *RoomManagerImpl) LeaveAll(s *core.Session) []domain.RoomName {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := s.TakeRooms()
	for _, name := range names {
		room, ok := f.rooms[name]
		if !ok {
			continue
		}
		room.RemoveMember(s.ID())
		if room.MemberCount() == 0 {
			delete(f.rooms, name)
		}
	}
	return names
}

func (f *RoomManagerImpl) List() []core.RoomInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]core.RoomInfo, 0, len(f.rooms))
	for name, r := range f.rooms {
		out = append(out, core.RoomInfo{Name: name, MemberCount: r.MemberCount()})
	}
	return out
}

func (f *RoomManagerImpl) StopRoom(name domain.RoomName) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok := f.rooms[name]; ok && room.MemberCount() == 0 {
		delete(f.rooms, name)
	}
}
