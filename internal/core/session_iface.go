package core

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Chat/internal/domain"
)

type SessionID string

// Session is one live transport connection. The identity stays nil until the
// credential is verified; a session without identity never joins a room.
type Session struct {
	id          SessionID
	conn        SignalConnection
	connectedAt time.Time
	released    atomic.Bool

	mu           sync.RWMutex
	user         *domain.User
	rooms        map[domain.RoomName]struct{}
	lastActivity time.Time
}

func NewSession(id SessionID, conn SignalConnection) *Session {
	now := time.Now()
	return &Session{
		id:           id,
		conn:         conn,
		connectedAt:  now,
		lastActivity: now,
		rooms:        make(map[domain.RoomName]struct{}),
	}
}

func (s *Session) ID() SessionID            { return s.id }
func (s *Session) Signal() SignalConnection { return s.conn }
func (s *Session) ConnectedAt() time.Time   { return s.connectedAt }

func (s *Session) User() *domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// UserID returns "" for an unauthenticated session.
func (s *Session) UserID() domain.UserID {
	if u := s.User(); u != nil {
		return u.ID
	}
	return ""
}

func (s *Session) Authenticated() bool { return s.User() != nil }

func (s *Session) Attach(u *domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = u
}

// Release marks the session as torn down. It reports false when it already
// was. A released session must not rejoin rooms or calls.
func (s *Session) Release() bool { return s.released.CompareAndSwap(false, true) }

func (s *Session) Released() bool { return s.released.Load() }

func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// AddRoom records the label; false if it was already there.
func (s *Session) AddRoom(name domain.RoomName) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[name]; ok {
		return false
	}
	s.rooms[name] = struct{}{}
	return true
}

func (s *Session) RemoveRoom(name domain.RoomName) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[name]; !ok {
		return false
	}
	delete(s.rooms, name)
	return true
}

func (s *Session) InRoom(name domain.RoomName) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[name]
	return ok
}

func (s *Session) Rooms() []domain.RoomName {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.RoomName, 0, len(s.rooms))
	for name := range s.rooms {
		out = append(out, name)
	}
	return out
}

// TakeRooms empties the membership set and returns what it held.
func (s *Session) TakeRooms() []domain.RoomName {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.RoomName, 0, len(s.rooms))
	for name := range s.rooms {
		out = append(out, name)
	}
	s.rooms = make(map[domain.RoomName]struct{})
	return out
}

// Emit encodes ev and queues it on the connection without blocking.
func (s *Session) Emit(ev domain.Event) error {
	f, err := Encode(ev)
	if err != nil {
		return err
	}
	return s.conn.TrySend(f)
}
