package core

import (
	"github.com/dkeye/Chat/internal/domain"
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []*Session
}

// RoomService is the core-facing API of a room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	Members() []*Session

	AddMember(s *Session) bool
	RemoveMember(sid SessionID) bool
	// Broadcast skips the session `from`; an empty id skips nobody.
	Broadcast(from SessionID, data Frame) PublishResult
}

type RoomInfo struct {
	Name        domain.RoomName `json:"name"`
	MemberCount int             `json:"client_count"`
}

type RoomManager interface {
	GetOrCreate(name domain.RoomName) RoomService
	Get(name domain.RoomName) (RoomService, bool)
	List() []RoomInfo
	// StopRoom drops the room if nobody is left in it.
	StopRoom(name domain.RoomName)

	// Join and Leave keep the room and the session's own label set in step.
	Join(name domain.RoomName, s *Session) bool
	Leave(name domain.RoomName, s *Session) bool
	LeaveAll(s *Session) []domain.RoomName
}
