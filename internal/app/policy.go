package app

import "github.com/dkeye/Chat/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

// Policy decides what happens to a session whose send queue is full.
// room is nil for directed (per-user) delivery.
type Policy interface {
	OnBackPressure(room core.RoomService, member *core.Session) BackpressureAction
}

// SimplePolicy disconnects slow consumers so they reconnect and resync.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(room core.RoomService, member *core.Session) BackpressureAction {
	return KickMember
}

// DropPolicy keeps the connection and loses the frame.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(core.RoomService, *core.Session) BackpressureAction {
	return DropFrame
}
