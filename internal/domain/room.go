package domain

import "strings"

type (
	ConversationID string
	MessageID      string
	CallID         string
)

// RoomName is a broadcast group label: user:<id>, conversation:<id> or call:<id>.
type RoomName string

type RoomKind string

const (
	RoomKindUser         RoomKind = "user"
	RoomKindConversation RoomKind = "conversation"
	RoomKindCall         RoomKind = "call"
)

func UserRoom(id UserID) RoomName { return RoomName(string(RoomKindUser) + ":" + string(id)) }

func ConversationRoom(id ConversationID) RoomName {
	return RoomName(string(RoomKindConversation) + ":" + string(id))
}

func CallRoom(id CallID) RoomName { return RoomName(string(RoomKindCall) + ":" + string(id)) }

// Split returns the kind and id of a label. ok is false for unknown kinds or empty ids.
func (n RoomName) Split() (kind RoomKind, id string, ok bool) {
	k, v, found := strings.Cut(string(n), ":")
	if !found || v == "" {
		return "", "", false
	}
	switch RoomKind(k) {
	case RoomKindUser, RoomKindConversation, RoomKindCall:
		return RoomKind(k), v, true
	}
	return "", "", false
}

type Room struct {
	Name RoomName
	Kind RoomKind
}

func NewRoom(name RoomName) *Room {
	kind, _, _ := name.Split()
	return &Room{Name: name, Kind: kind}
}
