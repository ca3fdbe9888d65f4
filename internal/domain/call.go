package domain

import "time"

type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool { return k == MediaAudio || k == MediaVideo }

// CallStatus only moves forward: ringing -> active -> ended.
type CallStatus string

const (
	CallStatusRinging CallStatus = "ringing"
	CallStatusActive  CallStatus = "active"
	CallStatusEnded   CallStatus = "ended"
)

func (s CallStatus) rank() int {
	switch s {
	case CallStatusRinging:
		return 0
	case CallStatusActive:
		return 1
	case CallStatusEnded:
		return 2
	}
	return -1
}

// CanMoveTo reports whether s -> next is a legal transition.
func (s CallStatus) CanMoveTo(next CallStatus) bool {
	return s.rank() >= 0 && next.rank() > s.rank()
}

// CallSnapshot is a read-only copy of an active call.
type CallSnapshot struct {
	ID             CallID         `json:"callId"`
	ConversationID ConversationID `json:"conversationId"`
	Kind           MediaKind      `json:"type"`
	InitiatorID    UserID         `json:"initiatorId"`
	Status         CallStatus     `json:"status"`
	StartedAt      time.Time      `json:"startedAt"`
	Participants   []Participant  `json:"participants"`
}

func (c CallSnapshot) JoinedCount() int {
	n := 0
	for _, p := range c.Participants {
		if p.Joined {
			n++
		}
	}
	return n
}

func (c CallSnapshot) Participant(id UserID) (Participant, bool) {
	for _, p := range c.Participants {
		if p.UserID == id {
			return p, true
		}
	}
	return Participant{}, false
}
