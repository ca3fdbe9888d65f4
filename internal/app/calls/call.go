package calls

import (
	"sync"
	"time"

	"github.com/dkeye/Chat/internal/domain"
)

// activeCall is owned by the Coordinator; every field below mu is guarded by it.
type activeCall struct {
	id             domain.CallID
	conversationID domain.ConversationID
	kind           domain.MediaKind
	initiator      domain.UserID
	startedAt      time.Time

	mu           sync.Mutex
	status       domain.CallStatus
	participants map[domain.UserID]*domain.Participant
	order        []domain.UserID
	ringTimer    *time.Timer
}

func newActiveCall(id domain.CallID, conv domain.ConversationID, initiator domain.UserID, kind domain.MediaKind, invitees []domain.UserID, now time.Time) *activeCall {
	c := &activeCall{
		id:             id,
		conversationID: conv,
		kind:           kind,
		initiator:      initiator,
		startedAt:      now,
		status:         domain.CallStatusRinging,
		participants:   make(map[domain.UserID]*domain.Participant),
	}
	c.addParticipant(initiator)
	for _, uid := range invitees {
		c.addParticipant(uid)
	}
	return c
}

func (c *activeCall) addParticipant(uid domain.UserID) {
	if uid == "" {
		return
	}
	if _, ok := c.participants[uid]; ok {
		return
	}
	c.participants[uid] = domain.NewParticipant(uid, c.kind)
	c.order = append(c.order, uid)
}

func (c *activeCall) joinedCount() int {
	n := 0
	for _, p := range c.participants {
		if p.Joined {
			n++
		}
	}
	return n
}

func (c *activeCall) joined() []domain.UserID {
	out := make([]domain.UserID, 0, len(c.order))
	for _, uid := range c.order {
		if c.participants[uid].Joined {
			out = append(out, uid)
		}
	}
	return out
}

// setStatus applies a forward-only transition.
func (c *activeCall) setStatus(next domain.CallStatus) bool {
	if !c.status.CanMoveTo(next) {
		return false
	}
	c.status = next
	return true
}

func (c *activeCall) stopRing() {
	if c.ringTimer != nil {
		c.ringTimer.Stop()
		c.ringTimer = nil
	}
}

func (c *activeCall) snapshot() domain.CallSnapshot {
	ps := make([]domain.Participant, 0, len(c.order))
	for _, uid := range c.order {
		ps = append(ps, *c.participants[uid])
	}
	return domain.CallSnapshot{
		ID:             c.id,
		ConversationID: c.conversationID,
		Kind:           c.kind,
		InitiatorID:    c.initiator,
		Status:         c.status,
		StartedAt:      c.startedAt,
		Participants:   ps,
	}
}
