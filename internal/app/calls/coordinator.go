// Package calls keeps the in-memory table of ringing and active calls and
// relays signaling between their participants. Nothing here is persisted:
// once a call ends it is gone.
package calls

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/Chat/internal/domain"
	"github.com/dkeye/Chat/internal/metrics"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrCallExists       = errors.New("call already exists")
	ErrInvalidMediaKind = errors.New("invalid media kind")
	ErrNoInitiator      = errors.New("initiator required")
)

// Notifier delivers an event to every live connection of a user.
type Notifier interface {
	SendToUser(user domain.UserID, ev domain.Event) bool
}

type Config struct {
	// RingTimeout ends a call still ringing after this long. Zero disables it.
	RingTimeout time.Duration
	// StrictSignaling requires the sender of a signal to be a joined participant.
	StrictSignaling bool
	ICEServers      []webrtc.ICEServer
	// Undelivered is called, outside any lock, for every invitation that
	// found no live connection.
	Undelivered func(user domain.UserID, ev domain.IncomingCall)
	// Ended is called, outside any lock, once a call leaves the table.
	Ended   func(id domain.CallID)
	Metrics *metrics.Metrics
}

type Coordinator struct {
	notify Notifier
	conf   Config

	mu    sync.RWMutex
	calls map[domain.CallID]*activeCall
}

func NewCoordinator(notify Notifier, conf Config) *Coordinator {
	return &Coordinator{
		notify: notify,
		conf:   conf,
		calls:  make(map[domain.CallID]*activeCall),
	}
}

// NewCallID returns a fresh id for callers that do not supply one.
func NewCallID() domain.CallID {
	return domain.CallID("call_" + uuid.NewString())
}

func (co *Coordinator) ICEServers() []webrtc.ICEServer { return co.conf.ICEServers }

// lookup returns the call only while it is not ended.
func (co *Coordinator) lookup(id domain.CallID) (*activeCall, bool) {
	co.mu.RLock()
	c, ok := co.calls[id]
	co.mu.RUnlock()
	return c, ok
}

// InitiateCall creates a ringing call and invites everybody but the initiator.
// An empty id gets a generated one.
func (co *Coordinator) InitiateCall(
	id domain.CallID,
	conv domain.ConversationID,
	initiator domain.UserID,
	kind domain.MediaKind,
	invitees []domain.UserID,
) (domain.CallSnapshot, error) {
	if initiator == "" {
		return domain.CallSnapshot{}, ErrNoInitiator
	}
	if !kind.Valid() {
		return domain.CallSnapshot{}, ErrInvalidMediaKind
	}
	if id == "" {
		id = NewCallID()
	}

	c := newActiveCall(id, conv, initiator, kind, invitees, time.Now())

	co.mu.Lock()
	if _, exists := co.calls[id]; exists {
		co.mu.Unlock()
		return domain.CallSnapshot{}, ErrCallExists
	}
	c.mu.Lock()
	co.calls[id] = c
	co.mu.Unlock()

	if co.conf.RingTimeout > 0 {
		c.ringTimer = time.AfterFunc(co.conf.RingTimeout, func() { co.expire(id) })
	}
	co.conf.Metrics.CallCreated()

	invite := domain.IncomingCall{
		CallID:         c.id,
		ConversationID: c.conversationID,
		InitiatorID:    c.initiator,
		Type:           c.kind,
		Participants:   append([]domain.UserID(nil), c.order...),
		ICEServers:     co.conf.ICEServers,
	}
	var missed []domain.UserID
	for _, uid := range c.order {
		if uid == c.initiator {
			continue
		}
		if !co.notify.SendToUser(uid, invite) {
			missed = append(missed, uid)
		}
	}
	snap := c.snapshot()
	c.mu.Unlock()

	log.Info().Str("module", "calls").Str("call", string(id)).Str("initiator", string(initiator)).Int("participants", len(snap.Participants)).Int("offline", len(missed)).Msg("call initiated")
	if co.conf.Undelivered != nil {
		for _, uid := range missed {
			co.conf.Undelivered(uid, invite)
		}
	}
	return snap, nil
}

// JoinCall marks a known participant joined on session sid. The call becomes
// active when the joined count goes from one to two.
func (co *Coordinator) JoinCall(id domain.CallID, user domain.UserID, sid string) bool {
	c, ok := co.lookup(id)
	if !ok {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == domain.CallStatusEnded {
		return false
	}
	p, ok := c.participants[user]
	if !ok {
		return false
	}
	wasJoined := p.Joined
	p.Joined = true
	p.SessionID = sid
	if wasJoined {
		log.Debug().Str("module", "calls").Str("call", string(id)).Str("user", string(user)).Msg("participant rejoined on another session")
		return true
	}

	co.notifyJoinedLocked(c, domain.ParticipantJoined{CallID: id, UserID: user, Participant: *p})

	if c.joinedCount() == 2 && c.setStatus(domain.CallStatusActive) {
		c.stopRing()
		co.conf.Metrics.CallStarted()
		co.notifyJoinedLocked(c, domain.CallStarted{CallID: id})
		log.Info().Str("module", "calls").Str("call", string(id)).Msg("call active")
	}
	log.Info().Str("module", "calls").Str("call", string(id)).Str("user", string(user)).Msg("participant joined")
	return true
}

// LeaveCall marks the participant unjoined; the roster keeps them so they can
// rejoin. A leave that brings the joined count down to one or zero ends the call.
func (co *Coordinator) LeaveCall(id domain.CallID, user domain.UserID) {
	c, ok := co.lookup(id)
	if !ok {
		return
	}
	c.mu.Lock()
	if c.status == domain.CallStatusEnded {
		c.mu.Unlock()
		return
	}
	p, ok := c.participants[user]
	if !ok {
		c.mu.Unlock()
		return
	}
	p.Joined = false
	p.SessionID = ""

	co.notifyJoinedLocked(c, domain.ParticipantLeft{CallID: id, UserID: user})
	log.Info().Str("module", "calls").Str("call", string(id)).Str("user", string(user)).Msg("participant left")

	ended := false
	if c.joinedCount() <= 1 {
		ended = co.endLocked(c, domain.EndReasonEmpty)
	}
	c.mu.Unlock()
	if ended {
		co.remove(c)
	}
}

// EndCall is a no-op for unknown or already ended calls.
func (co *Coordinator) EndCall(id domain.CallID) bool {
	return co.end(id, domain.EndReasonHangup)
}

// EndAll hangs up every live call and returns how many ended.
func (co *Coordinator) EndAll() int {
	co.mu.RLock()
	ids := make([]domain.CallID, 0, len(co.calls))
	for id := range co.calls {
		ids = append(ids, id)
	}
	co.mu.RUnlock()

	n := 0
	for _, id := range ids {
		if co.EndCall(id) {
			n++
		}
	}
	return n
}

func (co *Coordinator) expire(id domain.CallID) {
	c, ok := co.lookup(id)
	if !ok {
		return
	}
	c.mu.Lock()
	ended := false
	if c.status == domain.CallStatusRinging {
		ended = co.endLocked(c, domain.EndReasonTimeout)
	}
	c.mu.Unlock()
	if ended {
		log.Info().Str("module", "calls").Str("call", string(id)).Msg("ring timeout")
		co.remove(c)
	}
}

func (co *Coordinator) end(id domain.CallID, reason string) bool {
	c, ok := co.lookup(id)
	if !ok {
		return false
	}
	c.mu.Lock()
	ended := co.endLocked(c, reason)
	c.mu.Unlock()
	if ended {
		co.remove(c)
	}
	return ended
}

// endLocked performs the single transition to ended and notifies once.
func (co *Coordinator) endLocked(c *activeCall, reason string) bool {
	if !c.setStatus(domain.CallStatusEnded) {
		return false
	}
	c.stopRing()
	co.notifyJoinedLocked(c, domain.CallEnded{CallID: c.id, Reason: reason})
	co.conf.Metrics.CallEnded(reason)
	log.Info().Str("module", "calls").Str("call", string(c.id)).Str("reason", reason).Msg("call ended")
	return true
}

func (co *Coordinator) remove(c *activeCall) {
	co.mu.Lock()
	removed := false
	if cur, ok := co.calls[c.id]; ok && cur == c {
		delete(co.calls, c.id)
		removed = true
	}
	co.mu.Unlock()
	if removed && co.conf.Ended != nil {
		co.conf.Ended(c.id)
	}
}

// HandleSignalingMessage relays an opaque payload to a joined participant.
// kind is not interpreted.
func (co *Coordinator) HandleSignalingMessage(id domain.CallID, from, to domain.UserID, kind domain.SignalKind, payload json.RawMessage) bool {
	c, ok := co.lookup(id)
	if !ok {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == domain.CallStatusEnded {
		return false
	}
	target, ok := c.participants[to]
	if !ok || !target.Joined {
		return false
	}
	if co.conf.StrictSignaling {
		sender, ok := c.participants[from]
		if !ok || !sender.Joined {
			log.Warn().Str("module", "calls").Str("call", string(id)).Str("from", string(from)).Msg("signal from non-joined user dropped")
			return false
		}
	}
	delivered := co.notify.SendToUser(to, domain.WebRTCSignaling{
		CallID:     id,
		FromUserID: from,
		Type:       kind,
		Data:       payload,
	})
	if delivered {
		co.conf.Metrics.SignalRelayed()
	}
	return delivered
}

func (co *Coordinator) ToggleMute(id domain.CallID, user domain.UserID, muted bool) {
	co.updateParticipant(id, user, func(p *domain.Participant) domain.Event {
		p.Muted = muted
		return domain.ParticipantMuteChanged{CallID: id, UserID: user, Muted: muted}
	})
}

func (co *Coordinator) ToggleVideo(id domain.CallID, user domain.UserID, videoEnabled bool) {
	co.updateParticipant(id, user, func(p *domain.Participant) domain.Event {
		p.VideoEnabled = videoEnabled
		return domain.ParticipantVideoChanged{CallID: id, UserID: user, VideoEnabled: videoEnabled}
	})
}

func (co *Coordinator) updateParticipant(id domain.CallID, user domain.UserID, apply func(*domain.Participant) domain.Event) {
	c, ok := co.lookup(id)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == domain.CallStatusEnded {
		return
	}
	p, ok := c.participants[user]
	if !ok {
		return
	}
	co.notifyJoinedLocked(c, apply(p))
}

// DropSession makes user leave every call joined through session sid.
func (co *Coordinator) DropSession(user domain.UserID, sid string) []domain.CallID {
	var ids []domain.CallID
	co.mu.RLock()
	for id, c := range co.calls {
		c.mu.Lock()
		if p, ok := c.participants[user]; ok && p.Joined && p.SessionID == sid {
			ids = append(ids, id)
		}
		c.mu.Unlock()
	}
	co.mu.RUnlock()

	for _, id := range ids {
		co.LeaveCall(id, user)
	}
	return ids
}

func (co *Coordinator) GetActiveCall(id domain.CallID) (domain.CallSnapshot, bool) {
	c, ok := co.lookup(id)
	if !ok {
		return domain.CallSnapshot{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == domain.CallStatusEnded {
		return domain.CallSnapshot{}, false
	}
	return c.snapshot(), true
}

// UserActiveCalls lists the calls the user is on the roster of.
func (co *Coordinator) UserActiveCalls(user domain.UserID) []domain.CallSnapshot {
	co.mu.RLock()
	defer co.mu.RUnlock()
	var out []domain.CallSnapshot
	for _, c := range co.calls {
		c.mu.Lock()
		if _, ok := c.participants[user]; ok && c.status != domain.CallStatusEnded {
			out = append(out, c.snapshot())
		}
		c.mu.Unlock()
	}
	return out
}

func (co *Coordinator) ActiveCount() int {
	co.mu.RLock()
	defer co.mu.RUnlock()
	return len(co.calls)
}

// Close stops every ring timer. Calls are not notified.
func (co *Coordinator) Close() {
	co.mu.Lock()
	defer co.mu.Unlock()
	for _, c := range co.calls {
		c.mu.Lock()
		c.stopRing()
		c.mu.Unlock()
	}
}

func (co *Coordinator) notifyJoinedLocked(c *activeCall, ev domain.Event) {
	for _, uid := range c.joined() {
		co.notify.SendToUser(uid, ev)
	}
}
