package orch

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/rs/zerolog/log"
)

// JoinRoom is idempotent. Unauthenticated and released sessions are refused.
func (o *Orchestrator) JoinRoom(s *core.Session, name domain.RoomName) bool {
	if !s.Authenticated() || s.Released() {
		return false
	}
	added := o.Rooms.Join(name, s)
	// release may have run LeaveAll between the check and the join
	if s.Released() {
		o.Rooms.Leave(name, s)
		return false
	}
	if added {
		log.Debug().Str("module", "orch").Str("sid", string(s.ID())).Str("room", string(name)).Msg("joined room")
	}
	return added
}

func (o *Orchestrator) LeaveRoom(s *core.Session, name domain.RoomName) bool {
	return o.Rooms.Leave(name, s)
}

// EvictRoom removes every member of the room, which drops the room itself.
func (o *Orchestrator) EvictRoom(name domain.RoomName) {
	room, ok := o.Rooms.Get(name)
	if !ok {
		return
	}
	for _, m := range room.Members() {
		o.Rooms.Leave(name, m)
	}
	o.Rooms.StopRoom(name)
}

// BroadcastToRoom delivers ev to every member of the room, sender included.
func (o *Orchestrator) BroadcastToRoom(name domain.RoomName, ev domain.Event) int {
	return o.broadcast(name, "", ev)
}

// BroadcastToRoomExceptSender skips the sender's own connection only; the
// sender's other devices still receive the event.
func (o *Orchestrator) BroadcastToRoomExceptSender(name domain.RoomName, sender core.SessionID, ev domain.Event) int {
	return o.broadcast(name, sender, ev)
}

func (o *Orchestrator) broadcast(name domain.RoomName, from core.SessionID, ev domain.Event) int {
	room, ok := o.Rooms.Get(name)
	if !ok {
		return 0
	}
	frame, err := core.Encode(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("event", string(ev.EventName())).Msg("encode failed")
		return 0
	}
	res := room.Broadcast(from, frame)
	for _, slow := range res.Dropped {
		o.backpressure(room, slow)
	}
	return res.SendTo
}

func (o *Orchestrator) authorize(ctx context.Context, conv domain.ConversationID, user domain.UserID) error {
	if !o.Options.AuthorizeRooms || o.Directory == nil {
		return nil
	}
	ok, err := o.Directory.IsParticipant(ctx, conv, user)
	if err != nil {
		return fmt.Errorf("check participant: %w", err)
	}
	if !ok {
		return ErrAccessDenied
	}
	return nil
}

// JoinConversation joins the conversation room, marks its messages read and
// acknowledges with joined_conversation.
func (o *Orchestrator) JoinConversation(ctx context.Context, s *core.Session, in domain.ConversationInput) error {
	if in.ConversationID == "" {
		return ErrBadRequest
	}
	uid := s.UserID()
	if err := o.authorize(ctx, in.ConversationID, uid); err != nil {
		return err
	}
	if !o.JoinRoom(s, domain.ConversationRoom(in.ConversationID)) && s.Released() {
		return core.ErrConnectionClosed
	}

	if o.Messages != nil {
		n, err := o.Messages.MarkConversationRead(ctx, in.ConversationID, uid)
		if err != nil {
			return fmt.Errorf("mark conversation read: %w", err)
		}
		log.Debug().Str("module", "orch").Str("user", string(uid)).Str("conversation", string(in.ConversationID)).Int64("marked", n).Msg("conversation read")
	}
	o.emit(nil, s, domain.JoinedConversation{ConversationID: in.ConversationID})
	log.Info().Str("module", "orch").Str("user", string(uid)).Str("conversation", string(in.ConversationID)).Msg("joined conversation")
	return nil
}

func (o *Orchestrator) LeaveConversation(_ context.Context, s *core.Session, in domain.ConversationInput) error {
	if in.ConversationID == "" {
		return ErrBadRequest
	}
	o.LeaveRoom(s, domain.ConversationRoom(in.ConversationID))
	o.emit(nil, s, domain.LeftConversation{ConversationID: in.ConversationID})
	return nil
}

// Typing is only relayed to rooms the session is in.
func (o *Orchestrator) Typing(_ context.Context, s *core.Session, in domain.TypingInput) error {
	if in.ConversationID == "" {
		return ErrBadRequest
	}
	name := domain.ConversationRoom(in.ConversationID)
	if !s.InRoom(name) {
		return nil
	}
	u := s.User()
	o.BroadcastToRoomExceptSender(name, s.ID(), domain.UserTyping{
		UserID:         u.ID,
		ConversationID: in.ConversationID,
		IsTyping:       in.IsTyping,
		User:           u.Ref(),
	})
	return nil
}

// MessageRead stores the receipt and tells the rest of the room. The reader
// must be in the conversation room and the message must belong to it.
func (o *Orchestrator) MessageRead(ctx context.Context, s *core.Session, in domain.MessageReadInput) error {
	if in.ConversationID == "" || in.MessageID == "" {
		return ErrBadRequest
	}
	if !s.InRoom(domain.ConversationRoom(in.ConversationID)) {
		return ErrAccessDenied
	}
	uid := s.UserID()
	readAt := time.Now()
	if o.Messages != nil {
		at, err := o.Messages.MarkMessageRead(ctx, in.ConversationID, in.MessageID, uid)
		if err != nil {
			return fmt.Errorf("mark message read: %w", err)
		}
		readAt = at
	}
	o.BroadcastToRoomExceptSender(domain.ConversationRoom(in.ConversationID), s.ID(), domain.MessageReadReceipt{
		MessageID:      in.MessageID,
		ConversationID: in.ConversationID,
		ReadBy:         uid,
		ReadAt:         readAt,
	})
	return nil
}
