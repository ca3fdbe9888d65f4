package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/rs/zerolog/log"
)

// InitiateCall starts a ringing call and answers call_initiated to the caller.
// The call id is always generated here.
func (o *Orchestrator) InitiateCall(ctx context.Context, s *core.Session, in domain.InitiateCallInput) error {
	if in.ConversationID == "" {
		return ErrBadRequest
	}
	uid := s.UserID()
	if err := o.authorize(ctx, in.ConversationID, uid); err != nil {
		return err
	}
	snap, err := o.Calls.InitiateCall("", in.ConversationID, uid, in.Type, in.ParticipantIDs)
	if err != nil {
		return fmt.Errorf("initiate call: %w", err)
	}
	o.emit(nil, s, domain.CallInitiated{CallID: snap.ID})
	return nil
}

// JoinCall reports ErrJoinCall for unknown, ended or foreign calls.
func (o *Orchestrator) JoinCall(_ context.Context, s *core.Session, in domain.CallInput) error {
	if in.CallID == "" {
		return ErrBadRequest
	}
	if s.Released() {
		return core.ErrConnectionClosed
	}
	if !o.Calls.JoinCall(in.CallID, s.UserID(), string(s.ID())) {
		return ErrJoinCall
	}
	// a release that raced the join has already dropped its calls
	if !o.JoinRoom(s, domain.CallRoom(in.CallID)) && s.Released() {
		o.Calls.DropSession(s.UserID(), string(s.ID()))
		return core.ErrConnectionClosed
	}
	o.emit(nil, s, domain.CallJoined{CallID: in.CallID, ICEServers: o.Calls.ICEServers()})
	return nil
}

func (o *Orchestrator) LeaveCall(_ context.Context, s *core.Session, in domain.CallInput) error {
	if in.CallID == "" {
		return ErrBadRequest
	}
	o.Calls.LeaveCall(in.CallID, s.UserID())
	o.LeaveRoom(s, domain.CallRoom(in.CallID))
	o.emit(nil, s, domain.CallLeft{CallID: in.CallID})
	return nil
}

// Signal relays an offer, answer or candidate. A relay that finds no target
// is dropped quietly.
func (o *Orchestrator) Signal(_ context.Context, s *core.Session, kind domain.SignalKind, in domain.SignalInput) error {
	if in.CallID == "" || in.ToUserID == "" {
		return ErrBadRequest
	}
	if !o.Calls.HandleSignalingMessage(in.CallID, s.UserID(), in.ToUserID, kind, in.Payload()) {
		log.Debug().Str("module", "orch").Str("call", string(in.CallID)).Str("from", string(s.UserID())).Str("to", string(in.ToUserID)).Str("kind", string(kind)).Msg("signal not relayed")
	}
	return nil
}

func (o *Orchestrator) ToggleMute(_ context.Context, s *core.Session, in domain.ToggleMuteInput) error {
	if in.CallID == "" {
		return ErrBadRequest
	}
	o.Calls.ToggleMute(in.CallID, s.UserID(), in.Muted)
	return nil
}

func (o *Orchestrator) ToggleVideo(_ context.Context, s *core.Session, in domain.ToggleVideoInput) error {
	if in.CallID == "" {
		return ErrBadRequest
	}
	o.Calls.ToggleVideo(in.CallID, s.UserID(), in.VideoEnabled)
	return nil
}
