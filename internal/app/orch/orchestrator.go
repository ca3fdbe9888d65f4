// Package orch ties presence, rooms and calls together. The signal adapter
// calls into it once per client event; everything it emits goes out through
// the sessions' non-blocking send queues.
package orch

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Chat/internal/app"
	"github.com/dkeye/Chat/internal/app/calls"
	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/dkeye/Chat/internal/metrics"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnauthenticated = errors.New("not authenticated")
	ErrAccessDenied    = errors.New("access denied to conversation")
	ErrJoinCall        = errors.New("failed to join call")
	ErrBadRequest      = errors.New("invalid payload")
	// ErrInternal is what clients see for any collaborator failure.
	ErrInternal = errors.New("internal error")
)

type Options struct {
	// BootstrapRooms is the number of conversations joined on connect.
	BootstrapRooms int
	// AuthorizeRooms checks conversation membership before joining a room
	// or starting a call in it.
	AuthorizeRooms bool
	// LeaveCallsOnDisconnect makes a lost connection leave its calls.
	LeaveCallsOnDisconnect bool
}

type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomManager
	Policy   app.Policy
	Calls    *calls.Coordinator

	Directory core.ConversationDirectory
	Messages  core.MessageStore
	Status    core.StatusStore
	Sink      core.EventSink
	Metrics   *metrics.Metrics

	Options Options
}

// Connect admits an authenticated session: presence, personal room,
// conversation bootstrap, then the online broadcast to everybody else.
func (o *Orchestrator) Connect(ctx context.Context, s *core.Session) error {
	uid := s.UserID()
	if uid == "" {
		s.Signal().Close()
		return ErrUnauthenticated
	}

	_, evicted := o.Registry.Bind(s)
	for _, old := range evicted {
		log.Info().Str("module", "orch").Str("sid", string(old.ID())).Str("user", string(uid)).Msg("evicting oldest connection")
		o.release(ctx, old, false)
		old.Signal().Close()
	}

	o.Rooms.Join(domain.UserRoom(uid), s)
	o.bootstrap(ctx, s)

	now := time.Now()
	if err := o.status().UpdateStatus(ctx, uid, domain.StatusOnline, now); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("user", string(uid)).Msg("status update failed")
	}
	ev := domain.UserStatusChange{UserID: uid, Status: domain.StatusOnline, LastSeen: now}
	o.emitAll(o.Registry.Others(s.ID()), ev)
	o.publish(ctx, "presence."+string(uid), ev)

	o.Metrics.ConnectionOpened()
	o.updateOnline()
	log.Info().Str("module", "orch").Str("sid", string(s.ID())).Str("user", string(uid)).Msg("connected")
	return nil
}

func (o *Orchestrator) bootstrap(ctx context.Context, s *core.Session) {
	if o.Directory == nil || o.Options.BootstrapRooms <= 0 {
		return
	}
	convs, err := o.Directory.ListConversations(ctx, s.UserID(), o.Options.BootstrapRooms)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("user", string(s.UserID())).Msg("conversation bootstrap failed")
		return
	}
	for _, id := range convs {
		o.Rooms.Join(domain.ConversationRoom(id), s)
	}
	log.Debug().Str("module", "orch").Str("sid", string(s.ID())).Int("rooms", len(convs)).Msg("bootstrapped rooms")
}

// Disconnect is a no-op for sessions that never got an identity or were
// already removed.
func (o *Orchestrator) Disconnect(ctx context.Context, sid core.SessionID) {
	s, ok := o.Registry.GetSession(sid)
	if !ok {
		return
	}
	o.cleanup(ctx, s)
}

func (o *Orchestrator) cleanup(ctx context.Context, s *core.Session) {
	_, last, ok := o.Registry.Unbind(s.ID())
	if !ok {
		return
	}
	o.release(ctx, s, last)
}

// release drops the calls and rooms of a session already out of the
// registry. announce is false for evictions, where the user stays online
// through the newer connection.
func (o *Orchestrator) release(ctx context.Context, s *core.Session, announce bool) {
	if !s.Release() {
		return
	}
	uid := s.UserID()
	if o.Calls != nil && o.Options.LeaveCallsOnDisconnect {
		o.Calls.DropSession(uid, string(s.ID()))
	}
	o.Rooms.LeaveAll(s)
	o.Metrics.ConnectionClosed()
	o.updateOnline()
	log.Info().Str("module", "orch").Str("sid", string(s.ID())).Str("user", string(uid)).Bool("offline", announce).Msg("disconnected")

	if !announce {
		return
	}
	now := time.Now()
	if err := o.status().UpdateStatus(ctx, uid, domain.StatusOffline, now); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("user", string(uid)).Msg("status update failed")
	}
	ev := domain.UserStatusChange{UserID: uid, Status: domain.StatusOffline, LastSeen: now}
	o.emitAll(o.Registry.All(), ev)
	o.publish(ctx, "presence."+string(uid), ev)
}

// Kick closes a session and cleans it up as a normal disconnect.
func (o *Orchestrator) Kick(s *core.Session) {
	o.Metrics.SlowConsumerKicked()
	s.Signal().Close()
	o.cleanup(context.Background(), s)
}

// SendToUser emits ev on every live connection of user. It reports whether at
// least one connection accepted the frame.
func (o *Orchestrator) SendToUser(user domain.UserID, ev domain.Event) bool {
	sessions := o.Registry.SessionsOf(user)
	if len(sessions) == 0 {
		return false
	}
	delivered := false
	for _, s := range sessions {
		if o.emit(nil, s, ev) {
			delivered = true
		}
	}
	return delivered
}

// SendToConversation pushes a freshly stored message to the conversation room.
func (o *Orchestrator) SendToConversation(msg domain.NewMessage) int {
	return o.BroadcastToRoom(domain.ConversationRoom(msg.ConversationID), msg)
}

func (o *Orchestrator) emitAll(sessions []*core.Session, ev domain.Event) {
	for _, s := range sessions {
		o.emit(nil, s, ev)
	}
}

// emit sends one event to one session and applies the policy when the
// session's queue is full.
func (o *Orchestrator) emit(room core.RoomService, s *core.Session, ev domain.Event) bool {
	err := s.Emit(ev)
	if err == nil {
		return true
	}
	if errors.Is(err, core.ErrBackpressure) {
		o.backpressure(room, s)
	}
	return false
}

func (o *Orchestrator) backpressure(room core.RoomService, s *core.Session) {
	o.Metrics.EventDropped()
	if o.Policy == nil {
		return
	}
	switch o.Policy.OnBackPressure(room, s) {
	case app.KickMember:
		log.Warn().Str("module", "orch").Str("sid", string(s.ID())).Str("user", string(s.UserID())).Msg("slow consumer kicked")
		go o.Kick(s)
	case app.DropFrame, app.NoAction:
	}
}

func (o *Orchestrator) publish(ctx context.Context, subject string, ev domain.Event) {
	if o.Sink == nil {
		return
	}
	if err := o.Sink.Publish(ctx, subject, ev); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("subject", subject).Msg("publish failed")
	}
}

// CallEnded empties the room of a call that just ended.
func (o *Orchestrator) CallEnded(id domain.CallID) {
	o.EvictRoom(domain.CallRoom(id))
}

// Undelivered forwards a call invitation nobody was online to receive.
func (o *Orchestrator) Undelivered(user domain.UserID, ev domain.IncomingCall) {
	o.publish(context.Background(), "undelivered."+string(user), ev)
}

func (o *Orchestrator) status() core.StatusStore {
	if o.Status == nil {
		return core.NopStatusStore{}
	}
	return o.Status
}

func (o *Orchestrator) updateOnline() {
	_, users := o.Registry.Count()
	o.Metrics.SetOnlineUsers(users)
}

// ClientMessage is the text put into an error event for err. Refusals keep
// their message; anything else is reported as an internal error.
func ClientMessage(err error) string {
	for _, known := range []error{ErrUnauthenticated, ErrAccessDenied, ErrJoinCall, ErrBadRequest, calls.ErrCallExists, calls.ErrInvalidMediaKind} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	if errors.Is(err, core.ErrNotFound) || errors.Is(err, core.ErrForbidden) {
		return err.Error()
	}
	return ErrInternal.Error()
}
