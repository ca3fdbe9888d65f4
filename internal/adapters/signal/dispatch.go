package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/Chat/internal/app/orch"
	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrUnknownEvent = errors.New("unknown event")

type inbound struct {
	Type domain.EventName `json:"type"`
	Data json.RawMessage  `json:"data"`
}

type handler func(ctx context.Context, s *core.Session, data json.RawMessage) error

// with decodes the event data into T before calling fn.
func with[T any](fn func(context.Context, *core.Session, T) error) handler {
	return func(ctx context.Context, s *core.Session, data json.RawMessage) error {
		var in T
		if len(data) > 0 {
			if err := json.Unmarshal(data, &in); err != nil {
				return fmt.Errorf("%w: %v", orch.ErrBadRequest, err)
			}
		}
		return fn(ctx, s, in)
	}
}

func (ctl *SignalWSController) relay(kind domain.SignalKind) handler {
	return with(func(ctx context.Context, s *core.Session, in domain.SignalInput) error {
		return ctl.Orch.Signal(ctx, s, kind, in)
	})
}

// route returns the handler of an event and whether it is rate limited.
func (ctl *SignalWSController) route(name domain.EventName) (handler, bool) {
	o := ctl.Orch
	switch name {
	case domain.EvJoinConversation:
		return with(o.JoinConversation), false
	case domain.EvLeaveConversation:
		return with(o.LeaveConversation), false
	case domain.EvTyping:
		return with(o.Typing), true
	case domain.EvMessageRead:
		return with(o.MessageRead), false
	case domain.EvInitiateCall:
		return with(o.InitiateCall), false
	case domain.EvJoinCall:
		return with(o.JoinCall), false
	case domain.EvLeaveCall:
		return with(o.LeaveCall), false
	case domain.EvWebRTCOffer:
		return ctl.relay(domain.SignalOffer), true
	case domain.EvWebRTCAnswer:
		return ctl.relay(domain.SignalAnswer), true
	case domain.EvWebRTCICE:
		return ctl.relay(domain.SignalCandidate), true
	case domain.EvToggleMute:
		return with(o.ToggleMute), false
	case domain.EvToggleVideo:
		return with(o.ToggleVideo), false
	case domain.EvPing:
		return handlePing, false
	}
	return nil, false
}

func handlePing(_ context.Context, s *core.Session, _ json.RawMessage) error {
	return s.Emit(domain.Pong{})
}

// handleSignal runs one client event. Whatever happens stays inside this
// connection: errors become an error event, panics are logged.
func (ctl *SignalWSController) handleSignal(ctx context.Context, s *core.Session, data []byte) {
	var env inbound
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "signal").Str("sid", string(s.ID())).Str("type", string(env.Type)).Interface("panic", r).Msg("handler panic")
			ctl.fail(s, env.Type, orch.ErrInternal)
		}
	}()

	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(s.ID())).Msg("bad json")
		ctl.fail(s, "", orch.ErrBadRequest)
		return
	}
	ctl.Orch.Metrics.EventReceived(string(env.Type))

	h, limited := ctl.route(env.Type)
	if h == nil {
		ctl.fail(s, env.Type, fmt.Errorf("%w: %s", ErrUnknownEvent, env.Type))
		return
	}
	if limited && !ctl.Limiter.Allow(s.UserID()) {
		ctl.Orch.Metrics.EventDropped()
		log.Debug().Str("module", "signal").Str("user", string(s.UserID())).Str("type", string(env.Type)).Msg("rate limited")
		return
	}

	hctx, cancel := context.WithTimeout(ctx, ctl.Settings.HandlerTimeout)
	defer cancel()
	if err := h(hctx, s, env.Data); err != nil {
		ctl.fail(s, env.Type, err)
	}
}

func (ctl *SignalWSController) fail(s *core.Session, event domain.EventName, err error) {
	msg := orch.ClientMessage(err)
	if errors.Is(err, ErrUnknownEvent) {
		msg = err.Error()
	}
	level := zerolog.WarnLevel
	if msg == orch.ErrInternal.Error() {
		level = zerolog.ErrorLevel
	}
	log.WithLevel(level).Err(err).Str("module", "signal").Str("sid", string(s.ID())).Str("user", string(s.UserID())).Str("type", string(event)).Msg("event failed")
	_ = s.Emit(domain.Error{Message: msg})
}
