package core

import (
	"errors"
	"sync"

	"github.com/dkeye/Chat/internal/domain"
	"github.com/rs/zerolog/log"
)

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	room  *domain.Room
	mu    sync.RWMutex
	bySID map[SessionID]*Session

	// sendMu serializes broadcasts so every member sees this room's events
	// in call order.
	sendMu sync.Mutex
}

func NewRoomService(room *domain.Room) RoomService {
	return &roomImpl{
		room:  room,
		bySID: make(map[SessionID]*Session),
	}
}

func (r *roomImpl) Room() *domain.Room { return r.room }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySID)
}

func (r *roomImpl) Members() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.bySID))
	for _, s := range r.bySID {
		out = append(out, s)
	}
	return out
}

func (r *roomImpl) AddMember(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySID[s.ID()]; ok {
		return false
	}
	r.bySID[s.ID()] = s
	log.Debug().Str("module", "core.room").Str("room", string(r.room.Name)).Str("sid", string(s.ID())).Msg("member added")
	return true
}

func (r *roomImpl) RemoveMember(sid SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySID[sid]; !ok {
		return false
	}
	delete(r.bySID, sid)
	log.Debug().Str("module", "core.room").Str("room", string(r.room.Name)).Str("sid", string(sid)).Msg("member removed")
	return true
}

func (r *roomImpl) Broadcast(from SessionID, data Frame) PublishResult {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	res := PublishResult{}
	for _, m := range r.Members() {
		if from != "" && m.ID() == from {
			continue
		}
		if err := m.Signal().TrySend(data); err != nil {
			// closed connections are already on their way out
			if errors.Is(err, ErrBackpressure) {
				res.Dropped = append(res.Dropped, m)
			}
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("room", string(r.room.Name)).Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}
