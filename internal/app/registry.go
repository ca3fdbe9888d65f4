package app

import (
	"sort"
	"sync"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/rs/zerolog/log"
)

// Registry is the presence map: user -> live sessions, and sid -> session.
// A user is present iff it has at least one bound session.
type Registry struct {
	// MaxPerUser > 0 caps the sessions of one user; the oldest is evicted.
	MaxPerUser int

	mu       sync.RWMutex
	sessions map[core.SessionID]*core.Session
	byUser   map[domain.UserID]map[core.SessionID]*core.Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*core.Session),
		byUser:   make(map[domain.UserID]map[core.SessionID]*core.Session),
	}
}

// Bind registers an authenticated session. first is true when the user had no
// other session. evicted holds sessions pushed out by MaxPerUser; the caller
// closes them.
func (r *Registry) Bind(s *core.Session) (first bool, evicted []*core.Session) {
	uid := s.UserID()
	if uid == "" {
		return false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	mm := r.byUser[uid]
	if mm == nil {
		mm = make(map[core.SessionID]*core.Session)
		r.byUser[uid] = mm
		first = true
	}
	for r.MaxPerUser > 0 && len(mm) >= r.MaxPerUser {
		var oldest *core.Session
		for _, other := range mm {
			if oldest == nil || other.ConnectedAt().Before(oldest.ConnectedAt()) {
				oldest = other
			}
		}
		delete(mm, oldest.ID())
		delete(r.sessions, oldest.ID())
		evicted = append(evicted, oldest)
	}
	mm[s.ID()] = s
	r.sessions[s.ID()] = s
	log.Info().Str("module", "app.registry").Str("sid", string(s.ID())).Str("user", string(uid)).Int("user_sessions", len(mm)).Msg("bound session")
	return first, evicted
}

// Unbind removes the session. last is true when it was the user's final one.
func (r *Registry) Unbind(sid core.SessionID) (s *core.Session, last bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok = r.sessions[sid]
	if !ok {
		return nil, false, false
	}
	delete(r.sessions, sid)
	uid := s.UserID()
	if mm := r.byUser[uid]; mm != nil {
		delete(mm, sid)
		if len(mm) == 0 {
			delete(r.byUser, uid)
			last = true
		}
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("user", string(uid)).Bool("last", last).Msg("unbind session")
	return s, last, true
}

func (r *Registry) GetSession(sid core.SessionID) (*core.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sid]
	return s, ok
}

func (r *Registry) SessionsOf(uid domain.UserID) []*core.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mm := r.byUser[uid]
	if len(mm) == 0 {
		return nil
	}
	out := make([]*core.Session, 0, len(mm))
	for _, s := range mm {
		out = append(out, s)
	}
	return out
}

func (r *Registry) IsOnline(uid domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[uid]) > 0
}

// OnlineUsers is sorted for stable API output.
func (r *Registry) OnlineUsers() []domain.UserID {
	r.mu.RLock()
	out := make([]domain.UserID, 0, len(r.byUser))
	for uid := range r.byUser {
		out = append(out, uid)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Others returns every bound session except sid.
func (r *Registry) Others(sid core.SessionID) []*core.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*core.Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		if id != sid {
			out = append(out, s)
		}
	}
	return out
}

func (r *Registry) All() []*core.Session { return r.Others("") }

func (r *Registry) Count() (sessions, users int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions), len(r.byUser)
}
