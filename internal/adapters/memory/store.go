// Package memory backs the collaborator interfaces when no database is
// configured. Any token subject is accepted as a user and every user may
// enter every conversation unless memberships were added explicitly.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
)

var (
	ErrNotParticipant    = fmt.Errorf("you are not a participant in this conversation: %w", core.ErrForbidden)
	ErrOwnMessage        = fmt.Errorf("you cannot mark your own messages as read: %w", core.ErrForbidden)
	ErrWrongConversation = fmt.Errorf("message does not belong to this conversation: %w", core.ErrForbidden)
)

type message struct {
	conv   domain.ConversationID
	sender domain.UserID
}

type receiptKey struct {
	msg  domain.MessageID
	user domain.UserID
}

type Store struct {
	mu       sync.RWMutex
	users    map[domain.UserID]*domain.User
	members  map[domain.ConversationID]map[domain.UserID]struct{}
	messages map[domain.MessageID]message
	receipts map[receiptKey]time.Time
	status   map[domain.UserID]domain.PresenceStatus
}

func New() *Store {
	return &Store{
		users:    make(map[domain.UserID]*domain.User),
		members:  make(map[domain.ConversationID]map[domain.UserID]struct{}),
		messages: make(map[domain.MessageID]message),
		receipts: make(map[receiptKey]time.Time),
		status:   make(map[domain.UserID]domain.PresenceStatus),
	}
}

func (s *Store) AddUser(u *domain.User) {
	s.mu.Lock()
	s.users[u.ID] = u
	s.mu.Unlock()
}

func (s *Store) AddMembers(conv domain.ConversationID, users ...domain.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mm := s.members[conv]
	if mm == nil {
		mm = make(map[domain.UserID]struct{})
		s.members[conv] = mm
	}
	for _, u := range users {
		mm[u] = struct{}{}
	}
}

// AddMessage registers the conversation and sender of a message. Receipts
// for unregistered messages are accepted as is.
func (s *Store) AddMessage(id domain.MessageID, conv domain.ConversationID, sender domain.UserID) {
	s.mu.Lock()
	s.messages[id] = message{conv: conv, sender: sender}
	s.mu.Unlock()
}

// FindUser returns the registered user or one named after its id.
func (s *Store) FindUser(_ context.Context, id domain.UserID) (*domain.User, error) {
	s.mu.RLock()
	u, ok := s.users[id]
	s.mu.RUnlock()
	if ok {
		return u, nil
	}
	return domain.NewUser(string(id), string(id), "")
}

// ListConversations is ordered by id; there is no activity to sort by.
func (s *Store) ListConversations(_ context.Context, user domain.UserID, limit int) ([]domain.ConversationID, error) {
	s.mu.RLock()
	var out []domain.ConversationID
	for conv, mm := range s.members {
		if _, ok := mm[user]; ok {
			out = append(out, conv)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// IsParticipant is true for conversations nobody registered.
func (s *Store) IsParticipant(_ context.Context, conv domain.ConversationID, user domain.UserID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mm, ok := s.members[conv]
	if !ok {
		return true, nil
	}
	_, ok = mm[user]
	return ok, nil
}

func (s *Store) MarkConversationRead(context.Context, domain.ConversationID, domain.UserID) (int64, error) {
	return 0, nil
}

func (s *Store) MarkMessageRead(_ context.Context, conv domain.ConversationID, msg domain.MessageID, user domain.UserID) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.messages[msg]; ok {
		if m.conv != conv {
			return time.Time{}, ErrWrongConversation
		}
		if m.sender == user {
			return time.Time{}, ErrOwnMessage
		}
	}
	if mm, ok := s.members[conv]; ok {
		if _, ok := mm[user]; !ok {
			return time.Time{}, ErrNotParticipant
		}
	}
	k := receiptKey{msg, user}
	if at, ok := s.receipts[k]; ok {
		return at, nil
	}
	at := time.Now()
	s.receipts[k] = at
	return at, nil
}

func (s *Store) UpdateStatus(_ context.Context, user domain.UserID, status domain.PresenceStatus, _ time.Time) error {
	s.mu.Lock()
	s.status[user] = status
	s.mu.Unlock()
	return nil
}

func (s *Store) Status(user domain.UserID) domain.PresenceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.status[user]; ok {
		return st
	}
	return domain.StatusOffline
}
