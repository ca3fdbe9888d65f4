package core

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Chat/internal/domain"
)

// Collaborators wrap these so the gateway can tell a refusal from a failure.
var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
)

// IdentityVerifier turns a bearer credential into a user identity.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (*domain.User, error)
}

type UserFinder interface {
	FindUser(ctx context.Context, id domain.UserID) (*domain.User, error)
}

// ConversationDirectory answers membership questions; it never owns rooms.
type ConversationDirectory interface {
	// ListConversations returns the first `limit` conversations of the user,
	// most recently active first.
	ListConversations(ctx context.Context, user domain.UserID, limit int) ([]domain.ConversationID, error)
	IsParticipant(ctx context.Context, conv domain.ConversationID, user domain.UserID) (bool, error)
}

type MessageStore interface {
	MarkConversationRead(ctx context.Context, conv domain.ConversationID, user domain.UserID) (int64, error)
	// MarkMessageRead refuses a message that is not part of conv.
	MarkMessageRead(ctx context.Context, conv domain.ConversationID, msg domain.MessageID, user domain.UserID) (time.Time, error)
}

// StatusStore persists the online/offline flag of a user.
type StatusStore interface {
	UpdateStatus(ctx context.Context, user domain.UserID, status domain.PresenceStatus, lastSeen time.Time) error
}

// EventSink publishes events to systems outside this process.
type EventSink interface {
	Publish(ctx context.Context, subject string, ev domain.Event) error
}

// MultiStatusStore writes to every store and joins the errors.
type MultiStatusStore []StatusStore

func (m MultiStatusStore) UpdateStatus(ctx context.Context, user domain.UserID, status domain.PresenceStatus, lastSeen time.Time) error {
	var errs []error
	for _, s := range m {
		if err := s.UpdateStatus(ctx, user, status, lastSeen); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type NopStatusStore struct{}

func (NopStatusStore) UpdateStatus(context.Context, domain.UserID, domain.PresenceStatus, time.Time) error {
	return nil
}

type NopEventSink struct{}

func (NopEventSink) Publish(context.Context, string, domain.Event) error { return nil }
