// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const (
	MaxUserIDLen   = 36
	MaxUsernameLen = 64
)

var (
	ErrUserIDEmpty   = errors.New("user id empty")
	ErrUserIDTooLong = errors.New("user id too long")
)

type UserID string

// User is the identity attached to a connection after the credential is verified.
type User struct {
	ID    UserID `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(id, name, email string) (*User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return nil, ErrUserIDTooLong
	}
	name = strings.TrimSpace(name)
	if len(name) > MaxUsernameLen {
		name = name[:MaxUsernameLen]
	}
	return &User{ID: UserID(id), Name: name, Email: strings.TrimSpace(email)}, nil
}

// UserRef is the short user view embedded in events.
type UserRef struct {
	ID   UserID `json:"id"`
	Name string `json:"name"`
}

func (u *User) Ref() UserRef {
	return UserRef{ID: u.ID, Name: u.Name}
}
