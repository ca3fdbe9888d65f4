package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
)

var (
	_ core.UserFinder            = (*Store)(nil)
	_ core.ConversationDirectory = (*Store)(nil)
	_ core.MessageStore          = (*Store)(nil)
	_ core.StatusStore           = (*Store)(nil)
)

func TestDirectory(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.AddMembers("c2", "A")
	s.AddMembers("c1", "A", "B")
	s.AddMembers("c3", "A")

	got, _ := s.ListConversations(ctx, "A", 2)
	if len(got) != 2 || got[0] != "c1" || got[1] != "c2" {
		t.Fatalf("got %v", got)
	}
	if ok, _ := s.IsParticipant(ctx, "c2", "B"); ok {
		t.Fatal("B is not in c2")
	}
	if ok, _ := s.IsParticipant(ctx, "open", "B"); !ok {
		t.Fatal("unregistered conversations are open")
	}
}

func TestUsersAndReceipts(t *testing.T) {
	s := New()
	ctx := context.Background()
	u, err := s.FindUser(ctx, "zed")
	if err != nil || u.Name != "zed" {
		t.Fatalf("FindUser = %+v, %v", u, err)
	}
	first, _ := s.MarkMessageRead(ctx, "c1", "m1", "A")
	again, _ := s.MarkMessageRead(ctx, "c1", "m1", "A")
	if !first.Equal(again) {
		t.Fatal("second read should return the first receipt")
	}
	s.UpdateStatus(ctx, "A", domain.StatusOnline, first)
	if s.Status("A") != domain.StatusOnline || s.Status("B") != domain.StatusOffline {
		t.Fatal("status not tracked")
	}
}

func TestReadRules(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.AddMembers("c1", "A", "B")
	s.AddMembers("c2", "C")
	s.AddMessage("m1", "c1", "B")

	tests := []struct {
		name    string
		conv    domain.ConversationID
		user    domain.UserID
		wantErr error
	}{
		{"member reads", "c1", "A", nil},
		{"wrong conversation", "c2", "C", ErrWrongConversation},
		{"own message", "c1", "B", ErrOwnMessage},
		{"outsider", "c1", "C", ErrNotParticipant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.MarkMessageRead(ctx, tt.conv, "m1", tt.user)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil && !errors.Is(err, core.ErrForbidden) {
				t.Fatalf("%v should be a refusal", err)
			}
		})
	}
}
