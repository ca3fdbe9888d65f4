package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/dkeye/Chat/internal/domain"
)

func TestPresenceKey(t *testing.T) {
	if got := presenceKey("u1"); got != "chat:presence:u1" {
		t.Fatalf("key = %q", got)
	}
}

func TestEncode(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1:0", Gateway: "gw-1"})
	defer s.Close()
	seen := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	raw, err := s.encode(domain.StatusOffline, seen)
	if err != nil {
		t.Fatal(err)
	}
	var p Presence
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatal(err)
	}
	if p.Status != domain.StatusOffline || p.Gateway != "gw-1" || !p.LastSeen.Equal(seen) {
		t.Fatalf("presence = %+v", p)
	}
	if p.LastSeen.Location() != time.UTC {
		t.Fatal("lastSeen should be stored in UTC")
	}
}

func TestDefaultTTL(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1:0"})
	defer s.Close()
	if s.ttl != 2*time.Minute {
		t.Fatalf("ttl = %v", s.ttl)
	}
}

func TestUnreachableServerReportsError(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1:1"})
	defer s.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.UpdateStatus(ctx, "u1", domain.StatusOnline, time.Now()); err == nil {
		t.Fatal("expected an error without a server")
	}
	if _, _, err := s.Lookup(ctx, "u1"); err == nil {
		t.Fatal("expected an error without a server")
	}
}
