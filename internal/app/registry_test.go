package app

import (
	"testing"
	"time"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/core/coretest"
	"github.com/dkeye/Chat/internal/domain"
)

func TestRegistryPresenceLifecycle(t *testing.T) {
	r := NewRegistry()
	phone, _ := coretest.NewSession("phone", "u1")
	laptop, _ := coretest.NewSession("laptop", "u1")

	if first, _ := r.Bind(phone); !first {
		t.Fatal("first session should report first=true")
	}
	if first, _ := r.Bind(laptop); first {
		t.Fatal("second session should report first=false")
	}
	if !r.IsOnline("u1") || len(r.SessionsOf("u1")) != 2 {
		t.Fatal("user should be online with two sessions")
	}

	if _, last, ok := r.Unbind(phone.ID()); !ok || last {
		t.Fatalf("unbinding first device: ok=%v last=%v", ok, last)
	}
	if _, last, ok := r.Unbind(laptop.ID()); !ok || !last {
		t.Fatalf("unbinding last device: ok=%v last=%v", ok, last)
	}
	if r.IsOnline("u1") {
		t.Fatal("user still online after last unbind")
	}
	if _, _, ok := r.Unbind(laptop.ID()); ok {
		t.Fatal("double unbind should report ok=false")
	}
}

func TestRegistryIgnoresUnauthenticated(t *testing.T) {
	r := NewRegistry()
	s, _ := coretest.NewSession("anon", "")
	if first, _ := r.Bind(s); first {
		t.Fatal("unauthenticated session was bound")
	}
	if n, _ := r.Count(); n != 0 {
		t.Fatalf("registry holds %d sessions", n)
	}
}

func TestRegistryEvictsOldest(t *testing.T) {
	r := NewRegistry()
	r.MaxPerUser = 2
	old, _ := coretest.NewSession("old", "u1")
	time.Sleep(2 * time.Millisecond)
	mid, _ := coretest.NewSession("mid", "u1")
	time.Sleep(2 * time.Millisecond)
	fresh, _ := coretest.NewSession("new", "u1")

	r.Bind(old)
	r.Bind(mid)
	_, evicted := r.Bind(fresh)
	if len(evicted) != 1 || evicted[0] != old {
		t.Fatalf("evicted = %v, want [old]", evicted)
	}
	if _, ok := r.GetSession(old.ID()); ok {
		t.Fatal("evicted session still registered")
	}
}

func TestRegistryOthers(t *testing.T) {
	r := NewRegistry()
	a, _ := coretest.NewSession("a", "u1")
	b, _ := coretest.NewSession("b", "u2")
	r.Bind(a)
	r.Bind(b)
	others := r.Others(a.ID())
	if len(others) != 1 || others[0] != b {
		t.Fatalf("Others = %v", others)
	}
	if got := r.OnlineUsers(); len(got) != 2 || got[0] != "u1" {
		t.Fatalf("OnlineUsers = %v", got)
	}
}

func TestRoomManagerJoinLeave(t *testing.T) {
	m := NewRoomManager()
	s, _ := coretest.NewSession("a", "u1")
	name := domain.ConversationRoom("c1")

	if !m.Join(name, s) || m.Join(name, s) {
		t.Fatal("Join should be idempotent")
	}
	if !s.InRoom(name) {
		t.Fatal("session label set not updated")
	}
	if room, ok := m.Get(name); !ok || room.MemberCount() != 1 {
		t.Fatal("room missing after join")
	}
	if !m.Leave(name, s) || m.Leave(name, s) {
		t.Fatal("Leave should be idempotent")
	}
	if _, ok := m.Get(name); ok {
		t.Fatal("empty room not dropped")
	}
}

func TestRoomManagerLeaveAll(t *testing.T) {
	m := NewRoomManager()
	a, _ := coretest.NewSession("a", "u1")
	b, _ := coretest.NewSession("b", "u2")
	m.Join(domain.UserRoom("u1"), a)
	m.Join(domain.ConversationRoom("c1"), a)
	m.Join(domain.ConversationRoom("c1"), b)

	if left := m.LeaveAll(a); len(left) != 2 {
		t.Fatalf("LeaveAll returned %v", left)
	}
	rooms := map[domain.RoomName]int{}
	for _, info := range m.List() {
		rooms[info.Name] = info.MemberCount
	}
	if _, ok := rooms[domain.UserRoom("u1")]; ok {
		t.Error("personal room survived")
	}
	if rooms[domain.ConversationRoom("c1")] != 1 {
		t.Errorf("c1 members = %d, want 1", rooms[domain.ConversationRoom("c1")])
	}
}

var _ core.RoomManager = (*RoomManagerImpl)(nil)
