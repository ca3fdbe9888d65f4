package core_test

import (
	"fmt"
	"testing"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/core/coretest"
	"github.com/dkeye/Chat/internal/domain"
)

func TestRoomBroadcastExcludesSender(t *testing.T) {
	room := core.NewRoomService(domain.NewRoom(domain.ConversationRoom("c1")))
	a, connA := coretest.NewSession("a", "ua")
	b, connB := coretest.NewSession("b", "ub")
	room.AddMember(a)
	room.AddMember(b)

	res := room.Broadcast(a.ID(), core.Frame(`{"type":"user_typing","data":{}}`))
	if res.SendTo != 1 {
		t.Fatalf("SendTo = %d, want 1", res.SendTo)
	}
	if len(connA.Events()) != 0 {
		t.Error("sender received its own echo")
	}
	if connB.Count(domain.EvUserTyping) != 1 {
		t.Error("peer did not receive broadcast")
	}

	res = room.Broadcast("", core.Frame(`{"type":"new_message","data":{}}`))
	if res.SendTo != 2 {
		t.Fatalf("SendTo = %d, want 2", res.SendTo)
	}
}

func TestRoomBroadcastOrder(t *testing.T) {
	room := core.NewRoomService(domain.NewRoom(domain.ConversationRoom("c1")))
	s, conn := coretest.NewSession("a", "ua")
	room.AddMember(s)

	for i := 0; i < 20; i++ {
		room.Broadcast("", core.Frame(fmt.Sprintf(`{"type":"e%d","data":{}}`, i)))
	}
	for i, name := range conn.Names() {
		if want := domain.EventName(fmt.Sprintf("e%d", i)); name != want {
			t.Fatalf("event %d = %s, want %s", i, name, want)
		}
	}
}

func TestRoomBroadcastReportsDropped(t *testing.T) {
	room := core.NewRoomService(domain.NewRoom(domain.CallRoom("x")))
	slow, slowConn := coretest.NewSession("slow", "u1")
	slowConn.Limit = 1
	fast, _ := coretest.NewSession("fast", "u2")
	room.AddMember(slow)
	room.AddMember(fast)

	room.Broadcast("", core.Frame(`{"type":"a","data":{}}`))
	res := room.Broadcast("", core.Frame(`{"type":"b","data":{}}`))
	if res.SendTo != 1 || len(res.Dropped) != 1 || res.Dropped[0] != slow {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRoomBroadcastSkipsClosedWithoutDropping(t *testing.T) {
	room := core.NewRoomService(domain.NewRoom(domain.ConversationRoom("c1")))
	gone, goneConn := coretest.NewSession("gone", "u1")
	live, _ := coretest.NewSession("live", "u2")
	room.AddMember(gone)
	room.AddMember(live)
	goneConn.Close()

	res := room.Broadcast("", core.Frame(`{"type":"a","data":{}}`))
	if res.SendTo != 1 || len(res.Dropped) != 0 {
		t.Fatalf("closed member counted as dropped: %+v", res)
	}
}

func TestSessionRelease(t *testing.T) {
	s, _ := coretest.NewSession("a", "u")
	if s.Released() {
		t.Fatal("new session reported released")
	}
	if !s.Release() || s.Release() {
		t.Fatal("Release should report only the first call")
	}
	if !s.Released() {
		t.Fatal("Released false after Release")
	}
}

func TestRoomMembershipIdempotent(t *testing.T) {
	room := core.NewRoomService(domain.NewRoom(domain.UserRoom("u")))
	s, _ := coretest.NewSession("a", "u")
	if !room.AddMember(s) || room.AddMember(s) {
		t.Fatal("AddMember should report only the first insert")
	}
	if room.MemberCount() != 1 {
		t.Fatalf("MemberCount = %d", room.MemberCount())
	}
	if !room.RemoveMember(s.ID()) || room.RemoveMember(s.ID()) {
		t.Fatal("RemoveMember should report only the first removal")
	}
}

func TestSessionRooms(t *testing.T) {
	s, conn := coretest.NewSession("a", "")
	if s.Authenticated() {
		t.Fatal("session without identity reported authenticated")
	}
	s.AddRoom("user:u")
	s.AddRoom("conversation:c")
	if !s.InRoom("user:u") {
		t.Fatal("InRoom false after AddRoom")
	}
	if got := len(s.TakeRooms()); got != 2 {
		t.Fatalf("TakeRooms returned %d rooms", got)
	}
	if len(s.Rooms()) != 0 {
		t.Fatal("rooms not cleared")
	}
	if err := s.Emit(domain.Pong{}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if conn.Count(domain.EvPong) != 1 {
		t.Fatal("pong not queued")
	}
}
