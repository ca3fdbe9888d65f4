package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/Chat/internal/app"
	"github.com/dkeye/Chat/internal/app/calls"
	"github.com/dkeye/Chat/internal/app/orch"
	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type tokens map[string]domain.UserID

func (t tokens) Verify(_ context.Context, token string) (*domain.User, error) {
	uid, ok := t[token]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &domain.User{ID: uid, Name: "user " + string(uid)}, nil
}

func newServer(t *testing.T, limit int) (*httptest.Server, *orch.Orchestrator) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    app.NewRoomManager(),
		Policy:   app.SimplePolicy{},
		Options:  orch.Options{LeaveCallsOnDisconnect: true},
	}
	o.Calls = calls.NewCoordinator(o, calls.Config{Ended: o.CallEnded})
	ctl := NewSignalWSController(o, tokens{"ta": "A", "tb": "B"}, NewUserRateLimiter(limit, time.Minute), Settings{})

	ctx, cancel := context.WithCancel(context.Background())
	r := gin.New()
	r.GET("/chat", func(c *gin.Context) { ctl.HandleSignal(ctx, c) })
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
		o.Calls.Close()
	})
	return srv, o
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat" + query
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "?token="+token), nil)
	if err != nil {
		t.Fatalf("dial %s: %v", token, err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, name domain.EventName, data any) {
	t.Helper()
	if err := ws.WriteJSON(map[string]any{"type": name, "data": data}); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

type frame struct {
	Type domain.EventName `json:"type"`
	Data json.RawMessage  `json:"data"`
}

// next reads frames until one called name arrives; others are returned too.
func next(t *testing.T, ws *websocket.Conn, name domain.EventName) (json.RawMessage, []frame) {
	t.Helper()
	var skipped []frame
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var f frame
		if err := ws.ReadJSON(&f); err != nil {
			t.Fatalf("waiting for %s: %v (skipped %v)", name, err, skipped)
		}
		if f.Type == name {
			return f.Data, skipped
		}
		skipped = append(skipped, f)
	}
}

func waitOnline(t *testing.T, o *orch.Orchestrator, uid domain.UserID, want bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for o.Registry.IsOnline(uid) != want && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if o.Registry.IsOnline(uid) != want {
		t.Fatalf("online(%s) != %v", uid, want)
	}
}

func TestHandshakeRejectsBadCredentials(t *testing.T) {
	srv, o := newServer(t, 0)
	for _, query := range []string{"", "?token=nope"} {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, query), nil)
		if err == nil {
			t.Fatalf("query %q: dial should fail", query)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("query %q: resp = %+v", query, resp)
		}
	}
	if sessions, _ := o.Registry.Count(); sessions != 0 {
		t.Fatalf("sessions = %d", sessions)
	}
}

func TestHandshakeAcceptsBearerHeader(t *testing.T) {
	srv, o := newServer(t, 0)
	h := http.Header{}
	h.Set("Authorization", "Bearer ta")
	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), h)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()
	waitOnline(t, o, "A", true)
}

func TestPresenceRoomsAndTyping(t *testing.T) {
	srv, o := newServer(t, 0)
	a := dial(t, srv, "ta")
	waitOnline(t, o, "A", true)
	b := dial(t, srv, "tb")

	data, _ := next(t, a, domain.EvUserStatusChange)
	var online domain.UserStatusChange
	json.Unmarshal(data, &online)
	if online.UserID != "B" || online.Status != domain.StatusOnline {
		t.Fatalf("A saw %+v", online)
	}

	for _, ws := range []*websocket.Conn{a, b} {
		send(t, ws, domain.EvJoinConversation, domain.ConversationInput{ConversationID: "conv1"})
		next(t, ws, domain.EvJoinedConversation)
	}

	send(t, a, domain.EvTyping, domain.TypingInput{ConversationID: "conv1", IsTyping: true})
	data, _ = next(t, b, domain.EvUserTyping)
	var typing domain.UserTyping
	json.Unmarshal(data, &typing)
	if typing.UserID != "A" || typing.User.Name != "user A" || !typing.IsTyping {
		t.Fatalf("B saw %+v", typing)
	}

	b.Close()
	data, _ = next(t, a, domain.EvUserStatusChange)
	var offline domain.UserStatusChange
	json.Unmarshal(data, &offline)
	if offline.UserID != "B" || offline.Status != domain.StatusOffline {
		t.Fatalf("A saw %+v", offline)
	}
	waitOnline(t, o, "B", false)
}

func TestPingAndErrorEvents(t *testing.T) {
	srv, _ := newServer(t, 0)
	a := dial(t, srv, "ta")

	send(t, a, domain.EvPing, nil)
	next(t, a, domain.EvPong)

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"unknown event", `{"type":"send_message","data":{}}`, "unknown event: send_message"},
		{"bad json", `not json`, "invalid payload"},
		{"bad data", `{"type":"join_call","data":"oops"}`, "invalid payload"},
		{"unknown call", `{"type":"join_call","data":{"callId":"nope"}}`, "failed to join call"},
		{"missing id", `{"type":"leave_conversation","data":{}}`, "invalid payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := a.WriteMessage(websocket.TextMessage, []byte(tt.raw)); err != nil {
				t.Fatal(err)
			}
			data, _ := next(t, a, domain.EvError)
			var e domain.Error
			json.Unmarshal(data, &e)
			if e.Message != tt.want {
				t.Fatalf("message = %q, want %q", e.Message, tt.want)
			}
		})
	}

	// The connection survives every failure above.
	send(t, a, domain.EvPing, nil)
	next(t, a, domain.EvPong)
}

func TestTypingIsRateLimited(t *testing.T) {
	srv, o := newServer(t, 3)
	a := dial(t, srv, "ta")
	waitOnline(t, o, "A", true)
	b := dial(t, srv, "tb")
	next(t, a, domain.EvUserStatusChange)

	for _, ws := range []*websocket.Conn{a, b} {
		send(t, ws, domain.EvJoinConversation, domain.ConversationInput{ConversationID: "conv1"})
		next(t, ws, domain.EvJoinedConversation)
	}
	for i := 0; i < 5; i++ {
		send(t, a, domain.EvTyping, domain.TypingInput{ConversationID: "conv1", IsTyping: i%2 == 0})
	}
	send(t, a, domain.EvPing, nil)
	next(t, a, domain.EvPong)

	send(t, b, domain.EvPing, nil)
	_, skipped := next(t, b, domain.EvPong)
	n := 0
	for _, f := range skipped {
		if f.Type == domain.EvUserTyping {
			n++
		}
	}
	if n != 3 {
		t.Fatalf("typing delivered = %d, want 3", n)
	}
}

func TestCallSignalingEndToEnd(t *testing.T) {
	srv, o := newServer(t, 0)
	a := dial(t, srv, "ta")
	waitOnline(t, o, "A", true)
	b := dial(t, srv, "tb")
	waitOnline(t, o, "B", true)

	send(t, a, domain.EvInitiateCall, domain.InitiateCallInput{ConversationID: "conv1", Type: domain.MediaVideo, ParticipantIDs: []domain.UserID{"B"}})
	data, _ := next(t, a, domain.EvCallInitiated)
	var initiated domain.CallInitiated
	json.Unmarshal(data, &initiated)

	data, _ = next(t, b, domain.EvIncomingCall)
	var incoming domain.IncomingCall
	json.Unmarshal(data, &incoming)
	if incoming.CallID != initiated.CallID || incoming.Type != domain.MediaVideo {
		t.Fatalf("incoming = %+v", incoming)
	}

	send(t, b, domain.EvJoinCall, domain.CallInput{CallID: initiated.CallID})
	next(t, b, domain.EvCallJoined)
	send(t, a, domain.EvJoinCall, domain.CallInput{CallID: initiated.CallID})
	next(t, a, domain.EvCallStarted)
	next(t, b, domain.EvCallStarted)

	send(t, a, domain.EvWebRTCOffer, map[string]any{
		"callId":   initiated.CallID,
		"toUserId": "B",
		"offer":    map[string]string{"type": "offer", "sdp": "v=0"},
	})
	data, _ = next(t, b, domain.EvWebRTCSignaling)
	var sig domain.WebRTCSignaling
	json.Unmarshal(data, &sig)
	if sig.FromUserID != "A" || sig.Type != domain.SignalOffer || !strings.Contains(string(sig.Data), `"sdp":"v=0"`) {
		t.Fatalf("signal = %+v", sig)
	}

	// Dropping A's socket leaves the call, which ends it for B.
	a.Close()
	data, _ = next(t, b, domain.EvCallEnded)
	var ended domain.CallEnded
	json.Unmarshal(data, &ended)
	if ended.CallID != initiated.CallID || ended.Reason != domain.EndReasonEmpty {
		t.Fatalf("ended = %+v", ended)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		header string
		want   string
	}{
		{"auth query", "/chat?auth=abc", "", "abc"},
		{"token query", "/chat?token=abc", "", "abc"},
		{"header", "/chat", "Bearer abc", "abc"},
		{"lowercase scheme", "/chat", "bearer abc", "abc"},
		{"basic header", "/chat", "Basic abc", ""},
		{"nothing", "/chat", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, err := BearerToken(r)
			if got != tt.want || (tt.want == "") != (err != nil) {
				t.Fatalf("BearerToken = %q, %v", got, err)
			}
		})
	}
}

func TestUserRateLimiter(t *testing.T) {
	rl := NewUserRateLimiter(2, 50*time.Millisecond)
	if !rl.Allow("A") || !rl.Allow("A") {
		t.Fatal("first two attempts should pass")
	}
	if rl.Allow("A") {
		t.Fatal("third attempt inside the window should fail")
	}
	if !rl.Allow("B") {
		t.Fatal("limits are per user")
	}
	time.Sleep(60 * time.Millisecond)
	if !rl.Allow("A") {
		t.Fatal("window should have slid")
	}
	time.Sleep(60 * time.Millisecond)
	rl.Sweep()
	if len(rl.history) != 0 {
		t.Fatalf("history = %d entries after sweep", len(rl.history))
	}

	var unlimited *UserRateLimiter
	if !unlimited.Allow("A") {
		t.Fatal("nil limiter allows everything")
	}
}
