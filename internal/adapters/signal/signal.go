// Package signal is the /chat WebSocket gateway: it authenticates the
// handshake, pumps frames in both directions and turns client events into
// orchestrator calls.
package signal

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/Chat/internal/app/orch"
	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Settings struct {
	ReadLimit  int64
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
	SendQueue  int
	// AllowedOrigin "" or "*" accepts any Origin header.
	AllowedOrigin string
	// HandlerTimeout bounds collaborator calls made for one client event.
	HandlerTimeout time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.ReadLimit <= 0 {
		s.ReadLimit = 32768
	}
	if s.PongWait <= 0 {
		s.PongWait = 60 * time.Second
	}
	if s.PingPeriod <= 0 || s.PingPeriod >= s.PongWait {
		s.PingPeriod = s.PongWait * 9 / 10
	}
	if s.WriteWait <= 0 {
		s.WriteWait = 5 * time.Second
	}
	if s.SendQueue <= 0 {
		s.SendQueue = 64
	}
	if s.HandlerTimeout <= 0 {
		s.HandlerTimeout = 5 * time.Second
	}
	return s
}

type SignalWSController struct {
	Orch     *orch.Orchestrator
	Verifier core.IdentityVerifier
	Limiter  *UserRateLimiter
	Settings Settings

	upgrader websocket.Upgrader
}

func NewSignalWSController(o *orch.Orchestrator, verifier core.IdentityVerifier, limiter *UserRateLimiter, settings Settings) *SignalWSController {
	settings = settings.withDefaults()
	ctl := &SignalWSController{
		Orch:     o,
		Verifier: verifier,
		Limiter:  limiter,
		Settings: settings,
	}
	ctl.upgrader = websocket.Upgrader{CheckOrigin: ctl.checkOrigin}
	return ctl
}

func (ctl *SignalWSController) checkOrigin(r *http.Request) bool {
	allowed := ctl.Settings.AllowedOrigin
	if allowed == "" || allowed == "*" {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || origin == allowed
}

// WsSignalConn is the core.SignalConnection of one socket.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnectionClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// ErrNoToken is returned by BearerToken when the handshake carries nothing.
var ErrNoToken = errors.New("no bearer token")

// BearerToken reads the credential from the auth or token query parameter,
// then from an Authorization: Bearer header.
func BearerToken(r *http.Request) (string, error) {
	q := r.URL.Query()
	for _, key := range []string{"auth", "token"} {
		if v := strings.TrimSpace(q.Get(key)); v != "" {
			return v, nil
		}
	}
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		if v := strings.TrimSpace(h[7:]); v != "" {
			return v, nil
		}
	}
	return "", ErrNoToken
}

func (ctl *SignalWSController) authenticate(r *http.Request) (*domain.User, error) {
	token, err := BearerToken(r)
	if err != nil {
		return nil, err
	}
	return ctl.Verifier.Verify(r.Context(), token)
}

// HandleSignal authenticates before upgrading: a bad credential gets a plain
// 401 and never becomes a session.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	user, err := ctl.authenticate(c.Request)
	if err != nil {
		ctl.Orch.Metrics.AuthFailed()
		log.Warn().Err(err).Str("module", "signal").Str("remote", c.ClientIP()).Msg("handshake rejected")
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.Settings.ReadLimit)

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.Settings.SendQueue),
	}
	sid := core.SessionID(uuid.NewString())
	sess := core.NewSession(sid, conn)
	sess.Attach(user)

	ctx, cancel := context.WithCancel(ctx)
	if err := ctl.Orch.Connect(ctx, sess); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("connect")
		cancel()
		conn.Close()
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("user", string(user.ID)).Msg("new WS connection")

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, sess, conn)
}
