package http

import (
	"context"
	"net/http"
	"time"

	"github.com/dkeye/Chat/internal/adapters/signal"
	"github.com/dkeye/Chat/internal/app/orch"
	"github.com/dkeye/Chat/internal/config"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Pinger is anything the health check should ask; nil entries are skipped.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LastSeenLookup reports when an offline user was last connected.
type LastSeenLookup interface {
	LastSeen(ctx context.Context, user domain.UserID) (time.Time, bool, error)
}

type Deps struct {
	Orch     *orch.Orchestrator
	Signal   *signal.SignalWSController
	Gatherer prometheus.Gatherer
	Health   map[string]Pinger
	LastSeen LastSeenLookup
}

// CORSMiddleware allows a single configured origin.
func CORSMiddleware(origin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
			c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

type presenceView struct {
	UserID   domain.UserID `json:"userId"`
	Online   bool          `json:"online"`
	Sessions int           `json:"sessions"`
	LastSeen *time.Time    `json:"lastSeen,omitempty"`
}

func SetupRouter(ctx context.Context, cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(CORSMiddleware(cfg.CORSOrigin))

	log.Info().Str("module", "adapters.http").Str("cors", cfg.CORSOrigin).Msg("router setup")

	r.GET("/chat", func(c *gin.Context) {
		d.Signal.HandleSignal(ctx, c)
	})

	r.GET("/healthz", func(c *gin.Context) {
		checks := gin.H{}
		status := http.StatusOK
		for name, p := range d.Health {
			if p == nil {
				continue
			}
			if err := p.Ping(c.Request.Context()); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Str("check", name).Msg("health check failed")
				checks[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			checks[name] = "ok"
		}
		sessions, users := d.Orch.Registry.Count()
		c.JSON(status, gin.H{
			"checks":   checks,
			"sessions": sessions,
			"users":    users,
			"calls":    d.Orch.Calls.ActiveCount(),
		})
	})

	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")

	api.GET("/presence", func(c *gin.Context) {
		users := d.Orch.Registry.OnlineUsers()
		if users == nil {
			users = []domain.UserID{}
		}
		c.JSON(http.StatusOK, gin.H{"online": users})
	})

	api.GET("/presence/:userId", func(c *gin.Context) {
		uid := domain.UserID(c.Param("userId"))
		n := len(d.Orch.Registry.SessionsOf(uid))
		view := presenceView{UserID: uid, Online: n > 0, Sessions: n}
		if n == 0 && d.LastSeen != nil {
			seen, ok, err := d.LastSeen.LastSeen(c.Request.Context(), uid)
			if err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Str("user", string(uid)).Msg("last seen lookup failed")
			} else if ok {
				view.LastSeen = &seen
			}
		}
		c.JSON(http.StatusOK, view)
	})

	api.GET("/ice-servers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"iceServers": d.Orch.Calls.ICEServers()})
	})

	return r
}
