package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/Chat/internal/adapters/auth"
	router "github.com/dkeye/Chat/internal/adapters/http"
	"github.com/dkeye/Chat/internal/adapters/memory"
	chatnats "github.com/dkeye/Chat/internal/adapters/nats"
	"github.com/dkeye/Chat/internal/adapters/postgres"
	"github.com/dkeye/Chat/internal/adapters/redis"
	"github.com/dkeye/Chat/internal/adapters/signal"
	"github.com/dkeye/Chat/internal/app"
	"github.com/dkeye/Chat/internal/app/calls"
	"github.com/dkeye/Chat/internal/app/orch"
	"github.com/dkeye/Chat/internal/config"
	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/metrics"
)

// collaborators is what the gateway talks to outside the process.
type collaborators struct {
	users     core.UserFinder
	directory core.ConversationDirectory
	messages  core.MessageStore
	status    core.MultiStatusStore
	sink      core.EventSink
	lastSeen  router.LastSeenLookup
	health    map[string]router.Pinger
	closers   []func()
}

func (c *collaborators) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func openCollaborators(ctx context.Context, cfg *config.Config) (*collaborators, error) {
	c := &collaborators{health: map[string]router.Pinger{}}

	if cfg.PostgresDSN != "" {
		db, err := postgres.Open(cfg.PostgresDSN, postgres.DefaultConfig())
		if err != nil {
			return nil, err
		}
		c.users, c.directory, c.messages = db, db, db
		c.status = append(c.status, db)
		c.health["postgres"] = db
		c.closers = append(c.closers, func() { _ = db.Close() })
		log.Info().Str("module", "main").Msg("postgres connected")
	} else {
		mem := memory.New()
		c.users, c.directory, c.messages = mem, mem, mem
		c.status = append(c.status, mem)
		log.Warn().Str("module", "main").Msg("postgres_dsn empty, using in-memory store")
	}

	if cfg.RedisAddr != "" {
		host, _ := os.Hostname()
		rs := redis.New(redis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.PresenceTTL,
			Gateway:  host,
		})
		if err := rs.Ping(ctx); err != nil {
			c.close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		c.status = append(c.status, rs)
		c.lastSeen = rs
		c.health["redis"] = rs
		c.closers = append(c.closers, func() { _ = rs.Close() })
		log.Info().Str("module", "main").Str("addr", cfg.RedisAddr).Msg("redis presence mirror enabled")
	}

	c.sink = core.NopEventSink{}
	if cfg.NATSURL != "" {
		pub, err := chatnats.Connect(cfg.NATSURL, "chat-gateway", cfg.NATSSubjectPrefix)
		if err != nil {
			c.close()
			return nil, err
		}
		c.sink = pub
		c.closers = append(c.closers, pub.Close)
		log.Info().Str("module", "main").Str("url", cfg.NATSURL).Msg("nats event sink enabled")
	}
	return c, nil
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Watch(configPath, nil)
	if err != nil {
		return err
	}
	config.ApplyLogLevel(cfg.LogLevel)
	if cfg.Mode != "debug" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	deps, err := openCollaborators(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.close()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	reg := app.NewRegistry()
	reg.MaxPerUser = cfg.MaxConnsPerUser

	o := &orch.Orchestrator{
		Registry:  reg,
		Rooms:     app.NewRoomManager(),
		Policy:    app.SimplePolicy{},
		Directory: deps.directory,
		Messages:  deps.messages,
		Status:    deps.status,
		Sink:      deps.sink,
		Metrics:   m,
		Options: orch.Options{
			BootstrapRooms:         cfg.BootstrapRooms,
			AuthorizeRooms:         cfg.AuthorizeRooms,
			LeaveCallsOnDisconnect: cfg.LeaveCallsOnDisconnect,
		},
	}
	o.Calls = calls.NewCoordinator(o, calls.Config{
		RingTimeout:     cfg.RingTimeout,
		StrictSignaling: cfg.AuthorizeRooms,
		ICEServers:      cfg.WebRTCICEServers(),
		Undelivered:     o.Undelivered,
		Ended:           o.CallEnded,
		Metrics:         m,
	})
	defer o.Calls.Close()

	limiter := signal.NewUserRateLimiter(cfg.SignalRateLimit, cfg.SignalRateWindow)
	go sweep(ctx, limiter, cfg.SignalRateWindow)

	if rs, ok := deps.lastSeen.(*redis.StatusStore); ok {
		go rs.KeepAlive(ctx, reg.OnlineUsers)
	}

	ctl := signal.NewSignalWSController(o, auth.NewJWTVerifier(cfg.JWTSecret, deps.users), limiter, signal.Settings{
		ReadLimit:     cfg.ReadLimit,
		PingPeriod:    cfg.PingPeriod,
		PongWait:      cfg.PongWait,
		WriteWait:     cfg.WriteWait,
		SendQueue:     cfg.SendQueue,
		AllowedOrigin: cfg.CORSOrigin,
	})

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Orch:     o,
		Signal:   ctl,
		Gatherer: promReg,
		Health:   deps.health,
		LastSeen: deps.lastSeen,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("module", "main").Str("addr", addr).Msg("Chat gateway started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	log.Info().Str("module", "main").Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Str("module", "main").Msg("Server forced to shutdown")
	}
	if n := o.Calls.EndAll(); n > 0 {
		log.Info().Str("module", "main").Int("calls", n).Msg("ended live calls")
	}
	// hijacked websockets are not tracked by Shutdown
	for _, s := range reg.All() {
		s.Signal().Close()
	}
	log.Info().Str("module", "main").Msg("Server exited gracefully")
	return nil
}

func sweep(ctx context.Context, limiter *signal.UserRateLimiter, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every * 10)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Sweep()
		}
	}
}

func runCheckConfig(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	file := cfg.File
	if file == "" {
		file = "(defaults)"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "config ok: %s, port %d, %d ice server(s)\n", file, cfg.Port, len(cfg.ICEServers))
	if cfg.JWTSecret == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "warning: jwt_secret is empty, every handshake will be rejected")
	}
	return nil
}
