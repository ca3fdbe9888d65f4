// Package redis mirrors presence into Redis so other gateway instances and
// services can see who is online here.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Chat/internal/domain"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Addr     string
	Password string
	DB       int
	// TTL bounds how long an online record survives without a refresh.
	TTL time.Duration
	// Gateway identifies this instance inside the record.
	Gateway string
}

// Presence is the JSON value stored under chat:presence:<userId>.
type Presence struct {
	Status   domain.PresenceStatus `json:"status"`
	LastSeen time.Time             `json:"lastSeen"`
	Gateway  string                `json:"gateway,omitempty"`
}

type StatusStore struct {
	rdb     *goredis.Client
	ttl     time.Duration
	gateway string
}

func New(c Config) *StatusStore {
	if c.TTL <= 0 {
		c.TTL = 2 * time.Minute
	}
	return &StatusStore{
		rdb:     goredis.NewClient(&goredis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB}),
		ttl:     c.TTL,
		gateway: c.Gateway,
	}
}

func (s *StatusStore) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

func (s *StatusStore) Close() error { return s.rdb.Close() }

func presenceKey(user domain.UserID) string { return "chat:presence:" + string(user) }

func (s *StatusStore) encode(status domain.PresenceStatus, lastSeen time.Time) ([]byte, error) {
	return json.Marshal(Presence{Status: status, LastSeen: lastSeen.UTC(), Gateway: s.gateway})
}

// UpdateStatus writes the record with the TTL; an offline record keeps
// lastSeen around for the same period.
func (s *StatusStore) UpdateStatus(ctx context.Context, user domain.UserID, status domain.PresenceStatus, lastSeen time.Time) error {
	val, err := s.encode(status, lastSeen)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, presenceKey(user), val, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis presence %s: %w", user, err)
	}
	return nil
}

// Lookup reports ok=false when no record exists.
func (s *StatusStore) Lookup(ctx context.Context, user domain.UserID) (Presence, bool, error) {
	raw, err := s.rdb.Get(ctx, presenceKey(user)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return Presence{}, false, nil
	}
	if err != nil {
		return Presence{}, false, fmt.Errorf("redis presence %s: %w", user, err)
	}
	var p Presence
	if err := json.Unmarshal(raw, &p); err != nil {
		return Presence{}, false, fmt.Errorf("redis presence %s: %w", user, err)
	}
	return p, true, nil
}

// KeepAlive re-marks every user returned by online each period so live
// records do not expire. It returns when ctx is done.
func (s *StatusStore) KeepAlive(ctx context.Context, online func() []domain.UserID) {
	ticker := time.NewTicker(s.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			for _, uid := range online() {
				if err := s.UpdateStatus(ctx, uid, domain.StatusOnline, now); err != nil {
					log.Warn().Err(err).Str("module", "adapters.redis").Str("user", string(uid)).Msg("presence refresh failed")
					break
				}
			}
		}
	}
}

// LastSeen is Lookup reduced to the timestamp, for the HTTP presence view.
func (s *StatusStore) LastSeen(ctx context.Context, user domain.UserID) (time.Time, bool, error) {
	p, ok, err := s.Lookup(ctx, user)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	return p.LastSeen, true, nil
}
