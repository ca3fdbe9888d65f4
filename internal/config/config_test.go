package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.File != "" {
		t.Fatalf("file = %q", cfg.File)
	}
	if cfg.Port != 8080 || cfg.BootstrapRooms != 10 || !cfg.AuthorizeRooms || !cfg.LeaveCallsOnDisconnect {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.RingTimeout != 45*time.Second || cfg.PingPeriod != 54*time.Second {
		t.Fatalf("durations = %s %s", cfg.RingTimeout, cfg.PingPeriod)
	}
	if len(cfg.ICEServers) != 1 || cfg.ICEServers[0].URLs[0] != "stun:stun.l.google.com:19302" {
		t.Fatalf("ice = %+v", cfg.ICEServers)
	}
}

func TestFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.test.yaml")
	yaml := `
mode: debug
port: 9000
ring_timeout: 10s
authorize_rooms: false
ice_servers:
  - urls: ["turn:turn.example.com:3478"]
    username: bob
    credential: secret
`
	if err := os.WriteFile(file, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CHAT_PORT", "9100")
	t.Setenv("CHAT_JWT_SECRET", "s3cr3t")

	cfg, err := Load(file)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.File != file || cfg.Mode != "debug" || cfg.AuthorizeRooms {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Port != 9100 || cfg.JWTSecret != "s3cr3t" {
		t.Fatalf("env override: port=%d secret=%q", cfg.Port, cfg.JWTSecret)
	}
	if cfg.RingTimeout != 10*time.Second {
		t.Fatalf("ring = %s", cfg.RingTimeout)
	}

	ice := cfg.WebRTCICEServers()
	if len(ice) != 1 || ice[0].Username != "bob" || ice[0].Credential != "secret" || ice[0].CredentialType != webrtc.ICECredentialTypePassword {
		t.Fatalf("ice = %+v", ice)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{Port: 80, LogLevel: "info", PingPeriod: time.Second, PongWait: 2 * time.Second}
	}
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"bad port", func(c *Config) { c.Port = 0 }, false},
		{"ping after pong", func(c *Config) { c.PingPeriod = 3 * time.Second }, false},
		{"negative ring", func(c *Config) { c.RingTimeout = -time.Second }, false},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, false},
		{"ice without urls", func(c *Config) { c.ICEServers = []ICEServer{{Username: "x"}} }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			if err := c.Validate(); (err == nil) != tt.ok {
				t.Fatalf("Validate() = %v", err)
			}
		})
	}
}
