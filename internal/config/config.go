package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type Config struct {
	Mode     string `mapstructure:"mode"`
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`

	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
	SendQueue  int           `mapstructure:"send_queue"`

	JWTSecret  string `mapstructure:"jwt_secret"`
	CORSOrigin string `mapstructure:"cors_origin"`

	BootstrapRooms         int           `mapstructure:"bootstrap_rooms"`
	AuthorizeRooms         bool          `mapstructure:"authorize_rooms"`
	RingTimeout            time.Duration `mapstructure:"ring_timeout"`
	LeaveCallsOnDisconnect bool          `mapstructure:"leave_calls_on_disconnect"`
	SignalRateLimit        int           `mapstructure:"signal_rate_limit"`
	SignalRateWindow       time.Duration `mapstructure:"signal_rate_window"`
	MaxConnsPerUser        int           `mapstructure:"max_conns_per_user"`

	PostgresDSN string `mapstructure:"postgres_dsn"`

	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	PresenceTTL   time.Duration `mapstructure:"presence_ttl"`

	NATSURL           string `mapstructure:"nats_url"`
	NATSSubjectPrefix string `mapstructure:"nats_subject_prefix"`

	ICEServers []ICEServer `mapstructure:"ice_servers"`

	// File is the config file actually read, "" when running on defaults.
	File string `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_queue", 64)
	v.SetDefault("jwt_secret", "")
	v.SetDefault("cors_origin", "http://localhost:3000")
	v.SetDefault("bootstrap_rooms", 10)
	v.SetDefault("authorize_rooms", true)
	v.SetDefault("ring_timeout", "45s")
	v.SetDefault("leave_calls_on_disconnect", true)
	v.SetDefault("signal_rate_limit", 50)
	v.SetDefault("signal_rate_window", "1s")
	v.SetDefault("max_conns_per_user", 0)
	v.SetDefault("postgres_dsn", "")
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("presence_ttl", "2m")
	v.SetDefault("nats_url", "")
	v.SetDefault("nats_subject_prefix", "chat")
	v.SetDefault("ice_servers", []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
	})
}

// FileName is config/config.<CONFIG_ENV>.yaml, env defaulting to dev.
func FileName() string {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return fmt.Sprintf("config/config.%s.yaml", env)
}

func newViper(fileName string) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load reads fileName ("" means FileName()); a missing file leaves the
// defaults and CHAT_* environment in place.
func Load(fileName string) (*Config, error) {
	_, cfg, err := load(fileName)
	return cfg, err
}

func load(fileName string) (*viper.Viper, *Config, error) {
	if fileName == "" {
		fileName = FileName()
	}
	v := newViper(fileName)

	used := ""
	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		used = fileName
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.File = used
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Bool("postgres", cfg.PostgresDSN != "").Bool("redis", cfg.RedisAddr != "").Bool("nats", cfg.NATSURL != "").Msg("config ready")
	return v, &cfg, nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.PongWait <= 0 || c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		return fmt.Errorf("ping_period (%s) must be positive and below pong_wait (%s)", c.PingPeriod, c.PongWait)
	}
	if c.RingTimeout < 0 {
		return fmt.Errorf("ring_timeout must not be negative")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	for i, s := range c.ICEServers {
		if len(s.URLs) == 0 {
			return fmt.Errorf("ice_servers[%d] has no urls", i)
		}
	}
	return nil
}

// WebRTCICEServers converts the configured servers for event payloads.
func (c *Config) WebRTCICEServers() []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(c.ICEServers))
	for _, s := range c.ICEServers {
		ice := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			ice.Credential = s.Credential
			ice.CredentialType = webrtc.ICECredentialTypePassword
		}
		out = append(out, ice)
	}
	return out
}

// ApplyLogLevel sets the global zerolog level, keeping the current one when
// the name is not a level.
func ApplyLogLevel(name string) {
	lvl, err := zerolog.ParseLevel(name)
	if err != nil || name == "" {
		log.Warn().Str("module", "config").Str("log_level", name).Msg("ignoring unknown log level")
		return
	}
	zerolog.SetGlobalLevel(lvl)
}

// Watch loads the config and re-applies log_level whenever the file changes.
// Other keys need a restart.
func Watch(fileName string, onChange func(*Config)) (*Config, error) {
	v, cfg, err := load(fileName)
	if err != nil {
		return nil, err
	}
	if cfg.File == "" {
		return cfg, nil
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		var next Config
		if err := v.Unmarshal(&next); err != nil {
			log.Error().Err(err).Str("module", "config").Msg("reload failed")
			return
		}
		next.File = cfg.File
		ApplyLogLevel(next.LogLevel)
		log.Info().Str("module", "config").Str("file", e.Name).Str("log_level", next.LogLevel).Msg("config reloaded")
		if onChange != nil {
			onChange(&next)
		}
	})
	v.WatchConfig()
	return cfg, nil
}
