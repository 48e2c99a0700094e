package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	StaticPath string `mapstructure:"static_path"`
	Secret     string `mapstructure:"secret"`
	LogLevel   string `mapstructure:"log_level"`

	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
	SendBuffer int           `mapstructure:"send_buffer"`

	DatabasePath   string `mapstructure:"database_path"`
	RequireCatalog bool   `mapstructure:"require_catalog"`
	ChatArchive    bool   `mapstructure:"chat_archive"`

	BackpressurePolicy string `mapstructure:"backpressure_policy"`

	ChatRateLimit    int           `mapstructure:"chat_rate_limit"`
	ChatRateInterval time.Duration `mapstructure:"chat_rate_interval"`

	ICE []ICEServer `mapstructure:"ice_servers"`
}

// Load reads path, or config/config.<CONFIG_ENV>.yaml when path is empty.
// A missing file is not an error; defaults and RIFTHUB_* variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	fileName := path
	if fileName == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(fileName)

	v.SetEnvPrefix("rifthub")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if path != "" {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("static", cfg.StaticPath).
		Str("db", cfg.DatabasePath).
		Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("secret", "change-me")
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("database_path", "rifthub.db")
	v.SetDefault("require_catalog", false)
	v.SetDefault("chat_archive", false)
	v.SetDefault("backpressure_policy", "kick")
	v.SetDefault("chat_rate_limit", 5)
	v.SetDefault("chat_rate_interval", "3s")
	v.SetDefault("ice_servers", []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
	})
}

var (
	ErrInvalidPort   = errors.New("port out of range")
	ErrInvalidTiming = errors.New("ping_period must be shorter than pong_wait")
	ErrInvalidPolicy = errors.New("backpressure_policy must be kick or tolerant")
)

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}
	if c.PingPeriod > 0 && c.PongWait > 0 && c.PingPeriod >= c.PongWait {
		return fmt.Errorf("%w: %s >= %s", ErrInvalidTiming, c.PingPeriod, c.PongWait)
	}
	if c.SendBuffer < 1 {
		return fmt.Errorf("send_buffer must be positive, got %d", c.SendBuffer)
	}
	switch c.BackpressurePolicy {
	case "", "kick", "tolerant":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPolicy, c.BackpressurePolicy)
	}
	for _, s := range c.ICE {
		for _, raw := range s.URLs {
			if _, err := stun.ParseURI(raw); err != nil {
				return fmt.Errorf("ice_servers: %q: %w", raw, err)
			}
		}
	}
	return nil
}

// ICEServers converts the configured list to the form browsers expect in
// RTCPeerConnection configuration.
func (c *Config) ICEServers() []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(c.ICE))
	for _, s := range c.ICE {
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
		}
		out = append(out, srv)
	}
	return out
}
