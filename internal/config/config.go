package config

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	secretService  = "sentinelx"
	tokenAccount   = "api_token"
	appDirName     = "sentinelx"
	configFileName = "config.json"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Log     LogConfig
	Chat    ChatConfig
	Monitor MonitorConfig
	Session SessionConfig
}

type ServerConfig struct {
	Port     int
	MaxConns int // 0 means no limit
	APIToken string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

// ChatConfig holds the reply transcript delays.
type ChatConfig struct {
	TypingDelay     time.Duration
	RoutingDelay    time.Duration
	HandoffDelay    time.Duration
	QuarantineDelay time.Duration
	DefaultPage     string
}

// MonitorConfig tunes the simulated agent link.
type MonitorConfig struct {
	Enabled          bool
	Interval         time.Duration
	LossProbability  float64
	ReconnectBase    time.Duration
	MaxAttempts      int
	ReconnectSuccess float64
}

type SessionConfig struct {
	TTL time.Duration
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:     4100,
			MaxConns: 64,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Chat: ChatConfig{
			TypingDelay:     300 * time.Millisecond,
			RoutingDelay:    500 * time.Millisecond,
			HandoffDelay:    800 * time.Millisecond,
			QuarantineDelay: time.Second,
			DefaultPage:     "dashboard",
		},
		Monitor: MonitorConfig{
			Enabled:          true,
			Interval:         30 * time.Second,
			LossProbability:  0.05,
			ReconnectBase:    time.Second,
			MaxAttempts:      5,
			ReconnectSuccess: 0.7,
		},
		Session: SessionConfig{
			TTL: time.Hour,
		},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/sentinelx/config.json, then applies SENTINEL_*
// environment overrides.
//
// The API bearer token comes from SENTINEL_API_TOKEN, or from the secrets
// file at $XDG_DATA_HOME/sentinelx/secrets.json. A token is generated and
// stored there on first use.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), defaultSecrets())
}

// secretStore abstracts secret persistence for testing.
type secretStore interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

func loadWith(b ConfigBackend, ss secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Server.APIToken == "" {
		if tok, err := ss.Get(secretService, tokenAccount); err == nil && tok != "" {
			cfg.Server.APIToken = tok
		}
	}
	if cfg.Server.APIToken == "" {
		tok := uuid.NewString()
		if err := ss.Set(secretService, tokenAccount, tok); err != nil {
			return Config{}, fmt.Errorf("storing generated API token: %w", err)
		}
		cfg.Server.APIToken = tok
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid config: server.port %d out of range", c.Server.Port)
	}
	if c.Server.MaxConns < 0 {
		return fmt.Errorf("invalid config: server.max_conns must not be negative")
	}
	if p := c.Monitor.LossProbability; p < 0 || p > 1 {
		return fmt.Errorf("invalid config: monitor.loss_probability %v not in [0,1]", p)
	}
	if p := c.Monitor.ReconnectSuccess; p < 0 || p > 1 {
		return fmt.Errorf("invalid config: monitor.reconnect_success %v not in [0,1]", p)
	}
	if c.Monitor.MaxAttempts <= 0 {
		return fmt.Errorf("invalid config: monitor.max_attempts must be positive")
	}
	return nil
}
