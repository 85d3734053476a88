package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "SENTINEL_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_conns", typ: kInt, env: "SENTINEL_SERVER_MAX_CONNS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConns = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConns },
	},
	{
		key: "server.api_token", typ: kString, env: "SENTINEL_API_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SENTINEL_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "SENTINEL_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "chat.typing_delay", typ: kDuration, env: "SENTINEL_CHAT_TYPING_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Chat.TypingDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Chat.TypingDelay },
	},
	{
		key: "chat.routing_delay", typ: kDuration, env: "SENTINEL_CHAT_ROUTING_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Chat.RoutingDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Chat.RoutingDelay },
	},
	{
		key: "chat.handoff_delay", typ: kDuration, env: "SENTINEL_CHAT_HANDOFF_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Chat.HandoffDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Chat.HandoffDelay },
	},
	{
		key: "chat.quarantine_delay", typ: kDuration, env: "SENTINEL_CHAT_QUARANTINE_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Chat.QuarantineDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Chat.QuarantineDelay },
	},
	{
		key: "chat.default_page", typ: kString, env: "SENTINEL_CHAT_DEFAULT_PAGE",
		apply:   func(cfg *Config, v any) { cfg.Chat.DefaultPage = v.(string) },
		extract: func(cfg Config) any { return cfg.Chat.DefaultPage },
	},
	{
		key: "monitor.enabled", typ: kBool, env: "SENTINEL_MONITOR_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Monitor.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Monitor.Enabled },
	},
	{
		key: "monitor.interval", typ: kDuration, env: "SENTINEL_MONITOR_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Monitor.Interval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Monitor.Interval },
	},
	{
		key: "monitor.loss_probability", typ: kFloat, env: "SENTINEL_MONITOR_LOSS_PROBABILITY",
		apply:   func(cfg *Config, v any) { cfg.Monitor.LossProbability = v.(float64) },
		extract: func(cfg Config) any { return cfg.Monitor.LossProbability },
	},
	{
		key: "monitor.reconnect_base", typ: kDuration, env: "SENTINEL_MONITOR_RECONNECT_BASE",
		apply:   func(cfg *Config, v any) { cfg.Monitor.ReconnectBase = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Monitor.ReconnectBase },
	},
	{
		key: "monitor.max_attempts", typ: kInt, env: "SENTINEL_MONITOR_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Monitor.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Monitor.MaxAttempts },
	},
	{
		key: "monitor.reconnect_success", typ: kFloat, env: "SENTINEL_MONITOR_RECONNECT_SUCCESS",
		apply:   func(cfg *Config, v any) { cfg.Monitor.ReconnectSuccess = v.(float64) },
		extract: func(cfg Config) any { return cfg.Monitor.ReconnectSuccess },
	},
	{
		key: "session.ttl", typ: kDuration, env: "SENTINEL_SESSION_TTL",
		apply:   func(cfg *Config, v any) { cfg.Session.TTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Session.TTL },
	},
}

// parseValue converts raw text to the Go value a key of type t holds.
func parseValue(t keyType, raw string) (any, error) {
	switch t {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func (t keyType) String() string {
	switch t {
	case kInt:
		return "integer"
	case kBool:
		return "bool"
	case kFloat:
		return "float"
	case kDuration:
		return "duration"
	default:
		return "string"
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}
		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from config key %s=%q: %v. Using default value.\n", s.typ, s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from env var %s=%q: %v. Using default value.\n", s.typ, s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
