// Package config builds the agent configuration from environment variables
// so main stays lean.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures the local HTTP surface configuration.
type Server struct {
	Addr string
}

// Upstream points at the remote account server.
type Upstream struct {
	BaseURL string
	Timeout time.Duration
	// Token is a fixed bearer token for development; when SigningKey is
	// set the agent mints service tokens instead.
	Token      string
	SigningKey string
	Issuer     string
	Audience   string
	Subject    string
	TokenTTL   time.Duration
}

// Retry bounds the registration retry loop.
type Retry struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Store selects and configures the registration record backend.
type Store struct {
	// Backend is one of "memory", "redis", "postgres".
	Backend   string
	RecordTTL time.Duration
}

// Redis configures the redis record store.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Postgres configures the durable record store.
type Postgres struct {
	DSN string
}

// Kafka configures the optional audit sink. Empty brokers disable it.
type Kafka struct {
	Brokers []string
	Topic   string
}

// Config is the full agent configuration.
type Config struct {
	Server   Server
	Upstream Upstream
	Retry    Retry
	Store    Store
	Redis    Redis
	Postgres Postgres
	Kafka    Kafka
}

// FromEnv builds a Config from CAPSYNC_* environment variables, with
// development defaults for everything but the upstream URL.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr: envOr("CAPSYNC_ADDR", ":8080"),
		},
		Upstream: Upstream{
			BaseURL:    os.Getenv("CAPSYNC_ACCOUNT_URL"),
			Timeout:    envDuration("CAPSYNC_ACCOUNT_TIMEOUT", 30*time.Second),
			Token:      os.Getenv("CAPSYNC_ACCOUNT_TOKEN"),
			SigningKey: os.Getenv("CAPSYNC_TOKEN_SIGNING_KEY"),
			Issuer:     envOr("CAPSYNC_TOKEN_ISSUER", "capsync-agent"),
			Audience:   envOr("CAPSYNC_TOKEN_AUDIENCE", "account-server"),
			Subject:    envOr("CAPSYNC_TOKEN_SUBJECT", "capsync"),
			TokenTTL:   envDuration("CAPSYNC_TOKEN_TTL", 5*time.Minute),
		},
		Retry: Retry{
			MaxAttempts:     envInt("CAPSYNC_RETRY_MAX_ATTEMPTS", 4),
			InitialInterval: envDuration("CAPSYNC_RETRY_INITIAL_INTERVAL", 250*time.Millisecond),
			MaxInterval:     envDuration("CAPSYNC_RETRY_MAX_INTERVAL", 5*time.Second),
		},
		Store: Store{
			Backend:   envOr("CAPSYNC_STORE_BACKEND", "memory"),
			RecordTTL: envDuration("CAPSYNC_RECORD_TTL", 0),
		},
		Redis: Redis{
			URL:          os.Getenv("CAPSYNC_REDIS_URL"),
			PoolSize:     envInt("CAPSYNC_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("CAPSYNC_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("CAPSYNC_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("CAPSYNC_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("CAPSYNC_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Postgres: Postgres{
			DSN: os.Getenv("CAPSYNC_POSTGRES_DSN"),
		},
		Kafka: Kafka{
			Brokers: envList("CAPSYNC_KAFKA_BROKERS"),
			Topic:   envOr("CAPSYNC_KAFKA_AUDIT_TOPIC", "capsync.audit"),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
