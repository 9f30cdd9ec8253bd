// Package config builds process configuration from the environment so main
// stays lean. All validation happens here: a malformed deployment fails at
// startup, never per request.
package config

import (
	"os"
	"strings"
	"time"

	"tradegate/pkg/domainerrors"
)

// LimiterBackend selects the rate limit counter store.
type LimiterBackend string

const (
	BackendMemory   LimiterBackend = "memory"
	BackendPostgres LimiterBackend = "postgres"
	BackendRedis    LimiterBackend = "redis"
)

// FailMode selects limiter behavior during a backend outage.
type FailMode string

const (
	FailOpen   FailMode = "open"
	FailClosed FailMode = "closed"
)

// Server is the full process configuration.
type Server struct {
	Addr          string
	JWTSigningKey string
	JWTIssuer     string

	LimiterBackend LimiterBackend
	FailMode       FailMode
	DatabaseURL    string
	RedisURL       string

	AdminEmails    []string
	AllowedOrigins []string

	ShutdownTimeout time.Duration
}

// FromEnv reads and validates the configuration.
func FromEnv() (Server, error) {
	cfg := Server{
		Addr:            envOr("TRADEGATE_ADDR", ":8080"),
		JWTSigningKey:   os.Getenv("JWT_SIGNING_KEY"),
		JWTIssuer:       os.Getenv("JWT_ISSUER"),
		LimiterBackend:  LimiterBackend(envOr("RATE_LIMIT_BACKEND", string(BackendMemory))),
		FailMode:        FailMode(envOr("RATE_LIMIT_FAIL_MODE", string(FailOpen))),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		AdminEmails:     splitList(os.Getenv("ADMIN_EMAILS")),
		AllowedOrigins:  splitList(os.Getenv("CSP_ALLOWED_ORIGINS")),
		ShutdownTimeout: 10 * time.Second,
	}

	if cfg.JWTSigningKey == "" {
		// Development default; production must override.
		cfg.JWTSigningKey = "dev-secret-key-change-in-production"
	}

	switch cfg.LimiterBackend {
	case BackendMemory:
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return Server{}, domainerrors.New(domainerrors.CodeConfig, "RATE_LIMIT_BACKEND=postgres requires DATABASE_URL")
		}
	case BackendRedis:
		if cfg.RedisURL == "" {
			return Server{}, domainerrors.New(domainerrors.CodeConfig, "RATE_LIMIT_BACKEND=redis requires REDIS_URL")
		}
	default:
		return Server{}, domainerrors.New(domainerrors.CodeConfig, "unknown RATE_LIMIT_BACKEND: "+string(cfg.LimiterBackend))
	}

	if cfg.FailMode != FailOpen && cfg.FailMode != FailClosed {
		return Server{}, domainerrors.New(domainerrors.CodeConfig, "unknown RATE_LIMIT_FAIL_MODE: "+string(cfg.FailMode))
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
