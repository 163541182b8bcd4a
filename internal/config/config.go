// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port         string
	FrontendURL  string
	DatabaseURL  string
	AgentID      string
	JWTSecret    string
	RedisURL     string
	MaxBodyBytes int64
	LogLevel     slog.Level
	Push         PushConfig
	Insights     InsightsConfig
}

// PushConfig controls web push delivery.
type PushConfig struct {
	SendSecret      string
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string
	TTL             time.Duration
	Concurrency     int
}

// Enabled reports whether VAPID keys are configured.
func (p PushConfig) Enabled() bool {
	return p.VAPIDPublicKey != "" && p.VAPIDPrivateKey != ""
}

// InsightsConfig controls signal ingestion and retention.
type InsightsConfig struct {
	RateLimit  int
	RateWindow time.Duration
	Retention  time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		FrontendURL:  getEnv("FRONTEND_URL", ""),
		DatabaseURL:  getEnv("DATABASE_URL", "./data/chatdesk.db"),
		AgentID:      getEnv("AGENT_ID", "main"),
		JWTSecret:    getEnv("JWT_SECRET", ""),
		RedisURL:     getEnv("REDIS_URL", ""),
		MaxBodyBytes: int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
		LogLevel:     getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		Push: PushConfig{
			SendSecret:      getEnv("PUSH_SEND_SECRET", ""),
			VAPIDPublicKey:  getEnv("VAPID_PUBLIC_KEY", ""),
			VAPIDPrivateKey: getEnv("VAPID_PRIVATE_KEY", ""),
			VAPIDSubject:    getEnv("VAPID_SUBJECT", ""),
			TTL:             time.Duration(getEnvInt("PUSH_TTL_SECONDS", 3600)) * time.Second,
			Concurrency:     getEnvInt("PUSH_CONCURRENCY", 8),
		},
		Insights: InsightsConfig{
			RateLimit:  getEnvInt("INSIGHT_RATE_LIMIT", 30),
			RateWindow: getEnvDuration("INSIGHT_RATE_WINDOW", time.Minute),
			Retention:  getEnvDuration("INSIGHT_RETENTION", 30*24*time.Hour),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL cannot be empty")
	}
	if c.AgentID == "" || strings.Contains(c.AgentID, ":") {
		return fmt.Errorf("AGENT_ID must be non-empty and contain no colon")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be > 0")
	}
	if (c.Push.VAPIDPublicKey == "") != (c.Push.VAPIDPrivateKey == "") {
		return fmt.Errorf("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together")
	}
	if c.Push.Enabled() && c.Push.VAPIDSubject == "" {
		return fmt.Errorf("VAPID_SUBJECT is required when push is enabled")
	}
	if c.Push.TTL < 0 {
		return fmt.Errorf("PUSH_TTL_SECONDS must be >= 0")
	}
	if c.Push.Concurrency <= 0 {
		return fmt.Errorf("PUSH_CONCURRENCY must be > 0")
	}
	if c.Insights.RateLimit <= 0 {
		return fmt.Errorf("INSIGHT_RATE_LIMIT must be > 0")
	}
	if c.Insights.RateWindow <= 0 {
		return fmt.Errorf("INSIGHT_RATE_WINDOW must be > 0")
	}
	if c.Insights.Retention <= 0 {
		return fmt.Errorf("INSIGHT_RETENTION must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins lists the browser origins accepted by CORS and the live
// channel. FRONTEND_URL may hold several comma-separated origins.
// Development accepts any origin.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	var origins []string
	for _, o := range strings.Split(c.FrontendURL, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// AuthMode names the identity strategy for the front-end.
func (c *Config) AuthMode() string {
	if c.JWTSecret != "" {
		return "jwt"
	}
	return "anonymous"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback
	}
	return level
}
