// Package config loads gateway configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config is the gateway configuration. Every field has an environment
// variable; fields without a default are optional integrations.
type Config struct {
	Env       string `env:"APP_ENV,default=development"`
	Port      int    `env:"PORT,default=8080"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`

	PublicBaseURL string `env:"PUBLIC_BASE_URL,default=http://localhost:8080"`
	AppURL        string `env:"APP_URL,default=http://localhost:5173"`

	SupabaseURL        string        `env:"SUPABASE_URL"`
	SupabaseAnonKey    string        `env:"SUPABASE_ANON_KEY"`
	SupabaseServiceKey string        `env:"SUPABASE_SERVICE_KEY"`
	SupabaseJWTSecret  string        `env:"SUPABASE_JWT_SECRET"`
	AccessTokenTTL     time.Duration `env:"ACCESS_TOKEN_TTL,default=1h"`
	StateSecret        string        `env:"OAUTH_STATE_SECRET"`

	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	NatsURL     string `env:"NATS_URL"`

	CORSAllowedOrigins  string `env:"CORS_ALLOWED_ORIGINS"`
	AdminUserIDs        string `env:"ADMIN_USER_IDS"`
	RateLimitRPS        int    `env:"RATE_LIMIT_RPS,default=20"`
	RateLimitBurst      int    `env:"RATE_LIMIT_BURST,default=40"`
	RateLimitTrustProxy bool   `env:"RATE_LIMIT_TRUST_PROXY,default=false"`
	AuditBufferSize     int    `env:"AUDIT_BUFFER_SIZE,default=500"`

	StripeSecretKey     string  `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string  `env:"STRIPE_WEBHOOK_SECRET"`
	StripeCurrency      string  `env:"STRIPE_CURRENCY,default=usd"`
	CommissionRate      float64 `env:"NEXUS_COMMISSION_RATE,default=0.20"`

	DiscordClientID     string `env:"DISCORD_CLIENT_ID"`
	DiscordClientSecret string `env:"DISCORD_CLIENT_SECRET"`
	DiscordRedirectURI  string `env:"DISCORD_REDIRECT_URI"`
	DiscordPublicKey    string `env:"DISCORD_PUBLIC_KEY"`
	DiscordWebhookURL   string `env:"DISCORD_WEBHOOK_URL"`

	GhostURL        string        `env:"GHOST_API_URL"`
	GhostContentKey string        `env:"GHOST_CONTENT_API_KEY"`
	GhostAdminKey   string        `env:"GHOST_ADMIN_API_KEY"`
	BlogCacheTTL    time.Duration `env:"BLOG_CACHE_TTL,default=5m"`

	RobloxClientID     string `env:"ROBLOX_CLIENT_ID"`
	RobloxClientSecret string `env:"ROBLOX_CLIENT_SECRET"`
	RobloxRedirectURI  string `env:"ROBLOX_REDIRECT_URI"`

	Web3NonceTTL time.Duration `env:"WEB3_NONCE_TTL,default=10m"`

	ServicesConfigPath string        `env:"SERVICES_CONFIG,default=config/services.yaml"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT,default=15s"`
}

// DefaultCORSOrigins is used when CORS_ALLOWED_ORIGINS is unset.
const DefaultCORSOrigins = "http://localhost:3000,http://localhost:5173"

// Load reads an optional .env file and decodes the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv decodes the current environment without touching .env files.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if cfg.CORSAllowedOrigins == "" {
		cfg.CORSAllowedOrigins = DefaultCORSOrigins
	}
	if cfg.StateSecret == "" {
		cfg.StateSecret = cfg.SupabaseJWTSecret
	}
	return &cfg, nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// Validate checks settings that would make the gateway unusable.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}
	if c.CommissionRate < 0 || c.CommissionRate >= 1 {
		return fmt.Errorf("NEXUS_COMMISSION_RATE must be in [0, 1)")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if !c.IsProduction() {
		return nil
	}
	if c.SupabaseURL == "" || c.SupabaseServiceKey == "" {
		return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY are required in production")
	}
	if c.SupabaseJWTSecret == "" {
		return fmt.Errorf("SUPABASE_JWT_SECRET is required in production")
	}
	if c.StripeSecretKey != "" && c.StripeWebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set")
	}
	return nil
}

// CORSOrigins returns the parsed CORS allowlist.
func (c *Config) CORSOrigins() []string {
	return SplitCSV(c.CORSAllowedOrigins)
}

// AdminIDs returns the parsed admin allowlist.
func (c *Config) AdminIDs() []string {
	return SplitCSV(c.AdminUserIDs)
}

// SplitCSV splits a comma separated list, dropping blanks.
func SplitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
