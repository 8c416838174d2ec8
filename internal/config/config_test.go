package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("SUPABASE_JWT_SECRET", "jwt-secret")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 0.20, cfg.CommissionRate)
	assert.Equal(t, 10*time.Minute, cfg.Web3NonceTTL)
	assert.Equal(t, 5*time.Minute, cfg.BlogCacheTTL)
	assert.Equal(t, "jwt-secret", cfg.StateSecret)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.CORSOrigins())
	assert.NoError(t, cfg.Validate())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("NEXUS_COMMISSION_RATE", "0.15")
	t.Setenv("ADMIN_USER_IDS", "a, b,,c")
	t.Setenv("OAUTH_STATE_SECRET", "state")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 0.15, cfg.CommissionRate)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.AdminIDs())
	assert.Equal(t, "state", cfg.StateSecret)
}

func TestValidateProduction(t *testing.T) {
	cfg := &Config{Env: "production", Port: 8080, CommissionRate: 0.2, RateLimitRPS: 1, RateLimitBurst: 1}
	assert.Error(t, cfg.Validate())

	cfg.SupabaseURL = "https://x.supabase.co"
	cfg.SupabaseServiceKey = "svc"
	assert.Error(t, cfg.Validate())

	cfg.SupabaseJWTSecret = "secret"
	assert.NoError(t, cfg.Validate())

	cfg.StripeSecretKey = "sk_live"
	assert.Error(t, cfg.Validate())
}

func TestValidateCommissionRate(t *testing.T) {
	cfg := &Config{Port: 8080, CommissionRate: 1.5, RateLimitRPS: 1, RateLimitBurst: 1}
	assert.Error(t, cfg.Validate())
}

func TestServicesConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "services.yaml")
	require.NoError(t, os.WriteFile(path, []byte("services:\n  blog:\n    enabled: false\n"), 0o600))

	cfg, err := LoadServicesConfigFromPath(path)
	require.NoError(t, err)
	assert.False(t, cfg.IsEnabled("blog"))
	assert.True(t, cfg.IsEnabled("nexus"))
	assert.NotContains(t, cfg.Enabled(), "blog")
	assert.Len(t, cfg.Enabled(), len(RouteGroups)-1)
}

func TestServicesConfigUnknownGroup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "services.yaml")
	require.NoError(t, os.WriteFile(path, []byte("services:\n  neorand:\n    enabled: true\n"), 0o600))

	_, err := LoadServicesConfigFromPath(path)
	assert.Error(t, err)
}

func TestLoadServicesConfigOrDefault(t *testing.T) {
	cfg := LoadServicesConfigOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Len(t, cfg.Enabled(), len(RouteGroups))
}

func TestRepositoryServicesFileParses(t *testing.T) {
	cfg, err := LoadServicesConfigFromPath(filepath.Join("..", "..", "config", "services.yaml"))
	require.NoError(t, err)
	assert.Len(t, cfg.Enabled(), len(RouteGroups))
}
