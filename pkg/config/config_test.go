package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp runs the test in an empty directory so no stray .env is loaded
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoad_DefaultsFromEnv(t *testing.T) {
	chdirTemp(t)
	t.Setenv("CONFORT_STRIPE_WEBHOOK_SECRET", "whsec_test")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "X-User-ID", cfg.Server.UserIDHeader)
	assert.Equal(t, 20*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "whsec_test", cfg.Stripe.WebhookSecret)
	assert.Equal(t, 5*time.Minute, cfg.Stripe.SignatureTolerance)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.True(t, cfg.Store.Breaker.Enabled)
	assert.Equal(t, uint32(5), cfg.Store.Breaker.FailureThreshold)
	assert.Equal(t, "memory", cfg.Dedupe.Backend)
	assert.Equal(t, 100, cfg.RateLimit.Requests)
	assert.False(t, cfg.RateLimit.TrustForwardedFor)
	assert.Equal(t, "confort", cfg.Metrics.Namespace)
	assert.Empty(t, cfg.TierMapping)
}

func TestLoad_MissingWebhookSecret(t *testing.T) {
	chdirTemp(t)

	_, err := Load("")
	assert.ErrorContains(t, err, "WebhookSecret")
}

func TestLoad_YAMLFileWithEnvOverride(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "confort.yaml")
	yaml := `
server:
  addr: ":9090"
log:
  level: debug
  format: console
stripe:
  webhook_secret: whsec_file
tiers:
  - tier: assistant
    ids: [price_1AsstMonthly]
  - tier: butler
    ids: [price_1ButlerMonthly, prod_Butler]
store:
  backend: postgres
  postgres:
    dsn: postgres://localhost/confort
rate_limit:
  window: 30s
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("CONFORT_STRIPE_WEBHOOK_SECRET", "whsec_env")
	t.Setenv("CONFORT_TIER_PRICES", "price_1RulerYearly=ruler, prod_Butler=ruler")
	t.Setenv("CONFORT_RATE_LIMIT_TRUST_FORWARDED_FOR", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "whsec_env", cfg.Stripe.WebhookSecret)
	assert.Equal(t, BackendPostgres, cfg.Store.Backend)
	assert.Equal(t, "profiles", cfg.Store.Postgres.ProfilesTable)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	assert.True(t, cfg.RateLimit.TrustForwardedFor)
	assert.Equal(t, map[string]string{
		"price_1AsstMonthly":  "assistant",
		"price_1ButlerMonthly": "butler",
		"prod_Butler":         "ruler",
		"price_1RulerYearly":  "ruler",
	}, cfg.TierMapping)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("CONFORT_STRIPE_WEBHOOK_SECRET=whsec_dotenv\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("CONFORT_STRIPE_WEBHOOK_SECRET") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "whsec_dotenv", cfg.Stripe.WebhookSecret)
}

func TestLoad_MissingFile(t *testing.T) {
	chdirTemp(t)
	t.Setenv("CONFORT_STRIPE_WEBHOOK_SECRET", "whsec_test")

	_, err := Load("does-not-exist.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		chdirTemp(t)
		t.Setenv("CONFORT_STRIPE_WEBHOOK_SECRET", "whsec_test")
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"unknown backend", func(c *Config) { c.Store.Backend = "mongo" }, "Backend"},
		{"firestore without project", func(c *Config) { c.Store.Backend = BackendFirestore }, "project_id"},
		{"postgres without dsn", func(c *Config) { c.Store.Backend = BackendPostgres }, "dsn"},
		{"redis dedupe without addr", func(c *Config) { c.Dedupe.Backend = "redis" }, "redis.addr"},
		{"postgres dedupe on memory store", func(c *Config) { c.Dedupe.Backend = "postgres" }, "postgres store"},
		{"record cache without redis", func(c *Config) { c.Redis.RecordCacheTTL = time.Minute }, "record cache"},
		{"unknown tier", func(c *Config) { c.TierMapping = map[string]string{"price_x": "emperor"} }, "unknown tier"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "Level"},
		{"bad api url", func(c *Config) { c.Stripe.APIBaseURL = "not a url" }, "APIBaseURL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestMergeTierPrices(t *testing.T) {
	merged, err := mergeTierPrices([]TierPrices{{Tier: "butler", IDs: []string{"price_B"}}}, " price_R = ruler ,,")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"price_B": "butler", "price_R": "ruler"}, merged)

	_, err = mergeTierPrices(nil, "price_only")
	assert.Error(t, err)
	_, err = mergeTierPrices(nil, "=butler")
	assert.Error(t, err)
}
