// Package config loads confortd configuration from an optional YAML file,
// a .env file and CONFORT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/confortos/confort/pkg/billing"
)

// EnvPrefix prefixes every environment variable, e.g. CONFORT_STRIPE_WEBHOOK_SECRET
const EnvPrefix = "CONFORT"

// Store backends
const (
	BackendMemory    = "memory"
	BackendFirestore = "firestore"
	BackendPostgres  = "postgres"
)

// TierPrices binds provider ids to one tier
type TierPrices struct {
	Tier string   `mapstructure:"tier" validate:"required"`
	IDs  []string `mapstructure:"ids" validate:"min=1,dive,required"`
}

// Config holds application configuration.
type Config struct {
	Server struct {
		Addr            string        `mapstructure:"addr" validate:"required"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
		// UserIDHeader is set by the upstream auth proxy
		UserIDHeader string `mapstructure:"user_id_header" validate:"required"`
	} `mapstructure:"server"`

	Log struct {
		Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
		Format string `mapstructure:"format" validate:"oneof=json console"`
	} `mapstructure:"log"`

	Stripe struct {
		APIKey             string        `mapstructure:"api_key"`
		WebhookSecret      string        `mapstructure:"webhook_secret" validate:"required"`
		SignatureTolerance time.Duration `mapstructure:"signature_tolerance"`
		APIBaseURL         string        `mapstructure:"api_base_url" validate:"omitempty,url"`
	} `mapstructure:"stripe"`

	// Tiers lists the Stripe price/product ids of each paid tier. Ids are kept
	// as values because viper lower-cases map keys.
	Tiers []TierPrices `mapstructure:"tiers" validate:"dive"`

	// TierPrices is the environment form of Tiers: "price_a=butler,prod_b=ruler".
	// Entries override Tiers.
	TierPrices string `mapstructure:"tier_prices"`

	// TierMapping is the merged id -> tier name map built by Load
	TierMapping map[string]string `mapstructure:"-"`

	Store struct {
		Backend string `mapstructure:"backend" validate:"oneof=memory firestore postgres"`

		Firestore struct {
			ProjectID       string `mapstructure:"project_id"`
			UsersCollection string `mapstructure:"users_collection"`
		} `mapstructure:"firestore"`

		Postgres struct {
			DSN           string `mapstructure:"dsn"`
			ProfilesTable string `mapstructure:"profiles_table"`
			EnsureSchema  bool   `mapstructure:"ensure_schema"`
		} `mapstructure:"postgres"`

		Breaker struct {
			Enabled          bool          `mapstructure:"enabled"`
			FailureThreshold uint32        `mapstructure:"failure_threshold"`
			ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
		} `mapstructure:"breaker"`
	} `mapstructure:"store"`

	Dedupe struct {
		// Backend selects the processed-event store: memory, redis or postgres
		Backend string        `mapstructure:"backend" validate:"oneof=none memory redis postgres"`
		TTL     time.Duration `mapstructure:"ttl"`
	} `mapstructure:"dedupe"`

	Redis struct {
		Addr      string `mapstructure:"addr"`
		Password  string `mapstructure:"password"`
		DB        int    `mapstructure:"db"`
		KeyPrefix string `mapstructure:"key_prefix"`
		// RecordCacheTTL enables the billing record cache for feature gates when > 0
		RecordCacheTTL time.Duration `mapstructure:"record_cache_ttl"`
	} `mapstructure:"redis"`

	RabbitMQ struct {
		URL             string `mapstructure:"url"`
		OnlyTierChanges bool   `mapstructure:"only_tier_changes"`
	} `mapstructure:"rabbitmq"`

	RateLimit struct {
		Requests int           `mapstructure:"requests" validate:"gte=0"`
		Window   time.Duration `mapstructure:"window"`
		// TrustForwardedFor keys clients on X-Forwarded-For; enable only behind a proxy
		TrustForwardedFor bool `mapstructure:"trust_forwarded_for"`
	} `mapstructure:"rate_limit"`

	Metrics struct {
		Namespace string `mapstructure:"namespace"`
	} `mapstructure:"metrics"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 20*time.Second)
	v.SetDefault("server.user_id_header", "X-User-ID")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("stripe.api_key", "")
	v.SetDefault("stripe.webhook_secret", "")
	v.SetDefault("stripe.signature_tolerance", 5*time.Minute)
	v.SetDefault("stripe.api_base_url", "")

	v.SetDefault("tier_prices", "")

	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.firestore.project_id", "")
	v.SetDefault("store.firestore.users_collection", "users")
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.profiles_table", "profiles")
	v.SetDefault("store.postgres.ensure_schema", false)
	v.SetDefault("store.breaker.enabled", true)
	v.SetDefault("store.breaker.failure_threshold", 5)
	v.SetDefault("store.breaker.reset_timeout", 30*time.Second)

	v.SetDefault("dedupe.backend", "memory")
	v.SetDefault("dedupe.ttl", 72*time.Hour)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "confort:billing:")
	v.SetDefault("redis.record_cache_ttl", 0)

	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.only_tier_changes", true)

	v.SetDefault("rate_limit.requests", 100)
	v.SetDefault("rate_limit.window", time.Minute)
	v.SetDefault("rate_limit.trust_forwarded_for", false)

	v.SetDefault("metrics.namespace", "confort")
}

// Load reads configuration. A .env file in the working directory is loaded
// first when present; path optionally names a YAML file; CONFORT_* environment
// variables override both.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	mapping, err := mergeTierPrices(cfg.Tiers, cfg.TierPrices)
	if err != nil {
		return nil, err
	}
	cfg.TierMapping = mapping

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration for missing secrets and unknown backends
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	switch c.Store.Backend {
	case BackendFirestore:
		if c.Store.Firestore.ProjectID == "" {
			return fmt.Errorf("invalid config: store.firestore.project_id is required for the firestore backend")
		}
	case BackendPostgres:
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("invalid config: store.postgres.dsn is required for the postgres backend")
		}
	}

	switch c.Dedupe.Backend {
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("invalid config: redis.addr is required for the redis deduplicator")
		}
	case "postgres":
		if c.Store.Backend != BackendPostgres {
			return fmt.Errorf("invalid config: the postgres deduplicator requires the postgres store backend")
		}
	}

	if c.Redis.RecordCacheTTL > 0 && c.Redis.Addr == "" {
		return fmt.Errorf("invalid config: redis.addr is required for the record cache")
	}

	if _, err := billing.NewTierMapping(c.TierMapping); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// mergeTierPrices flattens tiers and applies "id=tier" pairs separated by commas
func mergeTierPrices(tiers []TierPrices, prices string) (map[string]string, error) {
	merged := make(map[string]string)
	for _, t := range tiers {
		for _, id := range t.IDs {
			merged[id] = t.Tier
		}
	}
	for _, pair := range strings.Split(prices, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, tier, ok := strings.Cut(pair, "=")
		id, tier = strings.TrimSpace(id), strings.TrimSpace(tier)
		if !ok || id == "" || tier == "" {
			return nil, fmt.Errorf("invalid tier_prices entry %q: want id=tier", pair)
		}
		merged[id] = tier
	}
	return merged, nil
}
