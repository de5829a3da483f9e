package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/confortos/confort/pkg/billing"
	"github.com/confortos/confort/pkg/billing/events/rabbitmq"
	zerologadapter "github.com/confortos/confort/pkg/billing/logger/zerolog"
	prommetrics "github.com/confortos/confort/pkg/billing/metrics/prometheus"
	billingstripe "github.com/confortos/confort/pkg/billing/stripe"
	"github.com/confortos/confort/pkg/config"
	firestorestore "github.com/confortos/confort/storage/firestore"
	"github.com/confortos/confort/storage/memory"
	"github.com/confortos/confort/storage/postgres"
	redisstore "github.com/confortos/confort/storage/redis"
)

// app holds the wired components shared by serve and sync
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	logger   billing.Logger
	registry *prometheus.Registry
	metrics  billing.Metrics

	store    billing.Store
	reader   billing.RecordReader
	provider *billingstripe.Provider

	pingers []func(context.Context) error
	closers []func() error
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if cfg.Log.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", "confortd").Logger()
}

// newApp wires stores, deduplication, callbacks, metrics and the Stripe
// provider from cfg. Callers must Close the app.
func newApp(ctx context.Context, cfg *config.Config, out io.Writer) (_ *app, err error) {
	a := &app{
		cfg:      cfg,
		log:      newLogger(cfg, out),
		registry: prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.logger = zerologadapter.NewLogger(a.log)
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = prommetrics.NewMetrics(a.registry, cfg.Metrics.Namespace)

	pg, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	dedupe, err := a.openDeduplicator(pg)
	if err != nil {
		return nil, err
	}

	callbacks, err := a.openCallbacks()
	if err != nil {
		return nil, err
	}

	a.provider, err = billingstripe.NewProvider(billingstripe.Config{
		Config: billing.Config{
			Store:           a.store,
			TierMapping:     cfg.TierMapping,
			Deduplicator:    dedupe,
			WebhookCallback: callbacks,
			Logger:          a.logger,
			Metrics:         a.metrics,
		},
		StripeAPIKey:        cfg.Stripe.APIKey,
		StripeWebhookSecret: cfg.Stripe.WebhookSecret,
		SignatureTolerance:  cfg.Stripe.SignatureTolerance,
		RateLimitRequests:   cfg.RateLimit.Requests,
		RateLimitWindow:     cfg.RateLimit.Window,
		TrustForwardedFor:   cfg.RateLimit.TrustForwardedFor,
		APIBaseURL:          cfg.Stripe.APIBaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create stripe provider: %w", err)
	}

	a.log.Info().
		Str("store", cfg.Store.Backend).
		Str("dedupe", cfg.Dedupe.Backend).
		Int("tier_mapping_entries", a.provider.TierMapping().Len()).
		Bool("checkout_enabled", cfg.Stripe.APIKey != "").
		Msg("billing service wired")
	return a, nil
}

// openStore connects the configured backend and wraps it in the circuit breaker.
// The Postgres store is returned so it can double as deduplicator.
func (a *app) openStore(ctx context.Context) (*postgres.Store, error) {
	var (
		store billing.Store
		pg    *postgres.Store
	)

	switch a.cfg.Store.Backend {
	case config.BackendMemory:
		a.log.Warn().Msg("using in-memory billing store; records are lost on restart")
		store = memory.New()

	case config.BackendFirestore:
		client, err := firestore.NewClient(ctx, a.cfg.Store.Firestore.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		store, err = firestorestore.New(client, firestorestore.Config{
			UsersCollection: a.cfg.Store.Firestore.UsersCollection,
		})
		if err != nil {
			return nil, err
		}

	case config.BackendPostgres:
		pgConfig := postgres.DefaultConfig()
		pgConfig.ConnectionString = a.cfg.Store.Postgres.DSN
		pgConfig.ProfilesTable = a.cfg.Store.Postgres.ProfilesTable
		pgConfig.EventTTL = a.cfg.Dedupe.TTL
		var err error
		pg, err = postgres.New(ctx, pgConfig)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { pg.Close(); return nil })
		a.pingers = append(a.pingers, pg.Ping)
		if a.cfg.Store.Postgres.EnsureSchema {
			if err := pg.EnsureSchema(ctx); err != nil {
				return nil, err
			}
		}
		store = pg

	default:
		return nil, fmt.Errorf("unknown store backend %q", a.cfg.Store.Backend)
	}

	if a.cfg.Store.Breaker.Enabled {
		store = billing.NewCircuitBreakerStore(store, billing.CircuitBreakerConfig{
			FailureThreshold: a.cfg.Store.Breaker.FailureThreshold,
			ResetTimeout:     a.cfg.Store.Breaker.ResetTimeout,
			Logger:           a.logger,
			Metrics:          a.metrics,
		})
	}
	a.store = store
	a.reader = store
	return pg, nil
}

func (a *app) redisClient() goredis.UniversalClient {
	client := goredis.NewClient(&goredis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	a.closers = append(a.closers, client.Close)
	a.pingers = append(a.pingers, func(ctx context.Context) error { return client.Ping(ctx).Err() })
	return client
}

func (a *app) openDeduplicator(pg *postgres.Store) (billing.Deduplicator, error) {
	switch a.cfg.Dedupe.Backend {
	case "none":
		return nil, nil
	case "memory":
		return memory.NewDeduplicator(a.cfg.Dedupe.TTL), nil
	case "redis":
		return redisstore.NewDeduplicator(a.redisClient(), redisstore.Config{
			KeyPrefix: a.cfg.Redis.KeyPrefix,
			EventTTL:  a.cfg.Dedupe.TTL,
		})
	case "postgres":
		if pg == nil {
			return nil, fmt.Errorf("postgres deduplicator requires the postgres store")
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown dedupe backend %q", a.cfg.Dedupe.Backend)
	}
}

// openCallbacks wires the record cache invalidation and the RabbitMQ publisher
func (a *app) openCallbacks() (billing.WebhookCallback, error) {
	var callbacks []billing.WebhookCallback

	if a.cfg.Redis.RecordCacheTTL > 0 {
		cache, err := redisstore.NewRecordCache(a.redisClient(), a.store, redisstore.Config{
			KeyPrefix: a.cfg.Redis.KeyPrefix,
			RecordTTL: a.cfg.Redis.RecordCacheTTL,
		})
		if err != nil {
			return nil, err
		}
		a.reader = cache
		callbacks = append(callbacks, cache.WebhookCallback())
	}

	if a.cfg.RabbitMQ.URL != "" {
		publisher, err := rabbitmq.NewPublisher(a.cfg.RabbitMQ.URL, a.logger)
		if err != nil {
			return nil, err
		}
		publisher.OnlyTierChanges = a.cfg.RabbitMQ.OnlyTierChanges
		a.closers = append(a.closers, publisher.Close)
		callbacks = append(callbacks, publisher.WebhookCallback())
	}

	if len(callbacks) == 0 {
		return nil, nil
	}
	return billing.ChainCallbacks(callbacks...), nil
}

// ping checks every external dependency
func (a *app) ping(ctx context.Context) error {
	var errs []error
	for _, p := range a.pingers {
		if err := p(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close releases connections in reverse order of creation
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func loadApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, os.Stderr)
}
