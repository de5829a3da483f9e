package stripe

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/confortos/confort/pkg/billing"
	"github.com/confortos/confort/pkg/billing/internal"
)

const (
	providerName             = "stripe"
	defaultHTTPTimeout       = 10 * time.Second
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
	maxWebhookBodyBytes      = 256 * 1024
	metadataUserID           = "user_id"
)

// Config extends billing.Config with Stripe-specific options
type Config struct {
	billing.Config // Base config (Store, TierMapping, etc.)

	// Stripe-specific
	StripeAPIKey        string
	StripeWebhookSecret string

	// SignatureTolerance bounds the age of the signed timestamp.
	// Default: 5 minutes
	SignatureTolerance time.Duration

	// RateLimitRequests per RateLimitWindow per client IP on the webhook endpoint.
	// Defaults: 100 per minute
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// TrustForwardedFor keys the webhook rate limiter on X-Forwarded-For.
	// Set it only behind a proxy that rewrites the header.
	TrustForwardedFor bool

	// APIBaseURL overrides the Stripe API endpoint (stripe-mock, tests).
	APIBaseURL string
}

// Provider implements the billing.Provider interface for Stripe
type Provider struct {
	store        billing.Store
	mapping      billing.TierMapping
	updater      *billing.Updater
	reconciler   *billing.Reconciler
	rateLimiter  *internal.RateLimiter
	stripeClient *stripe.Client
	configured   bool
	logger       billing.Logger
	metrics      billing.Metrics
}

var _ billing.Provider = (*Provider)(nil)

// NewProvider creates a new Stripe billing provider.
//
// The webhook secret may be empty, in which case the webhook endpoint answers
// 503. The API key may be empty for webhook-only deployments; checkout, portal
// and sync then return billing.ErrProviderNotConfigured.
func NewProvider(config Config) (*Provider, error) {
	if config.Store == nil {
		return nil, billing.ErrProviderNotConfigured
	}

	mapping, err := billing.NewTierMapping(config.TierMapping)
	if err != nil {
		return nil, fmt.Errorf("stripe tier mapping: %w", err)
	}

	logger := config.Logger
	if logger == nil {
		logger = &billing.NoopLogger{}
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}

	updater, err := billing.NewUpdater(billing.UpdaterConfig{
		Store:   config.Store,
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		return nil, err
	}

	webhookSecret := strings.TrimSpace(config.StripeWebhookSecret)
	reconciler, err := billing.NewReconciler(billing.ReconcilerConfig{
		Provider:        providerName,
		Verifier:        NewVerifier(webhookSecret, config.SignatureTolerance),
		TierMapping:     mapping,
		Updater:         updater,
		Deduplicator:    config.Deduplicator,
		WebhookCallback: config.WebhookCallback,
		Logger:          logger,
		Metrics:         metrics,
	})
	if err != nil {
		return nil, err
	}

	if config.RateLimitRequests <= 0 {
		config.RateLimitRequests = defaultRateLimitRequests
	}
	if config.RateLimitWindow <= 0 {
		config.RateLimitWindow = defaultRateLimitWindow
	}

	rateLimiter := internal.NewRateLimiter(config.RateLimitRequests, config.RateLimitWindow)
	rateLimiter.TrustForwardedFor = config.TrustForwardedFor

	p := &Provider{
		store:       config.Store,
		mapping:     mapping,
		updater:     updater,
		reconciler:  reconciler,
		rateLimiter: rateLimiter,
		configured:  webhookSecret != "",
		logger:      logger,
		metrics:     metrics,
	}

	if apiKey := strings.TrimSpace(config.StripeAPIKey); apiKey != "" {
		p.stripeClient = newStripeClient(apiKey, config.HTTPClient, config.APIBaseURL)
	}
	return p, nil
}

func newStripeClient(apiKey string, httpClient *http.Client, baseURL string) *stripe.Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	backendConfig := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripe.Int64(0),
	}
	if baseURL != "" {
		backendConfig.URL = stripe.String(baseURL)
	}
	return stripe.NewClient(apiKey, stripe.WithBackends(stripe.NewBackendsWithConfig(backendConfig)))
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhooks
func (p *Provider) WebhookHandler() http.Handler {
	handler := http.HandlerFunc(p.handleWebhook)
	// Wrap with rate limiting
	return p.rateLimiter.Middleware(handler)
}

// Reconciler exposes the webhook pipeline, e.g. for queue consumers that
// receive raw Stripe payloads out of band.
func (p *Provider) Reconciler() *billing.Reconciler {
	return p.reconciler
}

// TierMapping returns the parsed price/product mapping.
func (p *Provider) TierMapping() billing.TierMapping {
	return p.mapping
}
