package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	httpmw "github.com/confortos/confort/middleware/http"
	"github.com/confortos/confort/pkg/api"
	"github.com/confortos/confort/pkg/billing"
)

var gatedTiers = []billing.Tier{billing.TierGuest, billing.TierAssistant, billing.TierButler, billing.TierRuler}

// router serves the webhook, the billing API, tier checks for the upstream
// proxy, health and metrics.
func (a *app) router() (http.Handler, error) {
	getUserID := api.FromHeader(a.cfg.Server.UserIDHeader)
	billingAPI, err := api.NewHandler(api.Config{
		Reader:    a.reader,
		Checkout:  a.provider,
		GetUserID: getUserID,
		Logger:    a.logger,
	})
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(a.log))

	r.Method(http.MethodPost, "/webhooks/stripe", a.provider.WebhookHandler())
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))
	r.Get("/healthz", a.healthz)

	// Subrequest target for proxies gating features by tier (204 or 401/403/503)
	for _, tier := range gatedTiers {
		gate := httpmw.RequireTier(a.reader, httpmw.UserIDExtractor(getUserID), tier)
		r.With(gate).Get("/billing/access/"+tier.String(), func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Billing-Tier", httpmw.TierFromContext(r.Context()).String())
			w.WriteHeader(http.StatusNoContent)
		})
	}

	billingAPI.RegisterRoutes(r)
	return r, nil
}

func (a *app) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.ping(ctx); err != nil {
		a.log.Warn().Err(err).Msg("health check failed")
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok"))
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			event := log.Debug()
			if ww.Status() >= http.StatusInternalServerError {
				event = log.Warn()
			}
			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}
