package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/confortos/confort/pkg/billing"
)

const (
	maxUserIDLen    = 255
	maxRequestBytes = 16 << 10
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// statusError carries the HTTP status chosen for an error
type statusError struct {
	code int
	err  error
}

func (e *statusError) Error() string { return e.err.Error() }
func (e *statusError) Unwrap() error { return e.err }

func withStatus(code int, err error) error {
	return &statusError{code: code, err: err}
}

// Handler provides HTTP endpoints for billing self-service
type Handler struct {
	config Config
}

// RegisterRoutes adds GET /billing/me, POST /billing/checkout and
// POST /billing/portal to r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/billing/me", h.GetBilling)
	r.Post("/billing/checkout", h.CreateCheckout)
	r.Post("/billing/portal", h.CreatePortal)
}

// Routes returns a router serving only the billing API
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

// GetBilling returns the caller's tier and subscription status.
// Users without a record are reported as guests.
func (h *Handler) GetBilling(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userID(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	response := BillingResponse{
		UserID: userID,
		Tier:   billing.TierGuest,
		Status: billing.StatusNone,
	}

	rec, err := h.config.Reader.GetRecord(r.Context(), userID)
	switch {
	case errors.Is(err, billing.ErrRecordNotFound):
	case err != nil:
		h.config.Logger.Error("failed to read billing record",
			billing.F("user_id", userID), billing.F("error", err.Error()))
		h.handleError(w, r, withStatus(http.StatusServiceUnavailable, fmt.Errorf("billing record unavailable")))
		return
	default:
		response.Tier = rec.Tier
		response.Status = rec.Status
		response.CustomerLinked = rec.CustomerID != ""
		if !rec.UpdatedAt.IsZero() {
			updatedAt := rec.UpdatedAt
			response.UpdatedAt = &updatedAt
		}
	}

	writeJSON(w, http.StatusOK, response)
}

// CreateCheckout returns a hosted checkout URL for the requested tier
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userID(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if h.config.Checkout == nil {
		h.handleError(w, r, withStatus(http.StatusServiceUnavailable, billing.ErrProviderNotConfigured))
		return
	}

	var req CheckoutRequest
	if err := decodeRequest(w, r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}
	tier, err := billing.ParseTier(req.Tier)
	if err != nil {
		h.handleError(w, r, withStatus(http.StatusBadRequest, err))
		return
	}

	url, err := h.config.Checkout.CheckoutURL(r.Context(), userID, tier, req.SuccessURL, req.CancelURL)
	if err != nil {
		h.config.Logger.Error("checkout session failed",
			billing.F("user_id", userID), billing.F("tier", tier.String()), billing.F("error", err.Error()))
		h.handleError(w, r, withStatus(statusForProviderError(err), err))
		return
	}
	writeJSON(w, http.StatusOK, RedirectResponse{URL: url})
}

// CreatePortal returns a billing portal URL for a user with a linked customer
func (h *Handler) CreatePortal(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userID(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if h.config.Checkout == nil {
		h.handleError(w, r, withStatus(http.StatusServiceUnavailable, billing.ErrProviderNotConfigured))
		return
	}

	var req PortalRequest
	if err := decodeRequest(w, r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}

	url, err := h.config.Checkout.PortalURL(r.Context(), userID, req.ReturnURL)
	if err != nil {
		h.config.Logger.Warn("portal session failed",
			billing.F("user_id", userID), billing.F("error", err.Error()))
		h.handleError(w, r, withStatus(statusForProviderError(err), err))
		return
	}
	writeJSON(w, http.StatusOK, RedirectResponse{URL: url})
}

func (h *Handler) userID(r *http.Request) (string, error) {
	userID := h.config.GetUserID(r)
	if userID == "" {
		return "", withStatus(http.StatusUnauthorized, fmt.Errorf("user ID not found"))
	}
	if len(userID) > maxUserIDLen {
		return "", withStatus(http.StatusBadRequest, fmt.Errorf("invalid user ID format"))
	}
	return userID, nil
}

func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return withStatus(http.StatusRequestEntityTooLarge, fmt.Errorf("request body too large"))
		}
		return withStatus(http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
	}
	if err := validate.Struct(dst); err != nil {
		return withStatus(http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
	}
	return nil
}

func statusForProviderError(err error) int {
	switch {
	case errors.Is(err, billing.ErrTierNotConfigured):
		return http.StatusUnprocessableEntity
	case errors.Is(err, billing.ErrCustomerNotLinked):
		return http.StatusConflict
	case errors.Is(err, billing.ErrProviderNotConfigured), errors.Is(err, billing.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleError handles errors with appropriate HTTP status codes
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}

	statusCode := http.StatusInternalServerError
	var se *statusError
	if errors.As(err, &se) {
		statusCode = se.code
	}
	writeJSON(w, statusCode, map[string]string{"error": err.Error()})
}
