package echo

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confortos/confort/pkg/billing"
	"github.com/confortos/confort/storage/memory"
)

type errorReader struct{}

func (errorReader) GetRecord(_ context.Context, _ string) (*billing.UserBillingRecord, error) {
	return nil, errors.New("connection refused")
}

func setupStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.New()
	rec := billing.NewUserBillingRecord("ruler-user")
	rec.Tier = billing.TierRuler
	require.NoError(t, store.Put(rec))
	return store
}

func setupEcho(mw echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	e.Use(mw)
	e.GET("/api/test", func(c echo.Context) error {
		return c.String(http.StatusOK, TierFromContext(c).String())
	})
	return e
}

func doRequest(e *echo.Echo, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/test", http.NoBody)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_Allowed(t *testing.T) {
	e := setupEcho(RequireTier(setupStore(t), FromHeader("X-User-ID"), billing.TierButler))

	rec := doRequest(e, "ruler-user")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ruler", rec.Body.String())
}

func TestMiddleware_GuestAllowedWithoutRecord(t *testing.T) {
	e := setupEcho(RequireTier(setupStore(t), FromHeader("X-User-ID"), billing.TierGuest))

	rec := doRequest(e, "nobody")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "guest", rec.Body.String())
}

func TestMiddleware_Forbidden(t *testing.T) {
	e := setupEcho(RequireTier(setupStore(t), FromHeader("X-User-ID"), billing.TierAssistant))

	rec := doRequest(e, "nobody")
	require.Equal(t, http.StatusForbidden, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "guest", body["tier"])
	assert.Equal(t, "assistant", body["required"])
}

func TestMiddleware_Unauthorized(t *testing.T) {
	e := setupEcho(RequireTier(setupStore(t), FromHeader("X-User-ID"), billing.TierGuest))
	assert.Equal(t, http.StatusUnauthorized, doRequest(e, "").Code)
}

func TestMiddleware_StoreError(t *testing.T) {
	e := setupEcho(RequireTier(errorReader{}, FromHeader("X-User-ID"), billing.TierGuest))
	assert.Equal(t, http.StatusServiceUnavailable, doRequest(e, "u1").Code)
}

func TestMiddleware_CustomError(t *testing.T) {
	var gotErr error
	e := setupEcho(Middleware(Config{
		Reader:    errorReader{},
		GetUserID: FromHeader("X-User-ID"),
		OnError: func(c echo.Context, err error) error {
			gotErr = err
			return c.NoContent(http.StatusBadGateway)
		},
	}))

	assert.Equal(t, http.StatusBadGateway, doRequest(e, "u1").Code)
	assert.EqualError(t, gotErr, "connection refused")
}

func TestFromContext(t *testing.T) {
	e := echo.New()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("user_id", "ruler-user")
			return next(c)
		}
	})
	e.Use(RequireTier(setupStore(t), FromContext("user_id"), billing.TierRuler))
	e.GET("/api/test", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	assert.Equal(t, http.StatusNoContent, doRequest(e, "").Code)
}

func TestMiddleware_RequiresConfig(t *testing.T) {
	assert.Panics(t, func() { Middleware(Config{GetUserID: FromHeader("X-User-ID")}) })
	assert.Panics(t, func() { Middleware(Config{Reader: memory.New()}) })
}
