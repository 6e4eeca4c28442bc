// ABOUTME: Tests for the admin API handler
// ABOUTME: Authentication, rate limiting, error mapping, and secret masking

package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"withings-sidecar/driver"
	"withings-sidecar/models"
	"withings-sidecar/security"
	"withings-sidecar/service"
)

// stubCoordinator implements TokenCoordinator with canned responses.
type stubCoordinator struct {
	status        *service.TokenStatus
	statusErr     error
	refreshResult *service.RefreshResult
	refreshErr    error
	refreshOpts   *service.RefreshOptions
	exchanged     *models.TokenRecord
	exchangeErr   error
	exchangedCode string
}

func (s *stubCoordinator) Status(_ context.Context) (*service.TokenStatus, error) {
	return s.status, s.statusErr
}

func (s *stubCoordinator) Refresh(_ context.Context, opts service.RefreshOptions) (*service.RefreshResult, error) {
	s.refreshOpts = &opts
	return s.refreshResult, s.refreshErr
}

func (s *stubCoordinator) ExchangeCode(_ context.Context, code string) (*models.TokenRecord, error) {
	s.exchangedCode = code
	return s.exchanged, s.exchangeErr
}

func (s *stubCoordinator) AuthorizationURL(state string) string {
	return "https://account.withings.com/oauth2_user/authorize2?state=" + state
}

type stubAuthenticator struct {
	adminToken string
}

func (a *stubAuthenticator) ValidateAdminToken(presented string) bool {
	return presented == a.adminToken
}

func (a *stubAuthenticator) ValidateServiceAccountToken(_ string) (*security.ServiceAccountInfo, error) {
	return nil, fmt.Errorf("not configured")
}

type allowAllLimiter struct{}

func (allowAllLimiter) Allow(string) bool { return true }

type denyAllLimiter struct{}

func (denyAllLimiter) Allow(string) bool { return false }

func newTestHandler(coordinator TokenCoordinator) *AdminAPIHandler {
	return NewAdminAPIHandler(coordinator, &stubAuthenticator{adminToken: "admin-secret"}, allowAllLimiter{}, nil)
}

func doRequest(h *AdminAPIHandler, method, path, body, adminToken string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if adminToken != "" {
		req.Header.Set("X-Admin-Token", adminToken)
	}

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestHandler(&stubCoordinator{})

	rec := doRequest(h, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestAuthentication(t *testing.T) {
	h := newTestHandler(&stubCoordinator{status: &service.TokenStatus{State: service.StateIdle}})

	t.Run("missing credential", func(t *testing.T) {
		rec := doRequest(h, http.MethodGet, "/admin/token/status", "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "MISSING_AUTHORIZATION", decodeError(t, rec).ErrorCode)
	})

	t.Run("wrong admin token", func(t *testing.T) {
		rec := doRequest(h, http.MethodGet, "/admin/token/status", "", "wrong-token")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "INVALID_TOKEN", decodeError(t, rec).ErrorCode)
	})

	t.Run("valid admin token", func(t *testing.T) {
		rec := doRequest(h, http.MethodGet, "/admin/token/status", "", "admin-secret")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unverifiable bearer token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin/token/status", nil)
		req.Header.Set("Authorization", "Bearer some-jwt")
		mux := http.NewServeMux()
		h.RegisterRoutes(mux)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestRateLimiting(t *testing.T) {
	h := NewAdminAPIHandler(&stubCoordinator{}, &stubAuthenticator{adminToken: "admin-secret"}, denyAllLimiter{}, nil)

	rec := doRequest(h, http.MethodGet, "/admin/token/status", "", "admin-secret")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", decodeError(t, rec).ErrorCode)
}

func TestTokenStatusEndpoint(t *testing.T) {
	expiresAt := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	h := newTestHandler(&stubCoordinator{status: &service.TokenStatus{
		Configured:     true,
		State:          service.StateIdle,
		ExpiresAt:      expiresAt,
		ExpiresInHours: 24,
		ShouldRefresh:  true,
	}})

	rec := doRequest(h, http.MethodGet, "/admin/token/status", "", "admin-secret")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp TokenStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Configured)
	assert.Equal(t, "idle", resp.State)
	assert.True(t, resp.ShouldRefresh)
	require.NotNil(t, resp.ExpiresAt)
	assert.Equal(t, expiresAt, resp.ExpiresAt.UTC())
}

func TestForceRefreshEndpoint(t *testing.T) {
	record := &models.TokenRecord{
		AccessToken:  "access-1234567890abcdef",
		RefreshToken: "refresh-1234567890fedcba",
		ExpiresAt:    time.Date(2025, 6, 1, 15, 0, 0, 0, time.UTC),
	}

	t.Run("success masks secrets", func(t *testing.T) {
		stub := &stubCoordinator{refreshResult: &service.RefreshResult{Record: record, Synced: true}}
		h := newTestHandler(stub)

		rec := doRequest(h, http.MethodPost, "/admin/token/refresh", "", "admin-secret")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp RefreshResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "****cdef", resp.AccessTokenSuffix)
		assert.Equal(t, "****dcba", resp.RefreshTokenSuffix)
		assert.NotContains(t, rec.Body.String(), record.AccessToken)
		assert.NotContains(t, rec.Body.String(), record.RefreshToken)

		// Empty body defaults to propagate without redeploy.
		require.NotNil(t, stub.refreshOpts)
		assert.True(t, stub.refreshOpts.Propagate)
		assert.False(t, stub.refreshOpts.Redeploy)
	})

	t.Run("body controls propagation flags", func(t *testing.T) {
		stub := &stubCoordinator{refreshResult: &service.RefreshResult{Record: record, Synced: true}}
		h := newTestHandler(stub)

		rec := doRequest(h, http.MethodPost, "/admin/token/refresh", `{"propagate":false,"redeploy":true}`, "admin-secret")
		require.Equal(t, http.StatusOK, rec.Code)

		require.NotNil(t, stub.refreshOpts)
		assert.False(t, stub.refreshOpts.Propagate)
		assert.True(t, stub.refreshOpts.Redeploy)
	})

	t.Run("invalid refresh token maps to 409", func(t *testing.T) {
		h := newTestHandler(&stubCoordinator{
			refreshErr: fmt.Errorf("%w: vendor status 401", driver.ErrInvalidRefreshToken),
		})

		rec := doRequest(h, http.MethodPost, "/admin/token/refresh", "", "admin-secret")
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "REAUTHORIZATION_REQUIRED", decodeError(t, rec).ErrorCode)
	})

	t.Run("vendor outage maps to 502", func(t *testing.T) {
		h := newTestHandler(&stubCoordinator{
			refreshErr: fmt.Errorf("%w: HTTP 503", driver.ErrVendorUnavailable),
		})

		rec := doRequest(h, http.MethodPost, "/admin/token/refresh", "", "admin-secret")
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "VENDOR_UNAVAILABLE", decodeError(t, rec).ErrorCode)
	})

	t.Run("no stored pair maps to 409", func(t *testing.T) {
		h := newTestHandler(&stubCoordinator{refreshErr: service.ErrNotAuthorized})

		rec := doRequest(h, http.MethodPost, "/admin/token/refresh", "", "admin-secret")
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "NOT_AUTHORIZED", decodeError(t, rec).ErrorCode)
	})

	t.Run("wrong method", func(t *testing.T) {
		h := newTestHandler(&stubCoordinator{})
		rec := doRequest(h, http.MethodGet, "/admin/token/refresh", "", "admin-secret")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestAuthorizeURLEndpoint(t *testing.T) {
	h := newTestHandler(&stubCoordinator{})

	rec := doRequest(h, http.MethodGet, "/admin/oauth/authorize-url?state=abc123", "", "admin-secret")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AuthorizeURLResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.AuthorizeURL, "state=abc123")
}

func TestExchangeEndpoint(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		stub := &stubCoordinator{exchanged: &models.TokenRecord{
			AccessToken:  "access-1234567890abcdef",
			RefreshToken: "refresh-1234567890fedcba",
			UserID:       "42",
			ExpiresAt:    time.Date(2025, 6, 1, 15, 0, 0, 0, time.UTC),
		}}
		h := newTestHandler(stub)

		rec := doRequest(h, http.MethodPost, "/admin/oauth/exchange", `{"code":"fresh-code"}`, "admin-secret")
		require.Equal(t, http.StatusOK, rec.Code)

		assert.Equal(t, "fresh-code", stub.exchangedCode)

		var resp ExchangeResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "42", resp.UserID)
		assert.Equal(t, "****cdef", resp.AccessTokenSuffix)
		assert.NotContains(t, rec.Body.String(), "access-1234567890abcdef")
	})

	t.Run("missing code", func(t *testing.T) {
		h := newTestHandler(&stubCoordinator{})

		rec := doRequest(h, http.MethodPost, "/admin/oauth/exchange", `{"code":"  "}`, "admin-secret")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec).ErrorCode)
	})

	t.Run("rejected code maps to 409", func(t *testing.T) {
		h := newTestHandler(&stubCoordinator{
			exchangeErr: fmt.Errorf("%w: vendor status 29", driver.ErrInvalidAuthorizationCode),
		})

		rec := doRequest(h, http.MethodPost, "/admin/oauth/exchange", `{"code":"stale"}`, "admin-secret")
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "INVALID_CODE", decodeError(t, rec).ErrorCode)
	})

	t.Run("invalid json", func(t *testing.T) {
		h := newTestHandler(&stubCoordinator{})

		rec := doRequest(h, http.MethodPost, "/admin/oauth/exchange", `{not json`, "admin-secret")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_JSON", decodeError(t, rec).ErrorCode)
	})
}

func TestSecurityHeaders(t *testing.T) {
	h := newTestHandler(&stubCoordinator{status: &service.TokenStatus{State: service.StateIdle}})

	rec := doRequest(h, http.MethodGet, "/admin/token/status", "", "admin-secret")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
