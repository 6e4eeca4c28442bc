// ABOUTME: Admin API handler - authenticated token lifecycle endpoints
// ABOUTME: Status, forced refresh, authorize-URL issuance and code exchange

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"withings-sidecar/driver"
	"withings-sidecar/models"
	"withings-sidecar/security"
	"withings-sidecar/service"
	"withings-sidecar/utils"
)

const adminTokenHeader = "X-Admin-Token"

// TokenCoordinator is the lifecycle surface the handler drives.
type TokenCoordinator interface {
	Status(ctx context.Context) (*service.TokenStatus, error)
	Refresh(ctx context.Context, opts service.RefreshOptions) (*service.RefreshResult, error)
	ExchangeCode(ctx context.Context, code string) (*models.TokenRecord, error)
	AuthorizationURL(state string) string
}

// AdminAuthenticator validates admin credentials.
type AdminAuthenticator interface {
	ValidateAdminToken(presented string) bool
	ValidateServiceAccountToken(token string) (*security.ServiceAccountInfo, error)
}

// RateLimiter throttles admin requests per client.
type RateLimiter interface {
	Allow(clientIP string) bool
}

// AdminAPIHandler serves the admin surface. Every route except /healthz
// requires either the shared admin token or a ServiceAccount bearer token.
type AdminAPIHandler struct {
	coordinator   TokenCoordinator
	authenticator AdminAuthenticator
	rateLimiter   RateLimiter
	logger        *slog.Logger
}

// ErrorResponse is the error envelope.
type ErrorResponse struct {
	Status    string    `json:"status"`
	ErrorCode string    `json:"error_code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// TokenStatusResponse reports the persisted token state. Raw secrets never
// appear here, only masked suffixes.
type TokenStatusResponse struct {
	Status          string                     `json:"status"`
	Configured      bool                       `json:"configured"`
	State           string                     `json:"state"`
	FailureReason   string                     `json:"failure_reason,omitempty"`
	ExpiresAt       *time.Time                 `json:"expires_at,omitempty"`
	ExpiresInHours  float64                    `json:"expires_in_hours"`
	ShouldRefresh   bool                       `json:"should_refresh"`
	LastRefreshedAt *time.Time                 `json:"last_refreshed_at,omitempty"`
	Metrics         service.CoordinatorMetrics `json:"metrics"`
	Timestamp       time.Time                  `json:"timestamp"`
}

// RefreshResponse reports a completed forced refresh.
type RefreshResponse struct {
	Status             string    `json:"status"`
	Message            string    `json:"message"`
	ExpiresAt          time.Time `json:"expires_at"`
	AccessTokenSuffix  string    `json:"access_token_suffix"`
	RefreshTokenSuffix string    `json:"refresh_token_suffix"`
	Synced             bool      `json:"synced"`
	SyncWarnings       []string  `json:"sync_warnings,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
}

// AuthorizeURLResponse carries the vendor consent URL.
type AuthorizeURLResponse struct {
	Status       string    `json:"status"`
	AuthorizeURL string    `json:"authorize_url"`
	Timestamp    time.Time `json:"timestamp"`
}

// ExchangeResponse reports a completed authorization-code exchange.
type ExchangeResponse struct {
	Status             string    `json:"status"`
	Message            string    `json:"message"`
	UserID             string    `json:"userid"`
	ExpiresAt          time.Time `json:"expires_at"`
	AccessTokenSuffix  string    `json:"access_token_suffix"`
	RefreshTokenSuffix string    `json:"refresh_token_suffix"`
	Timestamp          time.Time `json:"timestamp"`
}

// NewAdminAPIHandler creates the admin handler.
func NewAdminAPIHandler(
	coordinator TokenCoordinator,
	authenticator AdminAuthenticator,
	rateLimiter RateLimiter,
	logger *slog.Logger,
) *AdminAPIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminAPIHandler{
		coordinator:   coordinator,
		authenticator: authenticator,
		rateLimiter:   rateLimiter,
		logger:        logger,
	}
}

// RegisterRoutes attaches all admin routes to the mux.
func (h *AdminAPIHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.HandleHealth)
	mux.HandleFunc("/admin/token/status", h.HandleTokenStatus)
	mux.HandleFunc("/admin/token/refresh", h.HandleForceRefresh)
	mux.HandleFunc("/admin/oauth/authorize-url", h.HandleAuthorizeURL)
	mux.HandleFunc("/admin/oauth/exchange", h.HandleExchange)
}

// HandleHealth is unauthenticated liveness.
func (h *AdminAPIHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.setSecurityHeaders(w)
	if r.Method != http.MethodGet {
		h.respondWithError(w, "METHOD_NOT_ALLOWED", "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// HandleTokenStatus reports the persisted token state.
func (h *AdminAPIHandler) HandleTokenStatus(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	h.setSecurityHeaders(w)
	w.Header().Set("X-Request-ID", requestID)

	if r.Method != http.MethodGet {
		h.respondWithError(w, "METHOD_NOT_ALLOWED", "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.guard(w, r, requestID) {
		return
	}

	status, err := h.coordinator.Status(r.Context())
	if err != nil {
		h.logger.Error("Token status lookup failed", "error", err, "request_id", requestID)
		h.respondWithError(w, "STATUS_UNAVAILABLE", "Failed to read token status", http.StatusInternalServerError)
		return
	}

	response := TokenStatusResponse{
		Status:         "success",
		Configured:     status.Configured,
		State:          string(status.State),
		FailureReason:  status.FailureReason,
		ExpiresInHours: status.ExpiresInHours,
		ShouldRefresh:  status.ShouldRefresh,
		Metrics:        status.Metrics,
		Timestamp:      time.Now(),
	}
	if !status.ExpiresAt.IsZero() {
		response.ExpiresAt = &status.ExpiresAt
	}
	if !status.LastRefreshedAt.IsZero() {
		response.LastRefreshedAt = &status.LastRefreshedAt
	}

	h.respondJSON(w, http.StatusOK, response)
}

// HandleForceRefresh triggers a refresh immediately, regardless of the due
// window. An empty body means propagate with no redeploy.
func (h *AdminAPIHandler) HandleForceRefresh(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.NewString()
	clientIP := getClientIP(r)
	h.setSecurityHeaders(w)
	w.Header().Set("X-Request-ID", requestID)

	if r.Method != http.MethodPost {
		h.respondWithError(w, "METHOD_NOT_ALLOWED", "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.guard(w, r, requestID) {
		return
	}

	var req models.RefreshRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondWithError(w, "INVALID_JSON", "Invalid JSON in request body", http.StatusBadRequest)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	h.logger.Info("Processing forced refresh",
		"request_id", requestID,
		"client_ip", clientIP,
		"propagate", req.ShouldPropagate(),
		"redeploy", req.Redeploy)

	result, err := h.coordinator.Refresh(ctx, service.RefreshOptions{
		Propagate: req.ShouldPropagate(),
		Redeploy:  req.Redeploy,
	})
	if err != nil {
		h.respondRefreshError(w, err, requestID)
		return
	}

	h.logger.Info("Forced refresh completed",
		"request_id", requestID,
		"expires_at", result.Record.ExpiresAt,
		"synced", result.Synced,
		"duration_ms", time.Since(start).Milliseconds())

	h.respondJSON(w, http.StatusOK, RefreshResponse{
		Status:             "success",
		Message:            "Token refreshed",
		ExpiresAt:          result.Record.ExpiresAt,
		AccessTokenSuffix:  utils.MaskSecret(result.Record.AccessToken),
		RefreshTokenSuffix: utils.MaskSecret(result.Record.RefreshToken),
		Synced:             result.Synced,
		SyncWarnings:       result.SyncWarnings,
		Timestamp:          time.Now(),
	})
}

// HandleAuthorizeURL returns the vendor consent URL for a manual
// authorization flow.
func (h *AdminAPIHandler) HandleAuthorizeURL(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	h.setSecurityHeaders(w)
	w.Header().Set("X-Request-ID", requestID)

	if r.Method != http.MethodGet {
		h.respondWithError(w, "METHOD_NOT_ALLOWED", "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.guard(w, r, requestID) {
		return
	}

	state := r.URL.Query().Get("state")
	if state == "" {
		state = uuid.NewString()
	}

	h.respondJSON(w, http.StatusOK, AuthorizeURLResponse{
		Status:       "success",
		AuthorizeURL: h.coordinator.AuthorizationURL(state),
		Timestamp:    time.Now(),
	})
}

// HandleExchange trades an authorization code for the initial pair. This
// is the recovery path out of a terminal credential failure.
func (h *AdminAPIHandler) HandleExchange(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	clientIP := getClientIP(r)
	h.setSecurityHeaders(w)
	w.Header().Set("X-Request-ID", requestID)

	if r.Method != http.MethodPost {
		h.respondWithError(w, "METHOD_NOT_ALLOWED", "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.guard(w, r, requestID) {
		return
	}

	var req models.ExchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, "INVALID_JSON", "Invalid JSON in request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		h.respondWithError(w, "VALIDATION_ERROR", "Field 'code' is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	record, err := h.coordinator.ExchangeCode(ctx, req.Code)
	if err != nil {
		if driver.IsInvalidCredential(err) {
			h.logger.Warn("Authorization code rejected", "request_id", requestID, "client_ip", clientIP)
			h.respondWithError(w, "INVALID_CODE", "Authorization code was rejected by the vendor", http.StatusConflict)
			return
		}
		h.logger.Error("Code exchange failed", "error", err, "request_id", requestID)
		h.respondWithError(w, "VENDOR_UNAVAILABLE", "Vendor token endpoint unavailable", http.StatusBadGateway)
		return
	}

	h.logger.Info("Authorization code exchanged",
		"request_id", requestID,
		"userid", record.UserID,
		"expires_at", record.ExpiresAt)

	h.respondJSON(w, http.StatusOK, ExchangeResponse{
		Status:             "success",
		Message:            "Authorization code exchanged",
		UserID:             record.UserID,
		ExpiresAt:          record.ExpiresAt,
		AccessTokenSuffix:  utils.MaskSecret(record.AccessToken),
		RefreshTokenSuffix: utils.MaskSecret(record.RefreshToken),
		Timestamp:          time.Now(),
	})
}

// guard runs the shared pre-checks: rate limit then authentication.
func (h *AdminAPIHandler) guard(w http.ResponseWriter, r *http.Request, requestID string) bool {
	clientIP := getClientIP(r)

	if !h.rateLimiter.Allow(clientIP) {
		h.respondWithError(w, "RATE_LIMITED", "Rate limit exceeded", http.StatusTooManyRequests)
		return false
	}

	if presented := r.Header.Get(adminTokenHeader); presented != "" {
		if h.authenticator.ValidateAdminToken(presented) {
			return true
		}
		h.logger.Warn("Invalid admin token presented", "client_ip", clientIP, "request_id", requestID)
		h.respondWithError(w, "INVALID_TOKEN", "Invalid authentication token", http.StatusUnauthorized)
		return false
	}

	bearer := extractBearerToken(r)
	if bearer == "" {
		h.respondWithError(w, "MISSING_AUTHORIZATION", "X-Admin-Token header or Bearer token is required", http.StatusUnauthorized)
		return false
	}

	info, err := h.authenticator.ValidateServiceAccountToken(bearer)
	if err != nil {
		h.logger.Warn("ServiceAccount token rejected",
			"error", err,
			"client_ip", clientIP,
			"request_id", requestID)
		h.respondWithError(w, "INSUFFICIENT_PERMISSIONS", "Insufficient permissions for this operation", http.StatusForbidden)
		return false
	}

	h.logger.Debug("Admin request authenticated via ServiceAccount",
		"subject", info.Subject,
		"request_id", requestID)
	return true
}

// respondRefreshError maps coordinator failures onto the error envelope.
func (h *AdminAPIHandler) respondRefreshError(w http.ResponseWriter, err error, requestID string) {
	switch {
	case errors.Is(err, service.ErrNotAuthorized):
		h.respondWithError(w, "NOT_AUTHORIZED", "No credential pair stored, run the authorization flow first", http.StatusConflict)
	case driver.IsInvalidCredential(err):
		h.logger.Error("Refresh token rejected, re-authorization required", "request_id", requestID)
		h.respondWithError(w, "REAUTHORIZATION_REQUIRED", "Refresh token was rejected, a new authorization is required", http.StatusConflict)
	case errors.Is(err, driver.ErrVendorUnavailable):
		h.respondWithError(w, "VENDOR_UNAVAILABLE", "Vendor token endpoint unavailable", http.StatusBadGateway)
	default:
		h.logger.Error("Refresh failed", "error", err, "request_id", requestID)
		h.respondWithError(w, "REFRESH_FAILED", "Failed to refresh token", http.StatusInternalServerError)
	}
}

func (h *AdminAPIHandler) setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'self'")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
}

func (h *AdminAPIHandler) respondJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

func (h *AdminAPIHandler) respondWithError(w http.ResponseWriter, errorCode, message string, statusCode int) {
	h.respondJSON(w, statusCode, ErrorResponse{
		Status:    "error",
		ErrorCode: errorCode,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// extractBearerToken pulls the Bearer token from the Authorization header.
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

// getClientIP resolves the caller address, honoring proxy headers.
func getClientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		parts := strings.Split(ip, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}
