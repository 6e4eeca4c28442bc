// ABOUTME: Withings OAuth2 client covering authorize-URL, code exchange, and refresh
// ABOUTME: Maps the vendor's numeric status envelope onto the sidecar error taxonomy

package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"withings-sidecar/models"
)

const (
	defaultAuthorizeURL = "https://account.withings.com/oauth2_user/authorize2"
	defaultTokenURL     = "https://wbsapi.withings.net/v2/oauth2"

	// Scopes required by the measurement ingestion pipeline.
	authorizationScope = "user.metrics,user.activity,user.sleepevents"

	defaultTimeout = 30 * time.Second
)

// Withings-facing error taxonomy.
var (
	ErrInvalidAuthorizationCode = errors.New("authorization code is invalid or already consumed")
	ErrInvalidRefreshToken      = errors.New("refresh token is invalid or has been revoked")
	ErrVendorUnavailable        = errors.New("temporary Withings API failure")
)

// IsInvalidCredential reports whether err is a vendor rejection of the
// presented code or refresh token, as opposed to a transient failure.
func IsInvalidCredential(err error) bool {
	return errors.Is(err, ErrInvalidAuthorizationCode) || errors.Is(err, ErrInvalidRefreshToken)
}

type statusClass int

const (
	classSuccess statusClass = iota
	classInvalidCredential
	classTransient
)

// statusClasses maps Withings numeric status codes onto the taxonomy.
// Withings reports errors with HTTP 200 and a non-zero in-body status.
var statusClasses = map[int]statusClass{
	0:    classSuccess,
	29:   classInvalidCredential, // invalid or expired authorization code
	100:  classInvalidCredential, // invalid token
	101:  classInvalidCredential, // token user mismatch
	102:  classInvalidCredential, // token scope insufficient
	200:  classInvalidCredential, // token expired and not refreshable
	401:  classInvalidCredential, // invalid or revoked refresh token
	503:  classInvalidCredential, // invalid params (bad code, secret, or redirect URI)
	601:  classTransient,         // too many requests
	2555: classTransient,         // unknown error on the vendor side
}

func classifyStatus(status int) statusClass {
	if class, ok := statusClasses[status]; ok {
		return class
	}
	// Unlisted statuses classify transient: the scheduler retries for free,
	// while a wrong invalid-credential verdict would wedge the coordinator.
	return classTransient
}

// withingsEnvelope wraps every Withings API response.
type withingsEnvelope struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
	Error  string          `json:"error,omitempty"`
}

// WithingsOAuthClient performs the vendor-facing OAuth operations. All
// network calls share one bounded-timeout HTTP client.
type WithingsOAuthClient struct {
	clientID     string
	clientSecret string
	authorizeURL string
	tokenURL     string
	httpClient   *http.Client
	logger       *slog.Logger
}

// NewWithingsOAuthClient creates a client against the production Withings
// endpoints. baseURL overrides both endpoints for testing against a mock
// server; pass "" in production.
func NewWithingsOAuthClient(clientID, clientSecret, baseURL string, timeout time.Duration, logger *slog.Logger) *WithingsOAuthClient {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	authorizeURL := defaultAuthorizeURL
	tokenURL := defaultTokenURL
	if baseURL != "" {
		authorizeURL = baseURL + "/oauth2_user/authorize2"
		tokenURL = baseURL + "/v2/oauth2"
	}

	return &WithingsOAuthClient{
		clientID:     clientID,
		clientSecret: clientSecret,
		authorizeURL: authorizeURL,
		tokenURL:     tokenURL,
		logger:       logger,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: timeout,
				IdleConnTimeout:       90 * time.Second,
				MaxIdleConns:          10,
				MaxIdleConnsPerHost:   2,
			},
		},
	}
}

// BuildAuthorizationURL constructs the user-facing consent URL. Pure
// construction, no network call.
func (c *WithingsOAuthClient) BuildAuthorizationURL(redirectURI, state string) string {
	params := url.Values{
		"response_type": {"code"},
		"client_id":     {c.clientID},
		"redirect_uri":  {redirectURI},
		"scope":         {authorizationScope},
		"state":         {state},
	}
	return c.authorizeURL + "?" + params.Encode()
}

// ExchangeCode trades an authorization code for the initial token pair.
func (c *WithingsOAuthClient) ExchangeCode(ctx context.Context, code, redirectURI string) (*models.WithingsTokenBody, error) {
	form := url.Values{
		"action":        {"requesttoken"},
		"grant_type":    {"authorization_code"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"code":          {code},
		"redirect_uri":  {redirectURI},
	}

	body, err := c.requestToken(ctx, form, ErrInvalidAuthorizationCode)
	if err != nil {
		return nil, err
	}

	c.logger.Info("authorization code exchanged",
		"userid", body.UserID,
		"expires_in_seconds", body.ExpiresIn,
		"scope", body.Scope)
	return body, nil
}

// Refresh trades the refresh token for a new token pair. The response may
// rotate the refresh token; callers must persist whatever comes back.
func (c *WithingsOAuthClient) Refresh(ctx context.Context, refreshToken string) (*models.WithingsTokenBody, error) {
	form := url.Values{
		"action":        {"requesttoken"},
		"grant_type":    {"refresh_token"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"refresh_token": {refreshToken},
	}

	body, err := c.requestToken(ctx, form, ErrInvalidRefreshToken)
	if err != nil {
		return nil, err
	}

	c.logger.Info("refresh grant succeeded",
		"expires_in_seconds", body.ExpiresIn,
		"refresh_token_rotated", body.RefreshToken != "" && body.RefreshToken != refreshToken)
	return body, nil
}

// requestToken executes a requesttoken call and maps the envelope status.
// invalidCredentialErr is the grant-specific sentinel returned when the
// vendor rejects the presented credential.
func (c *WithingsOAuthClient) requestToken(ctx context.Context, form url.Values, invalidCredentialErr error) (*models.WithingsTokenBody, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "withings-sidecar/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts and connection failures are transient; the next due
		// check re-evaluates from persisted state.
		return nil, fmt.Errorf("%w: %v", ErrVendorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Withings token endpoint returned non-200",
			"http_status", resp.StatusCode)
		return nil, fmt.Errorf("%w: HTTP %d", ErrVendorUnavailable, resp.StatusCode)
	}

	var envelope withingsEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("%w: undecodable response: %v", ErrVendorUnavailable, err)
	}

	switch classifyStatus(envelope.Status) {
	case classSuccess:
		// fall through to body parsing
	case classInvalidCredential:
		c.logger.Error("Withings rejected credential",
			"vendor_status", envelope.Status,
			"vendor_error", envelope.Error)
		return nil, fmt.Errorf("%w: vendor status %d: %s", invalidCredentialErr, envelope.Status, envelope.Error)
	default:
		c.logger.Warn("transient Withings error",
			"vendor_status", envelope.Status,
			"vendor_error", envelope.Error)
		return nil, fmt.Errorf("%w: vendor status %d: %s", ErrVendorUnavailable, envelope.Status, envelope.Error)
	}

	var body models.WithingsTokenBody
	if err := json.Unmarshal(envelope.Body, &body); err != nil {
		return nil, fmt.Errorf("%w: undecodable token body: %v", ErrVendorUnavailable, err)
	}
	if body.AccessToken == "" {
		return nil, fmt.Errorf("%w: token body missing access_token", ErrVendorUnavailable)
	}
	if body.ExpiresIn <= 0 {
		// Withings access tokens live 3 hours; the vendor has been seen
		// omitting expires_in on some responses.
		body.ExpiresIn = 10800
	}

	return &body, nil
}

// SetHTTPClient injects a custom HTTP client, useful for proxy setups and
// timeout tests.
func (c *WithingsOAuthClient) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
