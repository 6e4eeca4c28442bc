// ABOUTME: Tests for the Withings OAuth client
// ABOUTME: Envelope status mapping, transport failures, and authorize-URL construction

package driver

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *WithingsOAuthClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewWithingsOAuthClient("client-id", "client-secret", server.URL, 5*time.Second, nil)
}

func TestBuildAuthorizationURL(t *testing.T) {
	client := NewWithingsOAuthClient("client-id", "client-secret", "", 0, nil)

	raw := client.BuildAuthorizationURL("https://example.com/callback", "state-abc")

	parsed, err := url.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "account.withings.com", parsed.Host)
	assert.Equal(t, "/oauth2_user/authorize2", parsed.Path)

	query := parsed.Query()
	assert.Equal(t, "code", query.Get("response_type"))
	assert.Equal(t, "client-id", query.Get("client_id"))
	assert.Equal(t, "https://example.com/callback", query.Get("redirect_uri"))
	assert.Equal(t, "user.metrics,user.activity,user.sleepevents", query.Get("scope"))
	assert.Equal(t, "state-abc", query.Get("state"))
}

func TestRefreshSuccess(t *testing.T) {
	var gotForm url.Values
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		fmt.Fprint(w, `{"status":0,"body":{"userid":42,"access_token":"access-new","refresh_token":"refresh-new","expires_in":10800,"scope":"user.metrics","token_type":"Bearer"}}`)
	})

	body, err := client.Refresh(context.Background(), "refresh-old")
	require.NoError(t, err)

	assert.Equal(t, "requesttoken", gotForm.Get("action"))
	assert.Equal(t, "refresh_token", gotForm.Get("grant_type"))
	assert.Equal(t, "refresh-old", gotForm.Get("refresh_token"))

	assert.Equal(t, "access-new", body.AccessToken)
	assert.Equal(t, "refresh-new", body.RefreshToken)
	assert.Equal(t, 10800, body.ExpiresIn)
	assert.Equal(t, int64(42), body.UserID)
}

func TestRefreshDefaultsExpiresIn(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":0,"body":{"access_token":"access-new","refresh_token":"refresh-new"}}`)
	})

	body, err := client.Refresh(context.Background(), "refresh-old")
	require.NoError(t, err)
	assert.Equal(t, 10800, body.ExpiresIn)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantInvalid   bool
		wantTransient bool
	}{
		{"invalid code", 29, true, false},
		{"invalid token", 100, true, false},
		{"revoked refresh token", 401, true, false},
		{"bad params", 503, true, false},
		{"rate limited", 601, false, true},
		{"vendor unknown error", 2555, false, true},
		{"unlisted status", 9999, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprintf(w, `{"status":%d,"error":"vendor message"}`, tt.status)
			})

			_, err := client.Refresh(context.Background(), "refresh-old")
			require.Error(t, err)

			assert.Equal(t, tt.wantInvalid, IsInvalidCredential(err))
			assert.Equal(t, tt.wantTransient, !IsInvalidCredential(err))
			if tt.wantTransient {
				assert.ErrorIs(t, err, ErrVendorUnavailable)
			}
		})
	}
}

func TestExchangeCodeInvalidCode(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":29,"error":"invalid code"}`)
	})

	_, err := client.ExchangeCode(context.Background(), "stale-code", "https://example.com/callback")
	assert.ErrorIs(t, err, ErrInvalidAuthorizationCode)
	assert.True(t, IsInvalidCredential(err))
}

func TestExchangeCodeSendsGrantForm(t *testing.T) {
	var gotForm url.Values
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		fmt.Fprint(w, `{"status":0,"body":{"userid":7,"access_token":"a","refresh_token":"r","expires_in":10800}}`)
	})

	_, err := client.ExchangeCode(context.Background(), "fresh-code", "https://example.com/callback")
	require.NoError(t, err)

	assert.Equal(t, "authorization_code", gotForm.Get("grant_type"))
	assert.Equal(t, "fresh-code", gotForm.Get("code"))
	assert.Equal(t, "https://example.com/callback", gotForm.Get("redirect_uri"))
}

func TestTransportFailuresAreTransient(t *testing.T) {
	t.Run("non-200 HTTP", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})

		_, err := client.Refresh(context.Background(), "refresh-old")
		assert.ErrorIs(t, err, ErrVendorUnavailable)
	})

	t.Run("timeout", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
			fmt.Fprint(w, `{"status":0,"body":{"access_token":"a","refresh_token":"r"}}`)
		})
		client.SetHTTPClient(&http.Client{Timeout: 20 * time.Millisecond})

		_, err := client.Refresh(context.Background(), "refresh-old")
		assert.ErrorIs(t, err, ErrVendorUnavailable)
		assert.False(t, IsInvalidCredential(err))
	})

	t.Run("undecodable body", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `not json`)
		})

		_, err := client.Refresh(context.Background(), "refresh-old")
		assert.ErrorIs(t, err, ErrVendorUnavailable)
	})

	t.Run("missing access token in body", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"status":0,"body":{"refresh_token":"r"}}`)
		})

		_, err := client.Refresh(context.Background(), "refresh-old")
		assert.ErrorIs(t, err, ErrVendorUnavailable)
	})
}
