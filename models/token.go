// ABOUTME: This file defines domain models for the Withings OAuth token lifecycle
// ABOUTME: Handles access/refresh token pair, expiry, and proactive-refresh logic

package models

import (
	"strconv"
	"time"
)

// TokenRecord is the single live OAuth credential pair for this deployment.
// It is overwritten in full on every successful refresh or code exchange;
// no history is kept.
type TokenRecord struct {
	AccessToken     string    `json:"access_token"`
	RefreshToken    string    `json:"refresh_token"`
	TokenType       string    `json:"token_type"`
	Scope           string    `json:"scope"`
	UserID          string    `json:"userid,omitempty"`
	ExpiresAt       time.Time `json:"expires_at"`
	LastRefreshedAt time.Time `json:"last_refreshed_at"`
}

// WithingsTokenBody is the "body" payload of a successful Withings
// requesttoken response (authorization_code or refresh_token grant).
type WithingsTokenBody struct {
	UserID       int64  `json:"userid"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
}

// NewTokenRecord builds a TokenRecord from a Withings token response.
// ExpiresAt is always derived from the vendor's expires_in added to the
// completion time; the previous refresh token is kept when the vendor
// does not rotate it.
func NewTokenRecord(body WithingsTokenBody, previousRefreshToken string, now time.Time) *TokenRecord {
	refreshToken := body.RefreshToken
	if refreshToken == "" {
		refreshToken = previousRefreshToken
	}

	tokenType := body.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	rec := &TokenRecord{
		AccessToken:     body.AccessToken,
		RefreshToken:    refreshToken,
		TokenType:       tokenType,
		Scope:           body.Scope,
		ExpiresAt:       now.Add(time.Duration(body.ExpiresIn) * time.Second),
		LastRefreshedAt: now,
	}
	if body.UserID != 0 {
		rec.UserID = strconv.FormatInt(body.UserID, 10)
	}
	return rec
}

// IsConfigured reports whether the record holds a usable credential pair.
func (t *TokenRecord) IsConfigured() bool {
	return t != nil && t.AccessToken != "" && t.RefreshToken != ""
}

// IsExpired checks if the access token is invalid at the given instant.
func (t *TokenRecord) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// NeedsRefresh reports whether the token is within the proactive
// look-ahead window of its expiry.
func (t *TokenRecord) NeedsRefresh(lookahead time.Duration, now time.Time) bool {
	return !now.Add(lookahead).Before(t.ExpiresAt)
}

// TimeUntilExpiry returns the remaining validity at the given instant.
// Negative when already expired.
func (t *TokenRecord) TimeUntilExpiry(now time.Time) time.Duration {
	return t.ExpiresAt.Sub(now)
}
