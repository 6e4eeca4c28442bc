// ABOUTME: External config sync contract
// ABOUTME: Best-effort propagation of the refreshed token pair, never rolls back storage

package service

import (
	"context"
	"errors"

	"withings-sidecar/models"
)

// Fixed variable names mirrored into external config stores.
const (
	varAccessToken   = "WITHINGS_ACCESS_TOKEN"
	varRefreshToken  = "WITHINGS_REFRESH_TOKEN"
	varExpiresAt     = "WITHINGS_TOKEN_EXPIRES_AT"
	varLastRefreshed = "WITHINGS_TOKEN_LAST_REFRESHED"
)

// ErrSyncFailed marks external propagation failures. Non-fatal: the token
// store write has already committed and is never rolled back.
var ErrSyncFailed = errors.New("external config sync failed")

// ConfigSyncer propagates a token record to an external deployment config
// store. Push is idempotent: repeating the same record is safe.
type ConfigSyncer interface {
	Name() string
	Push(ctx context.Context, record *models.TokenRecord) error
}

// Redeployer is an optional ConfigSyncer capability: platforms that only
// inject config at boot can be asked to redeploy after a push.
type Redeployer interface {
	TriggerRedeploy(ctx context.Context) error
}
