//go:generate mockgen -source=token_coordinator.go -destination=../mocks/token_coordinator_mock.go -package=mocks WithingsOAuthDriver

// ABOUTME: This file implements the OAuth token refresh coordinator
// ABOUTME: Serializes refresh-persist-sync, enforces the proactive due window, tracks lifecycle state

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"withings-sidecar/driver"
	"withings-sidecar/models"
	"withings-sidecar/repository"
)

// CoordinatorState is the refresh lifecycle state machine.
type CoordinatorState string

const (
	StateIdle       CoordinatorState = "idle"
	StateRefreshing CoordinatorState = "refreshing"
	StateFailed     CoordinatorState = "failed"
)

// DefaultRefreshLookahead is the proactive refresh window: a token within
// this span of its expiry is due, well before it actually lapses.
const DefaultRefreshLookahead = 24 * time.Hour

// ErrNotAuthorized means no credential pair exists yet; an
// authorization-code exchange must complete first.
var ErrNotAuthorized = errors.New("no credential pair stored - complete the authorization flow first")

// WithingsOAuthDriver is the vendor-facing surface the coordinator needs.
type WithingsOAuthDriver interface {
	BuildAuthorizationURL(redirectURI, state string) string
	ExchangeCode(ctx context.Context, code, redirectURI string) (*models.WithingsTokenBody, error)
	Refresh(ctx context.Context, refreshToken string) (*models.WithingsTokenBody, error)
}

// RefreshOptions control a single refresh attempt.
type RefreshOptions struct {
	// Propagate pushes the new pair to the configured external stores.
	Propagate bool
	// Redeploy additionally asks propagation targets that support it to
	// redeploy, so boot-time config readers pick up the change.
	Redeploy bool
}

// RefreshResult reports a successful refresh. SyncWarnings carries
// best-effort propagation failures; they never fail the refresh itself.
type RefreshResult struct {
	Record       *models.TokenRecord
	Synced       bool
	SyncWarnings []string
}

// TokenStatus is the derived admin view of the persisted state. It always
// reflects what is actually stored, including a stale or expired token.
type TokenStatus struct {
	Configured      bool
	ExpiresAt       time.Time
	ExpiresInHours  float64
	ShouldRefresh   bool
	LastRefreshedAt time.Time
	State           CoordinatorState
	FailureReason   string
	Metrics         CoordinatorMetrics
}

// CoordinatorMetrics counts refresh outcomes for the status view.
type CoordinatorMetrics struct {
	RefreshAttempts           int64 `json:"refresh_attempts"`
	SuccessfulRefreshes       int64 `json:"successful_refreshes"`
	TransientFailures         int64 `json:"transient_failures"`
	InvalidCredentialFailures int64 `json:"invalid_credential_failures"`
	CollapsedTriggers         int64 `json:"collapsed_triggers"`
	LastRefreshDurationMillis int64 `json:"last_refresh_duration_ms"`
}

// TokenCoordinator owns the refresh lifecycle. All triggers (scheduler
// ticks, admin requests) funnel through it; at most one vendor refresh is
// in flight per deployment, and the mutex covers the whole vendor-call ->
// persist -> sync sequence so rotated tokens can never persist out of order.
type TokenCoordinator struct {
	repo        repository.TokenRepository
	oauthClient WithingsOAuthDriver
	syncers     []ConfigSyncer
	logger      *slog.Logger

	lookahead   time.Duration
	redirectURI string
	now         func() time.Time

	// mu serializes the full refresh-and-persist critical section; flight
	// collapses concurrent triggers onto the in-flight attempt's result.
	mu     sync.Mutex
	flight singleflight.Group

	stateMu       sync.RWMutex
	state         CoordinatorState
	failureReason string

	metricsMu sync.Mutex
	metrics   CoordinatorMetrics
}

// NewTokenCoordinator wires the coordinator. lookahead <= 0 selects the
// default proactive window.
func NewTokenCoordinator(
	repo repository.TokenRepository,
	oauthClient WithingsOAuthDriver,
	syncers []ConfigSyncer,
	redirectURI string,
	lookahead time.Duration,
	logger *slog.Logger,
) *TokenCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if lookahead <= 0 {
		lookahead = DefaultRefreshLookahead
	}

	return &TokenCoordinator{
		repo:        repo,
		oauthClient: oauthClient,
		syncers:     syncers,
		logger:      logger,
		lookahead:   lookahead,
		redirectURI: redirectURI,
		now:         time.Now,
		state:       StateIdle,
	}
}

// AuthorizationURL returns the vendor consent URL for the configured
// redirect URI.
func (c *TokenCoordinator) AuthorizationURL(state string) string {
	return c.oauthClient.BuildAuthorizationURL(c.redirectURI, state)
}

// State returns the current lifecycle state and, when failed, the reason.
func (c *TokenCoordinator) State() (CoordinatorState, string) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state, c.failureReason
}

// Status derives the admin view from persisted state. An uninitialized
// store yields Configured=false rather than an error.
func (c *TokenCoordinator) Status(ctx context.Context) (*TokenStatus, error) {
	state, reason := c.State()
	status := &TokenStatus{
		State:         state,
		FailureReason: reason,
		Metrics:       c.snapshotMetrics(),
	}

	record, err := c.repo.GetCurrentToken(ctx)
	if errors.Is(err, repository.ErrTokenNotFound) {
		return status, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token record for status: %w", err)
	}

	now := c.now()
	status.Configured = record.IsConfigured()
	status.ExpiresAt = record.ExpiresAt
	status.ExpiresInHours = record.TimeUntilExpiry(now).Hours()
	status.ShouldRefresh = record.NeedsRefresh(c.lookahead, now)
	status.LastRefreshedAt = record.LastRefreshedAt
	return status, nil
}

// ShouldRefresh reports whether the persisted token is within the
// look-ahead window. An uninitialized store is never due: there is nothing
// to refresh until an exchange succeeds.
func (c *TokenCoordinator) ShouldRefresh(ctx context.Context) (bool, error) {
	record, err := c.repo.GetCurrentToken(ctx)
	if errors.Is(err, repository.ErrTokenNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load token record: %w", err)
	}
	return record.NeedsRefresh(c.lookahead, c.now()), nil
}

// RefreshIfDue is the scheduler entry point: refresh only when the due
// policy says so, and never auto-retry a terminally failed credential.
func (c *TokenCoordinator) RefreshIfDue(ctx context.Context) error {
	if state, reason := c.State(); state == StateFailed {
		c.logger.Warn("skipping scheduled refresh: credential requires re-authorization",
			"failure_reason", reason)
		return nil
	}

	due, err := c.ShouldRefresh(ctx)
	if err != nil {
		return err
	}
	if !due {
		return nil
	}

	_, err = c.refresh(ctx, RefreshOptions{Propagate: true}, true)
	return err
}

// Refresh forces a refresh now. Concurrent callers while an attempt is in
// flight receive that attempt's result instead of starting a second vendor
// call.
func (c *TokenCoordinator) Refresh(ctx context.Context, opts RefreshOptions) (*RefreshResult, error) {
	return c.refresh(ctx, opts, false)
}

func (c *TokenCoordinator) refresh(ctx context.Context, opts RefreshOptions, onlyIfDue bool) (*RefreshResult, error) {
	result, err, shared := c.flight.Do("refresh", func() (interface{}, error) {
		return c.doRefresh(ctx, opts, onlyIfDue)
	})
	if shared {
		c.metricsMu.Lock()
		c.metrics.CollapsedTriggers++
		c.metricsMu.Unlock()
		c.logger.Info("refresh trigger collapsed onto in-flight attempt")
	}
	if err != nil {
		return nil, err
	}
	return result.(*RefreshResult), nil
}

// doRefresh runs the serialized vendor-call -> persist -> sync sequence.
// With onlyIfDue, the due policy is re-checked against the record loaded
// inside the critical section: a trigger that queued behind a completed
// refresh must not refresh again.
func (c *TokenCoordinator) doRefresh(ctx context.Context, opts RefreshOptions, onlyIfDue bool) (*RefreshResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	record, err := c.repo.GetCurrentToken(ctx)
	if errors.Is(err, repository.ErrTokenNotFound) {
		return nil, ErrNotAuthorized
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token record for refresh: %w", err)
	}

	if onlyIfDue && !record.NeedsRefresh(c.lookahead, c.now()) {
		return &RefreshResult{Record: record, Synced: true}, nil
	}

	start := c.now()
	c.metricsMu.Lock()
	c.metrics.RefreshAttempts++
	c.metricsMu.Unlock()

	c.setState(StateRefreshing, "")

	body, err := c.oauthClient.Refresh(ctx, record.RefreshToken)
	if err != nil {
		return nil, c.failRefresh(err)
	}

	// Always persist whatever refresh token the vendor returned; the
	// previous one is treated as discarded even when identical.
	refreshed := models.NewTokenRecord(*body, record.RefreshToken, c.now())
	if err := c.repo.SaveToken(ctx, refreshed); err != nil {
		// The vendor may have rotated the pair already; surface loudly so
		// an operator can re-authorize if the old refresh token is dead.
		c.setState(StateIdle, "")
		c.logger.Error("refresh succeeded but persistence failed",
			"error", err,
			"refresh_token_rotated", body.RefreshToken != "" && body.RefreshToken != record.RefreshToken)
		return nil, fmt.Errorf("refreshed token could not be persisted: %w", err)
	}

	c.setState(StateIdle, "")
	c.metricsMu.Lock()
	c.metrics.SuccessfulRefreshes++
	c.metrics.LastRefreshDurationMillis = c.now().Sub(start).Milliseconds()
	c.metricsMu.Unlock()

	c.logger.Info("token refreshed",
		"expires_at", refreshed.ExpiresAt,
		"last_refreshed_at", refreshed.LastRefreshedAt)

	result := &RefreshResult{Record: refreshed, Synced: true}
	if opts.Propagate {
		result.SyncWarnings = c.propagate(ctx, refreshed, opts.Redeploy)
		result.Synced = len(result.SyncWarnings) == 0
	}
	return result, nil
}

// failRefresh classifies a vendor refresh failure and sets the resulting
// state: invalid credentials are terminal, transient errors are not.
func (c *TokenCoordinator) failRefresh(err error) error {
	if driver.IsInvalidCredential(err) {
		c.setState(StateFailed, err.Error())
		c.metricsMu.Lock()
		c.metrics.InvalidCredentialFailures++
		c.metricsMu.Unlock()
		c.logger.Error("refresh token rejected by vendor - re-authorization required", "error", err)
		return err
	}

	c.setState(StateIdle, "")
	c.metricsMu.Lock()
	c.metrics.TransientFailures++
	c.metricsMu.Unlock()
	c.logger.Warn("transient refresh failure, next due check will retry", "error", err)
	return err
}

// ExchangeCode trades an authorization code for the initial pair, persists
// it, and clears a terminal failure state. This is the only way out of
// Failed.
func (c *TokenCoordinator) ExchangeCode(ctx context.Context, code string) (*models.TokenRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	body, err := c.oauthClient.ExchangeCode(ctx, code, c.redirectURI)
	if err != nil {
		// Store stays untouched: the stale record remains until a fresh
		// exchange overwrites it.
		return nil, err
	}

	record := models.NewTokenRecord(*body, "", c.now())
	if err := c.repo.SaveToken(ctx, record); err != nil {
		return nil, fmt.Errorf("exchanged token could not be persisted: %w", err)
	}

	c.setState(StateIdle, "")
	c.logger.Info("authorization code exchanged and persisted",
		"expires_at", record.ExpiresAt,
		"userid", record.UserID)

	if warnings := c.propagate(ctx, record, false); len(warnings) > 0 {
		c.logger.Warn("exchange persisted but propagation incomplete", "warnings", warnings)
	}
	return record, nil
}

// propagate pushes the record to every configured syncer. Best-effort:
// each failure is logged and reported, none affects the committed record.
func (c *TokenCoordinator) propagate(ctx context.Context, record *models.TokenRecord, redeploy bool) []string {
	var warnings []string
	for _, syncer := range c.syncers {
		if err := syncer.Push(ctx, record); err != nil {
			c.logger.Warn("external config sync failed",
				"syncer", syncer.Name(),
				"error", err)
			warnings = append(warnings, fmt.Sprintf("%s: %v", syncer.Name(), err))
			continue
		}

		if redeploy {
			redeployer, ok := syncer.(Redeployer)
			if !ok {
				continue
			}
			if err := redeployer.TriggerRedeploy(ctx); err != nil {
				c.logger.Warn("redeploy trigger failed",
					"syncer", syncer.Name(),
					"error", err)
				warnings = append(warnings, fmt.Sprintf("%s redeploy: %v", syncer.Name(), err))
			}
		}
	}
	return warnings
}

func (c *TokenCoordinator) setState(state CoordinatorState, reason string) {
	c.stateMu.Lock()
	c.state = state
	c.failureReason = reason
	c.stateMu.Unlock()
}

func (c *TokenCoordinator) snapshotMetrics() CoordinatorMetrics {
	c.metricsMu.Lock()
	defer c.metricsMu.Unlock()
	return c.metrics
}
