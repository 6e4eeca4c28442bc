// ABOUTME: Railway config syncer - mirrors the token pair into service env variables
// ABOUTME: GraphQL variableCollectionUpsert plus optional service redeploy

package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"withings-sidecar/models"
)

const defaultRailwayEndpoint = "https://backboard.railway.app/graphql/v2"

const variablesUpsertMutation = `
mutation VariablesUpsert($input: VariableCollectionUpsertInput!) {
  variableCollectionUpsert(input: $input)
}`

const redeployMutation = `
mutation ServiceInstanceRedeploy($environmentId: String!, $serviceId: String!) {
  serviceInstanceRedeploy(environmentId: $environmentId, serviceId: $serviceId)
}`

// RailwaySyncClient pushes the token pair into Railway environment
// variables so sibling services receive them on their next boot.
type RailwaySyncClient struct {
	endpoint      string
	apiToken      string
	projectID     string
	environmentID string
	serviceID     string
	httpClient    *http.Client
	logger        *slog.Logger
}

// NewRailwaySyncClient builds a syncer. endpoint overrides the production
// API for testing; pass "" in production.
func NewRailwaySyncClient(apiToken, projectID, environmentID, serviceID, endpoint string, logger *slog.Logger) *RailwaySyncClient {
	if logger == nil {
		logger = slog.Default()
	}
	if endpoint == "" {
		endpoint = defaultRailwayEndpoint
	}

	return &RailwaySyncClient{
		endpoint:      endpoint,
		apiToken:      apiToken,
		projectID:     projectID,
		environmentID: environmentID,
		serviceID:     serviceID,
		logger:        logger,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *RailwaySyncClient) Name() string { return "railway" }

// Push upserts the four fixed variables. Upsert semantics make repeated
// pushes of the same record a no-op on the Railway side.
func (c *RailwaySyncClient) Push(ctx context.Context, record *models.TokenRecord) error {
	variables := map[string]string{
		varAccessToken:   record.AccessToken,
		varRefreshToken:  record.RefreshToken,
		varExpiresAt:     record.ExpiresAt.UTC().Format(time.RFC3339),
		varLastRefreshed: record.LastRefreshedAt.UTC().Format(time.RFC3339),
	}

	payload := map[string]any{
		"query": variablesUpsertMutation,
		"variables": map[string]any{
			"input": map[string]any{
				"projectId":     c.projectID,
				"environmentId": c.environmentID,
				"serviceId":     c.serviceID,
				"variables":     variables,
			},
		},
	}

	if err := c.execute(ctx, payload); err != nil {
		return fmt.Errorf("%w: railway variable upsert: %v", ErrSyncFailed, err)
	}

	c.logger.Info("token pair propagated to railway",
		"variables_updated", len(variables),
		"expires_at", record.ExpiresAt)
	return nil
}

// TriggerRedeploy restarts the service instance so processes that read the
// variables only at boot pick up the new pair.
func (c *RailwaySyncClient) TriggerRedeploy(ctx context.Context) error {
	payload := map[string]any{
		"query": redeployMutation,
		"variables": map[string]any{
			"environmentId": c.environmentID,
			"serviceId":     c.serviceID,
		},
	}

	if err := c.execute(ctx, payload); err != nil {
		return fmt.Errorf("%w: railway redeploy: %v", ErrSyncFailed, err)
	}

	c.logger.Info("railway redeploy triggered", "service_id", c.serviceID)
	return nil
}

// execute posts a GraphQL payload and fails on HTTP or GraphQL errors.
func (c *RailwaySyncClient) execute(ctx context.Context, payload map[string]any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode GraphQL payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var decoded struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("undecodable response: %w", err)
	}
	if len(decoded.Errors) > 0 {
		return fmt.Errorf("GraphQL error: %s", decoded.Errors[0].Message)
	}

	return nil
}
