// ABOUTME: Tests for configuration loading and validation
// ABOUTME: Environment variable parsing, defaults, and required-value checks

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("WITHINGS_CLIENT_ID", "client-id")
	t.Setenv("WITHINGS_CLIENT_SECRET", "client-secret")
	t.Setenv("ADMIN_API_TOKEN", "admin-token")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "withings-sidecar", cfg.ServiceName)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 24*time.Hour, cfg.Refresh.Lookahead)
	assert.Equal(t, 2*time.Hour, cfg.Refresh.Interval)
	assert.Equal(t, 30*time.Second, cfg.Withings.Timeout)
	assert.False(t, cfg.RailwayEnabled())
	assert.False(t, cfg.Kubernetes.Enabled)
}

func TestLoadConfigOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TOKEN_REFRESH_LOOKAHEAD", "12h")
	t.Setenv("TOKEN_REFRESH_INTERVAL", "30m")
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("KUBERNETES_SECRET_SYNC", "true")
	t.Setenv("KUBERNETES_NAMESPACE", "health")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 12*time.Hour, cfg.Refresh.Lookahead)
	assert.Equal(t, 30*time.Minute, cfg.Refresh.Interval)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.True(t, cfg.Kubernetes.Enabled)
	assert.Equal(t, "health", cfg.Kubernetes.Namespace)
}

func TestLoadConfigUnparseableDurationFallsBack(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TOKEN_REFRESH_INTERVAL", "not-a-duration")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, cfg.Refresh.Interval)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T)
		wantErr string
	}{
		{
			name: "missing client id",
			prepare: func(t *testing.T) {
				t.Setenv("WITHINGS_CLIENT_SECRET", "client-secret")
				t.Setenv("ADMIN_API_TOKEN", "admin-token")
			},
			wantErr: "WITHINGS_CLIENT_ID",
		},
		{
			name: "missing client secret",
			prepare: func(t *testing.T) {
				t.Setenv("WITHINGS_CLIENT_ID", "client-id")
				t.Setenv("ADMIN_API_TOKEN", "admin-token")
			},
			wantErr: "WITHINGS_CLIENT_SECRET",
		},
		{
			name: "missing admin token",
			prepare: func(t *testing.T) {
				t.Setenv("WITHINGS_CLIENT_ID", "client-id")
				t.Setenv("WITHINGS_CLIENT_SECRET", "client-secret")
			},
			wantErr: "ADMIN_API_TOKEN",
		},
		{
			name: "database without cipher key",
			prepare: func(t *testing.T) {
				setRequiredEnv(t)
				t.Setenv("DATABASE_URL", "postgres://localhost/withings")
			},
			wantErr: "TOKEN_CIPHER_KEY",
		},
		{
			name: "railway token without ids",
			prepare: func(t *testing.T) {
				setRequiredEnv(t)
				t.Setenv("RAILWAY_API_TOKEN", "railway-token")
			},
			wantErr: "RAILWAY_PROJECT_ID",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.prepare(t)

			_, err := LoadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRailwayEnabled(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RAILWAY_API_TOKEN", "railway-token")
	t.Setenv("RAILWAY_PROJECT_ID", "proj")
	t.Setenv("RAILWAY_ENVIRONMENT_ID", "env")
	t.Setenv("RAILWAY_SERVICE_ID", "svc")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.RailwayEnabled())
}
