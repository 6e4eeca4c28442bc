// ABOUTME: This file handles configuration management for withings-sidecar
// ABOUTME: Loads environment variables and validates configuration for Withings API integration

package config

import (
	"fmt"
	"os"
	"time"
)

// Config holds all configuration for the withings-sidecar service.
type Config struct {
	// Service configuration
	ServiceName string
	LogLevel    string
	ListenAddr  string

	// Withings API configuration
	Withings WithingsConfig

	// Token storage configuration
	Storage StorageConfig

	// Refresh policy configuration
	Refresh RefreshConfig

	// Admin API configuration
	Admin AdminConfig

	// Railway propagation configuration
	Railway RailwayConfig

	// Kubernetes propagation configuration
	Kubernetes KubernetesConfig
}

// WithingsConfig holds Withings API settings.
type WithingsConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	// BaseURL overrides the production endpoints, for testing only.
	BaseURL string
	Timeout time.Duration
}

// StorageConfig holds token store settings. An empty DatabaseURL selects
// the in-memory store.
type StorageConfig struct {
	DatabaseURL string
	CipherKey   string
}

// RefreshConfig holds the proactive refresh policy.
type RefreshConfig struct {
	// Lookahead is the due window: a token within this span of expiry is
	// refreshed.
	Lookahead time.Duration
	// Interval is the scheduler cadence between due-checks.
	Interval time.Duration
}

// AdminConfig holds admin API settings.
type AdminConfig struct {
	APIToken           string
	MaxRequestsPerHour int
}

// RailwayConfig holds Railway propagation settings. Propagation is enabled
// when APIToken is set.
type RailwayConfig struct {
	APIToken      string
	ProjectID     string
	EnvironmentID string
	ServiceID     string
}

// KubernetesConfig holds Secret mirror settings. Mirroring is enabled when
// Enabled is true.
type KubernetesConfig struct {
	Enabled    bool
	Namespace  string
	SecretName string
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnvOrDefault("SERVICE_NAME", "withings-sidecar"),
		LogLevel:    getEnvOrDefault("LOG_LEVEL", "info"),
		ListenAddr:  getEnvOrDefault("LISTEN_ADDR", ":8080"),

		Withings: WithingsConfig{
			ClientID:     os.Getenv("WITHINGS_CLIENT_ID"),     // Required from secret
			ClientSecret: os.Getenv("WITHINGS_CLIENT_SECRET"), // Required from secret
			RedirectURI:  os.Getenv("WITHINGS_REDIRECT_URI"),
			BaseURL:      os.Getenv("WITHINGS_BASE_URL"),
		},

		Storage: StorageConfig{
			DatabaseURL: os.Getenv("DATABASE_URL"),
			CipherKey:   os.Getenv("TOKEN_CIPHER_KEY"), // Required from secret
		},

		Admin: AdminConfig{
			APIToken:           os.Getenv("ADMIN_API_TOKEN"), // Required from secret
			MaxRequestsPerHour: 100,
		},

		Railway: RailwayConfig{
			APIToken:      os.Getenv("RAILWAY_API_TOKEN"),
			ProjectID:     os.Getenv("RAILWAY_PROJECT_ID"),
			EnvironmentID: os.Getenv("RAILWAY_ENVIRONMENT_ID"),
			ServiceID:     os.Getenv("RAILWAY_SERVICE_ID"),
		},

		Kubernetes: KubernetesConfig{
			Enabled:    getEnvOrDefault("KUBERNETES_SECRET_SYNC", "false") == "true",
			Namespace:  getEnvOrDefault("KUBERNETES_NAMESPACE", "default"),
			SecretName: getEnvOrDefault("TOKEN_SECRET_NAME", "withings-oauth-token"),
		},
	}

	cfg.Withings.Timeout = getDurationOrDefault("WITHINGS_API_TIMEOUT", 30*time.Second)
	cfg.Refresh.Lookahead = getDurationOrDefault("TOKEN_REFRESH_LOOKAHEAD", 24*time.Hour)
	cfg.Refresh.Interval = getDurationOrDefault("TOKEN_REFRESH_INTERVAL", 2*time.Hour)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Withings.ClientID == "" {
		return fmt.Errorf("WITHINGS_CLIENT_ID is required")
	}

	if c.Withings.ClientSecret == "" {
		return fmt.Errorf("WITHINGS_CLIENT_SECRET is required")
	}

	if c.Storage.CipherKey == "" && c.Storage.DatabaseURL != "" {
		return fmt.Errorf("TOKEN_CIPHER_KEY is required when DATABASE_URL is set")
	}

	if c.Admin.APIToken == "" {
		return fmt.Errorf("ADMIN_API_TOKEN is required")
	}

	if c.Refresh.Lookahead <= 0 {
		return fmt.Errorf("TOKEN_REFRESH_LOOKAHEAD must be positive")
	}

	if c.Refresh.Interval <= 0 {
		return fmt.Errorf("TOKEN_REFRESH_INTERVAL must be positive")
	}

	if c.Railway.APIToken != "" {
		if c.Railway.ProjectID == "" || c.Railway.EnvironmentID == "" || c.Railway.ServiceID == "" {
			return fmt.Errorf("RAILWAY_PROJECT_ID, RAILWAY_ENVIRONMENT_ID and RAILWAY_SERVICE_ID are required when RAILWAY_API_TOKEN is set")
		}
	}

	return nil
}

// RailwayEnabled reports whether Railway propagation is configured.
func (c *Config) RailwayEnabled() bool {
	return c.Railway.APIToken != ""
}

// getEnvOrDefault returns environment variable value or default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationOrDefault parses a duration environment variable, falling
// back to the default on absence or parse failure.
func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
