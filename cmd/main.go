// ABOUTME: Service entrypoint - wires storage, vendor client, syncers, scheduler and admin API
// ABOUTME: Runs the refresh loop and the HTTP server with graceful shutdown

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"withings-sidecar/config"
	"withings-sidecar/driver"
	"withings-sidecar/handler"
	"withings-sidecar/repository"
	"withings-sidecar/security"
	"withings-sidecar/service"
	"withings-sidecar/service/scheduler"
)

func main() {
	// Setup structured logging
	logLevel := os.Getenv("LOG_LEVEL")
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("Withings sidecar starting",
		"service", cfg.ServiceName,
		"listen_addr", cfg.ListenAddr,
		"refresh_interval", cfg.Refresh.Interval,
		"refresh_lookahead", cfg.Refresh.Lookahead)

	if err := run(cfg, logger); err != nil {
		logger.Error("Service failed", "error", err)
		os.Exit(1)
	}

	logger.Info("Withings sidecar stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	repo, cleanup, err := buildRepository(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	oauthClient := driver.NewWithingsOAuthClient(
		cfg.Withings.ClientID,
		cfg.Withings.ClientSecret,
		cfg.Withings.BaseURL,
		cfg.Withings.Timeout,
		logger,
	)

	syncers, err := buildSyncers(cfg, logger)
	if err != nil {
		return err
	}

	coordinator := service.NewTokenCoordinator(
		repo,
		oauthClient,
		syncers,
		cfg.Withings.RedirectURI,
		cfg.Refresh.Lookahead,
		logger,
	)

	refreshScheduler := scheduler.NewScheduler(coordinator, logger)
	refreshScheduler.Start(scheduler.Config{RefreshInterval: cfg.Refresh.Interval})
	defer refreshScheduler.Stop()

	// Catch up immediately: a long downtime may have pushed the token into
	// the due window, or past expiry entirely.
	startupCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	if err := coordinator.RefreshIfDue(startupCtx); err != nil {
		logger.Warn("Startup refresh check failed, scheduler will retry", "error", err)
	}
	cancel()

	authenticator := security.NewAdminAuthenticator(cfg.Admin.APIToken, logger)
	rateLimiter := security.NewMemoryRateLimiter(cfg.Admin.MaxRequestsPerHour, logger)
	defer rateLimiter.Stop()

	adminHandler := handler.NewAdminAPIHandler(coordinator, authenticator, rateLimiter, logger)

	mux := http.NewServeMux()
	adminHandler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Admin API listening", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case err := <-errChan:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	return nil
}

// buildRepository selects the encrypted Postgres store when DATABASE_URL
// is set, otherwise the in-memory store for secretless development runs.
func buildRepository(cfg *config.Config, logger *slog.Logger) (repository.TokenRepository, func(), error) {
	if cfg.Storage.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory token store")
		return repository.NewInMemoryTokenRepository(), func() {}, nil
	}

	cipher, err := security.NewTokenCipher(cfg.Storage.CipherKey)
	if err != nil {
		return nil, nil, err
	}

	repo, err := repository.NewPostgresTokenRepository(cfg.Storage.DatabaseURL, cipher, logger)
	if err != nil {
		return nil, nil, err
	}

	return repo, func() {
		if err := repo.Close(); err != nil {
			logger.Warn("Failed to close token store", "error", err)
		}
	}, nil
}

// buildSyncers assembles the configured propagation targets.
func buildSyncers(cfg *config.Config, logger *slog.Logger) ([]service.ConfigSyncer, error) {
	var syncers []service.ConfigSyncer

	if cfg.RailwayEnabled() {
		syncers = append(syncers, service.NewRailwaySyncClient(
			cfg.Railway.APIToken,
			cfg.Railway.ProjectID,
			cfg.Railway.EnvironmentID,
			cfg.Railway.ServiceID,
			"",
			logger,
		))
		logger.Info("Railway propagation enabled",
			"project_id", cfg.Railway.ProjectID,
			"service_id", cfg.Railway.ServiceID)
	}

	if cfg.Kubernetes.Enabled {
		k8sSyncer, err := service.NewKubernetesSecretSyncer(cfg.Kubernetes.Namespace, cfg.Kubernetes.SecretName, logger)
		if err != nil {
			return nil, err
		}
		syncers = append(syncers, k8sSyncer)
		logger.Info("Kubernetes secret mirroring enabled",
			"namespace", cfg.Kubernetes.Namespace,
			"secret_name", cfg.Kubernetes.SecretName)
	}

	if len(syncers) == 0 {
		logger.Info("No external config propagation configured")
	}

	return syncers, nil
}
