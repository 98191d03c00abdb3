package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/autoanosis/ai-relay-go/internal/handlers"
	"github.com/autoanosis/ai-relay-go/internal/i18n"
	"github.com/autoanosis/ai-relay-go/internal/middleware"
	"github.com/autoanosis/ai-relay-go/internal/services/ai"
	"github.com/autoanosis/ai-relay-go/internal/services/cache"
	"github.com/autoanosis/ai-relay-go/internal/services/chat"
	"github.com/autoanosis/ai-relay-go/internal/services/storage"
	"github.com/autoanosis/ai-relay-go/pkg/logger"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireProvider(); err != nil {
		return err
	}

	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	log.WithField("version", version).Info("Starting AI relay...")
	if cfg.Identity.Secret == "" {
		log.Warn("Identity secret is not set; every token will fail with missing_server_secret")
	}
	log.WithField("secret_length", len(cfg.Identity.Secret)).Info("Identity secret loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := middleware.NewMetrics()

	storageManager := storage.NewManager(&cfg.Conversation, log)
	storageManager.OnSweep(func(removed, remaining int) {
		metrics.RecordSwept(removed)
		metrics.SetActiveConversations(remaining)
	})

	rateLimiter := middleware.NewRateLimiter(&cfg.RateLimit, log)
	nonceGuard := cache.NewNonceGuard(&cfg.Identity, log)
	aiService := ai.NewCustomAI(&cfg.Provider, metrics, log)

	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		return fmt.Errorf("failed to initialize i18n: %w", err)
	}

	orchestrator := chat.NewOrchestrator(cfg, rateLimiter, storageManager, nonceGuard, aiService, metrics, log)

	router := handlers.NewRouter(handlers.RouterOptions{
		Chat:           handlers.NewChatHandler(orchestrator, localizer, log),
		Health:         handlers.NewHealthHandler(version),
		Localizer:      localizer,
		Metrics:        metrics,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         log,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var metricsServer *http.Server
	if cfg.Monitoring.Metrics.Enabled {
		metricsServer = middleware.NewMetricsServer(cfg.Monitoring.Metrics.Port, cfg.Monitoring.Metrics.Path)
		go func() {
			log.WithFields(logrus.Fields{
				"port": cfg.Monitoring.Metrics.Port,
				"path": cfg.Monitoring.Metrics.Path,
			}).Info("Starting metrics server")

			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	// Start periodic tasks
	go storageManager.StartCleanup(ctx, cfg.Conversation.TTL/2)
	go rateLimiter.StartCleanup(ctx, cfg.RateLimit.CleanupInterval)

	errCh := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.Server.Port).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Failed to shut down HTTP server")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("Failed to shut down metrics server")
		}
	}

	log.Info("Relay stopped")
	return nil
}
