package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"campusconnect/backend/messaging/grpc"
	"campusconnect/backend/messaging/models"
	"campusconnect/backend/pkg/config"
	"campusconnect/backend/pkg/di"
	"campusconnect/backend/pkg/logger"
	"campusconnect/backend/pkg/router"
	"campusconnect/backend/pkg/secrets"
	"campusconnect/backend/shared/observability"
)

const serviceName = "campusconnect-messaging"

func main() {
	cfg := config.New()

	// Initialize structured logger
	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Logging.Level
	logConfig.JSON = cfg.Logging.Format != "text"

	log := logger.New(logConfig)
	logger.SetGlobal(log)

	log.Info("Starting application", "service", serviceName, "env", cfg.Server.Env)

	// Secrets held in vault override the environment
	vault, err := secrets.NewVaultManager(secrets.LoadVaultConfig(), log)
	if err != nil {
		log.LogError(err, "Failed to initialize secret manager")
		os.Exit(1)
	}
	secretsCtx, cancelSecrets := context.WithTimeout(context.Background(), 10*time.Second)
	err = secrets.Apply(secretsCtx, vault, cfg, log)
	cancelSecrets()
	vault.Close()
	if err != nil {
		log.LogError(err, "Failed to load secrets")
		os.Exit(1)
	}

	shutdownTracing, err := observability.SetupTracing(serviceName, cfg.Observability.TracingEnabled)
	if err != nil {
		log.LogError(err, "Failed to initialize tracing")
		os.Exit(1)
	}
	shutdownMetrics, err := observability.SetupPrometheusMetrics(serviceName, cfg.Observability.MetricsAddr)
	if err != nil {
		log.LogError(err, "Failed to initialize metrics")
		os.Exit(1)
	}

	// Initialize database
	db, err := config.NewDB(cfg)
	if err != nil {
		log.LogError(err, "Failed to initialize database")
		os.Exit(1)
	}

	if err := db.AutoMigrate(&models.Message{}, &models.Profile{}); err != nil {
		log.LogError(err, "Failed to migrate database")
		os.Exit(1)
	}

	container, err := di.New(cfg, db, log)
	if err != nil {
		log.LogError(err, "Failed to initialize dependency container")
		os.Exit(1)
	}

	r := router.New(container)
	if cfg.Observability.OpenAPISchemaPath != "" {
		r.AddOpenAPIValidation(cfg.Observability.OpenAPISchemaPath)
	}
	r.SetupRoutes()

	rootCtx, stopChecks := context.WithCancel(context.Background())
	container.Health.Start(rootCtx)

	grpcServer := grpc.NewServer(container.Health, log)
	if err := grpcServer.Start(cfg.Observability.GRPCPort); err != nil {
		log.LogError(err, "Failed to start gRPC server", "port", cfg.Observability.GRPCPort)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r.Engine,
		ReadHeaderTimeout: cfg.Server.Timeout,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.LogError(err, "Server failed to start")
			os.Exit(1)
		}
	}()

	// Setup graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Block until we receive a signal
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stopChecks()
	grpcServer.Stop()

	// open websockets are hijacked and not tracked by Shutdown
	container.Close()

	if err := srv.Shutdown(ctx); err != nil {
		log.LogError(err, "Server forced to shutdown")
	}
	if err := shutdownMetrics(ctx); err != nil {
		log.LogError(err, "Failed to stop metrics server")
	}
	if err := shutdownTracing(ctx); err != nil {
		log.LogError(err, "Failed to flush traces")
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}

	log.Info("Server exited gracefully")
}
