package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/smartqueue-portal/internal/app/bootstrap"
	appconfig "github.com/wolfman30/smartqueue-portal/internal/config"
	"github.com/wolfman30/smartqueue-portal/internal/observability/metrics"
	"github.com/wolfman30/smartqueue-portal/internal/telemetry"
	"github.com/wolfman30/smartqueue-portal/pkg/logging"
)

const serviceName = "smartqueue-portal"

func main() {
	// A missing .env is fine outside local development.
	_ = godotenv.Load()

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting smartqueue portal",
		"env", cfg.Env,
		"port", cfg.Port,
		"api_base_url", cfg.APIBaseURL,
	)

	ctx := context.Background()
	shutdownTracing := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
	}, logger)

	metricsHandler, portalMetrics := setupMetrics()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	store := bootstrap.BuildTokenStore(redisClient, cfg, logger)

	portal, err := bootstrap.BuildPortal(cfg, bootstrap.PortalDeps{
		Store:          store,
		Metrics:        portalMetrics,
		MetricsHandler: metricsHandler,
		ServiceName:    serviceName,
	}, logger)
	if err != nil {
		logger.Error("failed to build portal", "error", err)
		os.Exit(1)
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      portal.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.APITimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	portal.Close()
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown failed", "error", err)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// setupMetrics builds a dedicated registry so /metrics exports only this
// process's collectors.
func setupMetrics() (http.Handler, *metrics.PortalMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewPortalMetrics(reg)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}), m
}
