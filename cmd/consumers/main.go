package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rentsaga/cmd/consumers/jobs"
	"rentsaga/internal/config"
	"rentsaga/internal/consumers"
	"rentsaga/internal/logger"
	"rentsaga/internal/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", "error", err)
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	// Override client ID for consumers
	cfg.Broker.ClientID = "rentsaga-consumers"
	cfg.Telemetry.ServiceName = "rentsaga-consumers"

	slog.Info("Starting consumers service...", "roles", cfg.Consumer.Roles, "broker", cfg.Broker.Kind)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to init tracing", "error", err)
	}

	consumerService, err := consumers.NewConsumerService(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to create consumer service", "error", err)
	}

	sweep := jobs.NewPendingSweep(consumerService.Bookings(), consumerService.Publisher(), cfg.Booking)
	consumerService.AddTask(consumers.RoleSweep, sweep.Run)

	metricsSrv := newMetricsServer(cfg.MetricsPort, consumerService)
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "error", err)
		}
	}()

	// Блокируемся до сигнала или падения одного из consumer'ов
	if err := consumerService.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Consumers stopped with error", "error", err)
	}

	slog.Info("Shutting down consumers service...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Error stopping metrics server", "error", err)
	}
	if err := consumerService.Shutdown(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("Error flushing traces", "error", err)
	}

	slog.Info("Consumers service stopped")
}

func newMetricsServer(port string, cs *consumers.ConsumerService) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if !cs.Healthy(r.Context()) {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	return &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
