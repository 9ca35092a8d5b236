package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rentsaga/internal/api"
	"rentsaga/internal/config"
	"rentsaga/internal/logger"
	"rentsaga/internal/telemetry"
	"rentsaga/internal/validation"
)

func main() {
	// Проверяем, нужно ли запустить валидацию
	if len(os.Args) > 1 && os.Args[1] == "validate" {
		if err := validation.RunValidation(context.Background(), validation.BaseURLFromEnv()); err != nil {
			logger.Fatal("Validation failed", "error", err)
		}
		return
	}

	// Загружаем конфигурацию
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", "error", err)
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to init tracing", "error", err)
	}

	server, err := api.NewServer(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to create server", "error", err)
	}

	// Запускаем сервер в отдельной горутине
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run()
	}()

	// Ждем сигнал для graceful shutdown
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			slog.Error("Server failed", "error", err)
		}
	}

	slog.Info("Shutting down server...")

	// Graceful shutdown с таймаутом
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	// Закрываем соединения
	if err := server.Cleanup(); err != nil {
		slog.Error("Error during cleanup", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("Error flushing traces", "error", err)
	}

	slog.Info("Server stopped")
}
