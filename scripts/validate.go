package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"rentsaga/internal/logger"
	"rentsaga/internal/validation"
)

func main() {
	var baseURL, itemID string
	var timeout time.Duration
	flag.StringVar(&baseURL, "url", validation.BaseURLFromEnv(), "Base URL for API validation")
	flag.StringVar(&itemID, "item", "car-001", "Inventory item to book")
	flag.DurationVar(&timeout, "timeout", 2*time.Minute, "Overall validation timeout")
	flag.Parse()

	logger.Init("info", "text")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	validator := validation.NewSpecValidator(baseURL, itemID)
	if err := validator.ValidateAll(ctx); err != nil {
		slog.Error("Validation failed", "error", err)
		os.Exit(1)
	}
}
