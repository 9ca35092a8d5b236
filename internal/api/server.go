package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rentsaga/internal/config"
	"rentsaga/internal/database"
	"rentsaga/internal/external"
	"rentsaga/internal/handlers"
	"rentsaga/internal/messaging"
	"rentsaga/internal/middleware"
	"rentsaga/internal/repository"
	"rentsaga/internal/search"
	"rentsaga/internal/service"
)

// Server представляет HTTP сервер API
type Server struct {
	router    *gin.Engine
	config    *config.Config
	db        *database.DB
	broker    messaging.Broker
	inventory service.Inventory
	bookings  *service.BookingService
	http      *http.Server
}

// inventoryHealth is implemented by inventory backends that report their own health
type inventoryHealth interface {
	HealthCheck(ctx context.Context) error
}

// NewServer создает новый экземпляр сервера
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	// Устанавливаем режим Gin
	gin.SetMode(cfg.GinMode)

	// Подключаемся к базе данных
	db, err := database.Connect(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Запускаем миграции
	if err := db.RunMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	broker, err := messaging.NewBroker(cfg.Broker)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := broker.Connect(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	inventory, err := newInventory(ctx, cfg)
	if err != nil {
		broker.Close()
		db.Close()
		return nil, err
	}

	repos := repository.NewRepositories(db)
	bookings := service.NewBookingService(repos.Bookings, inventory, messaging.NewPublisher(broker), cfg.Booking).
		WithPaymentHistory(repos.Payments)

	server := &Server{
		router:    newRouter(),
		config:    cfg,
		db:        db,
		broker:    broker,
		inventory: inventory,
		bookings:  bookings,
	}
	server.setupRoutes()
	server.http = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.router,
		ReadHeaderTimeout: cfg.RequestTimeout,
	}

	return server, nil
}

// newInventory выбирает источник каталога машин
func newInventory(ctx context.Context, cfg *config.Config) (service.Inventory, error) {
	switch cfg.Inventory.Backend {
	case external.InventoryBackendElasticsearch, "":
		index, err := search.NewInventoryIndex(ctx, cfg.Elasticsearch)
		if err != nil {
			return nil, fmt.Errorf("failed to init inventory index: %w", err)
		}
		return index, nil
	case external.InventoryBackendHTTP:
		return external.NewInventoryClient(cfg.Inventory), nil
	default:
		return nil, fmt.Errorf("unknown inventory backend %q", cfg.Inventory.Backend)
	}
}

func newRouter() *gin.Engine {
	router := gin.New()

	// Применяем middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger())
	router.Use(middleware.Metrics())
	router.Use(middleware.Recovery())
	router.Use(middleware.CORS())

	return router
}

// setupRoutes настраивает все API роуты
func (s *Server) setupRoutes() {
	h := handlers.NewHandlers(s.bookings)

	api := s.router.Group("/api")
	{
		bookings := api.Group("/bookings")
		{
			bookings.POST("", h.CreateBooking)
			bookings.GET("", h.ListBookings)
			bookings.GET("/:id", h.GetBooking)
			bookings.GET("/:id/payments", h.ListPaymentAttempts)
		}
	}

	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// healthCheck обрабатывает health check запросы
func (s *Server) healthCheck(c *gin.Context) {
	db := s.db.HealthCheck(c.Request.Context())
	brokerStatus := "healthy"
	if !s.broker.Healthy() {
		brokerStatus = "unhealthy"
	}

	inventoryStatus := "healthy"
	if checker, ok := s.inventory.(inventoryHealth); ok {
		if err := checker.HealthCheck(c.Request.Context()); err != nil {
			slog.Error("Inventory health check failed", "error", err)
			inventoryStatus = "unhealthy"
		}
	}

	status := http.StatusOK
	if db.Status != "healthy" || brokerStatus != "healthy" || inventoryStatus != "healthy" {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"service":   "rentsaga-api",
		"database":  db,
		"broker":    brokerStatus,
		"inventory": inventoryStatus,
	})
}

// Run запускает HTTP сервер и блокируется до его остановки
func (s *Server) Run() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown останавливает прием запросов и ждет завершения текущих
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// GetRouter возвращает роутер для тестирования
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

// Cleanup закрывает соединения
func (s *Server) Cleanup() error {
	if s.broker != nil {
		if err := s.broker.Close(); err != nil {
			slog.Error("Error closing broker connection", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Error("Error closing database connection", "error", err)
			return err
		}
	}

	return nil
}
