package consumers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"rentsaga/internal/cache"
	"rentsaga/internal/config"
	"rentsaga/internal/database"
	"rentsaga/internal/external"
	"rentsaga/internal/messaging"
	"rentsaga/internal/models"
	"rentsaga/internal/repository"
	"rentsaga/internal/service"
)

// Consumer roles selectable with CONSUMER_ROLES
const (
	RolePayments      = "payments"
	RoleReconciler    = "reconciler"
	RoleNotifications = "notifications"
	RoleSweep         = "sweep"
)

// Task is a background loop run next to the queue consumers
type Task func(ctx context.Context) error

type ConsumerService struct {
	cfg       *config.Config
	db        *database.DB
	broker    messaging.Broker
	publisher *messaging.Publisher
	redis     *redis.Client
	repos     *repository.Repositories
	runner    *Runner
	handlers  *Handlers
	tasks     map[string]Task
}

func NewConsumerService(ctx context.Context, cfg *config.Config) (*ConsumerService, error) {
	db, err := database.Connect(cfg.Database)
	if err != nil {
		return nil, err
	}

	broker, err := messaging.NewBroker(cfg.Broker)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := broker.Connect(ctx); err != nil {
		db.Close()
		return nil, err
	}

	gateway, err := external.NewGateway(cfg.Payment)
	if err != nil {
		broker.Close()
		db.Close()
		return nil, err
	}

	cs := &ConsumerService{
		cfg:       cfg,
		db:        db,
		broker:    broker,
		publisher: messaging.NewPublisher(broker),
		repos:     repository.NewRepositories(db),
		tasks:     map[string]Task{},
	}

	var processed service.ProcessedMessages
	if cfg.Redis.Enabled {
		client, err := cache.NewClient(ctx, cfg.Redis)
		if err != nil {
			// без дедупликации повторная доставка просто создаст еще одну попытку оплаты
			slog.Warn("Redis unavailable, payment dedupe disabled", "error", err)
		} else {
			cs.redis = client
			processed = cache.NewDeduper(client, cfg.Redis.DedupeTTL)
		}
	}

	// inventory нужен только для создания бронирований, здесь его нет
	services := service.NewServices(cs.repos.Bookings, cs.repos.Payments, nil, gateway, cs.publisher, processed, cfg.Booking)
	cs.handlers = NewHandlers(services.Payments, services.Reconciler, service.LogNotifier{})
	cs.runner = NewRunner(broker, cs.publisher, cfg.Broker.ReconnectDelay)

	return cs, nil
}

// Bookings exposes the booking repository for background tasks
func (cs *ConsumerService) Bookings() *repository.BookingRepository {
	return cs.repos.Bookings
}

func (cs *ConsumerService) Publisher() *messaging.Publisher {
	return cs.publisher
}

// AddTask registers a background loop started by Run when role is enabled
func (cs *ConsumerService) AddTask(role string, task Task) {
	cs.tasks[role] = task
}

// Run starts every enabled role and blocks until ctx is cancelled or one of
// them fails.
func (cs *ConsumerService) Run(ctx context.Context) error {
	opts := Options{
		Prefetch: cs.cfg.Consumer.Prefetch,
		Retry: RetryPolicy{
			MaxAttempts: cs.cfg.Consumer.MaxAttempts,
			RetryDelay:  cs.cfg.Consumer.RetryDelay,
		},
	}

	queues := []struct {
		role    string
		queue   string
		handler HandlerFunc
	}{
		{RolePayments, models.QueuePaymentRequests, cs.handlers.HandlePaymentRequested},
		{RoleReconciler, models.QueuePaymentResults, cs.handlers.HandlePaymentResult},
		{RoleNotifications, models.QueueBookingNotifications, cs.handlers.HandleBookingCreated},
	}

	g, ctx := errgroup.WithContext(ctx)
	started := 0

	for _, q := range queues {
		if !cs.cfg.Consumer.HasRole(q.role) {
			continue
		}
		q := q
		started++
		g.Go(func() error {
			return cs.runner.Run(ctx, q.queue, q.handler, opts)
		})
	}

	for role, task := range cs.tasks {
		if !cs.cfg.Consumer.HasRole(role) {
			continue
		}
		task := task
		started++
		g.Go(func() error {
			return task(ctx)
		})
	}

	if started == 0 {
		return fmt.Errorf("no consumer roles enabled (roles: %v)", cs.cfg.Consumer.Roles)
	}

	slog.Info("Consumers started", "roles", cs.cfg.Consumer.Roles, "prefetch", opts.Prefetch, "max_attempts", opts.Retry.MaxAttempts)
	return g.Wait()
}

// Healthy reports whether the database and broker are reachable
func (cs *ConsumerService) Healthy(ctx context.Context) bool {
	return cs.broker.Healthy() && cs.db.HealthCheck(ctx).Status == "healthy"
}

func (cs *ConsumerService) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down consumer service...")

	if cs.broker != nil {
		if err := cs.broker.Close(); err != nil {
			slog.Error("Error closing broker connection", "error", err)
		}
	}

	if cs.redis != nil {
		if err := cs.redis.Close(); err != nil {
			slog.Error("Error closing redis connection", "error", err)
		}
	}

	if cs.db != nil {
		if err := cs.db.Close(); err != nil {
			slog.Error("Error closing database connection", "error", err)
			return err
		}
	}

	return nil
}
