package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"rentsaga/internal/config"
	"rentsaga/internal/logger"
	"rentsaga/internal/models"
	"rentsaga/internal/search"
)

var (
	count   = flag.Int("count", 20, "Number of cars to index")
	prefix  = flag.String("prefix", "car-", "Item id prefix; ids are <prefix>001, <prefix>002, ...")
	dryRun  = flag.Bool("dry-run", false, "Show what would be indexed without making changes")
	retired = flag.Float64("retired", 0.1, "Share of items indexed as retired (not bookable)")
)

var carModels = []struct {
	name      string
	basePrice int64
}{
	{"Compact hatchback", 3500},
	{"Mid-size sedan", 4500},
	{"Estate", 5200},
	{"Crossover", 6000},
	{"Minivan", 7500},
	{"Premium sedan", 9900},
}

var locations = []string{"Airport", "Central Station", "Downtown", "Harbor"}

type InventorySeeder struct {
	index *search.InventoryIndex
	rng   *rand.Rand
}

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", "error", err)
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	slog.Info("Starting inventory seeder...", "index", cfg.Elasticsearch.Index, "count", *count)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	index, err := search.NewInventoryIndex(ctx, cfg.Elasticsearch)
	if err != nil {
		logger.Fatal("Failed to connect to elasticsearch", "error", err)
	}

	seeder := &InventorySeeder{index: index, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
	if err := seeder.Seed(ctx); err != nil {
		logger.Fatal("Failed to seed inventory", "error", err)
	}

	if *dryRun {
		return
	}

	total, err := index.Count(ctx)
	if err != nil {
		slog.Warn("Failed to count indexed items", "error", err)
		return
	}
	slog.Info("Inventory seeding completed successfully!", "indexed_total", total)
}

func (s *InventorySeeder) Seed(ctx context.Context) error {
	for i := 1; i <= *count; i++ {
		item := s.generateItem(i)

		if *dryRun {
			slog.Info("[DRY RUN] Would index item", "id", item.ID, "name", item.Name, "status", item.Status, "price_per_day", item.PricePerDay)
			continue
		}

		if err := s.index.IndexItem(ctx, item); err != nil {
			return fmt.Errorf("failed to index %s: %w", item.ID, err)
		}
		slog.Debug("Indexed item", "id", item.ID, "name", item.Name)
	}
	return nil
}

func (s *InventorySeeder) generateItem(n int) *models.InventoryItem {
	m := carModels[s.rng.Intn(len(carModels))]

	status := models.ItemStatusAvailable
	// первая машина всегда доступна, на нее рассчитан validate
	if n > 1 && s.rng.Float64() < *retired {
		status = "retired"
	}

	return &models.InventoryItem{
		ID:          fmt.Sprintf("%s%03d", *prefix, n),
		Name:        m.name,
		Status:      status,
		PricePerDay: m.basePrice + int64(s.rng.Intn(10))*100,
		Currency:    "USD",
		Location:    locations[s.rng.Intn(len(locations))],
		UpdatedAt:   time.Now().UTC(),
	}
}
