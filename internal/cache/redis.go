package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Enabled   bool          `mapstructure:"enabled"`
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	DedupeTTL time.Duration `mapstructure:"dedupe_ttl"`
}

// NewClient connects to redis and checks the connection
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		DialTimeout:  5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return rdb, nil
}

const processedPrefix = "rentsaga:processed:"

// Deduper remembers processed message ids for a limited time
type Deduper struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewDeduper(client redis.Cmdable, ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Deduper{client: client, ttl: ttl}
}

func (d *Deduper) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	_, err := d.client.Get(ctx, processedPrefix+messageID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache lookup error: %w", err)
	}
	return true, nil
}

// MarkProcessed records messageID. Marking an id twice is not an error.
func (d *Deduper) MarkProcessed(ctx context.Context, messageID string) error {
	if err := d.client.SetNX(ctx, processedPrefix+messageID, time.Now().Unix(), d.ttl).Err(); err != nil {
		return fmt.Errorf("cache write error: %w", err)
	}
	return nil
}
