package usage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/amoylab/agent-gateway/internal/common/config"
	"github.com/redis/go-redis/v9"
)

// SpendCache caches a user's month-to-date spend in Redis
type SpendCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewSpendCache connects to Redis and verifies the connection
func NewSpendCache(ctx context.Context, cfg config.RedisConfig, ttl time.Duration) (*SpendCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &SpendCache{client: client, prefix: cfg.Prefix, ttl: ttl}, nil
}

func (c *SpendCache) key(userID string, month time.Time) string {
	return fmt.Sprintf("%s:spend:%s:%s", c.prefix, userID, month.Format("2006-01"))
}

// Get returns the cached spend and whether it was present
func (c *SpendCache) Get(ctx context.Context, userID string, month time.Time) (float64, bool, error) {
	val, err := c.client.Get(ctx, c.key(userID, month)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	spent, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt cached spend %q: %w", val, err)
	}
	return spent, true, nil
}

func (c *SpendCache) Set(ctx context.Context, userID string, month time.Time, spent float64) error {
	return c.client.Set(ctx, c.key(userID, month), strconv.FormatFloat(spent, 'f', -1, 64), c.ttl).Err()
}

func (c *SpendCache) Invalidate(ctx context.Context, userID string, month time.Time) error {
	return c.client.Del(ctx, c.key(userID, month)).Err()
}

func (c *SpendCache) Close() error {
	return c.client.Close()
}
