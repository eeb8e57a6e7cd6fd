package redisq

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Client wraps a Redis connection used for delayed job admission. Jobs that
// are not yet due live in a sorted set scored by their ready-at time; the
// scheduler pops due members and hands them to the queue backend.
type Client struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewClient creates a new Redis client and verifies the connection
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	logger.Info("Successfully connected to Redis",
		slog.String("host", config.Host),
		slog.Int("port", config.Port),
	)

	return &Client{
		rdb:    rdb,
		logger: logger,
	}, nil
}

// AddDelayed adds member to the delay set keyed by its ready-at time.
// Re-adding an existing member only moves its score, so re-seeding after a
// restart is idempotent.
func (c *Client) AddDelayed(ctx context.Context, key, member string, readyAt time.Time) error {
	err := c.rdb.ZAdd(ctx, key, redis.Z{
		Score:  float64(readyAt.Unix()),
		Member: member,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to add delayed member: %w", err)
	}

	c.logger.Debug("Member added to delay set",
		slog.String("key", key),
		slog.String("member", member),
		slog.Time("ready_at", readyAt),
	)

	return nil
}

// PopDue returns up to limit members whose ready-at time has passed,
// removing them from the set. A member is returned to at most one caller.
func (c *Client) PopDue(ctx context.Context, key string, now time.Time, limit int) ([]string, error) {
	members, err := c.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to range delay set: %w", err)
	}

	if len(members) == 0 {
		return nil, nil
	}

	due := make([]string, 0, len(members))
	for _, member := range members {
		removed, err := c.rdb.ZRem(ctx, key, member).Result()
		if err != nil {
			return due, fmt.Errorf("failed to remove due member: %w", err)
		}
		// Another scheduler instance may have claimed it first.
		if removed > 0 {
			due = append(due, member)
		}
	}

	return due, nil
}

// Remove drops a member from the delay set, e.g. after a cancellation.
func (c *Client) Remove(ctx context.Context, key, member string) error {
	if err := c.rdb.ZRem(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	return nil
}

// HealthCheck verifies the Redis connection
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	c.logger.Info("Closing Redis connection")
	return c.rdb.Close()
}
