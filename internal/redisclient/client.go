package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// EventDedupTTL bounds the at-most-once window for webhook events. Square's
// own redelivery window is shorter, so re-delivery outside 24h is treated as
// a new event.
const EventDedupTTL = 24 * time.Hour

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func eventKey(eventID string) string {
	return fmt.Sprintf("webhook:event:%s", eventID)
}

// IsEventProcessed reports whether a webhook event ID has already been
// processed within the dedup window.
func (c *Client) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, eventKey(eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkEventProcessed records a webhook event ID with the dedup TTL.
// Idempotent; must only be called after the signature has validated.
func (c *Client) MarkEventProcessed(ctx context.Context, eventID string) error {
	return c.rdb.Set(ctx, eventKey(eventID), "1", EventDedupTTL).Err()
}

// CheckAndMarkEvent atomically marks an event processed and reports whether
// it had been seen before. SetNX closes the race between two concurrent
// deliveries of the same event.
func (c *Client) CheckAndMarkEvent(ctx context.Context, eventID string) (alreadyProcessed bool, err error) {
	ok, err := c.rdb.SetNX(ctx, eventKey(eventID), "1", EventDedupTTL).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// UnmarkEvent removes the dedup marker so a failed delivery can be retried.
func (c *Client) UnmarkEvent(ctx context.Context, eventID string) error {
	return c.rdb.Del(ctx, eventKey(eventID)).Err()
}

// AcquireLock acquires a distributed advisory lock
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed advisory lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}
