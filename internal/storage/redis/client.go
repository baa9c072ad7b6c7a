package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	cli       *redis.Client
	maxRecent int64
	recentTTL time.Duration
}

func New(ctx context.Context, url string, maxRecent int, recentTTL time.Duration) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if maxRecent <= 0 {
		maxRecent = 50
	}
	if recentTTL <= 0 {
		recentTTL = 10 * time.Minute
	}
	return &Client{cli: cli, maxRecent: int64(maxRecent), recentTTL: recentTTL}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func recentKey(roomID int64) string {
	return fmt.Sprintf("room:%d:recent", roomID)
}

// PushRecent prepends to room:{id}:recent, trims to the bound and refreshes
// the TTL in one round trip.
func (c *Client) PushRecent(ctx context.Context, roomID int64, payload []byte) error {
	key := recentKey(roomID)
	pipe := c.cli.Pipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, c.maxRecent-1)
	pipe.Expire(ctx, key, c.recentTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// GetRecent returns the buffered messages oldest-first (the list is stored
// newest-first).
func (c *Client) GetRecent(ctx context.Context, roomID int64) ([][]byte, error) {
	vals, err := c.cli.LRange(ctx, recentKey(roomID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[len(vals)-1-i] = []byte(v)
	}
	return out, nil
}

func (c *Client) InvalidateRecent(ctx context.Context, roomID int64) error {
	return c.cli.Del(ctx, recentKey(roomID)).Err()
}

// IncrWithTTL increments key and sets the window on the first hit.
func (c *Client) IncrWithTTL(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := c.cli.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		c.cli.Expire(ctx, key, window)
	}
	return n, nil
}

// FlushDB clears the current Redis DB (used to reset ephemeral state in
// tests and on full restarts).
func (c *Client) FlushDB(ctx context.Context) error {
	return c.cli.FlushDB(ctx).Err()
}
