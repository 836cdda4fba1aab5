// Package progress publishes run progress to an optional Redis hash so that
// external tools can follow a long prediction run.
package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Reporter receives progress after every processed sample.
type Reporter interface {
	Report(ctx context.Context, done, total int, last string) error
	Close() error
}

// Nop discards progress.
type Nop struct{}

func (Nop) Report(context.Context, int, int, string) error { return nil }
func (Nop) Close() error                                   { return nil }

// Key returns the hash key progress for runID is stored under.
func Key(runID string) string {
	return fmt.Sprintf("predict:%s", runID)
}

// Redis wraps a Redis client writing the predict:<run_id> hash
type Redis struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedis connects to addr and verifies the connection.
// If addr is empty, defaults to localhost:6379
func NewRedis(ctx context.Context, addr, runID string, ttl time.Duration) (*Redis, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   0,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	return &Redis{client: client, key: Key(runID), ttl: ttl}, nil
}

// Report stores done, total and the last written file, refreshing the TTL
func (r *Redis) Report(ctx context.Context, done, total int, last string) error {
	if r.client == nil {
		return fmt.Errorf("progress client is nil")
	}

	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, r.key, "done", done, "total", total, "last", last)
		if r.ttl > 0 {
			p.Expire(ctx, r.key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to report progress to %s: %w", r.key, err)
	}
	return nil
}

// Close closes the Redis connection
func (r *Redis) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

var (
	_ Reporter = Nop{}
	_ Reporter = (*Redis)(nil)
)
