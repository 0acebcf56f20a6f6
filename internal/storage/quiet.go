package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// MemoryQuietPeriod remembers when each key last opened a window.
type MemoryQuietPeriod struct {
	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

func NewMemoryQuietPeriod() *MemoryQuietPeriod {
	return &MemoryQuietPeriod{last: make(map[string]time.Time), now: time.Now}
}

// Allow reports whether key is outside its quiet window and, if so, opens a
// new window starting now.
func (q *MemoryQuietPeriod) Allow(_ context.Context, key string, window time.Duration) (bool, error) {
	if window <= 0 {
		return true, nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	if at, ok := q.last[key]; ok && now.Sub(at) < window {
		return false, nil
	}
	for k, at := range q.last {
		if now.Sub(at) >= window {
			delete(q.last, k)
		}
	}
	q.last[key] = now
	return true, nil
}

// RedisQuietPeriod shares quiet windows between gateway instances with
// SET NX PX.
type RedisQuietPeriod struct {
	client *redis.Client
	prefix string
}

func NewRedisQuietPeriod(client *redis.Client, prefix string) *RedisQuietPeriod {
	if prefix == "" {
		prefix = "agromesh:quiet:"
	}
	return &RedisQuietPeriod{client: client, prefix: prefix}
}

func (q *RedisQuietPeriod) Allow(ctx context.Context, key string, window time.Duration) (bool, error) {
	if window <= 0 {
		return true, nil
	}
	ok, err := q.client.SetNX(ctx, q.prefix+key, time.Now().UTC().Format(time.RFC3339Nano), window).Result()
	if err != nil {
		return false, fmt.Errorf("quiet period %s: %w", key, err)
	}
	return ok, nil
}

// NewRedisClient builds a client and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}
