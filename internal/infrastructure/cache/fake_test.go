package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// memoryClient is an in-process stand-in for Redis.
type memoryClient struct {
	mu     sync.Mutex
	values map[string]string
	down   bool
	gets   int
	sets   int
}

func newMemoryClient() *memoryClient {
	return &memoryClient{values: make(map[string]string)}
}

func (m *memoryClient) Get(_ context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.down {
		return redis.NewStringResult("", context.DeadlineExceeded)
	}
	value, ok := m.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(value, nil)
}

func (m *memoryClient) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	switch v := value.(type) {
	case []byte:
		m.values[key] = string(v)
	case string:
		m.values[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

func (m *memoryClient) Incr(_ context.Context, key string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, _ := strconv.ParseInt(m.values[key], 10, 64)
	n++
	m.values[key] = strconv.FormatInt(n, 10)
	return redis.NewIntResult(n, nil)
}

func (m *memoryClient) Close() error { return nil }
